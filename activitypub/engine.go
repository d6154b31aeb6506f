package activitypub

import (
	"context"
	"fmt"
)

// Engine is the protocol layer the dispatcher leans on for anything that
// leaves the process: signed dereferencing of remote documents and
// delivery of outbound activities. Signature verification of inbound
// traffic happens before an activity ever reaches the dispatcher.
type Engine interface {
	ResolveActor(ctx context.Context, iri string) (*Actor, error)
	ResolveObject(ctx context.Context, iri string) (*Object, error)
	ResolveActivity(ctx context.Context, iri string) (*Activity, error)
	Send(ctx context.Context, activity *Activity) error
}

// Env carries one delivery through the dispatcher: the decoded activity
// plus lazy, memoized access to its dereferenced actor and object.
type Env struct {
	Engine    Engine
	Activity  *Activity
	ActorIRI  string
	PublicURL string

	actor  *Actor
	object *Object
}

// Actor returns the sender's dereferenced profile, fetching it at most
// once per delivery.
func (e *Env) Actor(ctx context.Context) (*Actor, error) {
	if e.actor != nil {
		return e.actor, nil
	}
	if e.Activity.Actor == "" {
		return nil, fmt.Errorf("activity %s has no actor", e.Activity.ID)
	}
	actor, err := e.Engine.ResolveActor(ctx, string(e.Activity.Actor))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve actor %s: %w", e.Activity.Actor, err)
	}
	e.actor = actor
	return actor, nil
}

// Object returns the activity's object document. An embedded object is
// used as-is; a bare IRI is dereferenced through the engine.
func (e *Env) Object(ctx context.Context) (*Object, error) {
	if e.object != nil {
		return e.object, nil
	}
	if obj, ok := e.Activity.EmbeddedObject(); ok {
		e.object = obj
		return obj, nil
	}
	iri := e.Activity.ObjectIRI()
	if iri == "" {
		return nil, fmt.Errorf("activity %s has no object", e.Activity.ID)
	}
	obj, err := e.Engine.ResolveObject(ctx, iri)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve object %s: %w", iri, err)
	}
	e.object = obj
	return obj, nil
}
