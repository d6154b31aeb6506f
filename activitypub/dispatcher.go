package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rmdes/fedipoint/domain"
	"github.com/rmdes/fedipoint/metrics"
	"github.com/rs/zerolog/log"
)

// Store interfaces, kept narrow so tests can run the dispatcher against
// in-memory fakes.

type FollowerWriter interface {
	Upsert(ctx context.Context, f *domain.Follower) error
	Delete(ctx context.Context, actorURL string) error
	Retarget(ctx context.Context, oldURL, newURL string) error
	PatchProfile(ctx context.Context, actorURL, name, handle, avatar string) (bool, error)
}

type FollowingWriter interface {
	MarkAccepted(ctx context.Context, actorURL string) (bool, error)
	MarkRejected(ctx context.Context, actorURL string) (bool, error)
	IsFollowing(ctx context.Context, actorURL string) (bool, error)
}

type TimelineWriter interface {
	Upsert(ctx context.Context, item *domain.TimelineItem) error
	UpdateContent(ctx context.Context, uid string, content domain.ItemContent, name, summary string, sensitive bool) (bool, error)
	Delete(ctx context.Context, uid string) error
}

type NotificationWriter interface {
	Append(ctx context.Context, n *domain.Notification) error
}

type InteractionWriter interface {
	Delete(ctx context.Context, typ, objectURL string) error
}

type AuditLogger interface {
	Append(ctx context.Context, e *domain.ActivityLogEntry) error
	DeleteByObjectURL(ctx context.Context, objectURL string) (int64, error)
}

// Previewer enriches a stored timeline item with link previews without
// blocking the dispatcher.
type Previewer interface {
	FetchAndStore(uid, html string)
}

// Stores bundles everything the dispatcher writes to.
type Stores struct {
	Followers     FollowerWriter
	Following     FollowingWriter
	Timeline      TimelineWriter
	Notifications NotificationWriter
	Interactions  InteractionWriter
	Log           AuditLogger
}

// Dispatcher routes decoded inbound activities to the stores. Handlers
// tolerate undereferenceable remote references by logging and returning
// early, never leaving partial writes behind.
type Dispatcher struct {
	stores    Stores
	engine    Engine
	actorIRI  string
	publicURL string
	previews  Previewer
}

func NewDispatcher(stores Stores, engine Engine, actorIRI, publicURL string, previews Previewer) *Dispatcher {
	return &Dispatcher{
		stores:    stores,
		engine:    engine,
		actorIRI:  actorIRI,
		publicURL: publicURL,
		previews:  previews,
	}
}

// Dispatch processes one inbound activity. Deliveries may run
// concurrently and may repeat; every store write is an upsert keyed by a
// stable remote identity, so redelivery is harmless.
func (d *Dispatcher) Dispatch(ctx context.Context, act *Activity) error {
	if act == nil || act.Type == "" || act.Actor == "" {
		log.Warn().Msg("inbox: dropping malformed activity")
		return nil
	}

	d.audit(ctx, act)
	metrics.InboundActivities.WithLabelValues(act.Type).Inc()

	env := &Env{Engine: d.engine, Activity: act, ActorIRI: d.actorIRI, PublicURL: d.publicURL}

	switch act.Type {
	case TypeFollow:
		return d.handleFollow(ctx, env)
	case TypeUndo:
		return d.handleUndo(ctx, env)
	case TypeAccept:
		return d.handleAccept(ctx, env)
	case TypeReject:
		return d.handleReject(ctx, env)
	case TypeLike:
		return d.handleLike(ctx, env)
	case TypeAnnounce:
		return d.handleAnnounce(ctx, env)
	case TypeCreate:
		return d.handleCreate(ctx, env)
	case TypeDelete:
		return d.handleDelete(ctx, env)
	case TypeMove:
		return d.handleMove(ctx, env)
	case TypeUpdate:
		return d.handleUpdate(ctx, env)
	case TypeBlock:
		return d.handleBlock(ctx, env)
	case TypeAdd, TypeRemove:
		// Collection pin signals, nothing to store.
		log.Debug().Str("type", act.Type).Str("actor", string(act.Actor)).Msg("inbox: ignoring collection signal")
		return nil
	default:
		log.Warn().Str("type", act.Type).Str("actor", string(act.Actor)).Msg("inbox: unsupported activity type")
		return nil
	}
}

func (d *Dispatcher) audit(ctx context.Context, act *Activity) {
	entry := &domain.ActivityLogEntry{
		Direction:  "inbound",
		Type:       act.Type,
		ActorURL:   string(act.Actor),
		ObjectURL:  act.ObjectIRI(),
		TargetURL:  string(act.Target),
		Summary:    fmt.Sprintf("inbound %s from %s", act.Type, act.Actor),
		ReceivedAt: time.Now().UTC(),
	}
	if err := d.stores.Log.Append(ctx, entry); err != nil {
		log.Error().Err(err).Str("type", act.Type).Msg("inbox: failed to append audit entry")
	}
}

// notificationUID derives a stable notification key so a redelivered
// activity lands on the existing row. The kind prefix keeps the reply and
// mention notifications of one Create distinct.
func notificationUID(act *Activity, kind string) string {
	if act.ID != "" {
		return kind + ":" + act.ID
	}
	if obj := act.ObjectIRI(); obj != "" {
		return fmt.Sprintf("%s:%s:%s", kind, act.Actor, obj)
	}
	return kind + ":" + uuid.NewString()
}

func notificationFor(act *Activity, actor *Actor, kind string) *domain.Notification {
	now := time.Now().UTC()
	return &domain.Notification{
		UID:         notificationUID(act, kind),
		Type:        kind,
		ActorURL:    actor.ID,
		ActorName:   actor.Name,
		ActorPhoto:  actor.AvatarURL(),
		ActorHandle: actor.Handle(),
		Published:   now,
		CreatedAt:   now,
	}
}

func (d *Dispatcher) handleFollow(ctx context.Context, env *Env) error {
	act := env.Activity
	actor, err := env.Actor(ctx)
	if err != nil {
		log.Warn().Err(err).Str("actor", string(act.Actor)).Msg("inbox: follow from undereferenceable actor")
		return nil
	}

	follower := &domain.Follower{
		ActorURL:    actor.ID,
		Handle:      actor.Handle(),
		Name:        actor.Name,
		Avatar:      actor.AvatarURL(),
		Inbox:       actor.Inbox,
		SharedInbox: actor.Endpoints.SharedInbox,
		FollowedAt:  time.Now().UTC(),
	}
	if err := d.stores.Followers.Upsert(ctx, follower); err != nil {
		return fmt.Errorf("failed to store follower: %w", err)
	}

	// Auto-accept. Delivery failures degrade to a stale follow on the
	// remote side and are not worth failing the whole handler for.
	if err := d.sendAccept(ctx, act); err != nil {
		log.Error().Err(err).Str("actor", actor.ID).Msg("inbox: failed to send accept")
	}

	n := notificationFor(act, actor, domain.NotificationFollow)
	if err := d.stores.Notifications.Append(ctx, n); err != nil {
		return fmt.Errorf("failed to store follow notification: %w", err)
	}

	log.Info().Str("actor", actor.ID).Str("handle", actor.Handle()).Msg("inbox: accepted follow")
	return nil
}

func (d *Dispatcher) sendAccept(ctx context.Context, follow *Activity) error {
	inner, err := json.Marshal(follow)
	if err != nil {
		return err
	}
	accept := &Activity{
		Context: "https://www.w3.org/ns/activitystreams",
		ID:      d.actorIRI + "#accepts/" + uuid.NewString(),
		Type:    TypeAccept,
		Actor:   IRI(d.actorIRI),
		Object:  inner,
	}
	return d.engine.Send(ctx, accept)
}

func (d *Dispatcher) handleUndo(ctx context.Context, env *Env) error {
	act := env.Activity
	inner, ok := act.InnerActivity()
	if !ok || inner.Type == "" {
		// Some servers send Undo with only the inner activity's id.
		iri := act.ObjectIRI()
		if iri == "" {
			log.Warn().Str("actor", string(act.Actor)).Msg("inbox: undo without object")
			return nil
		}
		resolved, err := env.Engine.ResolveActivity(ctx, iri)
		if err != nil {
			// Cannot know the intent, accepted information loss.
			log.Warn().Err(err).Str("object", iri).Msg("inbox: undo of unresolvable activity")
			return nil
		}
		inner = resolved
	}

	switch inner.Type {
	case TypeFollow:
		if err := d.stores.Followers.Delete(ctx, string(act.Actor)); err != nil {
			return fmt.Errorf("failed to remove follower: %w", err)
		}
		log.Info().Str("actor", string(act.Actor)).Msg("inbox: follower removed")
	case TypeLike:
		if err := d.stores.Interactions.Delete(ctx, domain.InteractionLike, inner.ObjectIRI()); err != nil {
			return fmt.Errorf("failed to remove like record: %w", err)
		}
	case TypeAnnounce:
		if err := d.stores.Interactions.Delete(ctx, domain.InteractionBoost, inner.ObjectIRI()); err != nil {
			return fmt.Errorf("failed to remove boost record: %w", err)
		}
	default:
		log.Info().Str("actor", string(act.Actor)).Str("inner", inner.Type).Msg("inbox: undo of unhandled kind")
	}
	return nil
}

func (d *Dispatcher) handleAccept(ctx context.Context, env *Env) error {
	actorURL := string(env.Activity.Actor)
	matched, err := d.stores.Following.MarkAccepted(ctx, actorURL)
	if err != nil {
		return fmt.Errorf("failed to mark follow accepted: %w", err)
	}
	if !matched {
		// Redelivery or an Accept we never asked for.
		log.Debug().Str("actor", actorURL).Msg("inbox: accept with no pending follow")
		return nil
	}
	log.Info().Str("actor", actorURL).Msg("inbox: follow accepted")
	return nil
}

func (d *Dispatcher) handleReject(ctx context.Context, env *Env) error {
	actorURL := string(env.Activity.Actor)
	matched, err := d.stores.Following.MarkRejected(ctx, actorURL)
	if err != nil {
		return fmt.Errorf("failed to mark follow rejected: %w", err)
	}
	if matched {
		log.Info().Str("actor", actorURL).Msg("inbox: follow rejected")
	}
	return nil
}

func (d *Dispatcher) handleLike(ctx context.Context, env *Env) error {
	act := env.Activity
	objectURL := act.ObjectIRI()
	if !ownsObject(objectURL, d.publicURL) {
		// Likes of third-party content are none of our business.
		return nil
	}
	actor, err := env.Actor(ctx)
	if err != nil {
		log.Warn().Err(err).Str("actor", string(act.Actor)).Msg("inbox: like from undereferenceable actor")
		return nil
	}

	n := notificationFor(act, actor, domain.NotificationLike)
	n.TargetURL = objectURL
	if err := d.stores.Notifications.Append(ctx, n); err != nil {
		return fmt.Errorf("failed to store like notification: %w", err)
	}
	log.Info().Str("actor", actor.ID).Str("object", objectURL).Msg("inbox: like recorded")
	return nil
}

// handleAnnounce covers both boost paths, which can apply to one event:
// a boost of the local actor's own post becomes a notification, and a
// boost by a followed account lands the boosted post on the timeline.
func (d *Dispatcher) handleAnnounce(ctx context.Context, env *Env) error {
	act := env.Activity
	objectURL := act.ObjectIRI()
	if objectURL == "" {
		return nil
	}

	if ownsObject(objectURL, d.publicURL) {
		actor, err := env.Actor(ctx)
		if err != nil {
			log.Warn().Err(err).Str("actor", string(act.Actor)).Msg("inbox: boost from undereferenceable actor")
			return nil
		}
		n := notificationFor(act, actor, domain.NotificationBoost)
		n.TargetURL = objectURL
		if err := d.stores.Notifications.Append(ctx, n); err != nil {
			return fmt.Errorf("failed to store boost notification: %w", err)
		}
	}

	following, err := d.stores.Following.IsFollowing(ctx, string(act.Actor))
	if err != nil {
		return fmt.Errorf("failed to check following: %w", err)
	}
	if !following {
		return nil
	}

	obj, err := env.Object(ctx)
	if err != nil {
		log.Warn().Err(err).Str("object", objectURL).Msg("inbox: boosted object undereferenceable")
		return nil
	}
	if obj.Content == "" {
		// Some servers announce bare activity ids with nothing to render.
		return nil
	}

	item := timelineItem(obj, string(obj.AttributedTo))
	boostedAt := time.Now().UTC()
	item.BoostedBy = string(act.Actor)
	item.BoostedAt = &boostedAt
	if err := d.stores.Timeline.Upsert(ctx, item); err != nil {
		return fmt.Errorf("failed to store boosted item: %w", err)
	}
	if d.previews != nil {
		d.previews.FetchAndStore(item.UID, item.Content.HTML)
	}
	log.Info().Str("uid", item.UID).Str("boosted_by", item.BoostedBy).Msg("inbox: boosted post stored")
	return nil
}

func (d *Dispatcher) handleCreate(ctx context.Context, env *Env) error {
	act := env.Activity
	obj, err := env.Object(ctx)
	if err != nil {
		log.Warn().Err(err).Str("actor", string(act.Actor)).Msg("inbox: created object undereferenceable")
		return nil
	}
	if obj.ID == "" {
		return nil
	}

	if inReplyTo := string(obj.InReplyTo); ownsObject(inReplyTo, d.publicURL) {
		actor, err := env.Actor(ctx)
		if err != nil {
			log.Warn().Err(err).Str("actor", string(act.Actor)).Msg("inbox: reply from undereferenceable actor")
			return nil
		}
		n := notificationFor(act, actor, domain.NotificationReply)
		n.TargetURL = inReplyTo
		n.Content = ExtractText(obj.Content)
		n.Published = obj.PublishedTime()
		if err := d.stores.Notifications.Append(ctx, n); err != nil {
			return fmt.Errorf("failed to store reply notification: %w", err)
		}
	}

	if mentionsActor(obj, d.actorIRI) {
		actor, err := env.Actor(ctx)
		if err != nil {
			log.Warn().Err(err).Str("actor", string(act.Actor)).Msg("inbox: mention from undereferenceable actor")
			return nil
		}
		n := notificationFor(act, actor, domain.NotificationMention)
		n.TargetURL = obj.ID
		n.Content = ExtractText(obj.Content)
		n.Published = obj.PublishedTime()
		if err := d.stores.Notifications.Append(ctx, n); err != nil {
			return fmt.Errorf("failed to store mention notification: %w", err)
		}
	}

	following, err := d.stores.Following.IsFollowing(ctx, string(act.Actor))
	if err != nil {
		return fmt.Errorf("failed to check following: %w", err)
	}
	if !following {
		return nil
	}

	author := string(obj.AttributedTo)
	if author == "" {
		author = string(act.Actor)
	}
	item := timelineItem(obj, author)
	if err := d.stores.Timeline.Upsert(ctx, item); err != nil {
		return fmt.Errorf("failed to store timeline item: %w", err)
	}
	if d.previews != nil {
		d.previews.FetchAndStore(item.UID, item.Content.HTML)
	}
	log.Info().Str("uid", item.UID).Str("author", author).Msg("inbox: post stored")
	return nil
}

func (d *Dispatcher) handleDelete(ctx context.Context, env *Env) error {
	objectURL := env.Activity.ObjectIRI()
	if objectURL == "" {
		return nil
	}
	removed, err := d.stores.Log.DeleteByObjectURL(ctx, objectURL)
	if err != nil {
		return fmt.Errorf("failed to purge audit entries: %w", err)
	}
	if err := d.stores.Timeline.Delete(ctx, objectURL); err != nil {
		return fmt.Errorf("failed to remove timeline item: %w", err)
	}
	log.Info().Str("object", objectURL).Int64("log_entries", removed).Msg("inbox: delete honored")
	return nil
}

func (d *Dispatcher) handleMove(ctx context.Context, env *Env) error {
	act := env.Activity
	oldURL := act.ObjectIRI()
	if oldURL == "" {
		oldURL = string(act.Actor)
	}
	newURL := string(act.Target)
	if oldURL == "" || newURL == "" {
		return nil
	}
	if err := d.stores.Followers.Retarget(ctx, oldURL, newURL); err != nil {
		return fmt.Errorf("failed to retarget follower: %w", err)
	}
	log.Info().Str("from", oldURL).Str("to", newURL).Msg("inbox: follower moved")
	return nil
}

func (d *Dispatcher) handleUpdate(ctx context.Context, env *Env) error {
	act := env.Activity
	obj, err := env.Object(ctx)
	if err != nil {
		log.Warn().Err(err).Str("actor", string(act.Actor)).Msg("inbox: updated object undereferenceable")
		return nil
	}

	switch obj.Type {
	case "Note", "Article", "Page", "Question":
		matched, err := d.stores.Timeline.UpdateContent(ctx, obj.ID,
			itemContent(obj.Content), obj.Name, ExtractText(obj.Summary), obj.Sensitive)
		if err != nil {
			return fmt.Errorf("failed to update timeline item: %w", err)
		}
		if !matched {
			log.Debug().Str("uid", obj.ID).Msg("inbox: update for unknown item")
		}
	default:
		// Actor profile refresh. Only existing followers are patched.
		avatar := ""
		if obj.Icon != nil {
			avatar = obj.Icon.URL
		}
		matched, err := d.stores.Followers.PatchProfile(ctx, string(act.Actor), obj.Name, "", avatar)
		if err != nil {
			return fmt.Errorf("failed to patch follower profile: %w", err)
		}
		if matched {
			log.Info().Str("actor", string(act.Actor)).Msg("inbox: follower profile refreshed")
		}
	}
	return nil
}

func (d *Dispatcher) handleBlock(ctx context.Context, env *Env) error {
	actorURL := string(env.Activity.Actor)
	if err := d.stores.Followers.Delete(ctx, actorURL); err != nil {
		return fmt.Errorf("failed to remove blocking follower: %w", err)
	}
	log.Info().Str("actor", actorURL).Msg("inbox: block honored")
	return nil
}
