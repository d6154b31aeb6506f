package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rmdes/fedipoint/activitypub"
	"github.com/rmdes/fedipoint/domain"
)

type fakeRefollowStore struct {
	targets  []domain.FollowingTarget
	sent     []string
	failures map[string]string
}

func (s *fakeRefollowStore) Pending(_ context.Context, sources []string) ([]domain.FollowingTarget, error) {
	return s.targets, nil
}

func (s *fakeRefollowStore) MarkFollowSent(_ context.Context, actorURL string) error {
	s.sent = append(s.sent, actorURL)
	return nil
}

func (s *fakeRefollowStore) RecordFailure(_ context.Context, actorURL string, sendErr error) error {
	if s.failures == nil {
		s.failures = map[string]string{}
	}
	s.failures[actorURL] = sendErr.Error()
	return nil
}

type fakeKV struct {
	mu     sync.Mutex
	values map[string]interface{}
}

func newFakeKV() *fakeKV {
	return &fakeKV{values: map[string]interface{}{}}
}

func (kv *fakeKV) Set(_ context.Context, key string, value interface{}) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.values[key] = value
	return nil
}

func (kv *fakeKV) Get(_ context.Context, key string, out interface{}) (bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v, ok := kv.values[key]
	if !ok {
		return false, nil
	}
	switch dst := out.(type) {
	case *string:
		*dst = v.(string)
	case *bool:
		*dst = v.(bool)
	}
	return true, nil
}

func (kv *fakeKV) Delete(_ context.Context, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.values, key)
	return nil
}

func (kv *fakeKV) get(key string) (interface{}, bool) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v, ok := kv.values[key]
	return v, ok
}

type sendingEngine struct {
	sent    []*activitypub.Activity
	failFor map[string]bool
	onSend  func(act *activitypub.Activity)
}

func (e *sendingEngine) ResolveActor(context.Context, string) (*activitypub.Actor, error) {
	return nil, fmt.Errorf("not implemented")
}

func (e *sendingEngine) ResolveObject(context.Context, string) (*activitypub.Object, error) {
	return nil, fmt.Errorf("not implemented")
}

func (e *sendingEngine) ResolveActivity(context.Context, string) (*activitypub.Activity, error) {
	return nil, fmt.Errorf("not implemented")
}

func (e *sendingEngine) Send(_ context.Context, act *activitypub.Activity) error {
	if e.failFor[act.ObjectIRI()] {
		return fmt.Errorf("inbox unreachable")
	}
	e.sent = append(e.sent, act)
	if e.onSend != nil {
		e.onSend(act)
	}
	return nil
}

func pendingTargets(urls ...string) []domain.FollowingTarget {
	targets := make([]domain.FollowingTarget, 0, len(urls))
	for i, u := range urls {
		targets = append(targets, domain.FollowingTarget{
			ActorURL:   u,
			Source:     domain.SourceReader,
			FollowedAt: time.Unix(int64(1700000000+i), 0),
		})
	}
	return targets
}

const refollowActor = "https://blog.example/activitypub/actor"

func TestRunOnceSendsToAllPending(t *testing.T) {
	store := &fakeRefollowStore{targets: pendingTargets(
		"https://a.example/users/1",
		"https://b.example/users/2",
		"https://c.example/users/3",
	)}
	kv := newFakeKV()
	engine := &sendingEngine{}
	c := NewRefollowController(store, kv, engine, refollowActor, 0, time.Hour)

	if err := c.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	if len(engine.sent) != 3 {
		t.Fatalf("Expected 3 follows sent, got %d", len(engine.sent))
	}
	if engine.sent[0].Type != activitypub.TypeFollow {
		t.Errorf("Expected Follow activities, got %s", engine.sent[0].Type)
	}
	if engine.sent[0].ObjectIRI() != "https://a.example/users/1" {
		t.Errorf("Expected stable oldest-first order, got '%s'", engine.sent[0].ObjectIRI())
	}
	if len(store.sent) != 3 {
		t.Errorf("Expected all targets marked sent, got %d", len(store.sent))
	}
	if _, ok := kv.get(kvRefollowCursor); ok {
		t.Error("Expected cursor cleared after a full pass")
	}

	status := c.Status()
	if status.State != StateIdle {
		t.Errorf("Expected idle after pass, got '%s'", status.State)
	}
	if status.Processed != 3 || status.Total != 3 {
		t.Errorf("Expected processed 3/3, got %d/%d", status.Processed, status.Total)
	}
}

func TestRunOnceRecordsFailuresAndContinues(t *testing.T) {
	store := &fakeRefollowStore{targets: pendingTargets(
		"https://a.example/users/1",
		"https://b.example/users/2",
	)}
	kv := newFakeKV()
	engine := &sendingEngine{failFor: map[string]bool{"https://a.example/users/1": true}}
	c := NewRefollowController(store, kv, engine, refollowActor, 0, time.Hour)

	if err := c.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	if store.failures["https://a.example/users/1"] == "" {
		t.Error("Expected failure recorded for unreachable target")
	}
	if len(engine.sent) != 1 || engine.sent[0].ObjectIRI() != "https://b.example/users/2" {
		t.Errorf("Expected loop to continue past the failure, sent %d", len(engine.sent))
	}
	if c.Status().LastError == "" {
		t.Error("Expected lastError surfaced in status")
	}
}

func TestPauseHaltsAfterInFlightSend(t *testing.T) {
	store := &fakeRefollowStore{targets: pendingTargets(
		"https://a.example/users/1",
		"https://b.example/users/2",
		"https://c.example/users/3",
	)}
	kv := newFakeKV()
	c := NewRefollowController(store, kv, nil, refollowActor, 0, time.Hour)
	engine := &sendingEngine{onSend: func(*activitypub.Activity) {
		// Pause lands while a send is in flight; that send completes.
		if err := c.Pause(context.Background()); err != nil {
			t.Errorf("Pause failed: %v", err)
		}
	}}
	c.engine = engine

	if err := c.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	if len(engine.sent) != 1 {
		t.Fatalf("Expected exactly 1 send before pause took effect, got %d", len(engine.sent))
	}
	if c.Status().State != StatePaused {
		t.Errorf("Expected paused state, got '%s'", c.Status().State)
	}
	if paused, ok := kv.get(kvRefollowPaused); !ok || paused != true {
		t.Error("Expected pause flag persisted")
	}
	if cursor, ok := kv.get(kvRefollowCursor); !ok || cursor != "https://a.example/users/1" {
		t.Errorf("Expected cursor at last attempted target, got '%v'", cursor)
	}
}

func TestRunOnceResumesFromPersistedCursor(t *testing.T) {
	store := &fakeRefollowStore{targets: pendingTargets(
		"https://a.example/users/1",
		"https://b.example/users/2",
		"https://c.example/users/3",
	)}
	kv := newFakeKV()
	kv.Set(context.Background(), kvRefollowCursor, "https://a.example/users/1")
	engine := &sendingEngine{}
	c := NewRefollowController(store, kv, engine, refollowActor, 0, time.Hour)

	if err := c.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	if len(engine.sent) != 2 {
		t.Fatalf("Expected 2 sends after the cursor, got %d", len(engine.sent))
	}
	for _, act := range engine.sent {
		if act.ObjectIRI() == "https://a.example/users/1" {
			t.Error("Expected already-attempted target skipped")
		}
	}
}

func TestResumeClearsPersistedFlag(t *testing.T) {
	store := &fakeRefollowStore{}
	kv := newFakeKV()
	kv.Set(context.Background(), kvRefollowPaused, true)
	c := NewRefollowController(store, kv, &sendingEngine{}, refollowActor, 0, time.Hour)
	c.paused = true
	c.state = StatePaused

	if err := c.Resume(context.Background()); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if _, ok := kv.get(kvRefollowPaused); ok {
		t.Error("Expected pause flag cleared")
	}
	if c.Status().State == StatePaused {
		t.Errorf("Expected controller no longer paused, got '%s'", c.Status().State)
	}
}
