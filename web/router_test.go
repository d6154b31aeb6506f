package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rmdes/fedipoint/activitypub"
	"github.com/rmdes/fedipoint/domain"
	"github.com/rmdes/fedipoint/util"
	"github.com/rmdes/fedipoint/worker"
)

type fakeDispatcher struct {
	dispatched []*activitypub.Activity
	err        error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, act *activitypub.Activity) error {
	if d.err != nil {
		return d.err
	}
	d.dispatched = append(d.dispatched, act)
	return nil
}

type fakeTimelineReader struct {
	items []domain.TimelineItem
}

func (f *fakeTimelineReader) Recent(_ context.Context, limit int64) ([]domain.TimelineItem, error) {
	return f.items, nil
}

func (f *fakeTimelineReader) Count(_ context.Context) (int64, error) {
	return int64(len(f.items)), nil
}

type fakeNotificationReader struct{}

func (f *fakeNotificationReader) Recent(_ context.Context, limit int64) ([]domain.Notification, error) {
	return []domain.Notification{{UID: "n1", Type: domain.NotificationFollow}}, nil
}

type fakeAuditReader struct{}

func (f *fakeAuditReader) Recent(_ context.Context, limit int64) ([]domain.ActivityLogEntry, error) {
	return nil, nil
}

type fakeFollowerCounter struct{ n int64 }

func (f *fakeFollowerCounter) Count(_ context.Context) (int64, error) { return f.n, nil }

type fakeFollowingAdmin struct {
	targets []*domain.FollowingTarget
}

func (f *fakeFollowingAdmin) Upsert(_ context.Context, t *domain.FollowingTarget) error {
	f.targets = append(f.targets, t)
	return nil
}

type fakeKVReader struct{}

func (fakeKVReader) List(_ context.Context, prefix string) ([]domain.KVEntry, error) {
	return []domain.KVEntry{{Key: prefix + "/example", Value: true}}, nil
}

type noopRefollowStore struct{}

func (noopRefollowStore) Pending(context.Context, []string) ([]domain.FollowingTarget, error) {
	return nil, nil
}
func (noopRefollowStore) MarkFollowSent(context.Context, string) error { return nil }
func (noopRefollowStore) RecordFailure(context.Context, string, error) error {
	return nil
}

type noopKV struct{}

func (noopKV) Set(context.Context, string, interface{}) error { return nil }
func (noopKV) Get(context.Context, string, interface{}) (bool, error) {
	return false, nil
}
func (noopKV) Delete(context.Context, string) error { return nil }

type noopEngine struct{}

func (noopEngine) ResolveActor(context.Context, string) (*activitypub.Actor, error) {
	return nil, fmt.Errorf("not implemented")
}
func (noopEngine) ResolveObject(context.Context, string) (*activitypub.Object, error) {
	return nil, fmt.Errorf("not implemented")
}
func (noopEngine) ResolveActivity(context.Context, string) (*activitypub.Activity, error) {
	return nil, fmt.Errorf("not implemented")
}
func (noopEngine) Send(context.Context, *activitypub.Activity) error { return nil }

func testDeps() (Deps, *fakeDispatcher, *fakeFollowingAdmin) {
	conf := &util.AppConfig{}
	conf.Conf.Host = "127.0.0.1"
	conf.Conf.HttpPort = 8077
	conf.Conf.ActorHandle = "@blog@blog.example"
	conf.Conf.PublicURL = "https://blog.example"

	dispatcher := &fakeDispatcher{}
	following := &fakeFollowingAdmin{}
	refollow := worker.NewRefollowController(noopRefollowStore{}, noopKV{}, noopEngine{},
		"https://blog.example/activitypub/actor", 0, time.Hour)

	return Deps{
		Conf:       conf,
		Dispatcher: dispatcher,
		Refollow:   refollow,
		Timeline: &fakeTimelineReader{items: []domain.TimelineItem{{
			UID:       "https://remote.example/notes/1",
			Author:    "https://remote.example/users/alice",
			Content:   domain.ItemContent{Text: "hello", HTML: "<p>hello</p>"},
			Published: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
		}}},
		Notifications: &fakeNotificationReader{},
		AuditLog:      &fakeAuditReader{},
		Followers:     &fakeFollowerCounter{n: 7},
		Following:     following,
		KV:            fakeKVReader{},
	}, dispatcher, following
}

func TestActivityHookDispatches(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps, dispatcher, _ := testDeps()
	g := Router(deps)

	body := `{"id":"https://remote.example/activities/1","type":"Follow","actor":"https://remote.example/users/alice","object":"https://blog.example/activitypub/actor"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/hooks/activity", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	g.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(dispatcher.dispatched) != 1 {
		t.Fatalf("Expected 1 dispatched activity, got %d", len(dispatcher.dispatched))
	}
	if dispatcher.dispatched[0].Type != activitypub.TypeFollow {
		t.Errorf("Expected Follow dispatched, got %s", dispatcher.dispatched[0].Type)
	}
}

func TestActivityHookRejectsGarbage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps, dispatcher, _ := testDeps()
	g := Router(deps)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/hooks/activity", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	g.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for garbage body, got %d", w.Code)
	}
	if len(dispatcher.dispatched) != 0 {
		t.Errorf("Expected nothing dispatched, got %d", len(dispatcher.dispatched))
	}
}

func TestRefollowAdminEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps, _, _ := testDeps()
	g := Router(deps)

	w := httptest.NewRecorder()
	g.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/refollow/pause", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from pause, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	g.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/refollow/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from status, got %d", w.Code)
	}
	var status worker.RefollowStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if status.State != worker.StatePaused {
		t.Errorf("Expected paused state after pause, got '%s'", status.State)
	}

	w = httptest.NewRecorder()
	g.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/refollow/resume", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from resume, got %d", w.Code)
	}
}

func TestAdminFollowingQueuesTarget(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps, _, following := testDeps()
	g := Router(deps)

	body := `{"actorUrl":"https://remote.example/users/alice","handle":"@alice@remote.example"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/following", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	g.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(following.targets) != 1 {
		t.Fatalf("Expected 1 queued target, got %d", len(following.targets))
	}
	if following.targets[0].Source != domain.SourceReader {
		t.Errorf("Expected source 'reader', got '%s'", following.targets[0].Source)
	}

	// Missing actorUrl is a client error.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/admin/following", strings.NewReader(`{"name":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	g.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without actorUrl, got %d", w.Code)
	}
}

func TestFeedRendersRSS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps, _, _ := testDeps()
	g := Router(deps)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/feed", nil)
	req.Header.Set("Accept-Encoding", "identity")
	g.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "<rss") {
		t.Error("Expected RSS document")
	}
	if !strings.Contains(body, "https://remote.example/notes/1") {
		t.Error("Expected timeline item in feed")
	}
}

func TestStatsReportsCounts(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps, _, _ := testDeps()
	g := Router(deps)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Accept-Encoding", "identity")
	g.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var stats struct {
		Followers     int64 `json:"followers"`
		TimelineItems int64 `json:"timelineItems"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("Failed to decode stats: %v", err)
	}
	if stats.Followers != 7 || stats.TimelineItems != 1 {
		t.Errorf("Expected followers 7 and timelineItems 1, got %d/%d", stats.Followers, stats.TimelineItems)
	}
}

func TestHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps, _, _ := testDeps()
	g := Router(deps)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Accept-Encoding", "identity")
	g.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 from healthz, got %d", w.Code)
	}
}
