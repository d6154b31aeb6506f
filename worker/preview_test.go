package worker

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rmdes/fedipoint/domain"
)

type fakePreviewStore struct {
	mu       sync.Mutex
	previews map[string][]domain.LinkPreview
}

func (s *fakePreviewStore) SetLinkPreviews(_ context.Context, uid string, previews []domain.LinkPreview) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.previews == nil {
		s.previews = map[string][]domain.LinkPreview{}
	}
	s.previews[uid] = previews
	return nil
}

func newTestFetcher() *LinkPreviewFetcher {
	f := NewLinkPreviewFetcher(&fakePreviewStore{}, 3, 3, time.Second)
	f.lookupIP = func(_ context.Context, host string) ([]net.IP, error) {
		switch host {
		case "example.com", "other.example", "news.example":
			return []net.IP{net.ParseIP("93.184.216.34")}, nil
		case "internal.example":
			return []net.IP{net.ParseIP("10.0.0.7")}, nil
		default:
			return nil, fmt.Errorf("no such host")
		}
	}
	return f
}

func TestPreviewableBlocksPrivateAndNonHTTP(t *testing.T) {
	f := newTestFetcher()
	ctx := context.Background()

	blocked := []string{
		"http://127.0.0.1/x",
		"http://10.1.2.3/x",
		"http://169.254.169.254/latest/meta-data",
		"http://192.168.1.1/admin",
		"http://172.16.0.1/x",
		"http://0.0.0.0/x",
		"http://[::1]/x",
		"http://[fe80::1]/x",
		"http://[fc00::1]/x",
		"ftp://example.com/x",
		"http://internal.example/page",
		"http://unresolvable.invalid/page",
	}
	for _, u := range blocked {
		if f.previewable(ctx, u) {
			t.Errorf("Expected %s to be rejected", u)
		}
	}

	if !f.previewable(ctx, "https://example.com/article") {
		t.Error("Expected https://example.com/article to be accepted")
	}
}

func TestPreviewableSkipsRemotePostsAndMedia(t *testing.T) {
	f := newTestFetcher()
	ctx := context.Background()

	skipped := []string{
		"https://example.com/@alice/112233",
		"https://example.com/users/alice/statuses/112233",
		"https://example.com/notes/9gwek19jga",
		"https://example.com/objects/abc-def",
		"https://example.com/notice/112233",
		"https://example.com/p/alice/42",
		"https://example.com/media/cat.jpg",
		"https://example.com/clip.mp4",
	}
	for _, u := range skipped {
		if f.previewable(ctx, u) {
			t.Errorf("Expected %s to be skipped", u)
		}
	}
}

func TestExtractLinksFiltersAndCaps(t *testing.T) {
	f := newTestFetcher()
	htmlIn := `<p>
		<a href="https://example.com/a" class="mention">@alice</a>
		<a href="https://example.com/tags/go" class="mention hashtag">#go</a>
		<a href="https://example.com/one">one</a>
		<a href="https://example.com/one">dup</a>
		<a href="https://example.com/two">two</a>
		<a href="https://other.example/three">three</a>
		<a href="https://news.example/four">four</a>
	</p>`

	links := f.ExtractLinks(context.Background(), htmlIn)

	if len(links) != 3 {
		t.Fatalf("Expected 3 links after dedupe and cap, got %d: %v", len(links), links)
	}
	if links[0] != "https://example.com/one" {
		t.Errorf("Expected first plain link kept, got '%s'", links[0])
	}
	for _, l := range links {
		if strings.Contains(l, "/tags/") || l == "https://example.com/a" {
			t.Errorf("Expected mention/hashtag anchors dropped, got %s", l)
		}
	}
}

func TestFetchConcurrencyCeiling(t *testing.T) {
	f := newTestFetcher()
	f.maxLinks = 10

	var inFlight, maxInFlight, completed int64
	f.fetchFn = func(_ context.Context, link string) (*domain.LinkPreview, error) {
		cur := atomic.AddInt64(&inFlight, 1)
		for {
			prev := atomic.LoadInt64(&maxInFlight)
			if cur <= prev || atomic.CompareAndSwapInt64(&maxInFlight, prev, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		atomic.AddInt64(&completed, 1)
		return &domain.LinkPreview{URL: link, Title: "t"}, nil
	}

	var sb strings.Builder
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&sb, `<a href="https://example.com/page-%d">p</a>`, i)
	}
	previews := f.FetchLinkPreviews(context.Background(), sb.String())

	if got := atomic.LoadInt64(&maxInFlight); got > 3 {
		t.Errorf("Expected at most 3 fetches in flight, observed %d", got)
	}
	if atomic.LoadInt64(&completed) != 10 {
		t.Errorf("Expected all 10 fetches to complete, got %d", completed)
	}
	if len(previews) != 10 {
		t.Errorf("Expected 10 previews, got %d", len(previews))
	}
}

func TestFetchFailuresYieldNoPreview(t *testing.T) {
	f := newTestFetcher()
	f.fetchFn = func(_ context.Context, link string) (*domain.LinkPreview, error) {
		if strings.HasSuffix(link, "/bad") {
			return nil, fmt.Errorf("boom")
		}
		return &domain.LinkPreview{URL: link, Title: "ok"}, nil
	}

	htmlIn := `<a href="https://example.com/good">g</a><a href="https://example.com/bad">b</a>`
	previews := f.FetchLinkPreviews(context.Background(), htmlIn)

	if len(previews) != 1 {
		t.Fatalf("Expected failed fetch filtered out, got %d previews", len(previews))
	}
	if previews[0].URL != "https://example.com/good" {
		t.Errorf("Expected the good preview, got '%s'", previews[0].URL)
	}
}

func TestTruncateDescription(t *testing.T) {
	short := "a short description"
	if got := truncateDescription(short); got != short {
		t.Errorf("Expected short description untouched, got '%s'", got)
	}

	long := strings.Repeat("x", 200)
	got := truncateDescription(long)
	if len([]rune(got)) != descriptionLimit+1 {
		t.Errorf("Expected %d runes plus ellipsis, got %d", descriptionLimit, len([]rune(got)))
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("Expected ellipsis suffix, got '%s'", got[len(got)-4:])
	}
}

func TestFetchAndStorePersistsInBackground(t *testing.T) {
	store := &fakePreviewStore{}
	f := NewLinkPreviewFetcher(store, 3, 3, time.Second)
	f.lookupIP = func(_ context.Context, host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("93.184.216.34")}, nil
	}
	f.fetchFn = func(_ context.Context, link string) (*domain.LinkPreview, error) {
		return &domain.LinkPreview{URL: link, Title: "t"}, nil
	}

	f.FetchAndStore("https://remote.example/notes/1", `<a href="https://example.com/a">a</a>`)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		store.mu.Lock()
		stored := len(store.previews["https://remote.example/notes/1"])
		store.mu.Unlock()
		if stored == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Expected previews stored in background")
}
