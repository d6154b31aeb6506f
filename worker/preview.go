package worker

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rmdes/fedipoint/domain"
	"github.com/rmdes/fedipoint/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
	"golang.org/x/sync/semaphore"
)

const descriptionLimit = 160

// TimelinePreviews is the slice of the timeline store the fetcher writes
// back to.
type TimelinePreviews interface {
	SetLinkPreviews(ctx context.Context, uid string, previews []domain.LinkPreview) error
}

// LinkPreviewFetcher enriches stored timeline items with external page
// metadata. All fetches in the process share one concurrency gate so a
// burst of inbound posts cannot fan out into unbounded outbound traffic.
type LinkPreviewFetcher struct {
	store    TimelinePreviews
	sem      *semaphore.Weighted
	client   *http.Client
	maxLinks int
	timeout  time.Duration

	// injectable for tests
	lookupIP func(ctx context.Context, host string) ([]net.IP, error)
	fetchFn  func(ctx context.Context, link string) (*domain.LinkPreview, error)
}

func NewLinkPreviewFetcher(store TimelinePreviews, maxLinks int, concurrency int64, timeout time.Duration) *LinkPreviewFetcher {
	f := &LinkPreviewFetcher{
		store:    store,
		sem:      semaphore.NewWeighted(concurrency),
		client:   &http.Client{Timeout: timeout},
		maxLinks: maxLinks,
		timeout:  timeout,
		lookupIP: func(ctx context.Context, host string) ([]net.IP, error) {
			addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, err
			}
			ips := make([]net.IP, 0, len(addrs))
			for _, a := range addrs {
				ips = append(ips, a.IP)
			}
			return ips, nil
		},
	}
	f.fetchFn = f.fetchPage
	return f
}

// FetchAndStore enriches one stored item in the background. Failures are
// logged and swallowed; the caller that stored the item never waits on or
// learns about preview fetching.
func (f *LinkPreviewFetcher) FetchAndStore(uid, sanitizedHTML string) {
	go func() {
		ctx := context.Background()
		previews := f.FetchLinkPreviews(ctx, sanitizedHTML)
		if len(previews) == 0 {
			return
		}
		if err := f.store.SetLinkPreviews(ctx, uid, previews); err != nil {
			log.Error().Err(err).Str("uid", uid).Msg("preview: failed to store previews")
		}
	}()
}

// FetchLinkPreviews extracts previewable links from sanitized post HTML
// and fetches their metadata through the shared gate. Failed fetches are
// dropped, never retried.
func (f *LinkPreviewFetcher) FetchLinkPreviews(ctx context.Context, sanitizedHTML string) []domain.LinkPreview {
	links := f.ExtractLinks(ctx, sanitizedHTML)
	if len(links) == 0 {
		return nil
	}

	results := make([]*domain.LinkPreview, len(links))
	var wg sync.WaitGroup
	for i, link := range links {
		wg.Add(1)
		go func(i int, link string) {
			defer wg.Done()
			if err := f.sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer f.sem.Release(1)

			fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
			defer cancel()

			preview, err := f.fetchFn(fetchCtx, link)
			if err != nil {
				metrics.PreviewFetches.WithLabelValues("error").Inc()
				log.Debug().Err(err).Str("url", link).Msg("preview: fetch failed")
				return
			}
			metrics.PreviewFetches.WithLabelValues("ok").Inc()
			results[i] = preview
		}(i, link)
	}
	wg.Wait()

	var previews []domain.LinkPreview
	for _, p := range results {
		if p != nil {
			previews = append(previews, *p)
		}
	}
	return previews
}

// ExtractLinks pulls previewable external URLs out of sanitized post
// HTML: mention and hashtag anchors, links that look like remote posts,
// media files and anything pointing at a private network are dropped.
// The result is deduplicated and capped.
func (f *LinkPreviewFetcher) ExtractLinks(ctx context.Context, sanitizedHTML string) []string {
	doc, err := html.Parse(strings.NewReader(sanitizedHTML))
	if err != nil {
		return nil
	}

	seen := map[string]bool{}
	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			var href, class string
			for _, attr := range n.Attr {
				switch attr.Key {
				case "href":
					href = attr.Val
				case "class":
					class = attr.Val
				}
			}
			if href != "" && !isSocialAnchor(class) && !seen[href] && f.previewable(ctx, href) {
				seen[href] = true
				links = append(links, href)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if len(links) > f.maxLinks {
		links = links[:f.maxLinks]
	}
	return links
}

func isSocialAnchor(class string) bool {
	return strings.Contains(class, "mention") || strings.Contains(class, "hashtag")
}

var remoteObjectPaths = []*regexp.Regexp{
	regexp.MustCompile(`^/@[^/]+/\d+`),            // mastodon
	regexp.MustCompile(`^/users/[^/]+/statuses/`), // mastodon
	regexp.MustCompile(`^/notes/[A-Za-z0-9]+`),    // misskey
	regexp.MustCompile(`^/objects/`),              // pleroma
	regexp.MustCompile(`^/notice/`),               // pleroma
	regexp.MustCompile(`^/p/[^/]+/\d+`),           // pixelfed
}

var mediaExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".avif": true, ".svg": true, ".mp4": true, ".webm": true, ".mp3": true,
	".ogg": true, ".wav": true,
}

// previewable applies the outbound-fetch safety filter: http(s) only, no
// fediverse post permalinks, no raw media, and no host that resolves to a
// private, loopback or link-local address.
func (f *LinkPreviewFetcher) previewable(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.Hostname() == "" {
		return false
	}
	for _, re := range remoteObjectPaths {
		if re.MatchString(u.Path) {
			return false
		}
	}
	if dot := strings.LastIndex(u.Path, "."); dot >= 0 {
		if mediaExtensions[strings.ToLower(u.Path[dot:])] {
			return false
		}
	}
	return !f.hostBlocked(ctx, u.Hostname())
}

func (f *LinkPreviewFetcher) hostBlocked(ctx context.Context, host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return blockedIP(ip)
	}
	ips, err := f.lookupIP(ctx, host)
	if err != nil || len(ips) == 0 {
		// Unresolvable hosts are not worth a fetch attempt either.
		return true
	}
	for _, ip := range ips {
		if blockedIP(ip) {
			return true
		}
	}
	return false
}

// blockedIP rejects loopback, RFC1918, link-local, unspecified and 0/8
// addresses, plus the IPv6 unique-local and link-local ranges.
func blockedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() {
		return true
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	if ip4 := ip.To4(); ip4 != nil && ip4[0] == 0 {
		return true
	}
	return false
}

// fetchPage retrieves one page and scrapes title, description, image and
// favicon from its markup.
func (f *LinkPreviewFetcher) fetchPage(ctx context.Context, link string) (*domain.LinkPreview, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html")
	req.Header.Set("User-Agent", "fedipoint-linkpreview/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return nil, fmt.Errorf("not html: %s", ct)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	u, _ := url.Parse(link)
	preview := scrapePreview(doc, u)
	preview.URL = link
	if preview.Title == "" && preview.Description == "" {
		return nil, fmt.Errorf("no usable metadata")
	}
	return preview, nil
}

// scrapePreview walks a parsed document for open-graph tags, falling back
// to the plain title and meta description.
func scrapePreview(doc *html.Node, page *url.URL) *domain.LinkPreview {
	preview := &domain.LinkPreview{Domain: page.Hostname()}
	var plainTitle string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "meta":
				var name, content string
				for _, attr := range n.Attr {
					switch attr.Key {
					case "property", "name":
						name = attr.Val
					case "content":
						content = attr.Val
					}
				}
				switch name {
				case "og:title":
					preview.Title = content
				case "og:description":
					preview.Description = truncateDescription(content)
				case "description":
					if preview.Description == "" {
						preview.Description = truncateDescription(content)
					}
				case "og:image":
					preview.Image = resolveRef(page, content)
				}
			case "link":
				var rel, href string
				for _, attr := range n.Attr {
					switch attr.Key {
					case "rel":
						rel = attr.Val
					case "href":
						href = attr.Val
					}
				}
				if strings.Contains(rel, "icon") && preview.Favicon == "" {
					preview.Favicon = resolveRef(page, href)
				}
			case "title":
				if n.FirstChild != nil && plainTitle == "" {
					plainTitle = strings.TrimSpace(n.FirstChild.Data)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if preview.Title == "" {
		preview.Title = plainTitle
	}
	return preview
}

func resolveRef(page *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return page.ResolveReference(u).String()
}

// truncateDescription caps description text at the display limit, marking
// the cut with an ellipsis.
func truncateDescription(s string) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= descriptionLimit {
		return string(runes)
	}
	return string(runes[:descriptionLimit]) + "…"
}
