package source

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// FeedConfig configures a Feed source.
type FeedConfig struct {
	URL       string
	UserAgent string
	Timeout   time.Duration
	Client    *http.Client
}

// Feed fetches the news collection from an RSS or Atom document.
type Feed struct {
	url       string
	userAgent string
	client    *http.Client
}

func NewFeed(cfg FeedConfig) *Feed {
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Feed{url: cfg.URL, userAgent: cfg.UserAgent, client: client}
}

func (f *Feed) Fetch(ctx context.Context) (*Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}

	return ParseFeed(io.LimitReader(resp.Body, maxBodyBytes), f.url)
}

// ParseFeed converts an RSS or Atom document into a Payload. feedURL is the
// fallback base for relative image references.
func ParseFeed(r io.Reader, feedURL string) (*Payload, error) {
	parsed, err := gofeed.NewParser().Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}

	base := parsed.Link
	if base == "" {
		base = feedURL
	}

	payload := &Payload{
		Items:     make([]Item, 0, len(parsed.Items)),
		Total:     len(parsed.Items),
		FetchedAt: time.Now(),
	}
	for _, item := range parsed.Items {
		payload.Items = append(payload.Items, Item{
			ID:           itemID(item),
			Title:        strings.TrimSpace(item.Title),
			Introduction: strings.TrimSpace(item.Description),
			PublishedAt:  publishedAt(item),
			Link:         item.Link,
			Image:        findImage(item),
			ImageBase:    base,
		})
	}

	return payload, nil
}

// itemID prefers the GUID, then the link. Items with neither get a digest of
// their title and date so repeated fetches map to the same record.
func itemID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	if item.Link != "" {
		return item.Link
	}
	sum := sha256.Sum256([]byte(item.Title + "\x00" + item.Published))
	return fmt.Sprintf("%x", sum[:16])
}

func publishedAt(item *gofeed.Item) string {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC().Format(time.RFC3339)
	}
	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.UTC().Format(time.RFC3339)
	}
	return item.Published
}

func findImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enclosure := range item.Enclosures {
		if enclosure.URL != "" && strings.HasPrefix(enclosure.Type, "image/") {
			return enclosure.URL
		}
	}
	for _, html := range []string{item.Content, item.Description} {
		if src := firstImageSrc(html); src != "" {
			return src
		}
	}
	return ""
}

func firstImageSrc(fragment string) string {
	if !strings.Contains(fragment, "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("img[src]").First().Attr("src")
	return strings.TrimSpace(src)
}
