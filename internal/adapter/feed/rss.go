package feed

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/user/threat-ingestor/internal/domain"
)

// rssTimeFormats covers the pubDate variants seen in the wild.
var rssTimeFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
}

// RSSAdapter pulls one syndicated feed endpoint and normalizes its items.
type RSSAdapter struct {
	name   string
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewRSSAdapter creates an adapter for a single feed URL.
func NewRSSAdapter(name, url string, timeout time.Duration, logger *slog.Logger) *RSSAdapter {
	return &RSSAdapter{
		name:   name,
		url:    url,
		client: newHTTPClient(timeout),
		logger: logger.With("component", "rss_adapter", "feed", name),
	}
}

func (a *RSSAdapter) Name() string { return a.name }

type rssDocument struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	GUID        string `xml:"guid"`
}

// Fetch downloads and parses the feed. A malformed item is skipped and
// logged; only a transport or document-level failure aborts the cycle.
func (a *RSSAdapter) Fetch(ctx context.Context) ([]domain.RawEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed request: %w", err)
	}
	req.Header.Set("User-Agent", "threat-ingestor/1.0")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read feed body: %w", err)
	}

	var doc rssDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse feed XML: %w", err)
	}

	now := time.Now().UTC()
	events := make([]domain.RawEvent, 0, len(doc.Channel.Items))
	for _, item := range doc.Channel.Items {
		event, err := a.normalize(item, now)
		if err != nil {
			a.logger.Warn("skipping malformed feed item", "error", err, "guid", item.GUID)
			continue
		}
		events = append(events, event)
	}

	return events, nil
}

func (a *RSSAdapter) normalize(item rssItem, now time.Time) (domain.RawEvent, error) {
	title := strings.TrimSpace(item.Title)
	link := strings.TrimSpace(item.Link)
	if title == "" {
		return domain.RawEvent{}, fmt.Errorf("item has no title")
	}
	if link == "" {
		return domain.RawEvent{}, fmt.Errorf("item has no link")
	}

	published := now
	if item.PubDate != "" {
		parsed, err := parseRSSTime(item.PubDate)
		if err != nil {
			a.logger.Debug("unparseable pubDate, using retrieval time", "pubDate", item.PubDate)
		} else {
			published = parsed
		}
	}

	return domain.RawEvent{
		SourceID:    a.name,
		Origin:      domain.OriginFeed,
		Title:       title,
		Body:        strings.TrimSpace(item.Description),
		URL:         link,
		PublishedAt: published.UTC(),
		RetrievedAt: now,
	}, nil
}

func parseRSSTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, format := range rssTimeFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format %q", s)
}
