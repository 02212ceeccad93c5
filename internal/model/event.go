package model

import (
	"strings"
	"time"
)

// Event is a raw observation (crawled page, job posting, news item) attached
// to a company.
type Event struct {
	EventType string    `json:"event_type"`
	CompanyID int64     `json:"company_id"`
	URL       string    `json:"url,omitempty"`
	Title     string    `json:"title,omitempty"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Company identifies a crawl target.
type Company struct {
	ID         int64    `json:"id"`
	Name       string   `json:"name"`
	Domain     string   `json:"domain"`
	URLs       []string `json:"urls,omitempty"`
	CareersURL string   `json:"careers_url,omitempty"`
}

// ParseTimestamp decodes an event timestamp. Values without an explicit zone
// are interpreted as UTC so that recency comparisons use a single timeline.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
