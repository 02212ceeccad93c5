package model

import (
	"fmt"
	"time"
)

// FetchErrorKind classifies a failed fetch.
type FetchErrorKind string

const (
	FetchBlocked   FetchErrorKind = "blocked"
	FetchHTTPError FetchErrorKind = "http_error"
	FetchTimeout   FetchErrorKind = "timeout"
	FetchOther     FetchErrorKind = "other"
)

// FetchError is the negative outcome of a fetch. Blocked is a policy
// rejection, not a failure; the caller decides whether to report it.
type FetchError struct {
	Kind       FetchErrorKind `json:"kind"`
	URL        string         `json:"url"`
	StatusCode int            `json:"status_code,omitempty"`
	Message    string         `json:"message,omitempty"`
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s (status %d)", e.URL, e.Kind, e.StatusCode)
	}
	if e.Message != "" {
		return fmt.Sprintf("fetch %s: %s: %s", e.URL, e.Kind, e.Message)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

// FetchResult holds extracted page content. Immutable once produced.
type FetchResult struct {
	URL           string    `json:"url"`
	StatusCode    int       `json:"status_code"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Text          string    `json:"text"`
	Links         []string  `json:"links"`
	CrawledAt     time.Time `json:"crawled_at"`
	ContentLength int       `json:"content_length"`
}

// JobPosting is a candidate job title detected on a careers page.
type JobPosting struct {
	Title      string    `json:"title"`
	DetectedAt time.Time `json:"detected_at"`
}
