package storage

import (
	"strings"
	"time"
)

// NewsRecord is a news item as cached locally. Records are keyed by ID and a
// later write for the same ID replaces every field.
type NewsRecord struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Introduction string `json:"introduction"`
	PublishedAt  string `json:"published_at"`
	ImageURL     string `json:"image_url"`
}

// publishedLayouts are tried in order when sorting by publication time.
var publishedLayouts = []string{
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// PublishedTime parses PublishedAt. The zero time is returned when the value
// matches none of the known layouts.
func (r NewsRecord) PublishedTime() time.Time {
	s := strings.TrimSpace(r.PublishedAt)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
