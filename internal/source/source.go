// Package source fetches the full news collection from a remote endpoint.
package source

import (
	"context"
	"time"
)

// Source fetches the complete current news collection. Implementations are
// safe for concurrent use and take no input beyond the context.
type Source interface {
	Fetch(ctx context.Context) (*Payload, error)
}

// Payload is one successful fetch.
type Payload struct {
	Items      []Item
	Total      int
	Page       int
	TotalPages int
	FetchedAt  time.Time
}

// Item is a news item as the remote source describes it.
type Item struct {
	ID           string
	Title        string
	Introduction string
	PublishedAt  string
	Link         string

	// Images is the raw image descriptor published by the news agency API,
	// a JSON document embedded in a string field.
	Images string
	// Image is a direct image reference, possibly relative to ImageBase.
	Image string
	// ImageBase is the URL relative image paths are resolved against.
	ImageBase string
}

// Func adapts an ordinary function to Source.
type Func func(ctx context.Context) (*Payload, error)

func (f Func) Fetch(ctx context.Context) (*Payload, error) {
	return f(ctx)
}
