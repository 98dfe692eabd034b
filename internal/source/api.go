package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultImageBase is where the agency API's relative image paths live.
	DefaultImageBase = "https://agenciadenoticias.ibge.gov.br/"

	maxBodyBytes = 16 << 20
)

// APIConfig configures an API source.
type APIConfig struct {
	URL       string
	ImageBase string
	UserAgent string
	Timeout   time.Duration
	Client    *http.Client
}

// API fetches the news collection from a JSON news agency endpoint.
type API struct {
	url       string
	imageBase string
	userAgent string
	client    *http.Client
}

type apiResponse struct {
	Count      int       `json:"count"`
	Page       int       `json:"page"`
	TotalPages int       `json:"totalPages"`
	Items      []apiItem `json:"items"`
}

type apiItem struct {
	ID          json.Number `json:"id"`
	Title       string      `json:"titulo"`
	Intro       string      `json:"introducao"`
	PublishedAt string      `json:"data_publicacao"`
	Images      string      `json:"imagens"`
	Link        string      `json:"link"`
}

func NewAPI(cfg APIConfig) *API {
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	imageBase := cfg.ImageBase
	if imageBase == "" {
		imageBase = DefaultImageBase
	}
	return &API{
		url:       cfg.URL,
		imageBase: imageBase,
		userAgent: cfg.UserAgent,
		client:    client,
	}
}

func (a *API) Fetch(ctx context.Context) (*Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching news: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}

	var body apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	payload := &Payload{
		Items:      make([]Item, 0, len(body.Items)),
		Total:      body.Count,
		Page:       body.Page,
		TotalPages: body.TotalPages,
		FetchedAt:  time.Now(),
	}
	for _, it := range body.Items {
		if it.ID == "" {
			return nil, fmt.Errorf("decoding response: item %q has no id", it.Title)
		}
		payload.Items = append(payload.Items, Item{
			ID:           it.ID.String(),
			Title:        it.Title,
			Introduction: it.Intro,
			PublishedAt:  it.PublishedAt,
			Link:         it.Link,
			Images:       it.Images,
			ImageBase:    a.imageBase,
		})
	}

	return payload, nil
}
