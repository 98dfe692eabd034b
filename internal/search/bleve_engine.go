package search

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	bleveQuery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/pders01/newsync/internal/debuglog"
	"github.com/pders01/newsync/internal/storage"
)

const idPageSize = 1000

// Index is a bleve full-text index over cached news records. It mirrors the
// collection it is fed: records missing from a snapshot are removed.
type Index struct {
	mu    sync.Mutex
	idx   bleve.Index
	known map[string]struct{}
	log   *debuglog.FieldLogger
}

// OpenIndex opens or creates the index at indexPath. An empty path gives an
// in-memory index.
func OpenIndex(indexPath string) (*Index, error) {
	var idx bleve.Index
	var err error

	if indexPath == "" {
		idx, err = bleve.NewMemOnly(buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("creating index: %w", err)
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(indexPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
		idx, err = bleve.Open(indexPath)
		if err != nil {
			idx, err = bleve.New(indexPath, buildIndexMapping())
			if err != nil {
				return nil, fmt.Errorf("creating index: %w", err)
			}
		}
	}

	ix := &Index{
		idx:   idx,
		known: make(map[string]struct{}),
		log:   debuglog.WithFields(map[string]any{"component": "search"}),
	}
	if err := ix.loadKnown(); err != nil {
		idx.Close()
		return nil, err
	}
	return ix, nil
}

func buildIndexMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = standard.Name

	dm := bleve.NewDocumentMapping()

	title := bleve.NewTextFieldMapping()
	title.Analyzer = standard.Name
	title.Store = true
	title.IncludeTermVectors = true

	intro := bleve.NewTextFieldMapping()
	intro.Analyzer = standard.Name
	intro.Store = true

	// stored only, for rebuilding records from hits
	stored := bleve.NewTextFieldMapping()
	stored.Index = false
	stored.Store = true

	dm.AddFieldMappingsAt("title", title)
	dm.AddFieldMappingsAt("introduction", intro)
	dm.AddFieldMappingsAt("published_at", stored)
	dm.AddFieldMappingsAt("image_url", stored)

	im.DefaultMapping = dm
	return im
}

// loadKnown collects the ids already present in a reopened index.
func (ix *Index) loadKnown() error {
	from := 0
	for {
		req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), idPageSize, from, false)
		res, err := ix.idx.Search(req)
		if err != nil {
			return fmt.Errorf("listing indexed records: %w", err)
		}
		for _, h := range res.Hits {
			ix.known[h.ID] = struct{}{}
		}
		if len(res.Hits) < idPageSize {
			return nil
		}
		from += idPageSize
	}
}

// Sync makes the index hold exactly records, in one batch.
func (ix *Index) Sync(records []storage.NewsRecord) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	batch := ix.idx.NewBatch()
	next := make(map[string]struct{}, len(records))
	for _, r := range records {
		next[r.ID] = struct{}{}
		if err := batch.Index(r.ID, document(r)); err != nil {
			return fmt.Errorf("indexing record %s: %w", r.ID, err)
		}
	}
	removed := 0
	for id := range ix.known {
		if _, ok := next[id]; !ok {
			batch.Delete(id)
			removed++
		}
	}

	if err := ix.idx.Batch(batch); err != nil {
		return fmt.Errorf("applying index batch: %w", err)
	}
	ix.known = next
	ix.log.With("indexed", len(records)).With("removed", removed).Debugf("index synced")
	return nil
}

// Watch syncs the index with every snapshot from ch until ctx is done or ch
// is closed. A failed sync is logged and retried with the next snapshot.
func (ix *Index) Watch(ctx context.Context, ch <-chan []storage.NewsRecord) {
	for {
		select {
		case <-ctx.Done():
			return
		case records, ok := <-ch:
			if !ok {
				return
			}
			if err := ix.Sync(records); err != nil {
				ix.log.Warnf("index sync failed: %v", err)
			}
		}
	}
}

func document(r storage.NewsRecord) map[string]any {
	return map[string]any{
		"title":        r.Title,
		"introduction": r.Introduction,
		"published_at": r.PublishedAt,
		"image_url":    r.ImageURL,
	}
}

func (ix *Index) Search(query string, limit int) ([]*Result, error) {
	if len(strings.TrimSpace(query)) < 2 {
		return []*Result{}, nil
	}
	// OR of per-term matches and prefixes, title weighted over introduction
	var qs []bleveQuery.Query
	for _, tok := range tokenize(query) {
		qt := bleve.NewMatchQuery(tok)
		qt.SetField("title")
		qt.SetBoost(4.0)
		qs = append(qs, qt)
		qtp := bleve.NewPrefixQuery(tok)
		qtp.SetField("title")
		qtp.SetBoost(3.5)
		qs = append(qs, qtp)

		qi := bleve.NewMatchQuery(tok)
		qi.SetField("introduction")
		qi.SetBoost(2.0)
		qs = append(qs, qi)
		qip := bleve.NewPrefixQuery(tok)
		qip.SetField("introduction")
		qip.SetBoost(1.8)
		qs = append(qs, qip)
	}
	if len(qs) == 0 {
		return []*Result{}, nil
	}

	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(qs...), limit, 0, false)
	req.Fields = []string{"title", "introduction", "published_at", "image_url"}

	ix.mu.Lock()
	res, err := ix.idx.Search(req)
	ix.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	out := make([]*Result, 0, len(res.Hits))
	for _, h := range res.Hits {
		rec := storage.NewsRecord{ID: h.ID}
		rec.Title, _ = h.Fields["title"].(string)
		rec.Introduction, _ = h.Fields["introduction"].(string)
		rec.PublishedAt, _ = h.Fields["published_at"].(string)
		rec.ImageURL, _ = h.Fields["image_url"].(string)
		out = append(out, &Result{Record: rec, Score: h.Score})
	}
	return out, nil
}

// DocCount reports total documents in the index.
func (ix *Index) DocCount() (int, error) {
	n, err := ix.idx.DocCount()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (ix *Index) Close() error {
	return ix.idx.Close()
}
