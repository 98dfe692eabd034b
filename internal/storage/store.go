package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/pders01/newsync/internal/observe"
)

var (
	newsBucket = []byte("news")
	metaBucket = []byte("metadata")

	lastWriteKey = []byte("last_write")
)

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("record not found")

// Store is the local cache of news records. Writers are serialized and every
// committed change is published to subscribers as a full snapshot.
type Store struct {
	db      *bolt.DB
	writeMu sync.Mutex
	current *observe.Value[[]NewsRecord]
}

// Options tunes how the database file is opened.
type Options struct {
	Timeout time.Duration
}

func NewStore(dbPath string) (*Store, error) {
	return Open(dbPath, Options{Timeout: 1 * time.Second})
}

func Open(dbPath string, opts Options) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: opts.Timeout})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{newsBucket, metaBucket} {
			if _, createErr := tx.CreateBucketIfNotExists(bucket); createErr != nil {
				return createErr
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	s := &Store{db: db}
	snapshot, err := s.All()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	s.current = observe.New(snapshot)

	return s, nil
}

func (s *Store) Close() error {
	s.current.Close()
	return s.db.Close()
}

// UpsertOption changes how a batch is applied.
type UpsertOption func(*upsertConfig)

type upsertConfig struct {
	prune bool
}

// WithPrune deletes every stored record whose id is absent from the batch,
// in the same transaction as the upsert.
func WithPrune() UpsertOption {
	return func(c *upsertConfig) { c.prune = true }
}

// UpsertBatch writes all records in one transaction. Existing ids are
// replaced and other records are left alone unless WithPrune is given. The
// transaction is rolled back if ctx is done before it commits.
func (s *Store) UpsertBatch(ctx context.Context, records []NewsRecord, opts ...UpsertOption) error {
	var cfg upsertConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(newsBucket)
		keep := make(map[string]struct{}, len(records))
		for _, record := range records {
			if record.ID == "" {
				return fmt.Errorf("record without id: %q", record.Title)
			}
			data, err := json.Marshal(record)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(record.ID), data); err != nil {
				return err
			}
			keep[record.ID] = struct{}{}
		}

		if cfg.prune {
			// collect first, deleting under a live cursor can skip keys
			var stale [][]byte
			c := b.Cursor()
			for k, _ := c.First(); k != nil; k, _ = c.Next() {
				if _, ok := keep[string(k)]; !ok {
					stale = append(stale, append([]byte(nil), k...))
				}
			}
			for _, k := range stale {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
		}

		stamp, err := time.Now().UTC().MarshalText()
		if err != nil {
			return err
		}
		if err := tx.Bucket(metaBucket).Put(lastWriteKey, stamp); err != nil {
			return err
		}

		return ctx.Err()
	})
	if err != nil {
		return fmt.Errorf("saving records: %w", err)
	}

	return s.publish()
}

// Delete removes the given ids. Unknown ids are ignored.
func (s *Store) Delete(ctx context.Context, ids ...string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(newsBucket)
		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return ctx.Err()
	})
	if err != nil {
		return fmt.Errorf("deleting records: %w", err)
	}

	return s.publish()
}

func (s *Store) Get(id string) (*NewsRecord, error) {
	var record NewsRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(newsBucket).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// All returns every record, newest first. Records with unparseable dates
// sort last, ties are broken by id.
func (s *Store) All() ([]NewsRecord, error) {
	var records []NewsRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(newsBucket).ForEach(func(_ []byte, v []byte) error {
			var record NewsRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(records)
	return records, nil
}

func (s *Store) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(newsBucket).Stats().KeyN
		return nil
	})
	return n, err
}

// LastWrite reports when a batch was last committed. The zero time means the
// store has never been written.
func (s *Store) LastWrite() (time.Time, error) {
	var t time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(metaBucket).Get(lastWriteKey)
		if data == nil {
			return nil
		}
		return t.UnmarshalText(data)
	})
	return t, err
}

// Subscribe yields the current full collection, then a new snapshot after
// every committed change. The channel closes when ctx is done or the store
// is closed.
func (s *Store) Subscribe(ctx context.Context) <-chan []NewsRecord {
	return s.current.Subscribe(ctx)
}

// publish must be called with writeMu held so snapshots go out in commit order.
func (s *Store) publish() error {
	snapshot, err := s.All()
	if err != nil {
		return fmt.Errorf("loading snapshot: %w", err)
	}
	s.current.Set(snapshot)
	return nil
}

func sortNewestFirst(records []NewsRecord) {
	times := make(map[string]time.Time, len(records))
	for _, r := range records {
		times[r.ID] = r.PublishedTime()
	}
	sort.SliceStable(records, func(i, j int) bool {
		ti, tj := times[records[i].ID], times[records[j].ID]
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return records[i].ID < records[j].ID
	})
}
