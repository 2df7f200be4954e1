// Package store persists the local mirror of remote events and streams in
// BoltDB. Writes are filtered by the configured cache scope; reads return
// whatever was mirrored, scope checks for reads belong to the caller.
package store

import (
	"cmp"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/driftline/driftline/internal/domain"
)

// Bucket names
var (
	bucketEvents  = []byte("events")
	bucketStreams = []byte("streams")
	bucketMeta    = []byte("meta")
)

var keyScope = []byte("scope")

// MirrorStore implements domain.Cache using BoltDB. Entities are stored
// one record per id, so point lookups and per-stream invalidation do not
// deserialize whole listings.
type MirrorStore struct {
	db     *bolt.DB
	logger *slog.Logger

	mu    sync.RWMutex // protects scope
	scope *domain.Filter
}

// Open opens (creating if needed) the mirror database under dir and
// restores the persisted cache scope, if any.
func Open(dir string, logger *slog.Logger) (*MirrorStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &domain.CacheError{Op: "open", Err: err}
	}

	dbPath := filepath.Join(dir, "driftline.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, &domain.CacheError{Op: "open", Err: fmt.Errorf("failed to open bolt db: %w", err)}
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketEvents, bucketStreams, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, &domain.CacheError{Op: "open", Err: err}
	}

	s := &MirrorStore{db: db, logger: logger}
	if err := s.loadScope(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MirrorStore) Close() error {
	return s.db.Close()
}

// Configure replaces the write scope and persists it, so a reopened
// mirror keeps filtering writes the same way.
func (s *MirrorStore) Configure(f *domain.Filter) error {
	s.mu.Lock()
	s.scope = f
	s.mu.Unlock()

	if f == nil {
		return s.cacheErr("configure", s.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketMeta).Delete(keyScope)
		}))
	}
	data, err := json.Marshal(f)
	if err != nil {
		return &domain.CacheError{Op: "configure", Err: err}
	}
	return s.cacheErr("configure", s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyScope, data)
	}))
}

// Scope returns the active write scope, nil when unrestricted.
func (s *MirrorStore) Scope() *domain.Filter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scope
}

func (s *MirrorStore) loadScope() error {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketMeta).Get(keyScope); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if err != nil {
		return &domain.CacheError{Op: "open", Err: err}
	}
	if data == nil {
		return nil
	}
	var f domain.Filter
	if err := json.Unmarshal(data, &f); err != nil {
		// A scope we cannot read must not silently widen the mirror.
		return &domain.CacheError{Op: "open", Err: fmt.Errorf("corrupt scope record: %w", err)}
	}
	s.mu.Lock()
	s.scope = &f
	s.mu.Unlock()
	return nil
}

// === Generic helpers ===

func (s *MirrorStore) get(bucket []byte, id string, dest any) (bool, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucket).Get([]byte(id)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

func (s *MirrorStore) put(bucket []byte, id string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(id), data)
	})
}

func (s *MirrorStore) delete(bucket []byte, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(id))
	})
}

func (s *MirrorStore) cacheErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &domain.CacheError{Op: op, Err: err}
}

// === Events ===

// GetEvents scans the mirrored events and returns those selected by f,
// newest first, truncated to the filter limit.
func (s *MirrorStore) GetEvents(f *domain.Filter) ([]domain.Event, error) {
	var events []domain.Event
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e domain.Event
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("corrupt event %q: %w", k, err)
			}
			if f.MatchesEvent(&e) {
				events = append(events, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, &domain.CacheError{Op: "get events", Err: err}
	}
	slices.SortFunc(events, func(a, b domain.Event) int {
		if c := cmp.Compare(b.Time, a.Time); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if f != nil && f.Limit > 0 && len(events) > f.Limit {
		events = events[:f.Limit]
	}
	return events, nil
}

func (s *MirrorStore) GetEvent(id string) (domain.Event, bool, error) {
	var e domain.Event
	ok, err := s.get(bucketEvents, id, &e)
	if err != nil {
		return domain.Event{}, false, &domain.CacheError{Op: "get event", Err: err}
	}
	return e, ok, nil
}

// PutEvents mirrors the given events. Events outside the write scope are
// skipped, not failed: the mirror only holds what it is scoped to.
func (s *MirrorStore) PutEvents(events ...domain.Event) error {
	scope := s.Scope()
	for _, e := range events {
		if !scope.CoversEvent(&e) {
			s.logger.Debug("event outside cache scope, not mirrored", "id", e.ID, "stream", e.StreamID)
			continue
		}
		if err := s.put(bucketEvents, e.ID, e); err != nil {
			return &domain.CacheError{Op: "put event", Err: err}
		}
	}
	return nil
}

func (s *MirrorStore) DeleteEvent(id string) error {
	return s.cacheErr("delete event", s.delete(bucketEvents, id))
}

// === Streams ===

// GetStreams returns every mirrored stream; tree shape and filtering are
// the registry's concern.
func (s *MirrorStore) GetStreams() ([]domain.Stream, error) {
	var streams []domain.Stream
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketStreams).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var st domain.Stream
			if err := json.Unmarshal(v, &st); err != nil {
				return fmt.Errorf("corrupt stream %q: %w", k, err)
			}
			streams = append(streams, st)
		}
		return nil
	})
	if err != nil {
		return nil, &domain.CacheError{Op: "get streams", Err: err}
	}
	return streams, nil
}

func (s *MirrorStore) GetStream(id string) (domain.Stream, bool, error) {
	var st domain.Stream
	ok, err := s.get(bucketStreams, id, &st)
	if err != nil {
		return domain.Stream{}, false, &domain.CacheError{Op: "get stream", Err: err}
	}
	return st, ok, nil
}

func (s *MirrorStore) PutStreams(streams ...domain.Stream) error {
	scope := s.Scope()
	for _, st := range streams {
		if !scope.CoversStream(&st) {
			s.logger.Debug("stream outside cache scope, not mirrored", "id", st.ID)
			continue
		}
		st.Children = nil // derived, never persisted
		if err := s.put(bucketStreams, st.ID, st); err != nil {
			return &domain.CacheError{Op: "put stream", Err: err}
		}
	}
	return nil
}

func (s *MirrorStore) DeleteStream(id string) error {
	return s.cacheErr("delete stream", s.delete(bucketStreams, id))
}

// === Cascade invalidation ===

// InvalidateStream removes the stream and every mirrored event attached
// to it.
func (s *MirrorStore) InvalidateStream(id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketStreams).Delete([]byte(id)); err != nil {
			return err
		}
		// Cursor.Delete keeps iteration valid; Bucket.Delete mid-scan
		// does not.
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e domain.Event
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("corrupt event %q: %w", k, err)
			}
			if e.StreamID == id {
				if err := c.Delete(); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return s.cacheErr("invalidate stream", err)
}

// InvalidateAll wipes every mirrored entity but keeps the scope, so the
// next sync refills the same slice of data.
func (s *MirrorStore) InvalidateAll() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketEvents, bucketStreams} {
			if err := tx.DeleteBucket(bucket); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	return s.cacheErr("invalidate all", err)
}
