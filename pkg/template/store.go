package template

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Store is a keyed collection of template documents
type Store interface {
	// Get returns the document with the given key
	Get(ctx context.Context, key string) (Document, error)
	// FindByModel returns a document whose model equals model ignoring
	// case and whose extension equals ext exactly
	FindByModel(ctx context.Context, model, ext string) (Document, error)
	// FindAnyByExtension returns any document with the given extension
	FindAnyByExtension(ctx context.Context, ext string) (Document, error)
	// Put inserts or replaces a document by key
	Put(ctx context.Context, doc Document) error
	// Ping checks that the store is reachable
	Ping(ctx context.Context) error
}

// MemoryStore is an in-process Store. Scans run in key order so results
// are deterministic.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]Document
}

// NewMemoryStore creates a store seeded with docs
func NewMemoryStore(docs ...Document) *MemoryStore {
	s := &MemoryStore{docs: make(map[string]Document)}
	for _, d := range docs {
		s.docs[d.ID()] = d.Clone()
	}
	return s
}

// Get implements Store
func (s *MemoryStore) Get(ctx context.Context, key string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

// FindByModel implements Store
func (s *MemoryStore) FindByModel(ctx context.Context, model, ext string) (Document, error) {
	return s.scan(func(d Document) bool {
		return strings.EqualFold(d.Model(), model) && d.HasExtension(ext)
	})
}

// FindAnyByExtension implements Store
func (s *MemoryStore) FindAnyByExtension(ctx context.Context, ext string) (Document, error) {
	return s.scan(func(d Document) bool {
		return d.HasExtension(ext)
	})
}

// Put implements Store
func (s *MemoryStore) Put(ctx context.Context, doc Document) error {
	if doc.ID() == "" {
		return ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID()] = doc.Clone()
	return nil
}

// Ping implements Store
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) scan(match func(Document) bool) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.docs))
	for k := range s.docs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if match(s.docs[k]) {
			return s.docs[k].Clone(), nil
		}
	}
	return nil, ErrNotFound
}
