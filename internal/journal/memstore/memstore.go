// Package memstore provides an in-memory implementation of journal.Store.
package memstore

import (
	"context"
	"sync"

	"github.com/linnemanlabs/queuewatch/internal/journal"
)

// DefaultRetention is how many records of each kind are kept when New is
// given a non-positive retention.
const DefaultRetention = 500

// Store keeps the most recent journal records in memory. Older records are
// evicted once retention is reached.
type Store struct {
	mu        sync.RWMutex
	retention int
	refreshes []journal.RefreshRecord // oldest first
	acks      []journal.AckRecord     // oldest first
}

// New initializes a new in-memory Store.
func New(retention int) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{retention: retention}
}

// PutRefresh stores a copy of the refresh record.
func (s *Store) PutRefresh(_ context.Context, r *journal.RefreshRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes = appendCapped(s.refreshes, *r, s.retention)
	return nil
}

// ListRefreshes returns up to limit refresh records, newest first.
func (s *Store) ListRefreshes(_ context.Context, limit int) ([]journal.RefreshRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.refreshes, limit), nil
}

// PutAck stores a copy of the ack record.
func (s *Store) PutAck(_ context.Context, a *journal.AckRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks = appendCapped(s.acks, *a, s.retention)
	return nil
}

// ListAcks returns up to limit ack records, newest first.
func (s *Store) ListAcks(_ context.Context, limit int) ([]journal.AckRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.acks, limit), nil
}

func appendCapped[T any](list []T, v T, retention int) []T {
	list = append(list, v)
	if over := len(list) - retention; over > 0 {
		list = append(list[:0:0], list[over:]...)
	}
	return list
}

func newestFirst[T any](list []T, limit int) []T {
	n := len(list)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]T, 0, n)
	for i := len(list) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, list[i])
	}
	return out
}
