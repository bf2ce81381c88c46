// Package memory provides an in-process CheckboxStore for single-instance
// development runs and tests.
package memory

import (
	"context"
	"sync"

	"github.com/mrtnsch/checkboxes/internal/bitmap"
	"github.com/mrtnsch/checkboxes/internal/domain"
)

var _ domain.CheckboxStore = (*BitmapStore)(nil)

// BitmapStore keeps the packed bit-vector in memory, using the same layout as
// the Redis bitmap so snapshots decode identically.
type BitmapStore struct {
	mu   sync.RWMutex
	raw  []byte
	size int
	err  error
}

func NewBitmapStore(size int) *BitmapStore {
	return &BitmapStore{size: size}
}

// NewBitmapStoreFromSnapshot returns a store of snap.Size() checkboxes
// holding snap.
func NewBitmapStoreFromSnapshot(snap domain.Snapshot) *BitmapStore {
	size := snap.Size()
	return &BitmapStore{raw: bitmap.Encode(snap, size), size: size}
}

func (s *BitmapStore) Snapshot(_ context.Context) (domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err != nil {
		return domain.Snapshot{}, s.err
	}
	return bitmap.Decode(s.raw, s.size), nil
}

func (s *BitmapStore) SetBit(_ context.Context, index int, value bool) error {
	if err := bitmap.CheckIndex(index, s.size); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	s.raw = bitmap.Set(s.raw, index, value)
	return nil
}

func (s *BitmapStore) GetBit(_ context.Context, index int) (bool, error) {
	if err := bitmap.CheckIndex(index, s.size); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err != nil {
		return false, s.err
	}
	return bitmap.Bit(s.raw, index), nil
}

func (s *BitmapStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err != nil {
		return 0, s.err
	}
	return bitmap.Count(s.raw, s.size), nil
}

func (s *BitmapStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	s.raw = nil
	return nil
}

func (s *BitmapStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *BitmapStore) Size() int {
	return s.size
}

// Raw returns a copy of the packed bytes.
func (s *BitmapStore) Raw() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]byte(nil), s.raw...)
}

// FailWith makes every subsequent backend operation return err until called
// with nil. Range checks still run first.
func (s *BitmapStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}
