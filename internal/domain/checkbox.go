package domain

import "context"

// Snapshot is the full checkbox state at one instant: every index in [0, N)
// appears in exactly one of the two slices, in ascending order.
type Snapshot struct {
	TrueIndices  []int
	FalseIndices []int
}

// Size returns N, the number of checkboxes the snapshot covers.
func (s Snapshot) Size() int {
	return len(s.TrueIndices) + len(s.FalseIndices)
}

// CheckboxStore is the single point of truth for checkbox state.
type CheckboxStore interface {
	// Snapshot reads the whole bit-vector. A missing vector reads as all false.
	Snapshot(ctx context.Context) (Snapshot, error)

	// SetBit sets one checkbox. Indices outside [0, Size()) fail with
	// ErrOutOfRange without touching the backend.
	SetBit(ctx context.Context, index int, value bool) error

	// GetBit reads one checkbox.
	GetBit(ctx context.Context, index int) (bool, error)

	// Count returns how many of the N checkboxes are set.
	Count(ctx context.Context) (int, error)

	// Clear resets every checkbox to false.
	Clear(ctx context.Context) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Size returns N.
	Size() int
}
