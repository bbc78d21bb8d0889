package store

import (
	"fmt"
	"math"
	"sync"

	"github.com/ssargent/roomdb/pkg/codec"
	"github.com/ssargent/roomdb/pkg/memory"
	"github.com/ssargent/roomdb/pkg/stable"
)

// IDAllocator hands out strictly increasing room ids. The last issued id is
// persisted before it is returned, so an id is never issued twice, even
// across restarts.
type IDAllocator struct {
	mu   sync.Mutex
	cell *stable.Cell[uint64]
}

// NewIDAllocator attaches to the counter stored in mem. A fresh memory
// starts at zero, so the first id issued is 1.
func NewIDAllocator(mem memory.Memory) (*IDAllocator, error) {
	cell, err := stable.InitCell[uint64](mem, codec.Uint64Codec{}, 0)
	if err != nil {
		return nil, fmt.Errorf("init id counter: %w", err)
	}
	return &IDAllocator{cell: cell}, nil
}

// Next persists and returns the next id.
func (a *IDAllocator) Next() (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	current := a.cell.Get()
	if current == math.MaxUint64 {
		return 0, ErrIDSpaceExhausted
	}
	if _, err := a.cell.Set(current + 1); err != nil {
		return 0, fmt.Errorf("persist id counter: %w", err)
	}
	return current + 1, nil
}

// Current returns the last issued id, or 0 if none has been issued.
func (a *IDAllocator) Current() uint64 {
	return a.cell.Get()
}
