// Package memory provides page-addressed durable memory and a manager that
// splits one such memory into independent, non-overlapping partitions.
package memory

import (
	"errors"
	"fmt"
	"sync"
)

// PageSize is the unit of growth for every Memory.
const PageSize = 64 * 1024

var (
	ErrOutOfBounds = errors.New("memory access out of bounds")
	ErrOutOfMemory = errors.New("memory growth limit reached")
	ErrBadHeader   = errors.New("memory header is invalid")
	ErrClosed      = errors.New("memory is closed")
)

// Memory is a growable, byte-addressed space measured in pages. Reads and
// writes must fall entirely inside Size()*PageSize bytes.
type Memory interface {
	// Size returns the current size in pages.
	Size() uint64
	// Grow extends the memory by pages and returns the previous size in pages.
	Grow(pages uint64) (uint64, error)
	Read(off uint64, dst []byte) error
	Write(off uint64, src []byte) error
}

// Syncer is implemented by memories that can flush writes to stable storage.
type Syncer interface {
	Sync() error
}

// Sync flushes m if it supports it.
func Sync(m Memory) error {
	if s, ok := m.(Syncer); ok {
		return s.Sync()
	}
	return nil
}

func checkBounds(off uint64, n int, size uint64) error {
	end := off + uint64(n)
	if end < off || end > size {
		return fmt.Errorf("%w: [%d, %d) beyond %d bytes", ErrOutOfBounds, off, end, size)
	}
	return nil
}

// VectorMemory is a heap-backed Memory. Its contents do not survive the
// process; it exists for tests and ephemeral stores.
type VectorMemory struct {
	mu       sync.RWMutex
	data     []byte
	maxPages uint64
}

// NewVectorMemory returns an empty memory. A maxPages of 0 means unlimited.
func NewVectorMemory(maxPages uint64) *VectorMemory {
	return &VectorMemory{maxPages: maxPages}
}

func (m *VectorMemory) Size() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.data)) / PageSize
}

func (m *VectorMemory) Grow(pages uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := uint64(len(m.data)) / PageSize
	if m.maxPages > 0 && prev+pages > m.maxPages {
		return prev, fmt.Errorf("%w: %d + %d pages exceeds %d", ErrOutOfMemory, prev, pages, m.maxPages)
	}
	m.data = append(m.data, make([]byte, pages*PageSize)...)
	return prev, nil
}

func (m *VectorMemory) Read(off uint64, dst []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := checkBounds(off, len(dst), uint64(len(m.data))); err != nil {
		return err
	}
	copy(dst, m.data[off:])
	return nil
}

func (m *VectorMemory) Write(off uint64, src []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkBounds(off, len(src), uint64(len(m.data))); err != nil {
		return err
	}
	copy(m.data[off:], src)
	return nil
}
