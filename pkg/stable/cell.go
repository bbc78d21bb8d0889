// Package stable provides durable data structures laid out directly in a
// memory.Memory: a single-value Cell and an ordered uint64-keyed Map.
package stable

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ssargent/roomdb/pkg/codec"
	"github.com/ssargent/roomdb/pkg/memory"
)

const (
	cellMagic      = "RCL"
	cellVersion    = 1
	cellHeaderSize = 3 + 1 + 4
)

// Cell holds one value of T in its own memory.
type Cell[T any] struct {
	mu    sync.RWMutex
	mem   memory.Memory
	codec codec.ValueCodec[T]
	value T
}

// InitCell loads the value stored in mem, or writes def if mem holds no cell yet.
func InitCell[T any](mem memory.Memory, c codec.ValueCodec[T], def T) (*Cell[T], error) {
	cell := &Cell[T]{mem: mem, codec: c}
	if err := ensureCapacity(mem, uint64(cellHeaderSize+c.MaxSize())); err != nil {
		return nil, err
	}

	header := make([]byte, cellHeaderSize)
	if err := mem.Read(0, header); err != nil {
		return nil, fmt.Errorf("read cell header: %w", err)
	}

	switch string(header[:3]) {
	case "\x00\x00\x00":
		if err := cell.write(def); err != nil {
			return nil, err
		}
		cell.value = def
	case cellMagic:
		if header[3] != cellVersion {
			return nil, fmt.Errorf("%w: cell version %d", memory.ErrBadHeader, header[3])
		}
		n := binary.LittleEndian.Uint32(header[4:])
		if int(n) > c.MaxSize() {
			return nil, fmt.Errorf("%w: cell value length %d over %d", codec.ErrCorruptRecord, n, c.MaxSize())
		}
		buf := make([]byte, n)
		if err := mem.Read(cellHeaderSize, buf); err != nil {
			return nil, fmt.Errorf("read cell value: %w", err)
		}
		v, err := c.Decode(buf)
		if err != nil {
			return nil, fmt.Errorf("decode cell value: %w", err)
		}
		cell.value = v
	default:
		return nil, fmt.Errorf("%w: cell magic %q", memory.ErrBadHeader, header[:3])
	}
	return cell, nil
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Set stores v and returns the previous value. The cached value only changes
// once the write has reached the memory.
func (c *Cell[T]) Set(v T) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.value
	if err := c.write(v); err != nil {
		return prev, err
	}
	c.value = v
	return prev, nil
}

func (c *Cell[T]) write(v T) error {
	data := c.codec.Encode(v)
	if len(data) > c.codec.MaxSize() {
		panic(fmt.Sprintf("stable: cell value encodes to %d bytes, over %d", len(data), c.codec.MaxSize()))
	}
	buf := make([]byte, cellHeaderSize+len(data))
	copy(buf, cellMagic)
	buf[3] = cellVersion
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(data)))
	copy(buf[cellHeaderSize:], data)

	if err := c.mem.Write(0, buf); err != nil {
		return fmt.Errorf("write cell: %w", err)
	}
	if err := memory.Sync(c.mem); err != nil {
		return fmt.Errorf("sync cell: %w", err)
	}
	return nil
}

// ensureCapacity grows mem until at least n bytes are addressable.
func ensureCapacity(mem memory.Memory, n uint64) error {
	want := (n + memory.PageSize - 1) / memory.PageSize
	if have := mem.Size(); have < want {
		if _, err := mem.Grow(want - have); err != nil {
			return fmt.Errorf("grow to %d pages: %w", want, err)
		}
	}
	return nil
}
