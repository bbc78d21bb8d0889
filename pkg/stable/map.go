package stable

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/ssargent/roomdb/pkg/bptree"
	"github.com/ssargent/roomdb/pkg/codec"
	"github.com/ssargent/roomdb/pkg/memory"
)

const (
	mapMagic      = "RSM"
	mapVersion    = 1
	mapHeaderSize = 64
	slotHeader    = 16
	indexOrder    = 32

	// header offsets
	offMapMagic     = 0
	offMapVersion   = 3
	offSlotSize     = 4
	offMaxValue     = 8
	offHighWater    = 12
	offLive         = 20
	slotOffState    = 0
	slotOffKey      = 1
	slotOffValueLen = 9
	slotOffGen      = 11
)

type slotState uint8

const (
	slotEmpty slotState = iota
	slotLive
	slotTombstone
)

// Map is an ordered, durable map from uint64 keys to values of V. Values are
// stored in fixed-size slots sized from the codec's MaxSize; the ordered
// index over live slots is rebuilt from memory when the map is opened.
//
// A replaced value is written to a spare slot with the next generation
// before the old slot is retired, so a crash mid-update leaves either the
// old or the new value. If both copies survive as live, the newer
// generation wins when the map is opened.
type Map[V any] struct {
	mu        sync.RWMutex
	mem       memory.Memory
	codec     codec.ValueCodec[V]
	slotSize  uint64
	highWater uint64
	index     *bptree.BPlusTree[uint64, uint64]
	free      []uint64
}

// OpenMap attaches to the map stored in mem, initializing an empty one if
// mem holds nothing yet.
func OpenMap[V any](mem memory.Memory, c codec.ValueCodec[V]) (*Map[V], error) {
	if c.MaxSize() > math.MaxUint16 {
		return nil, fmt.Errorf("value size %d does not fit a slot", c.MaxSize())
	}
	m := &Map[V]{
		mem:      mem,
		codec:    c,
		slotSize: uint64(slotHeader + c.MaxSize()),
		index:    bptree.NewBPlusTree[uint64, uint64](indexOrder),
	}
	if err := ensureCapacity(mem, mapHeaderSize); err != nil {
		return nil, err
	}

	header := make([]byte, mapHeaderSize)
	if err := mem.Read(0, header); err != nil {
		return nil, fmt.Errorf("read map header: %w", err)
	}
	switch string(header[offMapMagic:3]) {
	case "\x00\x00\x00":
		if err := m.initHeader(); err != nil {
			return nil, err
		}
	case mapMagic:
		if err := m.load(header); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: map magic %q", memory.ErrBadHeader, header[:3])
	}
	return m, nil
}

func (m *Map[V]) initHeader() error {
	header := make([]byte, mapHeaderSize)
	copy(header, mapMagic)
	header[offMapVersion] = mapVersion
	binary.LittleEndian.PutUint32(header[offSlotSize:], uint32(m.slotSize))
	binary.LittleEndian.PutUint32(header[offMaxValue:], uint32(m.codec.MaxSize()))
	if err := m.mem.Write(0, header); err != nil {
		return fmt.Errorf("write map header: %w", err)
	}
	if err := memory.Sync(m.mem); err != nil {
		return fmt.Errorf("sync map header: %w", err)
	}
	return nil
}

func (m *Map[V]) load(header []byte) error {
	if header[offMapVersion] != mapVersion {
		return fmt.Errorf("%w: map version %d", memory.ErrBadHeader, header[offMapVersion])
	}
	slotSize := uint64(binary.LittleEndian.Uint32(header[offSlotSize:]))
	maxValue := int(binary.LittleEndian.Uint32(header[offMaxValue:]))
	if slotSize != m.slotSize || maxValue != m.codec.MaxSize() {
		return fmt.Errorf("%w: map slots hold %d bytes, codec needs %d", memory.ErrBadHeader, maxValue, m.codec.MaxSize())
	}
	m.highWater = binary.LittleEndian.Uint64(header[offHighWater:])
	if end := m.slotOffset(m.highWater); end > m.mem.Size()*memory.PageSize {
		return fmt.Errorf("%w: %d slots do not fit in %d pages", memory.ErrBadHeader, m.highWater, m.mem.Size())
	}

	var (
		sh       [slotHeader]byte
		retired  []uint64
		liveGens = make(map[uint64]uint32)
	)
	for slot := uint64(0); slot < m.highWater; slot++ {
		if err := m.mem.Read(m.slotOffset(slot), sh[:]); err != nil {
			return fmt.Errorf("read slot %d: %w", slot, err)
		}
		switch slotState(sh[slotOffState]) {
		case slotLive:
			key := binary.LittleEndian.Uint64(sh[slotOffKey:])
			gen := binary.LittleEndian.Uint32(sh[slotOffGen:])
			other, dup := m.index.Search(key)
			if !dup {
				m.index.Insert(key, slot)
				liveGens[key] = gen
				continue
			}
			// an update was interrupted before the old copy was retired
			switch {
			case newerGen(gen, liveGens[key]):
				m.index.Insert(key, slot)
				liveGens[key] = gen
				retired = append(retired, other)
			case newerGen(liveGens[key], gen):
				retired = append(retired, slot)
			default:
				return fmt.Errorf("%w: key %d is live in slots %d and %d", codec.ErrCorruptRecord, key, other, slot)
			}
		case slotEmpty, slotTombstone:
			m.free = append(m.free, slot)
		default:
			return fmt.Errorf("%w: slot %d has state %d", codec.ErrCorruptRecord, slot, sh[slotOffState])
		}
	}

	for _, slot := range retired {
		if err := m.writeState(slot, slotTombstone); err != nil {
			return err
		}
		m.free = append(m.free, slot)
	}

	// the slots are authoritative; repair a live count left stale by a crash
	if live := binary.LittleEndian.Uint64(header[offLive:]); live != uint64(m.index.Len()) || len(retired) > 0 {
		if err := m.writeLive(); err != nil {
			return err
		}
		return m.sync()
	}
	return nil
}

// newerGen reports whether generation a was written after b, allowing for
// wraparound.
func newerGen(a, b uint32) bool {
	return int32(a-b) > 0
}

// Len returns the number of live entries.
func (m *Map[V]) Len() int {
	return m.index.Len()
}

// MaxKey returns the largest live key.
func (m *Map[V]) MaxKey() (uint64, bool) {
	return m.index.Max()
}

// Get returns a decoded copy of the value stored under key.
func (m *Map[V]) Get(key uint64) (V, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var zero V
	slot, ok := m.index.Search(key)
	if !ok {
		return zero, false, nil
	}
	v, err := m.readValue(slot)
	if err != nil {
		return zero, true, err
	}
	return v, true, nil
}

// Insert stores v under key, returning the value it replaced, if any.
func (m *Map[V]) Insert(key uint64, v V) (V, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var prev V
	data := m.encode(v)

	if slot, ok := m.index.Search(key); ok {
		return m.replace(key, slot, data)
	}

	slot, err := m.claimSlot()
	if err != nil {
		return prev, false, err
	}
	// value bytes are durable before the slot becomes live
	if err := m.writeSlot(slot, slotEmpty, key, 1, data); err != nil {
		return prev, false, err
	}
	if err := m.sync(); err != nil {
		return prev, false, err
	}
	if err := m.writeState(slot, slotLive); err != nil {
		return prev, false, err
	}
	m.index.Insert(key, slot)
	m.popFree(slot)
	if err := m.writeLive(); err != nil {
		return prev, false, err
	}
	return prev, false, m.sync()
}

// replace moves key from slot to a spare slot holding data.
func (m *Map[V]) replace(key, slot uint64, data []byte) (V, bool, error) {
	var zero V
	old, err := m.readValue(slot)
	if err != nil {
		return zero, true, err
	}
	gen, err := m.readGen(slot)
	if err != nil {
		return zero, true, err
	}

	next, err := m.claimSlot()
	if err != nil {
		return zero, true, err
	}
	if err := m.writeSlot(next, slotEmpty, key, gen+1, data); err != nil {
		return zero, true, err
	}
	if err := m.sync(); err != nil {
		return zero, true, err
	}
	if err := m.writeState(next, slotLive); err != nil {
		return zero, true, err
	}
	if err := m.sync(); err != nil {
		return zero, true, err
	}
	m.index.Insert(key, next)
	m.popFree(next)

	// from here the new copy wins on reopen even if the old one stays live
	if err := m.writeState(slot, slotTombstone); err != nil {
		return old, true, err
	}
	m.free = append(m.free, slot)
	return old, true, m.sync()
}

// Remove deletes key and returns the value it held.
func (m *Map[V]) Remove(key uint64) (V, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero V
	slot, ok := m.index.Search(key)
	if !ok {
		return zero, false, nil
	}
	old, err := m.readValue(slot)
	if err != nil {
		return zero, true, err
	}
	if err := m.writeState(slot, slotTombstone); err != nil {
		return zero, true, err
	}
	m.index.Delete(key)
	m.free = append(m.free, slot)
	if err := m.writeLive(); err != nil {
		return zero, true, err
	}
	return old, true, m.sync()
}

// Ascend calls fn for each entry in key order until fn returns false.
func (m *Map[V]) Ascend(fn func(key uint64, v V) bool) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var err error
	m.index.Ascend(func(key, slot uint64) bool {
		var v V
		if v, err = m.readValue(slot); err != nil {
			err = fmt.Errorf("key %d: %w", key, err)
			return false
		}
		return fn(key, v)
	})
	return err
}

func (m *Map[V]) slotOffset(slot uint64) uint64 {
	return mapHeaderSize + slot*m.slotSize
}

func (m *Map[V]) encode(v V) []byte {
	data := m.codec.Encode(v)
	if len(data) > m.codec.MaxSize() {
		panic(fmt.Sprintf("stable: value encodes to %d bytes, over %d", len(data), m.codec.MaxSize()))
	}
	return data
}

// claimSlot returns a reusable slot, or appends one and grows the memory.
// The slot is only removed from the free list once it turns live.
func (m *Map[V]) claimSlot() (uint64, error) {
	if n := len(m.free); n > 0 {
		return m.free[n-1], nil
	}
	slot := m.highWater
	if err := ensureCapacity(m.mem, m.slotOffset(slot+1)); err != nil {
		return 0, err
	}
	var hw [8]byte
	binary.LittleEndian.PutUint64(hw[:], slot+1)
	if err := m.mem.Write(offHighWater, hw[:]); err != nil {
		return 0, fmt.Errorf("write high-water mark: %w", err)
	}
	m.highWater = slot + 1
	m.free = append(m.free, slot)
	return slot, nil
}

func (m *Map[V]) popFree(slot uint64) {
	if n := len(m.free); n > 0 && m.free[n-1] == slot {
		m.free = m.free[:n-1]
	}
}

func (m *Map[V]) writeSlot(slot uint64, state slotState, key uint64, gen uint32, data []byte) error {
	buf := make([]byte, slotHeader+len(data))
	buf[slotOffState] = byte(state)
	binary.LittleEndian.PutUint64(buf[slotOffKey:], key)
	binary.LittleEndian.PutUint16(buf[slotOffValueLen:], uint16(len(data)))
	binary.LittleEndian.PutUint32(buf[slotOffGen:], gen)
	copy(buf[slotHeader:], data)
	if err := m.mem.Write(m.slotOffset(slot), buf); err != nil {
		return fmt.Errorf("write slot %d: %w", slot, err)
	}
	return nil
}

func (m *Map[V]) writeState(slot uint64, state slotState) error {
	if err := m.mem.Write(m.slotOffset(slot)+slotOffState, []byte{byte(state)}); err != nil {
		return fmt.Errorf("write slot %d state: %w", slot, err)
	}
	return nil
}

func (m *Map[V]) writeLive() error {
	var live [8]byte
	binary.LittleEndian.PutUint64(live[:], uint64(m.index.Len()))
	if err := m.mem.Write(offLive, live[:]); err != nil {
		return fmt.Errorf("write live count: %w", err)
	}
	return nil
}

func (m *Map[V]) readGen(slot uint64) (uint32, error) {
	var gen [4]byte
	if err := m.mem.Read(m.slotOffset(slot)+slotOffGen, gen[:]); err != nil {
		return 0, fmt.Errorf("read slot %d: %w", slot, err)
	}
	return binary.LittleEndian.Uint32(gen[:]), nil
}

func (m *Map[V]) readValue(slot uint64) (V, error) {
	var zero V
	off := m.slotOffset(slot)
	var n [2]byte
	if err := m.mem.Read(off+slotOffValueLen, n[:]); err != nil {
		return zero, fmt.Errorf("read slot %d: %w", slot, err)
	}
	size := int(binary.LittleEndian.Uint16(n[:]))
	if size > m.codec.MaxSize() {
		return zero, fmt.Errorf("%w: slot %d length %d over %d", codec.ErrCorruptRecord, slot, size, m.codec.MaxSize())
	}
	buf := make([]byte, size)
	if err := m.mem.Read(off+slotHeader, buf); err != nil {
		return zero, fmt.Errorf("read slot %d: %w", slot, err)
	}
	return m.codec.Decode(buf)
}

func (m *Map[V]) sync() error {
	if err := memory.Sync(m.mem); err != nil {
		return fmt.Errorf("sync map: %w", err)
	}
	return nil
}
