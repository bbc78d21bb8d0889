package memory

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const (
	// MaxPartitions is the number of addressable partition ids (0..254).
	MaxPartitions = 255
	// MaxBuckets bounds the bucket table stored in the header.
	MaxBuckets = 32768
	// DefaultBucketPages is the bucket size used when a memory is first initialized.
	DefaultBucketPages = 16

	managerMagic         = "RMM"
	managerLayoutVersion = 1
	freeBucket           = 0xFF

	// header layout, all in page 0
	headerPages       = 1
	offMagic          = 0
	offVersion        = 3
	offBucketCount    = 4
	offBucketPages    = 6
	offPartitionSizes = 16
	offBucketTable    = offPartitionSizes + MaxPartitions*8
	headerBytes       = offBucketTable + MaxBuckets
)

// PartitionID names one partition of a managed memory.
type PartitionID uint8

// ManagerOption configures a Manager.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	bucketPages uint16
	logger      *zap.Logger
}

// WithBucketPages sets the bucket size for a memory that has not been
// initialized yet. An existing memory keeps the size recorded in its header.
func WithBucketPages(pages uint16) ManagerOption {
	return func(opts *managerOptions) {
		opts.bucketPages = pages
	}
}

// WithLogger sets the logger used for layout diagnostics.
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(opts *managerOptions) {
		opts.logger = logger
	}
}

// Manager splits one Memory into up to MaxPartitions partitions. Space is
// handed out in fixed-size buckets; the bucket table in the header records
// which partition owns each bucket, so a partition's bytes stay at the same
// physical offsets across restarts.
type Manager struct {
	mu          sync.RWMutex
	mem         Memory
	bucketPages uint64
	bucketCount uint16
	sizes       [MaxPartitions]uint64
	buckets     [MaxPartitions][]uint16
	partitions  map[PartitionID]*Partition
	logger      *zap.Logger
}

// NewManager loads the partition layout from mem, initializing a fresh
// header if mem is empty.
func NewManager(mem Memory, opts ...ManagerOption) (*Manager, error) {
	options := managerOptions{
		bucketPages: DefaultBucketPages,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.bucketPages == 0 {
		return nil, fmt.Errorf("bucket size must be at least one page")
	}

	m := &Manager{
		mem:        mem,
		partitions: make(map[PartitionID]*Partition),
		logger:     options.logger,
	}

	if mem.Size() == 0 {
		if _, err := mem.Grow(headerPages); err != nil {
			return nil, fmt.Errorf("mem.Grow(header): %w", err)
		}
	}

	var magic [3]byte
	if err := mem.Read(offMagic, magic[:]); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	switch {
	case magic == [3]byte{}:
		if err := m.initHeader(uint64(options.bucketPages)); err != nil {
			return nil, err
		}
	case string(magic[:]) == managerMagic:
		if err := m.loadHeader(); err != nil {
			return nil, err
		}
		if m.bucketPages != uint64(options.bucketPages) {
			m.logger.Info("ignoring configured bucket size; memory already initialized",
				zap.Uint16("configured_pages", options.bucketPages),
				zap.Uint64("stored_pages", m.bucketPages))
		}
	default:
		return nil, fmt.Errorf("%w: magic %q", ErrBadHeader, magic[:])
	}

	return m, nil
}

func (m *Manager) initHeader(bucketPages uint64) error {
	header := make([]byte, headerBytes)
	copy(header[offMagic:], managerMagic)
	header[offVersion] = managerLayoutVersion
	binary.LittleEndian.PutUint16(header[offBucketCount:], 0)
	binary.LittleEndian.PutUint16(header[offBucketPages:], uint16(bucketPages))
	for i := offBucketTable; i < headerBytes; i++ {
		header[i] = freeBucket
	}
	if err := m.mem.Write(0, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := Sync(m.mem); err != nil {
		return fmt.Errorf("sync header: %w", err)
	}
	m.bucketPages = bucketPages
	m.logger.Debug("initialized partitioned memory", zap.Uint64("bucket_pages", bucketPages))
	return nil
}

func (m *Manager) loadHeader() error {
	header := make([]byte, headerBytes)
	if err := m.mem.Read(0, header); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if header[offVersion] != managerLayoutVersion {
		return fmt.Errorf("%w: unsupported layout version %d", ErrBadHeader, header[offVersion])
	}
	m.bucketCount = binary.LittleEndian.Uint16(header[offBucketCount:])
	m.bucketPages = uint64(binary.LittleEndian.Uint16(header[offBucketPages:]))
	if m.bucketPages == 0 || m.bucketCount > MaxBuckets {
		return fmt.Errorf("%w: bucket size %d, bucket count %d", ErrBadHeader, m.bucketPages, m.bucketCount)
	}

	for id := 0; id < MaxPartitions; id++ {
		off := offPartitionSizes + id*8
		m.sizes[id] = binary.LittleEndian.Uint64(header[off : off+8])
	}

	// buckets are allocated in increasing order, so the table order is each
	// partition's address order
	table := header[offBucketTable : offBucketTable+int(m.bucketCount)]
	for bucket, owner := range table {
		if owner == freeBucket {
			continue
		}
		m.buckets[owner] = append(m.buckets[owner], uint16(bucket))
	}

	if want := headerPages + uint64(m.bucketCount)*m.bucketPages; m.mem.Size() < want {
		return fmt.Errorf("%w: memory has %d pages, layout needs %d", ErrBadHeader, m.mem.Size(), want)
	}
	for id := 0; id < MaxPartitions; id++ {
		if have := uint64(len(m.buckets[id])) * m.bucketPages; m.sizes[id] > have {
			return fmt.Errorf("%w: partition %d claims %d pages but owns %d", ErrBadHeader, id, m.sizes[id], have)
		}
	}
	return nil
}

// Partition returns the partition with the given id. Repeated calls return
// the same handle, and the same bytes across restarts.
func (m *Manager) Partition(id PartitionID) (*Partition, error) {
	if id >= MaxPartitions {
		return nil, fmt.Errorf("partition id %d out of range", id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.partitions[id]; ok {
		return p, nil
	}
	p := &Partition{m: m, id: id}
	m.partitions[id] = p
	return p, nil
}

// BucketPages returns the bucket size recorded in the header.
func (m *Manager) BucketPages() uint64 {
	return m.bucketPages
}

// AllocatedBuckets returns the number of buckets handed out so far.
func (m *Manager) AllocatedBuckets() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int(m.bucketCount)
}

// Buckets returns the bucket indices owned by id, in address order.
func (m *Manager) Buckets(id PartitionID) []uint16 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]uint16(nil), m.buckets[id]...)
}

// Sync flushes the underlying memory.
func (m *Manager) Sync() error {
	return Sync(m.mem)
}

func (m *Manager) size(id PartitionID) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sizes[id]
}

func (m *Manager) grow(id PartitionID, pages uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.sizes[id]
	if pages == 0 {
		return prev, nil
	}
	next := prev + pages
	owned := uint64(len(m.buckets[id]))
	needed := (next + m.bucketPages - 1) / m.bucketPages

	if needed > owned {
		extra := needed - owned
		if uint64(m.bucketCount)+extra > MaxBuckets {
			return prev, fmt.Errorf("%w: partition %d needs %d more buckets, %d of %d in use",
				ErrOutOfMemory, id, extra, m.bucketCount, MaxBuckets)
		}

		want := headerPages + (uint64(m.bucketCount)+extra)*m.bucketPages
		if have := m.mem.Size(); have < want {
			if _, err := m.mem.Grow(want - have); err != nil {
				return prev, fmt.Errorf("mem.Grow: %w", err)
			}
		}

		// bucket ownership first, then the count that makes it visible
		first := m.bucketCount
		entries := bytes.Repeat([]byte{byte(id)}, int(extra))
		if err := m.mem.Write(offBucketTable+uint64(first), entries); err != nil {
			return prev, fmt.Errorf("write bucket table: %w", err)
		}
		var count [2]byte
		binary.LittleEndian.PutUint16(count[:], first+uint16(extra))
		if err := m.mem.Write(offBucketCount, count[:]); err != nil {
			return prev, fmt.Errorf("write bucket count: %w", err)
		}
		for i := uint16(0); i < uint16(extra); i++ {
			m.buckets[id] = append(m.buckets[id], first+i)
		}
		m.bucketCount = first + uint16(extra)
	}

	var size [8]byte
	binary.LittleEndian.PutUint64(size[:], next)
	if err := m.mem.Write(offPartitionSizes+uint64(id)*8, size[:]); err != nil {
		return prev, fmt.Errorf("write partition size: %w", err)
	}
	if err := Sync(m.mem); err != nil {
		return prev, fmt.Errorf("sync layout: %w", err)
	}
	m.sizes[id] = next

	m.logger.Debug("grew partition",
		zap.Uint8("partition", uint8(id)),
		zap.Uint64("from_pages", prev),
		zap.Uint64("to_pages", next),
		zap.Int("buckets", len(m.buckets[id])))
	return prev, nil
}

// access translates a partition-relative range into bucket-sized physical
// chunks and applies fn to each.
func (m *Manager) access(id PartitionID, off uint64, buf []byte, fn func(phys uint64, chunk []byte) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := checkBounds(off, len(buf), m.sizes[id]*PageSize); err != nil {
		return fmt.Errorf("partition %d: %w", id, err)
	}
	bucketBytes := m.bucketPages * PageSize
	for len(buf) > 0 {
		idx := off / bucketBytes
		within := off % bucketBytes
		n := bucketBytes - within
		if uint64(len(buf)) < n {
			n = uint64(len(buf))
		}
		bucket := uint64(m.buckets[id][idx])
		phys := (headerPages+bucket*m.bucketPages)*PageSize + within
		if err := fn(phys, buf[:n]); err != nil {
			return err
		}
		buf = buf[n:]
		off += n
	}
	return nil
}
