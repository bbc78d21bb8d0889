package store

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/ssargent/roomdb/pkg/codec"
	"github.com/ssargent/roomdb/pkg/memory"
	"github.com/ssargent/roomdb/pkg/stable"
)

// Option configures a RoomStore.
type Option func(*options)

type options struct {
	logger      *zap.Logger
	bucketPages uint16
}

// WithLogger sets the store logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithBucketPages sets the partition bucket size for a memory being
// initialized for the first time.
func WithBucketPages(pages uint16) Option {
	return func(o *options) {
		if pages > 0 {
			o.bucketPages = pages
		}
	}
}

// RoomStore provides create, read, update and delete of rooms over a single
// partitioned memory: the id counter lives in CounterPartition and the rooms
// in RoomsPartition.
type RoomStore struct {
	mu      sync.Mutex
	mem     memory.Memory
	closer  io.Closer
	manager *memory.Manager
	ids     *IDAllocator
	rooms   *stable.Map[codec.Room]
	logger  *zap.Logger
	closed  bool
}

// New builds a store over mem, initializing it if it is empty.
func New(mem memory.Memory, opts ...Option) (*RoomStore, error) {
	o := options{
		logger:      zap.NewNop(),
		bucketPages: memory.DefaultBucketPages,
	}
	for _, opt := range opts {
		opt(&o)
	}

	manager, err := memory.NewManager(mem,
		memory.WithBucketPages(o.bucketPages),
		memory.WithLogger(o.logger.Named("memory")))
	if err != nil {
		return nil, fmt.Errorf("load partition layout: %w", err)
	}

	counter, err := manager.Partition(CounterPartition)
	if err != nil {
		return nil, err
	}
	ids, err := NewIDAllocator(counter)
	if err != nil {
		return nil, err
	}

	roomsMem, err := manager.Partition(RoomsPartition)
	if err != nil {
		return nil, err
	}
	rooms, err := stable.OpenMap[codec.Room](roomsMem, codec.RoomCodec{})
	if err != nil {
		return nil, fmt.Errorf("open room map: %w", err)
	}
	if maxID, ok := rooms.MaxKey(); ok && maxID > ids.Current() {
		return nil, fmt.Errorf("%w: room %d is stored but the id counter is at %d", memory.ErrBadHeader, maxID, ids.Current())
	}

	s := &RoomStore{
		mem:     mem,
		manager: manager,
		ids:     ids,
		rooms:   rooms,
		logger:  o.logger,
	}
	s.logger.Info("room store ready",
		zap.Int("rooms", rooms.Len()),
		zap.Uint64("last_id", ids.Current()),
		zap.Uint64("pages", mem.Size()),
		zap.Uint64("bucket_pages", manager.BucketPages()))
	return s, nil
}

// Open opens (or creates) the memory file at config.Path and builds a store
// over it. Closing the store closes the file.
func Open(config RoomStoreConfig, opts ...Option) (*RoomStore, error) {
	mem, err := memory.OpenFileMemory(config.Path, config.MaxPages)
	if err != nil {
		return nil, fmt.Errorf("open memory file: %w", err)
	}

	opts = append([]Option{WithBucketPages(config.BucketPages)}, opts...)
	s, err := New(mem, opts...)
	if err != nil {
		mem.Close()
		return nil, err
	}
	s.closer = mem
	s.logger.Debug("memory file mapped", zap.String("path", mem.Path()))
	return s, nil
}

// Create allocates an id and stores a new, available room.
func (s *RoomStore) Create(payload codec.RoomPayload) (codec.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return codec.Room{}, ErrClosed
	}

	id, err := s.ids.Next()
	if err != nil {
		return codec.Room{}, err
	}
	room := codec.Room{
		ID:           id,
		Floor:        payload.Floor,
		RoomNumber:   payload.RoomNumber,
		IsAvailable:  true,
		CheckInDate:  payload.CheckInDate,
		CheckOutDate: payload.CheckOutDate,
	}

	// a live room under a fresh id means the counter fell behind the map
	if _, live, err := s.rooms.Get(id); err != nil {
		return codec.Room{}, fmt.Errorf("check room %d: %w", id, err)
	} else if live {
		s.logger.Error("id counter issued an id that is already live", zap.Uint64("id", id))
		return codec.Room{}, fmt.Errorf("%w: id %d is already in use", codec.ErrCorruptRecord, id)
	}
	if _, _, err := s.rooms.Insert(id, room); err != nil {
		return codec.Room{}, fmt.Errorf("store room %d: %w", id, err)
	}

	s.logger.Debug("room created", zap.Uint64("id", id))
	return room, nil
}

// Get returns the room with id.
func (s *RoomStore) Get(id uint64) (codec.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return codec.Room{}, ErrClosed
	}
	return s.get(id)
}

func (s *RoomStore) get(id uint64) (codec.Room, error) {
	room, ok, err := s.rooms.Get(id)
	if err != nil {
		return codec.Room{}, fmt.Errorf("read room %d: %w", id, err)
	}
	if !ok {
		return codec.Room{}, &NotFoundError{ID: id}
	}
	return room, nil
}

// Update replaces the caller-supplied fields of room id. ID and
// availability are kept from the stored record.
func (s *RoomStore) Update(id uint64, payload codec.RoomPayload) (codec.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return codec.Room{}, ErrClosed
	}

	room, err := s.get(id)
	if err != nil {
		return codec.Room{}, err
	}
	room.Floor = payload.Floor
	room.RoomNumber = payload.RoomNumber
	room.CheckInDate = payload.CheckInDate
	room.CheckOutDate = payload.CheckOutDate

	if _, _, err := s.rooms.Insert(id, room); err != nil {
		return codec.Room{}, fmt.Errorf("store room %d: %w", id, err)
	}

	s.logger.Debug("room updated", zap.Uint64("id", id))
	return room, nil
}

// Delete removes room id and returns it.
func (s *RoomStore) Delete(id uint64) (codec.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return codec.Room{}, ErrClosed
	}

	room, ok, err := s.rooms.Remove(id)
	if err != nil {
		return codec.Room{}, fmt.Errorf("remove room %d: %w", id, err)
	}
	if !ok {
		return codec.Room{}, &NotFoundError{ID: id}
	}

	s.logger.Debug("room deleted", zap.Uint64("id", id))
	return room, nil
}

// LastID returns the most recently issued id.
func (s *RoomStore) LastID() uint64 {
	return s.ids.Current()
}

// Ascend calls fn for each live room in id order until fn returns false.
func (s *RoomStore) Ascend(fn func(room codec.Room) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	return s.rooms.Ascend(func(_ uint64, room codec.Room) bool {
		return fn(room)
	})
}

// Stats reports counts and memory use.
func (s *RoomStore) Stats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Stats{}, ErrClosed
	}

	stats := Stats{
		Rooms:      s.rooms.Len(),
		LastID:     s.ids.Current(),
		TotalPages: s.mem.Size(),
	}
	for _, p := range partitionTable {
		part, err := s.manager.Partition(p.id)
		if err != nil {
			return Stats{}, err
		}
		stats.Partitions = append(stats.Partitions, PartitionStats{
			ID:    p.id,
			Name:  p.name,
			Pages: part.Size(),
		})
	}
	return stats, nil
}

// Close flushes the memory and, for file-backed stores, unmaps the file.
func (s *RoomStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.closed = true

	if err := s.manager.Sync(); err != nil {
		s.logger.Error("failed to sync memory on close", zap.Error(err))
	}
	if s.closer != nil {
		if err := s.closer.Close(); err != nil {
			return fmt.Errorf("close memory file: %w", err)
		}
	}
	s.logger.Info("room store closed")
	return nil
}
