package store

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ssargent/roomdb/pkg/codec"
	"github.com/ssargent/roomdb/pkg/memory"
)

func newTestStore(t *testing.T) *RoomStore {
	t.Helper()
	s, err := New(memory.NewVectorMemory(0), WithBucketPages(1), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRoomStore_Scenario(t *testing.T) {
	s := newTestStore(t)

	first, err := s.Create(codec.RoomPayload{Floor: 1, RoomNumber: 101, CheckInDate: 1000, CheckOutDate: 2000})
	require.NoError(t, err)
	assert.Equal(t, codec.Room{ID: 1, Floor: 1, RoomNumber: 101, IsAvailable: true, CheckInDate: 1000, CheckOutDate: 2000}, first)

	second, err := s.Create(codec.RoomPayload{Floor: 2, RoomNumber: 202, CheckInDate: 1500, CheckOutDate: 2500})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.ID)

	updated, err := s.Update(1, codec.RoomPayload{Floor: 1, RoomNumber: 101, CheckInDate: 1100, CheckOutDate: 2100})
	require.NoError(t, err)
	assert.Equal(t, codec.Room{ID: 1, Floor: 1, RoomNumber: 101, IsAvailable: true, CheckInDate: 1100, CheckOutDate: 2100}, updated)

	got, err := s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, updated, got)

	deleted, err := s.Delete(2)
	require.NoError(t, err)
	assert.Equal(t, second, deleted)

	_, err = s.Get(2)
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, uint64(2), notFound.ID)
	assert.EqualError(t, err, "a room with id=2 not found")
}

func TestRoomStore_IDsStrictlyIncrease(t *testing.T) {
	s := newTestStore(t)

	var last uint64
	for i := 0; i < 50; i++ {
		room, err := s.Create(codec.RoomPayload{Floor: 1, RoomNumber: uint32(i)})
		require.NoError(t, err)
		assert.Greater(t, room.ID, last)
		last = room.ID

		// deleting never frees an id for reuse
		if i%3 == 0 {
			_, err := s.Delete(room.ID)
			require.NoError(t, err)
		}
	}
	assert.Equal(t, uint64(50), s.LastID())
}

func TestRoomStore_NeverIssuedIDs(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(codec.RoomPayload{Floor: 1})
	require.NoError(t, err)

	for _, id := range []uint64{0, 2, 1 << 40} {
		_, err := s.Get(id)
		assert.ErrorIs(t, err, ErrNotFound, "Get(%d)", id)
		_, err = s.Update(id, codec.RoomPayload{Floor: 9})
		assert.ErrorIs(t, err, ErrNotFound, "Update(%d)", id)
		_, err = s.Delete(id)
		assert.ErrorIs(t, err, ErrNotFound, "Delete(%d)", id)
	}

	// a failed update must not create the room
	_, err = s.Get(2)
	assert.ErrorIs(t, err, ErrNotFound)
	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Rooms)
}

func TestRoomStore_UpdateKeepsAvailability(t *testing.T) {
	tests := map[string]struct {
		payload codec.RoomPayload
	}{
		"all fields change":  {payload: codec.RoomPayload{Floor: 7, RoomNumber: 707, CheckInDate: 5, CheckOutDate: 6}},
		"zero payload":       {payload: codec.RoomPayload{}},
		"same as create":     {payload: codec.RoomPayload{Floor: 1, RoomNumber: 101, CheckInDate: 1, CheckOutDate: 2}},
		"dates out of order": {payload: codec.RoomPayload{Floor: 1, RoomNumber: 101, CheckInDate: 9, CheckOutDate: 3}},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t)
			created, err := s.Create(codec.RoomPayload{Floor: 1, RoomNumber: 101, CheckInDate: 1, CheckOutDate: 2})
			require.NoError(t, err)

			updated, err := s.Update(created.ID, tt.payload)
			require.NoError(t, err)
			assert.Equal(t, created.ID, updated.ID)
			assert.True(t, updated.IsAvailable)
			assert.Equal(t, tt.payload.Floor, updated.Floor)
			assert.Equal(t, tt.payload.RoomNumber, updated.RoomNumber)
			assert.Equal(t, tt.payload.CheckInDate, updated.CheckInDate)
			assert.Equal(t, tt.payload.CheckOutDate, updated.CheckOutDate)

			got, err := s.Get(created.ID)
			require.NoError(t, err)
			assert.Equal(t, updated, got)
		})
	}
}

func TestRoomStore_PersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.mem")
	config := RoomStoreConfig{Path: path, BucketPages: 1}

	s, err := Open(config)
	require.NoError(t, err)
	var kept []codec.Room
	for i := uint32(1); i <= 5; i++ {
		room, err := s.Create(codec.RoomPayload{Floor: i, RoomNumber: i * 100, CheckInDate: 10, CheckOutDate: 20})
		require.NoError(t, err)
		kept = append(kept, room)
	}
	_, err = s.Delete(3)
	require.NoError(t, err)
	kept = append(kept[:2], kept[3:]...)
	require.NoError(t, s.Close())

	s, err = Open(config)
	require.NoError(t, err)
	defer s.Close()

	var got []codec.Room
	require.NoError(t, s.Ascend(func(room codec.Room) bool {
		got = append(got, room)
		return true
	}))
	assert.Equal(t, kept, got)
	assert.Equal(t, uint64(5), s.LastID())

	next, err := s.Create(codec.RoomPayload{Floor: 6})
	require.NoError(t, err)
	assert.Equal(t, uint64(6), next.ID)
}

func TestRoomStore_PartitionsStayIsolated(t *testing.T) {
	mem := memory.NewVectorMemory(0)
	s, err := New(mem, WithBucketPages(1))
	require.NoError(t, err)

	// enough rooms to force several bucket allocations interleaved with counter writes
	for i := 0; i < 200; i++ {
		_, err := s.Create(codec.RoomPayload{Floor: uint32(i), RoomNumber: uint32(i)})
		require.NoError(t, err)
	}
	stats, err := s.Stats()
	require.NoError(t, err)
	require.Len(t, stats.Partitions, 2)
	assert.Equal(t, "id-counter", stats.Partitions[0].Name)
	assert.Equal(t, uint64(1), stats.Partitions[0].Pages)
	assert.Equal(t, "rooms", stats.Partitions[1].Name)
	assert.Greater(t, stats.Partitions[1].Pages, uint64(1))
	assert.Equal(t, uint64(200), stats.LastID)
	assert.Equal(t, 200, stats.Rooms)

	// reattaching to the same memory sees both structures intact
	again, err := New(mem)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), again.LastID())
	room, err := again.Get(200)
	require.NoError(t, err)
	assert.Equal(t, uint32(199), room.Floor)
	assert.Equal(t, []uint16{0}, again.manager.Buckets(CounterPartition))
}

func TestRoomStore_ConcurrentCreates(t *testing.T) {
	s := newTestStore(t)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[uint64]bool)
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				room, err := s.Create(codec.RoomPayload{Floor: 1})
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				ids[room.ID] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 200)
	for id := uint64(1); id <= 200; id++ {
		assert.True(t, ids[id], "id %d missing", id)
	}
}

func TestRoomStore_Closed(t *testing.T) {
	s, err := New(memory.NewVectorMemory(0))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Create(codec.RoomPayload{})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Get(1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Update(1, codec.RoomPayload{})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Delete(1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Stats()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Close(), ErrClosed)
}

func TestRoomStore_CorruptRecordSurfaces(t *testing.T) {
	mem := memory.NewVectorMemory(0)
	s, err := New(mem, WithBucketPages(1))
	require.NoError(t, err)
	_, err = s.Create(codec.RoomPayload{Floor: 3, RoomNumber: 303})
	require.NoError(t, err)

	// rooms own the second bucket; damage the first slot's body
	buckets := s.manager.Buckets(RoomsPartition)
	require.NotEmpty(t, buckets)
	phys := (1+uint64(buckets[0]))*memory.PageSize + 64 + 16 + 10
	require.NoError(t, mem.Write(phys, []byte{0xAB}))

	_, err = s.Get(1)
	require.ErrorIs(t, err, codec.ErrCorruptRecord)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestRoomStore_CounterBehindMap(t *testing.T) {
	mem := memory.NewVectorMemory(0)
	s, err := New(mem, WithBucketPages(1))
	require.NoError(t, err)

	first, err := s.Create(codec.RoomPayload{Floor: 1, RoomNumber: 101})
	require.NoError(t, err)
	_, err = s.Create(codec.RoomPayload{Floor: 2, RoomNumber: 202})
	require.NoError(t, err)

	// wind the counter back so the next id collides with a live room
	_, err = s.ids.cell.Set(0)
	require.NoError(t, err)

	_, err = s.Create(codec.RoomPayload{Floor: 9, RoomNumber: 909})
	require.ErrorIs(t, err, codec.ErrCorruptRecord)

	got, err := s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, first, got)
	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Rooms)

	// reopening refuses to start on the inconsistent memory
	_, err = New(mem)
	require.ErrorIs(t, err, memory.ErrBadHeader)
}
