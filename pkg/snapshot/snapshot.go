// Package snapshot exports the live contents of a room store into a pebble
// database, producing a portable point-in-time copy that can be inspected
// without the memory file.
package snapshot

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/ssargent/roomdb/pkg/codec"
)

var (
	roomPrefix     = []byte("room/")
	roomUpperBound = []byte("room0") // '0' sorts right after '/'
	keyLastID      = []byte("meta/last_id")
	keySnapshotID  = []byte("meta/snapshot_id")
)

// Source is the read side of a room store.
type Source interface {
	Ascend(fn func(room codec.Room) bool) error
	LastID() uint64
}

// Manifest describes a snapshot.
type Manifest struct {
	SnapshotID string       `json:"snapshot_id"`
	CreatedAt  time.Time    `json:"created_at"`
	LastID     uint64       `json:"last_id"`
	Rooms      []codec.Room `json:"rooms,omitempty"`
	RoomCount  int          `json:"room_count"`
}

// Export writes every live room of src into a new pebble database at dir,
// in one synced batch. dir must not already hold a database.
//
// Rooms are read before the last id, so LastID is never below any exported
// room id even if src is being written concurrently.
func Export(ctx context.Context, src Source, dir string, logger *zap.Logger) (manifest *Manifest, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := pebble.Open(dir, &pebble.Options{
		ErrorIfExists: true,
		Logger:        logger.Named("pebble").Sugar(),
	})
	if err != nil {
		return nil, fmt.Errorf("create snapshot database: %w", err)
	}
	defer closeWith(db, &err, "snapshot database")

	batch := db.NewBatch()
	defer batch.Close()

	manifest = &Manifest{}
	var setErr error
	err = src.Ascend(func(room codec.Room) bool {
		if setErr = ctx.Err(); setErr != nil {
			return false
		}
		if setErr = batch.Set(roomKey(room.ID), codec.Encode(room), nil); setErr != nil {
			return false
		}
		manifest.RoomCount++
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("read rooms: %w", err)
	}
	if setErr != nil {
		return nil, setErr
	}

	id := ksuid.New()
	manifest.SnapshotID = id.String()
	manifest.CreatedAt = id.Time()
	manifest.LastID = src.LastID()

	var lastID [8]byte
	binary.LittleEndian.PutUint64(lastID[:], manifest.LastID)
	if err := batch.Set(keyLastID, lastID[:], nil); err != nil {
		return nil, err
	}
	if err := batch.Set(keySnapshotID, id.Bytes(), nil); err != nil {
		return nil, err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return nil, fmt.Errorf("commit snapshot: %w", err)
	}

	logger.Info("snapshot written",
		zap.String("dir", dir),
		zap.String("snapshot_id", manifest.SnapshotID),
		zap.Int("rooms", manifest.RoomCount),
		zap.Uint64("last_id", manifest.LastID))
	return manifest, nil
}

// Inspect reads a snapshot back, rooms in id order.
func Inspect(dir string) (manifest *Manifest, err error) {
	db, err := pebble.Open(dir, &pebble.Options{
		ReadOnly:         true,
		ErrorIfNotExists: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open snapshot database: %w", err)
	}
	defer closeWith(db, &err, "snapshot database")

	manifest = &Manifest{}

	raw, err := get(db, keySnapshotID)
	if err != nil {
		return nil, err
	}
	id, err := ksuid.FromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("snapshot id: %w", err)
	}
	manifest.SnapshotID = id.String()
	manifest.CreatedAt = id.Time()

	raw, err = get(db, keyLastID)
	if err != nil {
		return nil, err
	}
	if len(raw) != 8 {
		return nil, fmt.Errorf("%w: last id is %d bytes", codec.ErrCorruptRecord, len(raw))
	}
	manifest.LastID = binary.LittleEndian.Uint64(raw)

	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: roomPrefix,
		UpperBound: roomUpperBound,
	})
	if err != nil {
		return nil, err
	}
	defer closeWith(iter, &err, "snapshot iterator")

	for iter.First(); iter.Valid(); iter.Next() {
		room, err := codec.Decode(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("room key %x: %w", iter.Key(), err)
		}
		if key := iter.Key(); len(key) != len(roomPrefix)+8 || binary.BigEndian.Uint64(key[len(roomPrefix):]) != room.ID {
			return nil, fmt.Errorf("%w: key %x holds room %d", codec.ErrCorruptRecord, key, room.ID)
		}
		manifest.Rooms = append(manifest.Rooms, room)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	manifest.RoomCount = len(manifest.Rooms)
	return manifest, nil
}

// closeWith closes c, reporting its error through err unless an earlier
// error is already set.
func closeWith(c io.Closer, err *error, what string) {
	if cerr := c.Close(); cerr != nil && *err == nil {
		*err = fmt.Errorf("close %s: %w", what, cerr)
	}
}

// roomKey sorts rooms by id: big-endian keeps byte order equal to numeric order.
func roomKey(id uint64) []byte {
	key := make([]byte, len(roomPrefix)+8)
	copy(key, roomPrefix)
	binary.BigEndian.PutUint64(key[len(roomPrefix):], id)
	return key
}

func get(db *pebble.DB, key []byte) ([]byte, error) {
	value, closer, err := db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, fmt.Errorf("snapshot is missing %s", key)
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), value...), nil
}
