package codec

import (
	"encoding/binary"
	"fmt"
)

// ValueCodec converts values of T to and from bytes for the durable structures
// in pkg/stable. MaxSize bounds every output of Encode.
type ValueCodec[T any] interface {
	Encode(v T) []byte
	Decode(data []byte) (T, error)
	MaxSize() int
}

// RoomCodec adapts Encode/Decode to ValueCodec.
type RoomCodec struct{}

func (RoomCodec) Encode(r Room) []byte             { return Encode(r) }
func (RoomCodec) Decode(data []byte) (Room, error) { return Decode(data) }
func (RoomCodec) MaxSize() int                     { return MaxRecordSize }

// Uint64Codec stores a scalar as 8 little-endian bytes.
type Uint64Codec struct{}

func (Uint64Codec) Encode(v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return buf[:]
}

func (Uint64Codec) Decode(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("%w: scalar is %d bytes, want 8", ErrCorruptRecord, len(data))
	}
	return binary.LittleEndian.Uint64(data), nil
}

func (Uint64Codec) MaxSize() int { return 8 }
