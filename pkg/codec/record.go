package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgryski/go-farm"
)

const (
	// MaxRecordSize is the largest encoded room any schema version may produce.
	// Durable slots are sized from it, so it is part of the persisted contract.
	MaxRecordSize = 1024

	// CurrentVersion is the schema version written by Encode.
	CurrentVersion uint8 = 1

	// frameHeaderSize covers the version byte and the body checksum.
	frameHeaderSize = 1 + 4

	v1BodySize = 8 + 4 + 4 + 1 + 8 + 8
)

// ErrCorruptRecord is returned when stored bytes cannot be decoded against any known schema.
var ErrCorruptRecord = errors.New("corrupt record")

// Room is the single record type held by the store.
type Room struct {
	ID           uint64 `json:"id"`
	Floor        uint32 `json:"floor"`
	RoomNumber   uint32 `json:"room_number"`
	IsAvailable  bool   `json:"is_available"`
	CheckInDate  uint64 `json:"check_in_date"`
	CheckOutDate uint64 `json:"check_out_date"`
}

// RoomPayload carries the caller-supplied fields for create and update.
type RoomPayload struct {
	Floor        uint32 `json:"floor"`
	RoomNumber   uint32 `json:"room_number"`
	CheckInDate  uint64 `json:"check_in_date"`
	CheckOutDate uint64 `json:"check_out_date"`
}

// bodyCodec encodes the versioned body of a room; framing is shared.
type bodyCodec interface {
	size() int
	put(buf []byte, r Room)
	get(buf []byte) (Room, error)
}

var versions = map[uint8]bodyCodec{
	1: v1Codec{},
}

func init() {
	for v, c := range versions {
		if frameHeaderSize+c.size() > MaxRecordSize {
			panic(fmt.Sprintf("codec: schema v%d encodes to %d bytes, over MaxRecordSize (%d)",
				v, frameHeaderSize+c.size(), MaxRecordSize))
		}
	}
	if _, ok := versions[CurrentVersion]; !ok {
		panic(fmt.Sprintf("codec: no body codec registered for current version %d", CurrentVersion))
	}
}

// Encode serializes a room using the current schema version.
// Format: [Version(1)][Checksum(4)][Body]
func Encode(r Room) []byte {
	c := versions[CurrentVersion]
	buf := make([]byte, frameHeaderSize+c.size())
	if len(buf) > MaxRecordSize {
		panic("codec: encoded room exceeds MaxRecordSize")
	}
	buf[0] = CurrentVersion
	body := buf[frameHeaderSize:]
	c.put(body, r)
	binary.LittleEndian.PutUint32(buf[1:5], farm.Fingerprint32(body))
	return buf
}

// Decode deserializes a room written by any registered schema version.
func Decode(data []byte) (Room, error) {
	if len(data) < frameHeaderSize {
		return Room{}, fmt.Errorf("%w: %d bytes is shorter than the frame header", ErrCorruptRecord, len(data))
	}
	c, ok := versions[data[0]]
	if !ok {
		return Room{}, fmt.Errorf("%w: unknown schema version %d", ErrCorruptRecord, data[0])
	}
	body := data[frameHeaderSize:]
	if len(body) != c.size() {
		return Room{}, fmt.Errorf("%w: v%d body is %d bytes, want %d", ErrCorruptRecord, data[0], len(body), c.size())
	}
	expected := binary.LittleEndian.Uint32(data[1:5])
	if actual := farm.Fingerprint32(body); actual != expected {
		return Room{}, fmt.Errorf("%w: checksum mismatch (%d != %d)", ErrCorruptRecord, expected, actual)
	}
	return c.get(body)
}

// v1Codec is the first fixed-width layout:
// [ID(8)][Floor(4)][RoomNumber(4)][IsAvailable(1)][CheckIn(8)][CheckOut(8)]
type v1Codec struct{}

func (v1Codec) size() int { return v1BodySize }

func (v1Codec) put(buf []byte, r Room) {
	_ = buf[v1BodySize-1]
	binary.LittleEndian.PutUint64(buf[0:8], r.ID)
	binary.LittleEndian.PutUint32(buf[8:12], r.Floor)
	binary.LittleEndian.PutUint32(buf[12:16], r.RoomNumber)
	if r.IsAvailable {
		buf[16] = 1
	} else {
		buf[16] = 0
	}
	binary.LittleEndian.PutUint64(buf[17:25], r.CheckInDate)
	binary.LittleEndian.PutUint64(buf[25:33], r.CheckOutDate)
}

func (v1Codec) get(buf []byte) (Room, error) {
	_ = buf[v1BodySize-1]
	var r Room
	r.ID = binary.LittleEndian.Uint64(buf[0:8])
	r.Floor = binary.LittleEndian.Uint32(buf[8:12])
	r.RoomNumber = binary.LittleEndian.Uint32(buf[12:16])
	switch buf[16] {
	case 0:
		r.IsAvailable = false
	case 1:
		r.IsAvailable = true
	default:
		return Room{}, fmt.Errorf("%w: availability byte %#x", ErrCorruptRecord, buf[16])
	}
	r.CheckInDate = binary.LittleEndian.Uint64(buf[17:25])
	r.CheckOutDate = binary.LittleEndian.Uint64(buf[25:33])
	return r, nil
}
