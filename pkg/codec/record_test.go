package codec

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/dgryski/go-farm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		room Room
	}{
		{
			name: "zero value",
			room: Room{},
		},
		{
			name: "typical room",
			room: Room{ID: 1, Floor: 1, RoomNumber: 101, IsAvailable: true, CheckInDate: 1000, CheckOutDate: 2000},
		},
		{
			name: "unavailable room",
			room: Room{ID: 42, Floor: 3, RoomNumber: 305, IsAvailable: false, CheckInDate: 1500, CheckOutDate: 2500},
		},
		{
			name: "max values",
			room: Room{
				ID:           math.MaxUint64,
				Floor:        math.MaxUint32,
				RoomNumber:   math.MaxUint32,
				IsAvailable:  true,
				CheckInDate:  math.MaxUint64,
				CheckOutDate: math.MaxUint64,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := Encode(tc.room)
			require.LessOrEqual(t, len(encoded), MaxRecordSize)
			assert.Equal(t, CurrentVersion, encoded[0])

			decoded, err := Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, tc.room, decoded)
		})
	}
}

func TestEncode_Layout(t *testing.T) {
	room := Room{ID: 7, Floor: 2, RoomNumber: 202, IsAvailable: true, CheckInDate: 1500, CheckOutDate: 2500}
	encoded := Encode(room)

	require.Len(t, encoded, frameHeaderSize+v1BodySize)
	body := encoded[frameHeaderSize:]
	assert.Equal(t, farm.Fingerprint32(body), binary.LittleEndian.Uint32(encoded[1:5]))
	assert.Equal(t, uint64(7), binary.LittleEndian.Uint64(body[0:8]))
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(body[8:12]))
	assert.Equal(t, uint32(202), binary.LittleEndian.Uint32(body[12:16]))
	assert.Equal(t, byte(1), body[16])
	assert.Equal(t, uint64(1500), binary.LittleEndian.Uint64(body[17:25]))
	assert.Equal(t, uint64(2500), binary.LittleEndian.Uint64(body[25:33]))
}

func TestDecode_Corruption(t *testing.T) {
	valid := Encode(Room{ID: 1, Floor: 1, RoomNumber: 101, IsAvailable: true, CheckInDate: 1000, CheckOutDate: 2000})

	withAvailability := func(b byte) []byte {
		data := append([]byte(nil), valid...)
		body := data[frameHeaderSize:]
		body[16] = b
		binary.LittleEndian.PutUint32(data[1:5], farm.Fingerprint32(body))
		return data
	}

	testCases := []struct {
		name string
		data []byte
	}{
		{name: "nil", data: nil},
		{name: "header only", data: valid[:frameHeaderSize]},
		{name: "truncated body", data: valid[:len(valid)-1]},
		{name: "trailing bytes", data: append(append([]byte(nil), valid...), 0)},
		{name: "unknown version", data: append([]byte{0xEE}, valid[1:]...)},
		{name: "version zero", data: append([]byte{0}, valid[1:]...)},
		{name: "flipped checksum", data: func() []byte {
			data := append([]byte(nil), valid...)
			data[1] ^= 0xFF
			return data
		}()},
		{name: "flipped body byte", data: func() []byte {
			data := append([]byte(nil), valid...)
			data[len(data)-1] ^= 0x01
			return data
		}()},
		{name: "non-boolean availability", data: withAvailability(2)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCorruptRecord), "expected ErrCorruptRecord, got %v", err)
		})
	}
}

func TestRegisteredVersionsFitSlot(t *testing.T) {
	for v, c := range versions {
		assert.LessOrEqual(t, frameHeaderSize+c.size(), MaxRecordSize, "schema v%d", v)
	}
}

func TestUint64Codec(t *testing.T) {
	var c Uint64Codec
	for _, v := range []uint64{0, 1, 255, 1 << 40, math.MaxUint64} {
		got, err := c.Decode(c.Encode(v))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
	assert.Equal(t, 8, c.MaxSize())

	_, err := c.Decode([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestRoomCodec_ImplementsValueCodec(t *testing.T) {
	var c ValueCodec[Room] = RoomCodec{}
	room := Room{ID: 3, Floor: 9, RoomNumber: 901, IsAvailable: true}

	got, err := c.Decode(c.Encode(room))
	require.NoError(t, err)
	assert.Equal(t, room, got)
	assert.Equal(t, MaxRecordSize, c.MaxSize())
}
