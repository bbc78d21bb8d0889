package stable

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/roomdb/pkg/codec"
	"github.com/ssargent/roomdb/pkg/memory"
)

func TestCell_DefaultThenSet(t *testing.T) {
	mem := memory.NewVectorMemory(0)
	cell, err := InitCell[uint64](mem, codec.Uint64Codec{}, 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), cell.Get())
	assert.Equal(t, uint64(1), mem.Size())

	prev, err := cell.Set(8)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), prev)
	assert.Equal(t, uint64(8), cell.Get())

	// a second attach recovers the stored value, not the default
	again, err := InitCell[uint64](mem, codec.Uint64Codec{}, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), again.Get())
}

func TestCell_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cell.mem")

	mem, err := memory.OpenFileMemory(path, 0)
	require.NoError(t, err)
	cell, err := InitCell[uint64](mem, codec.Uint64Codec{}, 0)
	require.NoError(t, err)
	_, err = cell.Set(42)
	require.NoError(t, err)
	require.NoError(t, mem.Close())

	mem, err = memory.OpenFileMemory(path, 0)
	require.NoError(t, err)
	defer mem.Close()
	cell, err = InitCell[uint64](mem, codec.Uint64Codec{}, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), cell.Get())
}

func TestCell_Corruption(t *testing.T) {
	tests := map[string]struct {
		offset  uint64
		data    []byte
		wantErr error
	}{
		"foreign magic":       {offset: 0, data: []byte("XYZ"), wantErr: memory.ErrBadHeader},
		"unknown version":     {offset: 3, data: []byte{9}, wantErr: memory.ErrBadHeader},
		"length over maximum": {offset: 4, data: []byte{0xFF, 0, 0, 0}, wantErr: codec.ErrCorruptRecord},
		"wrong scalar length": {offset: 4, data: []byte{3, 0, 0, 0}, wantErr: codec.ErrCorruptRecord},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			mem := memory.NewVectorMemory(0)
			_, err := InitCell[uint64](mem, codec.Uint64Codec{}, 1)
			require.NoError(t, err)
			require.NoError(t, mem.Write(tt.offset, tt.data))

			_, err = InitCell[uint64](mem, codec.Uint64Codec{}, 1)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCell_SetFailureKeepsValue(t *testing.T) {
	mem := &failingMemory{Memory: memory.NewVectorMemory(0)}
	cell, err := InitCell[uint64](mem, codec.Uint64Codec{}, 5)
	require.NoError(t, err)

	mem.failWrites = true
	prev, err := cell.Set(6)
	require.Error(t, err)
	assert.Equal(t, uint64(5), prev)
	assert.Equal(t, uint64(5), cell.Get())
}
