package memory

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorMemory(t *testing.T) {
	m := NewVectorMemory(2)
	assert.Equal(t, uint64(0), m.Size())

	// nothing is addressable before the first grow
	require.ErrorIs(t, m.Write(0, []byte{1}), ErrOutOfBounds)

	prev, err := m.Grow(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), prev)
	assert.Equal(t, uint64(1), m.Size())

	require.NoError(t, m.Write(PageSize-4, []byte{1, 2, 3, 4}))
	buf := make([]byte, 4)
	require.NoError(t, m.Read(PageSize-4, buf))
	assert.Equal(t, []byte{1, 2, 3, 4}, buf)

	require.ErrorIs(t, m.Read(PageSize-2, buf), ErrOutOfBounds)

	_, err = m.Grow(2)
	require.ErrorIs(t, err, ErrOutOfMemory)
	assert.Equal(t, uint64(1), m.Size())
}

func TestFileMemory_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stable.mem")

	m, err := OpenFileMemory(path, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), m.Size())

	_, err = m.Grow(2)
	require.NoError(t, err)
	payload := []byte("durable bytes")
	require.NoError(t, m.Write(PageSize+10, payload))
	require.NoError(t, m.Sync())
	require.NoError(t, m.Close())
	// closing twice is fine
	require.NoError(t, m.Close())

	stats, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(2*PageSize), stats.Size())

	m, err = OpenFileMemory(path, 0)
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, uint64(2), m.Size())

	buf := make([]byte, len(payload))
	require.NoError(t, m.Read(PageSize+10, buf))
	assert.Equal(t, payload, buf)
}

func TestFileMemory_GrowKeepsContents(t *testing.T) {
	m, err := OpenFileMemory(filepath.Join(t.TempDir(), "grow.mem"), 3)
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Grow(1)
	require.NoError(t, err)
	require.NoError(t, m.Write(0, []byte("head")))

	prev, err := m.Grow(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), prev)

	buf := make([]byte, 4)
	require.NoError(t, m.Read(0, buf))
	assert.Equal(t, "head", string(buf))

	_, err = m.Grow(1)
	require.ErrorIs(t, err, ErrOutOfMemory)
}

func TestFileMemory_RejectsRaggedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ragged.mem")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0}, 100), 0600))

	_, err := OpenFileMemory(path, 0)
	require.ErrorIs(t, err, ErrBadHeader)
}

func TestFileMemory_ClosedAccess(t *testing.T) {
	m, err := OpenFileMemory(filepath.Join(t.TempDir(), "closed.mem"), 0)
	require.NoError(t, err)
	_, err = m.Grow(1)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	assert.ErrorIs(t, m.Write(0, []byte{1}), ErrClosed)
	assert.ErrorIs(t, m.Read(0, make([]byte, 1)), ErrClosed)
	_, err = m.Grow(1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFileMemory_FailedGrow(t *testing.T) {
	t.Run("keeps the old mapping", func(t *testing.T) {
		m, err := OpenFileMemory(filepath.Join(t.TempDir(), "huge.mem"), 0)
		require.NoError(t, err)
		defer m.Close()
		_, err = m.Grow(1)
		require.NoError(t, err)
		require.NoError(t, m.Write(0, []byte("head")))

		// 2^62 bytes: the file system or mmap refuses it
		_, err = m.Grow(1<<46 - 1)
		require.Error(t, err)

		assert.Equal(t, uint64(1), m.Size())
		buf := make([]byte, 4)
		require.NoError(t, m.Read(0, buf))
		assert.Equal(t, "head", string(buf))
		require.NoError(t, m.Write(4, []byte("tail")))
	})

	t.Run("closes when it cannot remap", func(t *testing.T) {
		m, err := OpenFileMemory(filepath.Join(t.TempDir(), "lost.mem"), 0)
		require.NoError(t, err)
		_, err = m.Grow(1)
		require.NoError(t, err)

		// pull the file out from under the mapping
		require.NoError(t, m.f.Close())
		_, err = m.Grow(1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "memory closed")

		assert.ErrorIs(t, m.Read(0, make([]byte, 1)), ErrClosed)
		assert.ErrorIs(t, m.Write(0, []byte{1}), ErrClosed)
		assert.NoError(t, m.Close())
	})
}
