package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// FileMemory is a Memory backed by a file mapped into the address space.
// Writes land in the shared mapping; Sync forces them to disk.
type FileMemory struct {
	mu       sync.RWMutex
	f        *os.File
	data     []byte
	maxPages uint64
	closed   bool
}

// OpenFileMemory opens or creates the memory file at path. A maxPages of 0
// means unlimited growth.
func OpenFileMemory(path string, maxPages uint64) (*FileMemory, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("os.MkdirAll: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("os.OpenFile(%s): %w", path, err)
	}

	stats, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("f.Stat: %w", err)
	}
	if stats.Size()%PageSize != 0 {
		_ = f.Close()
		return nil, fmt.Errorf("%w: file size %d is not a multiple of the page size", ErrBadHeader, stats.Size())
	}

	m := &FileMemory{f: f, maxPages: maxPages}
	if stats.Size() > 0 {
		if err := m.mapFile(int(stats.Size())); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return m, nil
}

func (m *FileMemory) mapFile(length int) error {
	data, err := unix.Mmap(int(m.f.Fd()), 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap(%s, %d): %w", m.f.Name(), length, err)
	}
	// access is keyed by record id, not sequential
	if err := unix.Madvise(data, unix.MADV_RANDOM); err != nil {
		_ = unix.Munmap(data)
		return fmt.Errorf("madvise: %w", err)
	}
	m.data = data
	return nil
}

func (m *FileMemory) unmap() error {
	if m.data == nil {
		return nil
	}
	if err := unix.Munmap(m.data); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	m.data = nil
	return nil
}

func (m *FileMemory) Size() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.data)) / PageSize
}

// Grow extends the file and remaps it. Existing contents keep their offsets.
func (m *FileMemory) Grow(pages uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}
	prev := uint64(len(m.data)) / PageSize
	if pages == 0 {
		return prev, nil
	}
	next := prev + pages
	if m.maxPages > 0 && next > m.maxPages {
		return prev, fmt.Errorf("%w: %d + %d pages exceeds %d", ErrOutOfMemory, prev, pages, m.maxPages)
	}

	if len(m.data) > 0 {
		if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
			return prev, fmt.Errorf("msync: %w", err)
		}
	}
	if err := m.unmap(); err != nil {
		return prev, err
	}
	if err := m.f.Truncate(int64(next * PageSize)); err != nil {
		return prev, m.restore(prev, fmt.Errorf("f.Truncate: %w", err))
	}
	if err := m.mapFile(int(next * PageSize)); err != nil {
		return prev, m.restore(prev, err)
	}
	return prev, nil
}

// restore maps the first pages of the file again after a failed Grow. If
// that fails too the memory is closed, since there is no mapping left to
// serve reads from.
func (m *FileMemory) restore(pages uint64, cause error) error {
	if pages == 0 {
		return cause
	}
	if err := m.mapFile(int(pages * PageSize)); err != nil {
		m.closed = true
		_ = m.f.Close()
		return fmt.Errorf("%w; remapping %d pages also failed, memory closed: %v", cause, pages, err)
	}
	return cause
}

func (m *FileMemory) Read(off uint64, dst []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	if err := checkBounds(off, len(dst), uint64(len(m.data))); err != nil {
		return err
	}
	copy(dst, m.data[off:])
	return nil
}

func (m *FileMemory) Write(off uint64, src []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if err := checkBounds(off, len(src), uint64(len(m.data))); err != nil {
		return err
	}
	copy(m.data[off:], src)
	return nil
}

// Sync flushes dirty pages of the mapping to the file.
func (m *FileMemory) Sync() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	if len(m.data) == 0 {
		return nil
	}
	if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync: %w", err)
	}
	return nil
}

// Path returns the backing file path.
func (m *FileMemory) Path() string {
	return m.f.Name()
}

// Close syncs, unmaps and closes the file. It is safe to call more than once.
func (m *FileMemory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	if len(m.data) > 0 {
		if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
			_ = m.unmap()
			_ = m.f.Close()
			return fmt.Errorf("msync: %w", err)
		}
	}
	if err := m.unmap(); err != nil {
		_ = m.f.Close()
		return err
	}
	return m.f.Close()
}
