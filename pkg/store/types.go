package store

import (
	"fmt"

	"github.com/ssargent/roomdb/pkg/memory"
)

// RoomStoreConfig holds configuration for a file-backed room store
type RoomStoreConfig struct {
	Path        string // Memory file; created if missing
	BucketPages uint16 // Bucket size for a new file (0 = default)
	MaxPages    uint64 // Growth limit in pages (0 = unlimited)
}

// Stats summarizes the store's contents and memory use.
type Stats struct {
	Rooms      int              `json:"rooms"`
	LastID     uint64           `json:"last_id"`
	TotalPages uint64           `json:"total_pages"`
	Partitions []PartitionStats `json:"partitions"`
}

// PartitionStats reports the size of one partition of the memory file.
type PartitionStats struct {
	ID    memory.PartitionID `json:"id"`
	Name  string             `json:"name"`
	Pages uint64             `json:"pages"`
}

// Errors
var (
	ErrNotFound         = &StoreError{"room not found"}
	ErrClosed           = &StoreError{"store is closed"}
	ErrIDSpaceExhausted = &StoreError{"room id space exhausted"}
)

// StoreError represents a room store error
type StoreError struct {
	Message string
}

func (e *StoreError) Error() string {
	return e.Message
}

// NotFoundError is returned when no live room carries ID.
type NotFoundError struct {
	ID uint64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("a room with id=%d not found", e.ID)
}

// Is lets errors.Is(err, ErrNotFound) match any NotFoundError.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
