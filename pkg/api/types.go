package api

import (
	"time"

	"github.com/ssargent/roomdb/pkg/codec"
	"github.com/ssargent/roomdb/pkg/store"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ServerConfig holds configuration for the API server
type ServerConfig struct {
	Addr   string // host:port to listen on
	APIKey string // empty disables authentication

	// ShutdownTimeout bounds graceful shutdown once the context is cancelled.
	ShutdownTimeout time.Duration
	// StatsInterval is how often the room gauges are refreshed (0 = 30s).
	StatsInterval time.Duration
}

// RoomService is the store surface the API depends on.
type RoomService interface {
	Create(payload codec.RoomPayload) (codec.Room, error)
	Get(id uint64) (codec.Room, error)
	Update(id uint64, payload codec.RoomPayload) (codec.Room, error)
	Delete(id uint64) (codec.Room, error)
	Stats() (store.Stats, error)
}
