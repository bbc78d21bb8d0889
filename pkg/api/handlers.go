package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ssargent/roomdb/pkg/codec"
	"github.com/ssargent/roomdb/pkg/store"
)

// maxBodyBytes bounds request bodies; a room payload is a few dozen bytes.
const maxBodyBytes = 64 * 1024

// Server holds the API server state
type Server struct {
	rooms   RoomService
	config  ServerConfig
	metrics *Metrics
	logger  *zap.Logger
}

// NewServer creates a new API server
func NewServer(rooms RoomService, config ServerConfig, metrics *Metrics, logger *zap.Logger) *Server {
	if metrics == nil {
		metrics = NewMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		rooms:   rooms,
		config:  config,
		metrics: metrics,
		logger:  logger,
	}
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.metrics.RecordHealthCheck(true)
	sendSuccess(w, map[string]string{"status": "healthy"})
}

// handleStats returns room counts and memory use.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	stats, err := s.rooms.Stats()
	s.metrics.RecordStoreOperation("stats", err == nil, time.Since(start))
	if err != nil {
		s.sendStoreError(w, r, "stats", err)
		return
	}
	s.metrics.UpdateStoreStats(stats)
	sendSuccess(w, stats)
}

// handleGetRoom returns one room.
func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRoomID(w, r)
	if !ok {
		return
	}

	start := time.Now()
	room, err := s.rooms.Get(id)
	s.metrics.RecordStoreOperation("get", err == nil, time.Since(start))
	if err != nil {
		s.sendStoreError(w, r, "get", err)
		return
	}
	sendSuccess(w, room)
}

// handleCreateRoom stores a new room and returns it with its id.
func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	payload, ok := decodePayload(w, r)
	if !ok {
		return
	}

	start := time.Now()
	room, err := s.rooms.Create(payload)
	s.metrics.RecordStoreOperation("create", err == nil, time.Since(start))
	if err != nil {
		s.sendStoreError(w, r, "create", err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/rooms/%d", room.ID))
	sendCreated(w, room)
}

// handleUpdateRoom overwrites the payload fields of a room.
func (s *Server) handleUpdateRoom(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRoomID(w, r)
	if !ok {
		return
	}
	payload, ok := decodePayload(w, r)
	if !ok {
		return
	}

	start := time.Now()
	room, err := s.rooms.Update(id, payload)
	s.metrics.RecordStoreOperation("update", err == nil, time.Since(start))
	if err != nil {
		s.sendStoreError(w, r, "update", err)
		return
	}
	sendSuccess(w, room)
}

// handleDeleteRoom removes a room and returns what was removed.
func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRoomID(w, r)
	if !ok {
		return
	}

	start := time.Now()
	room, err := s.rooms.Delete(id)
	s.metrics.RecordStoreOperation("delete", err == nil, time.Since(start))
	if err != nil {
		s.sendStoreError(w, r, "delete", err)
		return
	}
	sendSuccess(w, room)
}

func parseRoomID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		sendError(w, fmt.Sprintf("Invalid room id %q", raw), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func decodePayload(w http.ResponseWriter, r *http.Request) (codec.RoomPayload, bool) {
	var payload codec.RoomPayload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		sendError(w, fmt.Sprintf("Invalid JSON request: %v", err), http.StatusBadRequest)
		return payload, false
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		sendError(w, "Request body must hold a single JSON object", http.StatusBadRequest)
		return payload, false
	}
	return payload, true
}

// sendStoreError maps store failures onto HTTP statuses.
func (s *Server) sendStoreError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		sendError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrClosed):
		sendError(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, store.ErrIDSpaceExhausted):
		sendError(w, err.Error(), http.StatusInsufficientStorage)
	default:
		if errors.Is(err, codec.ErrCorruptRecord) {
			s.logger.Error("corrupt record", zap.String("op", op), zap.Error(err),
				zap.String("request_id", RequestID(r.Context())))
		} else {
			s.logger.Error("store operation failed", zap.String("op", op), zap.Error(err),
				zap.String("request_id", RequestID(r.Context())))
		}
		sendError(w, fmt.Sprintf("Failed to %s room: %v", op, err), http.StatusInternalServerError)
	}
}

// startMetricsUpdater periodically refreshes the room gauges until ctx ends
func (s *Server) startMetricsUpdater(ctx context.Context) {
	interval := s.config.StatsInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := s.rooms.Stats()
			if err != nil {
				s.logger.Warn("failed to refresh store metrics", zap.Error(err))
				continue
			}
			s.metrics.UpdateStoreStats(stats)
		}
	}
}
