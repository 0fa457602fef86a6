package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/cardpass-core/internal/audit"
	"github.com/nerrad567/cardpass-core/internal/bridges/lmpi"
	"github.com/nerrad567/cardpass-core/internal/connection"
	"github.com/nerrad567/cardpass-core/internal/reader"
)

// Event listing limits for GET /readers/{id}/events.
const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// readerResponse is a registry entry plus live driver counters.
type readerResponse struct {
	connection.ConnectionInfo
	Driver *lmpi.Stats `json:"driver,omitempty"`
}

// readerID parses the {id} URL parameter. Writes a 400 and returns false
// when it is not a positive integer.
func readerID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeBadRequest(w, "reader id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (s *Server) readerResponse(info connection.ConnectionInfo) readerResponse {
	resp := readerResponse{ConnectionInfo: info}
	if st, ok := s.manager.DriverStats(info.Reader.ID); ok {
		resp.Driver = &st
	}
	return resp
}

// handleListReaders returns every tracked reader with its connection state.
func (s *Server) handleListReaders(w http.ResponseWriter, _ *http.Request) {
	infos := s.manager.Readers()
	writeJSON(w, http.StatusOK, map[string]any{"readers": infos, "count": len(infos)})
}

// handleGetReader returns one reader with its driver counters.
func (s *Server) handleGetReader(w http.ResponseWriter, r *http.Request) {
	id, ok := readerID(w, r)
	if !ok {
		return
	}

	info, ok := s.manager.Info(id)
	if !ok {
		writeNotFound(w, "reader not found")
		return
	}
	writeJSON(w, http.StatusOK, s.readerResponse(info))
}

// handleCreateReader persists a new reader and connects it when enabled.
func (s *Server) handleCreateReader(w http.ResponseWriter, r *http.Request) {
	var rd reader.Reader
	if err := json.NewDecoder(r.Body).Decode(&rd); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	rd.ID = 0
	rd.Deleted = false

	if err := s.manager.AddReader(r.Context(), &rd); err != nil {
		s.writeManagerError(w, err, "failed to create reader")
		return
	}
	s.recordAudit(r.Context(), audit.ActionCreate, audit.EntityReader, rd.ID, map[string]any{"unique_name": rd.UniqueName})

	if info, ok := s.manager.Info(rd.ID); ok {
		writeJSON(w, http.StatusCreated, s.readerResponse(info))
		return
	}
	writeJSON(w, http.StatusCreated, readerResponse{ConnectionInfo: connection.ConnectionInfo{Reader: rd}})
}

// handleUpdateReader applies a partial update on top of the tracked reader
// and rebuilds its connection.
func (s *Server) handleUpdateReader(w http.ResponseWriter, r *http.Request) {
	id, ok := readerID(w, r)
	if !ok {
		return
	}

	info, ok := s.manager.Info(id)
	if !ok {
		writeNotFound(w, "reader not found")
		return
	}

	rd := info.Reader
	if err := json.NewDecoder(r.Body).Decode(&rd); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	rd.ID = id // Ensure ID cannot be changed
	rd.Deleted = false

	if err := s.manager.UpdateReader(r.Context(), &rd); err != nil {
		s.writeManagerError(w, err, "failed to update reader")
		return
	}
	s.recordAudit(r.Context(), audit.ActionUpdate, audit.EntityReader, id, map[string]any{"unique_name": rd.UniqueName})

	if info, ok := s.manager.Info(id); ok {
		writeJSON(w, http.StatusOK, s.readerResponse(info))
		return
	}
	writeJSON(w, http.StatusOK, readerResponse{ConnectionInfo: connection.ConnectionInfo{Reader: rd}})
}

// handleDeleteReader soft-deletes a reader and closes its connection.
func (s *Server) handleDeleteReader(w http.ResponseWriter, r *http.Request) {
	id, ok := readerID(w, r)
	if !ok {
		return
	}

	if err := s.manager.RemoveReader(r.Context(), id); err != nil {
		s.writeManagerError(w, err, "failed to delete reader")
		return
	}
	s.recordAudit(r.Context(), audit.ActionDelete, audit.EntityReader, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleListReaderEvents returns recent card scans for a reader, newest first.
//
// Query parameters:
//   - limit: maximum number of events (default 100, max 1000)
func (s *Server) handleListReaderEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := readerID(w, r)
	if !ok {
		return
	}
	if s.events == nil {
		writeUnavailable(w, "event log not configured")
		return
	}

	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxEventLimit {
			writeBadRequest(w, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	events, err := s.events.Recent(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("failed to list reader events", "reader_id", id, "error", err)
		writeInternalError(w, "failed to list reader events")
		return
	}
	if events == nil {
		events = []reader.EventRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// =============================================================================
// Connection control
// =============================================================================

// handleConnectReader rebuilds the reader's connection from stored settings.
func (s *Server) handleConnectReader(w http.ResponseWriter, r *http.Request) {
	id, ok := readerID(w, r)
	if !ok {
		return
	}

	if err := s.manager.Connect(r.Context(), id); err != nil {
		s.writeManagerError(w, err, "failed to connect reader")
		return
	}
	s.recordAudit(r.Context(), audit.ActionCommand, audit.EntityReader, id, map[string]any{"command": "connect"})
	s.writeCurrent(w, id)
}

// handleDisconnectReader closes the reader's connection.
func (s *Server) handleDisconnectReader(w http.ResponseWriter, r *http.Request) {
	id, ok := readerID(w, r)
	if !ok {
		return
	}

	if err := s.manager.Disconnect(id); err != nil {
		s.writeManagerError(w, err, "failed to disconnect reader")
		return
	}
	s.recordAudit(r.Context(), audit.ActionCommand, audit.EntityReader, id, map[string]any{"command": "disconnect"})
	s.writeCurrent(w, id)
}

// handleSetEnabled persists the enabled flag and connects or disconnects.
func (s *Server) handleSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := readerID(w, r)
		if !ok {
			return
		}

		if err := s.manager.SetEnabled(r.Context(), id, enabled); err != nil {
			s.writeManagerError(w, err, "failed to update reader")
			return
		}
		command := "disable"
		if enabled {
			command = "enable"
		}
		s.recordAudit(r.Context(), audit.ActionCommand, audit.EntityReader, id, map[string]any{"command": command})
		s.writeCurrent(w, id)
	}
}

// writeCurrent writes the registry entry for id, or a bare acknowledgement
// when the reader is not tracked.
func (s *Server) writeCurrent(w http.ResponseWriter, id int) {
	if info, ok := s.manager.Info(id); ok {
		writeJSON(w, http.StatusOK, s.readerResponse(info))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": "ok"})
}
