package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/cardpass-core/internal/audit"
	"github.com/nerrad567/cardpass-core/internal/bridges/lmpi"
)

// adminCommands are the protocol commands reachable through
// POST /readers/{id}/commands/{command}. Reader-targeted commands have
// their own routes.
var adminCommands = map[lmpi.Command]struct{}{
	lmpi.CmdSync:         {},
	lmpi.CmdQuit:         {},
	lmpi.CmdReboot:       {},
	lmpi.CmdPowerOff:     {},
	lmpi.CmdResetUSB:     {},
	lmpi.CmdEmergency:    {},
	lmpi.CmdEmergencyEnd: {},
	lmpi.CmdFakeScan:     {},
}

// broadcastCommands maps POST /broadcast/{command} onto datagram payloads.
var broadcastCommands = map[string]string{
	"emergency":     lmpi.BroadcastEmergency,
	"emergency_end": lmpi.BroadcastEmergencyEnd,
	"sync":          lmpi.BroadcastSync,
}

// CommandRequest is the optional body of POST /readers/{id}/commands/{command}.
type CommandRequest struct {
	Param string `json:"param"`
}

// CommandResponse acknowledges a queued command.
type CommandResponse struct {
	Status  string `json:"status"`
	Command string `json:"command"`
	Queued  int    `json:"queued,omitempty"`
}

// handleOpenRelay pulses the reader's relay once.
func (s *Server) handleOpenRelay(w http.ResponseWriter, r *http.Request) {
	s.sendReaderCommand(w, r, "open", "", s.manager.OpenRelay)
}

// handleRestartReader restarts the reader.
func (s *Server) handleRestartReader(w http.ResponseWriter, r *http.Request) {
	s.sendReaderCommand(w, r, "restart", "", s.manager.Restart)
}

// handleReaderCommand forwards an admin protocol command to the reader host.
func (s *Server) handleReaderCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := lmpi.ParseCommand(chi.URLParam(r, "command"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if _, ok := adminCommands[cmd]; !ok {
		writeBadRequest(w, "command not allowed: "+string(cmd))
		return
	}

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	s.sendReaderCommand(w, r, string(cmd), req.Param, func(id int) bool {
		return s.manager.SendCommand(id, cmd, req.Param)
	})
}

// sendReaderCommand resolves the reader, runs send and writes the result.
// A command the driver refuses answers 409: the reader is not in the
// required state or its queue is full.
func (s *Server) sendReaderCommand(w http.ResponseWriter, r *http.Request, name, param string, send func(id int) bool) {
	id, ok := readerID(w, r)
	if !ok {
		return
	}
	if _, ok := s.manager.Info(id); !ok {
		writeNotFound(w, "reader not found")
		return
	}

	if !send(id) {
		writeConflict(w, "reader not connected or command queue full")
		return
	}

	details := map[string]any{"command": name}
	if param != "" {
		details["param"] = param
	}
	s.recordAudit(r.Context(), audit.ActionCommand, audit.EntityReader, id, details)
	writeJSON(w, http.StatusAccepted, CommandResponse{Status: "accepted", Command: name})
}

// handleEmergencyOpen sends "emergency" over every tracked connection.
func (s *Server) handleEmergencyOpen(w http.ResponseWriter, r *http.Request) {
	queued := s.manager.EmergencyOpen()
	s.recordAudit(r.Context(), audit.ActionCommand, audit.EntitySite, 0, map[string]any{"command": "emergency", "queued": queued})
	writeJSON(w, http.StatusAccepted, CommandResponse{Status: "accepted", Command: "emergency", Queued: queued})
}

// handleEmergencyEnd sends "emergencyend" over every tracked connection.
func (s *Server) handleEmergencyEnd(w http.ResponseWriter, r *http.Request) {
	queued := s.manager.EmergencyEnd()
	s.recordAudit(r.Context(), audit.ActionCommand, audit.EntitySite, 0, map[string]any{"command": "emergency_end", "queued": queued})
	writeJSON(w, http.StatusAccepted, CommandResponse{Status: "accepted", Command: "emergency_end", Queued: queued})
}

// handleBroadcast sends a site-wide UDP datagram.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "command")
	payload, ok := broadcastCommands[name]
	if !ok {
		writeBadRequest(w, "unknown broadcast command: "+name)
		return
	}
	if s.broadcast == nil {
		writeUnavailable(w, "broadcast not configured")
		return
	}

	if !s.broadcast.Send(payload) {
		writeInternalError(w, "broadcast failed")
		return
	}
	s.recordAudit(r.Context(), audit.ActionCommand, audit.EntitySite, 0, map[string]any{"command": name, "via": "udp"})
	writeJSON(w, http.StatusAccepted, CommandResponse{Status: "accepted", Command: name})
}
