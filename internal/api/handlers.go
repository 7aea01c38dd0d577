// internal/api/handlers.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/nats-io/nats.go"
	"github.com/pbnjay/memory"

	"github.com/cardroom/switchboard/internal/auth"
	"github.com/cardroom/switchboard/internal/catalog"
	"github.com/cardroom/switchboard/internal/message"
	"github.com/cardroom/switchboard/internal/util"
)

// announceSender is the username stamped on server announcements. It never
// resolves to a registry entry, so replies to it are dropped.
const announceSender = "server"

type roomRequest struct {
	Name    string   `json:"name"    validate:"required,max=64"`
	Type    string   `json:"type"    validate:"required,oneof=public private"`
	Members []string `json:"members"`
}

type announceRequest struct {
	Content string `json:"content" validate:"required,max=500"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":     "switchboard",
		"version":     s.config.Version,
		"free_memory": memory.FreeMemory(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	natsStatus := "disconnected"
	if s.nc != nil && s.nc.Status() == nats.CONNECTED {
		natsStatus = "connected"
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"nats":   natsStatus,
	})
}

// handleWebSocket hands the authenticated request to the hub, which upgrades
// it and runs the connection's pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWs(w, r, auth.Username(r.Context()))
}

func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]string{"online": s.hub.OnlineUsers()})
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"username": username,
		"online":   s.hub.IsOnline(username),
	})
}

// handleAnnounce routes a system message to every connected client. This is
// the only path onto RouteAll; client frames always address a receiver or a
// room.
func (s *Server) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	payload := &announceRequest{}
	if err := util.DecodeAndValidateJSON(payload, r); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg := message.NewSystem(payload.Content)
	msg.Stamp(announceSender, time.Now())
	s.hub.RouteAll(msg)

	s.logger.Infof("Announcement from %s routed to all clients", auth.Username(r.Context()))
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "announced"})
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	payload := &roomRequest{}
	if err := util.DecodeAndValidateJSON(payload, r); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	room, err := s.catalog.Create(payload.Name, payload.Type, payload.Members)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, room)
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]catalog.Room{"rooms": s.catalog.List()})
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.catalog.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleUpdateRoom(w http.ResponseWriter, r *http.Request) {
	payload := &roomRequest{}
	if err := util.DecodeAndValidateJSON(payload, r); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	room, err := s.catalog.Update(chi.URLParam(r, "id"), payload.Name, payload.Type, payload.Members)
	if errors.Is(err, catalog.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, room)
}

// handleDeleteRoom removes the durable record only. The hub's ephemeral
// membership index is untouched; it prunes itself as members leave.
func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	err := s.catalog.Delete(chi.URLParam(r, "id"))
	if errors.Is(err, catalog.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleJoinRoom gates the join on the durable catalog, then makes the
// caller's live connection eligible for the room's traffic.
func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	username := auth.Username(r.Context())

	allowed, err := s.catalog.CanJoin(id, username)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if !allowed {
		s.writeError(w, http.StatusForbidden, "room is private")
		return
	}

	if !s.hub.JoinRoomUser(id, username) {
		s.writeError(w, http.StatusConflict, "no live connection for user")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "joined", "room": id})
}

func (s *Server) handleLeaveRoom(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	username := auth.Username(r.Context())

	if !s.hub.LeaveRoomUser(id, username) {
		s.writeError(w, http.StatusConflict, "no live connection for user")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "left", "room": id})
}

func (s *Server) handle404(w http.ResponseWriter, r *http.Request) {
	s.logger.Debugf("Not found: %s %s", r.Method, r.URL.Path)
	s.writeError(w, http.StatusNotFound, "not found")
}

func (s *Server) handle405(w http.ResponseWriter, r *http.Request) {
	s.logger.Debugf("Method not allowed: %s %s", r.Method, r.URL.Path)
	s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Errorf("Error writing response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
