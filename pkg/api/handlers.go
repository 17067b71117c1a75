// Package api exposes the relay over HTTP: question submission, message and
// session reads, and the backend change-feed endpoint.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"chatrelay/pkg/auth"
	"chatrelay/pkg/dispatch"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
	"chatrelay/pkg/utils"
	"chatrelay/pkg/validation"
)

// Server bundles the handler dependencies: the queue feeding the dispatch
// workers and the dispatcher itself for the synchronous batch endpoint.
type Server struct {
	queue      *dispatch.Queue
	dispatcher *dispatch.Dispatcher
}

// NewServer builds the API server.
func NewServer(q *dispatch.Queue, d *dispatch.Dispatcher) *Server {
	return &Server{queue: q, dispatcher: d}
}

// Register attaches the versioned routes to the router.
func (s *Server) Register(r *mux.Router) {
	r.HandleFunc("/v1/sessions", s.listSessions).Methods(http.MethodGet)
	r.HandleFunc("/v1/sessions/{sessionID}/messages", s.submitMessage).Methods(http.MethodPost)
	r.HandleFunc("/v1/sessions/{sessionID}/messages", s.listMessages).Methods(http.MethodGet)
	r.HandleFunc("/v1/messages/{id}", s.getMessage).Methods(http.MethodGet)
	r.HandleFunc("/v1/records", s.processRecords).Methods(http.MethodPost)
}

type submitRequest struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	MemoryID string `json:"memoryId,omitempty"`
}

// submitMessage accepts a question for asynchronous dispatch. The record is
// created pending and the answer arrives later on the event stream; 202 is
// the only success status.
func (s *Server) submitMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	m := models.Message{
		ID:        req.ID,
		SessionID: sessionID,
		Question:  req.Question,
		MemoryID:  req.MemoryID,
		TS:        time.Now().UTC().UnixNano(),
	}
	if err := validation.ValidateSubmission(m); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := store.CreateMessage(m); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			// Redelivery of an unanswered submission re-enqueues; an answered
			// duplicate is a conflict.
			cur, getErr := store.GetMessage(m.ID)
			if getErr == nil && !cur.Answered() {
				s.enqueue(w, cur)
				return
			}
			utils.JSONError(w, http.StatusConflict, "message already exists")
			return
		}
		logger.Error("submit_create_failed", "session", sessionID, "id", m.ID, "error", err)
		utils.JSONError(w, http.StatusInternalServerError, "store write failed")
		return
	}
	if s, err := store.GetSession(sessionID); errors.Is(err, store.ErrNotFound) {
		// session is created implicitly by its first message
		_ = store.SaveSession(models.Session{ID: sessionID, CreatedTS: m.TS, UpdatedTS: m.TS})
	} else if err == nil {
		// every accepted submission counts as session activity; the
		// retention sweep keys idleness off UpdatedTS
		s.UpdatedTS = m.TS
		_ = store.SaveSession(s)
	}

	s.enqueue(w, m)
}

func (s *Server) enqueue(w http.ResponseWriter, m models.Message) {
	payload, err := json.Marshal(m)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "marshal failed")
		return
	}
	if err := s.queue.TryEnqueueBytes(m.SessionID, m.ID, payload, m.TS); err != nil {
		logger.Warn("submit_queue_rejected", "session", m.SessionID, "id", m.ID, "error", err)
		utils.JSONError(w, http.StatusServiceUnavailable, "dispatch queue full")
		return
	}
	_ = utils.JSONWrite(w, http.StatusAccepted, map[string]string{
		"id":        m.ID,
		"sessionId": m.SessionID,
		"status":    "pending",
	})
}

// listMessages returns a session's messages in chronological order.
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]
	limit := -1
	if ls := r.URL.Query().Get("limit"); ls != "" {
		n, err := strconv.Atoi(ls)
		if err != nil || n < 0 {
			utils.JSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	var (
		msgs []models.Message
		err  error
	)
	if limit >= 0 {
		msgs, err = store.ListBySession(sessionID, limit)
	} else {
		msgs, err = store.ListBySession(sessionID)
	}
	if err != nil {
		logger.Error("list_messages_failed", "session", sessionID, "error", err)
		utils.JSONError(w, http.StatusInternalServerError, "list failed")
		return
	}
	// ids are time-ordered; the store scan already yields them sorted, this
	// keeps the contract explicit
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		SessionID string           `json:"sessionId"`
		Messages  []models.Message `json:"messages"`
	}{SessionID: sessionID, Messages: msgs})
}

// getMessage returns one message by id.
func (s *Server) getMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	m, err := store.GetMessage(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.JSONError(w, http.StatusNotFound, "message not found")
			return
		}
		utils.JSONError(w, http.StatusInternalServerError, "read failed")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, m)
}

// listSessions returns all known sessions.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := store.ListSessions()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "list failed")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Sessions []models.Session `json:"sessions"`
	}{Sessions: sessions})
}

// processRecords runs a change-feed batch synchronously and reports partial
// failures so the feed redelivers only the failed records. Backend keys only.
func (s *Server) processRecords(w http.ResponseWriter, r *http.Request) {
	if auth.RoleFromRequest(r) != "backend" {
		utils.JSONError(w, http.StatusForbidden, "backend key required")
		return
	}
	var body struct {
		Records []dispatch.StreamRecord `json:"records"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	res := s.dispatcher.ProcessBatch(r.Context(), body.Records)
	logger.Info("batch_processed", "records", len(body.Records), "failures", len(res.Failures))
	_ = utils.JSONWrite(w, http.StatusOK, res)
}
