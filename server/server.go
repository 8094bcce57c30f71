// Package server exposes a mediapod.Pod over HTTP and streams session updates
// to websocket observers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/robfig/cron/v3"

	"github.com/boat-builder/mediapod"
)

const defaultIdleTimeout = 30 * time.Minute

type Config struct {
	Pod *mediapod.Pod
	// Storage is optional. Without it sessions live only in memory.
	Storage mediapod.Storage
	// IdleTimeout closes live sessions nobody used for this long.
	IdleTimeout time.Duration
	Logger      *slog.Logger
}

type liveSession struct {
	sess         *mediapod.Session
	mu           sync.Mutex
	lastActivity time.Time
	// invoke serializes agent runs so output messages follow invocation order.
	invoke sync.Mutex
}

func (l *liveSession) touch() {
	l.mu.Lock()
	l.lastActivity = time.Now()
	l.mu.Unlock()
}

func (l *liveSession) idleSince() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastActivity
}

type Server struct {
	pod         *mediapod.Pod
	storage     mediapod.Storage
	hub         *Hub
	upgrader    websocket.Upgrader
	idleTimeout time.Duration
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*liveSession
	wg       sync.WaitGroup

	cron *cron.Cron
}

func New(cfg Config) (*Server, error) {
	if cfg.Pod == nil {
		return nil, errors.New("pod is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		pod:         cfg.Pod,
		storage:     cfg.Storage,
		hub:         NewHub(cfg.Logger),
		idleTimeout: cfg.IdleTimeout,
		logger:      cfg.Logger,
		ctx:         ctx,
		cancel:      cancel,
		sessions:    make(map[string]*liveSession),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /agents", s.handleAgents)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /sessions/{id}/agents/{name}", s.handleInvoke)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return mux
}

// StartMaintenance schedules the idle session sweep and the storage health
// check on a cron schedule such as "@every 5m".
func (s *Server) StartMaintenance(schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, s.Sweep); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.logger.Info("Maintenance scheduled", "schedule", schedule)
	return nil
}

// Sweep closes idle sessions and checks the storage.
func (s *Server) Sweep() {
	cutoff := time.Now().Add(-s.idleTimeout)
	s.mu.Lock()
	idle := map[string]*liveSession{}
	for id, l := range s.sessions {
		if !l.idleSince().Before(cutoff) || s.hub.Count(id) > 0 {
			continue
		}
		// a running invocation keeps its session alive
		if l.invoke.TryLock() {
			idle[id] = l
		}
	}
	s.mu.Unlock()
	for id, l := range idle {
		s.closeSession(id)
		l.invoke.Unlock()
	}
	if len(idle) > 0 {
		s.logger.Info("Closed idle sessions", "count", len(idle))
	}

	if s.storage != nil {
		ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
		defer cancel()
		if err := s.storage.HealthCheck(ctx); err != nil {
			s.logger.Error("Storage health check failed", "error", err)
		}
	}
}

// Shutdown stops maintenance and closes every live session.
func (s *Server) Shutdown() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.closeSession(id)
	}
	s.cancel()
	s.wg.Wait()
}

func (s *Server) track(sess *mediapod.Session) *liveSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.sessions[sess.ID()]; ok {
		sess.Close()
		return l
	}
	l := &liveSession{sess: sess, lastActivity: time.Now()}
	s.sessions[sess.ID()] = l
	s.wg.Add(1)
	go s.pump(sess)
	return l
}

// pump forwards session updates to the hub until the session ends, then
// disconnects its observers.
func (s *Server) pump(sess *mediapod.Session) {
	defer s.wg.Done()
	for {
		u := sess.Out()
		s.hub.Broadcast(u)
		if u.Type == mediapod.UpdateTypeEnd {
			s.hub.CloseSession(sess.ID())
			return
		}
	}
}

// live returns the live session, restoring it from storage when needed.
func (s *Server) live(id string) (*liveSession, error) {
	s.mu.Lock()
	l, ok := s.sessions[id]
	s.mu.Unlock()
	if ok {
		l.touch()
		return l, nil
	}
	if s.storage == nil {
		return nil, mediapod.ErrSessionNotFound
	}
	sess, err := s.pod.LoadSession(s.ctx, id)
	if err != nil {
		return nil, err
	}
	return s.track(sess), nil
}

func (s *Server) closeSession(id string) {
	s.mu.Lock()
	l, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	l.sess.Close()
}

type createSessionRequest struct {
	CollectionID string         `json:"collection_id"`
	VideoID      string         `json:"video_id"`
	Metadata     map[string]any `json:"metadata"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sess, err := s.pod.NewSession(s.ctx, req.CollectionID, req.VideoID, req.Metadata)
	if err != nil {
		s.logger.Error("Failed to create session", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.track(sess)
	writeJSON(w, http.StatusCreated, sess.Record())
}

type sessionResponse struct {
	mediapod.SessionRecord
	Messages []mediapod.MessageRecord `json:"conversation"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	l, err := s.live(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{SessionRecord: l.sess.Record(), Messages: l.sess.Messages()})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.mu.Lock()
		out := make([]mediapod.SessionRecord, 0, len(s.sessions))
		for _, l := range s.sessions {
			out = append(out, l.sess.Record())
		}
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, out)
		return
	}
	sessions, err := s.storage.ListSessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.closeSession(id)
	if s.storage != nil {
		if err := s.storage.DeleteSession(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type invokeRequest struct {
	// Input, when set, is recorded as the user message of a new turn.
	Input  string          `json:"input"`
	Params mediapod.Params `json:"params"`
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	l, err := s.live(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	name := r.PathValue("name")
	if _, ok := s.pod.Agent(name); !ok {
		writeError(w, http.StatusNotFound, "unknown agent "+name)
		return
	}

	l.invoke.Lock()
	defer l.invoke.Unlock()
	if req.Input != "" {
		if _, err := l.sess.AddInput(r.Context(), req.Input); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	resp := s.pod.Invoke(r.Context(), l.sess, name, req.Params)
	l.touch()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pod.Agents())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.storage != nil {
		if err := s.storage.HealthCheck(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	l, err := s.live(sessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	clientID, err := gonanoid.New()
	if err != nil {
		conn.Close()
		return
	}
	s.hub.Subscribe(sessionID, clientID, conn)
	l.touch()
	s.logger.Info("Observer connected", "session_id", sessionID, "client_id", clientID)

	// observers only listen; reading detects the disconnect
	go func() {
		defer func() {
			s.hub.Unsubscribe(sessionID, clientID)
			conn.Close()
			s.logger.Info("Observer disconnected", "session_id", sessionID, "client_id", clientID)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, mediapod.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
