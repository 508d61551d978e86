package status

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fittrack/backend/internal/errors"
	"github.com/fittrack/backend/internal/logging"
	"github.com/fittrack/backend/internal/models"
	syncpkg "github.com/fittrack/backend/internal/sync"
	"github.com/fittrack/backend/internal/sync/scheduler"
)

// Scheduler is the scheduler surface the API exposes.
type Scheduler interface {
	GetStatus() scheduler.SchedulerStatus
	SyncNow(ctx context.Context) (syncpkg.SyncResult, error)
}

// Queue lists queued mutations.
type Queue interface {
	Pending(ctx context.Context) ([]*models.MutationRecord, error)
	Parked(ctx context.Context) ([]*models.MutationRecord, error)
}

// Server serves the status API and the WebSocket feed.
type Server struct {
	addr     string
	hub      *Hub
	sched    Scheduler
	queue    Queue
	upgrader websocket.Upgrader
}

// NewServer creates a status server listening on addr.
func NewServer(addr string, hub *Hub, sched Scheduler, queue Queue) *Server {
	return &Server{
		addr:  addr,
		hub:   hub,
		sched: sched,
		queue: queue,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     localOrigin,
		},
	}
}

// localOrigin accepts requests without an Origin header and browser
// requests from loopback pages.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/queue", s.handleQueue)
	mux.HandleFunc("POST /api/sync", s.handleSync)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("status server listening", map[string]interface{}{"address": s.addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Warn("failed to write status response", map[string]interface{}{"error": err.Error()})
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]interface{}{
		"error": err.Error(),
		"code":  string(errors.CodeOf(err)),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"clients":   s.hub.Clients(),
		"timestamp": time.Now().Unix(),
	})
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	scheduler.SchedulerStatus
	ParkedItems int `json:"parked_items"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	parked, err := s.queue.Parked(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		SchedulerStatus: s.sched.GetStatus(),
		ParkedItems:     len(parked),
	})
}

// QueueResponse is the body of GET /api/queue.
type QueueResponse struct {
	Pending []*models.MutationRecord `json:"pending"`
	Parked  []*models.MutationRecord `json:"parked"`
}

// handleQueue lists queued mutations. ?limit=N caps each list.
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New(errors.ErrInvalid, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	pending, err := s.queue.Pending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	parked, err := s.queue.Parked(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, QueueResponse{
		Pending: capRecords(pending, limit),
		Parked:  capRecords(parked, limit),
	})
}

func capRecords(recs []*models.MutationRecord, limit int) []*models.MutationRecord {
	if recs == nil {
		return []*models.MutationRecord{}
	}
	if limit > 0 && len(recs) > limit {
		return recs[:limit]
	}
	return recs
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.sched.SyncNow(r.Context())
	if err != nil {
		if errors.Is(err, errors.ErrSyncInProgress) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.hub.BroadcastCompleted(result)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	c := &client{
		id:            time.Now().Format("20060102150405") + "-" + r.RemoteAddr,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		hub:           s.hub,
		subscriptions: make(map[string]bool),
	}

	select {
	case s.hub.register <- c:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
