package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/dontdude/feedrelay/internal/domain"
	"github.com/gorilla/websocket"
)

// Publisher is the enqueue side of domain.JobQueue.
type Publisher interface {
	Publish(ctx context.Context, job domain.Job) error
}

type submitRequest struct {
	ChatID int64  `json:"chat_id"`
	Link   string `json:"link"`
	Title  string `json:"title"`
}

// HandleSubmit creates a closure to inject the Queue dependency.
// Submissions are accepted whether or not dispatch is currently paused.
func HandleSubmit(q Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		req.Link = strings.TrimSpace(req.Link)
		if req.ChatID == 0 || req.Link == "" {
			http.Error(w, "chat_id and link are required", http.StatusBadRequest)
			return
		}

		job := domain.NewJob(req.ChatID, domain.FeedItem{Link: req.Link, Title: req.Title})

		slog.Info("Received submission", "jobID", job.ID, "chatID", job.ChatID)
		if err := q.Publish(r.Context(), job); err != nil {
			slog.Error("Failed to publish job", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"job_id": job.ID,
			"status": string(domain.StatusPending),
		})
	}
}

// Hub maps job IDs to the WebSocket connection following that job.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*websocket.Conn
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*websocket.Conn)}
}

func (h *Hub) register(jobID string, conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[jobID] = conn
	h.mu.Unlock()
}

func (h *Hub) unregister(jobID string, conn *websocket.Conn) {
	h.mu.Lock()
	if h.clients[jobID] == conn {
		delete(h.clients, jobID)
	}
	h.mu.Unlock()
}

// Forward relays events to the client registered for each event's job until
// events is closed. It is the only writer to the connections.
func (h *Hub) Forward(events <-chan domain.Event) {
	slog.Info("Starting event broadcaster...")

	for ev := range events {
		if ev.JobID == "" {
			continue
		}

		h.mu.RLock()
		conn, exists := h.clients[ev.JobID]
		h.mu.RUnlock()

		if !exists {
			continue
		}
		if err := conn.WriteJSON(ev); err != nil {
			slog.Error("Failed to write to websocket", "jobID", ev.JobID, "error", err)
		}
	}
}

// WebSocket Upgrader (Gorilla)
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // Allow all origins for dev
}

// HandleWS upgrades the connection and registers it to the hub for ?job_id=.
func HandleWS(h *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := r.URL.Query().Get("job_id")
		if jobID == "" {
			http.Error(w, "job_id is required", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("WebSocket upgrade failed", "error", err)
			return
		}

		slog.Info("Client connected via WebSocket", "remoteAddr", conn.RemoteAddr(), "jobID", jobID)
		h.register(jobID, conn)

		defer func() {
			slog.Info("Client disconnected", "jobID", jobID)
			h.unregister(jobID, conn)
			conn.Close()
		}()

		// Keep the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}
}

// EnableCORS adds headers to allow requests from the frontend.
func EnableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		// Handle Preflight OPTIONS request
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter registers the API routes.
func NewRouter(q Publisher, hub *Hub, limiter *RateLimiter) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/send", limiter.Middleware(HandleSubmit(q)))
	mux.HandleFunc("GET /api/ws", HandleWS(hub))
	return EnableCORS(mux)
}
