package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/pointcarve/server/internal/bbox"
	"github.com/pointcarve/server/internal/config"
	"github.com/pointcarve/server/internal/events"
	"github.com/pointcarve/server/internal/pipeline"
	"github.com/pointcarve/server/internal/registry"
)

// Server wires the HTTP and WebSocket surface to the editing engine.
type Server struct {
	config   *config.Config
	registry *registry.Registry
	boxes    *bbox.Manager
	pipeline *pipeline.Client
	bus      *events.Bus
	hub      *Hub
	validate *validator.Validate
}

// NewServer creates the API server and starts its connection hub. Engine
// events published on the bus are forwarded to every connected client.
func NewServer(cfg *config.Config, reg *registry.Registry, boxes *bbox.Manager, client *pipeline.Client, bus *events.Bus) *Server {
	s := &Server{
		config:   cfg,
		registry: reg,
		boxes:    boxes,
		pipeline: client,
		bus:      bus,
		hub:      NewHub(),
		validate: validator.New(),
	}

	go s.hub.Run()
	s.bridgeEvents()

	return s
}

// Routes builds the HTTP mux. Upload endpoints are rate limited per
// client IP; everything passes through the CORS middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	cors := CORSMiddleware(s.config.Server.AllowedOrigins)
	uploadLimit := RateLimitMiddleware(s.config.RateLimit.UploadLimit, s.config.RateLimit.UploadWindow)

	mux.Handle("/api/jobs", cors(uploadLimit(http.HandlerFunc(s.handleJobs))))
	mux.Handle("/api/jobs/", cors(http.HandlerFunc(s.handleJobByID)))
	mux.Handle("/health", cors(http.HandlerFunc(s.handleHealth)))
	mux.HandleFunc("/ws", s.HandleWebSocket)

	return mux
}

// bridgeEvents forwards engine signals to the rendering clients as
// {type, data} envelopes.
func (s *Server) bridgeEvents() {
	kinds := []events.Kind{
		events.KindFocusChunkGroup,
		events.KindPulseChunk,
		events.KindCreateBoxAt,
		events.KindBindBox,
		events.KindBoxDeleted,
	}
	for _, kind := range kinds {
		k := kind
		s.bus.Subscribe(k, func(payload any) {
			s.broadcastMessage(string(k), payload)
		})
	}
}

func (s *Server) broadcastMessage(msgType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[API] failed to marshal %s payload: %v", msgType, err)
		return
	}
	msg, err := json.Marshal(WebSocketMessage{Type: msgType, Data: data})
	if err != nil {
		log.Printf("[API] failed to marshal %s message: %v", msgType, err)
		return
	}
	s.hub.Broadcast(msg)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"chunks": s.registry.Len(),
	})
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		log.Printf("Failed to encode error response: %v", err)
	}
}

// respondWithJSON sends a JSON response
func respondWithJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Failed to encode JSON response: %v", err)
	}
}
