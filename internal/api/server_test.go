package api

import (
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/pointcarve/server/internal/bbox"
	"github.com/pointcarve/server/internal/config"
	"github.com/pointcarve/server/internal/events"
	"github.com/pointcarve/server/internal/pipeline"
	"github.com/pointcarve/server/internal/registry"
)

// newTestServer builds a Server wired to a fake processing backend.
func newTestServer(backend *httptest.Server) *Server {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Host:           "127.0.0.1",
			Port:           "0",
			Environment:    "development",
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		Pipeline: config.PipelineConfig{
			BaseURL:        backend.URL,
			Timeout:        5 * time.Second,
			RetryCount:     1,
			MaxUploadBytes: 1 << 20,
		},
		RateLimit: config.RateLimitConfig{
			UploadLimit:  1000,
			UploadWindow: time.Minute,
		},
	}

	bus := events.NewBus()
	reg := registry.New(bus)
	boxes := bbox.NewManager(reg, bus)
	client := pipeline.NewClient(cfg)

	return NewServer(cfg, reg, boxes, client, bus)
}

func doRequest(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	return rec
}
