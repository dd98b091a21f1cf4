package main

import (
	"log"
	"net"
	"net/http"

	"github.com/pointcarve/server/internal/api"
	"github.com/pointcarve/server/internal/bbox"
	"github.com/pointcarve/server/internal/config"
	"github.com/pointcarve/server/internal/events"
	"github.com/pointcarve/server/internal/pipeline"
	"github.com/pointcarve/server/internal/registry"
)

// main starts the point-cloud editing server: HTTP routes for job upload
// and export, plus the WebSocket endpoint the rendering client drives the
// chunk registry and bounding-box engine through.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	bus := events.NewBus()
	reg := registry.New(bus)
	boxes := bbox.NewManager(reg, bus)
	client := pipeline.NewClient(cfg)
	server := api.NewServer(cfg, reg, boxes, client, bus)

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	log.Printf("PointCarve server starting on %s (pipeline: %s)", addr, cfg.Pipeline.BaseURL)
	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
