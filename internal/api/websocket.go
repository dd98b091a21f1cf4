package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pointcarve/server/internal/events"
	"github.com/pointcarve/server/internal/geometry"
)

const (
	// Default ping interval (30 seconds)
	defaultPingInterval = 30 * time.Second

	// Pong wait timeout (60 seconds)
	pongWait = 60 * time.Second

	// Write timeout (10 seconds)
	writeTimeout = 10 * time.Second
)

// Connection represents an active rendering-client WebSocket connection
type Connection struct {
	conn *websocket.Conn
	id   string
	send chan []byte
	hub  *Hub
}

// Hub manages all active WebSocket connections
type Hub struct {
	connections map[*Connection]bool
	broadcast   chan []byte
	register    chan *Connection
	unregister  chan *Connection
	mu          sync.RWMutex
}

// WebSocketMessage is the envelope for both directions: engine events out,
// editing commands in.
type WebSocketMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// WebSocketError represents an error message sent over WebSocket
type WebSocketError struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		connections: make(map[*Connection]bool),
		broadcast:   make(chan []byte, 256),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn] = true
			h.mu.Unlock()
			log.Printf("WebSocket connection registered: id=%s", conn.id)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn]; ok {
				delete(h.connections, conn)
				close(conn.send)
			}
			h.mu.Unlock()
			log.Printf("WebSocket connection unregistered: id=%s", conn.id)

		case message := <-h.broadcast:
			// Stalled connections are dropped here, so the branch needs the
			// write lock.
			h.mu.Lock()
			for conn := range h.connections {
				select {
				case conn.send <- message:
				default:
					close(conn.send)
					delete(h.connections, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(message []byte) {
	h.broadcast <- message
}

// HandleWebSocket handles WebSocket connection upgrades on /ws
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Non-browser clients (editing tools) send no Origin
				return true
			}
			return originAllowed(origin, s.config.Server.AllowedOrigins)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := &Connection{
		conn: conn,
		id:   uuid.NewString(),
		send: make(chan []byte, 256),
		hub:  s.hub,
	}

	s.hub.register <- wsConn

	go wsConn.writePump()
	go wsConn.readPump(s)
}

// readPump handles incoming messages from the WebSocket connection
func (c *Connection) readPump(s *Server) {
	defer func() {
		c.hub.unregister <- c
		if err := c.conn.Close(); err != nil {
			log.Printf("Failed to close connection: %v", err)
		}
	}()

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			log.Printf("Failed to set read deadline in pong handler: %v", err)
			return err
		}
		return nil
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var msg WebSocketMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			c.sendError("Invalid message format", "InvalidMessageFormat")
			continue
		}

		if err := s.dispatchEngineMessage(&msg); err != nil {
			c.sendError(err.Error(), "CommandFailed")
		}
	}
}

// writePump handles outgoing messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(defaultPingInterval)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil {
			log.Printf("Failed to close connection: %v", err)
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				log.Printf("Failed to set write deadline: %v", err)
				return
			}
			if !ok {
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					log.Printf("Failed to write close message: %v", err)
				}
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				log.Printf("Failed to set write deadline for ping: %v", err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendError sends an error message to the client
func (c *Connection) sendError(errorMsg, code string) {
	errorResp := WebSocketError{
		Type:    "error",
		Error:   errorMsg,
		Message: errorMsg,
		Code:    code,
	}

	messageBytes, err := json.Marshal(errorResp)
	if err != nil {
		log.Printf("Failed to marshal error message: %v", err)
		return
	}

	select {
	case c.send <- messageBytes:
	default:
		log.Printf("Failed to send error message: channel full")
	}
}

// Inbound command payloads.
type meshAttachedPayload struct {
	ChunkID string       `json:"chunk_id" validate:"required"`
	NodeID  string       `json:"node_id" validate:"required"`
	Points  [][3]float64 `json:"points"`
}

type boxPayload struct {
	Center  [3]float64 `json:"center"`
	Size    [3]float64 `json:"size"`
	Yaw     float64    `json:"yaw"`
	OwnerID string     `json:"owner_id"`
}

type resizePayload struct {
	Axis  string  `json:"axis" validate:"required,oneof=x y z"`
	Delta float64 `json:"delta"`
}

type fillSurfacePayload struct {
	Fill bool `json:"fill"`
}

type visibilityPayload struct {
	ChunkID string `json:"chunk_id" validate:"required"`
	Visible bool   `json:"visible"`
}

type focusPayload struct {
	BaseID string `json:"base_id" validate:"required"`
}

type pulsePayload struct {
	ChunkID string `json:"chunk_id" validate:"required"`
	Color   string `json:"color"`
}

type createBoxPayload struct {
	Position [3]float64 `json:"position"`
}

type boxRefPayload struct {
	ChunkID string `json:"chunk_id" validate:"required"`
	NodeID  string `json:"node_id" validate:"required"`
}

// dispatchEngineMessage applies one editing command to the engine. Errors
// are reported back to the sending client only; commands never crash the
// connection.
func (s *Server) dispatchEngineMessage(msg *WebSocketMessage) error {
	switch msg.Type {
	case "mesh_attached":
		var p meshAttachedPayload
		if err := s.decodePayload(msg.Data, &p); err != nil {
			return err
		}
		// A client retry re-reports the same node; it must not replace the
		// handle (and so must not re-advance the render barrier or release
		// the node's mesh).
		if chunk, err := s.registry.Get(p.ChunkID); err == nil {
			if existing, ok := chunk.Mesh().(*remoteMesh); ok && existing.nodeID == p.NodeID {
				return nil
			}
		}
		mesh := newRemoteMesh(s.hub, p.ChunkID, p.NodeID, p.Points)
		if err := s.registry.AttachMesh(p.ChunkID, mesh); err != nil {
			return fmt.Errorf("attach mesh %s: %w", p.ChunkID, err)
		}
		return nil

	case "set_box":
		var p boxPayload
		if err := s.decodePayload(msg.Data, &p); err != nil {
			return err
		}
		box := geometry.NewOBB(mgl64.Vec3(p.Center), mgl64.Vec3(p.Size), p.Yaw)
		if err := s.boxes.SetBox(box, p.OwnerID); err != nil {
			return fmt.Errorf("set box: %w", err)
		}
		return nil

	case "commit_transform":
		var p boxPayload
		if err := s.decodePayload(msg.Data, &p); err != nil {
			return err
		}
		s.boxes.CommitTransform(mgl64.Vec3(p.Center), mgl64.Vec3(p.Size), p.Yaw)
		return nil

	case "resize_axis":
		var p resizePayload
		if err := s.decodePayload(msg.Data, &p); err != nil {
			return err
		}
		axis, err := parseAxis(p.Axis)
		if err != nil {
			return err
		}
		s.boxes.ResizeAxis(axis, p.Delta)
		return nil

	case "set_fill_surface":
		var p fillSurfacePayload
		if err := s.decodePayload(msg.Data, &p); err != nil {
			return err
		}
		s.boxes.SetFillSurface(p.Fill)
		return nil

	case "delete_box":
		if err := s.boxes.DeleteBox(); err != nil {
			return fmt.Errorf("delete box: %w", err)
		}
		return nil

	case "cancel_box":
		s.boxes.Cancel()
		return nil

	case "set_visibility":
		var p visibilityPayload
		if err := s.decodePayload(msg.Data, &p); err != nil {
			return err
		}
		if err := s.registry.SetVisibility(p.ChunkID, p.Visible); err != nil {
			return fmt.Errorf("set visibility %s: %w", p.ChunkID, err)
		}
		return nil

	case "focus_group":
		var p focusPayload
		if err := s.decodePayload(msg.Data, &p); err != nil {
			return err
		}
		s.registry.FocusGroup(p.BaseID)
		return nil

	case "pulse_chunk":
		var p pulsePayload
		if err := s.decodePayload(msg.Data, &p); err != nil {
			return err
		}
		if err := s.registry.PulseChunk(p.ChunkID, p.Color); err != nil {
			return fmt.Errorf("pulse chunk %s: %w", p.ChunkID, err)
		}
		return nil

	case "create_box_at":
		var p createBoxPayload
		if err := s.decodePayload(msg.Data, &p); err != nil {
			return err
		}
		s.boxes.SetBoxAt(mgl64.Vec3(p.Position))
		return nil

	case "box_ref":
		var p boxRefPayload
		if err := s.decodePayload(msg.Data, &p); err != nil {
			return err
		}
		s.bus.Publish(events.KindBoxRef, events.BoxRef{ChunkID: p.ChunkID, Handle: p.NodeID})
		return nil

	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

func (s *Server) decodePayload(data json.RawMessage, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func parseAxis(s string) (geometry.Axis, error) {
	switch s {
	case "x":
		return geometry.AxisX, nil
	case "y":
		return geometry.AxisY, nil
	case "z":
		return geometry.AxisZ, nil
	}
	return 0, fmt.Errorf("unknown axis %q", s)
}
