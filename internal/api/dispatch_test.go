package api

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/pointcarve/server/internal/registry"
)

func dispatch(t *testing.T, s *Server, msgType string, payload any) error {
	t.Helper()
	var data json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		data = encoded
	}
	return s.dispatchEngineMessage(&WebSocketMessage{Type: msgType, Data: data})
}

func TestDispatchMeshAttached(t *testing.T) {
	backend := fakeBackend(t)
	defer backend.Close()
	s := newTestServer(backend)

	s.registry.AddChunk("chunk0000_ground", registry.ChunkData{})
	done := s.registry.StartRenderSession(1)

	err := dispatch(t, s, "mesh_attached", map[string]any{
		"chunk_id": "chunk0000_ground",
		"node_id":  "node-7",
		"points":   [][3]float64{{0, 0, 0}, {1, 1, 1}},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	chunk, err := s.registry.Get("chunk0000_ground")
	if err != nil {
		t.Fatalf("get chunk: %v", err)
	}
	if chunk.PointCount() != 2 {
		t.Errorf("point count = %d, want 2", chunk.PointCount())
	}

	select {
	case <-done:
	default:
		t.Error("render session should resolve after the last mesh attaches")
	}
}

func TestDispatchMeshAttachedRetryDoesNotAdvanceBarrier(t *testing.T) {
	backend := fakeBackend(t)
	defer backend.Close()
	s := newTestServer(backend)

	s.registry.AddChunk("chunk0000_ground", registry.ChunkData{})
	s.registry.AddChunk("chunk0000_static", registry.ChunkData{})
	done := s.registry.StartRenderSession(2)

	attach := map[string]any{
		"chunk_id": "chunk0000_ground",
		"node_id":  "node-7",
		"points":   [][3]float64{{0, 0, 0}},
	}
	for i := 0; i < 2; i++ {
		if err := dispatch(t, s, "mesh_attached", attach); err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}

	select {
	case <-done:
		t.Fatal("a retried attach for one chunk resolved a two-chunk barrier")
	default:
	}

	err := dispatch(t, s, "mesh_attached", map[string]any{
		"chunk_id": "chunk0000_static",
		"node_id":  "node-8",
		"points":   [][3]float64{{1, 1, 1}},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	select {
	case <-done:
	default:
		t.Error("barrier unresolved after both chunks attached")
	}
}

func TestDispatchMeshAttachedUnknownChunk(t *testing.T) {
	backend := fakeBackend(t)
	defer backend.Close()
	s := newTestServer(backend)

	err := dispatch(t, s, "mesh_attached", map[string]any{
		"chunk_id": "nope",
		"node_id":  "node-1",
	})
	if err == nil {
		t.Fatal("expected error for unknown chunk")
	}
}

func TestDispatchBoxLifecycle(t *testing.T) {
	backend := fakeBackend(t)
	defer backend.Close()
	s := newTestServer(backend)

	s.registry.AddChunk("chunk0000_dynamic_0", registry.ChunkData{
		Points: []mgl64.Vec3{{0, 0, 0}, {0.5, 0.5, 0.5}},
	})

	err := dispatch(t, s, "set_box", map[string]any{
		"center":   [3]float64{0, 0, 0},
		"size":     [3]float64{2, 2, 2},
		"yaw":      0.0,
		"owner_id": "chunk0000_dynamic_0",
	})
	if err != nil {
		t.Fatalf("set_box: %v", err)
	}
	if _, _, ok := s.boxes.Active(); !ok {
		t.Fatal("expected an active box")
	}

	if err := dispatch(t, s, "set_fill_surface", map[string]any{"fill": true}); err != nil {
		t.Fatalf("set_fill_surface: %v", err)
	}

	if err := dispatch(t, s, "delete_box", nil); err != nil {
		t.Fatalf("delete_box: %v", err)
	}

	if s.registry.Has("chunk0000_dynamic_0") {
		t.Error("unedited deletion should remove the owning chunk")
	}
	deletions := s.boxes.Deletions()
	if len(deletions) != 1 {
		t.Fatalf("deletion log has %d entries, want 1", len(deletions))
	}
	if !deletions[0].FillSurface {
		t.Error("fill_surface flag lost")
	}
}

func TestDispatchResizeAxis(t *testing.T) {
	backend := fakeBackend(t)
	defer backend.Close()
	s := newTestServer(backend)

	if err := dispatch(t, s, "create_box_at", map[string]any{
		"position": [3]float64{1, 1, 1},
	}); err != nil {
		t.Fatalf("create_box_at: %v", err)
	}

	if err := dispatch(t, s, "resize_axis", map[string]any{
		"axis":  "x",
		"delta": 2.0,
	}); err != nil {
		t.Fatalf("resize_axis: %v", err)
	}

	box, _, ok := s.boxes.Active()
	if !ok {
		t.Fatal("expected an active box")
	}
	if box.Size.X() != 3 {
		t.Errorf("size x = %v, want 3", box.Size.X())
	}
	if !s.boxes.Resized() {
		t.Error("resize must mark the box edited")
	}
}

func TestDispatchResizeAxisInvalid(t *testing.T) {
	backend := fakeBackend(t)
	defer backend.Close()
	s := newTestServer(backend)

	err := dispatch(t, s, "resize_axis", map[string]any{
		"axis":  "w",
		"delta": 1.0,
	})
	if err == nil {
		t.Fatal("expected validation error for unknown axis")
	}
}

func TestDispatchVisibilityAndFocus(t *testing.T) {
	backend := fakeBackend(t)
	defer backend.Close()
	s := newTestServer(backend)

	s.registry.AddChunk("chunk0001_static", registry.ChunkData{})

	if err := dispatch(t, s, "set_visibility", map[string]any{
		"chunk_id": "chunk0001_static",
		"visible":  false,
	}); err != nil {
		t.Fatalf("set_visibility: %v", err)
	}
	chunk, err := s.registry.Get("chunk0001_static")
	if err != nil {
		t.Fatalf("get chunk: %v", err)
	}
	if chunk.Visible {
		t.Error("chunk should be hidden")
	}

	if err := dispatch(t, s, "pulse_chunk", map[string]any{
		"chunk_id": "chunk0001_static",
		"color":    "#ff0000",
	}); err != nil {
		t.Fatalf("pulse_chunk: %v", err)
	}
	if got := s.registry.HighlightedGroup(); got != "chunk0001" {
		t.Errorf("highlighted group = %q, want chunk0001", got)
	}

	if err := dispatch(t, s, "focus_group", map[string]any{
		"base_id": "chunk0001",
	}); err != nil {
		t.Fatalf("focus_group: %v", err)
	}
}

func TestDispatchUnknownType(t *testing.T) {
	backend := fakeBackend(t)
	defer backend.Close()
	s := newTestServer(backend)

	if err := dispatch(t, s, "self_destruct", nil); err == nil {
		t.Fatal("expected error for unknown message type")
	}
}

func TestDispatchRejectsMissingFields(t *testing.T) {
	backend := fakeBackend(t)
	defer backend.Close()
	s := newTestServer(backend)

	// chunk_id is required on visibility commands.
	err := dispatch(t, s, "set_visibility", map[string]any{"visible": true})
	if err == nil {
		t.Fatal("expected validation error for missing chunk_id")
	}
}

func TestCORSPreflight(t *testing.T) {
	backend := fakeBackend(t)
	defer backend.Close()
	s := newTestServer(backend)

	req := httptest.NewRequest("OPTIONS", "/api/jobs", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := doRequest(s, req)
	if rec.Code != 204 {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("allow-origin = %q", got)
	}
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	backend := fakeBackend(t)
	defer backend.Close()
	s := newTestServer(backend)

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec := doRequest(s, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("allow-origin = %q for an origin outside the configured list", got)
	}
}
