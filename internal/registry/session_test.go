package registry

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func signalClosed(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}

func TestStartRenderSessionZeroResolvesImmediately(t *testing.T) {
	r := newTestRegistry()

	done := r.StartRenderSession(0)
	if !signalClosed(done) {
		t.Errorf("zero-count session signal must close immediately")
	}
	if r.RenderSessionOutstanding() {
		t.Errorf("no session should remain outstanding")
	}
}

func TestRenderSessionResolvesAfterExpectedAttachments(t *testing.T) {
	r := newTestRegistry()
	for _, id := range []string{"a_ground", "a_static", "a_dynamic_0", "a_dynamic_1"} {
		r.AddChunk(id, ChunkData{})
	}

	done := r.StartRenderSession(3)

	for i, id := range []string{"a_ground", "a_static"} {
		if err := r.AttachMesh(id, &fakeMesh{points: []mgl64.Vec3{{0, 0, 0}}}); err != nil {
			t.Fatalf("AttachMesh %d failed: %v", i, err)
		}
		if signalClosed(done) {
			t.Fatalf("signal closed after %d attachments, expected 3 required", i+1)
		}
	}

	if err := r.AttachMesh("a_dynamic_0", &fakeMesh{}); err != nil {
		t.Fatalf("AttachMesh failed: %v", err)
	}
	if !signalClosed(done) {
		t.Fatalf("signal not closed after 3 attachments")
	}
	if r.RenderSessionOutstanding() {
		t.Errorf("session not torn down after resolution")
	}

	// A 4th attachment must neither panic nor re-resolve anything.
	if err := r.AttachMesh("a_dynamic_1", &fakeMesh{}); err != nil {
		t.Fatalf("post-resolution AttachMesh failed: %v", err)
	}
}

func TestRenderSessionSameHandleDoesNotAdvanceBarrier(t *testing.T) {
	r := newTestRegistry()
	r.AddChunk("a_ground", ChunkData{})
	r.AddChunk("a_static", ChunkData{})

	done := r.StartRenderSession(2)
	mesh := &fakeMesh{}
	if err := r.AttachMesh("a_ground", mesh); err != nil {
		t.Fatalf("AttachMesh failed: %v", err)
	}
	// Idempotent re-attach of the same handle is a no-op.
	if err := r.AttachMesh("a_ground", mesh); err != nil {
		t.Fatalf("repeat AttachMesh failed: %v", err)
	}
	if signalClosed(done) {
		t.Fatalf("signal closed after one distinct attachment, expected 2 required")
	}

	if err := r.AttachMesh("a_static", &fakeMesh{}); err != nil {
		t.Fatalf("AttachMesh failed: %v", err)
	}
	if !signalClosed(done) {
		t.Errorf("signal not closed after 2 distinct attachments")
	}
}

func TestRenderSessionRestartSupersedesPrevious(t *testing.T) {
	r := newTestRegistry()
	r.AddChunk("a_ground", ChunkData{})
	r.AddChunk("b_ground", ChunkData{})

	first := r.StartRenderSession(2)
	if err := r.AttachMesh("a_ground", &fakeMesh{}); err != nil {
		t.Fatalf("AttachMesh failed: %v", err)
	}

	second := r.StartRenderSession(1)
	if err := r.AttachMesh("b_ground", &fakeMesh{}); err != nil {
		t.Fatalf("AttachMesh failed: %v", err)
	}

	if !signalClosed(second) {
		t.Errorf("restarted session did not resolve")
	}
	if signalClosed(first) {
		t.Errorf("superseded session resolved; its signal must stay pending forever")
	}
}
