// Package bbox owns the single active oriented bounding box, the deletion
// semantics applied when it commits, and the export log of committed
// deletions.
package bbox

import (
	"fmt"
	"log"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/pointcarve/server/internal/events"
	"github.com/pointcarve/server/internal/geometry"
	"github.com/pointcarve/server/internal/registry"
)

// DefaultBoxSize is the per-axis extent of a standalone box created at a
// focus point.
const DefaultBoxSize = 1.0

// Deletion is an immutable world-frame snapshot of one committed box
// deletion. Entries are appended once per commit and never mutated; the
// wire shape matches the upstream export contract.
type Deletion struct {
	Center      [3]float64 `json:"center"`
	Size        [3]float64 `json:"size"`
	Yaw         float64    `json:"yaw"`
	FillSurface bool       `json:"fill_surface"`
}

// activeBox is the session's single editable box. The resized flag switches
// DeleteBox between whole-chunk removal and per-point carving.
type activeBox struct {
	box         geometry.OBB
	ownerID     string
	parent      *mgl64.Mat4
	resized     bool
	fillSurface bool
}

// Manager drives the active-box state machine. It reads chunk records and
// writes only through the registry's removal/visibility/points API.
type Manager struct {
	mu       sync.Mutex
	registry *registry.Registry
	bus      *events.Bus
	active   *activeBox
	log      []Deletion

	// overlays maps chunk ids to the rendering surface's box overlay
	// handles, obtained via the bind-box/box-ref exchange. The handles are
	// never stored on chunk records.
	overlays map[string]any
}

// NewManager creates a box session manager over the given registry and bus.
func NewManager(reg *registry.Registry, bus *events.Bus) *Manager {
	return &Manager{
		registry: reg,
		bus:      bus,
		overlays: make(map[string]any),
	}
}

// SetBox activates a box descriptor. An ownerID ties the box to an existing
// chunk (usually a dynamic detection) and adopts that chunk's world transform
// as the box's parent frame; pass "" for a standalone box. Any previously
// active box is replaced unlogged.
func (m *Manager) SetBox(box geometry.OBB, ownerID string) error {
	var parent *mgl64.Mat4
	if ownerID != "" {
		chunk, err := m.registry.Get(ownerID)
		if err != nil {
			return fmt.Errorf("box owner: %w", err)
		}
		transform := chunk.Transform
		parent = &transform
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = &activeBox{
		box:     geometry.NewOBB(box.Center, box.Size, box.Yaw),
		ownerID: ownerID,
		parent:  parent,
	}
	return nil
}

// SetBoxAt activates a standalone, unowned box of default size centered at a
// focus point and asks the rendering surface to show it.
func (m *Manager) SetBoxAt(position mgl64.Vec3) {
	m.mu.Lock()
	m.active = &activeBox{
		box: geometry.NewOBB(position, mgl64.Vec3{DefaultBoxSize, DefaultBoxSize, DefaultBoxSize}, 0),
	}
	m.mu.Unlock()

	m.bus.Publish(events.KindCreateBoxAt, events.CreateBoxAt{Position: position})
}

// CommitTransform records the authoritative world-frame center/size/yaw the
// rendering surface reports after a user-driven transform, and marks the box
// resized. The reported pose is already world-frame, so the owner's parent
// frame no longer applies to the descriptor. With no active box it is a
// no-op.
func (m *Manager) CommitTransform(center, size mgl64.Vec3, yaw float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return
	}
	m.active.box = geometry.NewOBB(center, size, yaw)
	m.active.parent = nil
	m.active.resized = true
}

// ResizeAxis applies an anchored one-sided resize to the active box along one
// of its local axes and marks it resized. With no active box it is a no-op.
func (m *Manager) ResizeAxis(axis geometry.Axis, delta float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return
	}
	_, worldRotation := m.active.box.WorldPose(m.active.parent)
	m.active.box = geometry.ResizeOneSided(m.active.box, worldRotation, axis, delta)
	m.active.resized = true
}

// MarkResized switches an unedited box to resized without changing its
// descriptor.
func (m *Manager) MarkResized() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		m.active.resized = true
	}
}

// SetFillSurface annotates the active box so the exported deletion asks the
// upstream service to synthesize ground points under the removed volume.
func (m *Manager) SetFillSurface(fill bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		m.active.fillSurface = fill
	}
}

// Active returns the active box descriptor and its owner chunk id.
// ok is false when no box is active.
func (m *Manager) Active() (box geometry.OBB, ownerID string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return geometry.OBB{}, "", false
	}
	return m.active.box, m.active.ownerID, true
}

// Resized reports whether the active box has been edited since activation.
func (m *Manager) Resized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil && m.active.resized
}

// Cancel discards the active box without logging anything.
func (m *Manager) Cancel() {
	m.mu.Lock()
	had := m.active != nil
	m.active = nil
	m.mu.Unlock()

	if had {
		m.bus.Publish(events.KindBoxDeleted, events.BoxDeleted{})
	}
}

// ClearAllBoxes discards the active box without logging. Used when switching
// sessions.
func (m *Manager) ClearAllBoxes() {
	m.Cancel()
}

// DeleteBox commits the active box. An unedited box with an owner removes the
// owner chunk wholesale; a resized box carves the enclosed points out of
// every visible chunk (hiding, not deleting, chunks it empties) and then
// removes the owner if one is set. Exactly one deletion-log entry is appended
// per commit. With no active box the call is a no-op, not an error.
func (m *Manager) DeleteBox() error {
	m.mu.Lock()
	active := m.active
	if active == nil {
		m.mu.Unlock()
		log.Printf("[Bbox] delete requested with no active box; ignoring")
		return nil
	}
	m.mu.Unlock()

	worldCenter, worldRotation := active.box.WorldPose(active.parent)
	entry := Deletion{
		Center:      [3]float64(worldCenter),
		Size:        [3]float64(active.box.Size),
		Yaw:         geometry.YawOf(worldRotation),
		FillSurface: active.fillSurface,
	}

	if active.resized {
		m.carve(worldCenter, worldRotation, active.box.Size)
		if active.ownerID != "" {
			if err := m.registry.RemoveChunk(active.ownerID); err != nil {
				// The owner may already be gone (e.g. cleared between edits);
				// the commit still stands.
				log.Printf("[Bbox] owner %s not removed: %v", active.ownerID, err)
			}
		}
	} else if active.ownerID != "" {
		// Nothing has committed yet: a failed owner removal leaves the box
		// active and the log untouched.
		if err := m.registry.RemoveChunk(active.ownerID); err != nil {
			return fmt.Errorf("delete box owner: %w", err)
		}
	}

	m.mu.Lock()
	if m.active == active {
		m.active = nil
	}
	m.log = append(m.log, entry)
	m.mu.Unlock()

	log.Printf("[Bbox] committed deletion: center=%v size=%v yaw=%.4f resized=%v owner=%q",
		entry.Center, entry.Size, entry.Yaw, active.resized, active.ownerID)
	m.bus.Publish(events.KindBoxDeleted, events.BoxDeleted{})
	return nil
}

// carve drops every point enclosed by the committed box from each visible
// chunk. Chunks whose point count reaches zero are hidden rather than
// deleted, preserving the record for later reference.
func (m *Manager) carve(worldCenter mgl64.Vec3, worldRotation mgl64.Mat3, size mgl64.Vec3) {
	for _, chunk := range m.registry.VisibleChunks() {
		if chunk.PointCount() == 0 {
			continue
		}
		world := chunk.WorldPoints()
		kept := make([]mgl64.Vec3, 0, len(chunk.Points))
		for i, wp := range world {
			if !geometry.ContainsPoint(wp, worldCenter, worldRotation, size) {
				kept = append(kept, chunk.Points[i])
			}
		}
		if len(kept) == len(chunk.Points) {
			continue
		}

		removed := len(chunk.Points) - len(kept)
		if len(kept) == 0 {
			if err := m.registry.SetVisibility(chunk.ID, false); err != nil {
				log.Printf("[Bbox] hide emptied chunk %s: %v", chunk.ID, err)
			}
			log.Printf("[Bbox] chunk %s emptied (%d points removed); hidden", chunk.ID, removed)
			continue
		}
		if err := m.registry.UpdatePoints(chunk.ID, kept); err != nil {
			log.Printf("[Bbox] update carved chunk %s: %v", chunk.ID, err)
			continue
		}
		log.Printf("[Bbox] chunk %s carved: %d points removed, %d kept", chunk.ID, removed, len(kept))
	}
}

// Deletions returns a copy of the committed deletion log in commit order.
func (m *Manager) Deletions() []Deletion {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Deletion, len(m.log))
	copy(out, m.log)
	return out
}

// ResetSession drops the active box and the deletion log. This is the only
// way the log is ever cleared.
func (m *Manager) ResetSession() {
	m.mu.Lock()
	m.active = nil
	m.log = nil
	m.overlays = make(map[string]any)
	m.mu.Unlock()

	m.bus.Publish(events.KindBoxDeleted, events.BoxDeleted{})
}

// RequestOverlay asks the rendering surface for the box overlay handle of a
// chunk. The reply is captured by a one-shot listener that detaches itself
// after firing; the handle lands in the manager's side table.
func (m *Manager) RequestOverlay(chunkID string) {
	m.bus.Once(events.KindBoxRef, func(payload any) {
		ref, ok := payload.(events.BoxRef)
		if !ok {
			return
		}
		m.mu.Lock()
		m.overlays[ref.ChunkID] = ref.Handle
		m.mu.Unlock()
	})
	m.bus.Publish(events.KindBindBox, events.BindBox{ChunkID: chunkID})
}

// Overlay returns the rendering handle previously resolved for a chunk.
func (m *Manager) Overlay(chunkID string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	handle, ok := m.overlays[chunkID]
	return handle, ok
}
