// Package registry owns the authoritative mapping from chunk identifier to
// chunk record and the render-session barrier used to await a batch of
// asynchronously arriving chunk meshes.
package registry

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/pointcarve/server/internal/events"
	"github.com/pointcarve/server/internal/geometry"
)

// ErrNotFound reports an operation addressed at an absent chunk id. It is
// fatal to the immediate caller and never retried.
var ErrNotFound = errors.New("chunk not found")

// ChunkData carries the initial attributes of a chunk record.
type ChunkData struct {
	Points     []mgl64.Vec3
	Transform  *mgl64.Mat4 // nil means identity
	Confidence *float64
	InitialBox *geometry.OBB
}

// Registry tracks loaded chunks. All mutation goes through its methods;
// readers receive the live records and must not write them directly.
type Registry struct {
	mu              sync.RWMutex
	chunks          map[string]*Chunk
	highlightedBase string
	session         *renderSession
	bus             *events.Bus
}

// New creates an empty registry publishing on the given bus.
func New(bus *events.Bus) *Registry {
	return &Registry{
		chunks: make(map[string]*Chunk),
		bus:    bus,
	}
}

// AddChunk registers a chunk record. A duplicate id is a no-op, not an
// error, so reloading a job's result set is idempotent.
func (r *Registry) AddChunk(id string, data ChunkData) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.chunks[id]; exists {
		return
	}

	transform := mgl64.Ident4()
	if data.Transform != nil {
		transform = *data.Transform
	}
	r.chunks[id] = &Chunk{
		ID:         id,
		Points:     data.Points,
		Visible:    true,
		Transform:  transform,
		Confidence: data.Confidence,
		InitialBox: data.InitialBox,
	}
}

// Get returns the record for id, or ErrNotFound.
func (r *Registry) Get(id string) (*Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chunk, ok := r.chunks[id]
	if !ok {
		return nil, fmt.Errorf("chunk %s: %w", id, ErrNotFound)
	}
	return chunk, nil
}

// Has reports whether a chunk id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.chunks[id]
	return ok
}

// Len returns the number of registered chunks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chunks)
}

// IDs returns all chunk ids in lexical order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.chunks))
	for id := range r.chunks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// VisibleChunks returns the visible records in lexical id order.
func (r *Registry) VisibleChunks() []*Chunk {
	r.mu.RLock()
	defer r.mu.RUnlock()

	visible := make([]*Chunk, 0, len(r.chunks))
	for _, chunk := range r.chunks {
		if chunk.Visible {
			visible = append(visible, chunk)
		}
	}
	sort.Slice(visible, func(i, j int) bool { return visible[i].ID < visible[j].ID })
	return visible
}

// RemoveChunk releases the chunk's owned resources and deletes its record.
// If the removed chunk was the last member of the highlighted group, the
// highlight is cleared.
func (r *Registry) RemoveChunk(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id)
}

// RemoveChunks is the batch variant of RemoveChunk with the same
// group-highlight bookkeeping. It verifies every id before removing any,
// so an unknown id fails the whole batch without partial removal.
func (r *Registry) RemoveChunks(ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		if _, ok := r.chunks[id]; !ok {
			return fmt.Errorf("chunk %s: %w", id, ErrNotFound)
		}
	}
	for _, id := range ids {
		if err := r.removeLocked(id); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) removeLocked(id string) error {
	chunk, ok := r.chunks[id]
	if !ok {
		return fmt.Errorf("chunk %s: %w", id, ErrNotFound)
	}

	chunk.releaseMesh()
	delete(r.chunks, id)

	if r.highlightedBase != "" && BaseID(id) == r.highlightedBase {
		if !r.groupPresentLocked(r.highlightedBase) {
			log.Printf("[Registry] highlight cleared: group %s has no remaining chunks", r.highlightedBase)
			r.highlightedBase = ""
		}
	}
	return nil
}

func (r *Registry) groupPresentLocked(baseID string) bool {
	for id := range r.chunks {
		if BaseID(id) == baseID {
			return true
		}
	}
	return false
}

// ClearAll releases every owned resource, drops all records and resets
// highlight state.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, chunk := range r.chunks {
		chunk.releaseMesh()
	}
	r.chunks = make(map[string]*Chunk)
	r.highlightedBase = ""
}

// SetVisibility toggles a chunk's visibility flag.
func (r *Registry) SetVisibility(id string, visible bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	chunk, ok := r.chunks[id]
	if !ok {
		return fmt.Errorf("chunk %s: %w", id, ErrNotFound)
	}
	chunk.Visible = visible
	return nil
}

// UpdatePoints replaces a chunk's point data and invalidates its cached
// bounds and count.
func (r *Registry) UpdatePoints(id string, points []mgl64.Vec3) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	chunk, ok := r.chunks[id]
	if !ok {
		return fmt.Errorf("chunk %s: %w", id, ErrNotFound)
	}
	chunk.Points = points
	chunk.bounds = nil
	return nil
}

// AttachMesh hands a chunk exclusive ownership of a rendering mesh. Attaching
// the same handle again is a no-op. A different handle replaces (and
// releases) the previous one, adopts the mesh's points, recomputes bounds,
// and advances any outstanding render session.
func (r *Registry) AttachMesh(id string, mesh MeshHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	chunk, ok := r.chunks[id]
	if !ok {
		return fmt.Errorf("chunk %s: %w", id, ErrNotFound)
	}
	if chunk.mesh == mesh {
		return nil
	}

	chunk.releaseMesh()
	chunk.mesh = mesh
	if pts := mesh.Points(); len(pts) > 0 {
		chunk.Points = pts
	}
	chunk.bounds = nil
	if _, ok := chunk.Bounds(); !ok {
		log.Printf("[Registry] chunk %s attached with no points; bounds deferred", id)
	}

	r.resolveSessionLocked()
	return nil
}

// PulseChunk marks the chunk's group as highlighted and asks the rendering
// surface for a transient highlight pulse.
func (r *Registry) PulseChunk(id, color string) error {
	r.mu.Lock()
	chunk, ok := r.chunks[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("chunk %s: %w", id, ErrNotFound)
	}
	r.highlightedBase = chunk.BaseID()
	r.mu.Unlock()

	r.bus.Publish(events.KindPulseChunk, events.PulseChunk{ChunkID: id, Color: color})
	return nil
}

// HighlightedGroup returns the base id of the currently highlighted group,
// or "" when nothing is highlighted.
func (r *Registry) HighlightedGroup() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.highlightedBase
}

// FocusGroup broadcasts a camera/attention request toward a chunk group.
func (r *Registry) FocusGroup(baseID string) {
	r.bus.Publish(events.KindFocusChunkGroup, events.FocusChunkGroup{BaseID: baseID})
}
