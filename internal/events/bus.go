// Package events provides the named-event channel that decouples the chunk
// registry and box session manager from the rendering surface. The bus is
// injected into constructors rather than held as process-wide state so tests
// can assert exact message sequences.
package events

import (
	"log"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// Kind names one message channel on the bus.
type Kind string

const (
	// KindFocusChunkGroup requests a camera/attention move to a chunk
	// group's centroid. Broadcast, not targeted; an empty base id means
	// "frame the whole scene".
	KindFocusChunkGroup Kind = "focus_chunk_group"

	// KindPulseChunk requests a transient highlight of one chunk's rendered
	// color/size, decaying over PulseDuration.
	KindPulseChunk Kind = "pulse_chunk"

	// KindCreateBoxAt requests a new standalone box centered at a point.
	KindCreateBoxAt Kind = "create_box_at"

	// KindBindBox asks the rendering surface for the overlay handle of a
	// chunk's box. The reply arrives as a KindBoxRef message.
	KindBindBox Kind = "bind_box"

	// KindBoxRef carries the rendering handle requested by KindBindBox.
	KindBoxRef Kind = "box_ref"

	// KindBoxDeleted notifies that the active box was discarded or committed,
	// so any box-editing chrome should hide.
	KindBoxDeleted Kind = "box_deleted"
)

// PulseDuration is the fixed decay interval of a chunk highlight pulse.
const PulseDuration = 2 * time.Second

// FocusChunkGroup is the payload of KindFocusChunkGroup.
type FocusChunkGroup struct {
	BaseID string `json:"base_id"`
}

// PulseChunk is the payload of KindPulseChunk.
type PulseChunk struct {
	ChunkID string `json:"chunk_id"`
	Color   string `json:"color,omitempty"`
}

// CreateBoxAt is the payload of KindCreateBoxAt.
type CreateBoxAt struct {
	Position mgl64.Vec3 `json:"position"`
}

// BindBox is the payload of KindBindBox.
type BindBox struct {
	ChunkID string `json:"chunk_id"`
}

// BoxRef is the payload of KindBoxRef. Handle is whatever the rendering
// surface uses to identify the overlay node.
type BoxRef struct {
	ChunkID string `json:"chunk_id"`
	Handle  any    `json:"handle"`
}

// BoxDeleted is the payload of KindBoxDeleted.
type BoxDeleted struct{}

// Handler receives published payloads for one kind.
type Handler func(payload any)

type listener struct {
	id   int
	fn   Handler
	once bool
}

// Bus is an in-process publish/subscribe channel. Delivery is synchronous
// and fire-and-forget: listeners for a kind are invoked in subscription
// order, a panicking listener never prevents delivery to the rest, and
// publishing with no listeners is valid.
type Bus struct {
	mu        sync.Mutex
	listeners map[Kind][]*listener
	nextID    int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{listeners: make(map[Kind][]*listener)}
}

// Subscribe registers a handler for a kind and returns a function that
// removes it. Unsubscribing twice is harmless.
func (b *Bus) Subscribe(kind Kind, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	l := &listener{id: b.nextID, fn: fn}
	b.listeners[kind] = append(b.listeners[kind], l)

	id := l.id
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.removeLocked(kind, id)
	}
}

// Once registers a handler that detaches itself after the first delivery.
func (b *Bus) Once(kind Kind, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.listeners[kind] = append(b.listeners[kind], &listener{id: b.nextID, fn: fn, once: true})
}

// Publish delivers a payload to every listener of the kind, in subscription
// order. Producers must not assume a consumer exists.
func (b *Bus) Publish(kind Kind, payload any) {
	b.mu.Lock()
	current := b.listeners[kind]
	snapshot := make([]*listener, len(current))
	copy(snapshot, current)
	// One-shot listeners detach before their handler runs, so a handler
	// that re-publishes the same kind cannot fire them twice.
	remaining := current[:0]
	for _, l := range current {
		if !l.once {
			remaining = append(remaining, l)
		}
	}
	b.listeners[kind] = remaining
	b.mu.Unlock()

	for _, l := range snapshot {
		deliver(kind, l, payload)
	}
}

func deliver(kind Kind, l *listener, payload any) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Events] listener for %s panicked: %v", kind, r)
		}
	}()
	l.fn(payload)
}

func (b *Bus) removeLocked(kind Kind, id int) {
	current := b.listeners[kind]
	for i, l := range current {
		if l.id == id {
			b.listeners[kind] = append(current[:i], current[i+1:]...)
			return
		}
	}
}
