package api

import (
	"encoding/json"
	"log"

	"github.com/go-gl/mathgl/mgl64"
)

// remoteMesh is a registry mesh handle backed by a node on the rendering
// client. Releasing it broadcasts a release notice so every client drops
// the node's mesh, geometry and material.
type remoteMesh struct {
	hub     *Hub
	chunkID string
	nodeID  string
	points  []mgl64.Vec3
}

func newRemoteMesh(hub *Hub, chunkID, nodeID string, points [][3]float64) *remoteMesh {
	converted := make([]mgl64.Vec3, len(points))
	for i, p := range points {
		converted[i] = mgl64.Vec3(p)
	}
	return &remoteMesh{hub: hub, chunkID: chunkID, nodeID: nodeID, points: converted}
}

func (m *remoteMesh) Points() []mgl64.Vec3 {
	return m.points
}

func (m *remoteMesh) Release() {
	msg, err := json.Marshal(WebSocketMessage{
		Type: "release_mesh",
		Data: mustMarshal(map[string]string{"chunk_id": m.chunkID, "node_id": m.nodeID}),
	})
	if err != nil {
		log.Printf("[API] failed to marshal release notice for %s: %v", m.chunkID, err)
		return
	}
	m.hub.Broadcast(msg)
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
