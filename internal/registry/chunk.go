package registry

import (
	"strings"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/pointcarve/server/internal/geometry"
)

// Role suffixes grouping related chunks under one base identifier.
const (
	RoleGround        = "ground"
	RoleStatic        = "static"
	RoleDynamicPrefix = "dynamic"
)

// MeshHandle is a rendering resource exclusively owned by a chunk record.
// Points returns the geometry the mesh was built from; Release frees the
// mesh/geometry/material on the rendering surface. The registry releases
// each owned handle exactly once.
type MeshHandle interface {
	Points() []mgl64.Vec3
	Release()
}

// Chunk is one independently loaded point-cloud fragment. The registry is
// the only writer of chunk records; other components read them and mutate
// through the registry's API.
type Chunk struct {
	ID      string
	Points  []mgl64.Vec3
	Visible bool

	// Transform places the chunk's points in the world frame. Identity for
	// chunks delivered in world coordinates.
	Transform mgl64.Mat4

	// Confidence is the upstream detection score, present only for
	// dynamic_* roles.
	Confidence *float64

	// InitialBox is the OBB descriptor supplied by the upstream pipeline,
	// if any.
	InitialBox *geometry.OBB

	mesh   MeshHandle
	bounds *geometry.AABB
}

// PointCount returns the number of points currently held by the record.
func (c *Chunk) PointCount() int {
	return len(c.Points)
}

// Mesh returns the attached rendering handle, or nil before attachment.
func (c *Chunk) Mesh() MeshHandle {
	return c.mesh
}

// BaseID returns the base identifier shared by the chunk's group.
func (c *Chunk) BaseID() string {
	return BaseID(c.ID)
}

// Bounds returns the chunk's axis-aligned world bounds, computing them
// lazily from the current points. ok is false while the chunk has no points.
func (c *Chunk) Bounds() (geometry.AABB, bool) {
	if c.bounds != nil {
		return *c.bounds, true
	}
	bounds, ok := geometry.BoundsFromPoints(c.WorldPoints())
	if !ok {
		return geometry.AABB{}, false
	}
	c.bounds = &bounds
	return bounds, true
}

// WorldPoints returns the chunk's points carried into the world frame.
func (c *Chunk) WorldPoints() []mgl64.Vec3 {
	if c.Transform == (mgl64.Ident4()) {
		return c.Points
	}
	world := make([]mgl64.Vec3, len(c.Points))
	for i, p := range c.Points {
		world[i] = mgl64.TransformCoordinate(p, c.Transform)
	}
	return world
}

// releaseMesh frees the owned rendering resources exactly once.
func (c *Chunk) releaseMesh() {
	if c.mesh == nil {
		return
	}
	c.mesh.Release()
	c.mesh = nil
}

// BaseID strips the role suffix (ground, static, dynamic_<index>) from a
// chunk id. IDs without a recognized suffix are their own base.
func BaseID(id string) string {
	if base, ok := strings.CutSuffix(id, "_"+RoleGround); ok {
		return base
	}
	if base, ok := strings.CutSuffix(id, "_"+RoleStatic); ok {
		return base
	}
	if i := strings.LastIndex(id, "_"+RoleDynamicPrefix+"_"); i >= 0 {
		return id[:i]
	}
	return id
}
