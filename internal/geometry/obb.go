package geometry

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// MinExtent is the smallest allowed box extent along any axis. Resizes
// and constructors clamp to this floor instead of failing.
const MinExtent = 0.05

// degenerateEdge is the length below which a wireframe edge is dropped.
const degenerateEdge = 1e-9

// Axis identifies one local axis of a box.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

// String returns the lowercase axis name.
func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	}
	return "?"
}

// OBB is an oriented bounding box: a center, per-axis extents and a yaw
// rotation about the Z (up) axis. Boxes never pitch or roll, and yaw is
// stored independent of any parent frame's orientation.
type OBB struct {
	Center mgl64.Vec3
	Size   mgl64.Vec3
	Yaw    float64
}

// NewOBB builds a box descriptor, clamping each size component to MinExtent.
func NewOBB(center, size mgl64.Vec3, yaw float64) OBB {
	return OBB{Center: center, Size: clampSize(size), Yaw: yaw}
}

func clampSize(size mgl64.Vec3) mgl64.Vec3 {
	for i := range size {
		if size[i] < MinExtent {
			size[i] = MinExtent
		}
	}
	return size
}

// Rotation returns the yaw-only local rotation.
func (b OBB) Rotation() mgl64.Mat3 {
	return mgl64.Rotate3DZ(b.Yaw)
}

// Transform composes translate(center) with the yaw rotation at unit scale.
// Size is applied dimensionally, never through the transform's scale channel,
// so rotation and extents stay independent.
func (b OBB) Transform() mgl64.Mat4 {
	return mgl64.Translate3D(b.Center.X(), b.Center.Y(), b.Center.Z()).Mul4(mgl64.HomogRotate3DZ(b.Yaw))
}

// WorldPose resolves the box's world-frame center and rotation. With a parent
// frame the center is carried through the parent's full transform and the
// rotation is the parent's rotation composed with the local yaw; with no
// parent the local values are the world values.
func (b OBB) WorldPose(parent *mgl64.Mat4) (mgl64.Vec3, mgl64.Mat3) {
	if parent == nil {
		return b.Center, b.Rotation()
	}
	center := mgl64.TransformCoordinate(b.Center, *parent)
	rotation := parent.Mat3().Mul3(b.Rotation())
	return center, rotation
}

// Segment is one wireframe edge, in the same frame as the box center.
type Segment struct {
	Start mgl64.Vec3
	End   mgl64.Vec3
}

// boxEdges connects corner indices in a fixed cube topology:
// 4 bottom, 4 top, 4 vertical.
var boxEdges = [12][2]int{
	{0, 1}, {1, 2}, {2, 3}, {3, 0},
	{4, 5}, {5, 6}, {6, 7}, {7, 4},
	{0, 4}, {1, 5}, {2, 6}, {3, 7},
}

// Corners returns the eight box corners: center ± half extents in local axes,
// rotated by yaw and translated by center. Corners 0-3 are the bottom face
// counter-clockwise, 4-7 the top face in the same order.
func (b OBB) Corners() [8]mgl64.Vec3 {
	hx, hy, hz := b.Size.X()/2, b.Size.Y()/2, b.Size.Z()/2
	local := [8]mgl64.Vec3{
		{-hx, -hy, -hz},
		{hx, -hy, -hz},
		{hx, hy, -hz},
		{-hx, hy, -hz},
		{-hx, -hy, hz},
		{hx, -hy, hz},
		{hx, hy, hz},
		{-hx, hy, hz},
	}
	rot := b.Rotation()
	var out [8]mgl64.Vec3
	for i, c := range local {
		out[i] = rot.Mul3x1(c).Add(b.Center)
	}
	return out
}

// Wireframe generates up to 12 line segments tracing the box edges.
// Degenerate (near zero-length) edges are skipped rather than producing a
// malformed segment.
func (b OBB) Wireframe() []Segment {
	corners := b.Corners()
	segments := make([]Segment, 0, len(boxEdges))
	for _, edge := range boxEdges {
		start, end := corners[edge[0]], corners[edge[1]]
		if end.Sub(start).Len() < degenerateEdge {
			continue
		}
		segments = append(segments, Segment{Start: start, End: end})
	}
	return segments
}

// ContainsPoint reports whether a world-space point lies inside a box given
// by its world center, world rotation and extents. The point is carried into
// box-local space via the inverse of the center/rotation transform; the test
// is boundary-inclusive on every axis.
func ContainsPoint(point, worldCenter mgl64.Vec3, worldRotation mgl64.Mat3, size mgl64.Vec3) bool {
	local := worldRotation.Transpose().Mul3x1(point.Sub(worldCenter))
	return math.Abs(local.X()) <= size.X()/2 &&
		math.Abs(local.Y()) <= size.Y()/2 &&
		math.Abs(local.Z()) <= size.Z()/2
}

// ResizeOneSided extends one face of the box while holding the opposite face
// fixed: the axis extent grows by delta (clamped at MinExtent) and the center
// shifts by half the applied delta along the box's world-space axis direction,
// not along a world-aligned axis. Requests that would drive the extent below
// the floor are clamped, never rejected.
func ResizeOneSided(b OBB, worldRotation mgl64.Mat3, axis Axis, delta float64) OBB {
	current := b.Size[axis]
	next := current + delta
	if next < MinExtent {
		next = MinExtent
	}
	applied := next - current

	out := b
	out.Size[axis] = next
	direction := worldRotation.Col(int(axis))
	out.Center = b.Center.Add(direction.Mul(applied / 2))
	return out
}

// YawOf extracts the yaw angle from a rotation known to be about the Z axis.
func YawOf(rotation mgl64.Mat3) float64 {
	return math.Atan2(rotation.At(1, 0), rotation.At(0, 0))
}
