package geometry

import "github.com/go-gl/mathgl/mgl64"

// AABB is an axis-aligned bounding box.
type AABB struct {
	Min mgl64.Vec3
	Max mgl64.Vec3
}

// BoundsFromPoints computes the axis-aligned bounds of a point set.
// ok is false for an empty set.
func BoundsFromPoints(points []mgl64.Vec3) (AABB, bool) {
	if len(points) == 0 {
		return AABB{}, false
	}
	bounds := AABB{Min: points[0], Max: points[0]}
	for _, p := range points[1:] {
		for i := 0; i < 3; i++ {
			if p[i] < bounds.Min[i] {
				bounds.Min[i] = p[i]
			}
			if p[i] > bounds.Max[i] {
				bounds.Max[i] = p[i]
			}
		}
	}
	return bounds, true
}

// Center returns the midpoint of the bounds.
func (a AABB) Center() mgl64.Vec3 {
	return a.Min.Add(a.Max).Mul(0.5)
}

// Size returns the per-axis extent of the bounds.
func (a AABB) Size() mgl64.Vec3 {
	return a.Max.Sub(a.Min)
}

// ContainsPoint reports whether a point lies inside the bounds, inclusive.
func (a AABB) ContainsPoint(p mgl64.Vec3) bool {
	return p.X() >= a.Min.X() && p.X() <= a.Max.X() &&
		p.Y() >= a.Min.Y() && p.Y() <= a.Max.Y() &&
		p.Z() >= a.Min.Z() && p.Z() <= a.Max.Z()
}
