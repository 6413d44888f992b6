package core

import "math"

// EarthRadiusMeters is the mean Earth radius used for line-of-sight checks.
const EarthRadiusMeters = 6371.0e3

// SpeedOfLight in metres per second.
const SpeedOfLight = 299792458.0

// Vec3 is an ECEF-style vector in metres.
type Vec3 struct {
	X, Y, Z float64
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	return v.Sub(other).Norm()
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Add returns v + other.
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// HasLineOfSight reports whether the segment between p1 and p2 clears the
// Earth sphere. Points on the ground are only blocked by the Earth behind
// them, so ground-to-ground links always have line of sight.
func HasLineOfSight(p1, p2 Vec3) bool {
	r2 := EarthRadiusMeters * EarthRadiusMeters
	if p1.Dot(p1) <= r2 && p2.Dot(p2) <= r2 {
		return true
	}

	v := p2.Sub(p1)
	a := v.Dot(v)
	if a == 0 {
		return true
	}

	// t* minimises |p1 + t v|^2 over t in [0, 1].
	t := -p1.Dot(v) / a
	if t <= 0 || t >= 1 {
		return true
	}
	closest := Vec3{X: p1.X + v.X*t, Y: p1.Y + v.Y*t, Z: p1.Z + v.Z*t}
	return closest.Dot(closest) > r2
}

// AzimuthDegrees returns the bearing of target from observer in the XY
// plane, in [0, 360).
func AzimuthDegrees(observer, target Vec3) float64 {
	d := target.Sub(observer)
	az := math.Atan2(d.Y, d.X) * 180 / math.Pi
	if az < 0 {
		az += 360
	}
	return az
}
