package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Pose2 is a planar pose in the world frame. Yaw is the heading of the local
// +X axis, in radians.
type Pose2 struct {
	Position r2.Vec
	Yaw      float64
}

// NewPose2 builds a pose from its components.
func NewPose2(x, y, yaw float64) Pose2 {
	return Pose2{Position: r2.Vec{X: x, Y: y}, Yaw: yaw}
}

// Rotate rotates v about the origin by yaw.
func Rotate(v r2.Vec, yaw float64) r2.Vec {
	s, c := math.Sincos(yaw)
	return r2.Vec{X: c*v.X - s*v.Y, Y: s*v.X + c*v.Y}
}

// ToWorld maps a point expressed in the pose's local frame into the world frame.
func (p Pose2) ToWorld(local r2.Vec) r2.Vec {
	return r2.Add(p.Position, Rotate(local, p.Yaw))
}

// ToLocal maps a world point into the pose's local frame.
func (p Pose2) ToLocal(world r2.Vec) r2.Vec {
	return Rotate(r2.Sub(world, p.Position), -p.Yaw)
}

// VectorToWorld rotates a free vector from the local frame into the world frame.
func (p Pose2) VectorToWorld(local r2.Vec) r2.Vec {
	return Rotate(local, p.Yaw)
}

// VectorToLocal rotates a free world vector into the local frame.
func (p Pose2) VectorToLocal(world r2.Vec) r2.Vec {
	return Rotate(world, -p.Yaw)
}

// IsFinite reports whether both components are finite.
func IsFinite(v r2.Vec) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0)
}

// NaNVec is the sentinel used for "not computed" points.
func NaNVec() r2.Vec {
	return r2.Vec{X: math.NaN(), Y: math.NaN()}
}

// Lerp interpolates between a and b; f = 0 gives a.
func Lerp(a, b r2.Vec, f float64) r2.Vec {
	return r2.Add(a, r2.Scale(f, r2.Sub(b, a)))
}
