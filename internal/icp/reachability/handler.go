// Package reachability bounds how far the first upcoming footstep may be
// moved during a swing. The region starts as a rectangle beside the stance
// foot and only shrinks: every committed adjustment cuts it with a
// half-plane through the adjusted point.
package reachability

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/capturepoint/internal/geometry"
	"github.com/banshee-data/capturepoint/internal/icp/footstep"
)

const (
	// minAdjustment is the shortest adjustment that defines a cut direction.
	minAdjustment = 1e-9
	// baseVertices is the vertex count of the uncut region.
	baseVertices = 4
)

// Config is the region in the stance sole frame. Inner and Outer are
// lateral distances toward the swing side.
type Config struct {
	Forward  float64
	Backward float64
	Inner    float64
	Outer    float64
	MaxCuts  int
}

// Handler owns the region for the current single support phase.
type Handler struct {
	cfg    Config
	local  *geometry.ConvexPolygon
	region *geometry.ConvexPolygon
	active bool
	cuts   int
}

// New sizes the region for cfg.MaxCuts cuts.
func New(cfg Config) *Handler {
	capacity := baseVertices + cfg.MaxCuts
	return &Handler{
		cfg:    cfg,
		local:  geometry.NewConvexPolygon(baseVertices),
		region: geometry.NewConvexPolygon(capacity),
	}
}

// MaxVertices is the largest vertex count Region can report.
func (h *Handler) MaxVertices() int { return baseVertices + h.cfg.MaxCuts }

// InitializeForSingleSupport rebuilds the full region beside the stance
// foot, on the side the swing foot lands.
func (h *Handler) InitializeForSingleSupport(stance footstep.RobotSide, stancePose geometry.Pose2) error {
	s := stance.Opposite().LateralSign()
	c := h.cfg
	corners := []r2.Vec{
		{X: -c.Backward, Y: s * c.Inner},
		{X: c.Forward, Y: s * c.Inner},
		{X: c.Forward, Y: s * c.Outer},
		{X: -c.Backward, Y: s * c.Outer},
	}
	if err := h.local.SetFromPoints(corners); err != nil {
		return fmt.Errorf("reachability rectangle: %w", err)
	}
	if err := h.region.TransformFrom(h.local, stancePose); err != nil {
		return fmt.Errorf("reachability rectangle: %w", err)
	}
	h.active = true
	h.cuts = 0
	return nil
}

// InitializeForDoubleSupport drops the region.
func (h *Handler) InitializeForDoubleSupport() {
	h.region.Clear()
	h.active = false
	h.cuts = 0
}

// UpdateForAdjustment cuts the region so the footstep cannot move further
// than adjusted in the direction it was moved from reference. It reports
// whether the region shrank. Cuts past MaxCuts are skipped.
func (h *Handler) UpdateForAdjustment(reference, adjusted r2.Vec) (bool, error) {
	if !h.active || h.cuts >= h.cfg.MaxCuts {
		return false, nil
	}
	d := r2.Sub(adjusted, reference)
	length := r2.Norm(d)
	if length < minAdjustment {
		return false, nil
	}
	changed, err := h.region.CutHalfPlane(adjusted, r2.Scale(1/length, d))
	if errors.Is(err, geometry.ErrPolygonCapacity) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if changed {
		h.cuts++
	}
	return changed, nil
}

// Region returns the current region, or nil outside single support.
func (h *Handler) Region() *geometry.ConvexPolygon {
	if !h.active {
		return nil
	}
	return h.region
}

// Vertices returns the region vertices, or nil outside single support.
func (h *Handler) Vertices() []r2.Vec {
	if !h.active {
		return nil
	}
	return h.region.Vertices()
}

// Active reports whether a single support region is in place.
func (h *Handler) Active() bool { return h.active }

// Cuts is the number of cuts applied this phase.
func (h *Handler) Cuts() int { return h.cuts }
