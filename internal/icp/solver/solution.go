package solver

import "gonum.org/v1/gonum/spatial/r2"

// CostToGo splits the objective value by term. Each term includes its
// constant part, so a perfect tracking solution reports zero.
type CostToGo struct {
	Total                  float64
	Footstep               float64
	FootstepRegularization float64
	Feedback               float64
	FeedbackRegularization float64
	Relaxation             float64
	Simplex                float64
}

// Solution is the result of the last successful solve. Footsteps has one
// entry per configured step; entries at or beyond NumberOfFootsteps are NaN.
type Solution struct {
	NumberOfFootsteps int
	Footsteps         []r2.Vec
	FeedbackDelta     r2.Vec
	FeedbackCMP       r2.Vec
	Relaxation        r2.Vec
	Weights           []float64
	Cost              CostToGo

	Iterations        int
	ActiveConstraints int
}
