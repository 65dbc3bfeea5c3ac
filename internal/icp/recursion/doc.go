// Package recursion computes the closed-form linear-inverted-pendulum
// multipliers that express the capture point as a weighted sum of CMP
// locations and a final capture point.
//
// Responsibilities: end-of-phase recursion over the footstep horizon,
// remaining-time projection within the current phase, and the spline window
// that smooths the mid-swing entry to exit CMP switch.
// Key types: Calculator, Multipliers.
//
// Everything here is pure arithmetic on durations; no iteration, no
// allocation after construction.
package recursion
