// Package simulation closes the loop around the capture-point controller
// with a linear inverted pendulum and walks scripted scenarios through the
// support phases.
package simulation

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Plant is a linear inverted pendulum. The capture point diverges from the
// CMP, ξ' = ω0(ξ - r), and the centre of mass follows it, x' = ω0(ξ - x).
type Plant struct {
	ICP    r2.Vec
	CoM    r2.Vec
	Omega0 float64
}

// NewPlant starts the pendulum at rest above p.
func NewPlant(p r2.Vec, omega0 float64) *Plant {
	return &Plant{ICP: p, CoM: p, Omega0: omega0}
}

// Step advances the state by dt holding the CMP at cmp. The integration is
// exact for a constant CMP.
func (p *Plant) Step(cmp r2.Vec, dt float64) {
	grow := math.Exp(p.Omega0 * dt)
	decay := 1 / grow
	a := r2.Scale(0.5, r2.Sub(p.ICP, cmp))
	b := r2.Sub(r2.Sub(p.CoM, cmp), a)
	p.CoM = r2.Add(cmp, r2.Add(r2.Scale(grow, a), r2.Scale(decay, b)))
	p.ICP = r2.Add(cmp, r2.Scale(grow, r2.Sub(p.ICP, cmp)))
}

// Push applies an impulse that moves the capture point by offset.
func (p *Plant) Push(offset r2.Vec) { p.ICP = r2.Add(p.ICP, offset) }

// CoMVelocity is ω0(ξ - x).
func (p *Plant) CoMVelocity() r2.Vec { return r2.Scale(p.Omega0, r2.Sub(p.ICP, p.CoM)) }
