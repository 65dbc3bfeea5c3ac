// Package qp solves small dense convex quadratic programs
//
//	minimise   ½·xᵀHx + hᵀx
//	subject to Aeq·x = beq
//	           Aineq·x ≤ bineq
//
// with a primal active-set iteration over the KKT system. H must be
// positive definite. The solver keeps its workspace between calls so a
// control loop can solve a fresh problem each tick without reallocating.
//
// Any dense QP routine honouring the same contract can replace Solver; the
// callers only depend on the Problem shape and the error values.
package qp
