package geometry

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// polygonEpsilon is the tolerance for collinearity, containment and
// duplicate-vertex tests. Sole and reachability polygons are centimetre
// scale, so a nanometre is far below anything physically meaningful.
const polygonEpsilon = 1e-9

// ErrPolygonCapacity is returned when an operation would produce more
// vertices than the polygon was sized for.
var ErrPolygonCapacity = errors.New("polygon vertex capacity exceeded")

// ConvexPolygon is a convex polygon with counter-clockwise vertices and a
// fixed vertex capacity. All mutating operations reuse internal buffers.
type ConvexPolygon struct {
	vertices []r2.Vec
	sorted   []r2.Vec
	work     []r2.Vec
	capacity int
}

// NewConvexPolygon returns an empty polygon able to hold capacity vertices.
func NewConvexPolygon(capacity int) *ConvexPolygon {
	if capacity < 1 {
		capacity = 1
	}
	return &ConvexPolygon{
		vertices: make([]r2.Vec, 0, capacity),
		sorted:   make([]r2.Vec, 0, capacity),
		work:     make([]r2.Vec, 0, 2*capacity+2),
		capacity: capacity,
	}
}

// Capacity returns the maximum number of vertices the polygon can hold.
func (p *ConvexPolygon) Capacity() int { return p.capacity }

// Clear removes every vertex.
func (p *ConvexPolygon) Clear() { p.vertices = p.vertices[:0] }

// NumVertices returns the current vertex count.
func (p *ConvexPolygon) NumVertices() int { return len(p.vertices) }

// IsEmpty reports whether the polygon has no vertices.
func (p *ConvexPolygon) IsEmpty() bool { return len(p.vertices) == 0 }

// Vertex returns vertex i, wrapping around.
func (p *ConvexPolygon) Vertex(i int) r2.Vec {
	n := len(p.vertices)
	return p.vertices[((i%n)+n)%n]
}

// Vertices exposes the vertex slice. Callers must not modify it.
func (p *ConvexPolygon) Vertices() []r2.Vec { return p.vertices }

// SetFromPoints replaces the polygon with the convex hull of points
// (Andrew's monotone chain). Collinear and duplicate points are dropped.
// On ErrPolygonCapacity the polygon is left unchanged.
func (p *ConvexPolygon) SetFromPoints(points []r2.Vec) error {
	pts := append(p.sorted[:0], points...)
	p.sorted = pts
	for i := 1; i < len(pts); i++ {
		for j := i; j > 0 && lessXY(pts[j], pts[j-1]); j-- {
			pts[j], pts[j-1] = pts[j-1], pts[j]
		}
	}

	hull := p.work[:0]
	if len(pts) < 3 {
		for _, q := range pts {
			if len(hull) == 0 || !nearlyEqual(hull[len(hull)-1], q) {
				hull = append(hull, q)
			}
		}
	} else {
		for _, q := range pts {
			for len(hull) >= 2 && cross3(hull[len(hull)-2], hull[len(hull)-1], q) <= polygonEpsilon {
				hull = hull[:len(hull)-1]
			}
			hull = append(hull, q)
		}
		lower := len(hull) + 1
		for i := len(pts) - 2; i >= 0; i-- {
			q := pts[i]
			for len(hull) >= lower && cross3(hull[len(hull)-2], hull[len(hull)-1], q) <= polygonEpsilon {
				hull = hull[:len(hull)-1]
			}
			hull = append(hull, q)
		}
		hull = hull[:len(hull)-1]
		if len(hull) == 2 && nearlyEqual(hull[0], hull[1]) {
			hull = hull[:1]
		}
	}
	p.work = hull

	if len(hull) > p.capacity {
		return ErrPolygonCapacity
	}
	p.vertices = append(p.vertices[:0], hull...)
	return nil
}

// CopyFrom makes p a copy of other.
func (p *ConvexPolygon) CopyFrom(other *ConvexPolygon) error {
	if len(other.vertices) > p.capacity {
		return ErrPolygonCapacity
	}
	p.vertices = append(p.vertices[:0], other.vertices...)
	return nil
}

// TransformFrom sets p to other mapped from pose's local frame into the world.
func (p *ConvexPolygon) TransformFrom(other *ConvexPolygon, pose Pose2) error {
	if len(other.vertices) > p.capacity {
		return ErrPolygonCapacity
	}
	p.vertices = p.vertices[:0]
	for _, v := range other.vertices {
		p.vertices = append(p.vertices, pose.ToWorld(v))
	}
	return nil
}

// Area returns the enclosed area; zero for fewer than three vertices.
func (p *ConvexPolygon) Area() float64 {
	n := len(p.vertices)
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += r2.Cross(p.vertices[i], p.vertices[(i+1)%n])
	}
	return 0.5 * sum
}

// Centroid returns the area centroid, or the vertex mean for degenerate polygons.
func (p *ConvexPolygon) Centroid() r2.Vec {
	n := len(p.vertices)
	if n == 0 {
		return NaNVec()
	}
	area := p.Area()
	if area < polygonEpsilon {
		var c r2.Vec
		for _, v := range p.vertices {
			c = r2.Add(c, v)
		}
		return r2.Scale(1/float64(n), c)
	}
	var cx, cy float64
	for i := 0; i < n; i++ {
		a, b := p.vertices[i], p.vertices[(i+1)%n]
		w := r2.Cross(a, b)
		cx += (a.X + b.X) * w
		cy += (a.Y + b.Y) * w
	}
	return r2.Vec{X: cx / (6 * area), Y: cy / (6 * area)}
}

// Contains reports whether q lies inside or within eps of the boundary.
func (p *ConvexPolygon) Contains(q r2.Vec, eps float64) bool {
	n := len(p.vertices)
	switch n {
	case 0:
		return false
	case 1:
		return r2.Norm(r2.Sub(q, p.vertices[0])) <= eps
	case 2:
		return r2.Norm(r2.Sub(q, closestOnSegment(p.vertices[0], p.vertices[1], q))) <= eps
	}
	for i := 0; i < n; i++ {
		a, b := p.vertices[i], p.vertices[(i+1)%n]
		edge := r2.Sub(b, a)
		if r2.Cross(edge, r2.Sub(q, a)) < -eps*r2.Norm(edge) {
			return false
		}
	}
	return true
}

// ClosestPoint returns q if it is inside, otherwise the nearest boundary point.
func (p *ConvexPolygon) ClosestPoint(q r2.Vec) r2.Vec {
	n := len(p.vertices)
	if n == 0 {
		return q
	}
	if n >= 3 && p.Contains(q, 0) {
		return q
	}
	if n == 1 {
		return p.vertices[0]
	}
	best := p.vertices[0]
	bestDist := math.Inf(1)
	for i := 0; i < n; i++ {
		c := closestOnSegment(p.vertices[i], p.vertices[(i+1)%n], q)
		if d := r2.Norm2(r2.Sub(q, c)); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// Edge returns the outward unit normal and offset of edge i, such that the
// polygon satisfies normal·x ≤ offset along that edge.
func (p *ConvexPolygon) Edge(i int) (normal r2.Vec, offset float64) {
	a, b := p.Vertex(i), p.Vertex(i+1)
	e := r2.Sub(b, a)
	length := r2.Norm(e)
	if length < polygonEpsilon {
		return r2.Vec{}, 0
	}
	normal = r2.Vec{X: e.Y / length, Y: -e.X / length}
	return normal, r2.Dot(normal, a)
}

// CutHalfPlane keeps the part of the polygon satisfying normal·(q − point) ≤ 0
// (Sutherland-Hodgman against a single plane). It reports whether the polygon
// changed. A zero normal is a no-op. On ErrPolygonCapacity the polygon is
// left unchanged.
func (p *ConvexPolygon) CutHalfPlane(point, normal r2.Vec) (bool, error) {
	n := len(p.vertices)
	if n == 0 || r2.Norm(normal) < polygonEpsilon {
		return false, nil
	}
	out := p.work[:0]
	changed := false
	for i := 0; i < n; i++ {
		cur, next := p.vertices[i], p.vertices[(i+1)%n]
		dCur := r2.Dot(normal, r2.Sub(cur, point))
		dNext := r2.Dot(normal, r2.Sub(next, point))
		if dCur <= polygonEpsilon {
			out = appendDistinct(out, cur)
		} else {
			changed = true
		}
		if (dCur > polygonEpsilon && dNext < -polygonEpsilon) || (dCur < -polygonEpsilon && dNext > polygonEpsilon) {
			t := dCur / (dCur - dNext)
			out = appendDistinct(out, r2.Add(cur, r2.Scale(t, r2.Sub(next, cur))))
		}
	}
	if len(out) > 1 && nearlyEqual(out[0], out[len(out)-1]) {
		out = out[:len(out)-1]
	}
	p.work = out
	if !changed {
		return false, nil
	}
	if len(out) > p.capacity {
		return false, ErrPolygonCapacity
	}
	p.vertices = append(p.vertices[:0], out...)
	return true, nil
}

// InsetInto writes p shrunk by margin into dst. Each edge moves inward by
// margin; when the margin swallows the polygon dst collapses to the centroid.
func (p *ConvexPolygon) InsetInto(margin float64, dst *ConvexPolygon) error {
	n := len(p.vertices)
	if n < 3 || margin <= 0 {
		return dst.CopyFrom(p)
	}
	out := p.work[:0]
	for i := 0; i < n; i++ {
		prevA, prevB := p.Vertex(i-1), p.Vertex(i)
		curA, curB := p.Vertex(i), p.Vertex(i+1)
		prevDir, curDir := r2.Sub(prevB, prevA), r2.Sub(curB, curA)
		prevPoint := r2.Add(prevA, r2.Scale(margin, inwardNormal(prevDir)))
		curPoint := r2.Add(curA, r2.Scale(margin, inwardNormal(curDir)))
		denom := r2.Cross(prevDir, curDir)
		if math.Abs(denom) < polygonEpsilon {
			out = append(out, curPoint)
			continue
		}
		t := r2.Cross(r2.Sub(curPoint, prevPoint), curDir) / denom
		out = append(out, r2.Add(prevPoint, r2.Scale(t, prevDir)))
	}
	for i := 0; i < n; i++ {
		orig := r2.Sub(p.Vertex(i+1), p.Vertex(i))
		shrunk := r2.Sub(out[(i+1)%n], out[i])
		if r2.Dot(orig, shrunk) <= 0 {
			c := p.Centroid()
			dst.vertices = append(dst.vertices[:0], c)
			return nil
		}
	}
	p.work = out
	return dst.SetFromPoints(out)
}

func inwardNormal(dir r2.Vec) r2.Vec {
	length := r2.Norm(dir)
	if length < polygonEpsilon {
		return r2.Vec{}
	}
	return r2.Vec{X: -dir.Y / length, Y: dir.X / length}
}

func closestOnSegment(a, b, q r2.Vec) r2.Vec {
	ab := r2.Sub(b, a)
	l2 := r2.Norm2(ab)
	if l2 < polygonEpsilon*polygonEpsilon {
		return a
	}
	t := r2.Dot(r2.Sub(q, a), ab) / l2
	t = math.Max(0, math.Min(1, t))
	return r2.Add(a, r2.Scale(t, ab))
}

func cross3(o, a, b r2.Vec) float64 {
	return r2.Cross(r2.Sub(a, o), r2.Sub(b, o))
}

func lessXY(a, b r2.Vec) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	return a.Y < b.Y
}

func nearlyEqual(a, b r2.Vec) bool {
	return math.Abs(a.X-b.X) <= polygonEpsilon && math.Abs(a.Y-b.Y) <= polygonEpsilon
}

func appendDistinct(s []r2.Vec, v r2.Vec) []r2.Vec {
	if len(s) > 0 && nearlyEqual(s[len(s)-1], v) {
		return s
	}
	return append(s, v)
}
