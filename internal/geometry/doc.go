// Package geometry holds the planar primitives used by the capture-point
// engine: world/sole frame poses and small convex polygons.
//
// Responsibilities: pose transforms, convex hulls, half-plane cuts, insets,
// area and closest-point queries.
// Key types: Pose2, ConvexPolygon.
//
// Points are gonum spatial/r2 vectors. Polygons keep their vertices in
// counter-clockwise order and reuse their backing arrays, so callers on the
// control tick can rebuild them without allocating.
package geometry
