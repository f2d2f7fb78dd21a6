package mesh

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

const bvhLeafSize = 4

// Hit is the result of a nearest-point or ray query against a FaceIndex.
type Hit struct {
	Point    r3.Vec
	Face     int
	Normal   r3.Vec
	Distance float64
	// Weights are the barycentric coordinates of Point in Face
	Weights [3]float64
}

// FaceIndex is a static bounding volume hierarchy over a mesh's faces. It
// snapshots vertex positions at build time and must not outlive the operation
// that built it.
type FaceIndex struct {
	mesh      *TriMesh
	positions []r3.Vec
	order     []int
	nodes     []bvhNode
	normals   []r3.Vec
}

type bvhNode struct {
	box         r3.Box
	left, right int // child node indices, -1 for leaves
	start, end  int // range into order for leaves
}

// NewFaceIndex builds the hierarchy over m's current geometry.
func NewFaceIndex(m *TriMesh) *FaceIndex {
	idx := &FaceIndex{
		mesh:      m,
		positions: append([]r3.Vec(nil), m.Vertices...),
		order:     make([]int, len(m.Faces)),
		normals:   m.FaceNormals(),
	}
	if len(m.Faces) == 0 {
		return idx
	}
	centroids := make([]r3.Vec, len(m.Faces))
	for i := range m.Faces {
		idx.order[i] = i
		a, b, c := idx.corners(i)
		centroids[i] = r3.Scale(1.0/3, r3.Add(r3.Add(a, b), c))
	}
	idx.nodes = make([]bvhNode, 0, 2*len(m.Faces)/bvhLeafSize+1)
	idx.build(0, len(m.Faces), centroids)
	return idx
}

func (idx *FaceIndex) corners(face int) (a, b, c r3.Vec) {
	f := idx.mesh.Faces[face]
	return idx.positions[f[0]], idx.positions[f[1]], idx.positions[f[2]]
}

func (idx *FaceIndex) build(start, end int, centroids []r3.Vec) int {
	box := idx.rangeBox(start, end)
	node := len(idx.nodes)
	idx.nodes = append(idx.nodes, bvhNode{box: box, left: -1, right: -1, start: start, end: end})
	if end-start <= bvhLeafSize {
		return node
	}

	ext := r3.Sub(box.Max, box.Min)
	key := func(v r3.Vec) float64 { return v.X }
	if ext.Y > ext.X && ext.Y >= ext.Z {
		key = func(v r3.Vec) float64 { return v.Y }
	} else if ext.Z > ext.X && ext.Z > ext.Y {
		key = func(v r3.Vec) float64 { return v.Z }
	}
	sub := idx.order[start:end]
	sort.Slice(sub, func(i, j int) bool { return key(centroids[sub[i]]) < key(centroids[sub[j]]) })

	mid := (start + end) / 2
	left := idx.build(start, mid, centroids)
	right := idx.build(mid, end, centroids)
	idx.nodes[node].left = left
	idx.nodes[node].right = right
	return node
}

func (idx *FaceIndex) rangeBox(start, end int) r3.Box {
	pts := make([]r3.Vec, 0, 3*(end-start))
	for _, f := range idx.order[start:end] {
		a, b, c := idx.corners(f)
		pts = append(pts, a, b, c)
	}
	return boundsOf(pts)
}

// Nearest returns the closest surface point to p. ok is false for an empty mesh.
func (idx *FaceIndex) Nearest(p r3.Vec) (Hit, bool) {
	if len(idx.nodes) == 0 {
		return Hit{}, false
	}
	best := Hit{Face: -1, Distance: math.Inf(1)}
	bestSq := math.Inf(1)
	idx.nearest(0, p, &best, &bestSq)
	if best.Face < 0 {
		return Hit{}, false
	}
	best.Distance = math.Sqrt(bestSq)
	best.Normal = idx.normals[best.Face]
	return best, true
}

func (idx *FaceIndex) nearest(node int, p r3.Vec, best *Hit, bestSq *float64) {
	n := &idx.nodes[node]
	if boxDistSq(n.box, p) > *bestSq {
		return
	}
	if n.left < 0 {
		for _, f := range idx.order[n.start:n.end] {
			a, b, c := idx.corners(f)
			q, w := closestOnTriangle(p, a, b, c)
			if d := r3.Norm2(r3.Sub(q, p)); d < *bestSq {
				*bestSq = d
				best.Point, best.Face, best.Weights = q, f, w
			}
		}
		return
	}
	first, second := n.left, n.right
	if boxDistSq(idx.nodes[second].box, p) < boxDistSq(idx.nodes[first].box, p) {
		first, second = second, first
	}
	idx.nearest(first, p, best, bestSq)
	idx.nearest(second, p, best, bestSq)
}

// RayCast returns the first face hit along origin + t*dir for t >= 0.
func (idx *FaceIndex) RayCast(origin, dir r3.Vec) (Hit, bool) {
	if len(idx.nodes) == 0 || r3.Norm2(dir) == 0 {
		return Hit{}, false
	}
	dir = unitOrZero(dir)
	best := Hit{Face: -1, Distance: math.Inf(1)}
	stack := []int{0}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &idx.nodes[node]
		if !rayHitsBox(n.box, origin, dir, best.Distance) {
			continue
		}
		if n.left >= 0 {
			stack = append(stack, n.left, n.right)
			continue
		}
		for _, f := range idx.order[n.start:n.end] {
			a, b, c := idx.corners(f)
			t, w, ok := rayTriangle(origin, dir, a, b, c)
			if ok && t < best.Distance {
				best = Hit{
					Point:    r3.Add(origin, r3.Scale(t, dir)),
					Face:     f,
					Distance: t,
					Weights:  w,
				}
			}
		}
	}
	if best.Face < 0 {
		return Hit{}, false
	}
	best.Normal = idx.normals[best.Face]
	return best, true
}

func boxDistSq(b r3.Box, p r3.Vec) float64 {
	d := func(v, lo, hi float64) float64 {
		if v < lo {
			return lo - v
		}
		if v > hi {
			return v - hi
		}
		return 0
	}
	dx := d(p.X, b.Min.X, b.Max.X)
	dy := d(p.Y, b.Min.Y, b.Max.Y)
	dz := d(p.Z, b.Min.Z, b.Max.Z)
	return dx*dx + dy*dy + dz*dz
}

// rayHitsBox is the slab test restricted to [0, maxT].
func rayHitsBox(b r3.Box, o, d r3.Vec, maxT float64) bool {
	tmin, tmax := 0.0, maxT
	slab := func(o, d, lo, hi float64) bool {
		if math.Abs(d) < 1e-15 {
			return o >= lo && o <= hi
		}
		t1, t2 := (lo-o)/d, (hi-o)/d
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tmin = math.Max(tmin, t1)
		tmax = math.Min(tmax, t2)
		return tmin <= tmax
	}
	return slab(o.X, d.X, b.Min.X, b.Max.X) &&
		slab(o.Y, d.Y, b.Min.Y, b.Max.Y) &&
		slab(o.Z, d.Z, b.Min.Z, b.Max.Z)
}

// rayTriangle is the Möller–Trumbore intersection test.
func rayTriangle(o, d, a, b, c r3.Vec) (float64, [3]float64, bool) {
	const eps = 1e-12
	e1 := r3.Sub(b, a)
	e2 := r3.Sub(c, a)
	pv := r3.Cross(d, e2)
	det := r3.Dot(e1, pv)
	if math.Abs(det) < eps {
		return 0, [3]float64{}, false
	}
	inv := 1 / det
	tv := r3.Sub(o, a)
	u := r3.Dot(tv, pv) * inv
	if u < 0 || u > 1 {
		return 0, [3]float64{}, false
	}
	qv := r3.Cross(tv, e1)
	v := r3.Dot(d, qv) * inv
	if v < 0 || u+v > 1 {
		return 0, [3]float64{}, false
	}
	t := r3.Dot(e2, qv) * inv
	if t < 0 {
		return 0, [3]float64{}, false
	}
	return t, [3]float64{1 - u - v, u, v}, true
}

// closestOnTriangle returns the point of triangle abc closest to p together
// with its barycentric weights, which always lie inside [0,1] and sum to 1.
func closestOnTriangle(p, a, b, c r3.Vec) (r3.Vec, [3]float64) {
	ab := r3.Sub(b, a)
	ac := r3.Sub(c, a)
	ap := r3.Sub(p, a)
	d1 := r3.Dot(ab, ap)
	d2 := r3.Dot(ac, ap)
	if d1 <= 0 && d2 <= 0 {
		return a, [3]float64{1, 0, 0}
	}

	bp := r3.Sub(p, b)
	d3 := r3.Dot(ab, bp)
	d4 := r3.Dot(ac, bp)
	if d3 >= 0 && d4 <= d3 {
		return b, [3]float64{0, 1, 0}
	}

	vc := d1*d4 - d3*d2
	if vc <= 0 && d1 >= 0 && d3 <= 0 {
		v := d1 / (d1 - d3)
		return r3.Add(a, r3.Scale(v, ab)), [3]float64{1 - v, v, 0}
	}

	cp := r3.Sub(p, c)
	d5 := r3.Dot(ab, cp)
	d6 := r3.Dot(ac, cp)
	if d6 >= 0 && d5 <= d6 {
		return c, [3]float64{0, 0, 1}
	}

	vb := d5*d2 - d1*d6
	if vb <= 0 && d2 >= 0 && d6 <= 0 {
		w := d2 / (d2 - d6)
		return r3.Add(a, r3.Scale(w, ac)), [3]float64{1 - w, 0, w}
	}

	va := d3*d6 - d5*d4
	if va <= 0 && (d4-d3) >= 0 && (d5-d6) >= 0 {
		w := (d4 - d3) / ((d4 - d3) + (d5 - d6))
		return r3.Add(b, r3.Scale(w, r3.Sub(c, b))), [3]float64{0, 1 - w, w}
	}

	denom := va + vb + vc
	if denom == 0 {
		// zero-area face collapsed to a point or segment; fall back to a
		return a, [3]float64{1, 0, 0}
	}
	v := vb / denom
	w := vc / denom
	q := r3.Add(a, r3.Add(r3.Scale(v, ab), r3.Scale(w, ac)))
	return q, [3]float64{1 - v - w, v, w}
}
