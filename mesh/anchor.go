package mesh

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// degenerateArea is the squared-area threshold below which a face is treated as
// having no usable barycentric frame.
const degenerateArea = 1e-24

// Anchor pins a point to a mesh face by barycentric weights over the face's
// three vertex indices. The cached position is derived data.
type Anchor struct {
	FaceIndex      int        `json:"faceIndex"`
	VertexIndices  [3]int     `json:"vertexIndices"`
	Weights        [3]float64 `json:"weights"`
	CachedPosition r3.Vec     `json:"cachedPosition"`
}

// ResolvePosition evaluates the anchor against the mesh's current vertex
// positions and refreshes CachedPosition. Weights are used as given.
func (a *Anchor) ResolvePosition(m *TriMesh) (r3.Vec, error) {
	p, err := a.Evaluate(m)
	if err != nil {
		return r3.Vec{}, err
	}
	a.CachedPosition = p
	return p, nil
}

// Evaluate is ResolvePosition without updating the cache
func (a Anchor) Evaluate(m *TriMesh) (r3.Vec, error) {
	for _, v := range a.VertexIndices {
		if v < 0 || v >= len(m.Vertices) {
			return r3.Vec{}, errorf(ErrInvalidFace, "anchor on face %d references vertex %d of %q (have %d)",
				a.FaceIndex, v, m.Name, len(m.Vertices))
		}
	}
	return combine(m.Vertices, a.VertexIndices, a.Weights), nil
}

// BestVertex returns the vertex carrying the largest weight
func (a *Anchor) BestVertex() (int, float64) {
	best := 0
	for i := 1; i < 3; i++ {
		if a.Weights[i] > a.Weights[best] {
			best = i
		}
	}
	return a.VertexIndices[best], a.Weights[best]
}

// SnapToVertex turns the weights into a one-hot vector at the heaviest vertex.
func (a *Anchor) SnapToVertex() {
	best := 0
	for i := 1; i < 3; i++ {
		if a.Weights[i] > a.Weights[best] {
			best = i
		}
	}
	a.Weights = [3]float64{}
	a.Weights[best] = 1
}

// Barycentric returns the weights of p's projection onto the plane of (a, b, c).
// ok is false when the triangle is degenerate.
func Barycentric(p, a, b, c r3.Vec) (w [3]float64, ok bool) {
	v0 := r3.Sub(b, a)
	v1 := r3.Sub(c, a)
	v2 := r3.Sub(p, a)
	d00 := r3.Dot(v0, v0)
	d01 := r3.Dot(v0, v1)
	d11 := r3.Dot(v1, v1)
	d20 := r3.Dot(v2, v0)
	d21 := r3.Dot(v2, v1)
	denom := d00*d11 - d01*d01
	if math.Abs(denom) <= degenerateArea {
		return w, false
	}
	v := (d11*d20 - d01*d21) / denom
	u := (d00*d21 - d01*d20) / denom
	return [3]float64{1 - v - u, v, u}, true
}

// clampWeights clamps each weight to [0,1] and renormalises the sum to 1.
func clampWeights(w [3]float64) [3]float64 {
	var sum float64
	for i := range w {
		w[i] = math.Max(0, math.Min(1, w[i]))
		sum += w[i]
	}
	if sum == 0 {
		return [3]float64{1, 0, 0}
	}
	for i := range w {
		w[i] /= sum
	}
	return w
}

// AnchorAt builds an anchor for surface point p on face. With clamp set, the
// weights are clamped into the face and renormalised. A degenerate face
// anchors to its first vertex.
func AnchorAt(m *TriMesh, face int, p r3.Vec, clamp bool) (Anchor, error) {
	if face < 0 || face >= len(m.Faces) {
		return Anchor{}, errorf(ErrInvalidFace, "face %d out of range for %q (have %d)", face, m.Name, len(m.Faces))
	}
	a, b, c := m.FaceVertices(face)
	w, ok := Barycentric(p, a, b, c)
	if !ok {
		w = [3]float64{1, 0, 0}
	} else if clamp {
		w = clampWeights(w)
	}
	anchor := Anchor{FaceIndex: face, VertexIndices: m.Faces[face], Weights: w}
	anchor.CachedPosition = combine(m.Vertices, anchor.VertexIndices, w)
	return anchor, nil
}

func combine(positions []r3.Vec, idx [3]int, w [3]float64) r3.Vec {
	p := r3.Scale(w[0], positions[idx[0]])
	p = r3.Add(p, r3.Scale(w[1], positions[idx[1]]))
	return r3.Add(p, r3.Scale(w[2], positions[idx[2]]))
}

// FaceAnchor builds an anchor from explicit weights over face's vertices
func FaceAnchor(m *TriMesh, face int, w [3]float64) (Anchor, error) {
	if face < 0 || face >= len(m.Faces) {
		return Anchor{}, errorf(ErrInvalidFace, "face %d out of range for %q (have %d)", face, m.Name, len(m.Faces))
	}
	anchor := Anchor{FaceIndex: face, VertexIndices: m.Faces[face], Weights: w}
	anchor.CachedPosition = combine(m.Vertices, anchor.VertexIndices, w)
	return anchor, nil
}
