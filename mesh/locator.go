package mesh

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

// vertexPoint is a mesh vertex stored in the kd-tree
type vertexPoint struct {
	P     r3.Vec
	Index int
}

func (p vertexPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(vertexPoint)
	switch d {
	case 0:
		return p.P.X - q.P.X
	case 1:
		return p.P.Y - q.P.Y
	case 2:
		return p.P.Z - q.P.Z
	}
	panic("unreachable")
}

func (p vertexPoint) Dims() int { return 3 }

// Distance is squared euclidean distance, as kdtree expects
func (p vertexPoint) Distance(c kdtree.Comparable) float64 {
	return r3.Norm2(r3.Sub(p.P, c.(vertexPoint).P))
}

type vertexPoints []vertexPoint

func (p vertexPoints) Index(i int) kdtree.Comparable { return p[i] }
func (p vertexPoints) Len() int                      { return len(p) }
func (p vertexPoints) Pivot(d kdtree.Dim) int        { return vertexPlane{Dim: d, vertexPoints: p}.Pivot() }
func (p vertexPoints) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}

type vertexPlane struct {
	kdtree.Dim
	vertexPoints
}

func (p vertexPlane) Less(i, j int) bool {
	return p.vertexPoints[i].Compare(p.vertexPoints[j], p.Dim) < 0
}
func (p vertexPlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p vertexPlane) Slice(start, end int) kdtree.SortSlicer {
	p.vertexPoints = p.vertexPoints[start:end]
	return p
}
func (p vertexPlane) Swap(i, j int) {
	p.vertexPoints[i], p.vertexPoints[j] = p.vertexPoints[j], p.vertexPoints[i]
}

// VertexLocator answers nearest-vertex queries over a snapshot of a mesh.
type VertexLocator struct {
	tree *kdtree.Tree
}

// NewVertexLocator builds a kd-tree over m's current vertex positions
func NewVertexLocator(m *TriMesh) *VertexLocator {
	pts := make(vertexPoints, len(m.Vertices))
	for i, v := range m.Vertices {
		pts[i] = vertexPoint{P: v, Index: i}
	}
	if len(pts) == 0 {
		return &VertexLocator{}
	}
	return &VertexLocator{tree: kdtree.New(pts, false)}
}

// Nearest returns the index of the vertex closest to p and its distance.
// It returns -1 for an empty mesh.
func (l *VertexLocator) Nearest(p r3.Vec) (int, float64) {
	if l.tree == nil {
		return -1, 0
	}
	c, d := l.tree.Nearest(vertexPoint{P: p, Index: -1})
	if c == nil {
		return -1, 0
	}
	return c.(vertexPoint).Index, math.Sqrt(d)
}
