package mesh

import (
	"log"
	"math"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/spatial/r3"
)

// GeodesicOracle answers per-seed surface distance queries. Distance fields
// are computed lazily on first request after AddSeed and dropped by
// RemoveSeed.
type GeodesicOracle interface {
	AddSeed(vertex int) error
	RemoveSeed(vertex int)
	Seeds() []int
	// DistanceField returns the distance of every vertex from seed
	DistanceField(seed int) ([]float64, error)
	// ShortestPath returns the points from target back to seed, in that order
	ShortestPath(seed, target int) ([]r3.Vec, error)
}

// EdgeGeodesics approximates geodesics by shortest paths along mesh edges,
// weighted by edge length.
type EdgeGeodesics struct {
	mesh   *TriMesh
	g      *simple.WeightedUndirectedGraph
	seeds  []int
	fields map[int]path.Shortest
}

// NewEdgeGeodesics snapshots m's edge graph at its current positions
func NewEdgeGeodesics(m *TriMesh) *EdgeGeodesics {
	g := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for i := range m.Vertices {
		g.AddNode(simple.Node(i))
	}
	for _, e := range m.Edges() {
		w := r3.Norm(r3.Sub(m.Vertices[e.A], m.Vertices[e.B]))
		g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(e.A), simple.Node(e.B), w))
	}
	return &EdgeGeodesics{mesh: m, g: g, fields: make(map[int]path.Shortest)}
}

// AddSeed registers vertex as a seed. Adding an existing seed is a no-op.
func (e *EdgeGeodesics) AddSeed(vertex int) error {
	if vertex < 0 || vertex >= e.mesh.VertexCount() {
		return errorf(ErrUnknownSeed, "vertex %d out of range for %q (have %d)", vertex, e.mesh.Name, e.mesh.VertexCount())
	}
	for _, s := range e.seeds {
		if s == vertex {
			return nil
		}
	}
	e.seeds = append(e.seeds, vertex)
	return nil
}

// RemoveSeed forgets vertex and its memoised field
func (e *EdgeGeodesics) RemoveSeed(vertex int) {
	for i, s := range e.seeds {
		if s == vertex {
			e.seeds = append(e.seeds[:i], e.seeds[i+1:]...)
			break
		}
	}
	delete(e.fields, vertex)
}

// Seeds returns the registered seeds in insertion order
func (e *EdgeGeodesics) Seeds() []int {
	return append([]int(nil), e.seeds...)
}

func (e *EdgeGeodesics) shortest(seed int) (path.Shortest, error) {
	if sp, ok := e.fields[seed]; ok {
		return sp, nil
	}
	known := false
	for _, s := range e.seeds {
		if s == seed {
			known = true
			break
		}
	}
	if !known {
		return path.Shortest{}, errorf(ErrUnknownSeed, "vertex %d is not a seed of %q", seed, e.mesh.Name)
	}
	sp := path.DijkstraFrom(simple.Node(seed), e.g)
	e.fields[seed] = sp
	return sp, nil
}

// DistanceField returns per-vertex distances from seed; unreachable vertices
// are +Inf.
func (e *EdgeGeodesics) DistanceField(seed int) ([]float64, error) {
	sp, err := e.shortest(seed)
	if err != nil {
		return nil, err
	}
	d := make([]float64, e.mesh.VertexCount())
	for i := range d {
		d[i] = sp.WeightTo(int64(i))
	}
	return d, nil
}

// ShortestPath returns the path points from target back to seed.
func (e *EdgeGeodesics) ShortestPath(seed, target int) ([]r3.Vec, error) {
	if target < 0 || target >= e.mesh.VertexCount() {
		return nil, errorf(ErrUnknownSeed, "target vertex %d out of range for %q", target, e.mesh.Name)
	}
	sp, err := e.shortest(seed)
	if err != nil {
		return nil, err
	}
	nodes, _ := sp.To(int64(target))
	pts := make([]r3.Vec, len(nodes))
	for i, n := range nodes {
		pts[len(nodes)-1-i] = e.mesh.Vertices[n.ID()]
	}
	return pts, nil
}

// DistanceMatrix returns the K×K matrix of distances between seed vertices,
// registering any seed the oracle does not know yet. Progress is reported
// once per seed.
func DistanceMatrix(oracle GeodesicOracle, seeds []int, progress ProgressFunc) ([][]float64, error) {
	k := len(seeds)
	out := make([][]float64, k)
	for i, s := range seeds {
		if err := oracle.AddSeed(s); err != nil {
			return nil, err
		}
		field, err := oracle.DistanceField(s)
		if err != nil {
			return nil, err
		}
		row := make([]float64, k)
		for j, t := range seeds {
			row[j] = field[t]
		}
		out[i] = row
		progress.report(i+1, k)
	}
	return out, nil
}

// SeamEdges sums the given K×K distance matrices and returns the edges of a
// minimum spanning tree over the result as sorted (i, j) pairs with i < j.
// Zero and infinite entries are treated as missing edges.
func SeamEdges(matrices ...[][]float64) ([][2]int, error) {
	if len(matrices) == 0 {
		return nil, nil
	}
	k := len(matrices[0])
	for n, m := range matrices {
		if len(m) != k {
			return nil, errorf(ErrTopologyMismatch, "distance matrix %d is %d×%d, want %d×%d", n, len(m), len(m), k, k)
		}
		for _, row := range m {
			if len(row) != k {
				return nil, errorf(ErrTopologyMismatch, "distance matrix %d is not square", n)
			}
		}
	}

	g := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for i := 0; i < k; i++ {
		g.AddNode(simple.Node(i))
	}
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			w := math.Inf(1)
			for _, ij := range []float64{sum(matrices, i, j), sum(matrices, j, i)} {
				if ij > 0 && ij < w {
					w = ij
				}
			}
			if math.IsInf(w, 1) {
				continue
			}
			g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(i), simple.Node(j), w))
		}
	}

	tree := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	path.Kruskal(tree, g)

	var edges [][2]int
	it := tree.WeightedEdges()
	for it.Next() {
		edges = append(edges, orderedPair(it.WeightedEdge()))
	}
	sort.Slice(edges, func(a, b int) bool {
		if edges[a][0] != edges[b][0] {
			return edges[a][0] < edges[b][0]
		}
		return edges[a][1] < edges[b][1]
	})
	return edges, nil
}

func sum(matrices [][][]float64, i, j int) float64 {
	var s float64
	for _, m := range matrices {
		s += m[i][j]
	}
	return s
}

func orderedPair(e graph.Edge) [2]int {
	a, b := int(e.From().ID()), int(e.To().ID())
	if a > b {
		a, b = b, a
	}
	return [2]int{a, b}
}

// Seam is one cut between two landmark slots of a seam tree, with the surface
// path on each mesh from the first landmark to the second.
type Seam struct {
	From, To   int
	SourcePath []r3.Vec
	TargetPath []r3.Vec
}

// OracleFactory creates a GeodesicOracle for a mesh
type OracleFactory func(m *TriMesh) GeodesicOracle

// EdgeOracle is the OracleFactory for EdgeGeodesics
func EdgeOracle(m *TriMesh) GeodesicOracle { return NewEdgeGeodesics(m) }

// LandmarkSeams reorders and snaps the linker's landmarks, then connects the
// linked pairs with a spanning tree over the summed geodesic distances of
// both meshes. A linker without target store seams the source landmarks alone.
func LandmarkSeams(k *Linker, newOracle OracleFactory, progress ProgressFunc) ([]Seam, error) {
	if newOracle == nil {
		newOracle = EdgeOracle
	}

	var srcSeeds, tgtSeeds []int
	if k.Target == nil {
		ReorderStore(k.Source)
		if err := k.Source.SnapToVertices(); err != nil {
			return nil, err
		}
		for _, l := range k.Source.landmarks {
			v, _ := l.BestVertex()
			srcSeeds = append(srcSeeds, v)
		}
	} else {
		k.Reorder()
		if err := k.Source.SnapToVertices(); err != nil {
			return nil, err
		}
		if err := k.Target.SnapToVertices(); err != nil {
			return nil, err
		}
		for _, p := range k.Pairs() {
			sv, _ := p.Source.BestVertex()
			tv, _ := p.Target.BestVertex()
			srcSeeds = append(srcSeeds, sv)
			tgtSeeds = append(tgtSeeds, tv)
		}
	}

	srcOracle := newOracle(k.Source.mesh)
	srcMatrix, err := DistanceMatrix(srcOracle, srcSeeds, progress)
	if err != nil {
		return nil, err
	}
	matrices := [][][]float64{srcMatrix}
	var tgtOracle GeodesicOracle
	if k.Target != nil {
		tgtOracle = newOracle(k.Target.mesh)
		tgtMatrix, err := DistanceMatrix(tgtOracle, tgtSeeds, progress)
		if err != nil {
			return nil, err
		}
		matrices = append(matrices, tgtMatrix)
	}

	edges, err := SeamEdges(matrices...)
	if err != nil {
		return nil, err
	}
	seams := make([]Seam, 0, len(edges))
	for _, e := range edges {
		s := Seam{From: e[0], To: e[1]}
		if s.SourcePath, err = forwardPath(srcOracle, srcSeeds[e[0]], srcSeeds[e[1]]); err != nil {
			return nil, err
		}
		if tgtOracle != nil {
			if s.TargetPath, err = forwardPath(tgtOracle, tgtSeeds[e[0]], tgtSeeds[e[1]]); err != nil {
				return nil, err
			}
		}
		seams = append(seams, s)
	}
	log.Printf("[seams] %d landmarks connected by %d seams", len(srcSeeds), len(seams))
	return seams, nil
}

// forwardPath returns the oracle path from seed to target in walking order
func forwardPath(o GeodesicOracle, seed, target int) ([]r3.Vec, error) {
	pts, err := o.ShortestPath(seed, target)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
		pts[i], pts[j] = pts[j], pts[i]
	}
	return pts, nil
}
