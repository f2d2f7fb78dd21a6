package mesh

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestEdgeGeodesics_DistanceField(t *testing.T) {
	m := gridMesh(t, "grid", 3, 1)
	g := NewEdgeGeodesics(m)

	_, err := g.DistanceField(0)
	assert.ErrorIs(t, err, ErrUnknownSeed, "fields exist only for registered seeds")

	require.NoError(t, g.AddSeed(0))
	require.NoError(t, g.AddSeed(0))
	assert.Equal(t, []int{0}, g.Seeds())

	d, err := g.DistanceField(0)
	require.NoError(t, err)
	require.Len(t, d, 9)
	assert.Equal(t, 0.0, d[0])
	assert.InDelta(t, 2.0, d[2], 1e-12)
	assert.InDelta(t, math.Sqrt2, d[4], 1e-12, "grid diagonals are edges")
	assert.InDelta(t, 2*math.Sqrt2, d[8], 1e-12)
	assert.InDelta(t, 1+math.Sqrt2, d[5], 1e-12)

	assert.ErrorIs(t, g.AddSeed(9), ErrUnknownSeed)
	g.RemoveSeed(0)
	assert.Empty(t, g.Seeds())
	_, err = g.DistanceField(0)
	assert.ErrorIs(t, err, ErrUnknownSeed)
}

func TestEdgeGeodesics_ShortestPathRunsTargetToSeed(t *testing.T) {
	m := gridMesh(t, "grid", 3, 1)
	g := NewEdgeGeodesics(m)
	require.NoError(t, g.AddSeed(0))

	pts, err := g.ShortestPath(0, 8)
	require.NoError(t, err)
	assert.Equal(t, []r3.Vec{m.Vertices[8], m.Vertices[4], m.Vertices[0]}, pts)

	pts, err = g.ShortestPath(0, 0)
	require.NoError(t, err)
	assert.Equal(t, []r3.Vec{m.Vertices[0]}, pts)

	_, err = g.ShortestPath(3, 8)
	assert.ErrorIs(t, err, ErrUnknownSeed)
	_, err = g.ShortestPath(0, 42)
	assert.ErrorIs(t, err, ErrUnknownSeed)
}

func TestEdgeGeodesics_Unreachable(t *testing.T) {
	m, err := NewTriMesh("islands",
		[]r3.Vec{{}, {X: 1}, {Y: 1}, {X: 5}, {X: 6}, {X: 5, Y: 1}},
		[][3]int{{0, 1, 2}, {3, 4, 5}})
	require.NoError(t, err)
	g := NewEdgeGeodesics(m)
	require.NoError(t, g.AddSeed(0))

	d, err := g.DistanceField(0)
	require.NoError(t, err)
	assert.True(t, math.IsInf(d[4], 1))
	pts, err := g.ShortestPath(0, 4)
	require.NoError(t, err)
	assert.Empty(t, pts)
}

func TestDistanceMatrix(t *testing.T) {
	m := gridMesh(t, "grid", 3, 1)
	g := NewEdgeGeodesics(m)

	var reported []int
	dm, err := DistanceMatrix(g, []int{0, 2, 8}, func(done, total int) {
		assert.Equal(t, 3, total)
		reported = append(reported, done)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, reported)
	assert.ElementsMatch(t, []int{0, 2, 8}, g.Seeds())
	for i := range dm {
		assert.Equal(t, 0.0, dm[i][i])
		for j := range dm {
			assert.InDelta(t, dm[i][j], dm[j][i], 1e-12)
		}
	}
	assert.InDelta(t, 2.0, dm[0][1], 1e-12)
	assert.InDelta(t, 2.0, dm[1][2], 1e-12)

	_, err = DistanceMatrix(g, []int{0, -1}, nil)
	assert.ErrorIs(t, err, ErrUnknownSeed)
}

func TestSeamEdges(t *testing.T) {
	// four points on a line: the tree is the chain
	line := [][]float64{
		{0, 1, 2, 3},
		{1, 0, 1, 2},
		{2, 1, 0, 1},
		{3, 2, 1, 0},
	}
	edges, err := SeamEdges(line)
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{0, 1}, {1, 2}, {2, 3}}, edges)

	// a second matrix that makes 0-3 cheap changes the tree
	shortcut := [][]float64{
		{0, 0, 0, -2.9},
		{0, 0, 0.5, 0},
		{0, 0.5, 0, 0},
		{-2.9, 0, 0, 0},
	}
	edges, err = SeamEdges(line, shortcut)
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{0, 1}, {0, 3}, {2, 3}}, edges)

	// missing and asymmetric entries take the smaller usable value
	sparse := [][]float64{
		{0, math.Inf(1), 5},
		{2, 0, 0},
		{5, 0, 0},
	}
	edges, err = SeamEdges(sparse)
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{0, 1}, {0, 2}}, edges)

	_, err = SeamEdges(line, sparse)
	assert.ErrorIs(t, err, ErrTopologyMismatch)
	_, err = SeamEdges([][]float64{{0, 1}, {1}})
	assert.ErrorIs(t, err, ErrTopologyMismatch)

	edges, err = SeamEdges()
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestLandmarkSeams_Paired(t *testing.T) {
	sm := gridMesh(t, "source", 4, 1)
	tm := gridMesh(t, "target", 4, 2)
	k := NewLinker(NewLandmarkStore(sm), NewLandmarkStore(tm))

	// three corners, each landmark slightly off its vertex
	place := func(s *LandmarkStore, m *TriMesh, face int, w [3]float64, id int) *Landmark {
		a, err := FaceAnchor(m, face, w)
		require.NoError(t, err)
		l, err := s.AddWithID(a, "", id)
		require.NoError(t, err)
		return l
	}
	heavy0 := [3]float64{0.8, 0.1, 0.1}
	heavy1 := [3]float64{0.1, 0.8, 0.1}
	heavy2 := [3]float64{0.1, 0.1, 0.8}
	s0 := place(k.Source, sm, 0, heavy0, 10)  // face 0 is {0, 1, 5}: vertex 0
	s1 := place(k.Source, sm, 16, heavy2, 11) // face 16 is {10, 11, 15}: vertex 15
	s2 := place(k.Source, sm, 4, heavy1, 12)  // face 4 is {2, 3, 7}: vertex 3
	t0 := place(k.Target, tm, 0, heavy0, 3)
	t1 := place(k.Target, tm, 16, heavy2, 4)
	t2 := place(k.Target, tm, 4, heavy1, 5)
	place(k.Target, tm, 8, heavy0, 9) // unlinked
	require.NoError(t, k.Link(s0, t0))
	require.NoError(t, k.Link(s1, t1))
	require.NoError(t, k.Link(s2, t2))

	seams, err := LandmarkSeams(k, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2}, []int{s0.ID, s1.ID, s2.ID})
	assert.Equal(t, s0.ID, t0.ID)
	assert.Equal(t, [3]float64{1, 0, 0}, s0.Weights, "landmarks snap to vertices")

	require.Len(t, seams, 2, "three linked landmarks need two seams")
	for _, seam := range seams {
		assert.Less(t, seam.From, seam.To)
		from, _ := k.Source.Find(seam.From)
		to, _ := k.Source.Find(seam.To)
		require.NotEmpty(t, seam.SourcePath)
		assert.Equal(t, from.CachedPosition, seam.SourcePath[0])
		assert.Equal(t, to.CachedPosition, seam.SourcePath[len(seam.SourcePath)-1])

		tfrom, _ := k.Target.Find(seam.From)
		require.NotEmpty(t, seam.TargetPath)
		assert.Equal(t, tfrom.CachedPosition, seam.TargetPath[0])
	}
}

func TestLandmarkSeams_SingleStore(t *testing.T) {
	m := gridMesh(t, "solo", 3, 1)
	store := NewLandmarkStore(m)
	for _, v := range []int{0, 2, 6, 8} {
		face := m.VertexFaces()[v][0]
		var w [3]float64
		for c, fv := range m.Faces[face] {
			if fv == v {
				w[c] = 1
			}
		}
		a, err := FaceAnchor(m, face, w)
		require.NoError(t, err)
		_, err = store.AddWithID(a, "", 100+v)
		require.NoError(t, err)
	}

	seams, err := LandmarkSeams(&Linker{Source: store}, EdgeOracle, nil)
	require.NoError(t, err)
	assert.Len(t, seams, 3)
	for _, s := range seams {
		assert.Nil(t, s.TargetPath)
		assert.GreaterOrEqual(t, len(s.SourcePath), 3)
	}
	_, ok := store.Find(3)
	assert.True(t, ok, "ids renumbered from zero")
}
