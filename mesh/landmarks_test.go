package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func vertexAnchor(t *testing.T, m *TriMesh, face, corner int) Anchor {
	t.Helper()
	var w [3]float64
	w[corner] = 1
	a, err := FaceAnchor(m, face, w)
	require.NoError(t, err)
	return a
}

func TestLandmarkStore_AddAssignsIncreasingIDs(t *testing.T) {
	m := unitSquare(t, "square")
	s := NewLandmarkStore(m)

	a := s.Add(vertexAnchor(t, m, 0, 0), "")
	b := s.Add(vertexAnchor(t, m, 0, 1), "nose")
	assert.Equal(t, 0, a.ID, "empty store starts at 0")
	assert.Equal(t, 1, b.ID)
	assert.Equal(t, "Original Id: 0", a.Name)
	assert.Equal(t, "nose", b.Name)
	assert.Equal(t, -1, a.LinkedID)
	assert.False(t, a.IsLinked)
	assert.Same(t, s, a.Store())

	_, err := s.AddWithID(vertexAnchor(t, m, 1, 2), "chin", 10)
	require.NoError(t, err)
	c := s.Add(vertexAnchor(t, m, 1, 1), "")
	assert.Equal(t, 11, c.ID, "next id follows the maximum, gaps kept")
}

func TestLandmarkStore_AddWithIDConflicts(t *testing.T) {
	m := unitSquare(t, "square")
	s := NewLandmarkStore(m)
	_, err := s.AddWithID(vertexAnchor(t, m, 0, 0), "a", 3)
	require.NoError(t, err)

	_, err = s.AddWithID(vertexAnchor(t, m, 0, 1), "b", 3)
	assert.ErrorIs(t, err, ErrConflictingID)
	_, err = s.AddWithID(vertexAnchor(t, m, 0, 1), "b", -2)
	assert.ErrorIs(t, err, ErrConflictingID)
	assert.Equal(t, 1, s.Len())
}

func TestLandmarkStore_RemoveKeepsIDs(t *testing.T) {
	m := unitSquare(t, "square")
	s := NewLandmarkStore(m)
	for i := 0; i < 3; i++ {
		s.Add(vertexAnchor(t, m, 0, i), "")
	}

	assert.True(t, s.Remove(1))
	assert.False(t, s.Remove(1))

	var ids []int
	s.Each(func(l *Landmark) bool {
		ids = append(ids, l.ID)
		return true
	})
	assert.Equal(t, []int{0, 2}, ids)
	_, ok := s.Find(1)
	assert.False(t, ok)
	assert.Equal(t, 3, s.Add(vertexAnchor(t, m, 1, 2), "").ID)
}

func TestLandmarkStore_UpdatePositionsAndSnap(t *testing.T) {
	m := unitSquare(t, "square")
	s := NewLandmarkStore(m)
	a, err := FaceAnchor(m, 0, [3]float64{0.1, 0.6, 0.3})
	require.NoError(t, err)
	l := s.Add(a, "")

	m.Vertices[1] = r3.Vec{X: 5}
	require.NoError(t, s.UpdatePositions())
	assert.InDelta(t, 0.6*5+0.3, l.CachedPosition.X, 1e-12)

	require.NoError(t, s.SnapToVertices())
	assert.Equal(t, [3]float64{0, 1, 0}, l.Weights)
	assert.Equal(t, m.Vertices[1], l.CachedPosition)
}

func TestLandmarkStore_TransferTo(t *testing.T) {
	src := unitSquare(t, "src")
	dstMesh := src.Duplicate("dst")
	dstMesh.Vertices[2] = r3.Vec{X: 2, Y: 2}

	s := NewLandmarkStore(src)
	d := NewLandmarkStore(dstMesh)
	d.Add(vertexAnchor(t, dstMesh, 0, 0), "old")

	l, err := s.AddWithID(vertexAnchor(t, src, 0, 2), "corner", 7)
	require.NoError(t, err)
	l.IsLinked, l.LinkedID = true, 4

	require.NoError(t, s.TransferTo(d))
	require.Equal(t, 1, d.Len())
	got, ok := d.Find(7)
	require.True(t, ok)
	assert.Equal(t, "corner", got.Name)
	assert.False(t, got.IsLinked, "links are not transferred")
	assert.Equal(t, r3.Vec{X: 2, Y: 2}, got.CachedPosition, "positions follow the destination mesh")

	other, err := NewTriMesh("tri", []r3.Vec{{}, {X: 1}, {Y: 1}}, [][3]int{{0, 1, 2}})
	require.NoError(t, err)
	assert.ErrorIs(t, s.TransferTo(NewLandmarkStore(other)), ErrTopologyMismatch)
}

func TestLandmarkStore_Autocorrect(t *testing.T) {
	coarse := unitSquare(t, "coarse")
	fine := gridMesh(t, "fine", 5, 0.25)

	s := NewLandmarkStore(coarse)
	a, err := FaceAnchor(coarse, 0, [3]float64{0.5, 0.5, 0})
	require.NoError(t, err) // (0.5, 0, 0)
	l := s.Add(a, "mid")

	require.NoError(t, s.Autocorrect(fine))
	assert.Same(t, fine, s.Mesh())
	p, err := l.Evaluate(fine)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, p.X, 1e-9)
	assert.InDelta(t, 0.0, p.Y, 1e-9)
	assert.Equal(t, 0, l.ID, "ids survive autocorrect")

	empty := &TriMesh{Name: "empty"}
	assert.ErrorIs(t, s.Autocorrect(empty), ErrMissingTarget)
}

func TestLandmarkStore_Status(t *testing.T) {
	sm, tm := unitSquare(t, "s"), unitSquare(t, "t")
	k := NewLinker(NewLandmarkStore(sm), NewLandmarkStore(tm))
	a := k.Source.Add(vertexAnchor(t, sm, 0, 0), "")
	k.Source.Add(vertexAnchor(t, sm, 0, 1), "")
	b := k.Target.Add(vertexAnchor(t, tm, 0, 0), "")

	st := k.Status()
	assert.Equal(t, LinkStatus{SourceTotal: 2, TargetTotal: 1, SourceUnlinked: 2, TargetUnlinked: 1}, st)

	require.NoError(t, k.Link(a, b))
	st = k.Status()
	assert.Equal(t, 1, st.SourceLinked)
	assert.Equal(t, 1, st.SourceUnlinked)
	assert.Equal(t, 1, st.TargetLinked)
	assert.False(t, st.AllLinked)

	k.Source.Remove(1)
	assert.True(t, k.Status().AllLinked)
}
