package mesh

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

// rotationZ returns a rotation by angle radians about +Z
func rotationZ(angle float64) [3][3]float64 {
	c, s := math.Cos(angle), math.Sin(angle)
	return [3][3]float64{{c, -s, 0}, {s, c, 0}, {0, 0, 1}}
}

func assertVecNear(t *testing.T, want, got r3.Vec, delta float64) {
	t.Helper()
	assert.LessOrEqual(t, r3.Norm(r3.Sub(want, got)), delta, "want %v, got %v", want, got)
}

func TestRigid_Apply(t *testing.T) {
	id := IdentityRigid()
	p := r3.Vec{X: 1, Y: 2, Z: 3}
	assert.Equal(t, p, id.Apply(p))

	quarter := Rigid{Rotation: rotationZ(math.Pi / 2), Translation: r3.Vec{Z: 1}}
	assertVecNear(t, r3.Vec{X: -2, Y: 1, Z: 4}, quarter.Apply(p), 1e-12)
	assert.Len(t, quarter.ApplyAll([]r3.Vec{p, p}), 2)
}

func TestFitRigid_RecoversTransform(t *testing.T) {
	want := Rigid{Rotation: rotationZ(0.7), Translation: r3.Vec{X: 3, Y: -1, Z: 0.5}}
	src := []r3.Vec{{}, {X: 1}, {Y: 2}, {Z: 1}, {X: 1, Y: 1, Z: 1}}
	dst := want.ApplyAll(src)

	got, err := FitRigid(src, dst)
	require.NoError(t, err)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			assert.InDelta(t, want.Rotation[r][c], got.Rotation[r][c], 1e-9, "R[%d][%d]", r, c)
		}
	}
	assertVecNear(t, want.Translation, got.Translation, 1e-9)
	assert.InDelta(t, 0.0, RMS(got, src, dst), 1e-9)
}

func TestFitRigid_NoReflection(t *testing.T) {
	// dst is src mirrored in x; the nearest proper rotation is returned
	src := []r3.Vec{{X: 1}, {X: -1}, {Y: 1}, {Z: 1}}
	dst := make([]r3.Vec, len(src))
	for i, p := range src {
		dst[i] = r3.Vec{X: -p.X, Y: p.Y, Z: p.Z}
	}
	got, err := FitRigid(src, dst)
	require.NoError(t, err)

	m := got.Rotation
	det := m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
	assert.InDelta(t, 1.0, det, 1e-9)
}

func TestFitRigid_Errors(t *testing.T) {
	_, err := FitRigid([]r3.Vec{{}, {X: 1}}, []r3.Vec{{}, {X: 1}})
	assert.ErrorIs(t, err, ErrNoSolution)

	_, err = FitRigid([]r3.Vec{{}, {X: 1}, {Y: 1}}, []r3.Vec{{}})
	assert.Error(t, err)
}

func TestAlignByLandmarks(t *testing.T) {
	sm := gridMesh(t, "source", 3, 1)
	moved := Rigid{Rotation: rotationZ(-0.4), Translation: r3.Vec{X: 10, Y: 2}}
	tm := sm.Duplicate("target")
	require.NoError(t, moved.TransformMesh(tm))

	k := NewLinker(NewLandmarkStore(sm), NewLandmarkStore(tm))
	for _, face := range []int{0, 3, 5, 6} {
		w := [3]float64{0.2, 0.3, 0.5}
		sa, err := FaceAnchor(sm, face, w)
		require.NoError(t, err)
		ta, err := FaceAnchor(tm, face, w)
		require.NoError(t, err)
		require.NoError(t, k.Link(k.Source.Add(sa, ""), k.Target.Add(ta, "")))
	}

	fit, err := AlignByLandmarks(k)
	require.NoError(t, err)

	aligned := sm.Duplicate("aligned")
	require.NoError(t, fit.TransformMesh(aligned))
	for i := range aligned.Vertices {
		assertVecNear(t, tm.Vertices[i], aligned.Vertices[i], 1e-9)
	}

	k.Unlink(k.Source.All()[0])
	k.Unlink(k.Source.All()[1])
	_, err = AlignByLandmarks(k)
	assert.ErrorIs(t, err, ErrNoSolution)
}

func TestRigid_TransformMeshBusy(t *testing.T) {
	m := unitSquare(t, "m")
	read, err := m.BeginRead()
	require.NoError(t, err)
	defer read.End()
	assert.ErrorIs(t, IdentityRigid().TransformMesh(m), ErrMeshBusy)
}

func TestCentroid(t *testing.T) {
	assert.Equal(t, r3.Vec{}, Centroid(nil))
	assert.Equal(t, r3.Vec{X: 1, Y: 1}, Centroid([]r3.Vec{{}, {X: 2, Y: 2}}))
}
