package mesh

import (
	"fmt"
	"log"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Rigid is a proper rotation followed by a translation: p' = R*p + T
type Rigid struct {
	Rotation    [3][3]float64
	Translation r3.Vec
}

// IdentityRigid returns the transform that leaves points unchanged
func IdentityRigid() Rigid {
	return Rigid{Rotation: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}}
}

// Apply transforms a point
func (t Rigid) Apply(p r3.Vec) r3.Vec {
	r := t.Rotation
	return r3.Vec{
		X: r[0][0]*p.X + r[0][1]*p.Y + r[0][2]*p.Z + t.Translation.X,
		Y: r[1][0]*p.X + r[1][1]*p.Y + r[1][2]*p.Z + t.Translation.Y,
		Z: r[2][0]*p.X + r[2][1]*p.Y + r[2][2]*p.Z + t.Translation.Z,
	}
}

// ApplyAll transforms multiple points
func (t Rigid) ApplyAll(points []r3.Vec) []r3.Vec {
	out := make([]r3.Vec, len(points))
	for i, p := range points {
		out[i] = t.Apply(p)
	}
	return out
}

// TransformMesh moves every vertex of m inside an edit session
func (t Rigid) TransformMesh(m *TriMesh) error {
	edit, err := m.BeginEdit()
	if err != nil {
		return err
	}
	defer edit.End()
	return edit.SetPositions(t.ApplyAll(m.Vertices))
}

// Centroid returns the mean of points
func Centroid(points []r3.Vec) r3.Vec {
	if len(points) == 0 {
		return r3.Vec{}
	}
	var sum r3.Vec
	for _, p := range points {
		sum = r3.Add(sum, p)
	}
	return r3.Scale(1/float64(len(points)), sum)
}

// FitRigid computes the least-squares rigid transform taking src onto dst
// (Kabsch). Reflections are excluded. At least three point pairs are required.
func FitRigid(src, dst []r3.Vec) (Rigid, error) {
	if len(src) != len(dst) {
		return Rigid{}, fmt.Errorf("point sets differ in size: %d vs %d", len(src), len(dst))
	}
	if len(src) < 3 {
		return Rigid{}, errorf(ErrNoSolution, "rigid fit needs at least 3 point pairs, got %d", len(src))
	}

	srcCentroid := Centroid(src)
	dstCentroid := Centroid(dst)

	// cross-covariance H = sum (s - cs)(d - cd)^T
	h := mat.NewDense(3, 3, nil)
	for i := range src {
		s := r3.Sub(src[i], srcCentroid)
		d := r3.Sub(dst[i], dstCentroid)
		sv := [3]float64{s.X, s.Y, s.Z}
		dv := [3]float64{d.X, d.Y, d.Z}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				h.Set(r, c, h.At(r, c)+sv[r]*dv[c])
			}
		}
	}

	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDFull) {
		return Rigid{}, errorf(ErrNoSolution, "SVD of the cross-covariance did not converge")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// R = V diag(1, 1, sign(det(V U^T))) U^T
	var vut mat.Dense
	vut.Mul(&v, u.T())
	sign := 1.0
	if mat.Det(&vut) < 0 {
		sign = -1
	}
	diag := mat.NewDiagDense(3, []float64{1, 1, sign})
	var rot, tmp mat.Dense
	tmp.Mul(&v, diag)
	rot.Mul(&tmp, u.T())

	t := Rigid{}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			t.Rotation[r][c] = rot.At(r, c)
		}
	}
	t.Translation = r3.Sub(dstCentroid, Rigid{Rotation: t.Rotation}.Apply(srcCentroid))
	return t, nil
}

// AlignByLandmarks fits the rigid transform taking the source landmarks of
// every linked pair onto their target partners.
func AlignByLandmarks(k *Linker) (Rigid, error) {
	pairs := k.Pairs()
	src := make([]r3.Vec, 0, len(pairs))
	dst := make([]r3.Vec, 0, len(pairs))
	for _, p := range pairs {
		sp, err := p.Source.ResolvePosition(k.Source.mesh)
		if err != nil {
			return Rigid{}, err
		}
		tp, err := p.Target.ResolvePosition(k.Target.mesh)
		if err != nil {
			return Rigid{}, err
		}
		src = append(src, sp)
		dst = append(dst, tp)
	}
	t, err := FitRigid(src, dst)
	if err != nil {
		return Rigid{}, err
	}
	log.Printf("[align] fitted rigid transform from %d landmark pairs, rms %.6f", len(pairs), RMS(t, src, dst))
	return t, nil
}

// RMS returns the root mean square residual of t over the point pairs
func RMS(t Rigid, src, dst []r3.Vec) float64 {
	if len(src) == 0 {
		return 0
	}
	var sum float64
	for i := range src {
		sum += r3.Norm2(r3.Sub(t.Apply(src[i]), dst[i]))
	}
	return math.Sqrt(sum / float64(len(src)))
}
