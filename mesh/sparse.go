package mesh

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// csr is a compressed sparse row matrix. Only the products needed by the
// Laplacian solve are provided.
type csr struct {
	rows, cols int
	rowPtr     []int
	col        []int
	val        []float64
}

// uniformLaplacian builds L with L[i][i] = 1 and L[i][j] = -1/deg(i) for each
// neighbour j. Isolated vertices get an identity row.
func uniformLaplacian(adj [][]int) *csr {
	n := len(adj)
	m := &csr{rows: n, cols: n, rowPtr: make([]int, n+1)}
	for i, ns := range adj {
		m.col = append(m.col, i)
		m.val = append(m.val, 1)
		if len(ns) > 0 {
			w := -1 / float64(len(ns))
			for _, j := range ns {
				m.col = append(m.col, j)
				m.val = append(m.val, w)
			}
		}
		m.rowPtr[i+1] = len(m.col)
	}
	return m
}

// mulVec sets dst = m*x
func (m *csr) mulVec(dst, x []float64) {
	for i := 0; i < m.rows; i++ {
		var s float64
		for k := m.rowPtr[i]; k < m.rowPtr[i+1]; k++ {
			s += m.val[k] * x[m.col[k]]
		}
		dst[i] = s
	}
}

// mulTransVec sets dst = mᵀ*x
func (m *csr) mulTransVec(dst, x []float64) {
	for j := range dst {
		dst[j] = 0
	}
	for i := 0; i < m.rows; i++ {
		xi := x[i]
		if xi == 0 {
			continue
		}
		for k := m.rowPtr[i]; k < m.rowPtr[i+1]; k++ {
			dst[m.col[k]] += m.val[k] * xi
		}
	}
}

// conjugateGradient solves A x = b for symmetric positive definite A given
// as a product function. x holds the initial guess and receives the result.
// It returns the number of iterations used.
func conjugateGradient(apply func(dst, x []float64), b, x []float64, tol float64, maxIter int) int {
	n := len(b)
	r := make([]float64, n)
	p := make([]float64, n)
	ap := make([]float64, n)

	apply(ap, x)
	floats.SubTo(r, b, ap)
	copy(p, r)
	rr := floats.Dot(r, r)
	bnorm := math.Max(floats.Norm(b, 2), 1e-30)
	if math.Sqrt(rr)/bnorm <= tol {
		return 0
	}

	for it := 1; it <= maxIter; it++ {
		apply(ap, p)
		pap := floats.Dot(p, ap)
		if pap <= 0 {
			return it
		}
		alpha := rr / pap
		floats.AddScaled(x, alpha, p)
		floats.AddScaled(r, -alpha, ap)
		rrNew := floats.Dot(r, r)
		if math.Sqrt(rrNew)/bnorm <= tol {
			return it
		}
		beta := rrNew / rr
		floats.Scale(beta, p)
		floats.Add(p, r)
		rr = rrNew
	}
	return maxIter
}
