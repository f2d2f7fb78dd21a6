package mesh

import (
	"log"

	"gonum.org/v1/gonum/spatial/r3"
)

const (
	cgTolerance = 1e-10
	// ridge keeps free vertices of components without constraints near their
	// prior position instead of leaving the normal equations singular
	ridge = 1e-8
)

// DeformOptions configures Apply
type DeformOptions struct {
	// ApplyOn is the mesh whose vertices the table maps. Required.
	ApplyOn *TriMesh
	// Owner receives a shape key instead of in-place positions when it differs
	// from ApplyOn and ShapeName is set.
	Owner     *TriMesh
	ShapeName string

	UseLeastSquares bool
	// Iterations of the Laplacian solve; values below 1 mean 1.
	Iterations int
	Progress   ProgressFunc
}

// DefaultDeformOptions returns least-squares on with a single iteration
func DefaultDeformOptions(applyOn *TriMesh) DeformOptions {
	return DeformOptions{ApplyOn: applyOn, UseLeastSquares: true, Iterations: 1}
}

// DeformResult reports the positions written by Apply
type DeformResult struct {
	Positions    []r3.Vec
	InvalidCount int
	// Solved is true when a Laplacian solve filled invalid vertices
	Solved bool
	// ShapeKey names the shape key written on the owner, if any
	ShapeKey string
}

// Apply reconstructs ApplyOn's positions from table against target's current
// geometry. With every record valid the positions are the barycentric
// combinations. Otherwise valid positions are held fixed and, with
// UseLeastSquares, the rest is solved from ApplyOn's own Laplacian; without it
// invalid vertices keep their prior positions. A table with no valid record
// fails with ErrNoSolution.
func Apply(table *MappingTable, target *TriMesh, opts DeformOptions) (DeformResult, error) {
	if target == nil {
		return DeformResult{}, errorf(ErrMissingTarget, "no target mesh for mapping onto %q", table.Target)
	}
	m := opts.ApplyOn
	if m == nil {
		return DeformResult{}, errorf(ErrMissingTarget, "no mesh to apply mapping to")
	}
	if table.Len() != m.VertexCount() {
		return DeformResult{}, errorf(ErrTopologyMismatch, "mapping has %d records, %q has %d vertices",
			table.Len(), m.Name, m.VertexCount())
	}
	if table.Target != "" && table.Target != target.Name {
		log.Printf("[deform] mapping was built against %q, applying with %q", table.Target, target.Name)
	}
	if opts.Iterations < 1 {
		opts.Iterations = 1
	}

	read, err := target.BeginRead()
	if err != nil {
		return DeformResult{}, err
	}
	constraints, valid, err := table.Resolve(target)
	read.End()
	if err != nil {
		return DeformResult{}, err
	}

	total := table.Len()
	invalid := table.InvalidCount()
	if total > 0 && invalid == total {
		return DeformResult{InvalidCount: invalid}, errorf(ErrNoSolution,
			"all %d records of the mapping onto %q are invalid", total, target.Name)
	}

	result := DeformResult{InvalidCount: invalid}
	switch {
	case invalid == 0:
		result.Positions = constraints
	case opts.UseLeastSquares:
		log.Printf("[deform] solving with least squares for %d invalid vertices of %q", invalid, m.Name)
		result.Positions = solveLaplacian(m, constraints, valid, opts.Iterations, opts.Progress)
		result.Solved = true
	default:
		positions := append([]r3.Vec(nil), m.Vertices...)
		for i, ok := range valid {
			if ok {
				positions[i] = constraints[i]
			}
		}
		result.Positions = positions
	}

	if err := writeResult(m, opts, &result); err != nil {
		return DeformResult{}, err
	}
	return result, nil
}

func writeResult(m *TriMesh, opts DeformOptions, result *DeformResult) error {
	if opts.ShapeName != "" && opts.Owner != nil && opts.Owner != m {
		owner, err := opts.Owner.BeginEdit()
		if err != nil {
			return err
		}
		err = opts.Owner.SetShapeKey(opts.ShapeName, result.Positions)
		owner.End()
		if err != nil {
			return err
		}
		result.ShapeKey = opts.ShapeName
	}

	edit, err := m.BeginEdit()
	if err != nil {
		return err
	}
	defer edit.End()
	return edit.SetPositions(result.Positions)
}

// solveLaplacian holds the valid vertices at their constraint positions and
// solves the rest to preserve m's Laplacian coordinates. Between iterations
// the Laplacian coordinates are rotated to follow the updated vertex normals.
func solveLaplacian(m *TriMesh, constraints []r3.Vec, valid []bool, iterations int, progress ProgressFunc) []r3.Vec {
	n := m.VertexCount()
	rest := append([]r3.Vec(nil), m.Vertices...)
	L := uniformLaplacian(m.Adjacency())

	free := make([]int, 0, n)
	for i, ok := range valid {
		if !ok {
			free = append(free, i)
		}
	}

	// delta = L * rest, per coordinate
	restCoord := splitCoords(rest)
	delta := [3][]float64{make([]float64, n), make([]float64, n), make([]float64, n)}
	for d := 0; d < 3; d++ {
		L.mulVec(delta[d], restCoord[d])
	}
	restNormals := vertexNormalsOf(rest, m.Faces)

	current := make([]r3.Vec, n)
	for i := range current {
		if valid[i] {
			current[i] = constraints[i]
		} else {
			current[i] = rest[i]
		}
	}

	full := make([]float64, n)
	tmp := make([]float64, n)
	// normal equations operator on the free unknowns: (L_Fᵀ L_F + ridge I) x
	normalOp := func(dst, x []float64) {
		for i := range full {
			full[i] = 0
		}
		for k, v := range free {
			full[v] = x[k]
		}
		L.mulVec(tmp, full)
		L.mulTransVec(full, tmp)
		for k, v := range free {
			dst[k] = full[v] + ridge*x[k]
		}
	}

	target := [3][]float64{make([]float64, n), make([]float64, n), make([]float64, n)}
	for it := 0; it < iterations; it++ {
		if it == 0 {
			for d := 0; d < 3; d++ {
				copy(target[d], delta[d])
			}
		} else {
			rotateDeltas(target, delta, restNormals, vertexNormalsOf(current, m.Faces))
		}

		cur := splitCoords(current)
		for d := 0; d < 3; d++ {
			// rhs = L_Fᵀ (delta - L_C c) + ridge * x0
			for i := range full {
				full[i] = 0
				if valid[i] {
					full[i] = cur[d][i]
				}
			}
			L.mulVec(tmp, full)
			for i := range tmp {
				tmp[i] = target[d][i] - tmp[i]
			}
			L.mulTransVec(full, tmp)

			b := make([]float64, len(free))
			x := make([]float64, len(free))
			for k, v := range free {
				b[k] = full[v] + ridge*cur[d][v]
				x[k] = cur[d][v]
			}
			conjugateGradient(normalOp, b, x, cgTolerance, 10*len(free)+100)
			for k, v := range free {
				cur[d][v] = x[k]
			}
		}
		current = joinCoords(cur)
		progress.report(it+1, iterations)
	}
	return current
}

// rotateDeltas writes into dst the Laplacian coordinates of src rotated, per
// vertex, by the rotation taking from[i] onto to[i].
func rotateDeltas(dst, src [3][]float64, from, to []r3.Vec) {
	for i := range from {
		v := r3.Vec{X: src[0][i], Y: src[1][i], Z: src[2][i]}
		v = rotateBetween(v, from[i], to[i])
		dst[0][i], dst[1][i], dst[2][i] = v.X, v.Y, v.Z
	}
}

// rotateBetween applies to v the smallest rotation taking unit a onto unit b.
// Zero normals leave v unchanged.
func rotateBetween(v, a, b r3.Vec) r3.Vec {
	if a == (r3.Vec{}) || b == (r3.Vec{}) {
		return v
	}
	c := r3.Dot(a, b)
	axis := r3.Cross(a, b)
	if c < -1+1e-12 {
		// opposite normals: half turn about any axis orthogonal to a
		ortho := r3.Cross(a, r3.Vec{X: 1})
		if r3.Norm2(ortho) < 1e-12 {
			ortho = r3.Cross(a, r3.Vec{Y: 1})
		}
		k := unitOrZero(ortho)
		return r3.Sub(r3.Scale(2*r3.Dot(k, v), k), v)
	}
	// Rodrigues with k scaled by sin: v c + axis x v + axis (axis . v) / (1 + c)
	out := r3.Add(r3.Scale(c, v), r3.Cross(axis, v))
	return r3.Add(out, r3.Scale(r3.Dot(axis, v)/(1+c), axis))
}

func splitCoords(p []r3.Vec) [3][]float64 {
	out := [3][]float64{make([]float64, len(p)), make([]float64, len(p)), make([]float64, len(p))}
	for i, v := range p {
		out[0][i], out[1][i], out[2][i] = v.X, v.Y, v.Z
	}
	return out
}

func joinCoords(c [3][]float64) []r3.Vec {
	out := make([]r3.Vec, len(c[0]))
	for i := range out {
		out[i] = r3.Vec{X: c[0][i], Y: c[1][i], Z: c[2][i]}
	}
	return out
}
