package mesh

import (
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"
)

// TriMesh is an editable triangle mesh. Topology is fixed after construction;
// only vertex positions and shape keys change.
type TriMesh struct {
	Name      string
	Vertices  []r3.Vec
	Faces     [][3]int
	ShapeKeys map[string][]r3.Vec

	mu sync.RWMutex

	// derived from Faces, built once on first use
	vfOnce      sync.Once
	vertexFaces [][]int
	adjOnce     sync.Once
	adjacency   [][]int
}

// NewTriMesh validates face indices and returns a mesh owning the slices.
func NewTriMesh(name string, vertices []r3.Vec, faces [][3]int) (*TriMesh, error) {
	for i, f := range faces {
		for _, v := range f {
			if v < 0 || v >= len(vertices) {
				return nil, errorf(ErrInvalidFace, "mesh %q face %d references vertex %d (have %d)", name, i, v, len(vertices))
			}
		}
		if f[0] == f[1] || f[1] == f[2] || f[0] == f[2] {
			return nil, errorf(ErrInvalidFace, "mesh %q face %d repeats a vertex: %v", name, i, f)
		}
	}
	return &TriMesh{
		Name:      name,
		Vertices:  vertices,
		Faces:     faces,
		ShapeKeys: make(map[string][]r3.Vec),
	}, nil
}

// VertexCount returns the number of vertices
func (m *TriMesh) VertexCount() int { return len(m.Vertices) }

// FaceCount returns the number of triangles
func (m *TriMesh) FaceCount() int { return len(m.Faces) }

// FaceVertices returns the current positions of face i's corners
func (m *TriMesh) FaceVertices(i int) (a, b, c r3.Vec) {
	f := m.Faces[i]
	return m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
}

// FaceNormal returns the unit normal of face i. Degenerate faces yield the zero vector.
func (m *TriMesh) FaceNormal(i int) r3.Vec {
	a, b, c := m.FaceVertices(i)
	return unitOrZero(r3.Cross(r3.Sub(b, a), r3.Sub(c, a)))
}

// FaceNormals returns the unit normal of every face
func (m *TriMesh) FaceNormals() []r3.Vec {
	normals := make([]r3.Vec, len(m.Faces))
	for i := range m.Faces {
		normals[i] = m.FaceNormal(i)
	}
	return normals
}

// VertexNormals returns area-weighted unit vertex normals.
// A vertex with no incident faces has the zero normal.
func (m *TriMesh) VertexNormals() []r3.Vec {
	return vertexNormalsOf(m.Vertices, m.Faces)
}

func vertexNormalsOf(positions []r3.Vec, faces [][3]int) []r3.Vec {
	normals := make([]r3.Vec, len(positions))
	for _, f := range faces {
		a, b, c := positions[f[0]], positions[f[1]], positions[f[2]]
		// unnormalised cross product carries twice the face area
		n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
		for _, v := range f {
			normals[v] = r3.Add(normals[v], n)
		}
	}
	for i := range normals {
		normals[i] = unitOrZero(normals[i])
	}
	return normals
}

// VertexFaces returns, per vertex, the faces incident to it in face order.
func (m *TriMesh) VertexFaces() [][]int {
	m.vfOnce.Do(m.buildVertexFaces)
	return m.vertexFaces
}

func (m *TriMesh) buildVertexFaces() {
	vf := make([][]int, len(m.Vertices))
	for i, f := range m.Faces {
		for _, v := range f {
			vf[v] = append(vf[v], i)
		}
	}
	m.vertexFaces = vf
}

// Adjacency returns the sorted one-ring neighbours of every vertex
func (m *TriMesh) Adjacency() [][]int {
	m.adjOnce.Do(m.buildAdjacency)
	return m.adjacency
}

func (m *TriMesh) buildAdjacency() {
	sets := make([]map[int]struct{}, len(m.Vertices))
	for i := range sets {
		sets[i] = make(map[int]struct{})
	}
	for _, f := range m.Faces {
		for k := 0; k < 3; k++ {
			a, b := f[k], f[(k+1)%3]
			sets[a][b] = struct{}{}
			sets[b][a] = struct{}{}
		}
	}
	adj := make([][]int, len(sets))
	for i, s := range sets {
		ns := make([]int, 0, len(s))
		for n := range s {
			ns = append(ns, n)
		}
		sort.Ints(ns)
		adj[i] = ns
	}
	m.adjacency = adj
}

// Edge is an undirected mesh edge with A < B
type Edge struct {
	A, B int
}

// Edges returns every unique undirected edge, sorted
func (m *TriMesh) Edges() []Edge {
	var edges []Edge
	for a, ns := range m.Adjacency() {
		for _, b := range ns {
			if a < b {
				edges = append(edges, Edge{A: a, B: b})
			}
		}
	}
	return edges
}

// Duplicate returns a deep copy under a new name. Shape keys are copied too.
func (m *TriMesh) Duplicate(name string) *TriMesh {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dup := &TriMesh{
		Name:      name,
		Vertices:  append([]r3.Vec(nil), m.Vertices...),
		Faces:     append([][3]int(nil), m.Faces...),
		ShapeKeys: make(map[string][]r3.Vec, len(m.ShapeKeys)),
	}
	for k, v := range m.ShapeKeys {
		dup.ShapeKeys[k] = append([]r3.Vec(nil), v...)
	}
	return dup
}

// SetShapeKey stores an alternate pose. The base geometry is untouched.
func (m *TriMesh) SetShapeKey(name string, positions []r3.Vec) error {
	if len(positions) != len(m.Vertices) {
		return errorf(ErrTopologyMismatch, "shape key %q has %d positions, mesh %q has %d vertices",
			name, len(positions), m.Name, len(m.Vertices))
	}
	if m.ShapeKeys == nil {
		m.ShapeKeys = make(map[string][]r3.Vec)
	}
	m.ShapeKeys[name] = append([]r3.Vec(nil), positions...)
	return nil
}

// ShapeKey returns a named alternate pose
func (m *TriMesh) ShapeKey(name string) ([]r3.Vec, bool) {
	pos, ok := m.ShapeKeys[name]
	return pos, ok
}

// Bounds returns the axis-aligned bounding box of the vertices
func (m *TriMesh) Bounds() r3.Box {
	return boundsOf(m.Vertices)
}

func boundsOf(points []r3.Vec) r3.Box {
	if len(points) == 0 {
		return r3.Box{}
	}
	inf := math.Inf(1)
	b := r3.Box{Min: r3.Vec{X: inf, Y: inf, Z: inf}, Max: r3.Vec{X: -inf, Y: -inf, Z: -inf}}
	for _, p := range points {
		b.Min = r3.Vec{X: math.Min(b.Min.X, p.X), Y: math.Min(b.Min.Y, p.Y), Z: math.Min(b.Min.Z, p.Z)}
		b.Max = r3.Vec{X: math.Max(b.Max.X, p.X), Y: math.Max(b.Max.Y, p.Y), Z: math.Max(b.Max.Z, p.Z)}
	}
	return b
}

// Session is a scoped hold on a mesh. End releases it; calling End twice is harmless.
type Session struct {
	mesh  *TriMesh
	write bool
	once  sync.Once
}

// BeginRead opens a shared session. It fails while an edit session is open.
func (m *TriMesh) BeginRead() (*Session, error) {
	if !m.mu.TryRLock() {
		return nil, errorf(ErrMeshBusy, "mesh %q", m.Name)
	}
	return &Session{mesh: m}, nil
}

// BeginEdit opens an exclusive session. It fails while any other session is open.
func (m *TriMesh) BeginEdit() (*Session, error) {
	if !m.mu.TryLock() {
		return nil, errorf(ErrMeshBusy, "mesh %q", m.Name)
	}
	return &Session{mesh: m, write: true}, nil
}

// End releases the session
func (s *Session) End() {
	s.once.Do(func() {
		if s.write {
			s.mesh.mu.Unlock()
		} else {
			s.mesh.mu.RUnlock()
		}
	})
}

// SetPositions overwrites every vertex position. Only valid inside an edit session.
func (s *Session) SetPositions(positions []r3.Vec) error {
	if !s.write {
		return errorf(ErrMeshBusy, "mesh %q opened read-only", s.mesh.Name)
	}
	if len(positions) != len(s.mesh.Vertices) {
		return errorf(ErrTopologyMismatch, "got %d positions for %d vertices of %q",
			len(positions), len(s.mesh.Vertices), s.mesh.Name)
	}
	copy(s.mesh.Vertices, positions)
	return nil
}

// unitOrZero normalises v, returning the zero vector for zero-length input
func unitOrZero(v r3.Vec) r3.Vec {
	n := r3.Norm(v)
	if n == 0 || math.IsNaN(n) {
		return r3.Vec{}
	}
	return r3.Scale(1/n, v)
}
