package mesh

import (
	"fmt"
	"log"
)

// Landmark is a named, identified anchor on one mesh, optionally linked to a
// landmark of the paired mesh.
type Landmark struct {
	Anchor
	ID       int    `json:"id"`
	LinkedID int    `json:"linkedId"`
	IsLinked bool   `json:"isLinked"`
	Name     string `json:"name"`

	store *LandmarkStore
}

// Store returns the store that owns the landmark
func (l *Landmark) Store() *LandmarkStore { return l.store }

// LandmarkStore is the ordered landmark collection of one mesh.
// Ids are unique within a store.
type LandmarkStore struct {
	mesh      *TriMesh
	landmarks []*Landmark
}

// NewLandmarkStore creates an empty store owned by m
func NewLandmarkStore(m *TriMesh) *LandmarkStore {
	return &LandmarkStore{mesh: m}
}

// Mesh returns the owning mesh
func (s *LandmarkStore) Mesh() *TriMesh { return s.mesh }

// Len returns the number of landmarks
func (s *LandmarkStore) Len() int { return len(s.landmarks) }

// All returns the landmarks in store order. The slice is a copy; the
// landmarks themselves are shared.
func (s *LandmarkStore) All() []*Landmark {
	out := make([]*Landmark, len(s.landmarks))
	copy(out, s.landmarks)
	return out
}

// Each calls fn for every landmark in order until fn returns false
func (s *LandmarkStore) Each(fn func(*Landmark) bool) {
	for _, l := range s.landmarks {
		if !fn(l) {
			return
		}
	}
}

// Add appends a landmark with id max+1, or 0 for an empty store.
func (s *LandmarkStore) Add(anchor Anchor, name string) *Landmark {
	id := 0
	for _, l := range s.landmarks {
		if l.ID >= id {
			id = l.ID + 1
		}
	}
	return s.insert(anchor, name, id)
}

// AddWithID appends a landmark using requestedID verbatim. Gaps are allowed.
func (s *LandmarkStore) AddWithID(anchor Anchor, name string, requestedID int) (*Landmark, error) {
	if requestedID < 0 {
		return nil, errorf(ErrConflictingID, "id %d is negative", requestedID)
	}
	if _, ok := s.Find(requestedID); ok {
		return nil, errorf(ErrConflictingID, "id %d already present in store of %q", requestedID, s.meshName())
	}
	return s.insert(anchor, name, requestedID), nil
}

func (s *LandmarkStore) insert(anchor Anchor, name string, id int) *Landmark {
	if name == "" {
		name = fmt.Sprintf("Original Id: %d", id)
	}
	l := &Landmark{Anchor: anchor, ID: id, LinkedID: -1, Name: name, store: s}
	s.landmarks = append(s.landmarks, l)
	return l
}

// Remove deletes the landmark with the given id. Remaining ids are kept as is.
// Remove does not touch a partner in another store; stores joined by a Linker
// go through Linker.Remove so the partner is unlinked too.
func (s *LandmarkStore) Remove(id int) bool {
	for i, l := range s.landmarks {
		if l.ID == id {
			s.landmarks = append(s.landmarks[:i], s.landmarks[i+1:]...)
			l.store = nil
			return true
		}
	}
	return false
}

// Find looks a landmark up by id
func (s *LandmarkStore) Find(id int) (*Landmark, bool) {
	for _, l := range s.landmarks {
		if l.ID == id {
			return l, true
		}
	}
	return nil, false
}

// Contains reports whether l is owned by this store
func (s *LandmarkStore) Contains(l *Landmark) bool {
	return l != nil && l.store == s
}

// UpdatePositions re-resolves every cached position against the owning mesh.
func (s *LandmarkStore) UpdatePositions() error {
	for _, l := range s.landmarks {
		if _, err := l.ResolvePosition(s.mesh); err != nil {
			return fmt.Errorf("landmark %d: %w", l.ID, err)
		}
	}
	return nil
}

// SnapToVertices moves every landmark onto its heaviest vertex.
func (s *LandmarkStore) SnapToVertices() error {
	for _, l := range s.landmarks {
		l.SnapToVertex()
	}
	return s.UpdatePositions()
}

// Autocorrect re-anchors every landmark onto m, which may have a different
// topology than the current mesh. Each landmark moves to the vertex of m
// nearest its cached position, anchored in that vertex's first incident face.
// The store then belongs to m.
func (s *LandmarkStore) Autocorrect(m *TriMesh) error {
	if len(m.Vertices) == 0 || len(m.Faces) == 0 {
		return errorf(ErrMissingTarget, "mesh %q has no faces", m.Name)
	}
	if s.mesh != nil && s.mesh != m {
		if err := s.UpdatePositions(); err != nil {
			return err
		}
	}
	locator := NewVertexLocator(m)
	vf := m.VertexFaces()
	for _, l := range s.landmarks {
		v, _ := locator.Nearest(l.CachedPosition)
		if len(vf[v]) == 0 {
			return errorf(ErrInvalidFace, "vertex %d of %q has no incident face", v, m.Name)
		}
		anchor, err := AnchorAt(m, vf[v][0], m.Vertices[v], true)
		if err != nil {
			return err
		}
		l.Anchor = anchor
	}
	log.Printf("[landmarks] autocorrected %d landmarks onto %q", len(s.landmarks), m.Name)
	s.mesh = m
	return nil
}

// TransferTo replaces dst's landmarks with copies of this store's landmarks.
// Ids, names and anchors are kept; link information is not. Both meshes must
// share vertex count.
func (s *LandmarkStore) TransferTo(dst *LandmarkStore) error {
	if dst == s {
		return nil
	}
	if dst.mesh != nil && s.mesh != nil && dst.mesh.VertexCount() != s.mesh.VertexCount() {
		return errorf(ErrTopologyMismatch, "cannot transfer landmarks from %q (%d vertices) to %q (%d vertices)",
			s.meshName(), s.mesh.VertexCount(), dst.meshName(), dst.mesh.VertexCount())
	}
	for _, l := range dst.landmarks {
		l.store = nil
	}
	dst.landmarks = dst.landmarks[:0]
	for _, l := range s.landmarks {
		dst.insert(l.Anchor, l.Name, l.ID)
	}
	if dst.mesh != nil {
		return dst.UpdatePositions()
	}
	return nil
}

// LinkStatus summarises how many landmarks of a mesh pair are linked
type LinkStatus struct {
	SourceTotal    int  `json:"sourceTotal"`
	TargetTotal    int  `json:"targetTotal"`
	SourceLinked   int  `json:"sourceLinked"`
	TargetLinked   int  `json:"targetLinked"`
	SourceUnlinked int  `json:"sourceUnlinked"`
	TargetUnlinked int  `json:"targetUnlinked"`
	AllLinked      bool `json:"allLinked"`
}

// Status counts linked and unlinked landmarks in s and other
func (s *LandmarkStore) Status(other *LandmarkStore) LinkStatus {
	st := LinkStatus{SourceTotal: s.Len(), TargetTotal: other.Len()}
	for _, l := range s.landmarks {
		if l.IsLinked {
			st.SourceLinked++
		}
	}
	for _, l := range other.landmarks {
		if l.IsLinked {
			st.TargetLinked++
		}
	}
	st.SourceUnlinked = st.SourceTotal - st.SourceLinked
	st.TargetUnlinked = st.TargetTotal - st.TargetLinked
	st.AllLinked = st.SourceUnlinked == 0 && st.TargetUnlinked == 0
	return st
}

func (s *LandmarkStore) meshName() string {
	if s.mesh == nil {
		return ""
	}
	return s.mesh.Name
}
