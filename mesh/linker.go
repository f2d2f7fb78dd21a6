package mesh

import (
	"log"

	"gonum.org/v1/gonum/spatial/r3"
)

// Axis selects the mirror plane through the origin, named by its normal.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

// DefaultMirrorEpsilon is the position tolerance used for mirror matching
const DefaultMirrorEpsilon = 1e-4

// ParseAxis maps "x", "y" or "z" to an Axis
func ParseAxis(s string) (Axis, bool) {
	switch s {
	case "x", "X":
		return AxisX, true
	case "y", "Y":
		return AxisY, true
	case "z", "Z":
		return AxisZ, true
	}
	return AxisX, false
}

func (a Axis) reflect(p r3.Vec) r3.Vec {
	switch a {
	case AxisY:
		p.Y = -p.Y
	case AxisZ:
		p.Z = -p.Z
	default:
		p.X = -p.X
	}
	return p
}

// Linker maintains the bijection between the landmarks of a mesh pair.
type Linker struct {
	Source *LandmarkStore
	Target *LandmarkStore
}

// LinkedPair is one source landmark and its target partner
type LinkedPair struct {
	Source *Landmark
	Target *Landmark
}

// NewLinker pairs two stores
func NewLinker(source, target *LandmarkStore) *Linker {
	return &Linker{Source: source, Target: target}
}

// other returns the store paired with s, or nil when s is not part of the linker
func (k *Linker) other(s *LandmarkStore) *LandmarkStore {
	switch s {
	case k.Source:
		return k.Target
	case k.Target:
		return k.Source
	}
	return nil
}

// Link pairs a and b. Both must be unlinked and belong to the two different
// stores of the linker. On error neither landmark is modified.
func (k *Linker) Link(a, b *Landmark) error {
	if a == nil || b == nil {
		return errorf(ErrNotLinkable, "nil landmark")
	}
	if a.store == nil || b.store == nil || k.other(a.store) == nil || k.other(a.store) != b.store {
		return errorf(ErrNotLinkable, "landmarks %d and %d are not in the two stores of this pair", a.ID, b.ID)
	}
	if a.store == b.store {
		return errorf(ErrNotLinkable, "landmarks %d and %d share a store", a.ID, b.ID)
	}
	if a.IsLinked {
		return errorf(ErrNotLinkable, "landmark %d already linked to %d", a.ID, a.LinkedID)
	}
	if b.IsLinked {
		return errorf(ErrNotLinkable, "landmark %d already linked to %d", b.ID, b.LinkedID)
	}
	a.LinkedID, a.IsLinked = b.ID, true
	b.LinkedID, b.IsLinked = a.ID, true
	return nil
}

// Unlink breaks a's link and its partner's. Unlinked landmarks are left alone.
func (k *Linker) Unlink(a *Landmark) {
	if a == nil || !a.IsLinked {
		return
	}
	if partner, ok := k.Partner(a); ok {
		partner.LinkedID, partner.IsLinked = -1, false
	}
	a.LinkedID, a.IsLinked = -1, false
}

// Remove unlinks l from its partner and deletes it from its store. It
// returns false when l does not belong to either store of the linker.
func (k *Linker) Remove(l *Landmark) bool {
	if l == nil || k.other(l.store) == nil {
		return false
	}
	store := l.store
	k.Unlink(l)
	return store.Remove(l.ID)
}

// Partner returns the landmark linked to a
func (k *Linker) Partner(a *Landmark) (*Landmark, bool) {
	if a == nil || !a.IsLinked {
		return nil, false
	}
	other := k.other(a.store)
	if other == nil {
		return nil, false
	}
	p, ok := other.Find(a.LinkedID)
	if !ok || !p.IsLinked || p.LinkedID != a.ID {
		return nil, false
	}
	return p, true
}

// Pairs returns every linked pair in source store order
func (k *Linker) Pairs() []LinkedPair {
	var pairs []LinkedPair
	for _, s := range k.Source.landmarks {
		if t, ok := k.Partner(s); ok {
			pairs = append(pairs, LinkedPair{Source: s, Target: t})
		}
	}
	return pairs
}

// Reorder renumbers both stores: linked pairs get ids 0..k-1 in source order,
// identical on both sides, and the unlinked landmarks of each store continue
// from k in their existing order.
func (k *Linker) Reorder() {
	pairs := k.Pairs()
	paired := make(map[*Landmark]bool, 2*len(pairs))
	for _, p := range pairs {
		paired[p.Source] = true
		paired[p.Target] = true
	}
	for i, p := range pairs {
		p.Source.ID, p.Source.LinkedID = i, i
		p.Target.ID, p.Target.LinkedID = i, i
	}
	renumberUnpaired(k.Source, paired, len(pairs))
	renumberUnpaired(k.Target, paired, len(pairs))
}

// ReorderStore renumbers a store that has no partner from 0 in store order.
func ReorderStore(s *LandmarkStore) {
	renumberUnpaired(s, nil, 0)
}

func renumberUnpaired(s *LandmarkStore, paired map[*Landmark]bool, next int) {
	for _, l := range s.landmarks {
		if paired[l] {
			continue
		}
		// a dangling link has no partner to keep consistent with
		l.LinkedID, l.IsLinked = -1, false
		l.ID = next
		next++
	}
}

// FindMirror returns the other landmark of store whose position, reflected
// across the plane normal to axis, lies within eps of lm's position.
func FindMirror(store *LandmarkStore, lm *Landmark, axis Axis, eps float64) (*Landmark, bool) {
	if store == nil || lm == nil {
		return nil, false
	}
	m := store.mesh
	target := lm.CachedPosition
	if m != nil {
		p, err := lm.ResolvePosition(m)
		if err != nil {
			return nil, false
		}
		target = p
	}
	for _, c := range store.landmarks {
		if c == lm {
			continue
		}
		pos := c.CachedPosition
		if m != nil {
			p, err := c.ResolvePosition(m)
			if err != nil {
				continue
			}
			pos = p
		}
		if r3.Norm(r3.Sub(axis.reflect(pos), target)) <= eps {
			return c, true
		}
	}
	return nil, false
}

// LinkMirrored links a and b, then links their mirror counterparts when both
// exist and are free. Only the primary link can fail.
func (k *Linker) LinkMirrored(a, b *Landmark, axis Axis, eps float64) error {
	if err := k.Link(a, b); err != nil {
		return err
	}
	ma, okA := FindMirror(a.store, a, axis, eps)
	mb, okB := FindMirror(b.store, b, axis, eps)
	if !okA || !okB || ma == b || mb == a {
		return nil
	}
	if err := k.Link(ma, mb); err != nil {
		log.Printf("[linker] mirror link %d-%d skipped: %v", ma.ID, mb.ID, err)
	}
	return nil
}

// UnlinkMirrored unlinks a and, when present, its mirror counterpart.
func (k *Linker) UnlinkMirrored(a *Landmark, axis Axis, eps float64) {
	if a == nil {
		return
	}
	m, ok := FindMirror(a.store, a, axis, eps)
	k.Unlink(a)
	if ok {
		k.Unlink(m)
	}
}

// AutoLinkByID links every unlinked source landmark to the unlinked target
// landmark carrying the same id. It returns the number of new links.
func (k *Linker) AutoLinkByID() int {
	n := 0
	for _, s := range k.Source.landmarks {
		if s.IsLinked {
			continue
		}
		t, ok := k.Target.Find(s.ID)
		if !ok || t.IsLinked {
			continue
		}
		if err := k.Link(s, t); err == nil {
			n++
		}
	}
	return n
}

// TransferNames copies landmark names across links, from the source store
// when fromSource is set and from the target store otherwise.
func (k *Linker) TransferNames(fromSource bool) int {
	from := k.Source
	if !fromSource {
		from = k.Target
	}
	n := 0
	for _, l := range from.landmarks {
		if p, ok := k.Partner(l); ok {
			p.Name = l.Name
			n++
		}
	}
	return n
}

// Status counts linked and unlinked landmarks on both sides
func (k *Linker) Status() LinkStatus {
	return k.Source.Status(k.Target)
}
