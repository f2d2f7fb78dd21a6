package mesh

import "gonum.org/v1/gonum/spatial/r3"

// ProgressFunc receives coarse progress of a long operation. It is called on
// the caller's goroutine at fixed granularity and must not block for long.
type ProgressFunc func(done, total int)

func (f ProgressFunc) report(done, total int) {
	if f != nil {
		f(done, total)
	}
}

// MappingRecord is the correspondence of one source vertex onto the target
// surface.
type MappingRecord struct {
	FaceIndex     int        `json:"faceIndex"`
	VertexIndices [3]int     `json:"vertexIndices"`
	Weights       [3]float64 `json:"weights"`
	Valid         bool       `json:"valid"`
}

// InvalidRecord is the value stored for a vertex without a correspondence
var InvalidRecord = MappingRecord{FaceIndex: -1, VertexIndices: [3]int{-1, -1, -1}}

// MappingTable holds one record per source vertex, in source vertex order.
// Target names the mesh it was built against; it is not an owning reference.
type MappingTable struct {
	Target  string          `json:"target"`
	Records []MappingRecord `json:"records"`
}

// Len returns the number of records
func (t *MappingTable) Len() int { return len(t.Records) }

// InvalidCount returns the number of records without a correspondence
func (t *MappingTable) InvalidCount() int {
	n := 0
	for _, r := range t.Records {
		if !r.Valid {
			n++
		}
	}
	return n
}

// Clone returns a deep copy
func (t *MappingTable) Clone() *MappingTable {
	return &MappingTable{
		Target:  t.Target,
		Records: append([]MappingRecord(nil), t.Records...),
	}
}

// Resolve evaluates every valid record against the target's current vertex
// positions. Invalid records yield the zero vector and false.
func (t *MappingTable) Resolve(target *TriMesh) ([]r3.Vec, []bool, error) {
	positions := make([]r3.Vec, len(t.Records))
	valid := make([]bool, len(t.Records))
	for i, r := range t.Records {
		if !r.Valid {
			continue
		}
		for _, v := range r.VertexIndices {
			if v < 0 || v >= len(target.Vertices) {
				return nil, nil, errorf(ErrFormat, "record %d references vertex %d of %q (have %d)",
					i, v, target.Name, len(target.Vertices))
			}
		}
		positions[i] = combine(target.Vertices, r.VertexIndices, r.Weights)
		valid[i] = true
	}
	return positions, valid, nil
}
