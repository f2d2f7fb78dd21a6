package mesh

import (
	"log"

	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultNormalThreshold is the minimum cosine between a source vertex normal
// and the hit face normal for a projection to count.
const DefaultNormalThreshold = 0.95

// ProjectOptions configures Project
type ProjectOptions struct {
	// NormalThreshold rejects hits whose normal cosine is <= the value.
	// DefaultProjectOptions sets DefaultNormalThreshold.
	NormalThreshold float64
	// Progress is reported once per BatchSize vertices
	Progress  ProgressFunc
	BatchSize int
}

// DefaultProjectOptions returns the standard options
func DefaultProjectOptions() ProjectOptions {
	return ProjectOptions{NormalThreshold: DefaultNormalThreshold, BatchSize: 1000}
}

// Project maps every vertex of source onto the nearest point of target's
// surface. Vertices with no hit, or whose normal disagrees with the hit face,
// get invalid records; they never fail the call.
func Project(source, target *TriMesh, opts ProjectOptions) (*MappingTable, error) {
	if target == nil || len(target.Faces) == 0 {
		name := ""
		if target != nil {
			name = target.Name
		}
		return nil, errorf(ErrMissingTarget, "target %q has no faces to project onto", name)
	}
	if source == nil {
		return nil, errorf(ErrMissingTarget, "no source mesh")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}

	srcSession, err := source.BeginRead()
	if err != nil {
		return nil, err
	}
	defer srcSession.End()
	if target != source {
		tgtSession, err := target.BeginRead()
		if err != nil {
			return nil, err
		}
		defer tgtSession.End()
	}

	index := NewFaceIndex(target)
	normals := source.VertexNormals()

	table := &MappingTable{Target: target.Name, Records: make([]MappingRecord, len(source.Vertices))}
	invalid := 0
	total := len(source.Vertices)
	for i, v := range source.Vertices {
		rec, ok := projectVertex(index, target, v, normals[i], opts.NormalThreshold)
		table.Records[i] = rec
		if !ok {
			invalid++
		}
		if (i+1)%opts.BatchSize == 0 {
			opts.Progress.report(i+1, total)
		}
	}
	opts.Progress.report(total, total)

	log.Printf("[project] %q -> %q: %d vertices, %d invalid", source.Name, target.Name, total, invalid)
	return table, nil
}

func projectVertex(index *FaceIndex, target *TriMesh, v, normal r3.Vec, threshold float64) (MappingRecord, bool) {
	hit, ok := index.Nearest(v)
	if !ok {
		return InvalidRecord, false
	}
	if r3.Dot(unitOrZero(hit.Normal), unitOrZero(normal)) <= threshold {
		return InvalidRecord, false
	}
	a, b, c := target.FaceVertices(hit.Face)
	w, ok := Barycentric(hit.Point, a, b, c)
	if !ok {
		// degenerate face, the closest-point weights are still well formed
		w = hit.Weights
	}
	return MappingRecord{
		FaceIndex:     hit.Face,
		VertexIndices: target.Faces[hit.Face],
		Weights:       clampWeights(w),
		Valid:         true,
	}, true
}
