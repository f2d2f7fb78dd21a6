package mesh

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestExportImport_RoundTrip(t *testing.T) {
	src := gridMesh(t, "src", 4, 1.0/3)
	tgt := gridMesh(t, "tgt", 3, 0.5)
	table, err := Project(src, tgt, DefaultProjectOptions())
	require.NoError(t, err)
	table.Records[5] = InvalidRecord

	text := ExportString(table)
	assert.Equal(t, src.VertexCount(), strings.Count(text, "\n"))
	assert.Contains(t, text, invalidRow+"\n")

	back, err := ImportTable(strings.NewReader(text), src, tgt)
	require.NoError(t, err)
	require.Equal(t, table.Len(), back.Len())
	for i, want := range table.Records {
		got := back.Records[i]
		require.Equal(t, want.Valid, got.Valid, "record %d", i)
		if !want.Valid {
			continue
		}
		assert.Equal(t, want.VertexIndices, got.VertexIndices, "record %d", i)
		assert.Equal(t, want.FaceIndex, got.FaceIndex, "record %d", i)
		for k := range want.Weights {
			assert.InDelta(t, want.Weights[k], got.Weights[k], 1e-4, "record %d weight %d", i, k)
		}
	}
}

func TestImportTable_Shapes(t *testing.T) {
	src, err := NewTriMesh("src", []r3.Vec{{}, {X: 1}, {Y: 1}}, [][3]int{{0, 1, 2}})
	require.NoError(t, err)
	tgt := unitSquare(t, "tgt")

	tests := []struct {
		name  string
		input string
		want  []MappingRecord
	}{
		{
			name:  "vertex to vertex",
			input: "2\n-1\n3\n",
			want: []MappingRecord{
				{FaceIndex: 0, VertexIndices: [3]int{0, 1, 2}, Weights: [3]float64{0, 0, 1}, Valid: true},
				InvalidRecord,
				{FaceIndex: 1, VertexIndices: [3]int{0, 2, 3}, Weights: [3]float64{0, 0, 1}, Valid: true},
			},
		},
		{
			name:  "triangle with commas",
			input: "1, 0.2, 0.3, 0.5\n-1,0,0,0\n0,1,0,0\n",
			want: []MappingRecord{
				{FaceIndex: 1, VertexIndices: [3]int{0, 2, 3}, Weights: [3]float64{0.2, 0.3, 0.5}, Valid: true},
				InvalidRecord,
				{FaceIndex: 0, VertexIndices: [3]int{0, 1, 2}, Weights: [3]float64{1, 0, 0}, Valid: true},
			},
		},
		{
			name:  "vertex indexed with legacy sentinel",
			input: "# header\n3 2 0 0.1 0.2 0.7\n0 0 0 0.0 0.0 0.0\n\n-1 -1 -1 0.0 0.0 0.0\n",
			want: []MappingRecord{
				{FaceIndex: 1, VertexIndices: [3]int{3, 2, 0}, Weights: [3]float64{0.1, 0.2, 0.7}, Valid: true},
				InvalidRecord,
				InvalidRecord,
			},
		},
		{
			name:  "vertex indexed without a matching face",
			input: "1 3 2 1 0 0\n-1 -1 -1 0 0 0\n-1 -1 -1 0 0 0\n",
			want: []MappingRecord{
				{FaceIndex: -1, VertexIndices: [3]int{1, 3, 2}, Weights: [3]float64{1, 0, 0}, Valid: true},
				InvalidRecord,
				InvalidRecord,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := ImportTable(strings.NewReader(tt.input), src, tgt)
			require.NoError(t, err)
			assert.Equal(t, "tgt", table.Target)
			assert.Equal(t, tt.want, table.Records)
		})
	}
}

func TestImportTable_Errors(t *testing.T) {
	src, err := NewTriMesh("src", []r3.Vec{{}, {X: 1}, {Y: 1}}, [][3]int{{0, 1, 2}})
	require.NoError(t, err)
	tgt := unitSquare(t, "tgt")

	tests := []struct {
		name  string
		input string
	}{
		{"too few rows", "0\n1\n"},
		{"too many rows", "0\n1\n2\n3\n"},
		{"unknown shape", "0 1\n0 1\n0 1\n"},
		{"mixed shapes", "0\n1 0.5 0.5 0\n2\n"},
		{"not a number", "0\nx\n2\n"},
		{"fractional index", "0.5\n1\n2\n"},
		{"vertex out of range", "0\n1\n9\n"},
		{"face out of range", "0 1 0 0\n2 1 0 0\n0 1 0 0\n"},
		{"vertex indexed out of range", "0 1 7 1 0 0\n0 1 2 1 0 0\n0 1 2 1 0 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ImportTable(strings.NewReader(tt.input), src, tgt)
			assert.ErrorIs(t, err, ErrFormat)
		})
	}

	_, err = ImportTable(strings.NewReader("0\n"), src, nil)
	assert.ErrorIs(t, err, ErrMissingTarget)
}

func TestSaveLoadTable(t *testing.T) {
	src := unitSquare(t, "src")
	tgt := unitSquare(t, "tgt")
	table, err := Project(src, tgt, DefaultProjectOptions())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.map")
	require.NoError(t, SaveTable(path, table))
	back, err := LoadTable(path, src, tgt)
	require.NoError(t, err)
	assert.Equal(t, table.Len(), back.Len())
	assert.Equal(t, 0, back.InvalidCount())

	_, err = LoadTable(filepath.Join(t.TempDir(), "missing.map"), src, tgt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mapping file not found")
}

func TestCopyTo(t *testing.T) {
	src := unitSquare(t, "src")
	tgt := unitSquare(t, "tgt")
	table, err := Project(src, tgt, DefaultProjectOptions())
	require.NoError(t, err)

	twin := src.Duplicate("twin")
	c, err := CopyTo(table, src, twin)
	require.NoError(t, err)
	assert.Equal(t, table.Records, c.Records)
	c.Records[0] = InvalidRecord
	assert.True(t, table.Records[0].Valid, "copy is independent")

	tri, err := NewTriMesh("tri", []r3.Vec{{}, {X: 1}, {Y: 1}}, [][3]int{{0, 1, 2}})
	require.NoError(t, err)
	_, err = CopyTo(table, src, tri)
	assert.ErrorIs(t, err, ErrTopologyMismatch)
}

func TestMappingSet_CopyToIsAllOrNothing(t *testing.T) {
	src := unitSquare(t, "src")
	a, b := unitSquare(t, "a"), gridMesh(t, "b", 3, 0.5)
	ta, err := Project(src, a, DefaultProjectOptions())
	require.NoError(t, err)
	tb, err := Project(src, b, DefaultProjectOptions())
	require.NoError(t, err)

	set := NewMappingSet(src)
	require.NoError(t, set.Add(ta))
	require.NoError(t, set.Add(tb))
	require.NoError(t, set.Add(ta), "replacing keeps insertion order")
	assert.Equal(t, []string{"a", "b"}, set.Targets())

	dst := NewMappingSet(src.Duplicate("twin"))
	require.NoError(t, set.CopyTo(dst))
	assert.Equal(t, 2, dst.Len())
	got, ok := dst.Get("b")
	require.True(t, ok)
	assert.Equal(t, tb.Records, got.Records)

	tri, err := NewTriMesh("tri", []r3.Vec{{}, {X: 1}, {Y: 1}}, [][3]int{{0, 1, 2}})
	require.NoError(t, err)
	small := NewMappingSet(tri)
	assert.ErrorIs(t, set.CopyTo(small), ErrTopologyMismatch)
	assert.Equal(t, 0, small.Len(), "failed copy leaves dst unchanged")

	bad := &MappingTable{Target: "x", Records: make([]MappingRecord, 2)}
	assert.ErrorIs(t, set.Add(bad), ErrTopologyMismatch)
}

func TestMappingTable_Resolve(t *testing.T) {
	tgt := unitSquare(t, "tgt")
	table := &MappingTable{Target: "tgt", Records: []MappingRecord{
		{FaceIndex: 0, VertexIndices: [3]int{0, 1, 2}, Weights: [3]float64{0, 0.5, 0.5}, Valid: true},
		InvalidRecord,
	}}
	pos, valid, err := table.Resolve(tgt)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, valid)
	assert.InDelta(t, 1.0, pos[0].X, 1e-12)
	assert.InDelta(t, 0.5, pos[0].Y, 1e-12)
	assert.Equal(t, 1, table.InvalidCount())

	table.Records[0].VertexIndices[2] = 10
	_, _, err = table.Resolve(tgt)
	assert.ErrorIs(t, err, ErrFormat)
}
