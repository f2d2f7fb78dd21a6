package mesh

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

// invalidRow is written for records without a correspondence. Import also
// accepts the all-zero row written by older exporters.
const invalidRow = "-1 -1 -1 0.0 0.0 0.0"

// Row shapes recognised by ImportTable, by column count
const (
	ShapeVertexToVertex = 1
	ShapeTriangle       = 4
	ShapeVertex         = 6
)

// ExportTable writes table in the six column vertex-indexed form, one row per
// source vertex.
func ExportTable(w io.Writer, table *MappingTable) error {
	bw := bufio.NewWriter(w)
	for _, r := range table.Records {
		var err error
		if !r.Valid {
			_, err = fmt.Fprintln(bw, invalidRow)
		} else {
			_, err = fmt.Fprintf(bw, "%d %d %d %s %s %s\n",
				r.VertexIndices[0], r.VertexIndices[1], r.VertexIndices[2],
				formatWeight(r.Weights[0]), formatWeight(r.Weights[1]), formatWeight(r.Weights[2]))
		}
		if err != nil {
			return fmt.Errorf("writing mapping row: %w", err)
		}
	}
	return bw.Flush()
}

// ExportString renders ExportTable into a string
func ExportString(table *MappingTable) string {
	var sb strings.Builder
	_ = ExportTable(&sb, table)
	return sb.String()
}

func formatWeight(w float64) string {
	s := strconv.FormatFloat(w, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// ImportTable reads mapping rows for source against target. The row shape is
// detected from the column count and fields may be separated by whitespace
// or commas. Blank lines and lines starting with '#' are skipped. Sentinel
// rows become invalid records; structural problems fail the whole import.
func ImportTable(r io.Reader, source, target *TriMesh) (*MappingTable, error) {
	if target == nil {
		return nil, errorf(ErrMissingTarget, "no target mesh for mapping import")
	}
	if source == nil {
		return nil, errorf(ErrMissingTarget, "no source mesh for mapping import")
	}

	var rows [][]string
	var lines []int
	columns := 0
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(strings.ReplaceAll(line, ",", " "))
		if columns == 0 {
			columns = len(fields)
			if columns != ShapeVertexToVertex && columns != ShapeTriangle && columns != ShapeVertex {
				return nil, errorf(ErrFormat, "line %d: unrecognised row shape with %d columns", lineNo, columns)
			}
		} else if len(fields) != columns {
			return nil, errorf(ErrFormat, "line %d: expected %d columns, got %d", lineNo, columns, len(fields))
		}
		rows = append(rows, fields)
		lines = append(lines, lineNo)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading mapping: %w", err)
	}
	if len(rows) != source.VertexCount() {
		return nil, errorf(ErrFormat, "mapping has %d rows, source %q has %d vertices",
			len(rows), source.Name, source.VertexCount())
	}

	table := &MappingTable{Target: target.Name, Records: make([]MappingRecord, len(rows))}
	vertexFaces := target.VertexFaces()
	for i, fields := range rows {
		nums := make([]float64, len(fields))
		for j, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, errorf(ErrFormat, "line %d: field %d %q is not a number", lines[i], j+1, f)
			}
			nums[j] = v
		}
		rec, err := parseRecord(nums, target, vertexFaces)
		if err != nil {
			return nil, errorf(ErrFormat, "line %d: %v", lines[i], err)
		}
		table.Records[i] = rec
	}
	return table, nil
}

func parseRecord(nums []float64, target *TriMesh, vertexFaces [][]int) (MappingRecord, error) {
	switch len(nums) {
	case ShapeTriangle:
		face, err := asIndex(nums[0])
		if err != nil {
			return MappingRecord{}, err
		}
		if face == -1 {
			return InvalidRecord, nil
		}
		if face < 0 || face >= target.FaceCount() {
			return MappingRecord{}, fmt.Errorf("face %d out of range (have %d)", face, target.FaceCount())
		}
		return MappingRecord{
			FaceIndex:     face,
			VertexIndices: target.Faces[face],
			Weights:       [3]float64{nums[1], nums[2], nums[3]},
			Valid:         true,
		}, nil

	case ShapeVertex:
		var idx [3]int
		for k := 0; k < 3; k++ {
			v, err := asIndex(nums[k])
			if err != nil {
				return MappingRecord{}, err
			}
			idx[k] = v
		}
		w := [3]float64{nums[3], nums[4], nums[5]}
		if idx == [3]int{-1, -1, -1} || (idx == [3]int{} && w == [3]float64{}) {
			return InvalidRecord, nil
		}
		for _, v := range idx {
			if v < 0 || v >= target.VertexCount() {
				return MappingRecord{}, fmt.Errorf("vertex %d out of range (have %d)", v, target.VertexCount())
			}
		}
		return MappingRecord{
			FaceIndex:     faceWith(idx, target, vertexFaces),
			VertexIndices: idx,
			Weights:       w,
			Valid:         true,
		}, nil

	case ShapeVertexToVertex:
		v, err := asIndex(nums[0])
		if err != nil {
			return MappingRecord{}, err
		}
		if v == -1 {
			return InvalidRecord, nil
		}
		if v < 0 || v >= target.VertexCount() {
			return MappingRecord{}, fmt.Errorf("vertex %d out of range (have %d)", v, target.VertexCount())
		}
		if len(vertexFaces[v]) == 0 {
			return MappingRecord{}, fmt.Errorf("vertex %d has no incident face", v)
		}
		face := vertexFaces[v][0]
		rec := MappingRecord{FaceIndex: face, VertexIndices: target.Faces[face], Valid: true}
		for k, fv := range rec.VertexIndices {
			if fv == v {
				rec.Weights[k] = 1
			}
		}
		return rec, nil
	}
	return MappingRecord{}, fmt.Errorf("unrecognised row shape with %d columns", len(nums))
}

func asIndex(f float64) (int, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("index %v is not an integer", f)
	}
	return int(f), nil
}

// faceWith returns the target face made of exactly the vertices in idx, or -1.
func faceWith(idx [3]int, target *TriMesh, vertexFaces [][]int) int {
	want := idx
	sort.Ints(want[:])
	for _, f := range vertexFaces[idx[0]] {
		got := target.Faces[f]
		sort.Ints(got[:])
		if got == want {
			return f
		}
	}
	return -1
}

// CopyTo duplicates table for another source mesh with the same vertex count.
func CopyTo(table *MappingTable, from, to *TriMesh) (*MappingTable, error) {
	if from.VertexCount() != to.VertexCount() {
		return nil, errorf(ErrTopologyMismatch, "cannot copy mapping from %q (%d vertices) to %q (%d vertices)",
			from.Name, from.VertexCount(), to.Name, to.VertexCount())
	}
	if table.Len() != to.VertexCount() {
		return nil, errorf(ErrTopologyMismatch, "mapping has %d records, %q has %d vertices",
			table.Len(), to.Name, to.VertexCount())
	}
	return table.Clone(), nil
}

// SaveTable exports table to a file
func SaveTable(path string, table *MappingTable) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating mapping file: %w", err)
	}
	if err := ExportTable(f, table); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// LoadTable imports a mapping file
func LoadTable(path string, source, target *TriMesh) (*MappingTable, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("mapping file not found: %s", path)
		}
		return nil, fmt.Errorf("opening mapping file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ImportTable(f, source, target)
}

// MappingSet is the collection of mapping tables owned by one source mesh,
// keyed by target name.
type MappingSet struct {
	Owner  *TriMesh
	tables map[string]*MappingTable
	order  []string
}

// NewMappingSet creates an empty collection for owner
func NewMappingSet(owner *TriMesh) *MappingSet {
	return &MappingSet{Owner: owner, tables: make(map[string]*MappingTable)}
}

// Add stores table, replacing any table for the same target.
func (s *MappingSet) Add(table *MappingTable) error {
	if table.Len() != s.Owner.VertexCount() {
		return errorf(ErrTopologyMismatch, "mapping has %d records, %q has %d vertices",
			table.Len(), s.Owner.Name, s.Owner.VertexCount())
	}
	if _, ok := s.tables[table.Target]; !ok {
		s.order = append(s.order, table.Target)
	}
	s.tables[table.Target] = table
	return nil
}

// Get returns the table built against target
func (s *MappingSet) Get(target string) (*MappingTable, bool) {
	t, ok := s.tables[target]
	return t, ok
}

// Targets lists target names in insertion order
func (s *MappingSet) Targets() []string {
	return append([]string(nil), s.order...)
}

// Len returns the number of tables
func (s *MappingSet) Len() int { return len(s.order) }

// CopyTo copies every table into dst. Either all tables are copied or dst is
// left unmodified.
func (s *MappingSet) CopyTo(dst *MappingSet) error {
	copies := make([]*MappingTable, 0, len(s.order))
	for _, name := range s.order {
		c, err := CopyTo(s.tables[name], s.Owner, dst.Owner)
		if err != nil {
			return err
		}
		copies = append(copies, c)
	}
	for _, c := range copies {
		if err := dst.Add(c); err != nil {
			return err
		}
	}
	return nil
}
