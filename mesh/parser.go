package mesh

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// LoadOBJ reads a Wavefront OBJ file. The mesh is named after the file
// without its extension.
func LoadOBJ(path string) (*TriMesh, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("mesh file not found: %s", path)
		}
		return nil, fmt.Errorf("opening mesh file: %w", err)
	}
	defer func() { _ = f.Close() }()
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return ParseOBJ(f, name)
}

// ParseOBJ reads the v and f records of an OBJ stream. Polygons are fan
// triangulated, "a/b/c" index forms use only the position index and negative
// indices count back from the last vertex read. Other records are ignored.
func ParseOBJ(r io.Reader, name string) (*TriMesh, error) {
	var vertices []r3.Vec
	var faces [][3]int

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch fields[0] {
		case "v":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: vertex needs 3 coordinates", lineNo)
			}
			var c [3]float64
			for i := 0; i < 3; i++ {
				v, err := strconv.ParseFloat(fields[i+1], 64)
				if err != nil {
					return nil, fmt.Errorf("line %d: parsing coordinate %q: %w", lineNo, fields[i+1], err)
				}
				c[i] = v
			}
			vertices = append(vertices, r3.Vec{X: c[0], Y: c[1], Z: c[2]})

		case "f":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: face needs at least 3 vertices", lineNo)
			}
			idx := make([]int, 0, len(fields)-1)
			for _, ref := range fields[1:] {
				i, err := objIndex(ref, len(vertices))
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo, err)
				}
				idx = append(idx, i)
			}
			for k := 1; k+1 < len(idx); k++ {
				faces = append(faces, [3]int{idx[0], idx[k], idx[k+1]})
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading OBJ: %w", err)
	}
	return NewTriMesh(name, vertices, faces)
}

func objIndex(ref string, count int) (int, error) {
	if slash := strings.IndexByte(ref, '/'); slash >= 0 {
		ref = ref[:slash]
	}
	i, err := strconv.Atoi(ref)
	if err != nil {
		return 0, fmt.Errorf("parsing face index %q: %w", ref, err)
	}
	switch {
	case i > 0:
		return i - 1, nil
	case i < 0:
		return count + i, nil
	}
	return 0, fmt.Errorf("face index 0 is not valid")
}

// WriteOBJ writes m's current positions and faces
func WriteOBJ(w io.Writer, m *TriMesh) error {
	bw := bufio.NewWriter(w)
	if m.Name != "" {
		if _, err := fmt.Fprintf(bw, "o %s\n", m.Name); err != nil {
			return fmt.Errorf("writing OBJ: %w", err)
		}
	}
	for _, v := range m.Vertices {
		if _, err := fmt.Fprintf(bw, "v %s %s %s\n", objFloat(v.X), objFloat(v.Y), objFloat(v.Z)); err != nil {
			return fmt.Errorf("writing OBJ: %w", err)
		}
	}
	for _, f := range m.Faces {
		if _, err := fmt.Fprintf(bw, "f %d %d %d\n", f[0]+1, f[1]+1, f[2]+1); err != nil {
			return fmt.Errorf("writing OBJ: %w", err)
		}
	}
	return bw.Flush()
}

func objFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// SaveOBJ writes m to path
func SaveOBJ(path string, m *TriMesh) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating mesh file: %w", err)
	}
	if err := WriteOBJ(f, m); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
