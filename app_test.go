package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/kwv/meshlink/mesh"
)

// writeGrid saves an n x n grid of unit spacing at height z
func writeGrid(t *testing.T, path string, n int, z float64) {
	t.Helper()
	var verts []r3.Vec
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			verts = append(verts, r3.Vec{X: float64(x), Y: float64(y), Z: z})
		}
	}
	var faces [][3]int
	for y := 0; y < n-1; y++ {
		for x := 0; x < n-1; x++ {
			a := y*n + x
			faces = append(faces, [3]int{a, a + 1, a + n + 1}, [3]int{a, a + n + 1, a + n})
		}
	}
	m, err := mesh.NewTriMesh("", verts, faces)
	require.NoError(t, err)
	require.NoError(t, mesh.SaveOBJ(path, m))
}

const jobLandmarks = `
landmarks:
  source:
    - {id: 0, face: 0, weights: [1, 0, 0], name: corner}
    - {id: 1, face: 7, weights: [0, 1, 0]}
    - {id: 2, face: 30, weights: [0, 0, 1]}
  target:
    - {id: 0, face: 0, weights: [1, 0, 0]}
    - {id: 1, face: 7, weights: [0, 1, 0]}
    - {id: 2, face: 30, weights: [0, 0, 1]}
  autoLinkByID: true
`

// writeJob lays out source.obj, target.obj and job.yaml in a temp dir and
// returns the config path. extra is appended to the YAML.
func writeJob(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	writeGrid(t, filepath.Join(dir, "source.obj"), 5, 0)
	writeGrid(t, filepath.Join(dir, "target.obj"), 5, 1)
	config := "source: source.obj\ntarget: target.obj\n" + jobLandmarks + extra
	path := filepath.Join(dir, "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(config), 0o644))
	return path
}

func newTestApp(t *testing.T, configFile string) (*App, *bytes.Buffer) {
	t.Helper()
	t.Setenv("MQTT_BROKER", "")
	var out bytes.Buffer
	app := NewApp(&out)
	app.ApplyOptions(AppOptions{ConfigFile: configFile})
	return app, &out
}

func TestApp_RunProjectExportsMapping(t *testing.T) {
	cfg := writeJob(t, "mapping:\n  export: out.map\n")
	app, out := newTestApp(t, cfg)

	require.NoError(t, app.RunProject())
	assert.Contains(t, out.String(), "Mapping source -> target: 25 records, 0 invalid")

	data, err := os.ReadFile(filepath.Join(filepath.Dir(cfg), "out.map"))
	require.NoError(t, err)
	assert.Equal(t, 25, strings.Count(string(data), "\n"))

	job := app.StateTracker.GetJob()
	require.NotNil(t, job)
	assert.Equal(t, "source-target", job.Name)
	assert.False(t, job.Deformed)
	assert.Equal(t, 3, job.Landmarks.SourceLinked)
	assert.NotNil(t, app.StateTracker.GetTable())

	progress, ok := app.Publisher.GetProgress("project")
	require.True(t, ok)
	assert.Equal(t, 25, progress.Done)
}

func TestApp_RunDeformWritesOutput(t *testing.T) {
	cfg := writeJob(t, "deform:\n  output: fitted.obj\n")
	app, out := newTestApp(t, cfg)

	require.NoError(t, app.RunDeform())
	assert.Contains(t, out.String(), "Deformed source")

	fitted, err := mesh.LoadOBJ(filepath.Join(filepath.Dir(cfg), "fitted.obj"))
	require.NoError(t, err)
	require.Equal(t, 25, fitted.VertexCount())
	for i, v := range fitted.Vertices {
		assert.InDelta(t, 1.0, v.Z, 1e-9, "vertex %d lifted onto the target", i)
	}
	assert.True(t, app.StateTracker.GetJob().Deformed)
}

func TestApp_ImportOverridesProjection(t *testing.T) {
	cfg := writeJob(t, "")
	dir := filepath.Dir(cfg)
	var rows strings.Builder
	for i := 0; i < 25; i++ {
		if i == 12 {
			rows.WriteString("-1\n")
			continue
		}
		fmt.Fprintf(&rows, "%d\n", i)
	}
	mapPath := filepath.Join(dir, "in.map")
	require.NoError(t, os.WriteFile(mapPath, []byte(rows.String()), 0o644))

	app, out := newTestApp(t, cfg)
	app.ApplyOptions(AppOptions{ConfigFile: cfg, ImportFile: mapPath, OutputFile: filepath.Join(dir, "out.obj")})

	require.NoError(t, app.RunDeform())
	assert.Contains(t, out.String(), "25 records, 1 invalid")

	job := app.StateTracker.GetJob()
	assert.True(t, job.Imported)
	assert.True(t, job.Solved, "the invalid vertex is filled by least squares")

	fitted, err := mesh.LoadOBJ(filepath.Join(dir, "out.obj"))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, fitted.Vertices[12].Z, 1e-4)
}

func TestApp_DeformOnDuplicateKeepsSource(t *testing.T) {
	cfg := writeJob(t, "deform:\n  enabled: true\n  onDuplicate: true\n  shapeName: fitted\n")
	app, _ := newTestApp(t, cfg)

	require.NoError(t, app.RunProject())
	job := app.StateTracker.GetJob()
	assert.True(t, job.Deformed, "deform.enabled turns the step on")
	assert.Equal(t, "fitted", job.ShapeKey)

	scene := app.StateTracker.GetScene()
	require.NotNil(t, scene)
	assert.Equal(t, "source_deformed", scene.Source.Name)
	assert.InDelta(t, 1.0, scene.Source.Vertices[0].Z, 1e-9)
}

func TestApp_RunSeams(t *testing.T) {
	cfg := writeJob(t, "preview:\n  svg: preview.svg\n")
	app, out := newTestApp(t, cfg)

	require.NoError(t, app.RunSeams())
	assert.Contains(t, out.String(), "Seams: 2")

	job := app.StateTracker.GetJob()
	require.NotNil(t, job)
	assert.Len(t, job.Seams, 2)

	svg, err := os.ReadFile(filepath.Join(filepath.Dir(cfg), "preview.svg"))
	require.NoError(t, err)
	assert.Contains(t, string(svg), "<svg")
}

func TestApp_RunProjectWithSeamsAndPreviews(t *testing.T) {
	cfg := writeJob(t, "seams:\n  enabled: true\npreview:\n  png: validity.png\n  axis: z\nmapping:\n  prealign: true\n")
	app, _ := newTestApp(t, cfg)

	require.NoError(t, app.RunProject())
	job := app.StateTracker.GetJob()
	assert.Len(t, job.Seams, 2)
	assert.Equal(t, 0, job.InvalidCount)

	_, err := os.Stat(filepath.Join(filepath.Dir(cfg), "validity.png"))
	assert.NoError(t, err)
}

func TestApp_RunStatus(t *testing.T) {
	cfg := writeJob(t, "")
	app, out := newTestApp(t, cfg)

	require.NoError(t, app.RunStatus())
	assert.Contains(t, out.String(), "source: 3 landmarks, 3 linked, 0 unlinked")
	assert.Contains(t, out.String(), "All landmarks linked")
	assert.Contains(t, out.String(), `0 "corner" <-> 0`)
}

func TestApp_MissingConfig(t *testing.T) {
	app, _ := newTestApp(t, filepath.Join(t.TempDir(), "missing.yaml"))
	err := app.RunProject()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestApp_MissingMesh(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "job.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("source: nope.obj\ntarget: nope.obj\n"), 0o644))

	app, _ := newTestApp(t, cfg)
	err := app.RunProject()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading source")
}

func TestApp_HandleCommand(t *testing.T) {
	cfg := writeJob(t, "")
	app, _ := newTestApp(t, cfg)

	app.handleCommand("unknown")
	assert.False(t, app.StateTracker.HasJob())

	app.handleCommand("deform")
	require.True(t, app.StateTracker.HasJob())
	assert.True(t, app.StateTracker.GetJob().Deformed)
}

func TestApp_AttachMQTTWhileCommandRuns(t *testing.T) {
	cfg := writeJob(t, "")
	app, _ := newTestApp(t, cfg)
	client := &mesh.MQTTClient{}
	publisher := mesh.NewPublisher(nil, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		app.handleCommand("project")
	}()
	go func() {
		defer wg.Done()
		app.attachMQTT(client, publisher)
	}()
	wg.Wait()

	assert.Same(t, client, app.MQTTClient)
	assert.Same(t, publisher, app.Publisher)
	assert.True(t, app.StateTracker.HasJob())
}
