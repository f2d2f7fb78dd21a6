package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/kwv/meshlink/mesh"
)

// App encapsulates the application state and dependencies
type App struct {
	Config       *mesh.Config
	StateTracker *mesh.StateTracker
	MQTTClient   *mesh.MQTTClient
	Publisher    *mesh.Publisher
	Out          io.Writer

	// CLI Flags (effectively dependencies)
	ConfigFile string
	ExportFile string
	ImportFile string
	OutputFile string
	HttpPort   int
	HttpMode   bool

	jobMu sync.Mutex
}

// NewApp creates a new App instance writing summaries to out
func NewApp(out io.Writer) *App {
	return &App{
		StateTracker: mesh.NewStateTracker(),
		Publisher:    mesh.NewPublisher(nil, nil),
		Out:          out,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.ExportFile = opts.ExportFile
	a.ImportFile = opts.ImportFile
	a.OutputFile = opts.OutputFile
	a.HttpPort = opts.HttpPort
	a.HttpMode = opts.HttpMode
}

// job is one loaded configuration: both meshes and their landmarks
type job struct {
	name   string
	dir    string
	source *mesh.TriMesh
	target *mesh.TriMesh
	linker *mesh.Linker
}

// steps selects what runJob does after building the mapping table
type steps struct {
	deform bool
	seams  bool
}

// resolve returns p relative to the config file's directory
func (j *job) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(j.dir, p)
}

func (a *App) loadJob() (*job, error) {
	config, err := mesh.LoadConfig(a.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	a.Config = config

	j := &job{dir: filepath.Dir(a.ConfigFile)}
	if j.source, err = mesh.LoadOBJ(j.resolve(config.Source)); err != nil {
		return nil, fmt.Errorf("loading source: %w", err)
	}
	if j.target, err = mesh.LoadOBJ(j.resolve(config.Target)); err != nil {
		return nil, fmt.Errorf("loading target: %w", err)
	}
	j.name = fmt.Sprintf("%s-%s", j.source.Name, j.target.Name)
	log.Printf("Loaded %s (%d vertices, %d faces) and %s (%d vertices, %d faces)",
		j.source.Name, j.source.VertexCount(), j.source.FaceCount(),
		j.target.Name, j.target.VertexCount(), j.target.FaceCount())

	j.linker = mesh.NewLinker(mesh.NewLandmarkStore(j.source), mesh.NewLandmarkStore(j.target))
	if err := config.Landmarks.PopulateLinker(j.linker); err != nil {
		return nil, fmt.Errorf("placing landmarks: %w", err)
	}
	a.Publisher.SetJob(j.name)
	return j, nil
}

// RunProject builds or imports the mapping table, plus the deform and seam
// steps the config enables
func (a *App) RunProject() error {
	_, err := a.runJob(steps{})
	return err
}

// RunDeform is RunProject with the deform step forced on
func (a *App) RunDeform() error {
	_, err := a.runJob(steps{deform: true})
	return err
}

// RunSeams computes and prints the landmark seam tree
func (a *App) RunSeams() error {
	a.jobMu.Lock()
	defer a.jobMu.Unlock()

	j, err := a.loadJob()
	if err != nil {
		return err
	}
	seams, err := mesh.LandmarkSeams(j.linker, mesh.EdgeOracle, a.Publisher.Progress("seams"))
	if err != nil {
		return err
	}
	a.printSeams(seams)

	scene := &mesh.Scene{Source: j.source, Target: j.target, Linker: j.linker, Seams: seams}
	if err := a.writePreviews(j, scene); err != nil {
		return err
	}
	result := &mesh.JobResult{
		Name:           j.name,
		Source:         j.source.Name,
		Target:         j.target.Name,
		SourceVertices: j.source.VertexCount(),
		TargetVertices: j.target.VertexCount(),
		Landmarks:      j.linker.Status(),
		Seams:          seamEdges(seams),
		FinishedAt:     time.Now(),
	}
	a.finish(result, nil, scene)
	return nil
}

// RunStatus prints how many landmarks are linked on each side
func (a *App) RunStatus() error {
	j, err := a.loadJob()
	if err != nil {
		return err
	}
	st := j.linker.Status()
	fmt.Fprintf(a.Out, "%s: %d landmarks, %d linked, %d unlinked\n", j.source.Name, st.SourceTotal, st.SourceLinked, st.SourceUnlinked)
	fmt.Fprintf(a.Out, "%s: %d landmarks, %d linked, %d unlinked\n", j.target.Name, st.TargetTotal, st.TargetLinked, st.TargetUnlinked)
	if st.AllLinked {
		fmt.Fprintln(a.Out, "All landmarks linked")
	}
	for _, p := range j.linker.Pairs() {
		fmt.Fprintf(a.Out, "  %d %q <-> %d %q\n", p.Source.ID, p.Source.Name, p.Target.ID, p.Target.Name)
	}
	return nil
}

func (a *App) runJob(s steps) (*mesh.JobResult, error) {
	a.jobMu.Lock()
	defer a.jobMu.Unlock()

	start := time.Now()
	j, err := a.loadJob()
	if err != nil {
		return nil, err
	}
	config := a.Config
	s.deform = s.deform || config.Deform.Enabled
	s.seams = s.seams || config.Seams.Enabled

	result := &mesh.JobResult{
		Name:           j.name,
		Source:         j.source.Name,
		Target:         j.target.Name,
		SourceVertices: j.source.VertexCount(),
		TargetVertices: j.target.VertexCount(),
	}

	table, err := a.buildTable(j, result)
	if err != nil {
		return nil, err
	}
	result.InvalidCount = table.InvalidCount()
	fmt.Fprintf(a.Out, "Mapping %s -> %s: %d records, %d invalid\n", j.source.Name, j.target.Name, table.Len(), result.InvalidCount)

	if export := firstNonEmpty(a.ExportFile, j.resolve(config.Mapping.Export)); export != "" {
		if err := mesh.SaveTable(export, table); err != nil {
			return nil, err
		}
		fmt.Fprintf(a.Out, "Wrote mapping to %s\n", export)
	}

	scene := &mesh.Scene{Source: j.source, Target: j.target, Linker: j.linker, Validity: validity(table)}

	if s.deform {
		deformed, err := a.deform(j, table, result)
		if err != nil {
			return nil, err
		}
		if deformed != j.source {
			scene.Source = deformed
		}
	}

	if s.seams {
		seams, err := mesh.LandmarkSeams(j.linker, mesh.EdgeOracle, a.Publisher.Progress("seams"))
		if err != nil {
			return nil, err
		}
		a.printSeams(seams)
		scene.Seams = seams
		result.Seams = seamEdges(seams)
	}

	if err := a.writePreviews(j, scene); err != nil {
		return nil, err
	}

	result.Landmarks = j.linker.Status()
	result.Duration = time.Since(start).Round(time.Millisecond).String()
	result.FinishedAt = time.Now()
	a.finish(result, table, scene)
	return result, nil
}

// buildTable imports the configured mapping file, or projects the source
// (rigidly prealigned when configured) onto the target
func (a *App) buildTable(j *job, result *mesh.JobResult) (*mesh.MappingTable, error) {
	config := a.Config
	if imp := firstNonEmpty(a.ImportFile, j.resolve(config.Mapping.Import)); imp != "" {
		table, err := mesh.LoadTable(imp, j.source, j.target)
		if err != nil {
			return nil, err
		}
		result.Imported = true
		log.Printf("Imported mapping from %s", imp)
		return table, nil
	}

	projected := j.source
	if config.Mapping.Prealign {
		rigid, err := mesh.AlignByLandmarks(j.linker)
		if err != nil {
			return nil, fmt.Errorf("prealigning source: %w", err)
		}
		projected = j.source.Duplicate(j.source.Name)
		if err := rigid.TransformMesh(projected); err != nil {
			return nil, err
		}
	}

	opts := mesh.DefaultProjectOptions()
	opts.NormalThreshold = config.Mapping.Threshold()
	opts.Progress = a.Publisher.Progress("project")
	return mesh.Project(projected, j.target, opts)
}

// deform applies table to the source, or to a copy of it when
// deform.onDuplicate is set, and writes the configured output mesh
func (a *App) deform(j *job, table *mesh.MappingTable, result *mesh.JobResult) (*mesh.TriMesh, error) {
	config := a.Config
	applyOn := j.source
	if config.Deform.OnDuplicate {
		applyOn = j.source.Duplicate(j.source.Name + "_deformed")
	}

	opts := mesh.DefaultDeformOptions(applyOn)
	opts.Owner = j.source
	opts.ShapeName = config.Deform.ShapeName
	opts.UseLeastSquares = config.Deform.LeastSquares()
	opts.Iterations = config.Deform.Iterations
	opts.Progress = a.Publisher.Progress("deform")

	res, err := mesh.Apply(table, j.target, opts)
	if err != nil {
		return nil, err
	}
	result.Deformed = true
	result.Solved = res.Solved
	result.ShapeKey = res.ShapeKey
	fmt.Fprintf(a.Out, "Deformed %s: %d vertices, %d solved by least squares\n", applyOn.Name, len(res.Positions), solvedCount(res))

	if output := firstNonEmpty(a.OutputFile, j.resolve(config.Deform.Output)); output != "" {
		if err := mesh.SaveOBJ(output, applyOn); err != nil {
			return nil, err
		}
		fmt.Fprintf(a.Out, "Wrote deformed mesh to %s\n", output)
	}
	return applyOn, nil
}

func (a *App) writePreviews(j *job, scene *mesh.Scene) error {
	config := a.Config
	axis, _ := mesh.ParseAxis(config.Preview.Axis)

	if path := j.resolve(config.Preview.SVG); path != "" {
		r := mesh.NewVectorRenderer(scene)
		r.Axis = axis
		var buf bytes.Buffer
		if err := r.RenderToSVG(&buf); err != nil {
			return fmt.Errorf("rendering SVG preview: %w", err)
		}
		if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
			return fmt.Errorf("writing SVG preview: %w", err)
		}
		fmt.Fprintf(a.Out, "Wrote preview to %s\n", path)
	}

	if path := j.resolve(config.Preview.PNG); path != "" {
		r := mesh.NewValidityRenderer(scene.Source, scene.Validity, j.linker.Source)
		r.Axis = axis
		if err := r.SavePNG(path); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "Wrote validity preview to %s\n", path)
	}
	return nil
}

func (a *App) printSeams(seams []mesh.Seam) {
	fmt.Fprintf(a.Out, "Seams: %d\n", len(seams))
	for _, s := range seams {
		fmt.Fprintf(a.Out, "  %d - %d (%d points)\n", s.From, s.To, len(s.SourcePath))
	}
}

func (a *App) finish(result *mesh.JobResult, table *mesh.MappingTable, scene *mesh.Scene) {
	a.StateTracker.UpdateJob(result, table, scene)
	if a.MQTTClient != nil {
		if err := a.Publisher.PublishJob(result); err != nil {
			log.Printf("Error publishing job %s: %v", result.Name, err)
		}
	}
}

// attachMQTT installs client and publisher under jobMu. Commands can arrive
// on the connect goroutine as soon as InitMQTT returns.
func (a *App) attachMQTT(client *mesh.MQTTClient, publisher *mesh.Publisher) {
	a.jobMu.Lock()
	defer a.jobMu.Unlock()
	a.MQTTClient = client
	a.Publisher = publisher
}

// handleCommand runs a job step requested over MQTT
func (a *App) handleCommand(command string) {
	var err error
	switch command {
	case "project":
		err = a.RunProject()
	case "deform":
		err = a.RunDeform()
	case "seams":
		err = a.RunSeams()
	default:
		log.Printf("[MQTT] unknown command %q", command)
		return
	}
	if err != nil {
		log.Printf("[MQTT] command %q failed: %v", command, err)
	}
}

// RunService runs the configured job once, then serves results over HTTP and
// accepts job commands over MQTT until interrupted
func (a *App) RunService() error {
	fmt.Fprintln(a.Out, "Starting meshlink service...")

	if _, err := a.runJob(steps{}); err != nil {
		var merr *mesh.Error
		if !errors.As(err, &merr) {
			return err
		}
		// domain failures leave the service up with no job to show
		log.Printf("Initial job failed: %v", err)
	}

	mqttClient, err := mesh.InitMQTT(a.Config, a.handleCommand)
	if err != nil {
		return fmt.Errorf("initializing MQTT: %w", err)
	}
	if mqttClient != nil {
		a.attachMQTT(mqttClient, mesh.NewPublisher(mqttClient.GetClient(), a.Config))
		fmt.Fprintln(a.Out, "MQTT publisher initialized")
	}

	port := a.HttpPort
	if port == 0 && a.Config != nil {
		port = a.Config.HTTP.Port
	}
	if port == 0 {
		port = mesh.DefaultHTTPPort
	}
	httpServer := newHTTPServer(a.StateTracker, a.Publisher)
	go func() {
		addr := fmt.Sprintf("0.0.0.0:%d", port)
		log.Printf("[HTTP] Starting server on %s", addr)
		if err := http.ListenAndServe(addr, httpServer); err != nil {
			log.Fatalf("[HTTP] Server error: %v", err)
		}
	}()

	fmt.Fprintln(a.Out, "\nService Running")
	fmt.Fprintln(a.Out, "===============")
	if a.MQTTClient != nil {
		fmt.Fprintf(a.Out, "\nMQTT:\n  Commands: %s (project, deform, seams)\n", a.MQTTClient.CommandTopic())
	}
	fmt.Fprintf(a.Out, "\nHTTP endpoints (port %d):\n", port)
	fmt.Fprintln(a.Out, "  GET /health        - Health check")
	fmt.Fprintln(a.Out, "  GET /job           - Last job summary")
	fmt.Fprintln(a.Out, "  GET /progress      - Last progress per stage")
	fmt.Fprintln(a.Out, "  GET /mapping.map   - Last mapping table")
	fmt.Fprintln(a.Out, "  GET /landmarks     - Landmarks and link status")
	fmt.Fprintln(a.Out, "  GET /preview.svg   - Vector preview (?axis=x|y|z)")
	fmt.Fprintln(a.Out, "  GET /preview.png   - Raster preview (?axis=x|y|z)")
	fmt.Fprintln(a.Out, "  GET /validity.png  - Mapping validity per source vertex")
	fmt.Fprintln(a.Out, "\nPress Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Fprintln(a.Out, "\nShutting down service...")
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Fprintln(a.Out, "Service stopped")
	return nil
}

func validity(table *mesh.MappingTable) []bool {
	v := make([]bool, table.Len())
	for i, r := range table.Records {
		v[i] = r.Valid
	}
	return v
}

func seamEdges(seams []mesh.Seam) [][2]int {
	out := make([][2]int, len(seams))
	for i, s := range seams {
		out[i] = [2]int{s.From, s.To}
	}
	return out
}

func solvedCount(res mesh.DeformResult) int {
	if !res.Solved {
		return 0
	}
	return res.InvalidCount
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
