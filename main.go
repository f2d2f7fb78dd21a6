package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line
type AppOptions struct {
	ConfigFile string
	Project    bool
	Deform     bool
	Seams      bool
	Status     bool
	HttpMode   bool
	HttpPort   int
	ExportFile string
	ImportFile string
	OutputFile string
}

// AppRunner is what run dispatches to
type AppRunner interface {
	ApplyOptions(opts AppOptions)
	RunProject() error
	RunDeform() error
	RunSeams() error
	RunStatus() error
	RunService() error
}

func run(args []string, out io.Writer, app AppRunner) error {
	fs := flag.NewFlagSet("meshlink", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "job.yaml", "Path to job configuration file")
	fs.BoolVar(&opts.Project, "project", false, "Build (or import) the mapping table and exit")
	fs.BoolVar(&opts.Deform, "deform", false, "Build the mapping table, deform the source onto the target and exit")
	fs.BoolVar(&opts.Seams, "seams", false, "Compute the landmark seam tree and exit")
	fs.BoolVar(&opts.Status, "status", false, "Print landmark link status and exit")
	fs.BoolVar(&opts.HttpMode, "http", false, "Run the job, then serve results over HTTP")
	fs.IntVar(&opts.HttpPort, "http-port", 0, "HTTP server port (default from config, else 8080)")
	fs.StringVar(&opts.ExportFile, "export", "", "Write the mapping table to this file (overrides mapping.export)")
	fs.StringVar(&opts.ImportFile, "import", "", "Read the mapping table from this file instead of projecting (overrides mapping.import)")
	fs.StringVar(&opts.OutputFile, "output", "", "Write the deformed mesh to this OBJ file (overrides deform.output)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "meshlink version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.Status:
		return app.RunStatus()
	case opts.Seams:
		return app.RunSeams()
	case opts.Deform:
		return app.RunDeform()
	case opts.Project:
		return app.RunProject()
	case opts.HttpMode:
		return app.RunService()
	}

	fmt.Fprintln(out, "Use --project to build the mapping table")
	fmt.Fprintln(out, "Use --deform to apply it to the source mesh")
	fmt.Fprintln(out, "Use --seams to compute landmark seams")
	fmt.Fprintln(out, "Use --status to print landmark link status")
	fmt.Fprintln(out, "Use --http to run the job and serve results")
	fmt.Fprintln(out, "\nConfiguration:")
	fmt.Fprintln(out, "  job.yaml - meshes, landmarks, mapping and deform settings")
	return nil
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp(os.Stdout)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("meshlink: %v", err)
	}
}
