package mesh

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// JobResult summarises one finished mapping job
type JobResult struct {
	Name           string     `json:"name"`
	Source         string     `json:"source"`
	Target         string     `json:"target"`
	SourceVertices int        `json:"sourceVertices"`
	TargetVertices int        `json:"targetVertices"`
	InvalidCount   int        `json:"invalidCount"`
	Imported       bool       `json:"imported"`
	Deformed       bool       `json:"deformed"`
	Solved         bool       `json:"solved"`
	ShapeKey       string     `json:"shapeKey,omitempty"`
	Landmarks      LinkStatus `json:"landmarks"`
	Seams          [][2]int   `json:"seams,omitempty"`
	Duration       string     `json:"duration"`
	FinishedAt     time.Time  `json:"finishedAt"`
}

// Scene is what preview endpoints draw: both meshes, their landmarks and the
// last seams and validity mask.
type Scene struct {
	Source   *TriMesh
	Target   *TriMesh
	Linker   *Linker
	Seams    []Seam
	Validity []bool
}

// StateTracker keeps the result of the last job for HTTP endpoints
type StateTracker struct {
	mu        sync.RWMutex
	result    *JobResult
	table     *MappingTable
	scene     *Scene
	cachePath string // path to the job summary cache file; empty disables persistence
}

// NewStateTracker creates a new state tracker
func NewStateTracker() *StateTracker {
	return &StateTracker{}
}

// NewStateTrackerWithCache creates a state tracker that persists the last job
// summary to cachePath. An existing cache is loaded on creation.
func NewStateTrackerWithCache(cachePath string) *StateTracker {
	st := &StateTracker{cachePath: cachePath}
	if cachePath != "" {
		if r, err := LoadJobResult(cachePath); err == nil {
			st.result = r
		}
	}
	return st
}

// UpdateJob stores a finished job. table and scene may be nil.
func (st *StateTracker) UpdateJob(result *JobResult, table *MappingTable, scene *Scene) {
	st.mu.Lock()
	st.result = result
	st.table = table
	st.scene = scene
	cachePath := st.cachePath
	st.mu.Unlock()

	if cachePath != "" {
		if err := SaveJobResult(result, cachePath); err != nil {
			log.Printf("warning: failed to save job cache: %v", err)
		}
	}
}

// GetJob returns a copy of the last job summary, or nil
func (st *StateTracker) GetJob() *JobResult {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.result == nil {
		return nil
	}
	c := *st.result
	c.Seams = append([][2]int(nil), st.result.Seams...)
	return &c
}

// HasJob returns true once a job has finished or a cached summary was loaded
func (st *StateTracker) HasJob() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.result != nil
}

// GetTable returns the last mapping table, or nil
func (st *StateTracker) GetTable() *MappingTable {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.table
}

// GetScene returns the last scene, or nil
func (st *StateTracker) GetScene() *Scene {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.scene
}

// SaveJobResult writes a JobResult to disk as JSON.
func SaveJobResult(r *JobResult, path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job result: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write job cache: %w", err)
	}
	return nil
}

// LoadJobResult reads a JobResult from a JSON file on disk.
func LoadJobResult(path string) (*JobResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job cache: %w", err)
	}
	var r JobResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal job cache: %w", err)
	}
	return &r, nil
}
