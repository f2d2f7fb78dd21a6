package main

import (
	"encoding/json"
	"image/png"
	"log"
	"net/http"
	"time"

	"github.com/kwv/meshlink/mesh"
)

// landmarkView is the JSON shape of one landmark on /landmarks
type landmarkView struct {
	ID       int        `json:"id"`
	Name     string     `json:"name"`
	LinkedID int        `json:"linkedId"`
	IsLinked bool       `json:"isLinked"`
	Face     int        `json:"face"`
	Weights  [3]float64 `json:"weights"`
	Position [3]float64 `json:"position"`
}

func landmarkViews(store *mesh.LandmarkStore) []landmarkView {
	views := make([]landmarkView, 0, store.Len())
	store.Each(func(l *mesh.Landmark) bool {
		v := landmarkView{
			ID:       l.ID,
			Name:     l.Name,
			LinkedID: l.LinkedID,
			IsLinked: l.IsLinked,
			Face:     l.FaceIndex,
			Weights:  l.Weights,
		}
		if p, err := l.Evaluate(store.Mesh()); err == nil {
			v.Position = [3]float64{p.X, p.Y, p.Z}
		}
		views = append(views, v)
		return true
	})
	return views
}

func writeJSON(w http.ResponseWriter, endpoint string, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] Error encoding %s: %v", endpoint, err)
	}
}

// viewAxis reads ?axis=, defaulting to z
func viewAxis(r *http.Request) (mesh.Axis, bool) {
	s := r.URL.Query().Get("axis")
	if s == "" {
		return mesh.AxisZ, true
	}
	return mesh.ParseAxis(s)
}

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(stateTracker *mesh.StateTracker, publisher *mesh.Publisher) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			HasJob    bool      `json:"hasJob"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			HasJob:    stateTracker.HasJob(),
		}
		writeJSON(w, "health status", status)
	})

	mux.HandleFunc("/job", func(w http.ResponseWriter, r *http.Request) {
		result := stateTracker.GetJob()
		if result == nil {
			http.Error(w, "No job has run", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, "job", result)
	})

	mux.HandleFunc("/progress", func(w http.ResponseWriter, r *http.Request) {
		if publisher == nil {
			writeJSON(w, "progress", map[string]*mesh.ProgressReport{})
			return
		}
		writeJSON(w, "progress", publisher.GetAllProgress())
	})

	mux.HandleFunc("/mapping.map", func(w http.ResponseWriter, r *http.Request) {
		table := stateTracker.GetTable()
		if table == nil {
			http.Error(w, "No mapping available", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		if err := mesh.ExportTable(w, table); err != nil {
			log.Printf("[HTTP] Error writing mapping: %v", err)
		}
	})

	mux.HandleFunc("/landmarks", func(w http.ResponseWriter, r *http.Request) {
		scene := stateTracker.GetScene()
		if scene == nil || scene.Linker == nil {
			http.Error(w, "No landmarks available", http.StatusServiceUnavailable)
			return
		}
		body := struct {
			Status mesh.LinkStatus `json:"status"`
			Source []landmarkView  `json:"source"`
			Target []landmarkView  `json:"target"`
		}{
			Status: scene.Linker.Status(),
			Source: landmarkViews(scene.Linker.Source),
			Target: landmarkViews(scene.Linker.Target),
		}
		writeJSON(w, "landmarks", body)
	})

	preview := func(w http.ResponseWriter, r *http.Request, asPNG bool) {
		scene := stateTracker.GetScene()
		if scene == nil {
			http.Error(w, "No scene available", http.StatusServiceUnavailable)
			return
		}
		axis, ok := viewAxis(r)
		if !ok {
			http.Error(w, "axis must be x, y or z", http.StatusBadRequest)
			return
		}
		renderer := mesh.NewVectorRenderer(scene)
		renderer.Axis = axis
		w.Header().Set("Cache-Control", "no-cache")
		var err error
		if asPNG {
			w.Header().Set("Content-Type", "image/png")
			err = renderer.RenderToPNG(w)
		} else {
			w.Header().Set("Content-Type", "image/svg+xml")
			err = renderer.RenderToSVG(w)
		}
		if err != nil {
			log.Printf("[HTTP] Error rendering preview: %v", err)
		}
	}
	mux.HandleFunc("/preview.svg", func(w http.ResponseWriter, r *http.Request) { preview(w, r, false) })
	mux.HandleFunc("/preview.png", func(w http.ResponseWriter, r *http.Request) { preview(w, r, true) })

	mux.HandleFunc("/validity.png", func(w http.ResponseWriter, r *http.Request) {
		scene := stateTracker.GetScene()
		if scene == nil || len(scene.Validity) == 0 {
			http.Error(w, "No mapping available", http.StatusServiceUnavailable)
			return
		}
		axis, ok := viewAxis(r)
		if !ok {
			http.Error(w, "axis must be x, y or z", http.StatusBadRequest)
			return
		}
		var landmarks *mesh.LandmarkStore
		if scene.Linker != nil {
			landmarks = scene.Linker.Source
		}
		renderer := mesh.NewValidityRenderer(scene.Source, scene.Validity, landmarks)
		renderer.Axis = axis
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := png.Encode(w, renderer.Render()); err != nil {
			log.Printf("[HTTP] Error encoding validity PNG: %v", err)
		}
	})

	return mux
}
