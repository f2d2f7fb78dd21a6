package mesh

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents a mapping job file
type Config struct {
	Source    string          `yaml:"source" json:"source"`
	Target    string          `yaml:"target" json:"target"`
	Mapping   MappingConfig   `yaml:"mapping" json:"mapping"`
	Deform    DeformConfig    `yaml:"deform" json:"deform"`
	Landmarks LandmarksConfig `yaml:"landmarks" json:"landmarks"`
	Seams     SeamsConfig     `yaml:"seams" json:"seams"`
	Preview   PreviewConfig   `yaml:"preview" json:"preview"`
	MQTT      MQTTConfig      `yaml:"mqtt" json:"mqtt"`
	HTTP      HTTPConfig      `yaml:"http" json:"http"`
}

// MappingConfig controls projection and mapping file I/O
type MappingConfig struct {
	NormalThreshold *float64 `yaml:"normalThreshold,omitempty" json:"normalThreshold,omitempty"` // default 0.95
	Import          string  `yaml:"import,omitempty" json:"import,omitempty"`                   // read this table instead of projecting
	Export          string  `yaml:"export,omitempty" json:"export,omitempty"`
	Prealign        bool    `yaml:"prealign,omitempty" json:"prealign,omitempty"` // rigidly fit source to target by linked landmarks first
}

// DeformConfig controls the deformation step
type DeformConfig struct {
	Enabled         bool   `yaml:"enabled" json:"enabled"`
	UseLeastSquares *bool  `yaml:"useLeastSquares,omitempty" json:"useLeastSquares,omitempty"` // default true
	Iterations      int    `yaml:"iterations,omitempty" json:"iterations,omitempty"`           // default 1
	OnDuplicate     bool   `yaml:"onDuplicate,omitempty" json:"onDuplicate,omitempty"`
	ShapeName       string `yaml:"shapeName,omitempty" json:"shapeName,omitempty"`
	Output          string `yaml:"output,omitempty" json:"output,omitempty"`
}

// Threshold returns the configured normal threshold or DefaultNormalThreshold
func (m MappingConfig) Threshold() float64 {
	if m.NormalThreshold == nil {
		return DefaultNormalThreshold
	}
	return *m.NormalThreshold
}

// LeastSquares reports whether the least-squares fallback is enabled
func (d DeformConfig) LeastSquares() bool {
	return d.UseLeastSquares == nil || *d.UseLeastSquares
}

// LandmarkSpec is one landmark placed by face and barycentric weights
type LandmarkSpec struct {
	ID      int       `yaml:"id" json:"id"`
	Face    int       `yaml:"face" json:"face"`
	Weights []float64 `yaml:"weights" json:"weights"`
	Name    string    `yaml:"name,omitempty" json:"name,omitempty"`
}

// LandmarksConfig lists the landmarks of both meshes and their links
type LandmarksConfig struct {
	Source       []LandmarkSpec `yaml:"source,omitempty" json:"source,omitempty"`
	Target       []LandmarkSpec `yaml:"target,omitempty" json:"target,omitempty"`
	Links        [][2]int       `yaml:"links,omitempty" json:"links,omitempty"` // [sourceId, targetId]
	AutoLinkByID bool           `yaml:"autoLinkByID,omitempty" json:"autoLinkByID,omitempty"`
	Reorder      bool           `yaml:"reorder,omitempty" json:"reorder,omitempty"`
}

// SeamsConfig enables seam computation
type SeamsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// PreviewConfig names the preview outputs
type PreviewConfig struct {
	SVG  string `yaml:"svg,omitempty" json:"svg,omitempty"`
	PNG  string `yaml:"png,omitempty" json:"png,omitempty"`
	Axis string `yaml:"axis,omitempty" json:"axis,omitempty"` // default z
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker,omitempty" json:"broker,omitempty"`
	PublishPrefix string `yaml:"publishPrefix,omitempty" json:"publishPrefix,omitempty"`
	ClientID      string `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// HTTPConfig holds the status server settings
type HTTPConfig struct {
	Port int `yaml:"port,omitempty" json:"port,omitempty"` // default 8080
}

// Default values applied by LoadConfig
const (
	DefaultIterations = 1
	DefaultHTTPPort   = 8080
	DefaultViewAxis   = "z"
)

// ApplyDefaults fills unset fields
func (c *Config) ApplyDefaults() {
	if c.Deform.Iterations == 0 {
		c.Deform.Iterations = DefaultIterations
	}
	if c.Preview.Axis == "" {
		c.Preview.Axis = DefaultViewAxis
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultHTTPPort
	}
}

// Validate checks required fields and cross references
func (c *Config) Validate() error {
	if c.Source == "" {
		return fmt.Errorf("source is required")
	}
	if c.Target == "" {
		return fmt.Errorf("target is required")
	}
	if t := c.Mapping.Threshold(); t < -1 || t > 1 {
		return fmt.Errorf("mapping.normalThreshold must be within [-1, 1], got %v", t)
	}
	if c.Deform.Iterations < 0 {
		return fmt.Errorf("deform.iterations must not be negative")
	}
	if c.Preview.Axis != "" {
		if _, ok := ParseAxis(c.Preview.Axis); !ok {
			return fmt.Errorf("preview.axis must be x, y or z, got %q", c.Preview.Axis)
		}
	}

	sourceIDs, err := validateSpecs("landmarks.source", c.Landmarks.Source)
	if err != nil {
		return err
	}
	targetIDs, err := validateSpecs("landmarks.target", c.Landmarks.Target)
	if err != nil {
		return err
	}
	for i, l := range c.Landmarks.Links {
		if !sourceIDs[l[0]] {
			return fmt.Errorf("landmarks.links[%d] references unknown source landmark %d", i, l[0])
		}
		if !targetIDs[l[1]] {
			return fmt.Errorf("landmarks.links[%d] references unknown target landmark %d", i, l[1])
		}
	}
	return nil
}

func validateSpecs(field string, specs []LandmarkSpec) (map[int]bool, error) {
	ids := make(map[int]bool, len(specs))
	for i, s := range specs {
		if len(s.Weights) != 3 {
			return nil, fmt.Errorf("%s[%d].weights needs 3 values, got %d", field, i, len(s.Weights))
		}
		if s.ID < 0 {
			return nil, fmt.Errorf("%s[%d].id must not be negative", field, i)
		}
		if ids[s.ID] {
			return nil, fmt.Errorf("%s[%d].id %d is duplicated", field, i, s.ID)
		}
		ids[s.ID] = true
	}
	return ids, nil
}

// LoadConfig loads a job file, applies defaults and validates it
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// PopulateLinker adds the configured landmarks to both stores of k, then
// applies the configured links, id auto-linking and reordering.
func (c *LandmarksConfig) PopulateLinker(k *Linker) error {
	if err := addSpecs(k.Source, c.Source); err != nil {
		return err
	}
	if k.Target != nil {
		if err := addSpecs(k.Target, c.Target); err != nil {
			return err
		}
	}
	for _, l := range c.Links {
		if k.Target == nil {
			break
		}
		a, _ := k.Source.Find(l[0])
		b, _ := k.Target.Find(l[1])
		if err := k.Link(a, b); err != nil {
			return err
		}
	}
	if c.AutoLinkByID && k.Target != nil {
		k.AutoLinkByID()
	}
	if c.Reorder {
		if k.Target != nil {
			k.Reorder()
		} else {
			ReorderStore(k.Source)
		}
	}
	return nil
}

func addSpecs(store *LandmarkStore, specs []LandmarkSpec) error {
	for _, s := range specs {
		if len(s.Weights) != 3 {
			return fmt.Errorf("landmark %d needs 3 weights, got %d", s.ID, len(s.Weights))
		}
		anchor, err := FaceAnchor(store.Mesh(), s.Face, [3]float64{s.Weights[0], s.Weights[1], s.Weights[2]})
		if err != nil {
			return err
		}
		if _, err := store.AddWithID(anchor, s.Name, s.ID); err != nil {
			return err
		}
	}
	return nil
}
