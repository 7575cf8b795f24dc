package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// File is a pipeline definition file. Top-level key is "pipelines"; each value
// is a pipeline keyed by name.
type File struct {
	Pipelines map[string]PipelineConfig `yaml:"pipelines"`
}

// PipelineConfig defines one pipeline and the adapter it runs against.
type PipelineConfig struct {
	Name    string            `yaml:"name"`
	BaseURL string            `yaml:"base_url"`
	Header  map[string]string `yaml:"header"`
	Timeout Duration          `yaml:"timeout"`
	Stages  []StageConfig     `yaml:"stages"`
}

// StageConfig is a single stage entry: either a plain URL (a GET leaf) or a
// struct. In YAML, a stage can be written as:
//   - /u/1
//   - name: posts
//     config: {url: "/u/{{.id}}/posts"}
//   - name: profile
//     request: profile
type StageConfig struct {
	Name string `yaml:"name"`

	// Config is the leaf request config: a URL string or a map with method,
	// url, header, query and body.
	Config interface{} `yaml:"config"`

	// Request names another pipeline in the same file to nest as this stage.
	Request string `yaml:"request"`

	// Pick extracts one key from a map result, applied before Mapper.
	Pick   string `yaml:"pick"`
	Mapper string `yaml:"mapper"`
	When   string `yaml:"when"`
}

// UnmarshalYAML allows a stage to be a string (URL only) or a struct.
func (s *StageConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var url string
		if err := value.Decode(&url); err != nil {
			return err
		}
		if url != "" {
			s.Config = url
		}
		return nil
	}
	type raw StageConfig
	return value.Decode((*raw)(s))
}

// Duration is a time.Duration that unmarshals from YAML strings (e.g. "60s", "5m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the standard time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Parse parses YAML bytes into a File. Pipelines without a name take their key.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	for key, p := range f.Pipelines {
		if p.Name == "" {
			p.Name = key
			f.Pipelines[key] = p
		}
	}
	return &f, nil
}

// Load reads and parses the definition file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return f, nil
}

// Names returns the pipeline names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Pipelines))
	for n := range f.Pipelines {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
