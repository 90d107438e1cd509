// Package config models swarmline.yml, the workspace configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"swarmline/internal/conflict"
	"swarmline/internal/syncer"
)

// Config models swarmline.yml.
type Config struct {
	Project struct {
		ID string `yaml:"id"`
	} `yaml:"project"`
	Sync struct {
		Roots []SyncRoot `yaml:"roots"`
	} `yaml:"sync"`
	Changelog struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"changelog"`
	Server struct {
		Addr      string `yaml:"addr"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Inference struct {
		Keywords map[string][]string `yaml:"keywords"`
	} `yaml:"inference"`
}

// SyncRoot configures one synchronization root.
type SyncRoot struct {
	Name        string   `yaml:"name"`
	Path        string   `yaml:"path"`
	Direction   string   `yaml:"direction"`
	Strategy    string   `yaml:"strategy"`
	AllowDelete bool     `yaml:"allow_delete"`
	Debounce    Duration `yaml:"debounce"`
	OutFile     string   `yaml:"out_file"`
}

// Duration parses Go duration strings ("250ms") from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like 250ms")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Root converts one entry into the engine's root form, applying validated
// defaults for direction and strategy.
func (r SyncRoot) Root() (syncer.Root, error) {
	direction, err := syncer.ParseDirection(r.Direction)
	if err != nil {
		return syncer.Root{}, fmt.Errorf("root %s: %w", r.Name, err)
	}
	strategy, err := conflict.ParseStrategy(r.Strategy)
	if err != nil {
		return syncer.Root{}, fmt.Errorf("root %s: %w", r.Name, err)
	}
	return syncer.Root{
		Name:        r.Name,
		Path:        r.Path,
		Direction:   direction,
		Strategy:    strategy,
		AllowDelete: r.AllowDelete,
		Debounce:    time.Duration(r.Debounce),
		OutFile:     r.OutFile,
	}, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	seen := map[string]bool{}
	for i, root := range c.Sync.Roots {
		if root.Path == "" {
			return fmt.Errorf("config.sync.roots[%d].path is required", i)
		}
		name := root.Name
		if name == "" {
			name = filepath.Base(root.Path)
		}
		if seen[name] {
			return fmt.Errorf("config.sync.roots: duplicate root name %s", name)
		}
		seen[name] = true
		if _, err := root.Root(); err != nil {
			return err
		}
		if root.Debounce < 0 {
			return fmt.Errorf("root %s: negative debounce", name)
		}
	}
	if c.Changelog.Enabled && c.Changelog.Path == "" {
		return fmt.Errorf("config.changelog.path is required when the changelog is enabled")
	}
	if c.Server.Addr != "" && c.Server.JWTSecret == "" {
		return fmt.Errorf("config.server.jwt_secret is required when the server is enabled")
	}
	for phase, words := range c.Inference.Keywords {
		if phase == "" {
			return fmt.Errorf("config.inference.keywords has an empty phase name")
		}
		for _, w := range words {
			if w == "" {
				return fmt.Errorf("inference phase %s has an empty keyword", phase)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "swarmline.yml")
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with swl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the workspace default when the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default("default"), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(fmt.Sprintf(defaultTemplate, projectID)), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

const defaultTemplate = `project:
  id: %s

sync:
  roots:
    - name: tasks
      path: .swarmline/tasks
      direction: bidirectional
      strategy: merge
      allow_delete: false
      debounce: 250ms

changelog:
  enabled: true
  path: .swarmline/changes.db

server:
  addr: ""
  jwt_secret: ""

inference:
  keywords: {}
`
