package site

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a named site is absent from the catalog.
var ErrNotFound = errors.New("site not found")

// LoadFile reads, validates, and decodes one YAML or JSON site config.
func LoadFile(path string) (Config, error) {
	raw, err := ReadRaw(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Decode(raw)
	if err != nil {
		return Config{}, fmt.Errorf("load %s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

// ReadRaw parses a site config file without validating it.
func ReadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read site config: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse site config %s: %w", path, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// Catalog is a concurrency-safe set of site configs keyed by name.
type Catalog struct {
	mu    sync.RWMutex
	sites map[string]Config
}

// NewCatalog builds a catalog from already-decoded configs.
func NewCatalog(configs ...Config) (*Catalog, error) {
	c := &Catalog{sites: make(map[string]Config, len(configs))}
	for _, cfg := range configs {
		if err := c.Add(cfg); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// LoadDir loads every *.yaml, *.yml, and *.json file in dir.
func LoadDir(dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read sites dir: %w", err)
	}
	catalog := &Catalog{sites: make(map[string]Config)}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		cfg, err := LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if err := catalog.Add(cfg); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}

// Add registers a config; names must be unique.
func (c *Catalog) Add(cfg Config) error {
	if cfg.Name == "" {
		return fmt.Errorf("site name is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.sites[cfg.Name]; exists {
		return fmt.Errorf("duplicate site %q", cfg.Name)
	}
	c.sites[cfg.Name] = cfg
	return nil
}

// Get returns the config registered under name.
func (c *Catalog) Get(name string) (Config, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg, ok := c.sites[name]
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return cfg, nil
}

// List returns all configs sorted by name.
func (c *Catalog) List() []Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Config, 0, len(c.sites))
	for _, cfg := range c.sites {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// MatchHost returns the first config, by name, whose seed URL host equals host.
func (c *Catalog) MatchHost(host string) (Config, bool) {
	for _, cfg := range c.List() {
		if cfg.SeedHost() == host {
			return cfg, true
		}
	}
	return Config{}, false
}
