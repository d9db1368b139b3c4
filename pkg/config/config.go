// Package config is a YAML-backed configuration store shareable between
// processes. An in-process mutex serializes goroutines; a file lock beside
// the config file serializes processes, so concurrent load/save cycles never
// interleave half-written documents.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/procbox/pkg/task"
)

// ErrKeyNotFound is returned when a dotted path does not resolve.
var ErrKeyNotFound = errors.New("config key not found")

// Store manages one YAML configuration file.
type Store struct {
	path string
	mu   sync.Mutex
	fl   *flock.Flock

	cache map[string]interface{}
}

// NewStore creates a store for the given path. The file is not read until
// Load; a missing file loads as an empty document.
func NewStore(path string) *Store {
	return &Store{
		path:  path,
		fl:    flock.New(path + ".lock"),
		cache: make(map[string]interface{}),
	}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the file into the in-memory cache, replacing prior contents.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fl.Lock(); err != nil {
		return fmt.Errorf("lock config file: %w", err)
	}
	defer s.fl.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.cache = make(map[string]interface{})
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	doc := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if doc == nil {
		doc = make(map[string]interface{})
	}
	s.cache = doc
	return nil
}

// Save writes the cache back to the file, creating parent directories and
// the file itself as needed.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fl.Lock(); err != nil {
		return fmt.Errorf("lock config file: %w", err)
	}
	defer s.fl.Unlock()

	data, err := yaml.Marshal(s.cache)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Get resolves a dotted path ("store.path") against the cached document.
func (s *Store) Get(key string) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node := interface{}(s.cache)
	for _, part := range strings.Split(key, ".") {
		m, ok := toMap(node)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
		node, ok = m[part]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
	}
	return node, nil
}

// GetString resolves a dotted path to a string, with a fallback default.
func (s *Store) GetString(key, def string) string {
	v, err := s.Get(key)
	if err != nil {
		return def
	}
	str, ok := v.(string)
	if !ok {
		return def
	}
	return str
}

// Set writes a value at a dotted path, creating intermediate maps.
// Setting through a non-map intermediate replaces it.
func (s *Store) Set(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parts := strings.Split(key, ".")
	node := s.cache
	for _, part := range parts[:len(parts)-1] {
		child, ok := toMap(node[part])
		if !ok {
			child = make(map[string]interface{})
			node[part] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = value
}

// Delete removes a dotted path. Missing paths are a no-op.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parts := strings.Split(key, ".")
	node := s.cache
	for _, part := range parts[:len(parts)-1] {
		child, ok := toMap(node[part])
		if !ok {
			return
		}
		node = child
	}
	delete(node, parts[len(parts)-1])
}

// toMap normalizes the two map shapes the YAML decoder can produce.
func toMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		norm := make(map[string]interface{}, len(m))
		for k, val := range m {
			norm[fmt.Sprint(k)] = val
		}
		return norm, true
	default:
		return nil, false
	}
}

// TaskDef is one declarative task entry under the "tasks" key.
type TaskDef struct {
	ID        string   `yaml:"id"`
	Command   string   `yaml:"command"`
	Args      []string `yaml:"args,omitempty"`
	Env       []string `yaml:"env,omitempty"`
	Dir       string   `yaml:"dir,omitempty"`
	Autostart bool     `yaml:"autostart,omitempty"`
}

// Target converts the definition into a spawnable target.
func (d TaskDef) Target() task.Target {
	return task.Target{Command: d.Command, Args: d.Args, Env: d.Env, Dir: d.Dir}
}

// Tasks decodes the declarative task list from the cached document.
func (s *Store) Tasks() ([]TaskDef, error) {
	v, err := s.Get("tasks")
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}

	// Round-trip through YAML to decode the loosely-typed node into defs.
	raw, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode tasks: %w", err)
	}
	var defs []TaskDef
	if err := yaml.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	for _, d := range defs {
		if d.ID == "" || d.Command == "" {
			return nil, fmt.Errorf("task definition needs id and command: %+v", d)
		}
	}
	return defs, nil
}
