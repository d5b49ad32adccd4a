package credentials

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Source is a read-only key-value lookup. Implementations return ok=false
// for missing or blank values.
type Source interface {
	Name() string
	Lookup(key string) (string, bool)
}

// EnvSource reads the process environment.
type EnvSource struct {
	lookup func(string) (string, bool)
}

var _ Source = EnvSource{}

// Env returns a Source backed by os.LookupEnv.
func Env() EnvSource {
	return EnvSource{lookup: os.LookupEnv}
}

func (EnvSource) Name() string { return "environment" }

func (e EnvSource) Lookup(key string) (string, bool) {
	lookup := e.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, ok := lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// MapSource is an in-memory Source. A hosting UI can fill it from a secrets
// panel; tests use it directly.
type MapSource struct {
	name   string
	mu     sync.RWMutex
	values map[string]string
}

var _ Source = (*MapSource)(nil)

// NewMapSource returns a MapSource seeded with a copy of values.
func NewMapSource(name string, values map[string]string) *MapSource {
	m := &MapSource{name: name, values: make(map[string]string, len(values))}
	for k, v := range values {
		m.values[k] = v
	}
	return m
}

func (m *MapSource) Name() string { return m.name }

func (m *MapSource) Lookup(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v := strings.TrimSpace(m.values[key])
	return v, v != ""
}

// Set stores a value, replacing any previous one.
func (m *MapSource) Set(key, value string) {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
}

// Delete removes a key.
func (m *MapSource) Delete(key string) {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
}

// Keys returns the stored keys in sorted order.
func (m *MapSource) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LoadFile reads a YAML secrets file into a MapSource. Nested mappings are
// flattened with dots, so
//
//	totp:
//	  secret: JBSWY3DP
//
// is visible as "totp.secret". A missing file yields an empty source.
func LoadFile(path string) (*MapSource, error) {
	src := NewMapSource("secrets file "+path, nil)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return src, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing secrets file %s: %w", path, err)
	}
	flatten("", doc, src.values)
	return src, nil
}

func flatten(prefix string, in map[string]any, out map[string]string) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case nil:
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}
