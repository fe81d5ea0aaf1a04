package config

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ChangeCallback is invoked after a stored value changes. On a full
// snapshot replacement it fires once per changed key.
type ChangeCallback func(key string, value any)

// KeyValidator checks a candidate value for one key before it is
// stored.
type KeyValidator func(value any) error

// Store is the runtime configuration store: a flat dotted-key view of
// the configuration with typed accessors, per-key validation, change
// notification, and reset to the loaded defaults. Safe for concurrent
// use.
type Store struct {
	mu         sync.RWMutex
	defaults   map[string]any
	values     map[string]any
	validators map[string]KeyValidator
	watchers   []ChangeCallback
}

// NewStore creates a store seeded from the given configuration. The
// seed also becomes the reset point.
func NewStore(cfg *Config) (*Store, error) {
	flat, err := Flatten(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{
		defaults:   flat,
		values:     make(map[string]any, len(flat)),
		validators: make(map[string]KeyValidator),
	}
	for k, v := range flat {
		s.values[k] = v
	}
	return s, nil
}

// Flatten converts a configuration into a flat dotted-key map, going
// through YAML so key names match the file format.
func Flatten(cfg *Config) (map[string]any, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	flat := make(map[string]any)
	flattenInto(flat, "", tree)
	return flat, nil
}

func flattenInto(out map[string]any, prefix string, node any) {
	m, ok := node.(map[string]any)
	if !ok {
		out[prefix] = node
		return
	}
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		flattenInto(out, key, v)
	}
}

// Get returns the value stored under a dotted key.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// GetString returns a string value, or the empty string when absent
// or not a string.
func (s *Store) GetString(key string) string {
	v, ok := s.Get(key)
	if !ok {
		return ""
	}
	str, _ := v.(string)
	return str
}

// GetInt returns an integer value, or zero when absent or not numeric.
func (s *Store) GetInt(key string) int {
	v, ok := s.Get(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// GetBool returns a boolean value, or false when absent or not a
// boolean.
func (s *Store) GetBool(key string) bool {
	v, ok := s.Get(key)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// GetDuration parses a duration value ("30s" style strings).
func (s *Store) GetDuration(key string) time.Duration {
	v, ok := s.Get(key)
	if !ok {
		return 0
	}
	switch d := v.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0
		}
		return parsed
	case time.Duration:
		return d
	default:
		return 0
	}
}

// Set stores a value under a key after running the key's validator,
// then notifies watchers.
func (s *Store) Set(key string, value any) error {
	s.mu.Lock()
	if v, ok := s.validators[key]; ok {
		if err := v(value); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
	}
	s.values[key] = value
	watchers := append([]ChangeCallback(nil), s.watchers...)
	s.mu.Unlock()

	for _, cb := range watchers {
		cb(key, value)
	}
	return nil
}

// All returns a copy of every stored key and value.
func (s *Store) All() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// RegisterValidator attaches a validator to a key. Subsequent Set
// calls for the key must pass it.
func (s *Store) RegisterValidator(key string, v KeyValidator) {
	s.mu.Lock()
	s.validators[key] = v
	s.mu.Unlock()
}

// Validate runs every registered validator against the current
// values. Keys without a stored value are skipped.
func (s *Store) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.validators))
	for k := range s.validators {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v, ok := s.values[k]
		if !ok {
			continue
		}
		if err := s.validators[k](v); err != nil {
			return fmt.Errorf("invalid value for %s: %w", k, err)
		}
	}
	return nil
}

// Reset restores every key to its seeded default and notifies
// watchers of the keys that changed.
func (s *Store) Reset() {
	s.mu.Lock()
	changed := s.replaceLocked(s.defaults)
	snapshot := s.snapshotLocked(changed)
	watchers := append([]ChangeCallback(nil), s.watchers...)
	s.mu.Unlock()

	notify(watchers, changed, snapshot)
}

// Replace swaps the store contents for a freshly loaded configuration
// and notifies watchers of the keys that changed. The reset point is
// unchanged.
func (s *Store) Replace(cfg *Config) error {
	flat, err := Flatten(cfg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	changed := s.replaceLocked(flat)
	snapshot := s.snapshotLocked(changed)
	watchers := append([]ChangeCallback(nil), s.watchers...)
	s.mu.Unlock()

	notify(watchers, changed, snapshot)
	return nil
}

// replaceLocked installs next as the current values and returns the
// keys whose values changed, sorted.
func (s *Store) replaceLocked(next map[string]any) []string {
	var changed []string
	for k, v := range next {
		if old, ok := s.values[k]; !ok || fmt.Sprint(old) != fmt.Sprint(v) {
			changed = append(changed, k)
		}
	}
	for k := range s.values {
		if _, ok := next[k]; !ok {
			changed = append(changed, k)
		}
	}

	s.values = make(map[string]any, len(next))
	for k, v := range next {
		s.values[k] = v
	}

	sort.Strings(changed)
	return changed
}

func (s *Store) snapshotLocked(keys []string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		out[k] = s.values[k]
	}
	return out
}

func notify(watchers []ChangeCallback, keys []string, values map[string]any) {
	for _, k := range keys {
		for _, cb := range watchers {
			cb(k, values[k])
		}
	}
}

// Watch registers a change callback. Callbacks run synchronously on
// the mutating goroutine, after the lock is released.
func (s *Store) Watch(cb ChangeCallback) {
	s.mu.Lock()
	s.watchers = append(s.watchers, cb)
	s.mu.Unlock()
}
