// Package config is the engine's typed key/value configuration: defaults
// set in code, overridden by the process environment (optionally seeded
// from a .env file), reloadable at runtime.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"bothive/engine/internal/locking"
)

// EnvPrefix namespaces the engine's environment variables. The key
// "population.ratio" maps to BOTHIVE_POPULATION_RATIO.
const EnvPrefix = "BOTHIVE_"

// Store holds configuration values. Reads are safe from any goroutine;
// Reload and Set take the config lock layer.
type Store struct {
	mu       *locking.Mutex
	defaults map[string]string
	values   map[string]string
	envFile  string
}

// NewStore builds a store from a defaults map. envFile may be empty; a
// missing file is not an error so deployments without one boot clean.
func NewStore(defaults map[string]string, envFile string) (*Store, error) {
	s := &Store{
		mu:       locking.NewMutex(locking.LayerConfig),
		defaults: make(map[string]string, len(defaults)),
		values:   make(map[string]string),
		envFile:  envFile,
	}
	for k, v := range defaults {
		s.defaults[k] = v
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the .env file and the process environment. Values set
// through Set are discarded; environment wins over defaults.
func (s *Store) Reload() error {
	fileVals := map[string]string{}
	if s.envFile != "" {
		loaded, err := godotenv.Read(s.envFile)
		if err == nil {
			fileVals = loaded
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("config: read %s: %w", s.envFile, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]string, len(s.defaults))
	for key := range s.defaults {
		env := EnvKey(key)
		if v, ok := os.LookupEnv(env); ok {
			s.values[key] = v
			continue
		}
		if v, ok := fileVals[env]; ok {
			s.values[key] = v
		}
	}
	return nil
}

// EnvKey maps a dotted config key to its environment variable name.
func EnvKey(key string) string {
	return EnvPrefix + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

// Set overrides one key until the next Reload.
func (s *Store) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

func (s *Store) lookup(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.values[key]; ok {
		return v, true
	}
	v, ok := s.defaults[key]
	return v, ok
}

// GetString returns the value for key, or fallback when unset.
func (s *Store) GetString(key, fallback string) string {
	if v, ok := s.lookup(key); ok {
		return v
	}
	return fallback
}

// GetBool parses the value as a boolean; malformed values fall back.
func (s *Store) GetBool(key string, fallback bool) bool {
	if v, ok := s.lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// GetInt parses the value as an integer; malformed values fall back.
func (s *Store) GetInt(key string, fallback int) int {
	if v, ok := s.lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// GetFloat parses the value as a float; malformed values fall back.
func (s *Store) GetFloat(key string, fallback float64) float64 {
	if v, ok := s.lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Keys lists every known key (defaults plus overrides), unordered.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{}, len(s.defaults)+len(s.values))
	for k := range s.defaults {
		seen[k] = struct{}{}
	}
	for k := range s.values {
		seen[k] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	return out
}
