package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	pkgerrors "github.com/DavidLandup0/mitsuki/pkg/errors"
)

// DefaultEnvPrefix is the prefix consulted for environment-variable
// fallbacks and profile selection.
const DefaultEnvPrefix = "MITSUKI"

type entry struct {
	value  interface{}
	source Source
}

// Store is the merged, frozen configuration table. It is written once by
// Loader.Load and read-only afterwards, so concurrent readers need no
// locking.
type Store struct {
	values  map[string]entry
	profile string
}

// Loader assembles configuration sources in ascending precedence and
// produces a Store.
type Loader struct {
	dir                string
	envPrefix          string
	profile            string
	profileSet         bool
	requireProfileFile bool
	programmatic       map[string]interface{}
	logger             *zap.Logger
}

// NewLoader creates a loader reading application files from dir.
func NewLoader(dir string) *Loader {
	return &Loader{
		dir:          dir,
		envPrefix:    DefaultEnvPrefix,
		programmatic: make(map[string]interface{}),
		logger:       zap.NewNop(),
	}
}

// EnvPrefix overrides the environment-variable prefix.
func (l *Loader) EnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.ToUpper(prefix)
	return l
}

// Profile overrides the active profile. When not called, the profile is
// read from <PREFIX>_PROFILE.
func (l *Loader) Profile(profile string) *Loader {
	l.profile = profile
	l.profileSet = true
	return l
}

// RequireProfileFile makes a missing application-<profile>.yml fatal.
func (l *Loader) RequireProfileFile(require bool) *Loader {
	l.requireProfileFile = require
	return l
}

// Set records a programmatic value, the highest-precedence layer.
func (l *Loader) Set(key string, value interface{}) *Loader {
	l.programmatic[key] = value
	return l
}

// Logger attaches a logger used during loading.
func (l *Loader) Logger(logger *zap.Logger) *Loader {
	l.logger = logger
	return l
}

// Load merges all sources and freezes the store. Sources are applied in
// ascending precedence so higher-precedence writes overwrite lower:
// defaults, environment, application file, profile file, programmatic.
func (l *Loader) Load() (*Store, error) {
	profile := l.profile
	if !l.profileSet {
		profile = os.Getenv(l.envPrefix + "_PROFILE")
	}

	values := make(map[string]entry)

	// Framework defaults.
	flatDefaults := make(map[string]interface{})
	flatten("", frameworkDefaults, flatDefaults)
	for k, v := range flatDefaults {
		values[k] = entry{value: v, source: Source{Kind: SourceDefaults}}
	}

	// Environment fallback layer. File-based sources loaded afterwards
	// overwrite these, which gives the environment its below-files
	// precedence.
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		path, ok := envKeyToPath(name, l.envPrefix)
		if !ok {
			continue
		}
		values[path] = entry{value: value, source: Source{Kind: SourceEnvironment, Specifier: name}}
	}

	// Base application file.
	basePath := filepath.Join(l.dir, "application.yml")
	if fileExists(basePath) {
		flat, err := loadYAMLFile(basePath)
		if err != nil {
			return nil, err
		}
		for k, v := range flat {
			values[k] = entry{value: v, source: Source{Kind: SourceApplicationFile, Specifier: basePath}}
		}
	}

	// Profile overlay.
	if profile != "" {
		profilePath := filepath.Join(l.dir, fmt.Sprintf("application-%s.yml", profile))
		if fileExists(profilePath) {
			flat, err := loadYAMLFile(profilePath)
			if err != nil {
				return nil, err
			}
			for k, v := range flat {
				values[k] = entry{value: v, source: Source{Kind: SourceProfileFile, Specifier: profilePath}}
			}
		} else if l.requireProfileFile {
			return nil, pkgerrors.Newf(pkgerrors.KindConfiguration,
				"required profile configuration file %s does not exist", profilePath)
		}
	}

	// Programmatic overrides.
	for k, v := range l.programmatic {
		values[k] = entry{value: v, source: Source{Kind: SourceProgrammatic}}
	}

	l.logger.Info("configuration loaded",
		zap.String("profile", profile),
		zap.Int("keys", len(values)),
	)

	return &Store{values: values, profile: profile}, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Profile returns the active profile name; empty means base only.
func (s *Store) Profile() string {
	return s.profile
}

// Has reports whether key is present in the merged table.
func (s *Store) Has(key string) bool {
	_, ok := s.values[key]
	if ok {
		return true
	}
	// A key may name a nested mapping rather than a leaf.
	prefix := key + "."
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

// Keys returns all leaf keys in sorted order.
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Raw returns the stored representation of key without coercion.
func (s *Store) Raw(key string) (interface{}, bool) {
	e, ok := s.values[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Provenance returns the source that supplied each final key.
func (s *Store) Provenance() map[string]Source {
	out := make(map[string]Source, len(s.values))
	for k, e := range s.values {
		out[k] = e.source
	}
	return out
}

// ProvenanceOf returns the source that supplied key.
func (s *Store) ProvenanceOf(key string) (Source, bool) {
	e, ok := s.values[key]
	if !ok {
		return Source{}, false
	}
	return e.source, true
}

// String returns key coerced to a string.
func (s *Store) String(key string) (string, error) {
	e, ok := s.values[key]
	if !ok {
		return "", missingKey(key)
	}
	return toString(e.value), nil
}

// StringDefault returns key coerced to a string, or def when absent.
func (s *Store) StringDefault(key, def string) string {
	e, ok := s.values[key]
	if !ok {
		return def
	}
	return toString(e.value)
}

// Int returns key coerced to an int.
func (s *Store) Int(key string) (int, error) {
	e, ok := s.values[key]
	if !ok {
		return 0, missingKey(key)
	}
	return toInt(key, e.value)
}

// IntDefault returns key coerced to an int, or def when absent. A present
// but non-numeric value is still an error.
func (s *Store) IntDefault(key string, def int) (int, error) {
	e, ok := s.values[key]
	if !ok {
		return def, nil
	}
	return toInt(key, e.value)
}

// Float returns key coerced to a float64.
func (s *Store) Float(key string) (float64, error) {
	e, ok := s.values[key]
	if !ok {
		return 0, missingKey(key)
	}
	return toFloat(key, e.value)
}

// FloatDefault returns key coerced to a float64, or def when absent.
func (s *Store) FloatDefault(key string, def float64) (float64, error) {
	e, ok := s.values[key]
	if !ok {
		return def, nil
	}
	return toFloat(key, e.value)
}

// Bool returns key coerced to a bool.
func (s *Store) Bool(key string) (bool, error) {
	e, ok := s.values[key]
	if !ok {
		return false, missingKey(key)
	}
	return toBool(key, e.value)
}

// BoolDefault returns key coerced to a bool, or def when absent.
func (s *Store) BoolDefault(key string, def bool) (bool, error) {
	e, ok := s.values[key]
	if !ok {
		return def, nil
	}
	return toBool(key, e.value)
}

// Duration returns key coerced to a duration. Accepts Go duration strings
// and bare integers interpreted as milliseconds.
func (s *Store) Duration(key string) (time.Duration, error) {
	e, ok := s.values[key]
	if !ok {
		return 0, missingKey(key)
	}
	return toDuration(key, e.value)
}

// DurationDefault returns key coerced to a duration, or def when absent.
func (s *Store) DurationDefault(key string, def time.Duration) (time.Duration, error) {
	e, ok := s.values[key]
	if !ok {
		return def, nil
	}
	return toDuration(key, e.value)
}

// StringSlice returns key coerced to a string slice. Accepts a sequence
// literal or a comma-separated string.
func (s *Store) StringSlice(key string) ([]string, error) {
	e, ok := s.values[key]
	if !ok {
		return nil, missingKey(key)
	}
	return toStringSlice(key, e.value)
}

// StringSliceDefault returns key coerced to a string slice, or def when
// absent.
func (s *Store) StringSliceDefault(key string, def []string) ([]string, error) {
	e, ok := s.values[key]
	if !ok {
		return def, nil
	}
	return toStringSlice(key, e.value)
}

// Sub returns the entries under key, with the "key." prefix stripped. The
// result is flat: deeper levels keep their remaining dot-joined keys
// (Sub("db") yields "pool.size", not a nested "pool" mapping).
func (s *Store) Sub(key string) map[string]interface{} {
	prefix := key + "."
	out := make(map[string]interface{})
	for k, e := range s.values {
		if strings.HasPrefix(k, prefix) {
			out[k[len(prefix):]] = e.value
		}
	}
	return out
}

func missingKey(key string) error {
	return pkgerrors.Newf(pkgerrors.KindConfiguration, "configuration key %q is not set", key).
		WithDetail("key", key)
}
