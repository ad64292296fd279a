package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	pkgerrors "github.com/DavidLandup0/mitsuki/pkg/errors"
)

// SourceKind identifies the layer a configuration value came from.
type SourceKind string

const (
	// SourceDefaults is the framework-bundled defaults document.
	SourceDefaults SourceKind = "defaults"

	// SourceApplicationFile is the base application.yml document.
	SourceApplicationFile SourceKind = "application-file"

	// SourceProfileFile is the application-<profile>.yml overlay.
	SourceProfileFile SourceKind = "profile-file"

	// SourceEnvironment is a prefixed environment variable.
	SourceEnvironment SourceKind = "environment"

	// SourceProgrammatic is a value set directly by application code.
	SourceProgrammatic SourceKind = "programmatic"
)

// Source records where a configuration value came from: the layer kind plus
// a specifier (file path or environment-variable name).
type Source struct {
	Kind      SourceKind `json:"kind"`
	Specifier string     `json:"specifier,omitempty"`
}

func (s Source) String() string {
	if s.Specifier == "" {
		return string(s.Kind)
	}
	return fmt.Sprintf("%s(%s)", s.Kind, s.Specifier)
}

// frameworkDefaults is the lowest-precedence configuration layer, bundled
// with the framework.
var frameworkDefaults = map[string]interface{}{
	"mitsuki": map[string]interface{}{
		"debug": false,
		"server": map[string]interface{}{
			"address":        ":8080",
			"read-timeout":   "15s",
			"write-timeout":  "15s",
			"idle-timeout":   "60s",
			"shutdown-grace": "10s",
		},
		"scheduler": map[string]interface{}{
			"enabled":        false,
			"shutdown-grace": "30s",
		},
		"web": map[string]interface{}{
			"ignore-trailing-slash": false,
			"multipart": map[string]interface{}{
				"max-file-size":  10 << 20,
				"max-total-size": 50 << 20,
			},
			"cors": map[string]interface{}{
				"enabled":           false,
				"allowed-origins":   []interface{}{"*"},
				"allowed-methods":   []interface{}{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
				"allowed-headers":   []interface{}{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
				"allow-credentials": false,
				"max-age":           300,
			},
			"rate-limit": map[string]interface{}{
				"enabled": false,
				"rps":     50,
				"burst":   100,
			},
		},
		"security": map[string]interface{}{
			"jwt": map[string]interface{}{
				"enabled": false,
				"secret":  "",
				"issuer":  "",
			},
		},
		"management": map[string]interface{}{
			"enabled":   true,
			"allowlist": []interface{}{},
		},
	},
}

// flatten walks a nested document and writes dot-joined keys into out.
// Sequences are stored whole; only mappings recurse.
func flatten(prefix string, value interface{}, out map[string]interface{}) {
	switch v := value.(type) {
	case map[string]interface{}:
		for k, child := range v {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flatten(key, child, out)
		}
	case map[interface{}]interface{}:
		for k, child := range v {
			key := fmt.Sprint(k)
			if prefix != "" {
				key = prefix + "." + key
			}
			flatten(key, child, out)
		}
	default:
		if prefix != "" {
			out[prefix] = value
		}
	}
}

// loadYAMLFile reads and flattens a YAML document.
func loadYAMLFile(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.Newf(pkgerrors.KindConfiguration, "cannot read configuration file %s", path).WithCause(err)
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, pkgerrors.Newf(pkgerrors.KindConfiguration, "malformed configuration file %s", path).WithCause(err)
	}

	flat := make(map[string]interface{})
	flatten("", doc, flat)
	return flat, nil
}

// envKeyToPath maps MITSUKI_SERVER_PORT to server.port. The mapping is the
// only place where keys are case-insensitive.
func envKeyToPath(name, prefix string) (string, bool) {
	upper := strings.ToUpper(name)
	if !strings.HasPrefix(upper, prefix+"_") {
		return "", false
	}
	rest := upper[len(prefix)+1:]
	if rest == "" || rest == "PROFILE" {
		return "", false
	}
	return strings.ToLower(strings.ReplaceAll(rest, "_", ".")), true
}
