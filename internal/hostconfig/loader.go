package hostconfig

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidationError carries file/field/reason/suggestion context, same
// shape as the teacher's manifest.ValidationError.
type ValidationError struct {
	File       string
	Field      string
	Reason     string
	Suggestion string
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	if e.File != "" {
		sb.WriteString(e.File)
		sb.WriteString(": ")
	}
	if e.Field != "" {
		sb.WriteString(e.Field)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Reason)
	if e.Suggestion != "" {
		sb.WriteString("\n  Hint: ")
		sb.WriteString(e.Suggestion)
	}
	return sb.String()
}

// Loader loads a HostConfig from a path.
type Loader interface {
	Load(path string) (*HostConfig, error)
}

type yamlLoader struct{}

// NewLoader returns the default YAML-backed Loader.
func NewLoader() Loader { return &yamlLoader{} }

func (l *yamlLoader) Load(path string) (*HostConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ValidationError{File: path, Reason: "host config file not found", Suggestion: "create the profile (metadata.name is required); 'orcd validate' and the other commands fall back to built-in defaults when the file is absent"}
		}
		return nil, fmt.Errorf("hostconfig: open %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("hostconfig: read %q: %w", path, err)
	}

	var cfg HostConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ValidationError{File: path, Reason: fmt.Sprintf("invalid YAML: %v", err)}
	}

	if errs := validate(&cfg, path); len(errs) > 0 {
		return nil, errs[0]
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func validate(cfg *HostConfig, path string) []*ValidationError {
	var errs []*ValidationError
	if cfg.Metadata.Name == "" {
		errs = append(errs, &ValidationError{File: path, Field: "metadata.name", Reason: "name is required"})
	}
	return errs
}

// applyDefaults fills in the policy defaults when a profile omits them
// (spec §4.E: 3 retries, 200ms base, 5s cap, 60s cache TTL, warn
// severity). Of these, only CacheTTLSeconds is read elsewhere (cmd/orcd
// uses it as the cache sweep interval); the action runner and
// orchestrator do not read the others.
func applyDefaults(cfg *HostConfig) {
	if cfg.Policies.MaxRetries == 0 {
		cfg.Policies.MaxRetries = 3
	}
	if cfg.Policies.BaseBackoffMs == 0 {
		cfg.Policies.BaseBackoffMs = 200
	}
	if cfg.Policies.MaxBackoffMs == 0 {
		cfg.Policies.MaxBackoffMs = 5000
	}
	if cfg.Policies.CacheTTLSeconds == 0 {
		cfg.Policies.CacheTTLSeconds = 60
	}
	if cfg.Policies.DefaultSeverity == "" {
		cfg.Policies.DefaultSeverity = "warn"
	}
}
