// Package hostconfig defines the HostConfig profile: which capability
// implementations the host registers, the default retry/cache/severity
// policy table, and CLI defaults. Shape and loading style follow the
// teacher's manifest package (internal/manifest/types.go,
// internal/manifest/parser.go): a YAML document with a ManifestLoader
// interface and ValidationError carrying field/reason/suggestion.
package hostconfig

// HostConfig is the root of a loaded host profile (spec §6).
type HostConfig struct {
	APIVersion   string                  `yaml:"apiVersion"`
	Kind         string                  `yaml:"kind"`
	Metadata     Metadata                `yaml:"metadata"`
	Capabilities CapabilityConfig        `yaml:"capabilities,omitempty"`
	Policies     PolicyConfig            `yaml:"policies,omitempty"`
	CLI          CLIDefaults             `yaml:"cli,omitempty"`
}

// Metadata names the profile.
type Metadata struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
}

// CapabilityConfig lists which named implementation each namespace
// should register by default (spec §4.D): e.g. storage: sqlite,
// schemas: jsonschema-v6.
type CapabilityConfig struct {
	Services map[string]string `yaml:"services,omitempty"`
	Guards   map[string]string `yaml:"guards,omitempty"`
	Actions  map[string]string `yaml:"actions,omitempty"`
	Views    map[string]string `yaml:"views,omitempty"`
	Tools    map[string]string `yaml:"tools,omitempty"`
	Actors   map[string]string `yaml:"actors,omitempty"`
	Storage  string            `yaml:"storage,omitempty"`
	Schemas  string            `yaml:"schemas,omitempty"`
}

// PolicyConfig is the default error-classification/retry/cache policy
// table (spec §4.K, §4.E), overridable per action.
type PolicyConfig struct {
	DefaultSeverity  string         `yaml:"defaultSeverity,omitempty"`
	MaxRetries       int            `yaml:"maxRetries,omitempty"`
	BaseBackoffMs    int            `yaml:"baseBackoffMs,omitempty"`
	MaxBackoffMs     int            `yaml:"maxBackoffMs,omitempty"`
	CacheTTLSeconds  int            `yaml:"cacheTtlSeconds,omitempty"`
	SeverityOverride map[string]string `yaml:"severityOverride,omitempty"` // error-type -> severity
}

// CLIDefaults seeds cmd/orcd flag defaults.
type CLIDefaults struct {
	SnapshotPath string `yaml:"snapshotPath,omitempty"`
	HumanLogs    bool   `yaml:"humanLogs,omitempty"`
	NoLogs       bool   `yaml:"noLogs,omitempty"`
}
