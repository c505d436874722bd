// Package hostconfig loads the host-side kernel profile: the deployment
// knobs that sit outside the constitution itself (execution rate limits,
// bootstrap defaults for cooling/density, the backing store a fresh
// deployment should use before an operator has chosen one explicitly).
// Parsing is plain yaml.v3 struct tags plus post-decode defaults for
// zero-valued fields; no further validation of field values is performed.
package hostconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RateLimitConfig bounds internal/hostexec.ActionLimiter.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// BootstrapDefaults seeds values a constitution may leave unspecified the
// first time a host stands one up (the constitution document itself
// always wins once loaded; these apply only to host tooling that needs a
// number before a constitution exists, e.g. generating a starter
// document).
type BootstrapDefaults struct {
	CoolingPeriodCycles int     `yaml:"cooling_period_cycles"`
	DensityUpperBound   float64 `yaml:"density_upper_bound"`
}

// BackingStoreConfig chooses the artifacts.Store a fresh deployment uses
// absent an explicit ARTIFACT_STORAGE_TYPE environment override.
type BackingStoreConfig struct {
	Type string `yaml:"type"` // "fs" | "s3" | "gcs" | "sqlite"
	DSN  string `yaml:"dsn"`  // sqlite path, or s3/gcs bucket URI
}

// HostProfile is the full parsed host profile document.
type HostProfile struct {
	Name          string             `yaml:"name"`
	ReadPaths     []string           `yaml:"read_paths,omitempty"`
	WritePaths    []string           `yaml:"write_paths,omitempty"`
	RateLimit     RateLimitConfig    `yaml:"rate_limit"`
	Bootstrap     BootstrapDefaults  `yaml:"bootstrap"`
	BackingStore  BackingStoreConfig `yaml:"backing_store"`
}

// DefaultProfile is the profile used when no host profile file is given.
// Its rate limits match the values hardcoded into cmd/rsak-kernel, which
// does not itself load a host profile.
func DefaultProfile() *HostProfile {
	return &HostProfile{
		Name: "default",
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Bootstrap: BootstrapDefaults{
			CoolingPeriodCycles: 2,
			DensityUpperBound:   0.5,
		},
		BackingStore: BackingStoreConfig{Type: "fs"},
	}
}

// LoadProfile reads a host profile YAML file from disk, applying
// DefaultProfile's values to any field the document leaves zero.
func LoadProfile(path string) (*HostProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("hostconfig: read profile %q: %w", path, err)
	}
	return ParseProfile(data)
}

// ParseProfile parses already-read profile YAML bytes, applying defaults.
// Exposed separately from LoadProfile so tests and in-memory callers never
// need a file on disk.
func ParseProfile(data []byte) (*HostProfile, error) {
	p := DefaultProfile()
	name := p.Name
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("hostconfig: parse profile: %w", err)
	}
	if p.Name == "" {
		p.Name = name
	}
	if p.RateLimit.RequestsPerSecond == 0 {
		p.RateLimit.RequestsPerSecond = 10
	}
	if p.RateLimit.Burst == 0 {
		p.RateLimit.Burst = 20
	}
	if p.Bootstrap.CoolingPeriodCycles == 0 {
		p.Bootstrap.CoolingPeriodCycles = 2
	}
	if p.Bootstrap.DensityUpperBound == 0 {
		p.Bootstrap.DensityUpperBound = 0.5
	}
	if p.BackingStore.Type == "" {
		p.BackingStore.Type = "fs"
	}
	return p, nil
}
