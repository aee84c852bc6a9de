package config

import (
	"runtime"

	"isoforge/internal/arch"
)

// Product naming shared across the build.
const (
	// ProductName is the generic product token baked into the base template.
	ProductName = "isoforge"
	// BrandName replaces the generic distribution name in bootloader configs.
	BrandName = "ForgeOS"
)

// BuildConfig is the immutable result of configuration resolution. It is
// built once per run and threaded as a parameter into every component.
type BuildConfig struct {
	// Identity.
	Username      string
	Hostname      string
	ISONamePrefix string
	Edition       string
	Architecture  arch.Architecture
	BuildProfile  string

	// Secrets. Held only in memory, never logged or persisted.
	UserPassword string
	RootPassword string

	// Build tuning.
	ParallelJobs         int
	CompressionLevel     int
	EnableCustomRepo     bool
	EnableTestingRepo    bool
	KeepIntermediateTree bool
	Sign                 bool
	SigningKeyID         string

	// Run mode.
	Interactive       bool
	Verbose           bool
	SkipVerify        bool
	CleanBeforeBuild  bool
	BackupBeforeBuild bool
}

// Defaults returns the built-in baseline configuration, the lowest layer of
// the resolution precedence.
func Defaults() BuildConfig {
	return BuildConfig{
		Username:         "forge",
		Hostname:         "forgeos",
		ISONamePrefix:    "forgeos",
		Edition:          "base",
		Architecture:     arch.X86_64,
		ParallelJobs:     runtime.NumCPU(),
		CompressionLevel: 6,
		EnableCustomRepo: true,
	}
}

// Validate checks invariants that hold for every accepted BuildConfig.
func (c *BuildConfig) Validate() error {
	if c.CompressionLevel < 1 || c.CompressionLevel > 9 {
		return &Error{Kind: OutOfRange, Field: "compression", Detail: "must be between 1 and 9"}
	}
	if c.ParallelJobs < 1 {
		return &Error{Kind: OutOfRange, Field: "jobs", Detail: "must be at least 1"}
	}
	if c.Username == "" {
		return &Error{Kind: MissingCredential, Field: "user", Detail: "username must not be empty"}
	}
	if c.Hostname == "" {
		return &Error{Kind: MissingCredential, Field: "hostname", Detail: "hostname must not be empty"}
	}
	if !c.Architecture.IsValid() {
		return &Error{Kind: UnknownOption, Field: "arch", Detail: string(c.Architecture)}
	}
	return nil
}
