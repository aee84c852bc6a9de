package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultConfigPath returns the persisted configuration record location,
// honoring XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, ProductName, "build.conf")
}

// Persist writes the resolved configuration back as a flat KEY=value record.
// Secret fields are never written.
func Persist(cfg BuildConfig, path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	var b strings.Builder
	write := func(key, value string) {
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(value)
		b.WriteByte('\n')
	}
	write("USER", cfg.Username)
	write("HOSTNAME", cfg.Hostname)
	write("NAME", cfg.ISONamePrefix)
	write("EDITION", cfg.Edition)
	write("ARCH", cfg.Architecture.String())
	write("PROFILE", cfg.BuildProfile)
	write("JOBS", strconv.Itoa(cfg.ParallelJobs))
	write("COMPRESSION", strconv.Itoa(cfg.CompressionLevel))
	write("TESTING", strconv.FormatBool(cfg.EnableTestingRepo))
	write("KEEP_CHROOT", strconv.FormatBool(cfg.KeepIntermediateTree))
	write("NO_CUSTOM_REPO", strconv.FormatBool(!cfg.EnableCustomRepo))
	if cfg.SigningKeyID != "" {
		write("SIGN_KEY", cfg.SigningKeyID)
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write config record: %w", err)
	}
	return nil
}
