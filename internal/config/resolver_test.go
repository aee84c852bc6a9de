package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"

	"isoforge/internal/arch"
)

func testFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("user", "", "")
	flags.String("hostname", "", "")
	flags.String("name", "", "")
	flags.String("edition", "", "")
	flags.String("arch", "", "")
	flags.String("profile", "", "")
	flags.Int("jobs", 0, "")
	flags.Int("compression", 0, "")
	flags.Bool("testing", false, "")
	flags.Bool("keep-chroot", false, "")
	flags.Bool("no-custom-repo", false, "")
	flags.Bool("sign", false, "")
	flags.String("sign-key", "", "")
	flags.Bool("interactive", false, "")
	flags.Bool("verbose", false, "")
	flags.Bool("skip-verify", false, "")
	flags.Bool("clean", false, "")
	flags.Bool("backup", false, "")
	if err := flags.Parse(args); err != nil {
		t.Fatal(err)
	}
	return flags
}

func testResolver(t *testing.T, args ...string) *Resolver {
	t.Helper()
	return &Resolver{
		Flags:                 testFlags(t, args...),
		AllowInsecureDefaults: true,
	}
}

func TestResolveDefaults(t *testing.T) {
	cfg, err := testResolver(t).Resolve()
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	defaults := Defaults()
	if cfg.Username != defaults.Username {
		t.Errorf("username = %q, want %q", cfg.Username, defaults.Username)
	}
	if cfg.CompressionLevel != defaults.CompressionLevel {
		t.Errorf("compression = %d, want %d", cfg.CompressionLevel, defaults.CompressionLevel)
	}
	if !cfg.EnableCustomRepo {
		t.Error("custom repo should default to enabled")
	}
}

func TestResolveFlagsWinOverPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "build.conf")
	record := "USER=filed\nHOSTNAME=filedhost\nCOMPRESSION=3\n"
	if err := os.WriteFile(path, []byte(record), 0o644); err != nil {
		t.Fatal(err)
	}

	r := testResolver(t, "--user", "clied")
	r.ConfigPath = path
	cfg, err := r.Resolve()
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if cfg.Username != "clied" {
		t.Errorf("CLI flag should win: username = %q", cfg.Username)
	}
	if cfg.Hostname != "filedhost" {
		t.Errorf("persisted value should survive: hostname = %q", cfg.Hostname)
	}
	if cfg.CompressionLevel != 3 {
		t.Errorf("persisted compression lost: %d", cfg.CompressionLevel)
	}
}

func TestResolveCompressionRange(t *testing.T) {
	for _, level := range []string{"1", "5", "9"} {
		if _, err := testResolver(t, "--compression", level).Resolve(); err != nil {
			t.Errorf("level %s rejected: %v", level, err)
		}
	}
	for _, level := range []string{"0", "10", "-3"} {
		_, err := testResolver(t, "--compression", level).Resolve()
		if !IsKind(err, OutOfRange) {
			t.Errorf("level %s: expected OutOfRange, got %v", level, err)
		}
	}
}

func TestResolveUnknownArchitecture(t *testing.T) {
	_, err := testResolver(t, "--arch", "vax").Resolve()
	if !IsKind(err, UnknownOption) {
		t.Fatalf("expected UnknownOption, got %v", err)
	}
}

func TestResolvePasswordMismatch(t *testing.T) {
	r := testResolver(t)
	r.AllowInsecureDefaults = false
	r.Prompter = &StaticPrompter{Secrets: []string{"first", "second"}}
	_, err := r.Resolve()
	if !IsKind(err, PasswordMismatch) {
		t.Fatalf("expected PasswordMismatch, got %v", err)
	}
}

func TestResolvePasswordFromPrompt(t *testing.T) {
	r := testResolver(t)
	r.AllowInsecureDefaults = false
	r.Prompter = &StaticPrompter{Secrets: []string{"hunter2", "hunter2", "roothunter", "roothunter"}}
	cfg, err := r.Resolve()
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if cfg.UserPassword != "hunter2" || cfg.RootPassword != "roothunter" {
		t.Error("prompted secrets not applied")
	}
}

func TestResolvePasswordsFromEnvironment(t *testing.T) {
	t.Setenv("ISOFORGE_USER_PASSWORD", "envuser")
	t.Setenv("ISOFORGE_ROOT_PASSWORD", "envroot")

	r := testResolver(t)
	r.AllowInsecureDefaults = false
	cfg, err := r.Resolve()
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if cfg.UserPassword != "envuser" || cfg.RootPassword != "envroot" {
		t.Error("environment secrets not applied")
	}
}

func TestResolveMissingCredentialWithoutPrompt(t *testing.T) {
	r := testResolver(t)
	r.AllowInsecureDefaults = false
	_, err := r.Resolve()
	if !IsKind(err, MissingCredential) {
		t.Fatalf("expected MissingCredential, got %v", err)
	}
}

func TestResolveInteractiveAnswersWin(t *testing.T) {
	r := testResolver(t, "--interactive", "--hostname", "flagged")
	r.Prompter = &StaticPrompter{
		Answers: map[string]string{"Hostname": "prompted"},
		Secrets: []string{"pw", "pw", "pw", "pw"},
	}
	r.AllowInsecureDefaults = false
	cfg, err := r.Resolve()
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if cfg.Hostname != "prompted" {
		t.Errorf("interactive answer should win: hostname = %q", cfg.Hostname)
	}
	if cfg.Username != Defaults().Username {
		t.Errorf("unanswered prompt should keep prior value: %q", cfg.Username)
	}
}

func TestResolveSignKeyImpliesSigning(t *testing.T) {
	cfg, err := testResolver(t, "--sign-key", "CAFEBABE").Resolve()
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !cfg.Sign || cfg.SigningKeyID != "CAFEBABE" {
		t.Errorf("sign-key should imply signing: %+v", cfg)
	}
}

func TestPersistExcludesSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Architecture = arch.X86_64
	cfg.UserPassword = "topsecret"
	cfg.RootPassword = "alsosecret"
	cfg.SigningKeyID = "CAFEBABE"

	path := filepath.Join(t.TempDir(), "sub", "build.conf")
	if err := Persist(cfg, path); err != nil {
		t.Fatalf("persist failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	for _, secret := range []string{"topsecret", "alsosecret"} {
		if strings.Contains(content, secret) {
			t.Fatalf("secret %q leaked into persisted record", secret)
		}
	}

	// The record must round-trip through the resolver's persisted layer.
	r := testResolver(t)
	r.ConfigPath = path
	got, err := r.Resolve()
	if err != nil {
		t.Fatalf("re-resolve failed: %v", err)
	}
	if got.SigningKeyID != "CAFEBABE" {
		t.Errorf("signing key lost in round trip: %q", got.SigningKeyID)
	}
}
