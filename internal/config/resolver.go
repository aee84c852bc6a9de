package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"isoforge/internal/arch"
	"isoforge/internal/logging"
)

// insecureTestPassword is substituted only when AllowInsecureDefaults is set.
// It must never be reachable from the CLI.
const insecureTestPassword = "forge"

// flagKeys maps CLI flag names onto viper keys. Viper keys use underscores so
// the persisted record and ISOFORGE_* environment variables share them.
var flagKeys = map[string]string{
	"user":           "user",
	"hostname":       "hostname",
	"name":           "name",
	"edition":        "edition",
	"arch":           "arch",
	"profile":        "profile",
	"jobs":           "jobs",
	"compression":    "compression",
	"testing":        "testing",
	"keep-chroot":    "keep_chroot",
	"no-custom-repo": "no_custom_repo",
	"sign":           "sign",
	"sign-key":       "sign_key",
	"interactive":    "interactive",
	"verbose":        "verbose",
	"skip-verify":    "skip_verify",
	"clean":          "clean",
	"backup":         "backup",
}

// Resolver merges built-in defaults, the persisted configuration record,
// environment variables, CLI flag overrides, and optional interactive answers
// into one BuildConfig.
type Resolver struct {
	Logger *slog.Logger

	// ConfigPath locates the persisted key=value record. Empty disables
	// the persisted layer.
	ConfigPath string
	// Flags carries the CLI overrides; only changed flags win over the
	// persisted layer.
	Flags *pflag.FlagSet
	// Prompter collects interactive answers and secrets. Nil disables
	// all prompting.
	Prompter Prompter

	// AllowInsecureDefaults substitutes a fixed password when no secret
	// can be obtained. Reserved for tests; production resolution fails
	// with MissingCredential instead.
	AllowInsecureDefaults bool
}

// Resolve produces the immutable BuildConfig for this run. Precedence,
// lowest to highest: defaults, persisted file, environment, CLI flags,
// interactive answers.
func (r *Resolver) Resolve() (BuildConfig, error) {
	logger := logging.Ensure(r.Logger)

	v := viper.New()
	defaults := Defaults()
	v.SetDefault("user", defaults.Username)
	v.SetDefault("hostname", defaults.Hostname)
	v.SetDefault("name", defaults.ISONamePrefix)
	v.SetDefault("edition", defaults.Edition)
	v.SetDefault("arch", defaults.Architecture.String())
	v.SetDefault("profile", defaults.BuildProfile)
	v.SetDefault("jobs", defaults.ParallelJobs)
	v.SetDefault("compression", defaults.CompressionLevel)
	v.SetDefault("testing", defaults.EnableTestingRepo)
	v.SetDefault("keep_chroot", defaults.KeepIntermediateTree)
	v.SetDefault("no_custom_repo", !defaults.EnableCustomRepo)

	if r.ConfigPath != "" {
		v.SetConfigFile(r.ConfigPath)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			if !isConfigMissing(err) {
				return BuildConfig{}, fmt.Errorf("read persisted config %s: %w", r.ConfigPath, err)
			}
			logger.Debug("no persisted config", "path", r.ConfigPath)
		} else {
			logger.Debug("loaded persisted config", "path", r.ConfigPath)
		}
	}

	v.SetEnvPrefix("ISOFORGE")
	v.AutomaticEnv()

	if r.Flags != nil {
		for flagName, key := range flagKeys {
			if flag := r.Flags.Lookup(flagName); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return BuildConfig{}, fmt.Errorf("bind flag %s: %w", flagName, err)
				}
			}
		}
	}

	cfg := BuildConfig{
		Username:             strings.TrimSpace(v.GetString("user")),
		Hostname:             strings.TrimSpace(v.GetString("hostname")),
		ISONamePrefix:        strings.TrimSpace(v.GetString("name")),
		Edition:              strings.TrimSpace(v.GetString("edition")),
		BuildProfile:         strings.TrimSpace(v.GetString("profile")),
		UserPassword:         v.GetString("user_password"),
		RootPassword:         v.GetString("root_password"),
		ParallelJobs:         v.GetInt("jobs"),
		CompressionLevel:     v.GetInt("compression"),
		EnableCustomRepo:     !v.GetBool("no_custom_repo"),
		EnableTestingRepo:    v.GetBool("testing"),
		KeepIntermediateTree: v.GetBool("keep_chroot"),
		Sign:                 v.GetBool("sign") || strings.TrimSpace(v.GetString("sign_key")) != "",
		SigningKeyID:         strings.TrimSpace(v.GetString("sign_key")),
		Interactive:          v.GetBool("interactive"),
		Verbose:              v.GetBool("verbose"),
		SkipVerify:           v.GetBool("skip_verify"),
		CleanBeforeBuild:     v.GetBool("clean"),
		BackupBeforeBuild:    v.GetBool("backup"),
	}

	parsed, err := arch.Parse(v.GetString("arch"))
	if err != nil {
		return BuildConfig{}, &Error{Kind: UnknownOption, Field: "arch", Detail: err.Error()}
	}
	cfg.Architecture = parsed

	if cfg.Interactive {
		if err := r.collectInteractive(&cfg); err != nil {
			return BuildConfig{}, err
		}
	}

	if err := r.resolvePasswords(&cfg); err != nil {
		return BuildConfig{}, err
	}

	if err := cfg.Validate(); err != nil {
		return BuildConfig{}, err
	}
	return cfg, nil
}

func isConfigMissing(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return true
	}
	return os.IsNotExist(err) || os.IsNotExist(errors.Unwrap(err))
}

// collectInteractive gathers identity answers; collected last, they override
// every earlier layer.
func (r *Resolver) collectInteractive(cfg *BuildConfig) error {
	if r.Prompter == nil || !r.Prompter.CanPrompt() {
		return &Error{Kind: MissingCredential, Field: "interactive", Detail: "no terminal available for prompts"}
	}

	prompts := []struct {
		label string
		value *string
	}{
		{"Primary username", &cfg.Username},
		{"Hostname", &cfg.Hostname},
		{"Image name prefix", &cfg.ISONamePrefix},
		{"Edition", &cfg.Edition},
		{"Build profile", &cfg.BuildProfile},
	}
	for _, p := range prompts {
		answer, err := r.Prompter.Ask(p.label, *p.value)
		if err != nil {
			return err
		}
		*p.value = strings.TrimSpace(answer)
	}

	archAnswer, err := r.Prompter.Ask("Architecture", cfg.Architecture.String())
	if err != nil {
		return err
	}
	parsed, err := arch.Parse(archAnswer)
	if err != nil {
		return &Error{Kind: UnknownOption, Field: "arch", Detail: err.Error()}
	}
	cfg.Architecture = parsed
	return nil
}

// resolvePasswords fills any password still empty after the merge. Secrets
// come from a secure prompt with confirmation; when no prompt is possible the
// run fails rather than defaulting.
func (r *Resolver) resolvePasswords(cfg *BuildConfig) error {
	fields := []struct {
		name  string
		label string
		value *string
	}{
		{"user_password", fmt.Sprintf("Password for %s", cfg.Username), &cfg.UserPassword},
		{"root_password", "Password for root", &cfg.RootPassword},
	}
	for _, f := range fields {
		if *f.value != "" {
			continue
		}
		if r.Prompter != nil && r.Prompter.CanPrompt() {
			secret, err := r.Prompter.AskSecret(f.label)
			if err != nil {
				return err
			}
			confirm, err := r.Prompter.AskSecret("Confirm " + f.label)
			if err != nil {
				return err
			}
			if secret != confirm {
				return &Error{Kind: PasswordMismatch, Field: f.name}
			}
			*f.value = secret
		}
		if *f.value == "" {
			if r.AllowInsecureDefaults {
				*f.value = insecureTestPassword
				continue
			}
			return &Error{Kind: MissingCredential, Field: f.name}
		}
	}
	return nil
}
