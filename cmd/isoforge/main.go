package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"isoforge/internal/artifact"
	"isoforge/internal/config"
	"isoforge/internal/logging"
	"isoforge/internal/pipeline"
	"isoforge/internal/profile"
	"isoforge/internal/provision"
	"isoforge/internal/runner"
)

// version is injected at build time.
var version = "dev"

const defaultLogLevel = "info"

// Exit codes. Interruption reuses the conventional 128+SIGINT value.
const (
	exitStageFailure = 1
	exitConfigError  = 2
	exitDependency   = 3
	exitInterrupted  = 130
)

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	logger := logging.NewCLI(os.Stderr, &levelVar)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(logger, &levelVar)
	if err := root.ExecuteContext(ctx); err != nil {
		code := exitCode(err)
		if code == exitInterrupted {
			logger.Warn("command interrupted", "error", err)
		} else {
			logger.Error("command execution failed", "error", err)
		}
		os.Exit(code)
	}
}

func exitCode(err error) int {
	var cfgErr *config.Error
	var depErr *pipeline.DependencyError
	switch {
	case errors.Is(err, pipeline.ErrInterrupted), errors.Is(err, context.Canceled):
		return exitInterrupted
	case errors.As(err, &cfgErr):
		return exitConfigError
	case errors.As(err, &depErr):
		return exitDependency
	default:
		return exitStageFailure
	}
}

func newRootCommand(logger *slog.Logger, levelVar *slog.LevelVar) *cobra.Command {
	logLevel := defaultLogLevel

	root := &cobra.Command{
		Use:           "isoforge",
		Short:         "Build customized bootable " + config.BrandName + " images",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &config.Error{Kind: config.UnknownOption, Field: "flags", Detail: err.Error()}
	})
	root.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return &config.Error{Kind: config.UnknownOption, Field: "log-level", Detail: err.Error()}
		}
		levelVar.Set(level)
		return nil
	}
	root.AddCommand(newBuildCommand(logger, levelVar))
	return root
}

func newBuildCommand(logger *slog.Logger, levelVar *slog.LevelVar) *cobra.Command {
	var (
		assetsDir    string
		workRoot     string
		listProfiles bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Run the staged image-build pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose || os.Getenv("ISOFORGE_DEBUG") != "" {
				levelVar.Set(slog.LevelDebug)
			}
			cmdLogger := logger.With("command", "build")

			paths := pipeline.DefaultPaths(assetsDir, workRoot)
			if listProfiles {
				return printProfiles(cmd, paths.ProfilesDir)
			}

			resolver := &config.Resolver{
				Logger:     cmdLogger,
				ConfigPath: config.DefaultConfigPath(),
				Flags:      cmd.Flags(),
				Prompter:   config.NewTerminalPrompter(),
			}
			cfg, err := resolver.Resolve()
			if err != nil {
				cmdLogger.Error("configuration resolution failed", "error", err)
				return err
			}
			if cfg.Verbose {
				levelVar.Set(slog.LevelDebug)
			}

			build := &pipeline.Build{
				Logger: cmdLogger,
				Config: cfg,
				Paths:  paths,
				Runner: &runner.ExecRunner{Logger: cmdLogger},
				Hasher: provision.SHA512CryptHasher{},
			}

			cmdLogger.Info("starting build",
				"edition", cfg.Edition, "arch", cfg.Architecture, "profile", cfg.BuildProfile)

			result := build.Run(cmd.Context())
			switch result.State {
			case pipeline.Succeeded:
				if art := build.Artifact(); art != nil {
					fmt.Fprintln(cmd.OutOrStdout(), artifact.RenderReport(art, cfg))
				}
				if err := config.Persist(cfg, config.DefaultConfigPath()); err != nil {
					cmdLogger.Warn("persisting configuration failed", "error", err)
				}
				cmdLogger.Info("build completed")
				return nil
			case pipeline.Interrupted:
				cmdLogger.Warn("build interrupted", "stage", result.FailedStage)
				return result.Err
			default:
				cmdLogger.Error("build failed",
					"stage", result.FailedStage, "error", result.Err, "rescue", result.RescuePath)
				return result.Err
			}
		},
	}

	flags := cmd.Flags()
	flags.String("user", "", "Primary username inside the image")
	flags.String("hostname", "", "Hostname of the built system")
	flags.String("name", "", "Image name prefix")
	flags.String("edition", "", "Edition identifier")
	flags.String("arch", "", "Target architecture (x86_64, i686, aarch64)")
	flags.String("profile", "", "Named build profile to overlay")
	flags.Int("jobs", 0, "Parallel jobs passed to the image assembler")
	flags.Int("compression", 0, "Compression level (1-9)")
	flags.Bool("clean", false, "Remove prior transient state before building")
	flags.Bool("interactive", false, "Prompt for configuration values")
	flags.Bool("backup", false, "Back up prior artifacts before building")
	flags.Bool("verbose", false, "Enable debug logging")
	flags.Bool("skip-verify", false, "Skip checksum verification")
	flags.Bool("testing", false, "Enable the testing package channel")
	flags.Bool("keep-chroot", false, "Keep the intermediate working tree")
	flags.Bool("sign", false, "Sign the artifact with the default key")
	flags.String("sign-key", "", "Sign the artifact with this key id (implies --sign)")
	flags.Bool("no-custom-repo", false, "Skip the custom local package repository")
	flags.BoolVar(&listProfiles, "list-profiles", false, "List available build profiles and exit")
	flags.StringVar(&assetsDir, "assets", ".", "Directory holding template/, profiles/, and repo/")
	flags.StringVar(&workRoot, "work-root", "build", "Directory for transient build state and output")

	return cmd
}

func printProfiles(cmd *cobra.Command, profilesDir string) error {
	profiles, err := profile.List(profilesDir)
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no profiles found in", profilesDir)
		return nil
	}

	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Name", "Description", "Packages", "Pacman conf", "Rootfs"})
	for _, p := range profiles {
		tw.AppendRow(table.Row{p.Name, p.Meta.Description, p.HasPackageList, p.HasPacmanConf, p.HasRootfs})
	}
	fmt.Fprintln(cmd.OutOrStdout(), tw.Render())
	return nil
}
