package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"isoforge/internal/artifact"
	"isoforge/internal/config"
	"isoforge/internal/logging"
	"isoforge/internal/overlay"
	"isoforge/internal/provision"
	"isoforge/internal/runner"
	"isoforge/internal/services"
)

// Paths gathers every directory a build run touches. Source directories are
// read-only; the work, tree, output, rescue, and backup directories are
// exclusively owned by the run.
type Paths struct {
	BaseTemplate     string
	ProfilesDir      string
	CustomRepoSource string
	CustomRepoDir    string

	WorkDir   string
	TreeDir   string
	OutputDir string
	RescueDir string
	BackupDir string
}

// DefaultPaths lays out the run directories under root and the read-only
// sources under assets.
func DefaultPaths(assets, root string) Paths {
	return Paths{
		BaseTemplate:     filepath.Join(assets, "template"),
		ProfilesDir:      filepath.Join(assets, "profiles"),
		CustomRepoSource: filepath.Join(assets, "repo"),
		CustomRepoDir:    "/var/cache/" + config.ProductName + "/repo",
		WorkDir:          filepath.Join(root, "work"),
		TreeDir:          filepath.Join(root, "tree"),
		OutputDir:        filepath.Join(root, "out"),
		RescueDir:        filepath.Join(root, "rescue"),
		BackupDir:        filepath.Join(root, "backup"),
	}
}

// toolPackages maps a required tool onto the package that provides it.
var toolPackages = map[string]string{
	runner.ImageAssemblerTool: "archiso",
	runner.RepoIndexTool:      "pacman-contrib",
}

// Build wires the pipeline components for one run and carries the state
// later stages read from earlier ones.
type Build struct {
	Logger *slog.Logger
	Config config.BuildConfig
	Paths  Paths
	Runner runner.CommandRunner
	Hasher provision.PasswordHasher
	// Now overrides the clock for snapshot and artifact naming.
	Now func() time.Time

	tree     overlay.Tree
	artifact *artifact.Artifact
}

// Run executes the full pipeline under the sequencer.
func (b *Build) Run(ctx context.Context) Result {
	seq := &Sequencer{
		Logger:           b.Logger,
		WorkDir:          b.Paths.WorkDir,
		TreeDir:          b.Paths.TreeDir,
		RescueDir:        b.Paths.RescueDir,
		KeepIntermediate: b.Config.KeepIntermediateTree,
		Now:              b.Now,
	}
	return seq.Run(ctx, b.Stages())
}

// Artifact returns the finalized artifact, nil until the finalize stage has
// completed.
func (b *Build) Artifact() *artifact.Artifact {
	return b.artifact
}

// Tree returns the composed overlay tree, empty until composition ran.
func (b *Build) Tree() overlay.Tree {
	return b.tree
}

// Stages returns the ordered stage list. Order matters: later stages read
// files written by earlier ones.
func (b *Build) Stages() []Stage {
	return []Stage{
		{Name: "check-tools", Run: b.checkTools},
		{Name: "clean-previous", Skip: func() bool { return !b.Config.CleanBeforeBuild }, Run: b.cleanPrevious},
		{Name: "backup-artifacts", Skip: func() bool { return !b.Config.BackupBeforeBuild }, Run: b.backupArtifacts},
		{Name: "compose-overlay", Run: b.composeOverlay},
		{Name: "provision-credentials", Run: b.provisionCredentials},
		{Name: "edit-services", Run: b.editServices},
		{Name: "assemble-image", Run: b.assembleImage},
		{Name: "finalize", Run: b.finalize},
	}
}

// checkTools verifies every collaborator binary, attempting a one-shot
// prerequisite install for the missing ones.
func (b *Build) checkTools(ctx context.Context) error {
	logger := logging.Ensure(b.Logger)

	var missing []string
	for _, tool := range runner.RequiredTools() {
		if _, err := b.Runner.LookPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	if _, err := b.Runner.LookPath(runner.PackageManagerTool); err != nil {
		return &DependencyError{Tool: runner.PackageManagerTool}
	}
	var packages []string
	for _, tool := range missing {
		pkg, ok := toolPackages[tool]
		if !ok {
			pkg = tool
		}
		packages = append(packages, pkg)
	}
	logger.Info("installing prerequisite tools", "packages", packages)
	if err := b.tools().InstallPackages(ctx, packages...); err != nil {
		return err
	}
	for _, tool := range missing {
		if _, err := b.Runner.LookPath(tool); err != nil {
			return &DependencyError{Tool: tool}
		}
	}
	return nil
}

// cleanPrevious removes transient state left by a prior run. Re-running
// after a failure is valid as long as this stage goes first.
func (b *Build) cleanPrevious(context.Context) error {
	for _, dir := range []string{b.Paths.TreeDir, b.scratchDir()} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("clean %s: %w", dir, err)
		}
	}
	return nil
}

// backupArtifacts relocates superseded artifacts into a timestamped backup
// directory; nothing is deleted silently.
func (b *Build) backupArtifacts(context.Context) error {
	patterns := []string{"*.iso", "*.iso.sha256", "*.iso.md5", "*.iso.asc", "*.report.txt", "*.pkglist.txt"}
	var stale []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(b.Paths.OutputDir, pattern))
		if err != nil {
			return fmt.Errorf("scan output directory: %w", err)
		}
		stale = append(stale, matches...)
	}
	if len(stale) == 0 {
		return nil
	}

	dest := filepath.Join(b.Paths.BackupDir, "backup-"+b.now().Format("20060102-150405"))
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}
	for _, path := range stale {
		if err := os.Rename(path, filepath.Join(dest, filepath.Base(path))); err != nil {
			return fmt.Errorf("relocate %s: %w", path, err)
		}
	}
	logging.Ensure(b.Logger).Info("previous artifacts backed up", "count", len(stale), "dest", dest)
	return nil
}

func (b *Build) composeOverlay(ctx context.Context) error {
	composer := &overlay.Composer{
		Logger:           b.Logger,
		BaseTemplate:     b.Paths.BaseTemplate,
		ProfilesDir:      b.Paths.ProfilesDir,
		CustomRepoSource: b.Paths.CustomRepoSource,
		CustomRepoDir:    b.Paths.CustomRepoDir,
		Tools:            b.tools(),
	}
	tree, err := composer.Compose(ctx, b.Paths.TreeDir, b.Config)
	if err != nil {
		return err
	}
	b.tree = tree
	return nil
}

func (b *Build) provisionCredentials(context.Context) error {
	provisioner := &provision.Provisioner{
		Logger: b.Logger,
		Hasher: b.Hasher,
		Now:    b.Now,
	}
	return provisioner.Provision(b.tree, b.Config)
}

func (b *Build) editServices(context.Context) error {
	editor := &services.Editor{Logger: b.Logger}
	return editor.Edit(b.tree)
}

func (b *Build) assembleImage(ctx context.Context) error {
	if err := os.MkdirAll(b.Paths.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.MkdirAll(b.scratchDir(), 0o755); err != nil {
		return fmt.Errorf("create scratch directory: %w", err)
	}
	return b.tools().AssembleImage(ctx,
		b.tree.Root, b.scratchDir(), b.Paths.OutputDir,
		b.Config.ParallelJobs, b.Config.CompressionLevel)
}

func (b *Build) finalize(ctx context.Context) error {
	finalizer := &artifact.Finalizer{
		Logger:          b.Logger,
		Tools:           b.tools(),
		Now:             b.Now,
		PackageListPath: b.tree.PackageList(b.Config.Architecture.String()),
	}
	art, err := finalizer.Finalize(ctx, b.Paths.OutputDir, b.Config)
	if err != nil {
		return err
	}
	b.artifact = art
	return nil
}

func (b *Build) tools() runner.Toolchain {
	return runner.Toolchain{Runner: b.Runner}
}

func (b *Build) scratchDir() string {
	return filepath.Join(b.Paths.WorkDir, "scratch")
}

func (b *Build) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}
