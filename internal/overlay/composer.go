// Package overlay assembles the working root-filesystem tree for one build
// run by layering a base template, an optional named profile, and a custom
// local package repository.
package overlay

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"isoforge/internal/config"
	"isoforge/internal/logging"
	"isoforge/internal/profile"
	"isoforge/internal/runner"
)

// Layout of the working tree, mirroring the release-tooling profile format.
const (
	// RootFSDir holds the image's root filesystem fragment.
	RootFSDir = "airootfs"
	// PacmanConfName is the package-manager configuration at the tree root.
	PacmanConfName = "pacman.conf"
)

// Bootloader directories refreshed from the base template after overlay.
var bootloaderDirs = []string{"syslinux", "efiboot", "grub"}

// defaultPurgeList names template defaults removed unconditionally after the
// overlay step; the bootloader directories are re-copied fresh afterwards.
var defaultPurgeList = []string{
	RootFSDir + "/etc/motd",
	RootFSDir + "/etc/mkinitcpio.d/linux.preset",
	RootFSDir + "/etc/ssh/sshd_config.d/10-release.conf",
	"syslinux",
	"efiboot",
	"grub",
}

// CustomRepoName is the stanza name of the local package repository.
const CustomRepoName = "isoforge"

// genericDistroName is the upstream distribution name appearing in template
// bootloader configs; rebranding swaps it for config.BrandName.
const genericDistroName = "Arch Linux"

// Tree is the working overlay tree, exclusively owned by one pipeline run.
type Tree struct {
	Root string
	// Warnings collects non-fatal composition anomalies.
	Warnings []string
}

// RootFS returns the root-filesystem fragment of the tree.
func (t Tree) RootFS() string {
	return filepath.Join(t.Root, RootFSDir)
}

// PacmanConf returns the tree's package-manager configuration path.
func (t Tree) PacmanConf() string {
	return filepath.Join(t.Root, PacmanConfName)
}

// PackageList returns the tree's package list path for the given
// architecture.
func (t Tree) PackageList(architecture string) string {
	return filepath.Join(t.Root, "packages."+architecture)
}

// ComposeError is a fatal overlay composition failure.
type ComposeError struct {
	Step string
	Err  error
}

func (e *ComposeError) Error() string {
	return fmt.Sprintf("compose %s: %v", e.Step, e.Err)
}

func (e *ComposeError) Unwrap() error { return e.Err }

// Composer builds the working tree. All source trees are immutable inputs.
type Composer struct {
	Logger *slog.Logger

	// BaseTemplate is the pristine template tree copied verbatim first.
	BaseTemplate string
	// ProfilesDir holds the named build profiles.
	ProfilesDir string
	// CustomRepoSource is the directory of locally built packages.
	CustomRepoSource string
	// CustomRepoDir is the fixed system location the repository is served
	// from inside the image.
	CustomRepoDir string

	Tools runner.Toolchain
}

// Compose builds the working tree at workDir. The returned tree carries
// warnings for the non-fatal paths (missing profile, missing repo source).
func (c *Composer) Compose(ctx context.Context, workDir string, cfg config.BuildConfig) (Tree, error) {
	logger := logging.Ensure(c.Logger)
	tree := Tree{Root: workDir}

	if !dirExists(c.BaseTemplate) {
		return tree, &ComposeError{Step: "base template", Err: fmt.Errorf("%s does not exist", c.BaseTemplate)}
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return tree, &ComposeError{Step: "working directory", Err: err}
	}
	if err := CopyTree(c.BaseTemplate, workDir); err != nil {
		return tree, &ComposeError{Step: "base template", Err: err}
	}
	logger.Info("base template copied", "template", c.BaseTemplate)

	if cfg.BuildProfile != "" {
		if err := c.applyProfile(&tree, cfg); err != nil {
			return tree, err
		}
	}

	if err := c.refreshBootloaders(&tree, cfg); err != nil {
		return tree, err
	}

	if err := c.patchPackageManagerConf(ctx, &tree, cfg); err != nil {
		return tree, err
	}

	return tree, nil
}

// applyProfile overlays the named profile: package list and pacman.conf
// replace their base counterparts, the rootfs fragment merges with
// last-writer-wins on files and union on directories. A missing profile is a
// recorded warning, not a failure.
func (c *Composer) applyProfile(tree *Tree, cfg config.BuildConfig) error {
	logger := logging.Ensure(c.Logger)

	p, err := profile.Load(c.ProfilesDir, cfg.BuildProfile)
	if err != nil {
		if os.IsNotExist(err) {
			warning := fmt.Sprintf("profile %q not found, composing from base template only", cfg.BuildProfile)
			logger.Warn(warning, "profiles_dir", c.ProfilesDir)
			tree.Warnings = append(tree.Warnings, warning)
			return nil
		}
		return &ComposeError{Step: "profile", Err: err}
	}

	if path := p.PackageListPath(); path != "" {
		if err := copyFileReplacing(path, tree.PackageList(cfg.Architecture.String())); err != nil {
			return &ComposeError{Step: "profile package list", Err: err}
		}
	}
	if path := p.PacmanConfPath(); path != "" {
		if err := copyFileReplacing(path, tree.PacmanConf()); err != nil {
			return &ComposeError{Step: "profile pacman.conf", Err: err}
		}
	}
	if path := p.RootfsPath(); path != "" {
		if err := CopyTree(path, tree.RootFS()); err != nil {
			return &ComposeError{Step: "profile rootfs", Err: err}
		}
	}

	logger.Info("profile overlaid", "profile", p.Name,
		"packages", p.HasPackageList, "pacman_conf", p.HasPacmanConf, "rootfs", p.HasRootfs)
	return nil
}

// refreshBootloaders purges the default-file denylist, restores the
// bootloader directories from the pristine template, and rebrands their
// configuration text.
func (c *Composer) refreshBootloaders(tree *Tree, cfg config.BuildConfig) error {
	for _, rel := range defaultPurgeList {
		if err := os.RemoveAll(filepath.Join(tree.Root, rel)); err != nil {
			return &ComposeError{Step: "purge defaults", Err: err}
		}
	}

	for _, dir := range bootloaderDirs {
		src := filepath.Join(c.BaseTemplate, dir)
		if !dirExists(src) {
			continue
		}
		if err := CopyTree(src, filepath.Join(tree.Root, dir)); err != nil {
			return &ComposeError{Step: "bootloader " + dir, Err: err}
		}
		if err := c.rebrandBootloaderConfigs(filepath.Join(tree.Root, dir), cfg); err != nil {
			return &ComposeError{Step: "bootloader " + dir, Err: err}
		}
	}
	return nil
}

// rebrandBootloaderConfigs replaces the generic product token with the
// configured hostname and the generic distribution name with the brand name
// in every bootloader config under dir.
func (c *Composer) rebrandBootloaderConfigs(dir string, cfg config.BuildConfig) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		switch filepath.Ext(path) {
		case ".cfg", ".conf":
		default:
			return nil
		}
		return patchConfFile(path, func(content string) string {
			content = strings.ReplaceAll(content, config.ProductName, cfg.Hostname)
			return strings.ReplaceAll(content, genericDistroName, config.BrandName)
		})
	})
}

// patchPackageManagerConf enables parallel downloads, the optional channels,
// and wires in the custom local repository.
func (c *Composer) patchPackageManagerConf(ctx context.Context, tree *Tree, cfg config.BuildConfig) error {
	logger := logging.Ensure(c.Logger)
	confPath := tree.PacmanConf()

	err := patchConfFile(confPath, func(content string) string {
		content = EnableDirective(content, "ParallelDownloads")
		if cfg.EnableTestingRepo {
			content, _ = EnableChannel(content, "testing")
		}
		if cfg.Architecture.HasMultilib() {
			content, _ = EnableChannel(content, "multilib")
		}
		return content
	})
	if err != nil {
		return &ComposeError{Step: "package-manager config", Err: err}
	}

	if !cfg.EnableCustomRepo {
		return nil
	}
	if !dirExists(c.CustomRepoSource) {
		warning := fmt.Sprintf("custom repository source %s absent, skipping", c.CustomRepoSource)
		logger.Warn(warning)
		tree.Warnings = append(tree.Warnings, warning)
		return nil
	}

	if err := os.MkdirAll(c.CustomRepoDir, 0o755); err != nil {
		return &ComposeError{Step: "custom repository", Err: err}
	}
	if err := CopyTree(c.CustomRepoSource, c.CustomRepoDir); err != nil {
		return &ComposeError{Step: "custom repository", Err: err}
	}
	if err := c.Tools.BuildRepoIndex(ctx, CustomRepoName, c.CustomRepoDir); err != nil {
		return &ComposeError{Step: "custom repository index", Err: err}
	}
	err = patchConfFile(confPath, func(content string) string {
		return AppendRepo(content, CustomRepoName, "Optional TrustAll", c.CustomRepoDir)
	})
	if err != nil {
		return &ComposeError{Step: "custom repository stanza", Err: err}
	}
	logger.Info("custom repository wired in", "dir", c.CustomRepoDir)
	return nil
}

func copyFileReplacing(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return copyFile(src, dst, info.Mode().Perm())
}
