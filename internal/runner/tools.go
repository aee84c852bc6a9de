package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
)

// Tool names invoked by the pipeline. The image assembler and repository
// indexer come from the distribution's release tooling.
const (
	PackageManagerTool = "pacman"
	RepoIndexTool      = "repo-add"
	ImageAssemblerTool = "mkarchiso"
	SignTool           = "gpg"
)

// RequiredTools lists every external binary the pipeline shells out to.
// The signing tool is absent on purpose: signing is optional.
func RequiredTools() []string {
	return []string{PackageManagerTool, RepoIndexTool, ImageAssemblerTool}
}

// Toolchain wraps collaborator invocations behind narrow methods so stages do
// not build argument lists inline.
type Toolchain struct {
	Runner CommandRunner
}

// InstallPackages installs the named packages, skipping ones already present.
func (t Toolchain) InstallPackages(ctx context.Context, packages ...string) error {
	if len(packages) == 0 {
		return nil
	}
	args := append([]string{"-S", "--needed", "--noconfirm"}, packages...)
	if _, err := t.Runner.Run(ctx, PackageManagerTool, args...); err != nil {
		return fmt.Errorf("install packages: %w", err)
	}
	return nil
}

// BuildRepoIndex regenerates the package database over a directory of
// packages. The database file is created inside packageDir.
func (t Toolchain) BuildRepoIndex(ctx context.Context, repoName, packageDir string) error {
	dbPath := filepath.Join(packageDir, repoName+".db.tar.gz")
	args := []string{"-n", "-R", dbPath}
	matches, err := filepath.Glob(filepath.Join(packageDir, "*.pkg.tar.*"))
	if err != nil {
		return fmt.Errorf("scan package directory: %w", err)
	}
	args = append(args, matches...)
	if _, err := t.Runner.Run(ctx, RepoIndexTool, args...); err != nil {
		return fmt.Errorf("build repository index: %w", err)
	}
	return nil
}

// AssembleImage invokes the native image assembler over the composed tree.
// Jobs and compression are passed through verbatim; the assembler owns any
// internal parallelism.
func (t Toolchain) AssembleImage(ctx context.Context, treePath, workDir, outputDir string, jobs, compression int) error {
	args := []string{
		"-v",
		"-w", workDir,
		"-o", outputDir,
		"-j", strconv.Itoa(jobs),
		"-c", "zstd -" + strconv.Itoa(compression),
		treePath,
	}
	if _, err := t.Runner.Run(ctx, ImageAssemblerTool, args...); err != nil {
		return fmt.Errorf("assemble image: %w", err)
	}
	return nil
}

// DetachSign produces a detached armored signature next to path. An empty
// keyID selects the signer's default key.
func (t Toolchain) DetachSign(ctx context.Context, path, keyID string) error {
	args := []string{"--batch", "--yes", "--detach-sign", "--armor"}
	if keyID != "" {
		args = append(args, "--local-user", keyID)
	}
	args = append(args, path)
	if _, err := t.Runner.Run(ctx, SignTool, args...); err != nil {
		return fmt.Errorf("sign artifact: %w", err)
	}
	return nil
}

// DefaultSigningKey returns the id of the first secret key available to the
// signing tool, or "" when none exists.
func (t Toolchain) DefaultSigningKey(ctx context.Context) string {
	out, err := t.Runner.Run(ctx, SignTool, "--list-secret-keys", "--with-colons")
	if err != nil {
		return ""
	}
	return parseFirstSecretKey(out)
}
