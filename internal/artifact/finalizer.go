// Package artifact locates, renames, verifies, signs, and reports on the
// produced image.
package artifact

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kdomanski/iso9660"

	"isoforge/internal/config"
	"isoforge/internal/logging"
	"isoforge/internal/runner"
)

// ErrorKind classifies fatal finalization failures. Structural-validation
// and signing problems are warnings, never errors.
type ErrorKind int

const (
	// NoArtifact means the output directory holds no produced image.
	NoArtifact ErrorKind = iota
	// AmbiguousArtifact means more than one candidate image was found.
	AmbiguousArtifact
	// ChecksumMismatch means a checksum failed re-verification.
	ChecksumMismatch
)

// FinalizeError is a fatal post-build artifact problem.
type FinalizeError struct {
	Kind   ErrorKind
	Detail string
}

func (e *FinalizeError) Error() string {
	switch e.Kind {
	case NoArtifact:
		return "finalize: no image artifact found: " + e.Detail
	case AmbiguousArtifact:
		return "finalize: multiple image artifacts found: " + e.Detail
	case ChecksumMismatch:
		return "finalize: checksum mismatch: " + e.Detail
	default:
		return "finalize: " + e.Detail
	}
}

// Artifact is the finalized image plus its derived metadata. Immutable once
// Finalize returns.
type Artifact struct {
	Path      string
	Name      string
	SizeBytes int64
	SHA256    string
	MD5       string
	// SignaturePath is empty when the artifact was not signed.
	SignaturePath string
	ReportPath    string
	Warnings      []string
}

// Finalizer post-processes the assembler's output directory.
type Finalizer struct {
	Logger *slog.Logger
	Tools  runner.Toolchain
	// Now supplies the build date used in the artifact name; nil means
	// time.Now.
	Now func() time.Time
	// PackageListPath, when set, is copied next to the artifact for the
	// record of what went into the image.
	PackageListPath string
}

// Finalize locates the single produced image, renames it deterministically,
// computes and re-verifies its checksums, structurally validates it (best
// effort), optionally signs it, and writes the build report.
//
// A same-named artifact from an earlier run on the same day is overwritten;
// re-runs converge on one canonical name per day.
func (f *Finalizer) Finalize(ctx context.Context, outputDir string, cfg config.BuildConfig) (*Artifact, error) {
	logger := logging.Ensure(f.Logger)

	name := fmt.Sprintf("%s-%s-%s-%s.iso",
		cfg.ISONamePrefix, cfg.Edition, cfg.Architecture, f.now().Format("2006.01.02"))
	finalPath := filepath.Join(outputDir, name)

	located, err := f.locate(outputDir, finalPath)
	if err != nil {
		return nil, err
	}
	if located != finalPath {
		if err := os.Rename(located, finalPath); err != nil {
			return nil, fmt.Errorf("rename artifact: %w", err)
		}
	}

	info, err := os.Stat(finalPath)
	if err != nil {
		return nil, fmt.Errorf("stat artifact: %w", err)
	}
	art := &Artifact{Path: finalPath, Name: name, SizeBytes: info.Size()}

	if cfg.SkipVerify {
		logger.Warn("checksum verification skipped")
	} else {
		if err := f.checksum(art); err != nil {
			return nil, err
		}
		if err := validateImageStructure(finalPath); err != nil {
			warning := fmt.Sprintf("structural validation inconclusive: %v", err)
			logger.Warn(warning)
			art.Warnings = append(art.Warnings, warning)
		}
	}

	if cfg.Sign {
		f.sign(ctx, art, cfg)
	}

	if f.PackageListPath != "" {
		dest := filepath.Join(outputDir, strings.TrimSuffix(name, ".iso")+".pkglist.txt")
		if err := copyPackageList(f.PackageListPath, dest); err != nil {
			warning := fmt.Sprintf("package list copy failed: %v", err)
			logger.Warn(warning)
			art.Warnings = append(art.Warnings, warning)
		}
	}

	if err := f.writeReport(art, cfg); err != nil {
		// The report is advisory and must never fail the pipeline.
		logger.Warn("report writing failed", "error", err)
		art.Warnings = append(art.Warnings, fmt.Sprintf("report not written: %v", err))
	}

	logger.Info("artifact finalized", "name", art.Name, "size", art.SizeBytes, "signed", art.SignaturePath != "")
	return art, nil
}

// locate finds the single freshly assembled image. The canonical dated name
// is never a candidate: a leftover from an earlier run on the same day is the
// rename target and gets overwritten, so re-runs converge on one name per day.
func (f *Finalizer) locate(outputDir, finalPath string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(outputDir, "*.iso"))
	if err != nil {
		return "", fmt.Errorf("scan output directory: %w", err)
	}
	var candidates []string
	for _, m := range matches {
		if m == finalPath {
			continue
		}
		candidates = append(candidates, m)
	}
	switch len(candidates) {
	case 0:
		return "", &FinalizeError{Kind: NoArtifact, Detail: outputDir}
	case 1:
		return candidates[0], nil
	default:
		return "", &FinalizeError{Kind: AmbiguousArtifact, Detail: strings.Join(candidates, ", ")}
	}
}

// checksum computes both digests, writes the sidecar files, then re-verifies
// each sidecar against the artifact it describes.
func (f *Finalizer) checksum(art *Artifact) error {
	sha, err := digestFile(art.Path, sha256.New())
	if err != nil {
		return fmt.Errorf("compute sha256: %w", err)
	}
	legacy, err := digestFile(art.Path, md5.New())
	if err != nil {
		return fmt.Errorf("compute md5: %w", err)
	}
	art.SHA256 = sha
	art.MD5 = legacy

	sidecars := []struct {
		ext    string
		digest string
	}{
		{".sha256", sha},
		{".md5", legacy},
	}
	for _, sc := range sidecars {
		path := art.Path + sc.ext
		content := fmt.Sprintf("%s  %s\n", sc.digest, art.Name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s sidecar: %w", sc.ext, err)
		}
		if err := VerifySidecar(art.Path, path); err != nil {
			return err
		}
	}
	return nil
}

// VerifySidecar recomputes the digest named by the sidecar's extension and
// compares it to the recorded value.
func VerifySidecar(artifactPath, sidecarPath string) error {
	data, err := os.ReadFile(sidecarPath)
	if err != nil {
		return fmt.Errorf("read sidecar: %w", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return &FinalizeError{Kind: ChecksumMismatch, Detail: sidecarPath + " is empty"}
	}
	recorded := fields[0]

	var h hash.Hash
	switch filepath.Ext(sidecarPath) {
	case ".sha256":
		h = sha256.New()
	case ".md5":
		h = md5.New()
	default:
		return fmt.Errorf("unknown sidecar type %s", sidecarPath)
	}
	actual, err := digestFile(artifactPath, h)
	if err != nil {
		return err
	}
	if actual != recorded {
		return &FinalizeError{
			Kind:   ChecksumMismatch,
			Detail: fmt.Sprintf("%s: recorded %s, actual %s", filepath.Base(sidecarPath), recorded, actual),
		}
	}
	return nil
}

// sign produces a detached signature. Every failure here is a warning: an
// unsigned artifact is still valid output.
func (f *Finalizer) sign(ctx context.Context, art *Artifact, cfg config.BuildConfig) {
	logger := logging.Ensure(f.Logger)

	keyID := cfg.SigningKeyID
	if keyID == "" {
		keyID = f.Tools.DefaultSigningKey(ctx)
	}
	if keyID == "" {
		warning := "no signing key available, artifact left unsigned"
		logger.Warn(warning)
		art.Warnings = append(art.Warnings, warning)
		return
	}
	if err := f.Tools.DetachSign(ctx, art.Path, keyID); err != nil {
		warning := fmt.Sprintf("signing failed: %v", err)
		logger.Warn(warning)
		art.Warnings = append(art.Warnings, warning)
		return
	}
	art.SignaturePath = art.Path + ".asc"
	logger.Info("artifact signed", "key", keyID)
}

// validateImageStructure opens the image and reads its root directory. Best
// effort: an error proves only that validation was inconclusive, not that the
// image is corrupt.
func validateImageStructure(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	image, err := iso9660.OpenImage(file)
	if err != nil {
		return err
	}
	root, err := image.RootDir()
	if err != nil {
		return err
	}
	if _, err := root.GetChildren(); err != nil {
		return err
	}
	return nil
}

func (f *Finalizer) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

func digestFile(path string, h hash.Hash) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	if _, err := io.Copy(h, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyPackageList(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
