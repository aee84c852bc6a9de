package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"isoforge/internal/config"
	"isoforge/internal/runner"
)

func finalizeConfig() config.BuildConfig {
	cfg := config.Defaults()
	cfg.Username = "dev"
	cfg.Hostname = "BOXA"
	return cfg
}

func testFinalizer(fake *runner.FakeRunner) *Finalizer {
	return &Finalizer{
		Tools: runner.Toolchain{Runner: fake},
		Now:   func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func writeImage(t *testing.T, dir, name, content string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFinalizeRenamesDeterministically(t *testing.T) {
	out := t.TempDir()
	writeImage(t, out, "work.iso", "image payload")

	art, err := testFinalizer(&runner.FakeRunner{}).Finalize(context.Background(), out, finalizeConfig())
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if art.Name != "forgeos-base-x86_64-2024.03.01.iso" {
		t.Errorf("artifact name = %s", art.Name)
	}
	if _, err := os.Stat(filepath.Join(out, "work.iso")); !os.IsNotExist(err) {
		t.Error("original assembler output should have been renamed away")
	}
	if art.SizeBytes != int64(len("image payload")) {
		t.Errorf("size = %d", art.SizeBytes)
	}
}

func TestFinalizeWritesVerifiedSidecars(t *testing.T) {
	out := t.TempDir()
	writeImage(t, out, "work.iso", "image payload")

	art, err := testFinalizer(&runner.FakeRunner{}).Finalize(context.Background(), out, finalizeConfig())
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	for _, ext := range []string{".sha256", ".md5"} {
		data, err := os.ReadFile(art.Path + ext)
		if err != nil {
			t.Fatalf("sidecar %s missing: %v", ext, err)
		}
		fields := strings.Fields(string(data))
		if len(fields) != 2 || fields[1] != art.Name {
			t.Errorf("sidecar %s malformed: %q", ext, data)
		}
		if err := VerifySidecar(art.Path, art.Path+ext); err != nil {
			t.Errorf("sidecar %s does not verify: %v", ext, err)
		}
	}
	if len(art.SHA256) != 64 || len(art.MD5) != 32 {
		t.Errorf("digest lengths: sha256=%d md5=%d", len(art.SHA256), len(art.MD5))
	}
}

func TestVerifySidecarDetectsTampering(t *testing.T) {
	out := t.TempDir()
	writeImage(t, out, "work.iso", "image payload")

	art, err := testFinalizer(&runner.FakeRunner{}).Finalize(context.Background(), out, finalizeConfig())
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	// Flip one byte of the artifact after the sidecars were written.
	data, err := os.ReadFile(art.Path)
	if err != nil {
		t.Fatal(err)
	}
	data[0] ^= 0xff
	if err := os.WriteFile(art.Path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	verr := VerifySidecar(art.Path, art.Path+".sha256")
	var ferr *FinalizeError
	if !errors.As(verr, &ferr) || ferr.Kind != ChecksumMismatch {
		t.Fatalf("expected ChecksumMismatch, got %v", verr)
	}
}

func TestFinalizeSameDayRerunOverwrites(t *testing.T) {
	out := t.TempDir()
	canonical := "forgeos-base-x86_64-2024.03.01.iso"
	writeImage(t, out, canonical, "stale payload")
	if err := os.WriteFile(filepath.Join(out, canonical+".sha256"), []byte("stalestale  "+canonical+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	writeImage(t, out, "work.iso", "fresh payload")

	art, err := testFinalizer(&runner.FakeRunner{}).Finalize(context.Background(), out, finalizeConfig())
	if err != nil {
		t.Fatalf("same-day re-run must overwrite, got %v", err)
	}
	if art.Name != canonical {
		t.Errorf("artifact name = %s", art.Name)
	}
	data, err := os.ReadFile(art.Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "fresh payload" {
		t.Errorf("stale artifact survived the overwrite: %q", data)
	}
	// Sidecars describe the fresh artifact, not the stale run.
	if err := VerifySidecar(art.Path, art.Path+".sha256"); err != nil {
		t.Errorf("rewritten sidecar does not verify: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "work.iso")); !os.IsNotExist(err) {
		t.Error("assembler output should have been renamed away")
	}
}

func TestFinalizeOnlyStaleCanonicalIsNoArtifact(t *testing.T) {
	out := t.TempDir()
	writeImage(t, out, "forgeos-base-x86_64-2024.03.01.iso", "stale payload")

	_, err := testFinalizer(&runner.FakeRunner{}).Finalize(context.Background(), out, finalizeConfig())
	var ferr *FinalizeError
	if !errors.As(err, &ferr) || ferr.Kind != NoArtifact {
		t.Fatalf("a stale canonical artifact alone must not finalize, got %v", err)
	}
}

func TestFinalizeNoArtifact(t *testing.T) {
	out := t.TempDir()
	_, err := testFinalizer(&runner.FakeRunner{}).Finalize(context.Background(), out, finalizeConfig())
	var ferr *FinalizeError
	if !errors.As(err, &ferr) || ferr.Kind != NoArtifact {
		t.Fatalf("expected NoArtifact, got %v", err)
	}
}

func TestFinalizeAmbiguousArtifact(t *testing.T) {
	out := t.TempDir()
	writeImage(t, out, "first.iso", "one")
	writeImage(t, out, "second.iso", "two")

	_, err := testFinalizer(&runner.FakeRunner{}).Finalize(context.Background(), out, finalizeConfig())
	var ferr *FinalizeError
	if !errors.As(err, &ferr) || ferr.Kind != AmbiguousArtifact {
		t.Fatalf("expected AmbiguousArtifact, got %v", err)
	}
}

func TestFinalizeSkipVerify(t *testing.T) {
	out := t.TempDir()
	writeImage(t, out, "work.iso", "image payload")

	cfg := finalizeConfig()
	cfg.SkipVerify = true
	art, err := testFinalizer(&runner.FakeRunner{}).Finalize(context.Background(), out, cfg)
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if art.SHA256 != "" || art.MD5 != "" {
		t.Error("digests computed despite skip-verify")
	}
	if _, err := os.Stat(art.Path + ".sha256"); !os.IsNotExist(err) {
		t.Error("sidecar written despite skip-verify")
	}
}

func TestFinalizeSignsWithConfiguredKey(t *testing.T) {
	out := t.TempDir()
	writeImage(t, out, "work.iso", "image payload")

	fake := &runner.FakeRunner{}
	cfg := finalizeConfig()
	cfg.Sign = true
	cfg.SigningKeyID = "CAFEBABE"
	art, err := testFinalizer(fake).Finalize(context.Background(), out, cfg)
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if art.SignaturePath != art.Path+".asc" {
		t.Errorf("signature path = %q", art.SignaturePath)
	}

	signed := false
	for _, call := range fake.Calls {
		if call[0] != runner.SignTool {
			continue
		}
		signed = true
		joined := strings.Join(call, " ")
		if !strings.Contains(joined, "--local-user CAFEBABE") {
			t.Errorf("configured key not passed: %v", call)
		}
	}
	if !signed {
		t.Error("signing tool never invoked")
	}
}

func TestFinalizeSigningFailureIsWarning(t *testing.T) {
	out := t.TempDir()
	writeImage(t, out, "work.iso", "image payload")

	fake := &runner.FakeRunner{Results: map[string]runner.FakeResult{
		runner.SignTool: {Output: "gpg: signing failed", Err: errors.New("exit status 2")},
	}}
	cfg := finalizeConfig()
	cfg.Sign = true
	cfg.SigningKeyID = "CAFEBABE"
	art, err := testFinalizer(fake).Finalize(context.Background(), out, cfg)
	if err != nil {
		t.Fatalf("a signing failure must not fail finalization: %v", err)
	}
	if art.SignaturePath != "" {
		t.Error("signature recorded despite failure")
	}
	found := false
	for _, w := range art.Warnings {
		if strings.Contains(w, "signing failed") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v", art.Warnings)
	}
}

func TestFinalizeSignDefaultKeyDiscovery(t *testing.T) {
	out := t.TempDir()
	writeImage(t, out, "work.iso", "image payload")

	fake := &runner.FakeRunner{Results: map[string]runner.FakeResult{
		runner.SignTool: {Output: "sec:u:4096:1:0123456789ABCDEF:::::::::\n"},
	}}
	cfg := finalizeConfig()
	cfg.Sign = true
	art, err := testFinalizer(fake).Finalize(context.Background(), out, cfg)
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if art.SignaturePath == "" {
		t.Error("artifact left unsigned despite an available key")
	}
	keyPassed := false
	for _, call := range fake.Calls {
		for i, arg := range call {
			if arg == "--local-user" && i+1 < len(call) && call[i+1] == "0123456789ABCDEF" {
				keyPassed = true
			}
		}
	}
	if !keyPassed {
		t.Error("discovered key not used for signing")
	}
}

func TestFinalizeCopiesPackageList(t *testing.T) {
	out := t.TempDir()
	writeImage(t, out, "work.iso", "image payload")

	listPath := filepath.Join(t.TempDir(), "packages.x86_64")
	if err := os.WriteFile(listPath, []byte("base\nlinux\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	f := testFinalizer(&runner.FakeRunner{})
	f.PackageListPath = listPath
	art, err := f.Finalize(context.Background(), out, finalizeConfig())
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	copied := strings.TrimSuffix(art.Path, ".iso") + ".pkglist.txt"
	data, err := os.ReadFile(copied)
	if err != nil {
		t.Fatalf("package list not copied: %v", err)
	}
	if string(data) != "base\nlinux\n" {
		t.Errorf("package list content = %q", data)
	}
}

func TestFinalizeReportContents(t *testing.T) {
	out := t.TempDir()
	writeImage(t, out, "work.iso", "image payload")

	cfg := finalizeConfig()
	art, err := testFinalizer(&runner.FakeRunner{}).Finalize(context.Background(), out, cfg)
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	data, err := os.ReadFile(art.ReportPath)
	if err != nil {
		t.Fatalf("report missing: %v", err)
	}
	report := string(data)
	for _, want := range []string{art.Name, "BOXA", "dev", art.SHA256, "unsigned"} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
}
