package profile

import (
	"os"
	"path/filepath"
	"testing"
)

func writeProfile(t *testing.T, dir, name string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(dir, name, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLoadFullProfile(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "desktop", map[string]string{
		"packages.txt": "base\nplasma\n",
		"pacman.conf":  "[options]\n",
		"rootfs/etc/x": "x\n",
		"profile.yaml": "description: full desktop\nmaintainer: ops\nextra_groups: [games]\n",
	})

	p, err := Load(dir, "desktop")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !p.HasPackageList || !p.HasPacmanConf || !p.HasRootfs {
		t.Errorf("discovery flags: %+v", p)
	}
	if p.PackageListPath() != filepath.Join(dir, "desktop", "packages.txt") {
		t.Errorf("package list path = %s", p.PackageListPath())
	}
	if p.Meta.Description != "full desktop" || p.Meta.Maintainer != "ops" {
		t.Errorf("metadata = %+v", p.Meta)
	}
	if len(p.Meta.ExtraGroups) != 1 || p.Meta.ExtraGroups[0] != "games" {
		t.Errorf("extra groups = %v", p.Meta.ExtraGroups)
	}
}

func TestLoadMinimalProfile(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "min", map[string]string{"packages.txt": "base\n"})

	p, err := Load(dir, "min")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if p.HasPacmanConf || p.HasRootfs {
		t.Errorf("absent entries reported present: %+v", p)
	}
	if p.PacmanConfPath() != "" || p.RootfsPath() != "" {
		t.Error("paths for absent entries must be empty")
	}
}

func TestLoadMissingProfile(t *testing.T) {
	_, err := Load(t.TempDir(), "ghost")
	if !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestLoadEmptyName(t *testing.T) {
	if _, err := Load(t.TempDir(), "  "); err == nil {
		t.Fatal("empty profile name must fail")
	}
}

func TestListSorted(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "zeta", map[string]string{"packages.txt": "base\n"})
	writeProfile(t, dir, "alpha", map[string]string{"packages.txt": "base\n"})
	if err := os.WriteFile(filepath.Join(dir, "stray-file"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	profiles, err := List(dir)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(profiles) != 2 || profiles[0].Name != "alpha" || profiles[1].Name != "zeta" {
		t.Errorf("profiles = %+v", profiles)
	}
}

func TestListMissingDir(t *testing.T) {
	profiles, err := List(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("missing directory must not fail: %v", err)
	}
	if profiles != nil {
		t.Errorf("profiles = %+v", profiles)
	}
}
