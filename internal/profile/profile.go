// Package profile discovers named build profiles: bundles of a package list,
// an optional package-manager configuration fragment, and an optional
// filesystem fragment overlaid onto the base template.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Well-known entries inside a profile directory.
const (
	PackageListFile = "packages.txt"
	PacmanConfFile  = "pacman.conf"
	RootfsDir       = "rootfs"
	MetadataFile    = "profile.yaml"
)

// Metadata is the optional profile.yaml descriptor.
type Metadata struct {
	Description string   `yaml:"description"`
	Maintainer  string   `yaml:"maintainer"`
	ExtraGroups []string `yaml:"extra_groups"`
}

// Profile is one discovered build profile.
type Profile struct {
	Name string
	Path string
	Meta Metadata

	HasPackageList bool
	HasPacmanConf  bool
	HasRootfs      bool
}

// PackageListPath returns the path of the profile's package list, or "" when
// the profile does not carry one.
func (p Profile) PackageListPath() string {
	if !p.HasPackageList {
		return ""
	}
	return filepath.Join(p.Path, PackageListFile)
}

// PacmanConfPath returns the path of the profile's package-manager
// configuration fragment, or "".
func (p Profile) PacmanConfPath() string {
	if !p.HasPacmanConf {
		return ""
	}
	return filepath.Join(p.Path, PacmanConfFile)
}

// RootfsPath returns the path of the profile's filesystem fragment, or "".
func (p Profile) RootfsPath() string {
	if !p.HasRootfs {
		return ""
	}
	return filepath.Join(p.Path, RootfsDir)
}

// Load reads the named profile from profilesDir. os.ErrNotExist is returned
// when no such profile directory exists; callers decide whether that is fatal.
func Load(profilesDir, name string) (Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Profile{}, fmt.Errorf("profile name must not be empty")
	}
	path := filepath.Join(profilesDir, name)
	info, err := os.Stat(path)
	if err != nil {
		return Profile{}, err
	}
	if !info.IsDir() {
		return Profile{}, fmt.Errorf("profile %s is not a directory", path)
	}
	return describe(name, path)
}

// List discovers every profile under profilesDir, sorted by name. A missing
// directory yields an empty list.
func List(profilesDir string) ([]Profile, error) {
	entries, err := os.ReadDir(profilesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read profiles directory: %w", err)
	}

	var profiles []Profile
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		p, err := describe(entry.Name(), filepath.Join(profilesDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Name < profiles[j].Name })
	return profiles, nil
}

func describe(name, path string) (Profile, error) {
	p := Profile{Name: name, Path: path}

	p.HasPackageList = fileExists(filepath.Join(path, PackageListFile))
	p.HasPacmanConf = fileExists(filepath.Join(path, PacmanConfFile))
	if info, err := os.Stat(filepath.Join(path, RootfsDir)); err == nil && info.IsDir() {
		p.HasRootfs = true
	}

	metaPath := filepath.Join(path, MetadataFile)
	data, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return Profile{}, fmt.Errorf("read %s: %w", metaPath, err)
	}
	if err := yaml.Unmarshal(data, &p.Meta); err != nil {
		return Profile{}, fmt.Errorf("parse %s: %w", metaPath, err)
	}
	return p, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
