// Package services edits the boot-time service activation links inside the
// composed tree. The removal and addition tables are fixed policy and
// disjoint by construction, so no conflicting edit is possible.
package services

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"isoforge/internal/logging"
	"isoforge/internal/overlay"
)

const (
	systemUnitDir = "etc/systemd/system"
	unitStoreDir  = "/usr/lib/systemd/system"
)

// ServiceLink states that Unit starts via the wants directory of Target.
type ServiceLink struct {
	Unit   string
	Target string
}

// LinkPath returns the activation symlink location relative to the tree's
// root filesystem.
func (l ServiceLink) LinkPath() string {
	return filepath.Join(systemUnitDir, l.Target+".wants", l.Unit)
}

// removals are release-media units that must not survive into the built
// image. Entries may be files, symlinks, or drop-in directories.
var removals = []string{
	systemUnitDir + "/multi-user.target.wants/pacman-init.service",
	systemUnitDir + "/multi-user.target.wants/choose-mirror.service",
	systemUnitDir + "/getty@tty1.service.d",
	systemUnitDir + "/etc-pacman.d-gnupg.mount",
}

// additions are the units enabled in every built image.
var additions = []ServiceLink{
	{Unit: "NetworkManager.service", Target: "multi-user.target"},
	{Unit: "sshd.service", Target: "multi-user.target"},
	{Unit: "systemd-timesyncd.service", Target: "sysinit.target"},
	{Unit: "fstrim.timer", Target: "timers.target"},
}

// Editor applies the activation-link policy to a composed tree.
type Editor struct {
	Logger *slog.Logger
}

// Edit removes the deny-listed activation paths and creates the enable
// symlinks. The operation is idempotent: removing an absent path is a no-op
// and an existing link is recreated rather than treated as an error.
func (e *Editor) Edit(tree overlay.Tree) error {
	logger := logging.Ensure(e.Logger)
	rootfs := tree.RootFS()

	for _, rel := range removals {
		path := filepath.Join(rootfs, rel)
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("remove activation path %s: %w", rel, err)
		}
	}

	for _, link := range additions {
		path := filepath.Join(rootfs, link.LinkPath())
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create wants directory for %s: %w", link.Unit, err)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("replace activation link %s: %w", link.Unit, err)
		}
		if err := os.Symlink(filepath.Join(unitStoreDir, link.Unit), path); err != nil {
			return fmt.Errorf("create activation link %s: %w", link.Unit, err)
		}
	}

	logger.Info("service graph edited", "removed", len(removals), "enabled", len(additions))
	return nil
}

// EnabledLinks returns the addition table; used to verify tree state.
func EnabledLinks() []ServiceLink {
	return append([]ServiceLink(nil), additions...)
}
