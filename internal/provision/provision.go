// Package provision generates the account, group, and shadow tables for the
// composed tree, plus the hostname and hosts files.
package provision

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"isoforge/internal/config"
	"isoforge/internal/logging"
	"isoforge/internal/overlay"
)

// ErrorKind classifies provisioning failures.
type ErrorKind int

const (
	// HashUnavailable means the password hasher could not produce a hash.
	// This is fatal: a build must never fall back to a known credential.
	HashUnavailable ErrorKind = iota
	// WriteFailure means a generated file could not be written.
	WriteFailure
)

// Error is a fatal, security-sensitive provisioning failure.
type Error struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	kind := "write failure"
	if e.Kind == HashUnavailable {
		kind = "password hasher unavailable"
	}
	if e.Err != nil {
		return fmt.Sprintf("provision: %s: %s: %v", kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("provision: %s: %s", kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// PrimaryUID is the fixed uid/gid of the configured primary user. It must
// match the user's home-directory path across every generated table.
const PrimaryUID = 1000

const loginShell = "/bin/bash"

// systemGroup is one row of the fixed supplementary-group policy. The set
// and the membership flags are policy for the target OS login stack, not
// user-configurable.
type systemGroup struct {
	Name          string
	GID           int
	PrimaryMember bool
}

var systemGroups = []systemGroup{
	{Name: "wheel", GID: 998, PrimaryMember: true},
	{Name: "storage", GID: 988, PrimaryMember: true},
	{Name: "audio", GID: 995, PrimaryMember: true},
	{Name: "video", GID: 985, PrimaryMember: true},
	{Name: "network", GID: 984, PrimaryMember: true},
	{Name: "power", GID: 983, PrimaryMember: true},
	{Name: "optical", GID: 982, PrimaryMember: true},
	{Name: "lp", GID: 987, PrimaryMember: false},
	{Name: "scanner", GID: 986, PrimaryMember: false},
}

// AccountRecord is one generated system account.
type AccountRecord struct {
	Name   string
	UID    int
	GID    int
	Home   string
	Shell  string
	Hash   string
	Groups []string
}

// Provisioner writes the generated credential files into the composed tree.
type Provisioner struct {
	Logger *slog.Logger
	Hasher PasswordHasher
	// Now supplies the clock for password-aging fields; nil means
	// time.Now.
	Now func() time.Time
}

// Provision derives the account records from cfg and writes the passwd,
// group, shadow, and gshadow tables plus hostname and hosts into the tree.
func (p *Provisioner) Provision(tree overlay.Tree, cfg config.BuildConfig) error {
	logger := logging.Ensure(p.Logger)
	if p.Hasher == nil {
		return &Error{Kind: HashUnavailable, Detail: "no hasher configured"}
	}

	rootHash, err := p.Hasher.Hash(cfg.RootPassword)
	if err != nil {
		return err
	}
	userHash, err := p.Hasher.Hash(cfg.UserPassword)
	if err != nil {
		return err
	}

	accounts := []AccountRecord{
		{Name: "root", UID: 0, GID: 0, Home: "/root", Shell: loginShell, Hash: rootHash},
		{
			Name:   cfg.Username,
			UID:    PrimaryUID,
			GID:    PrimaryUID,
			Home:   "/home/" + cfg.Username,
			Shell:  loginShell,
			Hash:   userHash,
			Groups: memberGroups(),
		},
	}

	etc := filepath.Join(tree.RootFS(), "etc")
	if err := os.MkdirAll(etc, 0o755); err != nil {
		return &Error{Kind: WriteFailure, Detail: "etc directory", Err: err}
	}

	files := []struct {
		name    string
		content string
		mode    os.FileMode
	}{
		{"passwd", passwdTable(accounts), 0o644},
		{"group", groupTable(accounts, cfg), 0o644},
		{"shadow", shadowTable(accounts, p.now()), 0o600},
		{"gshadow", gshadowTable(accounts, cfg), 0o600},
		{"hostname", cfg.Hostname + "\n", 0o644},
		{"hosts", hostsFile(cfg.Hostname), 0o644},
	}
	for _, f := range files {
		path := filepath.Join(etc, f.name)
		if err := os.WriteFile(path, []byte(f.content), f.mode); err != nil {
			return &Error{Kind: WriteFailure, Detail: f.name, Err: err}
		}
	}

	logger.Info("credentials provisioned", "accounts", len(accounts), "user", cfg.Username)
	return nil
}

func (p *Provisioner) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func memberGroups() []string {
	var names []string
	for _, g := range systemGroups {
		if g.PrimaryMember {
			names = append(names, g.Name)
		}
	}
	return names
}

func passwdTable(accounts []AccountRecord) string {
	var b strings.Builder
	for _, a := range accounts {
		gecos := ""
		if a.Name == "root" {
			gecos = "root"
		}
		fmt.Fprintf(&b, "%s:x:%d:%d:%s:%s:%s\n", a.Name, a.UID, a.GID, gecos, a.Home, a.Shell)
	}
	return b.String()
}

func groupTable(accounts []AccountRecord, cfg config.BuildConfig) string {
	var b strings.Builder
	b.WriteString("root:x:0:\n")
	for _, g := range systemGroups {
		members := ""
		if g.PrimaryMember {
			members = cfg.Username
		}
		fmt.Fprintf(&b, "%s:x:%d:%s\n", g.Name, g.GID, members)
	}
	fmt.Fprintf(&b, "%s:x:%d:\n", cfg.Username, PrimaryUID)
	return b.String()
}

// shadowTable renders the shadow records with fixed aging policy: change
// allowed immediately, expiry disabled, seven-day warning window.
func shadowTable(accounts []AccountRecord, now time.Time) string {
	lastChange := now.UTC().Unix() / (24 * 60 * 60)
	var b strings.Builder
	for _, a := range accounts {
		fmt.Fprintf(&b, "%s:%s:%d:0:99999:7:::\n", a.Name, a.Hash, lastChange)
	}
	return b.String()
}

func gshadowTable(accounts []AccountRecord, cfg config.BuildConfig) string {
	var b strings.Builder
	b.WriteString("root:::\n")
	for _, g := range systemGroups {
		members := ""
		if g.PrimaryMember {
			members = cfg.Username
		}
		fmt.Fprintf(&b, "%s:!::%s\n", g.Name, members)
	}
	fmt.Fprintf(&b, "%s:!::\n", cfg.Username)
	return b.String()
}

func hostsFile(hostname string) string {
	var b strings.Builder
	b.WriteString("127.0.0.1\tlocalhost\n")
	b.WriteString("::1\t\tlocalhost\n")
	fmt.Fprintf(&b, "127.0.1.1\t%s.localdomain\t%s\n", hostname, hostname)
	return b.String()
}

// UIDFor returns the uid recorded for name in a rendered passwd table, or -1.
// Exposed for verification in tests and the build report.
func UIDFor(passwdContent, name string) int {
	for _, line := range strings.Split(passwdContent, "\n") {
		fields := strings.Split(line, ":")
		if len(fields) > 2 && fields[0] == name {
			uid, err := strconv.Atoi(fields[2])
			if err != nil {
				return -1
			}
			return uid
		}
	}
	return -1
}
