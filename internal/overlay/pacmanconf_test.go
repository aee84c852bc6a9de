package overlay

import (
	"strings"
	"testing"
)

const sampleConf = `[options]
HoldPkg = pacman glibc
#ParallelDownloads = 5
Architecture = auto

[core]
Include = /etc/pacman.d/mirrorlist

#[testing]
#Include = /etc/pacman.d/mirrorlist

#[multilib]
#Include = /etc/pacman.d/mirrorlist
`

func TestEnableDirective(t *testing.T) {
	patched := EnableDirective(sampleConf, "ParallelDownloads")
	if !strings.Contains(patched, "\nParallelDownloads = 5\n") {
		t.Fatalf("directive not uncommented:\n%s", patched)
	}
	if strings.Contains(patched, "#ParallelDownloads") {
		t.Fatalf("commented directive still present")
	}
}

func TestEnableDirectiveUnknownLeavesContentUntouched(t *testing.T) {
	if patched := EnableDirective(sampleConf, "NoSuchOption"); patched != sampleConf {
		t.Fatalf("content changed for unknown directive")
	}
}

func TestEnableChannel(t *testing.T) {
	patched, found := EnableChannel(sampleConf, "testing")
	if !found {
		t.Fatal("testing channel not found")
	}
	if !strings.Contains(patched, "\n[testing]\nInclude = /etc/pacman.d/mirrorlist\n") {
		t.Fatalf("testing channel not uncommented:\n%s", patched)
	}
	// The multilib block must stay commented.
	if !strings.Contains(patched, "#[multilib]") {
		t.Fatalf("unrelated channel was modified:\n%s", patched)
	}
}

func TestEnableChannelPreservesEverythingElse(t *testing.T) {
	patched, _ := EnableChannel(sampleConf, "multilib")

	original := strings.Split(sampleConf, "\n")
	result := strings.Split(patched, "\n")
	if len(original) != len(result) {
		t.Fatalf("line count changed: %d vs %d", len(original), len(result))
	}
	changed := 0
	for i := range original {
		if original[i] != result[i] {
			changed++
		}
	}
	if changed != 2 {
		t.Fatalf("expected exactly 2 changed lines, got %d", changed)
	}
}

func TestEnableChannelMissing(t *testing.T) {
	patched, found := EnableChannel(sampleConf, "ghost-channel")
	if found {
		t.Fatal("reported a channel that does not exist")
	}
	if patched != sampleConf {
		t.Fatal("content changed for missing channel")
	}
}

func TestAppendRepo(t *testing.T) {
	patched := AppendRepo(sampleConf, "isoforge", "Optional TrustAll", "/var/cache/isoforge/repo")
	if !strings.HasPrefix(patched, sampleConf) {
		t.Fatal("existing content was modified")
	}
	want := "[isoforge]\nSigLevel = Optional TrustAll\nServer = file:///var/cache/isoforge/repo\n"
	if !strings.HasSuffix(patched, want) {
		t.Fatalf("repo stanza malformed:\n%s", patched)
	}
}
