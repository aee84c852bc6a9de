package arch

import (
	"fmt"
	"sort"
	"strings"
)

// Architecture identifies the target machine architecture of a built image.
type Architecture string

const (
	X86_64  Architecture = "x86_64"
	I686    Architecture = "i686"
	AArch64 Architecture = "aarch64"
)

// Supported returns the full list of supported architectures.
func Supported() []Architecture {
	return []Architecture{X86_64, I686, AArch64}
}

// IsValid reports whether a matches a supported architecture value.
func (a Architecture) IsValid() bool {
	switch a {
	case X86_64, I686, AArch64:
		return true
	default:
		return false
	}
}

// HasMultilib reports whether the architecture carries the 32-bit
// compatibility package channel. Only x86_64 does; there is no such channel
// for aarch64.
func (a Architecture) HasMultilib() bool {
	return a == X86_64
}

// String returns the architecture as string.
func (a Architecture) String() string {
	return string(a)
}

// Parse returns the canonical Architecture for the provided string or an error
// if unsupported.
func Parse(value string) (Architecture, error) {
	if a := Normalize(value); a != "" {
		return a, nil
	}
	return "", fmt.Errorf("unsupported architecture %q (supported: %s)", value, strings.Join(supportedStrings(), ", "))
}

// Normalize maps a possibly ambiguous string into a canonical Architecture.
// Returns "" when the string cannot be normalized.
func Normalize(value string) Architecture {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(X86_64), "x86-64", "amd64":
		return X86_64
	case string(I686), "x86", "i386", "i486", "i586", "386":
		return I686
	case string(AArch64), "arm64":
		return AArch64
	default:
		return ""
	}
}

func supportedStrings() []string {
	all := Supported()
	out := make([]string, 0, len(all))
	for _, a := range all {
		out = append(out, a.String())
	}
	sort.Strings(out)
	return out
}
