package overlay

import (
	"fmt"
	"os"
	"strings"
)

// Package-manager configuration editing. The format has no structured
// library, so edits are line-oriented text patches: only the targeted lines
// change, everything else is preserved byte-for-byte.

// EnableDirective uncomments a single "#Name" or "#Name = value" line. The
// content is returned unchanged when no such commented line exists.
func EnableDirective(content, name string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		if rest == name || strings.HasPrefix(rest, name+" ") || strings.HasPrefix(rest, name+"=") {
			lines[i] = strings.Replace(line, "#", "", 1)
			break
		}
	}
	return strings.Join(lines, "\n")
}

// EnableChannel uncomments the "[name]" section header and the commented
// lines directly below it, up to the next blank or uncommented line. Returns
// the patched content and whether the channel was found.
func EnableChannel(content, name string) (string, bool) {
	lines := strings.Split(content, "\n")
	header := "[" + name + "]"
	found := false

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.TrimSpace(strings.TrimPrefix(trimmed, "#")) != header {
			continue
		}

		lines[i] = strings.Replace(line, "#", "", 1)
		found = true
		for j := i + 1; j < len(lines); j++ {
			next := strings.TrimSpace(lines[j])
			if !strings.HasPrefix(next, "#") {
				break
			}
			body := strings.TrimSpace(strings.TrimPrefix(next, "#"))
			if body == "" || strings.HasPrefix(body, "[") {
				break
			}
			lines[j] = strings.Replace(lines[j], "#", "", 1)
		}
		break
	}
	return strings.Join(lines, "\n"), found
}

// AppendRepo appends a repository stanza for a local file-served package
// repository.
func AppendRepo(content, name, sigLevel, serverDir string) string {
	var b strings.Builder
	b.WriteString(content)
	if !strings.HasSuffix(content, "\n") {
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "\n[%s]\nSigLevel = %s\nServer = file://%s\n", name, sigLevel, serverDir)
	return b.String()
}

// patchConfFile applies fn to the configuration file at path in place.
func patchConfFile(path string, fn func(string) string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	patched := fn(string(data))
	if patched == string(data) {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(patched), info.Mode().Perm())
}
