package runner

import "strings"

// parseFirstSecretKey extracts the first key fingerprint from gpg
// --with-colons output. The "sec" record carries the key id in field 5.
func parseFirstSecretKey(out string) string {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Split(line, ":")
		if len(fields) > 4 && fields[0] == "sec" {
			return fields[4]
		}
	}
	return ""
}
