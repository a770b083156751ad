package executor

import (
	"regexp"
	"strings"
)

// Remediation commands come from a curated catalog, so unlike a read-only
// scanner allowlist this is a backstop denylist: patterns that no
// remediation should ever contain, checked immediately before execution.
var blockedPatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`\brm\s+(-[a-zA-Z]*\s+)*/(\s|$)`), "recursive delete of filesystem root"},
	{regexp.MustCompile(`\bmkfs\b`), "filesystem format"},
	{regexp.MustCompile(`\bdd\b.*\bof=/dev/`), "raw write to block device"},
	{regexp.MustCompile(`>\s*/dev/sd[a-z]`), "redirect onto block device"},
	{regexp.MustCompile(`:\(\)\s*{\s*:\|:&\s*}\s*;:`), "fork bomb"},
	{regexp.MustCompile(`\bshutdown\b|\bhalt\b|\bpoweroff\b`), "host power-off"},
	{regexp.MustCompile(`\buserdel\s+(-[a-zA-Z]*\s+)*root\b`), "deletion of root account"},
}

// IsCommandBlocked reports whether a command matches a destructive pattern
// and, if so, which one.
func IsCommandBlocked(command string) (bool, string) {
	trimmed := strings.TrimSpace(command)
	for _, p := range blockedPatterns {
		if p.re.MatchString(trimmed) {
			return true, p.reason
		}
	}
	return false, ""
}
