// Package subcmd extracts the list of subcommand names a CLI advertises
// under a "Commands:"-style section of its --help output.
package subcmd

import (
	"regexp"
	"strings"
)

var sectionHeaders = map[string]bool{
	"commands":           true,
	"available commands": true,
	"subcommands":        true,
	"groups":             true,
	"core commands":       true,
	"management commands": true,
	"other commands":      true,
}

var noise = map[string]bool{
	"help":        true,
	"version":     true,
	"completion":  true,
	"completions": true,
}

var entryPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*:?$`)

// Parse scans helpText for zero-indent section headers (case-insensitively
// matched against a known set, with an optional trailing colon) and
// collects the indented entries beneath each one until a non-blank,
// zero-indent line ends the section. Entries are deduplicated across
// sections in first-seen order, with noise commands (help/version/
// completion/completions) filtered out.
func Parse(helpText string) []string {
	var out []string
	seen := map[string]bool{}
	inSection := false

	for _, raw := range strings.Split(helpText, "\n") {
		line := strings.TrimRight(raw, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := leadingSpaces(line)
		trimmed := strings.TrimSpace(line)

		if indent == 0 {
			header := strings.ToLower(strings.TrimSuffix(trimmed, ":"))
			if sectionHeaders[header] {
				inSection = true
				continue
			}
			inSection = false
			continue
		}

		if !inSection || indent < 2 {
			continue
		}

		// An entry line is the first whitespace-delimited token on an
		// indented line, optionally followed by a description.
		fields := strings.Fields(trimmed)
		if len(fields) == 0 {
			continue
		}
		candidate := fields[0]
		if !entryPattern.MatchString(candidate) {
			continue
		}
		name := strings.TrimSuffix(candidate, ":")
		lower := strings.ToLower(name)
		if noise[lower] {
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}

	return out
}

func leadingSpaces(s string) int {
	n := 0
	for _, r := range s {
		if r == ' ' {
			n++
		} else if r == '\t' {
			n += 2
		} else {
			break
		}
	}
	return n
}
