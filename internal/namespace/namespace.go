// Package namespace implements Porter's tool-name namespacing: every tool
// surfaced by the gateway is prefixed with its owning backend's slug so
// that two backends can each expose a tool named, say, "list" without
// colliding.
package namespace

import "strings"

const separator = "__"

// Tool is the minimal shape namespacing operates on; callers adapt their
// richer tool types to this before calling Apply.
type Tool struct {
	Name        string
	Description string
}

// Apply returns tool with its name prefixed "{slug}__{name}" and its
// description prefixed "[via {slug}] ". If the description is empty, no
// description prefix is added.
func Apply(slug string, tool Tool) Tool {
	out := Tool{Name: slug + separator + tool.Name}
	if tool.Description != "" {
		out.Description = "[via " + slug + "] " + tool.Description
	}
	return out
}

// Unapply splits a namespaced tool name on the first occurrence of "__",
// returning the owning slug and the original tool name. ok is false if the
// name contains no separator.
func Unapply(namespaced string) (slug, name string, ok bool) {
	idx := strings.Index(namespaced, separator)
	if idx < 0 {
		return "", namespaced, false
	}
	return namespaced[:idx], namespaced[idx+len(separator):], true
}

// ValidSlug reports whether s is a legal backend slug: non-empty,
// alphanumeric plus hyphens, and never containing the namespace separator.
func ValidSlug(s string) bool {
	if s == "" {
		return false
	}
	if strings.Contains(s, separator) {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-':
		default:
			return false
		}
	}
	return true
}
