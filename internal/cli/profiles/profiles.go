// Package profiles supplies Porter's built-in knowledge of common CLIs:
// which of their subcommands are safe to treat as read-only, and what
// flags to inject on every invocation (e.g. forcing JSON output so the
// harness can parse results). A profile is optional — CLIs without one
// fall back to the heuristic in internal/cli/readonly.
package profiles

// Profile is the behavior Porter needs from a built-in CLI profile.
type Profile interface {
	// Name returns the profile's registered name.
	Name() string
	// DefaultInjectFlags are appended to every invocation unless the user
	// config overrides them.
	DefaultInjectFlags() []string
	// IsReadOnly reports whether the given argument vector (the
	// subcommand path plus any trailing args) is read-only.
	IsReadOnly(args []string) bool
	// ReadOnlySubcommands enumerates the static set of read-only
	// subcommand paths this profile knows about, used to build the
	// StaticProfile expansion tool list.
	ReadOnlySubcommands() [][]string
	// ExpandByDefault reports whether, absent any explicit
	// expand_subcommands/help_depth config, this profile should expand
	// into discovery by default.
	ExpandByDefault() bool
}

var registry = map[string]Profile{}

func register(p Profile) {
	registry[p.Name()] = p
}

// Get returns the named built-in profile, or ok=false if none is
// registered under that name.
func Get(name string) (Profile, bool) {
	p, ok := registry[name]
	return p, ok
}

// Available returns the sorted list of built-in profile names.
func Available() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sortStrings(names)
	return names
}

func sortStrings(ss []string) {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j-1] > ss[j]; j-- {
			ss[j-1], ss[j] = ss[j], ss[j-1]
		}
	}
}
