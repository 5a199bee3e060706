package profiles

import "strings"

// actionSetProfile classifies read-only by an exact "{args[0]} {args[1]}"
// lookup against a static set (the shape AWS's sprawling per-service verb
// list needs — "ec2 describe-instances" is read-only, "ec2
// terminate-instances" is not).
type actionSetProfile struct {
	name        string
	injectFlags []string
	actions     map[string]bool
	expandByDef bool
}

func newActionSetProfile(name string, injectFlags []string, pairs []string) *actionSetProfile {
	set := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		set[p] = true
	}
	return &actionSetProfile{name: name, injectFlags: injectFlags, actions: set, expandByDef: true}
}

func (p *actionSetProfile) Name() string                { return p.name }
func (p *actionSetProfile) DefaultInjectFlags() []string { return p.injectFlags }
func (p *actionSetProfile) ExpandByDefault() bool        { return p.expandByDef }

func (p *actionSetProfile) IsReadOnly(args []string) bool {
	if len(args) < 2 {
		return false
	}
	return p.actions[args[0]+" "+args[1]]
}

func (p *actionSetProfile) ReadOnlySubcommands() [][]string {
	out := make([][]string, 0, len(p.actions))
	for action := range p.actions {
		parts := strings.SplitN(action, " ", 2)
		out = append(out, parts)
	}
	return out
}

// topLevelSetProfile classifies read-only by whether args[0] (the
// top-level subcommand) is in a static read-only set, with optional
// per-subcommand special-casing (e.g. kubectl's "config" subcommand is
// only read-only for a handful of its own sub-subcommands).
type topLevelSetProfile struct {
	name        string
	injectFlags []string
	readOnly    map[string]bool
	special     map[string]map[string]bool // subcommand -> allowed second-level verbs
	expandByDef bool
}

func (p *topLevelSetProfile) Name() string                { return p.name }
func (p *topLevelSetProfile) DefaultInjectFlags() []string { return p.injectFlags }
func (p *topLevelSetProfile) ExpandByDefault() bool        { return p.expandByDef }

func (p *topLevelSetProfile) IsReadOnly(args []string) bool {
	if len(args) == 0 {
		return false
	}
	if sub, ok := p.special[args[0]]; ok {
		if len(args) < 2 {
			return false
		}
		return sub[args[1]]
	}
	return p.readOnly[args[0]]
}

func (p *topLevelSetProfile) ReadOnlySubcommands() [][]string {
	var out [][]string
	for name := range p.readOnly {
		out = append(out, []string{name})
	}
	for top, verbs := range p.special {
		for verb := range verbs {
			out = append(out, []string{top, verb})
		}
	}
	return out
}

// alwaysReadOnlyProfile is for CLIs whose entire surface is read-only
// queries (doggo, rg, tldr, whois).
type alwaysReadOnlyProfile struct {
	name        string
	injectFlags []string
	expandByDef bool
}

func (p *alwaysReadOnlyProfile) Name() string                     { return p.name }
func (p *alwaysReadOnlyProfile) DefaultInjectFlags() []string     { return p.injectFlags }
func (p *alwaysReadOnlyProfile) IsReadOnly(args []string) bool    { return true }
func (p *alwaysReadOnlyProfile) ReadOnlySubcommands() [][]string  { return nil }
func (p *alwaysReadOnlyProfile) ExpandByDefault() bool            { return p.expandByDef }
