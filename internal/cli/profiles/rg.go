package profiles

func init() {
	// rg's surface is a single flat command (no subcommands worth
	// discovering), so it opts out of expand-by-default.
	register(&alwaysReadOnlyProfile{name: "rg", injectFlags: []string{"--json"}, expandByDef: false})
}
