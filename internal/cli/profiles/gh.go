package profiles

func init() {
	register(&topLevelSetProfile{
		name:        "gh",
		injectFlags: []string{"--json"},
		readOnly: map[string]bool{
			"status": true, "browse": true, "search": true,
		},
		special: map[string]map[string]bool{
			"issue": {"list": true, "view": true, "status": true},
			"pr":    {"list": true, "view": true, "status": true, "checks": true, "diff": true},
			"repo":  {"list": true, "view": true, "clone": true},
			"api":   {}, // no sub-verbs are read-only-by-default; requires write_access opt-in
			"run":   {"list": true, "view": true, "watch": true},
			"release": {"list": true, "view": true},
		},
		expandByDef: true,
	})
}
