package profiles

func init() {
	register(&topLevelSetProfile{
		name:        "gitlab",
		injectFlags: []string{"-o", "json"},
		readOnly:    map[string]bool{"status": true, "search": true},
		special: map[string]map[string]bool{
			"issue":         {"list": true, "view": true, "board": true},
			"mr":            {"list": true, "view": true, "diff": true, "checks": true},
			"project":       {"list": true, "view": true, "clone": true},
			"pipeline":      {"list": true, "view": true},
			"release":       {"list": true, "view": true},
		},
		expandByDef: true,
	})
}
