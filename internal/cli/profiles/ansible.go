package profiles

func init() {
	register(&topLevelSetProfile{
		name:        "ansible",
		injectFlags: nil,
		readOnly: map[string]bool{
			"inventory": true, "doc": true, "config": true,
		},
		special: map[string]map[string]bool{
			"galaxy": {"list": true, "info": true, "search": true},
			"vault":  {"view": true},
		},
		// The bulk of ansible's surface is playbook execution, which can
		// mutate arbitrary remote state — discovery is not opted into by
		// default the way a pure query CLI's would be.
		expandByDef: false,
	})
}
