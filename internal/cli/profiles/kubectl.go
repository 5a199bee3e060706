package profiles

func init() {
	register(&topLevelSetProfile{
		name:        "kubectl",
		injectFlags: []string{"-o", "json"},
		readOnly: map[string]bool{
			"get": true, "describe": true, "logs": true, "top": true,
			"api-resources": true, "api-versions": true, "cluster-info": true,
			"explain": true, "version": true,
		},
		special: map[string]map[string]bool{
			"config": {
				"view": true, "get-contexts": true, "get-clusters": true,
				"get-users": true, "current-context": true,
			},
		},
		expandByDef: true,
	})
}
