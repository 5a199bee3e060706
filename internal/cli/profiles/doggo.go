package profiles

func init() {
	register(&alwaysReadOnlyProfile{name: "doggo", injectFlags: []string{"--json"}, expandByDef: true})
}
