package profiles

func init() {
	register(&alwaysReadOnlyProfile{name: "tldr", injectFlags: nil, expandByDef: false})
}
