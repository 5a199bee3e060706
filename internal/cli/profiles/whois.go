package profiles

func init() {
	register(&alwaysReadOnlyProfile{name: "whois", injectFlags: nil, expandByDef: false})
}
