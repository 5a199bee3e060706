// Package readonly provides the heuristic read-only classifier used when
// a CLI has no built-in profile (internal/cli/profiles): a back-to-front
// scan of the argument tokens against static read/write verb sets.
package readonly

var readVerbs = map[string]bool{
	"get": true, "list": true, "describe": true, "show": true, "view": true,
	"status": true, "info": true, "inspect": true, "search": true,
	"query": true, "find": true, "ls": true, "cat": true, "head": true,
	"tail": true, "top": true, "diff": true, "log": true, "logs": true,
	"check": true, "verify": true, "validate": true, "dump": true,
	"export": true, "read": true, "fetch": true, "print": true,
}

var writeVerbs = map[string]bool{
	"create": true, "delete": true, "remove": true, "rm": true,
	"update": true, "set": true, "put": true, "patch": true,
	"apply": true, "deploy": true, "push": true, "pull": true,
	"start": true, "stop": true, "restart": true, "kill": true,
	"terminate": true, "destroy": true, "install": true, "uninstall": true,
	"upgrade": true, "migrate": true, "write": true, "edit": true,
	"add": true, "run": true, "exec": true, "import": true,
}

// IsLikelyReadOnly scans args back-to-front looking for the first token
// that is recognizably a verb (by exact match, or by its hyphen-split
// leading segment, e.g. "list-instances" -> "list"). If a read verb is found
// before any write verb, the invocation is treated as read-only. Unmatched
// input is treated conservatively as a write (returns false).
func IsLikelyReadOnly(args []string) bool {
	for i := len(args) - 1; i >= 0; i-- {
		tok := args[i]
		if verb, ok := leadingVerbSegment(tok); ok {
			if writeVerbs[verb] {
				return false
			}
			if readVerbs[verb] {
				return true
			}
		}
	}
	return false
}

func leadingVerbSegment(tok string) (string, bool) {
	if tok == "" || tok[0] == '-' {
		return "", false
	}
	seg := tok
	for i := 0; i < len(tok); i++ {
		if tok[i] == '-' {
			seg = tok[:i]
			break
		}
	}
	if readVerbs[seg] || writeVerbs[seg] {
		return seg, true
	}
	if readVerbs[tok] || writeVerbs[tok] {
		return tok, true
	}
	return "", false
}
