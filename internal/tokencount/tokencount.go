// Package tokencount estimates the token cost of a namespaced tool
// definition as it will appear in a tools/list response, using the same
// cl100k_base encoding an LLM client's context budget is measured in.
// Unlike the teacher's ToolCache, nothing here is persisted to disk —
// Porter recomputes on demand, since persistence across restarts is out
// of scope.
package tokencount

import (
	"encoding/json"

	"github.com/tiktoken-go/tokenizer"
)

// Tool counts tokens for a single already-namespaced tool (name, wire
// description, and raw input schema), mirroring the shape tools/list
// actually sends over the wire.
func Tool(name, description string, inputSchema json.RawMessage) int {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return fallback(name, description, inputSchema)
	}

	total := countOrZero(codec, name)
	if description != "" {
		total += countOrZero(codec, description)
	}
	if len(inputSchema) > 0 {
		total += countOrZero(codec, string(inputSchema))
	}
	return total
}

// Tools sums Tool over a slice, giving callers the total footprint a
// tools/list response would add to a client's context.
func Tools(names, descriptions []string, schemas []json.RawMessage) int {
	total := 0
	for i := range names {
		var desc string
		if i < len(descriptions) {
			desc = descriptions[i]
		}
		var schema json.RawMessage
		if i < len(schemas) {
			schema = schemas[i]
		}
		total += Tool(names[i], desc, schema)
	}
	return total
}

func countOrZero(codec tokenizer.Codec, text string) int {
	tokens, _, err := codec.Encode(text)
	if err != nil {
		return len(text) / 4
	}
	return len(tokens)
}

func fallback(name, description string, schema json.RawMessage) int {
	total := len(name) + len(description)
	if len(schema) > 0 {
		total += len(schema)
	}
	return total / 4
}
