// Package discover implements CLI subcommand discovery: a bounded BFS over
// `{command} {prefix} --help` invocations that builds the tree of
// subcommands a CLI supports, so the harness can expose each leaf as its
// own typed tool.
package discover

import (
	"context"
	"sync"
	"time"
)

// Entry is one discovered node in the subcommand tree.
type Entry struct {
	Path   []string
	IsLeaf bool
}

// Config parameterizes a discovery run.
type Config struct {
	Command       string
	MaxDepth      int
	TimeoutPerHelp time.Duration
	TotalBudget   time.Duration
	Concurrency   int // per-tier semaphore width; 0 defaults to 8

	// RunHelp invokes `{Command} {prefix}... --help` and returns its
	// combined output (stdout preferred, stderr as fallback) or an error.
	// Swapped out in tests.
	RunHelp func(ctx context.Context, prefix []string, timeout time.Duration) (string, error)

	// ParseSubcommands extracts child subcommand names from help output.
	// Swapped out in tests; production wiring is internal/cli/subcmd.Parse.
	ParseSubcommands func(helpText string) []string
}

// Result is the outcome of a discovery run.
type Result struct {
	Entries   []Entry
	TimedOut  bool
}

// Run performs the bounded BFS described in Config, returning whatever
// entries were discovered before either the tree was fully explored or the
// total time budget elapsed. A failing `--help` invocation does not abort
// the run: that node contributes no entries or children, and the error is
// not recorded in Result.
func Run(ctx context.Context, cfg Config) Result {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}

	deadline := time.Now().Add(cfg.TotalBudget)
	var result Result

	type node struct {
		prefix []string
		depth  int
	}
	tier := []node{{prefix: nil, depth: 0}}

	for len(tier) > 0 {
		if time.Now().After(deadline) {
			result.TimedOut = true
			return result
		}

		sem := make(chan struct{}, concurrency)
		var mu sync.Mutex
		var wg sync.WaitGroup
		var nextTier []node

		for _, n := range tier {
			wg.Add(1)
			sem <- struct{}{}
			go func(n node) {
				defer wg.Done()
				defer func() { <-sem }()

				helpText, err := cfg.RunHelp(ctx, n.prefix, cfg.TimeoutPerHelp)
				if err != nil {
					// Soft failure: an unreachable subcommand's help just
					// doesn't contribute entries or children.
					return
				}

				children := cfg.ParseSubcommands(helpText)

				mu.Lock()
				defer mu.Unlock()

				if len(children) == 0 {
					if len(n.prefix) > 0 {
						result.Entries = append(result.Entries, Entry{Path: append([]string{}, n.prefix...), IsLeaf: true})
					}
					return
				}

				for _, child := range children {
					childPrefix := append(append([]string{}, n.prefix...), child)
					if n.depth+1 < cfg.MaxDepth {
						nextTier = append(nextTier, node{prefix: childPrefix, depth: n.depth + 1})
					} else {
						result.Entries = append(result.Entries, Entry{Path: childPrefix, IsLeaf: true})
					}
				}
			}(n)
		}

		wg.Wait()

		if time.Now().After(deadline) {
			result.TimedOut = true
			return result
		}

		tier = nextTier
	}

	return result
}
