package mcpproto

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
)

// FilterJSONLines copies NDJSON lines from src to the returned reader,
// silently discarding any line that is not valid JSON. Subprocess backends
// front arbitrary MCP-style servers that sometimes print banners, warnings,
// or partial writes to stdout alongside protocol frames; forwarding those
// verbatim would corrupt the JSON-RPC stream the client reads from the
// other end. slug is used only for diagnostic logging of discarded lines.
//
// The returned io.ReadCloser must be closed by the caller; doing so stops
// the background copy goroutine. Closing ctx also stops it.
func FilterJSONLines(ctx context.Context, slug string, src io.Reader) io.ReadCloser {
	pr, pw := io.Pipe()

	go func() {
		scanner := bufio.NewScanner(src)
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				_ = pw.CloseWithError(ctx.Err())
				return
			default:
			}

			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			if !json.Valid(line) {
				log.Printf("mcpproto: %s: discarding non-JSON stdout line", slug)
				continue
			}

			if _, err := pw.Write(line); err != nil {
				return
			}
			if _, err := pw.Write([]byte("\n")); err != nil {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.Close()
	}()

	return pr
}
