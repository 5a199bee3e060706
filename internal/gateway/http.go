package gateway

import (
	"bytes"
	"io"
	"log"
	"net/http"
)

// ServeHTTP implements the Streamable HTTP transport's JSON response mode:
// a single JSON-RPC request per POST, answered with a single JSON-RPC
// response body — no SSE upgrade. A hot-reload's tools-list-changed push
// is only delivered to peers registered over stdio (see handleNotification);
// this mode has no open channel left to push into once a response has
// been written.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	line := bytes.TrimSpace(body)
	if len(line) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	var buf bytes.Buffer
	g.handleMessage(r.Context(), &buf, line, nil)

	if buf.Len() == 0 {
		// A notification produces no response body.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(bytes.TrimRight(buf.Bytes(), "\n")); err != nil {
		log.Printf("gateway: http: failed to write response: %v", err)
	}
}
