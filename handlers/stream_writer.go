package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"coreapi/datatypes"
)

// StreamWriter writes chat chunks to a client as NDJSON, one chunk per
// line, flushing after every write so tokens appear as they are generated.
type StreamWriter interface {
	// WriteChunk serializes one chunk and flushes it.
	WriteChunk(chunk datatypes.ChatChunk) error

	// WriteDone emits the terminal done chunk.
	WriteDone() error
}

// ndjsonWriter is the production StreamWriter over an http.ResponseWriter.
// A mutex serializes writes; the stream body and the error path may touch
// the writer from different goroutines during shutdown.
type ndjsonWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewStreamWriter prepares w for NDJSON streaming and writes the response
// header. Fails if the ResponseWriter cannot flush, since a buffered stream
// defeats the point.
func NewStreamWriter(w http.ResponseWriter) (StreamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no") // disable proxy buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &ndjsonWriter{w: w, flusher: flusher}, nil
}

func (n *ndjsonWriter) WriteChunk(chunk datatypes.ChatChunk) error {
	payload, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshal chunk: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, err := n.w.Write(payload); err != nil {
		return fmt.Errorf("write chunk: %w", err)
	}
	if _, err := n.w.Write([]byte("\n")); err != nil {
		return fmt.Errorf("write chunk delimiter: %w", err)
	}
	n.flusher.Flush()
	return nil
}

func (n *ndjsonWriter) WriteDone() error {
	return n.WriteChunk(datatypes.DoneChunk())
}
