package relay

import (
	"fmt"
	"net/http"
)

// flushWriter wraps http.ResponseWriter and flushes every write so events are
// pushed to the client immediately, as SSE requires.
type flushWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
}

func (w *flushWriter) Write(p []byte) (int, error) {
	if w.flusher == nil {
		return 0, fmt.Errorf("streaming not supported: %T does not support flushing", w.writer)
	}
	n, err := w.writer.Write(p)
	if err == nil {
		w.flusher.Flush()
	}
	return n, err
}

// newFlushWriter constructs a flushWriter backed by given ResponseWriter.
func newFlushWriter(rw http.ResponseWriter) *flushWriter {
	flusher, ok := rw.(http.Flusher)
	if !ok {
		flusher = nil
	}
	return &flushWriter{writer: rw, flusher: flusher}
}
