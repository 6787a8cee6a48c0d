package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/viant/toolrelay"
	"github.com/viant/toolrelay/kv"
)

// streamNotice is the payload of connected, heartbeat and timeout events.
type streamNotice struct {
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}

// handleStream serves the SSE delivery channel. After the connected event two
// periodic loops run: a heartbeat every HeartbeatInterval and a drain every
// DrainInterval that atomically takes the whole request list and emits each
// envelope as a tool-request event. The connection closes at the absolute
// deadline, on client abort, or on write failure.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := r.URL.Query().Get("code")
	if !h.checkCode(w, code) || !h.checkSession(ctx, w, code) {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	writer := newFlushWriter(w)
	now := h.now()
	if err := h.writeEventJSON(writer, toolrelay.EventConnected, &streamNotice{
		Code:      code,
		Timestamp: now,
		Message:   "stream established",
	}); err != nil {
		return
	}

	if h.Metrics != nil {
		h.Metrics.ActiveStreams.Inc()
		defer h.Metrics.ActiveStreams.Dec()
	}
	h.Logger.Debug().Str("code", code).Msg("stream opened")
	defer h.Logger.Debug().Str("code", code).Msg("stream closed")

	heartbeat := time.NewTicker(h.HeartbeatInterval)
	defer heartbeat.Stop()
	drain := time.NewTicker(h.DrainInterval)
	defer drain.Stop()
	deadline := time.NewTimer(h.StreamDeadline)
	defer deadline.Stop()

	// Deliver any backlog that accumulated before the stream opened.
	if err := h.drainOnce(ctx, writer, code); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			_ = h.writeEventJSON(writer, toolrelay.EventTimeout, &streamNotice{
				Timestamp: h.now(),
				Message:   "stream deadline reached, reconnect",
			})
			return
		case <-heartbeat.C:
			if err := h.writeEventJSON(writer, toolrelay.EventHeartbeat, &streamNotice{Timestamp: h.now()}); err != nil {
				return
			}
		case <-drain.C:
			if err := h.drainOnce(ctx, writer, code); err != nil {
				return
			}
		}
	}
}

// drainOnce takes the whole request list in one atomic sweep and emits every
// parseable envelope. A malformed element is logged and skipped; the rest are
// still delivered. Only write errors terminate the stream.
func (h *Handler) drainOnce(ctx context.Context, writer io.Writer, code string) error {
	items, err := h.store.Drain(ctx, kv.RequestKey(code))
	if err != nil {
		h.Logger.Error().Err(err).Str("code", code).Msg("drain failed")
		return nil
	}
	for _, item := range items {
		if _, err := toolrelay.ParseRequest(item); err != nil {
			h.Logger.Warn().Err(err).Str("code", code).Msg("skipping malformed request envelope")
			continue
		}
		if err := writeEvent(writer, toolrelay.EventToolRequest, item); err != nil {
			return err
		}
		if h.Metrics != nil {
			h.Metrics.EventsDelivered.Inc()
		}
	}
	return nil
}

func (h *Handler) writeEventJSON(writer io.Writer, name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return writeEvent(writer, name, data)
}

// writeEvent emits one SSE frame: "event: <name>\ndata: <json>\n\n".
func writeEvent(writer io.Writer, name string, data []byte) error {
	_, err := fmt.Fprintf(writer, "event: %s\ndata: %s\n\n", name, data)
	return err
}
