package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	// streamPollInterval is the documented status-visibility lag.
	streamPollInterval = time.Second

	// streamGracePause separates the two clear-and-quiet checks before
	// the stream is closed, so a run that is alive but momentarily
	// silent does not end the stream early.
	streamGracePause = 100 * time.Millisecond
)

// StreamStatus handles GET /download/stream-status. It tails the
// status bus over Server-Sent Events: each new line becomes one
// {"message": ...} event, and once the run flag is clear with no new
// lines across two checks the literal FINISHED sentinel closes the
// stream.
func (h *Handler) StreamStatus(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeStatus(w, http.StatusInternalServerError, "error", "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if h.metrics != nil {
		h.metrics.AddStreamClient(r.Context(), 1)
		defer h.metrics.AddStreamClient(r.Context(), -1)
	}

	ctx := r.Context()
	offset := 0

	for {
		snap := h.state.Snapshot(offset)
		for _, line := range snap.Lines {
			if err := writeEvent(w, map[string]string{"message": line}); err != nil {
				slog.Warn("Status stream write failed", "error", err)
				writeErrorEvent(w, "Server stream error")
				flusher.Flush()
				return
			}
		}
		if len(snap.Lines) > 0 {
			flusher.Flush()
		}
		quiet := len(snap.Lines) == 0
		offset = snap.NewOffset

		if !snap.Running && quiet {
			select {
			case <-ctx.Done():
				return
			case <-time.After(streamGracePause):
			}
			again := h.state.Snapshot(offset)
			if !again.Running && again.NewOffset == offset {
				fmt.Fprint(w, "data: FINISHED\n\n")
				flusher.Flush()
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(streamPollInterval):
		}
	}
}

func writeEvent(w http.ResponseWriter, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func writeErrorEvent(w http.ResponseWriter, message string) {
	data, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
