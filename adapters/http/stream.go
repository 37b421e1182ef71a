package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/artpar/agentmeter/domain/event"
	"github.com/artpar/agentmeter/domain/snapshot"
)

// heartbeatEvery keeps idle SSE connections alive through proxies.
const heartbeatEvery = 25 * time.Second

// DashboardStream serves the live dashboard as Server-Sent Events. The
// caller receives a full snapshot immediately, then a fresh snapshot
// whenever a usage event changes it.
func (h *Handler) DashboardStream(w http.ResponseWriter, r *http.Request) {
	rawKey, ok := bearerToken(r)
	if !ok {
		writeError(w, &event.ErrMissingKey)
		return
	}

	matched, errResp := h.ingest.Authenticate(r.Context(), rawKey)
	if errResp != nil {
		writeError(w, errResp)
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		writeError(w, &event.ErrorResponse{
			Status:  500,
			Code:    "internal_error",
			Message: "Streaming not supported by this connection",
		})
		return
	}

	sess, err := h.dash.OpenSession(r.Context(), matched.UserID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", matched.UserID).Msg("open dashboard session")
		writeError(w, &event.ErrSnapshotUnavailable)
		return
	}
	defer sess.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// Disable buffering for streaming
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	snap, _ := sess.Current()
	if err := writeSSE(w, snap); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatEvery)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case snap, ok := <-sess.Updates():
			if !ok {
				return
			}
			if err := writeSSE(w, snap); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, snap snapshot.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", payload)
	return err
}
