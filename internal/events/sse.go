package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ServeSSE streams a device's events as server-sent events until the client
// disconnects or a newer stream replaces this one.  The first frame is always
// a connected event (preceded by the pending registered notice, if any); when
// the channel stays idle for the heartbeat interval, a heartbeat frame keeps
// the connection verifiably alive.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request, deviceID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, cancel := h.Subscribe(deviceID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeFrame(w, Event{Type: TypeConnected})
	flusher.Flush()

	timer := time.NewTimer(h.heartbeat)
	defer timer.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case ev, ok := <-ch:
			if !ok {
				// replaced by a newer stream for the same device
				return
			}
			writeFrame(w, ev)
			flusher.Flush()
			resetTimer(timer, h.heartbeat)

		case <-timer.C:
			writeFrame(w, Event{Type: TypeHeartbeat})
			flusher.Flush()
			timer.Reset(h.heartbeat)
		}
	}
}

func writeFrame(w http.ResponseWriter, ev Event) {
	data, _ := json.Marshal(ev)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
