package handlers

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/RafaUC/Allusion-sub000/internal/catalog"
	"github.com/RafaUC/Allusion-sub000/internal/streaming"
)

// eventBuffer is how many changes a slow client may fall behind before
// it is disconnected.
const eventBuffer = 64

// ChangeEvent is the data of one feed event. The event name is the
// change kind.
type ChangeEvent struct {
	IDs    []string `json:"ids"`
	Counts any      `json:"counts,omitempty"`
}

// Events streams committed catalog changes as Server-Sent Events until
// the client disconnects.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		writeJSONError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	changes := make(chan catalog.Change, eventBuffer)
	overflow := make(chan struct{})
	var once sync.Once
	cancel := h.catalog.OnChange(func(c catalog.Change) {
		select {
		case changes <- c:
		default:
			// Listeners must not block; drop the client instead.
			once.Do(func() { close(overflow) })
		}
	})
	defer cancel()

	stream := streaming.NewEventStream(r.Context(), w, h.stream)
	defer func() { _ = stream.Close() }()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	if err := stream.Send("hello", ChangeEvent{IDs: []string{}, Counts: h.catalog.Counts()}); err != nil {
		return
	}

	for {
		var err error
		select {
		case c := <-changes:
			ev := ChangeEvent{IDs: c.IDs}
			if ev.IDs == nil {
				ev.IDs = []string{}
			}
			if c.Kind == catalog.ChangeCounts || c.Kind == catalog.ChangeImport {
				ev.Counts = h.catalog.Counts()
			}
			err = stream.Send(string(c.Kind), ev)
		case <-ticker.C:
			err = stream.Heartbeat()
		case <-overflow:
			h.log.Warn("event client too slow, disconnecting")
			return
		case <-stream.Done():
			return
		}
		if err != nil {
			if !errors.Is(err, streaming.ErrClientGone) {
				h.log.Debug("event stream ended: %v", err)
			}
			return
		}
	}
}
