package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultHeartbeat is how often an idle event stream sends a comment line
// so proxies keep the connection open.
const DefaultHeartbeat = 15 * time.Second

// EventStream writes Server-Sent Events through a TimeoutWriter.
type EventStream struct {
	tw  *TimeoutWriter
	seq int
}

// NewEventStream sets the event-stream headers and returns a stream bound
// to ctx. The idle timeout is disabled; callers send heartbeats instead.
func NewEventStream(ctx context.Context, w http.ResponseWriter, config TimeoutWriterConfig) *EventStream {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	config.IdleTimeout = 0
	config.ChunkSize = 0
	return &EventStream{tw: NewTimeoutWriter(ctx, w, config)}
}

// Send writes one event whose data is v encoded as JSON.
func (s *EventStream) Send(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	s.seq++

	var b strings.Builder
	fmt.Fprintf(&b, "id: %d\n", s.seq)
	if event != "" {
		fmt.Fprintf(&b, "event: %s\n", sanitizeField(event))
	}
	fmt.Fprintf(&b, "data: %s\n\n", data)
	return s.write(b.String())
}

// Heartbeat writes a comment line.
func (s *EventStream) Heartbeat() error {
	return s.write(": ping\n\n")
}

func (s *EventStream) write(frame string) error {
	if _, err := s.tw.Write([]byte(frame)); err != nil {
		return err
	}
	s.tw.Flush()
	return nil
}

// Done is closed when the client goes away or the stream is closed.
func (s *EventStream) Done() <-chan struct{} {
	return s.tw.ctx.Done()
}

// Close stops the stream.
func (s *EventStream) Close() error {
	return s.tw.Close()
}

func sanitizeField(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}
