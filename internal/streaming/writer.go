package streaming

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/RafaUC/Allusion-sub000/internal/logging"
)

// Sentinel errors for streaming operations.
var (
	// ErrWriteTimeout means a single write, or the whole stream, ran past
	// its deadline.
	ErrWriteTimeout = errors.New("write timeout exceeded")

	// ErrClientGone means the request context was canceled.
	ErrClientGone = errors.New("client disconnected")

	// ErrStreamCanceled means the writer was closed or timed out idle.
	ErrStreamCanceled = errors.New("stream canceled")
)

var log = logging.Named("streaming")

// TimeoutWriterConfig configures the timeout writer behavior
type TimeoutWriterConfig struct {
	// WriteTimeout bounds a single write.
	WriteTimeout time.Duration
	// IdleTimeout bounds the time between successful writes. Zero disables
	// idle detection.
	IdleTimeout time.Duration
	// MaxDuration bounds the whole stream. Zero means unlimited.
	MaxDuration time.Duration
	// ChunkSize splits large writes, flushing after each chunk. Zero
	// writes as received.
	ChunkSize int
}

// DefaultTimeoutWriterConfig returns the settings used for exports.
func DefaultTimeoutWriterConfig() TimeoutWriterConfig {
	return TimeoutWriterConfig{
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		ChunkSize:    64 * 1024,
	}
}

// TimeoutWriter wraps an http.ResponseWriter so a stalled client cannot
// hold a handler forever. Per-write deadlines go through
// http.ResponseController; writers that do not support deadlines (test
// recorders) are written to directly.
type TimeoutWriter struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	ctx    context.Context
	cancel context.CancelFunc
	config TimeoutWriterConfig
	start  time.Time
	idle   *time.Timer

	mu      sync.Mutex
	written int64
	closed  bool
}

// NewTimeoutWriter creates a writer bound to ctx.
func NewTimeoutWriter(ctx context.Context, w http.ResponseWriter, config TimeoutWriterConfig) *TimeoutWriter {
	writerCtx, cancel := context.WithCancel(ctx)
	tw := &TimeoutWriter{
		w:      w,
		rc:     http.NewResponseController(w),
		ctx:    writerCtx,
		cancel: cancel,
		config: config,
		start:  time.Now(),
	}
	if config.IdleTimeout > 0 {
		tw.idle = time.AfterFunc(config.IdleTimeout, tw.expireIdle)
	}
	return tw
}

// Write writes p, in ChunkSize pieces flushed one by one when p is larger.
func (tw *TimeoutWriter) Write(p []byte) (int, error) {
	tw.mu.Lock()
	closed := tw.closed
	tw.mu.Unlock()
	if closed {
		return 0, ErrStreamCanceled
	}
	if tw.config.MaxDuration > 0 && time.Since(tw.start) > tw.config.MaxDuration {
		return 0, ErrWriteTimeout
	}

	chunk := len(p)
	chunked := tw.config.ChunkSize > 0 && chunk > tw.config.ChunkSize
	if chunked {
		chunk = tw.config.ChunkSize
	}
	total := 0
	for len(p) > 0 {
		if tw.ctx.Err() != nil {
			return total, tw.contextError()
		}
		size := min(chunk, len(p))
		n, err := tw.writeOnce(p[:size])
		total += n
		if err != nil {
			return total, err
		}
		p = p[size:]
		if chunked {
			tw.Flush()
		}
	}
	return total, nil
}

func (tw *TimeoutWriter) writeOnce(p []byte) (int, error) {
	if tw.config.WriteTimeout > 0 {
		err := tw.rc.SetWriteDeadline(time.Now().Add(tw.config.WriteTimeout))
		if err != nil && !errors.Is(err, http.ErrNotSupported) {
			return 0, err
		}
	}

	n, err := tw.w.Write(p)

	tw.mu.Lock()
	tw.written += int64(n)
	tw.mu.Unlock()
	if err == nil {
		if tw.idle != nil {
			tw.idle.Reset(tw.config.IdleTimeout)
		}
		return n, nil
	}

	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		tw.cancel()
		return n, ErrWriteTimeout
	case tw.ctx.Err() != nil:
		return n, tw.contextError()
	}
	return n, err
}

// Flush flushes the underlying writer if it supports it.
func (tw *TimeoutWriter) Flush() {
	if err := tw.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		log.Debug("flush failed: %v", err)
	}
}

func (tw *TimeoutWriter) expireIdle() {
	tw.mu.Lock()
	closed := tw.closed
	tw.mu.Unlock()
	if closed {
		return
	}
	log.Warn("stream idle for more than %v, closing", tw.config.IdleTimeout)
	tw.cancel()
}

func (tw *TimeoutWriter) contextError() error {
	tw.mu.Lock()
	closed := tw.closed
	tw.mu.Unlock()
	if !closed && errors.Is(tw.ctx.Err(), context.Canceled) {
		return ErrClientGone
	}
	return ErrStreamCanceled
}

// Close marks the writer as closed and lifts the write deadline. It is
// safe to call more than once.
func (tw *TimeoutWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.closed {
		return nil
	}
	tw.closed = true
	if tw.idle != nil {
		tw.idle.Stop()
	}
	tw.cancel()
	if err := tw.rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// Stats returns bytes written and time since the writer was created.
func (tw *TimeoutWriter) Stats() (bytesWritten int64, duration time.Duration) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.written, time.Since(tw.start)
}

// StreamWithTimeout copies r to w through a TimeoutWriter. Catalog exports
// are produced by an encoder on the other end of r, so a slow client
// throttles the encoder rather than buffering the snapshot.
func StreamWithTimeout(ctx context.Context, w http.ResponseWriter, r io.Reader, config TimeoutWriterConfig) error {
	w.Header().Set("X-Content-Type-Options", "nosniff")

	tw := NewTimeoutWriter(ctx, w, config)
	_, err := io.Copy(tw, r)
	closeErr := tw.Close()

	written, elapsed := tw.Stats()
	log.Debug("stream completed: %d bytes in %v", written, elapsed)
	return errors.Join(err, closeErr)
}
