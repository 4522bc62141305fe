package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/RafaUC/Allusion-sub000/internal/catalog"
	"github.com/RafaUC/Allusion-sub000/internal/condition"
	"github.com/RafaUC/Allusion-sub000/internal/database"
	"github.com/RafaUC/Allusion-sub000/internal/logging"
	"github.com/RafaUC/Allusion-sub000/internal/query"
	"github.com/RafaUC/Allusion-sub000/internal/streaming"
	"github.com/RafaUC/Allusion-sub000/internal/taggraph"
)

// maxBodyBytes caps request bodies other than imports.
const maxBodyBytes = 1 << 20

// maxImportBytes caps import snapshots.
const maxImportBytes = 1 << 30

var errBadRequest = errors.New("bad request")

// Options configures Handlers.
type Options struct {
	// Stream configures exports and the event feed.
	Stream streaming.TimeoutWriterConfig
	// Heartbeat is the event feed keepalive interval.
	Heartbeat time.Duration
}

// Handlers serves the catalog JSON API.
type Handlers struct {
	catalog   *catalog.Service
	log       *logging.Logger
	stream    streaming.TimeoutWriterConfig
	heartbeat time.Duration
	started   time.Time
	ready     atomic.Bool
}

// New returns handlers over svc. They report not ready until SetReady.
func New(svc *catalog.Service, opts Options) *Handlers {
	if opts.Stream.WriteTimeout <= 0 {
		opts.Stream = streaming.DefaultTimeoutWriterConfig()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = streaming.DefaultHeartbeat
	}
	return &Handlers{
		catalog:   svc,
		log:       logging.Named("handlers"),
		stream:    opts.Stream,
		heartbeat: opts.Heartbeat,
		started:   time.Now(),
	}
}

// SetReady marks the service ready to take traffic.
func (h *Handlers) SetReady(ready bool) {
	h.ready.Store(ready)
}

// decodeJSON reads a JSON body of at most limit bytes into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, limit int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", errBadRequest)
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// decodeCriteria parses an encoded query tree. An empty value matches
// every file.
func decodeCriteria(raw json.RawMessage) (*query.Group, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return query.All(), nil
	}
	return query.Unmarshal(raw)
}

// statusFor maps catalog errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, condition.ErrInvalidCondition),
		errors.Is(err, query.ErrCycle),
		errors.Is(err, catalog.ErrInvalidValue),
		errors.Is(err, catalog.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, taggraph.ErrUnsupported),
		errors.Is(err, taggraph.ErrCycle),
		errors.Is(err, taggraph.ErrExists):
		return http.StatusConflict
	case errors.Is(err, taggraph.ErrNotFound),
		errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs server-side failures and writes a JSON error.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("%s %s failed: %v", r.Method, r.URL.Path, err)
		writeJSONError(w, http.StatusText(status), status)
		return
	}
	h.log.Debug("%s %s rejected (%d): %v", r.Method, r.URL.Path, status, err)
	writeJSONError(w, err.Error(), status)
}
