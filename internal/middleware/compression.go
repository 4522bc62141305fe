package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"mime"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// CompressionConfig holds configuration for the compression middleware
type CompressionConfig struct {
	// MinSize is the smallest body, in bytes, that is compressed.
	MinSize int
	// Level is a compress/gzip level.
	Level int
	// CompressibleTypes are the media types that are compressed. Search
	// pages, tag trees and exports are JSON; the change feed is never
	// compressed.
	CompressibleTypes []string
}

// DefaultCompressionConfig compresses JSON and text responses of 1KB or more.
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		MinSize: 1024,
		Level:   gzip.DefaultCompression,
		CompressibleTypes: []string{
			"application/json",
			"application/problem+json",
			"application/x-ndjson",
			"text/plain",
		},
	}
}

// gzip writers are pooled per level, indexed by level-gzip.HuffmanOnly.
var gzipPools [gzip.BestCompression - gzip.HuffmanOnly + 1]sync.Pool

func getGzipWriter(w io.Writer, level int) *gzip.Writer {
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	if gz, ok := gzipPools[level-gzip.HuffmanOnly].Get().(*gzip.Writer); ok {
		gz.Reset(w)
		return gz
	}
	gz, _ := gzip.NewWriterLevel(w, level)
	return gz
}

func putGzipWriter(gz *gzip.Writer, level int) {
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	gzipPools[level-gzip.HuffmanOnly].Put(gz)
}

type encoding int

const (
	undecided encoding = iota
	identity
	gzipped
)

// compressWriter holds back up to MinSize bytes of the body. Once the
// size and content type are known it commits to plain or gzip output and
// writes the held bytes through.
type compressWriter struct {
	http.ResponseWriter
	config  CompressionConfig
	status  int
	pending bytes.Buffer
	mode    encoding
	gz      *gzip.Writer
}

func (c *compressWriter) WriteHeader(code int) {
	if c.mode == undecided && c.status == 0 {
		c.status = code
	}
}

func (c *compressWriter) Write(p []byte) (int, error) {
	switch c.mode {
	case identity:
		return c.ResponseWriter.Write(p)
	case gzipped:
		return c.gz.Write(p)
	}

	if !c.compressible() {
		if err := c.commit(identity); err != nil {
			return 0, err
		}
		return c.ResponseWriter.Write(p)
	}
	c.pending.Write(p)
	if c.pending.Len() >= c.config.MinSize {
		if err := c.commit(gzipped); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// compressible reports whether the response may be gzipped, judged from
// the headers the handler set before its first write.
func (c *compressWriter) compressible() bool {
	h := c.Header()
	if h.Get("Content-Encoding") != "" {
		return false
	}
	if n, err := strconv.Atoi(h.Get("Content-Length")); err == nil && n < c.config.MinSize {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		return false
	}
	return slices.Contains(c.config.CompressibleTypes, mediaType)
}

// commit fixes the encoding, sends the header and flushes held bytes.
func (c *compressWriter) commit(mode encoding) error {
	c.mode = mode
	if c.status == 0 {
		c.status = http.StatusOK
	}
	if mode == gzipped {
		h := c.Header()
		h.Del("Content-Length")
		h.Set("Content-Encoding", "gzip")
		h.Add("Vary", "Accept-Encoding")
		c.gz = getGzipWriter(c.ResponseWriter, c.config.Level)
	}
	c.ResponseWriter.WriteHeader(c.status)

	if c.pending.Len() == 0 {
		return nil
	}
	var err error
	if mode == gzipped {
		_, err = c.gz.Write(c.pending.Bytes())
	} else {
		_, err = c.ResponseWriter.Write(c.pending.Bytes())
	}
	c.pending = bytes.Buffer{}
	return err
}

// Flush commits early: a handler that flushes is streaming, so whatever
// was held back is sent as is.
func (c *compressWriter) Flush() {
	if c.mode == undecided {
		_ = c.commit(identity)
	}
	if c.gz != nil {
		_ = c.gz.Flush()
	}
	if f, ok := c.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (c *compressWriter) Unwrap() http.ResponseWriter {
	return c.ResponseWriter
}

func (c *compressWriter) close() error {
	if c.mode == undecided {
		// The whole body fit under MinSize.
		if err := c.commit(identity); err != nil {
			return err
		}
	}
	if c.gz == nil {
		return nil
	}
	err := c.gz.Close()
	putGzipWriter(c.gz, c.config.Level)
	c.gz = nil
	return err
}

// acceptsGzip reports whether Accept-Encoding lists gzip without q=0.
func acceptsGzip(header string) bool {
	for _, part := range strings.Split(header, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(name), "gzip") {
			continue
		}
		q, found := strings.CutPrefix(strings.TrimSpace(params), "q=")
		if !found {
			return true
		}
		v, err := strconv.ParseFloat(q, 64)
		return err != nil || v > 0
	}
	return false
}

// Compression gzips JSON and text responses for clients that accept it.
func Compression(config CompressionConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodHead || !acceptsGzip(r.Header.Get("Accept-Encoding")) {
				next.ServeHTTP(w, r)
				return
			}
			cw := &compressWriter{ResponseWriter: w, config: config}
			defer func() { _ = cw.close() }()
			next.ServeHTTP(cw, r)
		})
	}
}
