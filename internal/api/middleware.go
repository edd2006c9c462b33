package api

import (
	"bytes"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hyperengineering/pantry/internal/store"
	"github.com/hyperengineering/pantry/internal/validation"
)

// IdempotencyHeader names the request header that identifies a write.
const IdempotencyHeader = "Idempotency-Key"

// ReplayHeader is set on responses served from the idempotency cache.
const ReplayHeader = "X-Idempotent-Replay"

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		slog.Info("request",
			"component", "api",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RecoveryMiddleware catches panics and returns 500 Problem Details.
// Panic details are logged but never exposed to the client.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				slog.Error("panic recovered",
					"component", "api",
					"error", recovered,
					"stack", string(debug.Stack()),
					"path", r.URL.Path,
					"method", r.Method,
				)
				WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// captureWriter buffers the response body so it can be recorded.
type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if cw.status == 0 {
		cw.status = http.StatusOK
	}
	cw.body.Write(b)
	return cw.ResponseWriter.Write(b)
}

// idempotency replays the recorded response of a write that carries an
// already-seen Idempotency-Key, and records the response of a first
// successful attempt. Keyed writes are serialized so two concurrent
// attempts with one key apply once.
type idempotency struct {
	store store.Authority
	mu    sync.Mutex
}

func (m *idempotency) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(IdempotencyHeader)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		if verr := validation.ValidateULID(IdempotencyHeader, key); verr != nil {
			WriteProblem(w, r, http.StatusBadRequest, verr.Field+": "+verr.Message)
			return
		}

		m.mu.Lock()
		defer m.mu.Unlock()

		cached, found, err := m.store.LookupIdempotencyKey(r.Context(), key)
		if err != nil {
			slog.Error("idempotency lookup failed",
				"component", "api",
				"action", "idempotency_lookup",
				"key", key,
				"error", err,
			)
			MapStoreError(w, r, err)
			return
		}
		if found {
			slog.Info("idempotent replay",
				"component", "api",
				"action", "idempotent_replay",
				"key", key,
				"path", r.URL.Path,
			)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(ReplayHeader, "true")
			w.WriteHeader(http.StatusOK)
			w.Write(cached)
			return
		}

		cw := &captureWriter{ResponseWriter: w}
		next.ServeHTTP(cw, r)

		if cw.status < 200 || cw.status > 299 {
			return
		}
		if err := m.store.RecordIdempotencyKey(r.Context(), key, bytes.TrimSpace(cw.body.Bytes())); err != nil {
			slog.Error("failed to record idempotency key",
				"component", "api",
				"action", "idempotency_record",
				"key", key,
				"error", err,
			)
		}
	})
}
