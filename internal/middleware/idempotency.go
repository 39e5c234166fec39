package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	maxIdempotencyBodySize = 1 << 20
	idempotencyTTL         = 24 * time.Hour
	// idempotencyLockTTL outlives a full failover across every gateway.
	idempotencyLockTTL = 2 * time.Minute
)

// StoredResponse is a replayable response for an Idempotency-Key.
type StoredResponse struct {
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	RequestHash string `json:"request_hash"`
}

// IdempotencyStore persists responses keyed by Idempotency-Key.
// Get returns (nil, nil) when the key is unknown. Lock claims the key for one
// in-flight request; Unlock only releases a lock held with token.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*StoredResponse, error)
	Set(ctx context.Context, key string, resp *StoredResponse, ttl time.Duration) error
	Lock(ctx context.Context, key string, ttl time.Duration) (token string, acquired bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

// Idempotency replays the stored response when a caller retries a payment
// initiation with the same Idempotency-Key, so a retry never starts a second
// charge. While the first request is still running, retries get 409. A key
// reused with a different body gets 422. 5xx responses are not stored; the
// caller may retry those. Store failures reject the request.
func Idempotency(store IdempotencyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if key == "" || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			logger := log.Ctx(ctx).With().Str("idempotency_key", key).Logger()

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIdempotencyBodySize))
			if err != nil {
				var maxErr *http.MaxBytesError
				if errors.As(err, &maxErr) {
					writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "payload_too_large")
					return
				}
				writeError(w, http.StatusBadRequest, "failed to read request body", "invalid_body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			hash := requestHash(r.Method, r.URL.Path, body)

			if replay(ctx, w, store, key, hash, logger) {
				return
			}

			token, acquired, err := store.Lock(ctx, key, idempotencyLockTTL)
			if err != nil {
				logger.Error().Err(err).Msg("Idempotency lock failed")
				writeError(w, http.StatusServiceUnavailable, "idempotency store unavailable", "idempotency_unavailable")
				return
			}
			if !acquired {
				// the holder may have finished between Get and Lock
				if replay(ctx, w, store, key, hash, logger) {
					return
				}
				writeError(w, http.StatusConflict, "a request with this Idempotency-Key is in progress", "idempotency_in_progress")
				return
			}
			defer func() {
				if err := store.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
					logger.Warn().Err(err).Msg("Failed to release idempotency lock")
				}
			}()

			rec := &responseRecorder{ResponseWriter: w, body: &bytes.Buffer{}, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.statusCode < 200 || rec.statusCode >= 500 || rec.bodyTruncated {
				return
			}
			resp := &StoredResponse{Status: rec.statusCode, Body: rec.body.Bytes(), RequestHash: hash}
			if err := store.Set(context.WithoutCancel(ctx), key, resp, idempotencyTTL); err != nil {
				logger.Warn().Err(err).Msg("Failed to store idempotent response")
			}
		})
	}
}

// replay writes the stored response for key, if any, and reports whether the
// request has been answered.
func replay(ctx context.Context, w http.ResponseWriter, store IdempotencyStore, key, hash string, logger zerolog.Logger) bool {
	stored, err := store.Get(ctx, key)
	if err != nil {
		logger.Error().Err(err).Msg("Idempotency lookup failed")
		writeError(w, http.StatusServiceUnavailable, "idempotency store unavailable", "idempotency_unavailable")
		return true
	}
	if stored == nil {
		return false
	}
	if stored.RequestHash != "" && stored.RequestHash != hash {
		writeError(w, http.StatusUnprocessableEntity, "Idempotency-Key was used with a different request", "idempotency_key_reused")
		return true
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Idempotency-Replayed", "true")
	w.WriteHeader(stored.Status)
	w.Write(stored.Body)
	return true
}

func requestHash(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode    int
	body          *bytes.Buffer
	bodyTruncated bool
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.bodyTruncated {
		if r.body.Len()+len(b) > maxIdempotencyBodySize {
			r.bodyTruncated = true
		} else {
			r.body.Write(b)
		}
	}
	return r.ResponseWriter.Write(b)
}
