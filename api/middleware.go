package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/warp/lease-billing/authz"
	"github.com/warp/lease-billing/idempotency"
	"github.com/warp/lease-billing/logger"
)

// IdempotencyKeyHeader names the header that makes a POST replayable.
const IdempotencyKeyHeader = "Idempotency-Key"

// requestLogger attaches a request-scoped logger and writes one line per
// request once it completes.
func requestLogger(base *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			log := base.With(zap.String("request_id", middleware.GetReqID(r.Context())))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context(), log)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)))
		})
	}
}

// authenticate requires a bearer token on every request and attaches the
// caller. A nil Tokens disables it.
func authenticate(tokens *authz.Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if tokens == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				writeError(w, r, authz.ErrUnauthenticated)
				return
			}
			caller, err := tokens.Parse(raw)
			if err != nil {
				writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(authz.WithCaller(r.Context(), caller)))
		})
	}
}

// limitBody caps request bodies at n bytes.
func limitBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if n <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

// idempotent replays the stored response of a POST carrying an
// Idempotency-Key. Keys are scoped to the caller. Responses below 500 are
// kept for ttl; a 500 releases the key so the client can retry.
func idempotent(store idempotency.Store, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(w, r, err)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			var landlord string
			if caller, ok := authz.CallerFrom(r.Context()); ok {
				landlord = string(caller.LandlordID)
			}
			key = landlord + "/" + key
			fp := idempotency.Fingerprint(landlord, r.Method, r.URL.Path, body)

			existing, reserved, err := store.Reserve(r.Context(), key, fp, ttl)
			if err != nil {
				writeError(w, r, err)
				return
			}
			if !reserved {
				replay(w, r, existing, fp)
				return
			}

			// The client may be gone; the record must still be settled.
			ctx := context.WithoutCancel(r.Context())
			log := logger.FromContext(r.Context())

			settled := false
			defer func() {
				if settled {
					return
				}
				// A panicking handler leaves no response to replay.
				if err := store.Release(ctx, key); err != nil {
					log.Error("idempotency release failed", zap.String("key", key), zap.Error(err))
				}
			}()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			var captured bytes.Buffer
			ww.Tee(&captured)

			next.ServeHTTP(ww, r)
			settled = true

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError {
				if err := store.Release(ctx, key); err != nil {
					log.Error("idempotency release failed", zap.String("key", key), zap.Error(err))
				}
				return
			}
			rec := idempotency.Record{
				Fingerprint: fp,
				Completed:   true,
				StatusCode:  status,
				ContentType: ww.Header().Get("Content-Type"),
				Body:        captured.Bytes(),
			}
			if err := store.Complete(ctx, key, rec, ttl); err != nil {
				log.Error("idempotency complete failed", zap.String("key", key), zap.Error(err))
			}
		})
	}
}

var (
	errKeyReused  = errors.New("idempotency key was used for a different request")
	errInProgress = errors.New("a request with this idempotency key is still in progress")
)

func replay(w http.ResponseWriter, r *http.Request, rec idempotency.Record, fingerprint string) {
	switch {
	case rec.Fingerprint != fingerprint:
		writeErrorStatus(w, r, http.StatusConflict, CodeIdempotencyKeyReused, errKeyReused)
	case !rec.Completed:
		writeErrorStatus(w, r, http.StatusConflict, CodeRequestInProgress, errInProgress)
	default:
		if rec.ContentType != "" {
			w.Header().Set("Content-Type", rec.ContentType)
		}
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(rec.StatusCode)
		w.Write(rec.Body)
	}
}
