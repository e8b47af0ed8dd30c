/**
 * @description
 * This file contains custom middleware for the HTTP router.
 *
 * Idempotency replays the stored response for a repeated Idempotency-Key on
 * payment endpoints, so a client retry after a timeout never charges twice.
 * Keys are scoped to the route and a digest of the request body, so two callers
 * reusing a key never see each other's response.
 *
 * @dependencies
 * - go-chi/chi/v5/middleware: response capture via WrapResponseWriter.
 */

package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/ValenciaLim/arcdrop/internal/app"
)

// IdempotencyKeyHeader is the request header clients use to make a payment retry-safe.
const IdempotencyKeyHeader = "Idempotency-Key"

// SettlementHeader is set on a server error whose payment moved funds but was not recorded.
// Such responses keep their idempotency key.
const SettlementHeader = "Payment-Settlement"

const (
	settlementIncomplete    = "incomplete"
	maxIdempotencyKeyLength = 128
)

// IdempotencyStore reserves keys and caches final responses.
type IdempotencyStore interface {
	Reserve(ctx context.Context, scope, key string) (*app.StoredResponse, error)
	Complete(ctx context.Context, scope, key string, resp app.StoredResponse) error
	Release(ctx context.Context, scope, key string) error
}

// Idempotency wraps a handler so that requests carrying the same key within the store's TTL
// get the first response back. Requests without a key pass straight through. Server errors
// release the key so the client can retry, unless the response reports an unrecorded settlement.
func Idempotency(store IdempotencyStore, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLength {
				writeMessage(w, http.StatusBadRequest, "Idempotency-Key is too long")
				return
			}
			scope, err := idempotencyScope(r)
			if err != nil {
				writeMessage(w, http.StatusBadRequest, "Invalid request body")
				return
			}

			cached, err := store.Reserve(r.Context(), scope, key)
			switch {
			case errors.Is(err, app.ErrIdempotencyInFlight):
				status, message := statusForError(err)
				writeMessage(w, status, message)
				return
			case err != nil:
				logger.Warn("idempotency store unavailable", "path", r.URL.Path, "error", err)
				next.ServeHTTP(w, r)
				return
			case cached != nil:
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				return
			}

			var body bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&body)
			next.ServeHTTP(ww, r)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError && ww.Header().Get(SettlementHeader) != settlementIncomplete {
				if err := store.Release(ctx, scope, key); err != nil {
					logger.Warn("failed to release idempotency key", "path", r.URL.Path, "error", err)
				}
				return
			}
			if err := store.Complete(ctx, scope, key, app.StoredResponse{StatusCode: status, Body: body.Bytes()}); err != nil {
				logger.Warn("failed to store idempotent response", "path", r.URL.Path, "error", err)
			}
		})
	}
}

// idempotencyScope returns <path>:<sha256 of the body>. The body is read up to the decode
// limit and handed back to the next handler unchanged.
func idempotencyScope(r *http.Request) (string, error) {
	if r.Body == nil {
		return r.URL.Path, nil
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(raw), r.Body), r.Body}

	sum := sha256.Sum256(raw)
	return r.URL.Path + ":" + hex.EncodeToString(sum[:]), nil
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
