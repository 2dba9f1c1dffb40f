// Package security carries HTTP hardening middleware: request body size
// caps and standard response security headers.
package security

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/ihirwe-dev/backend-pos/internal/common"
)

// BodyLimit caps request payload sizes. Oversized requests are rejected
// with 413 before the handler sees them; the body is buffered so that
// downstream middleware and handlers can re-read it.
type BodyLimit struct {
	Max int64
}

func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.Max <= 0 || r.Body == nil {
			next.ServeHTTP(w, r)
			return
		}

		if r.ContentLength > b.Max {
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
			return
		}

		limited := io.LimitReader(r.Body, b.Max+1)
		raw, err := io.ReadAll(limited)
		if err != nil && !errors.Is(err, io.EOF) {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unable to read request body", nil)
			return
		}
		if int64(len(raw)) > b.Max {
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
			return
		}

		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(raw))
		r.ContentLength = int64(len(raw))
		next.ServeHTTP(w, r)
	})
}
