// Package requesttime provides middleware for request-scoped time.
// All operations within a single page load use the same "now" timestamp, so the
// consent record, its receipt, and the relayed event agree on when the decision happened.
package requesttime

import (
	"net/http"
	"time"

	"consentkit/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request
// and stores it in the context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
