package testutil

import (
	"context"
	"time"

	"consentkit/pkg/requestcontext"
)

// PageLoadContext returns a context shaped like the one the HTTP middleware
// chain builds for a page load: fixed request time, client ID, and metadata.
func PageLoadContext(clientID string, now time.Time) context.Context {
	ctx := requestcontext.WithClientID(context.Background(), clientID)
	ctx = requestcontext.WithTime(ctx, now)
	ctx = requestcontext.WithRequestID(ctx, "test-request")
	return requestcontext.WithClientMetadata(ctx, "192.0.2.1",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
}
