package manager

import (
	"context"
	"time"

	"consentkit/internal/consent/models"
)

// Store is the key-value persistence the record lives in.
// Error Contract:
//   - Get returns sentinel.ErrNotFound when nothing is stored under key
//   - Get may return sentinel.ErrMalformed when the stored bytes cannot be read back
//   - any other error means the backend is unavailable
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Renderer draws the banner and settings modal for a view.
type Renderer interface {
	Render(ctx context.Context, view models.View) error
}

// Activator switches on the integrations behind a consent category.
type Activator interface {
	Activate(ctx context.Context, category models.Category) error
}

// Reloader asks the page to reload so every collaborator starts from a clean state.
type Reloader interface {
	Reload(ctx context.Context)
}

// Publisher broadcasts consent changes.
type Publisher interface {
	Publish(ctx context.Context, evt models.ChangedEvent)
}
