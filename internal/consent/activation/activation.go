// Package activation runs the loaders that switch a consent category on.
package activation

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"sync"
	"time"

	"consentkit/internal/consent/models"
)

// Loader enables one integration.
type Loader interface {
	Load(ctx context.Context) error
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) error

func (f LoaderFunc) Load(ctx context.Context) error { return f(ctx) }

// Registry maps consent categories to the loaders they unlock.
type Registry struct {
	mu      sync.RWMutex
	loaders map[models.Category][]Loader
}

func NewRegistry() *Registry {
	return &Registry{loaders: make(map[models.Category][]Loader)}
}

// Register adds loaders for category, run in registration order.
func (r *Registry) Register(category models.Category, loaders ...Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[category] = append(r.loaders[category], loaders...)
}

// Activate runs every loader registered for category. All loaders run even
// when one fails; the failures are joined.
func (r *Registry) Activate(ctx context.Context, category models.Category) error {
	if !category.IsValid() {
		return fmt.Errorf("unknown consent category %q", category)
	}
	r.mu.RLock()
	loaders := append([]Loader(nil), r.loaders[category]...)
	r.mu.RUnlock()

	var errs []error
	for _, l := range loaders {
		if err := l.Load(ctx); err != nil {
			errs = append(errs, fmt.Errorf("activate %s: %w", category, err))
		}
	}
	return errors.Join(errs...)
}

// Consent-Mode storage keys understood by the page's tag manager.
const (
	AnalyticsStorage = "analytics_storage"
	AdStorage        = "ad_storage"
)

// Granted is the Consent-Mode value for an allowed storage type.
const Granted = "granted"

// ConsentMode collects Consent-Mode directives for the page to forward to its
// tag manager, e.g. {"analytics_storage":"granted"}.
type ConsentMode struct {
	mu         sync.Mutex
	directives map[string]string
}

func NewConsentMode() *ConsentMode {
	return &ConsentMode{directives: make(map[string]string)}
}

// Grant returns a loader that marks key as granted.
func (m *ConsentMode) Grant(key string) Loader {
	return LoaderFunc(func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.directives[key] = Granted
		return nil
	})
}

// Directives returns a copy of the collected directives.
func (m *ConsentMode) Directives() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.directives)
}

const (
	SessionCookieName = "jbweb_session"
	sessionLifetime   = 24 * time.Hour
)

// SessionCookie returns the necessary-category loader: it marks the visitor's
// session active for one day.
func SessionCookie(w http.ResponseWriter, secure bool) Loader {
	return LoaderFunc(func(context.Context) error {
		if w == nil {
			return errors.New("no response to write session cookie")
		}
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookieName,
			Value:    "active",
			Path:     "/",
			MaxAge:   int(sessionLifetime / time.Second),
			SameSite: http.SameSiteLaxMode,
			Secure:   secure,
		})
		return nil
	})
}

// ClearSessionCookie expires the session cookie set by SessionCookie.
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0).UTC(),
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	})
}
