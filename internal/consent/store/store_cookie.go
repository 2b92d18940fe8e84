package store

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"consentkit/pkg/platform/sentinel"
)

// CookieStore keeps the consent value in a cookie on the visitor's browser,
// one store per request. The cookie is readable by page scripts so loaders
// can check consent before the next round trip.
//
// Values are written verbatim, so a JSON record lands in the cookie as raw
// JSON that document.cookie readers can JSON.parse. net/http rejects cookie
// values containing '"', so the Cookie and Set-Cookie headers are handled
// here directly. Values that are not safe to send raw are URL-escaped, and
// reads accept both forms.
//
// Writes are remembered for the lifetime of the request so a read after a
// write sees the new value before the browser echoes it back.
type CookieStore struct {
	w       http.ResponseWriter
	r       *http.Request
	secure  bool
	now     func() time.Time
	mu      sync.Mutex
	pending map[string]*string
}

// CookieOption configures a CookieStore.
type CookieOption func(*CookieStore)

// WithSecureCookies marks written cookies Secure.
func WithSecureCookies(secure bool) CookieOption {
	return func(s *CookieStore) {
		s.secure = secure
	}
}

// WithCookieClock overrides the clock used for the Expires attribute.
func WithCookieClock(now func() time.Time) CookieOption {
	return func(s *CookieStore) {
		s.now = now
	}
}

func NewCookie(w http.ResponseWriter, r *http.Request, opts ...CookieOption) *CookieStore {
	s := &CookieStore{
		w:       w,
		r:       r,
		now:     time.Now,
		pending: make(map[string]*string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CookieStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	written, ok := s.pending[key]
	s.mu.Unlock()
	if ok {
		if written == nil {
			return nil, sentinel.ErrNotFound
		}
		return []byte(*written), nil
	}

	if s.r == nil {
		return nil, sentinel.ErrNotFound
	}
	raw, ok := requestCookie(s.r, key)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if strings.HasPrefix(raw, "{") {
		return []byte(raw), nil
	}
	value, err := url.QueryUnescape(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: unescape cookie %s: %w", sentinel.ErrMalformed, key, err)
	}
	return []byte(value), nil
}

func (s *CookieStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if s.w == nil {
		return fmt.Errorf("%w: no response to write cookie %s", sentinel.ErrUnavailable, key)
	}
	cookie := &http.Cookie{
		Name:     key,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
		Secure:   s.secure,
	}
	if ttl > 0 {
		cookie.MaxAge = int(ttl / time.Second)
		cookie.Expires = s.now().Add(ttl).UTC()
	}
	encoded := string(value)
	if !rawSafe(encoded) {
		encoded = url.QueryEscape(encoded)
	}
	// String renders "name=" followed by the attributes when Value is empty.
	attrs := strings.TrimPrefix(cookie.String(), key+"=")
	s.w.Header().Add("Set-Cookie", key+"="+encoded+attrs)

	stored := string(value)
	s.mu.Lock()
	s.pending[key] = &stored
	s.mu.Unlock()
	return nil
}

func (s *CookieStore) Delete(_ context.Context, key string) error {
	if s.w == nil {
		return fmt.Errorf("%w: no response to clear cookie %s", sentinel.ErrUnavailable, key)
	}
	http.SetCookie(s.w, &http.Cookie{
		Name:     key,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0).UTC(),
		SameSite: http.SameSiteLaxMode,
		Secure:   s.secure,
	})

	s.mu.Lock()
	s.pending[key] = nil
	s.mu.Unlock()
	return nil
}

// requestCookie returns the raw value of the named cookie. Unlike
// http.Request.Cookie it keeps values that contain '"' or ','.
func requestCookie(r *http.Request, name string) (string, bool) {
	for _, line := range r.Header.Values("Cookie") {
		for part := range strings.SplitSeq(line, ";") {
			k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
			if ok && k == name {
				return v, true
			}
		}
	}
	return "", false
}

// rawSafe reports whether v is a JSON object that can be sent as a cookie
// value without escaping. Get treats a leading '{' as the raw form.
func rawSafe(v string) bool {
	if !strings.HasPrefix(v, "{") {
		return false
	}
	for i := 0; i < len(v); i++ {
		if b := v[i]; b <= ' ' || b >= 0x7f || b == ';' || b == '\\' {
			return false
		}
	}
	return true
}
