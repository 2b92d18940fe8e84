// Package testutil provides common test utilities for handler and integration tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewJSONRequest creates an HTTP request with JSON body.
// The body is marshaled to JSON automatically.
func NewJSONRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		require.NoError(t, err, "failed to marshal request body")
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req := httptest.NewRequest(method, path, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// NewRequest creates a simple HTTP request without a body.
func NewRequest(t *testing.T, method, path string) *http.Request {
	t.Helper()
	return httptest.NewRequest(method, path, nil)
}

// DoRequest executes a request against a handler and returns the recorder.
func DoRequest(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// Browser carries cookies between requests the way a visitor's browser would,
// so a sequence of page loads observes what earlier responses persisted.
type Browser struct {
	cookies map[string]*http.Cookie
}

// NewBrowser returns a browser with an empty cookie jar.
func NewBrowser() *Browser {
	return &Browser{cookies: make(map[string]*http.Cookie)}
}

// Do attaches the jar to req, executes it, and stores any Set-Cookie headers.
// Cookies with a negative MaxAge are removed from the jar. Values are kept
// verbatim, including characters net/http refuses such as '"'.
func (b *Browser) Do(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	pairs := make([]string, 0, len(b.cookies))
	for _, c := range b.cookies {
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	if len(pairs) > 0 {
		req.Header.Add("Cookie", strings.Join(pairs, "; "))
	}
	rr := DoRequest(handler, req)
	for _, line := range rr.Header().Values("Set-Cookie") {
		c, ok := parseSetCookie(line)
		if !ok {
			continue
		}
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c
	}
	return rr
}

// parseSetCookie parses the attributes with net/http and keeps the raw value.
func parseSetCookie(line string) (*http.Cookie, bool) {
	pair, attrs, _ := strings.Cut(line, ";")
	name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
	if !ok || name == "" {
		return nil, false
	}
	c, err := http.ParseSetCookie(name + "=x;" + attrs)
	if err != nil {
		return nil, false
	}
	c.Value = value
	c.Raw = line
	return c, true
}

// Cookie returns the stored cookie with the given name, or nil.
func (b *Browser) Cookie(name string) *http.Cookie {
	return b.cookies[name]
}

// UnmarshalResponse unmarshals the response body into the target struct.
func UnmarshalResponse[T any](t *testing.T, rr *httptest.ResponseRecorder) *T {
	t.Helper()
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err, "failed to read response body")
	var result T
	require.NoError(t, json.Unmarshal(body, &result), "failed to unmarshal response")
	return &result
}

// AssertStatus asserts the response status code matches expected.
func AssertStatus(t *testing.T, rr *httptest.ResponseRecorder, expected int) {
	t.Helper()
	assert.Equal(t, expected, rr.Code, "unexpected status code: %s", rr.Body.String())
}

// AssertStatusAndError asserts both status code and error code.
func AssertStatusAndError(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus int, expectedCode string) {
	t.Helper()
	AssertStatus(t, rr, expectedStatus)
	errResp := UnmarshalResponse[map[string]string](t, rr)
	assert.Equal(t, expectedCode, (*errResp)["error"], "unexpected error code")
}
