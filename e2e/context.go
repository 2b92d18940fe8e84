package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// TestContext is one visitor's browser for the length of a scenario: it keeps
// cookies between requests and remembers the last response.
type TestContext struct {
	BaseURL string

	client       *http.Client
	cookies      map[string]string
	lastStatus   int
	lastBody     []byte
	lastHeaders  http.Header
	lastResponse map[string]any
}

// NewTestContext targets CONSENT_BASE_URL, defaulting to a local server.
func NewTestContext() *TestContext {
	base := os.Getenv("CONSENT_BASE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	tc := &TestContext{BaseURL: strings.TrimSuffix(base, "/")}
	tc.NewVisitor()
	return tc
}

// NewVisitor drops every cookie, like opening a fresh private window.
func (tc *TestContext) NewVisitor() {
	tc.client = &http.Client{Timeout: 10 * time.Second}
	tc.cookies = make(map[string]string)
	tc.lastStatus = 0
	tc.lastBody = nil
	tc.lastResponse = nil
}

func (tc *TestContext) GET(path string, headers map[string]string) error {
	return tc.do(http.MethodGet, path, nil, headers)
}

func (tc *TestContext) POST(path string, body interface{}) error {
	return tc.do(http.MethodPost, path, body, nil)
}

func (tc *TestContext) DELETE(path string) error {
	return tc.do(http.MethodDelete, path, nil, nil)
}

func (tc *TestContext) do(method, path string, body interface{}, headers map[string]string) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, tc.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if len(tc.cookies) > 0 {
		pairs := make([]string, 0, len(tc.cookies))
		for name, value := range tc.cookies {
			pairs = append(pairs, name+"="+value)
		}
		req.Header.Add("Cookie", strings.Join(pairs, "; "))
	}

	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	tc.storeCookies(resp.Header.Values("Set-Cookie"))
	tc.lastStatus = resp.StatusCode
	tc.lastHeaders = resp.Header
	tc.lastBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	tc.lastResponse = nil
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") && len(tc.lastBody) > 0 {
		if err := json.Unmarshal(tc.lastBody, &tc.lastResponse); err != nil {
			return fmt.Errorf("decode response body: %w", err)
		}
	}
	return nil
}

func (tc *TestContext) GetLastStatusCode() int {
	return tc.lastStatus
}

func (tc *TestContext) GetLastResponseBody() []byte {
	return tc.lastBody
}

func (tc *TestContext) GetLastHeader(name string) string {
	if tc.lastHeaders == nil {
		return ""
	}
	return tc.lastHeaders.Get(name)
}

// GetResponseField returns a top-level field of the last JSON response.
func (tc *TestContext) GetResponseField(field string) (interface{}, error) {
	if tc.lastResponse == nil {
		return nil, fmt.Errorf("last response was not JSON (status %d)", tc.lastStatus)
	}
	v, ok := tc.lastResponse[field]
	if !ok {
		return nil, fmt.Errorf("response has no field %q: %s", field, tc.lastBody)
	}
	return v, nil
}

func (tc *TestContext) ResponseContains(field string) bool {
	_, ok := tc.lastResponse[field]
	return ok
}

// HasCookie reports whether the visitor holds the named cookie.
func (tc *TestContext) HasCookie(name string) bool {
	_, ok := tc.cookies[name]
	return ok
}

// storeCookies applies Set-Cookie headers the way a browser does. The consent
// cookie holds raw JSON, which net/http/cookiejar would drop, so values are
// kept verbatim and only the attributes go through net/http.
func (tc *TestContext) storeCookies(lines []string) {
	for _, line := range lines {
		pair, attrs, _ := strings.Cut(line, ";")
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || name == "" {
			continue
		}
		c, err := http.ParseSetCookie(name + "=x;" + attrs)
		if err != nil {
			continue
		}
		if c.MaxAge < 0 || (!c.Expires.IsZero() && c.Expires.Before(time.Now())) {
			delete(tc.cookies, name)
			continue
		}
		tc.cookies[name] = value
	}
}
