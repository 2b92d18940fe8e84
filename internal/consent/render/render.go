// Package render draws the consent banner and settings modal.
//
// Every control carries the endpoint it drives in data-consent-endpoint, so
// the page wires one handler per rendered control instead of dispatching on
// element identifiers.
package render

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"sync"

	"consentkit/internal/consent/models"
)

// ErrNoMountPoint means there is nowhere to insert the consent UI.
var ErrNoMountPoint = errors.New("consent UI mount point not found")

//go:embed templates/*.tmpl
var templateFS embed.FS

var labels = map[models.Category]string{
	models.CategoryNecessary: "Cookies Necesarias",
	models.CategoryAnalytics: "Cookies de Análisis",
	models.CategoryMarketing: "Cookies de Marketing",
}

var descriptions = map[models.Category]string{
	models.CategoryNecessary: "Estas cookies son esenciales para el funcionamiento del sitio web y no se pueden desactivar.",
	models.CategoryAnalytics: "Nos ayudan a entender cómo los visitantes interactúan con el sitio web recopilando información de forma anónima.",
	models.CategoryMarketing: "Se utilizan para rastrear a los visitantes en los sitios web para mostrar anuncios relevantes y atractivos.",
}

type control struct {
	Endpoint string
	Class    string
	Label    string
}

var pageTemplates = template.Must(template.New("consent").Funcs(template.FuncMap{
	"label":       func(c models.Category) string { return labels[c] },
	"description": func(c models.Category) string { return descriptions[c] },
	"control": func(base, action, class, label string) control {
		return control{Endpoint: base + "/" + action, Class: class, Label: label}
	},
}).ParseFS(templateFS, "templates/*.tmpl"))

// Frame is the mount point the consent UI is drawn into. Each render
// replaces its previous content.
type Frame struct {
	mu      sync.Mutex
	content []byte
}

func (f *Frame) replace(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content = append(f.content[:0], b...)
}

// HTML returns the current markup.
func (f *Frame) HTML() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.content)
}

// HTMLRenderer renders views as HTML fragments into a Frame.
type HTMLRenderer struct {
	frame     *Frame
	base      string
	policyURL string
}

// Option configures an HTMLRenderer.
type Option func(*HTMLRenderer)

// WithBasePath sets the path prefix of the consent endpoints.
func WithBasePath(base string) Option {
	return func(r *HTMLRenderer) {
		r.base = base
	}
}

// WithPolicyURL sets the cookie policy link.
func WithPolicyURL(url string) Option {
	return func(r *HTMLRenderer) {
		r.policyURL = url
	}
}

func NewHTML(frame *Frame, opts ...Option) *HTMLRenderer {
	r := &HTMLRenderer{
		frame:     frame,
		base:      "/consent",
		policyURL: "cookies.html",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render draws view into the frame. A resolved view renders to nothing,
// which removes the banner and modal.
func (r *HTMLRenderer) Render(_ context.Context, view models.View) error {
	if r.frame == nil {
		return ErrNoMountPoint
	}
	var buf bytes.Buffer
	err := pageTemplates.ExecuteTemplate(&buf, "consent", struct {
		View      models.View
		Base      string
		PolicyURL string
	}{View: view, Base: r.base, PolicyURL: r.policyURL})
	if err != nil {
		return fmt.Errorf("render consent UI: %w", err)
	}
	r.frame.replace(bytes.TrimSpace(buf.Bytes()))
	return nil
}
