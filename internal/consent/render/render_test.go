package render

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consentkit/internal/consent/models"
)

func TestRenderBanner(t *testing.T) {
	frame := &Frame{}
	r := NewHTML(frame)

	require.NoError(t, r.Render(context.Background(), models.NewView(models.StateBannerShown, true, models.Selection{})))

	html := frame.HTML()
	assert.Contains(t, html, "🍪 Uso de Cookies")
	assert.Contains(t, html, `data-consent-endpoint="/consent/accept-all"`)
	assert.Contains(t, html, `data-consent-endpoint="/consent/accept-necessary"`)
	assert.Contains(t, html, `data-consent-endpoint="/consent/settings"`)
	assert.Contains(t, html, `data-consent-endpoint="/consent/reject"`)
	assert.Contains(t, html, "Solo necesarias")
	assert.Contains(t, html, `href="cookies.html"`)
	assert.NotContains(t, html, "cookie-settings-modal")
}

func TestRenderModalReflectsSelection(t *testing.T) {
	frame := &Frame{}
	r := NewHTML(frame, WithBasePath("/api/consent"))

	require.NoError(t, r.Render(context.Background(), models.NewView(models.StateSettingsOpen, false, models.Selection{Analytics: true})))

	html := frame.HTML()
	assert.NotContains(t, html, "cookie-consent-banner")
	assert.Contains(t, html, "Configuración de Cookies")
	assert.Contains(t, html, `id="necessary-cookies" checked disabled`)
	assert.Contains(t, html, `id="analytics-cookies" checked>`)
	assert.Contains(t, html, `id="marketing-cookies">`)
	assert.Contains(t, html, `data-consent-endpoint="/api/consent/settings/save"`)
	assert.Contains(t, html, `data-consent-endpoint="/api/consent/settings/accept-selected"`)
	assert.Contains(t, html, `data-consent-endpoint="/api/consent/settings/close"`)
}

func TestRenderResolvedClearsFrame(t *testing.T) {
	frame := &Frame{}
	r := NewHTML(frame)
	require.NoError(t, r.Render(context.Background(), models.NewView(models.StateBannerShown, true, models.Selection{})))

	require.NoError(t, r.Render(context.Background(), models.NewView(models.StateResolved, false, models.Selection{})))

	assert.Empty(t, strings.TrimSpace(frame.HTML()))
}

func TestRenderWithoutMountPoint(t *testing.T) {
	err := NewHTML(nil).Render(context.Background(), models.NewView(models.StateBannerShown, true, models.Selection{}))
	require.ErrorIs(t, err, ErrNoMountPoint)
}
