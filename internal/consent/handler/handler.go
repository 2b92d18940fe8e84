// Package handler serves the consent banner and its controls over HTTP.
// Every request is one page load: it builds a manager, initializes it from
// the visitor's stored record, runs the control, and disposes it.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"consentkit/internal/consent/activation"
	"consentkit/internal/consent/manager"
	"consentkit/internal/consent/metrics"
	"consentkit/internal/consent/models"
	"consentkit/internal/consent/receipt"
	"consentkit/internal/consent/render"
	"consentkit/internal/consent/store"
	"consentkit/internal/platform/middleware"
	dErrors "consentkit/pkg/domain-errors"
	"consentkit/pkg/platform/circuit"
	"consentkit/pkg/platform/httputil"
	"consentkit/pkg/requestcontext"
)

// Backend opens the store a page load persists into.
type Backend struct {
	open      func(w http.ResponseWriter, r *http.Request) manager.Store
	perClient bool
}

// SharedBackend keeps every visitor's record in one server-side store,
// keyed by the client ID cookie.
func SharedBackend(st manager.Store) Backend {
	return Backend{
		open:      func(http.ResponseWriter, *http.Request) manager.Store { return st },
		perClient: true,
	}
}

// FailoverBackend is SharedBackend with the consent cookie as a fallback while
// the breaker is open.
func FailoverBackend(st manager.Store, breaker *circuit.Breaker, logger *slog.Logger, opts ...store.CookieOption) Backend {
	return Backend{
		open: func(w http.ResponseWriter, r *http.Request) manager.Store {
			return store.NewFailover(st, store.NewCookie(w, r, opts...), breaker, logger)
		},
		perClient: true,
	}
}

// CookieBackend keeps the record in the visitor's own consent cookie.
func CookieBackend(opts ...store.CookieOption) Backend {
	return Backend{
		open: func(w http.ResponseWriter, r *http.Request) manager.Store {
			return store.NewCookie(w, r, opts...)
		},
	}
}

type Option func(*Handler)

// WithPublisher broadcasts decisions to p, usually an *events.Bus.
func WithPublisher(p manager.Publisher) Option {
	return func(h *Handler) {
		h.publisher = p
	}
}

// WithIssuer attaches a signed receipt to every decision and enables receipt verification.
func WithIssuer(i *receipt.Issuer) Option {
	return func(h *Handler) {
		h.issuer = i
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithSecureCookies marks every cookie the handler sets as Secure.
func WithSecureCookies(secure bool) Option {
	return func(h *Handler) {
		h.secure = secure
	}
}

func WithRetention(d time.Duration) Option {
	return func(h *Handler) {
		h.retention = d
	}
}

// WithPolicyURL sets the cookie policy link shown in the banner.
func WithPolicyURL(url string) Option {
	return func(h *Handler) {
		h.policyURL = url
	}
}

// Handler mounts the consent routes.
type Handler struct {
	backend   Backend
	logger    *slog.Logger
	publisher manager.Publisher
	issuer    *receipt.Issuer
	metrics   *metrics.Metrics
	secure    bool
	retention time.Duration
	policyURL string
}

const basePath = "/consent"

// New creates a consent Handler.
func New(backend Backend, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		backend:   backend,
		logger:    logger,
		retention: models.DefaultRetention,
		policyURL: "cookies.html",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the consent routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route(basePath, func(r chi.Router) {
		r.Use(middleware.ClientID(h.secure))
		r.Use(middleware.ContentTypeJSON)

		r.Get("/", h.HandleGetConsent)
		r.Get("/banner", h.HandleBanner)
		r.Delete("/", h.HandleReset)

		r.Post("/accept-all", h.HandleAcceptAll)
		r.Post("/accept-necessary", h.HandleAcceptNecessary)
		r.Post("/reject", h.HandleReject)

		r.Post("/settings", h.HandleShowSettings)
		r.Post("/settings/close", h.HandleCloseSettings)
		r.Post("/settings/save", h.HandleSaveSettings)
		r.Post("/settings/accept-selected", h.HandleAcceptSelected)

		r.Post("/receipt/verify", h.HandleVerifyReceipt)
	})
}

// step is one manager call made during a page load.
type step func(ctx context.Context, m *manager.Manager) error

// HandleGetConsent is a plain page load: it reports whether the banner shows.
func (h *Handler) HandleGetConsent(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "load")
}

// HandleBanner is a page load that returns the banner and modal markup.
// A visitor with a valid record gets 204 and nothing to insert.
func (h *Handler) HandleBanner(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	load := h.open(w, r)
	defer load.manager.Dispose()

	if err := load.manager.Initialize(ctx); err != nil {
		h.fail(ctx, w, "banner", err)
		return
	}

	markup := load.frame.HTML()
	if markup == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(markup)) //nolint:errcheck
}

func (h *Handler) HandleAcceptAll(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "accept_all", func(ctx context.Context, m *manager.Manager) error {
		return m.AcceptAll(ctx)
	})
}

func (h *Handler) HandleAcceptNecessary(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "accept_necessary_only", func(ctx context.Context, m *manager.Manager) error {
		return m.AcceptNecessaryOnly(ctx)
	})
}

func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "reject_all", func(ctx context.Context, m *manager.Manager) error {
		return m.RejectAll(ctx)
	})
}

// HandleShowSettings opens the modal over the banner, or over the resolved
// page when a visitor wants to change an earlier decision.
func (h *Handler) HandleShowSettings(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "show_settings", showSettings)
}

func (h *Handler) HandleCloseSettings(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "close_settings", showSettings, func(ctx context.Context, m *manager.Manager) error {
		return m.CloseSettings(ctx)
	})
}

func (h *Handler) HandleSaveSettings(w http.ResponseWriter, r *http.Request) {
	h.serveSelection(w, r, "save_settings", func(ctx context.Context, m *manager.Manager) error {
		return m.SaveSettings(ctx)
	})
}

func (h *Handler) HandleAcceptSelected(w http.ResponseWriter, r *http.Request) {
	h.serveSelection(w, r, "accept_selected", func(ctx context.Context, m *manager.Manager) error {
		return m.AcceptSelected(ctx)
	})
}

// HandleReset forgets the visitor's decision. The response asks the page to reload.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "reset", func(ctx context.Context, m *manager.Manager) error {
		return m.Reset(ctx)
	})
}

// HandleVerifyReceipt checks a receipt's signature and expiry and returns the
// consent it carries.
func (h *Handler) HandleVerifyReceipt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	if h.issuer == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "consent receipts are not enabled"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[VerifyReceiptRequest](w, r, h.logger)
	if !ok {
		return
	}

	claims, err := h.issuer.Verify(req.Receipt)
	if err != nil {
		h.logger.WarnContext(ctx, "consent receipt rejected",
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}
	rec, err := claims.Record()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toReceiptResponse(claims, rec))
}

func showSettings(ctx context.Context, m *manager.Manager) error {
	return m.ShowSettings(ctx)
}

// serveSelection replays the modal: open it, tick the submitted boxes, then finish.
func (h *Handler) serveSelection(w http.ResponseWriter, r *http.Request, op string, finish step) {
	req, ok := httputil.DecodeAndPrepare[SelectionRequest](w, r, h.logger)
	if !ok {
		return
	}
	sel := req.Selection()

	h.serve(w, r, op, showSettings, func(ctx context.Context, m *manager.Manager) error {
		if err := m.SetCategory(ctx, models.CategoryAnalytics, sel.Analytics); err != nil {
			return err
		}
		return m.SetCategory(ctx, models.CategoryMarketing, sel.Marketing)
	}, finish)
}

// serve runs one page load: initialize, then steps in order, then respond
// with the resulting snapshot.
func (h *Handler) serve(w http.ResponseWriter, r *http.Request, op string, steps ...step) {
	ctx := r.Context()
	load := h.open(w, r)
	defer load.manager.Dispose()

	if err := load.manager.Initialize(ctx); err != nil {
		h.fail(ctx, w, op, err)
		return
	}
	for _, s := range steps {
		if err := s(ctx, load.manager); err != nil {
			h.fail(ctx, w, op, err)
			return
		}
	}

	snap := load.manager.Snapshot(ctx)
	directives := load.mode.Directives()
	if load.reload.requested || snap.State == models.StateUnknown {
		// Grants replayed by Initialize were withdrawn by the reset.
		directives = nil
		activation.ClearSessionCookie(w, h.secure)
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK,
		toConsentResponse(snap, directives, h.issueReceipt(ctx, snap), load.reload.requested))
}

// issueReceipt signs the decision made during this load. Stored records and
// undecided loads get none.
func (h *Handler) issueReceipt(ctx context.Context, snap models.Snapshot) string {
	if h.issuer == nil || snap.Record == nil {
		return ""
	}
	if snap.Outcome == models.OutcomeNone || snap.Outcome == models.OutcomeStored {
		return ""
	}
	token, err := h.issuer.Issue(snap.ClientID, snap.Outcome, snap.Record)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to issue consent receipt",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return ""
	}
	return token
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	h.logger.WarnContext(ctx, "consent operation rejected",
		"operation", op,
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
		"client_id", requestcontext.ClientID(ctx),
	)
	httputil.WriteError(w, err)
}

// pageLoad is the per-request wiring around a manager.
type pageLoad struct {
	manager *manager.Manager
	frame   *render.Frame
	mode    *activation.ConsentMode
	reload  reloadFlag
}

type reloadFlag struct {
	requested bool
}

func (f *reloadFlag) Reload(context.Context) {
	f.requested = true
}

func (h *Handler) open(w http.ResponseWriter, r *http.Request) *pageLoad {
	clientID := requestcontext.ClientID(r.Context())
	load := &pageLoad{
		frame: &render.Frame{},
		mode:  activation.NewConsentMode(),
	}

	registry := activation.NewRegistry()
	registry.Register(models.CategoryNecessary, activation.SessionCookie(w, h.secure))
	registry.Register(models.CategoryAnalytics, load.mode.Grant(activation.AnalyticsStorage))
	registry.Register(models.CategoryMarketing, load.mode.Grant(activation.AdStorage))

	key := store.DefaultKey
	if h.backend.perClient {
		key = store.Key(clientID)
	}

	opts := []manager.Option{
		manager.WithKey(key),
		manager.WithClientID(clientID),
		manager.WithRenderer(render.NewHTML(load.frame,
			render.WithBasePath(basePath),
			render.WithPolicyURL(h.policyURL),
		)),
		manager.WithActivator(registry),
		manager.WithReloader(&load.reload),
		manager.WithLogger(h.logger),
		manager.WithRetention(h.retention),
	}
	if h.publisher != nil {
		opts = append(opts, manager.WithPublisher(h.publisher))
	}
	if h.metrics != nil {
		opts = append(opts, manager.WithMetrics(h.metrics))
	}

	load.manager = manager.New(h.backend.open(w, r), opts...)
	return load
}
