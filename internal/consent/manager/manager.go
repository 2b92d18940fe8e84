// Package manager owns a visitor's consent for one page load: it decides
// whether the banner is shown, collects category choices, persists the
// record, activates the allowed integrations, and broadcasts the decision.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"consentkit/internal/consent/metrics"
	"consentkit/internal/consent/models"
	"consentkit/internal/consent/store"
	dErrors "consentkit/pkg/domain-errors"
	"consentkit/pkg/platform/sentinel"
	"consentkit/pkg/requestcontext"
)

// activationOrder is the order categories are switched on in.
var activationOrder = []models.Category{
	models.CategoryAnalytics,
	models.CategoryMarketing,
	models.CategoryNecessary,
}

type Option func(*Manager)

// Manager is the consent state machine for a single page load.
// Build one with New, call Initialize, and Dispose it when the load ends.
type Manager struct {
	store     Store
	key       string
	clientID  string
	renderer  Renderer
	activator Activator
	reloader  Reloader
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	now       func() time.Time
	retention time.Duration

	// mu is held across store calls so decisions on one load are serialized
	// and persist at most once. Stores must not call back into the manager.
	mu           sync.Mutex
	state        models.State
	outcome      models.Outcome
	record       *models.Record
	selection    models.Selection
	settingsFrom models.State
	activated    map[models.Category]bool
	disposed     bool
}

func New(st Store, opts ...Option) *Manager {
	m := &Manager{
		store:     st,
		key:       store.DefaultKey,
		logger:    slog.Default(),
		retention: models.DefaultRetention,
		state:     models.StateUnknown,
		activated: make(map[models.Category]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer("consentkit/consent")
	}
	return m
}

// WithKey sets the storage key the record is kept under.
func WithKey(key string) Option {
	return func(m *Manager) {
		if key != "" {
			m.key = key
		}
	}
}

// WithClientID sets the visitor identifier carried on events.
// Without it the client ID is read from the request context.
func WithClientID(clientID string) Option {
	return func(m *Manager) {
		m.clientID = clientID
	}
}

func WithRenderer(r Renderer) Option {
	return func(m *Manager) {
		m.renderer = r
	}
}

func WithActivator(a Activator) Option {
	return func(m *Manager) {
		m.activator = a
	}
}

func WithReloader(r Reloader) Option {
	return func(m *Manager) {
		m.reloader = r
	}
}

func WithPublisher(p Publisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) {
		m.tracer = t
	}
}

// WithClock overrides the time source. By default the request time from
// the context is used.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithRetention sets how long a record is honored after it was written.
// Zero or negative values keep the 365 day default.
func WithRetention(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.retention = d
		}
	}
}

// Initialize reads the stored record. Without a usable record the banner is
// shown; with one the stored choices are applied and the banner stays hidden.
func (m *Manager) Initialize(ctx context.Context) (err error) {
	ctx, span := m.tracer.Start(ctx, "consent.Initialize")
	defer func() { endSpan(span, err) }()

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return errDisposed
	}
	if m.state != models.StateUnknown {
		state := m.state
		m.mu.Unlock()
		return dErrors.New(dErrors.CodeConflict, fmt.Sprintf("cannot initialize while %s", state))
	}

	rec := m.load(ctx)
	if rec == nil {
		m.state = models.StateBannerShown
		m.selection = models.Selection{}
		if m.metrics != nil {
			m.metrics.IncrementBannersShown()
		}
	} else {
		m.state = models.StateResolved
		m.outcome = models.OutcomeStored
		m.record = rec
		m.selection = rec.Selection()
		m.applyLocked(ctx, rec)
	}
	view := m.viewLocked()
	m.mu.Unlock()

	span.SetAttributes(attribute.String("consent.state", string(view.State)))
	m.render(ctx, view)
	return nil
}

// AcceptAll grants every category.
func (m *Manager) AcceptAll(ctx context.Context) error {
	return m.decide(ctx, models.OutcomeAcceptedAll, func() models.Selection {
		return models.Selection{Analytics: true, Marketing: true}
	})
}

// AcceptNecessaryOnly grants only the necessary category.
func (m *Manager) AcceptNecessaryOnly(ctx context.Context) error {
	return m.decide(ctx, models.OutcomeAcceptedNecessaryOnly, func() models.Selection {
		return models.Selection{}
	})
}

// RejectAll declines every optional category. The stored record equals the
// necessary-only one; only the outcome differs.
func (m *Manager) RejectAll(ctx context.Context) error {
	return m.decide(ctx, models.OutcomeRejected, func() models.Selection {
		return models.Selection{}
	})
}

// SaveSettings persists the modal's current checkbox state.
func (m *Manager) SaveSettings(ctx context.Context) error {
	return m.decide(ctx, models.OutcomeCustomSelection, func() models.Selection {
		return m.selection
	})
}

// AcceptSelected is the modal's second exit point; it behaves like SaveSettings.
func (m *Manager) AcceptSelected(ctx context.Context) error {
	return m.SaveSettings(ctx)
}

// ShowSettings opens the modal, pre-populated from the stored record.
// It is reachable from the banner and, to change a decision, once resolved.
func (m *Manager) ShowSettings(ctx context.Context) (err error) {
	ctx, span := m.tracer.Start(ctx, "consent.ShowSettings")
	defer func() { endSpan(span, err) }()

	m.mu.Lock()
	if err := m.checkLocked("open settings", models.StateSettingsOpen); err != nil {
		m.mu.Unlock()
		return err
	}
	m.settingsFrom = m.state
	m.state = models.StateSettingsOpen
	m.selection = m.storedSelectionLocked()
	view := m.viewLocked()
	m.mu.Unlock()

	m.render(ctx, view)
	return nil
}

// SetCategory toggles one modal checkbox. Necessary cannot be toggled.
func (m *Manager) SetCategory(ctx context.Context, category models.Category, enabled bool) (err error) {
	ctx, span := m.tracer.Start(ctx, "consent.SetCategory",
		trace.WithAttributes(attribute.String("consent.category", string(category))))
	defer func() { endSpan(span, err) }()

	if !category.IsValid() {
		return dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("invalid category: %s", category))
	}
	if category == models.CategoryNecessary {
		return dErrors.New(dErrors.CodeBadRequest, "necessary cookies cannot be disabled")
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return errDisposed
	}
	if m.state != models.StateSettingsOpen {
		state := m.state
		m.mu.Unlock()
		return dErrors.New(dErrors.CodeConflict, fmt.Sprintf("cannot change %s while %s", category, state))
	}
	switch category {
	case models.CategoryAnalytics:
		m.selection.Analytics = enabled
	case models.CategoryMarketing:
		m.selection.Marketing = enabled
	}
	view := m.viewLocked()
	m.mu.Unlock()

	m.render(ctx, view)
	return nil
}

// CloseSettings closes the modal without saving and returns to the state it
// was opened from.
func (m *Manager) CloseSettings(ctx context.Context) (err error) {
	ctx, span := m.tracer.Start(ctx, "consent.CloseSettings")
	defer func() { endSpan(span, err) }()

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return errDisposed
	}
	if m.state != models.StateSettingsOpen {
		state := m.state
		m.mu.Unlock()
		return dErrors.New(dErrors.CodeConflict, fmt.Sprintf("cannot close settings while %s", state))
	}
	m.state = m.settingsFrom
	m.selection = m.storedSelectionLocked()
	view := m.viewLocked()
	m.mu.Unlock()

	m.render(ctx, view)
	return nil
}

// ApplyChoices activates the categories rec grants. Each category is
// activated at most once per manager, so repeated calls are harmless.
func (m *Manager) ApplyChoices(ctx context.Context, rec *models.Record) (err error) {
	ctx, span := m.tracer.Start(ctx, "consent.ApplyChoices")
	defer func() { endSpan(span, err) }()

	if rec == nil {
		return dErrors.New(dErrors.CodeBadRequest, "consent record is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return errDisposed
	}
	m.applyLocked(ctx, rec)
	return nil
}

// Reset deletes the stored record and asks the page to reload. The manager
// returns to Unknown; the next load starts from scratch.
func (m *Manager) Reset(ctx context.Context) (err error) {
	ctx, span := m.tracer.Start(ctx, "consent.Reset")
	defer func() { endSpan(span, err) }()

	m.mu.Lock()
	if err := m.checkLocked("reset", models.StateUnknown); err != nil {
		m.mu.Unlock()
		return err
	}

	start := time.Now()
	if err := m.store.Delete(ctx, m.key); err != nil {
		m.storageFailure(ctx, "delete", err)
	}
	m.observe("delete", start)

	m.state = models.StateUnknown
	m.outcome = models.OutcomeNone
	m.record = nil
	m.selection = models.Selection{}
	m.activated = make(map[models.Category]bool)
	view := m.viewLocked()
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.IncrementResets()
	}
	m.logger.InfoContext(ctx, "consent reset",
		"request_id", requestcontext.RequestID(ctx),
		"client_id", m.client(ctx),
	)
	m.render(ctx, view)
	if m.reloader != nil {
		m.reloader.Reload(ctx)
	}
	return nil
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot(ctx context.Context) models.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.Snapshot{
		ClientID: m.client(ctx),
		State:    m.state,
		Outcome:  m.outcome,
		Record:   m.record.Clone(),
		View:     m.viewLocked(),
	}
}

// State returns the current state.
func (m *Manager) State() models.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Dispose ends the manager's lifecycle. Later operations fail with a conflict.
func (m *Manager) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disposed = true
}

var errDisposed = dErrors.New(dErrors.CodeConflict, "consent manager has been disposed")

// decide records a decision: persist, resolve, activate, then broadcast once.
func (m *Manager) decide(ctx context.Context, outcome models.Outcome, pick func() models.Selection) (err error) {
	ctx, span := m.tracer.Start(ctx, "consent.Decide",
		trace.WithAttributes(attribute.String("consent.outcome", string(outcome))))
	defer func() { endSpan(span, err) }()

	m.mu.Lock()
	if err := m.checkLocked("record "+string(outcome)+" decision", outcome.State()); err != nil {
		m.mu.Unlock()
		return err
	}

	rec := models.NewRecord(pick(), m.clock(ctx))
	m.persist(ctx, rec)

	// Every decision state leads straight to Resolved.
	m.state = models.StateResolved
	m.outcome = outcome
	m.record = rec
	m.selection = rec.Selection()
	m.applyLocked(ctx, rec)
	view := m.viewLocked()
	evt := models.ChangedEvent{
		ClientID:   m.client(ctx),
		Outcome:    outcome,
		Record:     *rec,
		OccurredAt: rec.Timestamp,
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.IncrementDecisions(string(outcome))
	}
	m.logger.InfoContext(ctx, "consent decision recorded",
		"request_id", requestcontext.RequestID(ctx),
		"client_id", evt.ClientID,
		"outcome", string(outcome),
		"analytics", rec.Analytics,
		"marketing", rec.Marketing,
	)
	m.render(ctx, view)
	if m.publisher != nil {
		m.publisher.Publish(ctx, evt)
	}
	return nil
}

// checkLocked rejects operations on a disposed manager or from a state that
// cannot reach target.
func (m *Manager) checkLocked(op string, target models.State) error {
	if m.disposed {
		return errDisposed
	}
	if !models.CanTransition(m.state, target) {
		return dErrors.New(dErrors.CodeConflict, fmt.Sprintf("cannot %s while %s", op, m.state))
	}
	return nil
}

// load returns the stored record, or nil when there is none usable.
// Unreadable, malformed and expired values all count as absent.
func (m *Manager) load(ctx context.Context) *models.Record {
	start := time.Now()
	data, err := m.store.Get(ctx, m.key)
	m.observe("get", start)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
		case errors.Is(err, sentinel.ErrMalformed):
			m.discard(ctx, "stored consent could not be read", err)
		default:
			m.storageFailure(ctx, "read", err)
		}
		return nil
	}

	rec, err := models.DecodeRecord(data)
	if err != nil {
		m.discard(ctx, "stored consent is malformed", err)
		return nil
	}
	if rec.Expired(m.clock(ctx), m.retention) {
		m.discard(ctx, "stored consent has expired", nil)
		return nil
	}
	return rec
}

func (m *Manager) discard(ctx context.Context, reason string, cause error) {
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"client_id", m.client(ctx),
	}
	if cause != nil {
		attrs = append(attrs, "error", cause)
		if m.metrics != nil {
			m.metrics.IncrementStorageFailures("decode")
		}
	}
	m.logger.WarnContext(ctx, reason, attrs...)

	start := time.Now()
	if err := m.store.Delete(ctx, m.key); err != nil {
		m.storageFailure(ctx, "delete", err)
	}
	m.observe("delete", start)
}

// persist writes rec. A failed write is logged; the decision still applies
// to this load and the banner returns on the next one.
func (m *Manager) persist(ctx context.Context, rec *models.Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		m.storageFailure(ctx, "encode", err)
		return
	}
	start := time.Now()
	if err := m.store.Set(ctx, m.key, data, m.retention); err != nil {
		m.storageFailure(ctx, "write", err)
	}
	m.observe("set", start)
}

func (m *Manager) storageFailure(ctx context.Context, operation string, err error) {
	if m.metrics != nil {
		m.metrics.IncrementStorageFailures(operation)
	}
	m.logger.WarnContext(ctx, "consent storage unavailable",
		"request_id", requestcontext.RequestID(ctx),
		"client_id", m.client(ctx),
		"operation", operation,
		"error", err,
	)
}

// applyLocked activates what rec grants, skipping categories already active.
// A category whose activation failed is retried on the next call.
func (m *Manager) applyLocked(ctx context.Context, rec *models.Record) {
	for _, category := range activationOrder {
		if !rec.Grants(category) || m.activated[category] {
			continue
		}
		if m.activator == nil {
			m.activated[category] = true
			continue
		}
		err := m.activator.Activate(ctx, category)
		if m.metrics != nil {
			m.metrics.IncrementActivations(string(category), err == nil)
		}
		if err != nil {
			m.logger.WarnContext(ctx, "consent category activation failed",
				"request_id", requestcontext.RequestID(ctx),
				"category", string(category),
				"error", err,
			)
			continue
		}
		m.activated[category] = true
	}
}

func (m *Manager) render(ctx context.Context, view models.View) {
	if m.renderer == nil {
		return
	}
	if err := m.renderer.Render(ctx, view); err != nil {
		if m.metrics != nil {
			m.metrics.IncrementRenderFailures()
		}
		m.logger.WarnContext(ctx, "consent UI not rendered",
			"request_id", requestcontext.RequestID(ctx),
			"state", string(view.State),
			"error", err,
		)
	}
}

func (m *Manager) viewLocked() models.View {
	return models.NewView(m.state, m.record == nil, m.selection)
}

func (m *Manager) storedSelectionLocked() models.Selection {
	if m.record == nil {
		return models.Selection{}
	}
	return m.record.Selection()
}

func (m *Manager) clock(ctx context.Context) time.Time {
	if m.now != nil {
		return m.now()
	}
	return requestcontext.Now(ctx)
}

func (m *Manager) client(ctx context.Context) string {
	if m.clientID != "" {
		return m.clientID
	}
	return requestcontext.ClientID(ctx)
}

func (m *Manager) observe(operation string, start time.Time) {
	if m.metrics != nil {
		m.metrics.ObserveStoreOperationLatency(operation, time.Since(start).Seconds())
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
