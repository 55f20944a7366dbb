// Package engine wires the validation, rate limiting, session, audit, and
// monitoring components into one embeddable security engine.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mariia-hub/apiguard/internal/audit"
	"github.com/mariia-hub/apiguard/internal/core"
	"github.com/mariia-hub/apiguard/internal/headers"
	"github.com/mariia-hub/apiguard/internal/monitor"
	"github.com/mariia-hub/apiguard/internal/notify"
	"github.com/mariia-hub/apiguard/internal/patterns"
	"github.com/mariia-hub/apiguard/internal/ratelimit"
	"github.com/mariia-hub/apiguard/internal/session"
	"github.com/mariia-hub/apiguard/internal/validator"
)

// Observer receives every audit event the engine records, in order, on the
// recording goroutine. A panicking observer is isolated and logged; a slow
// one delays the caller, so observers must be fast.
type Observer func(event *core.SecurityEvent)

// Engine is the embeddable security engine. All state lives here; the
// protected application constructs one Engine at startup and calls it from
// its HTTP layer.
type Engine struct {
	Config    *core.Config
	Library   *patterns.Library
	Validator *validator.Validator
	Limiter   *ratelimit.Limiter
	Sessions  *session.Checker
	Audit     *audit.Store
	Monitor   *monitor.Monitor
	Pipeline  *core.AlertPipeline
	Headers   *headers.Builder
	Bus       *core.EventBus
	Archiver  *audit.Archiver
	Webhooks  *notify.Dispatcher
	LogBuffer *core.LogRingBuffer
	Logger    zerolog.Logger

	mu        sync.Mutex
	observers []Observer

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds an engine from configuration. The bus and archiver are optional
// and only started by Start when enabled.
func New(cfg *core.Config, logger zerolog.Logger) (*Engine, error) {
	lib := patterns.NewLibrary()

	limiter, err := ratelimit.New(cfg.RateLimit, logger)
	if err != nil {
		return nil, fmt.Errorf("building rate limiter: %w", err)
	}
	sessions, err := session.NewChecker(cfg.Session, logger)
	if err != nil {
		return nil, fmt.Errorf("building session checker: %w", err)
	}

	pipeline := core.NewAlertPipeline(logger, cfg.Alerts.MaxStore)
	store := audit.NewStore(cfg.Audit.MaxEvents, logger)

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		Config:    cfg,
		Library:   lib,
		Validator: validator.New(lib, cfg.Validator, logger),
		Limiter:   limiter,
		Sessions:  sessions,
		Audit:     store,
		Monitor:   monitor.New(pipeline, core.SeverityHigh, logger),
		Pipeline:  pipeline,
		Headers:   headers.NewBuilder(cfg.Headers),
		Logger:    logger.With().Str("component", "engine").Logger(),
		ctx:       ctx,
		cancel:    cancel,
	}

	if cfg.Alerts.EnableConsole {
		pipeline.AddHandler(func(alert *core.Alert) {
			e.Logger.Warn().
				Str("alert_id", alert.ID).
				Str("type", alert.Type).
				Str("severity", alert.Severity.String()).
				Str("title", alert.Title).
				Msg("SECURITY ALERT")
		})
	}

	return e, nil
}

// Start launches the background loops: rate limiter cleanup, the anomaly
// sweep, and the optional event bus and audit archiver.
func (e *Engine) Start() error {
	if e.Config.Bus.Enabled {
		bus, err := core.NewEventBus(&e.Config.Bus, e.Logger)
		if err != nil {
			return fmt.Errorf("starting event bus: %w", err)
		}
		e.Bus = bus
		e.Pipeline.AddHandler(func(alert *core.Alert) {
			if err := e.Bus.PublishAlert(alert); err != nil {
				e.Logger.Error().Err(err).Str("alert_id", alert.ID).Msg("publishing alert to bus")
			}
		})
	}

	if urls := e.Config.Alerts.WebhookURLs; len(urls) > 0 {
		e.Webhooks = notify.NewDispatcher(notify.DefaultRetryConfig(), e.Logger)
		e.Pipeline.AddHandler(func(alert *core.Alert) {
			for _, url := range urls {
				e.Webhooks.EnqueueAlert(url, alert)
			}
		})
	}

	if e.Config.Audit.ArchiveEnabled {
		archiver, err := audit.NewArchiver(e.Config.Audit.ArchivePath, e.Logger)
		if err != nil {
			return fmt.Errorf("starting audit archiver: %w", err)
		}
		if err := archiver.Init(e.ctx); err != nil {
			return fmt.Errorf("initializing audit archive: %w", err)
		}
		archiver.Start(e.ctx)
		e.Archiver = archiver
		e.Audit.SetEvicted(archiver)
	}

	go e.Limiter.CleanupLoop(e.ctx)
	go e.anomalyLoop()

	e.Logger.Info().
		Int("signatures", e.Library.Size()).
		Bool("bus", e.Bus != nil).
		Bool("archive", e.Archiver != nil).
		Msg("engine started")
	return nil
}

// Shutdown stops the background loops and closes the bus and archiver.
func (e *Engine) Shutdown() error {
	e.Logger.Info().Msg("shutting down engine")
	e.cancel()

	if e.Archiver != nil {
		if err := e.Archiver.Close(); err != nil {
			e.Logger.Error().Err(err).Msg("closing audit archiver")
		}
	}
	if e.Bus != nil {
		if err := e.Bus.Close(); err != nil {
			e.Logger.Error().Err(err).Msg("closing event bus")
		}
	}
	if e.Webhooks != nil {
		e.Webhooks.Stop()
	}
	return nil
}

// AddObserver appends an observer to the ordered notification list.
// Observers cannot be removed.
func (e *Engine) AddObserver(obs Observer) {
	e.mu.Lock()
	e.observers = append(e.observers, obs)
	e.mu.Unlock()
}

// record logs the event to the audit store, fans it out to observers in
// order, and publishes it to the bus when connected.
func (e *Engine) record(event *core.SecurityEvent) {
	e.Audit.Log(event)

	e.mu.Lock()
	observers := e.observers
	e.mu.Unlock()
	for _, obs := range observers {
		e.safeNotify(obs, event)
	}

	if e.Bus != nil && e.Bus.IsConnected() {
		if err := e.Bus.PublishEvent(event); err != nil {
			e.Logger.Error().Err(err).Str("event_id", event.ID).Msg("publishing event to bus")
		}
	}
}

func (e *Engine) safeNotify(obs Observer, event *core.SecurityEvent) {
	defer func() {
		if r := recover(); r != nil {
			e.Logger.Error().
				Interface("panic", r).
				Str("event_id", event.ID).
				Msg("observer panicked")
		}
	}()
	obs(event)
}

// anomalyLoop sweeps the audit store once per anomaly window and turns each
// finding into a monitored violation.
func (e *Engine) anomalyLoop() {
	window := e.Config.Audit.AnomalyWindow
	if window <= 0 {
		window = time.Minute
	}
	ticker := time.NewTicker(window)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.SweepAnomalies()
		}
	}
}

// SweepAnomalies runs anomaly detection over the current window and records
// each finding. Exposed so callers can force a sweep between ticks.
func (e *Engine) SweepAnomalies() []audit.Anomaly {
	anomalies := e.Audit.DetectAnomalies(e.Config.Audit.AnomalyWindow)
	for _, a := range anomalies {
		event := core.NewSecurityEvent(core.EventSecurityIncident, a.Severity, a.Actor, "anomaly", core.ResultFlagged)
		event.SessionID = a.Session
		event.Metadata["anomaly_type"] = a.Type
		event.Metadata["count"] = a.Count
		e.record(event)
		e.Monitor.RecordSecurityViolation(a.Type, a.Severity, event)
	}
	return anomalies
}

// Dashboard is the JSON document served to operators: live counters, the
// posture score, audit totals, and open alerts.
type Dashboard struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Monitor     monitor.Metrics `json:"monitor"`
	Audit       audit.Metrics   `json:"audit"`
	OpenAlerts  []*core.Alert   `json:"open_alerts"`
}

// Snapshot assembles the dashboard document.
func (e *Engine) Snapshot() Dashboard {
	return Dashboard{
		GeneratedAt: time.Now().UTC(),
		Monitor:     e.Monitor.Snapshot(),
		Audit:       e.Audit.GetMetrics(),
		OpenAlerts:  e.Monitor.GetUnresolvedAlerts(),
	}
}

// WriteDashboard writes the dashboard as indented JSON.
func (e *Engine) WriteDashboard(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(e.Snapshot())
}

// Reset clears all engine state: counters, sessions, rate limiter windows,
// audit events, and stored alerts. Administrative use only.
func (e *Engine) Reset() {
	e.Limiter.Reset()
	e.Sessions.Reset()
	e.Audit.Reset()
	e.Monitor.Reset()
	e.Pipeline.ClearAlerts()
	e.Logger.Info().Msg("engine state reset")
}
