package metrics

import (
	"time"
)

// EngineMetrics holds the expansion engine's metrics.
type EngineMetrics struct {
	registry *Registry

	KeyEventsTotal        *Counter
	FiresTotal            *Counter
	ManualTriggersTotal   *Counter
	RenderFailuresTotal   *Counter
	DeliveryFailuresTotal *Counter
	IndexRebuildsTotal    *Counter
	ConfigReloadsTotal    *Counter

	ActiveRenders *Gauge
	CombosLoaded  *Gauge
	PausedState   *Gauge
	UptimeSeconds *Gauge
	LastFireTs    *Gauge

	MatchLatency     *Histogram
	RenderDuration   *Histogram
	DeliveryDuration *Histogram
}

var startTime = time.Now()

// NewEngineMetrics registers all engine metrics on the given registry,
// or on the default registry when nil.
func NewEngineMetrics(registry *Registry) *EngineMetrics {
	if registry == nil {
		registry = Default()
	}

	return &EngineMetrics{
		registry: registry,

		KeyEventsTotal: registry.RegisterCounter(
			"key_events_total",
			"Total number of key events fed to the matcher",
			nil,
		),
		FiresTotal: registry.RegisterCounter(
			"fires_total",
			"Total number of combos expanded successfully",
			nil,
		),
		ManualTriggersTotal: registry.RegisterCounter(
			"manual_triggers_total",
			"Total number of manual trigger invocations",
			nil,
		),
		RenderFailuresTotal: registry.RegisterCounter(
			"render_failures_total",
			"Total number of snippet renders that failed",
			nil,
		),
		DeliveryFailuresTotal: registry.RegisterCounter(
			"delivery_failures_total",
			"Total number of rendered snippets that could not be delivered",
			nil,
		),
		IndexRebuildsTotal: registry.RegisterCounter(
			"index_rebuilds_total",
			"Total number of keyword index rebuilds",
			nil,
		),
		ConfigReloadsTotal: registry.RegisterCounter(
			"config_reloads_total",
			"Total number of configuration reloads applied",
			nil,
		),

		ActiveRenders: registry.RegisterGauge(
			"active_renders",
			"Number of snippet renders currently in flight",
			nil,
		),
		CombosLoaded: registry.RegisterGauge(
			"combos_loaded",
			"Number of combos in the active keyword index",
			nil,
		),
		PausedState: registry.RegisterGauge(
			"paused",
			"1 while expansion is paused, 0 while running",
			nil,
		),
		UptimeSeconds: registry.RegisterGauge(
			"uptime_seconds",
			"Number of seconds the daemon has been running",
			nil,
		),
		LastFireTs: registry.RegisterGauge(
			"last_fire_timestamp",
			"Unix timestamp of the last successful expansion",
			nil,
		),

		MatchLatency: registry.RegisterHistogram(
			"match_latency_seconds",
			"Time to process one key event through the matcher",
			nil,
			MatchBuckets,
		),
		RenderDuration: registry.RegisterHistogram(
			"render_duration_seconds",
			"Time to render a snippet, including scripts and prompts",
			nil,
			RenderBuckets,
		),
		DeliveryDuration: registry.RegisterHistogram(
			"delivery_duration_seconds",
			"Time to deliver rendered text to the focused application",
			nil,
			DeliveryBuckets,
		),
	}
}

// RecordKeyEvent counts one key event.
func (m *EngineMetrics) RecordKeyEvent() {
	m.KeyEventsTotal.Inc()
}

// ObserveMatchLatency records how long one key event took to match.
func (m *EngineMetrics) ObserveMatchLatency(d time.Duration) {
	m.MatchLatency.ObserveDuration(d)
}

// RecordFire counts a successful expansion.
func (m *EngineMetrics) RecordFire(renderDuration time.Duration) {
	m.FiresTotal.Inc()
	m.RenderDuration.ObserveDuration(renderDuration)
	m.LastFireTs.Set(time.Now().Unix())
}

// RecordManualTrigger counts a manual trigger invocation.
func (m *EngineMetrics) RecordManualTrigger() {
	m.ManualTriggersTotal.Inc()
}

// RecordRenderFailure counts a failed snippet render.
func (m *EngineMetrics) RecordRenderFailure() {
	m.RenderFailuresTotal.Inc()
}

// RecordDeliveryFailure counts a render that could not be delivered.
func (m *EngineMetrics) RecordDeliveryFailure() {
	m.DeliveryFailuresTotal.Inc()
}

// RecordIndexRebuild counts a keyword index rebuild.
func (m *EngineMetrics) RecordIndexRebuild(combosLoaded int) {
	m.IndexRebuildsTotal.Inc()
	m.CombosLoaded.Set(int64(combosLoaded))
}

// RecordConfigReload counts an applied configuration reload.
func (m *EngineMetrics) RecordConfigReload() {
	m.ConfigReloadsTotal.Inc()
}

// RenderStarted marks a render as in flight.
func (m *EngineMetrics) RenderStarted() {
	m.ActiveRenders.Inc()
}

// RenderFinished marks a render as done.
func (m *EngineMetrics) RenderFinished() {
	m.ActiveRenders.Dec()
}

// StartRenderTimer returns a timer for one render.
func (m *EngineMetrics) StartRenderTimer() *HistogramTimer {
	return m.RenderDuration.Timer()
}

// StartDeliveryTimer returns a timer for one delivery.
func (m *EngineMetrics) StartDeliveryTimer() *HistogramTimer {
	return m.DeliveryDuration.Timer()
}

// SetPaused records the pause state.
func (m *EngineMetrics) SetPaused(paused bool) {
	if paused {
		m.PausedState.Set(1)
	} else {
		m.PausedState.Set(0)
	}
}

// UpdateUptime refreshes the uptime gauge.
func (m *EngineMetrics) UpdateUptime() {
	m.UptimeSeconds.Set(int64(time.Since(startTime).Seconds()))
}

// Snapshot returns the key engine metrics as a flat map.
func (m *EngineMetrics) Snapshot() map[string]any {
	m.UpdateUptime()
	return map[string]any{
		"key_events_total":        m.KeyEventsTotal.Value(),
		"fires_total":             m.FiresTotal.Value(),
		"manual_triggers_total":   m.ManualTriggersTotal.Value(),
		"render_failures_total":   m.RenderFailuresTotal.Value(),
		"delivery_failures_total": m.DeliveryFailuresTotal.Value(),
		"index_rebuilds_total":    m.IndexRebuildsTotal.Value(),
		"config_reloads_total":    m.ConfigReloadsTotal.Value(),
		"active_renders":          m.ActiveRenders.Value(),
		"combos_loaded":           m.CombosLoaded.Value(),
		"paused":                  m.PausedState.Value(),
		"uptime_seconds":          m.UptimeSeconds.Value(),
		"render_avg_seconds":      m.RenderDuration.Mean(),
		"match_avg_seconds":       m.MatchLatency.Mean(),
	}
}

var defaultEngineMetrics *EngineMetrics

// GetMetrics returns the global engine metrics, creating them on the
// default registry on first use.
func GetMetrics() *EngineMetrics {
	if defaultEngineMetrics == nil {
		defaultEngineMetrics = NewEngineMetrics(Default())
	}
	return defaultEngineMetrics
}

// InitMetrics rebinds the global engine metrics to a registry.
func InitMetrics(registry *Registry) *EngineMetrics {
	defaultEngineMetrics = NewEngineMetrics(registry)
	return defaultEngineMetrics
}
