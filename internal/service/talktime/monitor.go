// Package talktime tracks per-participant speaking time over a rolling
// window and raises de-duplicated threshold alerts for panelists.
package talktime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"interview-media-relay/internal/directory"
	"interview-media-relay/internal/events"
	"interview-media-relay/internal/models"
	"interview-media-relay/internal/observability/logging"
	"interview-media-relay/internal/observability/metrics"
)

// AlertSender delivers a qualifying alert to the collector.
type AlertSender interface {
	SendAlert(payload any)
}

// Config holds talk-time monitoring configuration.
type Config struct {
	// WindowMinutes is the rolling window length.
	WindowMinutes int

	// AlertThresholdMs is the cumulative in-window speaking time that
	// triggers an alert. Defaults to 60 000 ms.
	AlertThresholdMs int64
}

// DefaultConfig returns sensible defaults: a 5 minute window with a one
// minute speaking threshold.
func DefaultConfig() Config {
	return Config{
		WindowMinutes:    5,
		AlertThresholdMs: 60_000,
	}
}

// span is one continuous or merged speaking interval in milliseconds.
type span struct {
	start int64
	end   int64
}

// participantState is the talk-time bookkeeping for one participant.
// Segments are kept time-ordered and non-overlapping; the last segment
// may be "open" (still being extended by activity).
type participantState struct {
	id          string
	email       string
	displayName string
	role        models.Role

	segments    []span
	open        bool
	lastAlertMs int64
}

// Monitor maintains rolling speaking segments per participant and
// decides when to alert. All state is guarded by a single mutex; alert
// delivery happens after the lock is released.
type Monitor struct {
	cfg       Config
	sender    AlertSender
	publisher *events.Publisher
	now       func() time.Time
	logger    zerolog.Logger
	metrics   *metrics.Metrics

	mu     sync.Mutex
	states map[string]*participantState
}

// New creates a Monitor. publisher may be nil to disable event mirroring.
func New(cfg Config, sender AlertSender, publisher *events.Publisher) *Monitor {
	if cfg.WindowMinutes <= 0 {
		cfg.WindowMinutes = DefaultConfig().WindowMinutes
	}
	if cfg.AlertThresholdMs <= 0 {
		cfg.AlertThresholdMs = DefaultConfig().AlertThresholdMs
	}
	return &Monitor{
		cfg:       cfg,
		sender:    sender,
		publisher: publisher,
		now:       time.Now,
		logger:    logging.WithComponent("talktime"),
		metrics:   metrics.DefaultMetrics,
		states:    make(map[string]*participantState),
	}
}

// RecordActivity extends the participant's in-progress segment to tsMs,
// opening a new segment when none is open. Called on every raw chunk.
func (m *Monitor) RecordActivity(p *directory.Participant, tsMs int64) {
	if p == nil {
		return
	}
	m.mu.Lock()
	st := m.ensure(p)
	if st.open && len(st.segments) > 0 {
		last := &st.segments[len(st.segments)-1]
		if tsMs > last.end {
			last.end = tsMs
		}
	} else {
		st.segments = append(st.segments, span{start: tsMs, end: tsMs})
		st.open = true
	}
	alert := m.evaluateLocked(st)
	m.mu.Unlock()

	m.dispatch(alert)
}

// RecordFinal seals the participant's open segment with the flushed
// utterance's boundaries. Idempotent when the accumulated activity
// already matches.
func (m *Monitor) RecordFinal(p *directory.Participant, startMs, endMs int64) {
	if p == nil || endMs < startMs {
		return
	}
	m.mu.Lock()
	st := m.ensure(p)
	switch {
	case st.open && len(st.segments) > 0:
		st.segments[len(st.segments)-1] = span{start: startMs, end: endMs}
		st.open = false
	case len(st.segments) > 0 && st.segments[len(st.segments)-1] == (span{start: startMs, end: endMs}):
		// already sealed
	default:
		st.segments = append(st.segments, span{start: startMs, end: endMs})
	}
	alert := m.evaluateLocked(st)
	m.mu.Unlock()

	m.dispatch(alert)
}

// SpeakingTimeMs returns the participant's current in-window speaking
// time. Exposed for observability and tests.
func (m *Monitor) SpeakingTimeMs(participantID string) int64 {
	nowMs := m.now().UnixMilli()
	windowStart := nowMs - int64(m.cfg.WindowMinutes)*60_000

	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[participantID]
	if !ok {
		return 0
	}
	return windowTotal(st.segments, windowStart, nowMs)
}

func (m *Monitor) ensure(p *directory.Participant) *participantState {
	key := p.Key()
	st, ok := m.states[key]
	if !ok {
		st = &participantState{
			id:          key,
			email:       p.Email,
			displayName: p.DisplayName,
			role:        p.Role,
		}
		m.states[key] = st
		m.metrics.TrackedSpeakers.Set(float64(len(m.states)))
	}
	return st
}

// evaluateLocked prunes the rolling window and returns a qualifying
// alert, or nil. Must be called with the state mutex held; the caller
// delivers the alert after unlocking.
func (m *Monitor) evaluateLocked(st *participantState) *models.TalkAlert {
	// Speaking time is retained for every role, but only panelists alert.
	nowMs := m.now().UnixMilli()
	windowStart := nowMs - int64(m.cfg.WindowMinutes)*60_000

	// Prune segments that ended before the window, oldest first.
	drop := 0
	for drop < len(st.segments) && st.segments[drop].end < windowStart {
		drop++
	}
	if drop > 0 {
		st.segments = append(st.segments[:0], st.segments[drop:]...)
		if len(st.segments) == 0 {
			st.open = false
		}
	}

	if st.role != models.RolePanelist {
		return nil
	}

	total := windowTotal(st.segments, windowStart, nowMs)
	if total < m.cfg.AlertThresholdMs {
		return nil
	}
	// At most one alert per rolling window instance: suppress until the
	// window has fully advanced past the previous alert.
	if st.lastAlertMs != 0 && st.lastAlertMs >= windowStart {
		return nil
	}
	st.lastAlertMs = nowMs

	seconds := float64(total) / 1000
	return &models.TalkAlert{
		Type:                "panelist_speaking_alert",
		PanelistID:          st.id,
		PanelistEmail:       st.email,
		PanelistName:        st.displayName,
		SpeakingTimeSeconds: seconds,
		WindowStart:         windowStart,
		WindowEnd:           nowMs,
		Message: fmt.Sprintf("%s has spoken for %.0f seconds in the last %d minutes",
			st.displayName, seconds, m.cfg.WindowMinutes),
	}
}

func (m *Monitor) dispatch(alert *models.TalkAlert) {
	if alert == nil {
		return
	}
	m.metrics.AlertsFired.Inc()
	m.logger.Info().
		Str("panelistId", alert.PanelistID).
		Float64("speakingTimeSeconds", alert.SpeakingTimeSeconds).
		Msg("Panelist speaking alert")

	if m.sender != nil {
		m.sender.SendAlert(*alert)
	}
	if m.publisher != nil {
		if err := m.publisher.PublishAlert(context.Background(), alert.PanelistID, *alert); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to mirror alert event")
		}
	}
}

// windowTotal sums the overlap of segments with [windowStart, nowMs].
func windowTotal(segments []span, windowStart, nowMs int64) int64 {
	var total int64
	for _, seg := range segments {
		end := seg.end
		if end > nowMs {
			end = nowMs
		}
		start := seg.start
		if start < windowStart {
			start = windowStart
		}
		if end > start {
			total += end - start
		}
	}
	return total
}
