// Package segmentation turns the raw per-speaker chunk stream into
// utterance-level audio blobs with correct timing.
//
// A boundary is produced when the active speaker changes, when the gap
// since the speaker's last chunk exceeds the silence threshold, or when
// a buffer safety limit is hit. Silence is purely a time-gap heuristic;
// there is no voice-activity classifier.
package segmentation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"interview-media-relay/internal/directory"
	"interview-media-relay/internal/events"
	"interview-media-relay/internal/models"
	"interview-media-relay/internal/observability/logging"
	"interview-media-relay/internal/observability/metrics"
	"interview-media-relay/internal/service/talktime"
)

// UtteranceSender delivers a flushed utterance to the collector.
type UtteranceSender interface {
	SendUtterance(u models.Utterance)
}

// Flush trigger reasons, used for logging and metrics labels.
const (
	FlushSpeakerChange = "speaker_change"
	FlushSilence       = "silence"
	FlushLimit         = "limit"
	FlushShutdown      = "shutdown"
)

// Limits defines safety guardrails for a single open buffer. These
// force a flush rather than dropping audio: the stream is relayed, not
// transcribed, so a long monologue is still worth emitting.
type Limits struct {
	MaxBufferBytes    int64         // Max buffered audio per speaker
	MaxBufferDuration time.Duration // Max open-buffer wall time
}

// DefaultLimits returns sensible default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxBufferBytes:    5 * 1024 * 1024, // 5MB (~160 seconds at 16kHz 16-bit mono)
		MaxBufferDuration: 5 * time.Minute,
	}
}

// Config holds segmentation configuration.
type Config struct {
	// SilenceThreshold is the maximum idle gap before the active buffer
	// is force-closed. Defaults to 500 ms.
	SilenceThreshold time.Duration

	// TickInterval is how often the idle watcher re-checks the active
	// buffer. Defaults to 100 ms.
	TickInterval time.Duration

	Limits Limits
}

// DefaultConfig returns the default segmentation configuration.
func DefaultConfig() Config {
	return Config{
		SilenceThreshold: 500 * time.Millisecond,
		TickInterval:     100 * time.Millisecond,
		Limits:           DefaultLimits(),
	}
}

// buffer accumulates chunks for the currently active speaker. At most
// one open buffer exists at any time: a speaker change always flushes
// the previous one first.
type buffer struct {
	speakerID string
	data      []byte
	firstTs   int64
	lastTs    int64
	openedAt  time.Time
}

// flushJob is a snapshot of a closed buffer, handed off for dispatch
// after the engine lock is released.
type flushJob struct {
	speakerID string
	data      []byte
	firstTs   int64
	lastTs    int64
	reason    string
}

// utteranceBoundary is the Kafka mirror event for one flush.
type utteranceBoundary struct {
	SpeakerID string      `json:"speakerId"`
	Email     string      `json:"email"`
	Role      models.Role `json:"role"`
	StartMs   int64       `json:"startMs"`
	EndMs     int64       `json:"endMs"`
	Bytes     int         `json:"bytes"`
	Reason    string      `json:"reason"`
}

// Engine consumes raw chunk events and produces finalized utterances.
// Chunk callbacks may arrive from a dedicated media thread concurrently
// with the idle watcher; all buffer state is guarded by one mutex, and
// no network I/O happens while it is held.
type Engine struct {
	cfg       Config
	dir       *directory.Directory
	sender    UtteranceSender
	monitor   *talktime.Monitor
	publisher *events.Publisher
	now       func() time.Time
	logger    zerolog.Logger
	metrics   *metrics.Metrics

	mu      sync.Mutex
	active  *buffer
	pending []flushJob
	closed  bool
	cancel  context.CancelFunc

	// dispatchMu serializes flush delivery so utterances leave in take
	// order even when the idle watcher and the chunk path flush
	// concurrently. Delivery only enqueues; it never blocks on the wire.
	dispatchMu sync.Mutex
}

// New creates an Engine. monitor and publisher may be nil; sender is
// required for emission but a nil sender only disables collector sends.
func New(cfg Config, dir *directory.Directory, sender UtteranceSender, monitor *talktime.Monitor, publisher *events.Publisher) *Engine {
	def := DefaultConfig()
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = def.SilenceThreshold
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.Limits.MaxBufferBytes <= 0 {
		cfg.Limits.MaxBufferBytes = def.Limits.MaxBufferBytes
	}
	if cfg.Limits.MaxBufferDuration <= 0 {
		cfg.Limits.MaxBufferDuration = def.Limits.MaxBufferDuration
	}
	return &Engine{
		cfg:       cfg,
		dir:       dir,
		sender:    sender,
		monitor:   monitor,
		publisher: publisher,
		now:       time.Now,
		logger:    logging.WithComponent("segmentation"),
		metrics:   metrics.DefaultMetrics,
	}
}

// Start launches the idle watcher that flushes the active buffer when
// chunk processing goes quiet. Stopped by Close or context cancellation.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	go func() {
		ticker := time.NewTicker(e.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.FlushIdle(e.now().UnixMilli())
			}
		}
	}()
}

// Ingest processes one raw chunk. Called once per chunk by the boundary
// adapter; a chunk of zero length is legal and still updates timing.
// No failure propagates back into the host's media callback path.
func (e *Engine) Ingest(speakerID string, data []byte, tsMs int64) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Interface("panic", r).
				Str("speakerId", speakerID).
				Msg("Recovered panic in chunk ingest")
		}
	}()

	e.metrics.RecordChunk(len(data))

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}

	// A speaker change always forces a boundary, regardless of elapsed
	// time. Flush-before-reassign keeps per-speaker emission ordered.
	if e.active != nil && e.active.speakerID != speakerID {
		e.queueFlushLocked(FlushSpeakerChange)
	}

	// Same speaker resuming after a silence gap starts a fresh utterance
	// even if the idle watcher has not fired yet.
	if e.active != nil && tsMs-e.active.lastTs >= e.cfg.SilenceThreshold.Milliseconds() {
		e.queueFlushLocked(FlushSilence)
	}

	if e.active != nil {
		overBytes := int64(len(e.active.data)+len(data)) > e.cfg.Limits.MaxBufferBytes
		overTime := e.now().Sub(e.active.openedAt) > e.cfg.Limits.MaxBufferDuration
		if overBytes || overTime {
			e.queueFlushLocked(FlushLimit)
		}
	}

	if e.active == nil {
		e.active = &buffer{
			speakerID: speakerID,
			firstTs:   tsMs,
			openedAt:  e.now(),
		}
		e.metrics.ActiveBuffers.Set(1)
	}
	e.active.data = append(e.active.data, data...)
	e.active.lastTs = tsMs
	e.mu.Unlock()

	e.drainPending()

	if e.monitor != nil {
		p := e.dir.Resolve(context.Background(), speakerID)
		e.monitor.RecordActivity(p, tsMs)
	}
}

// FlushIdle closes the active buffer when it has been silent past the
// threshold as of nowMs. Invoked periodically by the idle watcher; an
// empty (absent) buffer is a no-op.
func (e *Engine) FlushIdle(nowMs int64) {
	e.mu.Lock()
	if e.active == nil || nowMs-e.active.lastTs <= e.cfg.SilenceThreshold.Milliseconds() {
		e.mu.Unlock()
		return
	}
	e.queueFlushLocked(FlushSilence)
	e.mu.Unlock()

	e.drainPending()
}

// Flush force-closes the active buffer, if any. Used on shutdown.
func (e *Engine) Flush() {
	e.mu.Lock()
	if e.active == nil {
		e.mu.Unlock()
		return
	}
	e.queueFlushLocked(FlushShutdown)
	e.mu.Unlock()

	e.drainPending()
}

// Close stops the idle watcher and flushes any remaining buffer.
// Further Ingest calls become no-ops.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	cancel := e.cancel
	e.cancel = nil
	if e.active != nil {
		e.queueFlushLocked(FlushShutdown)
	}
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.drainPending()
}

// queueFlushLocked detaches the active buffer and appends it to the
// pending dispatch queue. Caller must hold the engine mutex and call
// drainPending after unlocking.
func (e *Engine) queueFlushLocked(reason string) {
	b := e.active
	e.active = nil
	e.metrics.ActiveBuffers.Set(0)
	e.pending = append(e.pending, flushJob{
		speakerID: b.speakerID,
		data:      b.data,
		firstTs:   b.firstTs,
		lastTs:    b.lastTs,
		reason:    reason,
	})
}

// drainPending delivers queued flushes in take order. Whichever caller
// holds the dispatch lock also delivers jobs queued by callers blocked
// behind it, so the queue order is the delivery order.
func (e *Engine) drainPending() {
	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()
	for {
		e.mu.Lock()
		if len(e.pending) == 0 {
			e.mu.Unlock()
			return
		}
		job := e.pending[0]
		e.pending = e.pending[1:]
		e.mu.Unlock()

		e.dispatch(job)
	}
}

// dispatch resolves the speaker, emits the utterance to the collector,
// seals the talk-time segment, and mirrors the boundary event. Runs
// outside the engine lock.
func (e *Engine) dispatch(job flushJob) {
	p := e.dir.Resolve(context.Background(), job.speakerID)

	u := models.Utterance{
		SpeakerID:   job.speakerID,
		Data:        job.data,
		StartMs:     job.firstTs,
		EndMs:       job.lastTs,
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		Email:       p.Email,
		Role:        p.Role,
	}

	e.metrics.RecordFlush(job.reason, u.DurationMs(), len(job.data))
	e.logger.Debug().
		Str("speakerId", job.speakerID).
		Str("reason", job.reason).
		Int64("startMs", job.firstTs).
		Int64("endMs", job.lastTs).
		Int("bytes", len(job.data)).
		Msg("Utterance flushed")

	if e.sender != nil {
		e.sender.SendUtterance(u)
	}
	if e.monitor != nil {
		e.monitor.RecordFinal(p, job.firstTs, job.lastTs)
	}
	if e.publisher != nil {
		ev := utteranceBoundary{
			SpeakerID: job.speakerID,
			Email:     p.Email,
			Role:      p.Role,
			StartMs:   job.firstTs,
			EndMs:     job.lastTs,
			Bytes:     len(job.data),
			Reason:    job.reason,
		}
		if err := e.publisher.PublishUtterance(context.Background(), job.speakerID, ev); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to mirror utterance event")
		}
	}
}
