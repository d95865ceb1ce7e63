// Package transport maintains the authenticated WebSocket session to the
// telemetry collector. It frames outbound envelopes, drains inbound
// frames, and reports disconnects to the owner exactly once.
//
// Delivery is at-most-once and best effort: sends while disconnected are
// logged no-ops, and send failures never propagate into the media hot
// path. Reconnection is the owner's decision; the session does not retry
// on its own after a disconnect.
package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"interview-media-relay/internal/models"
	"interview-media-relay/internal/observability/logging"
	"interview-media-relay/internal/observability/metrics"
)

// Default connection parameters.
const (
	DefaultDialTimeout      = 10 * time.Second
	DefaultWriteWait        = 10 * time.Second
	DefaultMaxMessageSize   = 1 * 1024 * 1024
	DefaultPingInterval     = 30 * time.Second
	DefaultMaxRetries       = 3
	DefaultRetryBackoffBase = 1 * time.Second
	DefaultRetryBackoffMax  = 30 * time.Second
	DefaultCloseGracePeriod = 5 * time.Second
)

// Config configures the collector session.
type Config struct {
	// URL is the collector WebSocket endpoint.
	URL string

	// Secret is the pre-shared symmetric key used to sign the bearer token.
	Secret string

	// CompanyID is the tenant identifier embedded in the token claims.
	CompanyID string

	DialTimeout      time.Duration
	WriteWait        time.Duration
	MaxMessageSize   int64
	PingInterval     time.Duration
	MaxRetries       int
	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration
	CloseGracePeriod time.Duration
}

func (c *Config) defaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteWait == 0 {
		c.WriteWait = DefaultWriteWait
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBackoffBase == 0 {
		c.RetryBackoffBase = DefaultRetryBackoffBase
	}
	if c.RetryBackoffMax == 0 {
		c.RetryBackoffMax = DefaultRetryBackoffMax
	}
	if c.CloseGracePeriod == 0 {
		c.CloseGracePeriod = DefaultCloseGracePeriod
	}
}

// ClosedFunc is invoked once per disconnect, after the session has
// transitioned to the disconnected state.
type ClosedFunc func(err error)

// outboundQueueSize bounds the frames buffered between the hot path and
// the writer goroutine. Overflow drops the newest frame.
const outboundQueueSize = 256

// outFrame is one marshaled envelope awaiting the wire.
type outFrame struct {
	kind string
	data []byte
}

// Session owns one outbound collector connection.
type Session struct {
	cfg      Config
	onClosed ClosedFunc
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	mu        sync.Mutex
	writeMu   sync.Mutex // serializes writes (gorilla/websocket requirement)
	conn      *websocket.Conn
	outbound  chan outFrame
	connected bool
	lastErr   error
	notified  bool
	cancel    context.CancelFunc

	frameIndex atomic.Int64
}

// NewSession creates a session. onClosed may be nil.
func NewSession(cfg Config, onClosed ClosedFunc) *Session {
	cfg.defaults()
	return &Session{
		cfg:      cfg,
		onClosed: onClosed,
		logger:   logging.WithComponent("transport"),
		metrics:  metrics.DefaultMetrics,
	}
}

// Connect mints the bearer token, dials the collector, and starts the
// inbound drain loop and ping heartbeat. Fails fast on token signing or
// handshake errors, or when the session is already connected; the
// existing state is untouched in those cases.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return fmt.Errorf("collector session already connected")
	}
	s.mu.Unlock()

	token, err := mintToken(s.cfg.Secret, s.cfg.CompanyID, time.Now())
	if err != nil {
		return err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)

	dialer := websocket.Dialer{
		HandshakeTimeout: s.cfg.DialTimeout,
		TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
	}

	conn, resp, err := dialer.DialContext(ctx, s.cfg.URL, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("connect to collector: %w", err)
	}
	conn.SetReadLimit(s.cfg.MaxMessageSize)

	drainCtx, cancel := context.WithCancel(context.Background())
	outbound := make(chan outFrame, outboundQueueSize)

	s.mu.Lock()
	if s.connected {
		// A concurrent Connect won the race past the dial.
		s.mu.Unlock()
		cancel()
		_ = conn.Close()
		return fmt.Errorf("collector session already connected")
	}
	s.conn = conn
	s.outbound = outbound
	s.connected = true
	s.notified = false
	s.lastErr = nil
	s.cancel = cancel
	s.mu.Unlock()

	s.metrics.TransportConnects.Inc()
	s.logger.Info().Str("url", s.cfg.URL).Msg("Collector session connected")

	go s.drainLoop(conn)
	go s.writeLoop(drainCtx, conn, outbound)
	go s.heartbeatLoop(drainCtx)

	return nil
}

// ConnectWithRetry attempts Connect with exponential backoff and jitter.
// Used by the owning lifecycle for failover; a plain Connect failure is
// otherwise final.
func (s *Session) ConnectWithRetry(ctx context.Context) error {
	var lastErr error
	backoff := s.cfg.RetryBackoffBase

	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = s.Connect(ctx)
		if lastErr == nil {
			return nil
		}

		s.logger.Warn().
			Err(lastErr).
			Int("attempt", attempt).
			Int("maxAttempts", s.cfg.MaxRetries).
			Msg("Collector connect attempt failed")

		if attempt < s.cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(jitter(backoff)):
			}
			backoff *= 2
			if backoff > s.cfg.RetryBackoffMax {
				backoff = s.cfg.RetryBackoffMax
			}
		}
	}

	return fmt.Errorf("connect to collector after %d attempts: %w", s.cfg.MaxRetries, lastErr)
}

// Connected reports whether the session is currently connected.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// LastError returns the error that caused the most recent disconnect.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// SendUtterance relays a flushed utterance as an audio envelope.
func (s *Session) SendUtterance(u models.Utterance) {
	s.sendEnvelope("audio", models.AudioMessage{
		Type:           "audio",
		Email:          u.Email,
		DisplayName:    u.DisplayName,
		Buffer:         base64.StdEncoding.EncodeToString(u.Data),
		SpeakStartTime: models.FormatMs(u.StartMs),
		SpeakEndTime:   models.FormatMs(u.EndMs),
		Role:           u.Role,
	})
}

// SendVideoFrame relays one raw video frame with its format metadata.
// originalFormat may be nil when the frame was not transcoded upstream.
// Frame indices are monotonically increasing for the session.
func (s *Session) SendVideoFrame(frame []byte, format models.VideoFormat, originalFormat *models.VideoFormat, tsMs int64) {
	idx := s.frameIndex.Add(1) - 1
	s.metrics.VideoFramesRelayed.Inc()
	s.sendEnvelope("video", models.VideoMessage{
		Type:   "video",
		Buffer: base64.StdEncoding.EncodeToString(frame),
		Metadata: models.VideoMetadata{
			Format:         format,
			OriginalFormat: originalFormat,
			Timestamp:      tsMs,
			FrameIndex:     idx,
		},
	})
}

// SendLifecycleEvent relays a meeting lifecycle transition. endMs is nil
// for events without an end time (meeting_started).
func (s *Session) SendLifecycleEvent(eventType string, startMs int64, endMs *int64) {
	ev := models.MeetingEvent{
		Type:      eventType,
		StartTime: models.FormatMs(startMs),
	}
	if endMs != nil {
		ev.EndTime = models.FormatMs(*endMs)
	}
	s.sendEnvelope(eventType, ev)
}

// SendMeetingDetails relays the session description after connect.
func (s *Session) SendMeetingDetails(d models.InterviewDetails) {
	if d.Type == "" {
		d.Type = "interview_details"
	}
	s.sendEnvelope(d.Type, d)
}

// SendAlert relays a talk-time alert. Payloads that do not carry their
// own type are wrapped as a talk_ratio_alert envelope.
func (s *Session) SendAlert(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to marshal alert payload")
		return
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil || head.Type == "" {
		s.sendEnvelope("talk_ratio_alert", map[string]any{
			"type": "talk_ratio_alert",
			"data": json.RawMessage(data),
		})
		return
	}
	s.sendEnvelope(head.Type, json.RawMessage(data))
}

// Shutdown cancels the drain loop, attempts a graceful close handshake,
// and releases the connection. In-flight sends are not awaited.
func (s *Session) Shutdown() error {
	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return nil
	}
	conn := s.conn
	s.conn = nil
	s.outbound = nil
	s.connected = false
	s.notified = true // deliberate close, suppress the closed notification
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	s.writeMu.Lock()
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.CloseGracePeriod))
	_ = conn.WriteMessage(websocket.CloseMessage, closeMsg)
	s.writeMu.Unlock()

	s.logger.Info().Msg("Collector session shut down")
	return conn.Close()
}

// sendEnvelope enqueues one complete text frame for the writer goroutine.
// Disconnected sends and queue overflows are logged no-ops; nothing here
// blocks on the wire.
func (s *Session) sendEnvelope(kind string, payload any) {
	s.mu.Lock()
	outbound := s.outbound
	connected := s.connected
	s.mu.Unlock()

	if !connected || outbound == nil {
		s.metrics.TransportSendsDropped.WithLabelValues(kind).Inc()
		s.logger.Debug().Str("messageType", kind).Msg("Session disconnected, dropping message")
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		s.metrics.RecordSend(kind, err)
		s.logger.Error().Err(err).Str("messageType", kind).Msg("Failed to marshal envelope")
		return
	}

	select {
	case outbound <- outFrame{kind: kind, data: data}:
	default:
		s.metrics.TransportSendsDropped.WithLabelValues(kind).Inc()
		s.logger.Warn().Str("messageType", kind).Msg("Outbound queue full, dropping message")
	}
}

// writeLoop drains the outbound queue onto the wire, preserving enqueue
// order. A write failure closes the session.
func (s *Session) writeLoop(ctx context.Context, conn *websocket.Conn, outbound chan outFrame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-outbound:
			s.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			err := conn.WriteMessage(websocket.TextMessage, f.data)
			s.writeMu.Unlock()

			s.metrics.RecordSend(f.kind, err)
			if err != nil {
				s.logger.Error().Err(err).Str("messageType", f.kind).Msg("Failed to write envelope")
				s.markClosed(conn, err)
				return
			}
		}
	}
}

// drainLoop reads inbound frames until a close frame or read error, then
// transitions the session to disconnected.
func (s *Session) drainLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}
			s.markClosed(conn, err)
			return
		}
		// Inbound payloads are drained and discarded; the collector does
		// not speak back on this channel.
	}
}

func (s *Session) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			conn := s.conn
			connected := s.connected
			s.mu.Unlock()
			if !connected || conn == nil {
				return
			}

			s.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				s.logger.Warn().Err(err).Msg("Collector ping failed")
				return
			}
		}
	}
}

// markClosed transitions to disconnected and fires the closed
// notification at most once per disconnect.
func (s *Session) markClosed(conn *websocket.Conn, err error) {
	s.mu.Lock()
	if s.conn != conn || s.notified {
		s.mu.Unlock()
		return
	}
	s.notified = true
	s.connected = false
	s.outbound = nil
	s.lastErr = err
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	cb := s.onClosed
	s.mu.Unlock()

	_ = conn.Close()
	s.metrics.TransportDisconnects.Inc()
	s.logger.Warn().Err(err).Msg("Collector session closed")

	if cb != nil {
		cb(err)
	}
}

// jitter applies +-25% randomization to a backoff delay.
func jitter(d time.Duration) time.Duration {
	f := float64(d) * (1 + 0.25*(rand.Float64()*2-1))
	return time.Duration(f)
}
