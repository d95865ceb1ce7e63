package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"interview-media-relay/internal/models"
)

const testSecret = "test-secret"

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// collectorStub accepts one relay session, validating the bearer token,
// and forwards every received text frame to frames.
type collectorStub struct {
	server *httptest.Server
	frames chan []byte
	authed chan string
}

func newCollectorStub(t *testing.T, handle func(conn *websocket.Conn, frames chan []byte)) *collectorStub {
	t.Helper()
	stub := &collectorStub{
		frames: make(chan []byte, 16),
		authed: make(chan string, 1),
	}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		select {
		case stub.authed <- auth:
		default:
		}

		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		handle(conn, stub.frames)
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func (s *collectorStub) wsURL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

func readFrames(conn *websocket.Conn, frames chan []byte) {
	defer conn.Close()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frames <- msg
	}
}

func waitFrame(t *testing.T, frames chan []byte) []byte {
	t.Helper()
	select {
	case msg := <-frames:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

func TestConnect_PresentsBearerToken(t *testing.T) {
	stub := newCollectorStub(t, readFrames)
	s := NewSession(Config{URL: stub.wsURL(), Secret: testSecret, CompanyID: "acme"}, nil)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer s.Shutdown()

	auth := <-stub.authed
	if !strings.HasPrefix(auth, "Bearer ") {
		t.Fatalf("expected bearer authorization, got %q", auth)
	}
	token, err := jwt.Parse(strings.TrimPrefix(auth, "Bearer "), func(*jwt.Token) (any, error) {
		return []byte(testSecret), nil
	})
	if err != nil || !token.Valid {
		t.Fatalf("presented token did not verify: %v", err)
	}
	if !s.Connected() {
		t.Error("expected session to report connected")
	}
}

func TestSendUtterance_EnvelopeShape(t *testing.T) {
	stub := newCollectorStub(t, readFrames)
	s := NewSession(Config{URL: stub.wsURL(), Secret: testSecret}, nil)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer s.Shutdown()

	s.SendUtterance(models.Utterance{
		SpeakerID:   "7",
		Data:        []byte("pcm-bytes"),
		StartMs:     1500,
		EndMs:       2600,
		DisplayName: "Pat Panelist",
		Email:       "pat@example.com",
		Role:        models.RolePanelist,
	})

	var env map[string]any
	if err := json.Unmarshal(waitFrame(t, stub.frames), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env["type"] != "audio" {
		t.Errorf("expected audio type, got %v", env["type"])
	}
	if env["email"] != "pat@example.com" || env["displayName"] != "Pat Panelist" {
		t.Errorf("identity fields wrong: %v", env)
	}
	if env["speakStartTime"] != "1500" || env["speakEndTime"] != "2600" {
		t.Errorf("expected string millisecond times, got %v / %v", env["speakStartTime"], env["speakEndTime"])
	}
	raw, err := base64.StdEncoding.DecodeString(env["buffer"].(string))
	if err != nil || string(raw) != "pcm-bytes" {
		t.Errorf("buffer not base64 of the audio bytes: %v", env["buffer"])
	}
}

func TestSendVideoFrame_MonotonicFrameIndex(t *testing.T) {
	stub := newCollectorStub(t, readFrames)
	s := NewSession(Config{URL: stub.wsURL(), Secret: testSecret}, nil)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer s.Shutdown()

	format := models.VideoFormat{Width: 1280, Height: 720, FrameRate: 30}
	s.SendVideoFrame([]byte{1}, format, nil, 100)
	s.SendVideoFrame([]byte{2}, format, &format, 133)

	var first, second models.VideoMessage
	if err := json.Unmarshal(waitFrame(t, stub.frames), &first); err != nil {
		t.Fatalf("unmarshal first frame: %v", err)
	}
	if err := json.Unmarshal(waitFrame(t, stub.frames), &second); err != nil {
		t.Fatalf("unmarshal second frame: %v", err)
	}
	if first.Metadata.FrameIndex != 0 || second.Metadata.FrameIndex != 1 {
		t.Errorf("expected frame indices 0 and 1, got %d and %d",
			first.Metadata.FrameIndex, second.Metadata.FrameIndex)
	}
	if first.Metadata.OriginalFormat != nil {
		t.Error("expected nil original format to stay nil")
	}
	if second.Metadata.OriginalFormat == nil || second.Metadata.OriginalFormat.Width != 1280 {
		t.Error("expected original format to round-trip")
	}
}

func TestSendAlert_WrapsUntypedPayload(t *testing.T) {
	stub := newCollectorStub(t, readFrames)
	s := NewSession(Config{URL: stub.wsURL(), Secret: testSecret}, nil)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer s.Shutdown()

	// Typed payloads pass through unchanged.
	s.SendAlert(models.TalkAlert{Type: "panelist_speaking_alert", PanelistID: "p1"})
	var typed map[string]any
	if err := json.Unmarshal(waitFrame(t, stub.frames), &typed); err != nil {
		t.Fatalf("unmarshal typed alert: %v", err)
	}
	if typed["type"] != "panelist_speaking_alert" {
		t.Errorf("expected typed alert to keep its type, got %v", typed["type"])
	}

	// Untyped payloads are wrapped.
	s.SendAlert(map[string]any{"ratio": 0.8})
	var wrapped map[string]any
	if err := json.Unmarshal(waitFrame(t, stub.frames), &wrapped); err != nil {
		t.Fatalf("unmarshal wrapped alert: %v", err)
	}
	if wrapped["type"] != "talk_ratio_alert" {
		t.Errorf("expected wrapper type, got %v", wrapped["type"])
	}
	if _, ok := wrapped["data"]; !ok {
		t.Error("expected original payload under data")
	}
}

func TestConnect_WhileConnectedFails(t *testing.T) {
	stub := newCollectorStub(t, readFrames)
	s := NewSession(Config{URL: stub.wsURL(), Secret: testSecret}, nil)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer s.Shutdown()

	if err := s.Connect(context.Background()); err == nil {
		t.Fatal("expected second connect to fail while connected")
	}
	if !s.Connected() {
		t.Error("expected the original session to stay connected")
	}

	// The original connection still delivers.
	s.SendLifecycleEvent("meeting_started", 1000, nil)
	var env map[string]any
	if err := json.Unmarshal(waitFrame(t, stub.frames), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env["type"] != "meeting_started" {
		t.Errorf("expected meeting_started envelope, got %v", env["type"])
	}
}

func TestSend_WhileDisconnectedIsNoop(t *testing.T) {
	s := NewSession(Config{URL: "ws://127.0.0.1:1/ws", Secret: testSecret}, nil)

	// Must not panic or block.
	s.SendUtterance(models.Utterance{SpeakerID: "7", Data: []byte("x")})
	s.SendAlert(map[string]any{"ratio": 0.5})
	s.SendLifecycleEvent("meeting_started", 0, nil)

	if s.Connected() {
		t.Error("expected disconnected state")
	}
}

func TestClosedCallback_FiredOncePerDisconnect(t *testing.T) {
	stub := newCollectorStub(t, func(conn *websocket.Conn, _ chan []byte) {
		// Drop the connection without a close handshake.
		time.Sleep(50 * time.Millisecond)
		conn.Close()
	})

	var calls atomic.Int32
	notified := make(chan struct{}, 4)
	s := NewSession(Config{URL: stub.wsURL(), Secret: testSecret}, func(err error) {
		calls.Add(1)
		notified <- struct{}{}
	})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	select {
	case <-notified:
	case <-time.After(2 * time.Second):
		t.Fatal("closed callback never fired")
	}

	// Give any duplicate notification a chance to surface.
	time.Sleep(100 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("expected exactly one closed notification, got %d", got)
	}
	if s.Connected() {
		t.Error("expected disconnected state after remote close")
	}
}

func TestShutdown_SuppressesClosedCallback(t *testing.T) {
	stub := newCollectorStub(t, readFrames)

	var calls atomic.Int32
	s := NewSession(Config{URL: stub.wsURL(), Secret: testSecret}, func(err error) {
		calls.Add(1)
	})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	if err := s.Shutdown(); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	// Second shutdown is a no-op.
	if err := s.Shutdown(); err != nil {
		t.Fatalf("second shutdown failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Errorf("expected no closed notification on deliberate shutdown, got %d", got)
	}
	if s.Connected() {
		t.Error("expected disconnected state after shutdown")
	}
}

func TestConnectWithRetry_GivesUpAfterMaxRetries(t *testing.T) {
	s := NewSession(Config{
		URL:              "ws://127.0.0.1:1/ws",
		Secret:           testSecret,
		MaxRetries:       2,
		RetryBackoffBase: time.Millisecond,
		RetryBackoffMax:  2 * time.Millisecond,
	}, nil)

	if err := s.ConnectWithRetry(context.Background()); err == nil {
		t.Fatal("expected retry exhaustion error")
	}
}

func TestConnectWithRetry_HonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewSession(Config{URL: "ws://127.0.0.1:1/ws", Secret: testSecret}, nil)
	if err := s.ConnectWithRetry(ctx); err == nil {
		t.Fatal("expected context error")
	}
}
