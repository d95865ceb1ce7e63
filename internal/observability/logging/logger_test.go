package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestInit_InvalidLevelFallsBackToInfo(t *testing.T) {
	prev := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(prev)

	cfg := DefaultConfig()
	cfg.Level = "chatty"
	Init(cfg)

	if got := zerolog.GlobalLevel(); got != zerolog.InfoLevel {
		t.Errorf("Expected fallback level info, got %s", got)
	}
}

func TestInit_HonorsConfiguredLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(prev)

	cfg := DefaultConfig()
	cfg.Level = "warn"
	Init(cfg)

	if got := zerolog.GlobalLevel(); got != zerolog.WarnLevel {
		t.Errorf("Expected level warn, got %s", got)
	}
}

func TestWithComponent_TagsEntries(t *testing.T) {
	prevLogger := log.Logger
	defer func() { log.Logger = prevLogger }()

	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)

	logger := WithComponent("transport")
	logger.Info().Msg("connected")

	if !strings.Contains(buf.String(), `"component":"transport"`) {
		t.Errorf("Expected component field in output, got %s", buf.String())
	}
}

func TestWithSpeaker_TagsEntries(t *testing.T) {
	prevLogger := log.Logger
	defer func() { log.Logger = prevLogger }()

	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)

	logger := WithSpeaker("meeting-1", "speaker-7")
	logger.Info().Msg("chunk")

	out := buf.String()
	if !strings.Contains(out, `"meetingId":"meeting-1"`) || !strings.Contains(out, `"speakerId":"speaker-7"`) {
		t.Errorf("Expected meeting and speaker fields in output, got %s", out)
	}
}
