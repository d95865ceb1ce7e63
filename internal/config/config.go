// Package config loads service configuration from the environment.
// Invalid values fall back to defaults rather than failing startup.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ServiceConfig holds process-level identity and ports.
type ServiceConfig struct {
	Principal string
	HTTPPort  string
	GRPCPort  string
}

// SessionConfig identifies the meeting this relay instance is attached to.
type SessionConfig struct {
	MeetingID      string
	CompanyID      string
	CandidateEmail string

	// QuestionsJSON is the structured question set pushed to the
	// collector after connect, serialized JSON. Opaque to the relay.
	QuestionsJSON string
}

// SegmentationConfig tunes utterance boundary detection.
type SegmentationConfig struct {
	SilenceThreshold  time.Duration
	TickInterval      time.Duration
	MaxBufferBytes    int64
	MaxBufferDuration time.Duration
}

// TalkTimeConfig tunes the rolling speaking-time alerts.
type TalkTimeConfig struct {
	WindowMinutes    int
	AlertThresholdMs int64
}

// CollectorConfig holds the websocket collector endpoint settings.
type CollectorConfig struct {
	URL          string
	Secret       string
	DialTimeout  time.Duration
	PingInterval time.Duration
	MaxRetries   int
}

// KafkaConfig holds event mirroring settings.
type KafkaConfig struct {
	Enabled         bool
	Brokers         []string
	TopicUtterances string
	TopicAlerts     string
	Principal       string
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string
	MetricsPort string
}

// Configuration is the root configuration for the relay service.
type Configuration struct {
	Service       ServiceConfig
	Session       SessionConfig
	Segmentation  SegmentationConfig
	TalkTime      TalkTimeConfig
	Collector     CollectorConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// Load reads configuration from environment variables.
func Load() *Configuration {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-interview-media-relay")

	cfg := &Configuration{
		Service: ServiceConfig{
			Principal: principal,
			HTTPPort:  envOrDefault("HTTP_PORT", "8080"),
			GRPCPort:  envOrDefault("GRPC_PORT", "50051"),
		},
		Session: SessionConfig{
			MeetingID:      envOrDefault("MEETING_ID", uuid.NewString()),
			CompanyID:      envOrDefault("COMPANY_ID", ""),
			CandidateEmail: envOrDefault("CANDIDATE_EMAIL", ""),
			QuestionsJSON:  envOrDefault("INTERVIEW_QUESTIONS", ""),
		},
		Segmentation: SegmentationConfig{
			SilenceThreshold:  envOrDefaultDuration("SEGMENT_SILENCE_THRESHOLD", 500*time.Millisecond),
			TickInterval:      envOrDefaultDuration("SEGMENT_TICK_INTERVAL", 100*time.Millisecond),
			MaxBufferBytes:    envOrDefaultInt64("SEGMENT_MAX_BUFFER_BYTES", 5*1024*1024),
			MaxBufferDuration: envOrDefaultDuration("SEGMENT_MAX_BUFFER_DURATION", 5*time.Minute),
		},
		TalkTime: TalkTimeConfig{
			WindowMinutes:    envOrDefaultInt("TALKTIME_WINDOW_MINUTES", 5),
			AlertThresholdMs: envOrDefaultInt64("TALKTIME_ALERT_THRESHOLD_MS", 60000),
		},
		Collector: CollectorConfig{
			URL:          envOrDefault("COLLECTOR_URL", "ws://localhost:8443/ws"),
			Secret:       envOrDefault("COLLECTOR_SECRET", ""),
			DialTimeout:  envOrDefaultDuration("COLLECTOR_DIAL_TIMEOUT", 10*time.Second),
			PingInterval: envOrDefaultDuration("COLLECTOR_PING_INTERVAL", 30*time.Second),
			MaxRetries:   envOrDefaultInt("COLLECTOR_MAX_RETRIES", 3),
		},
		Kafka: KafkaConfig{
			Enabled:         envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:         splitAndTrim(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
			TopicUtterances: envOrDefault("KAFKA_TOPIC_UTTERANCES", "relay.utterances"),
			TopicAlerts:     envOrDefault("KAFKA_TOPIC_ALERTS", "relay.alerts"),
			Principal:       envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		},
	}

	return cfg
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
