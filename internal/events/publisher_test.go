package events

import (
	"context"
	"testing"
)

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.enabled {
				t.Error("expected publisher to be disabled")
			}
			if p.writerUtterances != nil {
				t.Error("expected nil utterance writer when disabled")
			}
			if p.writerAlerts != nil {
				t.Error("expected nil alert writer when disabled")
			}
		})
	}
}

func TestNew_NilConfig(t *testing.T) {
	p := New(nil)
	if p == nil {
		t.Fatal("expected non-nil publisher")
	}
	if p.enabled {
		t.Error("expected publisher to be disabled")
	}
}

func TestNew_ConfigValues(t *testing.T) {
	cfg := &Config{
		Enabled:         false,
		Brokers:         []string{"localhost:9092"},
		TopicUtterances: "test.utterances",
		TopicAlerts:     "test.alerts",
		Principal:       "test-principal",
	}

	p := New(cfg)

	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
	if p.topicUtterances != "test.utterances" {
		t.Errorf("expected topic utterances 'test.utterances', got %s", p.topicUtterances)
	}
	if p.topicAlerts != "test.alerts" {
		t.Errorf("expected topic alerts 'test.alerts', got %s", p.topicAlerts)
	}
}

func TestPublisher_PublishUtterance_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false})

	event := map[string]string{"speakerId": "7"}
	err := p.PublishUtterance(context.Background(), "7", event)

	if err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_PublishAlert_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false})

	event := map[string]string{"panelistId": "p1"}
	err := p.PublishAlert(context.Background(), "p1", event)

	if err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_Publish_InvalidJSON(t *testing.T) {
	p := New(&Config{Enabled: false})

	// Create an unmarshalable value (channel)
	event := make(chan int)
	if err := p.PublishUtterance(context.Background(), "key", event); err == nil {
		t.Error("expected error for unmarshalable utterance event")
	}
	if err := p.PublishAlert(context.Background(), "key", event); err == nil {
		t.Error("expected error for unmarshalable alert event")
	}
}

func TestPublisher_Close_NoWriters(t *testing.T) {
	p := New(&Config{Enabled: false})

	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing disabled publisher, got %v", err)
	}
}

func TestPublisher_Close_NilWriters(t *testing.T) {
	p := &Publisher{
		writerUtterances: nil,
		writerAlerts:     nil,
	}

	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing publisher with nil writers, got %v", err)
	}
}

type boundaryEvent struct {
	SpeakerID string `json:"speakerId"`
	StartMs   int64  `json:"startMs"`
	EndMs     int64  `json:"endMs"`
}

func TestPublisher_PublishUtterance_ValidEvent(t *testing.T) {
	p := New(&Config{
		Enabled:         false,
		TopicUtterances: "test.utterances",
		Principal:       "test-svc",
	})

	event := boundaryEvent{SpeakerID: "7", StartMs: 0, EndMs: 1500}

	if err := p.PublishUtterance(context.Background(), "7", event); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}
