package subscription

import (
	"testing"

	"github.com/fleetgrid/control-plane/internal/agent"
	"github.com/fleetgrid/control-plane/pkg/models"
)

func TestSendDedupesRepeatedMessageID(t *testing.T) {
	s := &Session{
		id:     "s1",
		outbox: make(chan agent.Event, 8),
		seen:   make(map[string]struct{}),
	}
	msg := models.StoredMessage{ID: "m1", Content: "hello"}

	s.Send(agent.Event{Type: "message", Data: msg})
	s.Send(agent.Event{Type: "message", Data: msg})

	if len(s.outbox) != 1 {
		t.Errorf("outbox len = %d, want 1 after duplicate Send", len(s.outbox))
	}
}

func TestSendDropsWhenOutboxFull(t *testing.T) {
	s := &Session{
		id:     "s1",
		outbox: make(chan agent.Event, 1),
		seen:   make(map[string]struct{}),
	}
	s.Send(agent.Event{Type: "state", Data: nil})
	// Second send must return immediately rather than block, since the
	// buffer is already full; the test itself hanging is the failure mode.
	s.Send(agent.Event{Type: "state", Data: nil})
	if len(s.outbox) != 1 {
		t.Errorf("outbox len = %d, want 1 (second event dropped)", len(s.outbox))
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.PingInterval.Seconds() != 10 {
		t.Errorf("PingInterval = %v, want 10s", cfg.PingInterval)
	}
	if cfg.IdleMax.Seconds() != 120 {
		t.Errorf("IdleMax = %v, want 120s", cfg.IdleMax)
	}
}
