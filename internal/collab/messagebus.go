package collab

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fleetgrid/control-plane/pkg/contracts"
)

// Subscriber receives every message the bus publishes. Used by in-process
// consumers (e.g. a debug tap) that don't need an HTTP round trip.
type Subscriber func(contracts.BusMessage)

// WebhookSink posts bus messages to an external HTTP endpoint, HMAC-signed
// when a secret is configured, retried with backoff — adapted directly
// from the teacher's notify.WebhookChannelDriver.Send.
type WebhookSink struct {
	URL    string
	Secret string
	client *http.Client
}

// NewWebhookSink constructs a sink posting to url, optionally signing with secret.
func NewWebhookSink(url, secret string) *WebhookSink {
	return &WebhookSink{URL: url, Secret: secret, client: &http.Client{Timeout: 10 * time.Second}}
}

func (w *WebhookSink) send(ctx context.Context, msg contracts.BusMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal bus message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "fleet-control-plane/1.0")
	req.Header.Set("X-Fleet-Topic", msg.Topic)
	if w.Secret != "" {
		mac := hmac.New(sha256.New, []byte(w.Secret))
		mac.Write(body)
		req.Header.Set("X-Fleet-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, w.URL)
	}
	return nil
}

// StubMessageBus implements contracts.MessageBus as best-effort fan-out to
// any registered subscribers plus an optional webhook sink. Send never
// returns an error that should fail the caller's operation; failures are
// logged, matching spec.md §4.6's "best-effort" contract.
type StubMessageBus struct {
	mu          sync.RWMutex
	subscribers []Subscriber
	sink        *WebhookSink
	retries     int
}

// NewStubMessageBus constructs a bus with no sink and no subscribers.
func NewStubMessageBus() *StubMessageBus {
	return &StubMessageBus{retries: 2}
}

// Subscribe registers an in-process consumer of every published message.
func (b *StubMessageBus) Subscribe(s Subscriber) {
	b.mu.Lock()
	b.subscribers = append(b.subscribers, s)
	b.mu.Unlock()
}

// SetSink binds (or clears, with nil) the webhook sink.
func (b *StubMessageBus) SetSink(sink *WebhookSink) {
	b.mu.Lock()
	b.sink = sink
	b.mu.Unlock()
}

func (b *StubMessageBus) Send(ctx context.Context, topic string, payload map[string]interface{}) error {
	msg := contracts.BusMessage{Topic: topic, Payload: payload, Timestamp: time.Now().UTC()}

	b.mu.RLock()
	subs := append([]Subscriber{}, b.subscribers...)
	sink := b.sink
	b.mu.RUnlock()

	for _, s := range subs {
		s(msg)
	}

	if sink == nil {
		return nil
	}
	if err := runErrWithRetry(ctx, b.retries, func(ctx context.Context) error {
		return sink.send(ctx, msg)
	}); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("message bus: webhook delivery failed, dropping")
	}
	return nil
}
