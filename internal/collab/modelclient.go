// Package collab provides in-process, deterministic-fallback
// implementations of the four external-collaborator ports a fleet agent
// depends on (ModelClient, VectorStore, WorkflowDispatcher, MessageBus).
// Every implementation here is a drop-in stand-in for a real backend: the
// teacher wires provider/driver/channel registries behind pkg/contracts
// interfaces (internal/router.ModelRouter, internal/vectorstore.Registry,
// internal/workflow.Engine, internal/notify.Service); collab generalizes
// that registry-of-drivers shape to the fleet's narrower four ports.
package collab

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fleetgrid/control-plane/pkg/contracts"
)

// ModelDriver is a pluggable backend a StubModelClient can delegate to —
// the registration seam a real LLM integration would occupy, mirroring the
// teacher's router.ProviderDriver.
type ModelDriver interface {
	Kind() string
	Run(ctx context.Context, model string, messages []contracts.ModelMessage, responseSchema map[string]interface{}) (*contracts.ModelResult, error)
}

// modelStats is a lightweight call-count/latency counter, mirroring the
// teacher's ModelRouter cost/latency tracking, surfaced for debugging.
type modelStats struct {
	calls        int64
	errors       int64
	totalLatency int64 // nanoseconds, accumulated under statsMu
}

// StubModelClient implements contracts.ModelClient. With no driver
// registered it returns a deterministic local reply; with a driver
// registered, it calls through with a bounded retry and falls back to the
// stub reply if the driver errors or times out. The Agent never hard-fails
// on model unavailability.
type StubModelClient struct {
	mu     sync.RWMutex
	driver ModelDriver

	statsMu sync.Mutex
	stats   modelStats

	retries int
}

// NewStubModelClient constructs a client with no backing driver — every
// call falls back to the deterministic stub reply.
func NewStubModelClient() *StubModelClient {
	return &StubModelClient{retries: 2}
}

// RegisterDriver binds a concrete model backend. Passing nil clears it.
func (c *StubModelClient) RegisterDriver(d ModelDriver) {
	c.mu.Lock()
	c.driver = d
	c.mu.Unlock()
}

func (c *StubModelClient) Run(ctx context.Context, model string, messages []contracts.ModelMessage, responseSchema map[string]interface{}) (*contracts.ModelResult, error) {
	start := time.Now()
	c.mu.RLock()
	driver := c.driver
	c.mu.RUnlock()

	c.statsMu.Lock()
	c.stats.calls++
	c.statsMu.Unlock()

	if driver == nil {
		return stubReply(messages), nil
	}

	result, err := runWithRetry(ctx, c.retries, func(ctx context.Context) (*contracts.ModelResult, error) {
		return driver.Run(ctx, model, messages, responseSchema)
	})
	c.statsMu.Lock()
	c.stats.totalLatency += int64(time.Since(start))
	if err != nil {
		c.stats.errors++
	}
	c.statsMu.Unlock()

	if err != nil {
		log.Warn().Err(err).Str("model", model).Str("driver", driver.Kind()).Msg("model client call failed, falling back to stub reply")
		return stubReply(messages), nil
	}
	return result, nil
}

// Stats returns a snapshot of the call counters. No HTTP endpoint reports
// them; callers read them in-process.
func (c *StubModelClient) Stats() (calls, errors int64, avgLatencyMs float64) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	calls, errors = c.stats.calls, c.stats.errors
	if calls > 0 {
		avgLatencyMs = float64(c.stats.totalLatency) / float64(calls) / float64(time.Millisecond)
	}
	return
}

func stubReply(messages []contracts.ModelMessage) *contracts.ModelResult {
	last := ""
	if len(messages) > 0 {
		last = messages[len(messages)-1].Content
	}
	return &contracts.ModelResult{
		Text: fmt.Sprintf("[offline] acknowledged: %s", truncate(last, 120)),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
