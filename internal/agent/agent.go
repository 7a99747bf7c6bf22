// Package agent implements the single-writer actor that owns one
// OwnerKey's entire state: its FleetState, inventory, messages, and
// subscriptions. Grounded on the teacher's workflow.Engine (goroutine-
// per-run execution with a registry the caller submits work onto) and
// process.Manager (per-key lazy lifecycle under a lock), generalized from
// "per-run" to "per-OwnerKey, long-lived": instead of a cancel-func map
// keyed by run ID, one Agent's mailbox channel IS the run, for as long as
// the process is alive.
package agent

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fleetgrid/control-plane/internal/apperr"
	"github.com/fleetgrid/control-plane/internal/fleetpath"
	"github.com/fleetgrid/control-plane/internal/inventory"
	"github.com/fleetgrid/control-plane/internal/store"
	"github.com/fleetgrid/control-plane/pkg/contracts"
	"github.com/fleetgrid/control-plane/pkg/models"
)

// State is a lifecycle stage in the CREATED -> INITIALIZING -> READY ->
// DRAINING -> TERMINATED state machine spec.md §4.2 requires.
type State int

const (
	StateCreated State = iota
	StateInitializing
	StateReady
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateInitializing:
		return "INITIALIZING"
	case StateReady:
		return "READY"
	case StateDraining:
		return "DRAINING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Router resolves an OwnerKey to its (lazily created) Agent and removes a
// terminated Agent's registry entry. internal/registry implements this;
// agent never imports registry, keeping the dependency one-directional.
type Router interface {
	GetOrCreate(ctx context.Context, owner fleetpath.OwnerKey) (*Agent, error)
	Remove(owner fleetpath.OwnerKey)
}

// Subscriber receives events pushed by the Agent (state changes, messages,
// alerts, chat replies). internal/subscription implements this over a
// websocket; tests can implement it with a channel.
type Subscriber interface {
	ID() string
	Send(event Event)
}

// Event is one Agent -> Client message, spec.md §4.3's message type table.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Deps bundles everything one Agent needs beyond its own OwnerKey: its
// store, the router for peer RPC, and the (possibly nil/stub) external
// collaborators.
type Deps struct {
	Store              store.Store
	Router             Router
	ModelClient        contracts.ModelClient
	VectorStore        contracts.VectorStore
	WorkflowDispatcher contracts.WorkflowDispatcher
	MessageBus         contracts.MessageBus
	Approval           inventory.ApprovalGate

	MsgMemRing             int
	MsgRetention           time.Duration
	ReorderAmountThreshold int
	ApprovalWait           time.Duration
	DefaultAgentType       models.AgentType
}

// command is one operation submitted to the mailbox. respCh always
// receives exactly one value before the Agent moves to the next command,
// guaranteeing FIFO-per-OwnerKey serialization without explicit locks on
// agent state.
type command struct {
	ctx    context.Context
	run    func(ctx context.Context) (interface{}, error)
	respCh chan result
}

type result struct {
	value interface{}
	err   error
}

// Agent is the single-writer actor for one OwnerKey.
type Agent struct {
	owner fleetpath.OwnerKey
	deps  Deps

	mailbox chan command

	mu    sync.RWMutex
	state State

	// In-memory cache of persisted state; only the mailbox goroutine
	// mutates these fields after INITIALIZING completes.
	counter   int64
	children  []string
	agentType models.AgentType

	messages []models.StoredMessage // bounded ring, newest last

	subsMu sync.RWMutex
	subs   map[string]Subscriber

	pipeline *inventory.Pipeline

	initErr  error
	initDone chan struct{}
}

// New constructs an Agent in the CREATED state and starts its mailbox
// goroutine, which immediately transitions to INITIALIZING and loads state
// from the store.
func New(owner fleetpath.OwnerKey, deps Deps) *Agent {
	if deps.MsgMemRing <= 0 {
		deps.MsgMemRing = 100
	}
	if deps.DefaultAgentType == "" {
		deps.DefaultAgentType = models.AgentOrchestrator
	}
	a := &Agent{
		owner:    owner,
		deps:     deps,
		mailbox:  make(chan command, 64),
		state:    StateCreated,
		initDone: make(chan struct{}),
	}
	a.pipeline = inventory.NewPipeline(deps.Store, deps.ModelClient, deps.WorkflowDispatcher, deps.MessageBus, deps.Approval, owner.Path.String(), inventory.Config{
		ReorderAmountThreshold: deps.ReorderAmountThreshold,
		ApprovalWait:           deps.ApprovalWait,
	})
	a.subs = make(map[string]Subscriber)
	go a.run()
	return a
}

// maybePurgeMessages opportunistically evicts stored messages older than
// MsgRetention, run from inside the mailbox loop after each command so the
// purge shares the single-writer discipline instead of racing it from a
// separate goroutine. Gated to ~1% of commands so the sweep, a single DELETE
// against this agent's own database, runs rarely.
func (a *Agent) maybePurgeMessages(ctx context.Context) {
	if a.deps.MsgRetention <= 0 {
		return
	}
	if rand.Intn(100) != 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-a.deps.MsgRetention)
	if _, err := a.deps.Store.PurgeMessagesOlderThan(ctx, cutoff); err != nil {
		log.Warn().Err(err).Str("owner", a.owner.String()).Msg("agent: message purge failed")
	}
}

// OwnerKey returns the OwnerKey this Agent serializes writes for.
func (a *Agent) OwnerKey() fleetpath.OwnerKey { return a.owner }

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// run is the mailbox loop: the sole goroutine allowed to read or write the
// Agent's in-memory fields once initialization completes.
func (a *Agent) run() {
	a.setState(StateInitializing)
	ctx := context.Background()
	if err := a.initialize(ctx); err != nil {
		a.initErr = err
		log.Error().Err(err).Str("owner", a.owner.String()).Msg("agent: initialization failed")
	}
	a.setState(StateReady)
	close(a.initDone)

	for cmd := range a.mailbox {
		if a.State() == StateTerminated {
			cmd.respCh <- result{err: apperr.NotFound("agent %s is terminated", a.owner.String())}
			continue
		}
		val, err := cmd.run(cmd.ctx)
		cmd.respCh <- result{value: val, err: err}
		a.maybePurgeMessages(context.Background())
	}
}

func (a *Agent) initialize(ctx context.Context) error {
	state, err := a.deps.Store.GetState(ctx)
	if err == store.ErrNotFound {
		now := time.Now().UTC()
		a.counter = 0
		a.children = nil
		a.agentType = a.deps.DefaultAgentType
		return a.deps.Store.SaveState(ctx, &models.FleetState{
			Counter: 0, Children: nil, AgentType: a.agentType, CreatedAt: now, UpdatedAt: now,
		})
	}
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	a.counter = state.Counter
	a.children = append([]string{}, state.Children...)
	a.agentType = state.AgentType

	location := a.owner.Path.String()
	total, err := a.deps.Store.CountMessages(ctx, location)
	if err != nil {
		return fmt.Errorf("count messages: %w", err)
	}
	offset := int(total) - a.deps.MsgMemRing
	if offset < 0 {
		offset = 0
	}
	msgs, err := a.deps.Store.ListMessages(ctx, location, a.deps.MsgMemRing, offset)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	a.messages = msgs
	return nil
}

// awaitReady blocks until initialization completes (reads block, per
// spec.md §5) and returns the initialization error, if any.
func (a *Agent) awaitReady(ctx context.Context) error {
	select {
	case <-a.initDone:
		return a.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// submit runs fn on the mailbox goroutine and waits for its result,
// guaranteeing serialization with every other operation on this OwnerKey.
func (a *Agent) submit(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if err := a.awaitReady(ctx); err != nil {
		return nil, err
	}
	respCh := make(chan result, 1)
	select {
	case a.mailbox <- command{ctx: ctx, run: fn, respCh: respCh}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-respCh:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Agent) saveStateLocked(ctx context.Context) error {
	sorted := append([]string{}, a.children...)
	sort.Strings(sorted)
	return a.deps.Store.SaveState(ctx, &models.FleetState{
		Counter: a.counter, Children: sorted, AgentType: a.agentType, UpdatedAt: time.Now().UTC(),
	})
}

func (a *Agent) broadcastLocal(event Event) {
	a.subsMu.RLock()
	defer a.subsMu.RUnlock()
	for _, sub := range a.subs {
		sub.Send(event)
	}
}

func (a *Agent) stateSnapshot() map[string]interface{} {
	sorted := append([]string{}, a.children...)
	sort.Strings(sorted)
	return map[string]interface{}{"counter": a.counter, "children": sorted}
}

// AddSubscriber registers sub to receive broadcast events and returns the
// replay payload (current state, chat history, chat stats) spec.md §4.3
// requires on open, deferred here until READY is reached.
func (a *Agent) AddSubscriber(ctx context.Context, sub Subscriber) (map[string]interface{}, error) {
	if err := a.awaitReady(ctx); err != nil {
		return nil, err
	}
	v, err := a.submit(ctx, func(ctx context.Context) (interface{}, error) {
		a.subsMu.Lock()
		a.subs[sub.ID()] = sub
		a.subsMu.Unlock()

		history := append([]models.StoredMessage{}, a.messages...)
		stats, err := a.todayStats(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"state":   a.stateSnapshot(),
			"history": history,
			"stats":   stats,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]interface{}), nil
}

// RemoveSubscriber detaches a subscriber, e.g. on disconnect.
func (a *Agent) RemoveSubscriber(id string) {
	a.subsMu.Lock()
	delete(a.subs, id)
	a.subsMu.Unlock()
}

func (a *Agent) todayStats(ctx context.Context) (*models.ChatStats, error) {
	date := time.Now().UTC().Format("2006-01-02")
	stats, err := a.deps.Store.GetStats(ctx, a.owner.Path.String(), date)
	if err == store.ErrNotFound {
		return &models.ChatStats{Location: a.owner.Path.String(), Date: date}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chat stats: %w", err)
	}
	return stats, nil
}

func nextMessageID() string { return uuid.NewString() }

func trimToRing(msgs []models.StoredMessage, maxLen int) []models.StoredMessage {
	if len(msgs) <= maxLen {
		return msgs
	}
	return msgs[len(msgs)-maxLen:]
}

// sanitizeSegment trims and validates a child segment, per spec.md §3/§4.2.
func sanitizeSegment(segment string) (string, error) {
	trimmed := strings.TrimSpace(segment)
	if err := fleetpath.ValidateSegment(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}
