package collab

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fleetgrid/control-plane/pkg/contracts"
)

// JobHandler runs one named job asynchronously to completion, the
// registration seam a real queue/worker backend would occupy.
type JobHandler func(ctx context.Context, payload map[string]interface{}) error

// StubWorkflowDispatcher implements contracts.WorkflowDispatcher in-process:
// Create starts a goroutine per job and tracks it in a run registry keyed
// by workflow ID, mirroring the teacher's workflow.Engine tracking runs as
// a map[string]context.CancelFunc rather than handing execution to an
// external queue.
type StubWorkflowDispatcher struct {
	mu       sync.RWMutex
	handlers map[string]JobHandler
	runs     map[string]*workflowRun

	runTimeout time.Duration
}

type workflowRun struct {
	status contracts.WorkflowStatus
	cancel context.CancelFunc
}

// NewStubWorkflowDispatcher constructs a dispatcher with no handlers
// registered; Create on an unknown job name is logged and dropped.
func NewStubWorkflowDispatcher() *StubWorkflowDispatcher {
	return &StubWorkflowDispatcher{
		handlers:   make(map[string]JobHandler),
		runs:       make(map[string]*workflowRun),
		runTimeout: 30 * time.Second,
	}
}

// RegisterHandler binds a job name to a handler. Call before Create.
func (d *StubWorkflowDispatcher) RegisterHandler(name string, h JobHandler) {
	d.mu.Lock()
	d.handlers[name] = h
	d.mu.Unlock()
}

func (d *StubWorkflowDispatcher) Create(ctx context.Context, name string, payload map[string]interface{}) (string, error) {
	d.mu.RLock()
	handler, ok := d.handlers[name]
	d.mu.RUnlock()

	id := uuid.NewString()
	if !ok {
		log.Warn().Str("workflow", name).Msg("workflow dispatcher: unknown job name, dropping")
		d.mu.Lock()
		d.runs[id] = &workflowRun{status: contracts.WorkflowFailed}
		d.mu.Unlock()
		return id, nil
	}

	runCtx, cancel := context.WithTimeout(context.Background(), d.runTimeout)
	d.mu.Lock()
	d.runs[id] = &workflowRun{status: contracts.WorkflowRunning, cancel: cancel}
	d.mu.Unlock()

	go func() {
		defer cancel()
		err := handler(runCtx, payload)
		d.mu.Lock()
		defer d.mu.Unlock()
		run, ok := d.runs[id]
		if !ok {
			return
		}
		if run.status == contracts.WorkflowCancelled {
			return
		}
		if err != nil {
			log.Warn().Err(err).Str("workflow", name).Str("id", id).Msg("workflow job failed")
			run.status = contracts.WorkflowFailed
			return
		}
		run.status = contracts.WorkflowCompleted
	}()

	return id, nil
}

func (d *StubWorkflowDispatcher) Get(_ context.Context, id string) (contracts.WorkflowStatus, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	run, ok := d.runs[id]
	if !ok {
		return "", fmt.Errorf("workflow not found: %s", id)
	}
	return run.status, nil
}

func (d *StubWorkflowDispatcher) Cancel(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	run, ok := d.runs[id]
	if !ok {
		return false
	}
	if run.cancel != nil {
		run.cancel()
	}
	run.status = contracts.WorkflowCancelled
	return true
}
