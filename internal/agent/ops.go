package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fleetgrid/control-plane/internal/apperr"
	"github.com/fleetgrid/control-plane/internal/fleetpath"
	"github.com/fleetgrid/control-plane/internal/hierarchy"
	"github.com/fleetgrid/control-plane/internal/inventory"
	"github.com/fleetgrid/control-plane/pkg/models"
)

// Increment bumps the agent's counter by delta and persists the new state,
// returning the updated counter.
func (a *Agent) Increment(ctx context.Context, delta int64) (int64, error) {
	v, err := a.submit(ctx, func(ctx context.Context) (interface{}, error) {
		a.counter += delta
		if err := a.saveStateLocked(ctx); err != nil {
			return nil, err
		}
		a.broadcastLocal(Event{Type: "state", Data: a.stateSnapshot()})
		return a.counter, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// GetState returns the agent's current counter and sorted child list.
func (a *Agent) GetState(ctx context.Context) (map[string]interface{}, error) {
	v, err := a.submit(ctx, func(ctx context.Context) (interface{}, error) {
		return a.stateSnapshot(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]interface{}), nil
}

// CreateChild adds segment as a direct child, failing with AGENT_EXISTS if
// already present. The child Agent is created and initialized through the
// Router before CreateChild returns, so its state is persisted right away.
func (a *Agent) CreateChild(ctx context.Context, segment string) (fleetpath.OwnerKey, error) {
	clean, verr := sanitizeSegment(segment)
	if verr != nil {
		return fleetpath.OwnerKey{}, verr
	}
	v, err := a.submit(ctx, func(ctx context.Context) (interface{}, error) {
		for _, c := range a.children {
			if c == clean {
				return nil, apperr.AgentExists(a.owner.Path.String() + "/" + clean)
			}
		}
		childKey, kerr := hierarchy.ChildOwnerKey(a.owner, clean)
		if kerr != nil {
			return nil, kerr
		}
		a.children = append(a.children, clean)
		if err := a.saveStateLocked(ctx); err != nil {
			return nil, err
		}
		if a.deps.Router != nil {
			if _, err := a.deps.Router.GetOrCreate(ctx, childKey); err != nil {
				return nil, fmt.Errorf("initialize child agent: %w", err)
			}
		}
		a.broadcastLocal(Event{Type: "agentCreated", Data: map[string]interface{}{"path": childKey.Path.String()}})
		a.broadcastLocal(Event{Type: "state", Data: a.stateSnapshot()})
		return childKey, nil
	})
	if err != nil {
		return fleetpath.OwnerKey{}, err
	}
	return v.(fleetpath.OwnerKey), nil
}

// DeleteChild removes segment from the child list and recursively
// terminates its whole subtree through the Router.
func (a *Agent) DeleteChild(ctx context.Context, segment string) error {
	clean, verr := sanitizeSegment(segment)
	if verr != nil {
		return verr
	}
	_, err := a.submit(ctx, func(ctx context.Context) (interface{}, error) {
		idx := -1
		for i, c := range a.children {
			if c == clean {
				idx = i
				break
			}
		}
		if idx == -1 {
			return nil, apperr.NotFound("no child %q under %s", clean, a.owner.Path.String())
		}
		childKey, kerr := hierarchy.ChildOwnerKey(a.owner, clean)
		if kerr != nil {
			return nil, kerr
		}
		if a.deps.Router != nil {
			if err := a.deleteSubtreeVia(ctx, childKey); err != nil {
				return nil, err
			}
		}
		a.children = append(a.children[:idx], a.children[idx+1:]...)
		if err := a.saveStateLocked(ctx); err != nil {
			return nil, err
		}
		a.broadcastLocal(Event{Type: "agentDeleted", Data: map[string]interface{}{"path": childKey.Path.String()}})
		a.broadcastLocal(Event{Type: "state", Data: a.stateSnapshot()})
		return nil, nil
	})
	return err
}

// deleteSubtreeVia recursively tears down owner and every descendant,
// depth-first, through the Router — called while a's own mailbox goroutine
// holds no lock on owner (owner is never a, since a never deletes itself).
func (a *Agent) deleteSubtreeVia(ctx context.Context, owner fleetpath.OwnerKey) error {
	child, err := a.deps.Router.GetOrCreate(ctx, owner)
	if err != nil {
		return err
	}
	return child.terminateSubtree(ctx)
}

// DeleteSubtree recursively deletes every descendant of this agent and then
// terminates the agent itself, the way a POST to the /delete-subtree
// endpoint addresses the subtree's root directly rather than going through
// its parent's child list. Idempotent: calling it again on an
// already-terminated agent is a no-op.
func (a *Agent) DeleteSubtree(ctx context.Context) error {
	if a.State() == StateTerminated {
		return nil
	}
	return a.terminateSubtree(ctx)
}

// terminateSubtree deletes every descendant of this agent, then marks this
// agent TERMINATED and unregisters it from the router.
func (a *Agent) terminateSubtree(ctx context.Context) error {
	_, err := a.submit(ctx, func(ctx context.Context) (interface{}, error) {
		for _, c := range append([]string{}, a.children...) {
			childKey, kerr := hierarchy.ChildOwnerKey(a.owner, c)
			if kerr != nil {
				return nil, kerr
			}
			if a.deps.Router != nil {
				if err := a.deleteSubtreeVia(ctx, childKey); err != nil {
					return nil, err
				}
			}
		}
		a.children = nil
		return nil, nil
	})
	if err != nil {
		return err
	}
	a.setState(StateDraining)
	a.subsMu.Lock()
	for _, sub := range a.subs {
		sub.Send(Event{Type: "agentDeleted", Data: map[string]interface{}{"path": a.owner.Path.String()}})
	}
	a.subs = map[string]Subscriber{}
	a.subsMu.Unlock()
	a.setState(StateTerminated)
	if a.deps.Router != nil {
		a.deps.Router.Remove(a.owner)
	}
	close(a.mailbox)
	return nil
}

// DirectMessage records content as addressed to target (a direct child
// segment or "parent") and forwards it to that peer, which appends its own
// copy to its history and broadcasts it to its subscribers.
func (a *Agent) DirectMessage(ctx context.Context, target, content string) error {
	v, err := a.submit(ctx, func(ctx context.Context) (interface{}, error) {
		var targetKey fleetpath.OwnerKey
		if strings.EqualFold(target, "parent") {
			parentKey, ok := hierarchy.ParentOwnerKey(a.owner)
			if !ok {
				return nil, apperr.Validation("root agent has no parent to message")
			}
			targetKey = parentKey
		} else {
			clean, verr := sanitizeSegment(target)
			if verr != nil {
				return nil, verr
			}
			found := false
			for _, c := range a.children {
				if c == clean {
					found = true
					break
				}
			}
			if !found {
				return nil, apperr.NotFound("no child %q under %s", clean, a.owner.Path.String())
			}
			childKey, kerr := hierarchy.ChildOwnerKey(a.owner, clean)
			if kerr != nil {
				return nil, kerr
			}
			targetKey = childKey
		}

		to := targetKey.Path.String()
		msg := a.recordMessageLocked(models.MessageDirect, a.owner.Path.String(), content, &to)
		a.broadcastLocal(Event{Type: "message", Data: msg})
		return targetKey, nil
	})
	if err != nil {
		return err
	}
	targetKey := v.(fleetpath.OwnerKey)
	if a.deps.Router == nil {
		return nil
	}
	peer, err := a.deps.Router.GetOrCreate(ctx, targetKey)
	if err != nil {
		return fmt.Errorf("reach target agent: %w", err)
	}
	return peer.receiveDirectMessage(ctx, a.owner.Path.String(), content)
}

func (a *Agent) receiveDirectMessage(ctx context.Context, from, content string) error {
	_, err := a.submit(ctx, func(ctx context.Context) (interface{}, error) {
		to := a.owner.Path.String()
		msg := a.recordMessageLocked(models.MessageDirect, from, content, &to)
		a.broadcastLocal(Event{Type: "message", Data: msg})
		return nil, nil
	})
	return err
}

// Broadcast sends content to every subscriber of this agent and to every
// descendant subtree, fanning out concurrently via hierarchy.FanOut.
func (a *Agent) Broadcast(ctx context.Context, content string) error {
	v, err := a.submit(ctx, func(ctx context.Context) (interface{}, error) {
		msg := a.recordMessageLocked(models.MessageBroadcast, a.owner.Path.String(), content, nil)
		a.broadcastLocal(Event{Type: "message", Data: msg})
		return append([]string{}, a.children...), nil
	})
	if err != nil {
		return err
	}
	children := v.([]string)
	if a.deps.Router == nil || len(children) == 0 {
		return nil
	}
	results := hierarchy.FanOut(ctx, len(children), func(ctx context.Context, i int) error {
		childKey, err := hierarchy.ChildOwnerKey(a.owner, children[i])
		if err != nil {
			return err
		}
		peer, err := a.deps.Router.GetOrCreate(ctx, childKey)
		if err != nil {
			return err
		}
		return peer.receiveBroadcast(ctx, a.owner.Path.String(), content)
	})
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

func (a *Agent) receiveBroadcast(ctx context.Context, from, content string) error {
	v, err := a.submit(ctx, func(ctx context.Context) (interface{}, error) {
		msg := a.recordMessageLocked(models.MessageBroadcast, from, content, nil)
		a.broadcastLocal(Event{Type: "message", Data: msg})
		return append([]string{}, a.children...), nil
	})
	if err != nil {
		return err
	}
	children := v.([]string)
	if a.deps.Router == nil || len(children) == 0 {
		return nil
	}
	results := hierarchy.FanOut(ctx, len(children), func(ctx context.Context, i int) error {
		childKey, err := hierarchy.ChildOwnerKey(a.owner, children[i])
		if err != nil {
			return err
		}
		peer, err := a.deps.Router.GetOrCreate(ctx, childKey)
		if err != nil {
			return err
		}
		return peer.receiveBroadcast(ctx, from, content)
	})
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

// ReceiveMessage records an inbound {from, content, type} message addressed
// to this agent from a client or external caller — distinct from
// DirectMessage/Broadcast, which are this agent's own outbound sends to
// peers. Subscribers see the sender prefixed 📨 for direct messages, 📢 for
// broadcasts, so the transcript reads the way spec.md's message table
// describes.
func (a *Agent) ReceiveMessage(ctx context.Context, from, content string, mt models.MessageType) error {
	_, err := a.submit(ctx, func(ctx context.Context) (interface{}, error) {
		prefix := "📨"
		if mt == models.MessageBroadcast {
			prefix = "📢"
		}
		var to *string
		if mt != models.MessageBroadcast {
			loc := a.owner.Path.String()
			to = &loc
		}
		msg := a.recordMessageLocked(mt, prefix+" "+from, content, to)
		a.broadcastLocal(Event{Type: "message", Data: msg})
		return nil, nil
	})
	return err
}

// recordMessageLocked appends msg to the in-memory ring and persists it.
// Must only be called from within the mailbox goroutine.
func (a *Agent) recordMessageLocked(mt models.MessageType, from, content string, to *string) models.StoredMessage {
	msg := models.StoredMessage{
		ID:          nextMessageID(),
		Timestamp:   time.Now().UTC(),
		FromAgent:   from,
		ToAgent:     to,
		Content:     content,
		MessageType: mt,
		Location:    a.owner.Path.String(),
	}
	a.messages = trimToRing(append(a.messages, msg), a.deps.MsgMemRing)
	if err := a.deps.Store.AppendMessage(context.Background(), &msg); err != nil {
		// The ring's in-memory view stays consistent even if persistence
		// fails; the caller's request still succeeds.
		log.Warn().Err(err).Str("owner", a.owner.String()).Msg("agent: failed to persist message")
	}
	return msg
}

// MessagePage is one page of a location's message history, in chronological
// order, plus the paging metadata spec.md §4.2 requires the operation to
// report alongside the messages themselves.
type MessagePage struct {
	Messages   []models.StoredMessage `json:"messages"`
	TotalCount int64                  `json:"totalCount"`
	HasMore    bool                   `json:"hasMore"`
}

// GetMessages returns one page of this location's message history in
// chronological order, reading through to the store rather than the
// in-memory ring so offset can reach further back than MsgMemRing retains.
func (a *Agent) GetMessages(ctx context.Context, limit, offset int) (MessagePage, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	v, err := a.submit(ctx, func(ctx context.Context) (interface{}, error) {
		location := a.owner.Path.String()
		total, err := a.deps.Store.CountMessages(ctx, location)
		if err != nil {
			return nil, fmt.Errorf("count messages: %w", err)
		}
		msgs, err := a.deps.Store.ListMessages(ctx, location, limit, offset)
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		return MessagePage{
			Messages:   msgs,
			TotalCount: total,
			HasMore:    int64(offset+len(msgs)) < total,
		}, nil
	})
	if err != nil {
		return MessagePage{}, err
	}
	return v.(MessagePage), nil
}

// StockOp applies an inventory mutation, broadcasts the resulting item,
// and — when the mutation crosses the low-stock threshold — runs threshold
// propagation asynchronously (it calls out to ModelClient/WorkflowDispatcher/
// MessageBus/parent, none of which may block this request).
func (a *Agent) StockOp(ctx context.Context, update models.InventoryUpdate) (models.InventoryItem, error) {
	v, err := a.submit(ctx, func(ctx context.Context) (interface{}, error) {
		result, err := a.pipeline.ApplyStockOp(ctx, update)
		if err != nil {
			return nil, err
		}
		a.broadcastLocal(Event{Type: "stockUpdate", Data: result.Item})
		if result.CrossedBelow && result.Alert != nil {
			a.broadcastLocal(Event{Type: "lowStockAlert", Data: *result.Alert})
			alert := *result.Alert
			go a.runThresholdPropagationAsync(alert, update)
		}
		return result.Item, nil
	})
	if err != nil {
		return models.InventoryItem{}, err
	}
	return v.(models.InventoryItem), nil
}

func (a *Agent) runThresholdPropagationAsync(alert models.StockAlert, update models.InventoryUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var parent parentHandle
	if parentKey, ok := hierarchy.ParentOwnerKey(a.owner); ok && a.deps.Router != nil {
		peer, err := a.deps.Router.GetOrCreate(ctx, parentKey)
		if err == nil {
			parent = parentHandle{peer}
		}
	}
	if parent.agent != nil {
		a.pipeline.RunThresholdPropagation(ctx, alert, parent, update)
	} else {
		a.pipeline.RunThresholdPropagation(ctx, alert, nil, update)
	}
}

// parentHandle adapts *Agent to inventory.ParentPropagator.
type parentHandle struct{ agent *Agent }

func (p parentHandle) PropagateStockUpdate(ctx context.Context, update models.InventoryUpdate) error {
	return p.agent.PropagateStockUpdate(ctx, update)
}

// PropagateStockUpdate lets a child agent notify this (parent) agent that
// one of its SKUs crossed threshold; recorded as a system message and
// broadcast, per spec.md §4.2's parent-propagation contract. Satisfies
// inventory.ParentPropagator.
func (a *Agent) PropagateStockUpdate(ctx context.Context, update models.InventoryUpdate) error {
	_, err := a.submit(ctx, func(ctx context.Context) (interface{}, error) {
		content := fmt.Sprintf("child reported low stock for %s (qty %d)", update.SKU, update.Quantity)
		to := a.owner.Path.String()
		msg := a.recordMessageLocked(models.MessageSystem, a.owner.Path.String(), content, &to)
		a.broadcastLocal(Event{Type: "message", Data: msg})
		return nil, nil
	})
	return err
}

// ListAlerts returns the current alert list for this agent's location —
// every tracked item at or below its threshold, regardless of sku. Distinct
// from StockQueryBySKU, which looks up exactly one sku.
func (a *Agent) ListAlerts(ctx context.Context) ([]models.StockAlert, error) {
	v, err := a.submit(ctx, func(ctx context.Context) (interface{}, error) {
		return a.pipeline.ListAlerts(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.StockAlert), nil
}

// StockQueryBySKU looks up one sku's tracked item at this location, returning
// (nil, nil) if it isn't tracked here.
func (a *Agent) StockQueryBySKU(ctx context.Context, sku string) (*models.InventoryItem, error) {
	v, err := a.submit(ctx, func(ctx context.Context) (interface{}, error) {
		return a.pipeline.StockQuery(ctx, sku)
	})
	if err != nil {
		return nil, err
	}
	item, _ := v.(*models.InventoryItem)
	return item, nil
}

// InventorySnapshot is the full, unfiltered inventory list this agent tracks
// at its location, for /inventory/stock.
type InventorySnapshot struct {
	Location    string                  `json:"location"`
	AgentType   models.AgentType        `json:"agentType"`
	Inventory   []models.InventoryItem  `json:"inventory"`
	TotalItems  int                     `json:"totalItems"`
	LastUpdated time.Time               `json:"lastUpdated"`
}

// InventoryList returns every inventory item tracked at this agent's
// location, for /inventory/stock. /inventory/query looks up a single sku
// through StockQueryBySKU instead.
func (a *Agent) InventoryList(ctx context.Context) (InventorySnapshot, error) {
	v, err := a.submit(ctx, func(ctx context.Context) (interface{}, error) {
		items, err := a.deps.Store.ListItems(ctx)
		if err != nil {
			return nil, err
		}
		latest := time.Time{}
		for _, it := range items {
			if it.LastUpdated.After(latest) {
				latest = it.LastUpdated
			}
		}
		return InventorySnapshot{
			Location: a.owner.Path.String(), AgentType: a.agentType,
			Inventory: items, TotalItems: len(items), LastUpdated: latest,
		}, nil
	})
	if err != nil {
		return InventorySnapshot{}, err
	}
	return v.(InventorySnapshot), nil
}

// Analyze runs on-demand trend analysis for one sku at this location.
func (a *Agent) Analyze(ctx context.Context, sku string) (*models.InventoryAnalysis, error) {
	v, err := a.submit(ctx, func(ctx context.Context) (interface{}, error) {
		return a.pipeline.Analyze(ctx, sku)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.InventoryAnalysis), nil
}

// Forecast computes and returns the demand forecast history for one sku at
// this location.
func (a *Agent) Forecast(ctx context.Context, sku string) ([]models.DemandForecast, error) {
	v, err := a.submit(ctx, func(ctx context.Context) (interface{}, error) {
		return a.pipeline.Forecast(ctx, sku)
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.DemandForecast), nil
}

// Insights aggregates this location's recent analyses, decisions, and
// forecasts for /ai/insights.
func (a *Agent) Insights(ctx context.Context, limit int) (*inventory.Insights, error) {
	v, err := a.submit(ctx, func(ctx context.Context) (interface{}, error) {
		return a.pipeline.Insights(ctx, limit)
	})
	if err != nil {
		return nil, err
	}
	return v.(*inventory.Insights), nil
}

// InventorySync applies a batch of updates, broadcasts one lowStockAlert
// event listing every item in the batch that crossed threshold (none if no
// item did) followed by a state event, and returns the aggregate outcome.
func (a *Agent) InventorySync(ctx context.Context, updates []models.InventoryUpdate) (interface{}, error) {
	return a.submit(ctx, func(ctx context.Context) (interface{}, error) {
		var alerts []models.StockAlert
		result := struct {
			Successful int      `json:"successful"`
			Failed     int      `json:"failed"`
			Errors     []string `json:"errors,omitempty"`
		}{}
		for _, u := range updates {
			applied, err := a.pipeline.ApplyStockOp(ctx, u)
			if err != nil {
				result.Failed++
				if len(result.Errors) < 10 {
					result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", u.SKU, err))
				}
				continue
			}
			result.Successful++
			if applied.CrossedBelow && applied.Alert != nil {
				alerts = append(alerts, *applied.Alert)
			}
		}
		if len(alerts) > 0 {
			a.broadcastLocal(Event{Type: "lowStockAlert", Data: alerts})
		}
		a.broadcastLocal(Event{Type: "state", Data: a.stateSnapshot()})
		return result, nil
	})
}
