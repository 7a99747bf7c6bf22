package agent

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fleetgrid/control-plane/pkg/contracts"
	"github.com/fleetgrid/control-plane/pkg/models"
)

// ChatResponse is what ChatMessage returns: the assistant's reply plus
// whatever stock action it decided to execute along the way, and the
// updated daily stats, per spec.md §4.2's chat surface.
type ChatResponse struct {
	Reply       string                `json:"reply"`
	ActionTaken string                `json:"actionTaken,omitempty"`
	Item        *models.InventoryItem `json:"item,omitempty"`
	Stats       models.ChatStats      `json:"stats"`
}

// ChatMessage answers a free-text operator question, optionally executing a
// recognized stock intent (e.g. "set SKU-1 to 40" or "add 10 SKU-1") before
// replying. Local intent parsing is tried first so the common case never
// needs a model round trip; anything else falls through to ModelClient,
// which itself degrades to a stub reply on error (contracts.ModelClient).
func (a *Agent) ChatMessage(ctx context.Context, text string) (*ChatResponse, error) {
	v, err := a.submit(ctx, func(ctx context.Context) (interface{}, error) {
		stats, err := a.todayStats(ctx)
		if err != nil {
			return nil, err
		}
		stats.MessagesToday++

		resp := &ChatResponse{}
		if op, sku, qty, ok := parseStockIntent(text); ok {
			stats.ActionsExecuted++
			result, err := a.pipeline.ApplyStockOp(ctx, models.InventoryUpdate{
				SKU: sku, Quantity: qty, Operation: op, Timestamp: time.Now().UTC(),
			})
			if err != nil {
				resp.Reply = fmt.Sprintf("couldn't update %s: %v", sku, err)
			} else {
				stats.SuccessfulActions++
				resp.ActionTaken = string(op)
				item := result.Item
				resp.Item = &item
				resp.Reply = fmt.Sprintf("%s now at %d units", sku, item.CurrentStock)
				a.broadcastLocal(Event{Type: "stockUpdate", Data: item})
				if result.CrossedBelow && result.Alert != nil {
					a.broadcastLocal(Event{Type: "lowStockAlert", Data: *result.Alert})
					alert := *result.Alert
					go a.runThresholdPropagationAsync(alert, models.InventoryUpdate{SKU: sku, Quantity: qty, Operation: op})
				}
			}
		} else {
			reply, err := a.runModelChat(ctx, text)
			if err != nil {
				resp.Reply = "sorry, I couldn't process that right now"
			} else {
				resp.Reply = reply
			}
		}

		stats.Recompute()
		if err := a.deps.Store.SaveStats(ctx, stats); err != nil {
			return nil, fmt.Errorf("save chat stats: %w", err)
		}
		resp.Stats = *stats
		a.broadcastLocal(Event{Type: "chatStats", Data: *stats})
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ChatResponse), nil
}

func (a *Agent) runModelChat(ctx context.Context, text string) (string, error) {
	if a.deps.ModelClient == nil {
		return "", fmt.Errorf("no model client configured")
	}
	result, err := a.deps.ModelClient.Run(ctx, "fleet-assistant", []contracts.ModelMessage{
		{Role: "user", Content: text},
	}, nil)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// parseStockIntent recognizes a small set of plain-English stock commands:
// "set <sku> to <n>", "add <n> <sku>", "remove <n> <sku>". Anything else
// falls through to the model.
func parseStockIntent(text string) (op models.StockOperation, sku string, qty int, ok bool) {
	fields := strings.Fields(strings.ToLower(text))
	switch {
	case len(fields) == 4 && fields[0] == "set" && fields[2] == "to":
		if n, err := strconv.Atoi(fields[3]); err == nil {
			return models.StockSet, strings.ToUpper(fields[1]), n, true
		}
	case len(fields) == 3 && (fields[0] == "add" || fields[0] == "increment"):
		if n, err := strconv.Atoi(fields[1]); err == nil {
			return models.StockIncrement, strings.ToUpper(fields[2]), n, true
		}
	case len(fields) == 3 && (fields[0] == "remove" || fields[0] == "decrement"):
		if n, err := strconv.Atoi(fields[1]); err == nil {
			return models.StockDecrement, strings.ToUpper(fields[2]), n, true
		}
	}
	return "", "", 0, false
}
