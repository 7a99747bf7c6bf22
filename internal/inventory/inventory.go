// Package inventory implements the per-agent inventory domain: applying
// stock mutations with zero-clamping, and the threshold-propagation
// pipeline (alert -> trend analysis -> decision -> reorder workflow ->
// parent propagation) spec.md §4.2 describes. Grounded on the teacher's
// workflow.Engine.ApproveGate channel-wait shape for the pluggable human
// approval gate, and on catalog-style record persistence for the analysis/
// decision/forecast rows.
package inventory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fleetgrid/control-plane/internal/apperr"
	"github.com/fleetgrid/control-plane/internal/store"
	"github.com/fleetgrid/control-plane/pkg/contracts"
	"github.com/fleetgrid/control-plane/pkg/models"
)

// ApprovalGate decides whether a reorder decision that crossed the
// critical/urgent threshold proceeds. The default AutoApproveGate waits a
// bounded duration and always approves, matching spec.md §9's POC
// contract; implementations may swap this for a real human-in-the-loop
// gate without touching the pipeline.
type ApprovalGate interface {
	Approve(ctx context.Context, decision models.InventoryDecision) bool
}

// AutoApproveGate approves every request after waiting Wait (or less, if
// ctx is cancelled first), the way workflow.Engine.ApproveGate falls back
// to an in-memory channel wait when no store-backed approval arrives.
type AutoApproveGate struct {
	Wait time.Duration
}

func (g AutoApproveGate) Approve(ctx context.Context, _ models.InventoryDecision) bool {
	select {
	case <-time.After(g.Wait):
		return true
	case <-ctx.Done():
		return false
	}
}

// ParentPropagator forwards a stock update to the owning agent's parent.
// Implemented by internal/agent via the hierarchy fabric; nil at the root.
type ParentPropagator interface {
	PropagateStockUpdate(ctx context.Context, update models.InventoryUpdate) error
}

// Config bounds the threshold-propagation pipeline's behavior.
type Config struct {
	// ReorderAmountThreshold is the quantity above which a reorder decision
	// is escalated for approval even when urgency isn't critical.
	ReorderAmountThreshold int
	ApprovalWait           time.Duration
}

// Pipeline applies inventory mutations and drives threshold propagation
// for one agent's location.
type Pipeline struct {
	store    store.Store
	model    contracts.ModelClient
	workflow contracts.WorkflowDispatcher
	bus      contracts.MessageBus
	approval ApprovalGate
	location string
	cfg      Config
}

// NewPipeline constructs a Pipeline for one agent. Any of model, workflow,
// bus may be nil; nil approval defaults to AutoApproveGate.
func NewPipeline(s store.Store, model contracts.ModelClient, workflow contracts.WorkflowDispatcher, bus contracts.MessageBus, approval ApprovalGate, location string, cfg Config) *Pipeline {
	if approval == nil {
		wait := cfg.ApprovalWait
		if wait <= 0 {
			wait = 2 * time.Second
		}
		approval = AutoApproveGate{Wait: wait}
	}
	return &Pipeline{store: s, model: model, workflow: workflow, bus: bus, approval: approval, location: location, cfg: cfg}
}

// ValidateSKU rejects empty or over-length SKU strings the same way
// fleetpath validates path segments.
func ValidateSKU(sku string) error {
	trimmed := strings.TrimSpace(sku)
	if trimmed == "" || len(trimmed) > 50 {
		return apperr.Validation("invalid sku %q: must be 1-50 characters", sku)
	}
	return nil
}

// ApplyResult is what ApplyStockOp returns: the item after mutation, and
// whether the mutation crossed the low-stock threshold (so the caller
// — internal/agent — knows whether to broadcast a lowStockAlert).
type ApplyResult struct {
	Item         models.InventoryItem
	CrossedBelow bool
	Alert        *models.StockAlert
}

// ApplyStockOp applies one update against the current item (creating it if
// absent), clamps decrements at zero, persists the item and an immutable
// transaction row, and reports whether the mutation crossed the
// currentStock <= lowStockThreshold boundary.
func (p *Pipeline) ApplyStockOp(ctx context.Context, update models.InventoryUpdate) (*ApplyResult, error) {
	if err := ValidateSKU(update.SKU); err != nil {
		return nil, err
	}

	existing, err := p.store.GetItem(ctx, update.SKU)
	if err != nil && err != store.ErrNotFound {
		return nil, fmt.Errorf("get item: %w", err)
	}
	item := models.InventoryItem{SKU: update.SKU, Location: p.location}
	wasBelow := false
	if existing != nil {
		item = *existing
		wasBelow = item.CurrentStock <= item.LowStockThreshold
	}

	switch update.Operation {
	case models.StockSet:
		item.CurrentStock = update.Quantity
	case models.StockIncrement:
		item.CurrentStock += update.Quantity
	case models.StockDecrement:
		item.CurrentStock -= update.Quantity
		if item.CurrentStock < 0 {
			item.CurrentStock = 0
		}
	default:
		return nil, apperr.Validation("unknown stock operation %q", update.Operation)
	}
	if update.Location != "" {
		item.Location = update.Location
	}
	item.LastUpdated = time.Now().UTC()

	if err := p.store.UpsertItem(ctx, &item); err != nil {
		return nil, fmt.Errorf("upsert item: %w", err)
	}
	tx := &models.InventoryTransaction{
		SKU:       update.SKU,
		Operation: update.Operation,
		Quantity:  update.Quantity,
		Location:  item.Location,
		Timestamp: time.Now().UTC(),
	}
	if err := p.store.RecordTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("record transaction: %w", err)
	}

	nowBelow := item.CurrentStock <= item.LowStockThreshold
	result := &ApplyResult{Item: item, CrossedBelow: nowBelow && !wasBelow}
	if nowBelow {
		severity := models.SeverityWarning
		if item.CurrentStock == 0 {
			severity = models.SeverityCritical
		}
		result.Alert = &models.StockAlert{
			SKU: item.SKU, CurrentStock: item.CurrentStock, Threshold: item.LowStockThreshold,
			Location: item.Location, Severity: severity,
		}
	}
	return result, nil
}

// StockQuery looks up a single SKU's tracked item, returning (nil, nil) if
// the SKU isn't tracked at this location — distinct from ListAlerts, which
// lists every item currently at or below threshold regardless of SKU.
func (p *Pipeline) StockQuery(ctx context.Context, sku string) (*models.InventoryItem, error) {
	if err := ValidateSKU(sku); err != nil {
		return nil, err
	}
	item, err := p.store.GetItem(ctx, sku)
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// ListAlerts returns every item currently at or below its threshold.
func (p *Pipeline) ListAlerts(ctx context.Context) ([]models.StockAlert, error) {
	items, err := p.store.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	var alerts []models.StockAlert
	for _, it := range items {
		if it.CurrentStock > it.LowStockThreshold {
			continue
		}
		severity := models.SeverityWarning
		if it.CurrentStock == 0 {
			severity = models.SeverityCritical
		}
		alerts = append(alerts, models.StockAlert{
			SKU: it.SKU, CurrentStock: it.CurrentStock, Threshold: it.LowStockThreshold,
			Location: it.Location, Severity: severity,
		})
	}
	return alerts, nil
}

// RunThresholdPropagation executes the full alert -> analysis -> decision
// -> workflow -> parent-propagation pipeline for one alert. Every external
// call carries ctx's deadline; failures are logged and degrade gracefully
// rather than aborting the pipeline, matching spec.md §7's "external
// collaborator failures never fail a user operation."
func (p *Pipeline) RunThresholdPropagation(ctx context.Context, alert models.StockAlert, parent ParentPropagator, sourceUpdate models.InventoryUpdate) {
	analysis := p.analyze(ctx, alert)
	if err := p.store.RecordAnalysis(ctx, analysis); err != nil {
		log.Warn().Err(err).Str("sku", alert.SKU).Msg("inventory: failed to record analysis")
	}

	shouldReorder, reorderQty := interpretAnalysis(analysis)
	decision := models.InventoryDecision{
		SKU: alert.SKU, Location: alert.Location, Timestamp: time.Now().UTC(),
	}

	switch {
	case !shouldReorder:
		decision.DecisionType = models.DecisionNoAction
		decision.Reasoning = "analysis did not recommend reorder"
	case alert.Severity == models.SeverityCritical || reorderQty > p.cfg.ReorderAmountThreshold:
		decision.DecisionType = models.DecisionEscalated
		decision.Reasoning = "critical urgency or reorder quantity above threshold; requesting approval"
		approved := p.approval.Approve(ctx, decision)
		if approved {
			decision.DecisionType = models.DecisionAutoApproved
			decision.Reasoning += "; approved"
		} else {
			decision.Reasoning += "; approval denied or timed out"
		}
		shouldReorder = approved
	default:
		decision.DecisionType = models.DecisionReorder
		decision.Reasoning = "below threshold, reorder dispatched directly"
	}

	if shouldReorder && p.workflow != nil {
		if _, err := p.workflow.Create(ctx, "reorder-workflow", map[string]interface{}{
			"sku": alert.SKU, "location": alert.Location, "quantity": reorderQty,
		}); err != nil {
			log.Warn().Err(err).Str("sku", alert.SKU).Msg("inventory: reorder workflow dispatch failed")
		}
	}

	if err := p.store.RecordDecision(ctx, &decision); err != nil {
		log.Warn().Err(err).Str("sku", alert.SKU).Msg("inventory: failed to record decision")
	}

	if p.bus != nil {
		_ = p.bus.Send(ctx, "inventory.alert", map[string]interface{}{
			"sku": alert.SKU, "location": alert.Location, "severity": alert.Severity,
		})
	}

	if parent != nil {
		if err := parent.PropagateStockUpdate(ctx, sourceUpdate); err != nil {
			log.Warn().Err(err).Str("sku", alert.SKU).Msg("inventory: best-effort parent propagation failed")
		}
	}
}

// Analyze runs the same trend-analysis step RunThresholdPropagation triggers
// on a crossed threshold, but on demand for one sku, recording and returning
// the result — the counterpart that exposes /ai/analyze as a standalone
// operation instead of only as a side effect of a stock mutation.
func (p *Pipeline) Analyze(ctx context.Context, sku string) (*models.InventoryAnalysis, error) {
	if err := ValidateSKU(sku); err != nil {
		return nil, err
	}
	item, err := p.store.GetItem(ctx, sku)
	if err == store.ErrNotFound {
		return nil, apperr.NotFound("sku %q not found at %s", sku, p.location)
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	severity := models.SeverityWarning
	if item.CurrentStock == 0 {
		severity = models.SeverityCritical
	}
	alert := models.StockAlert{
		SKU: item.SKU, CurrentStock: item.CurrentStock, Threshold: item.LowStockThreshold,
		Location: item.Location, Severity: severity,
	}
	analysis := p.analyze(ctx, alert)
	if err := p.store.RecordAnalysis(ctx, analysis); err != nil {
		log.Warn().Err(err).Str("sku", sku).Msg("inventory: failed to record analysis")
	}
	return analysis, nil
}

// Forecast computes and records a demand forecast for sku, returning its
// recent forecast history (most recent first).
func (p *Pipeline) Forecast(ctx context.Context, sku string) ([]models.DemandForecast, error) {
	if err := ValidateSKU(sku); err != nil {
		return nil, err
	}
	item, err := p.store.GetItem(ctx, sku)
	if err == store.ErrNotFound {
		return nil, apperr.NotFound("sku %q not found at %s", sku, p.location)
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	forecast := p.forecastDemand(ctx, item)
	if err := p.store.RecordForecast(ctx, forecast); err != nil {
		log.Warn().Err(err).Str("sku", sku).Msg("inventory: failed to record forecast")
	}
	return p.store.ListForecasts(ctx, sku, 10)
}

func (p *Pipeline) forecastDemand(ctx context.Context, item *models.InventoryItem) *models.DemandForecast {
	forecast := &models.DemandForecast{
		SKU: item.SKU, Location: item.Location, ForecastDate: time.Now().UTC(),
		PredictedDemand: defaultPredictedDemand(item), Confidence: 0.5, TrendDirection: "stable",
	}
	if p.model == nil {
		return forecast
	}
	prompt := []contracts.ModelMessage{{
		Role: "user",
		Content: fmt.Sprintf("SKU %s at %s has %d units (threshold %d). Predict demand for the next period as JSON {predictedDemand, confidence, trendDirection, reasoning}.",
			item.SKU, item.Location, item.CurrentStock, item.LowStockThreshold),
	}}
	result, err := p.model.Run(ctx, "demand-forecaster", prompt, nil)
	if err != nil || result == nil || result.Parsed == nil {
		return forecast
	}
	if v, ok := result.Parsed["predictedDemand"].(float64); ok {
		forecast.PredictedDemand = v
	}
	if v, ok := result.Parsed["confidence"].(float64); ok {
		forecast.Confidence = v
	}
	if v, ok := result.Parsed["trendDirection"].(string); ok {
		forecast.TrendDirection = v
	}
	if v, ok := result.Parsed["reasoning"].(string); ok {
		forecast.Reasoning = v
	}
	return forecast
}

func defaultPredictedDemand(item *models.InventoryItem) float64 {
	gap := item.LowStockThreshold - item.CurrentStock
	if gap < 1 {
		gap = 1
	}
	return float64(gap) * 1.5
}

// Insights aggregates this location's recent analyses, decisions, and
// forecasts for the /ai/insights endpoint, which has no single sku to scope
// by the way Analyze and Forecast do.
type Insights struct {
	Analyses  []models.InventoryAnalysis `json:"analyses"`
	Decisions []models.InventoryDecision `json:"decisions"`
	Forecasts []models.DemandForecast    `json:"forecasts"`
	Summary   string                     `json:"summary"`
}

func (p *Pipeline) Insights(ctx context.Context, limit int) (*Insights, error) {
	if limit <= 0 {
		limit = 10
	}
	analyses, err := p.store.ListRecentAnalyses(ctx, p.location, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent analyses: %w", err)
	}
	decisions, err := p.store.ListRecentDecisions(ctx, p.location, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent decisions: %w", err)
	}
	forecasts, err := p.store.ListRecentForecasts(ctx, p.location, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent forecasts: %w", err)
	}
	summary := "no recent inventory activity"
	if len(analyses) > 0 || len(decisions) > 0 || len(forecasts) > 0 {
		summary = fmt.Sprintf("%d analyses, %d decisions, %d forecasts recorded recently", len(analyses), len(decisions), len(forecasts))
	}
	return &Insights{Analyses: analyses, Decisions: decisions, Forecasts: forecasts, Summary: summary}, nil
}

func (p *Pipeline) analyze(ctx context.Context, alert models.StockAlert) *models.InventoryAnalysis {
	analysis := &models.InventoryAnalysis{
		SKU: alert.SKU, Location: alert.Location, Timestamp: time.Now().UTC(),
		Analysis: map[string]interface{}{"shouldReorder": true, "reorderQuantity": defaultReorderQty(alert)},
		Confidence: 0.5,
	}
	if p.model == nil {
		return analysis
	}
	prompt := []contracts.ModelMessage{{
		Role: "user",
		Content: fmt.Sprintf("SKU %s at %s has %d units (threshold %d). Recommend a reorder quantity as JSON {shouldReorder, reorderQuantity, confidence}.",
			alert.SKU, alert.Location, alert.CurrentStock, alert.Threshold),
	}}
	result, err := p.model.Run(ctx, "inventory-analyst", prompt, nil)
	if err != nil || result == nil {
		return analysis
	}
	if result.Parsed != nil {
		analysis.Analysis = result.Parsed
		if conf, ok := result.Parsed["confidence"].(float64); ok {
			analysis.Confidence = conf
		}
	}
	return analysis
}

func defaultReorderQty(alert models.StockAlert) int {
	gap := alert.Threshold - alert.CurrentStock
	if gap < 1 {
		gap = 1
	}
	return gap * 2
}

func interpretAnalysis(a *models.InventoryAnalysis) (shouldReorder bool, quantity int) {
	shouldReorder = true
	quantity = 1
	if sr, ok := a.Analysis["shouldReorder"].(bool); ok {
		shouldReorder = sr
	}
	if q, ok := a.Analysis["reorderQuantity"].(float64); ok {
		quantity = int(q)
	} else if q, ok := a.Analysis["reorderQuantity"].(int); ok {
		quantity = q
	}
	return shouldReorder, quantity
}
