package inventory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fleetgrid/control-plane/internal/fleetpath"
	"github.com/fleetgrid/control-plane/internal/store"
	"github.com/fleetgrid/control-plane/pkg/models"
)

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	owner := fleetpath.NewOwnerKey("acme", fleetpath.Root())
	s, err := store.Open(t.TempDir(), owner)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestApplyStockOpDecrementClampsAtZero(t *testing.T) {
	s := openTestStore(t)
	p := NewPipeline(s, nil, nil, nil, nil, "/wh", Config{ReorderAmountThreshold: 1000})
	ctx := context.Background()

	if _, err := p.ApplyStockOp(ctx, models.InventoryUpdate{SKU: "SKU-1", Quantity: 100, Operation: models.StockSet}); err != nil {
		t.Fatalf("ApplyStockOp(set): %v", err)
	}
	result, err := p.ApplyStockOp(ctx, models.InventoryUpdate{SKU: "SKU-1", Quantity: 150, Operation: models.StockDecrement})
	if err != nil {
		t.Fatalf("ApplyStockOp(decrement): %v", err)
	}
	if result.Item.CurrentStock != 0 {
		t.Errorf("CurrentStock = %d, want 0", result.Item.CurrentStock)
	}
	txs, err := s.ListTransactions(ctx, "SKU-1", 10)
	if err != nil || len(txs) != 2 {
		t.Errorf("expected 2 transaction rows, got %d (err=%v)", len(txs), err)
	}
}

func TestApplyStockOpRejectsInvalidSKU(t *testing.T) {
	s := openTestStore(t)
	p := NewPipeline(s, nil, nil, nil, nil, "/wh", Config{})
	if _, err := p.ApplyStockOp(context.Background(), models.InventoryUpdate{SKU: "", Operation: models.StockSet}); err == nil {
		t.Errorf("expected validation error for empty SKU")
	}
}

func TestApplyStockOpCrossedBelowOnlyOnTransition(t *testing.T) {
	s := openTestStore(t)
	p := NewPipeline(s, nil, nil, nil, nil, "/wh", Config{})
	ctx := context.Background()

	if err := s.UpsertItem(ctx, &models.InventoryItem{SKU: "SKU-2", CurrentStock: 12, LowStockThreshold: 10, Location: "/wh"}); err != nil {
		t.Fatalf("seed item: %v", err)
	}
	r1, err := p.ApplyStockOp(ctx, models.InventoryUpdate{SKU: "SKU-2", Quantity: 1, Operation: models.StockDecrement})
	if err != nil {
		t.Fatalf("ApplyStockOp: %v", err)
	}
	if r1.CrossedBelow {
		t.Errorf("12 -> 11 should not cross threshold 10")
	}
	r2, err := p.ApplyStockOp(ctx, models.InventoryUpdate{SKU: "SKU-2", Quantity: 2, Operation: models.StockDecrement})
	if err != nil {
		t.Fatalf("ApplyStockOp: %v", err)
	}
	if !r2.CrossedBelow || r2.Alert == nil {
		t.Errorf("11 -> 9 should cross threshold 10 and produce an alert")
	}
}

func TestListAlertsSeverity(t *testing.T) {
	s := openTestStore(t)
	p := NewPipeline(s, nil, nil, nil, nil, "/wh", Config{})
	ctx := context.Background()
	_ = s.UpsertItem(ctx, &models.InventoryItem{SKU: "A", CurrentStock: 0, LowStockThreshold: 5, Location: "/wh"})
	_ = s.UpsertItem(ctx, &models.InventoryItem{SKU: "B", CurrentStock: 3, LowStockThreshold: 5, Location: "/wh"})
	_ = s.UpsertItem(ctx, &models.InventoryItem{SKU: "C", CurrentStock: 50, LowStockThreshold: 5, Location: "/wh"})

	alerts, err := p.ListAlerts(ctx)
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("len(alerts) = %d, want 2", len(alerts))
	}
	bySKU := map[string]models.StockAlert{}
	for _, a := range alerts {
		bySKU[a.SKU] = a
	}
	if bySKU["A"].Severity != models.SeverityCritical {
		t.Errorf("SKU A should be critical at zero stock")
	}
	if bySKU["B"].Severity != models.SeverityWarning {
		t.Errorf("SKU B should be warning")
	}
}

type fakeParent struct {
	called chan models.InventoryUpdate
}

func (f *fakeParent) PropagateStockUpdate(ctx context.Context, update models.InventoryUpdate) error {
	f.called <- update
	return nil
}

func TestRunThresholdPropagationCallsParentAndRecordsDecision(t *testing.T) {
	s := openTestStore(t)
	p := NewPipeline(s, nil, nil, nil, AutoApproveGate{Wait: 10 * time.Millisecond}, "/wh", Config{ReorderAmountThreshold: 1000})
	ctx := context.Background()

	parent := &fakeParent{called: make(chan models.InventoryUpdate, 1)}
	alert := models.StockAlert{SKU: "SKU-3", CurrentStock: 0, Threshold: 10, Location: "/wh", Severity: models.SeverityCritical}
	update := models.InventoryUpdate{SKU: "SKU-3", Quantity: 10, Operation: models.StockDecrement}

	p.RunThresholdPropagation(ctx, alert, parent, update)

	select {
	case got := <-parent.called:
		if got.SKU != "SKU-3" {
			t.Errorf("parent got update for %q, want SKU-3", got.SKU)
		}
	case <-time.After(time.Second):
		t.Fatal("parent was never notified")
	}

	decisions, err := s.ListDecisions(ctx, "SKU-3", 10)
	if err != nil || len(decisions) != 1 {
		t.Fatalf("ListDecisions: %+v, %v", decisions, err)
	}
	if decisions[0].DecisionType != models.DecisionAutoApproved {
		t.Errorf("decision = %q, want auto_approved for critical severity", decisions[0].DecisionType)
	}
}

func TestStockQueryDistinctFromListAlerts(t *testing.T) {
	s := openTestStore(t)
	p := NewPipeline(s, nil, nil, nil, nil, "/wh", Config{})
	ctx := context.Background()
	_ = s.UpsertItem(ctx, &models.InventoryItem{SKU: "SKU-9", CurrentStock: 40, LowStockThreshold: 5, Location: "/wh"})

	item, err := p.StockQuery(ctx, "SKU-9")
	if err != nil {
		t.Fatalf("StockQuery: %v", err)
	}
	if item == nil || item.CurrentStock != 40 {
		t.Fatalf("StockQuery(SKU-9) = %+v, want currentStock 40", item)
	}

	missing, err := p.StockQuery(ctx, "SKU-NOPE")
	if err != nil {
		t.Fatalf("StockQuery(missing): %v", err)
	}
	if missing != nil {
		t.Errorf("StockQuery(missing) = %+v, want nil", missing)
	}

	// SKU-9 isn't below threshold, so it must not show up as an alert.
	alerts, err := p.ListAlerts(ctx)
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("ListAlerts = %+v, want none", alerts)
	}
}

func TestValidateSKURejectsOverLength(t *testing.T) {
	ok := strings.Repeat("s", 50)
	if err := ValidateSKU(ok); err != nil {
		t.Errorf("50-char sku rejected: %v", err)
	}
	tooLong := strings.Repeat("s", 51)
	if err := ValidateSKU(tooLong); err == nil {
		t.Errorf("51-char sku should be rejected")
	}
}

func TestAnalyzeRecordsAndReturnsAnalysis(t *testing.T) {
	s := openTestStore(t)
	p := NewPipeline(s, nil, nil, nil, nil, "/wh", Config{})
	ctx := context.Background()
	_ = s.UpsertItem(ctx, &models.InventoryItem{SKU: "SKU-5", CurrentStock: 2, LowStockThreshold: 10, Location: "/wh"})

	analysis, err := p.Analyze(ctx, "SKU-5")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if analysis.SKU != "SKU-5" {
		t.Errorf("Analyze SKU = %q, want SKU-5", analysis.SKU)
	}
	recorded, err := s.ListAnalyses(ctx, "SKU-5", 10)
	if err != nil || len(recorded) != 1 {
		t.Fatalf("ListAnalyses after Analyze = %+v, %v", recorded, err)
	}

	if _, err := p.Analyze(ctx, "SKU-NOPE"); err == nil {
		t.Errorf("Analyze(unknown sku) should fail")
	}
}

func TestForecastRecordsAndReturnsHistory(t *testing.T) {
	s := openTestStore(t)
	p := NewPipeline(s, nil, nil, nil, nil, "/wh", Config{})
	ctx := context.Background()
	_ = s.UpsertItem(ctx, &models.InventoryItem{SKU: "SKU-6", CurrentStock: 4, LowStockThreshold: 10, Location: "/wh"})

	forecasts, err := p.Forecast(ctx, "SKU-6")
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if len(forecasts) != 1 || forecasts[0].SKU != "SKU-6" {
		t.Fatalf("Forecast result = %+v", forecasts)
	}
}

func TestInsightsAggregatesLocationActivity(t *testing.T) {
	s := openTestStore(t)
	p := NewPipeline(s, nil, nil, nil, nil, "/wh", Config{})
	ctx := context.Background()
	_ = s.UpsertItem(ctx, &models.InventoryItem{SKU: "SKU-7", CurrentStock: 1, LowStockThreshold: 10, Location: "/wh"})

	if _, err := p.Analyze(ctx, "SKU-7"); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if _, err := p.Forecast(ctx, "SKU-7"); err != nil {
		t.Fatalf("Forecast: %v", err)
	}

	insights, err := p.Insights(ctx, 10)
	if err != nil {
		t.Fatalf("Insights: %v", err)
	}
	if len(insights.Analyses) != 1 || len(insights.Forecasts) != 1 {
		t.Errorf("Insights = %+v, want one analysis and one forecast", insights)
	}
	if insights.Summary == "" {
		t.Errorf("expected non-empty summary")
	}
}
