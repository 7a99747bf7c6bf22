package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fleetgrid/control-plane/internal/fleetpath"
	"github.com/fleetgrid/control-plane/internal/store"
	"github.com/fleetgrid/control-plane/pkg/models"
)

// testRouter is a minimal in-memory Router, grounded on the same lazy
// map-guarded-by-mutex shape internal/registry uses, kept local to this
// package's tests so agent tests don't depend on registry (which itself
// depends on agent).
type testRouter struct {
	mu      sync.Mutex
	dataDir string
	agents  map[string]*Agent
}

func newTestRouter(t *testing.T) *testRouter {
	return &testRouter{dataDir: t.TempDir(), agents: map[string]*Agent{}}
}

func (r *testRouter) GetOrCreate(ctx context.Context, owner fleetpath.OwnerKey) (*Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[owner.String()]; ok {
		return a, nil
	}
	s, err := store.Open(r.dataDir, owner)
	if err != nil {
		return nil, err
	}
	a := New(owner, Deps{Store: s, Router: r, MsgMemRing: 50, ReorderAmountThreshold: 1000, ApprovalWait: 50 * time.Millisecond})
	r.agents[owner.String()] = a
	return a, nil
}

func (r *testRouter) Remove(owner fleetpath.OwnerKey) {
	r.mu.Lock()
	delete(r.agents, owner.String())
	r.mu.Unlock()
}

type recordingSubscriber struct {
	id     string
	mu     sync.Mutex
	events []Event
}

func (s *recordingSubscriber) ID() string { return s.id }
func (s *recordingSubscriber) Send(e Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}
func (s *recordingSubscriber) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func rootOwner() fleetpath.OwnerKey {
	return fleetpath.NewOwnerKey("acme", fleetpath.Root())
}

func TestIncrementSerializesConcurrentCalls(t *testing.T) {
	router := newTestRouter(t)
	a, err := router.GetOrCreate(context.Background(), rootOwner())
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.Increment(context.Background(), 1); err != nil {
				t.Errorf("Increment: %v", err)
			}
		}()
	}
	wg.Wait()
	state, err := a.GetState(context.Background())
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if state["counter"].(int64) != 50 {
		t.Errorf("counter = %v, want 50", state["counter"])
	}
}

func TestCreateChildRejectsDuplicateAndInvalidSegment(t *testing.T) {
	router := newTestRouter(t)
	root, _ := router.GetOrCreate(context.Background(), rootOwner())
	ctx := context.Background()

	if _, err := root.CreateChild(ctx, "warehouse-1"); err != nil {
		t.Fatalf("CreateChild: %v", err)
	}
	if _, err := root.CreateChild(ctx, "warehouse-1"); err == nil {
		t.Errorf("expected AGENT_EXISTS on duplicate child")
	}
	if _, err := root.CreateChild(ctx, "bad/seg"); err == nil {
		t.Errorf("expected validation error for invalid segment")
	}
}

func TestDeleteChildCascadesToGrandchildren(t *testing.T) {
	router := newTestRouter(t)
	ctx := context.Background()
	root, _ := router.GetOrCreate(ctx, rootOwner())

	childKey, err := root.CreateChild(ctx, "warehouse-1")
	if err != nil {
		t.Fatalf("CreateChild: %v", err)
	}
	child, err := router.GetOrCreate(ctx, childKey)
	if err != nil {
		t.Fatalf("GetOrCreate child: %v", err)
	}
	if _, err := child.CreateChild(ctx, "bay-1"); err != nil {
		t.Fatalf("CreateChild grandchild: %v", err)
	}

	if err := root.DeleteChild(ctx, "warehouse-1"); err != nil {
		t.Fatalf("DeleteChild: %v", err)
	}
	if child.State() != StateTerminated {
		t.Errorf("child state = %v, want TERMINATED", child.State())
	}
	router.mu.Lock()
	_, stillPresent := router.agents[childKey.String()]
	router.mu.Unlock()
	if stillPresent {
		t.Errorf("router still holds a reference to the deleted child")
	}
}

func TestDirectMessageReachesChild(t *testing.T) {
	router := newTestRouter(t)
	ctx := context.Background()
	root, _ := router.GetOrCreate(ctx, rootOwner())
	childKey, err := root.CreateChild(ctx, "warehouse-1")
	if err != nil {
		t.Fatalf("CreateChild: %v", err)
	}
	child, _ := router.GetOrCreate(ctx, childKey)
	sub := &recordingSubscriber{id: "s1"}
	if _, err := child.AddSubscriber(ctx, sub); err != nil {
		t.Fatalf("AddSubscriber: %v", err)
	}

	if err := root.DirectMessage(ctx, "warehouse-1", "hello"); err != nil {
		t.Fatalf("DirectMessage: %v", err)
	}
	page, err := child.GetMessages(ctx, 10, 0)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	msgs := page.Messages
	if len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Fatalf("child messages = %+v", msgs)
	}
	if sub.count() == 0 {
		t.Errorf("subscriber received no events")
	}
}

func TestBroadcastFansOutToDescendants(t *testing.T) {
	router := newTestRouter(t)
	ctx := context.Background()
	root, _ := router.GetOrCreate(ctx, rootOwner())
	childKey, _ := root.CreateChild(ctx, "warehouse-1")
	child, _ := router.GetOrCreate(ctx, childKey)
	grandKey, _ := child.CreateChild(ctx, "bay-1")
	grandchild, _ := router.GetOrCreate(ctx, grandKey)

	if err := root.Broadcast(ctx, "fire drill"); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	gpage, err := grandchild.GetMessages(ctx, 10, 0)
	gmsgs := gpage.Messages
	if err != nil || len(gmsgs) != 1 {
		t.Fatalf("grandchild messages = %+v, err=%v", gmsgs, err)
	}
}

func TestStockOpCrossingThresholdTriggersParentPropagation(t *testing.T) {
	router := newTestRouter(t)
	ctx := context.Background()
	root, _ := router.GetOrCreate(ctx, rootOwner())
	childKey, _ := root.CreateChild(ctx, "warehouse-1")
	child, _ := router.GetOrCreate(ctx, childKey)

	if _, err := child.StockOp(ctx, models.InventoryUpdate{SKU: "SKU-9", Quantity: 5, Operation: models.StockSet}); err != nil {
		t.Fatalf("seed StockOp: %v", err)
	}
	if _, err := child.StockOp(ctx, models.InventoryUpdate{SKU: "SKU-9", Quantity: 5, Operation: models.StockDecrement}); err != nil {
		t.Fatalf("StockOp: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		page, err := root.GetMessages(ctx, 10, 0)
		if err != nil {
			t.Fatalf("GetMessages: %v", err)
		}
		if len(page.Messages) > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("parent never received propagation message")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestChatMessageAppliesLocalStockIntentAndUpdatesStats(t *testing.T) {
	router := newTestRouter(t)
	ctx := context.Background()
	root, _ := router.GetOrCreate(ctx, rootOwner())

	resp, err := root.ChatMessage(ctx, "set SKU-1 to 40")
	if err != nil {
		t.Fatalf("ChatMessage: %v", err)
	}
	if resp.ActionTaken != string(models.StockSet) {
		t.Errorf("ActionTaken = %q, want set", resp.ActionTaken)
	}
	if resp.Item == nil || resp.Item.CurrentStock != 40 {
		t.Errorf("Item = %+v, want stock 40", resp.Item)
	}
	if resp.Stats.ActionsExecuted != 1 || resp.Stats.SuccessfulActions != 1 || resp.Stats.SuccessRate != 100 {
		t.Errorf("Stats = %+v", resp.Stats)
	}
}

func TestChatMessageFallsBackWithoutModelClient(t *testing.T) {
	router := newTestRouter(t)
	ctx := context.Background()
	root, _ := router.GetOrCreate(ctx, rootOwner())

	resp, err := root.ChatMessage(ctx, "how's the weather")
	if err != nil {
		t.Fatalf("ChatMessage: %v", err)
	}
	if resp.ActionTaken != "" {
		t.Errorf("expected no action taken for non-intent text")
	}
	if resp.Reply == "" {
		t.Errorf("expected a fallback reply")
	}
}
