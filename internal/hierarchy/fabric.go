// Package hierarchy provides the small, dependency-free pieces of the
// parent/child RPC fabric that spec.md §4.4 describes: concurrent
// broadcast fan-out and OwnerKey derivation for child and parent paths.
// The cascading RPC calls themselves (sendMessage, deleteSubtree,
// propagateStockUpdate, createChild) are driven by internal/agent through
// the agent.Router it is constructed with — internal/registry supplies
// that Router — so this package stays free of any dependency on either,
// the way the teacher keeps internal/mcpgw's JSON-RPC dispatch and
// internal/notify's concurrent DispatchAll as narrow, reusable shapes
// rather than owning the callers that use them.
package hierarchy

import (
	"context"
	"sync"

	"github.com/fleetgrid/control-plane/internal/fleetpath"
)

// FanOutResult pairs one fan-out call's index with its outcome.
type FanOutResult struct {
	Index int
	Err   error
}

// FanOut runs fn concurrently once per i in [0, n), waits for all calls to
// finish, and returns every result — partial failures are reported, never
// panicked on or used to abort sibling calls, mirroring the teacher's
// notify.Service.DispatchAll concurrent wait-group fan-out.
func FanOut(ctx context.Context, n int, fn func(ctx context.Context, i int) error) []FanOutResult {
	results := make([]FanOutResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = FanOutResult{Index: i, Err: fn(ctx, i)}
		}(i)
	}
	wg.Wait()
	return results
}

// ChildOwnerKey derives the OwnerKey of a direct child segment under parent.
func ChildOwnerKey(parent fleetpath.OwnerKey, segment string) (fleetpath.OwnerKey, error) {
	childPath, err := parent.Path.Child(segment)
	if err != nil {
		return fleetpath.OwnerKey{}, err
	}
	return fleetpath.NewOwnerKey(parent.Tenant, childPath), nil
}

// ParentOwnerKey derives the OwnerKey of owner's parent. ok is false for
// the root path, which has no parent.
func ParentOwnerKey(owner fleetpath.OwnerKey) (key fleetpath.OwnerKey, ok bool) {
	parentPath, hasParent := owner.Path.Parent()
	if !hasParent {
		return fleetpath.OwnerKey{}, false
	}
	return fleetpath.NewOwnerKey(owner.Tenant, parentPath), true
}
