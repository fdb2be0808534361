// Package persistence implements the Persistence Port plus a file-backed
// reference adapter: load-before-first-mutation, subscribe-to-updates,
// and a resolved-once-loaded readiness signal (see DESIGN.md).
package persistence

import (
	"context"

	"github.com/loomkv/loomkv/internal/crdt"
)

// Store is the persistence port: load initial state, subscribe to
// updates, and signal readiness once the initial load has completed.
// The CRDT runtime and the workspace lifecycle only depend on this
// interface; FileStore below is one concrete instance of it, not the
// product.
type Store interface {
	// OnLoad applies any previously persisted state to doc before the
	// caller lets any other code observe doc's mutations.
	OnLoad(doc *crdt.Document) error

	// Subscribe registers doc for durable persistence of subsequent
	// updates, returning an unsubscribe func.
	Subscribe(doc *crdt.Document) func()

	// WhenSynced resolves once OnLoad has completed successfully.
	WhenSynced() <-chan struct{}

	// Destroy releases resources held by the store. Idempotent.
	Destroy()
}

// Load runs store.OnLoad, subscribes doc to the store for subsequent
// updates, then waits for the store's readiness signal or for ctx to end,
// matching the Workspace Client Lifecycle's "persistence load" suspension
// point with one consistent entry point to await.
func Load(ctx context.Context, store Store, doc *crdt.Document) error {
	if err := store.OnLoad(doc); err != nil {
		return err
	}
	store.Subscribe(doc)
	select {
	case <-store.WhenSynced():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
