// Package loomkv is the public entry point: it wraps internal/workspace's
// Client behind an options/DB shape (New validates options and constructs
// an inner object; Table/KV return thin adapters; Shutdown tears the
// inner object down) generalized to a collection of typed Tables and KV
// stores synced over a websocket Sync Server (see DESIGN.md).
package loomkv

import (
	"context"
	"fmt"

	"github.com/loomkv/loomkv/internal/collection"
	"github.com/loomkv/loomkv/internal/logging"
	"github.com/loomkv/loomkv/internal/persistence"
	"github.com/loomkv/loomkv/internal/workspace"
)

// Options configures one DB. ID and Epoch compose the workspace's
// Document GUID; two DBs with the same ID but different Epoch never
// sync with each other.
type Options struct {
	ID    string
	Epoch string

	// DataDir, if non-empty, persists the workspace to disk under this
	// directory using the Persistence Store.
	DataDir string

	// SyncURL, if non-empty, connects to a Sync Server at this websocket
	// URL and keeps the workspace live-synced with it.
	SyncURL string

	Tables []workspace.TableSpec
	KVs    []workspace.KVSpec

	Log *logging.Logger
}

// DB is the public wrapper around a workspace.Client.
type DB struct {
	client *workspace.Client
}

// New validates opts and constructs a DB. The returned DB is immediately
// usable; call WhenSynced to await persistence load and the first sync
// round-trip.
func New(ctx context.Context, opts Options) (*DB, error) {
	if ctx == nil {
		return nil, fmt.Errorf("loomkv: context cannot be nil")
	}
	if opts.ID == "" {
		return nil, fmt.Errorf("loomkv: ID cannot be empty")
	}
	if opts.Epoch == "" {
		opts.Epoch = "0"
	}

	var extensions []workspace.ExtensionFactory
	if opts.DataDir != "" {
		store, err := persistence.NewFileStore(opts.DataDir, opts.Log)
		if err != nil {
			return nil, fmt.Errorf("loomkv: persistence store: %w", err)
		}
		extensions = append(extensions, workspace.PersistenceExtension(store))
	}
	if opts.SyncURL != "" {
		extensions = append(extensions, workspace.SyncClientExtension(ctx, opts.SyncURL, opts.Log))
	}

	client := workspace.New(workspace.Options{
		ID:         opts.ID,
		Epoch:      opts.Epoch,
		Tables:     opts.Tables,
		KVs:        opts.KVs,
		Extensions: extensions,
		Log:        opts.Log,
	})
	return &DB{client: client}, nil
}

// WhenSynced awaits every configured extension's readiness (persistence
// load, sync handshake). See workspace.Client.WhenSynced.
func (d *DB) WhenSynced(ctx context.Context) error {
	return d.client.WhenSynced(ctx)
}

// Table returns a Collection adapter over the named table, or nil if it
// wasn't declared in Options.Tables.
func (d *DB) Table(name string) Collection {
	t := d.client.Table(name)
	if t == nil {
		return nil
	}
	return &tableAdapter{t: t}
}

// KV returns a Store adapter over the named singleton key-value map, or
// nil if it wasn't declared in Options.KVs.
func (d *DB) KV(name string) Store {
	kv := d.client.KV(name)
	if kv == nil {
		return nil
	}
	return &kvAdapter{kv: kv}
}

// Raw returns the underlying workspace.Client for advanced usage.
func (d *DB) Raw() *workspace.Client { return d.client }

// Shutdown tears down every extension and the underlying Document.
// Idempotent.
func (d *DB) Shutdown() error {
	d.client.Destroy()
	return nil
}

// Collection is a thin interface over a typed Table, hiding the CRDT
// origin parameter from callers that don't need echo suppression.
type Collection interface {
	Upsert(id string, fields map[string]any) error
	Delete(id string) error
	Find(id string) (map[string]any, bool)
	FindAll() map[string]map[string]any
}

type tableAdapter struct{ t *collection.Table }

func (a *tableAdapter) Upsert(id string, fields map[string]any) error {
	if id == "" {
		return fmt.Errorf("loomkv: id cannot be empty")
	}
	if fields == nil {
		return fmt.Errorf("loomkv: fields cannot be nil")
	}
	a.t.Upsert(nil, id, fields)
	return nil
}
func (a *tableAdapter) Delete(id string) error {
	a.t.Delete(nil, id)
	return nil
}
func (a *tableAdapter) Find(id string) (map[string]any, bool) { return a.t.Get(id) }
func (a *tableAdapter) FindAll() map[string]map[string]any    { return a.t.GetAllValid() }

// Store is a thin interface over a singleton KV store.
type Store interface {
	Set(key string, val any) error
	Get(key string) (any, bool)
	Delete(key string) error
}

type kvAdapter struct{ kv *collection.KVStore }

func (a *kvAdapter) Set(key string, val any) error {
	if key == "" {
		return fmt.Errorf("loomkv: key cannot be empty")
	}
	a.kv.Set(nil, key, val)
	return nil
}
func (a *kvAdapter) Get(key string) (any, bool) { return a.kv.Get(key) }
func (a *kvAdapter) Delete(key string) error {
	a.kv.Delete(nil, key)
	return nil
}
