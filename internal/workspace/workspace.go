// Package workspace implements the Workspace Client Lifecycle: async-ready
// construction over a Document — schema merge, Table/KV helper binding,
// concurrent extension-factory launch composed into one whenSynced
// barrier — and ordered, idempotent teardown. Follows the New/Shutdown-
// wrapping-an-inner-object shape, options validated before construction,
// and the "one object owns the shared runtime, collections/extensions
// borrow it" ownership discipline (see DESIGN.md).
package workspace

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/loomkv/loomkv/internal/collection"
	"github.com/loomkv/loomkv/internal/crdt"
	"github.com/loomkv/loomkv/internal/logging"
	"github.com/loomkv/loomkv/internal/persistence"
	"github.com/loomkv/loomkv/internal/syncclient"
	"github.com/loomkv/loomkv/internal/types"
)

// Extension is one background peer launched alongside the Client's
// Document — a Persistence Store load/subscribe cycle, a Sync Client
// Provider connection, or any future kind — each exposing its own
// whenSynced and optional teardown.
type Extension interface {
	WhenSynced() <-chan struct{}
	Destroy()
}

// ExtensionFactory builds one Extension bound to doc. Factories run
// concurrently; a factory that returns an error
// fails that extension's slot without blocking the others or Destroy.
type ExtensionFactory func(doc *crdt.Document) (Extension, error)

// noopExtension is swapped in at pre-seed time so the exports shape is
// stable from the instant New returns, before any real factory has
// finished.
type noopExtension struct{ synced chan struct{} }

func newNoopExtension() *noopExtension {
	e := &noopExtension{synced: make(chan struct{})}
	close(e.synced)
	return e
}

func (e *noopExtension) WhenSynced() <-chan struct{} { return e.synced }
func (e *noopExtension) Destroy()                    {}

// TableSpec binds a Table helper to a named, typed table.
type TableSpec struct {
	Name   string
	Schema *types.TableSchema
}

// KVSpec binds a KVStore helper to a named, typed singleton store.
type KVSpec struct {
	Name   string
	Schema *types.FieldSchema
}

// Options configures one Workspace Client.
type Options struct {
	// ID and Epoch compose the Document GUID as "{id}-{epoch}": two
	// clients with the same ID but different Epoch never sync.
	ID    string
	Epoch string

	// Replica identifies this process's replica to the CRDT runtime and
	// seeds LWW tie-breaks. Left empty, a fresh one is generated so two
	// Clients for the same workspace never collide on attribution.
	Replica string

	Tables     []TableSpec
	KVs        []KVSpec
	Extensions []ExtensionFactory
	Log        *logging.Logger
}

// Client is one in-memory workspace: the Document it exclusively owns,
// the Table/KV helpers bound to it, and the extensions launched
// alongside it. New returns immediately with a usable Client; async
// readiness (persistence load, sync handshake) is surfaced through
// WhenSynced so callers can use the Client immediately and await full
// readiness separately, without blocking construction on it.
type Client struct {
	doc    *crdt.Document
	tables map[string]*collection.Table
	kvs    map[string]*collection.KVStore
	log    *logging.Logger

	mu         sync.Mutex
	extensions []Extension

	factorySettled chan struct{}
	factoryErr     error

	destroyOnce sync.Once
}

// Document returns the Document this Client exclusively owns. Extensions
// and helpers borrow it; nothing may use it after Destroy.
func (c *Client) Document() *crdt.Document { return c.doc }

// Table returns the Table helper bound to name, or nil if name wasn't
// declared in Options.Tables.
func (c *Client) Table(name string) *collection.Table { return c.tables[name] }

// KV returns the KVStore helper bound to name, or nil if name wasn't
// declared in Options.KVs.
func (c *Client) KV(name string) *collection.KVStore { return c.kvs[name] }

// New builds a Client. It returns as soon as the Document, schema, and
// helpers exist and launches extensions concurrently in the background;
// callers await WhenSynced for readiness.
func New(opts Options) *Client {
	replica := opts.Replica
	if replica == "" {
		replica = uuid.NewString()
	}
	guid := fmt.Sprintf("%s-%s", opts.ID, opts.Epoch)
	doc := crdt.NewDocument(guid, replica)

	mergeSchema(doc, opts.Tables, opts.KVs)

	tables := make(map[string]*collection.Table, len(opts.Tables))
	for _, t := range opts.Tables {
		tables[t.Name] = collection.NewTable(doc, t.Name, t.Schema)
	}
	kvs := make(map[string]*collection.KVStore, len(opts.KVs))
	for _, k := range opts.KVs {
		kvs[k.Name] = collection.NewKVStore(doc, k.Name, k.Schema)
	}

	c := &Client{
		doc:            doc,
		tables:         tables,
		kvs:            kvs,
		log:            opts.Log,
		extensions:     make([]Extension, len(opts.Extensions)),
		factorySettled: make(chan struct{}),
	}
	for i := range c.extensions {
		c.extensions[i] = newNoopExtension() // pre-seed exports
	}

	go c.launchExtensions(opts.Extensions)

	return c
}

// mergeSchema merges opts' table/kv field schemas into the Document's
// "definition" map under "tables.<name>.<field>" / "kv.<name>" keys,
// skipping fields whose schema is unchanged so repeated starts against
// the same Document don't churn the CRDT history.
func mergeSchema(doc *crdt.Document, tables []TableSpec, kvs []KVSpec) {
	doc.Transact(nil, func(txn *crdt.Txn) {
		def := doc.Map("definition")
		for _, t := range tables {
			if t.Schema == nil {
				continue
			}
			for field, fs := range t.Schema.Fields {
				mergeField(txn, def, doc.Replica, "tables."+t.Name+"."+field, fs)
			}
		}
		for _, k := range kvs {
			if k.Schema == nil {
				continue
			}
			mergeField(txn, def, doc.Replica, "kv."+k.Name, *k.Schema)
		}
	})
}

func mergeField(txn *crdt.Txn, def *crdt.Map, replica, key string, fs types.FieldSchema) {
	if cur, ok := def.Get(key); ok {
		if curFS, ok := cur.(types.FieldSchema); ok && curFS == fs {
			return
		}
	}
	def.SetScalar(key, fs, replica)
	def.Touch(txn)
}

// launchExtensions runs every factory concurrently, installs each
// result into its pre-seeded slot, and records the first error seen so
// WhenSynced can fail fast without blocking Destroy on it.
func (c *Client) launchExtensions(factories []ExtensionFactory) {
	defer close(c.factorySettled)
	if len(factories) == 0 {
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(factories))
	errs := make([]error, len(factories))
	for i, factory := range factories {
		i, factory := i, factory
		go func() {
			defer wg.Done()
			ext, err := factory(c.doc)
			if err != nil {
				errs[i] = fmt.Errorf("workspace: extension %d factory: %w", i, err)
				return
			}
			c.mu.Lock()
			c.extensions[i] = ext
			c.mu.Unlock()
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			c.factoryErr = err
			break
		}
	}
}

// WhenSynced resolves once every extension launched at construction has
// settled and reached its own readiness. If any factory failed, it
// returns the error of the lowest-indexed failing factory once every
// factory has settled, without waiting on any extension's readiness.
// ctx bounds the wait;
// cancelling it does not tear anything down, callers still owe a
// Destroy.
func (c *Client) WhenSynced(ctx context.Context) error {
	select {
	case <-c.factorySettled:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	err := c.factoryErr
	exts := append([]Extension(nil), c.extensions...)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	for _, ext := range exts {
		select {
		case <-ext.WhenSynced():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Destroy awaits the factory-settled barrier, then invokes every
// extension's Destroy concurrently (one failing to tear down cleanly
// must not block the others), then destroys the Document. Idempotent:
// a second call is a no-op.
func (c *Client) Destroy() {
	c.destroyOnce.Do(func() {
		<-c.factorySettled

		c.mu.Lock()
		exts := append([]Extension(nil), c.extensions...)
		c.mu.Unlock()

		var wg sync.WaitGroup
		wg.Add(len(exts))
		for _, ext := range exts {
			ext := ext
			go func() {
				defer wg.Done()
				defer c.recoverDestroy()
				ext.Destroy()
			}()
		}
		wg.Wait()

		c.doc.Destroy()
	})
}

func (c *Client) recoverDestroy() {
	if r := recover(); r != nil && c.log != nil {
		c.log.Sugar().Warnf("workspace: extension destroy panicked: %v", r)
	}
}

// PersistenceExtension adapts a persistence.Store into an
// ExtensionFactory, running the port's on_load-then-subscribe sequence
// before the Client considers this extension installed.
func PersistenceExtension(store persistence.Store) ExtensionFactory {
	return func(doc *crdt.Document) (Extension, error) {
		if err := store.OnLoad(doc); err != nil {
			return nil, fmt.Errorf("persistence on_load: %w", err)
		}
		store.Subscribe(doc)
		return persistenceExtension{store: store}, nil
	}
}

type persistenceExtension struct{ store persistence.Store }

func (e persistenceExtension) WhenSynced() <-chan struct{} { return e.store.WhenSynced() }
func (e persistenceExtension) Destroy()                    { e.store.Destroy() }

// SyncClientExtension adapts a syncclient.Client into an
// ExtensionFactory. The handshake itself happens in the background;
// the factory returns as soon as the client is launched, and readiness
// is observed through the returned Extension's WhenSynced, which
// resolves once the first sync round-trip completes.
func SyncClientExtension(ctx context.Context, wsURL string, log *logging.Logger) ExtensionFactory {
	return func(doc *crdt.Document) (Extension, error) {
		client := syncclient.New(wsURL, doc, log)
		client.Start(ctx)
		return syncClientExtension{client: client}, nil
	}
}

type syncClientExtension struct{ client *syncclient.Client }

func (e syncClientExtension) WhenSynced() <-chan struct{} { return e.client.WhenSynced() }
func (e syncClientExtension) Destroy()                    { e.client.Close() }
