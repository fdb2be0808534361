package persistence

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/loomkv/loomkv/internal/crdt"
	"github.com/loomkv/loomkv/internal/logging"
)

// FileStore is the reference Persistence Port adapter: one opaque update
// blob per workspace GUID under baseDir, following a one-file-per-
// document idiom (mutex-guarded, written with os.WriteFile) adapted from
// per-collection JSON documents to the single opaque CRDT update blob the
// Persistence Port actually deals in — the update log is opaque binary,
// the runtime defines no public on-disk format (see DESIGN.md).
type FileStore struct {
	mu      sync.Mutex
	baseDir string
	log     *logging.Logger
	synced  chan struct{}
	unsub   func()
}

// NewFileStore creates a FileStore rooted at baseDir, creating the
// directory if absent.
func NewFileStore(baseDir string, log *logging.Logger) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("persistence: create base dir: %w", err)
	}
	return &FileStore{baseDir: baseDir, log: log, synced: make(chan struct{})}, nil
}

func (fs *FileStore) path(guid string) string {
	return filepath.Join(fs.baseDir, guid+".bin")
}

// OnLoad reads guid's persisted update blob, if any, and applies it to
// doc inside one transaction before returning — the "apply persisted
// state before first mutation is externally observed" requirement.
func (fs *FileStore) OnLoad(doc *crdt.Document) error {
	fs.mu.Lock()
	data, err := os.ReadFile(fs.path(doc.GUID))
	fs.mu.Unlock()

	if os.IsNotExist(err) {
		close(fs.synced)
		return nil
	}
	if err != nil {
		return fmt.Errorf("persistence: read %s: %w", doc.GUID, err)
	}

	var applyErr error
	doc.Transact(fs, func(txn *crdt.Txn) {
		applyErr = doc.ApplyUpdate(txn, data)
	})
	if applyErr != nil {
		return fmt.Errorf("persistence: apply persisted state for %s: %w", doc.GUID, applyErr)
	}
	if fs.log != nil {
		fs.log.Info("persistence: loaded workspace state", zap.String("guid", doc.GUID))
	}
	close(fs.synced)
	return nil
}

// Subscribe writes doc's full state to disk on every subsequent update.
// Each write replaces the prior file via a temp-file-then-rename so a
// crash mid-write can never leave a half-written blob behind.
func (fs *FileStore) Subscribe(doc *crdt.Document) func() {
	unsub := doc.OnUpdate(func(update []byte, _ crdt.Origin) {
		if err := fs.writeAtomic(doc.GUID, update); err != nil && fs.log != nil {
			fs.log.Warn("persistence: write failed", zap.String("guid", doc.GUID), zap.Error(err))
		}
	})
	fs.unsub = unsub
	return unsub
}

func (fs *FileStore) writeAtomic(guid string, data []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	tmp := fs.path(guid) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, fs.path(guid))
}

// WhenSynced resolves once the initial OnLoad has completed.
func (fs *FileStore) WhenSynced() <-chan struct{} {
	return fs.synced
}

// Destroy unsubscribes from the document. Idempotent.
func (fs *FileStore) Destroy() {
	fs.mu.Lock()
	unsub := fs.unsub
	fs.unsub = nil
	fs.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}
