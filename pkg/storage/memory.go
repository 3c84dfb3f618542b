package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryEngine is an in-memory Engine, used by tests and by embedded
// deployments that never configure a data directory. Nothing it stores
// survives process exit.
type MemoryEngine struct {
	mu        sync.Mutex
	docs      map[DocID]StoredDocument
	conflicts map[string]StoredDocument
	seq       uint64
	closed    bool
}

// NewMemoryEngine returns a ready-to-use MemoryEngine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		docs:      make(map[DocID]StoredDocument),
		conflicts: make(map[string]StoredDocument),
	}
}

// conflictMapKey mirrors BadgerEngine's conflictKey: a conflict revision is
// keyed by id and synctag, distinct from the main revision's key, so storing
// one never replaces the other.
func conflictMapKey(id DocID, synctag uint64) string {
	return fmt.Sprintf("%s:%016x", id, synctag)
}

func (e *MemoryEngine) Begin(ctx context.Context) (Tx, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	return &memoryTx{
		engine:    e,
		writes:    make(map[DocID]StoredDocument),
		conflicts: make(map[string]StoredDocument),
	}, nil
}

func (e *MemoryEngine) Commit(ctx context.Context, tx Tx) error {
	mtx, ok := tx.(*memoryTx)
	if !ok || mtx.engine != e {
		return ErrNoTransaction
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if mtx.discarded {
		return ErrNoTransaction
	}
	for id, doc := range mtx.writes {
		e.docs[id] = doc
	}
	for key, doc := range mtx.conflicts {
		e.conflicts[key] = doc
	}
	mtx.discarded = true
	return nil
}

func (e *MemoryEngine) NextSyncTag(ctx context.Context) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, ErrEngineClosed
	}
	e.seq++
	return e.seq, nil
}

func (e *MemoryEngine) LoadDocumentMetadata(ctx context.Context, id DocID) (Metadata, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return Metadata{}, ErrEngineClosed
	}
	doc, ok := e.docs[id]
	if !ok {
		return Metadata{}, ErrNotFound
	}
	return doc.Metadata.Clone(), nil
}

func (e *MemoryEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// memoryTx buffers writes until Commit is called, so a discarded
// transaction never mutates the engine's visible state.
type memoryTx struct {
	engine    *MemoryEngine
	writes    map[DocID]StoredDocument
	conflicts map[string]StoredDocument
	discarded bool
}

func (tx *memoryTx) StoreDocument(ctx context.Context, id DocID, document []byte, metadata Metadata) error {
	tx.writes[id] = StoredDocument{ID: id, Document: document, Metadata: metadata}
	return nil
}

func (tx *memoryTx) DeleteDocument(ctx context.Context, id DocID, metadata Metadata) error {
	tx.writes[id] = StoredDocument{ID: id, Document: Deleted, Metadata: metadata, Deleted: true}
	return nil
}

func (tx *memoryTx) StoreConflict(ctx context.Context, id DocID, document []byte, metadata Metadata) error {
	key := conflictMapKey(id, metadata.Synctag)
	tx.conflicts[key] = StoredDocument{ID: id, Document: document, Metadata: metadata, Conflict: true}
	return nil
}

func (tx *memoryTx) Discard() {
	tx.discarded = true
}
