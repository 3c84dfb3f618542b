package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/ristretto/v2"
)

// Key prefixes for BadgerDB storage organization. Single-byte prefixes keep
// prefix scans cheap.
const (
	prefixDocument = byte(0x01) // doc:docID -> JSON(StoredDocument), main revision
	prefixConflict = byte(0x02) // conflict:docID:synctag -> JSON(StoredDocument)
)

var syncTagSequenceKey = []byte("seq:synctag")

// BadgerOptions configures a BadgerEngine.
type BadgerOptions struct {
	// DataDir is the directory for data files. Required unless InMemory.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	SyncWrites bool

	// MetadataCacheSize bounds the ristretto cache used by
	// LoadDocumentMetadata, in approximate number of entries. Zero uses a
	// conservative default.
	MetadataCacheSize int64
}

// BadgerEngine is a BadgerDB-backed Engine. It survives process restarts
// when DataDir is set, and uses db.GetSequence to hand out synctags that
// stay monotonic across restarts.
type BadgerEngine struct {
	db       *badger.DB
	seq      *badger.Sequence
	metaCach *ristretto.Cache[string, Metadata]
	mu       sync.Mutex
	closed   bool
}

// NewBadgerEngine opens (or creates) a BadgerEngine rooted at opts.DataDir.
func NewBadgerEngine(opts BadgerOptions) (*BadgerEngine, error) {
	bopts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		bopts = bopts.WithInMemory(true)
	}
	bopts = bopts.WithSyncWrites(opts.SyncWrites).WithLogger(nil)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("storage: open badger: %w", err)
	}

	seq, err := db.GetSequence(syncTagSequenceKey, 100)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: acquire synctag sequence: %w", err)
	}

	cacheSize := opts.MetadataCacheSize
	if cacheSize <= 0 {
		cacheSize = 100_000
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, Metadata]{
		NumCounters: cacheSize * 10,
		MaxCost:     cacheSize,
		BufferItems: 64,
	})
	if err != nil {
		seq.Release()
		db.Close()
		return nil, fmt.Errorf("storage: create metadata cache: %w", err)
	}

	return &BadgerEngine{db: db, seq: seq, metaCach: cache}, nil
}

func documentKey(id DocID) []byte {
	key := make([]byte, 0, len(id)+1)
	key = append(key, prefixDocument)
	key = append(key, id...)
	return key
}

func conflictKey(id DocID, synctag uint64) []byte {
	key := make([]byte, 0, len(id)+17)
	key = append(key, prefixConflict)
	key = append(key, id...)
	key = append(key, ':')
	key = fmt.Appendf(key, "%016x", synctag)
	return key
}

// cacheKey collapses a DocID to a fixed-width string key so the ristretto
// cost accounting isn't skewed by arbitrarily long document ids.
func cacheKey(id DocID) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(string(id)))
}

func (e *BadgerEngine) Begin(ctx context.Context) (Tx, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrEngineClosed
	}
	return &badgerTx{engine: e, txn: e.db.NewTransaction(true)}, nil
}

func (e *BadgerEngine) Commit(ctx context.Context, tx Tx) error {
	btx, ok := tx.(*badgerTx)
	if !ok || btx.engine != e {
		return ErrNoTransaction
	}
	if btx.done {
		return ErrNoTransaction
	}
	btx.done = true
	if err := btx.txn.Commit(); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	for _, id := range btx.invalidate {
		e.metaCach.Del(cacheKey(id))
	}
	return nil
}

func (e *BadgerEngine) NextSyncTag(ctx context.Context) (uint64, error) {
	n, err := e.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("storage: next synctag: %w", err)
	}
	return n, nil
}

func (e *BadgerEngine) LoadDocumentMetadata(ctx context.Context, id DocID) (Metadata, error) {
	if meta, ok := e.metaCach.Get(cacheKey(id)); ok {
		return meta.Clone(), nil
	}

	var doc StoredDocument
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(documentKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		})
	})
	if err == badger.ErrKeyNotFound {
		return Metadata{}, ErrNotFound
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("storage: load metadata: %w", err)
	}

	e.metaCach.Set(cacheKey(id), doc.Metadata, 1)
	return doc.Metadata.Clone(), nil
}

func (e *BadgerEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.seq.Release()
	e.metaCach.Close()
	return e.db.Close()
}

// badgerTx adapts a badger.Txn to the Tx interface, tracking which
// document ids need their cached metadata invalidated after commit.
type badgerTx struct {
	engine     *BadgerEngine
	txn        *badger.Txn
	invalidate []DocID
	done       bool
}

func (tx *badgerTx) put(id DocID, doc StoredDocument) error {
	val, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("storage: marshal document: %w", err)
	}
	if err := tx.txn.Set(documentKey(id), val); err != nil {
		return fmt.Errorf("storage: write document: %w", err)
	}
	tx.invalidate = append(tx.invalidate, id)
	return nil
}

func (tx *badgerTx) StoreDocument(ctx context.Context, id DocID, document []byte, metadata Metadata) error {
	return tx.put(id, StoredDocument{ID: id, Document: document, Metadata: metadata})
}

func (tx *badgerTx) DeleteDocument(ctx context.Context, id DocID, metadata Metadata) error {
	return tx.put(id, StoredDocument{ID: id, Document: Deleted, Metadata: metadata, Deleted: true})
}

func (tx *badgerTx) StoreConflict(ctx context.Context, id DocID, document []byte, metadata Metadata) error {
	doc := StoredDocument{ID: id, Document: document, Metadata: metadata, Conflict: true}
	val, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("storage: marshal conflict: %w", err)
	}
	return tx.txn.Set(conflictKey(id, metadata.Synctag), val)
}

func (tx *badgerTx) Discard() {
	if tx.done {
		return
	}
	tx.done = true
	tx.txn.Discard()
}
