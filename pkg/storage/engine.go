package storage

import "context"

// Tx is a live storage-engine transaction. The in-flight manager folds its
// staged operations into a Tx one at a time during complete() (spec.md
// §4.4), then calls Engine.Commit once all folds have succeeded.
//
// A Tx is single-threaded: callers must not invoke its methods from more
// than one goroutine concurrently, matching spec.md §5's "shared-resource
// policy" — a storage transaction is owned by whichever goroutine is
// currently inside complete() for that TxId.
type Tx interface {
	// StoreDocument persists document under id with metadata, overwriting
	// any existing value. Used for status=write doc-add operations;
	// status=conflict doc-adds go through StoreConflict instead.
	StoreDocument(ctx context.Context, id DocID, document []byte, metadata Metadata) error

	// DeleteDocument removes the document at id, recording metadata
	// (typically just the advanced history) as a tombstone.
	DeleteDocument(ctx context.Context, id DocID, metadata Metadata) error

	// StoreConflict records document (or Deleted, for a conflicting
	// delete) as a conflict revision alongside metadata, without
	// replacing the document's main revision.
	StoreConflict(ctx context.Context, id DocID, document []byte, metadata Metadata) error

	// Discard abandons the transaction without committing. Used by the
	// in-flight manager's Abort path.
	Discard()
}

// Engine is the durable storage collaborator. Non-goals: durability
// guarantees beyond what the concrete implementation provides, crash
// recovery, and cross-node coordination — all out of scope per spec.md §1.
type Engine interface {
	// Begin starts a new storage transaction. Fails with a wrapped
	// ErrEngineClosed (or an implementation-specific error) if the engine
	// cannot begin one.
	Begin(ctx context.Context) (Tx, error)

	// Commit durably commits tx. Once Commit returns successfully, all
	// operations folded into tx via its Tx methods are visible to future
	// reads.
	Commit(ctx context.Context, tx Tx) error

	// NextSyncTag allocates a fresh, globally monotonic synctag — spec.md
	// §6's "next-synctag".
	NextSyncTag(ctx context.Context) (uint64, error)

	// LoadDocumentMetadata returns the persisted metadata for id, or
	// ErrNotFound if the document has never been written.
	LoadDocumentMetadata(ctx context.Context, id DocID) (Metadata, error)

	// Close releases resources held by the engine; calling it again is a
	// no-op. After Close, Begin returns ErrEngineClosed; MemoryEngine also
	// returns it from Commit, NextSyncTag and LoadDocumentMetadata, while
	// BadgerEngine does not check for it in those methods.
	Close() error
}
