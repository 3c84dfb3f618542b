package inflight

import (
	"context"
	"errors"
	"fmt"

	"github.com/orneryd/inflightdb/pkg/storage"
	"github.com/orneryd/inflightdb/pkg/vclock"
)

// AddDocument stages a document write against txid.
func (h *Handle) AddDocument(ctx context.Context, txid TxId, id storage.DocID, document []byte, metadata storage.Metadata) error {
	return h.stage(ctx, txid, DocAdd, id, document, metadata)
}

// DeleteDocument stages a document delete against txid.
func (h *Handle) DeleteDocument(ctx context.Context, txid TxId, id storage.DocID, metadata storage.Metadata) error {
	return h.stage(ctx, txid, DocDelete, id, nil, metadata)
}

// stage is the write-request pipeline shared by AddDocument and
// DeleteDocument: install an operation record, then run ensure-history,
// classify, metadata-advance, and ref-accounting as a single atomic
// update of the in-flight state (spec §4.3 a-d).
//
// NextSyncTag and the LoadDocumentMetadata read are I/O and run before
// the lock is taken; the lock only ever guards pure map/vclock
// transformations.
func (h *Handle) stage(ctx context.Context, txid TxId, kind OperationKind, id storage.DocID, document []byte, metadata storage.Metadata) error {
	synctag, err := h.engine.NextSyncTag(ctx)
	if err != nil {
		return &StorageError{Op: "next-synctag", Err: err}
	}

	var persisted storage.Metadata
	havePersisted := false
	m, err := h.engine.LoadDocumentMetadata(ctx, id)
	switch {
	case err == nil:
		persisted, havePersisted = m, true
	case errors.Is(err, storage.ErrNotFound):
		// no prior revision; ensure-history falls through to empty and
		// classification has no persisted history to compare against
	default:
		return &StorageError{Op: "load-document-metadata", Err: err}
	}

	h.mu.Lock()
	txn, ok := h.state.transactions[txid]
	if !ok {
		h.mu.Unlock()
		return ErrUnknownTransaction
	}

	rec := OperationRecord{Request: kind, ID: id, Document: document, Metadata: metadata.Clone()}
	prior, existedInTxn := txn.ops[id]

	// (a) ensure history
	supplied := rec.Metadata.History
	if supplied.IsEmpty() {
		switch {
		case existedInTxn && !prior.Metadata.History.IsEmpty():
			supplied = prior.Metadata.History
		case havePersisted && !persisted.History.IsEmpty():
			supplied = persisted.History
		default:
			supplied = vclock.New()
		}
	}

	// (b) classify against existing
	doc, docExists := h.state.documents[id]
	var current vclock.VClock
	haveCurrent := false
	switch {
	case docExists && doc.hasHistory:
		current, haveCurrent = doc.currentHistory, true
	case havePersisted && !persisted.History.IsEmpty():
		current, haveCurrent = persisted.History, true
	}
	status := classify(txn.source, supplied, current, haveCurrent)

	// (c) update written metadata
	if txn.source == Client {
		supplied = vclock.Next(fmt.Sprintf("%s:%d", h.serverID, txid), supplied)
	}
	rec.Metadata.History = supplied
	rec.Metadata.Synctag = synctag
	rec.Status = status

	if !existedInTxn {
		txn.order = append(txn.order, id)
	}
	txn.ops[id] = rec

	// (d) update log
	if !docExists {
		doc = &documentStaging{refs: make(map[TxId]int)}
		h.state.documents[id] = doc
	}
	if !existedInTxn && status == Write {
		doc.currentHistory, doc.hasHistory = rec.Metadata.History, true
	}
	doc.refs[txid]++
	h.mu.Unlock()

	h.log.V(1).Info("operation staged", "txid", txid, "docid", string(id), "status", status.String())
	h.metrics.RecordOpStaged(ctx, status.String())
	return nil
}

// classify implements the status table of spec §4.3(b). haveCurrent
// false means the document has no last-known history anywhere (neither
// in-flight nor persisted) — always a write.
func classify(source Source, supplied, current vclock.VClock, haveCurrent bool) Status {
	if !haveCurrent {
		return Write
	}
	switch source {
	case Client:
		if vclock.Same(supplied, current) || vclock.Descends(supplied, current) {
			return Write
		}
		return Conflict
	case Replication:
		switch {
		case vclock.Same(supplied, current):
			return Skip
		case vclock.Descends(supplied, current):
			return Write
		case vclock.Descends(current, supplied):
			return Skip
		default:
			return Conflict
		}
	default:
		return Conflict
	}
}
