package inflight

import (
	"context"
	"time"

	"github.com/orneryd/inflightdb/pkg/storage"
)

// Complete is the terminal operation on a transaction: it folds every
// staged operation into the underlying storage transaction, commits it,
// runs clean-up, and emits the events spec §4.4 describes.
//
// doc-added/doc-deleted events are posted during the fold, before Commit
// is confirmed — subscribers must treat them as Proposed until they
// observe the matching Committed event for this TxId. If Commit fails,
// the staged state is left intact (the already-posted events are not
// rescinded) so the caller can inspect or retry.
func (h *Handle) Complete(ctx context.Context, txid TxId) error {
	start := time.Now()

	h.mu.Lock()
	txn, ok := h.state.transactions[txid]
	h.mu.Unlock()
	if !ok {
		return ErrUnknownTransaction
	}

	// fold in fixed commit order: first-stage-wins insertion order,
	// documented per the open question on unspecified iteration order.
	for _, id := range txn.order {
		op := txn.ops[id]
		if err := h.fold(ctx, txid, txn, id, op); err != nil {
			return &StorageError{Op: "fold", Err: err}
		}
	}

	if err := h.engine.Commit(ctx, txn.tx); err != nil {
		return &CommitFailed{TxId: txid, Err: err}
	}

	h.mu.Lock()
	cleanUpLocked(&h.state, txid, txn)
	h.mu.Unlock()

	h.bcast.put(Event{Kind: Committed, TxId: txid})
	h.log.V(1).Info("transaction completed", "txid", txid)
	h.metrics.RecordTxCompleted(ctx, txn.source.String())
	h.metrics.ObserveCommitDuration(ctx, time.Since(start).Seconds())
	return nil
}

// fold applies a single operation's classification to the storage
// transaction per the table in spec §4.4, emitting the corresponding
// proposed event for anything that touches storage.
func (h *Handle) fold(ctx context.Context, txid TxId, txn *transaction, id storage.DocID, op OperationRecord) error {
	switch {
	case op.Status == Skip:
		return nil

	case op.Status == Write && op.Request == DocAdd:
		if err := txn.tx.StoreDocument(ctx, id, op.Document, op.Metadata); err != nil {
			return err
		}
		h.bcast.put(Event{Kind: DocAdded, TxId: txid, DocId: id, Proposed: true})

	case op.Status == Write && op.Request == DocDelete:
		if err := txn.tx.DeleteDocument(ctx, id, op.Metadata); err != nil {
			return err
		}
		h.bcast.put(Event{Kind: DocDeleted, TxId: txid, DocId: id, Proposed: true})

	case op.Status == Conflict && op.Request == DocAdd:
		if err := txn.tx.StoreConflict(ctx, id, op.Document, op.Metadata); err != nil {
			return err
		}
		h.bcast.put(Event{Kind: DocAdded, TxId: txid, DocId: id, Proposed: true})

	case op.Status == Conflict && op.Request == DocDelete:
		if err := txn.tx.StoreConflict(ctx, id, storage.Deleted, op.Metadata); err != nil {
			return err
		}
		h.bcast.put(Event{Kind: DocDeleted, TxId: txid, DocId: id, Proposed: true})
	}
	return nil
}

// cleanUpLocked removes txid's references from every document it staged
// against, dropping a document's staging record entirely once no open
// transaction references it any longer, then removes the transaction
// record itself. Must be called with h.mu held.
//
// refs is a counted set keyed by TxId: double-staging the same document
// within one transaction increments the count, but clean-up always drops
// the whole entry for txid at once rather than decrementing. Entries of
// other transactions that reference the same id are left untouched, so
// the document stays registered until the last of them is cleaned up.
func cleanUpLocked(state *inFlightState, txid TxId, txn *transaction) {
	for _, id := range txn.order {
		if doc, ok := state.documents[id]; ok {
			delete(doc.refs, txid)
			if len(doc.refs) == 0 {
				delete(state.documents, id)
			}
		}
	}
	delete(state.transactions, txid)
}
