package inflight

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/orneryd/inflightdb/pkg/auth"
	"github.com/orneryd/inflightdb/pkg/metrics"
	"github.com/orneryd/inflightdb/pkg/storage"
)

// Handle is the in-flight transaction manager. It owns no background
// goroutines; every call is driven synchronously by its caller, except
// for event delivery, which is fire-and-forget from the producer side.
//
// The in-flight state (transactions + per-document staging) is guarded by
// a single mutex rather than a CAS loop over a persistent map: the
// write-request pipeline's state update and the commit clean-up are pure
// map/vclock transformations applied while holding mu, which gives the
// same "observers never see a partial update" guarantee with a much
// shorter, more ordinary critical section. No I/O happens inside that
// section — NextSyncTag, LoadDocumentMetadata, engine Begin/Commit and
// the commit fold's Tx writes all run outside the lock.
type Handle struct {
	serverID string
	engine   storage.Engine

	mu    sync.Mutex
	state inFlightState

	txCount atomic.Uint64

	bcast   *broadcaster
	log     logr.Logger
	metrics *metrics.Metrics

	// peerSecretHash gates Open(ctx, Replication, ...): when set, Open
	// requires a presented secret verified against this bcrypt hash via
	// auth.VerifyPeer before installing the transaction record. Empty by
	// default, matching spec §4.10's "client-sourced opens are
	// unauthenticated at this layer" — a Handle with no hash configured
	// leaves replication opens unauthenticated too, for embedded and test
	// use where the caller is trusted by construction.
	peerSecretHash string
}

// Option configures a Handle at construction time.
type Option func(*Handle)

// WithLogger installs a structured logger. Defaults to logr.Discard().
func WithLogger(log logr.Logger) Option {
	return func(h *Handle) { h.log = log }
}

// WithMetrics installs a metrics bundle. Defaults to a no-op bundle built
// from metrics.New(nil).
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handle) { h.metrics = m }
}

// WithPeerSecretHash enrolls a bcrypt secret hash (produced by
// auth.HashSecret) that Open must verify a presented secret against
// before opening a Replication-sourced transaction. Unset by default.
func WithPeerSecretHash(hash string) Option {
	return func(h *Handle) { h.peerSecretHash = hash }
}

// Create returns a fresh Handle with empty state. The event stream is
// immediately live and may be subscribed to before any transaction opens.
func Create(engine storage.Engine, serverID string, opts ...Option) *Handle {
	h := &Handle{
		serverID: serverID,
		engine:   engine,
		state:    newInFlightState(),
		bcast:    newBroadcaster(),
		log:      logr.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics, _ = metrics.New(nil)
	}
	if h.metrics != nil {
		h.metrics.SetDocumentsRegisteredFunc(h.registeredDocumentCount)
	}
	return h
}

func (h *Handle) registeredDocumentCount() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return int64(len(h.state.documents))
}

// Open allocates a fresh TxId, begins a storage transaction, and installs
// an empty transaction record under that id. Fails with a StorageError if
// the engine refuses to begin; no partial state is left behind.
//
// peerSecret is required and verified against the Handle's enrolled
// peerSecretHash (see WithPeerSecretHash) whenever source is Replication
// and a hash is configured; it is ignored for Client opens, which are
// unauthenticated at this layer per §4.10. Passing no peerSecret when a
// hash is configured fails the same as presenting a wrong one.
func (h *Handle) Open(ctx context.Context, source Source, peerSecret ...string) (TxId, error) {
	if source == Replication && h.peerSecretHash != "" {
		var presented string
		if len(peerSecret) > 0 {
			presented = peerSecret[0]
		}
		if err := auth.VerifyPeer(h.peerSecretHash, presented); err != nil {
			return 0, err
		}
	}

	tx, err := h.engine.Begin(ctx)
	if err != nil {
		return 0, &StorageError{Op: "begin", Err: err}
	}

	id := TxId(h.txCount.Add(1))

	h.mu.Lock()
	h.state.transactions[id] = &transaction{
		tx:     tx,
		ops:    make(map[storage.DocID]OperationRecord),
		source: source,
	}
	h.mu.Unlock()

	h.log.V(1).Info("transaction opened", "txid", id, "source", source.String())
	h.metrics.RecordTxOpened(ctx, source.String())
	return id, nil
}

// IsRegistered reports whether id has any open transaction referencing
// it.
func (h *Handle) IsRegistered(id storage.DocID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.state.documents[id]
	return ok
}

// OperationStatus returns the classification status assigned to the
// staged op for id within txid, or Status(-1) when txid is not open or
// has no staged op for id. A convenience read for callers (e.g. the bench CLI) that want to
// observe a classification result without waiting for Complete.
func (h *Handle) OperationStatus(txid TxId, id storage.DocID) Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	txn, ok := h.state.transactions[txid]
	if !ok {
		return Status(-1)
	}
	op, ok := txn.ops[id]
	if !ok {
		return Status(-1)
	}
	return op.Status
}

// IsTxID reports whether txid is currently open (not yet completed).
func (h *Handle) IsTxID(txid TxId) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.state.transactions[txid]
	return ok
}

// Subscribe attaches a new subscriber to the handle's event stream. The
// subscriber receives every event emitted from this moment forward.
func (h *Handle) Subscribe() EventSink {
	return h.bcast.subscribe()
}

// Abort discards txid's underlying storage transaction and runs the same
// clean-up complete does, without folding any staged operation or
// emitting any event. This is the explicit abort path §9 of the original
// design calls a latent leak hazard without one.
func (h *Handle) Abort(txid TxId) error {
	h.mu.Lock()
	txn, ok := h.state.transactions[txid]
	if !ok {
		h.mu.Unlock()
		return ErrUnknownTransaction
	}
	cleanUpLocked(&h.state, txid, txn)
	h.mu.Unlock()

	txn.tx.Discard()
	h.log.V(1).Info("transaction aborted", "txid", txid)
	return nil
}
