// Package inflight implements the staging layer that sits between write
// callers (direct clients and inbound replication streams) and a durable
// storage.Engine. It multiplexes many concurrently open write transactions
// over the engine's own transaction primitive, classifies each staged
// write against the causal history other in-flight transactions have
// already proposed, and publishes an ordered event stream of what it did.
//
// Nothing here ever blocks a subscriber: the event broadcaster is
// non-blocking from the producer's side, and the storage engine is the
// only thing in this package that performs I/O.
package inflight

import (
	"errors"
	"fmt"

	"github.com/orneryd/inflightdb/pkg/storage"
	"github.com/orneryd/inflightdb/pkg/vclock"
)

// TxId identifies an open transaction. Strictly monotonic and never
// reissued for the lifetime of a Handle.
type TxId uint64

// Source distinguishes where a transaction originated, since the two are
// classified with different tolerance for disagreement: a client that
// hasn't caught up is a real conflict, a replication peer that's behind
// is just noise.
type Source int

const (
	// Client is a direct, user-initiated write.
	Client Source = iota
	// Replication is an inbound write from another node's replication
	// stream.
	Replication
)

func (s Source) String() string {
	switch s {
	case Client:
		return "client"
	case Replication:
		return "replication"
	default:
		return "unknown"
	}
}

// OperationKind is the kind of write staged against a document.
type OperationKind int

const (
	DocAdd OperationKind = iota
	DocDelete
)

func (k OperationKind) String() string {
	switch k {
	case DocAdd:
		return "doc-add"
	case DocDelete:
		return "doc-delete"
	default:
		return "unknown"
	}
}

// Status is the outcome of classifying a staged operation against the
// document's last-known causal history.
type Status int

const (
	// Write means the staged history causally succeeds (or starts) the
	// document's current history; it will be folded into storage as a
	// main-revision write.
	Write Status = iota
	// Skip means a replication op arrived behind or equal to current
	// history — dropped silently, no storage effect, no event.
	Skip
	// Conflict means the staged history is causally incomparable to
	// current history (client: anything but same-or-descends); folded
	// into storage as a conflict record, never rejected.
	Conflict
)

func (s Status) String() string {
	switch s {
	case Write:
		return "write"
	case Skip:
		return "skip"
	case Conflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Sentinel errors, returned as-is so callers can use errors.Is; none of
// them are swallowed anywhere in this package.
var (
	// ErrUnknownTransaction is returned when a TxId isn't currently open.
	ErrUnknownTransaction = errors.New("inflight: unknown transaction")
)

// StorageError wraps a fault surfaced by the storage engine during Begin,
// NextSyncTag, or a per-operation fold inside Complete.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("inflight: storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// CommitFailed wraps a failure from the engine's final Commit call.
// Staged state is left intact so the caller can inspect or retry.
type CommitFailed struct {
	TxId TxId
	Err  error
}

func (e *CommitFailed) Error() string {
	return fmt.Sprintf("inflight: commit failed for tx %d: %v", e.TxId, e.Err)
}

func (e *CommitFailed) Unwrap() error { return e.Err }

// OperationRecord is the staged state for a single (TxId, DocId) pair.
type OperationRecord struct {
	Request  OperationKind
	ID       storage.DocID
	Document []byte // nil for deletes
	Metadata storage.Metadata
	Status   Status
}

// transaction is the staged state for a single TxId. ops holds at most
// one record per DocId — a second stage on the same id overwrites,
// per spec scenario 6.
type transaction struct {
	tx     storage.Tx
	ops    map[storage.DocID]OperationRecord
	order  []storage.DocID // fixed commit-fold order: first-stage-wins insertion order
	source Source
}

// documentStaging is the cross-transaction view of a single document:
// the most recently staged causal history (authoritative over storage for
// conflict-check purposes while any transaction is in flight) and the set
// of transactions currently referencing it.
type documentStaging struct {
	currentHistory vclock.VClock
	hasHistory     bool
	refs           map[TxId]int // refcount, not a true multiset (see DESIGN.md)
}

// inFlightState is the pair of mappings mutated atomically together on
// every operation — see Handle's concurrency note in handle.go.
type inFlightState struct {
	transactions map[TxId]*transaction
	documents    map[storage.DocID]*documentStaging
}

func newInFlightState() inFlightState {
	return inFlightState{
		transactions: make(map[TxId]*transaction),
		documents:    make(map[storage.DocID]*documentStaging),
	}
}
