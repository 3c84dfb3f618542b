// Package storage provides the durable collaborator the in-flight
// transaction manager stages writes against: a document codec and a
// key/value storage engine with begin/commit transaction semantics.
//
// The manager (package inflight) never reaches past this package's
// interfaces into a concrete engine — Engine and Tx are the entire
// external-interface contract spec.md §6 calls out as "out of
// scope, interfaces only". Two implementations are provided: MemoryEngine
// for tests and embedded use without a data directory, and BadgerEngine
// for anything that needs to survive a process restart.
package storage

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/orneryd/inflightdb/pkg/vclock"
)

// Common storage errors.
var (
	ErrNotFound      = errors.New("storage: document not found")
	ErrEngineClosed  = errors.New("storage: engine closed")
	ErrNoTransaction = errors.New("storage: transaction is not active")
)

// DocID identifies a document. Opaque to the storage layer beyond being a
// byte-comparable key.
type DocID string

// Deleted is the sentinel payload stored by StoreConflict when the
// conflicting operation was a delete — spec.md §4.4's "deleted-sentinel".
var Deleted = json.RawMessage(`{"$deleted":true}`)

// Metadata is the mapping recorded alongside a document: the recognized
// entries (History, Synctag) plus arbitrary caller-supplied fields passed
// through untouched.
//
// History and Synctag are pulled out as typed fields because the in-flight
// manager's write-request pipeline reads and rewrites them on every staged
// operation (spec.md §4.3); everything else in Extra is opaque payload the
// manager never inspects.
type Metadata struct {
	History vclock.VClock
	Synctag uint64
	Extra   map[string]any
}

// Clone returns a copy of m suitable for staging into a new operation
// record without aliasing the caller's map. VClock values are themselves
// immutable, so History needs no deep copy.
func (m Metadata) Clone() Metadata {
	clone := Metadata{History: m.History, Synctag: m.Synctag}
	if m.Extra != nil {
		clone.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			clone.Extra[k] = v
		}
	}
	return clone
}

// MarshalJSON flattens Extra alongside the recognized fields.
func (m Metadata) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(m.Extra)+2)
	for k, v := range m.Extra {
		flat[k] = v
	}
	if !m.History.IsEmpty() {
		flat["history"] = m.History.Map()
	}
	flat["synctag"] = m.Synctag
	return json.Marshal(flat)
}

// UnmarshalJSON is the inverse of MarshalJSON: known keys populate typed
// fields, everything else lands in Extra.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	if raw, ok := flat["history"]; ok {
		var hist map[string]uint64
		if err := json.Unmarshal(raw, &hist); err != nil {
			return err
		}
		m.History = vclock.FromMap(hist)
		delete(flat, "history")
	}
	if raw, ok := flat["synctag"]; ok {
		if err := json.Unmarshal(raw, &m.Synctag); err != nil {
			return err
		}
		delete(flat, "synctag")
	}
	if len(flat) > 0 {
		m.Extra = make(map[string]any, len(flat))
		for k, raw := range flat {
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			m.Extra[k] = v
		}
	}
	return nil
}

// StoredDocument is a persisted document record, as returned by read
// paths and accepted by the write codec.
type StoredDocument struct {
	ID         DocID
	Document   json.RawMessage
	Metadata   Metadata
	Conflict   bool
	Deleted    bool
	ModifiedAt time.Time
}
