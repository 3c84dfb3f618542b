package storage

import (
	"context"
	"testing"

	"github.com/orneryd/inflightdb/pkg/vclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryEngineCommitMakesWritesVisible(t *testing.T) {
	ctx := context.Background()
	e := NewMemoryEngine()
	defer e.Close()

	tx, err := e.Begin(ctx)
	require.NoError(t, err)

	meta := Metadata{History: vclock.Next("node-a", vclock.New())}
	require.NoError(t, tx.StoreDocument(ctx, "doc-1", []byte(`{"a":1}`), meta))
	require.NoError(t, e.Commit(ctx, tx))

	got, err := e.LoadDocumentMetadata(ctx, "doc-1")
	require.NoError(t, err)
	assert.True(t, vclock.Same(meta.History, got.History))
}

func TestMemoryEngineDiscardNeverVisible(t *testing.T) {
	ctx := context.Background()
	e := NewMemoryEngine()
	defer e.Close()

	tx, err := e.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.StoreDocument(ctx, "doc-1", []byte(`{}`), Metadata{}))
	tx.Discard()

	_, err = e.LoadDocumentMetadata(ctx, "doc-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryEngineNextSyncTagMonotonic(t *testing.T) {
	ctx := context.Background()
	e := NewMemoryEngine()
	defer e.Close()

	a, err := e.NextSyncTag(ctx)
	require.NoError(t, err)
	b, err := e.NextSyncTag(ctx)
	require.NoError(t, err)
	assert.Less(t, a, b)
}

func TestMemoryEngineClosedRejectsOperations(t *testing.T) {
	ctx := context.Background()
	e := NewMemoryEngine()
	require.NoError(t, e.Close())

	_, err := e.Begin(ctx)
	assert.ErrorIs(t, err, ErrEngineClosed)

	_, err = e.NextSyncTag(ctx)
	assert.ErrorIs(t, err, ErrEngineClosed)
}

func TestMemoryEngineDeleteAndConflictRecordFlags(t *testing.T) {
	ctx := context.Background()
	e := NewMemoryEngine()
	defer e.Close()

	tx, err := e.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.DeleteDocument(ctx, "doc-1", Metadata{}))
	require.NoError(t, tx.StoreConflict(ctx, "doc-2", []byte(`{"b":2}`), Metadata{Synctag: 7}))
	require.NoError(t, e.Commit(ctx, tx))

	mtx := tx.(*memoryTx)
	assert.True(t, mtx.writes["doc-1"].Deleted)
	assert.True(t, mtx.conflicts[conflictMapKey("doc-2", 7)].Conflict)
}

func TestMemoryEngineStoreConflictLeavesMainRevisionIntact(t *testing.T) {
	ctx := context.Background()
	e := NewMemoryEngine()
	defer e.Close()

	tx, err := e.Begin(ctx)
	require.NoError(t, err)
	main := Metadata{Synctag: 1}
	require.NoError(t, tx.StoreDocument(ctx, "doc-1", []byte(`{"v":1}`), main))
	require.NoError(t, tx.StoreConflict(ctx, "doc-1", []byte(`{"v":2}`), Metadata{Synctag: 2}))
	require.NoError(t, e.Commit(ctx, tx))

	got, err := e.LoadDocumentMetadata(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Synctag)
}
