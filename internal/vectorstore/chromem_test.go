package vectorstore

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testVector returns a deterministic unit vector derived from the seed.
func testVector(seed string, dim int) []float32 {
	vec := make([]float32, dim)
	var h uint32 = 2166136261
	for _, b := range []byte(seed) {
		h = (h ^ uint32(b)) * 16777619
	}
	var norm float64
	for i := range vec {
		h = h*1664525 + 1013904223
		vec[i] = float32(h%1000)/1000.0 - 0.5
		norm += float64(vec[i]) * float64(vec[i])
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

func newTestChromemStore(t *testing.T) *ChromemStore {
	t.Helper()
	store, err := NewChromemStore(ChromemConfig{Path: t.TempDir()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func ownerCtx(id string) context.Context {
	return ContextWithOwner(context.Background(), &Owner{ID: id})
}

func TestChromemStoreUpsertQuery(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := ownerCtx("alice")

	points := []Point{
		{
			ID:     "doc1_chunk_0",
			Vector: testVector("chunk zero", 16),
			Payload: map[string]interface{}{
				PayloadDocumentID:    "doc1",
				PayloadFilename:      "notes.txt",
				PayloadSequenceIndex: 0,
				PayloadText:          "first chunk",
				PayloadModelVersion:  "test-embed-1",
			},
		},
		{
			ID:     "doc1_chunk_1",
			Vector: testVector("chunk one", 16),
			Payload: map[string]interface{}{
				PayloadDocumentID:    "doc1",
				PayloadFilename:      "notes.txt",
				PayloadSequenceIndex: 1,
				PayloadText:          "second chunk",
				PayloadModelVersion:  "test-embed-1",
			},
		},
	}
	require.NoError(t, store.Upsert(ctx, points))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	matches, err := store.Query(ctx, testVector("chunk zero", 16), 5)
	require.NoError(t, err)
	require.NotEmpty(t, matches)

	top := matches[0]
	assert.Equal(t, "doc1_chunk_0", top.ID)
	assert.Equal(t, "doc1", top.DocumentID())
	assert.Equal(t, "notes.txt", top.Filename())
	assert.Equal(t, 0, top.SequenceIndex())
	assert.Equal(t, "first chunk", top.Text())
	assert.Equal(t, "test-embed-1", top.ModelVersion())
	assert.InDelta(t, 1.0, float64(top.Score), 0.01)
}

func TestChromemStoreQueryEmptyPartition(t *testing.T) {
	store := newTestChromemStore(t)

	matches, err := store.Query(ownerCtx("alice"), testVector("anything", 16), 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestChromemStoreOwnerIsolation(t *testing.T) {
	store := newTestChromemStore(t)

	// Identical content for two owners; each must only see its own copy.
	shared := testVector("shared content", 16)
	for _, owner := range []string{"alice", "bob"} {
		err := store.Upsert(ownerCtx(owner), []Point{{
			ID:     "doc-" + owner + "_chunk_0",
			Vector: shared,
			Payload: map[string]interface{}{
				PayloadDocumentID: "doc-" + owner,
				PayloadText:       "the quarterly report",
			},
		}})
		require.NoError(t, err)
	}

	for _, owner := range []string{"alice", "bob"} {
		matches, err := store.Query(ownerCtx(owner), shared, 5)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "doc-"+owner, matches[0].DocumentID())
		got, _ := matches[0].Payload[PayloadOwnerID].(string)
		assert.Equal(t, owner, got)
	}
}

func TestChromemStoreStampOverridesCallerOwner(t *testing.T) {
	store := newTestChromemStore(t)

	// A forged owner stamp in the payload must not survive the write path.
	err := store.Upsert(ownerCtx("alice"), []Point{{
		ID:     "doc1_chunk_0",
		Vector: testVector("forged", 16),
		Payload: map[string]interface{}{
			PayloadOwnerID: "mallory",
		},
	}})
	require.NoError(t, err)

	matches, err := store.Query(ownerCtx("alice"), testVector("forged", 16), 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	got, _ := matches[0].Payload[PayloadOwnerID].(string)
	assert.Equal(t, "alice", got)
}

func TestChromemStoreMissingOwnerFailsClosed(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()

	err := store.Upsert(ctx, []Point{{ID: "p", Vector: testVector("x", 4)}})
	assert.ErrorIs(t, err, ErrMissingOwner)

	_, err = store.Query(ctx, testVector("x", 4), 1)
	assert.ErrorIs(t, err, ErrMissingOwner)

	_, err = store.Count(ctx)
	assert.ErrorIs(t, err, ErrMissingOwner)
}

func TestChromemStoreDelete(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := ownerCtx("alice")

	require.NoError(t, store.Upsert(ctx, []Point{
		{ID: "doc1_chunk_0", Vector: testVector("a", 8)},
		{ID: "doc1_chunk_1", Vector: testVector("b", 8)},
	}))

	require.NoError(t, store.Delete(ctx, []string{"doc1_chunk_0"}))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Deleting from a partition that was never written is a no-op.
	assert.NoError(t, store.Delete(ownerCtx("bob"), []string{"ghost"}))
}

func TestChromemStoreDropPartition(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := ownerCtx("alice")

	require.NoError(t, store.Upsert(ctx, []Point{
		{ID: "doc1_chunk_0", Vector: testVector("a", 8)},
	}))
	require.NoError(t, store.DropPartition(ctx))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
