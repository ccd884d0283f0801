package ingest

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/corpusd/internal/blob"
	"github.com/fyrsmithlabs/corpusd/internal/document"
	"github.com/fyrsmithlabs/corpusd/internal/metadata"
	"github.com/fyrsmithlabs/corpusd/internal/queue"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

type ingestFixture struct {
	svc     Service
	meta    *metadata.Store
	blobs   *blob.FSStore
	vectors vectorstore.Store
	queue   *queue.MemoryQueue
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()
	dir := t.TempDir()

	meta, err := metadata.NewStore(filepath.Join(dir, "meta.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	blobs, err := blob.NewFSStore(filepath.Join(dir, "blobs"), nil)
	require.NoError(t, err)

	vectors, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{Path: filepath.Join(dir, "vectors")}, nil)
	require.NoError(t, err)

	q := queue.NewMemoryQueue(8)
	t.Cleanup(func() { q.Close() })

	svc, err := NewService(Config{MinSizeBytes: 64, MaxSizeBytes: 4096}, meta, blobs, vectors, q, nil)
	require.NoError(t, err)

	return &ingestFixture{svc: svc, meta: meta, blobs: blobs, vectors: vectors, queue: q}
}

func textUpload(owner, filename string, size int) UploadInput {
	body := strings.Repeat("corpus text payload ", 1+size/20)[:size]
	return UploadInput{
		OwnerID:   owner,
		Filename:  filename,
		SizeBytes: int64(size),
		Content:   strings.NewReader(body),
	}
}

func TestUploadAcceptsAndEnqueues(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	doc, err := f.svc.Upload(ctx, textUpload("acme", "notes.txt", 256))
	require.NoError(t, err)
	require.NotEmpty(t, doc.ID)
	assert.Equal(t, document.StatusPending, doc.Status)
	assert.Equal(t, document.FormatText, doc.Format)

	stored, err := f.meta.GetDocument(ctx, "acme", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, document.StatusPending, stored.Status)
	assert.Equal(t, int64(256), stored.SizeBytes)

	rc, err := f.blobs.Open(ctx, stored.ContentPointer)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.Len(t, data, 256)

	depth, err := f.meta.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	select {
	case id := <-f.queue.Notify():
		assert.Equal(t, doc.ID, id)
	default:
		t.Fatal("expected wake-up notification")
	}
}

func TestUploadRejectsBeforePersisting(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   UploadInput
	}{
		{"too small", textUpload("acme", "tiny.txt", 10)},
		{"too large", textUpload("acme", "huge.txt", 9000)},
		{"no extension", textUpload("acme", "noext", 256)},
		{"unsupported format", textUpload("acme", "image.png", 256)},
		{"missing filename", textUpload("acme", "", 256)},
		{"invalid owner", textUpload("bad owner!", "notes.txt", 256)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Upload(ctx, tc.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, document.ErrValidation)
		})
	}

	docs, err := f.meta.ListDocuments(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, docs)

	depth, err := f.meta.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestGetAndListAreOwnerScoped(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	doc, err := f.svc.Upload(ctx, textUpload("acme", "notes.txt", 256))
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, "rival", doc.ID)
	assert.ErrorIs(t, err, document.ErrNotFound)

	docs, err := f.svc.List(ctx, "rival")
	require.NoError(t, err)
	assert.Empty(t, docs)

	docs, err = f.svc.List(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, doc.ID, docs[0].ID)
}

func TestDeleteCascades(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	doc, err := f.svc.Upload(ctx, textUpload("acme", "notes.txt", 256))
	require.NoError(t, err)

	// Simulate a completed processing run so the delete has chunks and
	// vectors to clean up.
	chunkID := document.ChunkID(doc.ID, 0)
	_, err = f.meta.ReplaceChunks(ctx, doc.ID, []document.Chunk{{
		ID:            chunkID,
		DocumentID:    doc.ID,
		OwnerID:       "acme",
		SequenceIndex: 0,
		Text:          "corpus text payload",
		TokenCount:    3,
		ModelVersion:  "fake-1",
	}})
	require.NoError(t, err)

	ownerCtx := vectorstore.ContextWithOwner(ctx, &vectorstore.Owner{ID: "acme"})
	err = f.vectors.Upsert(ownerCtx, []vectorstore.Point{{
		ID:     chunkID,
		Vector: []float32{1, 0, 0},
		Payload: map[string]interface{}{
			vectorstore.PayloadDocumentID: doc.ID,
			vectorstore.PayloadText:       "corpus text payload",
		},
	}})
	require.NoError(t, err)

	pointer := doc.ContentPointer
	require.NoError(t, f.svc.Delete(ctx, "acme", doc.ID))

	_, err = f.svc.Get(ctx, "acme", doc.ID)
	assert.ErrorIs(t, err, document.ErrNotFound)

	count, err := f.vectors.Count(ownerCtx)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = f.blobs.Open(ctx, pointer)
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func TestDeleteUnknownDocument(t *testing.T) {
	f := newIngestFixture(t)

	err := f.svc.Delete(context.Background(), "acme", "missing")
	assert.ErrorIs(t, err, document.ErrNotFound)
}

func TestStats(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, textUpload("acme", "a.txt", 256))
	require.NoError(t, err)
	_, err = f.svc.Upload(ctx, textUpload("acme", "b.md", 512))
	require.NoError(t, err)

	stats, err := f.svc.Stats(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, 2, stats.ByStatus[string(document.StatusPending)])
	assert.Equal(t, int64(768), stats.TotalSizeBytes)
}
