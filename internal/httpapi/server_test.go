package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/corpusd/internal/blob"
	"github.com/fyrsmithlabs/corpusd/internal/chunker"
	"github.com/fyrsmithlabs/corpusd/internal/document"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/extraction"
	"github.com/fyrsmithlabs/corpusd/internal/ingest"
	"github.com/fyrsmithlabs/corpusd/internal/metadata"
	"github.com/fyrsmithlabs/corpusd/internal/processor"
	"github.com/fyrsmithlabs/corpusd/internal/query"
	"github.com/fyrsmithlabs/corpusd/internal/queue"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

type apiSynth struct{}

func (apiSynth) Synthesize(_ context.Context, question, contextText string) (string, error) {
	return fmt.Sprintf("answered %q from %d chars of context", question, len(contextText)), nil
}

type apiFixture struct {
	server   *Server
	proc     *processor.Processor
	embedder *embeddings.FakeProvider
}

func newAPIFixture(t *testing.T) *apiFixture {
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

	embedder := embeddings.NewFakeProvider("fake-embed-1", 16)

	splitter, err := chunker.New(chunker.Config{MaxTokens: 50, Overlap: 10})
	require.NoError(t, err)

	ingestor, err := ingest.NewService(ingest.Config{}, meta, blobs, vectors, q, nil)
	require.NoError(t, err)

	querier, err := query.NewService(query.Config{}, meta, embedder, vectors, apiSynth{}, nil)
	require.NoError(t, err)

	procCfg := processor.Config{
		Workers:     1,
		BackoffBase: time.Millisecond,
		BackoffMax:  2 * time.Millisecond,
	}
	proc, err := processor.New(procCfg, meta, blobs, extraction.NewDefaultRegistry(), splitter, embedder, vectors, q, nil)
	require.NoError(t, err)

	server, err := NewServer(Config{}, ingestor, querier, nil)
	require.NoError(t, err)

	return &apiFixture{server: server, proc: proc, embedder: embedder}
}

func (f *apiFixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

// upload posts a multipart file for the given owner.
func (f *apiFixture) upload(t *testing.T, owner, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &body)
	req.Header.Set(echoContentType, w.FormDataContentType())
	req.Header.Set("X-Owner-ID", owner)
	return f.do(t, req)
}

const echoContentType = "Content-Type"

func (f *apiFixture) ask(t *testing.T, owner, question string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(AskRequest{Question: question})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ask", bytes.NewReader(body))
	req.Header.Set(echoContentType, "application/json")
	req.Header.Set("X-Owner-ID", owner)
	return f.do(t, req)
}

// processAll drains every ready job synchronously.
func (f *apiFixture) processAll(t *testing.T) {
	t.Helper()
	for {
		err := f.proc.ProcessOne(context.Background(), "test-worker")
		if err == metadata.ErrNoJob {
			return
		}
		require.NoError(t, err)
	}
}

// corpusText builds readable content of roughly n bytes.
func corpusText(n int) string {
	sentence := "The retrieval service indexes every uploaded report for later questioning. "
	var b strings.Builder
	for b.Len() < n {
		b.WriteString(sentence)
	}
	return b.String()[:n]
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := f.do(t, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMissingIdentityHeader(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
	rec := f.do(t, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUploadProcessAsk(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.upload(t, "acme", "report.txt", corpusText(12*1024))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var doc document.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.NotEmpty(t, doc.ID)
	assert.Equal(t, document.StatusPending, doc.Status)

	f.processAll(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+doc.ID, nil)
	req.Header.Set("X-Owner-ID", "acme")
	rec = f.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got document.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, document.StatusCompleted, got.Status)
	assert.Greater(t, got.ChunkCount, 0)

	rec = f.ask(t, "acme", "what does the retrieval service do")
	require.Equal(t, http.StatusOK, rec.Code)

	var res query.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.NoContent)
	assert.Contains(t, res.Answer, "answered")
	require.NotEmpty(t, res.Sources)
	assert.Equal(t, doc.ID, res.Sources[0].DocumentID)
	assert.Equal(t, "report.txt", res.Sources[0].Filename)
}

func TestUndersizedUploadRejected(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.upload(t, "acme", "small.txt", corpusText(9*1024))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
	req.Header.Set("X-Owner-ID", "acme")
	rec = f.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var list DocumentListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Empty(t, list.Documents)
}

func TestUnsupportedFormatRejected(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.upload(t, "acme", "image.png", corpusText(12*1024))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOwnersAreIsolated(t *testing.T) {
	f := newAPIFixture(t)
	content := corpusText(12 * 1024)

	rec := f.upload(t, "acme", "shared.txt", content)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var acmeDoc document.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acmeDoc))

	rec = f.upload(t, "rival", "shared.txt", content)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var rivalDoc document.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rivalDoc))

	f.processAll(t)

	for ownerID, wantDoc := range map[string]string{"acme": acmeDoc.ID, "rival": rivalDoc.ID} {
		rec = f.ask(t, ownerID, "what does the retrieval service do")
		require.Equal(t, http.StatusOK, rec.Code)

		var res query.Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		require.NotEmpty(t, res.Sources)
		for _, src := range res.Sources {
			assert.Equal(t, wantDoc, src.DocumentID)
		}
	}

	// One owner cannot read the other's document.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+acmeDoc.ID, nil)
	req.Header.Set("X-Owner-ID", "rival")
	rec = f.do(t, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAskWithoutContent(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.ask(t, "acme", "anything indexed yet")
	require.Equal(t, http.StatusOK, rec.Code)

	var res query.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.NoContent)
}

func TestAskValidationError(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.ask(t, "acme", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteDocument(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.upload(t, "acme", "report.txt", corpusText(12*1024))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var doc document.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))

	f.processAll(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/documents/"+doc.ID, nil)
	req.Header.Set("X-Owner-ID", "acme")
	rec = f.do(t, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+doc.ID, nil)
	req.Header.Set("X-Owner-ID", "acme")
	rec = f.do(t, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.ask(t, "acme", "what does the retrieval service do")
	require.Equal(t, http.StatusOK, rec.Code)
	var res query.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.NoContent)
}

func TestFailedDocumentReportsAttempts(t *testing.T) {
	f := newAPIFixture(t)
	f.embedder.Err = fmt.Errorf("%w: embedding backend down", document.ErrTransient)

	rec := f.upload(t, "acme", "report.txt", corpusText(12*1024))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var doc document.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))

	for i := 0; i < 3; i++ {
		f.processAll(t)
		time.Sleep(10 * time.Millisecond)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+doc.ID, nil)
	req.Header.Set("X-Owner-ID", "acme")
	rec = f.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got document.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, document.StatusFailed, got.Status)
	assert.Equal(t, 3, got.AttemptCount)
}