package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/corpusd/internal/document"
)

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:   baseURL,
		Model:     "test-embed-1",
		Dimension: 4,
		BatchSize: 2,
	}
}

// embedHandler returns a TEI-style handler producing fixed-size vectors.
func embedHandler(t *testing.T, gotBatches *[][]string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embed", r.URL.Path)

		var req struct {
			Inputs interface{} `json:"inputs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var texts []string
		switch v := req.Inputs.(type) {
		case string:
			texts = []string{v}
		case []interface{}:
			for _, x := range v {
				texts = append(texts, x.(string))
			}
		}
		if gotBatches != nil {
			*gotBatches = append(*gotBatches, texts)
		}

		vectors := make([][]float32, len(texts))
		for i := range vectors {
			vectors[i] = []float32{1, 0, 0, 0}
		}
		_ = json.NewEncoder(w).Encode(vectors)
	}
}

func TestServiceEmbedDocumentsBatches(t *testing.T) {
	var batches [][]string
	srv := httptest.NewServer(embedHandler(t, &batches))
	defer srv.Close()

	svc, err := NewService(testConfig(srv.URL), nil)
	require.NoError(t, err)

	vectors, err := svc.EmbedDocuments(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	assert.Len(t, vectors, 5)

	// Batch size 2 splits five texts into 2+2+1.
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"a", "b"}, batches[0])
	assert.Equal(t, []string{"e"}, batches[2])
}

func TestServiceEmbedQuery(t *testing.T) {
	srv := httptest.NewServer(embedHandler(t, nil))
	defer srv.Close()

	svc, err := NewService(testConfig(srv.URL), nil)
	require.NoError(t, err)

	vec, err := svc.EmbedQuery(context.Background(), "what is the refund policy?")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
}

func TestServiceRejectsEmptyInput(t *testing.T) {
	svc, err := NewService(testConfig("http://localhost:0"), nil)
	require.NoError(t, err)

	_, err = svc.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = svc.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestServiceErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{name: "rate limited is transient", status: http.StatusTooManyRequests, transient: true},
		{name: "server error is transient", status: http.StatusInternalServerError, transient: true},
		{name: "bad gateway is transient", status: http.StatusBadGateway, transient: true},
		{name: "bad request is permanent", status: http.StatusBadRequest, transient: false},
		{name: "payload too large is permanent", status: http.StatusRequestEntityTooLarge, transient: false},
		{name: "unprocessable is permanent", status: http.StatusUnprocessableEntity, transient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			svc, err := NewService(testConfig(srv.URL), nil)
			require.NoError(t, err)

			_, err = svc.EmbedQuery(context.Background(), "question")
			require.Error(t, err)
			assert.Equal(t, tt.transient, document.Transient(err))
			assert.Equal(t, !tt.transient, document.Permanent(err))
		})
	}
}

func TestServiceUnreachableIsTransient(t *testing.T) {
	svc, err := NewService(testConfig("http://127.0.0.1:1"), nil)
	require.NoError(t, err)

	_, err = svc.EmbedQuery(context.Background(), "question")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, document.Transient(err))
}

func TestConfigValidate(t *testing.T) {
	valid := testConfig("http://localhost:8081")
	assert.NoError(t, valid.Validate())

	missing := valid
	missing.BaseURL = ""
	assert.ErrorIs(t, missing.Validate(), ErrInvalidConfig)

	badDim := valid
	badDim.Dimension = 0
	assert.ErrorIs(t, badDim.Validate(), ErrInvalidConfig)
}

func TestFakeProviderDeterministic(t *testing.T) {
	fake := NewFakeProvider("fake-1", 8)
	ctx := context.Background()

	a1, err := fake.EmbedQuery(ctx, "hello")
	require.NoError(t, err)
	a2, err := fake.EmbedQuery(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, a1, a2)

	b, err := fake.EmbedQuery(ctx, "world")
	require.NoError(t, err)
	assert.NotEqual(t, a1, b)
	assert.Equal(t, 3, fake.Calls())
}
