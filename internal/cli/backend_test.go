package cli

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/docqa/internal/app"
	"github.com/hyperjump/docqa/internal/apperr"
	"github.com/hyperjump/docqa/internal/config"
	"github.com/hyperjump/docqa/internal/models"
	"github.com/hyperjump/docqa/internal/server"
)

func newApp(t *testing.T) *app.App {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Storage.IndexDir = filepath.Join(base, "storage")
	cfg.Documents.DataDir = filepath.Join(base, "data")
	cfg.Embedding.Provider = config.ProviderHash
	cfg.Embedding.Dimensions = 64
	cfg.LLM.Provider = config.ProviderExtractive
	require.NoError(t, os.MkdirAll(cfg.Documents.DataDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Documents.DataDir, "a.txt"), []byte("The library closes at nine."), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Documents.DataDir, "b.txt"), []byte("Parking is free on Sundays."), 0600))
	a, err := app.New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func newClient(t *testing.T) *Client {
	t.Helper()
	a := newApp(t)
	srv := httptest.NewServer(server.NewServer(a.Pipeline, a.Engine, a.Reporter, a.Config, nil).Handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", 5*time.Second)
}

// backends returns a local backend and an HTTP client, each over its own fresh index.
func backends(t *testing.T) map[string]Backend {
	return map[string]Backend{
		"local":  &Local{App: newApp(t)},
		"client": newClient(t),
	}
}

func TestBackends_Workflow(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			st, err := b.Status(ctx)
			require.NoError(t, err)
			assert.Zero(t, st.DocumentChunkCount)

			ans, err := b.Query(ctx, &models.QueryRequest{Query: "when does the library close"})
			require.NoError(t, err)
			assert.False(t, ans.Success)

			report, err := b.Sync(ctx, "")
			require.NoError(t, err)
			assert.Equal(t, 2, report.DocumentsProcessed)

			ans, err = b.Query(ctx, &models.QueryRequest{Query: "when does the library close", MaxResults: 1})
			require.NoError(t, err)
			require.Len(t, ans.Sources, 1)
			assert.Equal(t, "a.txt", ans.Sources[0].Filename)

			cons, err := b.Consistency(ctx, "")
			require.NoError(t, err)
			assert.True(t, cons.Consistent)

			docs, err := b.Documents(ctx)
			require.NoError(t, err)
			assert.Len(t, docs, 2)

			del, err := b.Delete(ctx, "b.txt")
			require.NoError(t, err)
			assert.True(t, del.Found)
			assert.Equal(t, 1, del.DeletedChunks)
		})
	}
}

func TestClient_StructuredErrors(t *testing.T) {
	b := newClient(t)
	_, err := b.Query(context.Background(), &models.QueryRequest{Query: ""})
	assert.Equal(t, apperr.ValidationFailure, apperr.KindOf(err))

	_, err = b.Sync(context.Background(), "/elsewhere")
	assert.Equal(t, apperr.ValidationFailure, apperr.KindOf(err))
}

func TestClient_Unreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", time.Second)
	_, err := c.Status(context.Background())
	assert.Error(t, err)
}
