package main

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/a2639443196/my-vue-web/backend/internal/config"
	"github.com/a2639443196/my-vue-web/backend/internal/service/room"
	"github.com/a2639443196/my-vue-web/backend/internal/storage"
)

func TestRunServerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	done := make(chan error, 1)
	go func() { done <- runServer(ctx, srv, time.Second) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRunServerReportsListenError(t *testing.T) {
	srv := &http.Server{Addr: "not-an-address", Handler: http.NotFoundHandler()}
	err := runServer(context.Background(), srv, time.Second)
	assert.Error(t, err)
}

func TestOpenRepository(t *testing.T) {
	repo, closeRepo, err := openRepository(config.StorageConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &room.MemoryRepository{}, repo)
	closeRepo()

	path := filepath.Join(t.TempDir(), "nested", "chat.db")
	repo, closeRepo, err = openRepository(config.StorageConfig{SQLitePath: path, Memory: true}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &room.MemoryRepository{}, repo)
	closeRepo()
	assert.NoFileExists(t, path)

	repo, closeRepo, err = openRepository(config.StorageConfig{SQLitePath: path}, zap.NewNop())
	require.NoError(t, err)
	defer closeRepo()
	assert.IsType(t, &storage.SQLite{}, repo)
}
