package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_MissingConfigFile(t *testing.T) {
	err := run(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "failed to load configuration")
}

func TestRun_InvalidEnvironment(t *testing.T) {
	t.Setenv("CHATRELAY_LOG_FORMAT", "xml")

	err := run(context.Background(), "")
	assert.ErrorContains(t, err, "failed to load configuration")
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	t.Setenv("CHATRELAY_DATABASE_PATH", filepath.Join(t.TempDir(), "chatrelay.db"))
	t.Setenv("CHATRELAY_HTTP_HOST", "127.0.0.1")
	t.Setenv("CHATRELAY_HTTP_PORT", "0")
	t.Setenv("CHATRELAY_LOG_LEVEL", "disabled")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, "") }()

	time.Sleep(500 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
