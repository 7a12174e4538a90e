package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSchemaFile(t *testing.T) {
	assert.True(t, isSchemaFile("/s/GetMetar.yaml"))
	assert.True(t, isSchemaFile("/s/Metar.YML"))
	assert.False(t, isSchemaFile("defs.json"))
	assert.False(t, isSchemaFile("/s/.GetMetar.yaml.swp"))
	assert.False(t, isSchemaFile("/s/notes.txt"))
}

func TestWatchSchemasReloads(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())

	reloads := make(chan struct{}, 4)
	done := make(chan error, 1)
	go func() {
		done <- watchSchemas(ctx, dir, func() { reloads <- struct{}{} })
	}()

	// Give the watcher time to register dir.
	time.Sleep(100 * time.Millisecond)
	path := filepath.Join(dir, "GetMetar.yaml")
	require.NoError(t, os.WriteFile(path, []byte("type: object\n"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("type: object\nfields: {}\n"), 0o644))

	select {
	case <-reloads:
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after schema change")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatchSchemasMissingDir(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- watchSchemas(ctx, filepath.Join(t.TempDir(), "absent"), func() {
			t.Error("reload called for a missing directory")
		})
	}()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
