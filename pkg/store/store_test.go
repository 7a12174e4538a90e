package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vfrnav/vfrnav/pkg/protocol"
)

func openTestRecords(t *testing.T) *RecordStore {
	t.Helper()
	s, err := OpenRecords(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := time.UnixMilli(1700000000000)
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return s
}

func TestRecordLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestRecords(t)

	first, err := s.Create(ctx, "LFPN-LFPG")
	require.NoError(t, err)
	second, err := s.Create(ctx, "LFPG-LFOB")
	require.NoError(t, err)

	active, err := s.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active, "newest record becomes active")

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.True(t, list[0].Active)
	assert.False(t, list[1].Active)

	require.NoError(t, s.Rename(ctx, first.ID, "Morning hop"))
	got, err := s.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Morning hop", got.Name)

	require.NoError(t, s.SetActive(ctx, first.ID))
	active, err = s.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active)

	require.NoError(t, s.SetActive(ctx, ""))
	active, err = s.Active(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, s.Remove(ctx, first.ID))
	_, err = s.Get(ctx, first.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordNotFound(t *testing.T) {
	ctx := context.Background()
	s := openTestRecords(t)

	assert.ErrorIs(t, s.Rename(ctx, "missing", "x"), ErrNotFound)
	assert.ErrorIs(t, s.Remove(ctx, "missing"), ErrNotFound)
	assert.ErrorIs(t, s.SetActive(ctx, "missing"), ErrNotFound)
}

func TestPositions(t *testing.T) {
	ctx := context.Background()
	s := openTestRecords(t)

	r, err := s.Create(ctx, "circuit")
	require.NoError(t, err)

	want := []protocol.PlanePos{
		{Lat: 48.72, Lon: 2.38, Altitude: 300, Heading: 250, Speed: 0, Date: 1},
		{Lat: 48.73, Lon: 2.36, Altitude: 1200, Heading: 255, Speed: 90, Date: 2},
	}
	for _, p := range want {
		require.NoError(t, s.AppendPosition(ctx, r.ID, p))
	}

	got, err := s.Positions(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, s.Remove(ctx, r.ID))
	got, err = s.Positions(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestAppendPositionRequiresRecord(t *testing.T) {
	s := openTestRecords(t)
	err := s.AppendPosition(context.Background(), "nope", protocol.PlanePos{Date: 1})
	assert.Error(t, err)
}

func TestInMemoryRecords(t *testing.T) {
	s, err := OpenRecords(":memory:")
	require.NoError(t, err)
	defer s.Close()

	list, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestJSONStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	type doc struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	s, err := NewJSONStore[doc](dir)
	require.NoError(t, err)
	require.NoError(t, s.Put("b", doc{Name: "bravo", Count: 2}))
	require.NoError(t, s.Put("a", doc{Name: "alpha", Count: 1}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0644))

	reloaded, err := NewJSONStore[doc](dir)
	require.NoError(t, err)
	require.NoError(t, reloaded.Load())

	assert.Equal(t, []string{"a", "b"}, reloaded.Keys())
	got, ok := reloaded.Get("b")
	require.True(t, ok)
	assert.Equal(t, doc{Name: "bravo", Count: 2}, got)

	assert.True(t, reloaded.Remove("a"))
	assert.False(t, reloaded.Remove("a"))
	assert.Equal(t, 1, reloaded.Count())
	_, err = os.Stat(filepath.Join(dir, "a.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestJSONStoreRejectsPathKeys(t *testing.T) {
	s, err := NewJSONStore[int](t.TempDir())
	require.NoError(t, err)
	assert.Error(t, s.Put("../escape", 1))
	assert.Error(t, s.Put("", 1))
}

func TestSettingsDefaultsAndSave(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenSettings(dir)
	require.NoError(t, err)
	assert.Equal(t, protocol.DefaultSettings(), s.Get())

	v := protocol.DefaultSettings()
	v.SpeedUnit = "km/h"
	v.MapLayers = []string{"oaci", "openstreetmap"}
	require.NoError(t, s.Save(v))

	again, err := OpenSettings(dir)
	require.NoError(t, err)
	assert.Equal(t, v, again.Get())
}
