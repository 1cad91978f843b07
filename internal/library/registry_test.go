package library

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(testWriter{t: t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	r, err := OpenRegistry(filepath.Join(t.TempDir(), "state", "library.db"), testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	return r
}

func TestRegistry_PutGet(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	r.nowFunc = func() time.Time { return fixed }

	require.NoError(t, r.Put(Entity{ID: "42", Name: "Zelda", FileName: "Zelda (USA).sfc", System: "snes", Emulator: "snes9x"}))

	got, err := r.Get("42")
	require.NoError(t, err)
	assert.Equal(t, "Zelda", got.Name)
	assert.Equal(t, "snes9x", got.Emulator)
	assert.True(t, fixed.Equal(got.InstalledAt))
}

func TestRegistry_GetUnknown(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)

	_, err := r.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownEntity)
}

func TestRegistry_PutValidates(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)

	err := r.Put(Entity{FileName: "a/b.sfc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id is required")
	assert.Contains(t, err.Error(), "path separator")
	assert.Contains(t, err.Error(), "system is required")

	require.NoError(t, r.Put(Entity{ID: "1", FileName: "a.sfc", SaveDir: "/custom"}))
}

func TestRegistry_ListSortedAndDelete(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)

	for _, id := range []string{"3", "1", "2"} {
		require.NoError(t, r.Put(Entity{ID: id, FileName: id + ".gba", System: "gba"}))
	}

	list, err := r.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"1", "2", "3"}, []string{list[0].ID, list[1].ID, list[2].ID})

	require.NoError(t, r.Delete("2"))
	assert.ErrorIs(t, r.Delete("2"), ErrUnknownEntity)

	list, err = r.List()
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestRegistry_Reopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "library.db")

	r, err := OpenRegistry(path, testLogger(t))
	require.NoError(t, err)
	require.NoError(t, r.Put(Entity{ID: "7", FileName: "x.n64", System: "n64"}))
	require.NoError(t, r.Close())

	r, err = OpenRegistry(path, testLogger(t))
	require.NoError(t, err)
	defer r.Close()

	got, err := r.Get("7")
	require.NoError(t, err)
	assert.Equal(t, "n64", got.System)
}
