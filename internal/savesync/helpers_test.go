package savesync

import (
	"context"
	"crypto/md5" //nolint:gosec // matches production hashing
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"os"
	"path"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/romm-sync/internal/romm"
)

// testLogger returns a debug-level logger that writes to t.Log.
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

var baseTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// testClock is a settable clock shared by the engine and the fake server.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: baseTime}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec // test helper
	return hex.EncodeToString(sum[:])
}

type storedSave struct {
	meta romm.Save
	data []byte
}

// fakeRemote is an in-memory RomM save API.
type fakeRemote struct {
	mu    sync.Mutex
	clock *testClock

	saves  map[int64]*storedSave
	nextID int64

	omitHash     bool             // report empty content hashes
	hashOverride map[int64]string // reported hash differs from content
	uploadErr    map[string]error // per file name
	registerErr  error
	onUpload     func(name string)

	registerCalls int
	listCalls     int
	uploads       int
	downloads     int
}

func newFakeRemote(clock *testClock) *fakeRemote {
	return &fakeRemote{
		clock:        clock,
		saves:        make(map[int64]*storedSave),
		nextID:       100,
		hashOverride: make(map[int64]string),
		uploadErr:    make(map[string]error),
	}
}

// put seeds a server save and returns its id.
func (r *fakeRemote) put(entityID, name, content string, updated time.Time) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.saves[r.nextID] = &storedSave{
		meta: romm.Save{ID: r.nextID, EntityID: entityID, FileName: name, UpdatedAt: updated, Size: int64(len(content))},
		data: []byte(content),
	}

	return r.nextID
}

// content returns the stored bytes of the named save.
func (r *fakeRemote) content(entityID, name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.saves {
		if s.meta.EntityID == entityID && s.meta.FileName == name {
			return string(s.data), true
		}
	}

	return "", false
}

func (r *fakeRemote) view(s *storedSave) romm.Save {
	out := s.meta
	out.ContentHash = md5hex(string(s.data))

	if h, ok := r.hashOverride[s.meta.ID]; ok {
		out.ContentHash = h
	}

	if r.omitHash {
		out.ContentHash = ""
	}

	return out
}

func (r *fakeRemote) ListSaves(_ context.Context, entityID, _ string) ([]romm.Save, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.listCalls++

	var out []romm.Save

	for _, s := range r.saves {
		if s.meta.EntityID == entityID {
			out = append(out, r.view(s))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

func (r *fakeRemote) GetSave(_ context.Context, saveID int64, _ string) (*romm.Save, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.saves[saveID]
	if !ok {
		return nil, romm.ErrNotFound
	}

	v := r.view(s)

	return &v, nil
}

func (r *fakeRemote) UploadSave(_ context.Context, req romm.UploadRequest) (*romm.Save, error) {
	if r.onUpload != nil {
		r.onUpload(req.FileName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.uploadErr[req.FileName]; err != nil {
		return nil, err
	}

	r.uploads++

	if req.Progress != nil {
		req.Progress(int64(len(req.Content)), int64(len(req.Content)))
	}

	id := req.ExistingID
	if id == 0 {
		r.nextID++
		id = r.nextID
	} else if _, ok := r.saves[id]; !ok {
		return nil, romm.ErrNotFound
	}

	r.saves[id] = &storedSave{
		meta: romm.Save{
			ID: id, EntityID: req.EntityID, FileName: req.FileName,
			UpdatedAt: r.clock.Now(), Size: int64(len(req.Content)), Emulator: req.Emulator,
		},
		data: append([]byte(nil), req.Content...),
	}

	v := r.view(r.saves[id])

	return &v, nil
}

func (r *fakeRemote) DownloadSave(_ context.Context, saveID int64, _ string, w io.Writer) (int64, error) {
	r.mu.Lock()
	s, ok := r.saves[saveID]
	r.mu.Unlock()

	if !ok {
		return 0, romm.ErrNotFound
	}

	r.mu.Lock()
	r.downloads++
	r.mu.Unlock()

	n, err := w.Write(s.data)

	return int64(n), err
}

func (r *fakeRemote) RegisterDevice(_ context.Context, hostname, platform string) (*romm.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.registerCalls++

	if r.registerErr != nil {
		return nil, r.registerErr
	}

	return &romm.Device{ID: "dev-1", Name: hostname, Platform: platform}, nil
}

// fakeLocator serves save files from /saves/<entity> on an afero fs.
type fakeLocator struct {
	fs       afero.Fs
	entities []string
}

func (l *fakeLocator) dir(entityID string) string {
	return path.Join("/saves", entityID)
}

func (l *fakeLocator) LocateSaveFiles(entityID string) ([]LocalFile, error) {
	infos, err := afero.ReadDir(l.fs, l.dir(entityID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}

	var out []LocalFile

	for _, fi := range infos {
		if fi.IsDir() {
			continue
		}

		out = append(out, LocalFile{Path: path.Join(l.dir(entityID), fi.Name()), FileName: fi.Name()})
	}

	return out, nil
}

func (l *fakeLocator) SaveDirectoryFor(entityID string) (string, error) {
	return l.dir(entityID), nil
}

func (l *fakeLocator) Labels(string) (string, string) {
	return "snes9x", "snes"
}

func (l *fakeLocator) InstalledEntities() ([]string, error) {
	return l.entities, nil
}

// harness bundles an engine with its fakes.
type harness struct {
	fs      afero.Fs
	clock   *testClock
	remote  *fakeRemote
	locator *fakeLocator
	store   *LedgerStore
	engine  *Engine
}

func newHarness(t *testing.T, policy SyncPolicy) *harness {
	t.Helper()

	fsys := afero.NewMemMapFs()
	clock := newTestClock()
	remote := newFakeRemote(clock)
	locator := &fakeLocator{fs: fsys}
	store := NewLedgerStore(fsys, "/state/ledger.json", policy, testLogger(t))

	engine, err := NewEngine(EngineConfig{
		Store:    store,
		Remote:   remote,
		Locator:  locator,
		FS:       fsys,
		Logger:   testLogger(t),
		Hostname: "deck",
		Platform: "linux",
	})
	require.NoError(t, err)

	engine.nowFunc = clock.Now

	return &harness{fs: fsys, clock: clock, remote: remote, locator: locator, store: store, engine: engine}
}

// writeLocal creates a local save with the given mtime.
func (h *harness) writeLocal(t *testing.T, entityID, name, content string, mtime time.Time) string {
	t.Helper()

	p := path.Join(h.locator.dir(entityID), name)
	require.NoError(t, h.fs.MkdirAll(h.locator.dir(entityID), 0o755))
	require.NoError(t, afero.WriteFile(h.fs, p, []byte(content), 0o644))
	require.NoError(t, h.fs.Chtimes(p, mtime, mtime))

	return p
}

func (h *harness) readLocal(t *testing.T, entityID, name string) string {
	t.Helper()

	data, err := afero.ReadFile(h.fs, path.Join(h.locator.dir(entityID), name))
	require.NoError(t, err)

	return string(data)
}

// persisted reloads the ledger from disk.
func (h *harness) persisted(t *testing.T) *Ledger {
	t.Helper()

	l, err := h.store.Load()
	require.NoError(t, err)

	return l
}

func policyWith(mode ConflictMode) SyncPolicy {
	p := DefaultPolicy()
	p.ConflictMode = mode

	return p
}
