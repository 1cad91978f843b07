package savesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/romm-sync/internal/romm"
)

// DefaultBackupDirName is the folder inside a save directory that receives
// local files displaced by downloads.
const DefaultBackupDirName = ".romm-sync-backups"

// ProgressFunc reports transfer progress for one file.
type ProgressFunc func(entityID, fileName string, done, total int64)

// EngineConfig holds the collaborators an Engine needs.
type EngineConfig struct {
	Store   *LedgerStore
	Remote  RemoteClient
	Locator Locator
	FS      afero.Fs
	Journal *Journal // optional
	Logger  *slog.Logger

	Hostname string
	Platform string

	BackupDirName    string
	Progress         ProgressFunc // optional
	ProgressInterval time.Duration
}

// Engine synchronizes the saves of one entity at a time and owns the
// in-memory ledger. The ledger mutex is never held across network calls.
type Engine struct {
	store            *LedgerStore
	remote           RemoteClient
	locator          Locator
	fs               afero.Fs
	journal          *Journal
	logger           *slog.Logger
	hostname         string
	platform         string
	backupDirName    string
	progress         ProgressFunc
	progressInterval time.Duration
	nowFunc          func() time.Time

	mu     sync.Mutex
	ledger *Ledger

	inflightMu sync.Mutex
	inflight   map[string]struct{}

	registration singleflight.Group
}

// NewEngine loads the ledger and returns a ready engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("savesync: engine requires a ledger store")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fsys := cfg.FS
	if fsys == nil {
		fsys = afero.NewOsFs()
	}

	backupDir := cfg.BackupDirName
	if backupDir == "" {
		backupDir = DefaultBackupDirName
	}

	ledger, err := cfg.Store.Load()
	if err != nil {
		return nil, err
	}

	return &Engine{
		store:            cfg.Store,
		remote:           cfg.Remote,
		locator:          cfg.Locator,
		fs:               fsys,
		journal:          cfg.Journal,
		logger:           logger,
		hostname:         cfg.Hostname,
		platform:         cfg.Platform,
		backupDirName:    backupDir,
		progress:         cfg.Progress,
		progressInterval: cfg.ProgressInterval,
		nowFunc:          time.Now,
		ledger:           ledger,
		inflight:         make(map[string]struct{}),
	}, nil
}

// mutate applies fn to a copy of the ledger and persists it. The copy
// replaces the in-memory ledger only once it is on disk, so an error from
// fn or from the store leaves the ledger untouched.
func (e *Engine) mutate(fn func(l *Ledger) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.ledger.clone()

	if err := fn(next); err != nil {
		return err
	}

	if err := e.store.Save(next); err != nil {
		return err
	}

	e.ledger = next

	return nil
}

// Snapshot returns a deep copy of the current ledger.
func (e *Engine) Snapshot() *Ledger {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.ledger.clone()
}

// acquire marks entityID as busy. The returned func releases it.
func (e *Engine) acquire(entityID string) (func(), error) {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()

	if _, busy := e.inflight[entityID]; busy {
		return nil, fmt.Errorf("%w: %s", ErrSyncInProgress, entityID)
	}

	e.inflight[entityID] = struct{}{}

	return func() {
		e.inflightMu.Lock()
		delete(e.inflight, entityID)
		e.inflightMu.Unlock()
	}, nil
}

// EnsureDeviceRegistered returns this device's id, registering with the
// server first if the ledger has none. Concurrent callers share a single
// registration request.
func (e *Engine) EnsureDeviceRegistered(ctx context.Context) (string, error) {
	e.mu.Lock()
	id := e.ledger.DeviceID
	e.mu.Unlock()

	if id != "" {
		return id, nil
	}

	v, err, _ := e.registration.Do("device", func() (any, error) {
		e.logger.Info("registering device",
			slog.String("hostname", e.hostname),
			slog.String("platform", e.platform),
		)

		dev, err := e.remote.RegisterDevice(ctx, e.hostname, e.platform)
		if err != nil {
			return "", fmt.Errorf("%w: registering device: %w", ErrNoDeviceID, err)
		}

		var registered string

		err = e.mutate(func(l *Ledger) error {
			if l.DeviceID == "" {
				l.DeviceID = dev.ID
				l.DeviceName = e.hostname
			}

			registered = l.DeviceID

			return nil
		})
		if err != nil {
			return "", fmt.Errorf("%w: persisting device id: %w", ErrNoDeviceID, err)
		}

		e.logger.Info("device registered", slog.String("device_id", registered))

		return registered, nil
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

// fileState gathers everything known about one filename during a sync.
type fileState struct {
	name   string
	local  *LocalFile
	server *romm.Save

	localHash  string
	localMtime time.Time
	localSize  int64
}

// SyncEntity synchronizes every save file of one entity. Per-file failures
// are collected in the report and do not stop the loop; the returned error is
// reserved for failures that prevent syncing the entity at all (no device
// identity, listing failures, another sync in progress) and for
// cancellation, in which case the report covers the files processed so far.
func (e *Engine) SyncEntity(ctx context.Context, entityID string, dir Direction) (*SyncReport, error) {
	release, err := e.acquire(entityID)
	if err != nil {
		return nil, err
	}
	defer release()

	deviceID, err := e.EnsureDeviceRegistered(ctx)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := e.logger.With(slog.String("entity_id", entityID), slog.String("run_id", runID))

	locals, err := e.locator.LocateSaveFiles(entityID)
	if err != nil {
		return nil, fmt.Errorf("savesync: locating save files for %s: %w", entityID, err)
	}

	saveDir, err := e.locator.SaveDirectoryFor(entityID)
	if err != nil {
		return nil, fmt.Errorf("savesync: resolving save directory for %s: %w", entityID, err)
	}

	saves, err := e.remote.ListSaves(ctx, entityID, deviceID)
	if err != nil {
		return nil, fmt.Errorf("savesync: listing server saves for %s: %w", entityID, err)
	}

	files := unionFiles(locals, saves)
	report := &SyncReport{EntityID: entityID}

	logger.Info("sync started",
		slog.String("direction", dir.String()),
		slog.Int("local_files", len(locals)),
		slog.Int("server_saves", len(saves)),
	)

	e.updateLabels(entityID)

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			logger.Info("sync canceled", slog.Int("synced", report.Synced()))
			return report, err
		}

		e.syncFile(ctx, runID, deviceID, entityID, saveDir, dir, file, report, logger)
	}

	logger.Info("sync finished",
		slog.Int("uploaded", report.Uploaded),
		slog.Int("downloaded", report.Downloaded),
		slog.Int("skipped", report.Skipped),
		slog.Int("conflicts", report.Conflicts),
		slog.Int("errors", len(report.Errors)),
	)

	return report, nil
}

// syncFile classifies and transfers one file, recording the outcome in report.
func (e *Engine) syncFile(
	ctx context.Context, runID, deviceID, entityID, saveDir string, dir Direction,
	file *fileState, report *SyncReport, logger *slog.Logger,
) {
	if !validFileName(file.name) {
		e.fileFailed(ctx, runID, entityID, file.name, fmt.Errorf("refusing unsafe file name %q", file.name), report, logger)
		return
	}

	if file.local != nil {
		if err := e.statLocal(file); err != nil {
			e.fileFailed(ctx, runID, entityID, file.name, err, report, logger)
			return
		}
	}

	e.mu.Lock()
	var entry *FileSyncRecord
	if rec := e.ledger.Record(entityID, file.name); rec != nil {
		cp := *rec
		entry = &cp
	}
	policy := e.ledger.Settings
	e.mu.Unlock()

	action := Classify(file.localHash, file.server, entry)

	if action == ActionConflict {
		res := Decide(file.localMtime, file.server, policy)
		logger.Info("conflict detected",
			slog.String("file", file.name),
			slog.String("mode", string(policy.ConflictMode)),
			slog.String("resolution", res.String()),
		)

		if res == ResolveAsk {
			e.enqueueConflict(ctx, runID, entityID, file, "both copies changed", report, logger)
			return
		}

		action = resolutionAction(res)
	}

	if action == ActionSkip || !dir.allows(action) {
		report.Skipped++
		return
	}

	var err error

	switch action {
	case ActionUpload:
		err = e.upload(ctx, runID, deviceID, entityID, file)
	case ActionDownload:
		err = e.download(ctx, runID, deviceID, entityID, saveDir, file)
	}

	switch {
	case err == nil:
		if action == ActionUpload {
			report.Uploaded++
		} else {
			report.Downloaded++
		}
	case errors.Is(err, romm.ErrConflict):
		e.enqueueConflict(ctx, runID, entityID, file, "server rejected "+action.String(), report, logger)
	default:
		e.fileFailed(ctx, runID, entityID, file.name, err, report, logger)
	}
}

// statLocal hashes the local file and records its size and mtime.
func (e *Engine) statLocal(file *fileState) error {
	info, err := e.fs.Stat(file.local.Path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", file.local.Path, err)
	}

	hash, err := hashFile(e.fs, file.local.Path)
	if err != nil {
		return err
	}

	file.localHash = hash
	file.localMtime = info.ModTime()
	file.localSize = info.Size()

	return nil
}

// enqueueConflict stores a pending conflict for file.
func (e *Engine) enqueueConflict(
	ctx context.Context, runID, entityID string, file *fileState, reason string,
	report *SyncReport, logger *slog.Logger,
) {
	rec := ConflictRecord{
		EntityID:   entityID,
		FileName:   file.name,
		LocalHash:  file.localHash,
		LocalMtime: file.localMtime,
		LocalSize:  file.localSize,
		CreatedAt:  e.nowFunc().UTC(),
	}

	if file.local != nil {
		rec.LocalPath = file.local.Path
	}

	if file.server != nil {
		rec.ServerSaveID = file.server.ID
		rec.ServerHash = file.server.ContentHash
		rec.ServerUpdatedAt = file.server.UpdatedAt
		rec.ServerSize = file.server.Size
	}

	var stored ConflictRecord

	err := e.mutate(func(l *Ledger) error {
		stored = l.EnqueueConflict(rec)
		return nil
	})
	if err != nil {
		e.fileFailed(ctx, runID, entityID, file.name, fmt.Errorf("recording conflict: %w", err), report, logger)
		return
	}

	report.Conflicts++

	logger.Warn("conflict queued for manual resolution",
		slog.String("file", file.name),
		slog.String("conflict_id", stored.ID),
		slog.String("reason", reason),
	)

	e.journalEvent(ctx, Event{RunID: runID, EntityID: entityID, FileName: file.name, Kind: EventConflict, Detail: reason})
}

// fileFailed records a per-file error.
func (e *Engine) fileFailed(
	ctx context.Context, runID, entityID, fileName string, err error,
	report *SyncReport, logger *slog.Logger,
) {
	report.Errors = append(report.Errors, FileError{EntityID: entityID, FileName: fileName, Err: err})

	logger.Warn("file sync failed",
		slog.String("file", fileName),
		slog.String("error", err.Error()),
	)

	e.journalEvent(ctx, Event{RunID: runID, EntityID: entityID, FileName: fileName, Kind: EventError, Detail: err.Error()})
}

// journalEvent appends to the journal when one is configured. Journal
// failures are logged and otherwise ignored.
func (e *Engine) journalEvent(ctx context.Context, ev Event) {
	if e.journal == nil {
		return
	}

	// The journal outlives cancellation of the sync it describes.
	if err := e.journal.Record(context.WithoutCancel(ctx), ev); err != nil {
		e.logger.Warn("journal write failed", slog.String("error", err.Error()))
	}
}

// updateLabels refreshes the denormalized emulator and system labels of an
// entity that already has ledger state.
func (e *Engine) updateLabels(entityID string) {
	emulator, system := e.locator.Labels(entityID)

	e.mu.Lock()
	defer e.mu.Unlock()

	if st, ok := e.ledger.Saves[entityID]; ok {
		st.Emulator = emulator
		st.System = system
	}
}

// ResolveConflict settles a pending conflict with the given resolution. The
// record is removed and persisted before the transfer starts; if the transfer
// then fails, the record is queued again and the error returned.
func (e *Engine) ResolveConflict(ctx context.Context, entityID, fileName string, res Resolution) error {
	if res != ResolveUpload && res != ResolveDownload {
		return fmt.Errorf("savesync: resolution must be upload or download, got %s", res)
	}

	release, err := e.acquire(entityID)
	if err != nil {
		return err
	}
	defer release()

	deviceID, err := e.EnsureDeviceRegistered(ctx)
	if err != nil {
		return err
	}

	var rec ConflictRecord

	err = e.mutate(func(l *Ledger) error {
		var ok bool
		if rec, ok = l.RemoveConflict(entityID, fileName); !ok {
			return fmt.Errorf("%w for %s/%s", ErrConflictNotFound, entityID, fileName)
		}

		return nil
	})
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	logger := e.logger.With(slog.String("entity_id", entityID), slog.String("run_id", runID))
	logger.Info("resolving conflict",
		slog.String("file", fileName),
		slog.String("conflict_id", rec.ID),
		slog.String("resolution", res.String()),
	)

	if err := e.applyResolution(ctx, runID, deviceID, &rec, res); err != nil {
		if requeueErr := e.mutate(func(l *Ledger) error {
			l.EnqueueConflict(rec)
			return nil
		}); requeueErr != nil {
			logger.Error("failed to requeue conflict", slog.String("error", requeueErr.Error()))
		}

		e.journalEvent(ctx, Event{RunID: runID, EntityID: entityID, FileName: fileName, Kind: EventError, Detail: err.Error()})

		return fmt.Errorf("savesync: resolving %s/%s: %w", entityID, fileName, err)
	}

	e.journalEvent(ctx, Event{RunID: runID, EntityID: entityID, FileName: fileName, Kind: EventResolve, Detail: res.String()})

	return nil
}

// applyResolution performs the single transfer chosen for a conflict.
func (e *Engine) applyResolution(ctx context.Context, runID, deviceID string, rec *ConflictRecord, res Resolution) error {
	file := &fileState{name: rec.FileName}

	server, err := e.currentServerSave(ctx, deviceID, rec)
	if err != nil {
		return err
	}

	file.server = server

	if res == ResolveDownload {
		if server == nil {
			return fmt.Errorf("server copy of %s no longer exists", rec.FileName)
		}

		if rec.LocalPath != "" {
			file.local = &LocalFile{Path: rec.LocalPath, FileName: rec.FileName}
		}

		saveDir, err := e.locator.SaveDirectoryFor(rec.EntityID)
		if err != nil {
			return fmt.Errorf("resolving save directory: %w", err)
		}

		return e.download(ctx, runID, deviceID, rec.EntityID, saveDir, file)
	}

	if rec.LocalPath == "" {
		return fmt.Errorf("no local copy of %s to upload", rec.FileName)
	}

	file.local = &LocalFile{Path: rec.LocalPath, FileName: rec.FileName}
	if err := e.statLocal(file); err != nil {
		return err
	}

	return e.upload(ctx, runID, deviceID, rec.EntityID, file)
}

// currentServerSave refetches the server record of a conflict. It returns nil
// without error when the record is gone.
func (e *Engine) currentServerSave(ctx context.Context, deviceID string, rec *ConflictRecord) (*romm.Save, error) {
	if rec.ServerSaveID != 0 {
		s, err := e.remote.GetSave(ctx, rec.ServerSaveID, deviceID)
		if err == nil {
			return s, nil
		}

		if !errors.Is(err, romm.ErrNotFound) {
			return nil, fmt.Errorf("fetching server save %d: %w", rec.ServerSaveID, err)
		}
	}

	saves, err := e.remote.ListSaves(ctx, rec.EntityID, deviceID)
	if err != nil {
		return nil, fmt.Errorf("listing server saves: %w", err)
	}

	return newestNamed(saves, rec.FileName), nil
}

// unionFiles merges local and server file lists by NFC-normalized name, in
// name order. When the server holds several records with one name the most
// recently updated wins.
func unionFiles(locals []LocalFile, saves []romm.Save) []*fileState {
	byName := make(map[string]*fileState)

	get := func(name string) *fileState {
		key := norm.NFC.String(name)

		file, ok := byName[key]
		if !ok {
			file = &fileState{name: key}
			byName[key] = file
		}

		return file
	}

	for i := range locals {
		get(locals[i].FileName).local = &locals[i]
	}

	for i := range saves {
		file := get(saves[i].FileName)
		if file.server == nil || saves[i].UpdatedAt.After(file.server.UpdatedAt) {
			file.server = &saves[i]
		}
	}

	out := make([]*fileState, 0, len(byName))
	for _, file := range byName {
		out = append(out, file)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })

	return out
}

// validFileName rejects names that would escape the save directory.
func validFileName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}

	return !strings.ContainsAny(name, `/\`)
}

// newestNamed returns the most recently updated save called name.
func newestNamed(saves []romm.Save, name string) *romm.Save {
	want := norm.NFC.String(name)

	var best *romm.Save

	for i := range saves {
		if norm.NFC.String(saves[i].FileName) != want {
			continue
		}

		if best == nil || saves[i].UpdatedAt.After(best.UpdatedAt) {
			best = &saves[i]
		}
	}

	return best
}
