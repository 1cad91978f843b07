package savesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Result is the outcome of a Service call. Partial success (some files
// synced, some failed) has Success false with Synced still populated.
type Result struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message"`
	Synced    int      `json:"synced"`
	Conflicts int      `json:"conflicts"`
	Errors    []string `json:"errors,omitempty"`
	Seconds   int64    `json:"seconds,omitempty"`
}

// File status labels reported by SaveStatus.
const (
	StatusSynced      = "synced"
	StatusModified    = "modified"
	StatusNeverSynced = "never_synced"
	StatusConflict    = "conflict"
	StatusServerOnly  = "server_only"
)

// FileStatus describes one save file as known locally.
type FileStatus struct {
	FileName     string    `json:"filename"`
	LocalPath    string    `json:"local_path,omitempty"`
	LocalHash    string    `json:"local_hash,omitempty"`
	LocalMtime   time.Time `json:"local_mtime,omitzero"`
	LastSyncHash string    `json:"last_sync_hash,omitempty"`
	LastSyncAt   time.Time `json:"last_sync_at,omitzero"`
	ServerID     int64     `json:"server_save_id,omitempty"`
	Status       string    `json:"status"`
}

// SaveStatus is the offline view of one entity's saves.
type SaveStatus struct {
	EntityID string          `json:"entity_id"`
	DeviceID string          `json:"device_id"`
	Emulator string          `json:"emulator,omitempty"`
	System   string          `json:"system,omitempty"`
	Files    []FileStatus    `json:"files"`
	Playtime *PlaytimeRecord `json:"playtime,omitempty"`
}

// Service is the boundary used by the CLI hooks. Every call reports its
// outcome through Result instead of failing the caller.
type Service struct {
	engine  *Engine
	locator Locator
	logger  *slog.Logger
}

// NewService wraps an engine.
func NewService(engine *Engine, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{engine: engine, locator: engine.locator, logger: logger}
}

// Engine exposes the underlying engine.
func (s *Service) Engine() *Engine {
	return s.engine
}

// EnsureDeviceRegistered registers this device if needed.
func (s *Service) EnsureDeviceRegistered(ctx context.Context) Result {
	id, err := s.engine.EnsureDeviceRegistered(ctx)
	if err != nil {
		return failure(err)
	}

	return Result{Success: true, Message: "device id " + id}
}

// PreLaunchSync pulls server changes for an entity before it is launched.
func (s *Service) PreLaunchSync(ctx context.Context, entityID string) Result {
	if !s.engine.Settings().SyncBeforeLaunch {
		return Result{Success: true, Message: "sync before launch is disabled"}
	}

	return s.SyncEntity(ctx, entityID, DirectionDownload)
}

// PostExitSync pushes local changes for an entity after it exits.
func (s *Service) PostExitSync(ctx context.Context, entityID string) Result {
	if !s.engine.Settings().SyncAfterExit {
		return Result{Success: true, Message: "sync after exit is disabled"}
	}

	return s.SyncEntity(ctx, entityID, DirectionUpload)
}

// SyncEntity runs a manual sync of one entity.
func (s *Service) SyncEntity(ctx context.Context, entityID string, dir Direction) Result {
	report, err := s.engine.SyncEntity(ctx, entityID, dir)
	if err != nil && report == nil {
		return failure(err)
	}

	res := reportResult(report)
	if err != nil {
		res.Success = false
		res.Message = fmt.Sprintf("%s (stopped: %v)", res.Message, err)
	}

	return res
}

// SyncAll syncs every installed entity in id order, one at a time.
func (s *Service) SyncAll(ctx context.Context) Result {
	if _, err := s.engine.EnsureDeviceRegistered(ctx); err != nil {
		return failure(err)
	}

	ids, err := s.locator.InstalledEntities()
	if err != nil {
		return failure(fmt.Errorf("savesync: listing installed entities: %w", err))
	}

	sort.Strings(ids)

	total := Result{Success: true}

	for _, id := range ids {
		if ctx.Err() != nil {
			total.Success = false
			total.Errors = append(total.Errors, ctx.Err().Error())

			break
		}

		report, err := s.engine.SyncEntity(ctx, id, DirectionBoth)
		if report != nil {
			total.Synced += report.Synced()
			total.Conflicts += report.Conflicts
			total.Errors = append(total.Errors, report.ErrorStrings()...)
		}

		if err != nil {
			if errors.Is(err, ErrNoDeviceID) {
				return failure(err)
			}

			total.Errors = append(total.Errors, fmt.Sprintf("%s: %v", id, err))
		}
	}

	if len(total.Errors) > 0 {
		total.Success = false
	}

	total.Message = fmt.Sprintf("synced %d file(s) across %d entities, %d conflict(s), %d error(s)",
		total.Synced, len(ids), total.Conflicts, len(total.Errors))

	return total
}

// ResolveConflict settles one pending conflict.
func (s *Service) ResolveConflict(ctx context.Context, entityID, fileName string, res Resolution) Result {
	if err := s.engine.ResolveConflict(ctx, entityID, fileName, res); err != nil {
		return failure(err)
	}

	return Result{Success: true, Synced: 1, Message: fmt.Sprintf("resolved %s/%s by %s", entityID, fileName, res)}
}

// PendingConflicts returns the queued conflicts in queue order.
func (s *Service) PendingConflicts() []ConflictRecord {
	return s.engine.Snapshot().PendingConflicts
}

// FindConflict looks up a pending conflict by id, id prefix, or
// "entity/filename".
func (s *Service) FindConflict(ref string) (ConflictRecord, error) {
	return s.engine.Snapshot().FindConflict(ref)
}

// RecordSessionStart opens a play session.
func (s *Service) RecordSessionStart(ctx context.Context, entityID string) Result {
	if err := s.engine.StartSession(ctx, entityID); err != nil {
		return failure(err)
	}

	return Result{Success: true, Message: "session started"}
}

// RecordSessionEnd closes a play session. Ending with no open session is an
// unsuccessful result, not an error.
func (s *Service) RecordSessionEnd(ctx context.Context, entityID string) Result {
	d, err := s.engine.EndSession(ctx, entityID)
	if err != nil {
		return failure(err)
	}

	return Result{Success: true, Seconds: int64(d / time.Second), Message: "session recorded: " + d.String()}
}

// Settings returns the current sync policy.
func (s *Service) Settings() SyncPolicy {
	return s.engine.Settings()
}

// UpdateSettings applies a partial policy update and persists it.
func (s *Service) UpdateSettings(patch PolicyPatch) (SyncPolicy, error) {
	return s.engine.UpdateSettings(patch)
}

// SaveStatus reports the local and ledger view of an entity's saves without
// contacting the server.
func (s *Service) SaveStatus(entityID string) (*SaveStatus, error) {
	locals, err := s.locator.LocateSaveFiles(entityID)
	if err != nil {
		return nil, fmt.Errorf("savesync: locating save files for %s: %w", entityID, err)
	}

	snap := s.engine.Snapshot()
	emulator, system := s.locator.Labels(entityID)

	st := &SaveStatus{
		EntityID: entityID,
		DeviceID: snap.DeviceID,
		Emulator: emulator,
		System:   system,
		Files:    []FileStatus{},
	}

	if p, ok := snap.Playtime[entityID]; ok {
		st.Playtime = p
	}

	var records map[string]*FileSyncRecord
	if es, ok := snap.Saves[entityID]; ok {
		records = es.Files
	}

	seen := make(map[string]bool)

	for _, lf := range locals {
		name := norm.NFC.String(lf.FileName)
		seen[name] = true

		fs := FileStatus{FileName: name, LocalPath: lf.Path, LocalMtime: s.engine.fileTime(lf.Path)}

		hash, hashErr := hashFile(s.engine.fs, lf.Path)
		if hashErr != nil {
			s.logger.Warn("cannot hash save file", slog.String("path", lf.Path), slog.String("error", hashErr.Error()))
		}

		fs.LocalHash = hash

		rec := records[name]
		if rec != nil {
			fs.LastSyncHash = rec.LastSyncHash
			fs.LastSyncAt = rec.LastSyncAt
			fs.ServerID = rec.LastSyncServerID
		}

		switch {
		case snap.HasConflict(entityID, name):
			fs.Status = StatusConflict
		case rec == nil:
			fs.Status = StatusNeverSynced
		case hashEqual(hash, rec.LastSyncHash):
			fs.Status = StatusSynced
		default:
			fs.Status = StatusModified
		}

		st.Files = append(st.Files, fs)
	}

	for name, rec := range records {
		if seen[name] {
			continue
		}

		st.Files = append(st.Files, FileStatus{
			FileName:     name,
			LastSyncHash: rec.LastSyncHash,
			LastSyncAt:   rec.LastSyncAt,
			ServerID:     rec.LastSyncServerID,
			Status:       StatusServerOnly,
		})
	}

	sort.Slice(st.Files, func(i, j int) bool { return st.Files[i].FileName < st.Files[j].FileName })

	return st, nil
}

// Settings returns the current sync policy.
func (e *Engine) Settings() SyncPolicy {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.ledger.Settings
}

// UpdateSettings applies patch to the ledger settings and persists them.
func (e *Engine) UpdateSettings(patch PolicyPatch) (SyncPolicy, error) {
	var updated SyncPolicy

	err := e.mutate(func(l *Ledger) error {
		p, err := patch.Apply(l.Settings)
		if err != nil {
			return err
		}

		l.Settings = p
		updated = p

		return nil
	})
	if err != nil {
		return SyncPolicy{}, err
	}

	e.logger.Info("settings updated",
		slog.String("conflict_mode", string(updated.ConflictMode)),
		slog.Bool("sync_before_launch", updated.SyncBeforeLaunch),
		slog.Bool("sync_after_exit", updated.SyncAfterExit),
		slog.Int("clock_skew_tolerance_sec", updated.ClockSkewTolerance),
	)

	return updated, nil
}

// reportResult converts an entity report into a Result.
func reportResult(r *SyncReport) Result {
	res := Result{
		Success:   len(r.Errors) == 0,
		Synced:    r.Synced(),
		Conflicts: r.Conflicts,
		Errors:    r.ErrorStrings(),
	}

	res.Message = fmt.Sprintf("%s: %d uploaded, %d downloaded, %d unchanged, %d conflict(s), %d error(s)",
		r.EntityID, r.Uploaded, r.Downloaded, r.Skipped, r.Conflicts, len(r.Errors))

	return res
}

func failure(err error) Result {
	return Result{Success: false, Message: err.Error(), Errors: []string{err.Error()}}
}
