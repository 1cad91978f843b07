package savesync

import (
	"context"
	"crypto/md5" //nolint:gosec // RomM identifies save content by MD5
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/tonimelisma/romm-sync/internal/romm"
)

const (
	saveDirPerms     = 0o755
	maxBackupSuffix  = 1000
	backupTimeLayout = "20060102-150405"
)

// ErrHashMismatch means downloaded bytes did not match the server's hash.
var ErrHashMismatch = errors.New("savesync: downloaded content does not match server hash")

// hashFile returns the lowercase hex MD5 of a file.
func hashFile(fsys afero.Fs, path string) (string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := md5.New() //nolint:gosec // content identity, not security
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// progressFor returns a throttled progress callback for one file, or nil.
func (e *Engine) progressFor(entityID, fileName string) romm.ProgressFunc {
	if e.progress == nil {
		return nil
	}

	return romm.Throttle(e.progressInterval, func(done, total int64) {
		e.progress(entityID, fileName, done, total)
	})
}

// upload sends the local copy to the server, updating the existing record
// when the server already has one.
func (e *Engine) upload(ctx context.Context, runID, deviceID, entityID string, file *fileState) error {
	data, err := afero.ReadFile(e.fs, file.local.Path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", file.local.Path, err)
	}

	sum := md5.Sum(data) //nolint:gosec // content identity, not security
	hash := hex.EncodeToString(sum[:])

	var existingID int64
	if file.server != nil {
		existingID = file.server.ID
	}

	emulator, _ := e.locator.Labels(entityID)

	saved, err := e.remote.UploadSave(ctx, romm.UploadRequest{
		EntityID:   entityID,
		DeviceID:   deviceID,
		FileName:   file.name,
		Content:    data,
		ExistingID: existingID,
		Emulator:   emulator,
		Progress:   e.progressFor(entityID, file.name),
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", file.name, err)
	}

	now := e.nowFunc().UTC()

	err = e.recordSynced(entityID, file.name, FileSyncRecord{
		LastSyncHash:            hash,
		LastSyncAt:              later(now, saved.UpdatedAt.UTC()),
		LastSyncServerUpdatedAt: saved.UpdatedAt.UTC(),
		LastSyncServerID:        saved.ID,
		LocalMtimeAtLastSync:    file.localMtime.UTC(),
	})
	if err != nil {
		return err
	}

	e.logger.Info("uploaded save",
		slog.String("entity_id", entityID),
		slog.String("file", file.name),
		slog.Int64("save_id", saved.ID),
		slog.Bool("update", existingID != 0),
	)

	e.journalEvent(ctx, Event{
		RunID: runID, EntityID: entityID, FileName: file.name,
		Kind: EventUpload, Bytes: int64(len(data)),
	})

	return nil
}

// download fetches the server copy into a temp file beside the target,
// verifies it, moves any existing local file into the backup folder, and
// renames the temp file into place. Nothing local changes unless the whole
// download succeeded.
func (e *Engine) download(ctx context.Context, runID, deviceID, entityID, saveDir string, file *fileState) error {
	target := filepath.Join(saveDir, file.name)
	if file.local != nil {
		target = file.local.Path
	}

	dir := filepath.Dir(target)
	if err := e.fs.MkdirAll(dir, saveDirPerms); err != nil {
		return fmt.Errorf("creating save directory %s: %w", dir, err)
	}

	tmpPath, hash, n, err := e.downloadToTemp(ctx, deviceID, entityID, dir, file)
	if err != nil {
		return err
	}

	committed := false

	defer func() {
		if !committed {
			e.fs.Remove(tmpPath)
		}
	}()

	if want := file.server.ContentHash; want != "" && !strings.EqualFold(want, hash) {
		return fmt.Errorf("%w: %s (server %s, got %s)", ErrHashMismatch, file.name, want, hash)
	}

	if mt := file.server.UpdatedAt; !mt.IsZero() {
		if err := e.fs.Chtimes(tmpPath, mt, mt); err != nil {
			e.logger.Warn("failed to set mtime on downloaded save",
				slog.String("file", file.name),
				slog.String("error", err.Error()),
			)
		}
	}

	backup, err := e.backupExisting(target, saveDir, file.name)
	if err != nil {
		return err
	}

	if err := e.fs.Rename(tmpPath, target); err != nil {
		if backup != "" {
			if restoreErr := e.fs.Rename(backup, target); restoreErr != nil {
				e.logger.Error("failed to restore backup after rename failure",
					slog.String("backup", backup),
					slog.String("error", restoreErr.Error()),
				)
			}
		}

		return fmt.Errorf("renaming download into place: %w", err)
	}

	committed = true

	localMtime := file.server.UpdatedAt.UTC()
	if info, statErr := e.fs.Stat(target); statErr == nil {
		localMtime = info.ModTime().UTC()
	}

	now := e.nowFunc().UTC()

	err = e.recordSynced(entityID, file.name, FileSyncRecord{
		LastSyncHash:            hash,
		LastSyncAt:              later(now, file.server.UpdatedAt.UTC()),
		LastSyncServerUpdatedAt: file.server.UpdatedAt.UTC(),
		LastSyncServerID:        file.server.ID,
		LocalMtimeAtLastSync:    localMtime,
	})
	if err != nil {
		return err
	}

	e.logger.Info("downloaded save",
		slog.String("entity_id", entityID),
		slog.String("file", file.name),
		slog.Int64("save_id", file.server.ID),
		slog.Int64("bytes", n),
		slog.String("backup", backup),
	)

	e.journalEvent(ctx, Event{
		RunID: runID, EntityID: entityID, FileName: file.name,
		Kind: EventDownload, Bytes: n, Detail: backup,
	})

	return nil
}

// downloadToTemp streams the server copy into a new temp file in dir while
// hashing it. On error the temp file is already removed.
func (e *Engine) downloadToTemp(
	ctx context.Context, deviceID, entityID, dir string, file *fileState,
) (tmpPath, hash string, n int64, err error) {
	tmp, err := afero.TempFile(e.fs, dir, "."+file.name+".*.partial")
	if err != nil {
		return "", "", 0, fmt.Errorf("creating temp file: %w", err)
	}

	tmpPath = tmp.Name()

	h := md5.New() //nolint:gosec // content identity, not security
	w := romm.NewProgressWriter(io.MultiWriter(tmp, h), file.server.Size, e.progressFor(entityID, file.name))

	n, err = e.remote.DownloadSave(ctx, file.server.ID, deviceID, w)
	if err == nil {
		err = tmp.Sync()
	}

	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		e.fs.Remove(tmpPath)
		return "", "", 0, fmt.Errorf("downloading %s: %w", file.name, err)
	}

	return tmpPath, hex.EncodeToString(h.Sum(nil)), n, nil
}

// backupExisting moves an existing file at target into
// <saveDir>/<backupDir>/<timestamp>/<name>. Returns "" when there was nothing
// to back up.
func (e *Engine) backupExisting(target, saveDir, name string) (string, error) {
	if _, err := e.fs.Stat(target); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}

		return "", fmt.Errorf("checking %s: %w", target, err)
	}

	stampDir := filepath.Join(saveDir, e.backupDirName, e.nowFunc().UTC().Format(backupTimeLayout))
	if err := e.fs.MkdirAll(stampDir, saveDirPerms); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}

	backup, err := e.freeBackupPath(filepath.Join(stampDir, name))
	if err != nil {
		return "", err
	}

	if err := e.fs.Rename(target, backup); err != nil {
		return "", fmt.Errorf("backing up %s: %w", target, err)
	}

	return backup, nil
}

// freeBackupPath returns path, or path with a numeric suffix before the
// extension when it is taken. It fails once every suffix is in use.
func (e *Engine) freeBackupPath(path string) (string, error) {
	if !e.exists(path) {
		return path, nil
	}

	stem, ext := splitStemExt(path)

	for i := 1; i <= maxBackupSuffix; i++ {
		candidate := fmt.Sprintf("%s-%d%s", stem, i, ext)
		if !e.exists(candidate) {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("no free backup name for %s after %d attempts", path, maxBackupSuffix)
}

func (e *Engine) exists(path string) bool {
	_, err := e.fs.Stat(path)
	return err == nil
}

// splitStemExt splits a path into stem and extension. A dotfile with no
// other dot has no extension.
func splitStemExt(path string) (stem, ext string) {
	base := filepath.Base(path)
	dir := path[:len(path)-len(base)]

	if strings.HasPrefix(base, ".") && strings.Count(base, ".") == 1 {
		return dir + base, ""
	}

	ext = filepath.Ext(base)

	return dir + base[:len(base)-len(ext)], ext
}

// recordSynced stores a FileSyncRecord together with the entity labels.
func (e *Engine) recordSynced(entityID, fileName string, rec FileSyncRecord) error {
	emulator, system := e.locator.Labels(entityID)

	err := e.mutate(func(l *Ledger) error {
		l.SetRecord(entityID, fileName, rec)

		st := l.Saves[entityID]
		st.Emulator = emulator
		st.System = system

		return nil
	})
	if err != nil {
		return fmt.Errorf("saving ledger after %s: %w", fileName, err)
	}

	return nil
}

// fileTime is the mtime of path, or zero if it cannot be read.
func (e *Engine) fileTime(path string) time.Time {
	info, err := e.fs.Stat(path)
	if err != nil {
		return time.Time{}
	}

	return info.ModTime()
}
