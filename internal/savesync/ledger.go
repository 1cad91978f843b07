package savesync

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// LedgerVersion is the schema version written to new ledgers.
const LedgerVersion = 1

const (
	ledgerFilePerms = 0o600
	ledgerDirPerms  = 0o700
)

// Ledger is the persisted record of save-sync and playtime state for this
// device. It is not safe for concurrent use; the Engine serializes access.
type Ledger struct {
	Version          int                         `json:"version"`
	DeviceID         string                      `json:"device_id"`
	DeviceName       string                      `json:"device_name"`
	Saves            map[string]*EntitySaveState `json:"saves"`
	Playtime         map[string]*PlaytimeRecord  `json:"playtime"`
	PendingConflicts []ConflictRecord            `json:"pending_conflicts"`
	OfflineQueue     []json.RawMessage           `json:"offline_queue"`
	Settings         SyncPolicy                  `json:"settings"`
}

// NewLedger returns an empty ledger with the given policy.
func NewLedger(policy SyncPolicy) *Ledger {
	l := &Ledger{Version: LedgerVersion, Settings: policy}
	l.normalize()

	return l
}

// normalize replaces nil collections so the ledger can be mutated and
// serialized without nil checks.
func (l *Ledger) normalize() {
	if l.Saves == nil {
		l.Saves = make(map[string]*EntitySaveState)
	}

	for id, st := range l.Saves {
		if st == nil {
			st = &EntitySaveState{}
			l.Saves[id] = st
		}

		if st.Files == nil {
			st.Files = make(map[string]*FileSyncRecord)
		}

		for name, rec := range st.Files {
			if rec == nil {
				delete(st.Files, name)
			}
		}
	}

	if l.Playtime == nil {
		l.Playtime = make(map[string]*PlaytimeRecord)
	}

	for id, p := range l.Playtime {
		if p == nil {
			delete(l.Playtime, id)
		}
	}

	l.PendingConflicts = dedupConflicts(l.PendingConflicts)

	if l.OfflineQueue == nil {
		l.OfflineQueue = []json.RawMessage{}
	}

	if l.Version == 0 {
		l.Version = LedgerVersion
	}
}

// dedupConflicts keeps the first record per entity and file. A nil or
// duplicate-free queue comes back as a non-nil slice.
func dedupConflicts(queue []ConflictRecord) []ConflictRecord {
	out := make([]ConflictRecord, 0, len(queue))
	seen := make(map[string]struct{}, len(queue))

	for _, c := range queue {
		key := c.EntityID + "/" + c.FileName
		if _, dup := seen[key]; dup {
			continue
		}

		seen[key] = struct{}{}
		out = append(out, c)
	}

	return out
}

// Record returns the sync record of a file, or nil if it was never synced.
func (l *Ledger) Record(entityID, fileName string) *FileSyncRecord {
	st, ok := l.Saves[entityID]
	if !ok {
		return nil
	}

	return st.Files[fileName]
}

// SetRecord stores the sync record of a file, creating the entity state if
// needed.
func (l *Ledger) SetRecord(entityID, fileName string, rec FileSyncRecord) {
	st, ok := l.Saves[entityID]
	if !ok {
		st = &EntitySaveState{Files: make(map[string]*FileSyncRecord)}
		l.Saves[entityID] = st
	}

	st.Files[fileName] = &rec
}

// EnqueueConflict adds rec to the pending queue. An existing record for the
// same entity and file is updated in place, keeping its id and position.
// Returns the stored record.
func (l *Ledger) EnqueueConflict(rec ConflictRecord) ConflictRecord {
	for i := range l.PendingConflicts {
		cur := &l.PendingConflicts[i]
		if cur.EntityID == rec.EntityID && cur.FileName == rec.FileName {
			rec.ID = cur.ID
			*cur = rec

			return rec
		}
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	l.PendingConflicts = append(l.PendingConflicts, rec)

	return rec
}

// RemoveConflict deletes the pending conflict for a file and returns it.
func (l *Ledger) RemoveConflict(entityID, fileName string) (ConflictRecord, bool) {
	for i, c := range l.PendingConflicts {
		if c.EntityID == entityID && c.FileName == fileName {
			l.PendingConflicts = append(l.PendingConflicts[:i], l.PendingConflicts[i+1:]...)
			return c, true
		}
	}

	return ConflictRecord{}, false
}

// HasConflict reports whether a conflict is pending for a file.
func (l *Ledger) HasConflict(entityID, fileName string) bool {
	for _, c := range l.PendingConflicts {
		if c.EntityID == entityID && c.FileName == fileName {
			return true
		}
	}

	return false
}

// FindConflict looks up a pending conflict by full id, unique id prefix, or
// "entity/filename". Returns ErrConflictNotFound when nothing matches and an
// error naming the candidates when a prefix is ambiguous.
func (l *Ledger) FindConflict(ref string) (ConflictRecord, error) {
	for _, c := range l.PendingConflicts {
		if c.ID == ref || c.EntityID+"/"+c.FileName == ref {
			return c, nil
		}
	}

	var matches []ConflictRecord

	for _, c := range l.PendingConflicts {
		if ref != "" && strings.HasPrefix(c.ID, ref) {
			matches = append(matches, c)
		}
	}

	switch len(matches) {
	case 0:
		return ConflictRecord{}, fmt.Errorf("%w matching %q", ErrConflictNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, m.ID)
		}

		return ConflictRecord{}, fmt.Errorf("savesync: ambiguous conflict id %q matches %s", ref, strings.Join(ids, ", "))
	}
}

// clone returns a deep copy of the ledger.
func (l *Ledger) clone() *Ledger {
	c := *l

	c.Saves = make(map[string]*EntitySaveState, len(l.Saves))
	for id, st := range l.Saves {
		cp := *st
		cp.Files = make(map[string]*FileSyncRecord, len(st.Files))

		for name, rec := range st.Files {
			r := *rec
			cp.Files[name] = &r
		}

		c.Saves[id] = &cp
	}

	c.Playtime = make(map[string]*PlaytimeRecord, len(l.Playtime))
	for id, p := range l.Playtime {
		cp := *p
		if p.SessionStart != nil {
			t := *p.SessionStart
			cp.SessionStart = &t
		}

		c.Playtime[id] = &cp
	}

	c.PendingConflicts = append([]ConflictRecord{}, l.PendingConflicts...)
	c.OfflineQueue = append([]json.RawMessage{}, l.OfflineQueue...)

	return &c
}

// LedgerStore loads and atomically saves a Ledger as JSON.
type LedgerStore struct {
	fs       afero.Fs
	path     string
	defaults SyncPolicy
	logger   *slog.Logger
}

// NewLedgerStore returns a store for the ledger file at path. defaults seeds
// the settings of a ledger that does not exist yet.
func NewLedgerStore(fsys afero.Fs, path string, defaults SyncPolicy, logger *slog.Logger) *LedgerStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &LedgerStore{fs: fsys, path: path, defaults: defaults, logger: logger}
}

// Path returns the ledger file location.
func (s *LedgerStore) Path() string {
	return s.path
}

// Load reads the ledger. A missing file yields a fresh ledger. Persisted
// fields are decoded over the defaults, so keys absent from the file keep
// their default values and unknown keys are ignored.
func (s *LedgerStore) Load() (*Ledger, error) {
	l := NewLedger(s.defaults)

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, os.ErrNotExist) {
			s.logger.Debug("no ledger on disk, starting fresh", slog.String("path", s.path))
			return l, nil
		}

		return nil, fmt.Errorf("savesync: reading ledger %s: %w", s.path, err)
	}

	if err := json.Unmarshal(data, l); err != nil {
		return nil, fmt.Errorf("savesync: decoding ledger %s: %w", s.path, err)
	}

	l.normalize()

	if l.Settings.ConflictMode == "" {
		l.Settings.ConflictMode = s.defaults.ConflictMode
	}

	s.logger.Debug("loaded ledger",
		slog.String("path", s.path),
		slog.Int("entities", len(l.Saves)),
		slog.Int("pending_conflicts", len(l.PendingConflicts)),
	)

	return l, nil
}

// Save writes the ledger atomically: temp file in the same directory, fsync,
// rename over the target.
func (s *LedgerStore) Save(l *Ledger) error {
	l.normalize()

	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("savesync: encoding ledger: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, ledgerDirPerms); err != nil {
		return fmt.Errorf("savesync: creating ledger directory: %w", err)
	}

	tmp, err := afero.TempFile(s.fs, dir, ".ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("savesync: creating temp ledger: %w", err)
	}

	tmpPath := tmp.Name()
	success := false

	defer func() {
		if !success {
			tmp.Close()
			s.fs.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("savesync: writing temp ledger: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("savesync: syncing temp ledger: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("savesync: closing temp ledger: %w", err)
	}

	if err := s.fs.Chmod(tmpPath, ledgerFilePerms); err != nil {
		return fmt.Errorf("savesync: setting ledger permissions: %w", err)
	}

	if err := s.fs.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("savesync: renaming ledger into place: %w", err)
	}

	success = true

	return nil
}

// later returns the later of two instants.
func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}

	return a
}
