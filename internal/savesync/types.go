// Package savesync implements save-file synchronization between the local
// device and a RomM server: the persisted sync ledger, three-way change
// classification, the conflict policy, the per-entity orchestrator, and
// playtime bookkeeping.
package savesync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tonimelisma/romm-sync/internal/romm"
)

// Sentinel errors.
var (
	ErrNoActiveSession  = errors.New("savesync: no active session")
	ErrSyncInProgress   = errors.New("savesync: sync already in progress for entity")
	ErrNoDeviceID       = errors.New("savesync: device is not registered")
	ErrConflictNotFound = errors.New("savesync: no pending conflict")
)

// ConflictMode selects how a conflict between local and server copies is
// settled.
type ConflictMode string

// Conflict modes as persisted in the ledger settings.
const (
	ModeNewestWins     ConflictMode = "newest_wins"
	ModeAlwaysUpload   ConflictMode = "always_upload"
	ModeAlwaysDownload ConflictMode = "always_download"
	ModeAskMe          ConflictMode = "ask_me"
)

// ParseConflictMode validates s as a conflict mode.
func ParseConflictMode(s string) (ConflictMode, error) {
	switch m := ConflictMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeNewestWins, ModeAlwaysUpload, ModeAlwaysDownload, ModeAskMe:
		return m, nil
	default:
		return "", fmt.Errorf("savesync: unknown conflict mode %q (want newest_wins, always_upload, always_download, or ask_me)", s)
	}
}

// SyncPolicy is the user-tunable sync behavior stored in the ledger.
type SyncPolicy struct {
	ConflictMode       ConflictMode `json:"conflict_mode"`
	SyncBeforeLaunch   bool         `json:"sync_before_launch"`
	SyncAfterExit      bool         `json:"sync_after_exit"`
	ClockSkewTolerance int          `json:"clock_skew_tolerance_sec"`
}

// DefaultPolicy returns the policy used when nothing is persisted.
func DefaultPolicy() SyncPolicy {
	return SyncPolicy{
		ConflictMode:       ModeNewestWins,
		SyncBeforeLaunch:   true,
		SyncAfterExit:      true,
		ClockSkewTolerance: 60,
	}
}

// Tolerance returns the clock skew tolerance as a duration.
func (p SyncPolicy) Tolerance() time.Duration {
	if p.ClockSkewTolerance < 0 {
		return 0
	}

	return time.Duration(p.ClockSkewTolerance) * time.Second
}

// PolicyPatch is a partial settings update. Nil fields are left unchanged.
type PolicyPatch struct {
	ConflictMode       *ConflictMode `json:"conflict_mode,omitempty"`
	SyncBeforeLaunch   *bool         `json:"sync_before_launch,omitempty"`
	SyncAfterExit      *bool         `json:"sync_after_exit,omitempty"`
	ClockSkewTolerance *int          `json:"clock_skew_tolerance_sec,omitempty"`
}

// Apply returns p with the patch applied, or an error if a value is invalid.
func (pp PolicyPatch) Apply(p SyncPolicy) (SyncPolicy, error) {
	if pp.ConflictMode != nil {
		m, err := ParseConflictMode(string(*pp.ConflictMode))
		if err != nil {
			return p, err
		}

		p.ConflictMode = m
	}

	if pp.SyncBeforeLaunch != nil {
		p.SyncBeforeLaunch = *pp.SyncBeforeLaunch
	}

	if pp.SyncAfterExit != nil {
		p.SyncAfterExit = *pp.SyncAfterExit
	}

	if pp.ClockSkewTolerance != nil {
		if *pp.ClockSkewTolerance < 0 {
			return p, fmt.Errorf("savesync: clock skew tolerance must be non-negative, got %d", *pp.ClockSkewTolerance)
		}

		p.ClockSkewTolerance = *pp.ClockSkewTolerance
	}

	return p, nil
}

// FileSyncRecord is the last known synced state of one save file. A record
// exists only after a successful upload or download.
type FileSyncRecord struct {
	LastSyncHash            string    `json:"last_sync_hash"`
	LastSyncAt              time.Time `json:"last_sync_at"`
	LastSyncServerUpdatedAt time.Time `json:"last_sync_server_updated_at"`
	LastSyncServerID        int64     `json:"last_sync_server_id"`
	LocalMtimeAtLastSync    time.Time `json:"local_mtime_at_last_sync"`
}

// EntitySaveState groups the file records of one entity.
type EntitySaveState struct {
	Files    map[string]*FileSyncRecord `json:"files"`
	Emulator string                     `json:"emulator,omitempty"`
	System   string                     `json:"system,omitempty"`
}

// ConflictRecord is a file whose local and server copies both changed since
// the last sync and that awaits a user decision.
type ConflictRecord struct {
	ID              string    `json:"id"`
	EntityID        string    `json:"entity_id"`
	FileName        string    `json:"filename"`
	LocalPath       string    `json:"local_path"`
	LocalHash       string    `json:"local_hash"`
	LocalMtime      time.Time `json:"local_mtime"`
	LocalSize       int64     `json:"local_size"`
	ServerSaveID    int64     `json:"server_save_id"`
	ServerHash      string    `json:"server_hash"`
	ServerUpdatedAt time.Time `json:"server_updated_at"`
	ServerSize      int64     `json:"server_size"`
	CreatedAt       time.Time `json:"created_at"`
}

// PlaytimeRecord accumulates play sessions for one entity. SessionStart is
// non-nil only while a session is open.
type PlaytimeRecord struct {
	TotalSeconds        int64      `json:"total_seconds"`
	SessionCount        int        `json:"session_count"`
	SessionStart        *time.Time `json:"last_session_start"`
	LastSessionDuration int64      `json:"last_session_duration_sec"`
}

// Direction restricts which transfers a sync may perform.
type Direction int

// Sync directions.
const (
	DirectionBoth Direction = iota
	DirectionDownload
	DirectionUpload
)

func (d Direction) String() string {
	switch d {
	case DirectionDownload:
		return "download"
	case DirectionUpload:
		return "upload"
	default:
		return "both"
	}
}

// allows reports whether a transfer of kind a is permitted.
func (d Direction) allows(a Action) bool {
	switch d {
	case DirectionDownload:
		return a != ActionUpload
	case DirectionUpload:
		return a != ActionDownload
	default:
		return true
	}
}

// Action is the classification of one file.
type Action int

// Classification outcomes.
const (
	ActionSkip Action = iota
	ActionUpload
	ActionDownload
	ActionConflict
)

func (a Action) String() string {
	switch a {
	case ActionUpload:
		return "upload"
	case ActionDownload:
		return "download"
	case ActionConflict:
		return "conflict"
	default:
		return "skip"
	}
}

// Resolution is the outcome of applying the conflict policy.
type Resolution int

// Policy outcomes.
const (
	ResolveAsk Resolution = iota
	ResolveUpload
	ResolveDownload
)

func (r Resolution) String() string {
	switch r {
	case ResolveUpload:
		return "upload"
	case ResolveDownload:
		return "download"
	default:
		return "ask"
	}
}

// FileError is a per-file failure that did not stop the entity sync.
type FileError struct {
	EntityID string
	FileName string
	Err      error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s/%s: %v", e.EntityID, e.FileName, e.Err)
}

// SyncReport summarizes one entity sync.
type SyncReport struct {
	EntityID   string
	Uploaded   int
	Downloaded int
	Skipped    int
	Conflicts  int
	Errors     []FileError
}

// Synced is the number of files actually transferred.
func (r *SyncReport) Synced() int {
	return r.Uploaded + r.Downloaded
}

// ErrorStrings flattens Errors for display.
func (r *SyncReport) ErrorStrings() []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, e.Error())
	}

	return out
}

// LocalFile is a candidate save file on disk.
type LocalFile struct {
	Path     string
	FileName string
}

// RemoteClient is the subset of the RomM API the engine needs.
type RemoteClient interface {
	ListSaves(ctx context.Context, entityID, deviceID string) ([]romm.Save, error)
	GetSave(ctx context.Context, saveID int64, deviceID string) (*romm.Save, error)
	UploadSave(ctx context.Context, req romm.UploadRequest) (*romm.Save, error)
	DownloadSave(ctx context.Context, saveID int64, deviceID string, w io.Writer) (int64, error)
	RegisterDevice(ctx context.Context, hostname, platform string) (*romm.Device, error)
}

// Locator maps installed entities to their local save files.
type Locator interface {
	LocateSaveFiles(entityID string) ([]LocalFile, error)
	SaveDirectoryFor(entityID string) (string, error)
	Labels(entityID string) (emulator, system string)
	InstalledEntities() ([]string, error)
}
