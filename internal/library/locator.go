package library

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/romm-sync/internal/savesync"
)

// DefaultExtensions are the save file extensions matched when none are
// configured.
var DefaultExtensions = []string{".srm", ".sav", ".rtc", ".eep", ".sra", ".fla", ".mcr", ".mcd", ".dsv", ".ps2"}

// EntitySource is the subset of Registry the locator reads.
type EntitySource interface {
	Get(id string) (*Entity, error)
	List() ([]Entity, error)
}

// Locator finds an entity's save files. Saves live directly inside
// <saves_root>/<system>/ (or the entity's SaveDir) and share the ROM file's
// stem, e.g. "Zelda (USA).sfc" owns "Zelda (USA).srm".
type Locator struct {
	fs         afero.Fs
	entities   EntitySource
	savesRoot  string
	extensions map[string]bool
	logger     *slog.Logger
}

var _ savesync.Locator = (*Locator)(nil)

// NewLocator builds a locator. A nil or empty extension list uses
// DefaultExtensions. Extensions are compared case-insensitively.
func NewLocator(fsys afero.Fs, entities EntitySource, savesRoot string, extensions []string, logger *slog.Logger) *Locator {
	if logger == nil {
		logger = slog.Default()
	}

	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}

	exts := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}

		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}

		exts[ext] = true
	}

	return &Locator{fs: fsys, entities: entities, savesRoot: savesRoot, extensions: exts, logger: logger}
}

// SaveDirectoryFor returns the directory downloads for entityID land in.
func (l *Locator) SaveDirectoryFor(entityID string) (string, error) {
	e, err := l.entities.Get(entityID)
	if err != nil {
		return "", err
	}

	return l.saveDir(e), nil
}

func (l *Locator) saveDir(e *Entity) string {
	if e.SaveDir != "" {
		return e.SaveDir
	}

	return filepath.Join(l.savesRoot, e.System)
}

// LocateSaveFiles lists the save files owned by entityID. A missing save
// directory means no saves yet.
func (l *Locator) LocateSaveFiles(entityID string) ([]savesync.LocalFile, error) {
	e, err := l.entities.Get(entityID)
	if err != nil {
		return nil, err
	}

	dir := l.saveDir(e)

	infos, err := afero.ReadDir(l.fs, dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			l.logger.Debug("save directory does not exist yet",
				slog.String("entity_id", entityID), slog.String("dir", dir))

			return nil, nil
		}

		return nil, fmt.Errorf("library: reading save directory %s: %w", dir, err)
	}

	want := norm.NFC.String(stem(e.FileName))

	var out []savesync.LocalFile

	for _, fi := range infos {
		if !fi.Mode().IsRegular() {
			continue
		}

		name := fi.Name()

		if !l.extensions[strings.ToLower(filepath.Ext(name))] {
			continue
		}

		if !strings.EqualFold(norm.NFC.String(stem(name)), want) {
			continue
		}

		out = append(out, savesync.LocalFile{Path: filepath.Join(dir, name), FileName: name})
	}

	return out, nil
}

// Labels returns the emulator and system recorded for entityID, or empty
// strings for an unknown entity.
func (l *Locator) Labels(entityID string) (string, string) {
	e, err := l.entities.Get(entityID)
	if err != nil {
		return "", ""
	}

	return e.Emulator, e.System
}

// InstalledEntities returns every registered entity id.
func (l *Locator) InstalledEntities() ([]string, error) {
	list, err := l.entities.List()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(list))
	for i := range list {
		ids = append(ids, list[i].ID)
	}

	return ids, nil
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
