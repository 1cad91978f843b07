// Package library tracks the entities (installed games) this device knows
// about and maps each one to its save files on disk.
package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const (
	registryFilePerms = 0o600
	registryDirPerms  = 0o700
	openTimeout       = 2 * time.Second
)

var bucketEntities = []byte("entities")

// ErrUnknownEntity is returned for entity ids not present in the registry.
var ErrUnknownEntity = errors.New("library: unknown entity")

// Entity is one installed game as mirrored from the server.
type Entity struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	FileName    string    `json:"file_name"`
	System      string    `json:"system"`
	Emulator    string    `json:"emulator,omitempty"`
	SaveDir     string    `json:"save_dir,omitempty"` // overrides <saves_root>/<system>
	InstalledAt time.Time `json:"installed_at"`
}

// Validate checks the fields the locator depends on.
func (e *Entity) Validate() error {
	var errs []error

	if strings.TrimSpace(e.ID) == "" {
		errs = append(errs, errors.New("id is required"))
	}

	if strings.TrimSpace(e.FileName) == "" {
		errs = append(errs, errors.New("file name is required"))
	} else if strings.ContainsAny(e.FileName, `/\`) {
		errs = append(errs, fmt.Errorf("file name %q must not contain a path separator", e.FileName))
	}

	if e.SaveDir == "" && strings.TrimSpace(e.System) == "" {
		errs = append(errs, errors.New("system is required unless a save directory is given"))
	}

	return errors.Join(errs...)
}

// Registry is the bbolt-backed store of installed entities.
type Registry struct {
	db      *bbolt.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// OpenRegistry opens (creating if needed) the registry database at dbPath.
// bbolt holds an exclusive file lock, so a second process blocks up to
// openTimeout and then fails.
func OpenRegistry(dbPath string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), registryDirPerms); err != nil {
		return nil, fmt.Errorf("library: creating registry directory: %w", err)
	}

	db, err := bbolt.Open(dbPath, registryFilePerms, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("library: opening registry %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, bErr := tx.CreateBucketIfNotExists(bucketEntities)
		return bErr
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("library: initializing registry: %w", err)
	}

	logger.Debug("registry opened", slog.String("path", dbPath))

	return &Registry{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Close releases the database.
func (r *Registry) Close() error {
	if r.db == nil {
		return nil
	}

	return r.db.Close()
}

// Put adds or replaces an entity. A zero InstalledAt is set to now.
func (r *Registry) Put(e Entity) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("library: invalid entity: %w", err)
	}

	if e.InstalledAt.IsZero() {
		e.InstalledAt = r.nowFunc().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("library: encoding entity %s: %w", e.ID, err)
	}

	err = r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntities).Put([]byte(e.ID), data)
	})
	if err != nil {
		return fmt.Errorf("library: storing entity %s: %w", e.ID, err)
	}

	r.logger.Info("entity registered",
		slog.String("entity_id", e.ID),
		slog.String("system", e.System),
		slog.String("file_name", e.FileName),
	)

	return nil
}

// Get returns the entity with the given id or ErrUnknownEntity.
func (r *Registry) Get(id string) (*Entity, error) {
	var e *Entity

	err := r.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketEntities).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrUnknownEntity, id)
		}

		e = &Entity{}

		return json.Unmarshal(data, e)
	})
	if err != nil {
		if errors.Is(err, ErrUnknownEntity) {
			return nil, err
		}

		return nil, fmt.Errorf("library: reading entity %s: %w", id, err)
	}

	return e, nil
}

// Delete removes an entity. Deleting an unknown id returns ErrUnknownEntity.
func (r *Registry) Delete(id string) error {
	err := r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEntities)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", ErrUnknownEntity, id)
		}

		return b.Delete([]byte(id))
	})
	if err != nil {
		if errors.Is(err, ErrUnknownEntity) {
			return err
		}

		return fmt.Errorf("library: deleting entity %s: %w", id, err)
	}

	r.logger.Info("entity removed", slog.String("entity_id", id))

	return nil
}

// List returns every entity sorted by id.
func (r *Registry) List() ([]Entity, error) {
	var out []Entity

	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntities).ForEach(func(k, v []byte) error {
			var e Entity
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decoding entity %s: %w", k, err)
			}

			out = append(out, e)

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("library: listing entities: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}
