package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/afero"

	"github.com/tonimelisma/romm-sync/internal/library"
	"github.com/tonimelisma/romm-sync/internal/romm"
	"github.com/tonimelisma/romm-sync/internal/savesync"
	"github.com/tonimelisma/romm-sync/internal/tokenfile"
)

// ledgerLockWait bounds how long a command waits for another romm-sync
// process (typically a hook) to release the ledger.
const ledgerLockWait = 30 * time.Second

// agent is the fully wired sync stack for one CLI invocation: registry,
// locator, journal, remote client, engine and service, all under the
// cross-process ledger lock.
type agent struct {
	Registry *library.Registry
	Locator  *library.Locator
	Journal  *savesync.Journal
	Service  *savesync.Service

	closers []func()
}

// openAgent builds the stack. When the user is not logged in the engine gets
// an offline remote, so local-only commands (status, conflicts, settings,
// session) keep working and sync commands fail per call with a clear error.
func openAgent(ctx context.Context, cc *CLIContext) (*agent, error) {
	a := &agent{}

	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	release, err := acquireLedgerLock(ctx, cc.Cfg.LockPath(), ledgerLockWait)
	if err != nil {
		return nil, err
	}

	a.closers = append(a.closers, release)

	registry, err := library.OpenRegistry(cc.Cfg.LibraryPath(), cc.Logger)
	if err != nil {
		return nil, err
	}

	a.Registry = registry
	a.closers = append(a.closers, func() { registry.Close() })

	journal, err := savesync.OpenJournal(ctx, cc.Cfg.JournalPath(), cc.Logger)
	if err != nil {
		return nil, err
	}

	a.Journal = journal
	a.closers = append(a.closers, func() { journal.Close() })

	fsys := afero.NewOsFs()
	a.Locator = library.NewLocator(fsys, registry, cc.Cfg.Paths.SavesRoot, cc.Cfg.Saves.Extensions, cc.Logger)

	remote, err := newRemote(ctx, cc)
	if err != nil {
		return nil, err
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	engine, err := savesync.NewEngine(savesync.EngineConfig{
		Store:            savesync.NewLedgerStore(fsys, cc.Cfg.LedgerPath(), cc.Cfg.SyncPolicy(), cc.Logger),
		Remote:           remote,
		Locator:          a.Locator,
		FS:               fsys,
		Journal:          journal,
		Logger:           cc.Logger,
		Hostname:         hostname,
		Platform:         runtime.GOOS,
		BackupDirName:    cc.Cfg.Saves.BackupDirName,
		Progress:         progressPrinter(cc),
		ProgressInterval: cc.Cfg.ProgressInterval(),
	})
	if err != nil {
		return nil, err
	}

	a.Service = savesync.NewService(engine, cc.Logger)
	ok = true

	return a, nil
}

// Close releases everything in reverse order of acquisition.
func (a *agent) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}

	a.closers = nil
}

// newRemote returns a RomM client authenticated with the saved token, or an
// offlineRemote when no token exists.
func newRemote(ctx context.Context, cc *CLIContext) (savesync.RemoteClient, error) {
	ts, err := romm.TokenSourceFromPath(ctx, cc.Cfg.TokenPath(), cc.Logger)
	if errors.Is(err, romm.ErrNotLoggedIn) {
		cc.Logger.Debug("no saved token, running offline")
		return offlineRemote{}, nil
	}

	if err != nil {
		return nil, err
	}

	serverURL, err := serverURLFor(cc)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cc.Cfg.RequestTimeout()}

	return romm.NewClient(serverURL, httpClient, ts, cc.Cfg.Network.UserAgent, cc.Logger), nil
}

// serverURLFor picks the configured server, falling back to the server the
// saved token was issued by.
func serverURLFor(cc *CLIContext) (string, error) {
	if cc.Cfg.Server.URL != "" {
		return cc.Cfg.Server.URL, nil
	}

	tf, err := tokenfile.Load(cc.Cfg.TokenPath())
	if err != nil {
		return "", err
	}

	if tf == nil || tf.Server == "" {
		return "", errors.New("no server configured, run 'romm-sync login --server <url>' first")
	}

	return tf.Server, nil
}

// errOffline is returned by every offlineRemote call.
var errOffline = fmt.Errorf("%w, run 'romm-sync login' first", romm.ErrNotLoggedIn)

// offlineRemote stands in for the server before login.
type offlineRemote struct{}

func (offlineRemote) ListSaves(context.Context, string, string) ([]romm.Save, error) {
	return nil, errOffline
}

func (offlineRemote) GetSave(context.Context, int64, string) (*romm.Save, error) {
	return nil, errOffline
}

func (offlineRemote) UploadSave(context.Context, romm.UploadRequest) (*romm.Save, error) {
	return nil, errOffline
}

func (offlineRemote) DownloadSave(context.Context, int64, string, io.Writer) (int64, error) {
	return 0, errOffline
}

func (offlineRemote) RegisterDevice(context.Context, string, string) (*romm.Device, error) {
	return nil, errOffline
}

// progressPrinter reports transfer progress on an interactive stderr.
func progressPrinter(cc *CLIContext) savesync.ProgressFunc {
	if cc.Flags.Quiet || cc.Flags.JSON || !isatty.IsTerminal(os.Stderr.Fd()) {
		return nil
	}

	return func(entityID, fileName string, done, total int64) {
		if total <= 0 {
			fmt.Fprintf(os.Stderr, "\r%s/%s  %s", entityID, fileName, formatSize(done))
		} else {
			fmt.Fprintf(os.Stderr, "\r%s/%s  %3d%%", entityID, fileName, done*100/total)
		}

		if done == total {
			fmt.Fprintln(os.Stderr)
		}
	}
}

// withAgent opens the stack, runs fn, and closes it.
func withAgent(ctx context.Context, cc *CLIContext, fn func(a *agent) error) error {
	a, err := openAgent(ctx, cc)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(a)
}

// logResult mirrors a Result into the structured log.
func logResult(logger *slog.Logger, op string, res savesync.Result) {
	level := slog.LevelInfo
	if !res.Success {
		level = slog.LevelWarn
	}

	logger.Log(context.Background(), level, op+" finished",
		slog.Bool("success", res.Success),
		slog.Int("synced", res.Synced),
		slog.Int("conflicts", res.Conflicts),
		slog.Int("errors", len(res.Errors)),
	)
}
