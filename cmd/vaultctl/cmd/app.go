package cmd

import ("context"
	"crypto/hkdf"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/koofr/vault-core/internal/config"
	"github.com/koofr/vault-core/internal/dialogs"
	"github.com/koofr/vault-core/internal/events"
	"github.com/koofr/vault-core/internal/logging"
	"github.com/koofr/vault-core/internal/remoteapi"
	"github.com/koofr/vault-core/internal/remoteapi/mount"
	"github.com/koofr/vault-core/internal/repofiles"
	"github.com/koofr/vault-core/internal/repofilesdetails"
	"github.com/koofr/vault-core/internal/repos"
	"github.com/koofr/vault-core/internal/store"
	"github.com/koofr/vault-core/internal/transfers/engine")

// app is the process-wide wiring every subcommand shares: one Store, one
// in-process RemoteApi, one unlocked repo, the three services layered on
// top, and the transfer engine driving them.
type app struct {
	st *store.Store
	log *logging.Logger
	bus *events.EventBus
	remote remoteapi.RemoteApi
	reposvc *repos.Service
	files *repofiles.Service
	details *repofilesdetails.Service
	eng *engine.Engine
	dlg dialogs.Dialogs
	logFile *os.File

	repoID string
	mountID string
	rootPath string
}

// repoKeyFromPassphrase derives the 32-byte AES-256 key AESCBCCipher
// needs from an operator-supplied passphrase via HKDF-SHA256.
func repoKeyFromPassphrase(passphrase, repoID string) ([]byte, error) {
	key, err := hkdf.Key(sha256.New, []byte(passphrase), nil, "vaultctl-repo-key:"+repoID, 32)
	if err != nil {
		return nil, fmt.Errorf("derive repo key: %w", err)
	}
	return key, nil
}

// newApp builds and unlocks the whole service graph from the resolved
// global flags, starting the engine's worker pool so subcommands can
// create transfers immediately.
func newApp(ctx context.Context, f *globalFlags) (*app, error) {
	log := logging.NewDefaultCLILogger()
	if f.verbose {
		logging.SetGlobalLevel(-1)
	}

	var logFile *os.File
	if f.logFile {
		if err := config.EnsureLogDirectory(); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		fh, err := os.OpenFile(filepath.Join(config.LogDirectory(), "vaultctl.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		log.SetOutput(io.MultiWriter(log.Output(), fh))
		logFile = fh
	}

	mnt, err := buildMount(ctx, f)
	if err != nil {
		return nil, err
	}

	st := store.New()
	bus := events.NewEventBus(0)
	remote := remoteapi.NewMemoryRemoteApi(mnt)

	reposvc := repos.New(st)
	reposvc.Register(ctx, f.repoID, f.mountID, f.rootPath)

	key, err := repoKeyFromPassphrase(f.passphrase, f.repoID)
	if err != nil {
		return nil, err
	}
	if err := reposvc.Unlock(ctx, f.repoID, key); err != nil {
		return nil, fmt.Errorf("unlock repo %s: %w", f.repoID, err)
	}

	var dlg dialogs.Dialogs
	term := dialogs.NewTerminal()
	if f.yes || !term.IsInteractive() {
		dlg = dialogs.NewAutoConfirm()
	} else {
		dlg = term
	}

	filesSvc := repofiles.New(st, remote, reposvc, dlg, log)
	eng := engine.New(st, filesSvc, f.maxConcurrent, log)
	eng.Start(ctx)

	detailsSvc := repofilesdetails.New(st, filesSvc, dlg, log, f.autosaveInterval)
	detailsSvc.SetEngine(eng)

	return &app{
		st: st,
		log: log,
		bus: bus,
		remote: remote,
		reposvc: reposvc,
		files: filesSvc,
		details: detailsSvc,
		eng: eng,
		dlg: dlg,
		logFile: logFile,
		repoID: f.repoID,
		mountID: f.mountID,
		rootPath: f.rootPath,
	}, nil
}

// buildMount resolves --mount into a concrete mount.Mount, or nil for the
// in-process "memory" default (MemoryRemoteApi running
// blob-free).
func buildMount(ctx context.Context, f *globalFlags) (mount.Mount, error) {
	switch f.mountKind {
	case "", "memory":
		return nil, nil
	case "s3":
		return mount.NewS3Mount(ctx, mount.S3MountConfig{
			Bucket: f.s3Bucket,
			Region: f.s3Region,
			Prefix: f.s3Prefix,
			AccessKeyID: f.s3AccessKeyID,
			SecretAccessKey: f.s3SecretAccessKey,
			SessionToken: f.s3SessionToken,
		})
	case "azure":
		return mount.NewAzureMount(f.azureSASURL, f.azureContainer, f.azurePrefix)
	default:
		return nil, fmt.Errorf("unknown --mount %q (want memory, s3, or azure)", f.mountKind)
	}
}

// close stops the engine's worker pool, draining in-flight attempts.
func (a *app) close() {
	a.eng.Stop()
	a.bus.Close()
	if a.logFile != nil {
		a.logFile.Close()
	}
}
