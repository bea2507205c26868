package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rexliu/topics/pkg/config"
	"github.com/rexliu/topics/pkg/httpapi"
	"github.com/rexliu/topics/pkg/ipc"
	"github.com/rexliu/topics/pkg/logging"
	"github.com/rexliu/topics/pkg/storage/sqlite"
	gitvcs "github.com/rexliu/topics/pkg/vcs/git"
)

// snapshotDir holds the git work tree inside a profile.
const snapshotDir = "snapshots"

func main() {
	profile := flag.String("profile", "./_dev_profile", "Path to profile directory")
	socket := flag.String("socket", "", "Override IPC socket path (optional)")
	flag.Parse()

	logger := logging.New("topicsd")
	logger.Printf("starting daemon with profile %s", *profile)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *profile, *socket, logger); err != nil {
		logger.Printf("fatal error: %v", err)
		os.Exit(1)
	}
}

type daemon struct {
	cfg        *config.ProfileConfig
	profileDir string
	store      *sqlite.Store
	cache      *graphCache
	repo       gitvcs.Repo
	eventHub   *eventHub
	logger     *logging.Logger

	// writeMu serializes mutations so validation and apply see the same graph.
	writeMu sync.Mutex
}

func loadConfig(profileDir string, logger *logging.Logger) (*config.ProfileConfig, error) {
	cfg, err := config.LoadProfile(profileDir)
	if errors.Is(err, os.ErrNotExist) {
		logger.Printf("no %s in %s; using defaults", config.FileName, profileDir)
		return config.DefaultProfile(filepath.Base(profileDir)), nil
	}
	return cfg, err
}

func newDaemon(ctx context.Context, profileDir string, cfg *config.ProfileConfig, logger *logging.Logger) (*daemon, error) {
	if err := os.MkdirAll(profileDir, 0o700); err != nil {
		return nil, err
	}
	store, err := sqlite.Open(config.ResolvePath(profileDir, cfg.Storage.DBPath),
		sqlite.WithJournalMode(cfg.Storage.JournalMode),
		sqlite.WithSynchronous(cfg.Storage.Synchronous))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("init sqlite: %w", err)
	}
	d := &daemon{
		cfg:        cfg,
		profileDir: profileDir,
		store:      store,
		cache:      newGraphCache(store.LoadGraph),
		eventHub:   newEventHub(logger),
		logger:     logger,
	}
	if cfg.VCS.Enabled {
		repo := &gitvcs.FilesystemRepo{
			Path:          filepath.Join(profileDir, snapshotDir),
			Branch:        cfg.VCS.Branch,
			RemoteURL:     cfg.VCS.Remote.URL,
			CredentialRef: cfg.VCS.Remote.CredentialRef,
			Author:        cfg.ProfileName,
		}
		if err := repo.Init(ctx); err != nil {
			logger.Printf("warning: vcs disabled: %v", err)
		} else {
			d.repo = repo
		}
	}
	if _, err := d.cache.Graph(ctx); err != nil {
		logger.Printf("warning: load graph failed: %v", err)
	}
	return d, nil
}

func (d *daemon) Close() error {
	return d.store.Close()
}

func run(ctx context.Context, profileDir, socketOverride string, logger *logging.Logger) error {
	cfg, err := loadConfig(profileDir, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Configure(profileDir, cfg.Logging); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	d, err := newDaemon(ctx, profileDir, cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	socketPath := socketOverride
	if socketPath == "" {
		socketPath = config.ResolvePath(profileDir, cfg.IPC.SocketPath)
	}

	srv := ipc.NewServer(logger)
	d.registerHandlers(srv)
	srv.Observe(observeRequest)

	if err := srv.Start(ctx, socketPath); err != nil {
		return fmt.Errorf("start ipc: %w", err)
	}
	defer func() {
		srv.Stop()
		os.Remove(socketPath)
	}()

	if cfg.HTTP.Enabled {
		if cfg.Logging.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		api := httpapi.New(d.cache, cfg.Query)
		go func() {
			logger.Printf("http listening on %s", cfg.HTTP.Listen)
			if err := api.ListenAndServe(ctx, cfg.HTTP.Listen); err != nil {
				logger.Printf("http server error: %v", err)
			}
		}()
	}

	logger.Printf("daemon ready; socket at %s", socketPath)

	<-ctx.Done()
	logger.Println("shutting down")
	return nil
}

func pingHandler(logger *logging.Logger) ipc.HandlerFunc {
	return func(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
		now := time.Now().UnixMilli()
		logger.Debugf("received ping at %d", now)
		return map[string]any{"now": now}, nil
	}
}
