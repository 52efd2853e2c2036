package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"resona/catalog"
	"resona/config"
	"resona/core/engine"
	"resona/core/player"
	"resona/db"
	"resona/logger"
	"resona/media"
	"resona/resolver"
	"resona/session"
	"resona/storage"
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Run the player",
	Long:  `Starts the player: restores the previous session, watches the library for changes and, if configured, serves the remote-control API.`,
	Run: func(cmd *cobra.Command, args []string) {
		runPlayer()
	},
}

func init() {
	rootCmd.AddCommand(playCmd)
}

func runPlayer() {
	cfg := config.Load()
	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogPath,
	})

	// Session store.
	if err := db.ConnectRedis(cfg); err != nil {
		logger.Fatal("failed to connect to Redis", logger.ErrorField(err))
	}
	defer db.CloseRedis()
	sessions := session.NewStore(db.RedisClient)

	// Catalog.
	if err := db.ConnectDB(cfg); err != nil {
		logger.Fatal("failed to connect to the catalog database", logger.ErrorField(err))
	}
	defer db.CloseDB()
	if err := db.InitDB(); err != nil {
		logger.Fatal("failed to initialize the catalog schema", logger.ErrorField(err))
	}
	trackRepo := catalog.NewMySQLTrackRepository()

	// Play history rides on the GORM connection.
	var history player.History
	if err := db.ConnectGormDB(cfg); err != nil {
		logger.Warn("play history disabled", logger.ErrorField(err))
	} else {
		defer db.CloseGormDB()
		repo, err := catalog.NewHistoryRepository(db.GormDB)
		if err != nil {
			logger.Warn("play history disabled", logger.ErrorField(err))
		} else {
			history = repo
		}
	}

	// Blob storage is optional; without it only path and handle sources work.
	var blobs resolver.ObjectFetcher
	var covers catalog.CoverStore
	if cfg.MinioEndpoint != "" {
		store, err := storage.NewMinioStore(cfg)
		if err != nil {
			logger.Warn("blob storage disabled", logger.ErrorField(err))
		} else {
			blobs = store
			covers = store
		}
	}

	eng := engine.New(engine.Config{
		SampleRate:     cfg.AudioSampleRate,
		BufferMillis:   cfg.AudioBufferMillis,
		RequireGesture: cfg.AudioRequireGesture,
	})
	res := resolver.New(blobs, resolver.NewGrants())

	opts := []player.Option{
		player.WithCatalog(trackRepo),
	}
	if history != nil {
		opts = append(opts, player.WithHistory(history))
	}

	// Remote control surface, if configured.
	var control *media.Server
	ctrlHolder := &transportHolder{}
	if cfg.ControlAddr != "" {
		control = media.NewServer(cfg, ctrlHolder)
		opts = append(opts, player.WithNotifier(control.Hub()))
	}

	ctrl := player.New(eng, res, sessions, opts...)
	ctrlHolder.Transport = ctrl
	ctrl.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	ctrl.Restore(ctx)
	cancel()

	// Keep the catalog in step with the files on disk.
	scanner := catalog.NewScanner(trackRepo, covers, cfg.LibraryDir)
	watcher, err := catalog.NewWatcher(scanner, ctrl.OnTrackUpdated)
	if err != nil {
		logger.Warn("library watching disabled", logger.ErrorField(err))
	} else {
		defer watcher.Close()
	}

	if control != nil {
		control.Start()
	}

	logger.Info("player running", logger.String("library", cfg.LibraryDir))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	if control != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		control.Shutdown(shutdownCtx)
		cancel()
	}
	ctrl.Close()
	eng.Close()
}

// transportHolder breaks the construction cycle between the controller and
// the control server: the server needs a Transport at build time, the
// controller wants the server's hub as its notifier.
type transportHolder struct {
	media.Transport
}
