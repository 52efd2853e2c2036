package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"resona/catalog"
	"resona/config"
	"resona/db"
	"resona/logger"
	"resona/storage"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the library into the catalog",
	Long:  `Walks the library directory, reads tags and durations, extracts cover art and upserts every track into the catalog database.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		logger.InitLogger(logger.Config{
			Level:      logger.LogLevel(cfg.LogLevel),
			OutputPath: cfg.LogPath,
		})

		if err := db.ConnectDB(cfg); err != nil {
			logger.Fatal("failed to connect to the catalog database", logger.ErrorField(err))
		}
		defer db.CloseDB()
		if err := db.InitDB(); err != nil {
			logger.Fatal("failed to initialize the catalog schema", logger.ErrorField(err))
		}

		var covers catalog.CoverStore
		if cfg.MinioEndpoint != "" {
			store, err := storage.NewMinioStore(cfg)
			if err != nil {
				logger.Warn("cover extraction disabled", logger.ErrorField(err))
			} else {
				covers = store
			}
		}

		scanner := catalog.NewScanner(catalog.NewMySQLTrackRepository(), covers, cfg.LibraryDir)
		count, err := scanner.ScanAll(context.Background())
		if err != nil {
			logger.Fatal("scan failed", logger.ErrorField(err))
		}
		fmt.Printf("Scanned %d tracks from %s\n", count, cfg.LibraryDir)
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
