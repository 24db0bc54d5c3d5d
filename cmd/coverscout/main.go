package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"

	"github.com/mantonx/coverscout/internal/config"
	"github.com/mantonx/coverscout/internal/logger"
	"github.com/mantonx/coverscout/internal/pipeline"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to a yaml or json config file (optional)")
		artist     = flag.String("artist", "Bob Dylan", "Artist whose catalog gets collected")
		dataDir    = flag.String("data-dir", "./data", "Directory for cache, datasets and dump downloads")
		logLevel   = flag.String("log-level", "info", "Log level: trace, debug, info, warn, error")

		refreshDB  = flag.Bool("refresh-db", false, "Download the MusicBrainz dump and import it into Postgres")
		skipVerify = flag.Bool("skip-verify", false, "Skip checksum verification of downloaded dump archives")
		overwrite  = flag.Bool("overwrite-downloads", false, "Re-download dump archives that already exist")
		useDocker  = flag.Bool("use-docker", true, "Run Postgres in a Docker container (use -use-docker=false for a local server)")
		dbHost     = flag.String("db-host", "", "Postgres host for the local mirror")
		dbPort     = flag.Int("db-port", 0, "Postgres port for the local mirror")
		dbName     = flag.String("db-name", "", "Postgres database name for the local mirror")
		dbUser     = flag.String("db-user", "", "Postgres user for the local mirror")

		getCovers = flag.Bool("get-covers", false, "Collect works and recordings, classify covers and write the CSV datasets")
		dbURL     = flag.String("db-url", "", "Postgres URL of a local MusicBrainz mirror; reads from the mirror instead of the web service")

		enrichSpotify = flag.Bool("enrich-spotify", false, "Enrich the covers dataset with Spotify popularity")
		market        = flag.String("spotify-market", "", "Spotify market for track searches")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags override config and environment, but only when given on the
	// command line. Untouched flags keep whatever the config resolved.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "artist":
			cfg.Artist = *artist
		case "data-dir":
			cfg.DataDir = *dataDir
			cfg.Cache.Path = ""
			cfg.Output.Dir = ""
		case "log-level":
			cfg.Logging.Level = *logLevel
		case "use-docker":
			cfg.Mirror.UseDocker = *useDocker
		case "db-host":
			cfg.Mirror.Host = *dbHost
		case "db-port":
			cfg.Mirror.Port = *dbPort
		case "db-name":
			cfg.Mirror.Database = *dbName
		case "db-user":
			cfg.Mirror.Username = *dbUser
		case "db-url":
			cfg.Mirror.URL = *dbURL
		case "spotify-market":
			cfg.Spotify.Market = *market
		}
	})
	rederiveConfigPaths(cfg)

	stages := pipeline.Stages{
		RefreshDB:  *refreshDB,
		GetCovers:  *getCovers,
		Enrich:     *enrichSpotify,
		SkipVerify: *skipVerify,
		Overwrite:  *overwrite,
	}
	if !stages.Any() {
		fmt.Fprintln(os.Stderr, "No stage selected. Use -refresh-db, -get-covers or -enrich-spotify (they combine).")
		flag.Usage()
		os.Exit(1)
	}

	logr := logger.New(cfg.Logging.Level)
	logr.Info("starting",
		"artist", cfg.Artist,
		"data_dir", cfg.DataDir,
		"refresh_db", stages.RefreshDB,
		"get_covers", stages.GetCovers,
		"enrich_spotify", stages.Enrich,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := pipeline.New(cfg, afero.NewOsFs(), logr)
	if err := p.Run(ctx, stages); err != nil {
		if ctx.Err() != nil {
			logr.Warn("interrupted; partial results were flushed, rerun to resume", "error", err)
		} else {
			logr.Error("pipeline failed", "error", err)
		}
		os.Exit(1)
	}

	logr.Info("done")
}

// rederiveConfigPaths recomputes paths cleared by a -data-dir override.
func rederiveConfigPaths(cfg *config.Config) {
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = filepath.Join(cfg.DataDir, "coverscout.db")
	}
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = cfg.DataDir
	}
}
