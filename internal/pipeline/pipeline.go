package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"

	"github.com/mantonx/coverscout/internal/config"
	"github.com/mantonx/coverscout/internal/database"
	"github.com/mantonx/coverscout/internal/enrich"
	"github.com/mantonx/coverscout/internal/export"
	"github.com/mantonx/coverscout/internal/fetch"
	"github.com/mantonx/coverscout/internal/mbdump"
	"github.com/mantonx/coverscout/internal/musicbrainz"
	"github.com/mantonx/coverscout/internal/spotify"
)

// Stages selects which parts of the pipeline to run.
type Stages struct {
	RefreshDB bool
	GetCovers bool
	Enrich    bool

	// SkipVerify disables dump checksum verification.
	SkipVerify bool
	// Overwrite re-downloads dump archives that already exist.
	Overwrite bool
}

// Any reports whether at least one stage is selected.
func (s Stages) Any() bool {
	return s.RefreshDB || s.GetCovers || s.Enrich
}

// Pipeline wires the configuration into the stage implementations and
// runs them in catalog order.
type Pipeline struct {
	cfg    *config.Config
	fs     afero.Fs
	logger hclog.Logger
}

// New creates a pipeline. A nil fs means the real filesystem.
func New(cfg *config.Config, fs afero.Fs, logger hclog.Logger) *Pipeline {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Pipeline{cfg: cfg, fs: fs, logger: logger}
}

// Run executes the selected stages. Data flows strictly forward, so
// the stages always run in catalog, covers, enrichment order.
func (p *Pipeline) Run(ctx context.Context, stages Stages) error {
	if !stages.Any() {
		return fmt.Errorf("no stage selected")
	}

	if stages.RefreshDB {
		err := p.runStage(ctx, "refresh-db", func(ctx context.Context) error {
			return p.refreshDatabase(ctx, stages)
		})
		if err != nil {
			return err
		}
	}

	if stages.GetCovers {
		if err := p.runStage(ctx, "get-covers", p.collectCovers); err != nil {
			return err
		}
	}

	if stages.Enrich {
		if err := p.runStage(ctx, "enrich-spotify", p.enrichCovers); err != nil {
			return err
		}
	}

	return nil
}

func (p *Pipeline) runStage(ctx context.Context, name string, fn func(context.Context) error) error {
	start := time.Now()
	p.logger.Info("stage starting", "stage", name)

	if err := fn(ctx); err != nil {
		p.logger.Error("stage failed", "stage", name, "duration", time.Since(start), "error", err)
		return fmt.Errorf("%s: %w", name, err)
	}

	p.logger.Info("stage complete", "stage", name, "duration", time.Since(start))
	return nil
}

// refreshDatabase provisions PostgreSQL and imports the full dump.
func (p *Pipeline) refreshDatabase(ctx context.Context, stages Stages) error {
	downloader := mbdump.NewDownloader(mbdump.Config{
		BaseURL:   p.cfg.Mirror.DumpBaseURL,
		DataDir:   filepath.Join(p.cfg.DataDir, "musicbrainz"),
		UserAgent: p.cfg.MusicBrainz.UserAgent,
	}, nil, p.fs, nil, p.logger.Named("mbdump"))

	pg := mbdump.Postgres{
		Host:     p.cfg.Mirror.Host,
		Port:     p.cfg.Mirror.Port,
		User:     p.cfg.Mirror.Username,
		Password: p.cfg.Mirror.Password,
		Database: p.cfg.Mirror.Database,
	}

	return downloader.Prepare(ctx, pg, mbdump.PrepareOptions{
		Verify:        !stages.SkipVerify,
		Overwrite:     stages.Overwrite,
		UseDocker:     p.cfg.Mirror.UseDocker,
		ContainerName: p.cfg.Mirror.ContainerName,
	})
}

// collectCovers fetches the works catalog and its recordings, then
// exports the works, recordings and covers datasets.
func (p *Pipeline) collectCovers(ctx context.Context) error {
	cacheDB, err := database.Open(p.cfg.Cache.Path)
	if err != nil {
		return fmt.Errorf("opening cache database: %w", err)
	}

	store, err := fetch.NewDBStore(cacheDB, time.Duration(p.cfg.Cache.DurationHours)*time.Hour)
	if err != nil {
		return err
	}

	fetcher := fetch.NewClient(fetch.ClientConfig{
		UserAgent:  p.cfg.MusicBrainz.UserAgent,
		MaxRetries: p.cfg.MusicBrainz.MaxRetries,
		BaseDelay:  p.cfg.MusicBrainz.BaseDelay,
		MaxDelay:   p.cfg.MusicBrainz.MaxDelay,
		Timeout:    p.cfg.MusicBrainz.Timeout,
	}, nil, fetch.NewIntervalLimiter(p.cfg.MusicBrainz.RateLimit), store, p.logger.Named("fetch"))

	client := musicbrainz.NewClient(p.cfg.MusicBrainz.BaseURL, p.cfg.MusicBrainz.PageSize,
		fetcher, p.logger.Named("musicbrainz"))

	source, err := p.catalogSource(client)
	if err != nil {
		return err
	}

	artist, err := source.ResolveArtist(ctx, p.cfg.Artist)
	if err != nil {
		return fmt.Errorf("resolving artist %q: %w", p.cfg.Artist, err)
	}

	works, err := source.FetchWorks(ctx, artist)
	if err != nil {
		return err
	}

	writer := export.NewWriter(p.fs, p.cfg.Output.Dir, p.logger.Named("export"))
	if _, err := writer.WriteWorks(works, p.cfg.Output.WorksFile); err != nil {
		return err
	}

	recordings, err := source.FetchRecordings(ctx, artist, works)
	if err != nil {
		return err
	}
	if _, err := writer.WriteRecordings(recordings, p.cfg.Output.RecordingsFile); err != nil {
		return err
	}

	covers := musicbrainz.Covers(recordings)
	if _, err := writer.WriteRecordings(covers, p.cfg.Output.CoversFile); err != nil {
		return err
	}

	p.logger.Info("catalog collected",
		"artist", artist.Name,
		"works", len(works),
		"recordings", len(recordings),
		"covers", len(covers))
	return nil
}

// catalogSource picks the mirror when one is configured, with the API
// as the fallback inside the mirror itself.
func (p *Pipeline) catalogSource(client *musicbrainz.Client) (musicbrainz.Source, error) {
	api := musicbrainz.NewAPISource(client, p.logger.Named("catalog"))
	if p.cfg.Mirror.URL == "" {
		return api, nil
	}

	mirrorDB, err := database.OpenPostgres(p.cfg.MirrorDSN())
	if err != nil {
		return nil, fmt.Errorf("connecting to mirror: %w", err)
	}

	p.logger.Info("using local mirror for catalog queries")
	return musicbrainz.NewMirrorSource(mirrorDB, api, p.logger.Named("mirror")), nil
}

// enrichCovers loads the covers dataset and adds Spotify popularity to
// every cover it can match. Partial results are flushed even when the
// stage aborts, so the next run resumes from the recorded state.
func (p *Pipeline) enrichCovers(ctx context.Context) error {
	if !p.cfg.HasSpotifyCredentials() {
		return fmt.Errorf("spotify credentials are not configured; set SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET")
	}

	coversPath := filepath.Join(p.cfg.Output.Dir, p.cfg.Output.CoversFile)
	covers, err := export.ReadRecordings(p.fs, coversPath)
	if err != nil {
		return fmt.Errorf("loading covers dataset (run the catalog stage first): %w", err)
	}
	if len(covers) == 0 {
		p.logger.Warn("covers dataset is empty, nothing to enrich", "path", coversPath)
		return nil
	}

	cacheDB, err := database.Open(p.cfg.Cache.Path)
	if err != nil {
		return fmt.Errorf("opening cache database: %w", err)
	}

	store, err := fetch.NewDBStore(cacheDB, time.Duration(p.cfg.Cache.DurationHours)*time.Hour)
	if err != nil {
		return err
	}

	states, err := enrich.NewStateStore(cacheDB)
	if err != nil {
		return err
	}

	creds := spotify.Credentials{
		ClientID:     p.cfg.Spotify.ClientID,
		ClientSecret: p.cfg.Spotify.ClientSecret,
	}

	fetcher := fetch.NewClient(fetch.ClientConfig{
		UserAgent:  p.cfg.MusicBrainz.UserAgent,
		MaxRetries: p.cfg.Spotify.MaxRetries,
		BaseDelay:  p.cfg.Spotify.BaseDelay,
		MaxDelay:   p.cfg.Spotify.MaxDelay,
		Timeout:    p.cfg.Spotify.Timeout,
	}, creds.HTTPClient(ctx), fetch.NewIntervalLimiter(p.cfg.Spotify.RateLimit), store, p.logger.Named("fetch"))

	client := spotify.NewClient("", p.cfg.Spotify.Market, p.cfg.Spotify.SearchLimit,
		fetcher, p.logger.Named("spotify"))

	enricher := enrich.NewEnricher(client, enrich.NewMatcher(p.cfg.Spotify.MatchThreshold),
		states, p.logger.Named("enrich"))

	runID := uuid.NewString()
	rows, summary, enrichErr := enricher.Enrich(ctx, covers, runID)

	if len(rows) > 0 {
		writer := export.NewWriter(p.fs, p.cfg.Output.Dir, p.logger.Named("export"))
		if _, err := writer.WriteEnriched(rows, p.cfg.Output.EnrichedFile); err != nil {
			if enrichErr != nil {
				p.logger.Error("failed to flush partial enrichment output", "error", err)
				return enrichErr
			}
			return err
		}
	}

	p.logger.Info("enrichment finished",
		"run_id", runID,
		"total", summary.Total,
		"matched", summary.Matched,
		"unmatched", summary.Unmatched,
		"failed", summary.Failed,
		"skipped", summary.Skipped)
	return enrichErr
}
