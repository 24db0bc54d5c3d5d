package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/coverscout/internal/fetch"
	"github.com/mantonx/coverscout/internal/musicbrainz"
	"github.com/mantonx/coverscout/internal/spotify"
)

// Searcher is the slice of the Spotify client the enricher needs.
type Searcher interface {
	SearchTracks(ctx context.Context, title, artist string) ([]spotify.Track, error)
}

// EnrichedRow is a cover row plus optional Spotify fields. The pointer
// fields stay nil when the cover is unmatched, so missing data never
// reads as zero popularity.
type EnrichedRow struct {
	musicbrainz.RecordingRow
	SpotifyTrackID    string
	SpotifyTrackName  string
	SpotifyArtistName string
	Popularity        *int
	AlbumName         string
	ReleaseDate       string
	DurationMS        *int
	Explicit          *bool
	ExternalURL       string
	MatchScore        *float64
}

// Summary reports what one enrichment pass did.
type Summary struct {
	Total     int
	Matched   int
	Unmatched int
	Failed    int
	Skipped   int
}

// Enricher walks the cover rows through the per-record state machine:
// pending covers are searched and finalized as matched, unmatched or
// failed; matched and unmatched rows are skipped on later runs; failed
// rows are retried.
type Enricher struct {
	searcher Searcher
	matcher  *Matcher
	states   *StateStore
	logger   hclog.Logger
}

// NewEnricher wires a searcher, matcher and state store together.
func NewEnricher(searcher Searcher, matcher *Matcher, states *StateStore, logger hclog.Logger) *Enricher {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Enricher{
		searcher: searcher,
		matcher:  matcher,
		states:   states,
		logger:   logger,
	}
}

// Enrich looks up every cover and returns the rows produced so far,
// even when it aborts early. Auth and malformed-response errors abort
// the stage; other lookup errors mark the single cover failed and the
// pass continues.
func (e *Enricher) Enrich(ctx context.Context, covers []musicbrainz.RecordingRow, runID string) ([]EnrichedRow, Summary, error) {
	rows := make([]EnrichedRow, 0, len(covers))
	summary := Summary{Total: len(covers)}

	for _, cover := range covers {
		if err := ctx.Err(); err != nil {
			e.logSummary(summary)
			return rows, summary, err
		}

		key := CoverKey(cover.RecordingID, cover.WorkID)

		state, err := e.states.Get(key)
		if err != nil {
			return rows, summary, fmt.Errorf("reading enrichment state for %s: %w", key, err)
		}

		if state != nil && Terminal(state.Status) {
			summary.Skipped++
			rows = append(rows, e.rowFromState(cover, state))
			continue
		}

		row, status, err := e.lookupCover(ctx, cover, state, key, runID)
		rows = append(rows, row)

		switch status {
		case StatusMatched:
			summary.Matched++
		case StatusUnmatched:
			summary.Unmatched++
		case StatusFailed:
			summary.Failed++
		}

		if err != nil {
			e.logSummary(summary)
			return rows, summary, err
		}
	}

	e.logSummary(summary)
	return rows, summary, nil
}

// lookupCover runs a single cover through search and matching. The
// returned error is non-nil only for stage-fatal conditions.
func (e *Enricher) lookupCover(ctx context.Context, cover musicbrainz.RecordingRow, state *TrackMatch, key, runID string) (EnrichedRow, string, error) {
	attempts := 1
	if state != nil {
		attempts = state.Attempts + 1
	}

	title := cover.Title
	if title == "" {
		title = cover.WorkTitle
	}

	if title == "" {
		e.saveState(key, cover, StatusUnmatched, attempts, 0, "", "no title to search for", runID)
		return EnrichedRow{RecordingRow: cover}, StatusUnmatched, nil
	}

	tracks, err := e.searcher.SearchTracks(ctx, title, cover.ArtistName)
	if err != nil {
		return e.handleLookupError(cover, key, attempts, runID, err)
	}

	e.saveState(key, cover, StatusQueried, attempts, 0, "", "", runID)

	result := e.matcher.FindBestMatch(tracks, title, cover.ArtistName)
	if !result.Matched {
		e.saveState(key, cover, StatusUnmatched, attempts, result.Score, "", "", runID)
		e.logger.Debug("no confident match", "recording", cover.RecordingID, "title", title, "score", result.Score)
		return EnrichedRow{RecordingRow: cover}, StatusUnmatched, nil
	}

	payload, merr := json.Marshal(result.Track)
	if merr != nil {
		payload = nil
	}
	e.saveState(key, cover, StatusMatched, attempts, result.Score, string(payload), "", runID)
	e.logger.Debug("matched cover", "recording", cover.RecordingID, "title", title,
		"track", result.Track.ID, "score", result.Score)

	return buildRow(cover, result.Track, result.Score), StatusMatched, nil
}

// handleLookupError decides whether a search failure kills the stage,
// permanently skips the cover, or leaves it failed for the next run.
func (e *Enricher) handleLookupError(cover musicbrainz.RecordingRow, key string, attempts int, runID string, err error) (EnrichedRow, string, error) {
	row := EnrichedRow{RecordingRow: cover}

	switch {
	case errors.Is(err, fetch.ErrNotFound):
		// Permanent for this cover.
		e.saveState(key, cover, StatusUnmatched, attempts, 0, "", err.Error(), runID)
		e.logger.Warn("cover not found on spotify", "recording", cover.RecordingID, "error", err)
		return row, StatusUnmatched, nil

	case errors.Is(err, fetch.ErrAuth):
		e.saveState(key, cover, StatusFailed, attempts, 0, "", err.Error(), runID)
		return row, StatusFailed, fmt.Errorf("spotify authentication failed: %w", err)

	case errors.Is(err, fetch.ErrBadPayload):
		e.saveState(key, cover, StatusFailed, attempts, 0, "", err.Error(), runID)
		return row, StatusFailed, fmt.Errorf("spotify returned a malformed response: %w", err)

	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		e.saveState(key, cover, StatusFailed, attempts, 0, "", err.Error(), runID)
		return row, StatusFailed, err

	default:
		e.saveState(key, cover, StatusFailed, attempts, 0, "", err.Error(), runID)
		e.logger.Warn("cover lookup failed", "recording", cover.RecordingID, "attempts", attempts, "error", err)
		return row, StatusFailed, nil
	}
}

// rowFromState rebuilds an enriched row from a prior run's stored
// match without touching the network.
func (e *Enricher) rowFromState(cover musicbrainz.RecordingRow, state *TrackMatch) EnrichedRow {
	if state.Status != StatusMatched || state.Payload == "" {
		return EnrichedRow{RecordingRow: cover}
	}

	var track spotify.Track
	if err := json.Unmarshal([]byte(state.Payload), &track); err != nil {
		e.logger.Warn("stored match payload is unreadable", "cover", state.CoverKey, "error", err)
		return EnrichedRow{RecordingRow: cover}
	}

	return buildRow(cover, &track, state.Score)
}

func (e *Enricher) saveState(key string, cover musicbrainz.RecordingRow, status string, attempts int, score float64, payload, lastError, runID string) {
	err := e.states.Save(&TrackMatch{
		CoverKey:    key,
		RecordingID: cover.RecordingID,
		WorkID:      cover.WorkID,
		Status:      status,
		Attempts:    attempts,
		Score:       score,
		Payload:     payload,
		LastError:   lastError,
		RunID:       runID,
	})
	if err != nil {
		e.logger.Warn("failed to persist enrichment state", "cover", key, "status", status, "error", err)
	}
}

func (e *Enricher) logSummary(summary Summary) {
	e.logger.Info("enrichment pass finished",
		"total", summary.Total,
		"matched", summary.Matched,
		"unmatched", summary.Unmatched,
		"failed", summary.Failed,
		"skipped", summary.Skipped)
}

func buildRow(cover musicbrainz.RecordingRow, track *spotify.Track, score float64) EnrichedRow {
	row := EnrichedRow{RecordingRow: cover}
	if track == nil {
		return row
	}

	popularity := track.Popularity
	duration := track.DurationMS
	explicit := track.Explicit
	matchScore := score

	row.SpotifyTrackID = track.ID
	row.SpotifyTrackName = track.Name
	row.SpotifyArtistName = track.ArtistNames()
	row.Popularity = &popularity
	row.AlbumName = track.Album.Name
	row.ReleaseDate = track.Album.ReleaseDate
	row.DurationMS = &duration
	row.Explicit = &explicit
	row.ExternalURL = track.ExternalURL()
	row.MatchScore = &matchScore
	return row
}
