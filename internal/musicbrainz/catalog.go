package musicbrainz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/coverscout/internal/fetch"
)

// Source provides the artist catalog. The live web service and the local
// mirror both implement it, so pipeline stages do not care where rows come
// from.
type Source interface {
	ResolveArtist(ctx context.Context, name string) (*Artist, error)
	FetchWorks(ctx context.Context, artist *Artist) ([]WorkRow, error)
	FetchRecordings(ctx context.Context, artist *Artist, works []WorkRow) ([]RecordingRow, error)
}

// WorkRow is one exported work. List-valued fields are folded into sorted
// ";"-joined cells, relation blobs stay JSON.
type WorkRow struct {
	WorkID         string
	Title          string
	Type           string
	Language       string
	Aliases        string
	Relations      string
	ISWC           string
	Attributes     string
	Disambiguation string
}

// RecordingRow is one exported (work, recording) link. IsCover is computed
// once at fetch time and never revisited.
type RecordingRow struct {
	RecordingID      string
	Title            string
	ArtistName       string
	ReleaseTitle     string
	ReleaseID        string
	FirstReleaseDate string
	WorkID           string
	IsCover          bool
	WorkTitle        string
	ArtistIDs        string
	LengthMS         int
	ISRCs            string
}

// Covers filters recordings down to cover versions.
func Covers(rows []RecordingRow) []RecordingRow {
	covers := make([]RecordingRow, 0, len(rows))
	for _, row := range rows {
		if row.IsCover {
			covers = append(covers, row)
		}
	}
	return covers
}

// APISource reads the catalog from the public MusicBrainz web service.
type APISource struct {
	client *Client
	logger hclog.Logger
}

func NewAPISource(client *Client, logger hclog.Logger) *APISource {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &APISource{client: client, logger: logger}
}

func (s *APISource) ResolveArtist(ctx context.Context, name string) (*Artist, error) {
	return s.client.SearchArtist(ctx, name)
}

// FetchWorks pages through every work linked to the artist. Works are
// deduplicated by MBID, so overlapping pages cannot produce duplicate rows.
// A page that still fails after retries aborts the fetch; silent truncation
// would poison every downstream stage.
func (s *APISource) FetchWorks(ctx context.Context, artist *Artist) ([]WorkRow, error) {
	var rows []WorkRow
	seen := make(map[string]struct{})

	offset := 0
	for {
		page, err := s.client.BrowseWorks(ctx, artist.ID, offset)
		if err != nil {
			return nil, fmt.Errorf("works fetch incomplete at offset %d: %w", offset, err)
		}

		for _, work := range page.Works {
			if _, ok := seen[work.ID]; ok {
				continue
			}
			seen[work.ID] = struct{}{}
			rows = append(rows, mapWork(work))
		}

		if len(page.Works) == 0 || offset+s.client.PageSize() >= page.Total() {
			break
		}
		offset += s.client.PageSize()
	}

	s.logger.Info("fetched works", "artist", artist.Name, "count", len(rows))
	return rows, nil
}

// FetchRecordings collects recordings for every work, one row per
// (work, recording) pair. A work whose pages keep failing is logged and
// skipped; auth and payload errors abort the stage.
func (s *APISource) FetchRecordings(ctx context.Context, artist *Artist, works []WorkRow) ([]RecordingRow, error) {
	var rows []RecordingRow
	failed := 0

	for _, work := range works {
		workRows, err := s.recordingsForWork(ctx, artist, work)
		if err != nil {
			if errors.Is(err, fetch.ErrAuth) || errors.Is(err, fetch.ErrBadPayload) || errors.Is(err, context.Canceled) {
				return rows, err
			}
			failed++
			s.logger.Error("skipping work after repeated failures", "work_id", work.WorkID, "title", work.Title, "error", err)
			continue
		}
		rows = append(rows, workRows...)
	}

	s.logger.Info("fetched recordings", "artist", artist.Name, "works", len(works), "failed_works", failed, "rows", len(rows))
	return rows, nil
}

func (s *APISource) recordingsForWork(ctx context.Context, artist *Artist, work WorkRow) ([]RecordingRow, error) {
	var rows []RecordingRow
	seen := make(map[string]struct{})

	offset := 0
	for {
		page, err := s.client.BrowseRecordings(ctx, work.WorkID, offset)
		if err != nil {
			return nil, err
		}

		for _, recording := range page.Recordings {
			if _, ok := seen[recording.ID]; ok {
				continue
			}
			seen[recording.ID] = struct{}{}
			rows = append(rows, mapRecording(artist, work, recording))
		}

		if len(page.Recordings) == 0 || offset+s.client.PageSize() >= page.Total() {
			break
		}
		offset += s.client.PageSize()
	}

	s.logger.Debug("fetched recordings for work", "work_id", work.WorkID, "count", len(rows))
	return rows, nil
}

func mapWork(work Work) WorkRow {
	aliases := make([]string, 0, len(work.Aliases))
	for _, alias := range work.Aliases {
		aliases = append(aliases, alias.Name)
	}

	return WorkRow{
		WorkID:         work.ID,
		Title:          work.Title,
		Type:           work.Type,
		Language:       work.Language,
		Aliases:        NormalizeList(aliases),
		Relations:      rawOrEmptyArray(work.Relations),
		ISWC:           NormalizeList(work.ISWCs),
		Attributes:     rawOrEmptyArray(work.Attributes),
		Disambiguation: work.Disambiguation,
	}
}

func mapRecording(artist *Artist, work WorkRow, recording Recording) RecordingRow {
	row := RecordingRow{
		RecordingID:      recording.ID,
		Title:            recording.Title,
		ArtistName:       CreditedName(recording.ArtistCredit),
		FirstReleaseDate: recording.FirstReleaseDate,
		WorkID:           work.WorkID,
		WorkTitle:        work.Title,
		IsCover:          !IsOriginal(artist.Name, recording.ArtistCredit),
		ArtistIDs:        NormalizeList(CreditIDs(recording.ArtistCredit)),
		LengthMS:         recording.Length,
		ISRCs:            NormalizeList(recording.ISRCs),
	}

	// Primary release is the first one the service returns. The release
	// date wins over the recording-level first-release-date when present.
	if len(recording.Releases) > 0 {
		primary := recording.Releases[0]
		row.ReleaseID = primary.ID
		row.ReleaseTitle = primary.Title
		if primary.Date != "" {
			row.FirstReleaseDate = primary.Date
		}
	}

	return row
}

func rawOrEmptyArray(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "[]"
	}
	return string(raw)
}
