package export

import (
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"

	"github.com/mantonx/coverscout/internal/enrich"
	"github.com/mantonx/coverscout/internal/musicbrainz"
)

// Column orders are stable so downstream notebooks can index by
// position. New columns only ever go at the end.
var (
	worksHeader = []string{
		"work_id", "title", "type", "language", "aliases", "relations",
		"iswc", "attributes", "disambiguation",
	}

	recordingsHeader = []string{
		"recording_id", "title", "artist_name", "release_title", "release_id",
		"first_release_date", "work_id", "is_cover",
		"work_title", "artist_ids", "length_ms", "isrcs",
	}

	enrichedHeader = append(append([]string{}, recordingsHeader...),
		"spotify_track_id", "popularity", "album_name", "release_date",
		"duration_ms", "explicit",
		"spotify_track_name", "spotify_artist_name", "spotify_external_url",
		"spotify_match_score",
	)
)

// Writer exports stage datasets as CSV files. Every file is written to
// a temp name first and renamed into place, so readers never observe a
// half-written file.
type Writer struct {
	fs     afero.Fs
	dir    string
	logger hclog.Logger
}

// NewWriter creates a writer rooted at dir.
func NewWriter(fs afero.Fs, dir string, logger hclog.Logger) *Writer {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Writer{fs: fs, dir: dir, logger: logger}
}

// WriteWorks exports the works dataset and returns the file path.
func (w *Writer) WriteWorks(rows []musicbrainz.WorkRow, name string) (string, error) {
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		records = append(records, workRecord(row))
	}
	return w.writeCSV(name, worksHeader, records)
}

// WriteRecordings exports recording rows, covers included.
func (w *Writer) WriteRecordings(rows []musicbrainz.RecordingRow, name string) (string, error) {
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		records = append(records, recordingRecord(row))
	}
	return w.writeCSV(name, recordingsHeader, records)
}

// WriteEnriched exports covers with their Spotify fields. Unmatched
// covers keep the enrichment columns empty.
func (w *Writer) WriteEnriched(rows []enrich.EnrichedRow, name string) (string, error) {
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		records = append(records, enrichedRecord(row))
	}
	return w.writeCSV(name, enrichedHeader, records)
}

func (w *Writer) writeCSV(name string, header []string, records [][]string) (string, error) {
	if err := w.fs.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory %s: %w", w.dir, err)
	}

	final := filepath.Join(w.dir, name)
	tmp := final + ".tmp"

	file, err := w.fs.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", tmp, err)
	}

	csvWriter := csv.NewWriter(file)
	writeErr := csvWriter.Write(header)
	if writeErr == nil {
		writeErr = csvWriter.WriteAll(records)
	}
	if writeErr == nil {
		csvWriter.Flush()
		writeErr = csvWriter.Error()
	}

	if closeErr := file.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		w.fs.Remove(tmp)
		return "", fmt.Errorf("writing %s: %w", tmp, writeErr)
	}

	if err := w.fs.Rename(tmp, final); err != nil {
		w.fs.Remove(tmp)
		return "", fmt.Errorf("renaming %s into place: %w", tmp, err)
	}

	w.logger.Info("exported dataset", "path", final, "rows", len(records))
	return final, nil
}

func workRecord(row musicbrainz.WorkRow) []string {
	return []string{
		row.WorkID,
		row.Title,
		row.Type,
		row.Language,
		row.Aliases,
		row.Relations,
		row.ISWC,
		row.Attributes,
		row.Disambiguation,
	}
}

func recordingRecord(row musicbrainz.RecordingRow) []string {
	return []string{
		row.RecordingID,
		row.Title,
		row.ArtistName,
		row.ReleaseTitle,
		row.ReleaseID,
		row.FirstReleaseDate,
		row.WorkID,
		strconv.FormatBool(row.IsCover),
		row.WorkTitle,
		row.ArtistIDs,
		formatInt(row.LengthMS),
		row.ISRCs,
	}
}

func enrichedRecord(row enrich.EnrichedRow) []string {
	record := recordingRecord(row.RecordingRow)
	return append(record,
		row.SpotifyTrackID,
		formatIntPtr(row.Popularity),
		row.AlbumName,
		row.ReleaseDate,
		formatIntPtr(row.DurationMS),
		formatBoolPtr(row.Explicit),
		row.SpotifyTrackName,
		row.SpotifyArtistName,
		row.ExternalURL,
		formatFloatPtr(row.MatchScore),
	)
}

func formatInt(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

func formatIntPtr(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func formatBoolPtr(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}

func formatFloatPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 4, 64)
}
