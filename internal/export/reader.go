package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/afero"

	"github.com/mantonx/coverscout/internal/musicbrainz"
)

// ReadRecordings loads a recordings or covers CSV back into rows. The
// header decides column positions, so files written by older runs with
// fewer columns still load.
func ReadRecordings(fs afero.Fs, path string) ([]musicbrainz.RecordingRow, error) {
	file, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s is empty", path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s header: %w", path, err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	if _, ok := index["recording_id"]; !ok {
		return nil, fmt.Errorf("%s has no recording_id column", path)
	}

	field := func(record []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	var rows []musicbrainz.RecordingRow
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}

		isCover, _ := strconv.ParseBool(field(record, "is_cover"))
		lengthMS, _ := strconv.Atoi(field(record, "length_ms"))

		rows = append(rows, musicbrainz.RecordingRow{
			RecordingID:      field(record, "recording_id"),
			Title:            field(record, "title"),
			ArtistName:       field(record, "artist_name"),
			ReleaseTitle:     field(record, "release_title"),
			ReleaseID:        field(record, "release_id"),
			FirstReleaseDate: field(record, "first_release_date"),
			WorkID:           field(record, "work_id"),
			IsCover:          isCover,
			WorkTitle:        field(record, "work_title"),
			ArtistIDs:        field(record, "artist_ids"),
			LengthMS:         lengthMS,
			ISRCs:            field(record, "isrcs"),
		})
	}

	return rows, nil
}
