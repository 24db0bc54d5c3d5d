package musicbrainz

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"
)

// MirrorSource resolves the artist and the works catalog from a locally
// imported MusicBrainz database, and keeps using the web service for
// recordings, which the mirror schema does not expose as one query. Any
// mirror failure falls back to the API, so a stale or partial import never
// blocks a run.
type MirrorSource struct {
	db     *gorm.DB
	api    Source
	logger hclog.Logger

	// numeric artist row id, cached by ResolveArtist for the works join
	artistRowID int64
}

func NewMirrorSource(db *gorm.DB, api Source, logger hclog.Logger) *MirrorSource {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &MirrorSource{db: db, api: api, logger: logger}
}

type mirrorArtist struct {
	GID  string `gorm:"column:gid"`
	ID   int64  `gorm:"column:id"`
	Name string `gorm:"column:name"`
}

const mirrorArtistQuery = `
SELECT gid, id, name
FROM artist
WHERE lower(name) = lower(?)
ORDER BY begin_date_year NULLS FIRST, sort_name
LIMIT 1`

func (s *MirrorSource) ResolveArtist(ctx context.Context, name string) (*Artist, error) {
	var rows []mirrorArtist
	err := s.db.WithContext(ctx).Raw(mirrorArtistQuery, name).Scan(&rows).Error
	if err == nil && len(rows) > 0 {
		s.artistRowID = rows[0].ID
		s.logger.Info("resolved artist via mirror", "name", name, "mbid", rows[0].GID, "row_id", rows[0].ID)
		return &Artist{ID: rows[0].GID, Name: rows[0].Name}, nil
	}
	if err != nil {
		s.logger.Warn("mirror artist lookup failed, falling back to API", "name", name, "error", err)
	}

	s.artistRowID = 0
	return s.api.ResolveArtist(ctx, name)
}

type mirrorWork struct {
	WorkID         string `gorm:"column:work_id"`
	Title          string `gorm:"column:title"`
	WorkType       string `gorm:"column:work_type"`
	Language       string `gorm:"column:language"`
	ISWC           string `gorm:"column:iswc"`
	Disambiguation string `gorm:"column:disambiguation"`
}

const mirrorWorksQuery = `
SELECT w.gid AS work_id,
       w.name AS title,
       wt.name AS work_type,
       lang.iso_code_3 AS language,
       i.iswc AS iswc,
       w.comment AS disambiguation
FROM work w
LEFT JOIN work_type wt ON w.type = wt.id
LEFT JOIN language lang ON w.language = lang.id
LEFT JOIN iswc i ON i.work = w.id
JOIN l_artist_work law ON law.entity1 = w.id
WHERE law.entity0 = ?
ORDER BY w.name`

// FetchWorks reads the works catalog from the mirror. Alias and relation
// blobs are not materialized by the import, so those cells stay empty with
// the relations column marking the source.
func (s *MirrorSource) FetchWorks(ctx context.Context, artist *Artist) ([]WorkRow, error) {
	if s.artistRowID == 0 {
		s.logger.Debug("no mirror artist row id, fetching works via API")
		return s.api.FetchWorks(ctx, artist)
	}

	var works []mirrorWork
	if err := s.db.WithContext(ctx).Raw(mirrorWorksQuery, s.artistRowID).Scan(&works).Error; err != nil {
		s.logger.Warn("mirror works query failed, falling back to API", "error", err)
		return s.api.FetchWorks(ctx, artist)
	}

	seen := make(map[string]struct{}, len(works))
	rows := make([]WorkRow, 0, len(works))
	for _, work := range works {
		if _, ok := seen[work.WorkID]; ok {
			continue
		}
		seen[work.WorkID] = struct{}{}
		rows = append(rows, WorkRow{
			WorkID:         work.WorkID,
			Title:          work.Title,
			Type:           work.WorkType,
			Language:       work.Language,
			ISWC:           work.ISWC,
			Relations:      "database",
			Disambiguation: work.Disambiguation,
		})
	}

	s.logger.Info("fetched works via mirror", "artist", artist.Name, "count", len(rows))
	return rows, nil
}

func (s *MirrorSource) FetchRecordings(ctx context.Context, artist *Artist, works []WorkRow) ([]RecordingRow, error) {
	return s.api.FetchRecordings(ctx, artist, works)
}
