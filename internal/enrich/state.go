package enrich

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// StatusPending marks a cover that has not been looked up yet.
	StatusPending = "pending"
	// StatusQueried marks a cover whose search completed but whose
	// result has not been recorded. Seen only after a crash.
	StatusQueried = "queried"
	// StatusMatched marks a cover with a confident Spotify match.
	StatusMatched = "matched"
	// StatusUnmatched marks a cover with no candidate above the
	// threshold. Terminal, like StatusMatched.
	StatusUnmatched = "unmatched"
	// StatusFailed marks a cover whose lookup errored. Retried on the
	// next run.
	StatusFailed = "failed"
)

// Terminal reports whether a status is final and skipped on resume.
func Terminal(status string) bool {
	return status == StatusMatched || status == StatusUnmatched
}

// TrackMatch records the enrichment state for one (work, recording)
// cover row, so interrupted runs resume without repeating lookups.
type TrackMatch struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CoverKey    string    `gorm:"uniqueIndex;not null" json:"cover_key"`
	RecordingID string    `gorm:"index;not null" json:"recording_id"`
	WorkID      string    `gorm:"not null" json:"work_id"`
	Status      string    `gorm:"index;not null;default:'pending'" json:"status"` // pending, queried, matched, unmatched, failed
	Attempts    int       `json:"attempts"`
	Score       float64   `json:"score"`
	Payload     string    `gorm:"type:text" json:"payload"` // matched track JSON
	LastError   string    `gorm:"type:text" json:"last_error,omitempty"`
	RunID       string    `json:"run_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CoverKey identifies one cover row across runs.
func CoverKey(recordingID, workID string) string {
	return fmt.Sprintf("%s:%s", recordingID, workID)
}

// StateStore persists TrackMatch rows in the shared cache database.
type StateStore struct {
	db *gorm.DB
}

// NewStateStore migrates the track_matches table and returns a store.
func NewStateStore(db *gorm.DB) (*StateStore, error) {
	if err := db.AutoMigrate(&TrackMatch{}); err != nil {
		return nil, fmt.Errorf("migrating track match state: %w", err)
	}
	return &StateStore{db: db}, nil
}

// Get returns the state for a cover key, or nil when none is recorded.
func (s *StateStore) Get(coverKey string) (*TrackMatch, error) {
	var match TrackMatch
	err := s.db.Where("cover_key = ?", coverKey).First(&match).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &match, nil
}

// Save upserts the state keyed by cover_key.
func (s *StateStore) Save(match *TrackMatch) error {
	match.UpdatedAt = time.Now()
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cover_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "attempts", "score", "payload", "last_error", "run_id", "updated_at"}),
	}).Create(match).Error
}

// CountByStatus tallies stored states for stage summaries.
func (s *StateStore) CountByStatus() (map[string]int64, error) {
	type row struct {
		Status string
		Total  int64
	}
	var rows []row
	err := s.db.Model(&TrackMatch{}).
		Select("status, count(*) as total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Total
	}
	return counts, nil
}
