package enrich

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mantonx/coverscout/internal/fetch"
	"github.com/mantonx/coverscout/internal/musicbrainz"
	"github.com/mantonx/coverscout/internal/spotify"
)

func createTempDB(t *testing.T) *gorm.DB {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "coverscout_enrich_test_*")
	require.NoError(t, err)

	t.Cleanup(func() {
		os.RemoveAll(tmpDir)
	})

	db, err := gorm.Open(sqlite.Open(filepath.Join(tmpDir, "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	return db
}

type stubSearcher struct {
	mu      sync.Mutex
	calls   map[string]int
	results map[string][]spotify.Track
	errs    map[string]error
}

func newStubSearcher() *stubSearcher {
	return &stubSearcher{
		calls:   make(map[string]int),
		results: make(map[string][]spotify.Track),
		errs:    make(map[string]error),
	}
}

func (s *stubSearcher) SearchTracks(ctx context.Context, title, artist string) ([]spotify.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := title + "|" + artist
	s.calls[key]++
	if err := s.errs[key]; err != nil {
		return nil, err
	}
	return s.results[key], nil
}

func (s *stubSearcher) setResult(title, artist string, tracks ...spotify.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[title+"|"+artist] = tracks
}

func (s *stubSearcher) setError(title, artist string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, title+"|"+artist)
		return
	}
	s.errs[title+"|"+artist] = err
}

func (s *stubSearcher) totalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

func newTestEnricher(t *testing.T, searcher Searcher) (*Enricher, *StateStore) {
	t.Helper()

	states, err := NewStateStore(createTempDB(t))
	require.NoError(t, err)

	return NewEnricher(searcher, NewMatcher(DefaultThreshold), states, hclog.NewNullLogger()), states
}

func coverRow(recordingID, title, artist string) musicbrainz.RecordingRow {
	return musicbrainz.RecordingRow{
		RecordingID: recordingID,
		Title:       title,
		ArtistName:  artist,
		WorkID:      "W1",
		WorkTitle:   title,
		IsCover:     true,
	}
}

func TestMatcher_ExactMatchClearsThreshold(t *testing.T) {
	matcher := NewMatcher(DefaultThreshold)

	tracks := []spotify.Track{
		{ID: "t1", Name: "All Along the Watchtower", Popularity: 78,
			Artists: []spotify.Artist{{Name: "Jimi Hendrix"}}},
		{ID: "t2", Name: "Something Else Entirely", Popularity: 90,
			Artists: []spotify.Artist{{Name: "Another Band"}}},
	}

	result := matcher.FindBestMatch(tracks, "All Along the Watchtower", "Jimi Hendrix")
	require.True(t, result.Matched)
	assert.Equal(t, "t1", result.Track.ID)
	// 0.5*1.0 + 0.3*1.0 + 0.2*0.78
	assert.InDelta(t, 0.956, result.Score, 0.0001)
}

func TestMatcher_BelowThresholdIsUnmatched(t *testing.T) {
	matcher := NewMatcher(DefaultThreshold)

	tracks := []spotify.Track{
		{ID: "t1", Name: "Completely Different Song", Popularity: 95,
			Artists: []spotify.Artist{{Name: "Someone Unrelated"}}},
	}

	result := matcher.FindBestMatch(tracks, "Girl from the North Country", "Rosanne Cash")
	assert.False(t, result.Matched)
	assert.Less(t, result.Score, DefaultThreshold)
}

func TestMatcher_NoCandidates(t *testing.T) {
	matcher := NewMatcher(DefaultThreshold)

	result := matcher.FindBestMatch(nil, "Masters of War", "Eddie Vedder")
	assert.False(t, result.Matched)
	assert.Nil(t, result.Track)
	assert.Zero(t, result.Score)
}

func TestMatcher_TieBreaksOnPopularity(t *testing.T) {
	matcher := NewMatcher(0.5)

	// Both candidates combine to 0.73; the more popular one must win.
	tracks := []spotify.Track{
		{ID: "low", Name: "Song", Popularity: 10,
			Artists: []spotify.Artist{{Name: "X and Friends"}}},
		{ID: "high", Name: "Song (Live)", Popularity: 40,
			Artists: []spotify.Artist{{Name: "X"}}},
	}

	result := matcher.FindBestMatch(tracks, "Song", "X")
	require.True(t, result.Matched)
	assert.Equal(t, "high", result.Track.ID)
	assert.InDelta(t, 0.73, result.Score, 0.0001)
}

func TestMatcher_MissingArtistUsesNeutralScore(t *testing.T) {
	matcher := NewMatcher(DefaultThreshold)

	tracks := []spotify.Track{
		{ID: "t1", Name: "Forever Young", Popularity: 60,
			Artists: []spotify.Artist{{Name: "Whoever"}}},
	}

	result := matcher.FindBestMatch(tracks, "Forever Young", "")
	// 0.5*1.0 + 0.3*0.5 + 0.2*0.6
	assert.InDelta(t, 0.77, result.Score, 0.0001)
	assert.True(t, result.Matched)
}

func TestMatcher_Deterministic(t *testing.T) {
	matcher := NewMatcher(DefaultThreshold)

	tracks := []spotify.Track{
		{ID: "t1", Name: "Knockin' on Heaven's Door", Popularity: 70,
			Artists: []spotify.Artist{{Name: "Guns N' Roses"}}},
		{ID: "t2", Name: "Knocking on Heavens Door", Popularity: 65,
			Artists: []spotify.Artist{{Name: "Guns N Roses"}}},
	}

	first := matcher.FindBestMatch(tracks, "Knockin' on Heaven's Door", "Guns N' Roses")
	for i := 0; i < 10; i++ {
		again := matcher.FindBestMatch(tracks, "Knockin' on Heaven's Door", "Guns N' Roses")
		assert.Equal(t, first.Track.ID, again.Track.ID)
		assert.Equal(t, first.Score, again.Score)
	}
}

func TestCoverKey(t *testing.T) {
	assert.Equal(t, "R1:W1", CoverKey("R1", "W1"))
	assert.NotEqual(t, CoverKey("R1", "W2"), CoverKey("R1", "W1"))
}

func TestTerminal(t *testing.T) {
	assert.True(t, Terminal(StatusMatched))
	assert.True(t, Terminal(StatusUnmatched))
	assert.False(t, Terminal(StatusPending))
	assert.False(t, Terminal(StatusQueried))
	assert.False(t, Terminal(StatusFailed))
}

func TestStateStore_UpsertsByCoverKey(t *testing.T) {
	states, err := NewStateStore(createTempDB(t))
	require.NoError(t, err)

	require.NoError(t, states.Save(&TrackMatch{
		CoverKey: "R1:W1", RecordingID: "R1", WorkID: "W1",
		Status: StatusFailed, Attempts: 1, LastError: "boom",
	}))
	require.NoError(t, states.Save(&TrackMatch{
		CoverKey: "R1:W1", RecordingID: "R1", WorkID: "W1",
		Status: StatusMatched, Attempts: 2, Score: 0.91, Payload: `{"id":"t1"}`,
	}))

	match, err := states.Get("R1:W1")
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, StatusMatched, match.Status)
	assert.Equal(t, 2, match.Attempts)
	assert.InDelta(t, 0.91, match.Score, 0.0001)

	var count int64
	require.NoError(t, states.db.Model(&TrackMatch{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestStateStore_GetMissing(t *testing.T) {
	states, err := NewStateStore(createTempDB(t))
	require.NoError(t, err)

	match, err := states.Get("nope")
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestEnricher_MatchedAndUnmatchedCovers(t *testing.T) {
	searcher := newStubSearcher()
	searcher.setResult("All Along the Watchtower", "Jimi Hendrix", spotify.Track{
		ID: "t1", Name: "All Along the Watchtower", Popularity: 78,
		DurationMS: 240000, Explicit: false,
		Album:        spotify.Album{Name: "Electric Ladyland", ReleaseDate: "1968-10-16"},
		Artists:      []spotify.Artist{{Name: "Jimi Hendrix"}},
		ExternalURLs: map[string]string{"spotify": "https://open.spotify.com/track/t1"},
	})
	// No results for the fabricated artist.
	searcher.setResult("All Along the Watchtower", "Zzyzx Phantom Ensemble")

	enricher, _ := newTestEnricher(t, searcher)

	covers := []musicbrainz.RecordingRow{
		coverRow("R1", "All Along the Watchtower", "Jimi Hendrix"),
		coverRow("R2", "All Along the Watchtower", "Zzyzx Phantom Ensemble"),
	}

	rows, summary, err := enricher.Enrich(context.Background(), covers, "run-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, 1, summary.Matched)
	assert.Equal(t, 1, summary.Unmatched)
	assert.Zero(t, summary.Failed)

	matched := rows[0]
	require.NotNil(t, matched.Popularity)
	assert.Equal(t, 78, *matched.Popularity)
	assert.Equal(t, "t1", matched.SpotifyTrackID)
	assert.Equal(t, "Electric Ladyland", matched.AlbumName)
	assert.Equal(t, "1968-10-16", matched.ReleaseDate)
	require.NotNil(t, matched.DurationMS)
	assert.Equal(t, 240000, *matched.DurationMS)
	require.NotNil(t, matched.Explicit)
	assert.False(t, *matched.Explicit)
	assert.Equal(t, "https://open.spotify.com/track/t1", matched.ExternalURL)
	require.NotNil(t, matched.MatchScore)

	unmatched := rows[1]
	assert.Nil(t, unmatched.Popularity)
	assert.Nil(t, unmatched.DurationMS)
	assert.Nil(t, unmatched.Explicit)
	assert.Nil(t, unmatched.MatchScore)
	assert.Empty(t, unmatched.SpotifyTrackID)
}

func TestEnricher_ResumeSkipsTerminalRows(t *testing.T) {
	searcher := newStubSearcher()
	searcher.setResult("Blowin' in the Wind", "Peter, Paul and Mary", spotify.Track{
		ID: "t1", Name: "Blowin' in the Wind", Popularity: 55,
		Artists: []spotify.Artist{{Name: "Peter, Paul and Mary"}},
	})
	searcher.setResult("Obscure B-Side", "Unknown Bar Band")

	states, err := NewStateStore(createTempDB(t))
	require.NoError(t, err)
	enricher := NewEnricher(searcher, NewMatcher(DefaultThreshold), states, hclog.NewNullLogger())

	covers := []musicbrainz.RecordingRow{
		coverRow("R1", "Blowin' in the Wind", "Peter, Paul and Mary"),
		coverRow("R2", "Obscure B-Side", "Unknown Bar Band"),
	}

	firstRows, firstSummary, err := enricher.Enrich(context.Background(), covers, "run-1")
	require.NoError(t, err)
	callsAfterFirst := searcher.totalCalls()
	assert.Equal(t, 2, callsAfterFirst)

	secondRows, secondSummary, err := enricher.Enrich(context.Background(), covers, "run-2")
	require.NoError(t, err)

	// No new lookups, identical output.
	assert.Equal(t, callsAfterFirst, searcher.totalCalls())
	assert.Equal(t, 2, secondSummary.Skipped)
	assert.Zero(t, secondSummary.Matched)
	assert.Equal(t, firstSummary.Total, secondSummary.Total)
	assert.Equal(t, firstRows, secondRows)
}

func TestEnricher_RetriesFailedOnNextRun(t *testing.T) {
	searcher := newStubSearcher()
	searcher.setError("Hurricane", "Ani DiFranco", fetch.ErrTransient)

	enricher, states := newTestEnricher(t, searcher)
	covers := []musicbrainz.RecordingRow{coverRow("R1", "Hurricane", "Ani DiFranco")}

	_, summary, err := enricher.Enrich(context.Background(), covers, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	state, err := states.Get("R1:W1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, StatusFailed, state.Status)
	assert.Equal(t, 1, state.Attempts)
	assert.NotEmpty(t, state.LastError)

	// The service recovers; the retry must go through and succeed.
	searcher.setError("Hurricane", "Ani DiFranco", nil)
	searcher.setResult("Hurricane", "Ani DiFranco", spotify.Track{
		ID: "t9", Name: "Hurricane", Popularity: 40,
		Artists: []spotify.Artist{{Name: "Ani DiFranco"}},
	})

	rows, summary, err := enricher.Enrich(context.Background(), covers, "run-2")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Matched)
	require.NotNil(t, rows[0].Popularity)

	state, err = states.Get("R1:W1")
	require.NoError(t, err)
	assert.Equal(t, StatusMatched, state.Status)
	assert.Equal(t, 2, state.Attempts)
	assert.Equal(t, "run-2", state.RunID)
}

func TestEnricher_AuthErrorAbortsStage(t *testing.T) {
	searcher := newStubSearcher()
	searcher.setError("Just Like a Woman", "Nina Simone", fetch.ErrAuth)

	enricher, _ := newTestEnricher(t, searcher)
	covers := []musicbrainz.RecordingRow{
		coverRow("R1", "Just Like a Woman", "Nina Simone"),
		coverRow("R2", "I Shall Be Released", "The Band"),
	}

	rows, summary, err := enricher.Enrich(context.Background(), covers, "run-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, fetch.ErrAuth)

	// The second cover is never attempted.
	assert.Equal(t, 1, searcher.totalCalls())
	assert.Len(t, rows, 1)
	assert.Equal(t, 1, summary.Failed)
}

func TestEnricher_NotFoundIsPermanentlyUnmatched(t *testing.T) {
	searcher := newStubSearcher()
	searcher.setError("Song to Woody", "Some Band", fetch.ErrNotFound)

	enricher, states := newTestEnricher(t, searcher)
	covers := []musicbrainz.RecordingRow{coverRow("R1", "Song to Woody", "Some Band")}

	_, summary, err := enricher.Enrich(context.Background(), covers, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Unmatched)

	state, err := states.Get("R1:W1")
	require.NoError(t, err)
	assert.Equal(t, StatusUnmatched, state.Status)

	// Terminal, so the next run does not look it up again.
	_, summary, err = enricher.Enrich(context.Background(), covers, "run-2")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, searcher.totalCalls())
}

func TestEnricher_EmptyTitleIsUnmatchedWithoutLookup(t *testing.T) {
	searcher := newStubSearcher()
	enricher, _ := newTestEnricher(t, searcher)

	cover := musicbrainz.RecordingRow{RecordingID: "R1", WorkID: "W1", ArtistName: "Somebody", IsCover: true}

	rows, summary, err := enricher.Enrich(context.Background(), []musicbrainz.RecordingRow{cover}, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Unmatched)
	assert.Zero(t, searcher.totalCalls())
	assert.Nil(t, rows[0].Popularity)
}

func TestEnricher_FallsBackToWorkTitle(t *testing.T) {
	searcher := newStubSearcher()
	searcher.setResult("Maggie's Farm", "Rage Against the Machine", spotify.Track{
		ID: "t5", Name: "Maggie's Farm", Popularity: 62,
		Artists: []spotify.Artist{{Name: "Rage Against the Machine"}},
	})

	enricher, _ := newTestEnricher(t, searcher)

	cover := musicbrainz.RecordingRow{
		RecordingID: "R1", WorkID: "W1", WorkTitle: "Maggie's Farm",
		ArtistName: "Rage Against the Machine", IsCover: true,
	}

	rows, summary, err := enricher.Enrich(context.Background(), []musicbrainz.RecordingRow{cover}, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Matched)
	assert.Equal(t, "t5", rows[0].SpotifyTrackID)
}

func TestEnricher_CancelledContextStopsEarly(t *testing.T) {
	searcher := newStubSearcher()
	enricher, _ := newTestEnricher(t, searcher)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	covers := []musicbrainz.RecordingRow{
		coverRow("R1", "One Too Many Mornings", "Someone"),
		coverRow("R2", "Boots of Spanish Leather", "Someone Else"),
	}

	rows, _, err := enricher.Enrich(ctx, covers, "run-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rows)
	assert.Zero(t, searcher.totalCalls())
}

func BenchmarkMatcher_Score(b *testing.B) {
	matcher := NewMatcher(DefaultThreshold)
	tracks := []spotify.Track{
		{Name: "All Along the Watchtower", Popularity: 78, Artists: []spotify.Artist{{Name: "Jimi Hendrix"}}},
		{Name: "All Along the Watchtower - Live", Popularity: 41, Artists: []spotify.Artist{{Name: "Jimi Hendrix"}}},
		{Name: "Watchtower", Popularity: 12, Artists: []spotify.Artist{{Name: "Somebody Else"}}},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		matcher.FindBestMatch(tracks, "All Along the Watchtower", "Jimi Hendrix")
	}
}

func BenchmarkStringScore(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		stringScore("all along the watchtower", "All Along the Watchtower (Remastered)")
	}
}
