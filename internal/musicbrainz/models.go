package musicbrainz

import "encoding/json"

// Wire types for the MusicBrainz JSON web service. Browse endpoints report
// their totals under entity-prefixed keys ("work-count"), search endpoints
// under plain "count"; the page types carry both and Total picks the one
// that is present.

// ArtistSearchResponse is the result of an artist search query.
type ArtistSearchResponse struct {
	Count   int      `json:"count"`
	Offset  int      `json:"offset"`
	Artists []Artist `json:"artists"`
}

// Artist identifies a MusicBrainz artist.
type Artist struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	SortName       string `json:"sort-name"`
	Disambiguation string `json:"disambiguation"`
	Score          int    `json:"score"`
}

// WorkPage is one page of works linked to an artist.
type WorkPage struct {
	Count      int    `json:"count"`
	WorkCount  int    `json:"work-count"`
	Offset     int    `json:"offset"`
	WorkOffset int    `json:"work-offset"`
	Works      []Work `json:"works"`
}

// Total returns the reported number of works across all pages.
func (p *WorkPage) Total() int {
	if p.WorkCount > 0 {
		return p.WorkCount
	}
	return p.Count
}

// Work is a composition entry.
type Work struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Type           string          `json:"type"`
	Language       string          `json:"language"`
	Languages      []string        `json:"languages"`
	ISWCs          []string        `json:"iswcs"`
	Disambiguation string          `json:"disambiguation"`
	Aliases        []Alias         `json:"aliases"`
	Relations      json.RawMessage `json:"relations"`
	Attributes     json.RawMessage `json:"attributes"`
	Tags           []Tag           `json:"tags"`
}

// Alias is an alternative name for a work or artist.
type Alias struct {
	Name     string `json:"name"`
	SortName string `json:"sort-name"`
	Type     string `json:"type"`
	Locale   string `json:"locale"`
}

// Tag is a community tag with its vote count.
type Tag struct {
	Count int    `json:"count"`
	Name  string `json:"name"`
}

// RecordingPage is one page of recordings linked to a work.
type RecordingPage struct {
	Count           int         `json:"count"`
	RecordingCount  int         `json:"recording-count"`
	Offset          int         `json:"offset"`
	RecordingOffset int         `json:"recording-offset"`
	Recordings      []Recording `json:"recordings"`
}

// Total returns the reported number of recordings across all pages.
func (p *RecordingPage) Total() int {
	if p.RecordingCount > 0 {
		return p.RecordingCount
	}
	return p.Count
}

// Recording is a single recorded performance.
type Recording struct {
	ID               string         `json:"id"`
	Title            string         `json:"title"`
	Length           int            `json:"length"`
	Video            bool           `json:"video"`
	Disambiguation   string         `json:"disambiguation"`
	FirstReleaseDate string         `json:"first-release-date"`
	ArtistCredit     []ArtistCredit `json:"artist-credit"`
	Releases         []Release      `json:"releases"`
	ISRCs            []string       `json:"isrcs"`
}

// ArtistCredit is one entry of a recording's credit phrase.
type ArtistCredit struct {
	Name       string `json:"name"`
	JoinPhrase string `json:"joinphrase"`
	Artist     Artist `json:"artist"`
}

// Release is an issued album or single containing a recording.
type Release struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Status  string `json:"status"`
	Date    string `json:"date"`
	Country string `json:"country"`
}
