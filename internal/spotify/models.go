package spotify

import "strings"

// SearchResponse is the relevant subset of the Spotify /v1/search payload.
type SearchResponse struct {
	Tracks TrackPage `json:"tracks"`
}

// TrackPage wraps the track results of a search.
type TrackPage struct {
	Items  []Track `json:"items"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Track is a single track candidate returned by the search endpoint.
type Track struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Popularity   int               `json:"popularity"`
	DurationMS   int               `json:"duration_ms"`
	Explicit     bool              `json:"explicit"`
	Album        Album             `json:"album"`
	Artists      []Artist          `json:"artists"`
	ExternalURLs map[string]string `json:"external_urls"`
}

// Album carries the release metadata attached to a track.
type Album struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ReleaseDate string `json:"release_date"`
	AlbumType   string `json:"album_type"`
}

// Artist is a credited artist on a track.
type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ArtistNames joins the credited artists the way Spotify's UI displays them.
func (t Track) ArtistNames() string {
	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ")
}

// ExternalURL returns the public Spotify link for the track, if any.
func (t Track) ExternalURL() string {
	return t.ExternalURLs["spotify"]
}
