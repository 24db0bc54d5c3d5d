package musicbrainz

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/coverscout/internal/fetch"
)

const (
	// BaseURL is the MusicBrainz web service root.
	BaseURL = "https://musicbrainz.org/ws/2"

	worksInclude      = "aliases+artist-rels+iswcs+tags"
	recordingsInclude = "artist-credits+releases+isrcs"
)

// Client talks to the MusicBrainz web service through the shared fetcher,
// so every request is rate limited and memoized.
type Client struct {
	fetcher  *fetch.Client
	baseURL  string
	pageSize int
	logger   hclog.Logger
}

// NewClient creates a MusicBrainz API client. pageSize is clamped to the
// service maximum of 100.
func NewClient(baseURL string, pageSize int, fetcher *fetch.Client, logger hclog.Logger) *Client {
	if baseURL == "" {
		baseURL = BaseURL
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Client{
		fetcher:  fetcher,
		baseURL:  baseURL,
		pageSize: pageSize,
		logger:   logger,
	}
}

// PageSize returns the page length used for browse requests.
func (c *Client) PageSize() int {
	return c.pageSize
}

// SearchArtist resolves an artist name to its best-scoring MusicBrainz
// entry. Returns fetch.ErrNotFound when the search comes back empty.
func (c *Client) SearchArtist(ctx context.Context, name string) (*Artist, error) {
	params := url.Values{}
	params.Set("query", fmt.Sprintf("artist:%q", name))
	params.Set("fmt", "json")
	params.Set("limit", "1")

	searchURL := fmt.Sprintf("%s/artist?%s", c.baseURL, params.Encode())
	key := fetch.Key("artist", name)

	var response ArtistSearchResponse
	if err := c.fetcher.GetJSON(ctx, key, searchURL, &response); err != nil {
		return nil, fmt.Errorf("searching artist %q: %w", name, err)
	}

	if len(response.Artists) == 0 {
		return nil, fmt.Errorf("artist %q: %w", name, fetch.ErrNotFound)
	}

	artist := response.Artists[0]
	c.logger.Info("resolved artist", "name", name, "mbid", artist.ID)
	return &artist, nil
}

// BrowseWorks fetches one page of works linked to the artist.
func (c *Client) BrowseWorks(ctx context.Context, artistID string, offset int) (*WorkPage, error) {
	params := url.Values{}
	params.Set("artist", artistID)
	params.Set("fmt", "json")
	params.Set("limit", strconv.Itoa(c.pageSize))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("inc", worksInclude)

	browseURL := fmt.Sprintf("%s/work?%s", c.baseURL, params.Encode())
	key := fetch.Key("works", artistID, strconv.Itoa(c.pageSize), strconv.Itoa(offset))

	var page WorkPage
	if err := c.fetcher.GetJSON(ctx, key, browseURL, &page); err != nil {
		return nil, fmt.Errorf("browsing works for artist %s at offset %d: %w", artistID, offset, err)
	}
	return &page, nil
}

// BrowseRecordings fetches one page of recordings linked to the work.
func (c *Client) BrowseRecordings(ctx context.Context, workID string, offset int) (*RecordingPage, error) {
	params := url.Values{}
	params.Set("work", workID)
	params.Set("fmt", "json")
	params.Set("limit", strconv.Itoa(c.pageSize))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("inc", recordingsInclude)

	browseURL := fmt.Sprintf("%s/recording?%s", c.baseURL, params.Encode())
	key := fetch.Key("recordings", workID, strconv.Itoa(c.pageSize), strconv.Itoa(offset))

	var page RecordingPage
	if err := c.fetcher.GetJSON(ctx, key, browseURL, &page); err != nil {
		return nil, fmt.Errorf("browsing recordings for work %s at offset %d: %w", workID, offset, err)
	}
	return &page, nil
}
