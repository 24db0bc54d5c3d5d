package spotify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2/clientcredentials"
	spotifyauth "golang.org/x/oauth2/spotify"

	"github.com/mantonx/coverscout/internal/fetch"
)

// BaseURL is the Spotify Web API root.
const BaseURL = "https://api.spotify.com/v1"

// Credentials configures the client-credentials grant used for search
// requests. TokenURL defaults to the Spotify accounts service and only
// needs overriding in tests.
type Credentials struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// HTTPClient returns an http.Client that obtains a bearer token via the
// client-credentials flow and refreshes it when it expires.
func (c Credentials) HTTPClient(ctx context.Context) *http.Client {
	tokenURL := c.TokenURL
	if tokenURL == "" {
		tokenURL = spotifyauth.Endpoint.TokenURL
	}
	cfg := clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     tokenURL,
	}
	return cfg.Client(ctx)
}

// Client talks to the Spotify Web API through the shared fetcher, so
// every search is rate limited and memoized alongside the other stages.
type Client struct {
	fetcher *fetch.Client
	baseURL string
	market  string
	limit   int
	logger  hclog.Logger
}

// NewClient creates a Spotify search client. searchLimit is clamped to
// the service maximum of 50.
func NewClient(baseURL, market string, searchLimit int, fetcher *fetch.Client, logger hclog.Logger) *Client {
	if baseURL == "" {
		baseURL = BaseURL
	}
	if searchLimit <= 0 || searchLimit > 50 {
		searchLimit = 5
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Client{
		fetcher: fetcher,
		baseURL: baseURL,
		market:  market,
		limit:   searchLimit,
		logger:  logger,
	}
}

// SearchTracks queries the search endpoint for candidates matching the
// title and artist. The empty artist is allowed; the title is not.
func (c *Client) SearchTracks(ctx context.Context, title, artist string) ([]Track, error) {
	if title == "" {
		return nil, fmt.Errorf("track search requires a title")
	}

	query := fmt.Sprintf("track:%q", title)
	if artist != "" {
		query += fmt.Sprintf(" artist:%q", artist)
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("type", "track")
	params.Set("limit", strconv.Itoa(c.limit))
	if c.market != "" {
		params.Set("market", c.market)
	}

	searchURL := fmt.Sprintf("%s/search?%s", c.baseURL, params.Encode())
	key := fetch.Key("spotify", strings.ToLower(title), strings.ToLower(artist), c.market, strconv.Itoa(c.limit))

	var response SearchResponse
	if err := c.fetcher.GetJSON(ctx, key, searchURL, &response); err != nil {
		return nil, fmt.Errorf("searching track %q by %q: %w", title, artist, err)
	}

	c.logger.Debug("spotify search", "title", title, "artist", artist, "candidates", len(response.Tracks.Items))
	return response.Tracks.Items, nil
}
