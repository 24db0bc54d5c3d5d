package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "Bob Dylan", cfg.Artist)
	assert.Equal(t, "https://musicbrainz.org/ws/2", cfg.MusicBrainz.BaseURL)
	assert.Equal(t, 1.0, cfg.MusicBrainz.RateLimit)
	assert.Equal(t, 100, cfg.MusicBrainz.PageSize)
	assert.Equal(t, "US", cfg.Spotify.Market)
	assert.Equal(t, 0.60, cfg.Spotify.MatchThreshold)
	assert.Equal(t, 0, cfg.Cache.DurationHours)
	assert.Equal(t, "works.csv", cfg.Output.WorksFile)
	assert.Equal(t, "covers_with_popularity.csv", cfg.Output.EnrichedFile)

	require.NoError(t, cfg.Validate())
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
artist: "Leonard Cohen"
musicbrainz:
  rate_limit: 0.5
spotify:
  market: "GB"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	t.Setenv("SPOTIFY_MARKET", "DE")
	t.Setenv("SPOTIFY_CLIENT_ID", "id-from-env")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "secret-from-env")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	// File overrides defaults, env overrides the file.
	assert.Equal(t, "Leonard Cohen", cfg.Artist)
	assert.Equal(t, 0.5, cfg.MusicBrainz.RateLimit)
	assert.Equal(t, "DE", cfg.Spotify.Market)
	assert.Equal(t, "id-from-env", cfg.Spotify.ClientID)
	assert.True(t, cfg.HasSpotifyCredentials())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "Bob Dylan", cfg.Artist)
}

func TestLoad_DerivedPaths(t *testing.T) {
	t.Setenv("COVERSCOUT_DATA_DIR", "/tmp/scout-data")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("/tmp/scout-data", "coverscout.db"), cfg.Cache.Path)
	assert.Equal(t, "/tmp/scout-data", cfg.Output.Dir)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty artist", func(c *Config) { c.Artist = "  " }, "artist"},
		{"zero mb rate", func(c *Config) { c.MusicBrainz.RateLimit = 0 }, "rate limit"},
		{"page size too big", func(c *Config) { c.MusicBrainz.PageSize = 500 }, "page size"},
		{"threshold above one", func(c *Config) { c.Spotify.MatchThreshold = 1.5 }, "match threshold"},
		{"search limit zero", func(c *Config) { c.Spotify.SearchLimit = 0 }, "search limit"},
		{"negative cache hours", func(c *Config) { c.Cache.DurationHours = -1 }, "cache duration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMirrorDSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mirror.Password = "secret"

	dsn := cfg.MirrorDSN()
	assert.Contains(t, dsn, "host=localhost")
	assert.Contains(t, dsn, "dbname=musicbrainz")
	assert.Contains(t, dsn, "port=5432")

	cfg.Mirror.URL = "postgres://mb:pw@db:5433/musicbrainz"
	assert.Equal(t, "postgres://mb:pw@db:5433/musicbrainz", cfg.MirrorDSN())
}

func TestHasSpotifyCredentials(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.HasSpotifyCredentials())

	cfg.Spotify.ClientID = "id"
	assert.False(t, cfg.HasSpotifyCredentials())

	cfg.Spotify.ClientSecret = "secret"
	assert.True(t, cfg.HasSpotifyCredentials())
}
