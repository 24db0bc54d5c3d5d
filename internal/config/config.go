package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the complete pipeline configuration.
type Config struct {
	// Artist is the canonical artist whose catalog gets collected.
	Artist string `yaml:"artist" json:"artist" env:"COVERSCOUT_ARTIST" default:"Bob Dylan"`

	// DataDir anchors every derived path: cache database, CSV outputs,
	// downloaded dump archives.
	DataDir string `yaml:"data_dir" json:"data_dir" env:"COVERSCOUT_DATA_DIR" default:"./data"`

	MusicBrainz MusicBrainzConfig `yaml:"musicbrainz" json:"musicbrainz"`
	Spotify     SpotifyConfig     `yaml:"spotify" json:"spotify"`
	Cache       CacheConfig       `yaml:"cache" json:"cache"`
	Output      OutputConfig      `yaml:"output" json:"output"`
	Mirror      MirrorConfig      `yaml:"mirror" json:"mirror"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
}

// MusicBrainzConfig holds settings for the public MusicBrainz web service.
type MusicBrainzConfig struct {
	BaseURL    string        `yaml:"base_url" json:"base_url" env:"MUSICBRAINZ_BASE_URL" default:"https://musicbrainz.org/ws/2"`
	UserAgent  string        `yaml:"user_agent" json:"user_agent" env:"MUSICBRAINZ_USER_AGENT" default:"CoverScout/1.0 (https://github.com/mantonx/coverscout)"`
	RateLimit  float64       `yaml:"rate_limit" json:"rate_limit" env:"MUSICBRAINZ_RATE_LIMIT" default:"1.0"`
	PageSize   int           `yaml:"page_size" json:"page_size" env:"MUSICBRAINZ_PAGE_SIZE" default:"100"`
	MaxRetries int           `yaml:"max_retries" json:"max_retries" env:"MUSICBRAINZ_MAX_RETRIES" default:"3"`
	BaseDelay  time.Duration `yaml:"base_delay" json:"base_delay" env:"MUSICBRAINZ_BASE_DELAY" default:"2s"`
	MaxDelay   time.Duration `yaml:"max_delay" json:"max_delay" env:"MUSICBRAINZ_MAX_DELAY" default:"60s"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout" env:"MUSICBRAINZ_TIMEOUT" default:"30s"`
}

// SpotifyConfig holds credentials and search tuning for the Spotify Web API.
// Credentials come from the environment (or a .env file), never from config
// files checked into a repository.
type SpotifyConfig struct {
	ClientID       string        `yaml:"-" json:"-" env:"SPOTIFY_CLIENT_ID"`
	ClientSecret   string        `yaml:"-" json:"-" env:"SPOTIFY_CLIENT_SECRET"`
	Market         string        `yaml:"market" json:"market" env:"SPOTIFY_MARKET" default:"US"`
	RateLimit      float64       `yaml:"rate_limit" json:"rate_limit" env:"SPOTIFY_RATE_LIMIT" default:"4.0"`
	SearchLimit    int           `yaml:"search_limit" json:"search_limit" env:"SPOTIFY_SEARCH_LIMIT" default:"5"`
	MatchThreshold float64       `yaml:"match_threshold" json:"match_threshold" env:"SPOTIFY_MATCH_THRESHOLD" default:"0.60"`
	MaxRetries     int           `yaml:"max_retries" json:"max_retries" env:"SPOTIFY_MAX_RETRIES" default:"3"`
	BaseDelay      time.Duration `yaml:"base_delay" json:"base_delay" env:"SPOTIFY_BASE_DELAY" default:"1s"`
	MaxDelay       time.Duration `yaml:"max_delay" json:"max_delay" env:"SPOTIFY_MAX_DELAY" default:"60s"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout" env:"SPOTIFY_TIMEOUT" default:"30s"`
}

// CacheConfig controls the persistent request cache and enrichment state.
type CacheConfig struct {
	// Path of the sqlite database. Derived from DataDir when empty.
	Path string `yaml:"path" json:"path" env:"COVERSCOUT_CACHE_PATH"`
	// DurationHours bounds entry lifetime. Zero keeps entries forever,
	// which suits an append-mostly catalog.
	DurationHours int `yaml:"duration_hours" json:"duration_hours" env:"COVERSCOUT_CACHE_HOURS" default:"0"`
}

// OutputConfig names the CSV datasets. Relative names resolve under DataDir.
type OutputConfig struct {
	Dir            string `yaml:"dir" json:"dir" env:"COVERSCOUT_OUTPUT_DIR"`
	WorksFile      string `yaml:"works_file" json:"works_file" default:"works.csv"`
	RecordingsFile string `yaml:"recordings_file" json:"recordings_file" default:"recordings.csv"`
	CoversFile     string `yaml:"covers_file" json:"covers_file" default:"covers.csv"`
	EnrichedFile   string `yaml:"enriched_file" json:"enriched_file" default:"covers_with_popularity.csv"`
}

// MirrorConfig describes the optional local MusicBrainz mirror. When URL is
// set the catalog stages read from the mirror instead of the public API.
// The remaining fields drive dump download and import.
type MirrorConfig struct {
	URL           string `yaml:"-" json:"-" env:"MUSICBRAINZ_DB_URL"`
	Host          string `yaml:"host" json:"host" env:"POSTGRES_HOST" default:"localhost"`
	Port          int    `yaml:"port" json:"port" env:"POSTGRES_PORT" default:"5432"`
	Username      string `yaml:"username" json:"username" env:"POSTGRES_USER" default:"musicbrainz"`
	Password      string `yaml:"-" json:"-" env:"POSTGRES_PASSWORD"`
	Database      string `yaml:"database" json:"database" env:"POSTGRES_DB" default:"musicbrainz"`
	DumpBaseURL   string `yaml:"dump_base_url" json:"dump_base_url" env:"MUSICBRAINZ_DUMP_BASE_URL" default:"https://data.metabrainz.org/pub/musicbrainz/data/fullexport"`
	UseDocker     bool   `yaml:"use_docker" json:"use_docker" env:"COVERSCOUT_USE_DOCKER" default:"true"`
	ContainerName string `yaml:"container_name" json:"container_name" env:"COVERSCOUT_PG_CONTAINER" default:"coverscout-musicbrainz"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level" env:"COVERSCOUT_LOG_LEVEL" default:"info"`
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() *Config {
	return &Config{
		Artist:  "Bob Dylan",
		DataDir: "./data",
		MusicBrainz: MusicBrainzConfig{
			BaseURL:    "https://musicbrainz.org/ws/2",
			UserAgent:  "CoverScout/1.0 (https://github.com/mantonx/coverscout)",
			RateLimit:  1.0,
			PageSize:   100,
			MaxRetries: 3,
			BaseDelay:  2 * time.Second,
			MaxDelay:   60 * time.Second,
			Timeout:    30 * time.Second,
		},
		Spotify: SpotifyConfig{
			Market:         "US",
			RateLimit:      4.0,
			SearchLimit:    5,
			MatchThreshold: 0.60,
			MaxRetries:     3,
			BaseDelay:      time.Second,
			MaxDelay:       60 * time.Second,
			Timeout:        30 * time.Second,
		},
		Cache: CacheConfig{
			DurationHours: 0,
		},
		Output: OutputConfig{
			WorksFile:      "works.csv",
			RecordingsFile: "recordings.csv",
			CoversFile:     "covers.csv",
			EnrichedFile:   "covers_with_popularity.csv",
		},
		Mirror: MirrorConfig{
			Host:          "localhost",
			Port:          5432,
			Username:      "musicbrainz",
			Database:      "musicbrainz",
			DumpBaseURL:   "https://data.metabrainz.org/pub/musicbrainz/data/fullexport",
			UseDocker:     true,
			ContainerName: "coverscout-musicbrainz",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the effective configuration: defaults, then the config file
// if one exists, then environment variables. A .env file in the working
// directory is folded into the environment first.
func Load(configPath string) (*Config, error) {
	// Missing .env is the normal case, not an error.
	_ = godotenv.Load()

	config := DefaultConfig()

	if configPath != "" && fileExists(configPath) {
		if err := loadFromFile(configPath, config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadStructFromEnv(reflect.ValueOf(config).Elem()); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	applyDerivedConfig(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate checks invariants that would otherwise surface as confusing
// runtime behavior deep inside a stage.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Artist) == "" {
		return fmt.Errorf("artist must not be empty")
	}

	if c.MusicBrainz.RateLimit <= 0 {
		return fmt.Errorf("invalid musicbrainz rate limit: %f", c.MusicBrainz.RateLimit)
	}

	if c.MusicBrainz.PageSize < 1 || c.MusicBrainz.PageSize > 100 {
		return fmt.Errorf("invalid musicbrainz page size: %d", c.MusicBrainz.PageSize)
	}

	if c.Spotify.RateLimit <= 0 {
		return fmt.Errorf("invalid spotify rate limit: %f", c.Spotify.RateLimit)
	}

	if c.Spotify.MatchThreshold < 0 || c.Spotify.MatchThreshold > 1 {
		return fmt.Errorf("invalid match threshold: %f", c.Spotify.MatchThreshold)
	}

	if c.Spotify.SearchLimit < 1 || c.Spotify.SearchLimit > 50 {
		return fmt.Errorf("invalid spotify search limit: %d", c.Spotify.SearchLimit)
	}

	if c.Cache.DurationHours < 0 {
		return fmt.Errorf("invalid cache duration: %d", c.Cache.DurationHours)
	}

	return nil
}

// HasSpotifyCredentials reports whether the enrichment stage can run.
func (c *Config) HasSpotifyCredentials() bool {
	return c.Spotify.ClientID != "" && c.Spotify.ClientSecret != ""
}

// MirrorDSN returns the gorm DSN for the local mirror. The URL form wins
// when set; otherwise the DSN is assembled from the discrete fields.
func (c *Config) MirrorDSN() string {
	if c.Mirror.URL != "" {
		return c.Mirror.URL
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		c.Mirror.Host, c.Mirror.Username, c.Mirror.Password, c.Mirror.Database, c.Mirror.Port)
}

// Helper methods

func loadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	case ".json":
		return json.Unmarshal(data, config)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
}

func loadStructFromEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		// Handle nested structs recursively
		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s: %w", fieldType.Name, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(intVal)
		}
	case reflect.Float32, reflect.Float64:
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatVal)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			values := strings.Split(value, ",")
			for i, v := range values {
				values[i] = strings.TrimSpace(v)
			}
			field.Set(reflect.ValueOf(values))
		}
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}

func applyDerivedConfig(config *Config) {
	if config.Cache.Path == "" {
		config.Cache.Path = filepath.Join(config.DataDir, "coverscout.db")
	}
	if config.Output.Dir == "" {
		config.Output.Dir = config.DataDir
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
