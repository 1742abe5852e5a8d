package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/samber/lo"
)

const DefaultPlaylistFile = "shilo.toml"

type Config struct {
	DiscordToken  string
	ApplicationID string

	GuildID string
	OwnerID string

	ShardCount int

	LogLevel string

	FFmpegPath   string
	AudioBitrate int
	HistoryLimit int

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	PlaylistFile string
	Playlists    []PlaylistConfig
}

// PlaylistConfig is one [[playlists]] table of the playlist file.
type PlaylistConfig struct {
	Name  string   `koanf:"name"`
	Globs []string `koanf:"globs"`
}

// Playlist is a playlist whose globs have been expanded to files.
type Playlist struct {
	Name   string
	Tracks []string
}

// Load reads the environment (and an optional .env file) and the playlist
// file at playlistFile, or DefaultPlaylistFile when empty.
func Load(playlistFile string) (*Config, error) {
	_ = godotenv.Load()

	if playlistFile == "" {
		playlistFile = getEnvWithDefault("PLAYLIST_FILE", DefaultPlaylistFile)
	}

	cfg := &Config{
		DiscordToken:  os.Getenv("DISCORD_TOKEN"),
		ApplicationID: os.Getenv("DISCORD_APPLICATION_ID"),

		GuildID: os.Getenv("DISCORD_GUILD_ID"),
		OwnerID: os.Getenv("OWNER_ID"),

		ShardCount: getEnvAsIntWithDefault("SHARD_COUNT", 0),

		LogLevel: getEnvWithDefault("LOG_LEVEL", "info"),

		FFmpegPath:   getEnvWithDefault("FFMPEG_PATH", "ffmpeg"),
		AudioBitrate: getEnvAsIntWithDefault("AUDIO_BITRATE", 96),
		HistoryLimit: getEnvAsIntWithDefault("HISTORY_LIMIT", 10),

		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     getEnvAsIntWithDefault("DB_PORT", 5432),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBSSLMode:  getEnvWithDefault("DB_SSLMODE", "disable"),

		RedisHost:     os.Getenv("REDIS_HOST"),
		RedisPort:     getEnvAsIntWithDefault("REDIS_PORT", 6379),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvAsIntWithDefault("REDIS_DB", 0),

		PlaylistFile: playlistFile,
	}

	playlists, err := loadPlaylists(playlistFile)
	if err != nil {
		return nil, err
	}
	cfg.Playlists = playlists

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadPlaylists(path string) ([]PlaylistConfig, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to read playlist file %s: %w", path, err)
	}

	var playlists []PlaylistConfig
	if err := k.Unmarshal("playlists", &playlists); err != nil {
		return nil, fmt.Errorf("failed to parse playlists in %s: %w", path, err)
	}

	for i := range playlists {
		playlists[i].Name = strings.TrimSpace(playlists[i].Name)
		for j, g := range playlists[i].Globs {
			playlists[i].Globs[j] = expandPath(g)
		}
	}
	return playlists, nil
}

func (c *Config) Validate() error {
	if c.DiscordToken == "" {
		return errors.New("DISCORD_TOKEN is required")
	}

	if c.ApplicationID == "" {
		return errors.New("DISCORD_APPLICATION_ID is required")
	}

	if c.AudioBitrate < 8 || c.AudioBitrate > 512 {
		return errors.New("AUDIO_BITRATE must be between 8 and 512")
	}

	if c.HistoryLimit < 1 {
		return errors.New("HISTORY_LIMIT must be at least 1")
	}

	return validatePlaylists(c.Playlists)
}

func validatePlaylists(playlists []PlaylistConfig) error {
	if len(playlists) == 0 {
		return errors.New("at least one playlist must be configured")
	}

	seen := make(map[string]struct{}, len(playlists))
	for _, p := range playlists {
		if p.Name == "" {
			return errors.New("playlist name is required")
		}
		if _, ok := seen[p.Name]; ok {
			return fmt.Errorf("duplicate playlist %q", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.GuildID != ""
}

// ResolvePlaylists expands every glob. Files matched by more than one glob of
// the same playlist are listed once, in first-match order.
func (c *Config) ResolvePlaylists() ([]Playlist, error) {
	resolved := make([]Playlist, 0, len(c.Playlists))
	for _, p := range c.Playlists {
		var tracks []string
		for _, pattern := range p.Globs {
			matches, err := filepath.Glob(pattern)
			if err != nil {
				return nil, fmt.Errorf("playlist %q: bad pattern %q: %w", p.Name, pattern, err)
			}
			tracks = append(tracks, matches...)
		}
		resolved = append(resolved, Playlist{Name: p.Name, Tracks: lo.Uniq(tracks)})
	}
	return resolved, nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func getEnvAsIntWithDefault(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvWithDefault(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

func (c *Config) GetDBConfig() *DBConfig {
	return &DBConfig{
		Host:     c.DBHost,
		Port:     c.DBPort,
		User:     c.DBUser,
		Password: c.DBPassword,
		Name:     c.DBName,
		SSLMode:  c.DBSSLMode,
	}
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c *Config) GetRedisConfig() *RedisConfig {
	return &RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}
