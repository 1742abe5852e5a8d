package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hxnx/shilobot/config"
	"github.com/hxnx/shilobot/internal/bot"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	configFile string
	logLevel   string
	logFile    string
)

var rootCmd = &cobra.Command{
	Use:   "shilobot",
	Short: "Discord bard that plays shuffled local playlists",
	Long: `shilobot joins Discord voice channels and plays shuffled playlists of
local audio files through ffmpeg.

Playlists are read from a TOML file of [[playlists]] tables, each with a
name and a list of file globs. Discord credentials and the optional
PostgreSQL and Redis history stores are configured through the
environment or a .env file.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&configFile, "config", "", "Playlist file (default: $PLAYLIST_FILE or "+config.DefaultPlaylistFile+")")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error), overrides LOG_LEVEL")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "Log file path (default: stderr)")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logger := setupLogger(logFile, level)

	logger.Info().
		Bool("development", cfg.IsDevelopment()).
		Str("guild", cfg.GuildID).
		Str("playlist_file", cfg.PlaylistFile).
		Int("playlists", len(cfg.Playlists)).
		Int("shards", cfg.ShardCount).
		Str("ffmpeg", cfg.FFmpegPath).
		Int("bitrate", cfg.AudioBitrate).
		Msg("configuration loaded")

	b, err := bot.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	if err := b.Start(); err != nil {
		return fmt.Errorf("failed to start bot: %w", err)
	}

	logger.Info().Msg("bot is running, press CTRL+C to exit")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	if err := b.Stop(); err != nil {
		logger.Error().Err(err).Msg("failed to stop bot")
		return err
	}
	return nil
}

// setupLogger creates a logger writing to logFile, or pretty-printing to
// stderr when no file is given.
func setupLogger(logFile, logLevel string) zerolog.Logger {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	output := os.Stderr
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		} else {
			output = f
		}
	}

	logger := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	if output == os.Stderr {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	return logger
}
