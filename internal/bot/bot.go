package bot

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/hxnx/shilobot/config"
	"github.com/hxnx/shilobot/internal/database"
	commands "github.com/hxnx/shilobot/internal/features"
	"github.com/hxnx/shilobot/internal/music"
	"github.com/hxnx/shilobot/internal/redis"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// shard is one gateway session together with the guild sessions it serves.
type shard struct {
	session  *discordgo.Session
	registry *music.Registry
	commands *commands.Commands
}

type Bot struct {
	config       *config.Config
	logger       zerolog.Logger
	shards       []*shard
	started      bool
	presenceStop chan struct{}
}

func New(cfg *config.Config, logger zerolog.Logger) (*Bot, error) {
	playlists, err := cfg.ResolvePlaylists()
	if err != nil {
		return nil, err
	}
	for _, p := range playlists {
		if len(p.Tracks) == 0 {
			logger.Warn().Str("playlist", p.Name).Msg("playlist matched no files")
		}
	}
	specs := lo.Map(playlists, func(p config.Playlist, _ int) music.PlaylistSpec {
		return music.PlaylistSpec{Name: p.Name, Tracks: p.Tracks}
	})

	db := cfg.GetDBConfig()
	dbConfig := &database.Config{
		Host:     db.Host,
		Port:     db.Port,
		User:     db.User,
		Password: db.Password,
		DBName:   db.Name,
		SSLMode:  db.SSLMode,
	}
	if err := database.Initialize(dbConfig, logger); err != nil {
		logger.Warn().Err(err).Msg("database initialization failed, play history will not be persisted")
	}

	rc := cfg.GetRedisConfig()
	redisConfig := redis.Config{
		Host:     rc.Host,
		Port:     rc.Port,
		Password: rc.Password,
		DB:       rc.DB,
	}
	if _, err := redis.Init(redisConfig, logger); err != nil {
		logger.Warn().Err(err).Msg("redis initialization failed, play history will not be cached")
	}

	history := music.NewHistoryStore(redis.Client(), database.NewHistoryRepository(), cfg.HistoryLimit, logger)
	opener := music.NewFFmpegOpener(cfg.FFmpegPath, cfg.AudioBitrate, logger)

	shardCount := cfg.ShardCount
	if shardCount < 1 {
		s, err := discordgo.New("Bot " + cfg.DiscordToken)
		if err != nil {
			return nil, err
		}

		if gw, err := s.GatewayBot(); err == nil && gw.Shards > 0 {
			shardCount = gw.Shards
		} else {
			logger.Warn().Err(err).Msg("failed to auto-detect shard count, defaulting to 1")
			shardCount = 1
		}
	}

	shards := make([]*shard, 0, shardCount)
	for id := 0; id < shardCount; id++ {
		s, err := discordgo.New("Bot " + cfg.DiscordToken)
		if err != nil {
			return nil, err
		}

		s.Identify.Intents = discordgo.IntentsGuilds |
			discordgo.IntentsGuildVoiceStates |
			discordgo.IntentsGuildMessages |
			discordgo.IntentsMessageContent

		if shardCount > 1 {
			s.Identify.Shard = &[2]int{id, shardCount}
			s.ShardID = id
			s.ShardCount = shardCount
		}

		shardLogger := logger.With().Int("shard", id).Logger()
		registry := music.NewRegistry(music.RegistryOptions{
			Playlists:  specs,
			Opener:     opener,
			Transports: music.DiscordTransports(s, shardLogger),
			Recorder:   history,
			Logger:     shardLogger,
		})

		shards = append(shards, &shard{
			session:  s,
			registry: registry,
			commands: commands.New(registry, history, cfg.OwnerID, shardLogger),
		})
	}

	return &Bot{
		config: cfg,
		logger: logger,
		shards: shards,
	}, nil
}

func (b *Bot) Start() error {
	if b.started {
		return nil
	}

	if len(b.shards) == 0 {
		return nil
	}

	for _, sh := range b.shards {
		b.registerHandlers(sh.session)
		sh.commands.AddHandlers(sh.session)
	}

	if _, err := commands.RegisterCommands(b.shards[0].session, b.config.ApplicationID, b.config.GuildID, b.logger); err != nil {
		b.logger.Warn().Err(err).Msg("failed to register slash commands")
	}

	for _, sh := range b.shards {
		if err := sh.session.Open(); err != nil {
			return fmt.Errorf("cannot open shard %d: %w", sh.session.ShardID, err)
		}
	}

	b.startPresenceUpdater()
	b.started = true
	b.logger.Info().Int("shards", len(b.shards)).Msg("bot session opened")
	return nil
}

func (b *Bot) registerHandlers(s *discordgo.Session) {
	s.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		if s.State != nil && s.State.User != nil {
			b.logger.Info().Str("user", s.State.User.Username).Int("shard", s.ShardID).Msg("bot ready")
		} else {
			b.logger.Info().Int("shard", s.ShardID).Msg("bot ready")
		}
		b.updatePresence()
	})
}

func (b *Bot) Stop() error {
	if !b.started {
		return nil
	}

	b.started = false
	b.stopPresenceUpdater()

	// Guild sessions leave their voice channels before the gateway closes.
	for _, sh := range b.shards {
		sh.registry.Close()
	}

	var closeErr error
	for _, sh := range b.shards {
		if err := sh.session.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
	}

	if err := database.Close(); err != nil {
		b.logger.Warn().Err(err).Msg("failed to close database")
	}

	if err := redis.Close(); err != nil {
		b.logger.Warn().Err(err).Msg("failed to close redis")
	}

	b.logger.Info().Int("shards", len(b.shards)).Msg("bot session closed")
	return closeErr
}
