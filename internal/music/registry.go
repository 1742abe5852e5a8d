package music

import (
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// TransportFactory builds the voice transport for a guild.
type TransportFactory func(guildID string) Transport

func DiscordTransports(s *discordgo.Session, logger zerolog.Logger) TransportFactory {
	return func(guildID string) Transport {
		return NewVoiceTransport(s, guildID, logger.With().Str("guild", guildID).Logger())
	}
}

// Registry hands out the Guild of a guild ID, creating it on first use.
type Registry struct {
	playlists  []PlaylistSpec
	opener     StreamOpener
	transports TransportFactory
	recorder   PlayRecorder
	logger     zerolog.Logger

	mu     sync.Mutex
	guilds map[string]*Guild
}

type RegistryOptions struct {
	Playlists  []PlaylistSpec
	Opener     StreamOpener
	Transports TransportFactory
	Recorder   PlayRecorder
	Logger     zerolog.Logger
}

func NewRegistry(opts RegistryOptions) *Registry {
	return &Registry{
		playlists:  opts.Playlists,
		opener:     opts.Opener,
		transports: opts.Transports,
		recorder:   opts.Recorder,
		logger:     opts.Logger,
		guilds:     make(map[string]*Guild),
	}
}

func (r *Registry) Get(guildID string) *Guild {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.guilds[guildID]; ok {
		return g
	}

	g := NewGuild(GuildOptions{
		ID:        guildID,
		Playlists: r.playlists,
		Transport: r.transports(guildID),
		Opener:    r.opener,
		Recorder:  r.recorder,
		Logger:    r.logger,
	})
	r.guilds[guildID] = g
	r.logger.Info().Str("guild", guildID).Msg("initialising for guild")
	return g
}

// Lookup returns the Guild of guildID without creating one.
func (r *Registry) Lookup(guildID string) (*Guild, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.guilds[guildID]
	return g, ok
}

func (r *Registry) PlaylistNames() []string {
	return lo.Map(r.playlists, func(p PlaylistSpec, _ int) string { return p.Name })
}

// Playing counts the guilds currently streaming audio.
func (r *Registry) Playing() int {
	r.mu.Lock()
	guilds := lo.Values(r.guilds)
	r.mu.Unlock()

	return lo.CountBy(guilds, func(g *Guild) bool { return g.IsPlaying() })
}

func (r *Registry) Close() {
	r.mu.Lock()
	guilds := lo.Values(r.guilds)
	r.guilds = make(map[string]*Guild)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, g := range guilds {
		wg.Add(1)
		go func(g *Guild) {
			defer wg.Done()
			g.Close()
		}(g)
	}
	wg.Wait()
}
