package commands

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hxnx/shilobot/internal/music"
	"github.com/rs/zerolog"
)

const (
	commandTimeout = 60 * time.Second

	optionPlaylist = "playlist"
	optionInterval = "interval"

	internalErrorMessage = "Command failed! Internal error."
)

var playlistOption = &discordgo.ApplicationCommandOption{
	Type:        discordgo.ApplicationCommandOptionString,
	Name:        optionPlaylist,
	Description: "Playlist name",
	Required:    false,
}

var CommandList = []*discordgo.ApplicationCommand{
	{Name: "join", Description: commandDescriptions["join"]},
	{Name: "leave", Description: commandDescriptions["leave"]},
	{
		Name:        "start",
		Description: commandDescriptions["start"],
		Options:     []*discordgo.ApplicationCommandOption{playlistOption},
	},
	{
		Name:        "restart",
		Description: commandDescriptions["restart"],
		Options:     []*discordgo.ApplicationCommandOption{playlistOption},
	},
	{Name: "stop", Description: commandDescriptions["stop"]},
	{Name: "next", Description: commandDescriptions["next"]},
	{
		Name:        "ff",
		Description: commandDescriptions["ff"],
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        optionInterval,
				Description: `Interval such as "1s", "2min" or "3minutes"`,
				Required:    true,
			},
		},
	},
	{
		Name:        "list",
		Description: commandDescriptions["list"],
		Options:     []*discordgo.ApplicationCommandOption{playlistOption},
	},
	{Name: "history", Description: commandDescriptions["history"]},
	{Name: "help", Description: commandDescriptions["help"]},
}

type handlerFunc func(ctx context.Context, g *music.Guild, inv music.Invocation, options []*discordgo.ApplicationCommandInteractionDataOption) error

// Commands forwards slash commands to the guild sessions of one shard.
type Commands struct {
	registry *music.Registry
	history  *music.HistoryStore
	ownerID  string
	logger   zerolog.Logger
	handlers map[string]handlerFunc
}

func New(registry *music.Registry, history *music.HistoryStore, ownerID string, logger zerolog.Logger) *Commands {
	c := &Commands{
		registry: registry,
		history:  history,
		ownerID:  ownerID,
		logger:   logger,
	}
	c.handlers = map[string]handlerFunc{
		"join":    c.join,
		"leave":   c.leave,
		"start":   c.start,
		"restart": c.restart,
		"stop":    c.stop,
		"next":    c.next,
		"ff":      c.fastForward,
		"list":    c.list,
		"history": c.showHistory,
		"help":    c.help,
	}
	return c
}

func RegisterCommands(s *discordgo.Session, appID string, guildID string, logger zerolog.Logger) ([]*discordgo.ApplicationCommand, error) {
	scope := "global"
	if guildID != "" {
		scope = fmt.Sprintf("guild:%s", guildID)
	}

	logger.Info().Int("count", len(CommandList)).Str("scope", scope).Msg("registering commands")

	cmds, err := s.ApplicationCommandBulkOverwrite(appID, guildID, CommandList)
	if err != nil {
		return nil, fmt.Errorf("cannot bulk overwrite commands: %w", err)
	}
	return cmds, nil
}

func (c *Commands) AddHandlers(s *discordgo.Session) {
	s.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		c.HandleInteraction(s, i)
	})
	s.AddHandler(func(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
		c.HandleVoiceStateUpdate(s, vs)
	})
	s.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		c.HandleSyncMessage(s, m)
	})
}

func (c *Commands) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if s == nil || i == nil || i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	data := i.ApplicationCommandData()
	logger := c.logger.With().Str("command", data.Name).Str("guild", i.GuildID).Logger()
	reply := newInteractionReplier(s, i, logger)

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("internal error")
			reply.Send(internalErrorMessage)
		}
	}()

	handler, ok := c.handlers[data.Name]
	if !ok {
		logger.Warn().Msg("bad command received")
		reply.Send(fmt.Sprintf("Couldn't understand command %q! Use /help for instructions.", data.Name))
		return
	}

	if i.GuildID == "" {
		reply.Send("This command can only be used in a server.")
		return
	}

	if err := reply.Defer(); err != nil {
		logger.Error().Err(err).Msg("failed to defer interaction")
		return
	}

	userID := getInteractionUserID(i)
	channelID, channelName := findUserVoiceChannel(s, i.GuildID, userID)
	inv := music.Invocation{
		UserID:          userID,
		UserChannelID:   channelID,
		UserChannelName: channelName,
		BotName:         botName(s),
		Reply:           reply,
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := handler(ctx, c.registry.Get(i.GuildID), inv, data.Options); err != nil {
		logger.Error().Err(err).Msg("internal error")
		reply.Send(internalErrorMessage)
		return
	}
	reply.Finish()
}

func (c *Commands) join(ctx context.Context, g *music.Guild, inv music.Invocation, _ []*discordgo.ApplicationCommandInteractionDataOption) error {
	_, err := g.Join(ctx, inv)
	return err
}

func (c *Commands) leave(ctx context.Context, g *music.Guild, inv music.Invocation, _ []*discordgo.ApplicationCommandInteractionDataOption) error {
	return g.Leave(ctx, inv)
}

func (c *Commands) start(ctx context.Context, g *music.Guild, inv music.Invocation, options []*discordgo.ApplicationCommandInteractionDataOption) error {
	return g.Start(ctx, inv, getOptionString(options, optionPlaylist), false)
}

func (c *Commands) restart(ctx context.Context, g *music.Guild, inv music.Invocation, options []*discordgo.ApplicationCommandInteractionDataOption) error {
	return g.Restart(ctx, inv, getOptionString(options, optionPlaylist))
}

func (c *Commands) stop(ctx context.Context, g *music.Guild, inv music.Invocation, _ []*discordgo.ApplicationCommandInteractionDataOption) error {
	return g.Stop(ctx, inv)
}

func (c *Commands) next(ctx context.Context, g *music.Guild, inv music.Invocation, _ []*discordgo.ApplicationCommandInteractionDataOption) error {
	return g.Next(ctx, inv)
}

func (c *Commands) fastForward(ctx context.Context, g *music.Guild, inv music.Invocation, options []*discordgo.ApplicationCommandInteractionDataOption) error {
	return g.FastForward(ctx, inv, getOptionString(options, optionInterval))
}

func (c *Commands) list(ctx context.Context, g *music.Guild, inv music.Invocation, options []*discordgo.ApplicationCommandInteractionDataOption) error {
	return g.List(ctx, inv, getOptionString(options, optionPlaylist))
}

func (c *Commands) showHistory(ctx context.Context, g *music.Guild, inv music.Invocation, _ []*discordgo.ApplicationCommandInteractionDataOption) error {
	entries, err := c.history.Recent(ctx, g.ID())
	if err != nil {
		c.logger.Warn().Err(err).Str("guild", g.ID()).Msg("failed to load play history")
	}
	if len(entries) == 0 {
		inv.Reply.Send("No history yet.")
		return nil
	}
	inv.Reply.Send("```\n" + music.HistoryListing(entries) + "\n```")
	return nil
}
