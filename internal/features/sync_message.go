package commands

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// HandleSyncMessage re-registers the slash commands to the current guild when
// the owner sends "!sync".
func (c *Commands) HandleSyncMessage(s *discordgo.Session, m *discordgo.MessageCreate) bool {
	if s == nil || m == nil || m.Author == nil {
		return false
	}
	if m.Author.Bot {
		return false
	}
	if m.GuildID == "" {
		return false
	}

	if strings.TrimSpace(m.Content) != "!sync" {
		return false
	}

	if c.ownerID == "" || m.Author.ID != c.ownerID {
		c.logger.Warn().Str("user", m.Author.ID).Str("guild", m.GuildID).Msg("sync requested by non-owner")
		_, _ = s.ChannelMessageSend(m.ChannelID, "Only the bot owner can sync commands.")
		return true
	}

	appID := botUserID(s)
	if appID == "" {
		_, _ = s.ChannelMessageSend(m.ChannelID, "Command sync failed: application ID unknown.")
		return true
	}

	cmds, err := RegisterCommands(s, appID, m.GuildID, c.logger)
	if err != nil {
		c.logger.Error().Err(err).Str("guild", m.GuildID).Msg("command sync failed")
		_, _ = s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("Command sync failed: %v", err))
		return true
	}

	_, _ = s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("Synced %d commands to this server.", len(cmds)))
	return true
}
