package commands

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hxnx/shilobot/internal/music"
)

const voiceUpdateTimeout = 10 * time.Second

// HandleVoiceStateUpdate lets the guild session leave once the last listener
// has left its channel. Sessions are never created here.
func (c *Commands) HandleVoiceStateUpdate(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	if s == nil || vs == nil || vs.VoiceState == nil || vs.GuildID == "" {
		return
	}
	if vs.BeforeUpdate == nil || vs.BeforeUpdate.ChannelID == "" {
		return
	}
	if isBotVoiceState(s, vs.VoiceState) {
		return
	}

	g, ok := c.registry.Lookup(vs.GuildID)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), voiceUpdateTimeout)
	defer cancel()

	update := music.VoiceUpdate{
		BeforeChannelID: vs.BeforeUpdate.ChannelID,
		AfterChannelID:  vs.ChannelID,
		Listeners: func(channelID string) int {
			return countListeners(s, vs.GuildID, channelID)
		},
	}
	if err := g.OnVoiceStateUpdate(ctx, update); err != nil {
		c.logger.Warn().Err(err).Str("guild", vs.GuildID).Msg("failed to handle voice state update")
	}
}

func countListeners(s *discordgo.Session, guildID, channelID string) int {
	guild := getGuildWithVoiceStates(s, guildID)
	if guild == nil {
		return 0
	}

	count := 0
	for _, state := range guild.VoiceStates {
		if state.ChannelID != channelID || isBotVoiceState(s, state) {
			continue
		}
		count++
	}
	return count
}
