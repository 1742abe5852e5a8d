package commands

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/hxnx/shilobot/internal/music"
)

const (
	helpMessage   = "I am a renowned bard, here to play shuffled music to suit your mood."
	helpWrapWidth = 40
)

var commandDescriptions = map[string]string{
	"join":    "Join your voice channel",
	"leave":   "Leave the voice channel",
	"start":   "Play a playlist from where it was left off",
	"restart": "Reshuffle a playlist and play it from the start",
	"stop":    "Stop playback",
	"next":    "Skip to the next track",
	"ff":      "Fast-forward the current track",
	"list":    "List playlists, or the tracks of one playlist",
	"history": "Show recently played tracks",
	"help":    "Show this help",
}

var commandUsage = map[string]string{
	"start":   "[playlist]",
	"restart": "[playlist]",
	"ff":      "<interval>",
	"list":    "[playlist]",
}

// HelpText renders the help message followed by a usage table.
func HelpText() string {
	rows := make([][]string, 0, len(CommandList))
	for _, cmd := range CommandList {
		rows = append(rows, []string{"/" + cmd.Name, commandUsage[cmd.Name], cmd.Description})
	}
	return helpMessage + "\n```\n" + music.FormatTable(rows, helpWrapWidth) + "\n```"
}

func (c *Commands) help(_ context.Context, _ *music.Guild, inv music.Invocation, _ []*discordgo.ApplicationCommandInteractionDataOption) error {
	inv.Reply.Send(HelpText())
	return nil
}
