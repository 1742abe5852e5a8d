package commands

import (
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

const maxContentLength = 2000

type replyState int

const (
	replyPending replyState = iota
	replyDeferred
	replySent
)

// interactionReplier answers the interaction once and posts every later
// message to the interaction's channel, so replies keep working after the
// interaction token has expired.
type interactionReplier struct {
	s      *discordgo.Session
	i      *discordgo.InteractionCreate
	logger zerolog.Logger

	mu    sync.Mutex
	state replyState
}

func newInteractionReplier(s *discordgo.Session, i *discordgo.InteractionCreate, logger zerolog.Logger) *interactionReplier {
	return &interactionReplier{s: s, i: i, logger: logger}
}

func (r *interactionReplier) Defer() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != replyPending {
		return nil
	}
	err := r.s.InteractionRespond(r.i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{},
	})
	if err != nil {
		return err
	}
	r.state = replyDeferred
	return nil
}

func (r *interactionReplier) Send(content string) {
	if r == nil || r.s == nil || r.i == nil {
		return
	}
	content = truncateContent(content)

	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	switch r.state {
	case replyPending:
		err = r.s.InteractionRespond(r.i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Content: content},
		})
	case replyDeferred:
		_, err = r.s.InteractionResponseEdit(r.i.Interaction, &discordgo.WebhookEdit{Content: &content})
	default:
		_, err = r.s.ChannelMessageSend(r.i.ChannelID, content)
	}
	r.state = replySent

	if err != nil {
		r.logger.Error().Err(err).Str("channel", r.i.ChannelID).Msg("failed to send reply")
	}
}

// Finish removes a deferred response that never received any content.
func (r *interactionReplier) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != replyDeferred {
		return
	}
	if err := r.s.InteractionResponseDelete(r.i.Interaction); err != nil {
		r.logger.Debug().Err(err).Msg("failed to delete deferred response")
	}
	r.state = replySent
}

func truncateContent(content string) string {
	runes := []rune(content)
	if len(runes) <= maxContentLength {
		return content
	}
	return string(runes[:maxContentLength-1]) + "…"
}

func getOptionString(options []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, opt := range options {
		if opt.Name == name {
			return opt.StringValue()
		}
	}
	return ""
}

func getInteractionUserID(i *discordgo.InteractionCreate) string {
	if i == nil {
		return ""
	}
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func botName(s *discordgo.Session) string {
	if s != nil && s.State != nil && s.State.User != nil {
		return s.State.User.Username
	}
	return "the bot"
}

func botUserID(s *discordgo.Session) string {
	if s != nil && s.State != nil && s.State.User != nil {
		return s.State.User.ID
	}
	return ""
}

func getGuildWithVoiceStates(s *discordgo.Session, guildID string) *discordgo.Guild {
	if s.State != nil {
		if g, err := s.State.Guild(guildID); err == nil {
			return g
		}
	}
	g, err := s.Guild(guildID)
	if err != nil {
		return nil
	}
	return g
}

// findUserVoiceChannel returns the ID and name of the voice channel userID is
// in, or empty strings when not connected.
func findUserVoiceChannel(s *discordgo.Session, guildID, userID string) (string, string) {
	guild := getGuildWithVoiceStates(s, guildID)
	if guild == nil {
		return "", ""
	}

	for _, vs := range guild.VoiceStates {
		if vs.UserID != userID || vs.ChannelID == "" {
			continue
		}
		return vs.ChannelID, channelName(s, vs.ChannelID)
	}
	return "", ""
}

func channelName(s *discordgo.Session, channelID string) string {
	if s.State != nil {
		if ch, err := s.State.Channel(channelID); err == nil {
			return ch.Name
		}
	}
	if ch, err := s.Channel(channelID); err == nil {
		return ch.Name
	}
	return channelID
}

// isBotVoiceState reports whether the voice state belongs to a bot account.
func isBotVoiceState(s *discordgo.Session, vs *discordgo.VoiceState) bool {
	if vs.Member != nil && vs.Member.User != nil {
		return vs.Member.User.Bot
	}
	return isBotMember(s, vs.GuildID, vs.UserID)
}

// isBotMember reports whether userID belongs to a bot account.
func isBotMember(s *discordgo.Session, guildID, userID string) bool {
	if userID == botUserID(s) {
		return true
	}
	if s.State != nil {
		if m, err := s.State.Member(guildID, userID); err == nil && m.User != nil {
			return m.User.Bot
		}
	}
	return false
}
