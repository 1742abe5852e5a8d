package music

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

const opusSendTimeout = time.Second

// VoiceTransport sends Opus frames over a discordgo voice connection.
type VoiceTransport struct {
	session *discordgo.Session
	guildID string
	logger  zerolog.Logger

	mu        sync.Mutex
	vc        *discordgo.VoiceConnection
	channelID string
	pump      *pump
}

// pump owns one Play call. sent is closed once no more frames will be sent.
type pump struct {
	stop     chan struct{}
	sent     chan struct{}
	stopOnce sync.Once
}

func (p *pump) requestStop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *pump) sending() bool {
	select {
	case <-p.sent:
		return false
	default:
		return true
	}
}

func NewVoiceTransport(s *discordgo.Session, guildID string, logger zerolog.Logger) *VoiceTransport {
	return &VoiceTransport{
		session: s,
		guildID: guildID,
		logger:  logger,
	}
}

func safeSpeaking(vc *discordgo.VoiceConnection, speaking bool) {
	if vc == nil || !vc.Ready {
		return
	}
	_ = vc.Speaking(speaking)
}

func (t *VoiceTransport) ChannelID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.channelID
}

func (t *VoiceTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.vc != nil
}

// Connect joins channelID self-deafened.
func (t *VoiceTransport) Connect(channelID string) error {
	if t.session == nil {
		return fmt.Errorf("discord session is nil")
	}
	if channelID == "" {
		return fmt.Errorf("channel ID is empty")
	}

	vc, err := t.session.ChannelVoiceJoin(t.guildID, channelID, false, true)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.vc = vc
	t.channelID = channelID
	t.mu.Unlock()
	return nil
}

func (t *VoiceTransport) Disconnect() error {
	t.Stop()

	t.mu.Lock()
	vc := t.vc
	t.vc = nil
	t.channelID = ""
	t.mu.Unlock()

	if vc == nil {
		return ErrNotConnected
	}
	return vc.Disconnect()
}

func (t *VoiceTransport) IsPlaying() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pump != nil && t.pump.sending()
}

func (t *VoiceTransport) Play(stream AudioStream, onComplete func(error)) {
	t.Stop()

	t.mu.Lock()
	vc := t.vc
	p := &pump{stop: make(chan struct{}), sent: make(chan struct{})}
	t.pump = p
	t.mu.Unlock()

	go t.run(p, vc, stream, onComplete)
}

func (t *VoiceTransport) Stop() {
	t.mu.Lock()
	p := t.pump
	t.mu.Unlock()

	if p == nil {
		return
	}
	p.requestStop()
	<-p.sent
}

func (t *VoiceTransport) run(p *pump, vc *discordgo.VoiceConnection, stream AudioStream, onComplete func(error)) {
	err := t.send(p, vc, stream)
	close(p.sent)

	if closeErr := stream.Close(); closeErr != nil && err == nil {
		err = closeErr
	}

	t.mu.Lock()
	if t.pump == p {
		t.pump = nil
	}
	t.mu.Unlock()

	if onComplete != nil {
		onComplete(err)
	}
}

func (t *VoiceTransport) send(p *pump, vc *discordgo.VoiceConnection, stream AudioStream) error {
	if vc == nil {
		return ErrNotConnected
	}

	safeSpeaking(vc, true)
	defer safeSpeaking(vc, false)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	framesSent := 0
	for {
		select {
		case <-p.stop:
			t.logger.Debug().Int("frames", framesSent).Msg("stop signal received")
			return nil
		default:
		}

		frame, err := stream.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				t.logger.Debug().Int("frames", framesSent).Msg("audio stream ended")
				return nil
			}
			return fmt.Errorf("reading audio frame: %w", err)
		}
		if len(frame) == 0 {
			continue
		}

		select {
		case <-ticker.C:
		case <-p.stop:
			return nil
		}

		select {
		case vc.OpusSend <- frame:
			framesSent++
		case <-p.stop:
			return nil
		case <-time.After(opusSendTimeout):
			t.logger.Warn().Int("frame", framesSent).Msg("timeout sending opus frame")
		}
	}
}
