package music

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrNotConnected      = errors.New("voice connection not established")
	ErrStreamUnavailable = errors.New("audio stream unavailable")
	ErrGuildClosed       = errors.New("guild session closed")
	ErrInternal          = errors.New("internal error")
)

// Track is one playable audio file. Name is derived from the locator and never
// changes once the track is listed.
type Track struct {
	Locator string `json:"locator"`
	Name    string `json:"name"`
}

func NewTrack(locator string) Track {
	return Track{Locator: locator, Name: FileStem(locator)}
}

// FileStem returns the basename of path up to its first dot.
func FileStem(path string) string {
	base := filepath.Base(path)
	if idx := strings.Index(base, "."); idx >= 0 {
		return base[:idx]
	}
	return base
}

// PlaylistSpec is a named list of track locators handed over by the config
// loader.
type PlaylistSpec struct {
	Name   string
	Tracks []string
}

// AudioStream is a single attempt to play a track from a given offset.
type AudioStream interface {
	// ReadFrame returns the next 20ms Opus packet, or io.EOF once the track
	// has been fully read.
	ReadFrame() ([]byte, error)
	// Elapsed is the playback position reached so far, including the offset
	// the stream was started at.
	Elapsed() time.Duration
	// HasError reports a decode or data error. It only becomes true after
	// Close has torn the underlying process down.
	HasError() bool
	Close() error
}

type StreamOpener interface {
	Open(ctx context.Context, locator string, start time.Duration) (AudioStream, error)
}

// Transport is the voice connection of one guild.
type Transport interface {
	ChannelID() string
	Connected() bool
	Connect(channelID string) error
	Disconnect() error
	IsPlaying() bool
	// Play starts sending stream. onComplete runs exactly once per call, from
	// a goroutine owned by the transport, after the stream has been closed.
	Play(stream AudioStream, onComplete func(error))
	// Stop halts the current stream. It does not wait for onComplete.
	Stop()
}

// Replier delivers user-visible text for a command.
type Replier interface {
	Send(content string)
}

// Invocation describes who issued a command and where to answer.
type Invocation struct {
	UserID          string
	UserChannelID   string
	UserChannelName string
	BotName         string
	Reply           Replier
}

// PlayRecorder is notified whenever a track starts playing.
type PlayRecorder interface {
	RecordPlay(guildID, playlist, track string)
}
