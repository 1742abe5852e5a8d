package music

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	mu       sync.Mutex
	locator  string
	elapsed  time.Duration
	hasError bool
	closed   bool
}

func (s *fakeStream) ReadFrame() ([]byte, error) { return nil, io.EOF }

func (s *fakeStream) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}

func (s *fakeStream) HasError() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed && s.hasError
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) setElapsed(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elapsed = d
}

func (s *fakeStream) setError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasError = true
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type openCall struct {
	locator string
	start   time.Duration
}

// fakeOpener hands out fakeStreams whose elapsed time starts at the requested
// offset.
type fakeOpener struct {
	mu      sync.Mutex
	calls   []openCall
	streams []*fakeStream
	fail    bool
}

func (o *fakeOpener) Open(_ context.Context, locator string, start time.Duration) (AudioStream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.calls = append(o.calls, openCall{locator: locator, start: start})
	if o.fail {
		return nil, ErrStreamUnavailable
	}
	s := &fakeStream{locator: locator, elapsed: start}
	o.streams = append(o.streams, s)
	return s, nil
}

func (o *fakeOpener) setFail(fail bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fail = fail
}

func (o *fakeOpener) openCalls() []openCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]openCall(nil), o.calls...)
}

func (o *fakeOpener) lastStream() *fakeStream {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.streams) == 0 {
		return nil
	}
	return o.streams[len(o.streams)-1]
}

type activePlay struct {
	stream     AudioStream
	onComplete func(error)
}

// fakeTransport runs completion callbacks on their own goroutines, like the
// voice pump does. wait blocks until all of them have returned.
type fakeTransport struct {
	mu         sync.Mutex
	channelID  string
	connected  bool
	connectErr error
	connects   []string
	current    *activePlay
	hold       chan struct{}

	callbacks sync.WaitGroup
}

func (t *fakeTransport) ChannelID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.channelID
}

func (t *fakeTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *fakeTransport) Connect(channelID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.connects = append(t.connects, channelID)
	if t.connectErr != nil {
		return t.connectErr
	}
	t.connected = true
	t.channelID = channelID
	return nil
}

func (t *fakeTransport) Disconnect() error {
	t.Stop()

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return ErrNotConnected
	}
	t.connected = false
	t.channelID = ""
	return nil
}

func (t *fakeTransport) IsPlaying() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current != nil
}

func (t *fakeTransport) Play(stream AudioStream, onComplete func(error)) {
	t.Stop()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = &activePlay{stream: stream, onComplete: onComplete}
}

func (t *fakeTransport) Stop() {
	t.end(nil)
}

// finish ends the current stream as if it had been played to the end.
func (t *fakeTransport) finish() {
	t.end(nil)
}

func (t *fakeTransport) end(err error) {
	t.mu.Lock()
	play := t.current
	hold := t.hold
	t.current = nil
	if play != nil {
		t.callbacks.Add(1)
	}
	t.mu.Unlock()

	if play == nil {
		return
	}
	go func() {
		defer t.callbacks.Done()
		_ = play.stream.Close()
		if hold != nil {
			<-hold
		}
		play.onComplete(err)
	}()
}

// holdCompletions parks completion callbacks of streams ended from now on
// between closing the stream and calling onComplete, the window in which
// IsPlaying already reports false. The returned func lets them through.
func (t *fakeTransport) holdCompletions() (release func()) {
	hold := make(chan struct{})

	t.mu.Lock()
	t.hold = hold
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			t.hold = nil
			t.mu.Unlock()
			close(hold)
		})
	}
}

func (t *fakeTransport) wait() {
	t.callbacks.Wait()
}

func (t *fakeTransport) connectCalls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.connects...)
}

type fakeReplier struct {
	mu       sync.Mutex
	messages []string
}

func (r *fakeReplier) Send(content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, content)
}

func (r *fakeReplier) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func (r *fakeReplier) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return ""
	}
	return r.messages[len(r.messages)-1]
}

func (r *fakeReplier) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}

type playRecord struct {
	guildID, playlist, track string
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []playRecord
}

func (r *fakeRecorder) RecordPlay(guildID, playlist, track string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, playRecord{guildID, playlist, track})
}

func (r *fakeRecorder) all() []playRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]playRecord(nil), r.records...)
}

var errConnect = errors.New("connect failed")

// logBuffer collects log output written from several goroutines.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

const (
	testVoiceChannel = "voice-1"
	testChannelName  = "General"
	testBotName      = "Shilo"
)

type guildHarness struct {
	guild     *Guild
	transport *fakeTransport
	opener    *fakeOpener
	recorder  *fakeRecorder
	reply     *fakeReplier
}

func newGuildHarness(t *testing.T, playlists ...PlaylistSpec) *guildHarness {
	t.Helper()
	return newLoggedGuildHarness(t, zerolog.Nop(), playlists...)
}

func newLoggedGuildHarness(t *testing.T, logger zerolog.Logger, playlists ...PlaylistSpec) *guildHarness {
	t.Helper()

	h := &guildHarness{
		transport: &fakeTransport{},
		opener:    &fakeOpener{},
		recorder:  &fakeRecorder{},
		reply:     &fakeReplier{},
	}
	h.guild = NewGuild(GuildOptions{
		ID:        "guild-1",
		Playlists: playlists,
		Transport: h.transport,
		Opener:    h.opener,
		Recorder:  h.recorder,
		Logger:    logger,
	})
	t.Cleanup(func() {
		h.guild.Close()
		h.transport.wait()
	})
	return h
}

// inv is an invocation from a user in testVoiceChannel.
func (h *guildHarness) inv() Invocation {
	return h.invFrom(testVoiceChannel, testChannelName)
}

func (h *guildHarness) invFrom(channelID, channelName string) Invocation {
	return Invocation{
		UserID:          "user-1",
		UserChannelID:   channelID,
		UserChannelName: channelName,
		BotName:         testBotName,
		Reply:           h.reply,
	}
}

// playlist runs fn against a playlist on the guild goroutine.
func (h *guildHarness) playlist(t *testing.T, name string, fn func(p *Playlist)) {
	t.Helper()
	found := false
	err := h.guild.Do(context.Background(), func(context.Context) {
		if p, ok := h.guild.playlists[name]; ok {
			found = true
			fn(p)
		}
	})
	require.NoError(t, err)
	require.True(t, found, "playlist %q", name)
}

func (h *guildHarness) cursor(t *testing.T, name string) int {
	t.Helper()
	var cursor int
	h.playlist(t, name, func(p *Playlist) { cursor = p.Cursor() })
	return cursor
}

func (h *guildHarness) currentTrack(t *testing.T, name string) string {
	t.Helper()
	var track string
	h.playlist(t, name, func(p *Playlist) { track, _ = p.CurrentTrackName() })
	return track
}
