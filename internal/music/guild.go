package music

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Guild is the playback session of one guild. All state is owned by a single
// goroutine; every command and every stream completion is executed on it
// through Do.
type Guild struct {
	id        string
	transport Transport
	recorder  PlayRecorder
	logger    zerolog.Logger

	playlists map[string]*Playlist
	order     []string
	active    *Playlist
	advance   map[string]*Task

	ops    chan op
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type op struct {
	fn     func(context.Context)
	result chan error
}

type GuildOptions struct {
	ID        string
	Playlists []PlaylistSpec
	Transport Transport
	Opener    StreamOpener
	Recorder  PlayRecorder
	Logger    zerolog.Logger
}

// VoiceUpdate describes a member moving between voice channels.
type VoiceUpdate struct {
	BeforeChannelID string
	AfterChannelID  string
	// Listeners counts the non-bot members currently in a channel.
	Listeners func(channelID string) int
}

func NewGuild(opts GuildOptions) *Guild {
	logger := opts.Logger.With().Str("guild", opts.ID).Logger()
	ctx, cancel := context.WithCancel(context.Background())

	g := &Guild{
		id:        opts.ID,
		transport: opts.Transport,
		recorder:  opts.Recorder,
		logger:    logger,
		playlists: make(map[string]*Playlist, len(opts.Playlists)),
		advance:   make(map[string]*Task),
		ops:       make(chan op),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	for _, spec := range opts.Playlists {
		if _, ok := g.playlists[spec.Name]; ok {
			continue
		}
		g.playlists[spec.Name] = NewPlaylist(spec.Name, spec.Tracks, opts.Opener, logger)
		g.order = append(g.order, spec.Name)
	}

	go g.loop()
	return g
}

func (g *Guild) ID() string {
	return g.id
}

func (g *Guild) loop() {
	defer close(g.done)
	for {
		select {
		case <-g.ctx.Done():
			return
		case o := <-g.ops:
			o.result <- g.exec(o.fn)
		}
	}
}

func (g *Guild) exec(fn func(context.Context)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("guild operation panicked")
			err = fmt.Errorf("%w: %v", ErrInternal, r)
		}
	}()
	fn(g.ctx)
	return nil
}

// Do runs fn on the guild goroutine and blocks until it has returned. ctx only
// bounds the wait for the goroutine to pick fn up.
func (g *Guild) Do(ctx context.Context, fn func(context.Context)) error {
	o := op{fn: fn, result: make(chan error, 1)}

	select {
	case g.ops <- o:
	case <-ctx.Done():
		return ctx.Err()
	case <-g.done:
		return ErrGuildClosed
	}

	select {
	case err := <-o.result:
		return err
	case <-g.done:
		return ErrGuildClosed
	}
}

// Close stops the guild goroutine and releases the voice connection.
func (g *Guild) Close() {
	_ = g.Do(context.Background(), func(context.Context) {
		for _, t := range g.advance {
			t.Cancel()
		}
		g.transport.Stop()
		if g.transport.Connected() {
			if err := g.transport.Disconnect(); err != nil {
				g.logger.Warn().Err(err).Msg("failed to disconnect")
			}
		}
	})
	g.cancel()
	<-g.done
}

func (g *Guild) Join(ctx context.Context, inv Invocation) (joined bool, err error) {
	err = g.Do(ctx, func(context.Context) { joined = g.join(inv) })
	return joined, err
}

func (g *Guild) Leave(ctx context.Context, inv Invocation) error {
	return g.Do(ctx, func(context.Context) { g.leave(inv) })
}

// Start plays name, or the active playlist when name is empty, from where it
// was left off. restart reshuffles it first.
func (g *Guild) Start(ctx context.Context, inv Invocation, name string, restart bool) error {
	return g.Do(ctx, func(ctx context.Context) { g.start(ctx, inv, name, restart) })
}

func (g *Guild) Restart(ctx context.Context, inv Invocation, name string) error {
	return g.Start(ctx, inv, name, true)
}

func (g *Guild) Stop(ctx context.Context, inv Invocation) error {
	return g.Do(ctx, func(context.Context) { g.stop(inv) })
}

func (g *Guild) Next(ctx context.Context, inv Invocation) error {
	return g.Do(ctx, func(context.Context) { g.next(inv) })
}

func (g *Guild) FastForward(ctx context.Context, inv Invocation, interval string) error {
	return g.Do(ctx, func(ctx context.Context) { g.fastForward(ctx, inv, interval) })
}

func (g *Guild) List(ctx context.Context, inv Invocation, name string) error {
	return g.Do(ctx, func(context.Context) { g.list(inv, name) })
}

func (g *Guild) OnVoiceStateUpdate(ctx context.Context, update VoiceUpdate) error {
	return g.Do(ctx, func(context.Context) { g.onVoiceStateUpdate(update) })
}

// ActivePlaylist returns the name of the selected playlist, if any.
func (g *Guild) ActivePlaylist(ctx context.Context) (name string, ok bool, err error) {
	err = g.Do(ctx, func(context.Context) {
		if g.active != nil {
			name, ok = g.active.Name(), true
		}
	})
	return name, ok, err
}

func (g *Guild) IsPlaying() bool {
	return g.transport.IsPlaying()
}

func (g *Guild) canCommand(inv Invocation) bool {
	return inv.UserChannelID != "" &&
		g.transport.Connected() &&
		g.transport.ChannelID() == inv.UserChannelID
}

func (g *Guild) reportNotColocated(inv Invocation) {
	g.logger.Warn().Str("user", inv.UserID).Msg("command issued from outside the bot's voice channel")
	inv.Reply.Send(fmt.Sprintf("You must connect yourself to the same channel as %s!", inv.BotName))
}

// requireActivePlaylist checks that the author can command the bot and that
// a playlist is selected, reporting to the user otherwise.
func (g *Guild) requireActivePlaylist(inv Invocation) bool {
	if !g.canCommand(inv) {
		g.reportNotColocated(inv)
		return false
	}
	if g.active == nil {
		g.logger.Warn().Msg("tried to skip or fast-forward with no playlist active")
		inv.Reply.Send("No playlist selected!")
		return false
	}
	return true
}

func (g *Guild) join(inv Invocation) bool {
	if inv.UserChannelID == "" {
		inv.Reply.Send("You must connect to a voice channel!")
		return false
	}

	if g.transport.Connected() && g.transport.ChannelID() == inv.UserChannelID {
		return true
	}

	if g.transport.Connected() {
		g.disconnect()
	}

	if err := g.transport.Connect(inv.UserChannelID); err != nil {
		g.logger.Error().Err(err).Str("channel", inv.UserChannelName).Msg("failed to connect to voice channel")
		inv.Reply.Send(fmt.Sprintf("Couldn't connect to the voice channel %q!", inv.UserChannelName))
		return false
	}

	g.logger.Info().Str("channel", inv.UserChannelName).Msg("connected to voice channel")
	inv.Reply.Send(fmt.Sprintf("Connected to the voice channel %q.", inv.UserChannelName))
	return true
}

func (g *Guild) leave(inv Invocation) {
	if !g.canCommand(inv) {
		g.reportNotColocated(inv)
		return
	}

	g.logger.Info().Str("channel", inv.UserChannelName).Msg("disconnected from voice channel")
	g.disconnect()
	inv.Reply.Send("Disconnected.")
}

func (g *Guild) start(ctx context.Context, inv Invocation, name string, restart bool) {
	if !g.join(inv) {
		return
	}

	if name == "" && g.active != nil {
		name = g.active.Name()
	}
	if name == "" {
		g.logger.Warn().Msg("can't start: no playlist specified")
		inv.Reply.Send("Playlist not specified!")
		return
	}

	playlist, ok := g.playlists[name]
	if !ok {
		g.logger.Warn().Str("playlist", name).Msg("playlist doesn't exist")
		inv.Reply.Send(fmt.Sprintf("Playlist %q doesn't exist!", name))
		return
	}

	inv.Reply.Send(fmt.Sprintf("Playing playlist %q.", name))

	if restart {
		playlist.Restart()
	}

	// A completion of the previous stream must not advance anything once a
	// new start has superseded it.
	if g.active != nil {
		g.cancelAdvance(g.active.Name())
	}

	g.playCurrent(ctx, inv, playlist, true)
}

func (g *Guild) stop(inv Invocation) {
	if !g.canCommand(inv) {
		g.reportNotColocated(inv)
		return
	}

	if !g.transport.IsPlaying() || g.active == nil {
		g.logger.Warn().Msg("tried to stop with nothing playing")
		inv.Reply.Send("Nothing to stop!")
		return
	}

	g.cancelAdvance(g.active.Name())
	g.transport.Stop()

	g.logger.Info().Str("track", trackLabel(g.active)).Msg("playback stopped")
	inv.Reply.Send(fmt.Sprintf("Stopping playlist %q.", g.active.Name()))
}

func (g *Guild) next(inv Invocation) {
	if !g.requireActivePlaylist(inv) {
		return
	}

	g.logger.Info().Msg("skipping to next")

	if g.transport.IsPlaying() {
		// The completion callback of the stopped stream advances the playlist.
		g.transport.Stop()
		return
	}

	// A stream that just ended may still have its completion queued.
	g.cancelAdvance(g.active.Name())
	g.active.Skip()
	inv.Reply.Send(fmt.Sprintf("Loaded %s.", trackLabel(g.active)))
}

func (g *Guild) fastForward(ctx context.Context, inv Invocation, intervalText string) {
	if !g.requireActivePlaylist(inv) {
		return
	}

	interval, ok := ParseInterval(intervalText)
	if !ok {
		g.logger.Warn().Str("interval", intervalText).Msg("cannot fast-forward by bad interval")
		inv.Reply.Send(fmt.Sprintf("Couldn't understand interval %q!", intervalText))
		return
	}

	playlist := g.active
	g.cancelAdvance(playlist.Name())
	playlist.FastForward(interval)

	g.logger.Info().Dur("interval", interval).Msg("fast-forwarding")
	inv.Reply.Send(fmt.Sprintf("Fast-forwarding %s.", trackLabel(playlist)))

	if !g.transport.IsPlaying() {
		return
	}

	g.playCurrent(ctx, inv, playlist, false)
}

func (g *Guild) list(inv Invocation, name string) {
	if name == "" {
		index := -1
		if g.active != nil {
			index = lo.IndexOf(g.order, g.active.Name())
		}
		inv.Reply.Send(codeBlock(PlaylistListing(g.order, index)))
		return
	}

	playlist, ok := g.playlists[name]
	if !ok {
		g.logger.Warn().Str("playlist", name).Msg("trying to print non-existent playlist")
		inv.Reply.Send(fmt.Sprintf("No playlist %q!", name))
		return
	}

	inv.Reply.Send(codeBlock(playlist.GetTrackListing()))
}

// onVoiceStateUpdate leaves the voice channel once every listener has left.
func (g *Guild) onVoiceStateUpdate(update VoiceUpdate) {
	botChannel := g.transport.ChannelID()
	if botChannel == "" || update.BeforeChannelID != botChannel || update.AfterChannelID == botChannel {
		return
	}

	if update.Listeners != nil && update.Listeners(botChannel) > 0 {
		return
	}

	g.logger.Info().Str("channel", botChannel).Msg("disconnected from empty voice channel")
	g.disconnect()
}

// playCurrent streams the current track of playlist and registers the task
// that advances to the next track once the stream completes.
func (g *Guild) playCurrent(ctx context.Context, inv Invocation, playlist *Playlist, announce bool) {
	if _, ok := playlist.CurrentTrackName(); !ok {
		g.logger.Warn().Str("playlist", playlist.Name()).Msg("tried to play empty playlist")
		inv.Reply.Send(fmt.Sprintf("Couldn't play empty playlist %q!", playlist.Name()))
		return
	}

	stream := playlist.MakeStream(ctx)
	if stream == nil {
		g.logger.Error().Str("track", trackLabel(playlist)).Msg("couldn't play track")
		inv.Reply.Send(fmt.Sprintf("Couldn't play %s!", trackLabel(playlist)))
		g.cancelAdvance(playlist.Name())
		delete(g.advance, playlist.Name())
		if g.transport.IsPlaying() {
			g.logger.Warn().Str("playlist", playlist.Name()).Msg("current stream will not advance after it ends")
		}
		return
	}

	g.transport.Stop()

	task := NewTask(func(ctx context.Context) {
		playlist.Skip()
		g.playCurrent(ctx, inv, playlist, true)
	})

	g.transport.Play(stream, func(err error) {
		if err != nil {
			g.logger.Debug().Err(err).Msg("stream completed with error")
		}
		doErr := g.Do(g.ctx, func(ctx context.Context) {
			g.onStreamComplete(ctx, inv, playlist, task)
		})
		if doErr != nil {
			task.Cancel()
		}
	})

	g.active = playlist
	g.advance[playlist.Name()] = task

	track := trackLabel(playlist)
	if g.recorder != nil {
		name, _ := playlist.CurrentTrackName()
		g.recorder.RecordPlay(g.id, playlist.Name(), name)
	}

	g.logger.Info().Str("track", track).Msg("playback started")
	if announce {
		inv.Reply.Send(fmt.Sprintf("Playing %s.", track))
	}
}

func (g *Guild) onStreamComplete(ctx context.Context, inv Invocation, playlist *Playlist, task *Task) {
	if task.Cancelled() {
		return
	}

	if !g.transport.Connected() {
		task.Cancel()
		return
	}

	if playlist.StreamHasError() {
		task.Cancel()
		g.logger.Error().Str("track", trackLabel(playlist)).Msg("error playing track, stopping")
		inv.Reply.Send(fmt.Sprintf("Error playing %s. Stopping.", trackLabel(playlist)))
		return
	}

	task.Run(ctx)
}

// disconnect stops playback, deselects the playlist and leaves the channel.
func (g *Guild) disconnect() {
	if g.active != nil {
		g.cancelAdvance(g.active.Name())
	}
	g.transport.Stop()
	g.active = nil

	if err := g.transport.Disconnect(); err != nil {
		g.logger.Warn().Err(err).Msg("failed to disconnect")
	}
}

func (g *Guild) cancelAdvance(name string) {
	if task, ok := g.advance[name]; ok {
		task.Cancel()
	}
}

// trackLabel is the quoted current track name, or the bare word "track".
func trackLabel(p *Playlist) string {
	if p == nil {
		return "track"
	}
	if name, ok := p.CurrentTrackName(); ok && name != "" {
		return fmt.Sprintf("%q", name)
	}
	return "track"
}

func codeBlock(s string) string {
	return "```\n" + s + "\n```"
}
