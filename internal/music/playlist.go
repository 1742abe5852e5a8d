package music

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Playlist keeps a cursor into a shuffled list of tracks and builds audio
// streams for the track under the cursor.
type Playlist struct {
	name    string
	tracks  []Track
	index   int
	current AudioStream
	ff      time.Duration

	opener  StreamOpener
	shuffle func(n int, swap func(i, j int))
	logger  zerolog.Logger
}

func NewPlaylist(name string, locators []string, opener StreamOpener, logger zerolog.Logger) *Playlist {
	p := &Playlist{
		name:    name,
		tracks:  lo.Map(locators, func(l string, _ int) Track { return NewTrack(l) }),
		opener:  opener,
		shuffle: rand.Shuffle,
		logger:  logger.With().Str("playlist", name).Logger(),
	}
	p.Restart()
	return p
}

func (p *Playlist) Name() string {
	return p.name
}

func (p *Playlist) exhausted() bool {
	return p.index >= len(p.tracks)
}

// Restart drops the current stream and reshuffles from the top.
func (p *Playlist) Restart() {
	p.logger.Info().Msg("restarting playlist")

	p.releaseCurrent()
	p.shuffle(len(p.tracks), func(i, j int) {
		p.tracks[i], p.tracks[j] = p.tracks[j], p.tracks[i]
	})
	p.index = 0
	p.ff = 0
}

// MakeStream returns a new stream for the current track that resumes where
// the previous stream left off, plus any pending fast-forward. It returns nil
// when there is nothing to play or the stream could not be opened; in the
// latter case the previous stream and pending offset are kept.
func (p *Playlist) MakeStream(ctx context.Context) AudioStream {
	if p.exhausted() {
		return nil
	}

	track := p.tracks[p.index]
	start := p.ff
	if p.current != nil {
		start += p.current.Elapsed()
		p.logger.Info().Str("track", track.Name).Dur("offset", start).Msg("resuming track")
	} else {
		p.logger.Info().Str("track", track.Name).Dur("offset", start).Msg("starting track")
	}

	stream, err := p.opener.Open(ctx, track.Locator, start)
	if err != nil || stream == nil {
		p.logger.Error().Err(err).Str("track", track.Name).Msg("failed to open stream")
		return nil
	}

	p.releaseCurrent()
	p.current = stream
	p.ff = 0
	return stream
}

// FastForward moves the start of the next stream further into the track.
// Streams that already exist are left alone.
func (p *Playlist) FastForward(d time.Duration) {
	if p.exhausted() {
		return
	}
	p.ff += d
}

// NextStreamOffset is the position the next MakeStream call would start at.
func (p *Playlist) NextStreamOffset() time.Duration {
	if p.current == nil {
		return p.ff
	}
	return p.current.Elapsed() + p.ff
}

func (p *Playlist) StreamHasError() bool {
	return p.exhausted() || (p.current != nil && p.current.HasError())
}

// Skip moves to the next track, reshuffling when the end is reached.
func (p *Playlist) Skip() {
	p.index++

	if p.exhausted() {
		p.Restart()
		return
	}

	p.releaseCurrent()
	p.ff = 0
}

func (p *Playlist) CurrentTrackName() (string, bool) {
	if len(p.tracks) == 0 {
		return "", false
	}
	return p.tracks[p.index].Name, true
}

func (p *Playlist) Cursor() int {
	return p.index
}

func (p *Playlist) Tracks() []Track {
	return append([]Track(nil), p.tracks...)
}

// GetTrackListing renders every track with a marker on the current one.
func (p *Playlist) GetTrackListing() string {
	names := lo.Map(p.tracks, func(t Track, _ int) string { return t.Name })
	return p.name + ":\n\n" + formatListing(names, p.index)
}

func (p *Playlist) releaseCurrent() {
	if p.current == nil {
		return
	}
	if err := p.current.Close(); err != nil {
		p.logger.Debug().Err(err).Msg("closing stream")
	}
	p.current = nil
}
