package music

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	FrameDuration       = 20 * time.Millisecond
	DefaultBitrate      = 96
	DefaultReadyTimeout = 15 * time.Second

	streamErrorMarker = "Invalid data"
)

// Stream decodes one track through ffmpeg into Opus frames and keeps count of
// how far playback got.
type Stream struct {
	name   string
	logger zerolog.Logger

	cmd     *exec.Cmd
	cancel  context.CancelFunc
	stderr  *bytes.Buffer
	packets *opusPackets

	closeOnce sync.Once
	closeErr  error
	failed    atomic.Bool
}

func (s *Stream) ReadFrame() ([]byte, error) {
	return s.packets.Next()
}

func (s *Stream) Elapsed() time.Duration {
	return s.packets.Elapsed()
}

func (s *Stream) HasError() bool {
	return s.failed.Load()
}

// Close kills ffmpeg, waits for it and then records whether its diagnostic
// output reported bad input. It is safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		waitErr := s.cmd.Wait()

		if strings.Contains(s.stderr.String(), streamErrorMarker) {
			s.failed.Store(true)
			s.logger.Error().Str("track", s.name).Msg("error reading track")
		}

		var exitErr *exec.ExitError
		if waitErr != nil && !errors.As(waitErr, &exitErr) {
			s.closeErr = waitErr
		}
	})
	return s.closeErr
}

type FFmpegOpener struct {
	Path         string
	Bitrate      int
	ReadyTimeout time.Duration
	Logger       zerolog.Logger
}

func NewFFmpegOpener(path string, bitrate int, logger zerolog.Logger) *FFmpegOpener {
	if path == "" {
		path = "ffmpeg"
	}
	if bitrate <= 0 {
		bitrate = DefaultBitrate
	}
	return &FFmpegOpener{
		Path:         path,
		Bitrate:      bitrate,
		ReadyTimeout: DefaultReadyTimeout,
		Logger:       logger,
	}
}

func (o *FFmpegOpener) args(locator string, start time.Duration) []string {
	return []string{
		"-ss", formatSeekOffset(start),
		"-i", locator,
		"-c:a", "libopus",
		"-ar", "48000",
		"-ac", "2",
		"-b:a", fmt.Sprintf("%dk", o.Bitrate),
		"-bufsize", fmt.Sprintf("%dk", 2*o.Bitrate),
		"-vbr", "on",
		"-frame_duration", "20",
		"-application", "audio",
		"-f", "ogg",
		"-loglevel", "warning",
		"pipe:1",
	}
}

// Open starts ffmpeg and returns once the Opus header has arrived. ctx
// bounds only the wait for that first page; the process lives until Close.
func (o *FFmpegOpener) Open(ctx context.Context, locator string, start time.Duration) (AudioStream, error) {
	if o.ReadyTimeout > 0 {
		var cancelWait context.CancelFunc
		ctx, cancelWait = context.WithTimeout(ctx, o.ReadyTimeout)
		defer cancelWait()
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, o.Path, o.args(locator, start)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}

	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	stream := &Stream{
		name:    FileStem(locator),
		logger:  o.Logger,
		cmd:     cmd,
		cancel:  cancel,
		stderr:  stderr,
		packets: newOpusPackets(stdout, start),
	}

	ready := make(chan error, 1)
	go func() {
		ready <- stream.packets.ready()
	}()

	select {
	case err := <-ready:
		if err != nil {
			_ = stream.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrStreamUnavailable, stream.name, err)
		}
	case <-ctx.Done():
		_ = stream.Close()
		<-ready
		return nil, fmt.Errorf("%w: %s: %v", ErrStreamUnavailable, stream.name, ctx.Err())
	}

	return stream, nil
}

func formatSeekOffset(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
