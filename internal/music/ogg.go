package music

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"sync/atomic"
	"time"
)

const (
	oggCapture       = "OggS"
	oggHeaderLen     = 27
	oggFlagContinued = 0x01
	oggLacingMax     = 255
)

var (
	opusHeadMagic = []byte("OpusHead")
	opusTagsMagic = []byte("OpusTags")
)

// opusPackets turns ffmpeg's Ogg Opus output into audio packets, one 20ms
// frame each. Header packets are dropped, packets spanning pages are joined
// and every packet handed out moves the elapsed time forward by one frame.
type opusPackets struct {
	r *bufio.Reader

	queue   [][]byte
	partial []byte
	sawHead bool
	inAudio bool

	elapsed atomic.Int64
}

func newOpusPackets(r io.Reader, start time.Duration) *opusPackets {
	p := &opusPackets{r: bufio.NewReaderSize(r, 64<<10)}
	p.elapsed.Store(int64(start))
	return p
}

// Next returns the next audio packet. A stream cut off mid-page ends with
// io.EOF like a complete one.
func (p *opusPackets) Next() ([]byte, error) {
	for len(p.queue) == 0 {
		if err := p.readPage(); err != nil {
			return nil, err
		}
	}

	packet := p.queue[0]
	p.queue = p.queue[1:]
	p.elapsed.Add(int64(FrameDuration))
	return packet, nil
}

func (p *opusPackets) Elapsed() time.Duration {
	return time.Duration(p.elapsed.Load())
}

// ready reads until the OpusHead packet, or failing that the first audio
// packet, has arrived. Audio read on the way stays queued for Next.
func (p *opusPackets) ready() error {
	for !p.sawHead && !p.inAudio {
		if err := p.readPage(); err != nil {
			return err
		}
	}
	return nil
}

func (p *opusPackets) readPage() error {
	header, err := p.nextHeader()
	if err != nil {
		return endOfStream(err)
	}

	lacing := make([]byte, header[26])
	if _, err := io.ReadFull(p.r, lacing); err != nil {
		return endOfStream(err)
	}

	size := 0
	for _, n := range lacing {
		size += int(n)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(p.r, body); err != nil {
		return endOfStream(err)
	}

	// A fresh packet on this page means the carried-over tail was orphaned.
	if header[5]&oggFlagContinued == 0 {
		p.partial = nil
	}

	for _, n := range lacing {
		p.partial = append(p.partial, body[:n]...)
		body = body[n:]
		if n < oggLacingMax {
			p.emit(p.partial)
			p.partial = nil
		}
	}
	return nil
}

// nextHeader skips to the next capture pattern and returns the page header
// that starts there.
func (p *opusPackets) nextHeader() ([]byte, error) {
	for {
		peek, err := p.r.Peek(len(oggCapture))
		if err != nil {
			return nil, err
		}
		if string(peek) == oggCapture {
			break
		}

		skip := len(peek)
		if i := bytes.IndexByte(peek[1:], oggCapture[0]); i >= 0 {
			skip = i + 1
		}
		if _, err := p.r.Discard(skip); err != nil {
			return nil, err
		}
	}

	header := make([]byte, oggHeaderLen)
	if _, err := io.ReadFull(p.r, header); err != nil {
		return nil, err
	}
	return header, nil
}

func (p *opusPackets) emit(packet []byte) {
	if len(packet) == 0 {
		return
	}

	if !p.inAudio {
		switch {
		case bytes.HasPrefix(packet, opusHeadMagic):
			p.sawHead = true
			return
		case bytes.HasPrefix(packet, opusTagsMagic):
			return
		}
		p.inAudio = true
	}
	p.queue = append(p.queue, packet)
}

func endOfStream(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return err
}
