package audio

import (
	"fmt"
	"io"

	"github.com/ebitengine/oto/v3"
)

// Player plays mono 16-bit little-endian PCM on the default output device.
type Player struct {
	ctx    *oto.Context
	player *oto.Player
	pw     *io.PipeWriter
}

// NewPlayer opens the default output device at the given sample rate.
// At 24kHz mono 16-bit, the 4800-byte buffer holds about 100ms of audio,
// keeping playback latency low.
func NewPlayer(sampleRate int) (*Player, error) {
	opts := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   4800,
	}
	ctx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open output device: %w", err)
	}
	<-ready

	pr, pw := io.Pipe()
	player := ctx.NewPlayer(pr)
	player.Play()

	return &Player{
		ctx:    ctx,
		player: player,
		pw:     pw,
	}, nil
}

// Write queues PCM bytes for playback. It blocks while the device buffer
// is full, which paces the caller to real time.
func (p *Player) Write(pcm []byte) error {
	_, err := p.pw.Write(pcm)
	return err
}

// Close stops playback and releases the output device.
func (p *Player) Close() error {
	_ = p.pw.Close()
	return p.player.Close()
}
