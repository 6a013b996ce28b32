package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"
)

const (
	// CaptureSampleRate is the fixed microphone sample rate in Hz.
	CaptureSampleRate = 16000

	// FrameSize is the number of float32 samples delivered per capture frame.
	FrameSize = 4096
)

// Source delivers fixed-size frames of float32 samples from an audio input.
// Implementations must make Stop safe to call at any time, including before
// Start and more than once.
type Source interface {
	Start(onFrame func([]float32)) error
	Stop() error
}

// MicrophoneConfig configures microphone capture.
//
// The processing flags are hints: they are requested from the OS capture
// backend where it supports them.
type MicrophoneConfig struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultMicrophoneConfig returns the capture configuration used for voice
// sessions: all input processing enabled.
func DefaultMicrophoneConfig() MicrophoneConfig {
	return MicrophoneConfig{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Microphone captures mono float32 audio from the default input device at
// CaptureSampleRate and emits FrameSize-sample frames.
type Microphone struct {
	config MicrophoneConfig
	logger *zap.Logger

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	started bool
	buf     frameBuffer
}

// Ensure Microphone implements the Source interface
var _ Source = (*Microphone)(nil)

// NewMicrophone creates a microphone source with the given configuration.
func NewMicrophone(config MicrophoneConfig, logger *zap.Logger) *Microphone {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Microphone{
		config: config,
		logger: logger,
	}
}

// Start opens the default capture device and begins delivering frames to
// onFrame. It fails when no input device is available or the device cannot
// be opened (for example because the OS denies microphone access).
func (m *Microphone) Start(onFrame func([]float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("microphone capture already started")
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = CaptureSampleRate
	deviceConfig.Alsa.NoMMap = 1

	m.buf = frameBuffer{size: FrameSize}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			m.buf.Push(decodeF32LE(pInputSamples), onFrame)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("failed to open capture device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	m.ctx = ctx
	m.device = device
	m.started = true

	m.logger.Info("Microphone capture started",
		zap.Int("sampleRate", CaptureSampleRate),
		zap.Int("frameSize", FrameSize),
		zap.Bool("echoCancellation", m.config.EchoCancellation),
		zap.Bool("noiseSuppression", m.config.NoiseSuppression),
		zap.Bool("autoGainControl", m.config.AutoGainControl))

	return nil
}

// Stop releases the capture device and audio context. It is idempotent and
// safe to call when capture was never started.
func (m *Microphone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}

	m.device.Uninit()
	m.device = nil

	if err := m.ctx.Uninit(); err != nil {
		m.logger.Warn("Failed to uninitialize audio context", zap.Error(err))
	}
	m.ctx.Free()
	m.ctx = nil

	m.started = false
	m.logger.Info("Microphone capture stopped")
	return nil
}

// frameBuffer accumulates samples and emits them in fixed-size frames.
type frameBuffer struct {
	size    int
	pending []float32
}

// Push appends samples and invokes emit once per complete frame, in order.
func (b *frameBuffer) Push(samples []float32, emit func([]float32)) {
	b.pending = append(b.pending, samples...)
	for len(b.pending) >= b.size {
		frame := make([]float32, b.size)
		copy(frame, b.pending[:b.size])
		b.pending = b.pending[b.size:]
		emit(frame)
	}
}

// decodeF32LE reinterprets little-endian float32 device bytes as samples.
func decodeF32LE(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}
