package voicecore

import "fmt"

// Pipeline defaults: 20 ms mono frames at 48 kHz with a 32-frame buffer
// (640 ms of headroom).
const (
	DefaultSampleRate        = 48000
	DefaultChannels          = 1
	DefaultFrameSamples      = 960
	DefaultMaxBufferedFrames = 32
)

// CaptureConfig parameterizes a capture pipeline.
type CaptureConfig struct {
	// SampleRate in Hz.
	SampleRate int
	// Channels is the stream channel count.
	Channels int
	// FrameSamples is the fixed frame length in samples per channel that
	// the pipeline reassembles driver bursts into.
	FrameSamples int
	// MaxBufferedFrames bounds the frame buffer between the callback and
	// the application; overflow evicts the oldest frame.
	MaxBufferedFrames int
	// EnableFilters runs the voice filter chain (high-pass, low-pass,
	// AGC) on every captured frame.
	EnableFilters bool
}

// DefaultCaptureConfig returns the standard voice capture tuning.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		SampleRate:        DefaultSampleRate,
		Channels:          DefaultChannels,
		FrameSamples:      DefaultFrameSamples,
		MaxBufferedFrames: DefaultMaxBufferedFrames,
		EnableFilters:     true,
	}
}

// Validate checks the configuration for out-of-range values.
func (c CaptureConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidConfig, c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("%w: channel count %d", ErrInvalidConfig, c.Channels)
	}
	if c.FrameSamples <= 0 {
		return fmt.Errorf("%w: frame samples %d", ErrInvalidConfig, c.FrameSamples)
	}
	if c.MaxBufferedFrames < 2 {
		return fmt.Errorf("%w: max buffered frames %d (need at least 2)", ErrInvalidConfig, c.MaxBufferedFrames)
	}
	return nil
}

// PlaybackConfig parameterizes a playback pipeline.
type PlaybackConfig struct {
	SampleRate   int
	Channels     int
	FrameSamples int
	// MaxBufferedFrames bounds the frame buffer between the application
	// and the callback; overflow evicts the oldest frame.
	MaxBufferedFrames int
	// PrebufferFrames is the buffering level Start expects; starting
	// below it is allowed but logged, since the first bursts will
	// underrun.
	PrebufferFrames int
}

// DefaultPlaybackConfig returns the standard voice playback tuning.
func DefaultPlaybackConfig() PlaybackConfig {
	return PlaybackConfig{
		SampleRate:        DefaultSampleRate,
		Channels:          DefaultChannels,
		FrameSamples:      DefaultFrameSamples,
		MaxBufferedFrames: DefaultMaxBufferedFrames,
		PrebufferFrames:   4,
	}
}

// Validate checks the configuration for out-of-range values.
func (c PlaybackConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidConfig, c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("%w: channel count %d", ErrInvalidConfig, c.Channels)
	}
	if c.FrameSamples <= 0 {
		return fmt.Errorf("%w: frame samples %d", ErrInvalidConfig, c.FrameSamples)
	}
	if c.MaxBufferedFrames < 2 {
		return fmt.Errorf("%w: max buffered frames %d (need at least 2)", ErrInvalidConfig, c.MaxBufferedFrames)
	}
	if c.PrebufferFrames < 0 || c.PrebufferFrames > c.MaxBufferedFrames {
		return fmt.Errorf("%w: prebuffer frames %d outside [0, %d]", ErrInvalidConfig, c.PrebufferFrames, c.MaxBufferedFrames)
	}
	return nil
}
