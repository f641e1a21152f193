package codec

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// maxStereoSamples bounds the upmix scratch buffer: the largest Opus
// frame is 2880 samples per channel (60 ms at 48 kHz), 5760 interleaved
// values in stereo.
const maxStereoSamples = 5760

// Adapter runs one configured codec and presents a uniform surface to
// the pipelines.
//
// Encode is called from the real-time capture callback and never logs or
// allocates. Decode and DecodePLC run on application threads (the packet
// writer and the playback callback's concealment path respectively);
// Decode may log on a mid-stream mode switch since it never runs inside
// a driver callback.
//
// Adapter is not safe for concurrent use; the pipelines serialize access
// per direction.
type Adapter struct {
	kind       Kind
	sampleRate int
	channels   int

	speech SpeechCodec

	narrow        NarrowbandCodec
	narrowMode    int
	narrowFactory NarrowbandFactory

	// stereoBuf holds the mono-to-stereo upmix when the Opus encoder is
	// configured for two channels; preallocated so Encode stays
	// allocation-free.
	stereoBuf []int16
}

// NewAdapter returns an unconfigured adapter. Encode and Decode fail
// with ErrNotConfigured until Configure succeeds.
func NewAdapter() *Adapter {
	return &Adapter{kind: KindNone}
}

// Configure tears down any existing engine and builds the one cfg
// selects.
//
// Parameters:
//   - cfg: codec selection and engine parameters; nil factories select
//     the default bindings
//
// Returns:
//   - error: validation or engine construction failure; on failure the
//     adapter is left unconfigured
func (a *Adapter) Configure(cfg Config) error {
	if err := a.Close(); err != nil {
		return err
	}

	switch cfg.Kind {
	case KindOpus:
		return a.configureOpus(cfg)
	case KindCodec2:
		return a.configureCodec2(cfg)
	case KindNone:
		return nil
	default:
		return fmt.Errorf("unknown codec kind %d", cfg.Kind)
	}
}

func (a *Adapter) configureOpus(cfg Config) error {
	if cfg.SampleRate <= 0 {
		return fmt.Errorf("opus sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.Channels != 1 && cfg.Channels != 2 {
		return fmt.Errorf("opus channel count must be 1 or 2, got %d", cfg.Channels)
	}

	factory := cfg.SpeechFactory
	if factory == nil {
		factory = newOpusCodec
	}
	speech, err := factory(SpeechParams{
		SampleRate:  cfg.SampleRate,
		Channels:    cfg.Channels,
		Application: cfg.Application,
		Bitrate:     cfg.Bitrate,
		Complexity:  cfg.Complexity,
	})
	if err != nil {
		return fmt.Errorf("failed to configure opus engine: %w", err)
	}

	a.kind = KindOpus
	a.sampleRate = cfg.SampleRate
	a.channels = cfg.Channels
	a.speech = speech
	if cfg.Channels == 2 && a.stereoBuf == nil {
		a.stereoBuf = make([]int16, maxStereoSamples)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Adapter.Configure",
		"codec":       KindOpus.String(),
		"sample_rate": cfg.SampleRate,
		"channels":    cfg.Channels,
		"bitrate":     cfg.Bitrate,
	}).Info("Configured codec adapter")
	return nil
}

func (a *Adapter) configureCodec2(cfg Config) error {
	if _, err := ModeToHeader(cfg.Codec2Mode); err != nil {
		return fmt.Errorf("invalid codec2 mode %d: %w", cfg.Codec2Mode, err)
	}

	factory := cfg.NarrowbandFactory
	if factory == nil {
		factory = newCodec2Codec
	}
	narrow, err := factory(cfg.Codec2Mode)
	if err != nil {
		return fmt.Errorf("failed to configure codec2 engine: %w", err)
	}

	a.kind = KindCodec2
	a.sampleRate = cfg.SampleRate
	a.channels = 1 // codec2 is mono by definition
	a.narrow = narrow
	a.narrowMode = cfg.Codec2Mode
	a.narrowFactory = factory

	logrus.WithFields(logrus.Fields{
		"function":    "Adapter.Configure",
		"codec":       KindCodec2.String(),
		"sample_rate": cfg.SampleRate,
		"mode":        cfg.Codec2Mode,
	}).Info("Configured codec adapter")
	return nil
}

// Encode compresses one pipeline frame of mono PCM into dst.
//
// Opus: when the engine runs in stereo the mono frame is duplicated into
// both channels first. Codec2: the output is the one-byte mode header
// followed by floor(len(pcm)/SamplesPerFrame) encoded subframes; trailing
// samples short of a full subframe are dropped.
//
// Runs inside the capture callback: no logging, no allocation.
//
// Returns:
//   - int: bytes written to dst
//   - error: ErrNotConfigured, ErrEmptyPacket-class validation errors, or
//     engine failure
func (a *Adapter) Encode(dst []byte, pcm []int16) (int, error) {
	switch a.kind {
	case KindOpus:
		input := pcm
		if a.channels == 2 {
			needed := len(pcm) * 2
			if needed > len(a.stereoBuf) {
				return 0, fmt.Errorf("frame of %d samples exceeds stereo upmix capacity", len(pcm))
			}
			for i, s := range pcm {
				a.stereoBuf[2*i] = s
				a.stereoBuf[2*i+1] = s
			}
			input = a.stereoBuf[:needed]
		}
		return a.speech.Encode(dst, input)

	case KindCodec2:
		header, err := ModeToHeader(a.narrowMode)
		if err != nil {
			return 0, err
		}
		spf := a.narrow.SamplesPerFrame()
		bpf := a.narrow.BytesPerFrame()
		subframes := len(pcm) / spf
		if subframes == 0 {
			return 0, fmt.Errorf("frame of %d samples shorter than one codec2 subframe (%d)", len(pcm), spf)
		}
		needed := 1 + subframes*bpf
		if needed > len(dst) {
			return 0, ErrShortBuffer
		}

		dst[0] = header
		off := 1
		for i := 0; i < subframes; i++ {
			if err := a.narrow.Encode(dst[off:off+bpf], pcm[i*spf:(i+1)*spf]); err != nil {
				return 0, err
			}
			off += bpf
		}
		return off, nil

	default:
		return 0, ErrNotConfigured
	}
}

// Decode expands one encoded packet into dst and returns the number of
// int16 values written.
//
// Codec2 packets carry their mode in the first byte: a header naming a
// different mode than the current engine tears the engine down and
// builds a new one before decoding (codec2 engines keep internal state
// that is only valid within one mode). The payload after the header is
// decoded as floor(payload/BytesPerFrame) subframes with any trailing
// remainder ignored; if dst cannot hold every subframe the call fails
// with ErrShortBuffer before anything is written.
func (a *Adapter) Decode(dst []int16, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, ErrEmptyPacket
	}

	switch a.kind {
	case KindOpus:
		return a.speech.Decode(dst, data)

	case KindCodec2:
		mode, err := HeaderToMode(data[0])
		if err != nil {
			return 0, err
		}
		if mode != a.narrowMode {
			if err := a.switchNarrowMode(mode); err != nil {
				return 0, err
			}
		}

		spf := a.narrow.SamplesPerFrame()
		bpf := a.narrow.BytesPerFrame()
		payload := data[1:]
		subframes := len(payload) / bpf
		if subframes == 0 {
			return 0, fmt.Errorf("codec2 payload of %d bytes shorter than one subframe (%d)", len(payload), bpf)
		}
		// The whole decoded result must fit or nothing is written.
		if subframes*spf > len(dst) {
			return 0, ErrShortBuffer
		}

		written := 0
		for i := 0; i < subframes; i++ {
			if err := a.narrow.Decode(dst[written:written+spf], payload[i*bpf:(i+1)*bpf]); err != nil {
				return written, err
			}
			written += spf
		}
		return written, nil

	default:
		return 0, ErrNotConfigured
	}
}

// switchNarrowMode replaces the codec2 engine mid-stream. Runs on the
// packet writer thread, never inside a driver callback, so logging here
// is fine.
func (a *Adapter) switchNarrowMode(mode int) error {
	logrus.WithFields(logrus.Fields{
		"function": "Adapter.Decode",
		"old_mode": a.narrowMode,
		"new_mode": mode,
	}).Info("Switching codec2 mode mid-stream")

	next, err := a.narrowFactory(mode)
	if err != nil {
		return fmt.Errorf("failed to switch codec2 to mode %d: %w", mode, err)
	}
	if closeErr := a.narrow.Close(); closeErr != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Adapter.Decode",
			"error":    closeErr,
		}).Warn("Failed to close previous codec2 engine")
	}
	a.narrow = next
	a.narrowMode = mode
	return nil
}

// DecodePLC synthesizes concealment audio for one lost frame into dst.
//
// Only the Opus engine supports concealment; ErrPLCUnsupported is
// returned otherwise so callers can fall back to silence.
func (a *Adapter) DecodePLC(dst []int16) (int, error) {
	if a.kind != KindOpus {
		return 0, ErrPLCUnsupported
	}
	return a.speech.DecodePLC(dst)
}

// SupportsPLC reports whether the configured codec can conceal lost
// frames.
func (a *Adapter) SupportsPLC() bool {
	return a.kind == KindOpus
}

// Kind returns the configured codec family.
func (a *Adapter) Kind() Kind {
	return a.kind
}

// SampleRate returns the configured sample rate, 0 if unconfigured.
func (a *Adapter) SampleRate() int {
	return a.sampleRate
}

// Channels returns the engine channel count, 0 if unconfigured.
func (a *Adapter) Channels() int {
	return a.channels
}

// Close tears down the active engine and returns the adapter to the
// unconfigured state. Safe to call repeatedly.
func (a *Adapter) Close() error {
	var err error
	if a.speech != nil {
		err = a.speech.Close()
		a.speech = nil
	}
	if a.narrow != nil {
		if closeErr := a.narrow.Close(); err == nil {
			err = closeErr
		}
		a.narrow = nil
	}
	a.kind = KindNone
	a.sampleRate = 0
	a.channels = 0
	return err
}
