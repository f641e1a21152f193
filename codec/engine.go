// Package codec unifies the Opus wideband codec and the Codec2 narrowband
// codec behind a single adapter used by the capture and playback
// pipelines. The adapter owns engine lifetimes, frames Codec2 payloads
// with their one-byte mode header, upmixes mono capture audio when the
// Opus encoder runs in stereo, and recreates the Codec2 engine when an
// incoming packet announces a different mode mid-stream.
package codec

import "errors"

// Kind selects which codec family an adapter runs.
type Kind int

const (
	// KindNone means the adapter is unconfigured; Encode and Decode fail.
	KindNone Kind = iota
	// KindOpus selects the wideband Opus codec.
	KindOpus
	// KindCodec2 selects the narrowband Codec2 codec.
	KindCodec2
)

// String returns the codec family name for logging.
func (k Kind) String() string {
	switch k {
	case KindOpus:
		return "opus"
	case KindCodec2:
		return "codec2"
	default:
		return "none"
	}
}

// OpusApplication selects the Opus encoder tuning profile.
type OpusApplication int

const (
	// AppVoIP favors speech intelligibility.
	AppVoIP OpusApplication = iota
	// AppAudio favors general audio fidelity.
	AppAudio
)

var (
	// ErrNotConfigured reports use of an adapter before Configure.
	ErrNotConfigured = errors.New("codec adapter not configured")
	// ErrPLCUnsupported reports a concealment request on a codec without
	// packet-loss concealment.
	ErrPLCUnsupported = errors.New("codec does not support packet loss concealment")
	// ErrShortBuffer reports an output buffer too small for even one
	// decoded frame.
	ErrShortBuffer = errors.New("output buffer too small")
	// ErrEmptyPacket reports a zero-length encoded packet.
	ErrEmptyPacket = errors.New("empty encoded packet")
)

// SpeechParams carries the construction parameters for a wideband speech
// engine.
type SpeechParams struct {
	SampleRate  int
	Channels    int
	Application OpusApplication
	Bitrate     int // bits per second, 0 = engine default
	Complexity  int // 0-10, negative = engine default
}

// SpeechCodec is a wideband engine pairing an encoder and a decoder at
// the same rate and channel count, with native packet-loss concealment.
type SpeechCodec interface {
	// Encode compresses interleaved PCM into dst and returns the number
	// of bytes written.
	Encode(dst []byte, pcm []int16) (int, error)
	// Decode expands an encoded packet into dst and returns the number
	// of int16 values written (samples times channels).
	Decode(dst []int16, data []byte) (int, error)
	// DecodePLC synthesizes concealment audio for one lost frame into
	// dst and returns the number of int16 values written.
	DecodePLC(dst []int16) (int, error)
	Close() error
}

// NarrowbandCodec is a fixed-frame engine: every call converts exactly
// one frame of SamplesPerFrame samples to or from BytesPerFrame bytes.
type NarrowbandCodec interface {
	SamplesPerFrame() int
	BytesPerFrame() int
	Encode(dst []byte, pcm []int16) error
	Decode(dst []int16, data []byte) error
	Close() error
}

// SpeechFactory builds a wideband engine. The adapter calls it once per
// Configure.
type SpeechFactory func(params SpeechParams) (SpeechCodec, error)

// NarrowbandFactory builds a narrowband engine for a library mode. The
// adapter calls it on Configure and again on every mid-stream mode
// switch.
type NarrowbandFactory func(libMode int) (NarrowbandCodec, error)

// Config selects and parameterizes the codec an Adapter runs.
//
// Leaving SpeechFactory or NarrowbandFactory nil selects the default
// engine bindings (libopus and libcodec2).
type Config struct {
	Kind        Kind
	SampleRate  int
	Channels    int
	Application OpusApplication
	Bitrate     int
	Complexity  int
	// Codec2Mode is the initial narrowband library mode; the wire header
	// of incoming packets can switch it later.
	Codec2Mode int

	SpeechFactory     SpeechFactory
	NarrowbandFactory NarrowbandFactory
}
