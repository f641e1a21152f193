package codec

import (
	"fmt"

	opus "gopkg.in/hraban/opus.v2"
)

// opusCodec binds the libopus encoder/decoder pair behind SpeechCodec.
type opusCodec struct {
	enc      *opus.Encoder
	dec      *opus.Decoder
	channels int
}

// newOpusCodec is the default SpeechFactory.
func newOpusCodec(params SpeechParams) (SpeechCodec, error) {
	app := opus.AppVoIP
	if params.Application == AppAudio {
		app = opus.AppAudio
	}

	enc, err := opus.NewEncoder(params.SampleRate, params.Channels, app)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}
	if params.Bitrate > 0 {
		if err := enc.SetBitrate(params.Bitrate); err != nil {
			return nil, fmt.Errorf("failed to set opus bitrate: %w", err)
		}
	}
	if params.Complexity >= 0 {
		if err := enc.SetComplexity(params.Complexity); err != nil {
			return nil, fmt.Errorf("failed to set opus complexity: %w", err)
		}
	}

	dec, err := opus.NewDecoder(params.SampleRate, params.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &opusCodec{enc: enc, dec: dec, channels: params.Channels}, nil
}

func (o *opusCodec) Encode(dst []byte, pcm []int16) (int, error) {
	return o.enc.Encode(pcm, dst)
}

func (o *opusCodec) Decode(dst []int16, data []byte) (int, error) {
	// libopus reports samples per channel; callers count int16 values.
	n, err := o.dec.Decode(data, dst)
	if err != nil {
		return 0, err
	}
	return n * o.channels, nil
}

func (o *opusCodec) DecodePLC(dst []int16) (int, error) {
	if err := o.dec.DecodePLC(dst); err != nil {
		return 0, err
	}
	return len(dst), nil
}

// Close releases nothing: the binding's engine state is Go-managed.
func (o *opusCodec) Close() error {
	return nil
}
