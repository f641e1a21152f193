package voicecore

import (
	"errors"

	"github.com/opd-ai/voicecore/codec"
)

// stubSpeech is a deterministic codec.SpeechCodec for pipeline tests:
// Encode emits a single byte holding the frame length, Decode and
// DecodePLC replay canned PCM.
type stubSpeech struct {
	decodeOut []int16
	plcOut    []int16
	decodeErr error
	plcCalls  int
	closed    bool
}

func stubSpeechFactory(s *stubSpeech) codec.SpeechFactory {
	return func(codec.SpeechParams) (codec.SpeechCodec, error) {
		return s, nil
	}
}

func (s *stubSpeech) Encode(dst []byte, pcm []int16) (int, error) {
	dst[0] = byte(len(pcm))
	return 1, nil
}

func (s *stubSpeech) Decode(dst []int16, data []byte) (int, error) {
	if s.decodeErr != nil {
		return 0, s.decodeErr
	}
	return copy(dst, s.decodeOut), nil
}

func (s *stubSpeech) DecodePLC(dst []int16) (int, error) {
	s.plcCalls++
	if len(s.plcOut) == 0 {
		return 0, errors.New("no concealment configured")
	}
	return copy(dst, s.plcOut), nil
}

func (s *stubSpeech) Close() error {
	s.closed = true
	return nil
}
