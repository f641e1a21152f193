package codec

import (
	"fmt"

	pionopus "github.com/pion/opus"
)

// PacketInfo describes what an Opus packet's table-of-contents declares,
// independent of any decoder state.
type PacketInfo struct {
	Bandwidth  string
	SampleRate int
	Stereo     bool
}

// InspectOpusPacket parses an encoded Opus packet with a throwaway
// pure-Go decoder and reports its declared bandwidth and channel layout.
//
// Diagnostics only: the playback pipeline calls this after a decode
// failure to tell a malformed packet apart from a configuration mismatch
// (wrong channel count or rate). Never called on the real-time path.
func InspectOpusPacket(data []byte) (PacketInfo, error) {
	if len(data) == 0 {
		return PacketInfo{}, ErrEmptyPacket
	}

	dec := pionopus.NewDecoder()
	out := make([]byte, 11520)
	bandwidth, isStereo, err := dec.Decode(data, out)
	if err != nil {
		return PacketInfo{}, fmt.Errorf("failed to parse opus packet: %w", err)
	}

	return PacketInfo{
		Bandwidth:  bandwidth.String(),
		SampleRate: bandwidth.SampleRate(),
		Stereo:     isStereo,
	}, nil
}
