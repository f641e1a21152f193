package voicecore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/voicecore/codec"
	"github.com/opd-ai/voicecore/driver"
	"github.com/opd-ai/voicecore/driver/mockdriver"
)

func rawPlaybackConfig() PlaybackConfig {
	return PlaybackConfig{
		SampleRate:        48000,
		Channels:          1,
		FrameSamples:      4,
		MaxBufferedFrames: 8,
		PrebufferFrames:   0,
	}
}

func TestNewPlaybackEngine_Validation(t *testing.T) {
	host := mockdriver.NewHost()

	tests := []struct {
		name string
		host driver.Host
		cfg  PlaybackConfig
	}{
		{name: "nil host", host: nil, cfg: rawPlaybackConfig()},
		{name: "zero sample rate", host: host, cfg: PlaybackConfig{Channels: 1, FrameSamples: 4, MaxBufferedFrames: 8}},
		{name: "zero frame samples", host: host, cfg: PlaybackConfig{SampleRate: 48000, Channels: 1, MaxBufferedFrames: 8}},
		{name: "prebuffer above capacity", host: host, cfg: PlaybackConfig{SampleRate: 48000, Channels: 1, FrameSamples: 4, MaxBufferedFrames: 8, PrebufferFrames: 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPlaybackEngine(tt.host, tt.cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	eng, err := NewPlaybackEngine(host, DefaultPlaybackConfig())
	require.NoError(t, err)
	assert.False(t, eng.Streaming())
}

// TestPlaybackEngine_ServesFramesAcrossBurstBoundaries queues frames and
// pulls bursts whose sizes do not divide the frame size: the sample
// stream must come out gapless and in order through the lookahead.
func TestPlaybackEngine_ServesFramesAcrossBurstBoundaries(t *testing.T) {
	host := mockdriver.NewHost()
	eng, err := NewPlaybackEngine(host, rawPlaybackConfig())
	require.NoError(t, err)

	for f := int16(0); f < 4; f++ {
		base := f * 4
		require.True(t, eng.WriteFrame([]int16{base, base + 1, base + 2, base + 3}))
	}
	require.NoError(t, eng.Start())
	stream := host.LastOutput()
	require.NotNil(t, stream)

	var got []int16
	for _, size := range []int{3, 5, 1, 7} { // 16 samples total, 4 frames
		burst, result := stream.PullBurst(size)
		assert.Equal(t, driver.Continue, result)
		got = append(got, burst...)
	}

	require.Len(t, got, 16)
	for i, v := range got {
		assert.Equal(t, int16(i), v, "sample %d out of order", i)
	}
	assert.Equal(t, int64(4), eng.CallbackFrameCount())
	assert.Equal(t, int64(0), eng.CallbackSilenceCount())
}

// TestPlaybackEngine_ConcealmentCapThenSilence runs the buffer dry with a
// PLC-capable decoder: up to five consecutive frames are synthesized,
// after which bursts are silence, and a real frame resets the cap.
func TestPlaybackEngine_ConcealmentCapThenSilence(t *testing.T) {
	host := mockdriver.NewHost()
	eng, err := NewPlaybackEngine(host, rawPlaybackConfig())
	require.NoError(t, err)

	dec := &stubSpeech{plcOut: []int16{7, 7, 7, 7}}
	require.NoError(t, eng.ConfigureDecoder(codec.Config{
		Kind: codec.KindOpus, SampleRate: 48000, Channels: 1,
		SpeechFactory: stubSpeechFactory(dec),
	}))
	require.NoError(t, eng.Start())
	stream := host.LastOutput()

	// Empty buffer: the first five one-frame bursts are concealed.
	for i := 0; i < 5; i++ {
		burst, _ := stream.PullBurst(4)
		assert.Equal(t, []int16{7, 7, 7, 7}, burst, "burst %d should be concealed", i)
	}
	assert.Equal(t, int64(5), eng.ConcealedFrameCount())

	// Cap reached: silence from here.
	burst, _ := stream.PullBurst(4)
	assert.Equal(t, []int16{0, 0, 0, 0}, burst)
	assert.Equal(t, int64(1), eng.CallbackSilenceCount())
	assert.Equal(t, int64(5), eng.ConcealedFrameCount(), "no concealment past the cap")

	// A real frame resets the consecutive-concealment counter.
	require.True(t, eng.WriteFrame([]int16{1, 2, 3, 4}))
	burst, _ = stream.PullBurst(4)
	assert.Equal(t, []int16{1, 2, 3, 4}, burst)

	burst, _ = stream.PullBurst(4)
	assert.Equal(t, []int16{7, 7, 7, 7}, burst, "concealment available again after a real frame")
	assert.Equal(t, int64(6), eng.ConcealedFrameCount())
}

// TestPlaybackEngine_CallbackAfterStopReturnsStop invokes the burst
// callback directly, modeling a driver callback already in flight when
// Stop lands: it must zero the burst and tell the driver to stop, the
// same way the capture side does.
func TestPlaybackEngine_CallbackAfterStopReturnsStop(t *testing.T) {
	host := mockdriver.NewHost()
	eng, err := NewPlaybackEngine(host, rawPlaybackConfig())
	require.NoError(t, err)
	require.True(t, eng.WriteFrame([]int16{5, 5, 5, 5}))
	require.NoError(t, eng.Start())
	require.NoError(t, eng.Stop())

	out := []int16{9, 9, 9, 9}
	result := eng.onBurst(out)
	assert.Equal(t, driver.Stop, result)
	assert.Equal(t, []int16{0, 0, 0, 0}, out, "stale callback must emit silence")
	assert.Equal(t, 1, eng.BufferedFrames(), "stopped callback must not consume frames")
}

// TestPlaybackEngine_WholeFrameBurstsBypassLookahead pulls bursts that
// are exact frame multiples: frames land directly in the driver buffer
// and the lookahead stays empty, while a trailing odd-sized burst still
// drains correctly through it.
func TestPlaybackEngine_WholeFrameBurstsBypassLookahead(t *testing.T) {
	host := mockdriver.NewHost()
	eng, err := NewPlaybackEngine(host, rawPlaybackConfig())
	require.NoError(t, err)

	for f := int16(0); f < 4; f++ {
		base := f * 4
		require.True(t, eng.WriteFrame([]int16{base, base + 1, base + 2, base + 3}))
	}
	require.NoError(t, eng.Start())
	stream := host.LastOutput()

	// Two whole frames in one burst: served without staging.
	burst, result := stream.PullBurst(8)
	assert.Equal(t, driver.Continue, result)
	assert.Equal(t, []int16{0, 1, 2, 3, 4, 5, 6, 7}, burst)
	assert.Equal(t, 0, eng.lookValid, "whole-frame serving must not stage in the lookahead")

	// An odd remainder forces the third frame through the lookahead and
	// the fourth back to the direct path.
	burst, _ = stream.PullBurst(6)
	assert.Equal(t, []int16{8, 9, 10, 11, 12, 13}, burst)
	burst, _ = stream.PullBurst(2)
	assert.Equal(t, []int16{14, 15}, burst)
	assert.Equal(t, int64(4), eng.CallbackFrameCount())
}

func TestPlaybackEngine_NoPLCMeansSilenceOnUnderrun(t *testing.T) {
	host := mockdriver.NewHost()
	eng, err := NewPlaybackEngine(host, rawPlaybackConfig())
	require.NoError(t, err)
	require.NoError(t, eng.Start())
	stream := host.LastOutput()

	burst, result := stream.PullBurst(6)
	assert.Equal(t, driver.Continue, result)
	assert.Equal(t, []int16{0, 0, 0, 0, 0, 0}, burst)
	assert.Equal(t, int64(1), eng.CallbackSilenceCount())
}

func TestPlaybackEngine_WriteEncodedPacket(t *testing.T) {
	host := mockdriver.NewHost()
	eng, err := NewPlaybackEngine(host, rawPlaybackConfig())
	require.NoError(t, err)

	_, err = eng.WriteEncodedPacket([]byte{1})
	assert.ErrorIs(t, err, ErrNoDecoder)

	dec := &stubSpeech{decodeOut: []int16{1, 2, 3, 4, 5, 6, 7, 8}}
	require.NoError(t, eng.ConfigureDecoder(codec.Config{
		Kind: codec.KindOpus, SampleRate: 48000, Channels: 1,
		SpeechFactory: stubSpeechFactory(dec),
	}))

	written, err := eng.WriteEncodedPacket([]byte{0xAA})
	require.NoError(t, err)
	assert.Equal(t, 2, written)
	assert.Equal(t, 2, eng.BufferedFrames())

	require.NoError(t, eng.Start())
	burst, _ := host.LastOutput().PullBurst(8)
	assert.Equal(t, []int16{1, 2, 3, 4, 5, 6, 7, 8}, burst)
}

// TestPlaybackEngine_LenientTailDrop decodes a packet whose length is not
// a whole number of frames: the whole frames commit, the tail is
// dropped, and the pipeline keeps running.
func TestPlaybackEngine_LenientTailDrop(t *testing.T) {
	host := mockdriver.NewHost()
	eng, err := NewPlaybackEngine(host, rawPlaybackConfig())
	require.NoError(t, err)

	dec := &stubSpeech{decodeOut: make([]int16, 10)} // 2 frames + 2 stray samples
	require.NoError(t, eng.ConfigureDecoder(codec.Config{
		Kind: codec.KindOpus, SampleRate: 48000, Channels: 1,
		SpeechFactory: stubSpeechFactory(dec),
	}))

	written, err := eng.WriteEncodedPacket([]byte{0xAA})
	require.NoError(t, err)
	assert.Equal(t, 2, written)
	assert.Equal(t, 2, eng.BufferedFrames())
}

func TestPlaybackEngine_DecodeFailurePropagates(t *testing.T) {
	host := mockdriver.NewHost()
	eng, err := NewPlaybackEngine(host, rawPlaybackConfig())
	require.NoError(t, err)

	boom := errors.New("corrupt packet")
	dec := &stubSpeech{decodeErr: boom}
	require.NoError(t, eng.ConfigureDecoder(codec.Config{
		Kind: codec.KindOpus, SampleRate: 48000, Channels: 1,
		SpeechFactory: stubSpeechFactory(dec),
	}))

	_, err = eng.WriteEncodedPacket([]byte{0xFF, 0x01})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, eng.BufferedFrames())
}

// TestPlaybackEngine_MuteConsumesFramesSilently checks the mute contract:
// output is zeroed but frames keep draining at the normal rate, so
// unmuting resumes live audio.
func TestPlaybackEngine_MuteConsumesFramesSilently(t *testing.T) {
	host := mockdriver.NewHost()
	eng, err := NewPlaybackEngine(host, rawPlaybackConfig())
	require.NoError(t, err)

	for f := int16(0); f < 3; f++ {
		require.True(t, eng.WriteFrame([]int16{f + 1, f + 1, f + 1, f + 1}))
	}
	require.NoError(t, eng.Start())
	stream := host.LastOutput()

	eng.SetMute(true)
	burst, _ := stream.PullBurst(4)
	assert.Equal(t, []int16{0, 0, 0, 0}, burst)
	assert.Equal(t, 2, eng.BufferedFrames(), "muted playback still consumes frames")

	eng.SetMute(false)
	burst, _ = stream.PullBurst(4)
	assert.Equal(t, []int16{2, 2, 2, 2}, burst, "unmute resumes with the next live frame")
}

func TestPlaybackEngine_WriteFrameOverflowEvictsOldest(t *testing.T) {
	cfg := rawPlaybackConfig()
	cfg.MaxBufferedFrames = 2
	host := mockdriver.NewHost()
	eng, err := NewPlaybackEngine(host, cfg)
	require.NoError(t, err)

	require.True(t, eng.WriteFrame([]int16{1, 1, 1, 1}))
	require.True(t, eng.WriteFrame([]int16{2, 2, 2, 2}))
	require.True(t, eng.WriteFrame([]int16{3, 3, 3, 3}), "overflow must evict and succeed")

	require.NoError(t, eng.Start())
	burst, _ := host.LastOutput().PullBurst(4)
	assert.Equal(t, []int16{2, 2, 2, 2}, burst, "oldest frame was evicted")
}

func TestPlaybackEngine_DrainRequiresStoppedAndKeepsNewest(t *testing.T) {
	host := mockdriver.NewHost()
	eng, err := NewPlaybackEngine(host, rawPlaybackConfig())
	require.NoError(t, err)

	for f := int16(0); f < 5; f++ {
		require.True(t, eng.WriteFrame([]int16{f, f, f, f}))
	}
	require.NoError(t, eng.Start())
	assert.ErrorIs(t, eng.Drain(1), ErrStreaming)

	require.NoError(t, eng.Stop())
	require.NoError(t, eng.Drain(1))
	assert.Equal(t, 1, eng.BufferedFrames())

	require.NoError(t, eng.Start())
	burst, _ := host.LastOutput().PullBurst(4)
	assert.Equal(t, []int16{4, 4, 4, 4}, burst, "drain keeps the newest frames")
}

func TestPlaybackEngine_ConfigureDecoderRequiresStopped(t *testing.T) {
	host := mockdriver.NewHost()
	eng, err := NewPlaybackEngine(host, rawPlaybackConfig())
	require.NoError(t, err)
	require.NoError(t, eng.Start())

	err = eng.ConfigureDecoder(codec.Config{
		Kind: codec.KindOpus, SampleRate: 48000, Channels: 1,
		SpeechFactory: stubSpeechFactory(&stubSpeech{}),
	})
	assert.ErrorIs(t, err, ErrStreaming)
	assert.ErrorIs(t, eng.DestroyDecoder(), ErrStreaming)
}

func TestPlaybackEngine_ReopensOnStreamError(t *testing.T) {
	host := mockdriver.NewHost()
	eng, err := NewPlaybackEngine(host, rawPlaybackConfig())
	require.NoError(t, err)
	require.NoError(t, eng.Start())
	first := host.LastOutput()

	first.InjectError(errors.New("route changed"))
	assert.Equal(t, 2, host.OutputCount(), "error must trigger a reopen")
	assert.True(t, first.Closed())
	assert.True(t, eng.Streaming())

	require.NoError(t, eng.Stop())
	host.LastOutput().InjectError(errors.New("late error"))
	assert.Equal(t, 2, host.OutputCount(), "stopped engine must not reopen")
}

func TestPlaybackEngine_DestroyedStopsCallbacks(t *testing.T) {
	host := mockdriver.NewHost()
	eng, err := NewPlaybackEngine(host, rawPlaybackConfig())
	require.NoError(t, err)

	dec := &stubSpeech{}
	require.NoError(t, eng.ConfigureDecoder(codec.Config{
		Kind: codec.KindOpus, SampleRate: 48000, Channels: 1,
		SpeechFactory: stubSpeechFactory(dec),
	}))
	require.NoError(t, eng.Start())
	stream := host.LastOutput()

	require.NoError(t, eng.Destroy())
	assert.True(t, dec.closed)

	_, result := stream.PullBurst(4)
	assert.Equal(t, driver.Stop, result)
	assert.ErrorIs(t, eng.Start(), ErrDestroyed)
	assert.False(t, eng.WriteFrame([]int16{1, 1, 1, 1}))
	_, err = eng.WriteEncodedPacket([]byte{1})
	assert.ErrorIs(t, err, ErrDestroyed)
	require.NoError(t, eng.Destroy(), "destroy is idempotent")
}
