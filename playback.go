package voicecore

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voicecore/codec"
	"github.com/opd-ai/voicecore/driver"
	"github.com/opd-ai/voicecore/ringbuf"
)

// maxConsecutivePLC caps concealment at 100 ms of synthesized audio
// (5 frames of 20 ms); a longer gap fades to silence instead of looping
// artifacts.
const maxConsecutivePLC = 5

// maxDecodedValues sizes the decode scratch buffer: the largest Opus
// frame is 2880 samples per channel, 5760 interleaved values in stereo.
const maxDecodedValues = 5760

// PlaybackEngine runs the packets-to-speaker half of a call.
//
// The application feeds it PCM frames (WriteFrame) or encoded packets
// (WriteEncodedPacket, after ConfigureDecoder); the driver pulls bursts
// of arbitrary size on its real-time thread and the engine serves them
// from buffered frames through a one-frame lookahead. When the buffer
// runs dry the engine conceals up to maxConsecutivePLC frames with the
// decoder's packet-loss concealment, then falls back to silence.
//
// The decoder is shared between the packet writer thread and the
// callback's concealment path. Arbitration is a single atomic try-lock:
// the callback never waits for it (silence is better than a missed
// deadline), the writer spins until it wins.
type PlaybackEngine struct {
	cfg       PlaybackConfig
	host      driver.Host
	frameSize int // FrameSamples * Channels

	mu     sync.Mutex
	stream driver.Stream

	ring *ringbuf.FrameRing
	dec  *codec.Adapter

	// Callback-owned lookahead: one frame read ahead of the burst
	// cursor, served across burst boundaries.
	lookahead []int16
	lookOff   int
	lookValid int
	plcCount  int

	// Producer-side scratch.
	evict  []int16
	decBuf []int16

	decLock      atomic.Bool // try-lock arbitrating decoder access
	decoderReady atomic.Bool
	hasPLC       bool // written only while stopped

	muted     atomic.Bool
	streaming atomic.Bool
	destroyed atomic.Bool

	cbFrames    atomic.Int64
	cbSilence   atomic.Int64
	cbConcealed atomic.Int64
	dropped     atomic.Int64
}

// NewPlaybackEngine builds a playback pipeline against host.
//
// Parameters:
//   - host: driver backend to open the output stream on
//   - cfg: pipeline geometry and prebuffer target
//
// Returns:
//   - *PlaybackEngine: pipeline ready for frame writes and Start
//   - error: configuration or buffer construction failure
func NewPlaybackEngine(host driver.Host, cfg PlaybackConfig) (*PlaybackEngine, error) {
	if host == nil {
		return nil, fmt.Errorf("%w: nil driver host", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	frameSize := cfg.FrameSamples * cfg.Channels
	ring, err := ringbuf.NewFrameRing(cfg.MaxBufferedFrames+1, frameSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create playback frame ring: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":      "NewPlaybackEngine",
		"sample_rate":   cfg.SampleRate,
		"channels":      cfg.Channels,
		"frame_samples": cfg.FrameSamples,
		"max_frames":    cfg.MaxBufferedFrames,
		"prebuffer":     cfg.PrebufferFrames,
	}).Info("Created playback engine")

	return &PlaybackEngine{
		cfg:       cfg,
		host:      host,
		frameSize: frameSize,
		ring:      ring,
		dec:       codec.NewAdapter(),
		lookahead: make([]int16, frameSize),
		evict:     make([]int16, frameSize),
		decBuf:    make([]int16, maxDecodedValues),
	}, nil
}

// Start opens the output stream and begins playback. Starting below the
// prebuffer target is allowed but logged: the first bursts will underrun.
func (e *PlaybackEngine) Start() error {
	if e.destroyed.Load() {
		return ErrDestroyed
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.streaming.Load() {
		return nil
	}

	if buffered := e.ring.Available(); buffered < e.cfg.PrebufferFrames {
		logrus.WithFields(logrus.Fields{
			"function":  "PlaybackEngine.Start",
			"buffered":  buffered,
			"prebuffer": e.cfg.PrebufferFrames,
		}).Warn("Starting playback below prebuffer target")
	}

	e.lookOff = 0
	e.lookValid = 0
	e.plcCount = 0
	return e.openStreamLocked()
}

// openStreamLocked opens and starts the driver stream. Caller holds mu.
func (e *PlaybackEngine) openStreamLocked() error {
	stream, err := e.host.OpenOutputStream(driver.StreamConfig{
		SampleRate: e.cfg.SampleRate,
		Channels:   e.cfg.Channels,
		Format:     driver.FormatInt16,
		LowLatency: true,
	}, e.onBurst, e.onStreamError)
	if err != nil {
		return fmt.Errorf("failed to open playback stream: %w", err)
	}

	// Streaming goes up before RequestStart; see CaptureEngine.
	e.streaming.Store(true)
	if err := stream.RequestStart(); err != nil {
		e.streaming.Store(false)
		_ = stream.Close()
		return fmt.Errorf("failed to start playback stream: %w", err)
	}
	e.stream = stream

	logrus.WithFields(logrus.Fields{
		"function":    "PlaybackEngine.Start",
		"sample_rate": e.cfg.SampleRate,
	}).Info("Playback stream started")
	return nil
}

// onBurst runs on the driver's real-time thread and must fill the whole
// burst. Whole remaining frames are read straight into the burst; a
// frame straddling the burst boundary goes through the lookahead and its
// tail is served on the next call. On underrun the concealment path
// runs, then silence.
func (e *PlaybackEngine) onBurst(out []int16) driver.DataResult {
	if e.destroyed.Load() || !e.streaming.Load() {
		for i := range out {
			out[i] = 0
		}
		return driver.Stop
	}

	filled := 0
	padded := false
	for filled < len(out) {
		if e.lookOff < e.lookValid {
			n := copy(out[filled:], e.lookahead[e.lookOff:e.lookValid])
			filled += n
			e.lookOff += n
			continue
		}
		if len(out)-filled >= e.frameSize {
			if e.ring.Read(out[filled : filled+e.frameSize]) {
				filled += e.frameSize
				e.plcCount = 0
				e.cbFrames.Add(1)
				continue
			}
		} else if e.ring.Read(e.lookahead) {
			e.lookOff = 0
			e.lookValid = e.frameSize
			e.plcCount = 0
			e.cbFrames.Add(1)
			continue
		}
		if e.concealFrame() {
			continue
		}
		for i := filled; i < len(out); i++ {
			out[i] = 0
		}
		padded = true
		break
	}
	if padded {
		e.cbSilence.Add(1)
	}

	if e.muted.Load() {
		// Mute keeps consuming frames at the normal rate so unmuting
		// resumes live audio instead of a stale backlog.
		for i := range out {
			out[i] = 0
		}
	}
	return driver.Continue
}

// concealFrame tries to synthesize one frame of concealment audio into
// the lookahead. Gives up without waiting if the packet writer holds the
// decoder or the consecutive-concealment cap is reached.
func (e *PlaybackEngine) concealFrame() bool {
	if !e.hasPLC || e.plcCount >= maxConsecutivePLC {
		return false
	}
	if !e.decLock.CompareAndSwap(false, true) {
		return false
	}
	n, err := e.dec.DecodePLC(e.lookahead)
	e.decLock.Store(false)
	if err != nil || n <= 0 {
		return false
	}
	e.plcCount++
	e.cbConcealed.Add(1)
	e.lookOff = 0
	e.lookValid = n
	return true
}

// onStreamError reopens the stream if the engine still wants to play;
// see CaptureEngine.onStreamError.
func (e *PlaybackEngine) onStreamError(err error) {
	logrus.WithFields(logrus.Fields{
		"function": "PlaybackEngine.onStreamError",
		"error":    err,
	}).Error("Playback stream error")

	if e.destroyed.Load() || !e.streaming.Load() {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed.Load() || !e.streaming.Load() {
		return
	}
	if e.stream != nil {
		_ = e.stream.Close()
		e.stream = nil
	}
	if reopenErr := e.openStreamLocked(); reopenErr != nil {
		e.streaming.Store(false)
		logrus.WithFields(logrus.Fields{
			"function": "PlaybackEngine.onStreamError",
			"error":    reopenErr,
		}).Error("Failed to reopen playback stream")
	}
}

// Stop closes the output stream. Buffered frames survive and play after
// a later Start (use Drain to resynchronize first).
func (e *PlaybackEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.streaming.Store(false)
	if e.stream == nil {
		return nil
	}
	err := e.stream.Close()
	e.stream = nil

	logrus.WithFields(logrus.Fields{
		"function": "PlaybackEngine.Stop",
	}).Info("Playback stream stopped")
	return err
}

// Destroy stops the stream and releases the decoder. The engine is
// unusable afterwards.
func (e *PlaybackEngine) Destroy() error {
	if !e.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	err := e.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.decoderReady.Store(false)
	if closeErr := e.dec.Close(); err == nil {
		err = closeErr
	}
	return err
}

// ConfigureDecoder installs a codec so WriteEncodedPacket can feed the
// pipeline. Requires a stopped stream: the concealment path reads the
// adapter without locks.
func (e *PlaybackEngine) ConfigureDecoder(cfg codec.Config) error {
	if e.destroyed.Load() {
		return ErrDestroyed
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.streaming.Load() {
		return ErrStreaming
	}
	if err := e.dec.Configure(cfg); err != nil {
		return err
	}
	e.hasPLC = e.dec.SupportsPLC()
	e.decoderReady.Store(cfg.Kind != codec.KindNone)
	return nil
}

// DestroyDecoder removes the decoder. Requires a stopped stream.
func (e *PlaybackEngine) DestroyDecoder() error {
	if e.destroyed.Load() {
		return ErrDestroyed
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.streaming.Load() {
		return ErrStreaming
	}
	e.decoderReady.Store(false)
	e.hasPLC = false
	return e.dec.Close()
}

// WriteFrame queues one PCM frame (FrameSamples*Channels values) for
// playback. A full buffer evicts the oldest frame and retries once;
// false means the frame was lost anyway.
func (e *PlaybackEngine) WriteFrame(samples []int16) bool {
	if e.destroyed.Load() {
		return false
	}
	if e.ring.Write(samples) {
		return true
	}
	// Eviction briefly acts as a second consumer next to the callback;
	// the race can at worst duplicate one frame, never tear one.
	_ = e.ring.Read(e.evict)
	if e.ring.Write(samples) {
		return true
	}
	e.dropped.Add(1)
	return false
}

// WriteEncodedPacket decodes one packet and queues the resulting whole
// frames.
//
// A decoded length that is not a whole number of frames is committed up
// to the last whole frame and the tail dropped with a warning; a
// mismatched far-end frame size degrades audio but must not wedge the
// pipeline. Opus decode failures are followed by a packet inspection to
// tell malformed data from a configuration mismatch.
//
// Returns:
//   - int: number of frames queued
//   - error: ErrNoDecoder, ErrDestroyed, or decode failure
func (e *PlaybackEngine) WriteEncodedPacket(data []byte) (int, error) {
	if e.destroyed.Load() {
		return 0, ErrDestroyed
	}
	if !e.decoderReady.Load() {
		return 0, ErrNoDecoder
	}

	// Spin until the concealment path lets go; its hold time is one
	// frame synthesis, bounded and short.
	for !e.decLock.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
	n, err := e.dec.Decode(e.decBuf, data)
	kind := e.dec.Kind()
	e.decLock.Store(false)

	if err != nil {
		if kind == codec.KindOpus {
			if info, inspectErr := codec.InspectOpusPacket(data); inspectErr == nil {
				logrus.WithFields(logrus.Fields{
					"function":    "PlaybackEngine.WriteEncodedPacket",
					"bandwidth":   info.Bandwidth,
					"sample_rate": info.SampleRate,
					"stereo":      info.Stereo,
				}).Warn("Opus packet failed to decode; packet self-describes as above")
			}
		}
		return 0, fmt.Errorf("failed to decode packet: %w", err)
	}

	whole := n / e.frameSize
	if n%e.frameSize != 0 {
		logrus.WithFields(logrus.Fields{
			"function":      "PlaybackEngine.WriteEncodedPacket",
			"decoded":       n,
			"frame_samples": e.frameSize,
			"dropped_tail":  n % e.frameSize,
		}).Warn("Decoded length is not a whole number of frames; dropping tail")
	}

	written := 0
	for i := 0; i < whole; i++ {
		if e.WriteFrame(e.decBuf[i*e.frameSize : (i+1)*e.frameSize]) {
			written++
		}
	}
	return written, nil
}

// Drain discards buffered frames until at most keep remain and resets
// the lookahead. Requires a stopped stream; used to resynchronize after
// a pause instead of replaying stale audio.
func (e *PlaybackEngine) Drain(keep int) error {
	if e.destroyed.Load() {
		return ErrDestroyed
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.streaming.Load() {
		return ErrStreaming
	}
	e.ring.Drain(keep)
	e.lookOff = 0
	e.lookValid = 0
	e.plcCount = 0
	return nil
}

// SetMute silences output without interrupting frame consumption.
func (e *PlaybackEngine) SetMute(muted bool) {
	e.muted.Store(muted)
	logrus.WithFields(logrus.Fields{
		"function": "PlaybackEngine.SetMute",
		"muted":    muted,
	}).Info("Playback mute changed")
}

// Muted reports the playback mute state.
func (e *PlaybackEngine) Muted() bool {
	return e.muted.Load()
}

// Streaming reports whether the driver stream is running.
func (e *PlaybackEngine) Streaming() bool {
	return e.streaming.Load()
}

// BufferedFrames returns the number of frames awaiting playback.
func (e *PlaybackEngine) BufferedFrames() int {
	return e.ring.Available()
}

// CallbackFrameCount returns how many real frames the callback has
// consumed.
func (e *PlaybackEngine) CallbackFrameCount() int64 {
	return e.cbFrames.Load()
}

// CallbackSilenceCount returns how many bursts were padded with silence
// after the buffer and concealment both ran dry.
func (e *PlaybackEngine) CallbackSilenceCount() int64 {
	return e.cbSilence.Load()
}

// ConcealedFrameCount returns how many frames were synthesized by
// packet-loss concealment.
func (e *PlaybackEngine) ConcealedFrameCount() int64 {
	return e.cbConcealed.Load()
}

// DroppedFrames returns how many frames were lost to buffer overflow.
func (e *PlaybackEngine) DroppedFrames() int64 {
	return e.dropped.Load()
}

// UnderrunCount reports the driver-side underrun counter of the current
// stream, 0 when stopped.
func (e *PlaybackEngine) UnderrunCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stream == nil {
		return 0
	}
	return e.stream.UnderrunCount()
}
