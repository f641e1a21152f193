package voicecore

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voicecore/codec"
	"github.com/opd-ai/voicecore/driver"
	"github.com/opd-ai/voicecore/dsp"
	"github.com/opd-ai/voicecore/ringbuf"
)

// maxEncodedPacket bounds one encoded packet: comfortably above the
// Opus recommended maximum of 1275 bytes per frame.
const maxEncodedPacket = 1500

// encRingSlots sizes the encoded-packet ring between the callback and
// the packet reader.
const encRingSlots = 32

// CaptureEngine runs the microphone-to-packets half of a call.
//
// The driver delivers bursts of arbitrary size on its real-time thread;
// the engine reassembles them into fixed frames, optionally runs the
// voice filter chain, and hands the frames to the application either as
// raw PCM (ReadFrame) or already encoded (ReadEncodedPacket, after
// ConfigureEncoder). The callback path never locks, logs, or allocates.
//
// Start, Stop, Destroy and the encoder configuration calls are
// serialized by an internal mutex; the data-plane reads are safe to run
// concurrently with the callback but must come from a single consumer
// goroutine.
type CaptureEngine struct {
	cfg       CaptureConfig
	host      driver.Host
	frameSize int // FrameSamples * Channels

	mu     sync.Mutex
	stream driver.Stream

	ring    *ringbuf.FrameRing
	encRing *ringbuf.PacketRing
	enc     *codec.Adapter
	chain   *dsp.VoiceChain

	// Callback-owned burst reassembly state.
	accum      []int16
	accumFill  int
	evict      []int16
	encBuf     []byte
	encScratch []byte

	encodeInCallback atomic.Bool
	muted            atomic.Bool
	streaming        atomic.Bool
	destroyed        atomic.Bool

	dropped atomic.Int64
}

// NewCaptureEngine builds a capture pipeline against host.
//
// Parameters:
//   - host: driver backend to open the input stream on
//   - cfg: pipeline geometry and filter selection
//
// Returns:
//   - *CaptureEngine: pipeline ready for Start
//   - error: configuration or buffer construction failure
func NewCaptureEngine(host driver.Host, cfg CaptureConfig) (*CaptureEngine, error) {
	if host == nil {
		return nil, fmt.Errorf("%w: nil driver host", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	frameSize := cfg.FrameSamples * cfg.Channels
	ring, err := ringbuf.NewFrameRing(cfg.MaxBufferedFrames+1, frameSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture frame ring: %w", err)
	}
	encRing, err := ringbuf.NewPacketRing(encRingSlots, maxEncodedPacket)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture packet ring: %w", err)
	}

	var chain *dsp.VoiceChain
	if cfg.EnableFilters {
		chain, err = dsp.NewVoiceChain(dsp.DefaultChainConfig(cfg.Channels, frameSize))
		if err != nil {
			return nil, fmt.Errorf("failed to create voice filter chain: %w", err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":      "NewCaptureEngine",
		"sample_rate":   cfg.SampleRate,
		"channels":      cfg.Channels,
		"frame_samples": cfg.FrameSamples,
		"max_frames":    cfg.MaxBufferedFrames,
		"filters":       cfg.EnableFilters,
	}).Info("Created capture engine")

	return &CaptureEngine{
		cfg:        cfg,
		host:       host,
		frameSize:  frameSize,
		ring:       ring,
		encRing:    encRing,
		enc:        codec.NewAdapter(),
		chain:      chain,
		accum:      make([]int16, frameSize),
		evict:      make([]int16, frameSize),
		encBuf:     make([]byte, maxEncodedPacket),
		encScratch: make([]byte, maxEncodedPacket),
	}, nil
}

// Start opens the input stream and begins capturing. Calling Start on a
// running engine is a no-op.
func (e *CaptureEngine) Start() error {
	if e.destroyed.Load() {
		return ErrDestroyed
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.streaming.Load() {
		return nil
	}
	e.accumFill = 0
	return e.openStreamLocked()
}

// openStreamLocked opens and starts the driver stream. Caller holds mu.
func (e *CaptureEngine) openStreamLocked() error {
	stream, err := e.host.OpenInputStream(driver.StreamConfig{
		SampleRate: e.cfg.SampleRate,
		Channels:   e.cfg.Channels,
		Format:     driver.FormatInt16,
		LowLatency: true,
	}, e.onBurst, e.onStreamError)
	if err != nil {
		return fmt.Errorf("failed to open capture stream: %w", err)
	}

	// The streaming flag goes up before RequestStart: some drivers
	// deliver the first burst before the start call returns, and the
	// callback drops bursts while the flag is down.
	e.streaming.Store(true)
	if err := stream.RequestStart(); err != nil {
		e.streaming.Store(false)
		_ = stream.Close()
		return fmt.Errorf("failed to start capture stream: %w", err)
	}
	e.stream = stream

	logrus.WithFields(logrus.Fields{
		"function":    "CaptureEngine.Start",
		"sample_rate": e.cfg.SampleRate,
	}).Info("Capture stream started")
	return nil
}

// onBurst runs on the driver's real-time thread. It chops the burst into
// fixed frames via the accumulator; a partial frame carries over to the
// next burst.
func (e *CaptureEngine) onBurst(samples []int16) driver.DataResult {
	if e.destroyed.Load() {
		return driver.Stop
	}
	if !e.streaming.Load() {
		return driver.Stop
	}

	for len(samples) > 0 {
		n := copy(e.accum[e.accumFill:], samples)
		e.accumFill += n
		samples = samples[n:]
		if e.accumFill < e.frameSize {
			break
		}
		e.accumFill = 0
		e.emitFrame()
	}
	return driver.Continue
}

// emitFrame finishes one reassembled frame: mute or filter, then hand it
// off encoded or raw. Runs inside the callback.
func (e *CaptureEngine) emitFrame() {
	frame := e.accum
	if e.muted.Load() {
		// Muted capture keeps producing frames so downstream pacing is
		// undisturbed; the content is silence.
		for i := range frame {
			frame[i] = 0
		}
	} else if e.chain != nil {
		e.chain.Process(frame, e.cfg.SampleRate)
	}

	if e.encodeInCallback.Load() {
		n, err := e.enc.Encode(e.encBuf, frame)
		if err != nil || n <= 0 {
			e.dropped.Add(1)
			return
		}
		if !e.encRing.Write(e.encBuf[:n]) {
			// Full: evict the oldest packet and retry once. The eviction
			// read can race the consumer; the worst case is a duplicate
			// delivery of one packet, never a torn one.
			_, _ = e.encRing.Read(e.encScratch)
			if !e.encRing.Write(e.encBuf[:n]) {
				e.dropped.Add(1)
			}
		}
		return
	}

	if !e.ring.Write(frame) {
		_ = e.ring.Read(e.evict)
		if !e.ring.Write(frame) {
			e.dropped.Add(1)
		}
	}
}

// onStreamError runs off the real-time thread when the driver reports an
// asynchronous failure. If the engine still wants to stream, the stream
// is reopened against the (possibly new) device.
func (e *CaptureEngine) onStreamError(err error) {
	logrus.WithFields(logrus.Fields{
		"function": "CaptureEngine.onStreamError",
		"error":    err,
	}).Error("Capture stream error")

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
			"function": "CaptureEngine.onStreamError",
			"error":    reopenErr,
		}).Error("Failed to reopen capture stream")
	}
}

// Stop closes the input stream. Buffered frames and packets remain
// readable.
func (e *CaptureEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.streaming.Store(false)
	if e.stream == nil {
		return nil
	}
	err := e.stream.Close()
	e.stream = nil

	logrus.WithFields(logrus.Fields{
		"function": "CaptureEngine.Stop",
	}).Info("Capture stream stopped")
	return err
}

// Destroy stops the stream and releases the encoder. The engine is
// unusable afterwards; every later call fails with ErrDestroyed.
func (e *CaptureEngine) Destroy() error {
	if !e.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	err := e.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	if closeErr := e.enc.Close(); err == nil {
		err = closeErr
	}
	e.encodeInCallback.Store(false)
	return err
}

// ConfigureEncoder installs a codec so frames are encoded inside the
// callback and surface through ReadEncodedPacket. Requires a stopped
// stream: the callback reads the adapter without locks.
func (e *CaptureEngine) ConfigureEncoder(cfg codec.Config) error {
	if e.destroyed.Load() {
		return ErrDestroyed
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.streaming.Load() {
		return ErrStreaming
	}
	if err := e.enc.Configure(cfg); err != nil {
		return err
	}
	e.encodeInCallback.Store(cfg.Kind != codec.KindNone)
	e.encRing.Reset()
	return nil
}

// DestroyEncoder removes the encoder; frames surface as raw PCM again.
// Requires a stopped stream.
func (e *CaptureEngine) DestroyEncoder() error {
	if e.destroyed.Load() {
		return ErrDestroyed
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.streaming.Load() {
		return ErrStreaming
	}
	e.encodeInCallback.Store(false)
	return e.enc.Close()
}

// ReadFrame copies the oldest buffered PCM frame into dest
// (FrameSamples*Channels values). Returns false when no frame is ready.
func (e *CaptureEngine) ReadFrame(dest []int16) bool {
	return e.ring.Read(dest)
}

// ReadEncodedPacket copies the oldest encoded packet into dest and
// returns its length. Returns (0, false) when no packet is ready; with
// no encoder configured no packets are ever produced.
func (e *CaptureEngine) ReadEncodedPacket(dest []byte) (int, bool) {
	return e.encRing.Read(dest)
}

// SetMute silences captured frames without interrupting the stream or
// frame pacing.
func (e *CaptureEngine) SetMute(muted bool) {
	e.muted.Store(muted)
	logrus.WithFields(logrus.Fields{
		"function": "CaptureEngine.SetMute",
		"muted":    muted,
	}).Info("Capture mute changed")
}

// Muted reports the capture mute state.
func (e *CaptureEngine) Muted() bool {
	return e.muted.Load()
}

// Streaming reports whether the driver stream is running.
func (e *CaptureEngine) Streaming() bool {
	return e.streaming.Load()
}

// BufferedFrames returns the number of PCM frames awaiting ReadFrame.
func (e *CaptureEngine) BufferedFrames() int {
	return e.ring.Available()
}

// BufferedPackets returns the number of encoded packets awaiting
// ReadEncodedPacket.
func (e *CaptureEngine) BufferedPackets() int {
	return e.encRing.Available()
}

// DroppedFrames returns how many frames or packets were lost to buffer
// overflow or encode failure since construction.
func (e *CaptureEngine) DroppedFrames() int64 {
	return e.dropped.Load()
}

// UnderrunCount reports the driver-side underrun counter of the current
// stream, 0 when stopped.
func (e *CaptureEngine) UnderrunCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stream == nil {
		return 0
	}
	return e.stream.UnderrunCount()
}
