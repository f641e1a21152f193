// Package driver defines the audio driver abstraction the pipelines run
// against: a Host opens input and output streams, and each stream invokes
// a data callback from the driver's real-time thread with bursts of
// interleaved int16 PCM whose size the driver chooses per invocation.
//
// The contract mirrors callback-driven mobile audio stacks: callbacks
// must return quickly, must not block, and the burst size can vary from
// call to call. The mockdriver subpackage provides a scriptable
// implementation for tests.
package driver

// DataResult tells the driver whether to keep invoking the callback.
type DataResult int

const (
	// Continue keeps the stream running.
	Continue DataResult = iota
	// Stop asks the driver to stop invoking the callback.
	Stop
)

// Format identifies the sample encoding of a stream.
type Format int

const (
	// FormatInt16 is interleaved signed 16-bit PCM, the only format the
	// pipelines use.
	FormatInt16 Format = iota
)

// StreamConfig describes the stream a pipeline asks the host to open.
type StreamConfig struct {
	SampleRate int
	Channels   int
	Format     Format
	// LowLatency asks the driver for its low-latency performance mode;
	// drivers that cannot honor it fall back silently.
	LowLatency bool
}

// InputCallback receives one captured burst. samples holds
// frames*channels interleaved values; the driver owns the slice and may
// reuse it after the callback returns.
type InputCallback func(samples []int16) DataResult

// OutputCallback must fill samples completely with frames*channels
// interleaved values before returning; partially filled bursts produce
// artifacts.
type OutputCallback func(samples []int16) DataResult

// ErrorCallback reports an asynchronous stream failure (device
// disconnect, route change). Invoked off the real-time thread.
type ErrorCallback func(err error)

// Stream is an open driver stream.
type Stream interface {
	// RequestStart begins callback delivery. Callbacks may fire before
	// RequestStart returns.
	RequestStart() error
	// Close stops callbacks and releases the stream. No callback runs
	// after Close returns.
	Close() error
	// UnderrunCount reports driver-side underruns since open, when the
	// driver tracks them (0 otherwise).
	UnderrunCount() int
}

// Host opens streams against a concrete audio backend.
type Host interface {
	OpenInputStream(cfg StreamConfig, data InputCallback, onError ErrorCallback) (Stream, error)
	OpenOutputStream(cfg StreamConfig, data OutputCallback, onError ErrorCallback) (Stream, error)
}
