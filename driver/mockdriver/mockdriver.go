// Package mockdriver is a scriptable in-memory implementation of the
// driver interfaces for tests. Nothing runs on its own: the test drives
// the "real-time thread" explicitly by calling PushBurst and PullBurst,
// which makes burst boundaries, error injection, and start-time races
// deterministic.
package mockdriver

import (
	"errors"
	"sync"

	"github.com/opd-ai/voicecore/driver"
)

// ErrStreamClosed is returned when a closed stream is started or driven.
var ErrStreamClosed = errors.New("mock stream is closed")

// Host opens mock streams and records them for inspection.
type Host struct {
	mu sync.Mutex

	// OpenErr, when set, makes every Open call fail with it.
	OpenErr error
	// StartErr, when set, makes RequestStart on newly opened streams
	// fail with it.
	StartErr error
	// StartHook, when set, runs inside RequestStart before it returns.
	// Used to reproduce drivers that deliver the first callback before
	// the start call completes.
	StartHook func(s *Stream)

	inputs  []*Stream
	outputs []*Stream
}

// NewHost returns an empty mock host.
func NewHost() *Host {
	return &Host{}
}

// OpenInputStream implements driver.Host.
func (h *Host) OpenInputStream(cfg driver.StreamConfig, data driver.InputCallback, onError driver.ErrorCallback) (driver.Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.OpenErr != nil {
		return nil, h.OpenErr
	}
	s := &Stream{
		Config:    cfg,
		host:      h,
		input:     data,
		onError:   onError,
		startErr:  h.StartErr,
		startHook: h.StartHook,
	}
	h.inputs = append(h.inputs, s)
	return s, nil
}

// OpenOutputStream implements driver.Host.
func (h *Host) OpenOutputStream(cfg driver.StreamConfig, data driver.OutputCallback, onError driver.ErrorCallback) (driver.Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.OpenErr != nil {
		return nil, h.OpenErr
	}
	s := &Stream{
		Config:    cfg,
		host:      h,
		output:    data,
		onError:   onError,
		startErr:  h.StartErr,
		startHook: h.StartHook,
	}
	h.outputs = append(h.outputs, s)
	return s, nil
}

// InputCount returns how many input streams were opened.
func (h *Host) InputCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.inputs)
}

// OutputCount returns how many output streams were opened.
func (h *Host) OutputCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.outputs)
}

// LastInput returns the most recently opened input stream, nil if none.
func (h *Host) LastInput() *Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.inputs) == 0 {
		return nil
	}
	return h.inputs[len(h.inputs)-1]
}

// LastOutput returns the most recently opened output stream, nil if none.
func (h *Host) LastOutput() *Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.outputs) == 0 {
		return nil
	}
	return h.outputs[len(h.outputs)-1]
}

// Stream is a mock driver stream driven explicitly by the test.
type Stream struct {
	Config driver.StreamConfig

	host      *Host
	input     driver.InputCallback
	output    driver.OutputCallback
	onError   driver.ErrorCallback
	startErr  error
	startHook func(s *Stream)

	mu        sync.Mutex
	started   bool
	closed    bool
	stopped   bool // a callback returned driver.Stop
	underruns int
}

// RequestStart implements driver.Stream. The StartHook (if any) runs
// before the started flag is published, mimicking drivers whose first
// callback can race the start call.
func (s *Stream) RequestStart() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	if s.startErr != nil {
		err := s.startErr
		s.mu.Unlock()
		return err
	}
	hook := s.startHook
	s.mu.Unlock()

	if hook != nil {
		hook(s)
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

// Close implements driver.Stream.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.started = false
	return nil
}

// UnderrunCount implements driver.Stream.
func (s *Stream) UnderrunCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.underruns
}

// SetUnderruns sets the driver-side underrun counter.
func (s *Stream) SetUnderruns(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.underruns = n
}

// Started reports whether RequestStart completed successfully.
func (s *Stream) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Stopped reports whether a callback asked the driver to stop.
func (s *Stream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// PushBurst delivers one captured burst to the input callback, as the
// driver's real-time thread would, and returns the callback's verdict.
func (s *Stream) PushBurst(samples []int16) driver.DataResult {
	s.mu.Lock()
	if s.closed || s.stopped || s.input == nil {
		s.mu.Unlock()
		return driver.Stop
	}
	cb := s.input
	s.mu.Unlock()

	result := cb(samples)
	if result == driver.Stop {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
	}
	return result
}

// PullBurst asks the output callback to fill a burst of numSamples
// interleaved values and returns the filled buffer with the callback's
// verdict. A nil buffer means the stream would not produce audio.
func (s *Stream) PullBurst(numSamples int) ([]int16, driver.DataResult) {
	s.mu.Lock()
	if s.closed || s.stopped || s.output == nil {
		s.mu.Unlock()
		return nil, driver.Stop
	}
	cb := s.output
	s.mu.Unlock()

	burst := make([]int16, numSamples)
	result := cb(burst)
	if result == driver.Stop {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
	}
	return burst, result
}

// InjectError delivers an asynchronous stream error, as a device
// disconnect would.
func (s *Stream) InjectError(err error) {
	s.mu.Lock()
	cb := s.onError
	s.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}
