package voicecore

import "errors"

var (
	// ErrDestroyed reports use of an engine after Destroy.
	ErrDestroyed = errors.New("engine has been destroyed")
	// ErrStreaming reports a reconfiguration attempted while the driver
	// stream is running.
	ErrStreaming = errors.New("operation requires a stopped stream")
	// ErrInvalidConfig reports a pipeline configuration that failed
	// validation.
	ErrInvalidConfig = errors.New("invalid pipeline configuration")
	// ErrNoDecoder reports an encoded-packet write without a configured
	// decoder.
	ErrNoDecoder = errors.New("no decoder configured")
)
