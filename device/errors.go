package device

import "github.com/cockroachdb/errors"

var (
	ErrAlreadyInitialized      = errors.New("device already initialized")
	ErrNotInitialized          = errors.New("device not initialized")
	ErrDeviceCreation          = errors.New("device creation failed")
	ErrCommandPoolCreation     = errors.New("command pool creation failed")
	ErrCommandBufferAllocation = errors.New("command buffer allocation failed")
	ErrRecording               = errors.New("command buffer recording failed")
	ErrUnsupportedQueue        = errors.New("unsupported queue")
	ErrSubmission              = errors.New("queue submission failed")
	ErrSyncWait                = errors.New("fence wait failed")
	ErrDeviceLost              = errors.New("device lost")
	ErrDeviceTimeout           = errors.New("device timeout")
	ErrNoSuitableDevice        = errors.New("no suitable physical device")
)

// mark wraps err with msg and tags it with each of the given sentinels so that
// errors.Is matches both the sentinels and the original cause.
func mark(err error, msg string, sentinels ...error) error {
	err = errors.Wrap(err, msg)
	for _, sentinel := range sentinels {
		err = errors.Mark(err, sentinel)
	}
	return err
}
