package device

import (
	"time"

	"golang.org/x/exp/slog"
)

// DefaultWaitSlice is how long a single native fence wait may block before
// the Manager rechecks its deadline and context.
const DefaultWaitSlice = 100 * time.Millisecond

type options struct {
	logger        *slog.Logger
	fenceTimeout  time.Duration
	waitSlice     time.Duration
	serialize     bool
	queuePriority float32
}

func defaultOptions() options {
	return options{
		logger:        slog.Default(),
		fenceTimeout:  NoTimeout,
		waitSlice:     DefaultWaitSlice,
		queuePriority: 1.0,
	}
}

type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithFenceTimeout bounds how long WithCommandBuffer waits for submitted work.
// Zero or negative values restore the unbounded wait.
func WithFenceTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout <= 0 {
			timeout = NoTimeout
		}
		o.fenceTimeout = timeout
	}
}

func WithWaitSlice(slice time.Duration) Option {
	return func(o *options) {
		if slice > 0 {
			o.waitSlice = slice
		}
	}
}

// WithSerializedSubmission makes WithCommandBuffer safe for concurrent use by
// holding a per-family lock from allocation until the buffer is freed.
func WithSerializedSubmission() Option {
	return func(o *options) {
		o.serialize = true
	}
}

func WithQueuePriority(priority float32) Option {
	return func(o *options) {
		if priority >= 0 && priority <= 1 {
			o.queuePriority = priority
		}
	}
}

type commandOptions struct {
	queue QueueFlags
	level CommandBufferLevel
}

type CommandOption func(*commandOptions)

// OnQueue selects the capability class the buffer is allocated for and
// submitted to. The default is QueueGraphics.
func OnQueue(flag QueueFlags) CommandOption {
	return func(o *commandOptions) {
		o.queue = flag
	}
}

func AtLevel(level CommandBufferLevel) CommandOption {
	return func(o *commandOptions) {
		o.level = level
	}
}
