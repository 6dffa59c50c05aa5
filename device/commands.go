package device

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/loov/hrtime"
	"golang.org/x/exp/slog"
)

// RecordFunc records commands into a buffer that is in the recording state.
// The buffer must not be retained after the function returns.
type RecordFunc func(cb CommandBuffer) error

// parked is a submission abandoned by its caller while still pending on the
// device. The Manager frees it once its fence signals, or on Destroy.
type parked struct {
	pool   CommandPool
	buffer Handle
	fence  Handle
}

// WithCommandBuffer allocates a transient command buffer for the requested
// queue class, hands it to fn for recording, submits it and blocks until the
// device has finished executing it. The buffer and its fence are released on
// every return path, including a panic in fn.
//
// If the wait times out, fails for a reason other than device loss, or ctx
// is done, the work may still be executing. The buffer and fence then stay
// with the Manager and are released once the fence signals or on Destroy.
func (m *Manager) WithCommandBuffer(ctx context.Context, fn RecordFunc, opts ...CommandOption) error {
	o := commandOptions{
		queue: QueueGraphics,
		level: CommandBufferLevelPrimary,
	}
	for _, opt := range opts {
		opt(&o)
	}

	switch o.queue {
	case QueueGraphics, QueueCompute, QueueTransfer:
	default:
		return errors.Wrapf(ErrUnsupportedQueue, "%s queue cannot record commands", o.queue)
	}

	if m.state != Ready {
		return errors.Wrap(ErrNotInitialized, "with command buffer")
	}
	if m.lost.Load() {
		return errors.Wrap(ErrDeviceLost, "with command buffer")
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "with command buffer")
	}

	pool := m.pools.forQueue(o.queue)
	queue := m.queues.forQueue(o.queue)
	if !pool.Valid() || !queue.Valid() {
		return errors.Wrapf(ErrUnsupportedQueue, "no %s queue on %s", o.queue, m.physical)
	}

	m.reapParked()
	if m.lost.Load() {
		return errors.Wrap(ErrDeviceLost, "with command buffer")
	}

	lock := m.locks[pool.Family]
	lock.Lock()
	defer lock.Unlock()

	logger := m.logger.With(
		"submission", uuid.New().String(),
		"queue", o.queue.String(),
		"family", pool.Family,
	)
	start := hrtime.Now()

	buffer, err := m.device.AllocateCommandBuffer(pool.Handle, o.level)
	if err != nil {
		return m.fail(logger, err, "allocate command buffer", ErrCommandBufferAllocation)
	}

	keep := false
	defer func() {
		if keep {
			return
		}
		if err := m.device.FreeCommandBuffer(pool.Handle, buffer); err != nil {
			logger.Warn("failed to free command buffer", "error", err)
		}
	}()

	if err := m.device.BeginCommandBuffer(buffer, CommandBufferUsageOneTimeSubmit); err != nil {
		return m.fail(logger, err, "begin command buffer", ErrRecording)
	}

	if err := fn(CommandBuffer{Handle: buffer, Pool: pool, Level: o.level, Queue: o.queue}); err != nil {
		return errors.Wrap(err, "record command buffer")
	}

	if err := m.device.EndCommandBuffer(buffer); err != nil {
		return m.fail(logger, err, "end command buffer", ErrRecording)
	}

	fence, err := m.device.CreateFence()
	if err != nil {
		return m.fail(logger, err, "create fence", ErrSubmission)
	}
	defer func() {
		if keep {
			return
		}
		if err := m.device.DestroyFence(fence); err != nil {
			logger.Warn("failed to destroy fence", "error", err)
		}
	}()

	if err := m.device.Submit(queue.Handle, buffer, fence); err != nil {
		return m.fail(logger, err, "submit command buffer", ErrSubmission)
	}

	if pending, err := m.waitForFence(ctx, logger, fence); err != nil {
		if pending {
			keep = true
			m.park(parked{pool: pool, buffer: buffer, fence: fence})
			logger.Warn("abandoned pending command buffer", "error", err)
		}
		return err
	}

	logger.Debug("command buffer completed", "level", o.level.String(), "elapsed", hrtime.Since(start))
	return nil
}

// waitForFence blocks until fence signals. pending reports that the wait was
// abandoned while the work may still be executing.
func (m *Manager) waitForFence(ctx context.Context, logger *slog.Logger, fence Handle) (pending bool, err error) {
	bounded := m.opts.fenceTimeout != NoTimeout
	var deadline time.Time
	if bounded {
		deadline = time.Now().Add(m.opts.fenceTimeout)
	}

	for {
		slice := m.opts.waitSlice
		if bounded {
			remaining := time.Until(deadline)
			if remaining < 0 {
				remaining = 0
			}
			if remaining < slice {
				slice = remaining
			}
		}

		signaled, err := m.device.WaitForFence(fence, slice)
		if err != nil {
			// Work on a lost device is never going to complete and may be
			// released; any other failure leaves it pending.
			return !errors.Is(err, ErrDeviceLost), m.fail(logger, err, "wait for fence", ErrSyncWait)
		}
		if signaled {
			return false, nil
		}

		if err := ctx.Err(); err != nil {
			return true, errors.Wrap(err, "wait for fence")
		}
		if bounded && !time.Now().Before(deadline) {
			return true, errors.Wrapf(ErrDeviceTimeout, "fence not signaled after %s", m.opts.fenceTimeout)
		}
	}
}

// fail tags err with sentinel and latches device loss.
func (m *Manager) fail(logger *slog.Logger, err error, msg string, sentinel error) error {
	if errors.Is(err, ErrDeviceLost) {
		m.lost.Store(true)
		logger.Error("device lost", "during", msg, "error", err)
	}
	return mark(err, msg, sentinel)
}

func (m *Manager) park(p parked) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()

	m.pending = append(m.pending, p)
}

// reapParked releases abandoned submissions whose fences have signaled.
func (m *Manager) reapParked() {
	m.pendingMu.Lock()
	var done []parked
	kept := m.pending[:0]
	for _, p := range m.pending {
		signaled, err := m.device.FenceSignaled(p.fence)
		if err != nil {
			if errors.Is(err, ErrDeviceLost) {
				m.lost.Store(true)
			}
			m.logger.Warn("failed to query fence", "family", p.pool.Family, "error", err)
		}
		if signaled {
			done = append(done, p)
		} else {
			kept = append(kept, p)
		}
	}
	m.pending = kept
	m.pendingMu.Unlock()

	for _, p := range done {
		lock := m.locks[p.pool.Family]
		lock.Lock()
		m.release(p)
		lock.Unlock()
	}
}

// releaseAllParked waits for the device to drain and frees every parked
// submission. Only Destroy calls it.
func (m *Manager) releaseAllParked() {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()

	if len(m.pending) == 0 {
		return
	}

	if err := m.device.WaitIdle(); err != nil {
		m.logger.Warn("failed to wait for device idle", "error", err)
	}
	for _, p := range m.pending {
		m.release(p)
	}
	m.pending = nil
}

func (m *Manager) release(p parked) {
	if err := m.device.DestroyFence(p.fence); err != nil {
		m.logger.Warn("failed to destroy fence", "family", p.pool.Family, "error", err)
	}
	if err := m.device.FreeCommandBuffer(p.pool.Handle, p.buffer); err != nil {
		m.logger.Warn("failed to free command buffer", "family", p.pool.Family, "error", err)
	}
}

// Parked reports how many abandoned submissions are still held.
func (m *Manager) Parked() int {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()

	return len(m.pending)
}
