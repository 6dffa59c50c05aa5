package device

import "time"

// NoTimeout waits forever.
const NoTimeout = time.Duration(1<<63 - 1)

type QueueRequest struct {
	Family     int
	Priorities []float32
}

type DeviceCreateInfo struct {
	Physical   PhysicalDeviceInfo
	Queues     []QueueRequest
	Extensions []string
}

// Driver creates logical devices on behalf of a Manager.
type Driver interface {
	CreateDevice(info DeviceCreateInfo) (LogicalDevice, error)
}

// LogicalDevice is the native surface a Manager drives. Implementations
// report device loss by marking the returned error with ErrDeviceLost.
//
// A LogicalDevice is used from one goroutine at a time per queue family;
// the Manager never calls it concurrently for the same pool or queue.
type LogicalDevice interface {
	Queue(family, index int) (Handle, error)

	CreateCommandPool(family int, flags CommandPoolFlags) (Handle, error)
	DestroyCommandPool(pool Handle) error

	AllocateCommandBuffer(pool Handle, level CommandBufferLevel) (Handle, error)
	FreeCommandBuffer(pool, buffer Handle) error
	BeginCommandBuffer(buffer Handle, usage CommandBufferUsage) error
	EndCommandBuffer(buffer Handle) error

	CreateFence() (Handle, error)
	DestroyFence(fence Handle) error
	// WaitForFence reports false with a nil error when timeout elapses
	// before the fence signals.
	WaitForFence(fence Handle, timeout time.Duration) (bool, error)
	FenceSignaled(fence Handle) (bool, error)

	Submit(queue, buffer, fence Handle) error
	WaitIdle() error
	Destroy() error
}
