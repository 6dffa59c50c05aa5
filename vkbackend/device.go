package vkbackend

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/devicemanager/device"
)

// registry hands out device.Handle values for native objects.
type registry[T any] struct {
	mu      sync.Mutex
	next    device.Handle
	objects map[device.Handle]T
}

func (r *registry[T]) add(obj T) device.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.objects == nil {
		r.objects = make(map[device.Handle]T)
	}
	r.next++
	r.objects[r.next] = obj
	return r.next
}

func (r *registry[T]) get(h device.Handle) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	obj, ok := r.objects[h]
	if !ok {
		var zero T
		return zero, errors.Newf("unknown %T handle %d", zero, h)
	}
	return obj, nil
}

func (r *registry[T]) remove(h device.Handle) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	obj, ok := r.objects[h]
	if !ok {
		var zero T
		return zero, errors.Newf("unknown %T handle %d", zero, h)
	}
	delete(r.objects, h)
	return obj, nil
}

func (r *registry[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.objects)
}

// Device implements device.LogicalDevice over a vkngwrapper device driver.
type Device struct {
	driver core1_0.CoreDeviceDriver
	logger *slog.Logger

	queues  registry[core1_0.Queue]
	pools   registry[core1_0.CommandPool]
	buffers registry[core1_0.CommandBuffer]
	fences  registry[core1_0.Fence]
}

var _ device.LogicalDevice = (*Device)(nil)

func newDevice(driver core1_0.CoreDeviceDriver, logger *slog.Logger) *Device {
	return &Device{driver: driver, logger: logger}
}

// Commands recovers the vkngwrapper driver and command buffer behind cb so a
// recording callback can issue commands. ld must be the device returned by
// Manager.Device for a Manager driven by an Instance.
func Commands(ld device.LogicalDevice, cb device.CommandBuffer) (core1_0.CoreDeviceDriver, core1_0.CommandBuffer, error) {
	d, ok := ld.(*Device)
	if !ok {
		return nil, core1_0.CommandBuffer{}, errors.Newf("logical device %T is not a vulkan device", ld)
	}

	buffer, err := d.buffers.get(cb.Handle)
	if err != nil {
		return nil, core1_0.CommandBuffer{}, err
	}
	return d.driver, buffer, nil
}

func (d *Device) Queue(family, index int) (device.Handle, error) {
	return d.queues.add(d.driver.GetQueue(family, index)), nil
}

func (d *Device) CreateCommandPool(family int, flags device.CommandPoolFlags) (device.Handle, error) {
	var nativeFlags core1_0.CommandPoolCreateFlags
	if flags&device.CommandPoolTransient != 0 {
		nativeFlags |= core1_0.CommandPoolCreateTransient
	}
	if flags&device.CommandPoolResetCommandBuffer != 0 {
		nativeFlags |= core1_0.CommandPoolCreateResetBuffer
	}

	pool, res, err := d.driver.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		QueueFamilyIndex: family,
		Flags:            nativeFlags,
	})
	if err := check(res, err, "create command pool"); err != nil {
		return 0, err
	}
	return d.pools.add(pool), nil
}

func (d *Device) DestroyCommandPool(pool device.Handle) error {
	native, err := d.pools.remove(pool)
	if err != nil {
		return err
	}
	d.driver.DestroyCommandPool(native, nil)
	return nil
}

func (d *Device) AllocateCommandBuffer(pool device.Handle, level device.CommandBufferLevel) (device.Handle, error) {
	native, err := d.pools.get(pool)
	if err != nil {
		return 0, err
	}

	nativeLevel := core1_0.CommandBufferLevelPrimary
	if level == device.CommandBufferLevelSecondary {
		nativeLevel = core1_0.CommandBufferLevelSecondary
	}

	buffers, res, err := d.driver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        native,
		Level:              nativeLevel,
		CommandBufferCount: 1,
	})
	if err := check(res, err, "allocate command buffer"); err != nil {
		return 0, err
	}
	return d.buffers.add(buffers[0]), nil
}

func (d *Device) FreeCommandBuffer(_, buffer device.Handle) error {
	native, err := d.buffers.remove(buffer)
	if err != nil {
		return err
	}
	d.driver.FreeCommandBuffers(native)
	return nil
}

func (d *Device) BeginCommandBuffer(buffer device.Handle, usage device.CommandBufferUsage) error {
	native, err := d.buffers.get(buffer)
	if err != nil {
		return err
	}

	var flags core1_0.CommandBufferUsageFlags
	if usage&device.CommandBufferUsageOneTimeSubmit != 0 {
		flags |= core1_0.CommandBufferUsageOneTimeSubmit
	}

	res, err := d.driver.BeginCommandBuffer(native, core1_0.CommandBufferBeginInfo{Flags: flags})
	return check(res, err, "begin command buffer")
}

func (d *Device) EndCommandBuffer(buffer device.Handle) error {
	native, err := d.buffers.get(buffer)
	if err != nil {
		return err
	}
	res, err := d.driver.EndCommandBuffer(native)
	return check(res, err, "end command buffer")
}

func (d *Device) CreateFence() (device.Handle, error) {
	fence, res, err := d.driver.CreateFence(nil, core1_0.FenceCreateInfo{})
	if err := check(res, err, "create fence"); err != nil {
		return 0, err
	}
	return d.fences.add(fence), nil
}

func (d *Device) DestroyFence(fence device.Handle) error {
	native, err := d.fences.remove(fence)
	if err != nil {
		return err
	}
	d.driver.DestroyFence(native, nil)
	return nil
}

func (d *Device) WaitForFence(fence device.Handle, timeout time.Duration) (bool, error) {
	native, err := d.fences.get(fence)
	if err != nil {
		return false, err
	}

	if timeout == device.NoTimeout {
		timeout = common.NoTimeout
	}
	res, err := d.driver.WaitForFences(true, timeout, native)
	if err := check(res, err, "wait for fence"); err != nil {
		return false, err
	}
	return res != core1_0.VKTimeout, nil
}

func (d *Device) FenceSignaled(fence device.Handle) (bool, error) {
	native, err := d.fences.get(fence)
	if err != nil {
		return false, err
	}

	res, err := d.driver.GetFenceStatus(native)
	if err := check(res, err, "get fence status"); err != nil {
		return false, err
	}
	return res == core1_0.VKSuccess, nil
}

func (d *Device) Submit(queue, buffer, fence device.Handle) error {
	nativeQueue, err := d.queues.get(queue)
	if err != nil {
		return err
	}
	nativeBuffer, err := d.buffers.get(buffer)
	if err != nil {
		return err
	}
	nativeFence, err := d.fences.get(fence)
	if err != nil {
		return err
	}

	res, err := d.driver.QueueSubmit(nativeQueue, &nativeFence, core1_0.SubmitInfo{
		CommandBuffers: []core1_0.CommandBuffer{nativeBuffer},
	})
	return check(res, err, "submit")
}

func (d *Device) WaitIdle() error {
	res, err := d.driver.DeviceWaitIdle()
	return check(res, err, "wait idle")
}

func (d *Device) Destroy() error {
	if n := d.buffers.len() + d.fences.len() + d.pools.len(); n > 0 {
		d.logger.Warn("destroying device with live objects", "objects", n)
	}
	d.driver.DestroyDevice(nil)
	return nil
}
