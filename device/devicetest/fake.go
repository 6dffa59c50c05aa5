// Package devicetest provides an in-memory device.Driver that counts every
// native object it hands out, so tests can assert that a device.Manager
// releases everything it acquires.
package devicetest

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/devicemanager/device"
)

// ErrLost is what a fake device returns once LoseDevice has been called.
var ErrLost = errors.Mark(errors.New("VK_ERROR_DEVICE_LOST"), device.ErrDeviceLost)

type Op string

const (
	OpCreateDevice  Op = "CreateDevice"
	OpQueue         Op = "Queue"
	OpCreatePool    Op = "CreateCommandPool"
	OpDestroyPool   Op = "DestroyCommandPool"
	OpAllocate      Op = "AllocateCommandBuffer"
	OpFree          Op = "FreeCommandBuffer"
	OpBegin         Op = "BeginCommandBuffer"
	OpEnd           Op = "EndCommandBuffer"
	OpCreateFence   Op = "CreateFence"
	OpDestroyFence  Op = "DestroyFence"
	OpWait          Op = "WaitForFence"
	OpFenceStatus   Op = "FenceSignaled"
	OpSubmit        Op = "Submit"
	OpWaitIdle      Op = "WaitIdle"
	OpDestroyDevice Op = "Destroy"
)

type failure struct {
	err  error
	call int
}

// failures injects errors into numbered calls of an operation.
type failures struct {
	calls map[Op]int
	fail  map[Op]failure
}

func (f *failures) check(op Op) error {
	if f.calls == nil {
		f.calls = make(map[Op]int)
	}
	f.calls[op]++

	fl, ok := f.fail[op]
	if !ok {
		return nil
	}
	if fl.call == 0 || fl.call == f.calls[op] {
		return fl.err
	}
	return nil
}

func (f *failures) set(op Op, call int, err error) {
	if f.fail == nil {
		f.fail = make(map[Op]failure)
	}
	f.fail[op] = failure{err: err, call: call}
}

// Driver records every CreateDevice request and returns fake devices.
type Driver struct {
	mu       sync.Mutex
	failures failures

	// Configure, when set, runs on every new Device before it is returned.
	Configure func(*Device)

	Requests []device.DeviceCreateInfo
	Devices  []*Device
}

// FailOn makes every call to op fail with err.
func (d *Driver) FailOn(op Op, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures.set(op, 0, err)
}

func (d *Driver) CreateDevice(info device.DeviceCreateInfo) (device.LogicalDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Requests = append(d.Requests, info)
	if err := d.failures.check(OpCreateDevice); err != nil {
		return nil, err
	}

	dev := newDevice(info)
	if d.Configure != nil {
		d.Configure(dev)
	}
	d.Devices = append(d.Devices, dev)
	return dev, nil
}

// Last returns the most recently created device, or nil.
func (d *Driver) Last() *Device {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.Devices) == 0 {
		return nil
	}
	return d.Devices[len(d.Devices)-1]
}

// Live counts devices that were created and not yet destroyed.
func (d *Driver) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	live := 0
	for _, dev := range d.Devices {
		if !dev.Destroyed() {
			live++
		}
	}
	return live
}

// Counts tallies successful native calls on one device.
type Counts struct {
	QueuesFetched    int
	PoolsCreated     int
	PoolsDestroyed   int
	BuffersAllocated int
	BuffersFreed     int
	FencesCreated    int
	FencesDestroyed  int
	Submits          int
	Waits            int
	WaitIdles        int
	Destroys         int
}

type buffer struct {
	pool      device.Handle
	level     device.CommandBufferLevel
	recording bool
	ended     bool
	fence     device.Handle
}

type fence struct {
	submitted bool
	signaled  bool
	waitsLeft int
}

// Device is a fake logical device. All methods are safe for concurrent use.
type Device struct {
	mu       sync.Mutex
	info     device.DeviceCreateInfo
	next     device.Handle
	failures failures

	// PendingWaits is how many WaitForFence calls report "not yet" before a
	// submitted fence signals. Negative values never signal on their own.
	PendingWaits int
	// BeforeWait runs, without the device lock held, before every fence wait.
	BeforeWait func(fence device.Handle)
	// OnSubmit runs, without the device lock held, after a successful submit.
	OnSubmit func(queue, buffer device.Handle)

	counts    Counts
	destroyed bool
	lost      bool
	queues    map[int]device.Handle
	pools     map[device.Handle]int
	buffers   map[device.Handle]*buffer
	fences    map[device.Handle]*fence
	submitted []device.Handle
	misuse    []string
	active    map[int]int
	maxActive map[int]int
}

func newDevice(info device.DeviceCreateInfo) *Device {
	return &Device{
		info:      info,
		queues:    make(map[int]device.Handle),
		pools:     make(map[device.Handle]int),
		buffers:   make(map[device.Handle]*buffer),
		fences:    make(map[device.Handle]*fence),
		active:    make(map[int]int),
		maxActive: make(map[int]int),
	}
}

func (d *Device) handle() device.Handle {
	d.next++
	return d.next
}

func (d *Device) misused(format string, args ...any) {
	d.misuse = append(d.misuse, fmt.Sprintf(format, args...))
}

// FailOn makes every call to op fail with err.
func (d *Device) FailOn(op Op, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures.set(op, 0, err)
}

// FailOnCall makes only the n-th call (1-based) to op fail with err.
func (d *Device) FailOnCall(op Op, n int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures.set(op, n, err)
}

// LoseDevice makes every later submission, wait and status query fail with
// ErrLost.
func (d *Device) LoseDevice() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lost = true
}

// SignalAll signals every submitted fence.
func (d *Device) SignalAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.signalAll()
}

func (d *Device) signalAll() {
	for _, f := range d.fences {
		if f.submitted {
			f.signaled = true
		}
	}
}

func (d *Device) Info() device.DeviceCreateInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

func (d *Device) Counts() Counts {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts
}

func (d *Device) Destroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

// Misuse lists calls that a real driver would reject or that would be
// undefined behaviour: double frees, freeing pending work, destroying a
// device with live children.
func (d *Device) Misuse() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.misuse...)
}

func (d *Device) LivePools() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pools)
}

func (d *Device) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers)
}

func (d *Device) LiveFences() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.fences)
}

// Recording reports whether buffer is allocated, begun and not yet ended.
func (d *Device) Recording(handle device.Handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.buffers[handle]
	return ok && b.recording
}

// Submitted returns the buffers submitted so far, in order.
func (d *Device) Submitted() []device.Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]device.Handle(nil), d.submitted...)
}

// QueueFamilies returns the families whose queue was fetched, sorted.
func (d *Device) QueueFamilies() []int {
	d.mu.Lock()
	defer d.mu.Unlock()

	var families []int
	for family := range d.queues {
		families = append(families, family)
	}
	sort.Ints(families)
	return families
}

// PoolFamilies returns the family of every live pool, sorted.
func (d *Device) PoolFamilies() []int {
	d.mu.Lock()
	defer d.mu.Unlock()

	var families []int
	for _, family := range d.pools {
		families = append(families, family)
	}
	sort.Ints(families)
	return families
}

// MaxConcurrent reports the highest number of buffers from family's pool that
// were allocated at the same time.
func (d *Device) MaxConcurrent(family int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxActive[family]
}

func (d *Device) requested(family int) bool {
	for _, q := range d.info.Queues {
		if q.Family == family {
			return true
		}
	}
	return false
}

func (d *Device) Queue(family, index int) (device.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.failures.check(OpQueue); err != nil {
		return 0, err
	}
	if !d.requested(family) || index != 0 {
		return 0, errors.Newf("queue %d of family %d was not requested", index, family)
	}

	d.counts.QueuesFetched++
	if h, ok := d.queues[family]; ok {
		return h, nil
	}
	h := d.handle()
	d.queues[family] = h
	return h, nil
}

func (d *Device) CreateCommandPool(family int, flags device.CommandPoolFlags) (device.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.failures.check(OpCreatePool); err != nil {
		return 0, err
	}
	if !d.requested(family) {
		return 0, errors.Newf("family %d has no queue on this device", family)
	}

	h := d.handle()
	d.pools[h] = family
	d.counts.PoolsCreated++
	return h, nil
}

func (d *Device) DestroyCommandPool(pool device.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.pools[pool]; !ok {
		d.misused("destroy unknown pool %d", pool)
		return errors.Newf("unknown pool %d", pool)
	}
	// Destroying a pool frees every buffer still allocated from it.
	for h, b := range d.buffers {
		if b.pool == pool {
			delete(d.buffers, h)
		}
	}
	delete(d.pools, pool)
	d.counts.PoolsDestroyed++
	return d.failures.check(OpDestroyPool)
}

func (d *Device) AllocateCommandBuffer(pool device.Handle, level device.CommandBufferLevel) (device.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.failures.check(OpAllocate); err != nil {
		return 0, err
	}
	family, ok := d.pools[pool]
	if !ok {
		return 0, errors.Newf("unknown pool %d", pool)
	}

	h := d.handle()
	d.buffers[h] = &buffer{pool: pool, level: level}
	d.counts.BuffersAllocated++
	d.active[family]++
	if d.active[family] > d.maxActive[family] {
		d.maxActive[family] = d.active[family]
	}
	return h, nil
}

func (d *Device) FreeCommandBuffer(pool, handle device.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.buffers[handle]
	if !ok {
		d.misused("free unknown buffer %d", handle)
		return errors.Newf("unknown buffer %d", handle)
	}
	if b.pool != pool {
		d.misused("free buffer %d into pool %d, allocated from %d", handle, pool, b.pool)
	}
	if f, ok := d.fences[b.fence]; ok && f.submitted && !f.signaled && !d.lost {
		d.misused("free pending buffer %d", handle)
	}

	delete(d.buffers, handle)
	d.counts.BuffersFreed++
	d.active[d.pools[pool]]--
	return d.failures.check(OpFree)
}

func (d *Device) BeginCommandBuffer(handle device.Handle, usage device.CommandBufferUsage) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.failures.check(OpBegin); err != nil {
		return err
	}
	b, ok := d.buffers[handle]
	if !ok {
		return errors.Newf("unknown buffer %d", handle)
	}
	if usage&device.CommandBufferUsageOneTimeSubmit == 0 {
		d.misused("buffer %d begun without one-time-submit", handle)
	}
	b.recording = true
	return nil
}

func (d *Device) EndCommandBuffer(handle device.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.failures.check(OpEnd); err != nil {
		return err
	}
	b, ok := d.buffers[handle]
	if !ok || !b.recording {
		return errors.Newf("buffer %d is not recording", handle)
	}
	b.recording = false
	b.ended = true
	return nil
}

func (d *Device) CreateFence() (device.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.failures.check(OpCreateFence); err != nil {
		return 0, err
	}
	h := d.handle()
	d.fences[h] = &fence{}
	d.counts.FencesCreated++
	return h, nil
}

func (d *Device) DestroyFence(handle device.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, ok := d.fences[handle]
	if !ok {
		d.misused("destroy unknown fence %d", handle)
		return errors.Newf("unknown fence %d", handle)
	}
	if f.submitted && !f.signaled && !d.lost {
		d.misused("destroy pending fence %d", handle)
	}
	delete(d.fences, handle)
	d.counts.FencesDestroyed++
	return d.failures.check(OpDestroyFence)
}

func (d *Device) Submit(queue, handle, fenceHandle device.Handle) error {
	d.mu.Lock()
	if d.lost {
		d.mu.Unlock()
		return ErrLost
	}
	if err := d.failures.check(OpSubmit); err != nil {
		d.mu.Unlock()
		return err
	}

	b, ok := d.buffers[handle]
	if !ok || !b.ended {
		d.mu.Unlock()
		return errors.Newf("buffer %d is not executable", handle)
	}
	if b.level != device.CommandBufferLevelPrimary {
		d.misused("secondary buffer %d submitted to a queue", handle)
	}
	f, ok := d.fences[fenceHandle]
	if !ok {
		d.mu.Unlock()
		return errors.Newf("unknown fence %d", fenceHandle)
	}

	f.submitted = true
	f.waitsLeft = d.PendingWaits
	b.fence = fenceHandle
	d.submitted = append(d.submitted, handle)
	d.counts.Submits++
	hook := d.OnSubmit
	d.mu.Unlock()

	if hook != nil {
		hook(queue, handle)
	}
	return nil
}

func (d *Device) WaitForFence(handle device.Handle, timeout time.Duration) (bool, error) {
	d.mu.Lock()
	hook := d.BeforeWait
	d.mu.Unlock()
	if hook != nil {
		hook(handle)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lost {
		return false, ErrLost
	}
	if err := d.failures.check(OpWait); err != nil {
		return false, err
	}
	f, ok := d.fences[handle]
	if !ok {
		return false, errors.Newf("unknown fence %d", handle)
	}
	d.counts.Waits++

	if f.signaled {
		return true, nil
	}
	if !f.submitted || f.waitsLeft < 0 {
		return false, nil
	}
	if f.waitsLeft > 0 {
		f.waitsLeft--
		return false, nil
	}
	f.signaled = true
	return true, nil
}

func (d *Device) FenceSignaled(handle device.Handle) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lost {
		return false, ErrLost
	}
	if err := d.failures.check(OpFenceStatus); err != nil {
		return false, err
	}
	f, ok := d.fences[handle]
	if !ok {
		return false, errors.Newf("unknown fence %d", handle)
	}
	return f.signaled, nil
}

func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.counts.WaitIdles++
	if d.lost {
		return ErrLost
	}
	if err := d.failures.check(OpWaitIdle); err != nil {
		return err
	}
	d.signalAll()
	return nil
}

func (d *Device) Destroy() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.destroyed {
		d.misused("device destroyed twice")
		return errors.New("device already destroyed")
	}
	if len(d.pools) > 0 {
		d.misused("device destroyed with %d live pools", len(d.pools))
	}
	if len(d.fences) > 0 {
		d.misused("device destroyed with %d live fences", len(d.fences))
	}
	d.destroyed = true
	d.counts.Destroys++
	return d.failures.check(OpDestroyDevice)
}
