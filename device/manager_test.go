package device_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkngwrapper/devicemanager/device"
	"github.com/vkngwrapper/devicemanager/device/devicetest"
)

const (
	all                = device.QueueGraphics | device.QueueCompute | device.QueueTransfer | device.QueuePresent
	swapchainExtension = "VK_KHR_swapchain"
)

func extensions(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

func combinedGPU() device.PhysicalDeviceInfo {
	return device.PhysicalDeviceInfo{
		Handle: 1,
		Name:   "combined",
		QueueFamilies: []device.QueueFamily{
			{Index: 0, Flags: all, QueueCount: 16},
		},
		Extensions: extensions(swapchainExtension),
	}
}

func splitGPU() device.PhysicalDeviceInfo {
	return device.PhysicalDeviceInfo{
		Handle: 2,
		Name:   "split",
		QueueFamilies: []device.QueueFamily{
			{Index: 0, Flags: all, QueueCount: 16},
			{Index: 1, Flags: device.QueueTransfer, QueueCount: 2},
		},
		Extensions: extensions(swapchainExtension),
	}
}

func newManager(t *testing.T, opts ...device.Option) (*device.Manager, *devicetest.Driver) {
	t.Helper()
	driver := &devicetest.Driver{}
	return device.New(driver, opts...), driver
}

func requireClean(t *testing.T, driver *devicetest.Driver) {
	t.Helper()
	for _, dev := range driver.Devices {
		assert.True(t, dev.Destroyed())
		assert.Zero(t, dev.LivePools())
		assert.Zero(t, dev.LiveBuffers())
		assert.Zero(t, dev.LiveFences())
		assert.Empty(t, dev.Misuse())

		counts := dev.Counts()
		assert.Equal(t, counts.PoolsCreated, counts.PoolsDestroyed)
		assert.Equal(t, counts.BuffersAllocated, counts.BuffersFreed)
		assert.Equal(t, counts.FencesCreated, counts.FencesDestroyed)
		assert.Equal(t, 1, counts.Destroys)
	}
	assert.Zero(t, driver.Live())
}

func TestCreateDestroyBalanced(t *testing.T) {
	for _, gpu := range []device.PhysicalDeviceInfo{combinedGPU(), splitGPU()} {
		t.Run(gpu.Name, func(t *testing.T) {
			m, driver := newManager(t)

			require.NoError(t, m.Create(gpu, swapchainExtension))
			require.Equal(t, device.Ready, m.State())
			require.NotNil(t, m.Device())
			require.Equal(t, gpu.Name, m.PhysicalDevice().Name)

			m.Destroy()
			require.Equal(t, device.Uninitialized, m.State())
			require.Nil(t, m.Device())
			require.Equal(t, device.QueueSet{}, m.Queues())
			require.Equal(t, device.CommandPoolSet{}, m.CommandPools())
			requireClean(t, driver)
		})
	}
}

func TestCreateTwiceKeepsFirstDevice(t *testing.T) {
	m, driver := newManager(t)
	require.NoError(t, m.Create(combinedGPU()))
	first := m.Device()
	queues := m.Queues()

	err := m.Create(splitGPU())
	require.True(t, errors.Is(err, device.ErrAlreadyInitialized), "%+v", err)

	require.Len(t, driver.Requests, 1)
	require.Equal(t, device.Ready, m.State())
	require.Same(t, first, m.Device())
	require.Equal(t, queues, m.Queues())
	require.Equal(t, "combined", m.PhysicalDevice().Name)

	m.Destroy()
	requireClean(t, driver)
}

func TestDestroyIsIdempotent(t *testing.T) {
	m, driver := newManager(t)
	require.NoError(t, m.Create(splitGPU()))

	for i := 0; i < 3; i++ {
		m.Destroy()
		require.Equal(t, device.Uninitialized, m.State())
	}
	requireClean(t, driver)
}

func TestDestroyNeverCreated(t *testing.T) {
	m, driver := newManager(t)
	m.Destroy()
	m.Destroy()

	require.Equal(t, device.Uninitialized, m.State())
	require.Empty(t, driver.Devices)
}

func TestCreateAfterDestroy(t *testing.T) {
	m, driver := newManager(t)
	require.NoError(t, m.Create(combinedGPU()))
	m.Destroy()
	require.NoError(t, m.Create(splitGPU()))
	require.Equal(t, "split", m.PhysicalDevice().Name)
	m.Destroy()

	require.Len(t, driver.Devices, 2)
	requireClean(t, driver)
}

func TestCombinedFamilySharesOneQueueAndPool(t *testing.T) {
	m, driver := newManager(t)
	require.NoError(t, m.Create(combinedGPU()))
	dev := driver.Last()

	require.Len(t, dev.Info().Queues, 1)
	require.Equal(t, []float32{1.0}, dev.Info().Queues[0].Priorities)
	require.Equal(t, 1, dev.Counts().QueuesFetched)
	require.Equal(t, 1, dev.Counts().PoolsCreated)

	queues := m.Queues()
	require.True(t, queues.Graphics.Valid())
	require.Equal(t, queues.Graphics, queues.Compute)
	require.Equal(t, queues.Graphics, queues.Transfer)
	require.Equal(t, queues.Graphics, queues.Present)

	pools := m.CommandPools()
	require.True(t, pools.Graphics.Valid())
	require.Equal(t, pools.Graphics, pools.Compute)
	require.Equal(t, pools.Graphics, pools.Transfer)

	m.Destroy()
	require.Equal(t, 1, dev.Counts().PoolsDestroyed)
	requireClean(t, driver)
}

func TestSplitFamiliesGetOwnQueuesAndPools(t *testing.T) {
	m, driver := newManager(t)
	require.NoError(t, m.Create(splitGPU()))
	dev := driver.Last()

	require.Equal(t, []int{0, 1}, dev.QueueFamilies())
	require.Equal(t, []int{0, 1}, dev.PoolFamilies())
	require.Equal(t, 2, dev.Counts().QueuesFetched)

	families := m.Families()
	require.Equal(t, device.FamilySet{Graphics: 0, Compute: 0, Transfer: 1, Present: 0}, families)

	queues := m.Queues()
	require.NotEqual(t, queues.Graphics, queues.Transfer)
	require.Equal(t, queues.Graphics, queues.Compute)
	require.Equal(t, queues.Graphics, queues.Present)
	require.Equal(t, 1, queues.Transfer.Family)

	pools := m.CommandPools()
	require.NotEqual(t, pools.Graphics, pools.Transfer)
	require.Equal(t, pools.Graphics, pools.Compute)

	m.Destroy()
	requireClean(t, driver)
}

func TestCreateRequiresGraphicsFamily(t *testing.T) {
	m, driver := newManager(t)
	gpu := device.PhysicalDeviceInfo{
		Name: "compute only",
		QueueFamilies: []device.QueueFamily{
			{Index: 0, Flags: device.QueueCompute | device.QueueTransfer, QueueCount: 4},
		},
	}

	err := m.Create(gpu)
	require.True(t, errors.Is(err, device.ErrDeviceCreation), "%+v", err)
	require.Empty(t, driver.Requests)
	require.Equal(t, device.Uninitialized, m.State())

	m.Destroy()
}

func TestCreateRejectsUnsupportedExtension(t *testing.T) {
	m, driver := newManager(t)

	err := m.Create(combinedGPU(), swapchainExtension, "VK_KHR_ray_query")
	require.True(t, errors.Is(err, device.ErrDeviceCreation), "%+v", err)
	require.Contains(t, err.Error(), "VK_KHR_ray_query")
	require.Empty(t, driver.Requests)
}

func TestCreateDeduplicatesExtensions(t *testing.T) {
	m, driver := newManager(t)

	require.NoError(t, m.Create(combinedGPU(), swapchainExtension, swapchainExtension))
	require.Equal(t, []string{swapchainExtension}, driver.Last().Info().Extensions)

	m.Destroy()
	requireClean(t, driver)
}

func TestCreateQueuePriority(t *testing.T) {
	m, driver := newManager(t, device.WithQueuePriority(0.5))

	require.NoError(t, m.Create(splitGPU()))
	for _, request := range driver.Last().Info().Queues {
		require.Equal(t, []float32{0.5}, request.Priorities)
	}

	m.Destroy()
}

func TestCreateDriverFailure(t *testing.T) {
	m, driver := newManager(t)
	cause := errors.New("VK_ERROR_OUT_OF_DEVICE_MEMORY")
	driver.FailOn(devicetest.OpCreateDevice, cause)

	err := m.Create(combinedGPU())
	require.True(t, errors.Is(err, device.ErrDeviceCreation), "%+v", err)
	require.True(t, errors.Is(err, cause), "%+v", err)
	require.Equal(t, device.Uninitialized, m.State())
	require.Nil(t, m.Device())

	m.Destroy()
	require.Empty(t, driver.Devices)
}

func TestCreatePoolFailureIsCleanedByDestroy(t *testing.T) {
	cause := errors.New("VK_ERROR_OUT_OF_HOST_MEMORY")
	first := true
	driver := &devicetest.Driver{
		Configure: func(dev *devicetest.Device) {
			if first {
				dev.FailOnCall(devicetest.OpCreatePool, 2, cause)
				first = false
			}
		},
	}
	m := device.New(driver)

	err := m.Create(splitGPU())
	require.True(t, errors.Is(err, device.ErrCommandPoolCreation), "%+v", err)
	require.True(t, errors.Is(err, cause), "%+v", err)
	require.Equal(t, device.Uninitialized, m.State())
	require.Equal(t, 1, driver.Last().LivePools())

	err = m.Create(splitGPU())
	require.True(t, errors.Is(err, device.ErrAlreadyInitialized), "%+v", err)

	err = m.WithCommandBuffer(context.Background(), func(device.CommandBuffer) error { return nil })
	require.True(t, errors.Is(err, device.ErrNotInitialized), "%+v", err)

	m.Destroy()
	requireClean(t, driver)

	require.NoError(t, m.Create(splitGPU()))
	m.Destroy()
	requireClean(t, driver)
}

func TestDestroySwallowsNativeErrors(t *testing.T) {
	driver := &devicetest.Driver{
		Configure: func(dev *devicetest.Device) {
			dev.FailOn(devicetest.OpDestroyPool, errors.New("pool"))
			dev.FailOn(devicetest.OpDestroyDevice, errors.New("device"))
		},
	}
	m := device.New(driver)
	require.NoError(t, m.Create(splitGPU()))

	require.NotPanics(t, m.Destroy)
	require.Equal(t, device.Uninitialized, m.State())
	require.True(t, driver.Last().Destroyed())
	require.Zero(t, driver.Last().LivePools())
}
