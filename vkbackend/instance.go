package vkbackend

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v3/khr_portability_subset"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2/v3"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/devicemanager/device"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

type InstanceOptions struct {
	ApplicationName string
	// Validation enables the Khronos validation layer and routes its
	// messages into Logger.
	Validation bool
	// Window, when set, contributes its required instance extensions and
	// gets a surface used to report present support per queue family.
	Window *sdl.Window
	Logger *slog.Logger
}

// Instance is a Vulkan instance that also serves as the device.Driver for
// the physical devices it enumerates.
type Instance struct {
	logger *slog.Logger
	driver core1_0.CoreInstanceDriver

	debugDriver    ext_debug_utils.ExtensionDriver
	debugMessenger ext_debug_utils.DebugUtilsMessenger

	surfaceDriver khr_surface.ExtensionDriver
	surface       khr_surface.Surface

	mu       sync.Mutex
	physical map[device.Handle]core1_0.PhysicalDevice
}

func CreateInstance(global core1_0.GlobalDriver, o InstanceOptions) (*Instance, error) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}

	info := core1_0.InstanceCreateInfo{
		ApplicationName:    o.ApplicationName,
		ApplicationVersion: common.CreateVersion(1, 0, 0),
		EngineName:         "devicemanager",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_2,
	}

	available, _, err := global.AvailableExtensions()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate instance extensions")
	}

	if o.Window != nil {
		for _, ext := range o.Window.VulkanGetInstanceExtensions() {
			if _, ok := available[ext]; !ok {
				return nil, errors.Newf("window requires missing instance extension %s", ext)
			}
			info.EnabledExtensionNames = append(info.EnabledExtensionNames, ext)
		}
	}

	if _, ok := available[khr_portability_enumeration.ExtensionName]; ok {
		info.EnabledExtensionNames = append(info.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		info.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	i := &Instance{
		logger:   logger,
		physical: make(map[device.Handle]core1_0.PhysicalDevice),
	}

	if o.Validation {
		layers, _, err := global.AvailableLayers()
		if err != nil {
			return nil, errors.Wrap(err, "enumerate instance layers")
		}
		if _, ok := layers[validationLayer]; !ok {
			return nil, errors.Newf("validation layer %s not available, install the Vulkan SDK", validationLayer)
		}
		info.EnabledLayerNames = append(info.EnabledLayerNames, validationLayer)
		info.EnabledExtensionNames = append(info.EnabledExtensionNames, ext_debug_utils.ExtensionName)
		info.Next = i.debugMessengerOptions()
	}

	i.driver, _, err = global.CreateInstance(nil, info)
	if err != nil {
		return nil, errors.Wrap(err, "create instance")
	}

	if o.Validation {
		i.debugDriver = ext_debug_utils.CreateExtensionDriverFromCoreDriver(i.driver)
		i.debugMessenger, _, err = i.debugDriver.CreateDebugUtilsMessenger(nil, i.debugMessengerOptions())
		if err != nil {
			i.Destroy()
			return nil, errors.Wrap(err, "create debug messenger")
		}
	}

	if o.Window != nil {
		i.surfaceDriver = khr_surface.CreateExtensionDriverFromCoreDriver(i.driver)
		i.surface, err = vkng_sdl2.CreateSurface(i.driver.Instance(), i.surfaceDriver, o.Window)
		if err != nil {
			i.Destroy()
			return nil, errors.Wrap(err, "create surface")
		}
	}

	return i, nil
}

func (i *Instance) debugMessengerOptions() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    i.logDebug,
	}
}

func (i *Instance) logDebug(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	level := slog.LevelWarn
	if severity&ext_debug_utils.SeverityError != 0 {
		level = slog.LevelError
	}
	i.logger.Log(context.Background(), level, data.Message, "type", msgType.String(), "severity", severity.String())
	return false
}

func (i *Instance) register(physical core1_0.PhysicalDevice) device.Handle {
	i.mu.Lock()
	defer i.mu.Unlock()

	for h, known := range i.physical {
		if known.Handle() == physical.Handle() {
			return h
		}
	}
	h := device.Handle(len(i.physical) + 1)
	i.physical[h] = physical
	return h
}

// PhysicalDevices describes every physical device of the instance. When the
// instance was created with a window, families able to present to its
// surface carry device.QueuePresent.
func (i *Instance) PhysicalDevices() ([]device.PhysicalDeviceInfo, error) {
	physicalDevices, _, err := i.driver.EnumeratePhysicalDevices()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate physical devices")
	}

	infos := make([]device.PhysicalDeviceInfo, 0, len(physicalDevices))
	for _, physical := range physicalDevices {
		info, err := i.describe(physical)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (i *Instance) describe(physical core1_0.PhysicalDevice) (device.PhysicalDeviceInfo, error) {
	info := device.PhysicalDeviceInfo{
		Handle:     i.register(physical),
		Extensions: make(map[string]struct{}),
	}

	properties, err := i.driver.GetPhysicalDeviceProperties(physical)
	if err != nil {
		return info, errors.Wrap(err, "get physical device properties")
	}
	info.Name = properties.DeviceName

	extensions, _, err := i.driver.EnumerateDeviceExtensionProperties(physical)
	if err != nil {
		return info, errors.Wrapf(err, "enumerate extensions of %s", info.Name)
	}
	for name := range extensions {
		info.Extensions[name] = struct{}{}
	}

	for index, family := range i.driver.GetPhysicalDeviceQueueFamilyProperties(physical) {
		var flags device.QueueFlags
		if family.QueueFlags&core1_0.QueueGraphics != 0 {
			flags |= device.QueueGraphics
		}
		if family.QueueFlags&core1_0.QueueCompute != 0 {
			flags |= device.QueueCompute
		}
		if family.QueueFlags&core1_0.QueueTransfer != 0 {
			flags |= device.QueueTransfer
		}

		if i.surface.Initialized() {
			supported, _, err := i.surfaceDriver.GetPhysicalDeviceSurfaceSupport(i.surface, physical, index)
			if err != nil {
				return info, errors.Wrapf(err, "query present support of %s family %d", info.Name, index)
			}
			if supported {
				flags |= device.QueuePresent
			}
		}

		info.QueueFamilies = append(info.QueueFamilies, device.QueueFamily{
			Index:      index,
			Flags:      flags,
			QueueCount: family.QueueCount,
		})
	}

	return info, nil
}

// CreateDevice implements device.Driver. The portability subset extension is
// enabled automatically where the physical device exposes it.
func (i *Instance) CreateDevice(info device.DeviceCreateInfo) (device.LogicalDevice, error) {
	i.mu.Lock()
	physical, ok := i.physical[info.Physical.Handle]
	i.mu.Unlock()
	if !ok {
		return nil, errors.Newf("physical device %s was not enumerated by this instance", info.Physical)
	}

	var queues []core1_0.DeviceQueueCreateInfo
	for _, request := range info.Queues {
		queues = append(queues, core1_0.DeviceQueueCreateInfo{
			QueueFamilyIndex: request.Family,
			QueuePriorities:  request.Priorities,
		})
	}

	extensionNames := append([]string(nil), info.Extensions...)
	if info.Physical.SupportsExtension(khr_portability_subset.ExtensionName) {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	driver, res, err := i.driver.CreateDevice(physical, nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos:      queues,
		EnabledFeatures:       &core1_0.PhysicalDeviceFeatures{},
		EnabledExtensionNames: extensionNames,
	})
	if err := check(res, err, "create device"); err != nil {
		return nil, err
	}

	return newDevice(driver, i.logger), nil
}

// Destroy releases the surface, the debug messenger and the instance.
func (i *Instance) Destroy() {
	if i.surface.Initialized() {
		i.surfaceDriver.DestroySurface(i.surface, nil)
		i.surface = khr_surface.Surface{}
	}

	if i.debugMessenger.Initialized() {
		i.debugDriver.DestroyDebugUtilsMessenger(i.debugMessenger, nil)
		i.debugMessenger = ext_debug_utils.DebugUtilsMessenger{}
	}

	if i.driver != nil {
		i.driver.DestroyInstance(nil)
		i.driver = nil
	}
}
