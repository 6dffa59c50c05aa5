package vkbackend

import (
	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// LoadVulkan loads the system Vulkan loader through SDL and returns a global
// driver bound to it. Call UnloadVulkan once every instance is destroyed.
func LoadVulkan() (core1_0.GlobalDriver, error) {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return nil, errors.Wrap(err, "initialize sdl")
	}

	if err := sdl.VulkanLoadLibrary(""); err != nil {
		sdl.Quit()
		return nil, errors.Wrap(err, "load vulkan library")
	}

	driver, err := core.CreateDriverFromProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
	if err != nil {
		UnloadVulkan()
		return nil, errors.Wrap(err, "create global driver")
	}
	return driver, nil
}

func UnloadVulkan() {
	sdl.VulkanUnloadLibrary()
	sdl.Quit()
}
