package vkbackend

import (
	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
)

// ProbeWindow opens a hidden Vulkan-capable window. Passing it as
// InstanceOptions.Window lets PhysicalDevices report which queue families can
// present without showing anything on screen. Destroy the window after the
// instance.
func ProbeWindow(title string) (*sdl.Window, error) {
	window, err := sdl.CreateWindow(title, sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED, 64, 64, sdl.WINDOW_HIDDEN|sdl.WINDOW_VULKAN)
	if err != nil {
		return nil, errors.Wrap(err, "create probe window")
	}
	return window, nil
}
