package vkbackend

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/devicemanager/device"
)

// check wraps a failed vkngwrapper call. VK_ERROR_DEVICE_LOST is marked so
// that a Manager can tell a lost device from an ordinary failure.
func check(res common.VkResult, err error, op string) error {
	if err == nil {
		return nil
	}

	err = errors.Wrapf(err, "%s (%v)", op, res)
	if res == core1_0.VKErrorDeviceLost {
		err = errors.Mark(err, device.ErrDeviceLost)
	}
	return err
}
