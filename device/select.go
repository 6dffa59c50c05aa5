package device

import "github.com/cockroachdb/errors"

// RateSuitability scores a physical device for use with the given device
// extensions. Zero means the device cannot be used.
func RateSuitability(physical PhysicalDeviceInfo, extensions ...string) int {
	families, err := ResolveFamilies(physical.QueueFamilies)
	if err != nil {
		return 0
	}

	for _, extension := range extensions {
		if !physical.SupportsExtension(extension) {
			return 0
		}
	}

	score := 1
	if families.Present >= 0 {
		score += 4
		if families.Present == families.Graphics {
			score++
		}
	}
	if families.Compute >= 0 && families.Compute != families.Graphics {
		score += 2
	}
	if families.Transfer != families.Graphics {
		score += 2
	}
	return score
}

// SelectPhysicalDevice returns the highest rated candidate. Ties go to the
// earlier candidate, which keeps the driver's enumeration order.
func SelectPhysicalDevice(candidates []PhysicalDeviceInfo, extensions ...string) (PhysicalDeviceInfo, error) {
	bestScore := 0
	var best PhysicalDeviceInfo

	for _, candidate := range candidates {
		score := RateSuitability(candidate, extensions...)
		if score > bestScore {
			bestScore = score
			best = candidate
		}
	}

	if bestScore == 0 {
		return PhysicalDeviceInfo{}, errors.Wrapf(ErrNoSuitableDevice, "%d candidates, extensions %v", len(candidates), extensions)
	}
	return best, nil
}
