package device

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// FamilySet maps each capability class to the queue family serving it. A
// family index of -1 means no family supports the class.
type FamilySet struct {
	Graphics int
	Compute  int
	Transfer int
	Present  int
}

func (s FamilySet) ForQueue(flag QueueFlags) int {
	switch flag {
	case QueueGraphics:
		return s.Graphics
	case QueueCompute:
		return s.Compute
	case QueueTransfer:
		return s.Transfer
	case QueuePresent:
		return s.Present
	}
	return -1
}

// Distinct returns every family in use, once, graphics first.
func (s FamilySet) Distinct() []int {
	return distinct(s.Graphics, s.Compute, s.Transfer, s.Present)
}

// CommandFamilies returns the distinct families that need a command pool.
// Present issues no commands of its own.
func (s FamilySet) CommandFamilies() []int {
	return distinct(s.Graphics, s.Compute, s.Transfer)
}

func (s FamilySet) String() string {
	return fmt.Sprintf("graphics=%d compute=%d transfer=%d present=%d", s.Graphics, s.Compute, s.Transfer, s.Present)
}

func distinct(families ...int) []int {
	var out []int
	for _, family := range families {
		if family < 0 {
			continue
		}
		seen := false
		for _, existing := range out {
			if existing == family {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, family)
		}
	}
	return out
}

// ResolveFamilies picks a family for each capability class. Dedicated compute
// and transfer families are preferred so that uploads can overlap graphics
// work; otherwise classes fall back onto the graphics family.
func ResolveFamilies(families []QueueFamily) (FamilySet, error) {
	set := FamilySet{Graphics: -1, Compute: -1, Transfer: -1, Present: -1}

	first := func(match func(QueueFlags) bool) int {
		for _, family := range families {
			if family.QueueCount == 0 {
				continue
			}
			if match(family.Flags) {
				return family.Index
			}
		}
		return -1
	}
	flagsOf := func(index int) QueueFlags {
		for _, family := range families {
			if family.Index == index {
				return family.Flags
			}
		}
		return 0
	}

	set.Graphics = first(func(f QueueFlags) bool { return f.Has(QueueGraphics) })
	if set.Graphics < 0 {
		return set, errors.Mark(errors.New("no queue family supports graphics"), ErrDeviceCreation)
	}
	graphicsFlags := flagsOf(set.Graphics)

	set.Compute = first(func(f QueueFlags) bool { return f.Has(QueueCompute) && !f.Has(QueueGraphics) })
	if set.Compute < 0 && graphicsFlags.Has(QueueCompute) {
		set.Compute = set.Graphics
	}
	if set.Compute < 0 {
		set.Compute = first(func(f QueueFlags) bool { return f.Has(QueueCompute) })
	}

	set.Transfer = first(func(f QueueFlags) bool {
		return f.Has(QueueTransfer) && f&(QueueGraphics|QueueCompute) == 0
	})
	if set.Transfer < 0 {
		set.Transfer = first(func(f QueueFlags) bool { return f.Has(QueueTransfer) && !f.Has(QueueGraphics) })
	}
	if set.Transfer < 0 {
		// Graphics families accept transfer commands whether or not they
		// advertise the bit.
		set.Transfer = set.Graphics
	}

	if graphicsFlags.Has(QueuePresent) {
		set.Present = set.Graphics
	} else {
		set.Present = first(func(f QueueFlags) bool { return f.Has(QueuePresent) })
	}

	return set, nil
}
