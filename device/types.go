package device

import (
	"fmt"
	"strings"
)

// Handle is an opaque reference to a native object issued by a Driver. The
// zero Handle never refers to a live object.
type Handle uint64

func (h Handle) Valid() bool { return h != 0 }

// QueueFlags describe the operations a queue family supports. QueuePresent is
// not a native queue bit; it records surface presentation support so the
// family table carries every capability class in one place.
type QueueFlags uint32

const (
	QueueGraphics QueueFlags = 1 << iota
	QueueCompute
	QueueTransfer
	QueuePresent
)

var queueFlagNames = []struct {
	flag QueueFlags
	name string
}{
	{QueueGraphics, "graphics"},
	{QueueCompute, "compute"},
	{QueueTransfer, "transfer"},
	{QueuePresent, "present"},
}

func (f QueueFlags) Has(other QueueFlags) bool {
	return f&other == other
}

func (f QueueFlags) String() string {
	if f == 0 {
		return "none"
	}

	var names []string
	rest := f
	for _, n := range queueFlagNames {
		if f&n.flag != 0 {
			names = append(names, n.name)
			rest &^= n.flag
		}
	}
	if rest != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(names, "|")
}

type CommandBufferLevel int

const (
	CommandBufferLevelPrimary CommandBufferLevel = iota
	CommandBufferLevelSecondary
)

func (l CommandBufferLevel) String() string {
	switch l {
	case CommandBufferLevelPrimary:
		return "primary"
	case CommandBufferLevelSecondary:
		return "secondary"
	default:
		return fmt.Sprintf("CommandBufferLevel(%d)", int(l))
	}
}

type CommandPoolFlags uint32

const (
	CommandPoolTransient CommandPoolFlags = 1 << iota
	CommandPoolResetCommandBuffer
)

type CommandBufferUsage uint32

const (
	CommandBufferUsageOneTimeSubmit CommandBufferUsage = 1 << iota
)

// QueueFamily is one row of a physical device's queue family table.
type QueueFamily struct {
	Index      int
	Flags      QueueFlags
	QueueCount int
}

// PhysicalDeviceInfo describes a physical device the caller has already
// selected. Handle is interpreted only by the Driver that produced it.
type PhysicalDeviceInfo struct {
	Handle        Handle
	Name          string
	QueueFamilies []QueueFamily
	Extensions    map[string]struct{}
}

func (p PhysicalDeviceInfo) SupportsExtension(name string) bool {
	_, ok := p.Extensions[name]
	return ok
}

func (p PhysicalDeviceInfo) String() string {
	if p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("physical device %d", uint64(p.Handle))
}

// Queue is a non-owning reference to a device queue.
type Queue struct {
	Family int
	Handle Handle
}

func (q Queue) Valid() bool { return q.Handle.Valid() }

// CommandPool is a command pool owned by the Manager.
type CommandPool struct {
	Family int
	Handle Handle
}

func (p CommandPool) Valid() bool { return p.Handle.Valid() }

// CommandBuffer is handed to a RecordFunc while it is in the recording state.
type CommandBuffer struct {
	Handle Handle
	Pool   CommandPool
	Level  CommandBufferLevel
	Queue  QueueFlags
}

type QueueSet struct {
	Compute  Queue
	Graphics Queue
	Present  Queue
	Transfer Queue
}

type CommandPoolSet struct {
	Compute  CommandPool
	Graphics CommandPool
	Transfer CommandPool
}

func (s CommandPoolSet) forQueue(flag QueueFlags) CommandPool {
	switch flag {
	case QueueCompute:
		return s.Compute
	case QueueGraphics:
		return s.Graphics
	case QueueTransfer:
		return s.Transfer
	}
	return CommandPool{}
}

func (s QueueSet) forQueue(flag QueueFlags) Queue {
	switch flag {
	case QueueCompute:
		return s.Compute
	case QueueGraphics:
		return s.Graphics
	case QueueTransfer:
		return s.Transfer
	case QueuePresent:
		return s.Present
	}
	return Queue{}
}

type State int

const (
	Uninitialized State = iota
	Ready
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
