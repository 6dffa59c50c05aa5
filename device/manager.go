package device

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// Manager owns a logical device, one queue per capability class and one
// command pool per queue family in use.
//
// Create and Destroy must not run concurrently with any other method.
// WithCommandBuffer is safe for concurrent use only when the Manager was
// built with WithSerializedSubmission; otherwise callers serialize access
// per queue family themselves.
type Manager struct {
	driver Driver
	opts   options
	logger *slog.Logger

	state    State
	physical PhysicalDeviceInfo
	device   LogicalDevice
	families FamilySet
	queues   QueueSet
	pools    CommandPoolSet

	created []CommandPool
	locks   map[int]*optionalMutex

	lost atomic.Bool

	pendingMu sync.Mutex
	pending   []parked
}

func New(driver Driver, opts ...Option) *Manager {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &Manager{
		driver: driver,
		opts:   o,
		logger: o.logger,
	}
}

// Create builds the logical device on physical with the given device
// extensions enabled. On failure the Manager stays Uninitialized and Destroy
// releases whatever was acquired; Create refuses to run again until then.
func (m *Manager) Create(physical PhysicalDeviceInfo, extensions ...string) error {
	if m.state == Ready || m.device != nil {
		return errors.Wrapf(ErrAlreadyInitialized, "create device on %s", physical)
	}
	if m.driver == nil {
		return errors.Mark(errors.New("create device: no driver"), ErrDeviceCreation)
	}

	families, err := ResolveFamilies(physical.QueueFamilies)
	if err != nil {
		return errors.Wrapf(err, "create device on %s", physical)
	}

	enabled, err := resolveExtensions(physical, extensions)
	if err != nil {
		return errors.Wrapf(err, "create device on %s", physical)
	}

	distinctFamilies := families.Distinct()
	requests := make([]QueueRequest, 0, len(distinctFamilies))
	for _, family := range distinctFamilies {
		requests = append(requests, QueueRequest{
			Family:     family,
			Priorities: []float32{m.opts.queuePriority},
		})
	}

	logical, err := m.driver.CreateDevice(DeviceCreateInfo{
		Physical:   physical,
		Queues:     requests,
		Extensions: enabled,
	})
	if err != nil {
		return mark(err, "create device on "+physical.String(), ErrDeviceCreation)
	}
	m.device = logical
	m.physical = physical
	m.families = families

	queues := make(map[int]Queue, len(distinctFamilies))
	for _, family := range distinctFamilies {
		handle, err := logical.Queue(family, 0)
		if err != nil {
			return mark(err, "get queue", ErrDeviceCreation)
		}
		queues[family] = Queue{Family: family, Handle: handle}
	}

	m.locks = make(map[int]*optionalMutex)
	pools := make(map[int]CommandPool)
	for _, family := range families.CommandFamilies() {
		handle, err := logical.CreateCommandPool(family, CommandPoolTransient|CommandPoolResetCommandBuffer)
		if err != nil {
			return mark(err, "create command pool", ErrCommandPoolCreation)
		}
		pool := CommandPool{Family: family, Handle: handle}
		pools[family] = pool
		m.created = append(m.created, pool)
		m.locks[family] = &optionalMutex{enabled: m.opts.serialize}
	}

	m.queues = QueueSet{
		Compute:  queues[families.Compute],
		Graphics: queues[families.Graphics],
		Present:  queues[families.Present],
		Transfer: queues[families.Transfer],
	}
	m.pools = CommandPoolSet{
		Compute:  pools[families.Compute],
		Graphics: pools[families.Graphics],
		Transfer: pools[families.Transfer],
	}
	m.state = Ready

	m.logger.Info("created logical device",
		"physical", physical.String(),
		"families", families.String(),
		"queues", len(distinctFamilies),
		"pools", len(m.created),
		"extensions", enabled,
	)
	return nil
}

func resolveExtensions(physical PhysicalDeviceInfo, requested []string) ([]string, error) {
	var enabled []string
	seen := make(map[string]struct{}, len(requested))
	for _, name := range requested {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		if !physical.SupportsExtension(name) {
			return nil, errors.Mark(errors.Newf("extension %s not supported", name), ErrDeviceCreation)
		}
		enabled = append(enabled, name)
	}
	return enabled, nil
}

// Destroy releases the command pools and then the logical device. It is safe
// to call on a Manager that was never created, that failed to create, or that
// was already destroyed. Native release errors are logged, never returned.
func (m *Manager) Destroy() {
	if m.device == nil {
		return
	}

	m.releaseAllParked()

	for _, pool := range m.created {
		if err := m.device.DestroyCommandPool(pool.Handle); err != nil {
			m.logger.Warn("failed to destroy command pool", "family", pool.Family, "error", err)
		}
	}

	if err := m.device.Destroy(); err != nil {
		m.logger.Warn("failed to destroy logical device", "physical", m.physical.String(), "error", err)
	}
	m.logger.Info("destroyed logical device", "physical", m.physical.String())

	m.state = Uninitialized
	m.device = nil
	m.physical = PhysicalDeviceInfo{}
	m.families = FamilySet{}
	m.queues = QueueSet{}
	m.pools = CommandPoolSet{}
	m.created = nil
	m.locks = nil
	m.lost.Store(false)
}

func (m *Manager) State() State { return m.state }

// Lost reports whether the device was lost during a submission. A lost
// Manager rejects further work; only Destroy is meaningful.
func (m *Manager) Lost() bool { return m.lost.Load() }

func (m *Manager) Device() LogicalDevice { return m.device }

func (m *Manager) PhysicalDevice() PhysicalDeviceInfo { return m.physical }

func (m *Manager) Queues() QueueSet { return m.queues }

func (m *Manager) CommandPools() CommandPoolSet { return m.pools }

func (m *Manager) Families() FamilySet { return m.families }
