// Package registry owns the controller/device registry and the process-wide
// image-file reservation table (spec.md §3, §4.4).
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rascsi-go/rascsi/internal/bus"
	"github.com/rascsi-go/rascsi/internal/device"
	"github.com/sirupsen/logrus"
)

// Registry owns every controller keyed by target ID and the set of reserved
// image paths. It is the single piece of state shared between the SCSI bus
// thread and the control-plane thread. Every exported method acquires mu for
// its own duration; Lock/Unlock take the separate operation lock opMu, held
// for a whole top-level operation (one Controller.Process call or one
// control command) so those never interleave (spec.md §5).
type Registry struct {
	mu   sync.Mutex
	opMu sync.Mutex

	controllers map[int]*bus.Controller
	reservedIDs map[int]bool
	reservations map[string]Owner

	log logrus.FieldLogger
}

// Owner identifies the (ID, LUN) that reserved an image path.
type Owner struct {
	ID  int
	LUN int
}

func New(log logrus.FieldLogger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{
		controllers:  make(map[int]*bus.Controller),
		reservedIDs:  make(map[int]bool),
		reservations: make(map[string]Owner),
		log:          log,
	}
}

// Lock/Unlock take the registry's operation lock so the SCSI bus thread can
// hold it for the duration of a single controller.Process call, and the
// control service for one command, per spec.md §5. It is distinct from mu,
// so registry methods called while it is held still work.
func (r *Registry) Lock()   { r.opMu.Lock() }
func (r *Registry) Unlock() { r.opMu.Unlock() }

// LUNs implements device.LunLister across the whole registry, used by
// devices built before their owning controller exists (the executor wires
// devices to a registry, not directly to a controller, per spec.md §9's
// cyclic-ownership note).
func (r *Registry) LUNs(id int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[id]
	if !ok {
		return nil
	}
	return c.LUNs(id)
}

// ReservedIDs returns a copy of the reserved target-ID set.
func (r *Registry) ReservedIDs() map[int]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int]bool, len(r.reservedIDs))
	for k, v := range r.reservedIDs {
		out[k] = v
	}
	return out
}

// SetReservedIDs atomically replaces the reserved set; rejects any ID
// currently owned by a controller.
func (r *Registry) SetReservedIDs(ids []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := make(map[int]bool, len(ids))
	for _, id := range ids {
		if id < 0 || id > 7 {
			return fmt.Errorf("invalid target id %d", id)
		}
		if _, ok := r.controllers[id]; ok {
			return fmt.Errorf("target id %d is in use", id)
		}
		next[id] = true
	}
	r.reservedIDs = next
	return nil
}

func (r *Registry) IsReserved(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reservedIDs[id]
}

// HasLUN0 reports whether target id already has a LUN 0 attached, enforcing
// invariant I1 (a controller may not have a LUN > 0 without LUN 0).
func (r *Registry) HasLUN0(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[id]
	if !ok {
		return false
	}
	return c.HasLUN0()
}

// HasOtherLUNs reports whether id has any LUN attached other than excludeLUN,
// used by the control executor to enforce invariant I1 on detach (LUN 0
// cannot be removed while other LUNs on the same id remain attached).
func (r *Registry) HasOtherLUNs(id, excludeLUN int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[id]
	if !ok {
		return false
	}
	for _, lun := range c.LUNs(id) {
		if lun != excludeLUN {
			return true
		}
	}
	return false
}

// controllerFor returns the controller for a target ID, creating it if
// necessary — "attach_to_controller(id, device)" from spec.md §4.4.
func (r *Registry) controllerFor(id int) *bus.Controller {
	c, ok := r.controllers[id]
	if !ok {
		c = bus.NewController(id, r.log)
		r.controllers[id] = c
	}
	return c
}

// AttachDevice adds d at (id, lun), creating the controller on first use.
func (r *Registry) AttachDevice(id, lun int, d device.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reservedIDs[id] {
		return fmt.Errorf("target id %d is reserved", id)
	}
	c := r.controllerFor(id)
	if err := c.AddLUN(lun, d); err != nil {
		if len(c.LUNs(id)) == 0 {
			delete(r.controllers, id)
		}
		return err
	}
	return nil
}

// DeviceAt looks up the device at (id, lun).
func (r *Registry) DeviceAt(id, lun int) (device.Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[id]
	if !ok {
		return nil, false
	}
	return c.Device(lun)
}

// FindController returns the controller for a target ID.
func (r *Registry) FindController(id int) (*bus.Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[id]
	return c, ok
}

// IdentifyController decodes the single asserted target-ID bit in an
// initiator's selection byte and returns the matching controller.
func (r *Registry) IdentifyController(idDataByte byte) (*bus.Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := 0; id < 8; id++ {
		if idDataByte&(1<<uint(id)) != 0 {
			c, ok := r.controllers[id]
			return c, ok
		}
	}
	return nil, false
}

// DeleteController removes a controller and all of its LUNs' reservations.
func (r *Registry) DeleteController(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[id]
	if !ok {
		return
	}
	for _, lun := range c.LUNs(id) {
		r.releaseByOwner(Owner{ID: id, LUN: lun})
	}
	delete(r.controllers, id)
}

// DeleteAll clears the registry and every reservation.
func (r *Registry) DeleteAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controllers = make(map[int]*bus.Controller)
	r.reservations = make(map[string]Owner)
}

// RemoveLUN detaches a single device, dropping its controller if it was the
// last LUN, and releases its image reservation.
func (r *Registry) RemoveLUN(id, lun int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[id]
	if !ok {
		return
	}
	c.RemoveLUN(lun)
	r.releaseByOwner(Owner{ID: id, LUN: lun})
	if c.LUNCount() == 0 {
		delete(r.controllers, id)
	}
}

// AllDevices returns every (id, lun, device) triple in the registry, sorted
// by (id, lun).
type Entry struct {
	ID, LUN int
	Device  device.Device
}

func (r *Registry) AllDevices() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	ids := make([]int, 0, len(r.controllers))
	for id := range r.controllers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		c := r.controllers[id]
		for _, lun := range c.LUNs(id) {
			d, _ := c.Device(lun)
			out = append(out, Entry{ID: id, LUN: lun, Device: d})
		}
	}
	return out
}

// --- Image reservation table (spec.md §3 / I3) ---

// Reserve claims path for (id, lun). Fails if already owned by a different
// (id, lun).
func (r *Registry) Reserve(path string, id, lun int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reserveLocked(path, id, lun)
}

func (r *Registry) reserveLocked(path string, id, lun int) error {
	if owner, ok := r.reservations[path]; ok {
		if owner.ID != id || owner.LUN != lun {
			return fmt.Errorf("image %s is in use", path)
		}
		return nil
	}
	r.reservations[path] = Owner{ID: id, LUN: lun}
	return nil
}

// IsReservedPath reports whether path is reserved, and by whom.
func (r *Registry) IsReservedPath(path string) (Owner, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.reservations[path]
	return o, ok
}

func (r *Registry) Release(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reservations, path)
}

func (r *Registry) releaseByOwner(owner Owner) {
	for path, o := range r.reservations {
		if o == owner {
			delete(r.reservations, path)
		}
	}
}

// Snapshot captures the reservation table so a dry-run pass can be rolled
// back atomically on failure (spec.md §4.5's two-pass contract).
func (r *Registry) Snapshot() map[string]Owner {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Owner, len(r.reservations))
	for k, v := range r.reservations {
		out[k] = v
	}
	return out
}

func (r *Registry) Restore(snapshot map[string]Owner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reservations = snapshot
}
