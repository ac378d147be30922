package device

import (
	"time"

	"github.com/rascsi-go/rascsi/internal/scsi"
)

// HostServices is the vendor-specific "host services" device: it exposes a
// date/time mode page and decodes START/STOP UNIT into a deferred shutdown
// request the controller acts on at the next BusFree entry.
type HostServices struct {
	Base

	now func() time.Time
}

const hostServicesModePage = 0x20

func NewHostServices(lister LunLister) *HostServices {
	h := &HostServices{
		Base: NewBase(TypeHostServices, Capabilities{}, lister, nil),
		now:  time.Now,
	}
	_ = h.Base.SetIdentity(Identity{Vendor: "RaSCSI", Product: "Host Services", Revision: "0010"})
	h.State().Ready = true
	return h
}

func (h *HostServices) datePage() []byte {
	t := h.now().Local()
	buf := make([]byte, 10)
	buf[0] = hostServicesModePage
	buf[1] = 8
	buf[2] = 1 // version major
	buf[3] = 0 // version minor
	buf[4] = byte(t.Year() - 2000)
	buf[5] = byte(t.Month())
	buf[6] = byte(t.Day())
	buf[7] = byte(t.Hour())
	buf[8] = byte(t.Minute())
	buf[9] = byte(t.Second())
	return buf
}

func (h *HostServices) modeSense(ex *Exchange) error {
	page := ex.CDB[2] & 0x3f
	var body []byte
	if page == hostServicesModePage || page == 0x3f {
		body = h.datePage()
	}
	hdr := make([]byte, 4)
	hdr[0] = byte(len(body) + 3)
	buf := append(hdr, body...)
	ex.Buffer = buf
	ex.Length = len(buf)
	ex.Direction = DirIn
	ex.Blocks = 1
	return nil
}

// startStopUnit decodes {start, load} per spec.md §4.3 and schedules the
// corresponding shutdown action on the Exchange for the controller to act
// on; it never executes the shutdown inline.
func (h *HostServices) startStopUnit(ex *Exchange) error {
	start := ex.CDB[4]&0x01 != 0
	load := ex.CDB[4]&0x02 != 0

	var mode ShutdownMode
	switch {
	case !start && !load:
		mode = ShutdownStopProcess
	case !start && load:
		mode = ShutdownHostShutdown
	case start && load:
		mode = ShutdownHostReboot
	default: // start && !load
		return scsi.IllegalRequest()
	}
	ex.Shutdown = &mode
	return nil
}

func (h *HostServices) Dispatch(ex *Exchange, opcode byte) error {
	switch opcode {
	case scsi.ModeSense, scsi.ModeSense10:
		return h.modeSense(ex)
	case scsi.StartStop:
		return h.startStopUnit(ex)
	default:
		return h.Base.DispatchPrimary(ex, opcode)
	}
}
