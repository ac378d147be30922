package device

import (
	"github.com/rascsi-go/rascsi/internal/scsi"
)

// EthernetFrameBufferSize is the minimum transfer buffer capacity
// DaynaPort-style devices need, per spec.md §3 ("Ethernet-frame +
// overhead").
const EthernetFrameBufferSize = 1514 + 8

// DaynaPort is the Apple DaynaPORT SCSI/Link network adapter emulation.
type DaynaPort struct {
	Base

	mac [6]byte

	// pendingOut tags which DirOut command XferOut's bytes belong to, since
	// both WRITE PACKET and SET MAC ADDRESS stage a DataOut phase.
	pendingOut daynaOutOp

	Send func(frame []byte) error
	Recv func(maxLen int) ([]byte, error)
}

type daynaOutOp int

const (
	daynaOutNone daynaOutOp = iota
	daynaOutWritePacket
	daynaOutSetMac
)

const (
	daynaCmdRead         = 0x08 // vendor-specific "read packet" (overlaps Read6)
	daynaCmdWrite        = 0x0c // vendor-specific "write packet"
	daynaCmdSetIfaceMode = 0x0d
	daynaCmdSetMac       = 0x0e
	daynaCmdEnableIface  = 0x0f
)

func NewDaynaPort(lister LunLister) *DaynaPort {
	d := &DaynaPort{
		Base: NewBase(TypeDaynaPort, Capabilities{SupportsParams: true}, lister, nil),
	}
	_ = d.Base.SetIdentity(Identity{Vendor: "Dayna", Product: "SCSI/Link", Revision: "1.4a"})
	return d
}

func (d *DaynaPort) Init(params map[string]string) bool {
	d.Base.Init(params)
	d.State().Ready = true
	return true
}

// inquiry bumps additional-length by one and appends a vendor byte, per
// spec.md §4.3.
func (d *DaynaPort) inquiry(ex *Exchange) error {
	if err := d.Base.DispatchPrimary(ex, scsi.Inquiry); err != nil {
		return err
	}
	ex.Buffer[4]++
	ex.Buffer = append(ex.Buffer, 0x00)
	ex.Length = len(ex.Buffer)
	return nil
}

func (d *DaynaPort) readPacket(ex *Exchange) error {
	if d.Recv == nil {
		ex.Buffer = make([]byte, 4)
		ex.Length = 4
		ex.Direction = DirIn
		ex.Blocks = 1
		return nil
	}
	frame, err := d.Recv(EthernetFrameBufferSize)
	if err != nil {
		return scsi.NewError(scsi.SenseHardwareError, scsi.AscInternalTargetFailure)
	}
	hdr := make([]byte, 4)
	hdr[0] = byte(len(frame) >> 8)
	hdr[1] = byte(len(frame))
	ex.Buffer = append(hdr, frame...)
	ex.Length = len(ex.Buffer)
	ex.Direction = DirIn
	ex.Blocks = 1
	return nil
}

func (d *DaynaPort) writePacket(ex *Exchange) error {
	_, length := lbaAndLen(ex.CDB)
	if length == 0 {
		length = EthernetFrameBufferSize
	}
	ex.Buffer = make([]byte, length)
	ex.Length = int(length)
	ex.Direction = DirOut
	d.pendingOut = daynaOutWritePacket
	return nil
}

// XferOut commits whichever DirOut command staged the pending transfer:
// WRITE PACKET's payload goes to the transport, SET MAC ADDRESS's payload
// updates d.mac.
func (d *DaynaPort) XferOut(ex *Exchange) error {
	op := d.pendingOut
	d.pendingOut = daynaOutNone
	switch op {
	case daynaOutWritePacket:
		if d.Send == nil {
			return nil
		}
		if err := d.Send(ex.Buffer); err != nil {
			return scsi.NewError(scsi.SenseHardwareError, scsi.AscInternalTargetFailure)
		}
		return nil
	case daynaOutSetMac:
		copy(d.mac[:], ex.Buffer)
		return nil
	default:
		return nil
	}
}

func (d *DaynaPort) setMacAddress(ex *Exchange) error {
	ex.Buffer = make([]byte, 6)
	ex.Length = 6
	ex.Direction = DirOut
	d.pendingOut = daynaOutSetMac
	return nil
}

func (d *DaynaPort) Dispatch(ex *Exchange, opcode byte) error {
	switch opcode {
	case scsi.Inquiry:
		return d.inquiry(ex)
	case daynaCmdRead:
		return d.readPacket(ex)
	case daynaCmdWrite:
		return d.writePacket(ex)
	case daynaCmdSetMac:
		return d.setMacAddress(ex)
	case daynaCmdEnableIface, daynaCmdSetIfaceMode:
		return nil
	default:
		return d.Base.DispatchPrimary(ex, opcode)
	}
}
