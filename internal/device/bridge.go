package device

import (
	"github.com/rascsi-go/rascsi/internal/scsi"
)

// Bridge is the Ethernet bridge device. Per spec.md §9's open question, the
// residual SASI/host-filesystem command surface from the original is left
// out: only MAC-address access and raw packet send/receive are implemented.
type Bridge struct {
	Base

	mac [6]byte

	// pendingOut tags which DirOut command XferOut's bytes belong to, since
	// both SET MAC ADDRESS and SEND PACKET stage a DataOut phase.
	pendingOut bridgeOutOp

	// Send/Recv are the external packet transport hooks; nil means no tap
	// device has been wired in. Init does not set them.
	Send func(frame []byte) error
	Recv func(maxLen int) ([]byte, error)
}

type bridgeOutOp int

const (
	bridgeOutNone bridgeOutOp = iota
	bridgeOutSetMac
	bridgeOutSendPacket
)

const (
	bridgeCmdGetMessageInfo = 0x28
	bridgeCmdGetMacAddress  = 0x29
	bridgeCmdSetMacAddress  = 0x2b
	bridgeCmdReceivePacket  = 0x2a
	bridgeCmdSendPacket     = 0x2c
)

func NewBridge(lister LunLister) *Bridge {
	b := &Bridge{
		Base: NewBase(TypeBridge, Capabilities{SupportsParams: true}, lister, nil),
	}
	_ = b.Base.SetIdentity(Identity{Vendor: "RaSCSI", Product: "Bridge", Revision: "0010"})
	return b
}

func (b *Bridge) Init(params map[string]string) bool {
	b.Base.Init(params)
	b.State().Ready = true
	return true
}

// inquiry appends the six bridge-specific TAP/filesystem enable bytes to
// the standard 36-byte INQUIRY payload, per spec.md §4.3.
func (b *Bridge) inquiry(ex *Exchange) error {
	if err := b.Base.DispatchPrimary(ex, scsi.Inquiry); err != nil {
		return err
	}
	tail := make([]byte, 6)
	tail[0] = 1 // TAP enabled
	tail[1] = 0 // host filesystem bridging disabled (out of scope)
	ex.Buffer = append(ex.Buffer, tail...)
	ex.Length = len(ex.Buffer)
	return nil
}

func (b *Bridge) getMacAddress(ex *Exchange) error {
	ex.Buffer = append([]byte(nil), b.mac[:]...)
	ex.Length = len(ex.Buffer)
	ex.Direction = DirIn
	ex.Blocks = 1
	return nil
}

func (b *Bridge) setMacAddress(ex *Exchange) error {
	ex.Buffer = make([]byte, 6)
	ex.Length = 6
	ex.Direction = DirOut
	b.pendingOut = bridgeOutSetMac
	return nil
}

// XferOut commits whichever DirOut command staged the pending transfer:
// SET MAC ADDRESS's payload updates b.mac, SEND PACKET's payload is handed
// to the transport.
func (b *Bridge) XferOut(ex *Exchange) error {
	op := b.pendingOut
	b.pendingOut = bridgeOutNone
	switch op {
	case bridgeOutSetMac:
		copy(b.mac[:], ex.Buffer)
		return nil
	case bridgeOutSendPacket:
		if b.Send == nil {
			return nil
		}
		if err := b.Send(ex.Buffer); err != nil {
			return scsi.NewError(scsi.SenseHardwareError, scsi.AscInternalTargetFailure)
		}
		return nil
	default:
		return nil
	}
}

func (b *Bridge) sendPacket(ex *Exchange) error {
	length := int(ex.CDB[3])<<8 | int(ex.CDB[4])
	ex.Buffer = make([]byte, length)
	ex.Length = length
	ex.Direction = DirOut
	b.pendingOut = bridgeOutSendPacket
	return nil
}

func (b *Bridge) receivePacket(ex *Exchange) error {
	maxLen := int(ex.CDB[3])<<8 | int(ex.CDB[4])
	if b.Recv == nil {
		ex.Buffer = make([]byte, 2)
		ex.Length = 2
		ex.Direction = DirIn
		ex.Blocks = 1
		return nil
	}
	frame, err := b.Recv(maxLen)
	if err != nil {
		return scsi.NewError(scsi.SenseHardwareError, scsi.AscInternalTargetFailure)
	}
	hdr := make([]byte, 2)
	hdr[0] = byte(len(frame) >> 8)
	hdr[1] = byte(len(frame))
	ex.Buffer = append(hdr, frame...)
	ex.Length = len(ex.Buffer)
	ex.Direction = DirIn
	ex.Blocks = 1
	return nil
}

func (b *Bridge) Dispatch(ex *Exchange, opcode byte) error {
	switch opcode {
	case scsi.Inquiry:
		return b.inquiry(ex)
	case bridgeCmdGetMacAddress:
		return b.getMacAddress(ex)
	case bridgeCmdSetMacAddress:
		return b.setMacAddress(ex)
	case bridgeCmdSendPacket:
		return b.sendPacket(ex)
	case bridgeCmdReceivePacket:
		return b.receivePacket(ex)
	default:
		return b.Base.DispatchPrimary(ex, opcode)
	}
}
