package device

import "github.com/rascsi-go/rascsi/internal/scsi"

// Spooler is the external collaborator that turns buffered print data into
// an actual print job (the real device shells out to `lp`; spec.md §1
// excludes that from the core). NullSpooler is the only implementation
// shipped here.
type Spooler interface {
	Print(data []byte) error
}

// NullSpooler discards print data; it exists so Printer is usable without a
// real `lp` collaborator wired in.
type NullSpooler struct{}

func (NullSpooler) Print([]byte) error { return nil }

// Printer is the SCSI printer device (print-data / synchronize-buffer
// commands).
type Printer struct {
	Base

	spooler Spooler
	buf     []byte
}

const (
	printerCmdPrint            = 0x0a // PRINT (shares opcode space with Write6)
	printerCmdSynchronizeBuffer = 0x10
)

func NewPrinter(spooler Spooler, lister LunLister) *Printer {
	if spooler == nil {
		spooler = NullSpooler{}
	}
	p := &Printer{
		Base:    NewBase(TypePrinter, Capabilities{SupportsParams: true}, lister, nil),
		spooler: spooler,
	}
	_ = p.Base.SetIdentity(Identity{Vendor: "RaSCSI", Product: "Printer", Revision: "0010"})
	return p
}

func (p *Printer) Init(params map[string]string) bool {
	p.Base.Init(params)
	p.State().Ready = true
	return true
}

func (p *Printer) print(ex *Exchange) error {
	_, length := lbaAndLen(ex.CDB)
	if length == 0 {
		length = uint32(ex.CDB[4])
	}
	ex.Buffer = make([]byte, length)
	ex.Length = int(length)
	ex.Direction = DirOut
	return nil
}

// XferOut is the DataOut commit hook: it appends the received PRINT data to
// the buffer, and SYNCHRONIZE BUFFER flushes that buffer to the spooler.
// Message-out bytes never reach it; those are handled by the controller's
// handleMsgOut.
func (p *Printer) XferOut(ex *Exchange) error {
	p.buf = append(p.buf, ex.Buffer...)
	return nil
}

func (p *Printer) synchronizeBuffer() error {
	if len(p.buf) == 0 {
		return nil
	}
	data := p.buf
	p.buf = nil
	if err := p.spooler.Print(data); err != nil {
		return scsi.NewError(scsi.SenseHardwareError, scsi.AscInternalTargetFailure)
	}
	return nil
}

func (p *Printer) Dispatch(ex *Exchange, opcode byte) error {
	switch opcode {
	case printerCmdPrint:
		return p.print(ex)
	case printerCmdSynchronizeBuffer:
		return p.synchronizeBuffer()
	default:
		return p.Base.DispatchPrimary(ex, opcode)
	}
}
