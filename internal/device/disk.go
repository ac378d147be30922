package device

import (
	"fmt"
	"os"

	"github.com/rascsi-go/rascsi/internal/scsi"
)

// Variant selects a vendor-identity preset applied on top of the generic
// disk defaults, mirroring the original's scsihd_nec/scsihd_apple split.
type Variant int

const (
	VariantGeneric Variant = iota
	VariantNEC
	VariantApple
)

var identityPresets = map[Variant]Identity{
	VariantGeneric: {Vendor: "RaSCSI", Product: "SCSI HD", Revision: ""},
	VariantNEC:     {Vendor: "RaSCSI", Product: "SCSI HD NEC", Revision: ""},
	VariantApple:   {Vendor: "RaSCSI", Product: "SCSI HD APPLE", Revision: ""},
}

// Disk implements the disk-like device variants: fixed HD, removable HD, MO
// and CD, distinguished by Base.Type() and by capability flags.
type Disk struct {
	Base

	variant     Variant
	path        string
	file        *os.File
	sectorShift uint
	blockCount  uint64
}

var moCapacityTable = map[int64]struct {
	shift  uint
	blocks uint64
}{
	128 * 1024 * 1024:  {9, 128 * 1024 * 1024 / 512},
	230 * 1024 * 1024:  {9, 230 * 1024 * 1024 / 512},
	540 * 1024 * 1024:  {9, 540 * 1024 * 1024 / 512},
	640 * 1024 * 1024:  {11, 640 * 1024 * 1024 / 2048},
}

// NewDisk constructs a disk-like device of the given type and variant.
func NewDisk(t Type, variant Variant, lister LunLister) *Disk {
	caps := Capabilities{
		Protectable:   true,
		Lockable:      t == TypeSCSICD || t == TypeSCSIMO || t == TypeSCSIHDRemovable,
		Removable:     t == TypeSCSICD || t == TypeSCSIMO || t == TypeSCSIHDRemovable,
		Stoppable:     true,
		SupportsFile:  true,
		ReadOnly:      t == TypeSCSICD,
		SectorSizable: t != TypeSCSICD,
	}
	d := &Disk{
		Base:        NewBase(t, caps, lister, nil),
		variant:     variant,
		sectorShift: 9,
	}
	if preset, ok := identityPresets[variant]; ok {
		_ = d.Base.SetIdentity(preset)
	}
	return d
}

func (d *Disk) ImagePath() string { return d.path }

// Attach opens the backing image file and sizes the device from its length.
// Validation of the path against the reservation table is done by the
// control executor (see internal/control); Attach assumes the path has
// already been resolved and cleared.
func (d *Disk) Attach(path string, readOnly bool) error {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		if !readOnly {
			f, err = os.OpenFile(path, os.O_RDONLY, 0)
			readOnly = true
		}
		if err != nil {
			return fmt.Errorf("open image %s: %w", path, err)
		}
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat image %s: %w", path, err)
	}
	d.path = path
	d.file = f
	if readOnly {
		d.State().Protected = true
	}
	if d.Type() == TypeSCSIMO {
		if geom, ok := moCapacityTable[fi.Size()]; ok {
			d.sectorShift = geom.shift
			d.blockCount = geom.blocks
		}
	} else {
		d.blockCount = uint64(fi.Size()) >> d.sectorShift
	}
	d.State().Ready = true
	return nil
}

func (d *Disk) SetConfiguredSectorSize(shiftCandidate int) bool {
	if !d.Capabilities().SectorSizable {
		return false
	}
	switch shiftCandidate {
	case 9, 10, 11, 12:
		d.sectorShift = uint(shiftCandidate)
		return true
	default:
		return false
	}
}

func (d *Disk) BlockCount() uint64 { return d.blockCount }
func (d *Disk) SectorSize() int    { return 1 << d.sectorShift }

func (d *Disk) writeCheck(block uint64) error {
	if !d.State().Ready {
		return scsi.MediumNotPresent()
	}
	if d.State().Protected {
		return scsi.WriteProtected()
	}
	if block >= d.blockCount {
		return scsi.NewError(scsi.SenseIllegalRequest, scsi.AscInvalidFieldInCdb)
	}
	return nil
}

func (d *Disk) readBlock(block uint64, buf []byte) error {
	if d.file == nil {
		return scsi.MediumNotPresent()
	}
	off := int64(block) << d.sectorShift
	_, err := d.file.ReadAt(buf, off)
	if err != nil {
		return scsi.NewError(scsi.SenseMediumError, scsi.AscReadError)
	}
	return nil
}

func (d *Disk) writeBlock(block uint64, buf []byte) error {
	if err := d.writeCheck(block); err != nil {
		return err
	}
	off := int64(block) << d.sectorShift
	_, err := d.file.WriteAt(buf, off)
	if err != nil {
		return scsi.NewError(scsi.SenseMediumError, scsi.AscReadError)
	}
	return nil
}

func (d *Disk) FlushCache() {
	if d.file != nil {
		d.file.Sync()
	}
}

func (d *Disk) Eject(force bool) bool {
	ok := d.Base.Eject(force)
	if ok && d.file != nil {
		d.file.Close()
		d.file = nil
		d.path = ""
	}
	return ok
}

// lbaAndLen decodes the block address and transfer length from a 6/10/12/16
// byte CDB, following the same opcode-group rules as the teacher's
// SCSICmd.LBA/XferLen.
func lbaAndLen(cdb []byte) (lba uint64, length uint32) {
	n := scsi.CdbLen(cdb[0])
	switch n {
	case 6:
		lba = uint64(cdb[1]&0x1f)<<16 | uint64(cdb[2])<<8 | uint64(cdb[3])
		length = uint32(cdb[4])
		if length == 0 {
			length = 256
		}
	case 10:
		lba = uint64(cdb[2])<<24 | uint64(cdb[3])<<16 | uint64(cdb[4])<<8 | uint64(cdb[5])
		length = uint32(cdb[7])<<8 | uint32(cdb[8])
	case 12:
		lba = uint64(cdb[2])<<24 | uint64(cdb[3])<<16 | uint64(cdb[4])<<8 | uint64(cdb[5])
		length = uint32(cdb[6])<<24 | uint32(cdb[7])<<16 | uint32(cdb[8])<<8 | uint32(cdb[9])
	case 16:
		for i := 0; i < 8; i++ {
			lba = lba<<8 | uint64(cdb[2+i])
		}
		length = uint32(cdb[10])<<24 | uint32(cdb[11])<<16 | uint32(cdb[12])<<8 | uint32(cdb[13])
	}
	return
}

func (d *Disk) read(ex *Exchange, opcode byte) error {
	if !d.State().Ready {
		return scsi.MediumNotPresent()
	}
	lba, length := lbaAndLen(ex.CDB)
	buf := make([]byte, int(length)<<d.sectorShift)
	for i := uint32(0); i < length; i++ {
		sec := buf[int(i)<<d.sectorShift : int(i+1)<<d.sectorShift]
		if err := d.readBlock(lba+uint64(i), sec); err != nil {
			return err
		}
	}
	ex.Buffer = buf
	ex.Length = len(buf)
	ex.Blocks = int(length)
	ex.Direction = DirIn
	return nil
}

func (d *Disk) write(ex *Exchange, opcode byte) error {
	lba, length := lbaAndLen(ex.CDB)
	if err := d.writeCheck(lba); err != nil {
		return err
	}
	ex.Buffer = make([]byte, int(length)<<d.sectorShift)
	ex.Length = len(ex.Buffer)
	ex.Blocks = int(length)
	ex.Direction = DirOut
	ex.pendingWriteLBA = lba
	return nil
}

// XferOut is invoked by the controller once the DataOut phase has received
// ex.Buffer from the initiator, committing it block by block.
func (d *Disk) XferOut(ex *Exchange) error {
	blockSize := 1 << d.sectorShift
	for i := 0; i < ex.Blocks; i++ {
		sec := ex.Buffer[i*blockSize : (i+1)*blockSize]
		if err := d.writeBlock(ex.pendingWriteLBA+uint64(i), sec); err != nil {
			return err
		}
	}
	return nil
}

func (d *Disk) startStop(ex *Exchange) error {
	start := ex.CDB[4]&0x01 != 0
	if start {
		return d.Start()
	}
	return d.Stop()
}

func (d *Disk) preventAllowMediumRemoval(ex *Exchange) error {
	if !d.Capabilities().Lockable {
		return scsi.IllegalRequest()
	}
	d.State().Locked = ex.CDB[4]&0x01 != 0
	return nil
}

func (d *Disk) modeSense(ex *Exchange, ten bool) error {
	pages := assembleModePages(d)
	pgcode := ex.CDB[2] & 0x3f
	body := selectModePages(pages, pgcode)

	var hdr []byte
	if ten {
		hdr = make([]byte, 8)
		total := len(body) + 6
		hdr[0] = byte(total >> 8)
		hdr[1] = byte(total)
		if d.State().Protected {
			hdr[3] = 0x80
		}
	} else {
		hdr = make([]byte, 4)
		hdr[0] = byte(len(body) + 3)
		if d.State().Protected {
			hdr[2] = 0x80
		}
	}
	buf := append(hdr, body...)
	ex.Buffer = buf
	ex.Length = len(buf)
	ex.Direction = DirIn
	ex.Blocks = 1
	return nil
}

// Dispatch implements Device for the disk-like variants. Media changes must
// be reported on the next access, not only for TEST UNIT READY, so the
// one-shot flag is checked ahead of every opcode here.
func (d *Disk) Dispatch(ex *Exchange, opcode byte) error {
	if d.checkMediumChanged() {
		return scsi.NotReadyToReadyChange()
	}
	switch opcode {
	case scsi.Read6, scsi.Read10, scsi.Read12, scsi.Read16:
		return d.read(ex, opcode)
	case scsi.Write6, scsi.Write10, scsi.Write12, scsi.Write16:
		return d.write(ex, opcode)
	case scsi.ModeSense:
		return d.modeSense(ex, false)
	case scsi.ModeSense10:
		return d.modeSense(ex, true)
	case scsi.StartStop:
		return d.startStop(ex)
	case scsi.AllowMediumRemoval:
		return d.preventAllowMediumRemoval(ex)
	case scsi.SynchronizeCache, scsi.SynchronizeCache16:
		d.FlushCache()
		return nil
	default:
		return d.Base.DispatchPrimary(ex, opcode)
	}
}
