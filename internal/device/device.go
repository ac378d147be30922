// Package device implements the polymorphic SCSI logical-unit model: the
// disk-like and special-purpose device variants, their capability and state
// flags, and the CDB dispatch tables each variant exposes to the controller.
package device

import (
	"fmt"
	"time"

	"github.com/rascsi-go/rascsi/internal/scsi"
	"github.com/sirupsen/logrus"
)

// Type tags the device variant, used for INQUIRY byte 0 and for the control
// protocol's device_types_info query.
type Type int

const (
	TypeUndefined Type = iota
	TypeSCSIHD
	TypeSCSIHDRemovable
	TypeSCSIMO
	TypeSCSICD
	TypeBridge
	TypeDaynaPort
	TypePrinter
	TypeHostServices
)

func (t Type) String() string {
	switch t {
	case TypeSCSIHD:
		return "SCHD"
	case TypeSCSIHDRemovable:
		return "SCRM"
	case TypeSCSIMO:
		return "SCMO"
	case TypeSCSICD:
		return "SCCD"
	case TypeBridge:
		return "SCBR"
	case TypeDaynaPort:
		return "SCDP"
	case TypePrinter:
		return "SCLP"
	case TypeHostServices:
		return "SCHS"
	default:
		return "UNDEFINED"
	}
}

// peripheralDeviceType is the INQUIRY byte-0 device type code per SPC.
func (t Type) peripheralDeviceType() byte {
	switch t {
	case TypeSCSIHD, TypeSCSIHDRemovable, TypeSCSIMO:
		return 0x00 // direct-access block device
	case TypeSCSICD:
		return 0x05 // CD-ROM
	case TypeBridge, TypeDaynaPort:
		return 0x03 // processor device
	case TypePrinter:
		return 0x06 // printer
	case TypeHostServices:
		return 0x03
	default:
		return 0x1f // unknown/no device
	}
}

// ExtFor maps a filename extension or special name to a device type, per
// spec.md's ATTACH type-inference table.
func ExtFor(filenameOrSpecial string) Type {
	switch filenameOrSpecial {
	case "bridge":
		return TypeBridge
	case "daynaport":
		return TypeDaynaPort
	case "printer":
		return TypePrinter
	case "services":
		return TypeHostServices
	}
	ext := extOf(filenameOrSpecial)
	switch ext {
	case "hd1", "hds", "hda", "hdn", "hdi", "nhd":
		return TypeSCSIHD
	case "hdr":
		return TypeSCSIHDRemovable
	case "mos":
		return TypeSCSIMO
	case "iso":
		return TypeSCSICD
	default:
		return TypeUndefined
	}
}

func extOf(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[i+1:]
		}
		if name[i] == '/' {
			break
		}
	}
	return ""
}

// Identity is the INQUIRY vendor/product/revision triple, per I4: vendor<=8,
// product<=16, revision<=4 bytes, non-empty once set.
type Identity struct {
	Vendor   string
	Product  string
	Revision string
}

// Validate enforces the I4 length bounds. An empty field is left as-is (the
// device's default is used); a too-long field is rejected.
func (id Identity) Validate() error {
	if len(id.Vendor) > 8 {
		return fmt.Errorf("vendor id %q exceeds 8 bytes", id.Vendor)
	}
	if len(id.Product) > 16 {
		return fmt.Errorf("product id %q exceeds 16 bytes", id.Product)
	}
	if len(id.Revision) > 4 {
		return fmt.Errorf("revision %q exceeds 4 bytes", id.Revision)
	}
	return nil
}

// Tail renders the space-padded 28-byte vendor+product+revision INQUIRY
// tail (I4 / spec.md §6.2).
func (id Identity) Tail() []byte {
	buf := make([]byte, 28)
	copy(buf[0:8], padRight(id.Vendor, 8))
	copy(buf[8:24], padRight(id.Product, 16))
	copy(buf[24:28], padRight(id.Revision, 4))
	return buf
}

func padRight(s string, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	copy(b, s)
	if len(s) > n {
		copy(b, s[:n])
	}
	return b
}

// DefaultRevision derives the "YYMM" fallback revision from a build time.
func DefaultRevision(t time.Time) string {
	return fmt.Sprintf("%02d%02d", t.Year()%100, int(t.Month()))
}

// Capabilities are fixed, per-variant flags describing which control
// operations the device supports.
type Capabilities struct {
	Protectable    bool
	Stoppable      bool
	Removable      bool
	Lockable       bool
	ReadOnly       bool // permanently read-only (e.g. a CD-ROM)
	SupportsFile   bool
	SupportsParams bool
	SectorSizable  bool
}

// State is the mutable runtime flag set (spec.md §3).
type State struct {
	Ready         bool
	Attn          bool
	Reset         bool
	Protected     bool
	Stopped       bool
	Removed       bool
	Locked        bool
	MediumChanged bool
}

// SenseStatus is the cached sense/ASC the device reports on the next
// REQUEST SENSE, per spec.md's "cached sense / global static" design note:
// this is per-device state, never global.
type SenseStatus struct {
	SenseKey byte
	Asc      uint16
}

// Exchange carries one CDB's in-flight data between the controller and a
// device's Dispatch call. The device never holds a back-reference to its
// controller (per spec.md §9's cyclic-ownership note); instead it populates
// this struct and returns, and the controller inspects it to decide which
// bus phase to drive next.
type Exchange struct {
	CDB    []byte
	Buffer []byte
	Length int
	Blocks int

	// Direction is set by the device to tell the controller which data
	// phase (if any) to enter after Dispatch returns.
	Direction Direction

	// Status, if non-zero, overrides the default GOOD status (rare; for
	// vendor-specific completions).
	Status byte

	// Shutdown, if set by the host-services device, is consumed by the
	// controller at the next BusFree entry (spec.md §4.2 deferred
	// shutdown).
	Shutdown *ShutdownMode

	// pendingWriteLBA records the destination block for a DataOut write,
	// set by Disk.write and consumed by Disk.XferOut once the bytes have
	// arrived.
	pendingWriteLBA uint64
}

// Direction is the data-transfer direction a dispatched command requires.
type Direction int

const (
	DirNone Direction = iota
	DirIn
	DirOut
)

// ShutdownMode is the host-services deferred shutdown action.
type ShutdownMode int

const (
	ShutdownNone ShutdownMode = iota
	ShutdownStopProcess
	ShutdownHostShutdown
	ShutdownHostReboot
)

// Device is the trait every logical unit implements.
type Device interface {
	Type() Type
	IDLun() (id, lun int)
	SetIDLun(id, lun int)
	Identity() Identity
	SetIdentity(Identity) error
	Capabilities() Capabilities
	State() *State
	Params() map[string]string
	SetParams(map[string]string)

	// Dispatch looks opcode up in the device's own command table, falling
	// back to the shared primary-command table, and executes it.
	Dispatch(ex *Exchange, opcode byte) error

	Init(params map[string]string) bool
	FlushCache()
	Start() error
	Stop() error
	Eject(force bool) bool

	SenseStatus() SenseStatus
	SetSenseStatus(SenseStatus)
}

// Base implements the fields and primary-command quartet
// (TestUnitReady/Inquiry/ReportLuns/RequestSense) common to every variant.
// Concrete devices embed Base and implement their own Dispatch, calling
// Base.DispatchPrimary as the fallback.
type Base struct {
	typ          Type
	id, lun      int
	identity     Identity
	capabilities Capabilities
	state        State
	params       map[string]string
	defaults     map[string]string
	sense        SenseStatus
	lunLister    LunLister
	log          logrus.FieldLogger
}

// LunLister lets a device enumerate its siblings for REPORT LUNS without
// holding a back-pointer to its owning controller; the registry supplies
// this at attach time.
type LunLister interface {
	LUNs(id int) []int
}

func NewBase(t Type, caps Capabilities, lister LunLister, log logrus.FieldLogger) Base {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return Base{
		typ:          t,
		lun:          -1,
		capabilities: caps,
		params:       map[string]string{},
		defaults:     map[string]string{},
		lunLister:    lister,
		log:          log,
	}
}

func (b *Base) Type() Type           { return b.typ }
func (b *Base) IDLun() (int, int)    { return b.id, b.lun }
func (b *Base) SetIDLun(id, lun int) { b.id, b.lun = id, lun }
func (b *Base) Identity() Identity   { return b.identity }

func (b *Base) SetIdentity(id Identity) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if id.Vendor == "" {
		id.Vendor = b.identity.Vendor
	}
	if id.Product == "" {
		id.Product = b.identity.Product
	}
	if id.Revision == "" {
		id.Revision = b.identity.Revision
	}
	b.identity = id
	return nil
}

func (b *Base) Capabilities() Capabilities { return b.capabilities }
func (b *Base) State() *State              { return &b.state }
func (b *Base) Params() map[string]string  { return b.params }
func (b *Base) SetParams(p map[string]string) {
	b.params = p
}
func (b *Base) SenseStatus() SenseStatus         { return b.sense }
func (b *Base) SetSenseStatus(s SenseStatus)     { b.sense = s }
func (b *Base) Logger() logrus.FieldLogger       { return b.log }

func (b *Base) Eject(force bool) bool {
	if !b.state.Ready || !b.capabilities.Removable {
		return false
	}
	if b.state.Locked && !force {
		return false
	}
	b.state.Ready = false
	b.state.Attn = false
	b.state.Protected = false
	b.state.Locked = false
	b.state.Removed = true
	b.state.Stopped = true
	return true
}

func (b *Base) Stop() error {
	b.state.Ready = false
	b.state.Attn = false
	b.state.Stopped = true
	return nil
}

func (b *Base) Start() error {
	if b.state.Removed {
		return scsi.MediumNotPresent()
	}
	b.state.Stopped = false
	b.state.Ready = true
	return nil
}

func (b *Base) FlushCache() {}

func (b *Base) Init(params map[string]string) bool {
	b.params = mergeParams(b.defaults, params)
	return true
}

func mergeParams(defaults, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(defaults)+len(overrides))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// DispatchPrimary handles the four commands every device supports
// (TestUnitReady, Inquiry, ReportLuns, RequestSense). Concrete devices call
// this as the fallback arm of their own opcode switch.
func (b *Base) DispatchPrimary(ex *Exchange, opcode byte) error {
	switch opcode {
	case scsi.TestUnitReady:
		return b.testUnitReady()
	case scsi.Inquiry:
		return b.inquiry(ex)
	case scsi.ReportLuns:
		return b.reportLuns(ex)
	case scsi.RequestSense:
		return b.requestSense(ex)
	default:
		return scsi.NewError(scsi.SenseIllegalRequest, scsi.AscInvalidCommandOperationCode)
	}
}

func (b *Base) testUnitReady() error {
	if b.checkMediumChanged() {
		return scsi.NotReadyToReadyChange()
	}
	if !b.state.Ready {
		return scsi.MediumNotPresent()
	}
	return nil
}

// checkMediumChanged consumes the one-shot medium-changed flag (spec.md
// §4.3's "medium-change reporting").
func (b *Base) checkMediumChanged() bool {
	if b.state.MediumChanged {
		b.state.MediumChanged = false
		return true
	}
	return false
}

func (b *Base) inquiry(ex *Exchange) error {
	buf := make([]byte, 36)
	buf[0] = b.typ.peripheralDeviceType()
	if b.capabilities.Removable {
		buf[1] = 0x80
	}
	buf[2] = 0x02 // SCSI-2 command set
	buf[3] = 0x02 // response data format: SCSI-2
	buf[4] = 0x1f
	copy(buf[8:36], b.identity.Tail())
	ex.Buffer = buf
	ex.Length = len(buf)
	ex.Direction = DirIn
	ex.Blocks = 1
	return nil
}

func (b *Base) reportLuns(ex *Exchange) error {
	selectReport := ex.CDB[2]
	if selectReport != 0x00 {
		return scsi.IllegalRequest()
	}
	var luns []int
	if b.lunLister != nil {
		luns = b.lunLister.LUNs(b.id)
	}
	buf := make([]byte, 8+8*len(luns))
	length := uint32(8 * len(luns))
	buf[0] = byte(length >> 24)
	buf[1] = byte(length >> 16)
	buf[2] = byte(length >> 8)
	buf[3] = byte(length)
	for i, lun := range luns {
		off := 8 + i*8
		buf[off] = byte(lun)
	}
	ex.Buffer = buf
	ex.Length = len(buf)
	ex.Direction = DirIn
	ex.Blocks = 1
	return nil
}

func (b *Base) requestSense(ex *Exchange) error {
	if !b.state.Ready && b.sense.SenseKey == 0 {
		return scsi.MediumNotPresent()
	}
	buf := make([]byte, 18)
	buf[0] = 0x70
	buf[2] = b.sense.SenseKey
	buf[7] = 10
	buf[12] = byte(b.sense.Asc >> 8)
	buf[13] = byte(b.sense.Asc)
	ex.Buffer = buf
	ex.Length = len(buf)
	ex.Direction = DirIn
	ex.Blocks = 1
	return nil
}
