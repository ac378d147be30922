package bus

import (
	"fmt"
	"sort"
	"time"

	"github.com/rascsi-go/rascsi/internal/device"
	"github.com/rascsi-go/rascsi/internal/scsi"
	"github.com/sirupsen/logrus"
)

// Phase is one of the SCSI bus phases the controller drives.
type Phase int

const (
	BusFree Phase = iota
	Arbitration
	Selection
	Command
	DataIn
	DataOut
	Status
	MsgIn
	MsgOut
)

func (p Phase) String() string {
	switch p {
	case BusFree:
		return "BusFree"
	case Arbitration:
		return "Arbitration"
	case Selection:
		return "Selection"
	case Command:
		return "Command"
	case DataIn:
		return "DataIn"
	case DataOut:
		return "DataOut"
	case Status:
		return "Status"
	case MsgIn:
		return "MsgIn"
	case MsgOut:
		return "MsgOut"
	default:
		return "Unknown"
	}
}

// minExecTime is the fixed "minimum execution time" gate between Execute
// entry and status emission (spec.md §4.2).
const minExecTime = 50 * time.Microsecond

// maxAtnMessage is the ATN-message accumulator cap (spec.md §3).
const maxAtnMessage = 256

// Controller drives one SCSI target ID's bus-phase state machine and owns
// its logical units. One Controller exists per attached target ID, 0..7.
type Controller struct {
	id    int
	phase Phase

	cdb    []byte
	buffer []byte
	blocks int
	offset int
	length int

	status  byte
	message byte

	identifiedLUN int
	atnMessage    []byte

	syncEnabled bool

	luns map[int]device.Device

	shutdown *device.ShutdownMode
	// OnShutdown is invoked exactly once, from BusFree, once all
	// handshakes for the in-flight command have completed.
	OnShutdown func(device.ShutdownMode)

	execStart time.Time

	msgOutPayload []byte
	afterMsgIn    Phase

	// pendingOut carries the device+exchange a DataOut phase needs once
	// bytes have arrived, so handleDataOut can call the device's
	// write-commit hook.
	pendingOut struct {
		dev device.Device
		ex  *device.Exchange
	}

	log logrus.FieldLogger
}

// NewController creates an empty controller for the given target ID.
func NewController(id int, log logrus.FieldLogger) *Controller {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Controller{
		id:            id,
		phase:         BusFree,
		identifiedLUN: -1,
		luns:          make(map[int]device.Device),
		log:           log,
	}
}

func (c *Controller) ID() int      { return c.id }
func (c *Controller) Phase() Phase { return c.phase }

// AddLUN attaches a device at the given LUN (spec.md §4.4).
func (c *Controller) AddLUN(lun int, d device.Device) error {
	if lun < 0 || lun >= 32 {
		return fmt.Errorf("lun %d out of range", lun)
	}
	if _, exists := c.luns[lun]; exists {
		return fmt.Errorf("lun %d already occupied", lun)
	}
	d.SetIDLun(c.id, lun)
	c.luns[lun] = d
	return nil
}

func (c *Controller) RemoveLUN(lun int) {
	delete(c.luns, lun)
}

func (c *Controller) Device(lun int) (device.Device, bool) {
	d, ok := c.luns[lun]
	return d, ok
}

func (c *Controller) LUNCount() int { return len(c.luns) }

func (c *Controller) HasLUN0() bool {
	_, ok := c.luns[0]
	return ok
}

// LUNs implements device.LunLister for REPORT LUNS: it only answers for
// its own target ID.
func (c *Controller) LUNs(id int) []int {
	if id != c.id {
		return nil
	}
	out := make([]int, 0, len(c.luns))
	for lun := range c.luns {
		out = append(out, lun)
	}
	sort.Ints(out)
	return out
}

// fullReset clears all controller and device state, per spec.md §4.2's
// RST-sampling contract.
func (c *Controller) fullReset(hal HAL) {
	c.phase = BusFree
	c.cdb = nil
	c.buffer = nil
	c.blocks = 0
	c.offset = 0
	c.length = 0
	c.status = 0
	c.message = 0
	c.atnMessage = nil
	c.identifiedLUN = -1
	c.msgOutPayload = nil
	for _, d := range c.luns {
		st := d.State()
		st.Attn = false
		st.Reset = true
	}
	hal.Reset()
}

// Process drives the controller through exactly one phase handler
// invocation, using the bus state sampled from hal; callers loop this from
// the bus thread's main loop until the phase returns to BusFree (spec.md
// §4.2's process entry contract).
func (c *Controller) Process(hal HAL) Phase {
	sig := hal.Acquire()
	if sig.RST {
		c.fullReset(hal)
		return c.phase
	}

	switch c.phase {
	case BusFree:
		c.enterBusFree(hal, sig)
	case Selection:
		c.handleSelection(hal, sig)
	case Command:
		c.handleCommand(hal)
	case DataIn:
		c.handleDataIn(hal)
	case DataOut:
		c.handleDataOut(hal)
	case Status:
		c.handleStatus(hal)
	case MsgIn:
		c.handleMsgIn(hal)
	case MsgOut:
		c.handleMsgOut(hal, sig)
	}
	return c.phase
}

func (c *Controller) enterBusFree(hal HAL, sig Signals) {
	hal.Write(Signals{})
	c.status = 0
	c.message = 0
	c.atnMessage = nil
	c.identifiedLUN = -1

	if c.shutdown != nil {
		mode := *c.shutdown
		c.shutdown = nil
		if c.OnShutdown != nil {
			c.OnShutdown(mode)
		}
		return
	}

	if sig.SEL && !sig.BSY {
		c.phase = Selection
	}
}

func (c *Controller) handleSelection(hal HAL, sig Signals) {
	if !bitSet(sig.DAT, c.id) || len(c.luns) == 0 {
		return
	}
	hal.Write(Signals{BSY: true, SEL: true})
	if !sig.SEL && sig.BSY {
		if sig.ATN {
			c.phase = MsgOut
		} else {
			c.phase = Command
		}
	}
}

func bitSet(b byte, bit int) bool {
	return b&(1<<uint(bit)) != 0
}

func (c *Controller) handleCommand(hal HAL) {
	hal.Write(Signals{BSY: true, CD: true})
	buf := make([]byte, 16)
	n, err := hal.CommandHandshake(buf)
	if err != nil || n == 0 {
		c.raise(scsi.SenseAbortedCommand, 0, scsi.SamStatCheckCondition)
		return
	}
	expected := scsi.CdbLen(buf[0])
	if n != expected {
		c.raise(scsi.SenseAbortedCommand, 0, scsi.SamStatCheckCondition)
		return
	}
	c.cdb = buf[:expected]
	c.execute(hal)
}

// execute is the internal (non-bus-visible) Execute sub-state: it resolves
// the effective LUN, dispatches the CDB, and leaves the controller staged
// for whichever phase the device's response calls for.
func (c *Controller) execute(hal HAL) {
	c.execStart = time.Now()

	opcode := c.cdb[0]
	lun := c.identifiedLUN
	if lun < 0 {
		lun = int(c.cdb[1]>>5) & 0x07
	}

	d, ok := c.luns[lun]
	missingLunFallback := false
	if !ok {
		if opcode == scsi.Inquiry || opcode == scsi.RequestSense {
			d, ok = c.luns[0]
			missingLunFallback = true
		}
		if !ok {
			c.raise(scsi.SenseIllegalRequest, scsi.AscInvalidLun, scsi.SamStatCheckCondition)
			return
		}
	}

	ex := &device.Exchange{CDB: c.cdb}
	err := d.Dispatch(ex, opcode)
	if err != nil {
		if se, ok := err.(*scsi.Error); ok {
			c.raise(se.SenseKey, se.Asc, se.Status)
		} else {
			c.raise(scsi.SenseHardwareError, scsi.AscInternalTargetFailure, scsi.SamStatCheckCondition)
		}
		return
	}

	if missingLunFallback && opcode == scsi.Inquiry && len(ex.Buffer) > 0 {
		ex.Buffer[0] = 0x7f
	}

	c.buffer = ex.Buffer
	c.length = ex.Length
	c.blocks = ex.Blocks
	c.offset = 0
	c.status = scsi.SamStatGood
	if ex.Status != 0 {
		c.status = ex.Status
	}

	if ex.Shutdown != nil {
		c.shutdown = ex.Shutdown
	}

	switch ex.Direction {
	case device.DirIn:
		c.phase = DataIn
	case device.DirOut:
		c.pendingOut.dev = d
		c.pendingOut.ex = ex
		c.phase = DataOut
	default:
		c.phase = Status
	}
}

func (c *Controller) handleDataIn(hal HAL) {
	hal.Write(Signals{BSY: true, IO: true})
	if c.length == 0 {
		c.phase = Status
		return
	}
	n, err := hal.SendHandshake(c.buffer, c.length, SendNoDelay)
	if err != nil || n != c.length {
		c.raise(scsi.SenseAbortedCommand, 0, scsi.SamStatCheckCondition)
		return
	}
	c.phase = Status
}

func (c *Controller) handleDataOut(hal HAL) {
	hal.Write(Signals{BSY: true})
	if c.length == 0 {
		c.phase = Status
		return
	}
	n, err := hal.ReceiveHandshake(c.buffer, c.length)
	if err != nil || n != c.length {
		c.raise(scsi.SenseAbortedCommand, 0, scsi.SamStatCheckCondition)
		return
	}
	if flusher, ok := c.pendingOut.dev.(interface {
		XferOut(*device.Exchange) error
	}); ok {
		if err := flusher.XferOut(c.pendingOut.ex); err != nil {
			if se, ok := err.(*scsi.Error); ok {
				c.raise(se.SenseKey, se.Asc, se.Status)
				return
			}
			c.raise(scsi.SenseHardwareError, scsi.AscInternalTargetFailure, scsi.SamStatCheckCondition)
			return
		}
	}
	c.phase = Status
}

func (c *Controller) handleStatus(hal HAL) {
	if elapsed := time.Since(c.execStart); elapsed < minExecTime {
		time.Sleep(minExecTime - elapsed)
	}
	hal.Write(Signals{BSY: true, CD: true, IO: true})
	hal.SendHandshake([]byte{c.status}, 1, SendNoDelay)

	if c.msgOutPayload == nil {
		c.msgOutPayload = []byte{c.message}
		c.afterMsgIn = BusFree
	}
	c.phase = MsgIn
}

func (c *Controller) handleMsgIn(hal HAL) {
	hal.Write(Signals{BSY: true, CD: true, IO: true, MSG: true})
	payload := c.msgOutPayload
	if payload == nil {
		payload = []byte{c.message}
	}
	hal.SendHandshake(payload, len(payload), SendNoDelay)
	next := c.afterMsgIn
	c.msgOutPayload = nil
	c.afterMsgIn = BusFree
	if next == Command {
		c.phase = Command
	} else {
		c.phase = BusFree
	}
}

func (c *Controller) handleMsgOut(hal HAL, sig Signals) {
	hal.Write(Signals{BSY: true, CD: true, MSG: true})
	for {
		s := hal.Acquire()
		if !s.ATN {
			break
		}
		b := make([]byte, 1)
		n, err := hal.ReceiveHandshake(b, 1)
		if err != nil || n != 1 {
			break
		}
		if len(c.atnMessage) < maxAtnMessage {
			c.atnMessage = append(c.atnMessage, b[0])
		}
	}
	c.parseAtnMessages()
}

func (c *Controller) parseAtnMessages() {
	msgs := c.atnMessage
	c.atnMessage = nil
	c.phase = Command

	for i := 0; i < len(msgs); i++ {
		b := msgs[i]
		switch {
		case b == 0x06: // ABORT
			c.phase = BusFree
			return
		case b == 0x0c: // BUS DEVICE RESET
			c.syncEnabled = false
			c.phase = BusFree
			return
		case b >= 0x80: // IDENTIFY
			c.identifiedLUN = int(b & 0x1f)
		case b == 0x01: // EXTENDED MESSAGE
			i++
			var second byte
			if i < len(msgs) {
				second = msgs[i]
			}
			if !c.syncEnabled || second != 0x01 {
				c.msgOutPayload = []byte{0x07} // REJECT
			} else {
				period, offset := byte(0), byte(0)
				if i+1 < len(msgs) {
					period = msgs[i+1]
				}
				if i+2 < len(msgs) {
					offset = msgs[i+2]
				}
				if period > 50 {
					period = 50
				}
				if offset > 16 {
					offset = 16
				}
				c.msgOutPayload = []byte{0x01, 0x03, 0x01, period, offset}
				i += 2
			}
			c.afterMsgIn = Command
			c.phase = MsgIn
			return
		}
	}
}

// raise is the controller's error(sense, asc, status) handler (spec.md
// §4.2).
func (c *Controller) raise(senseKey byte, asc uint16, status byte) {
	if c.phase == Status || c.phase == MsgIn {
		c.phase = BusFree
		return
	}
	lun := c.identifiedLUN
	if lun < 0 {
		lun = 0
	}
	d, ok := c.luns[lun]
	if !ok || asc == scsi.AscInvalidLun {
		d, ok = c.luns[0]
	}
	if ok {
		d.SetSenseStatus(device.SenseStatus{SenseKey: senseKey, Asc: asc})
	}
	c.status = status
	c.phase = Status
}

// ScheduleShutdown lets a non-SCSI caller (e.g. a test harness) enqueue a
// deferred shutdown directly, mirroring what a host-services dispatch does
// through its Exchange.
func (c *Controller) ScheduleShutdown(mode device.ShutdownMode) {
	c.shutdown = &mode
}
