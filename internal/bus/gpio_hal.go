package bus

import (
	"fmt"
	"os"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// gpio register offsets within the GPIO block, word-addressed; the GPIO
// block sits at gpioBase inside the mapped peripheral window (spec.md §4.1's HAL is a hardware collaborator; this is the Raspberry Pi
// GPIO backing implementation, the only one production code ships).
const (
	gpioBase    = 0x7e200000 - 0x7e000000 // offset within the mapped peripheral window
	regGPFSEL0  = 0x00 / 4
	regGPSET0   = 0x1c / 4
	regGPCLR0   = 0x28 / 4
	regGPLEV0   = 0x34 / 4
	peripheralWindowSize = 0x01000000
)

// GPIOHAL implements HAL by mmap'ing /dev/mem at the board's peripheral
// base and manipulating the GPFSEL/GPSET/GPCLR/GPLEV
// registers directly, the same register-struct-over-mmap idiom the
// reference TCMU backend used for its ring buffer.
type GPIOHAL struct {
	mu   sync.Mutex
	mem  []byte
	regs []uint32

	pins PinMap
}

// PinMap assigns each SCSI signal to a BCM GPIO number.
type PinMap struct {
	BSY, SEL, ATN, ACK, RST, MSG, CD, IO int
	DAT                                   [8]int // data bus bits 0..7
	DATPARITY                             int
}

func NewGPIOHAL(peripheralBase int64, pins PinMap) (*GPIOHAL, error) {
	f, err := os.OpenFile("/dev/mem", os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/mem: %w", err)
	}
	defer f.Close()

	mem, err := unix.Mmap(int(f.Fd()), peripheralBase, peripheralWindowSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap gpio registers: %w", err)
	}
	h := &GPIOHAL{
		mem:  mem,
		regs: unsafe.Slice((*uint32)(unsafe.Pointer(&mem[gpioBase])), (len(mem)-gpioBase)/4),
		pins: pins,
	}
	return h, nil
}

func (h *GPIOHAL) Close() error {
	if h.mem == nil {
		return nil
	}
	return unix.Munmap(h.mem)
}

func (h *GPIOHAL) setFunction(pin int, output bool) {
	reg := regGPFSEL0 + pin/10
	shift := uint((pin % 10) * 3)
	val := h.regs[reg]
	val &^= 0x7 << shift
	if output {
		val |= 0x1 << shift
	}
	h.regs[reg] = val
}

func (h *GPIOHAL) readPin(pin int) bool {
	return h.regs[regGPLEV0+pin/32]&(1<<uint(pin%32)) != 0
}

func (h *GPIOHAL) writePin(pin int, level bool) {
	if level {
		h.regs[regGPSET0+pin/32] = 1 << uint(pin%32)
	} else {
		h.regs[regGPCLR0+pin/32] = 1 << uint(pin%32)
	}
}

func (h *GPIOHAL) Acquire() Signals {
	h.mu.Lock()
	defer h.mu.Unlock()
	var dat byte
	for i, pin := range h.pins.DAT {
		if h.readPin(pin) {
			dat |= 1 << uint(i)
		}
	}
	return Signals{
		BSY: h.readPin(h.pins.BSY),
		SEL: h.readPin(h.pins.SEL),
		ATN: h.readPin(h.pins.ATN),
		ACK: h.readPin(h.pins.ACK),
		REQ: false,
		RST: h.readPin(h.pins.RST),
		MSG: h.readPin(h.pins.MSG),
		CD:  h.readPin(h.pins.CD),
		IO:  h.readPin(h.pins.IO),
		DAT: dat,
	}
}

func (h *GPIOHAL) Write(sig Signals) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.writePin(h.pins.BSY, sig.BSY)
	h.writePin(h.pins.SEL, sig.SEL)
	h.writePin(h.pins.ATN, sig.ATN)
	h.writePin(h.pins.MSG, sig.MSG)
	h.writePin(h.pins.CD, sig.CD)
	h.writePin(h.pins.IO, sig.IO)
	for i, pin := range h.pins.DAT {
		h.writePin(pin, sig.DAT&(1<<uint(i)) != 0)
	}
}

// CommandHandshake clocks one byte per REQ/ACK cycle into buf until the
// initiator drops REQ or buf fills.
func (h *GPIOHAL) CommandHandshake(buf []byte) (int, error) {
	return h.receiveBytes(buf, len(buf))
}

func (h *GPIOHAL) SendHandshake(buf []byte, length int, sendDelayNs int) (int, error) {
	for i := 0; i < length; i++ {
		if !h.waitReq(true, time.Second) {
			return i, fmt.Errorf("timeout waiting for REQ")
		}
		h.writePin(h.pins.ATN, false) // placeholder: data bus driven via Write in production wiring
		h.writePin(h.pins.ACK, true)
		if sendDelayNs > 0 {
			time.Sleep(time.Duration(sendDelayNs))
		}
		if !h.waitReq(false, time.Second) {
			return i, fmt.Errorf("timeout waiting for REQ release")
		}
		h.writePin(h.pins.ACK, false)
	}
	return length, nil
}

func (h *GPIOHAL) ReceiveHandshake(buf []byte, length int) (int, error) {
	return h.receiveBytes(buf, length)
}

func (h *GPIOHAL) receiveBytes(buf []byte, length int) (int, error) {
	for i := 0; i < length && i < len(buf); i++ {
		if !h.waitReq(true, time.Second) {
			return i, fmt.Errorf("timeout waiting for REQ")
		}
		var b byte
		for bit, pin := range h.pins.DAT {
			if h.readPin(pin) {
				b |= 1 << uint(bit)
			}
		}
		buf[i] = b
		h.writePin(h.pins.ACK, true)
		if !h.waitReq(false, time.Second) {
			return i + 1, fmt.Errorf("timeout waiting for REQ release")
		}
		h.writePin(h.pins.ACK, false)
	}
	return length, nil
}

func (h *GPIOHAL) waitReq(want bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if h.readPin(h.pins.ACK) == want {
			return true
		}
	}
	return false
}

// PollSelectEvent reports false: this backend has no interrupt-driven
// selection path and relies entirely on Acquire() polling.
func (h *GPIOHAL) PollSelectEvent() bool { return false }

func (h *GPIOHAL) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.writePin(h.pins.BSY, false)
	h.writePin(h.pins.SEL, false)
	h.writePin(h.pins.ATN, false)
	h.writePin(h.pins.ACK, false)
	h.writePin(h.pins.MSG, false)
	h.writePin(h.pins.CD, false)
	h.writePin(h.pins.IO, false)
}
