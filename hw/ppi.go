package hw

import "xtem/emu/log"

// Intel 8255 programmable peripheral interface. On this machine class it
// latches keyboard scancodes on port A, drives the speaker and timer gate
// from port B, and exposes the system DIP switches through ports A and C.
// The NMI mask register, a separate latch on real hardware, is carried here
// as well since the PPI owns the adjacent port block.

const (
	ppiPortA       = 0x60
	ppiPortB       = 0x61
	ppiPortC       = 0x62
	ppiPortControl = 0x63
	ppiPortNmiMask = 0xA0
)

// Port B output bits.
const (
	ppiPBTimer2Gate  = 0x01
	ppiPBSpeakerData = 0x02
	ppiPBSW2Select   = 0x04 // low: SW2 low nibble on port C, high: SW2 high bits
	ppiPBKbClockLow  = 0x40
	ppiPBKbClear     = 0x80
)

// PPI is one 8255 chip plus the machine's NMI mask latch.
type PPI struct {
	machineType MachineType

	portB      uint8
	kbByte     uint8
	kbLatched  bool
	nmiEnabled bool

	sw1 uint8
	sw2 uint8

	intCount uint64
}

// NewPPI creates the PPI with DIP switches synthesized from the machine
// configuration: installed memory, primary video adapter and floppy count.
func NewPPI(machineType MachineType, conventionalMem int, videoTypes []VideoType, numFloppies int) *PPI {
	p := &PPI{
		machineType: machineType,
		nmiEnabled:  true,
	}

	// SW1: bit 0 boot from floppy, bits 4-5 video type, bits 6-7 floppy
	// count minus one. Bit 1 (coprocessor) stays clear.
	if numFloppies > 0 {
		p.sw1 |= 0x01
		p.sw1 |= uint8(numFloppies-1) << 6
	}
	// Banks of memory on the planar, bits 2-3. Both machine types report
	// all banks populated for any configuration this core accepts.
	p.sw1 |= 0x0C

	video := VideoCGA
	if len(videoTypes) > 0 {
		video = videoTypes[0]
	}
	switch video {
	case VideoMDA:
		p.sw1 |= 0x30
	case VideoCGA:
		p.sw1 |= 0x20 // 80-column mode
	}

	// SW2: conventional memory beyond the planar, in 32K increments.
	blocks := conventionalMem/0x8000 - 2
	if blocks < 0 {
		blocks = 0
	}
	p.sw2 = uint8(blocks) & 0x1F

	log.ModPpi.DebugZ("dip switches synthesized").
		Hex8("sw1", p.sw1).
		Hex8("sw2", p.sw2).
		End()
	return p
}

func (p *PPI) PortList() []uint16 {
	return []uint16{ppiPortA, ppiPortB, ppiPortC, ppiPortControl, ppiPortNmiMask}
}

func (p *PPI) ReadU8(port uint16, delta TimeUnit) uint8 {
	switch port {
	case ppiPortA:
		if p.portB&ppiPBKbClear != 0 {
			// Keyboard held clear: port A reads the SW1 block on the 5150,
			// open bus on the 5160 (SW1 moved to port C selects there).
			if p.machineType == IBM5150 {
				return p.sw1
			}
			return 0
		}
		return p.kbByte
	case ppiPortB:
		return p.portB
	case ppiPortC:
		if p.portB&ppiPBSW2Select != 0 {
			return p.sw2 >> 4 & 0x01
		}
		return p.sw2 & 0x0F
	}
	return NoIOByte
}

func (p *PPI) WriteU8(port uint16, data uint8, b *Bus, delta TimeUnit) {
	switch port {
	case ppiPortB:
		prev := p.portB
		p.portB = data

		if (prev^data)&ppiPBTimer2Gate != 0 && b != nil {
			if pit := b.Pit(); pit != nil {
				pit.SetChannelGate(2, data&ppiPBTimer2Gate != 0, b)
			}
		}
		if data&ppiPBKbClear != 0 {
			p.kbByte = 0
			p.kbLatched = false
		}
	case ppiPortControl:
		// Mode set. The BIOS programs mode 0 with A and C as inputs; other
		// modes are not wired on this board, so the write is recorded
		// nowhere.
		log.ModPpi.DebugZ("control word written").Hex8("data", data).End()
	case ppiPortNmiMask:
		p.nmiEnabled = data&0x80 != 0
	}
}

// SendKeyboard latches a scancode into port A. The previous byte is
// overwritten; on real hardware the keyboard holds off until acknowledged,
// and the overrun behavior here matches what software observes.
func (p *PPI) SendKeyboard(scancode uint8) {
	p.kbByte = scancode
	p.kbLatched = true
	p.intCount++
}

// KbEnabled reports whether keyboard scancodes reach the interrupt
// controller, i.e. the keyboard is not held clear and its clock line is not
// held low.
func (p *PPI) KbEnabled() bool {
	return p.portB&ppiPBKbClear == 0 && p.portB&ppiPBKbClockLow == 0
}

// NmiEnabled reports the state of the NMI mask latch.
func (p *PPI) NmiEnabled() bool { return p.nmiEnabled }

// SpeakerData reports the speaker data output, port B bit 1.
func (p *PPI) SpeakerData() bool { return p.portB&ppiPBSpeakerData != 0 }

// Run advances the PPI. The chip has no clocked behavior of its own; the
// interrupt controller reference models the keyboard interrupt masking
// side effects of a pending latched scancode.
func (p *PPI) Run(pic *PIC, us float64) {
	_ = pic
	_ = us
}
