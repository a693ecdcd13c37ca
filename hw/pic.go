package hw

import "xtem/emu/log"

// Intel 8259 programmable interrupt controller, as wired in a single-PIC
// machine: eight lines, vector offset programmed by the BIOS (0x08), no
// cascade.

const (
	picPortCommand = 0x20
	picPortData    = 0x21
)

type picInitState uint8

const (
	picReady picInitState = iota
	picExpectICW2
	picExpectICW3
	picExpectICW4
)

// PIC is one 8259 interrupt controller.
type PIC struct {
	imr uint8 // interrupt mask register
	irr uint8 // interrupt request register
	isr uint8 // in-service register

	vectorOffset uint8
	initState    picInitState
	expectICW4   bool
	autoEOI      bool

	readSelectISR bool

	errorCount uint64
	intCount   [8]uint64
}

func NewPIC() *PIC {
	p := &PIC{}
	p.Reset()
	return p
}

func (p *PIC) Reset() {
	p.imr = 0xFF
	p.irr = 0
	p.isr = 0
	p.vectorOffset = 0x08
	p.initState = picReady
	p.readSelectISR = false
}

func (p *PIC) PortList() []uint16 {
	return []uint16{picPortCommand, picPortData}
}

func (p *PIC) ReadU8(port uint16, delta TimeUnit) uint8 {
	switch port {
	case picPortCommand:
		if p.readSelectISR {
			return p.isr
		}
		return p.irr
	case picPortData:
		return p.imr
	}
	return NoIOByte
}

func (p *PIC) WriteU8(port uint16, data uint8, b *Bus, delta TimeUnit) {
	switch port {
	case picPortCommand:
		p.writeCommand(data)
	case picPortData:
		p.writeData(data)
	}
}

func (p *PIC) writeCommand(data uint8) {
	if data&0x10 != 0 {
		// ICW1 restarts the initialization sequence.
		p.expectICW4 = data&0x01 != 0
		p.initState = picExpectICW2
		p.imr = 0
		p.isr = 0
		p.readSelectISR = false
		log.ModPic.DebugZ("icw1 received").Hex8("data", data).End()
		return
	}

	if data&0x08 != 0 {
		// OCW3: register read select.
		switch data & 0x03 {
		case 0x02:
			p.readSelectISR = false
		case 0x03:
			p.readSelectISR = true
		}
		return
	}

	// OCW2: end of interrupt.
	switch data >> 5 {
	case 0x01: // non-specific EOI
		p.clearHighestISR()
	case 0x03: // specific EOI
		p.isr &^= 1 << (data & 0x07)
	default:
		p.errorCount++
		log.ModPic.DebugZ("unsupported ocw2").Hex8("data", data).End()
	}
}

func (p *PIC) writeData(data uint8) {
	switch p.initState {
	case picExpectICW2:
		p.vectorOffset = data & 0xF8
		// Single mode skips ICW3.
		if p.expectICW4 {
			p.initState = picExpectICW4
		} else {
			p.initState = picReady
		}
		log.ModPic.DebugZ("icw2 received").Hex8("offset", p.vectorOffset).End()
	case picExpectICW4:
		p.autoEOI = data&0x02 != 0
		p.initState = picReady
	default:
		// OCW1: interrupt mask.
		p.imr = data
	}
}

func (p *PIC) clearHighestISR() {
	for i := uint8(0); i < 8; i++ {
		if p.isr&(1<<i) != 0 {
			p.isr &^= 1 << i
			return
		}
	}
}

// PulseInterrupt pulses an interrupt line. The line latches into the request
// register regardless of the mask; the mask gates delivery, not latching.
func (p *PIC) PulseInterrupt(line uint8) {
	p.irr |= 1 << line
	p.intCount[line&0x07]++
}

// Run advances the controller by the elapsed system ticks. The 8259 has no
// internal clocked state; the hook exists for symmetry with the other
// devices and for future edge/level modelling.
func (p *PIC) Run(sysTicks uint32) {}

// QueryInterruptLine reports whether an unmasked request is pending, i.e.
// whether the INTR line to the CPU is raised.
func (p *PIC) QueryInterruptLine() bool {
	return p.irr&^p.imr != 0
}

// GetInterruptVector performs the interrupt acknowledge cycle: the highest
// priority unmasked request moves from the request register to the
// in-service register and its vector is returned.
func (p *PIC) GetInterruptVector() (uint8, bool) {
	pending := p.irr &^ p.imr
	if pending == 0 {
		return 0, false
	}
	for i := uint8(0); i < 8; i++ {
		bit := uint8(1) << i
		if pending&bit == 0 {
			continue
		}
		p.irr &^= bit
		if !p.autoEOI {
			p.isr |= bit
		}
		return p.vectorOffset + i, true
	}
	return 0, false
}

// IMR returns the current interrupt mask register, for inspection.
func (p *PIC) IMR() uint8 { return p.imr }

// IRR returns the current interrupt request register, for inspection.
func (p *PIC) IRR() uint8 { return p.irr }

// ISR returns the current in-service register, for inspection.
func (p *PIC) ISR() uint8 { return p.isr }

// InterruptStats returns per-line delivery counts, for inspection tools.
func (p *PIC) InterruptStats() [8]uint64 { return p.intCount }
