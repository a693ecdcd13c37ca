package hw

import "xtem/emu/log"

// 8250 UART serial controller. Up to two ports at the conventional COM
// addresses; bytes queued from an attached peripheral are paced into the
// receive buffer register at the programmed line speed and raise the port's
// interrupt line when receive interrupts are enabled.

const serialMaxPorts = 2

var serialPortBases = [serialMaxPorts]uint16{0x3F8, 0x2F8}
var serialPortIrqs = [serialMaxPorts]uint8{4, 3}

// Register offsets from the port base.
const (
	serialRegData     = 0 // RBR on read, THR on write, DLL with DLAB set
	serialRegIER      = 1 // DLM with DLAB set
	serialRegIIR      = 2
	serialRegLCR      = 3
	serialRegMCR      = 4
	serialRegLSR      = 5
	serialRegMSR      = 6
	serialRegScratch  = 7
	serialRegsPerPort = 8
)

// Line status register bits.
const (
	serialLSRDataReady = 0x01
	serialLSRTHREmpty  = 0x20
	serialLSRTxIdle    = 0x40
)

const serialUartClock = 1_843_200.0 // Hz

type serialPort struct {
	rbr       uint8
	dataReady bool
	ier       uint8
	lcr       uint8
	mcr       uint8
	scratch   uint8
	divisor   uint16

	rxQueue   []uint8
	rxUsAccum float64

	rtsToggled bool
	irqPending bool
}

func (p *serialPort) dlab() bool { return p.lcr&0x80 != 0 }

// byteTimeUs returns the microseconds one 10-bit frame takes at the
// programmed divisor.
func (p *serialPort) byteTimeUs() float64 {
	divisor := p.divisor
	if divisor == 0 {
		divisor = 96 // 1200 baud, the mouse default
	}
	baud := serialUartClock / 16 / float64(divisor)
	return 10.0 / baud * 1_000_000
}

// SerialController owns every installed UART.
type SerialController struct {
	ports []serialPort
}

func NewSerialController(numPorts int) *SerialController {
	if numPorts > serialMaxPorts {
		numPorts = serialMaxPorts
	}
	return &SerialController{ports: make([]serialPort, numPorts)}
}

func (s *SerialController) NumPorts() int { return len(s.ports) }

func (s *SerialController) PortList() []uint16 {
	var ports []uint16
	for i := range s.ports {
		base := serialPortBases[i]
		for off := uint16(0); off < serialRegsPerPort; off++ {
			ports = append(ports, base+off)
		}
	}
	return ports
}

func (s *SerialController) decode(port uint16) (*serialPort, uint16, bool) {
	for i := range s.ports {
		base := serialPortBases[i]
		if port >= base && port < base+serialRegsPerPort {
			return &s.ports[i], port - base, true
		}
	}
	return nil, 0, false
}

func (s *SerialController) ReadU8(port uint16, delta TimeUnit) uint8 {
	p, reg, ok := s.decode(port)
	if !ok {
		return NoIOByte
	}

	switch reg {
	case serialRegData:
		if p.dlab() {
			return uint8(p.divisor)
		}
		p.dataReady = false
		p.irqPending = false
		return p.rbr
	case serialRegIER:
		if p.dlab() {
			return uint8(p.divisor >> 8)
		}
		return p.ier
	case serialRegIIR:
		if p.irqPending {
			return 0x04 // received data available
		}
		return 0x01 // no interrupt pending
	case serialRegLCR:
		return p.lcr
	case serialRegMCR:
		return p.mcr
	case serialRegLSR:
		lsr := uint8(serialLSRTHREmpty | serialLSRTxIdle)
		if p.dataReady {
			lsr |= serialLSRDataReady
		}
		return lsr
	case serialRegMSR:
		// CTS, DSR and carrier all asserted.
		return 0xB0
	case serialRegScratch:
		return p.scratch
	}
	return NoIOByte
}

func (s *SerialController) WriteU8(port uint16, data uint8, b *Bus, delta TimeUnit) {
	p, reg, ok := s.decode(port)
	if !ok {
		return
	}

	switch reg {
	case serialRegData:
		if p.dlab() {
			p.divisor = p.divisor&0xFF00 | uint16(data)
			return
		}
		// Transmitted bytes have nowhere to go; the transmitter always
		// reports empty.
		log.ModSerial.DebugZ("tx byte").Hex8("data", data).End()
	case serialRegIER:
		if p.dlab() {
			p.divisor = p.divisor&0x00FF | uint16(data)<<8
			return
		}
		p.ier = data
	case serialRegLCR:
		p.lcr = data
	case serialRegMCR:
		if (p.mcr^data)&0x02 != 0 && data&0x02 != 0 {
			// RTS raised: an attached mouse identifies itself in response.
			p.rtsToggled = true
		}
		p.mcr = data
	case serialRegScratch:
		p.scratch = data
	}
}

// QueueByte enqueues a byte from an attached peripheral for paced delivery.
func (s *SerialController) QueueByte(port int, data uint8) {
	p := &s.ports[port]
	p.rxQueue = append(p.rxQueue, data)
}

// ConsumeRTSToggle reports and clears whether RTS was raised on a port since
// the last call. An attached mouse uses the edge to run its identification
// sequence.
func (s *SerialController) ConsumeRTSToggle(port int) bool {
	p := &s.ports[port]
	toggled := p.rtsToggled
	p.rtsToggled = false
	return toggled
}

// Run paces queued receive bytes into each port at line speed, pulsing the
// port's interrupt line when receive interrupts are enabled.
func (s *SerialController) Run(pic *PIC, us float64) {
	for i := range s.ports {
		p := &s.ports[i]
		if len(p.rxQueue) == 0 {
			p.rxUsAccum = 0
			continue
		}

		p.rxUsAccum += us
		if p.rxUsAccum < p.byteTimeUs() || p.dataReady {
			continue
		}
		p.rxUsAccum -= p.byteTimeUs()

		p.rbr = p.rxQueue[0]
		p.rxQueue = p.rxQueue[1:]
		p.dataReady = true

		if p.ier&0x01 != 0 && pic != nil {
			p.irqPending = true
			pic.PulseInterrupt(serialPortIrqs[i])
		}
	}
}
