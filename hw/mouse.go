package hw

import "xtem/emu/log"

// Microsoft serial mouse. Host-side motion and button updates accumulate
// until the run slice serializes them as three-byte packets onto the
// attached serial port. Raising RTS on the port resets the mouse, which
// identifies itself with an "M" after a short power-up delay.

const (
	mouseIdentByte    = 'M'
	mouseIdentDelayUs = 14_000.0

	// Minimum spacing between packets; at 1200 baud a packet takes three
	// frame times anyway, this just avoids flooding the queue.
	mousePacketUs = 25_000.0
)

// Mouse is one serial mouse, attached to a fixed serial port index.
type Mouse struct {
	port int

	dx, dy       int
	left, right  bool
	buttonsDirty bool

	identDelayUs  float64
	packetUsAccum float64
}

func NewMouse(port int) *Mouse {
	return &Mouse{port: port}
}

// UpdateMotion accumulates host mouse movement in mickeys.
func (m *Mouse) UpdateMotion(dx, dy int) {
	m.dx += dx
	m.dy += dy
}

// UpdateButtons records the current button state.
func (m *Mouse) UpdateButtons(left, right bool) {
	if left != m.left || right != m.right {
		m.buttonsDirty = true
	}
	m.left = left
	m.right = right
}

// Run serializes pending state onto the serial port. The serial controller
// is borrowed from the bus for the duration of the call.
func (m *Mouse) Run(serial *SerialController, us float64) {
	if serial.ConsumeRTSToggle(m.port) {
		// Reset: forget pending state and schedule the identification byte.
		m.dx, m.dy = 0, 0
		m.buttonsDirty = false
		m.identDelayUs = mouseIdentDelayUs
		log.ModSerial.DebugZ("mouse reset by rts").Int("port", m.port).End()
	}

	if m.identDelayUs > 0 {
		m.identDelayUs -= us
		if m.identDelayUs <= 0 {
			serial.QueueByte(m.port, mouseIdentByte)
		}
		return
	}

	m.packetUsAccum += us
	if m.packetUsAccum < mousePacketUs {
		return
	}
	m.packetUsAccum = 0

	if m.dx == 0 && m.dy == 0 && !m.buttonsDirty {
		return
	}
	m.buttonsDirty = false

	dx := clampMickeys(m.dx)
	dy := clampMickeys(m.dy)
	m.dx -= dx
	m.dy -= dy

	// Three-byte packet: sync bit, buttons and the two high bits of each
	// delta in the first byte, then the low six bits of dx and dy.
	b1 := uint8(0x40)
	if m.left {
		b1 |= 0x20
	}
	if m.right {
		b1 |= 0x10
	}
	b1 |= uint8(dy>>4) & 0x0C
	b1 |= uint8(dx>>6) & 0x03

	serial.QueueByte(m.port, b1)
	serial.QueueByte(m.port, uint8(dx)&0x3F)
	serial.QueueByte(m.port, uint8(dy)&0x3F)
}

func clampMickeys(v int) int {
	if v > 127 {
		return 127
	}
	if v < -128 {
		return -128
	}
	return v
}
