package hw

import "xtem/emu/log"

// Intel 8237 DMA controller. Channel 0 performs the DRAM refresh dummy
// reads, channel 2 serves the floppy controller and channel 3 the hard disk
// controller. Peripherals request transfers which the controller then
// executes, so storage controllers receive the detached controller during
// their run slice and the controller itself runs last.

const dmaChannels = 4

// Channel register ports 0x00..0x07, control ports 0x08..0x0F.
const (
	dmaPortStatusCommand = 0x08
	dmaPortRequest       = 0x09
	dmaPortSingleMask    = 0x0A
	dmaPortMode          = 0x0B
	dmaPortClearFlipFlop = 0x0C
	dmaPortMasterClear   = 0x0D
	dmaPortClearMask     = 0x0E
	dmaPortWriteAllMask  = 0x0F
)

// Page register ports, one per channel, in hardware's scattered layout.
var dmaPagePorts = [dmaChannels]uint16{0x87, 0x83, 0x81, 0x82}

type dmaTransferType uint8

const (
	dmaVerify dmaTransferType = iota
	dmaWrite                  // device to memory
	dmaRead                   // memory to device
)

type dmaChannel struct {
	baseAddress    uint16
	baseCount      uint16
	currentAddress uint16
	currentCount   uint16
	page           uint8

	mode          uint8
	masked        bool
	requested     bool
	terminalCount bool
}

func (c *dmaChannel) transferType() dmaTransferType {
	return dmaTransferType(c.mode >> 2 & 0x03)
}

func (c *dmaChannel) autoInit() bool { return c.mode&0x10 != 0 }

// DMA is one 8237 controller.
type DMA struct {
	name     string
	channels [dmaChannels]dmaChannel

	command  uint8
	flipflop bool

	serviced uint64
}

func NewDMA(name string) *DMA {
	d := &DMA{name: name}
	d.Reset()
	return d
}

func (d *DMA) Reset() {
	for i := range d.channels {
		d.channels[i] = dmaChannel{masked: true}
	}
	d.command = 0
	d.flipflop = false
}

func (d *DMA) PortList() []uint16 {
	ports := make([]uint16, 0, 16+dmaChannels)
	for p := uint16(0x00); p <= 0x0F; p++ {
		ports = append(ports, p)
	}
	ports = append(ports, dmaPagePorts[:]...)
	return ports
}

func (d *DMA) ReadU8(port uint16, delta TimeUnit) uint8 {
	switch {
	case port <= 0x07:
		ch := &d.channels[port>>1]
		if port&1 == 0 {
			return d.readU16Reg(&ch.currentAddress)
		}
		return d.readU16Reg(&ch.currentCount)
	case port == dmaPortStatusCommand:
		return d.readStatus()
	default:
		for i, pp := range dmaPagePorts {
			if pp == port {
				return d.channels[i].page
			}
		}
	}
	return NoIOByte
}

func (d *DMA) WriteU8(port uint16, data uint8, b *Bus, delta TimeUnit) {
	switch {
	case port <= 0x07:
		ch := &d.channels[port>>1]
		if port&1 == 0 {
			d.writeU16Reg(&ch.baseAddress, data)
			ch.currentAddress = ch.baseAddress
		} else {
			d.writeU16Reg(&ch.baseCount, data)
			ch.currentCount = ch.baseCount
		}
	case port == dmaPortStatusCommand:
		d.command = data
	case port == dmaPortRequest:
		d.channels[data&0x03].requested = data&0x04 != 0
	case port == dmaPortSingleMask:
		d.channels[data&0x03].masked = data&0x04 != 0
	case port == dmaPortMode:
		ch := &d.channels[data&0x03]
		ch.mode = data
		ch.terminalCount = false
		log.ModDma.DebugZ("channel mode set").
			String("dma", d.name).
			Int("ch", int(data&0x03)).
			Hex8("mode", data).
			End()
	case port == dmaPortClearFlipFlop:
		d.flipflop = false
	case port == dmaPortMasterClear:
		d.Reset()
	case port == dmaPortClearMask:
		for i := range d.channels {
			d.channels[i].masked = false
		}
	case port == dmaPortWriteAllMask:
		for i := range d.channels {
			d.channels[i].masked = data&(1<<i) != 0
		}
	default:
		for i, pp := range dmaPagePorts {
			if pp == port {
				d.channels[i].page = data
			}
		}
	}
}

// The 16-bit channel registers are accessed byte-at-a-time through a shared
// first/last flip-flop.
func (d *DMA) readU16Reg(reg *uint16) uint8 {
	d.flipflop = !d.flipflop
	if d.flipflop {
		return uint8(*reg)
	}
	return uint8(*reg >> 8)
}

func (d *DMA) writeU16Reg(reg *uint16, data uint8) {
	d.flipflop = !d.flipflop
	if d.flipflop {
		*reg = *reg&0xFF00 | uint16(data)
	} else {
		*reg = *reg&0x00FF | uint16(data)<<8
	}
}

// readStatus returns the terminal-count and request bits, clearing the
// terminal-count bits on read as the hardware does.
func (d *DMA) readStatus() uint8 {
	var status uint8
	for i := range d.channels {
		if d.channels[i].terminalCount {
			status |= 1 << i
			d.channels[i].terminalCount = false
		}
		if d.channels[i].requested {
			status |= 1 << (i + 4)
		}
	}
	return status
}

// CheckDMAReady reports whether a channel is programmed and unmasked, i.e.
// a peripheral transfer request would be serviced.
func (d *DMA) CheckDMAReady(ch int) bool {
	c := &d.channels[ch]
	return !c.masked && c.transferType() != dmaVerify
}

// CheckTerminalCount reports whether a channel has reached terminal count
// since it was last programmed.
func (d *DMA) CheckTerminalCount(ch int) bool {
	return d.channels[ch].terminalCount
}

func (c *dmaChannel) physicalAddress() int {
	return int(c.page)<<16 | int(c.currentAddress)
}

// advance steps a channel's address and count after one byte, handling
// terminal count and auto-initialization.
func (c *dmaChannel) advance() {
	if c.mode&0x20 != 0 {
		c.currentAddress--
	} else {
		c.currentAddress++
	}
	if c.currentCount == 0 {
		c.terminalCount = true
		if c.autoInit() {
			c.currentAddress = c.baseAddress
			c.currentCount = c.baseCount
		}
		return
	}
	c.currentCount--
}

// DoDMAReadU8 performs one memory-to-device byte on behalf of a peripheral.
func (d *DMA) DoDMAReadU8(b *Bus, ch int) uint8 {
	c := &d.channels[ch]
	data, err := b.PeekU8(c.physicalAddress())
	if err != nil {
		data = OpenBusByte
	}
	c.advance()
	d.serviced++
	return data
}

// DoDMAWriteU8 performs one device-to-memory byte on behalf of a peripheral.
func (d *DMA) DoDMAWriteU8(b *Bus, ch int, data uint8) {
	c := &d.channels[ch]
	if _, err := b.WriteU8(c.physicalAddress(), data, 0); err != nil {
		log.ModDma.DebugZ("dma write out of range").
			String("dma", d.name).
			Int("ch", ch).
			Hex32("addr", uint32(c.physicalAddress())).
			End()
	}
	c.advance()
	d.serviced++
}

// Run executes the controller's own slice. The only self-driven activity is
// the channel 0 refresh dummy cycle, which touches no memory; peripheral
// channels were already serviced by their owners.
func (d *DMA) Run(b *Bus) {
	c := &d.channels[0]
	if c.masked || !c.requested {
		return
	}
	c.advance()
	c.requested = false
	_ = b
}
