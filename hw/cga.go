package hw

// CGA color graphics adapter. The timing model is tick-based: the card's
// dot clock is the system crystal itself, so beam position advances in
// whole system ticks and VRAM accesses report the wait needed to reach the
// next character boundary. Scheduler-side tick accumulation keeps the
// per-slice advance coarse enough to stay cheap.

const (
	CGAMemAddress  = 0xB8000
	CGAMemAperture = 0x4000

	cgaVramSize = 0x4000

	cgaPortCrtcAddressBase = 0x3D0 // even ports 0x3D0..0x3D6
	cgaPortCrtcDataBase    = 0x3D1 // odd ports 0x3D1..0x3D7
	cgaPortMode            = 0x3D8
	cgaPortColor           = 0x3D9
	cgaPortStatus          = 0x3DA

	// One low-resolution character is 16 dot clocks. At the BIOS defaults a
	// scanline is 912 ticks and a frame 262 scanlines.
	cgaTicksPerChar   = 16
	cgaTicksPerLine   = 912
	cgaLinesPerFrame  = 262
	cgaLinesDisplayed = 200
	cgaTicksPerFrame  = cgaTicksPerLine * cgaLinesPerFrame

	// Status register bits.
	cgaStatusDisplayEnable = 0x01 // set when the beam is outside active display
	cgaStatusVRetrace      = 0x08
)

// Mode register bits.
const (
	cgaMode80Col       = 0x01
	cgaModeGraphics    = 0x02
	cgaModeBW          = 0x04
	cgaModeVideoEnable = 0x08
	cgaModeHiResGfx    = 0x10
	cgaModeBlink       = 0x20
)

// CGACard is one color graphics adapter.
type CGACard struct {
	crtc crtc6845
	vram [cgaVramSize]uint8

	mode  uint8
	color uint8

	frameTicks uint64 // tick position within the current frame
	totalTicks uint64
	frames     uint64
}

func NewCGACard() *CGACard {
	return &CGACard{}
}

func (c *CGACard) Reset() {
	c.crtc = crtc6845{}
	c.mode = 0
	c.color = 0
	c.frameTicks = 0
}

func (c *CGACard) PortList() []uint16 {
	ports := []uint16{cgaPortMode, cgaPortColor, cgaPortStatus}
	for off := uint16(0); off < 8; off++ {
		ports = append(ports, cgaPortCrtcAddressBase+off)
	}
	return ports
}

func (c *CGACard) ReadU8(port uint16, delta TimeUnit) uint8 {
	switch {
	case port == cgaPortStatus:
		return c.status(delta.Ticks())
	case port == cgaPortMode, port == cgaPortColor:
		// Write-only registers.
		return NoIOByte
	case port&1 == 1:
		return c.crtc.readData()
	}
	return NoIOByte
}

func (c *CGACard) WriteU8(port uint16, data uint8, b *Bus, delta TimeUnit) {
	switch {
	case port == cgaPortMode:
		c.mode = data
	case port == cgaPortColor:
		c.color = data
	case port&1 == 0:
		c.crtc.selectReg(data)
	default:
		c.crtc.writeData(data)
	}
}

// status derives the retrace bits from the beam position, offset by the
// ticks elapsed since the last run slice so polling loops observe the bits
// moving.
func (c *CGACard) status(deltaTicks uint32) uint8 {
	pos := (c.frameTicks + uint64(deltaTicks)) % cgaTicksPerFrame
	line := pos / cgaTicksPerLine
	tickOfLine := pos % cgaTicksPerLine

	var status uint8
	if line >= cgaLinesDisplayed {
		status |= cgaStatusDisplayEnable
		if line >= cgaLinesDisplayed+24 {
			status |= cgaStatusVRetrace
		}
	} else if tickOfLine >= cgaTicksPerLine*4/5 {
		status |= cgaStatusDisplayEnable
	}
	return status
}

// Run advances the beam by whole system ticks. The CGA has no retrace
// interrupt; the interrupt controller reference exists for parity with
// adapters that do.
func (c *CGACard) Run(delta TimeUnit, pic *PIC) {
	ticks := uint64(delta.Ticks())
	c.frames += (c.frameTicks + ticks) / cgaTicksPerFrame
	c.frameTicks = (c.frameTicks + ticks) % cgaTicksPerFrame
	c.totalTicks += ticks
	_ = pic
}

// ScreenTicks returns the tick position within the current frame.
func (c *CGACard) ScreenTicks() uint64 {
	return c.frameTicks
}

// VramSnapshot returns the display memory for the rendering layer.
func (c *CGACard) VramSnapshot() []uint8 {
	return c.vram[:]
}

func (c *CGACard) vramIndex(addr int) int {
	return addr & (cgaVramSize - 1)
}

// waitTicks returns the ticks needed to reach the next character boundary
// from the current beam position plus the elapsed ticks of the access.
func (c *CGACard) waitTicks(ticks uint32) uint32 {
	phase := (c.frameTicks + uint64(ticks)) % cgaTicksPerChar
	return uint32((cgaTicksPerChar - phase) % cgaTicksPerChar)
}

func (c *CGACard) ReadWait(addr int, ticks uint32) uint32 {
	return c.waitTicks(ticks)
}

func (c *CGACard) WriteWait(addr int, ticks uint32) uint32 {
	return c.waitTicks(ticks)
}

func (c *CGACard) MmioReadU8(addr int, ticks uint32) (uint8, uint32) {
	return c.vram[c.vramIndex(addr)], c.waitTicks(ticks)
}

func (c *CGACard) MmioReadU16(addr int, ticks uint32) (uint16, uint32) {
	lo, w := c.MmioReadU8(addr, ticks)
	hi := c.vram[c.vramIndex(addr+1)]
	return uint16(lo) | uint16(hi)<<8, w
}

func (c *CGACard) MmioPeekU8(addr int) uint8 {
	return c.vram[c.vramIndex(addr)]
}

func (c *CGACard) MmioPeekU16(addr int) uint16 {
	return uint16(c.MmioPeekU8(addr)) | uint16(c.MmioPeekU8(addr+1))<<8
}

func (c *CGACard) MmioWriteU8(addr int, data uint8, ticks uint32) uint32 {
	c.vram[c.vramIndex(addr)] = data
	return c.waitTicks(ticks)
}

func (c *CGACard) MmioWriteU16(addr int, data uint16, ticks uint32) uint32 {
	w := c.MmioWriteU8(addr, uint8(data), ticks)
	c.vram[c.vramIndex(addr+1)] = uint8(data >> 8)
	return w
}
