package hw

// MDA monochrome display adapter. The timing model is microsecond-based:
// character clock and scanline periods derive from the fixed 16.257 MHz dot
// clock, and the status register hsync/video bits follow the computed beam
// position. The card raises no interrupts.

const (
	MDAMemAddress  = 0xB0000
	MDAMemAperture = 0x2000 // 4K of VRAM, mirrored once

	mdaVramSize = 0x1000

	mdaPortCrtcAddressBase = 0x3B0 // even ports 0x3B0..0x3B6
	mdaPortCrtcDataBase    = 0x3B1 // odd ports 0x3B1..0x3B7
	mdaPortMode            = 0x3B8
	mdaPortStatus          = 0x3BA

	// 16.257 MHz dot clock, 9 dots per character.
	mdaUsPerChar     = 9.0 / 16.257
	mdaCharsPerLine  = 98  // horizontal total at BIOS defaults
	mdaLinesPerFrame = 370 // vertical total at BIOS defaults

	// Status register bits. Bit 3 is the inverse video signal, bit 0 the
	// horizontal retrace.
	mdaStatusHRetrace = 0x01
	mdaStatusVideo    = 0x08

	// Every VRAM access is stretched to the next character boundary.
	mdaAccessWaitTicks = 4
)

// Mode register bits.
const (
	mdaModeHiRes       = 0x01
	mdaModeVideoEnable = 0x08
	mdaModeBlink       = 0x20
)

// MDACard is one monochrome display adapter.
type MDACard struct {
	crtc crtc6845
	vram [mdaVramSize]uint8

	mode uint8

	usCharAccum float64
	charCounter uint64
	frames      uint64
}

func NewMDACard() *MDACard {
	return &MDACard{}
}

func (m *MDACard) Reset() {
	m.crtc = crtc6845{}
	m.mode = 0
	m.usCharAccum = 0
	m.charCounter = 0
}

func (m *MDACard) PortList() []uint16 {
	ports := []uint16{mdaPortMode, mdaPortStatus}
	for off := uint16(0); off < 8; off++ {
		ports = append(ports, mdaPortCrtcAddressBase+off)
	}
	return ports
}

func (m *MDACard) ReadU8(port uint16, delta TimeUnit) uint8 {
	switch {
	case port == mdaPortStatus:
		return m.status()
	case port == mdaPortMode:
		// Write-only on the MDA.
		return NoIOByte
	case port&1 == 1:
		return m.crtc.readData()
	}
	return NoIOByte
}

func (m *MDACard) WriteU8(port uint16, data uint8, b *Bus, delta TimeUnit) {
	switch {
	case port == mdaPortMode:
		m.mode = data
	case port&1 == 0:
		m.crtc.selectReg(data)
	default:
		m.crtc.writeData(data)
	}
}

// status derives the retrace bits from the beam position. Software polls
// this register in a tight loop, so the bits must advance even between run
// slices; the per-frame character counter provides the phase.
func (m *MDACard) status() uint8 {
	var status uint8

	charOfLine := m.charCounter % mdaCharsPerLine
	if charOfLine >= mdaCharsPerLine*4/5 {
		status |= mdaStatusHRetrace
	}
	line := m.charCounter / mdaCharsPerLine % mdaLinesPerFrame
	if line < 350 && m.mode&mdaModeVideoEnable != 0 {
		status |= mdaStatusVideo
	}
	return status
}

// Run advances the beam by the elapsed microseconds. The interrupt
// controller goes unused: the MDA has no retrace interrupt.
func (m *MDACard) Run(delta TimeUnit, pic *PIC) {
	m.usCharAccum += delta.Us()
	chars := uint64(m.usCharAccum / mdaUsPerChar)
	m.usCharAccum -= float64(chars) * mdaUsPerChar

	frameChars := uint64(mdaCharsPerLine) * mdaLinesPerFrame
	m.frames += (m.charCounter%frameChars + chars) / frameChars
	m.charCounter += chars
	_ = pic
}

// VramSnapshot returns the display memory for the rendering layer.
func (m *MDACard) VramSnapshot() []uint8 {
	return m.vram[:]
}

func (m *MDACard) vramIndex(addr int) int {
	return addr & (mdaVramSize - 1)
}

func (m *MDACard) ReadWait(addr int, ticks uint32) uint32 {
	return mdaAccessWaitTicks
}

func (m *MDACard) WriteWait(addr int, ticks uint32) uint32 {
	return mdaAccessWaitTicks
}

func (m *MDACard) MmioReadU8(addr int, ticks uint32) (uint8, uint32) {
	return m.vram[m.vramIndex(addr)], mdaAccessWaitTicks
}

func (m *MDACard) MmioReadU16(addr int, ticks uint32) (uint16, uint32) {
	lo, w1 := m.MmioReadU8(addr, ticks)
	hi, w2 := m.MmioReadU8(addr+1, 0)
	return uint16(lo) | uint16(hi)<<8, w1 + w2
}

func (m *MDACard) MmioPeekU8(addr int) uint8 {
	return m.vram[m.vramIndex(addr)]
}

func (m *MDACard) MmioPeekU16(addr int) uint16 {
	return uint16(m.MmioPeekU8(addr)) | uint16(m.MmioPeekU8(addr+1))<<8
}

func (m *MDACard) MmioWriteU8(addr int, data uint8, ticks uint32) uint32 {
	m.vram[m.vramIndex(addr)] = data
	return mdaAccessWaitTicks
}

func (m *MDACard) MmioWriteU16(addr int, data uint16, ticks uint32) uint32 {
	w1 := m.MmioWriteU8(addr, uint8(data), ticks)
	w2 := m.MmioWriteU8(addr+1, uint8(data>>8), 0)
	return w1 + w2
}
