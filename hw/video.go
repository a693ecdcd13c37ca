package hw

// Motorola 6845 CRT controller, the register file shared by both video card
// types. The cards derive their sync timing from these registers; rendering
// is outside the core and consumes the VRAM snapshot instead.

const crtcNumRegs = 18

// CRTC register indices.
const (
	crtcHorizontalTotal = iota
	crtcHorizontalDisplayed
	crtcHorizontalSyncPos
	crtcSyncWidth
	crtcVerticalTotal
	crtcVerticalTotalAdjust
	crtcVerticalDisplayed
	crtcVerticalSyncPos
	crtcInterlaceMode
	crtcMaxScanlineAddr
	crtcCursorStart
	crtcCursorEnd
	crtcStartAddressHigh
	crtcStartAddressLow
	crtcCursorAddressHigh
	crtcCursorAddressLow
	crtcLightPenHigh
	crtcLightPenLow
)

// crtc6845 is the register file of one 6845.
type crtc6845 struct {
	selected uint8
	regs     [crtcNumRegs]uint8
}

func (c *crtc6845) selectReg(r uint8) {
	if r < crtcNumRegs {
		c.selected = r
	}
}

func (c *crtc6845) writeData(data uint8) {
	c.regs[c.selected] = data
}

// readData returns the selected register. Only the cursor and light pen
// registers are readable on real hardware; the rest read back their written
// value here, which software never relies on.
func (c *crtc6845) readData() uint8 {
	return c.regs[c.selected]
}

func (c *crtc6845) startAddress() uint16 {
	return uint16(c.regs[crtcStartAddressHigh])<<8 | uint16(c.regs[crtcStartAddressLow])
}

func (c *crtc6845) cursorAddress() uint16 {
	return uint16(c.regs[crtcCursorAddressHigh])<<8 | uint16(c.regs[crtcCursorAddressLow])
}
