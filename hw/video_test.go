package hw

import "testing"

func TestCRTCRegisterFile(t *testing.T) {
	var crtc crtc6845

	crtc.selectReg(crtcStartAddressHigh)
	crtc.writeData(0x01)
	crtc.selectReg(crtcStartAddressLow)
	crtc.writeData(0x80)
	if got := crtc.startAddress(); got != 0x0180 {
		t.Errorf("start address = %#04x, want 0x0180", got)
	}

	crtc.selectReg(crtcCursorAddressHigh)
	crtc.writeData(0x02)
	crtc.selectReg(crtcCursorAddressLow)
	crtc.writeData(0x50)
	if got := crtc.cursorAddress(); got != 0x0250 {
		t.Errorf("cursor address = %#04x, want 0x0250", got)
	}
	if got := crtc.readData(); got != 0x50 {
		t.Errorf("readData = %#02x, want 0x50 (selected register)", got)
	}
}

func TestCGAStatusProgression(t *testing.T) {
	c := NewCGACard()

	// Start of frame: active display, no retrace bits.
	if status := c.status(0); status&cgaStatusDisplayEnable != 0 {
		t.Errorf("status = %#02x at frame start", status)
	}

	// Past the displayed lines the display-enable bit sets, and deeper into
	// the border the vertical retrace bit follows.
	c.Run(SystemTicks(cgaLinesDisplayed*cgaTicksPerLine), nil)
	if status := c.status(0); status&cgaStatusDisplayEnable == 0 {
		t.Errorf("status = %#02x after displayed lines", status)
	}
	c.Run(SystemTicks(24*cgaTicksPerLine), nil)
	if status := c.status(0); status&cgaStatusVRetrace == 0 {
		t.Errorf("status = %#02x in vertical retrace", status)
	}

	// Wrapping the frame clears them again.
	c.Run(SystemTicks(cgaTicksPerFrame-cgaLinesDisplayed*cgaTicksPerLine-24*cgaTicksPerLine), nil)
	if c.ScreenTicks() != 0 {
		t.Fatalf("frame position = %d after full frame, want 0", c.ScreenTicks())
	}
	if status := c.status(0); status&(cgaStatusDisplayEnable|cgaStatusVRetrace) != 0 {
		t.Errorf("status = %#02x after frame wrap", status)
	}

	// The elapsed-tick offset lets polling loops observe the bits moving
	// between run slices.
	if status := c.status(cgaLinesDisplayed * cgaTicksPerLine); status&cgaStatusDisplayEnable == 0 {
		t.Error("status offset by elapsed ticks ignored")
	}
}

func TestCGAWaitToCharBoundary(t *testing.T) {
	c := NewCGACard()

	// At a character boundary the access is free; mid-character it stretches
	// to the next boundary.
	if got := c.waitTicks(0); got != 0 {
		t.Errorf("wait at boundary = %d, want 0", got)
	}
	c.Run(SystemTicks(3), nil)
	if got := c.waitTicks(0); got != 13 {
		t.Errorf("wait at phase 3 = %d, want 13", got)
	}
	if got := c.waitTicks(5); got != 8 {
		t.Errorf("wait at phase 3+5 = %d, want 8", got)
	}
}

func TestCGAVramWraps(t *testing.T) {
	c := NewCGACard()
	c.MmioWriteU8(CGAMemAddress+0x123, 0x41, 0)
	if got, _ := c.MmioReadU8(CGAMemAddress+0x123, 0); got != 0x41 {
		t.Errorf("vram read = %#02x, want 0x41", got)
	}
	// Addresses index VRAM modulo its size regardless of the aperture base.
	if got := c.MmioPeekU8(0x123); got != 0x41 {
		t.Errorf("vram alias read = %#02x, want 0x41", got)
	}
}

func TestMDAStatusAndMirror(t *testing.T) {
	m := NewMDACard()
	m.WriteU8(mdaPortMode, mdaModeHiRes|mdaModeVideoEnable, nil, Microseconds(0))

	// Video bit set inside the displayed lines with video enabled.
	if status := m.ReadU8(mdaPortStatus, Microseconds(0)); status&mdaStatusVideo == 0 {
		t.Errorf("status = %#02x, video bit missing", status)
	}

	// Advance toward the end of a scanline: horizontal retrace sets.
	m.Run(Microseconds(80*mdaUsPerChar), nil)
	if status := m.ReadU8(mdaPortStatus, Microseconds(0)); status&mdaStatusHRetrace == 0 {
		t.Errorf("status = %#02x, hsync bit missing at char 80", status)
	}

	// The 4K VRAM mirrors across the 8K aperture.
	m.MmioWriteU8(MDAMemAddress+0x10, 0x5A, 0)
	if got := m.MmioPeekU8(MDAMemAddress + 0x1010); got != 0x5A {
		t.Errorf("mirrored read = %#02x, want 0x5A", got)
	}
}

func TestMDAFixedWait(t *testing.T) {
	m := NewMDACard()
	if got := m.ReadWait(MDAMemAddress, 7); got != mdaAccessWaitTicks {
		t.Errorf("read wait = %d, want %d", got, mdaAccessWaitTicks)
	}
	if got := m.MmioWriteU8(MDAMemAddress, 0, 3); got != mdaAccessWaitTicks {
		t.Errorf("write wait = %d, want %d", got, mdaAccessWaitTicks)
	}
}
