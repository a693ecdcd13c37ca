package hw

import "testing"

// programDMAChannel sets up a channel through the IO ports: mode, base
// address, count and page, then unmasks it.
func programDMAChannel(b *Bus, ch int, mode uint8, addr uint16, count uint16, page uint8) {
	b.IoWriteU8(0x0B, mode|uint8(ch), 4)
	b.IoWriteU8(0x0C, 0, 4) // clear flip-flop
	addrPort := uint16(ch << 1)
	b.IoWriteU8(addrPort, uint8(addr), 4)
	b.IoWriteU8(addrPort, uint8(addr>>8), 4)
	b.IoWriteU8(addrPort+1, uint8(count), 4)
	b.IoWriteU8(addrPort+1, uint8(count>>8), 4)
	b.IoWriteU8(dmaPagePorts[ch], page, 4)
	b.IoWriteU8(0x0A, uint8(ch), 4) // clear the channel's mask bit
}

func TestDMADeviceToMemoryTransfer(t *testing.T) {
	b := newInstalledBus(t)
	dma := b.Dma()

	// Channel 2, single mode, write transfer (device to memory), 4 bytes at
	// physical 0x12000.
	programDMAChannel(b, 2, 0x44, 0x2000, 3, 0x01)
	if !dma.CheckDMAReady(2) {
		t.Fatal("channel not ready after programming")
	}

	for i, v := range []uint8{0xDE, 0xAD, 0xBE, 0xEF} {
		if dma.CheckTerminalCount(2) {
			t.Fatalf("terminal count before byte %d", i)
		}
		dma.DoDMAWriteU8(b, 2, v)
	}
	if !dma.CheckTerminalCount(2) {
		t.Fatal("no terminal count after the programmed length")
	}

	for i, want := range []uint8{0xDE, 0xAD, 0xBE, 0xEF} {
		if got, _ := b.PeekU8(0x12000 + i); got != want {
			t.Errorf("memory[%#05x] = %#02x, want %#02x", 0x12000+i, got, want)
		}
	}

	// The status register reports terminal count once, clearing on read.
	if status := b.IoReadU8(0x08, 4); status&0x04 == 0 {
		t.Error("status missing channel 2 terminal count")
	}
	if status := b.IoReadU8(0x08, 4); status&0x04 != 0 {
		t.Error("terminal count bit survived the status read")
	}
}

func TestDMAMemoryToDeviceTransfer(t *testing.T) {
	b := newInstalledBus(t)
	dma := b.Dma()

	for i, v := range []uint8{1, 2, 3} {
		if _, err := b.WriteU8(0x3000+i, v, 0); err != nil {
			t.Fatalf("WriteU8: %v", err)
		}
	}
	// Channel 3, single mode, read transfer (memory to device).
	programDMAChannel(b, 3, 0x48, 0x3000, 2, 0x00)

	got := []uint8{
		dma.DoDMAReadU8(b, 3),
		dma.DoDMAReadU8(b, 3),
		dma.DoDMAReadU8(b, 3),
	}
	for i, want := range []uint8{1, 2, 3} {
		if got[i] != want {
			t.Errorf("byte %d = %#02x, want %#02x", i, got[i], want)
		}
	}
	if !dma.CheckTerminalCount(3) {
		t.Error("no terminal count after the programmed length")
	}
}

func TestDMAFlipFlopRegisters(t *testing.T) {
	b := newInstalledBus(t)

	b.IoWriteU8(0x0C, 0, 4)
	b.IoWriteU8(0x04, 0x34, 4)
	b.IoWriteU8(0x04, 0x12, 4)

	// Reads go through the same first/last flip-flop.
	b.IoWriteU8(0x0C, 0, 4)
	lo := b.IoReadU8(0x04, 4)
	hi := b.IoReadU8(0x04, 4)
	if got := uint16(lo) | uint16(hi)<<8; got != 0x1234 {
		t.Errorf("address readback = %#04x, want 0x1234", got)
	}
}

func TestDMAMaskGatesReady(t *testing.T) {
	b := newInstalledBus(t)
	dma := b.Dma()

	programDMAChannel(b, 2, 0x44, 0, 0xFF, 0)
	b.IoWriteU8(0x0A, 0x04|2, 4) // set the mask bit
	if dma.CheckDMAReady(2) {
		t.Error("masked channel reported ready")
	}

	// Verify-mode channels are never ready even when unmasked.
	b.IoWriteU8(0x0B, 0x40|2, 4)
	b.IoWriteU8(0x0A, 2, 4)
	if dma.CheckDMAReady(2) {
		t.Error("verify-mode channel reported ready")
	}
}
