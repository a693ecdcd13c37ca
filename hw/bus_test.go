package hw

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	return NewBus(Divisor(3), testDescriptor(t))
}

func newInstalledBus(t *testing.T) *Bus {
	t.Helper()
	b := newTestBus(t)
	cfg := DefaultMachineConfig()
	if err := b.InstallDevices(&cfg); err != nil {
		t.Fatalf("InstallDevices: %v", err)
	}
	return b
}

func TestReadWriteRawMemory(t *testing.T) {
	b := newTestBus(t)

	wait, err := b.WriteU8(0x1234, 0xAB, 4)
	if err != nil {
		t.Fatalf("WriteU8: %v", err)
	}
	if wait != 0 {
		t.Errorf("raw write wait = %d, want 0", wait)
	}
	got, _, err := b.ReadU8(0x1234, 4)
	if err != nil {
		t.Fatalf("ReadU8: %v", err)
	}
	if got != 0xAB {
		t.Errorf("ReadU8 = %#02x, want 0xAB", got)
	}

	if _, err := b.WriteU16(0x2000, 0xBEEF, 4); err != nil {
		t.Fatalf("WriteU16: %v", err)
	}
	w, _, err := b.ReadU16(0x2000, 4)
	if err != nil {
		t.Fatalf("ReadU16: %v", err)
	}
	if w != 0xBEEF {
		t.Errorf("ReadU16 = %#04x, want 0xBEEF", w)
	}
	if lo, _ := b.PeekU8(0x2000); lo != 0xEF {
		t.Errorf("low byte = %#02x, want 0xEF (little endian)", lo)
	}
}

func TestOutOfBoundsAccess(t *testing.T) {
	b := newTestBus(t)

	if _, _, err := b.ReadU8(AddressSpace, 0); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("ReadU8 past end: got %v, want ErrOutOfBounds", err)
	}
	if _, err := b.WriteU8(AddressSpace, 0, 0); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("WriteU8 past end: got %v, want ErrOutOfBounds", err)
	}
	// A word read needs both bytes in range.
	if _, _, err := b.ReadU16(AddressSpace-1, 0); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("ReadU16 straddling end: got %v, want ErrOutOfBounds", err)
	}
	if err := b.CopyFrom(make([]uint8, 0x100), AddressSpace-0x80, 0, false); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("CopyFrom past end: got %v, want ErrOutOfBounds", err)
	}
}

func TestROMWriteDiscarded(t *testing.T) {
	b := newTestBus(t)
	rom := []uint8{0xDE, 0xAD, 0xBE, 0xEF}
	if err := b.CopyFrom(rom, 0xF0000, 0, true); err != nil {
		t.Fatalf("CopyFrom: %v", err)
	}

	if b.Flags(0xF0002)&MemROM == 0 {
		t.Fatal("ROM flag not set after read-only copy")
	}
	wait, err := b.WriteU8(0xF0002, 0x00, 4)
	if err != nil {
		t.Fatalf("WriteU8 to ROM: %v", err)
	}
	if wait != 0 {
		t.Errorf("ROM write wait = %d, want 0", wait)
	}
	if got, _ := b.PeekU8(0xF0002); got != 0xBE {
		t.Errorf("ROM byte = %#02x after discarded write, want 0xBE", got)
	}
}

func TestConventionalBoundaryWriteDiscarded(t *testing.T) {
	b := newTestBus(t)
	b.SetConventionalSize(0x1000)

	before := make([]uint8, AddressSpace)
	copy(before, b.SliceAt(0, AddressSpace))

	if _, err := b.WriteU8(0x2000, 0xAA, 4); err != nil {
		t.Fatalf("WriteU8: %v", err)
	}
	// A word straddling the boundary writes only the in-range low byte.
	if _, err := b.WriteU16(0x0FFF, 0xBBCC, 4); err != nil {
		t.Fatalf("WriteU16: %v", err)
	}
	before[0x0FFF] = 0xCC

	if diff := cmp.Diff(before, b.SliceAt(0, AddressSpace)); diff != "" {
		t.Fatalf("memory mismatch after boundary writes (-want +got):\n%s", diff)
	}
}

func TestRegisterMapBadSizePanics(t *testing.T) {
	b := newTestBus(t)
	defer func() {
		if recover() == nil {
			t.Fatal("RegisterMap with non-multiple size did not panic")
		}
	}()
	b.RegisterMap(MmioDevice{Kind: MmioVideo}, MemRangeDescriptor{
		Address: 0xB0000,
		Size:    0x1000,
	})
}

func TestMmioFallbackAndDispatchError(t *testing.T) {
	b := newTestBus(t)

	// An MMIO-flagged address whose bucket names no device reads raw memory.
	b.memory[0x30000] = 0x42
	b.SetFlags(0x30000, MemMMIO)
	got, wait, err := b.ReadU8(0x30000, 4)
	if err != nil {
		t.Fatalf("fallback ReadU8: %v", err)
	}
	if got != 0x42 || wait != 0 {
		t.Errorf("fallback read = (%#02x, %d), want (0x42, 0)", got, wait)
	}

	// A bucket naming a video card that was never installed is a hard error.
	b.RegisterMap(MmioDevice{Kind: MmioVideo, Video: VideoCardID{Idx: 0, Type: VideoCGA}},
		MemRangeDescriptor{Address: 0xB8000, Size: 0x4000})
	if _, _, err := b.ReadU8(0xB8000, 4); !errors.Is(err, ErrMmioDispatch) {
		t.Errorf("ReadU8 on orphaned bucket: got %v, want ErrMmioDispatch", err)
	}

	// Wait queries never fail on dispatch; they cost the default wait states.
	wait, err = b.ReadWait(0xB8000, 4)
	if err != nil || wait != 0 {
		t.Errorf("ReadWait on orphaned bucket = (%d, %v), want (0, nil)", wait, err)
	}
	wait, err = b.WriteWait(0xB8000, 4)
	if err != nil || wait != 0 {
		t.Errorf("WriteWait on orphaned bucket = (%d, %v), want (0, nil)", wait, err)
	}
}

func TestMmioRegistrationOrderPreserved(t *testing.T) {
	b := newTestBus(t)
	first := MemRangeDescriptor{Address: 0xB8000, Size: 0x4000}
	second := MemRangeDescriptor{Address: 0xB8000, Size: 0x2000}
	b.RegisterMap(MmioDevice{Kind: MmioVideo, Video: VideoCardID{Idx: 0, Type: VideoCGA}}, first)
	b.RegisterMap(MmioDevice{Kind: MmioVideo, Video: VideoCardID{Idx: 1, Type: VideoCGA}}, second)

	want := []MemRangeDescriptor{first, second}
	if diff := cmp.Diff(want, b.MmioRegistrations()); diff != "" {
		t.Fatalf("registration list mismatch (-want +got):\n%s", diff)
	}
	// The fast map is last-write-wins for the overlapping bucket.
	if tag := b.mmioFast[0xB8000>>mmioMapShift]; tag.Video.Idx != 1 {
		t.Errorf("fast map bucket owned by card %d, want 1", tag.Video.Idx)
	}
}

func TestWriteWaitMatchesWrite(t *testing.T) {
	b := newInstalledBus(t)

	for _, addr := range []int{CGAMemAddress, CGAMemAddress + 0x1FFF, CGAMemAddress + 0x3FFF} {
		predicted, err := b.WriteWait(addr, 4)
		if err != nil {
			t.Fatalf("WriteWait(%#05x): %v", addr, err)
		}
		actual, err := b.WriteU8(addr, 0x55, 4)
		if err != nil {
			t.Fatalf("WriteU8(%#05x): %v", addr, err)
		}
		if predicted != actual {
			t.Errorf("addr %#05x: predicted wait %d, write reported %d", addr, predicted, actual)
		}
	}
}

func TestMmioWordWriteSingleDispatch(t *testing.T) {
	b := newInstalledBus(t)

	// Move the beam off a character boundary first: a write split into two
	// byte dispatches would bill the snow-avoidance wait twice.
	runSlice(b, 0, 9, nil, nil)

	predicted, err := b.WriteWait(CGAMemAddress, 0)
	if err != nil {
		t.Fatalf("WriteWait: %v", err)
	}
	actual, err := b.WriteU16(CGAMemAddress, 0x4142, 0)
	if err != nil {
		t.Fatalf("WriteU16: %v", err)
	}
	if actual != predicted {
		t.Errorf("word write wait = %d cycles, want the single-access wait %d", actual, predicted)
	}

	got, err := b.PeekU16(CGAMemAddress)
	if err != nil {
		t.Fatalf("PeekU16: %v", err)
	}
	if got != 0x4142 {
		t.Errorf("read back %#04x, want 0x4142", got)
	}
}

func TestVRAMReadBack(t *testing.T) {
	b := newInstalledBus(t)

	if _, err := b.WriteU8(CGAMemAddress+0x10, 0x07, 4); err != nil {
		t.Fatalf("WriteU8: %v", err)
	}
	got, _, err := b.ReadU8(CGAMemAddress+0x10, 4)
	if err != nil {
		t.Fatalf("ReadU8: %v", err)
	}
	if got != 0x07 {
		t.Errorf("VRAM read = %#02x, want 0x07", got)
	}
	if peek, _ := b.PeekU8(CGAMemAddress + 0x10); peek != 0x07 {
		t.Errorf("VRAM peek = %#02x, want 0x07", peek)
	}
}

func TestUnmappedIOPort(t *testing.T) {
	b := newInstalledBus(t)

	if got := b.IoReadU8(0x278, 4); got != NoIOByte {
		t.Errorf("unmapped port read = %#02x, want %#02x", got, NoIOByte)
	}
	// Unmapped writes are ignored.
	b.IoWriteU8(0x278, 0xAA, 4)
}

func TestIOPortDispatch(t *testing.T) {
	b := newInstalledBus(t)

	// OCW1 on the interrupt controller's data port sets the mask, which reads
	// back from the same port.
	b.IoWriteU8(0x21, 0xA5, 4)
	if got := b.IoReadU8(0x21, 4); got != 0xA5 {
		t.Errorf("IMR read = %#02x, want 0xA5", got)
	}
	if got := b.Pic().IMR(); got != 0xA5 {
		t.Errorf("PIC IMR = %#02x, want 0xA5", got)
	}
}

func TestCheckpoints(t *testing.T) {
	b := newTestBus(t)

	b.InstallCheckpoints([]Checkpoint{{Addr: 0xFE000}, {Addr: 0x7C00}})
	if b.Flags(0xFE000)&MemCheckpoint == 0 || b.Flags(0x7C00)&MemCheckpoint == 0 {
		t.Fatal("checkpoint flags not set")
	}
	b.ClearCheckpoints()
	if b.Flags(0xFE000)&MemCheckpoint != 0 {
		t.Error("checkpoint flag survived ClearCheckpoints")
	}
}

func TestClearPreservesFlags(t *testing.T) {
	b := newTestBus(t)
	if err := b.CopyFrom([]uint8{1, 2, 3, 4}, 0xFE000, 0, true); err != nil {
		t.Fatalf("CopyFrom: %v", err)
	}
	b.SetFlags(0xFE000, MemRet)
	if _, err := b.WriteU8(0x100, 0x99, 0); err != nil {
		t.Fatalf("WriteU8: %v", err)
	}

	b.Clear()

	if got, _ := b.PeekU8(0x100); got != 0 {
		t.Errorf("conventional byte = %#02x after Clear, want 0", got)
	}
	if b.Flags(0xFE000)&MemROM == 0 {
		t.Error("ROM flag stripped by Clear")
	}
	if b.Flags(0xFE000)&MemRet != 0 {
		t.Error("return-address flag survived Clear")
	}
}

func TestPatchFromWritesROM(t *testing.T) {
	b := newTestBus(t)
	if err := b.CopyFrom([]uint8{0xEA, 0x00}, 0xFFFF0, 0, true); err != nil {
		t.Fatalf("CopyFrom: %v", err)
	}
	if err := b.PatchFrom([]uint8{0x90}, 0xFFFF0); err != nil {
		t.Fatalf("PatchFrom: %v", err)
	}
	if got, _ := b.PeekU8(0xFFFF0); got != 0x90 {
		t.Errorf("patched byte = %#02x, want 0x90", got)
	}
}
