package hw

import (
	"errors"
	"fmt"

	"xtem/emu/log"
)

// AddressSpace is the size of the physical address space (1 MiB, 20 bits).
const AddressSpace = 0x100000

const (
	// NoIOByte is the byte read from an unconnected IO port.
	NoIOByte = 0xFF
	// OpenBusByte is the byte read from an unmapped memory address.
	OpenBusByte = 0xFF

	defaultWaitStates = 0
)

// The fast MMIO map divides the address space in fixed-size buckets. Every
// registered MMIO range must be a whole number of buckets.
const (
	MMIOMapSize  = 0x2000
	mmioMapShift = 13
	mmioMapLen   = AddressSpace >> mmioMapShift
)

// Memory flag bits, one flags byte per address.
const (
	MemROM        uint8 = 0b1000_0000 // address is ROM
	MemRet        uint8 = 0b0100_0000 // address is a return address for a CALL or INT
	MemBPExec     uint8 = 0b0010_0000 // breakpoint on execute
	MemBPAccess   uint8 = 0b0001_0000 // breakpoint on access
	MemCheckpoint uint8 = 0b0000_1000 // ROM checkpoint
	MemMMIO       uint8 = 0b0000_0100 // address is MMIO mapped
)

var (
	// ErrOutOfBounds reports a memory access beyond the address space.
	ErrOutOfBounds = errors.New("memory access out of bounds")
	// ErrMmioDispatch reports an MMIO-flagged address whose bucket names a
	// device that cannot be resolved to a live instance.
	ErrMmioDispatch = errors.New("unresolvable mmio dispatch")
)

// MemRangeDescriptor records a registered memory range. Descriptors are
// append-only and used for inspection; dispatch decisions use the flags byte
// and the fast MMIO map instead.
type MemRangeDescriptor struct {
	Address   int
	Size      int
	CycleCost uint32
	ReadOnly  bool
}

// MmioKind tags what handles a fast-map bucket.
type MmioKind int

const (
	MmioNone MmioKind = iota
	MmioVideo
)

// MmioDevice tags the owner of an MMIO range; for video it carries the card
// identity, since multiple cards may coexist.
type MmioDevice struct {
	Kind  MmioKind
	Video VideoCardID
}

type mmioRegistration struct {
	desc MemRangeDescriptor
	dev  MmioDevice
}

// ioTag names the device owning an IO port.
type ioTag struct {
	dev DeviceID
	vid VideoCardID
}

// Bus is the system bus. It owns the system memory, the per-address flags,
// and every installed peripheral. This exclusive ownership is what lets
// devices be handed a mutable bus during their own callbacks: the bus
// detaches ("takes") the device from its slot first, so no two live paths
// ever reach the same device.
type Bus struct {
	cpuFactor   ClockFactor
	timingTable [TimingTableLen]TimingTableEntry
	desc        MachineDescriptor

	conventionalSize int
	memory           []uint8
	flags            []uint8
	descriptors      []MemRangeDescriptor

	mmioMap      []mmioRegistration
	mmioFast     [mmioMapLen]MmioDevice
	mmioFirstMap int
	mmioLastMap  int

	ioMap map[uint16]ioTag

	keyboard *Keyboard
	ppi      *PPI
	pit      *PIT
	dma1     *DMA
	dma2     *DMA
	pic1     *PIC
	pic2     *PIC
	serial   *SerialController
	fdc      *FDC
	hdc      *HDC
	mouse    *Mouse

	videoCards []videoSlot

	cyclesToTicks [256]uint32

	// Extra ticks scheduled for the PIT on the next run, used for phase
	// offset adjustment. One-shot: consumed and zeroed after use.
	pitTicksAdvance uint32

	dmaCounter uint16

	timerTrigger1Armed bool
	timerTrigger2Armed bool

	cgaTickAccum  uint32
	kbUsAccum     float64
	refreshActive bool

	turboEnabled bool
	turboPending bool

	compatShim bool
}

// videoSlot is the closed tagged-variant dispatch for installed video cards.
// Only one of the card pointers is set, matching kind.
type videoSlot struct {
	id  VideoCardID
	mda *MDACard
	cga *CGACard
}

// NewBus creates the bus for one machine instance. Devices are installed
// separately with InstallDevices.
func NewBus(cpuFactor ClockFactor, desc MachineDescriptor) *Bus {
	b := &Bus{
		desc:             desc,
		conventionalSize: AddressSpace,
		memory:           make([]uint8, AddressSpace),
		flags:            make([]uint8, AddressSpace),
		ioMap:            make(map[uint16]ioTag),
		mmioFirstMap:     0xFFFFF,
		compatShim:       true,
	}
	b.SetCPUFactor(cpuFactor)
	return b
}

func (b *Bus) Size() int             { return len(b.memory) }
func (b *Bus) ConventionalSize() int { return b.conventionalSize }

func (b *Bus) SetConventionalSize(size int) {
	b.conventionalSize = size
}

// EnableCompatShim toggles the timer-reload compatibility shim applied during
// device runs. Enabled by default.
func (b *Bus) EnableCompatShim(enable bool) {
	b.compatShim = enable
}

// SetTurbo records a front-panel turbo switch change. The toggle surfaces as
// a device event on a subsequent run slice, once no refresh event competes
// for the slot.
func (b *Bus) SetTurbo(enabled bool) {
	if enabled == b.turboEnabled {
		return
	}
	b.turboEnabled = enabled
	b.turboPending = true
}

func (b *Bus) Turbo() bool { return b.turboEnabled }

// RegisterMap registers a memory-mapped device range. The descriptor size
// must be a whole number of fast-map buckets; registration panics otherwise
// since it indicates a device wired with a malformed aperture. Overlapping
// registrations are not rejected: the last one wins in the fast map while
// the authoritative list keeps all of them in registration order.
func (b *Bus) RegisterMap(dev MmioDevice, desc MemRangeDescriptor) {
	if desc.Size%MMIOMapSize != 0 {
		panic(fmt.Sprintf("hw: mmio range size %#x is not a multiple of %#x", desc.Size, MMIOMapSize))
	}

	if desc.Address < b.mmioFirstMap {
		b.mmioFirstMap = desc.Address
	}
	if desc.Address+desc.Size > b.mmioLastMap {
		b.mmioLastMap = desc.Address + desc.Size
	}

	for i := desc.Address; i < desc.Address+desc.Size; i++ {
		b.flags[i] |= MemMMIO
	}

	segs := desc.Size / MMIOMapSize
	for i := 0; i < segs; i++ {
		b.mmioFast[(desc.Address>>mmioMapShift)+i] = dev
	}

	b.mmioMap = append(b.mmioMap, mmioRegistration{desc: desc, dev: dev})

	log.ModBus.DebugZ("registered mmio range").
		Hex32("addr", uint32(desc.Address)).
		Hex32("size", uint32(desc.Size)).
		Stringer("dev", dev.Video).
		End()
}

// MmioRegistrations returns the authoritative registration list, in
// registration order, for inspection tools.
func (b *Bus) MmioRegistrations() []MemRangeDescriptor {
	descs := make([]MemRangeDescriptor, len(b.mmioMap))
	for i, reg := range b.mmioMap {
		descs[i] = reg.desc
	}
	return descs
}

// CopyFrom copies src into memory at location, recording a range descriptor
// and setting the ROM flag when readOnly.
func (b *Bus) CopyFrom(src []uint8, location int, cycleCost uint32, readOnly bool) error {
	if location+len(src) > len(b.memory) {
		return fmt.Errorf("copy to %#05x len %#x: %w", location, len(src), ErrOutOfBounds)
	}

	copy(b.memory[location:], src)
	if readOnly {
		for i := location; i < location+len(src); i++ {
			b.flags[i] |= MemROM
		}
	}

	b.descriptors = append(b.descriptors, MemRangeDescriptor{
		Address:   location,
		Size:      len(src),
		CycleCost: cycleCost,
		ReadOnly:  readOnly,
	})
	return nil
}

// PatchFrom writes src into memory at location, ignoring memory mapping and
// ROM protection. Used by the ROM patching collaborator.
func (b *Bus) PatchFrom(src []uint8, location int) error {
	if location+len(src) > len(b.memory) {
		return fmt.Errorf("patch at %#05x len %#x: %w", location, len(src), ErrOutOfBounds)
	}
	copy(b.memory[location:], src)
	return nil
}

// SliceAt returns a read-only view of memory. The caller must not mutate it.
func (b *Bus) SliceAt(start, length int) []uint8 {
	return b.memory[start : start+length]
}

// SetDescriptor appends a memory range descriptor without copying any data.
func (b *Bus) SetDescriptor(start, size int, cycleCost uint32, readOnly bool) {
	b.descriptors = append(b.descriptors, MemRangeDescriptor{
		Address:   start,
		Size:      size,
		CycleCost: cycleCost,
		ReadOnly:  readOnly,
	})
}

// Descriptors returns the append-only memory range descriptor records.
func (b *Bus) Descriptors() []MemRangeDescriptor { return b.descriptors }

// Clear zeroes memory and drops the return-address flags. ROM, MMIO and
// breakpoint flags are preserved: only the masked bit is touched so clearing
// can never strip the ROM bit.
func (b *Bus) Clear() {
	for i := range b.flags {
		b.flags[i] &^= MemRet
	}
	clear(b.memory)
}

// Reset clears RAM and range descriptors. Installed devices and MMIO/port
// mappings are preserved; device state is reset separately by ResetDevices.
func (b *Bus) Reset() {
	b.descriptors = b.descriptors[:0]
	b.Clear()
}

// Flags returns the flag bits for an address, or 0 out of bounds.
func (b *Bus) Flags(addr int) uint8 {
	if addr >= len(b.memory) {
		return 0
	}
	return b.flags[addr]
}

// SetFlags sets flag bits for an address.
func (b *Bus) SetFlags(addr int, f uint8) {
	if addr >= len(b.memory) {
		return
	}
	b.flags[addr] |= f
}

// ClearFlags clears flag bits for an address.
func (b *Bus) ClearFlags(addr int, f uint8) {
	if addr >= len(b.memory) {
		return
	}
	b.flags[addr] &^= f
}

// Checkpoint flags an address so the machine layer can hand control to a ROM
// patching collaborator when execution reaches it.
type Checkpoint struct {
	Addr uint32
}

func (b *Bus) InstallCheckpoints(checkpoints []Checkpoint) {
	for _, cp := range checkpoints {
		b.flags[int(cp.Addr)&(AddressSpace-1)] |= MemCheckpoint
	}
}

func (b *Bus) ClearCheckpoints() {
	for i := range b.flags {
		b.flags[i] &^= MemCheckpoint
	}
}

// mmioDevice resolves the fast-map bucket for addr. A bucket that names no
// device means the access falls back to raw memory; a bucket naming a video
// card that is not installed is a hard dispatch error.
func (b *Bus) mmioDevice(addr int) (MemoryMappedDevice, error) {
	tag := b.mmioFast[addr>>mmioMapShift]
	switch tag.Kind {
	case MmioVideo:
		for i := range b.videoCards {
			if b.videoCards[i].id == tag.Video {
				return b.videoCards[i].device(), nil
			}
		}
		return nil, fmt.Errorf("%w: no card %v at %#05x", ErrMmioDispatch, tag.Video, addr)
	}
	return nil, nil
}

func (slot *videoSlot) device() MemoryMappedDevice {
	switch slot.id.Type {
	case VideoMDA:
		return slot.mda
	case VideoCGA:
		return slot.cga
	}
	return nil
}

// ReadWait computes the wait states of a read without performing it, in CPU
// cycles. Raw memory costs the default wait states.
func (b *Bus) ReadWait(addr int, cycles uint32) (uint32, error) {
	if addr >= len(b.memory) {
		return 0, fmt.Errorf("read wait at %#05x: %w", addr, ErrOutOfBounds)
	}
	if b.flags[addr]&MemMMIO == 0 {
		return defaultWaitStates, nil
	}

	dev, err := b.mmioDevice(addr)
	if err != nil || dev == nil {
		// Wait queries never fail on dispatch: an unresolvable bucket costs
		// the default wait states, matching the raw-memory fallback.
		return defaultWaitStates, nil
	}
	syswait := dev.ReadWait(addr, b.cyclesToSystemTicks(cycles))
	return b.systemTicksToCPUCycles(syswait), nil
}

// WriteWait computes the wait states of a write without performing it.
func (b *Bus) WriteWait(addr int, cycles uint32) (uint32, error) {
	if addr >= len(b.memory) {
		return 0, fmt.Errorf("write wait at %#05x: %w", addr, ErrOutOfBounds)
	}
	if b.flags[addr]&MemMMIO == 0 {
		return defaultWaitStates, nil
	}

	dev, err := b.mmioDevice(addr)
	if err != nil || dev == nil {
		return defaultWaitStates, nil
	}
	syswait := dev.WriteWait(addr, b.cyclesToSystemTicks(cycles))
	return b.systemTicksToCPUCycles(syswait), nil
}

// ReadU8 reads a byte at a physical address, returning the value and any
// extra wait states in CPU cycles.
func (b *Bus) ReadU8(addr int, cycles uint32) (uint8, uint32, error) {
	if addr >= len(b.memory) {
		return 0, 0, fmt.Errorf("read at %#05x: %w", addr, ErrOutOfBounds)
	}
	if b.flags[addr]&MemMMIO == 0 {
		return b.memory[addr], 0, nil
	}

	dev, err := b.mmioDevice(addr)
	if err != nil {
		return 0, 0, err
	}
	if dev == nil {
		// Bucket names no device: raw memory fallback.
		return b.memory[addr], defaultWaitStates, nil
	}
	data, syswait := dev.MmioReadU8(addr, b.cyclesToSystemTicks(cycles))
	return data, b.systemTicksToCPUCycles(syswait), nil
}

// ReadU16 reads a little-endian word. The whole word must be in bounds.
func (b *Bus) ReadU16(addr int, cycles uint32) (uint16, uint32, error) {
	if addr >= len(b.memory)-1 {
		return 0, 0, fmt.Errorf("read at %#05x: %w", addr, ErrOutOfBounds)
	}
	if b.flags[addr]&MemMMIO == 0 {
		w := uint16(b.memory[addr]) | uint16(b.memory[addr+1])<<8
		return w, defaultWaitStates, nil
	}

	dev, err := b.mmioDevice(addr)
	if err != nil {
		return 0, 0, err
	}
	if dev == nil {
		w := uint16(b.memory[addr]) | uint16(b.memory[addr+1])<<8
		return w, defaultWaitStates, nil
	}
	data, syswait := dev.MmioReadU16(addr, b.cyclesToTicks[cycles&0xFF])
	return data, b.systemTicksToCPUCycles(syswait), nil
}

// PeekU8 reads a byte without side effects, for debugger and inspection use.
// Device state is not advanced and no wait cycles are consumed.
func (b *Bus) PeekU8(addr int) (uint8, error) {
	if addr >= len(b.memory) {
		return 0, fmt.Errorf("peek at %#05x: %w", addr, ErrOutOfBounds)
	}
	if b.flags[addr]&MemMMIO == 0 {
		return b.memory[addr], nil
	}

	dev, err := b.mmioDevice(addr)
	if err != nil {
		return 0, err
	}
	if dev == nil {
		return b.memory[addr], nil
	}
	return dev.MmioPeekU8(addr), nil
}

// PeekU16 is the side-effect-free word read.
func (b *Bus) PeekU16(addr int) (uint16, error) {
	if addr >= len(b.memory)-1 {
		return 0, fmt.Errorf("peek at %#05x: %w", addr, ErrOutOfBounds)
	}
	if b.flags[addr]&MemMMIO == 0 {
		return uint16(b.memory[addr]) | uint16(b.memory[addr+1])<<8, nil
	}

	dev, err := b.mmioDevice(addr)
	if err != nil {
		return 0, err
	}
	if dev == nil {
		return uint16(b.memory[addr]) | uint16(b.memory[addr+1])<<8, nil
	}
	return dev.MmioPeekU16(addr), nil
}

// WriteU8 writes a byte. Writes to ROM and writes beyond the conventional
// memory size are silently discarded: both are defined no-ops, not errors.
func (b *Bus) WriteU8(addr int, data uint8, cycles uint32) (uint32, error) {
	if addr >= len(b.memory) {
		return 0, fmt.Errorf("write at %#05x: %w", addr, ErrOutOfBounds)
	}
	if b.flags[addr]&(MemMMIO|MemROM) == 0 {
		if addr < b.conventionalSize {
			b.memory[addr] = data
		}
		return defaultWaitStates, nil
	}
	if b.flags[addr]&MemMMIO == 0 {
		// ROM write. Discard.
		return defaultWaitStates, nil
	}

	dev, err := b.mmioDevice(addr)
	if err != nil {
		return 0, err
	}
	if dev == nil {
		if b.flags[addr]&MemROM == 0 && addr < b.conventionalSize {
			b.memory[addr] = data
		}
		return defaultWaitStates, nil
	}
	syswait := dev.MmioWriteU8(addr, data, b.cyclesToTicks[cycles&0xFF])
	return b.systemTicksToCPUCycles(syswait), nil
}

// WriteU16 writes a little-endian word. A word straddling the conventional
// memory boundary writes only the in-range low byte.
func (b *Bus) WriteU16(addr int, data uint16, cycles uint32) (uint32, error) {
	if addr >= len(b.memory)-1 {
		return 0, fmt.Errorf("write at %#05x: %w", addr, ErrOutOfBounds)
	}
	if b.flags[addr]&(MemMMIO|MemROM) == 0 {
		if addr < b.conventionalSize-1 {
			b.memory[addr] = uint8(data)
			b.memory[addr+1] = uint8(data >> 8)
		} else if addr < b.conventionalSize {
			b.memory[addr] = uint8(data)
		}
		return defaultWaitStates, nil
	}
	if b.flags[addr]&MemMMIO == 0 {
		return defaultWaitStates, nil
	}

	dev, err := b.mmioDevice(addr)
	if err != nil {
		return 0, err
	}
	if dev == nil {
		if b.flags[addr]&MemROM == 0 && addr < b.conventionalSize-1 {
			b.memory[addr] = uint8(data)
			b.memory[addr+1] = uint8(data >> 8)
		}
		return defaultWaitStates, nil
	}
	syswait := dev.MmioWriteU16(addr, data, b.cyclesToTicks[cycles&0xFF])
	return b.systemTicksToCPUCycles(syswait), nil
}

// IoReadU8 reads a byte from an IO port. Unmapped ports return NoIOByte.
// The elapsed cycle count lets a device tick itself in sync with the CPU.
func (b *Bus) IoReadU8(port uint16, cycles uint32) uint8 {
	sysTicks := b.cyclesToSystemTicks(cycles)
	nulDelta := Microseconds(0)

	tag, ok := b.ioMap[port]
	if !ok {
		return NoIOByte
	}

	switch tag.dev {
	case DevPpi:
		if b.ppi != nil {
			return b.ppi.ReadU8(port, nulDelta)
		}
	case DevPit:
		return b.pit.ReadU8(port, SystemTicks(sysTicks))
	case DevDmaPrimary:
		return b.dma1.ReadU8(port, nulDelta)
	case DevDmaSecondary:
		if b.dma2 != nil {
			return b.dma2.ReadU8(port, nulDelta)
		}
	case DevPicPrimary:
		return b.pic1.ReadU8(port, nulDelta)
	case DevPicSecondary:
		if b.pic2 != nil {
			return b.pic2.ReadU8(port, nulDelta)
		}
	case DevFloppy:
		if b.fdc != nil {
			return b.fdc.ReadU8(port, nulDelta)
		}
	case DevHardDisk:
		if b.hdc != nil {
			return b.hdc.ReadU8(port, nulDelta)
		}
	case DevSerial:
		if b.serial != nil {
			return b.serial.ReadU8(port, nulDelta)
		}
	case DevVideo:
		for i := range b.videoCards {
			if b.videoCards[i].id != tag.vid {
				continue
			}
			switch slot := &b.videoCards[i]; slot.id.Type {
			case VideoMDA:
				return slot.mda.ReadU8(port, SystemTicks(sysTicks))
			case VideoCGA:
				return slot.cga.ReadU8(port, SystemTicks(sysTicks))
			}
		}
	}
	return NoIOByte
}

// IoWriteU8 writes a byte to an IO port. Unmapped ports are no-ops. Devices
// whose write handlers need the bus (to pulse interrupt lines or reach other
// devices) are detached from their slot for the duration of the call and
// restored afterwards, keeping device ownership single at all times.
func (b *Bus) IoWriteU8(port uint16, data uint8, cycles uint32) {
	sysTicks := b.cyclesToSystemTicks(cycles)
	nulDelta := Microseconds(0)

	tag, ok := b.ioMap[port]
	if !ok {
		return
	}

	switch tag.dev {
	case DevPpi:
		if ppi := b.ppi; ppi != nil {
			b.ppi = nil
			ppi.WriteU8(port, data, b, nulDelta)
			b.ppi = ppi
		}
	case DevPit:
		if pit := b.pit; pit != nil {
			b.pit = nil
			pit.WriteU8(port, data, b, SystemTicks(sysTicks))
			b.pit = pit
		}
	case DevDmaPrimary:
		if dma := b.dma1; dma != nil {
			b.dma1 = nil
			dma.WriteU8(port, data, b, nulDelta)
			b.dma1 = dma
		}
	case DevDmaSecondary:
		if dma := b.dma2; dma != nil {
			b.dma2 = nil
			dma.WriteU8(port, data, b, nulDelta)
			b.dma2 = dma
		}
	case DevPicPrimary:
		if pic := b.pic1; pic != nil {
			b.pic1 = nil
			pic.WriteU8(port, data, b, nulDelta)
			b.pic1 = pic
		}
	case DevPicSecondary:
		if pic := b.pic2; pic != nil {
			b.pic2 = nil
			pic.WriteU8(port, data, b, nulDelta)
			b.pic2 = pic
		}
	case DevFloppy:
		if fdc := b.fdc; fdc != nil {
			b.fdc = nil
			fdc.WriteU8(port, data, b, nulDelta)
			b.fdc = fdc
		}
	case DevHardDisk:
		if hdc := b.hdc; hdc != nil {
			b.hdc = nil
			hdc.WriteU8(port, data, b, nulDelta)
			b.hdc = hdc
		}
	case DevSerial:
		if b.serial != nil {
			// Serial port writes do not need the bus.
			b.serial.WriteU8(port, data, nil, nulDelta)
		}
	case DevVideo:
		for i := range b.videoCards {
			if b.videoCards[i].id != tag.vid {
				continue
			}
			switch slot := &b.videoCards[i]; slot.id.Type {
			case VideoMDA:
				slot.mda.WriteU8(port, data, nil, SystemTicks(sysTicks))
			case VideoCGA:
				slot.cga.WriteU8(port, data, nil, SystemTicks(sysTicks))
			}
		}
	}
}

func (b *Bus) mapPorts(dev IODevice, tag ioTag) {
	for _, port := range dev.PortList() {
		b.ioMap[port] = tag
	}
}

// InstallDevices constructs every configured peripheral, fills the IO port
// map from each device's advertised port list and registers video MMIO
// apertures. It runs once at machine construction; a failure here is fatal
// to the machine, there is no partial install.
func (b *Bus) InstallDevices(cfg *MachineConfig) error {
	if err := cfg.check(); err != nil {
		return err
	}
	b.SetConventionalSize(cfg.ConventionalMemory)

	videoTypes := make([]VideoType, len(cfg.Video))
	for i, vc := range cfg.Video {
		videoTypes[i] = vc.Type
	}
	numFloppies := 0
	if cfg.FDC != nil {
		numFloppies = cfg.FDC.Drives
	}

	// The PPI reads the system DIP switches, so it needs several machine
	// configuration parameters up front.
	if b.desc.HavePPI {
		b.ppi = NewPPI(b.desc.Type, b.conventionalSize, videoTypes, numFloppies)
		b.mapPorts(b.ppi, ioTag{dev: DevPpi})
	}

	// One PIT always exists. It runs either on a dedicated crystal or on the
	// system clock through the timer divisor.
	crystal := b.desc.TimerCrystal
	if crystal == 0 {
		crystal = b.desc.SystemCrystal
	}
	pit := NewPIT(crystal, b.desc.TimerDivisor)
	b.mapPorts(pit, ioTag{dev: DevPit})
	// Gates for channels 0 and 1 are tied high on this machine class.
	pit.SetChannelGate(0, true, b)
	pit.SetChannelGate(1, true, b)
	b.pit = pit

	// One DMA controller and one PIC always exist.
	b.dma1 = NewDMA("dma1")
	b.mapPorts(b.dma1, ioTag{dev: DevDmaPrimary})

	b.pic1 = NewPIC()
	b.mapPorts(b.pic1, ioTag{dev: DevPicPrimary})

	if cfg.Keyboard != nil {
		kb := NewKeyboard()
		kb.SetTypematicParams(cfg.Keyboard.Typematic, cfg.Keyboard.TypematicDelay, cfg.Keyboard.TypematicRate)
		b.keyboard = kb
	}

	if cfg.FDC != nil {
		b.fdc = NewFDC(cfg.FDC.Drives)
		b.mapPorts(b.fdc, ioTag{dev: DevFloppy})
	}

	if cfg.HDC != nil {
		b.hdc = NewHDC(cfg.HDC.Drives)
		b.mapPorts(b.hdc, ioTag{dev: DevHardDisk})
	}

	if cfg.Serial != nil {
		b.serial = NewSerialController(cfg.Serial.Ports)
		b.mapPorts(b.serial, ioTag{dev: DevSerial})
	}

	if cfg.Mouse != nil {
		// Config validation guarantees a serial controller is present.
		b.mouse = NewMouse(cfg.Mouse.Port)
	}

	for i, vc := range cfg.Video {
		id := VideoCardID{Idx: i, Type: vc.Type}
		log.ModVideo.DebugZ("creating video card").Stringer("id", id).End()

		switch vc.Type {
		case VideoMDA:
			mda := NewMDACard()
			b.mapPorts(mda, ioTag{dev: DevVideo, vid: id})
			b.RegisterMap(MmioDevice{Kind: MmioVideo, Video: id}, MemRangeDescriptor{
				Address: MDAMemAddress,
				Size:    MDAMemAperture,
			})
			b.videoCards = append(b.videoCards, videoSlot{id: id, mda: mda})
		case VideoCGA:
			cga := NewCGACard()
			b.mapPorts(cga, ioTag{dev: DevVideo, vid: id})
			b.RegisterMap(MmioDevice{Kind: MmioVideo, Video: id}, MemRangeDescriptor{
				Address: CGAMemAddress,
				Size:    CGAMemAperture,
			})
			b.videoCards = append(b.videoCards, videoSlot{id: id, cga: cga})
		default:
			return fmt.Errorf("video card type %v not supported", vc.Type)
		}
	}

	return nil
}

// ResetDevices calls the reset method of every installed device.
func (b *Bus) ResetDevices() {
	if b.pit != nil {
		b.pit.Reset()
	}
	if b.pic1 != nil {
		b.pic1.Reset()
	}
	if b.dma1 != nil {
		b.dma1.Reset()
	}
	for i := range b.videoCards {
		switch slot := &b.videoCards[i]; slot.id.Type {
		case VideoMDA:
			slot.mda.Reset()
		case VideoCGA:
			slot.cga.Reset()
		}
	}
}

// ResetDevicesWarm resets only the devices a warm boot resets.
func (b *Bus) ResetDevicesWarm() {
	if b.pit != nil {
		b.pit.Reset()
	}
}

// NmiEnabled reports whether NMI generation is enabled. On the 5150 and 5160
// it can be masked through the PPI.
func (b *Bus) NmiEnabled() bool {
	if b.desc.HavePPI && b.ppi != nil {
		return b.ppi.NmiEnabled()
	}
	return true
}

// AdjustPIT schedules extra system ticks for the PIT on its next run, to
// adjust its phase relative to the CPU.
func (b *Bus) AdjustPIT(ticks uint32) {
	log.ModPit.DebugZ("scheduling extra pit ticks").Uint32("ticks", ticks).End()
	b.pitTicksAdvance += ticks
}

// Device accessors. They return nil when the device is not installed, or
// while the device is detached during one of its own bus callbacks.

func (b *Bus) Pit() *PIT                 { return b.pit }
func (b *Bus) Pic() *PIC                 { return b.pic1 }
func (b *Bus) Ppi() *PPI                 { return b.ppi }
func (b *Bus) Dma() *DMA                 { return b.dma1 }
func (b *Bus) Fdc() *FDC                 { return b.fdc }
func (b *Bus) Hdc() *HDC                 { return b.hdc }
func (b *Bus) Serial() *SerialController { return b.serial }
func (b *Bus) SerialMouse() *Mouse       { return b.mouse }
func (b *Bus) Keyboard() *Keyboard       { return b.keyboard }

// VideoCardIDs enumerates installed video cards in installation order.
func (b *Bus) VideoCardIDs() []VideoCardID {
	ids := make([]VideoCardID, len(b.videoCards))
	for i := range b.videoCards {
		ids[i] = b.videoCards[i].id
	}
	return ids
}

// FloppyDriveCount returns the number of attached floppy drives.
func (b *Bus) FloppyDriveCount() int {
	if b.fdc == nil {
		return 0
	}
	return b.fdc.DriveCount()
}

// HddCount returns the number of attached hard disks.
func (b *Bus) HddCount() int {
	if b.hdc == nil {
		return 0
	}
	return b.hdc.DriveCount()
}
