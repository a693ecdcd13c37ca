package hw

// TimeUnit is the elapsed-time argument passed to a device run or port access.
// Which unit a given device expects is fixed per device type: tick-based
// devices (PIT on PC/XT, CGA) read Ticks, crystal-based ones (keyboard, MDA,
// serial, mouse) read Us.
type TimeUnit struct {
	ticks uint32
	us    float64
	isUs  bool
}

func SystemTicks(n uint32) TimeUnit { return TimeUnit{ticks: n} }
func Microseconds(us float64) TimeUnit {
	return TimeUnit{us: us, isUs: true}
}

func (u TimeUnit) Ticks() uint32 { return u.ticks }
func (u TimeUnit) Us() float64   { return u.us }

// IODevice is the byte-I/O capability. A device advertises the ports it
// handles with PortList; the bus routes accesses to those ports back to it.
//
// WriteU8 receives the bus so a handler can reach other devices (a PIT write
// routine pulsing an interrupt line, for instance). While a device is being
// called with the bus, the bus has detached it from its slot, so the device
// will not find itself through b.
type IODevice interface {
	ReadU8(port uint16, delta TimeUnit) uint8
	WriteU8(port uint16, data uint8, b *Bus, delta TimeUnit)
	PortList() []uint16
}

// MemoryMappedDevice is the capability required from devices with a memory
// aperture (video adapters). Wait values are expressed in system ticks; the
// bus converts them back to CPU cycles.
type MemoryMappedDevice interface {
	ReadWait(addr int, ticks uint32) uint32
	MmioReadU8(addr int, ticks uint32) (uint8, uint32)
	MmioReadU16(addr int, ticks uint32) (uint16, uint32)
	MmioPeekU8(addr int) uint8
	MmioPeekU16(addr int) uint16

	WriteWait(addr int, ticks uint32) uint32
	MmioWriteU8(addr int, data uint8, ticks uint32) uint32
	MmioWriteU16(addr int, data uint16, ticks uint32) uint32
}

// DeviceID identifies a device slot on the bus.
type DeviceID int

//go:generate go tool stringer -type=DeviceID -trimprefix=Dev
const (
	DevNone DeviceID = iota
	DevPpi
	DevPit
	DevDmaPrimary
	DevDmaSecondary
	DevPicPrimary
	DevPicSecondary
	DevSerial
	DevFloppy
	DevHardDisk
	DevMouse
	DevVideo
)

// DeviceEvent is a cross-device event synthesized during a device run slice,
// which the CPU layer must apply to its own timing model before the next
// instruction. The set is closed.
type DeviceEvent interface{ deviceEvent() }

// DramRefreshUpdate reports that the refresh timer (PIT channel 1) reload
// value or counting element changed. AddTicks carries the fractional tick
// accumulator so the CPU refresh simulation can match the timer phase.
type DramRefreshUpdate struct {
	ReloadValue     uint16
	CountingElement uint16
	AddTicks        uint32
}

// DramRefreshEnable enables or disables DRAM refresh DMA simulation.
type DramRefreshEnable struct {
	Enabled bool
}

// TurboToggled reports a change of the turbo switch.
type TurboToggled struct {
	Enabled bool
}

func (DramRefreshUpdate) deviceEvent() {}
func (DramRefreshEnable) deviceEvent() {}
func (TurboToggled) deviceEvent()      {}

// EventSource reports the device an event kind originates from. Events with
// no owning device, like the front-panel turbo toggle, report DevNone.
func EventSource(ev DeviceEvent) DeviceID {
	switch ev.(type) {
	case DramRefreshUpdate, DramRefreshEnable:
		return DevPit
	}
	return DevNone
}

// DeviceRunContext is the ephemeral per-slice record handed to the device
// scheduler: the elapsed time in both clock domains, the device to break on,
// and the events the slice emits. It is created fresh for every slice and
// never persisted.
type DeviceRunContext struct {
	DeltaTicks uint32
	DeltaUs    float64
	BreakOn    DeviceID
	events     []DeviceEvent
}

func (ctx *DeviceRunContext) AddEvent(ev DeviceEvent) {
	ctx.events = append(ctx.events, ev)
}

// Event returns the single highest-priority event collected during the slice,
// or nil. Refresh-related events outrank any other synthesized event.
func (ctx *DeviceRunContext) Event() DeviceEvent {
	var fallback DeviceEvent
	for _, ev := range ctx.events {
		switch ev.(type) {
		case DramRefreshUpdate, DramRefreshEnable:
			return ev
		default:
			if fallback == nil {
				fallback = ev
			}
		}
	}
	return fallback
}

// Broke reports whether the slice emitted an event originating from the
// break device.
func (ctx *DeviceRunContext) Broke() bool {
	if ctx.BreakOn == DevNone {
		return false
	}
	for _, ev := range ctx.events {
		if EventSource(ev) == ctx.BreakOn {
			return true
		}
	}
	return false
}
