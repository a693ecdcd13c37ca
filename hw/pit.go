package hw

import "xtem/emu/log"

// Intel 8253 programmable interval timer.
//
// Channel 0 drives interrupt line 0, channel 1 paces DRAM refresh DMA and
// channel 2 feeds the speaker. The bus scheduler inspects channel 1 after
// every run slice to keep the CPU's refresh simulation in sync.

const (
	pitPortCh0     = 0x40
	pitPortCh1     = 0x41
	pitPortCh2     = 0x42
	pitPortControl = 0x43
)

type pitRWMode uint8

const (
	pitRWLatch pitRWMode = iota
	pitRWLSB
	pitRWMSB
	pitRWLSBMSB
)

type pitAccessState uint8

const (
	pitAccessLSB pitAccessState = iota
	pitAccessMSB
)

type pitChannel struct {
	mode     uint8
	rwMode   pitRWMode
	bcd      bool
	gate     bool
	output   bool
	armed    bool
	counting bool
	loaded   bool

	countRegister   uint16 // reload value as programmed
	countingElement uint16 // live down-counter

	writeState   pitAccessState
	writeLatch   uint16
	readState    pitAccessState
	outputLatch  uint16
	countLatched bool

	// Edge tracking for the scheduler, cleared on inspection.
	dirty  bool
	ticked bool
}

// PIT is one 8253 timer chip.
type PIT struct {
	channels [3]pitChannel

	crystal float64 // clock crystal frequency, MHz
	divisor uint32  // system ticks per timer tick, when clocked off the system crystal

	// System tick accumulator, sub-timer-tick remainder 0..divisor-1.
	tickAccum uint32
	// Microsecond accumulator for dedicated-crystal operation.
	usAccum float64
}

// NewPIT creates the timer. crystal is the frequency of the clock feeding the
// chip in MHz; divisor is the number of system ticks per timer tick when the
// timer is clocked from the system crystal.
func NewPIT(crystal float64, divisor uint32) *PIT {
	p := &PIT{crystal: crystal, divisor: divisor}
	p.Reset()
	return p
}

func (p *PIT) Reset() {
	for i := range p.channels {
		gate := p.channels[i].gate
		p.channels[i] = pitChannel{
			mode:   3,
			rwMode: pitRWLSBMSB,
			gate:   gate,
			output: true,
		}
	}
	p.tickAccum = 0
	p.usAccum = 0
}

func (p *PIT) PortList() []uint16 {
	return []uint16{pitPortCh0, pitPortCh1, pitPortCh2, pitPortControl}
}

// ReadU8 reads a channel count. delta carries the system ticks elapsed since
// the last device run, so the returned count reflects the read instant; the
// caller-side run consumes the same ticks again, which is acceptable skew at
// one-read granularity.
func (p *PIT) ReadU8(port uint16, delta TimeUnit) uint8 {
	switch port {
	case pitPortCh0, pitPortCh1, pitPortCh2:
		return p.channels[port-pitPortCh0].readCount()
	}
	// The control word register is write-only.
	return NoIOByte
}

func (p *PIT) WriteU8(port uint16, data uint8, b *Bus, delta TimeUnit) {
	switch port {
	case pitPortCh0, pitPortCh1, pitPortCh2:
		p.writeCount(int(port-pitPortCh0), data, b)
	case pitPortControl:
		p.writeControl(data)
	}
}

func (p *PIT) writeControl(data uint8) {
	ch := int(data >> 6)
	if ch == 3 {
		// Read-back command exists on the 8254 only.
		log.ModPit.DebugZ("ignoring read-back control word").Hex8("data", data).End()
		return
	}

	c := &p.channels[ch]
	rw := pitRWMode(data >> 4 & 0x03)
	if rw == pitRWLatch {
		if !c.countLatched {
			c.outputLatch = c.countingElement
			c.countLatched = true
		}
		return
	}

	c.rwMode = rw
	c.mode = data >> 1 & 0x07
	if c.mode > 5 {
		c.mode -= 4
	}
	c.bcd = data&0x01 != 0
	c.writeState = pitAccessLSB
	c.readState = pitAccessLSB
	c.countLatched = false
	c.counting = false
	c.armed = false
	// Output goes low in mode 0, high otherwise, immediately on mode set.
	c.output = c.mode != 0
	c.dirty = true

	log.ModPit.DebugZ("channel reprogrammed").
		Int("ch", ch).
		Uint8("mode", c.mode).
		Bool("bcd", c.bcd).
		End()
}

func (p *PIT) writeCount(ch int, data uint8, b *Bus) {
	c := &p.channels[ch]

	complete := false
	switch c.rwMode {
	case pitRWLSB:
		c.writeLatch = uint16(data)
		complete = true
	case pitRWMSB:
		c.writeLatch = uint16(data) << 8
		complete = true
	case pitRWLSBMSB:
		if c.writeState == pitAccessLSB {
			c.writeLatch = uint16(data)
			c.writeState = pitAccessMSB
		} else {
			c.writeLatch |= uint16(data) << 8
			c.writeState = pitAccessLSB
			complete = true
		}
	}
	if !complete {
		return
	}

	c.countRegister = c.writeLatch
	c.load()
	c.dirty = true

	// A completed reload on channel 0 while line 0 is already high would be
	// lost; modes reassert it on the next terminal count.
	_ = b
}

// load arms a channel with its programmed count. A count of 0 means 65536.
// The counting element itself is transferred on the next clock edge, not on
// the register write.
func (c *pitChannel) load() {
	c.loaded = false
	c.armed = true
	c.counting = c.gate
	if c.mode == 0 {
		c.output = false
	}
}

func (c *pitChannel) readCount() uint8 {
	value := c.countingElement
	if c.countLatched {
		value = c.outputLatch
	}

	var out uint8
	switch c.rwMode {
	case pitRWLSB:
		out = uint8(value)
		c.countLatched = false
	case pitRWMSB:
		out = uint8(value >> 8)
		c.countLatched = false
	case pitRWLSBMSB:
		if c.readState == pitAccessLSB {
			out = uint8(value)
			c.readState = pitAccessMSB
		} else {
			out = uint8(value >> 8)
			c.readState = pitAccessLSB
			c.countLatched = false
		}
	}
	return out
}

// SetChannelGate drives a channel's gate input. Gating low stops the count;
// a rising edge reloads the counting element in the periodic modes. Channel
// 2's gate is wired to the PPI's port B bit 0.
func (p *PIT) SetChannelGate(ch int, state bool, b *Bus) {
	c := &p.channels[ch]
	rising := state && !c.gate
	c.gate = state

	switch {
	case !state:
		c.counting = false
	case rising && c.armed:
		if c.mode == 2 || c.mode == 3 {
			c.countingElement = c.countRegister
			if c.mode == 3 {
				// Square wave counts by two; an odd element would never
				// reach zero.
				c.countingElement &^= 1
			}
			c.loaded = true
		}
		c.counting = true
	}
	_ = b
}

// Run advances the timer by one elapsed slice and pushes any speaker output
// transitions. The unit is system ticks when the chip is clocked from the
// system crystal, microseconds when it has its own.
func (p *PIT) Run(b *Bus, speaker *Speaker, delta TimeUnit) {
	if delta.isUs {
		p.usAccum += delta.Us()
		period := 1.0 / p.crystal // µs per timer tick
		for p.usAccum >= period {
			p.usAccum -= period
			p.tick(b, speaker)
		}
		return
	}

	p.tickAccum += delta.Ticks()
	for p.tickAccum >= p.divisor {
		p.tickAccum -= p.divisor
		p.tick(b, speaker)
	}
}

func (p *PIT) tick(b *Bus, speaker *Speaker) {
	for ch := range p.channels {
		c := &p.channels[ch]
		if !c.counting {
			continue
		}

		c.ticked = true

		if !c.loaded {
			c.countingElement = c.countRegister
			if c.mode == 3 {
				c.countingElement &^= 1
			}
			c.loaded = true
			continue
		}

		switch c.mode {
		case 2:
			// Rate generator.
			c.countingElement--
			if c.countingElement == 1 {
				c.output = false
			} else if c.countingElement == 0 {
				c.output = true
				c.countingElement = c.countRegister
				if ch == 0 {
					p.pulseTimerInterrupt(b)
				}
			}
		case 3:
			// Square wave: the element decrements by two, the output toggles
			// at each terminal count.
			c.countingElement -= 2
			if c.countingElement == 0 {
				c.output = !c.output
				// A reload of 0 counts as 65536; the uint16 wrap on the next
				// decrement gives the right period.
				c.countingElement = c.countRegister &^ 1
				if ch == 0 && c.output {
					p.pulseTimerInterrupt(b)
				}
			}
		default:
			// Modes 0, 1, 4, 5: one-shot countdown.
			c.countingElement--
			if c.countingElement == 0 {
				if !c.output {
					c.output = true
					if ch == 0 {
						p.pulseTimerInterrupt(b)
					}
				}
				c.counting = c.mode == 0 // mode 0 keeps counting through 0xFFFF
			}
		}
	}

	if speaker != nil {
		speaker.Tick(p.channels[2].output && p.channels[2].gate)
	}
}

func (p *PIT) pulseTimerInterrupt(b *Bus) {
	if b == nil {
		return
	}
	if pic := b.Pic(); pic != nil {
		pic.PulseInterrupt(0)
	}
}

// IsDirty reports and clears the edge-tracking state of a channel: whether
// anything changed since the last inspection, whether the channel is
// counting, and whether the counting element advanced.
func (p *PIT) IsDirty(ch int) (dirty, counting, ticked bool) {
	c := &p.channels[ch]
	dirty, counting, ticked = c.dirty, c.counting, c.ticked
	c.dirty = false
	c.ticked = false
	return dirty, counting, ticked
}

// ChannelCount returns a channel's programmed reload value and live counting
// element.
func (p *PIT) ChannelCount(ch int) (reload, element uint16) {
	return p.channels[ch].countRegister, p.channels[ch].countingElement
}

// ChannelOutput returns the current output line state of a channel.
func (p *PIT) ChannelOutput(ch int) bool {
	return p.channels[ch].output
}

// TimerAccum returns the sub-timer-tick system tick remainder, used by the
// scheduler to phase-align the DRAM refresh simulation.
func (p *PIT) TimerAccum() uint32 {
	return p.tickAccum
}
