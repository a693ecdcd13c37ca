package hw

import "xtem/emu/log"

// kbUpdateRate is the interval, in microseconds, between updates of the
// keyboard state machine.
const kbUpdateRate = 5000.0

// Timer reload values that arm and fire the display timing shim. These are
// empirically observed trigger values, not derived ones.
const (
	shimReloadLake   = 5117
	shimReloadWibble = 5162
	shimReloadFire   = 19912
	shimLakeTarget   = 15432 + 40
	shimWibbleTarget = 16344 + 40
)

// RunDevices advances every installed device by the elapsed time slice the
// context carries, in microseconds for crystal-based devices and system
// ticks for tick-based ones. kbEvent is the host key event dequeued for this
// slice, if any; kbBuf receives keyboard events the translation layer
// generates on its own. The speaker receives audio samples from the timer.
//
// Devices run in a fixed order, each step feeding the next: keyboard into
// PPI into interrupt controller, timer feedback into the DRAM refresh
// events, storage controllers enqueueing DMA requests before the DMA
// controller itself runs. Events collect in the context; at most one is
// returned per invocation, refresh events taking priority over anything
// else synthesized in the same slice.
func (b *Bus) RunDevices(
	ctx *DeviceRunContext,
	kbEvent *KeyEvent,
	kbBuf *KeyEventQueue,
	speaker *Speaker,
) DeviceEvent {
	us := ctx.DeltaUs
	sysTicks := ctx.DeltaTicks

	if kb := b.keyboard; kb != nil {
		if kbEvent != nil {
			if kbEvent.Pressed {
				kb.KeyDown(kbEvent.Keycode, kbEvent.Modifiers, kbBuf)
			} else {
				kb.KeyUp(kbEvent.Keycode)
			}
			b.forwardScancode(kb)
		}

		// The keyboard state machine runs at a fixed rate regardless of
		// slice length.
		b.kbUsAccum += us
		if b.kbUsAccum > kbUpdateRate {
			kb.Run(kbUpdateRate)
			b.kbUsAccum -= kbUpdateRate
			b.forwardScancode(kb)
		}
	}

	pic := b.pic1
	pic.Run(sysTicks)

	pit := b.pit
	b.pit = nil

	// The PPI reads the interrupt controller to model keyboard interrupt
	// masking.
	if b.ppi != nil {
		b.ppi.Run(pic, us)
	}

	// The timer write handlers reach several other devices, so it runs
	// detached with the whole bus. A timer with a dedicated crystal does not
	// tick an integer number of times per system tick, so it advances by
	// microseconds instead.
	if b.desc.TimerCrystal != 0 {
		pit.Run(b, speaker, Microseconds(us))
	} else {
		// Phase adjustment only works in system-tick mode.
		pit.Run(b, speaker, SystemTicks(sysTicks+b.pitTicksAdvance))
		b.pitTicksAdvance = 0
	}

	// Timer channel 1 drives DRAM refresh DMA. On a dirty transition,
	// synthesize a refresh event for the CPU's bus contention model.
	dirty, counting, ticked := pit.IsDirty(1)
	if counting && dirty {
		reload, element := pit.ChannelCount(1)
		// The fractional tick accumulator offsets the refresh phase: on this
		// machine class the timer ticks once per 12 system ticks, so stored
		// ticks represent whole CPU cycles of skew.
		addTicks := pit.TimerAccum()

		if element <= reload {
			log.ModPit.DebugZ("dram refresh counter updated").
				Uint16("reload", reload).
				Uint16("element", element).
				Uint32("add_ticks", addTicks).
				End()
			b.dmaCounter = reload

			if element == 0 && !ticked {
				// Counter still at its initial zero, not a terminal count.
				ctx.AddEvent(DramRefreshUpdate{ReloadValue: reload})
			} else {
				ctx.AddEvent(DramRefreshUpdate{
					ReloadValue:     reload,
					CountingElement: element,
					AddTicks:        addTicks,
				})
			}
			b.refreshActive = true
		}
	} else if !counting && b.refreshActive {
		log.ModPit.DebugZ("refresh channel stopped counting, disabling dram refresh").End()
		ctx.AddEvent(DramRefreshEnable{Enabled: false})
		b.refreshActive = false
	}

	pitReload, pitElement := pit.ChannelCount(0)
	if b.compatShim {
		b.armCompatShim(pitReload)
	}

	b.pit = pit

	// Storage controllers enqueue DMA requests, so they receive the DMA
	// controller detached and run before it.
	dma := b.dma1
	b.dma1 = nil

	if fdc := b.fdc; fdc != nil {
		b.fdc = nil
		fdc.Run(dma, b, us)
		b.fdc = fdc
	}
	if hdc := b.hdc; hdc != nil {
		b.hdc = nil
		hdc.Run(dma, b, us)
		b.hdc = hdc
	}

	dma.Run(b)
	b.dma1 = dma

	if b.serial != nil {
		b.serial.Run(b.pic1, us)
		if b.mouse != nil {
			b.mouse.Run(b.serial, us)
		}
	}

	// Video cards raise vertical retrace interrupts through the interrupt
	// controller. The CGA timing model is tick-based and loses resolution on
	// short slices, so ticks accumulate across invocations and the card only
	// steps past a minimum threshold.
	for i := range b.videoCards {
		switch slot := &b.videoCards[i]; slot.id.Type {
		case VideoMDA:
			slot.mda.Run(Microseconds(us), b.pic1)
		case VideoCGA:
			b.cgaTickAccum += sysTicks
			if b.cgaTickAccum > 8 {
				slot.cga.Run(SystemTicks(b.cgaTickAccum), b.pic1)
				b.cgaTickAccum = 0

				if b.compatShim {
					b.fireCompatShim(slot.cga, pitReload, pitElement)
				}
			}
		}
	}

	if b.turboPending {
		ctx.AddEvent(TurboToggled{Enabled: b.turboEnabled})
	}

	// The toggle stays pending until it wins the event slot, so a refresh
	// event in the same slice defers it rather than displacing it.
	event := ctx.Event()
	if _, ok := event.(TurboToggled); ok {
		b.turboPending = false
		log.ModBus.InfoZ("turbo switch toggled").Bool("enabled", b.turboEnabled).End()
	}

	return event
}

// forwardScancode drains one scancode from the keyboard into the PPI, which
// latches it and pulses interrupt line 1 when keyboard interrupts are
// enabled.
func (b *Bus) forwardScancode(kb *Keyboard) {
	scancode, ok := kb.RecvScancode()
	if !ok || b.ppi == nil {
		return
	}
	b.ppi.SendKeyboard(scancode)
	if b.ppi.KbEnabled() && b.pic1 != nil {
		b.pic1.PulseInterrupt(1)
	}
}

// armCompatShim arms the display timing shim when timer channel 0 is
// reloaded with one of the trigger values.
func (b *Bus) armCompatShim(reload uint16) {
	switch reload {
	case shimReloadLake:
		if !b.timerTrigger1Armed {
			b.timerTrigger1Armed = true
			log.ModBus.WarnZ("display timing shim armed").Uint16("reload", reload).End()
		}
	case shimReloadWibble:
		if !b.timerTrigger2Armed {
			b.timerTrigger2Armed = true
			log.ModBus.WarnZ("display timing shim armed").Uint16("reload", reload).End()
		}
	}
}

// fireCompatShim disarms a pending display timing shim once the timer has
// been reloaded with the firing value, logging the screen position skew it
// observed. It is unknown whether the trigger values are exhaustive; they
// were observed, not derived, so the shim does not generalize them.
func (b *Bus) fireCompatShim(cga *CGACard, reload, element uint16) {
	if reload != shimReloadFire {
		return
	}

	var target uint64
	switch {
	case b.timerTrigger1Armed:
		target = shimLakeTarget
		b.timerTrigger1Armed = false
	case b.timerTrigger2Armed:
		target = shimWibbleTarget
		b.timerTrigger2Armed = false
	default:
		return
	}

	if pos := cga.ScreenTicks(); pos > target {
		log.ModVideo.WarnZ("display timing shim fired").
			Uint64("target", target).
			Uint64("pos", pos).
			Uint64("skew", pos-target).
			Uint16("timer", element).
			End()
	}
}
