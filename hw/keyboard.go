package hw

import "xtem/emu/log"

// XT keyboard. Keycodes are XT set 1 make codes; a break is the make code
// with the high bit set. The keyboard delivers one scancode per scheduler
// drain, pacing delivery the way the serial keyboard protocol does.

const (
	kbBufferSize = 16
	kbBreakBit   = 0x80
)

// KeyModifiers is the modifier state accompanying a host key event.
type KeyModifiers struct {
	LShift bool
	RShift bool
	Ctrl   bool
	Alt    bool
}

// KeyEvent is one host keyboard transition.
type KeyEvent struct {
	Keycode   uint8
	Pressed   bool
	Modifiers KeyModifiers
}

// KeyEventQueue buffers key events between the host input layer and the
// device scheduler. It also serves as the overflow sink: events the keyboard
// cannot absorb are pushed back here for a later slice.
type KeyEventQueue struct {
	events []KeyEvent
}

func (q *KeyEventQueue) Push(ev KeyEvent) {
	q.events = append(q.events, ev)
}

func (q *KeyEventQueue) Pop() (KeyEvent, bool) {
	if len(q.events) == 0 {
		return KeyEvent{}, false
	}
	ev := q.events[0]
	q.events = q.events[1:]
	return ev, true
}

func (q *KeyEventQueue) Len() int { return len(q.events) }

type typematicState uint8

const (
	typematicIdle typematicState = iota
	typematicDelay
	typematicRepeat
)

// Keyboard holds the scancode buffer and the typematic repeat state machine.
type Keyboard struct {
	buf     []uint8
	dropped uint64

	typematic     bool
	delayUs       float64
	repeatUs      float64
	repeatKeycode uint8
	state         typematicState
	elapsedUs     float64
}

func NewKeyboard() *Keyboard {
	return &Keyboard{
		typematic: true,
		delayUs:   500_000,
		repeatUs:  100_000,
	}
}

// SetTypematicParams configures key repeat: enabled, initial delay in
// milliseconds, repeat rate in characters per second.
func (k *Keyboard) SetTypematicParams(enabled bool, delayMs, rateCps float64) {
	k.typematic = enabled
	if delayMs > 0 {
		k.delayUs = delayMs * 1000
	}
	if rateCps > 0 {
		k.repeatUs = 1_000_000 / rateCps
	}
}

// KeyDown records a key press. When the scancode buffer is full the event is
// pushed back on the overflow queue to be retried on a later slice rather
// than dropped.
func (k *Keyboard) KeyDown(keycode uint8, mods KeyModifiers, overflow *KeyEventQueue) {
	if !k.enqueue(keycode) {
		if overflow != nil {
			overflow.Push(KeyEvent{Keycode: keycode, Pressed: true, Modifiers: mods})
			return
		}
		k.dropped++
		log.ModKbd.DebugZ("scancode buffer full, dropping key").Hex8("code", keycode).End()
		return
	}

	if k.typematic {
		k.repeatKeycode = keycode
		k.state = typematicDelay
		k.elapsedUs = 0
	}
}

// KeyUp records a key release. Releasing the repeating key stops typematic
// repeat; releasing any other key leaves it running.
func (k *Keyboard) KeyUp(keycode uint8) {
	k.enqueue(keycode | kbBreakBit)
	if keycode == k.repeatKeycode {
		k.state = typematicIdle
	}
}

func (k *Keyboard) enqueue(scancode uint8) bool {
	if len(k.buf) >= kbBufferSize {
		return false
	}
	k.buf = append(k.buf, scancode)
	return true
}

// RecvScancode drains one scancode from the buffer.
func (k *Keyboard) RecvScancode() (uint8, bool) {
	if len(k.buf) == 0 {
		return 0, false
	}
	sc := k.buf[0]
	k.buf = k.buf[1:]
	return sc, true
}

// Run advances the typematic state machine by us microseconds.
func (k *Keyboard) Run(us float64) {
	if k.state == typematicIdle {
		return
	}

	k.elapsedUs += us
	switch k.state {
	case typematicDelay:
		if k.elapsedUs >= k.delayUs {
			k.elapsedUs -= k.delayUs
			k.state = typematicRepeat
			k.enqueue(k.repeatKeycode)
		}
	case typematicRepeat:
		for k.elapsedUs >= k.repeatUs {
			k.elapsedUs -= k.repeatUs
			k.enqueue(k.repeatKeycode)
		}
	}
}
