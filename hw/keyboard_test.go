package hw

import "testing"

func drainScancodes(k *Keyboard) []uint8 {
	var out []uint8
	for {
		sc, ok := k.RecvScancode()
		if !ok {
			return out
		}
		out = append(out, sc)
	}
}

func TestKeyboardMakeBreak(t *testing.T) {
	k := NewKeyboard()
	k.KeyDown(0x1E, KeyModifiers{}, nil)
	k.KeyUp(0x1E)

	got := drainScancodes(k)
	want := []uint8{0x1E, 0x9E}
	if len(got) != len(want) {
		t.Fatalf("scancodes = %#v, want %#v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("scancodes = %#v, want %#v", got, want)
		}
	}
}

func TestKeyboardTypematicRepeat(t *testing.T) {
	k := NewKeyboard()
	k.SetTypematicParams(true, 500, 10)
	k.KeyDown(0x1E, KeyModifiers{}, nil)
	if _, ok := k.RecvScancode(); !ok {
		t.Fatal("make code missing")
	}

	// Nothing repeats before the initial delay.
	k.Run(499_000)
	if sc, ok := k.RecvScancode(); ok {
		t.Fatalf("premature repeat %#02x", sc)
	}

	// Crossing the delay emits the first repeat, then one per period.
	k.Run(1_000)
	k.Run(100_000)
	k.Run(100_000)
	got := drainScancodes(k)
	if len(got) != 3 {
		t.Fatalf("got %d repeats, want 3: %#v", len(got), got)
	}
	for _, sc := range got {
		if sc != 0x1E {
			t.Fatalf("repeat scancode = %#02x, want 0x1E", sc)
		}
	}

	// Releasing the repeating key stops repeats; the break code still queues.
	k.KeyUp(0x1E)
	k.Run(1_000_000)
	got = drainScancodes(k)
	if len(got) != 1 || got[0] != 0x9E {
		t.Fatalf("after release: %#v, want [0x9E]", got)
	}
}

func TestKeyboardTypematicDisabled(t *testing.T) {
	k := NewKeyboard()
	k.SetTypematicParams(false, 500, 10)
	k.KeyDown(0x1E, KeyModifiers{}, nil)
	k.RecvScancode()

	k.Run(2_000_000)
	if sc, ok := k.RecvScancode(); ok {
		t.Fatalf("repeat %#02x with typematic disabled", sc)
	}
}

func TestKeyboardBufferOverflow(t *testing.T) {
	k := NewKeyboard()
	var overflow KeyEventQueue

	for i := 0; i < kbBufferSize; i++ {
		k.KeyDown(uint8(i+1), KeyModifiers{}, &overflow)
	}
	if overflow.Len() != 0 {
		t.Fatalf("overflow after %d presses: %d events", kbBufferSize, overflow.Len())
	}

	// The next press does not fit and is pushed back for a later slice.
	k.KeyDown(0x30, KeyModifiers{LShift: true}, &overflow)
	if overflow.Len() != 1 {
		t.Fatalf("overflow queue holds %d events, want 1", overflow.Len())
	}
	ev, _ := overflow.Pop()
	if ev.Keycode != 0x30 || !ev.Pressed || !ev.Modifiers.LShift {
		t.Errorf("requeued event = %#v", ev)
	}
}
