package hw

import (
	"github.com/arl/blip"
)

// Speaker turns the timer channel 2 output into band-limited audio samples.
// The timer pushes one logic level per timer tick; level transitions become
// blip deltas at the timer clock rate, resampled to the output rate when a
// frame is drained.

const (
	speakerSampleRate = 48000
	speakerAmplitude  = 6000

	// Timer ticks per frame drain, comfortably above one video frame.
	speakerMaxFrame = 65536
)

type Speaker struct {
	buf    *blip.Buffer
	outbuf [speakerSampleRate / 10]int16

	clock     uint64
	frameBase uint64
	level     bool
}

// NewSpeaker creates the speaker resampler. clockRate is the timer tick
// rate in Hz.
func NewSpeaker(clockRate float64) *Speaker {
	s := &Speaker{
		buf: blip.NewBuffer(speakerSampleRate / 10),
	}
	s.buf.SetRates(clockRate, speakerSampleRate)
	return s
}

func (s *Speaker) Reset() {
	s.buf.Clear()
	s.clock = 0
	s.frameBase = 0
	s.level = false
}

// Tick records the speaker input level for one timer tick.
func (s *Speaker) Tick(level bool) {
	if level != s.level {
		delta := int32(speakerAmplitude)
		if !level {
			delta = -speakerAmplitude
		}
		s.buf.AddDelta(s.clock-s.frameBase, delta)
		s.level = level
	}
	s.clock++
}

// Drain closes the current frame and returns the resampled output. The
// returned slice is reused across calls.
func (s *Speaker) Drain() []int16 {
	elapsed := s.clock - s.frameBase
	if elapsed > speakerMaxFrame {
		elapsed = speakerMaxFrame
	}
	s.buf.EndFrame(int(elapsed))
	s.frameBase = s.clock

	n := s.buf.ReadSamples(s.outbuf[:], len(s.outbuf), blip.Mono)
	return s.outbuf[:n]
}
