package hw

import (
	"github.com/go-faster/jx"
)

// DumpState encodes the observable bus and device state as JSON, for the
// inspection CLI and for diffing two machine states in tests. Only
// architectural state goes in: internal accumulators and edge-tracking
// flags are deliberately left out so two machines that software cannot
// tell apart dump identically.
func DumpState(b *Bus) []byte {
	var e jx.Encoder
	e.SetIdent(2)

	e.Obj(func(e *jx.Encoder) {
		e.Field("conventional_size", func(e *jx.Encoder) { e.Int(b.ConventionalSize()) })
		e.Field("cpu_factor", func(e *jx.Encoder) { e.Str(b.cpuFactor.String()) })

		e.Field("mmio", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, desc := range b.MmioRegistrations() {
					encodeRange(e, desc)
				}
			})
		})
		e.Field("ranges", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, desc := range b.Descriptors() {
					encodeRange(e, desc)
				}
			})
		})

		if pit := b.Pit(); pit != nil {
			e.Field("pit", func(e *jx.Encoder) { encodePit(e, pit) })
		}
		if pic := b.Pic(); pic != nil {
			e.Field("pic", func(e *jx.Encoder) { encodePic(e, pic) })
		}
		if ppi := b.Ppi(); ppi != nil {
			e.Field("ppi", func(e *jx.Encoder) { encodePpi(e, ppi) })
		}

		e.Field("video", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, id := range b.VideoCardIDs() {
					id := id
					e.Obj(func(e *jx.Encoder) {
						e.Field("id", func(e *jx.Encoder) { e.Str(id.String()) })
					})
				}
			})
		})

		e.Field("floppy_drives", func(e *jx.Encoder) { e.Int(b.FloppyDriveCount()) })
		e.Field("hard_disks", func(e *jx.Encoder) { e.Int(b.HddCount()) })
	})

	return e.Bytes()
}

func encodeRange(e *jx.Encoder, desc MemRangeDescriptor) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("address", func(e *jx.Encoder) { e.Int(desc.Address) })
		e.Field("size", func(e *jx.Encoder) { e.Int(desc.Size) })
		e.Field("cycle_cost", func(e *jx.Encoder) { e.UInt32(desc.CycleCost) })
		e.Field("read_only", func(e *jx.Encoder) { e.Bool(desc.ReadOnly) })
	})
}

func encodePit(e *jx.Encoder, pit *PIT) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("channels", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for ch := 0; ch < 3; ch++ {
					reload, element := pit.ChannelCount(ch)
					output := pit.ChannelOutput(ch)
					e.Obj(func(e *jx.Encoder) {
						e.Field("reload", func(e *jx.Encoder) { e.UInt16(reload) })
						e.Field("count", func(e *jx.Encoder) { e.UInt16(element) })
						e.Field("output", func(e *jx.Encoder) { e.Bool(output) })
					})
				}
			})
		})
	})
}

func encodePic(e *jx.Encoder, pic *PIC) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("imr", func(e *jx.Encoder) { e.UInt8(pic.IMR()) })
		e.Field("irr", func(e *jx.Encoder) { e.UInt8(pic.IRR()) })
		e.Field("isr", func(e *jx.Encoder) { e.UInt8(pic.ISR()) })
	})
}

func encodePpi(e *jx.Encoder, ppi *PPI) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("kb_enabled", func(e *jx.Encoder) { e.Bool(ppi.KbEnabled()) })
		e.Field("nmi_enabled", func(e *jx.Encoder) { e.Bool(ppi.NmiEnabled()) })
		e.Field("speaker_data", func(e *jx.Encoder) { e.Bool(ppi.SpeakerData()) })
	})
}
