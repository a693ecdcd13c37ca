package hw

import "fmt"

// TimingTableLen is the number of precomputed cycle-count entries. No single
// instruction runs for more cycles than this.
const TimingTableLen = 512

// TimingTableEntry gives the elapsed system ticks and microseconds for a given
// CPU cycle count, under the current clock factor and crystal frequency.
type TimingTableEntry struct {
	SysTicks uint32
	Us       float64
}

// ClockFactor expresses the ratio between the CPU clock and the system clock,
// either as a divisor (system clock is n times faster than the CPU) or as a
// multiplier (CPU is n times faster than the system clock). n is always >= 1.
type ClockFactor struct {
	n   uint32
	mul bool
}

func Divisor(n uint8) ClockFactor {
	if n == 0 {
		panic("hw: clock divisor must be >= 1")
	}
	return ClockFactor{n: uint32(n)}
}

func Multiplier(n uint8) ClockFactor {
	if n == 0 {
		panic("hw: clock multiplier must be >= 1")
	}
	return ClockFactor{n: uint32(n), mul: true}
}

func (f ClockFactor) String() string {
	if f.mul {
		return fmt.Sprintf("multiplier(%d)", f.n)
	}
	return fmt.Sprintf("divisor(%d)", f.n)
}

// MHz returns the effective CPU frequency for the given crystal frequency.
func (f ClockFactor) MHz(crystal float64) float64 {
	if f.mul {
		return crystal * float64(f.n)
	}
	return crystal / float64(f.n)
}

// buildTimingTable fills tbl with system tick and microsecond timings for
// every possible per-instruction cycle count. The table must be rebuilt
// whenever the clock factor or crystal frequency changes: a stale table
// silently desynchronizes CPU and device time.
func buildTimingTable(tbl *[TimingTableLen]TimingTableEntry, factor ClockFactor, crystal float64) {
	mhz := factor.MHz(crystal)
	for cycles := range tbl {
		c := uint32(cycles)
		if factor.mul {
			tbl[cycles].SysTicks = c * factor.n
		} else {
			tbl[cycles].SysTicks = (c + factor.n - 1) / factor.n
		}
		tbl[cycles].Us = 1.0 / mhz * float64(cycles)
	}
}

// cyclesToSystemTicks converts a count of CPU cycles to system clock ticks
// based on the current CPU clock factor.
func (b *Bus) cyclesToSystemTicks(cycles uint32) uint32 {
	if b.cpuFactor.mul {
		return cycles / b.cpuFactor.n
	}
	return cycles * b.cpuFactor.n
}

// systemTicksToCPUCycles converts a count of system clock ticks to CPU
// cycles. Under a divisor the dividend is rounded upwards: a device wait
// spanning a fraction of a CPU cycle still costs a whole one.
func (b *Bus) systemTicksToCPUCycles(ticks uint32) uint32 {
	if b.cpuFactor.mul {
		return ticks * b.cpuFactor.n
	}
	return (ticks + b.cpuFactor.n - 1) / b.cpuFactor.n
}

// SetCPUFactor changes the CPU clock factor and recomputes every derived
// timing: the per-cycle timing table and the cycle conversion LUT.
func (b *Bus) SetCPUFactor(factor ClockFactor) {
	b.cpuFactor = factor
	buildTimingTable(&b.timingTable, factor, b.desc.SystemCrystal)
	b.recalculateCycleLUT()
}

func (b *Bus) recalculateCycleLUT() {
	for c := range b.cyclesToTicks {
		b.cyclesToTicks[c] = b.cyclesToSystemTicks(uint32(c))
	}
}

// TimingsForCycles returns the timing table entry for the given cycle count.
func (b *Bus) TimingsForCycles(cycles uint32) TimingTableEntry {
	return b.timingTable[cycles]
}
