package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"time"

	"golang.org/x/sync/errgroup"

	"xtem/emu/log"
	"xtem/hw"
)

// Cycle batch per pacing interval: 10 ms of a 4.77 MHz CPU.
const (
	paceInterval  = 10 * time.Millisecond
	cyclesPer10ms = 47727
)

// runMain runs the configured machine with the given system ROM. Instruction
// execution uses the built-in fetch-only core, so the machine acts as a
// timing and device soak harness; a real core plugs in through the CPU
// interface.
func runMain(args Run, cfg hw.MachineConfig) {
	rom, err := os.ReadFile(args.RomPath)
	checkf(err, "error reading ROM %s", args.RomPath)
	if len(rom) > hw.AddressSpace {
		fatalf("ROM image larger than the address space")
	}

	if args.CPUProfile != "" {
		f, err := os.Create(args.CPUProfile)
		checkf(err, "failed to create cpu profile file")
		checkf(pprof.StartCPUProfile(f), "failed to start cpu profile")
		defer func() {
			pprof.StopCPUProfile()
			f.Close()
			fmt.Println("CPU profile written to", args.CPUProfile)
		}()
	}

	m, err := NewMachine(cfg, newFetchCPU())
	checkf(err, "failed to create machine")

	// The system ROM sits below the top of the address space, covering the
	// reset vector.
	base := hw.AddressSpace - len(rom)
	checkf(m.Bus().CopyFrom(rom, base, 0, true), "failed to map ROM")
	m.Reset()

	var ec ExecutionControl
	ec.Do(ExecOpRun)

	cycleBudget := uint64(0)
	if args.Seconds > 0 {
		cpuHz := hw.Divisor(m.desc.CPUDivisor).MHz(m.desc.SystemCrystal) * 1e6
		cycleBudget = uint64(args.Seconds * cpuHz)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(paceInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}

			if _, err := m.Run(cyclesPer10ms, &ec); err != nil {
				return err
			}
			// No audio device in this harness; the frame still has to be
			// drained to bound the resampler.
			m.Speaker().Drain()

			if ec.State == ExecHalted {
				return nil
			}
			if cycleBudget > 0 && m.CycleTotal() >= cycleBudget {
				return nil
			}
		}
	})

	err = g.Wait()
	if err != nil {
		log.ModEmu.ErrorZ("machine stopped").Error("err", err).End()
	}

	fmt.Printf("executed %d instructions, %d cycles\n", m.InstrTotal(), m.CycleTotal())
}

// fetchCPU is the built-in stand-in core: every step fetches one byte at PC
// through the bus, pays its wait states and moves on. It executes nothing,
// but drives the bus and the device complex with realistic access patterns.
type fetchCPU struct {
	pc         uint32
	lastEvent  hw.DeviceEvent
	eventCount uint64
}

func newFetchCPU() *fetchCPU {
	return &fetchCPU{pc: 0xFFFF0} // hardware reset vector
}

func (c *fetchCPU) Reset() {
	c.pc = 0xFFFF0
}

func (c *fetchCPU) PC() uint32 { return c.pc }

func (c *fetchCPU) Step(b *hw.Bus) (StepResult, error) {
	const fetchCycles = 4

	_, wait, err := b.ReadU8(int(c.pc), fetchCycles)
	if err != nil {
		return StepResult{}, err
	}
	c.pc = (c.pc + 1) & (hw.AddressSpace - 1)
	return StepResult{Cycles: fetchCycles + wait}, nil
}

func (c *fetchCPU) ApplyEvent(ev hw.DeviceEvent) {
	c.lastEvent = ev
	c.eventCount++
}
