package main

import (
	"fmt"

	"xtem/emu/log"
	"xtem/hw"
)

// StepResult is what the CPU collaborator reports after executing one
// instruction.
type StepResult struct {
	// Cycles is the number of CPU cycles the instruction took, including
	// bus wait states.
	Cycles uint32
	// StepOverTarget is set when the instruction transfers control in a way
	// a step-over must run through: a call or a software interrupt.
	StepOverTarget bool
	// Returned is set when the instruction returned from a call or
	// interrupt, ending a step-over.
	Returned bool
	// Halted is set when the CPU executed a halt with interrupts disabled,
	// which nothing can ever resume.
	Halted bool
}

// CPU is the instruction execution collaborator. It owns decode and execute;
// the machine owns time.
type CPU interface {
	Reset()
	// Step executes one instruction against the bus and reports its cost.
	Step(b *hw.Bus) (StepResult, error)
	PC() uint32
	// ApplyEvent lets the CPU fold a device event (a DRAM refresh update,
	// for instance) into its own bus contention model before the next
	// instruction.
	ApplyEvent(ev hw.DeviceEvent)
}

// ExecutionState is the observable run state of the machine.
type ExecutionState int

const (
	ExecPaused ExecutionState = iota
	ExecRunning
	ExecBreakpointHit
	ExecHalted
)

// ExecutionOperation is a pending request to change the run state.
type ExecutionOperation int

const (
	ExecOpNone ExecutionOperation = iota
	ExecOpRun
	ExecOpPause
	ExecOpStep
	ExecOpStepOver
	ExecOpReset
)

// ExecutionControl is the debugger-facing transition table. The machine
// consumes the pending operation at the top of every run slice; its
// transition logic is orthogonal to device timing.
type ExecutionControl struct {
	State ExecutionState
	op    ExecutionOperation
}

func (ec *ExecutionControl) Do(op ExecutionOperation) { ec.op = op }

func (ec *ExecutionControl) consume() ExecutionOperation {
	op := ec.op
	ec.op = ExecOpNone
	return op
}

// stepOverTimeout bounds a step-over in CPU cycles, so stepping over a call
// that never returns degrades into a long run instead of a hang.
const stepOverTimeout = 320_000

// Machine ties the bus, the CPU collaborator and the host-facing queues into
// one steppable instance.
type Machine struct {
	cfg  hw.MachineConfig
	desc hw.MachineDescriptor

	bus     *hw.Bus
	cpu     CPU
	speaker *hw.Speaker

	kbQueue hw.KeyEventQueue

	// CheckpointHook runs when execution reaches an address flagged as a
	// checkpoint, before the instruction there executes. Optional.
	CheckpointHook func(addr uint32, b *hw.Bus)

	breakDevice hw.DeviceID

	cycleTotal uint64
	instrTotal uint64
}

// NewMachine builds a machine from its configuration and a CPU collaborator.
func NewMachine(cfg hw.MachineConfig, cpu CPU) (*Machine, error) {
	desc, err := hw.DescriptorFor(cfg.Machine)
	if err != nil {
		return nil, err
	}

	bus := hw.NewBus(hw.Divisor(desc.CPUDivisor), desc)
	if err := bus.InstallDevices(&cfg); err != nil {
		return nil, fmt.Errorf("installing devices: %w", err)
	}

	timerHz := desc.SystemCrystal / float64(desc.TimerDivisor) * 1e6
	if desc.TimerCrystal != 0 {
		timerHz = desc.TimerCrystal * 1e6
	}

	m := &Machine{
		cfg:     cfg,
		desc:    desc,
		bus:     bus,
		cpu:     cpu,
		speaker: hw.NewSpeaker(timerHz),
	}

	log.ModEmu.InfoZ("machine created").
		Stringer("type", cfg.Machine).
		Int("conventional", cfg.ConventionalMemory).
		End()
	return m, nil
}

func (m *Machine) Bus() *hw.Bus         { return m.bus }
func (m *Machine) Speaker() *hw.Speaker { return m.speaker }
func (m *Machine) CycleTotal() uint64   { return m.cycleTotal }
func (m *Machine) InstrTotal() uint64   { return m.instrTotal }

// PushKeyEvent queues a host key transition for delivery to the keyboard
// device, one per scheduler slice.
func (m *Machine) PushKeyEvent(ev hw.KeyEvent) {
	m.kbQueue.Push(ev)
}

// SetTurbo flips the front-panel turbo switch. The CPU layer learns about the
// change through a device event on an upcoming slice.
func (m *Machine) SetTurbo(enabled bool) {
	m.bus.SetTurbo(enabled)
}

// SetDeviceBreak pauses execution whenever the given device synthesizes an
// event during a slice, a watchpoint on device activity. DevNone disables it.
func (m *Machine) SetDeviceBreak(dev hw.DeviceID) {
	m.breakDevice = dev
}

// Reset cold-resets the machine: memory, devices and CPU.
func (m *Machine) Reset() {
	m.bus.Reset()
	m.bus.ResetDevices()
	m.speaker.Reset()
	m.cpu.Reset()
	m.cycleTotal = 0
	m.instrTotal = 0
}

// Run advances the machine by up to cycleTarget CPU cycles, honoring the
// pending execution-control operation. It returns the cycles actually
// executed.
func (m *Machine) Run(cycleTarget uint64, ec *ExecutionControl) (uint64, error) {
	switch ec.consume() {
	case ExecOpReset:
		m.Reset()
		ec.State = ExecPaused
		return 0, nil
	case ExecOpPause:
		ec.State = ExecPaused
		return 0, nil
	case ExecOpRun:
		ec.State = ExecRunning
	case ExecOpStep:
		if ec.State != ExecHalted {
			cycles, err := m.step(ec)
			ec.State = ExecPaused
			return cycles, err
		}
		return 0, nil
	case ExecOpStepOver:
		if ec.State != ExecHalted {
			cycles, err := m.stepOver(ec)
			if ec.State != ExecBreakpointHit {
				ec.State = ExecPaused
			}
			return cycles, err
		}
		return 0, nil
	}

	if ec.State != ExecRunning {
		return 0, nil
	}

	var executed uint64
	for executed < cycleTarget {
		cycles, err := m.step(ec)
		executed += cycles
		if err != nil {
			ec.State = ExecHalted
			return executed, err
		}
		if ec.State != ExecRunning {
			break
		}
	}
	return executed, nil
}

// step executes a single instruction and advances every device by the time
// it took.
func (m *Machine) step(ec *ExecutionControl) (uint64, error) {
	pc := m.cpu.PC() & (hw.AddressSpace - 1)
	flags := m.bus.Flags(int(pc))

	if flags&hw.MemCheckpoint != 0 && m.CheckpointHook != nil {
		m.CheckpointHook(pc, m.bus)
	}
	if flags&hw.MemBPExec != 0 {
		ec.State = ExecBreakpointHit
		log.ModEmu.DebugZ("execution breakpoint").Hex32("pc", pc).End()
		return 0, nil
	}

	res, err := m.cpu.Step(m.bus)
	if err != nil {
		return 0, fmt.Errorf("cpu fault at %05X: %w", pc, err)
	}

	devBreak := m.runDevices(res.Cycles)
	m.cycleTotal += uint64(res.Cycles)
	m.instrTotal++

	if devBreak {
		ec.State = ExecPaused
		log.ModEmu.DebugZ("device watchpoint").Stringer("dev", m.breakDevice).End()
	}
	if res.Halted {
		ec.State = ExecHalted
		log.ModEmu.InfoZ("cpu halted with interrupts disabled").Hex32("pc", pc).End()
	}
	return uint64(res.Cycles), nil
}

// stepOver executes one instruction; if it opened a call or interrupt frame,
// execution continues until the frame returns or the cycle timeout expires.
func (m *Machine) stepOver(ec *ExecutionControl) (uint64, error) {
	pc := m.cpu.PC() & (hw.AddressSpace - 1)
	if m.bus.Flags(int(pc))&hw.MemBPExec != 0 {
		ec.State = ExecBreakpointHit
		return 0, nil
	}

	res, err := m.cpu.Step(m.bus)
	if err != nil {
		return 0, fmt.Errorf("cpu fault at %05X: %w", pc, err)
	}
	m.runDevices(res.Cycles)
	m.cycleTotal += uint64(res.Cycles)
	m.instrTotal++
	executed := uint64(res.Cycles)

	if !res.StepOverTarget {
		return executed, nil
	}

	depth := 1
	for executed < stepOverTimeout {
		pc = m.cpu.PC() & (hw.AddressSpace - 1)
		if m.bus.Flags(int(pc))&hw.MemBPExec != 0 {
			ec.State = ExecBreakpointHit
			return executed, nil
		}

		res, err = m.cpu.Step(m.bus)
		if err != nil {
			return executed, fmt.Errorf("cpu fault at %05X: %w", pc, err)
		}
		m.runDevices(res.Cycles)
		m.cycleTotal += uint64(res.Cycles)
		m.instrTotal++
		executed += uint64(res.Cycles)

		if res.StepOverTarget {
			depth++
		}
		if res.Returned {
			depth--
			if depth == 0 {
				return executed, nil
			}
		}
		if res.Halted {
			ec.State = ExecHalted
			return executed, nil
		}
	}

	log.ModEmu.WarnZ("step over timed out").Uint64("cycles", executed).End()
	return executed, nil
}

// runDevices converts the instruction's cycle count to elapsed time and
// invokes the device scheduler, handing any synthesized event back to the
// CPU. It reports whether the device watchpoint fired during the slice.
func (m *Machine) runDevices(cycles uint32) bool {
	timings := m.bus.TimingsForCycles(cycles)
	ctx := hw.DeviceRunContext{
		DeltaTicks: timings.SysTicks,
		DeltaUs:    timings.Us,
		BreakOn:    m.breakDevice,
	}

	var kbEvent *hw.KeyEvent
	if ev, ok := m.kbQueue.Pop(); ok {
		kbEvent = &ev
	}

	ev := m.bus.RunDevices(&ctx, kbEvent, &m.kbQueue, m.speaker)
	if ev != nil {
		m.cpu.ApplyEvent(ev)
	}
	return ctx.Broke()
}
