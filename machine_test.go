package main

import (
	"errors"
	"testing"

	"xtem/hw"
)

// scriptedCPU executes a fixed list of step results, advancing its program
// counter by one address per instruction.
type scriptedCPU struct {
	script []StepResult
	index  int
	pc     uint32
	resets int
	events []hw.DeviceEvent
	err    error
}

func (c *scriptedCPU) Reset() {
	c.resets++
	c.index = 0
	c.pc = 0
}

func (c *scriptedCPU) Step(b *hw.Bus) (StepResult, error) {
	if c.err != nil {
		return StepResult{}, c.err
	}
	res := StepResult{Cycles: 4}
	if c.index < len(c.script) {
		res = c.script[c.index]
	}
	c.index++
	c.pc++
	return res, nil
}

func (c *scriptedCPU) PC() uint32 { return c.pc }

func (c *scriptedCPU) ApplyEvent(ev hw.DeviceEvent) {
	c.events = append(c.events, ev)
}

func newTestMachine(t *testing.T, cpu CPU) *Machine {
	t.Helper()
	m, err := NewMachine(hw.DefaultMachineConfig(), cpu)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	return m
}

func TestMachineSingleStep(t *testing.T) {
	cpu := &scriptedCPU{script: []StepResult{{Cycles: 7}}}
	m := newTestMachine(t, cpu)
	var ec ExecutionControl

	ec.Do(ExecOpStep)
	cycles, err := m.Run(1000, &ec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cycles != 7 {
		t.Errorf("executed %d cycles, want 7", cycles)
	}
	if ec.State != ExecPaused {
		t.Errorf("state = %v after step, want paused", ec.State)
	}
	if m.InstrTotal() != 1 || m.CycleTotal() != 7 {
		t.Errorf("totals = (%d, %d), want (1, 7)", m.InstrTotal(), m.CycleTotal())
	}
}

func TestMachineRunToCycleTarget(t *testing.T) {
	cpu := &scriptedCPU{}
	m := newTestMachine(t, cpu)
	var ec ExecutionControl

	ec.Do(ExecOpRun)
	cycles, err := m.Run(100, &ec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cycles < 100 {
		t.Errorf("executed %d cycles, want at least 100", cycles)
	}
	if ec.State != ExecRunning {
		t.Errorf("state = %v, want running", ec.State)
	}

	// A pause request takes effect at the top of the next slice.
	ec.Do(ExecOpPause)
	if cycles, _ := m.Run(100, &ec); cycles != 0 {
		t.Errorf("executed %d cycles after pause, want 0", cycles)
	}
	if ec.State != ExecPaused {
		t.Errorf("state = %v after pause, want paused", ec.State)
	}
}

func TestMachineExecutionBreakpoint(t *testing.T) {
	cpu := &scriptedCPU{}
	m := newTestMachine(t, cpu)
	m.Bus().SetFlags(3, hw.MemBPExec)
	var ec ExecutionControl

	ec.Do(ExecOpRun)
	if _, err := m.Run(1000, &ec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ec.State != ExecBreakpointHit {
		t.Fatalf("state = %v, want breakpoint hit", ec.State)
	}
	// The flagged instruction has not executed.
	if cpu.pc != 3 {
		t.Errorf("pc = %d at breakpoint, want 3", cpu.pc)
	}
}

func TestMachineCheckpointHook(t *testing.T) {
	cpu := &scriptedCPU{}
	m := newTestMachine(t, cpu)
	m.Bus().InstallCheckpoints([]hw.Checkpoint{{Addr: 2}})

	var hits []uint32
	m.CheckpointHook = func(addr uint32, b *hw.Bus) {
		hits = append(hits, addr)
	}

	var ec ExecutionControl
	for i := 0; i < 4; i++ {
		ec.Do(ExecOpStep)
		if _, err := m.Run(100, &ec); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}
	if len(hits) != 1 || hits[0] != 2 {
		t.Errorf("checkpoint hits = %v, want [2]", hits)
	}
}

func TestMachineStepOver(t *testing.T) {
	// A call followed by body instructions and a return: step-over runs
	// through the whole frame, including the nested call.
	cpu := &scriptedCPU{script: []StepResult{
		{Cycles: 10, StepOverTarget: true},
		{Cycles: 4},
		{Cycles: 10, StepOverTarget: true},
		{Cycles: 4},
		{Cycles: 8, Returned: true},
		{Cycles: 8, Returned: true},
		{Cycles: 4},
	}}
	m := newTestMachine(t, cpu)
	var ec ExecutionControl

	ec.Do(ExecOpStepOver)
	cycles, err := m.Run(0, &ec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cycles != 44 {
		t.Errorf("executed %d cycles, want 44", cycles)
	}
	if cpu.index != 6 {
		t.Errorf("executed %d instructions, want 6", cpu.index)
	}
	if ec.State != ExecPaused {
		t.Errorf("state = %v, want paused", ec.State)
	}
}

func TestMachineStepOverPlainInstruction(t *testing.T) {
	cpu := &scriptedCPU{}
	m := newTestMachine(t, cpu)
	var ec ExecutionControl

	ec.Do(ExecOpStepOver)
	if _, err := m.Run(0, &ec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cpu.index != 1 {
		t.Errorf("executed %d instructions, want 1", cpu.index)
	}
}

func TestMachineHaltStopsRun(t *testing.T) {
	cpu := &scriptedCPU{script: []StepResult{
		{Cycles: 4},
		{Cycles: 4, Halted: true},
	}}
	m := newTestMachine(t, cpu)
	var ec ExecutionControl

	ec.Do(ExecOpRun)
	if _, err := m.Run(1_000_000, &ec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ec.State != ExecHalted {
		t.Fatalf("state = %v, want halted", ec.State)
	}
	if cpu.index != 2 {
		t.Errorf("executed %d instructions, want 2", cpu.index)
	}

	// Stepping a halted machine does nothing.
	ec.Do(ExecOpStep)
	if cycles, _ := m.Run(100, &ec); cycles != 0 {
		t.Errorf("executed %d cycles while halted, want 0", cycles)
	}
}

func TestMachineCPUFault(t *testing.T) {
	wantErr := errors.New("invalid opcode")
	cpu := &scriptedCPU{err: wantErr}
	m := newTestMachine(t, cpu)
	var ec ExecutionControl

	ec.Do(ExecOpRun)
	_, err := m.Run(100, &ec)
	if !errors.Is(err, wantErr) {
		t.Fatalf("Run error = %v, want wrapped fault", err)
	}
	if ec.State != ExecHalted {
		t.Errorf("state = %v after fault, want halted", ec.State)
	}
}

func TestMachineResetOperation(t *testing.T) {
	cpu := &scriptedCPU{}
	m := newTestMachine(t, cpu)
	var ec ExecutionControl

	ec.Do(ExecOpStep)
	m.Run(100, &ec)
	if m.InstrTotal() != 1 {
		t.Fatalf("instr total = %d, want 1", m.InstrTotal())
	}

	ec.Do(ExecOpReset)
	m.Run(100, &ec)
	if cpu.resets != 1 {
		t.Errorf("cpu resets = %d, want 1", cpu.resets)
	}
	if m.InstrTotal() != 0 || m.CycleTotal() != 0 {
		t.Errorf("totals not cleared: (%d, %d)", m.InstrTotal(), m.CycleTotal())
	}
	if ec.State != ExecPaused {
		t.Errorf("state = %v after reset, want paused", ec.State)
	}
}

func TestMachineDeviceBreak(t *testing.T) {
	cpu := &scriptedCPU{}
	m := newTestMachine(t, cpu)
	var ec ExecutionControl

	// Watch the timer, then program its refresh channel: the slice after the
	// first instruction synthesizes a refresh event and pauses the run.
	m.SetDeviceBreak(hw.DevPit)
	m.Bus().IoWriteU8(0x43, 0x54, 4)
	m.Bus().IoWriteU8(0x41, 18, 4)

	ec.Do(ExecOpRun)
	if _, err := m.Run(10_000, &ec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ec.State != ExecPaused {
		t.Fatalf("state = %v, want ExecPaused", ec.State)
	}
	if m.InstrTotal() != 1 {
		t.Errorf("executed %d instructions before pausing, want 1", m.InstrTotal())
	}

	// With the watchpoint cleared the same run target completes.
	m.SetDeviceBreak(hw.DevNone)
	ec.Do(ExecOpRun)
	if _, err := m.Run(100, &ec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ec.State != ExecRunning {
		t.Errorf("state = %v, want ExecRunning", ec.State)
	}
}

func TestMachineForwardsDeviceEvents(t *testing.T) {
	cpu := &scriptedCPU{}
	m := newTestMachine(t, cpu)
	var ec ExecutionControl

	// Program the refresh channel through the bus, then step: the scheduler
	// synthesizes a refresh update which lands in the CPU's event hook.
	m.Bus().IoWriteU8(0x43, 0x54, 4)
	m.Bus().IoWriteU8(0x41, 18, 4)

	ec.Do(ExecOpStep)
	if _, err := m.Run(100, &ec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(cpu.events) != 1 {
		t.Fatalf("cpu received %d events, want 1", len(cpu.events))
	}
	if _, ok := cpu.events[0].(hw.DramRefreshUpdate); !ok {
		t.Errorf("event type %T, want DramRefreshUpdate", cpu.events[0])
	}
}
