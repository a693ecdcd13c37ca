package main

import (
	"fmt"
	"os"

	"xtem/hw"
)

var version = "(devel)"

func main() {
	cli := parseArgs(os.Args[1:])

	switch cli.mode {
	case versionMode:
		fmt.Println("xtem", version)
	case infoMode:
		infoMain(loadMachineConfig(cli.Config))
	case dumpMode:
		dumpMain(cli.Dump, loadMachineConfig(cli.Config))
	case runMode:
		runMain(cli.Run, loadMachineConfig(cli.Config))
	}
}

func infoMain(cfg hw.MachineConfig) {
	desc, err := hw.DescriptorFor(cfg.Machine)
	checkf(err, "invalid machine configuration")

	cpuMHz := hw.Divisor(desc.CPUDivisor).MHz(desc.SystemCrystal)
	timerMHz := desc.SystemCrystal / float64(desc.TimerDivisor)
	if desc.TimerCrystal != 0 {
		timerMHz = desc.TimerCrystal
	}

	fmt.Printf("machine:        %v\n", cfg.Machine)
	fmt.Printf("system crystal: %.6f MHz\n", desc.SystemCrystal)
	fmt.Printf("cpu clock:      %.6f MHz (divisor %d)\n", cpuMHz, desc.CPUDivisor)
	fmt.Printf("timer clock:    %.6f MHz\n", timerMHz)
	fmt.Printf("memory:         %d KiB conventional\n", cfg.ConventionalMemory/1024)

	if cfg.Keyboard != nil {
		fmt.Printf("keyboard:       typematic=%v\n", cfg.Keyboard.Typematic)
	}
	if cfg.FDC != nil {
		fmt.Printf("floppy:         %d drive(s)\n", cfg.FDC.Drives)
	}
	if cfg.HDC != nil {
		fmt.Printf("hard disk:      %d drive(s)\n", cfg.HDC.Drives)
	}
	if cfg.Serial != nil {
		fmt.Printf("serial:         %d port(s)\n", cfg.Serial.Ports)
	}
	if cfg.Mouse != nil {
		fmt.Printf("mouse:          serial port %d\n", cfg.Mouse.Port)
	}
	for i, vc := range cfg.Video {
		fmt.Printf("video %d:        %v\n", i, vc.Type)
	}
}

func dumpMain(args Dump, cfg hw.MachineConfig) {
	desc, err := hw.DescriptorFor(cfg.Machine)
	checkf(err, "invalid machine configuration")

	bus := hw.NewBus(hw.Divisor(desc.CPUDivisor), desc)
	checkf(bus.InstallDevices(&cfg), "failed to install devices")

	out := args.Out
	defer out.Close()
	_, err = out.Write(append(hw.DumpState(bus), '\n'))
	checkf(err, "failed to write dump")
}
