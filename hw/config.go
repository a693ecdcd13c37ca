package hw

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// MachineType selects a machine descriptor, which carries the fixed hardware
// parameters of a machine model (crystals, clock divisors, PPI presence).
type MachineType int

const (
	IBM5150 MachineType = iota
	IBM5160
)

var machineTypeNames = map[string]MachineType{
	"ibm5150": IBM5150,
	"ibm5160": IBM5160,
}

func (mt MachineType) String() string {
	for name, t := range machineTypeNames {
		if t == mt {
			return name
		}
	}
	return fmt.Sprintf("MachineType(%d)", int(mt))
}

func (mt MachineType) MarshalText() ([]byte, error) {
	return []byte(mt.String()), nil
}

func (mt *MachineType) UnmarshalText(text []byte) error {
	t, ok := machineTypeNames[string(text)]
	if !ok {
		return fmt.Errorf("unknown machine type %q", text)
	}
	*mt = t
	return nil
}

// MachineDescriptor describes the invariant hardware properties of a machine
// model. Crystal frequencies are in MHz.
type MachineDescriptor struct {
	Type          MachineType
	SystemCrystal float64
	// TimerCrystal is non-zero when the PIT runs on a dedicated crystal and
	// must be advanced in microseconds rather than system ticks.
	TimerCrystal float64
	TimerDivisor uint32
	CPUDivisor   uint8
	HavePPI      bool
}

var machineDescriptors = map[MachineType]MachineDescriptor{
	IBM5150: {
		Type:          IBM5150,
		SystemCrystal: 14.318180,
		TimerDivisor:  12,
		CPUDivisor:    3,
		HavePPI:       true,
	},
	IBM5160: {
		Type:          IBM5160,
		SystemCrystal: 14.318180,
		TimerDivisor:  12,
		CPUDivisor:    3,
		HavePPI:       true,
	},
}

// DescriptorFor returns the machine descriptor for a machine type.
func DescriptorFor(mt MachineType) (MachineDescriptor, error) {
	desc, ok := machineDescriptors[mt]
	if !ok {
		return MachineDescriptor{}, fmt.Errorf("no descriptor for machine type %v", mt)
	}
	return desc, nil
}

// VideoType identifies a video adapter kind. The set is closed: each kind has
// type-specific MMIO aperture registration and its own timing model.
type VideoType int

const (
	VideoMDA VideoType = iota
	VideoCGA
)

var videoTypeNames = map[string]VideoType{
	"mda": VideoMDA,
	"cga": VideoCGA,
}

func (vt VideoType) String() string {
	switch vt {
	case VideoMDA:
		return "mda"
	case VideoCGA:
		return "cga"
	}
	return fmt.Sprintf("VideoType(%d)", int(vt))
}

func (vt VideoType) MarshalText() ([]byte, error) {
	return []byte(vt.String()), nil
}

func (vt *VideoType) UnmarshalText(text []byte) error {
	t, ok := videoTypeNames[string(text)]
	if !ok {
		return fmt.Errorf("unknown video type %q", text)
	}
	*vt = t
	return nil
}

// VideoCardID is the identity of an installed video card. Several cards may
// coexist (an MDA next to a CGA); the pair (index, type) is unique among
// installed cards.
type VideoCardID struct {
	Idx  int
	Type VideoType
}

func (id VideoCardID) String() string {
	return fmt.Sprintf("%s#%d", id.Type, id.Idx)
}

// MachineConfig is the user-provided machine configuration, loaded from TOML.
// It selects which optional peripherals get installed on the bus.
type MachineConfig struct {
	Machine            MachineType `toml:"machine"`
	ConventionalMemory int         `toml:"conventional_memory"`

	Keyboard *KeyboardConfig `toml:"keyboard"`
	FDC      *FdcConfig      `toml:"fdc"`
	HDC      *HdcConfig      `toml:"hdc"`
	Serial   *SerialConfig   `toml:"serial"`
	Mouse    *MouseConfig    `toml:"mouse"`
	Video    []VideoConfig   `toml:"video"`
}

type KeyboardConfig struct {
	Typematic      bool    `toml:"typematic"`
	TypematicDelay float64 `toml:"typematic_delay_ms"`
	TypematicRate  float64 `toml:"typematic_rate_cps"`
}

type FdcConfig struct {
	Drives int `toml:"drives"`
}

type HdcConfig struct {
	Drives int `toml:"drives"`
}

type SerialConfig struct {
	Ports int `toml:"ports"`
}

type MouseConfig struct {
	// Port is the index of the serial port the mouse is attached to.
	Port int `toml:"port"`
}

type VideoConfig struct {
	Type VideoType `toml:"type"`
}

// DefaultMachineConfig is a 5160 with 640K, keyboard, one floppy drive and a
// CGA card.
func DefaultMachineConfig() MachineConfig {
	return MachineConfig{
		Machine:            IBM5160,
		ConventionalMemory: 0xA0000,
		Keyboard: &KeyboardConfig{
			Typematic:      true,
			TypematicDelay: 500.0,
			TypematicRate:  10.0,
		},
		FDC:   &FdcConfig{Drives: 1},
		Video: []VideoConfig{{Type: VideoCGA}},
	}
}

// LoadMachineConfig reads a machine configuration file.
func LoadMachineConfig(path string) (MachineConfig, error) {
	cfg := DefaultMachineConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return MachineConfig{}, fmt.Errorf("machine config: %w", err)
	}
	if err := cfg.check(); err != nil {
		return MachineConfig{}, err
	}
	return cfg, nil
}

// SaveMachineConfig writes a machine configuration file.
func SaveMachineConfig(cfg MachineConfig, path string) error {
	buf, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0644)
}

func (cfg *MachineConfig) check() error {
	if _, err := DescriptorFor(cfg.Machine); err != nil {
		return err
	}
	if cfg.ConventionalMemory <= 0 || cfg.ConventionalMemory > AddressSpace {
		return fmt.Errorf("conventional memory size %#x out of range", cfg.ConventionalMemory)
	}
	if cfg.Mouse != nil && cfg.Serial == nil {
		return fmt.Errorf("serial mouse configured without a serial controller")
	}
	// Two cards of the same type would collide on ports and MMIO aperture.
	seen := make(map[VideoType]bool)
	for _, vc := range cfg.Video {
		if seen[vc.Type] {
			return fmt.Errorf("duplicate video card type %v", vc.Type)
		}
		seen[vc.Type] = true
	}
	return nil
}
