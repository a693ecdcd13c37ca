package hw

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMachineConfigRoundTrip(t *testing.T) {
	want := DefaultMachineConfig()
	want.Machine = IBM5150
	want.Serial = &SerialConfig{Ports: 2}
	want.Mouse = &MouseConfig{Port: 1}
	want.Video = append(want.Video, VideoConfig{Type: VideoMDA})

	path := filepath.Join(t.TempDir(), "machine.toml")
	if err := SaveMachineConfig(want, path); err != nil {
		t.Fatalf("SaveMachineConfig: %v", err)
	}
	got, err := LoadMachineConfig(path)
	if err != nil {
		t.Fatalf("LoadMachineConfig: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestMachineConfigCheck(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*MachineConfig)
		wantErr bool
	}{
		{
			name:   "default is valid",
			mutate: func(cfg *MachineConfig) {},
		},
		{
			name: "mouse without serial controller",
			mutate: func(cfg *MachineConfig) {
				cfg.Mouse = &MouseConfig{Port: 0}
			},
			wantErr: true,
		},
		{
			name: "conventional memory zero",
			mutate: func(cfg *MachineConfig) {
				cfg.ConventionalMemory = 0
			},
			wantErr: true,
		},
		{
			name: "conventional memory beyond address space",
			mutate: func(cfg *MachineConfig) {
				cfg.ConventionalMemory = AddressSpace + 1
			},
			wantErr: true,
		},
		{
			name: "mda next to cga",
			mutate: func(cfg *MachineConfig) {
				cfg.Video = []VideoConfig{{Type: VideoMDA}, {Type: VideoCGA}}
			},
		},
		{
			name: "two cards of the same type",
			mutate: func(cfg *MachineConfig) {
				cfg.Video = []VideoConfig{{Type: VideoCGA}, {Type: VideoCGA}}
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultMachineConfig()
			tt.mutate(&cfg)
			err := cfg.check()
			if (err != nil) != tt.wantErr {
				t.Fatalf("check() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestVideoTypeText(t *testing.T) {
	var vt VideoType
	if err := vt.UnmarshalText([]byte("mda")); err != nil || vt != VideoMDA {
		t.Errorf("UnmarshalText(mda) = (%v, %v)", vt, err)
	}
	if err := vt.UnmarshalText([]byte("ega")); err == nil {
		t.Error("UnmarshalText(ega) accepted an unknown type")
	}
	if got := (VideoCardID{Idx: 1, Type: VideoCGA}).String(); got != "cga#1" {
		t.Errorf("VideoCardID.String = %q, want \"cga#1\"", got)
	}
}
