package main

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/kirsle/configdir"

	"xtem/emu/log"
	"xtem/hw"
)

var ConfigDir string = sync.OnceValue(func() string {
	dir := configdir.LocalConfig("xtem")
	if err := configdir.MakePath(dir); err != nil {
		log.ModEmu.Fatalf("failed to create directory %s: %v", dir, err)
	}
	return dir
})()

const cfgFilename = "machine.toml"

// loadMachineConfig loads the machine configuration from path, or from the
// xtem config directory when path is empty. A missing default file is
// created from the built-in configuration so there is something to edit.
func loadMachineConfig(path string) hw.MachineConfig {
	if path == "" {
		path = filepath.Join(ConfigDir, cfgFilename)
		if _, err := os.Stat(path); err != nil {
			cfg := hw.DefaultMachineConfig()
			if err := hw.SaveMachineConfig(cfg, path); err != nil {
				log.ModEmu.Warnf("failed to write default config %s: %v", path, err)
			}
			return cfg
		}
	}

	cfg, err := hw.LoadMachineConfig(path)
	checkf(err, "failed to load machine configuration %s", path)
	return cfg
}
