package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/spf13/cobra"

	"github.com/reelcast/agent/internal/capture"
	"github.com/reelcast/agent/internal/record"
	"github.com/reelcast/agent/internal/storage"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that this machine can record",
	Run: func(cmd *cobra.Command, args []string) {
		runDoctor()
	},
}

func runDoctor() {
	cfg := setup()
	ok := true
	report := func(good bool, label, detail string) {
		mark := "ok"
		if !good {
			mark = "FAIL"
			ok = false
		}
		fmt.Printf("  [%4s] %-22s %s\n", mark, label, detail)
	}

	fmt.Println("Reelcast doctor")

	if info, err := host.Info(); err == nil {
		report(true, "host", fmt.Sprintf("%s %s (%s)", info.Platform, info.PlatformVersion, info.KernelArch))
	} else {
		report(false, "host", err.Error())
	}

	if backend := capture.ActiveBackend(); backend != "" {
		report(true, "display capture", backend)
	} else {
		report(false, "display capture", "no capture backend for this platform (try --synthetic)")
	}

	devices, err := record.ListDevices()
	if err != nil {
		report(false, "devices", err.Error())
	} else {
		report(true, "devices", fmt.Sprintf("%d microphone(s), %d camera(s)",
			len(devices.Microphones), len(devices.Cameras)))
	}

	lib, err := storage.Open(cfg.StorageDir)
	if err != nil {
		report(false, "library", err.Error())
	} else {
		probe := filepath.Join(cfg.StorageDir, ".doctor")
		if werr := os.WriteFile(probe, []byte("ok"), 0o644); werr != nil {
			report(false, "library", fmt.Sprintf("%s not writable: %v", cfg.StorageDir, werr))
		} else {
			os.Remove(probe)
			report(true, "library", cfg.StorageDir)
		}
		if free, ferr := lib.FreeSpace(); ferr != nil {
			report(false, "disk space", ferr.Error())
		} else {
			report(free >= cfg.MinFreeBytes, "disk space",
				fmt.Sprintf("%s free (minimum %s)", formatSize(int64(free)), formatSize(int64(cfg.MinFreeBytes))))
		}
	}

	if !ok {
		os.Exit(1)
	}
}
