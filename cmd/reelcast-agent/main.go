package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/reelcast/agent/internal/capture"
	"github.com/reelcast/agent/internal/compositor"
	"github.com/reelcast/agent/internal/config"
	"github.com/reelcast/agent/internal/control"
	"github.com/reelcast/agent/internal/device"
	"github.com/reelcast/agent/internal/health"
	"github.com/reelcast/agent/internal/journal"
	"github.com/reelcast/agent/internal/logging"
	"github.com/reelcast/agent/internal/record"
	"github.com/reelcast/agent/internal/storage"
)

var (
	version   = "0.1.0"
	cfgFile   string
	synthetic bool
)

var rootCmd = &cobra.Command{
	Use:   "reelcast-agent",
	Short: "Reelcast recording agent",
	Long:  `Reelcast Agent - local screen, microphone, and camera recorder with a control API`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the agent and its control API",
	Run: func(cmd *cobra.Command, args []string) {
		runAgent()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Reelcast Agent v%s\n", version)
	},
}

var (
	recordDuration time.Duration
	recordMic      string
	recordCamera   bool
	recordCameraID string
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record once from the command line",
	Long:  `Record the display (plus optional microphone and camera) until the duration elapses or Ctrl-C.`,
	Run: func(cmd *cobra.Command, args []string) {
		recordOnce()
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List microphones and cameras",
	Run: func(cmd *cobra.Command, args []string) {
		listDevices()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is the per-user reelcast.yaml)")
	rootCmd.PersistentFlags().BoolVar(&synthetic, "synthetic", false, "use synthetic capture sources instead of real hardware")

	recordCmd.Flags().DurationVar(&recordDuration, "duration", 0, "stop automatically after this long (0 = until Ctrl-C)")
	recordCmd.Flags().StringVar(&recordMic, "mic", "", "microphone device id (empty = no microphone)")
	recordCmd.Flags().BoolVar(&recordCamera, "camera", false, "overlay the camera picture-in-picture")
	recordCmd.Flags().StringVar(&recordCameraID, "camera-id", "", "camera device id (empty = default)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(libraryCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads config, initializes logging, and applies the synthetic flag.
func setup() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stderr)
	for _, err := range cfg.Validate() {
		logging.L("main").Warn("config corrected", logging.KeyError, err)
	}
	if synthetic {
		capture.UseSyntheticDisplay(1280, 720, 30, 200)
		device.RegisterSynthetic(440)
	}
	return cfg
}

func buildRecorder(cfg *config.Config) (*record.Recorder, *storage.Library, *health.Monitor, *journal.Journal) {
	lib, err := storage.Open(cfg.StorageDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open library: %v\n", err)
		os.Exit(1)
	}
	jnl, err := journal.Open(cfg.StorageDir)
	if err != nil {
		logging.L("main").Warn("journal unavailable", logging.KeyError, err)
	}
	mon := health.NewMonitor()
	rec := record.New(record.Config{
		StorageDir:      cfg.StorageDir,
		MinFreeBytes:    cfg.MinFreeBytes,
		VideoBitrate:    cfg.VideoBitrate,
		ChunkInterval:   time.Duration(cfg.ChunkIntervalMs) * time.Millisecond,
		FrameRate:       cfg.FrameRate,
		RefreshRate:     cfg.RefreshRate,
		FallbackWidth:   cfg.FallbackWidth,
		FallbackHeight:  cfg.FallbackHeight,
		OverlayPosition: compositor.Position(cfg.OverlayPosition),
		OverlayRatio:    cfg.OverlayRatio,
		MimePreferences: cfg.MimePreferences,
		Health:          mon,
		Journal:         jnl,
	}, nil, lib)
	return rec, lib, mon, jnl
}

func runAgent() {
	cfg := setup()
	rec, lib, mon, jnl := buildRecorder(cfg)
	jnl.Log(journal.EventAgentStart, "", map[string]any{"version": version})
	defer jnl.Close()

	// Re-reconcile the library whenever the recordings folder changes
	// behind our back.
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if changes, err := lib.Watch(watchCtx); err != nil {
		logging.L("main").Warn("library watch unavailable", logging.KeyError, err)
	} else {
		go func() {
			for range changes {
				if _, err := lib.List(watchCtx); err != nil {
					mon.Set(health.ComponentLibrary, health.Degraded, err.Error())
					continue
				}
				mon.Set(health.ComponentLibrary, health.Healthy, "")
			}
		}()
	}

	srv := control.New(cfg.ControlAddr, rec, lib, mon)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	fmt.Printf("Reelcast Agent v%s\n", version)
	fmt.Printf("Control API: http://%s\n", cfg.ControlAddr)
	fmt.Printf("Library: %s\n", cfg.StorageDir)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "Control API failed: %v\n", err)
			os.Exit(1)
		}
	case <-sigChan:
	}

	fmt.Println("\nShutting down agent...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if result, err := rec.Stop(ctx); err == nil && result != nil {
		fmt.Printf("Saved in-flight recording %s\n", result.RecordingID)
	}
	srv.Shutdown(ctx)
	jnl.Log(journal.EventAgentStop, "", nil)
}

func recordOnce() {
	cfg := setup()
	rec, lib, _, jnl := buildRecorder(cfg)
	defer jnl.Close()

	ctx := context.Background()
	err := rec.Start(ctx, record.Options{
		MicDeviceID:    recordMic,
		CameraEnabled:  recordCamera,
		CameraDeviceID: recordCameraID,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start recording: %v\n", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	if recordDuration > 0 {
		fmt.Printf("Recording for %v (Ctrl-C to stop early)...\n", recordDuration)
		select {
		case <-time.After(recordDuration):
		case <-sigChan:
		}
	} else {
		fmt.Println("Recording... press Ctrl-C to stop.")
		<-sigChan
	}

	result, err := rec.Stop(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Recording failed: %v\n", err)
		os.Exit(1)
	}
	recording, err := lib.Get(ctx, result.RecordingID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Recording saved but not listed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Saved %s (%v, %d bytes)\n", lib.Path(recording), result.Duration.Round(time.Second), recording.Size)
	if len(result.Degraded) > 0 {
		fmt.Printf("Note: recorded without %v\n", result.Degraded)
	}
}

func listDevices() {
	setup()
	devices, err := record.ListDevices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to enumerate devices: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Microphones:")
	if len(devices.Microphones) == 0 {
		fmt.Println("  (none)")
	}
	for _, d := range devices.Microphones {
		fmt.Printf("  %-36s %s\n", d.ID, d.Label)
	}
	fmt.Println("Cameras:")
	if len(devices.Cameras) == 0 {
		fmt.Println("  (none)")
	}
	for _, d := range devices.Cameras {
		fmt.Printf("  %-36s %s\n", d.ID, d.Label)
	}
}
