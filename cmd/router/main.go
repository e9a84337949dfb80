// Command router is the ground-station router: it pairs the
// controller's radio cards to the paired vehicle's links, then runs
// the cooperative receive/schedule/transmit loop described in
// internal/router until a terminating signal arrives.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/vtol-link/groundrouter/internal/config"
	"github.com/vtol-link/groundrouter/internal/hwinventory"
	"github.com/vtol-link/groundrouter/internal/ipc"
	"github.com/vtol-link/groundrouter/internal/radioio"
	"github.com/vtol-link/groundrouter/internal/router"
	"github.com/vtol-link/groundrouter/internal/shm"
)

// version is set at build time via -ldflags, matching the pattern of
// reporting a plain string rather than parsing VCS info at runtime.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		showVer   = pflag.BoolP("ver", "v", false, "Print version and exit.")
		searchKHz = pflag.Uint32("search", 0, "Run in search mode at the given frequency (kHz) instead of normal routing.")
		debug     = pflag.Bool("debug", false, "Enable debug-level logging.")
		configDir = pflag.String("config", "/etc/groundrouter", "Directory holding the persisted YAML config and sentinel files.")
	)

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - ground-station radio link router\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *showVer {
		fmt.Println(version)
		return 0
	}

	logger := log.New(os.Stderr)
	logger.SetReportTimestamp(true)
	if *debug {
		logger.SetLevel(log.DebugLevel)
	}

	model, prefs, controllerSettings, err := loadPersistedConfig(*configDir)
	if err != nil {
		logger.Error("failed to load persisted config", "err", err)
		return -1
	}

	cards, err := hwinventory.Enumerate()
	if err != nil {
		logger.Error("hardware enumeration failed", "err", err)
		return -1
	}

	backends := radioio.NewBackends()
	now := time.Now()

	if *searchKHz != 0 {
		return runSearch(logger, cards, backends, model, prefs, controllerSettings, now, *searchKHz)
	}

	return runNormal(logger, cards, backends, model, prefs, controllerSettings, *configDir, now)
}

func loadPersistedConfig(dir string) (config.VehicleModel, config.Preferences, config.ControllerSettings, error) {
	model, err := config.LoadVehicleModel(filepath.Join(dir, "vehicle_model.yaml"))
	if err != nil {
		return config.VehicleModel{}, config.Preferences{}, config.ControllerSettings{}, fmt.Errorf("vehicle model: %w", err)
	}
	prefs, err := config.LoadPreferences(filepath.Join(dir, "preferences.yaml"))
	if err != nil {
		return config.VehicleModel{}, config.Preferences{}, config.ControllerSettings{}, fmt.Errorf("preferences: %w", err)
	}
	cs, err := config.LoadControllerSettings(filepath.Join(dir, "controller_settings.yaml"))
	if err != nil {
		return config.VehicleModel{}, config.Preferences{}, config.ControllerSettings{}, fmt.Errorf("controller settings: %w", err)
	}
	return model, prefs, cs, nil
}

func runSearch(logger *log.Logger, cards []hwinventory.Card, backends *radioio.Backends, model config.VehicleModel, prefs config.Preferences, cs config.ControllerSettings, now time.Time, freqKHz uint32) int {
	r, err := router.NewSearching(router.Deps{
		ControllerUID:           cs.ControllerUID,
		MainConnectFrequencyKHz: cs.MainConnectFrequency(model.VehicleID),
		Model:                   model,
		Prefs:                   prefs,
		Cards:                   cards,
		Backends:                backends,
		DiskProbePath:           "/",
		Logger:                  logger,
		Now:                     now,
	}, freqKHz)
	if err != nil {
		logger.Error("search-mode bring-up failed", "err", err)
		return -1
	}
	defer r.Close()

	logger.Info("searching for vehicle", "frequency_khz", freqKHz)
	if err := r.RunSignalAware(context.Background()); err != nil {
		logger.Error("search loop exited with error", "err", err)
		return -1
	}
	return 0
}

func runNormal(logger *log.Logger, cards []hwinventory.Card, backends *radioio.Backends, model config.VehicleModel, prefs config.Preferences, cs config.ControllerSettings, configDir string, now time.Time) int {
	endpoints, err := ipc.OpenAll(ipc.Paths{
		CentralToRouter:   filepath.Join(configDir, "pipes", "central_to_router"),
		RouterToCentral:   filepath.Join(configDir, "pipes", "router_to_central"),
		TelemetryToRouter: filepath.Join(configDir, "pipes", "telemetry_to_router"),
		RouterToTelemetry: filepath.Join(configDir, "pipes", "router_to_telemetry"),
		RCToRouter:        filepath.Join(configDir, "pipes", "rc_to_router"),
		RouterToRC:        filepath.Join(configDir, "pipes", "router_to_rc"),
		Audio:             filepath.Join(configDir, "pipes", "audio"),
		AudioEnabled:      model.AudioEnabled && model.AudioDeviceAvailable,
	})
	if err != nil {
		logger.Error("failed to open IPC endpoints", "err", err)
		return -1
	}

	statsRegion, err := shm.Open(filepath.Join(configDir, "router_stats.shm"), statsRegionSize(len(cards), len(model.RadioLinks)))
	if err != nil {
		logger.Warn("stats region unavailable, continuing without it", "err", err)
		statsRegion = nil
	}

	r, err := router.New(router.Deps{
		ControllerUID:           cs.ControllerUID,
		MainConnectFrequencyKHz: cs.MainConnectFrequency(model.VehicleID),
		Model:                   model,
		Prefs:                   prefs,
		Cards:                   cards,
		Backends:                backends,
		Endpoints:               endpoints,
		StatsRegion:             statsRegion,
		DiskProbePath:           configDir,
		Logger:                  logger,
		Now:                     now,
	})
	if err != nil {
		logger.Error("router bring-up failed", "err", err)
		endpoints.CloseAll()
		return -1
	}
	defer r.Close()

	r.AnnounceReady()

	if err := r.RunSignalAware(context.Background()); err != nil {
		logger.Error("main loop exited with error", "err", err)
		return -1
	}
	return 0
}

// statsRegionSize matches internal/router's encodeStatsSnapshot layout:
// an 8+4+4+8+4+4+4 byte header, 40 bytes per interface (5 uint64
// counters) and 16 bytes per link (2 uint64 counters).
func statsRegionSize(nInterfaces, nLinks int) int {
	const header = 8 + 4 + 4 + 8 + 4 + 4 + 4
	const perInterface = 40
	const perLink = 16
	return header + nInterfaces*perInterface + nLinks*perLink
}
