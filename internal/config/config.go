// Package config loads and persists the router's YAML-backed inputs:
// the paired vehicle model, router preferences, controller settings
// and controller-interfaces settings, plus the first-pairing sentinel
// file. See spec §6 "Persisted inputs".
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/vtol-link/groundrouter/internal/assign"
	"github.com/vtol-link/groundrouter/internal/pairing"
)

// RadioLinkConfig is one entry of VehicleModel.RadioLinks, mirroring
// radioLinksParams' per-link fields the router actually consumes.
type RadioLinkConfig struct {
	FrequencyKHz uint32 `yaml:"frequency_khz"`
	Enabled      bool   `yaml:"enabled"`
	Relay        bool   `yaml:"relay"`
	Direction    string `yaml:"direction"` // "both", "uplink", "downlink"
	IsSiK        bool   `yaml:"is_sik"`
	// DatarateKbps is the link's own TX datarate, the fallback an
	// Atheros-family card's SetDatarate uses absent a per-card override.
	DatarateKbps uint32 `yaml:"datarate_kbps"`
}

// VideoLinkProfile mirrors the one active video_link_profiles entry
// the ping injector and scheduler consult for adaptive-video flags.
type VideoLinkProfile struct {
	AdaptiveVideoEnabled        bool `yaml:"adaptive_video_enabled"`
	AdaptiveVideoUsesController bool `yaml:"adaptive_video_uses_controller"`
}

// VehicleModel is the external, read-only paired-vehicle description.
type VehicleModel struct {
	VehicleID              uint32            `yaml:"vehicle_id"`
	IsSpectator            bool              `yaml:"is_spectator"`
	MustSyncFromVehicle    bool              `yaml:"must_sync_from_vehicle"`
	HasCamera              bool              `yaml:"has_camera"`
	ClockSyncType          pairing.ClockSyncType `yaml:"clock_sync_type"`
	AudioEnabled           bool              `yaml:"audio_enabled"`
	AudioDeviceAvailable   bool              `yaml:"audio_device_available"`
	EncryptionEnabled      bool              `yaml:"encryption_enabled"`
	RadioLinks             []RadioLinkConfig `yaml:"radio_links"`
	SelectedVideoProfile   VideoLinkProfile  `yaml:"selected_video_profile"`
}

// Links converts the model's radio link config into assign.Link
// values for the planner.
func (m VehicleModel) Links() []assign.Link {
	out := make([]assign.Link, len(m.RadioLinks))
	for i, l := range m.RadioLinks {
		out[i] = assign.Link{
			Index:        i,
			Frequency:    l.FrequencyKHz,
			Enabled:      l.Enabled,
			Relay:        l.Relay,
			Direction:    directionFromString(l.Direction),
			DatarateKbps: l.DatarateKbps,
		}
	}
	return out
}

func directionFromString(s string) assign.Direction {
	switch s {
	case "uplink":
		return assign.DirectionUplinkOnly
	case "downlink":
		return assign.DirectionDownlinkOnly
	default:
		return assign.DirectionBoth
	}
}

// Preferences is the router's user-tunable behavior knobs.
type Preferences struct {
	MaxPacketSize                              int  `yaml:"max_packet_size"`
	UploadPacketConfirmationFrequency          int  `yaml:"upload_packet_confirmation_frequency"`
	DebugPacketsHistoryGraph                   bool `yaml:"debug_packets_history_graph"`
}

// ControllerSettings carries the controller's own stable identity plus
// user-pinned, per-vehicle choices that outlive any single pairing
// session (the vehicle model itself is re-synced from the vehicle and
// isn't a safe place to store them).
type ControllerSettings struct {
	ControllerUID uint32 `yaml:"controller_uid"`

	// MainConnectFrequencies pins, per vehicle ID, which radio link's
	// frequency the assignment planner should treat as the main connect
	// link (assign/planner.go's mainFrequency, spec §4.1 step 5). Set by
	// the user from the controller UI; zero/absent means "no pin".
	MainConnectFrequencies map[uint32]uint32 `yaml:"main_connect_frequencies"`
}

// MainConnectFrequency returns the user-pinned main connect frequency
// for vehicleID, or 0 if none is stored.
func (c ControllerSettings) MainConnectFrequency(vehicleID uint32) uint32 {
	return c.MainConnectFrequencies[vehicleID]
}

// SetMainConnectFrequency pins vehicleID's main connect frequency.
func (c *ControllerSettings) SetMainConnectFrequency(vehicleID, freqKHz uint32) {
	if c.MainConnectFrequencies == nil {
		c.MainConnectFrequencies = make(map[uint32]uint32)
	}
	c.MainConnectFrequencies[vehicleID] = freqKHz
}

// ControllerInterfacesSettings carries per-card overrides (datarate,
// disabled-by-user) keyed by MAC address.
type ControllerInterfacesSettings struct {
	DatarateOverrides map[string]uint32 `yaml:"datarate_overrides"`
	DisabledCardMACs  []string          `yaml:"disabled_card_macs"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}

func saveYAML(path string, in interface{}) error {
	data, err := yaml.Marshal(in)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadVehicleModel reads the paired vehicle's model file.
func LoadVehicleModel(path string) (VehicleModel, error) {
	var m VehicleModel
	err := loadYAML(path, &m)
	return m, err
}

// SaveVehicleModel persists m to path.
func SaveVehicleModel(path string, m VehicleModel) error { return saveYAML(path, m) }

// LoadPreferences reads router preferences, defaulting MaxPacketSize
// when the file omits or zeroes it.
func LoadPreferences(path string) (Preferences, error) {
	var p Preferences
	if err := loadYAML(path, &p); err != nil {
		return p, err
	}
	if p.MaxPacketSize <= 0 {
		p.MaxPacketSize = 1400
	}
	return p, nil
}

// SavePreferences persists p to path.
func SavePreferences(path string, p Preferences) error { return saveYAML(path, p) }

// LoadControllerSettings reads the controller's own identity settings.
func LoadControllerSettings(path string) (ControllerSettings, error) {
	var c ControllerSettings
	err := loadYAML(path, &c)
	return c, err
}

// SaveControllerSettings persists c to path.
func SaveControllerSettings(path string, c ControllerSettings) error { return saveYAML(path, c) }

// LoadControllerInterfacesSettings reads per-card overrides.
func LoadControllerInterfacesSettings(path string) (ControllerInterfacesSettings, error) {
	var c ControllerInterfacesSettings
	err := loadYAML(path, &c)
	return c, err
}

// SaveControllerInterfacesSettings persists c to path.
func SaveControllerInterfacesSettings(path string, c ControllerInterfacesSettings) error {
	return saveYAML(path, c)
}

// FirstPairingDoneSentinelName is the bare filename of the
// FILE_FIRST_PAIRING_DONE sentinel, stored alongside the other
// persisted inputs.
const FirstPairingDoneSentinelName = "first_pairing_done"

// FirstPairingDone reports whether the sentinel file exists under dir.
func FirstPairingDone(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, FirstPairingDoneSentinelName))
	return err == nil
}

// MarkFirstPairingDone creates the sentinel file under dir, truncating
// it if already present.
func MarkFirstPairingDone(dir string) error {
	f, err := os.Create(filepath.Join(dir, FirstPairingDoneSentinelName))
	if err != nil {
		return err
	}
	return f.Close()
}
