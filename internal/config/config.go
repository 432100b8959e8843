// Package config manages persistent settings for the streamclock demo.
// Settings are stored as JSON at os.UserConfigDir()/streamclock/config.json.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds all persistent demo preferences. The demo reads the device
// IDs, LatencyUsecs, JitterDepth and StartingBitrateKbps once at startup and
// does not read them again while the audio pipeline is running. The DSP
// toggles and Peers are saved and loaded but not applied by the demo: every
// DSP stage runs regardless of its toggle.
type Config struct {
	InputDeviceID  int `json:"input_device_id"`
	OutputDeviceID int `json:"output_device_id"`

	// LatencyUsecs seeds Interpolator.SetLatency. Zero means the latency is
	// taken from the jitter buffer's depth (jitter.Buffer.DepthUSecs).
	LatencyUsecs int64 `json:"latency_usecs"`

	// JitterDepth seeds jitter.Buffer's priming depth in frames.
	JitterDepth int `json:"jitter_depth"`

	AGCEnabled       bool `json:"agc_enabled"`
	VADEnabled       bool `json:"vad_enabled"`
	NoiseGateEnabled bool `json:"noise_gate_enabled"`
	AECEnabled       bool `json:"aec_enabled"`

	// StartingBitrateKbps seeds adapt.Ladder's current rung.
	StartingBitrateKbps int `json:"starting_bitrate_kbps"`

	Peers []PeerEntry `json:"peers"`
}

// PeerEntry is a saved remote endpoint. The loopback demo stores these but
// never dials them.
type PeerEntry struct {
	Name string `json:"name"`
	Addr string `json:"addr"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		InputDeviceID:       -1,
		OutputDeviceID:      -1,
		LatencyUsecs:        0,
		JitterDepth:         4,
		AGCEnabled:          true,
		VADEnabled:          true,
		NoiseGateEnabled:    true,
		AECEnabled:          true,
		StartingBitrateKbps: 24,
		Peers: []PeerEntry{
			{Name: "Local Dev", Addr: "localhost:4433"},
		},
	}
}

// Path returns the absolute path to the config file.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "streamclock", "config.json"), nil
}

// Load reads the config file and returns it. If the file is missing or
// unreadable, the default config is returned — never an error.
func Load() Config {
	path, err := Path()
	if err != nil {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Default()
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default()
	}
	return cfg
}

// Save writes cfg to disk, creating the directory if needed.
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
