package config

import (
	"os"
	"strconv"
	"time"
)

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Live session bridge
	BridgeHost    string
	BridgePort    int
	ListenPort    int           // local UDP port the bridge pushes state to
	BridgeTimeout time.Duration // per-request timeout

	// Waveform display (envelope consumer)
	DisplayHost    string
	DisplayPort    int
	DisplayAddress string // OSC address of section messages
	SendRetries    int    // extra attempts per failed send

	// Rendering
	Resolution     int    // envelope points per channel per section
	DynamicsPrefix string // name prefix of the audio track
	SectionsPrefix string // name prefix of the section marker track
	DecodeWorkers  int    // concurrent clip resolutions per rebuild

	// Preview server (0 disables)
	HTTPPort int
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	cfg := Config{
		BridgeHost:    envStr("WAVECUE_BRIDGE_HOST", "127.0.0.1"),
		BridgePort:    envInt("WAVECUE_BRIDGE_PORT", 39051),
		ListenPort:    envInt("WAVECUE_LISTEN_PORT", 39052),
		BridgeTimeout: time.Duration(envFloat("WAVECUE_BRIDGE_TIMEOUT", 3) * float64(time.Second)),

		DisplayHost:    envStr("WAVECUE_DISPLAY_HOST", "127.0.0.1"),
		DisplayPort:    envInt("WAVECUE_DISPLAY_PORT", 39041),
		DisplayAddress: envStr("WAVECUE_DISPLAY_ADDRESS", "/setlist/sectionWaveform"),
		SendRetries:    envInt("WAVECUE_SEND_RETRIES", 2),

		Resolution:     envInt("WAVECUE_RESOLUTION", 72),
		DynamicsPrefix: envStr("WAVECUE_DYNAMICS_PREFIX", "Dynamics"),
		SectionsPrefix: envStr("WAVECUE_SECTIONS_PREFIX", "Sections"),
		DecodeWorkers:  envInt("WAVECUE_DECODE_WORKERS", 4),

		HTTPPort: envInt("WAVECUE_HTTP_PORT", 8090),
	}

	// Envelopes need at least one point per channel.
	if cfg.Resolution < 1 {
		cfg.Resolution = 72
	}
	return cfg
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
