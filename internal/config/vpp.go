package config

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Display modes accepted in vpp.toml.
const (
	DisplayLocal = "local"
	DisplayHDMI  = "hdmi"
)

// VPPSettings is the contents of vpp.toml, the runtime switches of the video post-processor.
type VPPSettings struct {
	// CommonOn enables the resolution-driven filters (deblock, denoise, sharpen, color).
	CommonOn bool `toml:"common_on"`
	// FrcOn enables frame-rate conversion.
	FrcOn bool `toml:"frc_on"`
	// FrcForHDMI selects the HDMI refresh-rate matching policy while HDMI is connected.
	FrcForHDMI bool `toml:"frc_for_hdmi"`
	// DisplayMode is "local" or "hdmi".
	DisplayMode string `toml:"display_mode"`
	// HDMIRefreshRates lists the refresh rates the connected sink accepts at its current resolution.
	HDMIRefreshRates []int `toml:"hdmi_refresh_rates"`
}

// DefaultVPPSettings returns the settings used when no vpp.toml exists.
func DefaultVPPSettings() VPPSettings {
	return VPPSettings{
		CommonOn:    true,
		FrcOn:       false,
		DisplayMode: DisplayLocal,
	}
}

// HDMIConnected reports whether the display mode routes output to HDMI.
func (s VPPSettings) HDMIConnected() bool {
	return s.DisplayMode == DisplayHDMI
}

// Equal reports whether two settings would configure the pipeline identically.
func (s VPPSettings) Equal(o VPPSettings) bool {
	return s.CommonOn == o.CommonOn &&
		s.FrcOn == o.FrcOn &&
		s.FrcForHDMI == o.FrcForHDMI &&
		s.DisplayMode == o.DisplayMode &&
		slices.Equal(s.HDMIRefreshRates, o.HDMIRefreshRates)
}

// LoadVPPSettings reads vpp.toml. Keys absent from the file keep their defaults.
// A missing file yields the defaults without error.
func LoadVPPSettings(path string) (VPPSettings, error) {
	settings := DefaultVPPSettings()
	if path == "" {
		return settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return settings, fmt.Errorf("read vpp settings: %w", err)
	}
	if err := toml.Unmarshal(data, &settings); err != nil {
		return DefaultVPPSettings(), fmt.Errorf("parse vpp settings %s: %w", path, err)
	}

	settings.DisplayMode = strings.ToLower(strings.TrimSpace(settings.DisplayMode))
	switch settings.DisplayMode {
	case DisplayLocal, DisplayHDMI:
	case "":
		settings.DisplayMode = DisplayLocal
	default:
		return DefaultVPPSettings(), fmt.Errorf("invalid display_mode %q", settings.DisplayMode)
	}
	for _, rate := range settings.HDMIRefreshRates {
		if rate <= 0 {
			return DefaultVPPSettings(), fmt.Errorf("invalid hdmi refresh rate %d", rate)
		}
	}
	return settings, nil
}
