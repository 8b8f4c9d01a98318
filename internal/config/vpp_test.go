package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadVPPSettings(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    VPPSettings
		wantErr bool
	}{
		{
			name:    "empty file keeps defaults",
			content: "",
			want:    DefaultVPPSettings(),
		},
		{
			name: "hdmi with rates",
			content: `common_on = false
frc_on = true
frc_for_hdmi = true
display_mode = "HDMI"
hdmi_refresh_rates = [50, 60]
`,
			want: VPPSettings{
				CommonOn:         false,
				FrcOn:            true,
				FrcForHDMI:       true,
				DisplayMode:      DisplayHDMI,
				HDMIRefreshRates: []int{50, 60},
			},
		},
		{
			name:    "unknown display mode",
			content: `display_mode = "dp"`,
			wantErr: true,
		},
		{
			name:    "negative refresh rate",
			content: `hdmi_refresh_rates = [-1]`,
			wantErr: true,
		},
		{
			name:    "malformed",
			content: `frc_on = `,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "vpp.toml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}

			got, err := LoadVPPSettings(path)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				if !got.Equal(DefaultVPPSettings()) {
					t.Errorf("failed load should return defaults, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadVPPSettings: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLoadVPPSettingsMissingFile(t *testing.T) {
	got, err := LoadVPPSettings(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if !got.Equal(DefaultVPPSettings()) {
		t.Errorf("got %+v, want defaults", got)
	}
	if got.HDMIConnected() {
		t.Error("defaults should not report HDMI")
	}
}

func TestVPPSettingsEqual(t *testing.T) {
	a := VPPSettings{DisplayMode: DisplayHDMI, HDMIRefreshRates: []int{60}}
	b := VPPSettings{DisplayMode: DisplayHDMI, HDMIRefreshRates: []int{60}}
	if !a.Equal(b) {
		t.Error("identical settings should be equal")
	}
	b.HDMIRefreshRates = []int{50}
	if a.Equal(b) {
		t.Error("different refresh rates should not be equal")
	}
}
