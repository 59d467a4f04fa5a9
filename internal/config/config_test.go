package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("data_dir", "/var/lib/moonhunter")

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	if cfg.ScenesFile != filepath.Join("/var/lib/moonhunter", "moon_scenes.json") {
		t.Errorf("ScenesFile = %s", cfg.ScenesFile)
	}
	if cfg.Scan.HorizonDays != 90 || cfg.Scan.Granule() != 15*time.Minute || cfg.Scan.ResultCount != 3 {
		t.Errorf("Scan = %+v", cfg.Scan)
	}
	if cfg.Illumination.Source != SourceFarmsense || cfg.Illumination.Timeout != 10*time.Second || !cfg.Illumination.Cache {
		t.Errorf("Illumination = %+v", cfg.Illumination)
	}
}

func TestNewViperReadsFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	content := strings.Join([]string{
		"data_dir: " + dir,
		"db_path: /tmp/other.db",
		"scan:",
		"  horizon_days: 30",
		"illumination:",
		"  source: computed",
		"",
	}, "\n")
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MOONHUNTER_SCAN_GRANULE_MINUTES", "30")
	t.Setenv("MOONHUNTER_LOG_LEVEL", "debug")

	v, err := NewViper(cfgFile)
	if err != nil {
		t.Fatalf("NewViper() unexpected error: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	if cfg.DBPath != "/tmp/other.db" {
		t.Errorf("DBPath = %s, absolute paths should be kept", cfg.DBPath)
	}
	if cfg.Scan.HorizonDays != 30 || cfg.Scan.GranuleMinutes != 30 {
		t.Errorf("Scan = %+v", cfg.Scan)
	}
	if cfg.Illumination.Source != SourceComputed {
		t.Errorf("Source = %s", cfg.Illumination.Source)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %s", cfg.Log.Level)
	}
}

func TestValidate(t *testing.T) {
	base := func() *viper.Viper {
		v := viper.New()
		SetDefaults(v)
		return v
	}

	tests := []struct {
		name string
		key  string
		val  any
	}{
		{"unknown source", "illumination.source", "skyfield"},
		{"granule not dividing hour", "scan.granule_minutes", 7},
		{"zero horizon", "scan.horizon_days", 0},
		{"bad timezone", "timezone", "Mars/Olympus"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := base()
			v.Set(tt.key, tt.val)
			if _, err := Load(v); err == nil {
				t.Errorf("expected error for %s=%v", tt.key, tt.val)
			}
		})
	}
}
