// Package config resolves moonhunter settings from a config file, the
// environment and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvPrefix = "MOONHUNTER"

	SourceFarmsense = "farmsense"
	SourceComputed  = "computed"
)

// Config is passed explicitly to every component
type Config struct {
	DataDir        string
	ScenesFile     string
	DBPath         string
	LocalitiesFile string
	Timezone       string // default display zone, IANA

	Scan         ScanConfig
	Illumination IlluminationConfig
	Geocoder     GeocoderConfig
	Server       ServerConfig
	Log          LogConfig
}

type ScanConfig struct {
	HorizonDays    int
	GranuleMinutes int
	ResultCount    int
}

// Granule returns the sampling step
func (s ScanConfig) Granule() time.Duration {
	return time.Duration(s.GranuleMinutes) * time.Minute
}

type IlluminationConfig struct {
	Source  string // farmsense or computed
	BaseURL string
	Timeout time.Duration
	Cache   bool
}

type GeocoderConfig struct {
	BaseURL string
}

type ServerConfig struct {
	Addr string
}

type LogConfig struct {
	Level  string
	Format string // text or json
}

// DefaultDataDir is $HOME/.moonhunter, or .moonhunter when no home exists
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".moonhunter"
	}
	return filepath.Join(home, ".moonhunter")
}

// SetDefaults registers every key's default on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("scenes_file", "moon_scenes.json")
	v.SetDefault("db_path", "moonhunter.db")
	v.SetDefault("localities_file", "lista_localitati_cu_statii.csv")
	v.SetDefault("timezone", "Europe/Bucharest")

	v.SetDefault("scan.horizon_days", 90)
	v.SetDefault("scan.granule_minutes", 15)
	v.SetDefault("scan.result_count", 3)

	v.SetDefault("illumination.source", SourceFarmsense)
	v.SetDefault("illumination.base_url", "")
	v.SetDefault("illumination.timeout", "10s")
	v.SetDefault("illumination.cache", true)

	v.SetDefault("geocoder.base_url", "")
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// NewViper builds a viper instance reading cfgFile, or config.yaml from the
// default data directory, plus MOONHUNTER_* environment variables.
// A missing config file is not an error.
func NewViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(DefaultDataDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return v, nil
}

// Load resolves and validates the configuration. Relative file paths are
// taken relative to data_dir.
func Load(v *viper.Viper) (Config, error) {
	dataDir := v.GetString("data_dir")
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dataDir, p)
	}

	cfg := Config{
		DataDir:        dataDir,
		ScenesFile:     resolve(v.GetString("scenes_file")),
		DBPath:         resolve(v.GetString("db_path")),
		LocalitiesFile: resolve(v.GetString("localities_file")),
		Timezone:       v.GetString("timezone"),
		Scan: ScanConfig{
			HorizonDays:    v.GetInt("scan.horizon_days"),
			GranuleMinutes: v.GetInt("scan.granule_minutes"),
			ResultCount:    v.GetInt("scan.result_count"),
		},
		Illumination: IlluminationConfig{
			Source:  strings.ToLower(v.GetString("illumination.source")),
			BaseURL: v.GetString("illumination.base_url"),
			Timeout: v.GetDuration("illumination.timeout"),
			Cache:   v.GetBool("illumination.cache"),
		},
		Geocoder: GeocoderConfig{BaseURL: v.GetString("geocoder.base_url")},
		Server:   ServerConfig{Addr: v.GetString("server.addr")},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with
func (c Config) Validate() error {
	switch c.Illumination.Source {
	case SourceFarmsense, SourceComputed:
	default:
		return fmt.Errorf("illumination.source must be %q or %q, got %q",
			SourceFarmsense, SourceComputed, c.Illumination.Source)
	}
	if c.Scan.HorizonDays <= 0 {
		return fmt.Errorf("scan.horizon_days must be positive, got %d", c.Scan.HorizonDays)
	}
	if c.Scan.GranuleMinutes <= 0 || 60%c.Scan.GranuleMinutes != 0 {
		return fmt.Errorf("scan.granule_minutes must divide an hour, got %d", c.Scan.GranuleMinutes)
	}
	if c.Scan.ResultCount <= 0 {
		return fmt.Errorf("scan.result_count must be positive, got %d", c.Scan.ResultCount)
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}
	return nil
}

// Location returns the display time zone, UTC when unset
func (c Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
