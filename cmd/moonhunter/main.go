package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/awaistahir/moonhunter/internal/app"
	"github.com/awaistahir/moonhunter/internal/config"
	"github.com/awaistahir/moonhunter/internal/logging"
)

var (
	cfgFile string
	dbPath  string
	dataDir string
	v       *viper.Viper
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "moonhunter",
		Short: "Moonhunter - Find when the Moon lines up with your shot",
		Long: `Moonhunter scans the coming months for the moments when the Moon sits
inside a scene's azimuth and elevation window, during the hours you can
shoot, with enough of its disc lit.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.moonhunter/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default is $HOME/.moonhunter)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (default is <data-dir>/moonhunter.db)")

	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(sceneCmd())
	rootCmd.AddCommand(nextCmd())
	rootCmd.AddCommand(distanceCmd())
	rootCmd.AddCommand(fullMoonsCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(localityCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(fetchIlluminationCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig() {
	var err error
	v, err = config.NewViper(cfgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if dataDir != "" {
		v.Set("data_dir", dataDir)
	}
	if dbPath != "" {
		v.Set("db_path", dbPath)
	}
}

// openApp loads the configuration and wires every component. Logs go to
// stderr so command output stays parseable.
func openApp() (*app.App, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	return app.New(cfg, logger)
}

func printJSON(data interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// warnSave reports a failed scene save without failing the command
func warnSave(a *app.App) {
	if err := a.SaveScenes(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: scenes not saved: %v\n", err)
	}
}

var atLayouts = []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02T15:04", "2006-01-02"}

// parseAt reads an instant. Layouts without an offset are taken in loc.
func parseAt(s string, loc *time.Location, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "now" {
		return now, nil
	}
	for _, layout := range atLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q (use RFC 3339 or YYYY-MM-DD HH:MM)", s)
}

const displayLayout = "Mon 02 Jan 2006 15:04 MST"
