package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/awaistahir/moonhunter/internal/app"
	"github.com/awaistahir/moonhunter/internal/engine"
	"github.com/awaistahir/moonhunter/internal/store"
)

func localityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locality",
		Short: "Browse the county/locality table",
	}

	cmd.AddCommand(localityCountiesCmd())
	cmd.AddCommand(localityListCmd())
	cmd.AddCommand(localityCoordsCmd())
	cmd.AddCommand(localityUseCmd())

	return cmd
}

func requireLocalities(a *app.App) error {
	if a.Localities == nil {
		return fmt.Errorf("%w (expected %s)", app.ErrNoLocalities, a.Config.LocalitiesFile)
	}
	return nil
}

func localityCountiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "counties",
		Short: "List counties",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if err := requireLocalities(a); err != nil {
				return err
			}

			for _, c := range a.Localities.Counties() {
				fmt.Println(c)
			}
			return nil
		},
	}
}

func localityListCmd() *cobra.Command {
	var hideCommunes bool

	cmd := &cobra.Command{
		Use:   "list <county>",
		Short: "List a county's localities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if err := requireLocalities(a); err != nil {
				return err
			}

			settings, _ := a.Store.GetSettings()
			hide := settings.HideCommunes
			if cmd.Flags().Changed("hide-communes") {
				hide = hideCommunes
				settings.HideCommunes = hideCommunes
				if err := a.Store.SaveSettings(settings); err != nil {
					fmt.Printf("Warning: settings not saved: %v\n", err)
				}
			}

			names := a.Localities.Localities(args[0], hide)
			if len(names) == 0 {
				return fmt.Errorf("no localities for county %q", args[0])
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&hideCommunes, "hide-communes", false, "Hide communes (remembered)")
	return cmd
}

func localityCoordsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "coords <county> <locality>",
		Short: "Print a locality's coordinates",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if err := requireLocalities(a); err != nil {
				return err
			}

			lat, lon, err := a.Localities.Coordinates(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("%.4f, %.4f\n", lat, lon)
			return nil
		},
	}
}

func localityUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <county> <locality>",
		Short: "Make a locality the active location",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			loc, err := a.LocalityLocation(args[0], args[1])
			if err != nil {
				return err
			}
			settings, _ := a.Store.GetSettings()
			settings.ActiveView = engine.LocationRomania
			settings.County = loc.County
			settings.Locality = loc.Locality
			if err := a.Store.SaveSettings(settings); err != nil {
				return fmt.Errorf("saving settings: %w", err)
			}
			fmt.Printf("✓ Active location: %s, %s\n", loc.Locality, loc.County)
			return nil
		},
	}
}

func profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage saved locations",
	}

	cmd.AddCommand(profileAddCmd())
	cmd.AddCommand(profileListCmd())
	cmd.AddCommand(profileDeleteCmd())
	cmd.AddCommand(profileUseCmd())

	return cmd
}

func profileAddCmd() *cobra.Command {
	var name, gps, timezone string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Save a location profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			loc, err := a.GPSLocation(cmd.Context(), gps)
			if err != nil {
				return err
			}
			if name == "" {
				name = loc.Name
			}
			if timezone != "" {
				if _, err := time.LoadLocation(timezone); err != nil {
					return fmt.Errorf("unknown timezone %q: %w", timezone, err)
				}
			}

			p := store.Profile{Name: name, Latitude: loc.Latitude, Longitude: loc.Longitude, Timezone: timezone}
			if err := a.Store.SaveProfile(p); err != nil {
				return err
			}
			fmt.Printf("✓ Saved profile: %s (%.4f, %.4f)\n", p.Name, p.Latitude, p.Longitude)
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Profile name (default: reverse-geocoded place name)")
	cmd.Flags().StringVar(&gps, "gps", "", "Coordinates as \"lat, lon\" (required)")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA time zone")
	cmd.MarkFlagRequired("gps")

	return cmd
}

func profileListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List location profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			profiles, err := a.Store.ListProfiles()
			if err != nil {
				return err
			}
			if len(profiles) == 0 {
				fmt.Println("No profiles saved")
				return nil
			}

			settings, _ := a.Store.GetSettings()
			fmt.Printf("  %-30s %10s %10s  %s\n", "NAME", "LAT", "LON", "TIMEZONE")
			fmt.Println("----------------------------------------------------------------------")
			for _, p := range profiles {
				marker := " "
				if settings.ActiveView == engine.LocationProfile && settings.Profile == p.Name {
					marker = "*"
				}
				fmt.Printf("%s %-30s %10.4f %10.4f  %s\n", marker, truncate(p.Name, 30), p.Latitude, p.Longitude, p.Timezone)
			}
			return nil
		},
	}
}

func profileDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a location profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Store.DeleteProfile(args[0]); err != nil {
				return err
			}

			settings, _ := a.Store.GetSettings()
			if settings.Profile == args[0] {
				settings.Profile = ""
				settings.ActiveView = engine.LocationRomania
				if err := a.Store.SaveSettings(settings); err != nil {
					fmt.Printf("Warning: settings not saved: %v\n", err)
				}
			}
			fmt.Printf("✓ Deleted profile: %s\n", args[0])
			return nil
		},
	}
}

func profileUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <name>",
		Short: "Make a profile the active location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.Store.GetProfile(args[0]); err != nil {
				return err
			}
			settings, _ := a.Store.GetSettings()
			settings.ActiveView = engine.LocationProfile
			settings.Profile = args[0]
			if err := a.Store.SaveSettings(settings); err != nil {
				return fmt.Errorf("saving settings: %w", err)
			}
			fmt.Printf("✓ Active location: %s\n", args[0])
			return nil
		},
	}
}
