package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/awaistahir/moonhunter/internal/app"
	"github.com/awaistahir/moonhunter/internal/engine"
	"github.com/awaistahir/moonhunter/internal/store"
)

func sceneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scene",
		Short: "Manage scenes and their opportunities",
	}

	cmd.AddCommand(sceneAddCmd())
	cmd.AddCommand(sceneEditCmd())
	cmd.AddCommand(sceneListCmd())
	cmd.AddCommand(sceneShowCmd())
	cmd.AddCommand(sceneDeleteCmd())
	cmd.AddCommand(sceneDuplicateCmd())
	cmd.AddCommand(sceneScanCmd())
	cmd.AddCommand(sceneNavigateCmd("next-opp", "Move to the scene's next opportunity", 1))
	cmd.AddCommand(sceneNavigateCmd("prev-opp", "Move to the scene's previous opportunity", -1))

	return cmd
}

// sceneFlags are the editable constraints shared by add and edit
type sceneFlags struct {
	county, locality string
	profile          string
	gps              string
	timezone         string
	azMin, azMax     float64
	elMin, elMax     float64
	start, end       string
	nextDay          bool
	minIllum         int
}

func (f *sceneFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.county, "county", "", "County (judet) from the locality table")
	cmd.Flags().StringVar(&f.locality, "locality", "", "Locality within --county")
	cmd.Flags().StringVar(&f.profile, "profile", "", "Saved location profile")
	cmd.Flags().StringVar(&f.gps, "gps", "", "Coordinates as \"lat, lon\"")
	cmd.Flags().StringVar(&f.timezone, "timezone", "", "IANA time zone for the clock window")
	cmd.Flags().Float64Var(&f.azMin, "az-min", 0, "Minimum azimuth (degrees, may exceed --az-max to wrap through north)")
	cmd.Flags().Float64Var(&f.azMax, "az-max", engine.DefaultAzimuthMax, "Maximum azimuth (degrees)")
	cmd.Flags().Float64Var(&f.elMin, "el-min", 0, "Minimum elevation (degrees)")
	cmd.Flags().Float64Var(&f.elMax, "el-max", 90, "Maximum elevation (degrees)")
	cmd.Flags().StringVar(&f.start, "start", engine.DefaultTimeStart, "Window start (HH:MM)")
	cmd.Flags().StringVar(&f.end, "end", engine.DefaultTimeEnd, "Window end (HH:MM)")
	cmd.Flags().BoolVar(&f.nextDay, "next-day", false, "Window ends on the following day")
	cmd.Flags().IntVar(&f.minIllum, "min-illum", 0, "Minimum illumination (percent)")
}

// location resolves the location flags. ok is false when none were given.
func (f *sceneFlags) location(ctx context.Context, a *app.App) (kind engine.LocationKind, loc engine.Location, ok bool, err error) {
	switch {
	case f.gps != "":
		loc, err = a.GPSLocation(ctx, f.gps)
		kind = engine.LocationGPS
	case f.profile != "":
		var p *store.Profile
		p, err = a.Store.GetProfile(f.profile)
		if err == nil {
			loc = p.Location()
		}
		kind = engine.LocationProfile
	case f.county != "" || f.locality != "":
		loc, err = a.LocalityLocation(f.county, f.locality)
		kind = engine.LocationRomania
	default:
		return "", engine.Location{}, false, nil
	}
	if err != nil {
		return "", engine.Location{}, true, err
	}
	if f.timezone != "" {
		loc.Timezone = f.timezone
	}
	return kind, loc, true, nil
}

// apply copies the flags the user set onto s
func (f *sceneFlags) apply(cmd *cobra.Command, s *engine.Scene) {
	changed := cmd.Flags().Changed
	if changed("az-min") {
		s.AzimuthMin = f.azMin
	}
	if changed("az-max") {
		s.AzimuthMax = f.azMax
	}
	if changed("el-min") {
		s.ElevationMin = f.elMin
	}
	if changed("el-max") {
		s.ElevationMax = f.elMax
	}
	if changed("start") {
		s.TimeStart = f.start
	}
	if changed("end") {
		s.TimeEnd = f.end
	}
	if changed("next-day") {
		s.TimeEndNextDay = f.nextDay
	}
	if changed("min-illum") {
		s.MinIllumination = f.minIllum
	}
	if changed("timezone") {
		s.Location.Timezone = f.timezone
	}
}

func sceneAddCmd() *cobra.Command {
	var name string
	var f sceneFlags

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a new scene",
		Long: `Add a new scene. The location comes from --gps, --profile or
--county/--locality; without any of them the active location is used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			kind, loc, ok, err := f.location(cmd.Context(), a)
			if err != nil {
				return err
			}
			if !ok {
				kind, loc, err = a.ActiveLocation()
				if err != nil {
					return fmt.Errorf("no location given and none active: %w", err)
				}
			}

			scene := engine.NewScene(name, kind, loc)
			f.apply(cmd, scene)
			if err := a.Scenes.Add(scene); err != nil {
				return err
			}
			warnSave(a)

			fmt.Printf("✓ Added scene: %s\n", scene.Name)
			fmt.Printf("  Location: %s (%.4f, %.4f)\n", locationLabel(scene.Location), loc.Latitude, loc.Longitude)
			fmt.Printf("  Azimuth: %.1f-%.1f  Elevation: %.1f-%.1f\n",
				scene.AzimuthMin, scene.AzimuthMax, scene.ElevationMin, scene.ElevationMax)
			fmt.Printf("  Window: %s\n", windowLabel(scene))
			fmt.Printf("  Min illumination: %d%%\n", scene.MinIllumination)
			fmt.Printf("\nNext: moonhunter scene scan %q\n", scene.Name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Scene name (required)")
	f.register(cmd)
	cmd.MarkFlagRequired("name")

	return cmd
}

func sceneEditCmd() *cobra.Command {
	var rename string
	var f sceneFlags

	cmd := &cobra.Command{
		Use:   "edit <name>",
		Short: "Edit a scene's constraints (clears its opportunities)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			edited, err := a.Scenes.Snapshot(args[0])
			if err != nil {
				return err
			}
			kind, loc, ok, err := f.location(cmd.Context(), a)
			if err != nil {
				return err
			}
			if ok {
				edited.LocationType = kind
				edited.Location = loc
			}
			f.apply(cmd, edited)
			if rename != "" {
				edited.Name = rename
			}

			if err := a.Scenes.Replace(args[0], edited); err != nil {
				return err
			}
			warnSave(a)

			fmt.Printf("✓ Updated scene: %s\n", edited.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&rename, "rename", "", "New scene name")
	f.register(cmd)

	return cmd
}

func sceneListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all scenes",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			scenes := a.Scenes.All()
			if len(scenes) == 0 {
				fmt.Println("No scenes configured")
				return nil
			}

			fmt.Printf("%-24s %-24s %-13s %-11s %5s  %s\n", "NAME", "LOCATION", "AZIMUTH", "ELEVATION", "OPPS", "WINDOW")
			fmt.Println("--------------------------------------------------------------------------------------------")
			for _, s := range scenes {
				fmt.Printf("%-24s %-24s %5.1f-%-6.1f %4.1f-%-5.1f %5d  %s\n",
					truncate(s.Name, 24), truncate(locationLabel(s.Location), 24),
					s.AzimuthMin, s.AzimuthMax, s.ElevationMin, s.ElevationMax,
					len(s.Opportunities), windowLabel(s))
			}
			return nil
		},
	}
}

func sceneShowCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show a scene and its opportunities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.Scenes.Snapshot(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(s)
			}

			fmt.Printf("%s\n", s.Name)
			fmt.Printf("  Location: %s (%.4f, %.4f) [%s]\n", locationLabel(s.Location), s.Location.Latitude, s.Location.Longitude, s.LocationType)
			fmt.Printf("  Azimuth: %.1f-%.1f  Elevation: %.1f-%.1f\n", s.AzimuthMin, s.AzimuthMax, s.ElevationMin, s.ElevationMax)
			fmt.Printf("  Window: %s  Min illumination: %d%%\n", windowLabel(s), s.MinIllumination)

			if len(s.Opportunities) == 0 {
				fmt.Println("\nNo opportunities (run a scan)")
				return nil
			}
			fmt.Println()
			for i, o := range s.Opportunities {
				marker := " "
				if i == s.CurrentOpportunityIndex {
					marker = ">"
				}
				fmt.Printf("%s %d. %s\n", marker, i+1, opportunityLine(s, o))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the scene as JSON")
	return cmd
}

func sceneDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a scene",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Scenes.Remove(args[0]); err != nil {
				return err
			}
			warnSave(a)
			fmt.Printf("✓ Deleted scene: %s\n", args[0])
			return nil
		},
	}
}

func sceneDuplicateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "duplicate <name>",
		Short: "Copy a scene's constraints under a new name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			dup, err := a.Scenes.Duplicate(args[0])
			if err != nil {
				return err
			}
			warnSave(a)
			fmt.Printf("✓ Duplicated scene: %s\n", dup.Name)
			return nil
		},
	}
}

func sceneScanCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "scan <name>",
		Short: "Search the coming months for opportunities (Ctrl-C cancels)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			progress := engine.ProgressFunc(func(p engine.Progress) {
				if !quiet {
					fmt.Fprintf(os.Stderr, "\rScanning %s: day %d/%d (%d%%)", p.Scene, p.Day, p.TotalDays, p.Percent)
				}
			})

			result, err := a.ScanScene(ctx, args[0], progress)
			if !quiet {
				fmt.Fprintln(os.Stderr)
			}
			if err != nil {
				if errors.Is(err, engine.ErrScanInProgress) {
					return fmt.Errorf("%w (wait for the running scan to finish)", err)
				}
				return err
			}
			if result.Cancelled {
				fmt.Printf("Scan cancelled after %d days; previous opportunities kept\n", result.DaysScanned)
				return nil
			}
			warnSave(a)

			s, _ := a.Scenes.Snapshot(args[0])
			fmt.Printf("✓ Scanned %d days, %d samples", result.DaysScanned, result.Samples)
			if result.ProviderFailures > 0 {
				fmt.Printf(" (%d illumination lookups failed)", result.ProviderFailures)
			}
			fmt.Println()
			if len(result.Opportunities) == 0 {
				fmt.Println("No opportunities found")
				return nil
			}
			for i, o := range result.Opportunities {
				fmt.Printf("  %d. %s  %s\n", i+1, opportunityLine(s, o), result.Ratings[i])
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print progress")
	return cmd
}

func sceneNavigateCmd(use, short string, direction int) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			moved, err := a.Scenes.Navigate(args[0], direction)
			if err != nil {
				return err
			}
			if moved {
				warnSave(a)
			}

			s, _ := a.Scenes.Snapshot(args[0])
			o, ok := s.CurrentOpportunity()
			if !ok {
				fmt.Println("No opportunities (run a scan)")
				return nil
			}
			if !moved {
				fmt.Println("Already at the end of the list")
			}
			fmt.Printf("%d/%d  %s\n", s.CurrentOpportunityIndex+1, len(s.Opportunities), opportunityLine(s, o))
			return nil
		},
	}
}

func opportunityLine(s *engine.Scene, o engine.Opportunity) string {
	zone := s.Zone()
	return fmt.Sprintf("%s - %s  el %.1f-%.1f  az %.1f-%.1f  %.0f%% lit",
		o.Start.In(zone).Format(displayLayout), o.End.In(zone).Format("15:04"),
		o.ElevationMin, o.ElevationMax, o.AzimuthMin, o.AzimuthMax, o.MaxIllumination)
}

func windowLabel(s *engine.Scene) string {
	if s.TimeEndNextDay {
		return s.TimeStart + "-" + s.TimeEnd + " (+1 day)"
	}
	return s.TimeStart + "-" + s.TimeEnd
}

func locationLabel(loc engine.Location) string {
	switch {
	case loc.Locality != "" && loc.County != "":
		return loc.Locality + ", " + loc.County
	case loc.Name != "":
		return loc.Name
	default:
		return fmt.Sprintf("%.2f, %.2f", loc.Latitude, loc.Longitude)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
