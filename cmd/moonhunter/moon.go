package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/awaistahir/moonhunter/internal/engine"
)

func nextCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "next",
		Short: "Show the next opportunities across all scenes",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			next := a.NextOpportunities(cmd.Context(), count)
			if len(next) == 0 {
				fmt.Println("No upcoming opportunities (scan your scenes first)")
				return nil
			}

			zone := a.Config.Location()
			fmt.Printf("%-24s %-26s %6s %8s  %s\n", "SCENE", "START", "LENGTH", "LIT", "DISTANCE")
			fmt.Println("--------------------------------------------------------------------------------")
			for _, n := range next {
				lit := "?"
				if n.Illumination != nil {
					lit = fmt.Sprintf("%.0f%%", *n.Illumination)
				}
				dist := "?"
				if n.Distance != nil {
					dist = n.Distance.String()
				}
				fmt.Printf("%-24s %-26s %6s %8s  %s\n",
					truncate(n.Scene, 24),
					n.Opportunity.Start.In(zone).Format(displayLayout),
					n.Opportunity.End.Sub(n.Opportunity.Start).Round(time.Minute).String(),
					lit, dist)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "c", 3, "Number of opportunities")
	return cmd
}

func distanceCmd() *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "distance",
		Short: "Rate how close the Moon is to perigee",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := parseAt(at, a.Config.Location(), a.Now())
			if err != nil {
				return err
			}
			rating, err := a.Distance(t)
			if err != nil {
				return err
			}

			fmt.Printf("%s\n", t.In(a.Config.Location()).Format(displayLayout))
			fmt.Printf("  Distance: %.0f km\n", rating.DistanceKm)
			fmt.Printf("  Rating: %s\n", rating)
			fmt.Printf("  Position in perigee-apogee band: %.1f%%\n", rating.Percent)
			return nil
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "Instant (RFC 3339 or YYYY-MM-DD HH:MM, default now)")
	return cmd
}

func fullMoonsCmd() *cobra.Command {
	var refresh bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "fullmoons",
		Short: "Rate the next full moons by distance",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ratings, err := a.FullMoons(refresh)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(ratings)
			}

			zone := a.Config.Location()
			fmt.Printf("%-26s %7s %-12s %12s\n", "FULL MOON", "RATING", "STATUS", "DISTANCE")
			fmt.Println("-------------------------------------------------------------")
			for _, r := range ratings {
				fmt.Printf("%-26s %4d/10 %-12s %9.0f km\n",
					r.Date.In(zone).Format(displayLayout), r.Rating, engine.ClassForRating(r.Rating), r.DistanceKm)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "Recompute instead of using the cached list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func statusCmd() *cobra.Command {
	var at string
	var gps string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show where the Moon is for the active location",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			var loc engine.Location
			if gps != "" {
				lat, lon, err := engine.ParseGPS(gps)
				if err != nil {
					return err
				}
				loc = engine.Location{Name: fmt.Sprintf("%.4f, %.4f", lat, lon), Latitude: lat, Longitude: lon}
			} else {
				_, loc, err = a.ActiveLocation()
				if err != nil {
					return fmt.Errorf("no active location (use --gps, 'profile use' or 'locality use'): %w", err)
				}
			}

			zone := a.Config.Location()
			t, err := parseAt(at, zone, a.Now())
			if err != nil {
				return err
			}
			st, err := a.MoonStatus(cmd.Context(), loc, t)
			if err != nil {
				return err
			}

			fmt.Printf("%s at %s\n", locationLabel(loc), t.In(zone).Format(displayLayout))
			if st.Visible {
				fmt.Printf("  Moon above the horizon, toward %d o'clock\n", st.ClockPosition)
			} else {
				fmt.Println("  Moon below the horizon")
			}
			fmt.Printf("  Elevation: %.1f°  Azimuth: %.1f°\n", st.Elevation, st.Azimuth)
			fmt.Printf("  Distance: %.0f km, %s\n", st.Distance.DistanceKm, st.Distance)
			if st.Illumination != nil {
				trend := "waxing"
				if *st.Waning {
					trend = "waning"
				}
				fmt.Printf("  Illumination: %.0f%% (%s, %.1f days)\n", *st.Illumination, trend, *st.AgeDays)
			} else {
				fmt.Println("  Illumination: unavailable")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "Instant (RFC 3339 or YYYY-MM-DD HH:MM, default now)")
	cmd.Flags().StringVar(&gps, "gps", "", "Coordinates as \"lat, lon\" instead of the active location")
	return cmd
}

func fetchIlluminationCmd() *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "fetch-illumination",
		Short: "Query the configured illumination source for one instant",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := parseAt(at, a.Config.Location(), a.Now())
			if err != nil {
				return err
			}
			phase, err := a.Illumination.Illumination(cmd.Context(), t.Unix())
			if err != nil {
				return fmt.Errorf("fetching illumination: %w", err)
			}

			return printJSON(map[string]interface{}{
				"source":       a.Config.Illumination.Source,
				"timestamp":    t.Unix(),
				"at":           t.UTC(),
				"fraction":     phase.Fraction,
				"illumination": phase.Percent(),
				"age_days":     phase.AgeDays,
				"waning":       phase.Waning(),
			})
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "Instant (RFC 3339 or YYYY-MM-DD HH:MM, default now)")
	return cmd
}
