package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Scan defaults
const (
	DefaultHorizonDays = 90
	DefaultGranule     = 15 * time.Minute
	DefaultResultCount = 3
)

// ScanOptions parameterizes the opportunity scan
type ScanOptions struct {
	HorizonDays int
	Granule     time.Duration // must divide an hour
	ResultCount int
	Now         func() time.Time
	Observer    ScanObserver
}

func (o ScanOptions) withDefaults() ScanOptions {
	if o.HorizonDays <= 0 {
		o.HorizonDays = DefaultHorizonDays
	}
	if o.Granule <= 0 || time.Hour%o.Granule != 0 {
		o.Granule = DefaultGranule
	}
	if o.ResultCount <= 0 {
		o.ResultCount = DefaultResultCount
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// ScanResult summarizes one scan
type ScanResult struct {
	Opportunities    []Opportunity    `json:"opportunities"`
	Ratings          []DistanceRating `json:"ratings"` // distance rating at each opportunity's start
	DaysScanned      int              `json:"days_scanned"`
	Samples          int              `json:"samples"` // samples inside the clock window
	ProviderFailures int              `json:"provider_failures"`
	Cancelled        bool             `json:"cancelled"`
}

// Scanner finds future opportunities for a scene
type Scanner struct {
	ephemeris    Ephemeris
	illumination IlluminationProvider
	logger       *slog.Logger
	opts         ScanOptions
}

// NewScanner creates a scanner. A nil logger discards output.
func NewScanner(eph Ephemeris, illum IlluminationProvider, logger *slog.Logger, opts ScanOptions) *Scanner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scanner{
		ephemeris:    eph,
		illumination: illum,
		logger:       logger,
		opts:         opts.withDefaults(),
	}
}

// Options returns the effective scan options
func (s *Scanner) Options() ScanOptions {
	return s.opts
}

type sampleOutcome int

const (
	sampleOutside sampleOutcome = iota // outside the clock window, ignored
	sampleMiss                         // geometry, illumination or provider failure
	sampleMatch
)

func (o sampleOutcome) String() string {
	switch o {
	case sampleOutside:
		return "outside"
	case sampleMiss:
		return "miss"
	default:
		return "match"
	}
}

// sample is one evaluated instant
type sample struct {
	at           time.Time
	elevation    float64
	azimuth      float64
	illumination float64
}

// openInterval is the interval currently being extended
type openInterval struct {
	opp       Opportunity
	lastMatch time.Time
}

func newOpenInterval(sm sample) *openInterval {
	return &openInterval{
		opp: Opportunity{
			Start:           sm.at,
			ElevationMin:    sm.elevation,
			ElevationMax:    sm.elevation,
			AzimuthMin:      sm.azimuth,
			AzimuthMax:      sm.azimuth,
			MaxIllumination: sm.illumination,
		},
		lastMatch: sm.at,
	}
}

func (iv *openInterval) extend(sm sample) {
	iv.opp.ElevationMin = min(iv.opp.ElevationMin, sm.elevation)
	iv.opp.ElevationMax = max(iv.opp.ElevationMax, sm.elevation)
	iv.opp.AzimuthMin = min(iv.opp.AzimuthMin, sm.azimuth)
	iv.opp.AzimuthMax = max(iv.opp.AzimuthMax, sm.azimuth)
	iv.opp.MaxIllumination = max(iv.opp.MaxIllumination, sm.illumination)
	iv.lastMatch = sm.at
}

// window is a scene's clock window in minutes since midnight
type window struct {
	start, end  int
	endsNextDay bool
}

func (w window) contains(t time.Time) bool {
	return inWindow(t.Hour()*60+t.Minute(), w.start, w.end, w.endsNextDay)
}

// Scan evaluates the scene over the horizon and replaces its opportunities.
//
// A cancelled scan (ctx or sink) returns with Cancelled set and a nil error;
// the scene is left untouched, as it is when an error is returned.
func (s *Scanner) Scan(ctx context.Context, scene *Scene, sink ProgressSink) (ScanResult, error) {
	started := time.Now()
	result, err := s.scan(ctx, scene, sink)

	outcome := "completed"
	switch {
	case err != nil:
		outcome = "failed"
	case result.Cancelled:
		outcome = "cancelled"
	}
	if s.opts.Observer != nil {
		s.opts.Observer.ObserveScan(outcome, time.Since(started))
	}
	return result, err
}

func (s *Scanner) scan(ctx context.Context, scene *Scene, sink ProgressSink) (ScanResult, error) {
	if sink == nil {
		sink = ProgressFunc(func(Progress) {})
	}

	start, err := parseTimeOfDay(scene.TimeStart)
	if err != nil {
		return ScanResult{}, fmt.Errorf("scene %s: %w", scene.Name, err)
	}
	end, err := parseTimeOfDay(scene.TimeEnd)
	if err != nil {
		return ScanResult{}, fmt.Errorf("scene %s: %w", scene.Name, err)
	}
	w := window{start: start, end: end, endsNextDay: scene.TimeEndNextDay}

	zone := scene.Zone()
	now := s.opts.Now().In(zone)
	horizon := s.opts.HorizonDays
	stepMinutes := int(s.opts.Granule / time.Minute)

	log := s.logger.With("scene", scene.Name)
	log.Info("scan started",
		"from", now.Format("2006-01-02"),
		"to", now.AddDate(0, 0, horizon).Format("2006-01-02"),
		"azimuth", fmt.Sprintf("%.1f-%.1f", scene.AzimuthMin, scene.AzimuthMax),
		"elevation", fmt.Sprintf("%.1f-%.1f", scene.ElevationMin, scene.ElevationMax),
		"min_illumination", scene.MinIllumination)

	var (
		result  ScanResult
		days    []DayIntervals
		current *openInterval
	)

	cancelled := func() bool {
		return ctx.Err() != nil || sink.CancelRequested()
	}

	for day := 0; day < horizon; day++ {
		if cancelled() {
			log.Info("scan cancelled", "day", day)
			return ScanResult{Cancelled: true, DaysScanned: day}, nil
		}

		date := now.AddDate(0, 0, day)
		bucket := DayIntervals{Day: civilDay(date)}

		closeAt := func(end time.Time) {
			current.opp.End = end
			bucket.Intervals = append(bucket.Intervals, current.opp)
			current = nil
		}

		for hour := 0; hour < 24; hour++ {
			if cancelled() {
				log.Info("scan cancelled", "day", day, "hour", hour)
				return ScanResult{Cancelled: true, DaysScanned: day}, nil
			}

			for minute := 0; minute < 60; minute += stepMinutes {
				at := time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, zone)
				if at.Hour() != hour {
					// wall time skipped by a DST change
					continue
				}

				sm, outcome := s.evaluate(ctx, log, scene, w, at, &result)
				if s.opts.Observer != nil {
					s.opts.Observer.ObserveSample(outcome.String())
				}

				switch outcome {
				case sampleOutside:
					// Leaving the clock window does not close an interval
				case sampleMiss:
					if current != nil {
						closeAt(at.Add(-s.opts.Granule))
					}
				case sampleMatch:
					if current == nil {
						current = newOpenInterval(sm)
					} else {
						current.extend(sm)
					}
				}
			}
		}

		// Intervals never carry across the day boundary
		if current != nil {
			closeAt(current.lastMatch)
		}
		if len(bucket.Intervals) > 0 {
			days = append(days, bucket)
		}

		result.DaysScanned = day + 1
		sink.ReportProgress(Progress{
			Scene:     scene.Name,
			Day:       day + 1,
			TotalDays: horizon,
			Percent:   (day + 1) * 100 / horizon,
		})
	}

	selected := SelectOpportunities(days, s.opts.ResultCount)
	result.Opportunities = selected
	result.Ratings = make([]DistanceRating, 0, len(selected))
	for _, o := range selected {
		rating, err := RateAt(s.ephemeris, o.Start)
		if err != nil {
			log.Warn("distance rating unavailable", "start", o.Start, "error", err)
			rating = DistanceRating{}
		}
		result.Ratings = append(result.Ratings, rating)
	}

	scene.Opportunities = append([]Opportunity(nil), selected...)
	scene.CurrentOpportunityIndex = 0

	log.Info("scan finished",
		"intervals_days", len(days),
		"opportunities", len(selected),
		"samples", result.Samples,
		"provider_failures", result.ProviderFailures)
	return result, nil
}

// evaluate classifies one sample. Provider failures count as a miss.
func (s *Scanner) evaluate(ctx context.Context, log *slog.Logger, scene *Scene, w window, at time.Time, result *ScanResult) (sample, sampleOutcome) {
	if !w.contains(at) {
		return sample{}, sampleOutside
	}
	result.Samples++

	elevation, azimuth, err := s.ephemeris.Position(scene.Location, at)
	if err != nil {
		result.ProviderFailures++
		s.providerFailure("ephemeris")
		log.Warn("ephemeris query failed", "sample", at, "error", err)
		return sample{}, sampleMiss
	}

	if !AzimuthInRange(azimuth, scene.AzimuthMin, scene.AzimuthMax) ||
		!ElevationInRange(elevation, scene.ElevationMin, scene.ElevationMax) {
		return sample{}, sampleMiss
	}

	phase, err := s.illumination.Illumination(ctx, at.Unix())
	if err != nil {
		result.ProviderFailures++
		s.providerFailure("illumination")
		log.Warn("illumination query failed", "sample", at, "error", err)
		return sample{}, sampleMiss
	}

	illumination := phase.Percent()
	if illumination < float64(scene.MinIllumination) {
		return sample{}, sampleMiss
	}

	return sample{
		at:           at,
		elevation:    elevation,
		azimuth:      azimuth,
		illumination: illumination,
	}, sampleMatch
}

func (s *Scanner) providerFailure(provider string) {
	if s.opts.Observer != nil {
		s.opts.Observer.ObserveProviderFailure(provider)
	}
}
