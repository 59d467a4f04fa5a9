package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

// stubEphemeris places the Moon in view during the given UTC hour on the listed days
type stubEphemeris struct {
	days     map[int]bool
	hour     int
	distance float64
	failAt   time.Time
}

func (s *stubEphemeris) Position(loc Location, t time.Time) (float64, float64, error) {
	t = t.UTC()
	if !s.failAt.IsZero() && t.Equal(s.failAt) {
		return 0, 0, errors.New("ephemeris unavailable")
	}
	if s.days[t.Day()] && t.Hour() == s.hour {
		return 30 + float64(t.Minute())/15, 180 + float64(t.Minute())/15, nil
	}
	return -10, 90, nil
}

func (s *stubEphemeris) Distance(t time.Time) (float64, error) {
	return s.distance, nil
}

// spanEphemeris places the Moon in view during the listed inclusive UTC spans
type spanEphemeris struct {
	spans [][2]time.Time
}

func (s *spanEphemeris) Position(loc Location, t time.Time) (float64, float64, error) {
	for _, span := range s.spans {
		if !t.Before(span[0]) && !t.After(span[1]) {
			return 30, 180, nil
		}
	}
	return -10, 90, nil
}

func (s *spanEphemeris) Distance(t time.Time) (float64, error) {
	return 381550, nil
}

// stubIllumination returns a per-day percentage and fails at failAt
type stubIllumination struct {
	byDay  map[int]float64
	failAt time.Time
	calls  int
}

func (s *stubIllumination) Illumination(ctx context.Context, unix int64) (Phase, error) {
	s.calls++
	t := time.Unix(unix, 0).UTC()
	if !s.failAt.IsZero() && t.Equal(s.failAt) {
		return Phase{}, errors.New("provider timeout")
	}
	pct, ok := s.byDay[t.Day()]
	if !ok {
		pct = 50
	}
	return Phase{Fraction: pct / 100, AgeDays: 10}, nil
}

// cancelAfter requests cancellation once n progress updates were seen
type cancelAfter struct {
	n    int
	seen int
}

func (c *cancelAfter) ReportProgress(Progress) { c.seen++ }
func (c *cancelAfter) CancelRequested() bool   { return c.seen >= c.n }

func testScene() *Scene {
	s := NewScene("Lake", LocationGPS, Location{Latitude: 45.0, Longitude: 25.0, Timezone: "UTC"})
	s.TimeStart = "20:00"
	s.TimeEnd = "23:00"
	s.AzimuthMin = 170
	s.AzimuthMax = 200
	s.ElevationMin = 20
	s.ElevationMax = 40
	s.MinIllumination = 40
	return s
}

func fixedNow() time.Time {
	return time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
}

func TestAzimuthInRange(t *testing.T) {
	tests := []struct {
		name     string
		az       float64
		min, max float64
		want     bool
	}{
		{"plain inside", 180, 170, 200, true},
		{"plain lower bound", 170, 170, 200, true},
		{"plain outside", 210, 170, 200, false},
		{"wrap high side", 350, 330, 30, true},
		{"wrap low side", 10, 330, 30, true},
		{"wrap outside", 180, 330, 30, false},
		{"negative azimuth", -10, 330, 30, true},
		{"full circle default", 359.5, 0, DefaultAzimuthMax, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AzimuthInRange(tt.az, tt.min, tt.max); got != tt.want {
				t.Errorf("AzimuthInRange(%v, %v, %v) = %v, want %v", tt.az, tt.min, tt.max, got, tt.want)
			}
			// Adding a full turn never changes membership
			if got := AzimuthInRange(tt.az+360, tt.min, tt.max); got != tt.want {
				t.Errorf("AzimuthInRange(%v+360, %v, %v) = %v, want %v", tt.az, tt.min, tt.max, got, tt.want)
			}
		})
	}
}

func TestTimeInWindow(t *testing.T) {
	tests := []struct {
		name        string
		clock       string
		start, end  string
		endsNextDay bool
		want        bool
	}{
		{"inside same day", "21:00", "20:00", "23:00", false, true},
		{"start inclusive", "20:00", "20:00", "23:00", false, true},
		{"end inclusive", "23:00", "20:00", "23:00", false, true},
		{"before start", "19:45", "20:00", "23:00", false, false},
		{"overnight after midnight", "01:00", "20:00", "02:00", true, true},
		{"overnight evening", "22:30", "20:00", "02:00", true, true},
		{"overnight outside", "19:00", "20:00", "02:00", true, false},
		{"overnight past end", "02:15", "20:00", "02:00", true, false},
		{"inverted without flag is empty", "01:00", "20:00", "02:00", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TimeInWindow(tt.clock, tt.start, tt.end, tt.endsNextDay)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("TimeInWindow(%s, %s-%s, %v) = %v, want %v",
					tt.clock, tt.start, tt.end, tt.endsNextDay, got, tt.want)
			}
		})
	}

	if _, err := TimeInWindow("25:00", "20:00", "23:00", false); err == nil {
		t.Error("expected error for invalid clock time")
	}
}

func TestRateDistance(t *testing.T) {
	tests := []struct {
		name       string
		km         float64
		wantRating int
		wantClass  DistanceClass
	}{
		{"perigee minimum", PerigeeMinKm, 10, ClassPerigee},
		{"perigee maximum", PerigeeMaxKm, 8, ClassPerigee},
		{"midpoint", 381550, 6, ClassIntermediate},
		{"apogee minimum", ApogeeMinKm, 2, ClassApogee},
		{"apogee maximum", ApogeeMaxKm, 1, ClassApogee},
		{"closer than band", 350000, 11, ClassIntermediate},
		{"farther than band", 420000, -1, ClassIntermediate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RateDistance(tt.km)
			if got.Rating != tt.wantRating {
				t.Errorf("rating = %d, want %d", got.Rating, tt.wantRating)
			}
			if got.Class != tt.wantClass {
				t.Errorf("class = %s, want %s", got.Class, tt.wantClass)
			}
		})
	}
}

func TestClassForRating(t *testing.T) {
	tests := []struct {
		rating int
		want   DistanceClass
	}{
		{10, ClassPerigee},
		{8, ClassPerigee},
		{7, ClassIntermediate},
		{4, ClassIntermediate},
		{3, ClassApogee},
		{1, ClassApogee},
	}
	for _, tt := range tests {
		if got := ClassForRating(tt.rating); got != tt.want {
			t.Errorf("ClassForRating(%d) = %s, want %s", tt.rating, got, tt.want)
		}
	}
}

func TestSelectOpportunities(t *testing.T) {
	at := func(day, hour int) time.Time {
		return time.Date(2025, 3, day, hour, 0, 0, 0, time.UTC)
	}
	interval := func(day, hour int, illum float64) Opportunity {
		return Opportunity{Start: at(day, hour), End: at(day, hour).Add(30 * time.Minute), MaxIllumination: illum}
	}

	t.Run("adjacent days collapse to brightest", func(t *testing.T) {
		days := []DayIntervals{
			{Day: civilDay(at(1, 0)), Intervals: []Opportunity{interval(1, 21, 80)}},
			{Day: civilDay(at(2, 0)), Intervals: []Opportunity{interval(2, 21, 90)}},
			{Day: civilDay(at(10, 0)), Intervals: []Opportunity{interval(10, 21, 40)}},
		}
		got := SelectOpportunities(days, 3)
		if len(got) != 2 {
			t.Fatalf("got %d opportunities, want 2", len(got))
		}
		if !got[0].Start.Equal(at(2, 21)) {
			t.Errorf("first = %s, want day 2", got[0].Start)
		}
		if !got[1].Start.Equal(at(10, 21)) {
			t.Errorf("second = %s, want day 10", got[1].Start)
		}
	})

	t.Run("ties keep the earliest", func(t *testing.T) {
		days := []DayIntervals{
			{Day: civilDay(at(5, 0)), Intervals: []Opportunity{interval(5, 20, 70), interval(5, 22, 70)}},
		}
		got := SelectOpportunities(days, 3)
		if len(got) != 1 || !got[0].Start.Equal(at(5, 20)) {
			t.Errorf("got %+v, want the 20:00 interval", got)
		}
	})

	t.Run("count truncates by start", func(t *testing.T) {
		days := []DayIntervals{
			{Day: civilDay(at(20, 0)), Intervals: []Opportunity{interval(20, 21, 50)}},
			{Day: civilDay(at(1, 0)), Intervals: []Opportunity{interval(1, 21, 50)}},
			{Day: civilDay(at(10, 0)), Intervals: []Opportunity{interval(10, 21, 50)}},
		}
		got := SelectOpportunities(days, 2)
		if len(got) != 2 {
			t.Fatalf("got %d opportunities, want 2", len(got))
		}
		if !got[0].Start.Equal(at(1, 21)) || !got[1].Start.Equal(at(10, 21)) {
			t.Errorf("got %s and %s", got[0].Start, got[1].Start)
		}
	})

	t.Run("no intervals", func(t *testing.T) {
		if got := SelectOpportunities(nil, 3); len(got) != 0 {
			t.Errorf("got %d opportunities, want 0", len(got))
		}
	})
}

func TestScanFindsOpportunities(t *testing.T) {
	eph := &stubEphemeris{days: map[int]bool{1: true, 2: true, 4: true}, hour: 21, distance: 381550}
	illum := &stubIllumination{byDay: map[int]float64{1: 60, 2: 75, 4: 45}}

	scanner := NewScanner(eph, illum, nil, ScanOptions{HorizonDays: 5, Granule: 15 * time.Minute, Now: fixedNow})
	scene := testScene()

	var updates []Progress
	result, err := scanner.Scan(context.Background(), scene, ProgressFunc(func(p Progress) {
		updates = append(updates, p)
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Opportunities) != 2 {
		t.Fatalf("got %d opportunities, want 2: %+v", len(result.Opportunities), result.Opportunities)
	}

	first := result.Opportunities[0]
	wantStart := time.Date(2025, 1, 2, 21, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2025, 1, 2, 21, 45, 0, 0, time.UTC)
	if !first.Start.Equal(wantStart) || !first.End.Equal(wantEnd) {
		t.Errorf("first = %s - %s, want %s - %s", first.Start, first.End, wantStart, wantEnd)
	}
	if first.MaxIllumination != 75 {
		t.Errorf("max illumination = %v, want 75", first.MaxIllumination)
	}
	if first.ElevationMin != 30 || first.ElevationMax != 33 {
		t.Errorf("elevation range = %v-%v, want 30-33", first.ElevationMin, first.ElevationMax)
	}
	if !result.Opportunities[1].Start.Equal(time.Date(2025, 1, 4, 21, 0, 0, 0, time.UTC)) {
		t.Errorf("second start = %s, want Jan 4 21:00", result.Opportunities[1].Start)
	}

	if len(result.Ratings) != 2 || result.Ratings[0].Rating != 6 {
		t.Errorf("ratings = %+v, want two entries rated 6", result.Ratings)
	}
	if len(scene.Opportunities) != 2 || scene.CurrentOpportunityIndex != 0 {
		t.Errorf("scene not updated: %d opportunities, cursor %d", len(scene.Opportunities), scene.CurrentOpportunityIndex)
	}
	if len(updates) != 5 || updates[4].Percent != 100 {
		t.Errorf("progress updates = %+v", updates)
	}
	// 20:00-23:00 inclusive at 15 minutes is 13 samples a day
	if result.Samples != 5*13 {
		t.Errorf("samples = %d, want %d", result.Samples, 5*13)
	}
}

func TestScanIsDeterministic(t *testing.T) {
	run := func() []Opportunity {
		eph := &stubEphemeris{days: map[int]bool{1: true, 3: true}, hour: 22, distance: 370000}
		illum := &stubIllumination{byDay: map[int]float64{1: 90, 3: 95}}
		scanner := NewScanner(eph, illum, nil, ScanOptions{HorizonDays: 4, Now: fixedNow})
		result, err := scanner.Scan(context.Background(), testScene(), nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return result.Opportunities
	}

	a, b := run(), run()
	if len(a) != len(b) {
		t.Fatalf("runs differ in length: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("opportunity %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestScanProviderFailureClosesInterval(t *testing.T) {
	failAt := time.Date(2025, 1, 1, 21, 30, 0, 0, time.UTC)
	eph := &stubEphemeris{days: map[int]bool{1: true}, hour: 21, distance: 381550}
	illum := &stubIllumination{byDay: map[int]float64{1: 80}, failAt: failAt}

	scanner := NewScanner(eph, illum, nil, ScanOptions{HorizonDays: 1, Now: fixedNow})
	result, err := scanner.Scan(context.Background(), testScene(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ProviderFailures != 1 {
		t.Errorf("provider failures = %d, want 1", result.ProviderFailures)
	}
	if len(result.Opportunities) != 1 {
		t.Fatalf("got %d opportunities, want 1", len(result.Opportunities))
	}

	got := result.Opportunities[0]
	wantEnd := time.Date(2025, 1, 1, 21, 15, 0, 0, time.UTC)
	if !got.End.Equal(wantEnd) {
		t.Errorf("end = %s, want %s", got.End, wantEnd)
	}
}

func TestScanEphemerisFailureClosesInterval(t *testing.T) {
	failAt := time.Date(2025, 1, 1, 21, 15, 0, 0, time.UTC)
	eph := &stubEphemeris{days: map[int]bool{1: true}, hour: 21, distance: 381550, failAt: failAt}
	illum := &stubIllumination{byDay: map[int]float64{1: 80}}

	scanner := NewScanner(eph, illum, nil, ScanOptions{HorizonDays: 1, Now: fixedNow})
	result, err := scanner.Scan(context.Background(), testScene(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ProviderFailures != 1 {
		t.Errorf("provider failures = %d, want 1", result.ProviderFailures)
	}
	got := result.Opportunities[0]
	if !got.Start.Equal(got.End) {
		t.Errorf("interval %s - %s should be a single sample", got.Start, got.End)
	}
}

func TestScanClosesAtLastSampleOfDay(t *testing.T) {
	eph := &stubEphemeris{days: map[int]bool{1: true}, hour: 23, distance: 381550}
	illum := &stubIllumination{byDay: map[int]float64{1: 80}}

	scene := testScene()
	scene.TimeEnd = "23:59"

	scanner := NewScanner(eph, illum, nil, ScanOptions{HorizonDays: 1, Now: fixedNow})
	result, err := scanner.Scan(context.Background(), scene, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Opportunities) != 1 {
		t.Fatalf("got %d opportunities, want 1", len(result.Opportunities))
	}
	wantEnd := time.Date(2025, 1, 1, 23, 45, 0, 0, time.UTC)
	if !result.Opportunities[0].End.Equal(wantEnd) {
		t.Errorf("end = %s, want %s", result.Opportunities[0].End, wantEnd)
	}
}

func TestScanClosesAtWindowEnd(t *testing.T) {
	eph := &spanEphemeris{spans: [][2]time.Time{{
		time.Date(2025, 1, 1, 22, 30, 0, 0, time.UTC),
		time.Date(2025, 1, 1, 23, 45, 0, 0, time.UTC),
	}}}
	illum := &stubIllumination{byDay: map[int]float64{1: 80}}

	scanner := NewScanner(eph, illum, nil, ScanOptions{HorizonDays: 1, Now: fixedNow})
	result, err := scanner.Scan(context.Background(), testScene(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Opportunities) != 1 {
		t.Fatalf("got %d opportunities, want 1", len(result.Opportunities))
	}
	got := result.Opportunities[0]
	wantStart := time.Date(2025, 1, 1, 22, 30, 0, 0, time.UTC)
	wantEnd := time.Date(2025, 1, 1, 23, 0, 0, 0, time.UTC)
	if !got.Start.Equal(wantStart) || !got.End.Equal(wantEnd) {
		t.Errorf("interval = %s - %s, want %s - %s", got.Start, got.End, wantStart, wantEnd)
	}
}

func TestScanKeepsIntervalOpenOutsideWindow(t *testing.T) {
	// 01:00-02:00 matches, 02:15-19:45 is outside the window, 20:00-20:30
	// matches again and 20:45 is the first miss.
	eph := &spanEphemeris{spans: [][2]time.Time{
		{time.Date(2025, 1, 1, 1, 0, 0, 0, time.UTC), time.Date(2025, 1, 1, 2, 0, 0, 0, time.UTC)},
		{time.Date(2025, 1, 1, 20, 0, 0, 0, time.UTC), time.Date(2025, 1, 1, 20, 30, 0, 0, time.UTC)},
	}}
	illum := &stubIllumination{byDay: map[int]float64{1: 80}}

	scene := testScene()
	scene.TimeStart, scene.TimeEnd, scene.TimeEndNextDay = "20:00", "02:00", true

	scanner := NewScanner(eph, illum, nil, ScanOptions{HorizonDays: 1, Now: fixedNow})
	result, err := scanner.Scan(context.Background(), scene, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Opportunities) != 1 {
		t.Fatalf("got %d opportunities, want 1: %+v", len(result.Opportunities), result.Opportunities)
	}
	got := result.Opportunities[0]
	wantStart := time.Date(2025, 1, 1, 1, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2025, 1, 1, 20, 30, 0, 0, time.UTC)
	if !got.Start.Equal(wantStart) || !got.End.Equal(wantEnd) {
		t.Errorf("interval = %s - %s, want %s - %s", got.Start, got.End, wantStart, wantEnd)
	}
}

func TestScanSkipsMissingDSTHour(t *testing.T) {
	bucharest, err := time.LoadLocation("Europe/Bucharest")
	if err != nil {
		t.Skipf("no tz database: %v", err)
	}

	scene := testScene()
	scene.Location.Timezone = "Europe/Bucharest"
	scene.TimeStart, scene.TimeEnd = "02:00", "05:00"

	// Clocks go from 03:00 to 04:00 on 30 March 2025
	now := func() time.Time { return time.Date(2025, 3, 30, 12, 0, 0, 0, bucharest) }
	scanner := NewScanner(&spanEphemeris{}, &stubIllumination{}, nil, ScanOptions{HorizonDays: 1, Now: now})
	result, err := scanner.Scan(context.Background(), scene, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 02:00-02:45, 04:00-04:45 and 05:00
	if result.Samples != 9 {
		t.Errorf("samples = %d, want 9", result.Samples)
	}
}

func TestScanRespectsIlluminationThreshold(t *testing.T) {
	eph := &stubEphemeris{days: map[int]bool{1: true}, hour: 21, distance: 381550}
	illum := &stubIllumination{byDay: map[int]float64{1: 30}}

	scanner := NewScanner(eph, illum, nil, ScanOptions{HorizonDays: 1, Now: fixedNow})
	result, err := scanner.Scan(context.Background(), testScene(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Opportunities) != 0 {
		t.Errorf("got %d opportunities, want none below 40%%", len(result.Opportunities))
	}
}

func TestScanCancellationKeepsScene(t *testing.T) {
	eph := &stubEphemeris{days: map[int]bool{1: true, 2: true}, hour: 21, distance: 381550}
	illum := &stubIllumination{}

	scene := testScene()
	previous := Opportunity{Start: time.Date(2024, 12, 1, 21, 0, 0, 0, time.UTC), MaxIllumination: 99}
	scene.Opportunities = []Opportunity{previous}

	scanner := NewScanner(eph, illum, nil, ScanOptions{HorizonDays: 10, Now: fixedNow})
	result, err := scanner.Scan(context.Background(), scene, &cancelAfter{n: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Cancelled {
		t.Fatal("expected cancelled result")
	}
	if result.DaysScanned != 2 {
		t.Errorf("days scanned = %d, want 2", result.DaysScanned)
	}
	if len(scene.Opportunities) != 1 || scene.Opportunities[0] != previous {
		t.Errorf("scene opportunities changed: %+v", scene.Opportunities)
	}
}

func TestScanContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	illum := &stubIllumination{}
	scanner := NewScanner(&stubEphemeris{}, illum, nil, ScanOptions{HorizonDays: 3, Now: fixedNow})
	result, err := scanner.Scan(ctx, testScene(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Cancelled {
		t.Error("expected cancelled result")
	}
	if illum.calls != 0 {
		t.Errorf("illumination queried %d times after cancellation", illum.calls)
	}
}

func TestScanOptionsDefaults(t *testing.T) {
	opts := ScanOptions{Granule: 7 * time.Minute}.withDefaults()
	if opts.Granule != DefaultGranule {
		t.Errorf("granule = %v, want %v", opts.Granule, DefaultGranule)
	}
	if opts.HorizonDays != DefaultHorizonDays || opts.ResultCount != DefaultResultCount {
		t.Errorf("defaults not applied: %+v", opts)
	}
}

func TestSceneCollection(t *testing.T) {
	c := NewSceneCollection(nil)

	if err := c.Add(testScene()); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := c.Add(testScene()); !errors.Is(err, ErrSceneExists) {
		t.Errorf("duplicate add error = %v, want ErrSceneExists", err)
	}

	dup, err := c.Duplicate("Lake")
	if err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	if dup.Name != "Lake (copy)" {
		t.Errorf("duplicate name = %q", dup.Name)
	}
	dup2, _ := c.Duplicate("Lake")
	if dup2.Name != "Lake (copy 2)" {
		t.Errorf("second duplicate name = %q", dup2.Name)
	}

	edited := testScene()
	edited.Name = "Lake North"
	existing, _ := c.Get("Lake")
	existing.Opportunities = []Opportunity{{Start: fixedNow()}}
	edited.Opportunities = existing.Opportunities
	if err := c.Replace("Lake", edited); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if len(edited.Opportunities) != 0 {
		t.Error("edit should clear stored opportunities")
	}
	if names := c.Names(); names[0] != "Lake North" {
		t.Errorf("names = %v, edited scene should keep its position", names)
	}

	if err := c.Remove("Lake"); !errors.Is(err, ErrSceneNotFound) {
		t.Errorf("remove renamed scene error = %v, want ErrSceneNotFound", err)
	}
	if err := c.Remove("Lake (copy)"); err != nil {
		t.Errorf("remove: %v", err)
	}
	if c.Len() != 2 {
		t.Errorf("len = %d, want 2", c.Len())
	}

	bad := testScene()
	bad.Name = "Bad"
	bad.ElevationMin = 50
	bad.ElevationMax = 10
	if err := c.Add(bad); !errors.Is(err, ErrInvalidScene) {
		t.Errorf("invalid add error = %v, want ErrInvalidScene", err)
	}
}

func TestSceneCollectionSnapshotAndCommit(t *testing.T) {
	c := NewSceneCollection([]*Scene{testScene()})

	snap, err := c.Snapshot("Lake")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	snap.Opportunities = []Opportunity{{Start: fixedNow()}}
	if live, _ := c.Get("Lake"); len(live.Opportunities) != 0 {
		t.Error("snapshot shares state with the collection")
	}

	opps := []Opportunity{{Start: fixedNow()}, {Start: fixedNow().Add(time.Hour)}}
	if err := c.SetOpportunities("Lake", opps); err != nil {
		t.Fatalf("set opportunities: %v", err)
	}
	moved, err := c.Navigate("Lake", 1)
	if err != nil || !moved {
		t.Fatalf("navigate = %v, %v", moved, err)
	}
	if moved, _ := c.Navigate("Lake", 1); moved {
		t.Error("cursor moved past the end")
	}
	if err := c.SetOpportunities("Lake", opps[:1]); err != nil {
		t.Fatal(err)
	}
	if live, _ := c.Get("Lake"); live.CurrentOpportunityIndex != 0 {
		t.Errorf("cursor = %d after new results, want 0", live.CurrentOpportunityIndex)
	}

	if _, err := c.Navigate("Nowhere", 1); !errors.Is(err, ErrSceneNotFound) {
		t.Errorf("navigate unknown error = %v", err)
	}
	if err := c.SetOpportunities("Nowhere", nil); !errors.Is(err, ErrSceneNotFound) {
		t.Errorf("set unknown error = %v", err)
	}
}

func TestSceneCollectionCommitChecksIdentity(t *testing.T) {
	c := NewSceneCollection([]*Scene{testScene()})
	opps := []Opportunity{{Start: fixedNow()}}

	orig, cp, err := c.ScanCopy("Lake")
	if err != nil {
		t.Fatalf("scan copy: %v", err)
	}
	if orig == cp {
		t.Fatal("copy is the live scene")
	}
	if err := c.Commit(orig, opps); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if live, _ := c.Get("Lake"); len(live.Opportunities) != 1 {
		t.Errorf("commit stored %d opportunities, want 1", len(live.Opportunities))
	}

	if err := c.Remove("Lake"); err != nil {
		t.Fatal(err)
	}
	if err := c.Add(testScene()); err != nil {
		t.Fatal(err)
	}
	if err := c.Commit(orig, opps); !errors.Is(err, ErrSceneNotFound) {
		t.Errorf("commit to re-created scene error = %v, want ErrSceneNotFound", err)
	}
	if live, _ := c.Get("Lake"); len(live.Opportunities) != 0 {
		t.Errorf("re-created scene has %d opportunities, want 0", len(live.Opportunities))
	}

	snaps := c.Snapshots()
	if len(snaps) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(snaps))
	}
	snaps[0].Opportunities = append(snaps[0].Opportunities, Opportunity{})
	snaps[0].CurrentOpportunityIndex = 3
	if live, _ := c.Get("Lake"); len(live.Opportunities) != 0 || live.CurrentOpportunityIndex != 0 {
		t.Error("snapshots share state with the collection")
	}
}

func TestNavigate(t *testing.T) {
	s := testScene()
	if s.Navigate(1) {
		t.Error("navigation with no opportunities should be a no-op")
	}

	s.Opportunities = make([]Opportunity, 3)
	if s.Navigate(-1) {
		t.Error("cursor moved below zero")
	}
	if !s.Navigate(1) || !s.Navigate(1) {
		t.Fatal("cursor should advance to the last opportunity")
	}
	if s.Navigate(1) {
		t.Error("cursor moved past the end")
	}
	if s.CurrentOpportunityIndex != 2 {
		t.Errorf("cursor = %d, want 2", s.CurrentOpportunityIndex)
	}

	s.Opportunities = s.Opportunities[:1]
	s.ClampCursor()
	if s.CurrentOpportunityIndex != 0 {
		t.Errorf("clamped cursor = %d, want 0", s.CurrentOpportunityIndex)
	}
}

func TestScanGuard(t *testing.T) {
	var g ScanGuard
	release, err := g.Acquire("Lake")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := g.Acquire("Lake"); !errors.Is(err, ErrScanInProgress) {
		t.Errorf("second acquire error = %v, want ErrScanInProgress", err)
	}
	if _, err := g.Acquire("Other"); err != nil {
		t.Errorf("other scene should not be blocked: %v", err)
	}
	release()
	release()
	if g.Running("Lake") {
		t.Error("scene still marked running after release")
	}
}

func TestNextOpportunities(t *testing.T) {
	now := fixedNow()
	a := testScene()
	a.Opportunities = []Opportunity{
		{Start: now.Add(-time.Hour)},
		{Start: now.Add(48 * time.Hour)},
	}
	b := testScene()
	b.Name = "Hill"
	b.Opportunities = []Opportunity{
		{Start: now.Add(24 * time.Hour)},
		{Start: now.Add(72 * time.Hour)},
		{Start: now.Add(96 * time.Hour)},
	}

	eph := &stubEphemeris{distance: PerigeeMinKm}
	got := NextOpportunities(context.Background(), []*Scene{a, b}, eph, &stubIllumination{}, now, 3)
	if len(got) != 3 {
		t.Fatalf("got %d, want 3", len(got))
	}
	wantScenes := []string{"Hill", "Lake", "Hill"}
	for i, n := range got {
		if n.Scene != wantScenes[i] {
			t.Errorf("entry %d scene = %s, want %s", i, n.Scene, wantScenes[i])
		}
		if n.Distance == nil || n.Distance.Rating != 10 {
			t.Errorf("entry %d distance = %+v", i, n.Distance)
		}
		if n.Illumination == nil || *n.Illumination != 50 {
			t.Errorf("entry %d illumination = %v", i, n.Illumination)
		}
	}
}

type stubCalendar struct {
	moons []time.Time
}

func (c stubCalendar) FullMoons(start time.Time, n int, within time.Duration) ([]time.Time, error) {
	return c.moons, nil
}

func TestFullMoonRatings(t *testing.T) {
	moon := time.Date(2025, 2, 12, 13, 53, 0, 0, time.UTC)
	ratings, err := FullMoonRatings(&stubEphemeris{distance: 360000}, stubCalendar{moons: []time.Time{moon}}, fixedNow(), FullMoonCount)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ratings) != 1 || ratings[0].Class != ClassPerigee || ratings[0].Rating != 9 {
		t.Errorf("ratings = %+v", ratings)
	}

	if !RatingsStillValid(ratings, fixedNow()) {
		t.Error("ratings with a future first moon should be reused")
	}
	if RatingsStillValid(ratings, moon.Add(time.Hour)) {
		t.Error("ratings should be stale once the first moon has passed")
	}
	if RatingsStillValid(nil, fixedNow()) {
		t.Error("empty ratings are never valid")
	}
}

func TestAzimuthToClock(t *testing.T) {
	tests := []struct {
		az   float64
		want int
	}{
		{0, 12},
		{15, 12},
		{30, 1},
		{90, 3},
		{180, 6},
		{359, 11},
	}
	for _, tt := range tests {
		if got := AzimuthToClock(tt.az); got != tt.want {
			t.Errorf("AzimuthToClock(%v) = %d, want %d", tt.az, got, tt.want)
		}
	}
}

func TestStatus(t *testing.T) {
	eph := &stubEphemeris{days: map[int]bool{1: true}, hour: 21, distance: ApogeeMaxKm}
	at := time.Date(2025, 1, 1, 21, 0, 0, 0, time.UTC)

	st, err := Status(context.Background(), eph, &stubIllumination{}, Location{}, at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !st.Visible || st.ClockPosition != 6 {
		t.Errorf("status = %+v", st)
	}
	if st.Distance.Class != ClassApogee {
		t.Errorf("class = %s, want apogee", st.Distance.Class)
	}
	if st.Waning == nil || *st.Waning {
		t.Error("age 10 days should be waxing")
	}
}

func TestParseGPS(t *testing.T) {
	lat, lon, err := ParseGPS("44.4268, 26.1025")
	if err != nil || lat != 44.4268 || lon != 26.1025 {
		t.Errorf("ParseGPS = %v, %v, %v", lat, lon, err)
	}
	if _, _, err := ParseGPS("95 10"); err == nil {
		t.Error("expected latitude range error")
	}
	if _, _, err := ParseGPS("44.4"); err == nil {
		t.Error("expected format error")
	}
}
