// Package app assembles moonhunter's components from a Config. Both the CLI
// and the HTTP daemon run on top of an App.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/awaistahir/moonhunter/internal/config"
	"github.com/awaistahir/moonhunter/internal/engine"
	"github.com/awaistahir/moonhunter/internal/ephem"
	"github.com/awaistahir/moonhunter/internal/geo"
	"github.com/awaistahir/moonhunter/internal/locality"
	"github.com/awaistahir/moonhunter/internal/metrics"
	"github.com/awaistahir/moonhunter/internal/moonphase"
	"github.com/awaistahir/moonhunter/internal/store"
)

// ErrNoLocalities is returned by locality lookups when no table was loaded
var ErrNoLocalities = errors.New("locality table not loaded")

// App holds the long-lived components
type App struct {
	Config config.Config
	Logger *slog.Logger

	Store     *store.Store
	SceneFile *store.SceneFile
	Scenes    *engine.SceneCollection
	Guard     *engine.ScanGuard

	Ephemeris    *ephem.Model
	Illumination engine.IlluminationProvider
	Scanner      *engine.Scanner

	Metrics  *metrics.Metrics
	Registry *prometheus.Registry

	Localities *locality.Table // nil when the CSV is missing
	Geocoder   *geo.NominatimClient

	now    func() time.Time
	saveMu sync.Mutex // orders scene file writes
}

// Option customizes New, mostly for tests
type Option func(*App)

// WithIllumination replaces the configured illumination source
func WithIllumination(p engine.IlluminationProvider) Option {
	return func(a *App) { a.Illumination = p }
}

// WithClock fixes the scanner's and the App's notion of now
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// New opens the store, loads scenes and wires the providers. A corrupt scene
// file is logged and leaves the collection empty.
func New(cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database dir: %w", err)
		}
	}

	st, err := store.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Store:     st,
		SceneFile: store.NewSceneFile(cfg.ScenesFile, logger),
		Guard:     &engine.ScanGuard{},
		Ephemeris: ephem.New(),
		Metrics:   metrics.NewMetrics(),
		Registry:  prometheus.NewRegistry(),
		Geocoder:  geo.NewNominatimClient(cfg.Geocoder.BaseURL),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.Metrics.Register(a.Registry); err != nil {
		st.Close()
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	if a.Illumination == nil {
		a.Illumination = a.illuminationProvider()
	}

	scenes, err := a.SceneFile.Load()
	if err != nil {
		logger.Error("scene file unreadable, starting empty", "path", cfg.ScenesFile, "error", err)
	}
	a.Scenes = engine.NewSceneCollection(scenes)

	a.Scanner = engine.NewScanner(a.Ephemeris, a.Illumination, logger, engine.ScanOptions{
		HorizonDays: cfg.Scan.HorizonDays,
		Granule:     cfg.Scan.Granule(),
		ResultCount: cfg.Scan.ResultCount,
		Now:         a.now,
		Observer:    a.Metrics,
	})

	a.loadLocalities()
	return a, nil
}

// illuminationProvider builds the configured source. Remote lookups get a
// per-call timeout, metrics and the SQLite cache; computed values are cheap
// and only measured.
func (a *App) illuminationProvider() engine.IlluminationProvider {
	cfg := a.Config.Illumination
	if cfg.Source == config.SourceComputed {
		return moonphase.Chain(a.Ephemeris, moonphase.WithMetrics(config.SourceComputed, a.Metrics))
	}

	remote := moonphase.Chain(
		moonphase.NewFarmsenseClient(cfg.BaseURL, cfg.Timeout),
		moonphase.WithMetrics(config.SourceFarmsense, a.Metrics),
		moonphase.WithTimeout(cfg.Timeout),
	)
	if !cfg.Cache {
		return remote
	}
	return &moonphase.CachedProvider{Inner: remote, Cache: a.Store, Logger: a.Logger}
}

func (a *App) loadLocalities() {
	if a.Config.LocalitiesFile == "" {
		return
	}
	table, err := locality.LoadFile(a.Config.LocalitiesFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			a.Logger.Debug("locality table not found", "path", a.Config.LocalitiesFile)
		} else {
			a.Logger.Warn("locality table unreadable", "path", a.Config.LocalitiesFile, "error", err)
		}
		return
	}
	a.Localities = table
	a.Logger.Debug("locality table loaded", "localities", table.Len())
}

// Close releases the database
func (a *App) Close() error {
	return a.Store.Close()
}

// Now returns the App's clock
func (a *App) Now() time.Time {
	return a.now()
}

// SaveScenes persists the collection. Callers surface the error as a warning;
// the in-memory collection stays authoritative.
func (a *App) SaveScenes() error {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()
	if err := a.SceneFile.Save(a.Scenes.Snapshots()); err != nil {
		a.Logger.Warn("saving scenes failed", "path", a.SceneFile.Path(), "error", err)
		return err
	}
	return nil
}

// ScanScene runs one scan on a private copy of the scene and commits the
// result unless the scan was cancelled or failed. At most one scan runs per
// scene; a second one fails with engine.ErrScanInProgress.
func (a *App) ScanScene(ctx context.Context, name string, sink engine.ProgressSink) (engine.ScanResult, error) {
	run, err := a.StartScan(name)
	if err != nil {
		return engine.ScanResult{}, err
	}
	return run(ctx, sink)
}

// ScanFunc runs a claimed scan exactly once
type ScanFunc func(ctx context.Context, sink engine.ProgressSink) (engine.ScanResult, error)

// StartScan claims the scene and snapshots it, so callers that run the scan
// in the background can reject a busy scene up front. The returned func
// releases the claim when it finishes.
func (a *App) StartScan(name string) (ScanFunc, error) {
	release, err := a.Guard.Acquire(name)
	if err != nil {
		return nil, err
	}
	orig, snap, err := a.Scenes.ScanCopy(name)
	if err != nil {
		release()
		return nil, err
	}

	return func(ctx context.Context, sink engine.ProgressSink) (engine.ScanResult, error) {
		defer release()

		result, err := a.Scanner.Scan(ctx, snap, sink)
		if err != nil || result.Cancelled {
			return result, err
		}
		if err := a.Scenes.Commit(orig, snap.Opportunities); err != nil {
			// edited, renamed or deleted while scanning
			return result, err
		}
		return result, nil
	}, nil
}

// NextOpportunities returns the next n opportunities across all scenes
func (a *App) NextOpportunities(ctx context.Context, n int) []engine.NextOpportunity {
	scenes := make([]*engine.Scene, 0, a.Scenes.Len())
	for _, name := range a.Scenes.Names() {
		if s, err := a.Scenes.Snapshot(name); err == nil {
			scenes = append(scenes, s)
		}
	}
	return engine.NextOpportunities(ctx, scenes, a.Ephemeris, a.Illumination, a.now(), n)
}

// FullMoons returns the next full-moon ratings, reusing the SQLite copy
// while its first date is still ahead unless refresh is set.
func (a *App) FullMoons(refresh bool) ([]engine.FullMoonRating, error) {
	now := a.now()
	if !refresh {
		cached, err := a.Store.LoadFullMoonRatings()
		if err != nil {
			a.Logger.Warn("full moon cache unreadable", "error", err)
		} else if engine.RatingsStillValid(cached, now) {
			return cached, nil
		}
	}

	ratings, err := engine.FullMoonRatings(a.Ephemeris, a.Ephemeris, now, engine.FullMoonCount)
	if err != nil {
		return nil, err
	}
	if err := a.Store.SaveFullMoonRatings(ratings); err != nil {
		a.Logger.Warn("caching full moon ratings failed", "error", err)
	}
	return ratings, nil
}

// Distance rates the Earth-Moon distance at t
func (a *App) Distance(t time.Time) (engine.DistanceRating, error) {
	return engine.RateAt(a.Ephemeris, t)
}

// MoonStatus reports the Moon's state for loc at t
func (a *App) MoonStatus(ctx context.Context, loc engine.Location, t time.Time) (engine.MoonStatus, error) {
	return engine.Status(ctx, a.Ephemeris, a.Illumination, loc, t)
}

// ActiveLocation resolves the location selected in the stored settings:
// a saved profile or a county/locality pair from the table.
func (a *App) ActiveLocation() (engine.LocationKind, engine.Location, error) {
	settings, err := a.Store.GetSettings()
	if err != nil {
		a.Logger.Warn("settings unreadable, using defaults", "error", err)
	}

	if settings.ActiveView == engine.LocationProfile && settings.Profile != "" {
		p, err := a.Store.GetProfile(settings.Profile)
		if err != nil {
			return "", engine.Location{}, fmt.Errorf("active profile %s: %w", settings.Profile, err)
		}
		return engine.LocationProfile, p.Location(), nil
	}

	loc, err := a.LocalityLocation(settings.County, settings.Locality)
	if err != nil {
		return "", engine.Location{}, err
	}
	return engine.LocationRomania, loc, nil
}

// LocalityLocation builds a location from the county/locality table
func (a *App) LocalityLocation(county, place string) (engine.Location, error) {
	if a.Localities == nil {
		return engine.Location{}, ErrNoLocalities
	}
	p, err := a.Localities.Lookup(county, place)
	if err != nil {
		return engine.Location{}, err
	}
	return engine.Location{
		Name:      p.Name,
		County:    p.County,
		Locality:  p.Name,
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Timezone:  engine.DefaultRomaniaTimezone,
	}, nil
}

// GPSLocation parses "lat, lon" and names the spot by reverse geocoding
func (a *App) GPSLocation(ctx context.Context, input string) (engine.Location, error) {
	lat, lon, err := engine.ParseGPS(input)
	if err != nil {
		return engine.Location{}, err
	}
	return engine.Location{
		Name:      a.Geocoder.SuggestName(ctx, lat, lon),
		Latitude:  lat,
		Longitude: lon,
	}, nil
}
