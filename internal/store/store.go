package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/awaistahir/moonhunter/internal/engine"
	_ "modernc.org/sqlite"
)

var ErrProfileNotFound = errors.New("profile not found")

// Store handles persistent storage using SQLite
type Store struct {
	db *sql.DB
}

// NewStore creates a new store and initializes the database
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Scans and API handlers share the handle; one writer avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// initialize creates the database schema
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		name TEXT PRIMARY KEY,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		timezone TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		data TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS illumination_cache (
		ts INTEGER PRIMARY KEY,
		fraction REAL NOT NULL,
		age_days REAL NOT NULL,
		fetched_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS full_moon_ratings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		moon_at TEXT NOT NULL UNIQUE,
		rating INTEGER NOT NULL,
		class TEXT NOT NULL,
		distance_km REAL NOT NULL,
		computed_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_full_moon_ratings_at ON full_moon_ratings(moon_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Profile is a saved observer location
type Profile struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Timezone  string  `json:"timezone,omitempty"`
}

// Location converts the profile for use in a scene
func (p Profile) Location() engine.Location {
	return engine.Location{
		Name:      p.Name,
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Timezone:  p.Timezone,
	}
}

// SaveProfile saves or updates a location profile
func (s *Store) SaveProfile(p Profile) error {
	query := `INSERT OR REPLACE INTO profiles (name, latitude, longitude, timezone, updated_at)
		VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query, p.Name, p.Latitude, p.Longitude, p.Timezone, time.Now())
	return err
}

// GetProfile retrieves a profile by name
func (s *Store) GetProfile(name string) (*Profile, error) {
	query := `SELECT name, latitude, longitude, timezone FROM profiles WHERE name = ?`

	var p Profile
	err := s.db.QueryRow(query, name).Scan(&p.Name, &p.Latitude, &p.Longitude, &p.Timezone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProfiles returns all profiles ordered by name
func (s *Store) ListProfiles() ([]Profile, error) {
	rows, err := s.db.Query(`SELECT name, latitude, longitude, timezone FROM profiles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	profiles := []Profile{}
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.Name, &p.Latitude, &p.Longitude, &p.Timezone); err != nil {
			continue
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// DeleteProfile deletes a profile by name
func (s *Store) DeleteProfile(name string) error {
	res, err := s.db.Exec(`DELETE FROM profiles WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	return nil
}

// Settings is the user's interactive state, loaded and saved at command boundaries
type Settings struct {
	ActiveView   engine.LocationKind `json:"active_view"`
	County       string              `json:"judet"`
	Locality     string              `json:"localitate"`
	HideCommunes bool                `json:"hide_comune"`
	Profile      string              `json:"profile_view"`
}

// DefaultSettings mirrors a first launch
func DefaultSettings() Settings {
	return Settings{
		ActiveView: engine.LocationRomania,
		County:     "Alba",
		Locality:   "Alba Iulia",
	}
}

// GetSettings returns the stored settings, or defaults when none exist or
// the stored record is unreadable.
func (s *Store) GetSettings() (Settings, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM settings WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return DefaultSettings(), err
	}

	settings := DefaultSettings()
	if err := json.Unmarshal([]byte(data), &settings); err != nil {
		return DefaultSettings(), nil
	}
	return settings, nil
}

// SaveSettings replaces the stored settings
func (s *Store) SaveSettings(settings Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO settings (id, data, updated_at) VALUES (1, ?, ?)`,
		string(data), time.Now())
	return err
}

// GetIllumination implements moonphase.Cache
func (s *Store) GetIllumination(ctx context.Context, unix int64) (engine.Phase, bool, error) {
	var p engine.Phase
	err := s.db.QueryRowContext(ctx, `SELECT fraction, age_days FROM illumination_cache WHERE ts = ?`, unix).
		Scan(&p.Fraction, &p.AgeDays)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Phase{}, false, nil
	}
	if err != nil {
		return engine.Phase{}, false, err
	}
	return p, true, nil
}

// PutIllumination implements moonphase.Cache
func (s *Store) PutIllumination(ctx context.Context, unix int64, phase engine.Phase) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO illumination_cache (ts, fraction, age_days, fetched_at)
		VALUES (?, ?, ?, ?)`, unix, phase.Fraction, phase.AgeDays, time.Now())
	return err
}

// SaveFullMoonRatings replaces the cached full-moon ratings
func (s *Store) SaveFullMoonRatings(ratings []engine.FullMoonRating) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM full_moon_ratings`); err != nil {
		return err
	}
	for _, r := range ratings {
		_, err := tx.Exec(`INSERT INTO full_moon_ratings (moon_at, rating, class, distance_km, computed_at)
			VALUES (?, ?, ?, ?, ?)`,
			r.Date.UTC().Format(time.RFC3339), r.Rating, string(r.Class), r.DistanceKm, time.Now())
		if err != nil {
			return fmt.Errorf("saving rating for %s: %w", r.Date.Format(time.RFC3339), err)
		}
	}
	return tx.Commit()
}

// LoadFullMoonRatings returns the cached ratings ordered by date
func (s *Store) LoadFullMoonRatings() ([]engine.FullMoonRating, error) {
	rows, err := s.db.Query(`SELECT moon_at, rating, class, distance_km FROM full_moon_ratings ORDER BY moon_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ratings := []engine.FullMoonRating{}
	for rows.Next() {
		var r engine.FullMoonRating
		var at, class string
		if err := rows.Scan(&at, &r.Rating, &class, &r.DistanceKm); err != nil {
			continue
		}
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			continue
		}
		r.Date = t
		r.Class = engine.DistanceClass(class)
		ratings = append(ratings, r)
	}
	return ratings, rows.Err()
}
