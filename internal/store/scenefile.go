package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/awaistahir/moonhunter/internal/engine"
)

// TimestampLayout is the persisted form of opportunity instants, always written in UTC
const TimestampLayout = "2006-01-02 15:04:05 -0700"

// timestampPrefix is the offset-free part read back on load
const timestampPrefix = "2006-01-02 15:04:05"

var ErrCorruptSceneFile = errors.New("scene file is corrupt")

// SceneFile persists the ordered scene collection as JSON
type SceneFile struct {
	path   string
	logger *slog.Logger
}

// NewSceneFile creates a scene file handle. A nil logger discards output.
func NewSceneFile(path string, logger *slog.Logger) *SceneFile {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SceneFile{path: path, logger: logger}
}

// Path returns the file location
func (f *SceneFile) Path() string {
	return f.path
}

type sceneDocument struct {
	Scenes []json.RawMessage `json:"scenes"`
}

type fileScene struct {
	Name                    string              `json:"name"`
	LocationType            engine.LocationKind `json:"location_type"`
	Location                engine.Location     `json:"location_data"`
	AzimuthMin              *float64            `json:"azimuth_min"`
	AzimuthMax              *float64            `json:"azimuth_max"`
	ElevationMin            *float64            `json:"elevation_min"`
	ElevationMax            *float64            `json:"elevation_max"`
	TimeStart               string              `json:"time_start"`
	TimeEnd                 string              `json:"time_end"`
	TimeEndNextDay          bool                `json:"time_end_next_day"`
	MinIllumination         int                 `json:"min_illumination"`
	Opportunities           []json.RawMessage   `json:"opportunities"`
	CurrentOpportunityIndex int                 `json:"current_opportunity_index"`
}

type fileOpportunity struct {
	Start           string  `json:"start_datetime"`
	End             string  `json:"end_datetime"`
	ElevationMin    float64 `json:"elevation_min"`
	ElevationMax    float64 `json:"elevation_max"`
	AzimuthMin      float64 `json:"azimuth_min"`
	AzimuthMax      float64 `json:"azimuth_max"`
	MaxIllumination float64 `json:"max_illumination"`
}

// Load reads the scene collection. A missing file yields no scenes.
// Malformed scene or opportunity records are skipped; a file that is not
// JSON at all returns ErrCorruptSceneFile with no scenes.
func (f *SceneFile) Load() ([]*engine.Scene, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading scene file: %w", err)
	}

	var doc sceneDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSceneFile, err)
	}

	scenes := make([]*engine.Scene, 0, len(doc.Scenes))
	for i, raw := range doc.Scenes {
		scene, err := f.decodeScene(raw)
		if err != nil {
			f.logger.Warn("skipping scene record", "index", i, "error", err)
			continue
		}
		scenes = append(scenes, scene)
	}
	return scenes, nil
}

func (f *SceneFile) decodeScene(raw json.RawMessage) (*engine.Scene, error) {
	var fs fileScene
	if err := json.Unmarshal(raw, &fs); err != nil {
		return nil, err
	}
	if fs.Name == "" {
		return nil, errors.New("missing name")
	}

	scene := engine.NewScene(fs.Name, fs.LocationType, fs.Location)
	if fs.LocationType == "" {
		scene.LocationType = engine.LocationGPS
	}
	if fs.AzimuthMin != nil {
		scene.AzimuthMin = *fs.AzimuthMin
	}
	if fs.AzimuthMax != nil {
		scene.AzimuthMax = *fs.AzimuthMax
	}
	if fs.ElevationMin != nil {
		scene.ElevationMin = *fs.ElevationMin
	}
	if fs.ElevationMax != nil {
		scene.ElevationMax = *fs.ElevationMax
	}
	if fs.TimeStart != "" {
		scene.TimeStart = fs.TimeStart
	}
	if fs.TimeEnd != "" {
		scene.TimeEnd = fs.TimeEnd
	}
	scene.TimeEndNextDay = fs.TimeEndNextDay
	scene.MinIllumination = fs.MinIllumination

	for j, rawOpp := range fs.Opportunities {
		opp, err := decodeOpportunity(rawOpp)
		if err != nil {
			f.logger.Warn("skipping opportunity record", "scene", fs.Name, "index", j, "error", err)
			continue
		}
		scene.Opportunities = append(scene.Opportunities, opp)
	}

	scene.CurrentOpportunityIndex = fs.CurrentOpportunityIndex
	scene.ClampCursor()
	return scene, nil
}

func decodeOpportunity(raw json.RawMessage) (engine.Opportunity, error) {
	var fo fileOpportunity
	if err := json.Unmarshal(raw, &fo); err != nil {
		return engine.Opportunity{}, err
	}
	start, err := ParseTimestamp(fo.Start)
	if err != nil {
		return engine.Opportunity{}, err
	}
	end, err := ParseTimestamp(fo.End)
	if err != nil {
		return engine.Opportunity{}, err
	}
	return engine.Opportunity{
		Start:           start,
		End:             end,
		ElevationMin:    fo.ElevationMin,
		ElevationMax:    fo.ElevationMax,
		AzimuthMin:      fo.AzimuthMin,
		AzimuthMax:      fo.AzimuthMax,
		MaxIllumination: fo.MaxIllumination,
	}, nil
}

// FormatTimestamp renders an instant in the persisted UTC form
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp reads a persisted instant. Any offset suffix is discarded
// and the wall-clock prefix is taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	if len(s) < len(timestampPrefix) {
		return time.Time{}, fmt.Errorf("timestamp %q too short", s)
	}
	t, err := time.ParseInLocation(timestampPrefix, s[:len(timestampPrefix)], time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// Save writes the collection through a temporary file and an atomic rename.
// The previous file is copied to a .bak first; a failed backup only logs.
func (f *SceneFile) Save(scenes []*engine.Scene) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	doc := struct {
		Scenes []fileScene `json:"scenes"`
	}{Scenes: make([]fileScene, 0, len(scenes))}
	for _, s := range scenes {
		fs, err := encodeScene(s)
		if err != nil {
			return err
		}
		doc.Scenes = append(doc.Scenes, fs)
	}

	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding scenes: %w", err)
	}

	if err := copyFile(f.path, f.path+".bak"); err != nil && !errors.Is(err, os.ErrNotExist) {
		f.logger.Warn("scene file backup failed", "path", f.path, "error", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing scenes: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing scenes: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temporary file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("replacing scene file: %w", err)
	}
	return nil
}

func encodeScene(s *engine.Scene) (fileScene, error) {
	fs := fileScene{
		Name:                    s.Name,
		LocationType:            s.LocationType,
		Location:                s.Location,
		AzimuthMin:              &s.AzimuthMin,
		AzimuthMax:              &s.AzimuthMax,
		ElevationMin:            &s.ElevationMin,
		ElevationMax:            &s.ElevationMax,
		TimeStart:               s.TimeStart,
		TimeEnd:                 s.TimeEnd,
		TimeEndNextDay:          s.TimeEndNextDay,
		MinIllumination:         s.MinIllumination,
		Opportunities:           make([]json.RawMessage, 0, len(s.Opportunities)),
		CurrentOpportunityIndex: s.CurrentOpportunityIndex,
	}
	for _, o := range s.Opportunities {
		raw, err := json.Marshal(fileOpportunity{
			Start:           FormatTimestamp(o.Start),
			End:             FormatTimestamp(o.End),
			ElevationMin:    o.ElevationMin,
			ElevationMax:    o.ElevationMax,
			AzimuthMin:      o.AzimuthMin,
			AzimuthMax:      o.AzimuthMax,
			MaxIllumination: o.MaxIllumination,
		})
		if err != nil {
			return fileScene{}, fmt.Errorf("encoding opportunity of %s: %w", s.Name, err)
		}
		fs.Opportunities = append(fs.Opportunities, raw)
	}
	return fs, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
