package engine

import (
	"fmt"
	"sync"
)

// Defaults for a freshly created scene
const (
	DefaultAzimuthMax = 359.99
	DefaultTimeStart  = "20:00"
	DefaultTimeEnd    = "23:00"
)

// NewScene creates a scene with permissive constraints
func NewScene(name string, kind LocationKind, loc Location) *Scene {
	return &Scene{
		Name:         name,
		LocationType: kind,
		Location:     loc,
		AzimuthMin:   0,
		AzimuthMax:   DefaultAzimuthMax,
		ElevationMin: 0,
		ElevationMax: 90,
		TimeStart:    DefaultTimeStart,
		TimeEnd:      DefaultTimeEnd,
	}
}

// Validate checks the user-editable constraints
func (s *Scene) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidScene)
	}
	if s.ElevationMin < 0 || s.ElevationMax > 90 || s.ElevationMin > s.ElevationMax {
		return fmt.Errorf("%w: elevation range %.1f-%.1f must satisfy 0 <= min <= max <= 90",
			ErrInvalidScene, s.ElevationMin, s.ElevationMax)
	}
	if s.MinIllumination < 0 || s.MinIllumination > 100 {
		return fmt.Errorf("%w: minimum illumination %d%% out of range", ErrInvalidScene, s.MinIllumination)
	}
	if _, err := parseTimeOfDay(s.TimeStart); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScene, err)
	}
	if _, err := parseTimeOfDay(s.TimeEnd); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScene, err)
	}
	if s.Location.Latitude < -90 || s.Location.Latitude > 90 ||
		s.Location.Longitude < -180 || s.Location.Longitude > 180 {
		return fmt.Errorf("%w: coordinates %.4f, %.4f out of range",
			ErrInvalidScene, s.Location.Latitude, s.Location.Longitude)
	}
	return nil
}

// Navigate moves the opportunity cursor by direction (+1/-1).
// The cursor only moves when the new index stays in range.
func (s *Scene) Navigate(direction int) bool {
	if len(s.Opportunities) == 0 {
		return false
	}
	next := s.CurrentOpportunityIndex + direction
	if next < 0 || next >= len(s.Opportunities) {
		return false
	}
	s.CurrentOpportunityIndex = next
	return true
}

// CurrentOpportunity returns the opportunity under the cursor
func (s *Scene) CurrentOpportunity() (Opportunity, bool) {
	if s.CurrentOpportunityIndex < 0 || s.CurrentOpportunityIndex >= len(s.Opportunities) {
		return Opportunity{}, false
	}
	return s.Opportunities[s.CurrentOpportunityIndex], true
}

// ClampCursor restores the cursor invariant after opportunities change
func (s *Scene) ClampCursor() {
	if s.CurrentOpportunityIndex < 0 || s.CurrentOpportunityIndex >= len(s.Opportunities) {
		s.CurrentOpportunityIndex = 0
	}
}

// clone copies constraints only; opportunities are derived state
func (s *Scene) clone(name string) *Scene {
	c := *s
	c.Name = name
	c.Opportunities = nil
	c.CurrentOpportunityIndex = 0
	return &c
}

// SceneCollection is an ordered set of scenes with unique names.
// It is safe for concurrent use. Get and All return shared scenes; readers
// that may race with Commit or Navigate use Snapshot or Snapshots. Callers
// serialize scans per scene through ScanGuard.
type SceneCollection struct {
	mu     sync.RWMutex
	scenes []*Scene
}

// NewSceneCollection wraps already-loaded scenes, keeping their order
func NewSceneCollection(scenes []*Scene) *SceneCollection {
	c := &SceneCollection{}
	for _, s := range scenes {
		if c.indexOf(s.Name) >= 0 {
			continue
		}
		c.scenes = append(c.scenes, s)
	}
	return c
}

func (c *SceneCollection) indexOf(name string) int {
	for i, s := range c.scenes {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// Add appends a new scene
func (c *SceneCollection) Add(s *Scene) error {
	if err := s.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexOf(s.Name) >= 0 {
		return fmt.Errorf("%w: %s", ErrSceneExists, s.Name)
	}
	c.scenes = append(c.scenes, s)
	return nil
}

// Get returns the scene with the given name
func (c *SceneCollection) Get(name string) (*Scene, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i := c.indexOf(name)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrSceneNotFound, name)
	}
	return c.scenes[i], nil
}

func copyScene(s *Scene) *Scene {
	cp := *s
	cp.Opportunities = append([]Opportunity(nil), s.Opportunities...)
	return &cp
}

// Snapshot returns a private copy of the named scene, opportunities included
func (c *SceneCollection) Snapshot(name string) (*Scene, error) {
	_, cp, err := c.ScanCopy(name)
	return cp, err
}

// ScanCopy returns the named scene together with a private copy of it.
// Hand the original to Commit once the copy has been scanned.
func (c *SceneCollection) ScanCopy(name string) (orig, cp *Scene, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i := c.indexOf(name)
	if i < 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrSceneNotFound, name)
	}
	return c.scenes[i], copyScene(c.scenes[i]), nil
}

// Snapshots returns private copies of every scene in insertion order
func (c *SceneCollection) Snapshots() []*Scene {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Scene, len(c.scenes))
	for i, s := range c.scenes {
		out[i] = copyScene(s)
	}
	return out
}

// Commit stores a scan result on orig and resets its cursor. It fails with
// ErrSceneNotFound when orig was removed or replaced in the meantime, even if
// another scene now carries the same name.
func (c *SceneCollection) Commit(orig *Scene, opps []Opportunity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.scenes {
		if s == orig {
			s.Opportunities = append([]Opportunity(nil), opps...)
			s.CurrentOpportunityIndex = 0
			return nil
		}
	}
	return fmt.Errorf("%w: %s was replaced while scanning", ErrSceneNotFound, orig.Name)
}

// SetOpportunities stores a scan result on the named scene and resets the cursor
func (c *SceneCollection) SetOpportunities(name string, opps []Opportunity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrSceneNotFound, name)
	}
	c.scenes[i].Opportunities = append([]Opportunity(nil), opps...)
	c.scenes[i].CurrentOpportunityIndex = 0
	return nil
}

// Navigate moves the named scene's cursor, see Scene.Navigate
func (c *SceneCollection) Navigate(name string, direction int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(name)
	if i < 0 {
		return false, fmt.Errorf("%w: %s", ErrSceneNotFound, name)
	}
	return c.scenes[i].Navigate(direction), nil
}

// Replace performs a full edit. The edited scene takes the old one's position;
// renaming is a destructive replace and stored opportunities are dropped.
func (c *SceneCollection) Replace(oldName string, s *Scene) error {
	if err := s.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(oldName)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrSceneNotFound, oldName)
	}
	if s.Name != oldName && c.indexOf(s.Name) >= 0 {
		return fmt.Errorf("%w: %s", ErrSceneExists, s.Name)
	}
	s.Opportunities = nil
	s.CurrentOpportunityIndex = 0
	c.scenes[i] = s
	return nil
}

// Remove deletes a scene by name
func (c *SceneCollection) Remove(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrSceneNotFound, name)
	}
	c.scenes = append(c.scenes[:i], c.scenes[i+1:]...)
	return nil
}

// Duplicate copies a scene's constraints under "<name> (copy)"
func (c *SceneCollection) Duplicate(name string) (*Scene, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(name)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrSceneNotFound, name)
	}

	newName := name + " (copy)"
	for n := 2; c.indexOf(newName) >= 0; n++ {
		newName = fmt.Sprintf("%s (copy %d)", name, n)
	}

	dup := c.scenes[i].clone(newName)
	c.scenes = append(c.scenes, dup)
	return dup, nil
}

// All returns the scenes in insertion order
func (c *SceneCollection) All() []*Scene {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Scene, len(c.scenes))
	copy(out, c.scenes)
	return out
}

// Names returns scene names in insertion order
func (c *SceneCollection) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.scenes))
	for i, s := range c.scenes {
		names[i] = s.Name
	}
	return names
}

// Len returns the number of scenes
func (c *SceneCollection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.scenes)
}

// ScanGuard serializes scans per scene name
type ScanGuard struct {
	mu      sync.Mutex
	running map[string]struct{}
}

// Acquire claims the scene for scanning. The returned release must be called.
func (g *ScanGuard) Acquire(name string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running == nil {
		g.running = make(map[string]struct{})
	}
	if _, busy := g.running[name]; busy {
		return nil, fmt.Errorf("%w: %s", ErrScanInProgress, name)
	}
	g.running[name] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.running, name)
			g.mu.Unlock()
		})
	}, nil
}

// Running reports whether a scan holds the scene
func (g *ScanGuard) Running(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.running[name]
	return busy
}
