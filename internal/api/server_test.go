package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/awaistahir/moonhunter/internal/app"
	"github.com/awaistahir/moonhunter/internal/config"
	"github.com/awaistahir/moonhunter/internal/engine"
	"github.com/awaistahir/moonhunter/internal/store"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const testLocalities = "Județ,Localitate,administrare,Latitudine N,Longitudine E\n" +
	"Alba,Alba Iulia,Municipiu,46.0667,23.5833\n" +
	"Alba,Ciugud,comuna Ciugud,46.05,23.6\n"

func newTestServer(t *testing.T) (*Server, *app.App, http.Handler) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "localitati.csv"), []byte(testLocalities), 0o644); err != nil {
		t.Fatal(err)
	}

	v := viper.New()
	config.SetDefaults(v)
	v.Set("data_dir", dir)
	v.Set("localities_file", "localitati.csv")
	v.Set("illumination.source", config.SourceComputed)
	v.Set("scan.horizon_days", 2)
	cfg, err := config.Load(v)
	if err != nil {
		t.Fatal(err)
	}

	a, err := app.New(cfg, nil, app.WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("app.New() unexpected error: %v", err)
	}
	srv := NewServer(a)
	t.Cleanup(func() {
		srv.Shutdown()
		a.Close()
	})
	return srv, a, srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
}

func gpsScene(name string) map[string]interface{} {
	return map[string]interface{}{
		"name":          name,
		"location_type": "gps",
		"location_data": map[string]interface{}{"name": "Field", "lat": 46.0667, "lon": 23.5833},
		"azimuth_min":   0,
		"azimuth_max":   359.99,
		"elevation_min": 0,
		"elevation_max": 90,
		"time_start":    "00:00",
		"time_end":      "23:45",
	}
}

func TestStatus(t *testing.T) {
	_, _, h := newTestServer(t)
	rec := do(t, h, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]interface{}
	decode(t, rec, &body)
	if body["status"] != "ok" || body["illumination_source"] != "computed" || body["localities"] != float64(2) {
		t.Errorf("body = %v", body)
	}
}

func TestSceneCRUD(t *testing.T) {
	_, a, h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/api/scenes", gpsScene("Ridge"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created sceneResponse
	decode(t, rec, &created)
	if created.Warning != "" {
		t.Errorf("unexpected warning %q", created.Warning)
	}

	if rec := do(t, h, http.MethodPost, "/api/scenes", gpsScene("Ridge")); rec.Code != http.StatusConflict {
		t.Errorf("duplicate create status = %d, want 409", rec.Code)
	}

	bad := gpsScene("Bad")
	bad["elevation_min"] = 60
	bad["elevation_max"] = 10
	if rec := do(t, h, http.MethodPost, "/api/scenes", bad); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid create status = %d, want 400", rec.Code)
	}

	if rec := do(t, h, http.MethodGet, "/api/scenes/Ridge", nil); rec.Code != http.StatusOK {
		t.Errorf("get status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/scenes/Nowhere", nil); rec.Code != http.StatusNotFound {
		t.Errorf("get missing status = %d, want 404", rec.Code)
	}

	edited := gpsScene("Ridge East")
	edited["min_illumination"] = 50
	if rec := do(t, h, http.MethodPut, "/api/scenes/Ridge", edited); rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodPost, "/api/scenes/Ridge%20East/duplicate", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("duplicate status = %d", rec.Code)
	}
	var dup sceneResponse
	decode(t, rec, &dup)
	if dup.Scene == nil || dup.Scene.Name != "Ridge East (copy)" || dup.Scene.MinIllumination != 50 {
		t.Errorf("duplicate = %+v", dup.Scene)
	}

	rec = do(t, h, http.MethodGet, "/api/scenes", nil)
	var scenes []engine.Scene
	decode(t, rec, &scenes)
	if len(scenes) != 2 || scenes[0].Name != "Ridge East" {
		t.Errorf("scenes = %v", scenes)
	}

	if rec := do(t, h, http.MethodDelete, "/api/scenes/Ridge%20East", nil); rec.Code != http.StatusOK {
		t.Errorf("delete status = %d", rec.Code)
	}

	loaded, err := store.NewSceneFile(a.Config.ScenesFile, nil).Load()
	if err != nil || len(loaded) != 1 || loaded[0].Name != "Ridge East (copy)" {
		t.Errorf("persisted scenes = %v, err %v", loaded, err)
	}
}

func TestSceneResponsesConcurrentWithCommits(t *testing.T) {
	_, a, h := newTestServer(t)
	if rec := do(t, h, http.MethodPost, "/api/scenes", gpsScene("Ridge")); rec.Code != http.StatusCreated {
		t.Fatal(rec.Body.String())
	}
	opps := []engine.Opportunity{{Start: testNow.Add(time.Hour)}, {Start: testNow.Add(25 * time.Hour)}}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			a.Scenes.SetOpportunities("Ridge", opps)
			a.Scenes.Navigate("Ridge", 1)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			rec := do(t, h, http.MethodPost, "/api/scenes/Ridge/duplicate", nil)
			if rec.Code != http.StatusCreated {
				t.Errorf("duplicate status = %d", rec.Code)
				return
			}
			var dup sceneResponse
			if err := json.NewDecoder(rec.Body).Decode(&dup); err != nil {
				t.Errorf("decoding duplicate: %v", err)
				return
			}
			if dup.Scene == nil || !strings.HasPrefix(dup.Scene.Name, "Ridge (copy") {
				t.Errorf("duplicate = %+v", dup.Scene)
			}
		}
	}()
	wg.Wait()

	if n := a.Scenes.Len(); n != 6 {
		t.Errorf("got %d scenes, want 6", n)
	}
}

func TestCreateSceneFromLocalityTable(t *testing.T) {
	_, _, h := newTestServer(t)

	body := gpsScene("Citadel")
	body["location_type"] = "romania"
	body["location_data"] = map[string]interface{}{"judet": "alba", "localitate": "alba iulia"}
	rec := do(t, h, http.MethodPost, "/api/scenes", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp sceneResponse
	decode(t, rec, &resp)
	if resp.Scene.Location.Latitude != 46.0667 || resp.Scene.Location.Timezone != "Europe/Bucharest" {
		t.Errorf("location = %+v", resp.Scene.Location)
	}

	body["name"] = "Nowhere"
	body["location_data"] = map[string]interface{}{"judet": "Alba", "localitate": "Atlantis"}
	if rec := do(t, h, http.MethodPost, "/api/scenes", body); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown locality status = %d, want 400", rec.Code)
	}
}

func TestPersistenceFailureIsAWarning(t *testing.T) {
	_, a, h := newTestServer(t)

	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	a.SceneFile = store.NewSceneFile(filepath.Join(blocker, "scenes.json"), nil)

	rec := do(t, h, http.MethodPost, "/api/scenes", gpsScene("Ridge"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp sceneResponse
	decode(t, rec, &resp)
	if !strings.HasPrefix(resp.Warning, "scenes not saved") {
		t.Errorf("warning = %q", resp.Warning)
	}
	if a.Scenes.Len() != 1 {
		t.Error("in-memory collection should keep the scene")
	}
}

func waitForJob(t *testing.T, h http.Handler, id string) JobView {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		rec := do(t, h, http.MethodGet, "/api/jobs/"+id, nil)
		var view JobView
		decode(t, rec, &view)
		if view.State != JobRunning {
			return view
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return JobView{}
}

func TestScanJob(t *testing.T) {
	_, a, h := newTestServer(t)
	if rec := do(t, h, http.MethodPost, "/api/scenes", gpsScene("Ridge")); rec.Code != http.StatusCreated {
		t.Fatal(rec.Body.String())
	}

	rec := do(t, h, http.MethodPost, "/api/scenes/Ridge/scan", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("scan status = %d: %s", rec.Code, rec.Body.String())
	}
	var started JobView
	decode(t, rec, &started)
	if started.ID == "" || started.Scene != "Ridge" {
		t.Fatalf("job = %+v", started)
	}

	view := waitForJob(t, h, started.ID)
	if view.State != JobCompleted || view.Percent != 100 || view.Result == nil {
		t.Fatalf("job = %+v", view)
	}
	scene, _ := a.Scenes.Get("Ridge")
	if len(scene.Opportunities) != len(view.Result.Opportunities) || len(scene.Opportunities) == 0 {
		t.Errorf("scene has %d opportunities, job reported %d", len(scene.Opportunities), len(view.Result.Opportunities))
	}

	rec = do(t, h, http.MethodGet, "/api/opportunities/next", nil)
	var next []engine.NextOpportunity
	decode(t, rec, &next)
	if len(next) == 0 || next[0].Scene != "Ridge" {
		t.Errorf("next = %+v", next)
	}
}

func TestScanConflictAndMissing(t *testing.T) {
	_, a, h := newTestServer(t)
	if rec := do(t, h, http.MethodPost, "/api/scenes", gpsScene("Ridge")); rec.Code != http.StatusCreated {
		t.Fatal(rec.Body.String())
	}

	release, err := a.Guard.Acquire("Ridge")
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	if rec := do(t, h, http.MethodPost, "/api/scenes/Ridge/scan", nil); rec.Code != http.StatusConflict {
		t.Errorf("busy scan status = %d, want 409", rec.Code)
	}
	if rec := do(t, h, http.MethodPut, "/api/scenes/Ridge", gpsScene("Ridge")); rec.Code != http.StatusConflict {
		t.Errorf("edit during scan status = %d, want 409", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/api/scenes/Ridge", nil); rec.Code != http.StatusConflict {
		t.Errorf("delete during scan status = %d, want 409", rec.Code)
	}
	if _, err := a.Scenes.Get("Ridge"); err != nil {
		t.Errorf("scene removed during scan: %v", err)
	}
	if rec := do(t, h, http.MethodPost, "/api/scenes/Nowhere/scan", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing scene scan status = %d, want 404", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/jobs/unknown", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown job status = %d, want 404", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/api/jobs/unknown", nil); rec.Code != http.StatusNotFound {
		t.Errorf("cancel unknown job status = %d, want 404", rec.Code)
	}
}

func TestCancelledJobKeepsOpportunities(t *testing.T) {
	srv, a, h := newTestServer(t)
	if rec := do(t, h, http.MethodPost, "/api/scenes", gpsScene("Ridge")); rec.Code != http.StatusCreated {
		t.Fatal(rec.Body.String())
	}
	prior := []engine.Opportunity{{Start: testNow.Add(time.Hour), End: testNow.Add(2 * time.Hour)}}
	a.Scenes.SetOpportunities("Ridge", prior)

	run, err := a.StartScan("Ridge")
	if err != nil {
		t.Fatal(err)
	}
	blocked := make(chan struct{})
	job := srv.jobs.Start(srv.baseCtx, "Ridge", func(ctx context.Context, sink engine.ProgressSink) (engine.ScanResult, error) {
		<-blocked
		return run(ctx, sink)
	}, nil)

	if rec := do(t, h, http.MethodDelete, "/api/jobs/"+job.View().ID, nil); rec.Code != http.StatusAccepted {
		t.Fatalf("cancel status = %d", rec.Code)
	}
	close(blocked)

	view := waitForJob(t, h, job.View().ID)
	if view.State != JobCancelled {
		t.Errorf("state = %s, want cancelled", view.State)
	}
	scene, _ := a.Scenes.Get("Ridge")
	if len(scene.Opportunities) != 1 || !scene.Opportunities[0].Start.Equal(prior[0].Start) {
		t.Errorf("opportunities = %v, want prior results", scene.Opportunities)
	}
}

func TestNavigate(t *testing.T) {
	_, a, h := newTestServer(t)
	if rec := do(t, h, http.MethodPost, "/api/scenes", gpsScene("Ridge")); rec.Code != http.StatusCreated {
		t.Fatal(rec.Body.String())
	}
	a.Scenes.SetOpportunities("Ridge", []engine.Opportunity{
		{Start: testNow.Add(time.Hour)},
		{Start: testNow.Add(25 * time.Hour)},
	})

	tests := []struct {
		path  string
		moved bool
		index float64
	}{
		{"/api/scenes/Ridge/prev", false, 0},
		{"/api/scenes/Ridge/next", true, 1},
		{"/api/scenes/Ridge/next", false, 1},
		{"/api/scenes/Ridge/prev", true, 0},
	}
	for _, tt := range tests {
		rec := do(t, h, http.MethodPost, tt.path, nil)
		var body map[string]interface{}
		decode(t, rec, &body)
		if body["moved"] != tt.moved || body["current_opportunity_index"] != tt.index {
			t.Errorf("%s = %v, want moved %v index %v", tt.path, body, tt.moved, tt.index)
		}
	}
}

func TestMoonEndpoints(t *testing.T) {
	_, _, h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/api/distance?at=2024-01-25T17:54:00Z", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("distance status = %d", rec.Code)
	}
	var dist struct {
		Distance engine.DistanceRating `json:"distance"`
	}
	decode(t, rec, &dist)
	if dist.Distance.DistanceKm < 356000 || dist.Distance.DistanceKm > 407000 {
		t.Errorf("distance = %v", dist.Distance.DistanceKm)
	}

	if rec := do(t, h, http.MethodGet, "/api/distance?at=yesterday", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad at status = %d, want 400", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/moon?lat=46.07&lon=23.58", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("moon status = %d: %s", rec.Code, rec.Body.String())
	}
	var moon struct {
		Moon engine.MoonStatus `json:"moon"`
	}
	decode(t, rec, &moon)
	if moon.Moon.ClockPosition < 1 || moon.Moon.ClockPosition > 12 || moon.Moon.Illumination == nil {
		t.Errorf("moon = %+v", moon.Moon)
	}

	// default settings point at Alba Iulia from the table
	if rec := do(t, h, http.MethodGet, "/api/moon", nil); rec.Code != http.StatusOK {
		t.Errorf("active location moon status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/api/fullmoons", nil)
	var moons []engine.FullMoonRating
	decode(t, rec, &moons)
	if len(moons) != engine.FullMoonCount {
		t.Errorf("got %d full moons, want %d", len(moons), engine.FullMoonCount)
	}
}

func TestLocalitiesAndProfiles(t *testing.T) {
	_, _, h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/api/localities/Alba?hide_communes=true", nil)
	var names []string
	decode(t, rec, &names)
	if len(names) != 1 || names[0] != "Alba Iulia" {
		t.Errorf("localities = %v", names)
	}

	if rec := do(t, h, http.MethodPost, "/api/profiles", map[string]interface{}{"name": "Home", "lat": 44.43, "lon": 26.1}); rec.Code != http.StatusCreated {
		t.Fatalf("save profile status = %d: %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodPost, "/api/profiles", map[string]interface{}{"name": "Bad", "lat": 120, "lon": 0}); rec.Code != http.StatusBadRequest {
		t.Errorf("bad profile status = %d, want 400", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/profiles", nil)
	var profiles []store.Profile
	decode(t, rec, &profiles)
	if len(profiles) != 1 || profiles[0].Name != "Home" {
		t.Errorf("profiles = %v", profiles)
	}

	if rec := do(t, h, http.MethodDelete, "/api/profiles/Home", nil); rec.Code != http.StatusOK {
		t.Errorf("delete status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/api/profiles/Home", nil); rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, h := newTestServer(t)
	do(t, h, http.MethodGet, "/api/status", nil)

	rec := do(t, h, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `moonhunter_http_requests_total{method="GET",route="/api/status",status="200"} 1`) {
		t.Errorf("metrics missing request counter:\n%s", rec.Body.String())
	}
}
