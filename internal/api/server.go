// Package api serves moonhunter over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/awaistahir/moonhunter/internal/app"
	"github.com/awaistahir/moonhunter/internal/engine"
	"github.com/awaistahir/moonhunter/internal/locality"
	"github.com/awaistahir/moonhunter/internal/metrics"
	"github.com/awaistahir/moonhunter/internal/store"
)

const Version = "1.0.0"

// Default number of entries for /api/opportunities/next
const nextOpportunityCount = 3

type Server struct {
	app    *app.App
	jobs   *Jobs
	logger *slog.Logger

	// parent of every scan job; cancelled by Shutdown
	baseCtx    context.Context
	cancelJobs context.CancelFunc
}

func NewServer(a *app.App) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		app:        a,
		jobs:       NewJobs(),
		logger:     a.Logger,
		baseCtx:    ctx,
		cancelJobs: cancel,
	}
}

// Shutdown cancels running scans and waits for them to return
func (s *Server) Shutdown() {
	s.jobs.CancelAll()
	s.cancelJobs()
	s.jobs.Wait()
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.app.Metrics.Middleware)
	r.Use(middleware.Timeout(30 * time.Second))

	// CORS for local development
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Method(http.MethodGet, "/metrics", metrics.Handler(s.app.Registry))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Get("/scenes", s.handleListScenes)
		r.Post("/scenes", s.handleCreateScene)
		r.Get("/scenes/{name}", s.handleGetScene)
		r.Put("/scenes/{name}", s.handleUpdateScene)
		r.Delete("/scenes/{name}", s.handleDeleteScene)
		r.Post("/scenes/{name}/duplicate", s.handleDuplicateScene)
		r.Post("/scenes/{name}/scan", s.handleScanScene)
		r.Post("/scenes/{name}/next", s.handleNavigate(1))
		r.Post("/scenes/{name}/prev", s.handleNavigate(-1))

		r.Get("/jobs/{id}", s.handleGetJob)
		r.Delete("/jobs/{id}", s.handleCancelJob)

		r.Get("/opportunities/next", s.handleNextOpportunities)
		r.Get("/distance", s.handleDistance)
		r.Get("/fullmoons", s.handleFullMoons)
		r.Get("/moon", s.handleMoon)

		r.Get("/localities", s.handleCounties)
		r.Get("/localities/{county}", s.handleLocalities)

		r.Get("/profiles", s.handleListProfiles)
		r.Post("/profiles", s.handleSaveProfile)
		r.Delete("/profiles/{name}", s.handleDeleteProfile)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"size", ww.BytesWritten(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	localities := 0
	if s.app.Localities != nil {
		localities = s.app.Localities.Len()
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":              "ok",
		"version":             Version,
		"scenes":              s.app.Scenes.Len(),
		"illumination_source": s.app.Config.Illumination.Source,
		"horizon_days":        s.app.Scanner.Options().HorizonDays,
		"localities":          localities,
		"time":                s.app.Now().UTC(),
	})
}

// sceneResponse carries a persistence warning next to a mutated scene
type sceneResponse struct {
	Scene   *engine.Scene `json:"scene,omitempty"`
	Warning string        `json:"warning,omitempty"`
}

func (s *Server) saveWarning() string {
	if err := s.app.SaveScenes(); err != nil {
		return "scenes not saved: " + err.Error()
	}
	return ""
}

func (s *Server) handleListScenes(w http.ResponseWriter, r *http.Request) {
	scenes := []*engine.Scene{}
	for _, name := range s.app.Scenes.Names() {
		if sc, err := s.app.Scenes.Snapshot(name); err == nil {
			scenes = append(scenes, sc)
		}
	}
	respondJSON(w, http.StatusOK, scenes)
}

func (s *Server) handleGetScene(w http.ResponseWriter, r *http.Request) {
	scene, err := s.app.Scenes.Snapshot(chi.URLParam(r, "name"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, scene)
}

func (s *Server) decodeScene(r *http.Request) (*engine.Scene, error) {
	var scene engine.Scene
	if err := json.NewDecoder(r.Body).Decode(&scene); err != nil {
		return nil, err
	}
	if err := s.resolveLocation(r.Context(), &scene); err != nil {
		return nil, err
	}
	return &scene, nil
}

// resolveLocation fills table coordinates and names GPS spots
func (s *Server) resolveLocation(ctx context.Context, scene *engine.Scene) error {
	loc := &scene.Location
	switch scene.LocationType {
	case engine.LocationRomania:
		if loc.Latitude == 0 && loc.Longitude == 0 && loc.Locality != "" {
			resolved, err := s.app.LocalityLocation(loc.County, loc.Locality)
			if err != nil {
				return err
			}
			*loc = resolved
		}
	case engine.LocationProfile:
		if loc.Latitude == 0 && loc.Longitude == 0 && loc.Name != "" {
			p, err := s.app.Store.GetProfile(loc.Name)
			if err != nil {
				return err
			}
			*loc = p.Location()
		}
	case engine.LocationGPS:
		if loc.Name == "" {
			loc.Name = s.app.Geocoder.SuggestName(ctx, loc.Latitude, loc.Longitude)
		}
	case "":
		scene.LocationType = engine.LocationGPS
	}
	return nil
}

func (s *Server) handleCreateScene(w http.ResponseWriter, r *http.Request) {
	scene, err := s.decodeScene(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	scene.Opportunities = nil
	scene.CurrentOpportunityIndex = 0

	if err := s.app.Scenes.Add(scene); err != nil {
		respondEngineError(w, err)
		return
	}
	s.respondScene(w, http.StatusCreated, scene.Name)
}

func (s *Server) handleUpdateScene(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if s.app.Guard.Running(name) {
		respondError(w, http.StatusConflict, "scan in progress for "+name)
		return
	}

	scene, err := s.decodeScene(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if scene.Name == "" {
		scene.Name = name
	}

	if err := s.app.Scenes.Replace(name, scene); err != nil {
		respondEngineError(w, err)
		return
	}
	s.respondScene(w, http.StatusOK, scene.Name)
}

func (s *Server) handleDeleteScene(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if s.app.Guard.Running(name) {
		respondError(w, http.StatusConflict, "scan in progress for "+name)
		return
	}
	if err := s.app.Scenes.Remove(name); err != nil {
		respondEngineError(w, err)
		return
	}
	resp := map[string]string{"message": "deleted", "name": name}
	if warning := s.saveWarning(); warning != "" {
		resp["warning"] = warning
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDuplicateScene(w http.ResponseWriter, r *http.Request) {
	dup, err := s.app.Scenes.Duplicate(chi.URLParam(r, "name"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	s.respondScene(w, http.StatusCreated, dup.Name)
}

// respondScene saves the collection and answers with a copy of the named scene
func (s *Server) respondScene(w http.ResponseWriter, status int, name string) {
	warning := s.saveWarning()
	scene, err := s.app.Scenes.Snapshot(name)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, status, sceneResponse{Scene: scene, Warning: warning})
}

func (s *Server) handleNavigate(direction int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		moved, err := s.app.Scenes.Navigate(name, direction)
		if err != nil {
			respondEngineError(w, err)
			return
		}
		scene, err := s.app.Scenes.Snapshot(name)
		if err != nil {
			respondEngineError(w, err)
			return
		}
		resp := map[string]interface{}{
			"moved":                     moved,
			"current_opportunity_index": scene.CurrentOpportunityIndex,
		}
		if opp, ok := scene.CurrentOpportunity(); ok {
			resp["opportunity"] = opp
		}
		if moved {
			if warning := s.saveWarning(); warning != "" {
				resp["warning"] = warning
			}
		}
		respondJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleScanScene(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	run, err := s.app.StartScan(name)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	job := s.jobs.Start(s.baseCtx, name, run, func(result engine.ScanResult, err error) string {
		if err != nil {
			s.logger.Error("scan failed", "scene", name, "error", err)
			return ""
		}
		if result.Cancelled {
			return ""
		}
		return s.saveWarning()
	})
	respondJSON(w, http.StatusAccepted, job.View())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, job.View())
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	job.Cancel()
	respondJSON(w, http.StatusAccepted, job.View())
}

func (s *Server) handleNextOpportunities(w http.ResponseWriter, r *http.Request) {
	limit := nextOpportunityCount
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	next := s.app.NextOpportunities(r.Context(), limit)
	if next == nil {
		next = []engine.NextOpportunity{}
	}
	respondJSON(w, http.StatusOK, next)
}

// parseAt reads ?at= as RFC 3339, defaulting to now
func (s *Server) parseAt(r *http.Request) (time.Time, error) {
	v := r.URL.Query().Get("at")
	if v == "" {
		return s.app.Now(), nil
	}
	return time.Parse(time.RFC3339, v)
}

func (s *Server) handleDistance(w http.ResponseWriter, r *http.Request) {
	at, err := s.parseAt(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "at must be an RFC 3339 timestamp")
		return
	}
	rating, err := s.app.Distance(at)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"at":       at.UTC(),
		"distance": rating,
		"label":    rating.String(),
	})
}

func (s *Server) handleFullMoons(w http.ResponseWriter, r *http.Request) {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	ratings, err := s.app.FullMoons(refresh)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, ratings)
}

// handleMoon reports the Moon for ?lat=&lon=, or for the active location
func (s *Server) handleMoon(w http.ResponseWriter, r *http.Request) {
	at, err := s.parseAt(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "at must be an RFC 3339 timestamp")
		return
	}

	var loc engine.Location
	q := r.URL.Query()
	if q.Get("lat") != "" || q.Get("lon") != "" {
		lat, lon, err := engine.ParseGPS(q.Get("lat") + "," + q.Get("lon"))
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		loc = engine.Location{Latitude: lat, Longitude: lon}
	} else {
		_, loc, err = s.app.ActiveLocation()
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, "no active location: "+err.Error())
			return
		}
	}

	status, err := s.app.MoonStatus(r.Context(), loc, at)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"location": loc,
		"moon":     status,
	})
}

func (s *Server) handleCounties(w http.ResponseWriter, r *http.Request) {
	if s.app.Localities == nil {
		respondError(w, http.StatusServiceUnavailable, app.ErrNoLocalities.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.app.Localities.Counties())
}

func (s *Server) handleLocalities(w http.ResponseWriter, r *http.Request) {
	if s.app.Localities == nil {
		respondError(w, http.StatusServiceUnavailable, app.ErrNoLocalities.Error())
		return
	}
	hide, _ := strconv.ParseBool(r.URL.Query().Get("hide_communes"))
	names := s.app.Localities.Localities(chi.URLParam(r, "county"), hide)
	if names == nil {
		names = []string{}
	}
	respondJSON(w, http.StatusOK, names)
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.app.Store.ListProfiles()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, profiles)
}

func (s *Server) handleSaveProfile(w http.ResponseWriter, r *http.Request) {
	var p store.Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		respondError(w, http.StatusBadRequest, "profile name is required")
		return
	}
	if p.Latitude < -90 || p.Latitude > 90 || p.Longitude < -180 || p.Longitude > 180 {
		respondError(w, http.StatusBadRequest, "coordinates out of range")
		return
	}
	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			respondError(w, http.StatusBadRequest, "unknown timezone "+p.Timezone)
			return
		}
	}

	if err := s.app.Store.SaveProfile(p); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.app.Store.DeleteProfile(name); err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "deleted", "name": name})
}

// respondEngineError maps domain errors to status codes
func respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrSceneNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrSceneExists), errors.Is(err, engine.ErrScanInProgress):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrInvalidScene):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, locality.ErrNotFound), errors.Is(err, store.ErrProfileNotFound):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
