package controlplane

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/vibesurf-ai/VibeSurf-sub003/internal/models"
	"github.com/vibesurf-ai/VibeSurf-sub003/internal/store"
)

// Version is reported by the health endpoint.
var Version = "0.1.0"

// Server provides the HTTP API for the orchestrator daemon.
type Server struct {
	service *Service
	store   *store.Store
	addr    string
	server  *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, st *store.Store, addr string) *Server {
	return &Server{
		service: service,
		store:   st,
		addr:    addr,
	}
}

// Start starts the HTTP server. Blocks until the listener fails or
// Shutdown is called.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)

	mux.HandleFunc("/tasks", s.handleTasks)
	mux.HandleFunc("/tasks/", s.handleTaskByID)

	mux.HandleFunc("/schedules", s.handleSchedules)
	mux.HandleFunc("/schedules/", s.handleScheduleByID)

	mux.HandleFunc("/profiles", s.handleProfiles)
	mux.HandleFunc("/profiles/", s.handleProfileByRef)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	log.Printf("Starting orchestrator daemon on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		log.Printf("Control plane: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// HealthResponse is the health endpoint payload.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	health := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if err := s.service.Health(ctx); err != nil {
		health.OK = false
		health.DB = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// --- Task Handlers ---

type submitTaskRequest struct {
	SessionID   string            `json:"session_id"`
	Description string            `json:"description"`
	ProfileRef  string            `json:"profile_ref"`
	Metadata    map[string]string `json:"metadata"`
}

// handleTasks handles POST /tasks and GET /tasks.
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req submitTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		task, err := s.service.SubmitTask(req.SessionID, req.Description, req.ProfileRef, req.Metadata)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, task)
	case http.MethodGet:
		tasks, err := s.service.ListTasks(r.URL.Query().Get("status"), r.URL.Query().Get("session"))
		if err != nil {
			writeError(w, err)
			return
		}
		if tasks == nil {
			tasks = []models.Task{}
		}
		writeJSON(w, http.StatusOK, tasks)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleTaskByID handles /tasks/{id} and /tasks/{id}/{action}.
func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/tasks/")
	parts := strings.Split(path, "/")

	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "task id required", http.StatusBadRequest)
		return
	}

	taskID := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.respondTask(w)(s.service.GetTask(taskID))
	case action == "start" && r.Method == http.MethodPost:
		s.respondTask(w)(s.service.StartTask(taskID))
	case action == "pause" && r.Method == http.MethodPost:
		s.respondTask(w)(s.service.PauseTask(taskID))
	case action == "resume" && r.Method == http.MethodPost:
		s.respondTask(w)(s.service.ResumeTask(taskID))
	case action == "stop" && r.Method == http.MethodPost:
		s.respondTask(w)(s.service.StopTask(taskID))
	case action == "result" && r.Method == http.MethodGet:
		result, err := s.service.GetTaskResult(taskID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case action == "history" && r.Method == http.MethodGet:
		history, err := s.service.TaskHistory(taskID)
		if err != nil {
			writeError(w, err)
			return
		}
		if history == nil {
			history = []models.TaskTransition{}
		}
		writeJSON(w, http.StatusOK, history)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) respondTask(w http.ResponseWriter) func(*models.Task, error) {
	return func(task *models.Task, err error) {
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, task)
	}
}

// --- Schedule Handlers ---

type createScheduleRequest struct {
	FlowRef        string `json:"flow_ref"`
	CronExpression string `json:"cron_expression"`
}

// handleSchedules handles POST /schedules and GET /schedules.
func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req createScheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		sched, err := s.service.CreateSchedule(req.FlowRef, req.CronExpression)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sched)
	case http.MethodGet:
		schedules, err := s.service.ListSchedules()
		if err != nil {
			writeError(w, err)
			return
		}
		if schedules == nil {
			schedules = []models.Schedule{}
		}
		writeJSON(w, http.StatusOK, schedules)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleScheduleByID handles /schedules/{id} and /schedules/{id}/{action}.
func (s *Server) handleScheduleByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/schedules/")
	parts := strings.Split(path, "/")

	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "schedule id required", http.StatusBadRequest)
		return
	}

	schedID := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	respond := func(sched *models.Schedule, err error) {
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sched)
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		respond(s.service.GetSchedule(schedID))
	case action == "" && r.Method == http.MethodDelete:
		if err := s.service.DeleteSchedule(schedID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	case action == "enable" && r.Method == http.MethodPost:
		respond(s.service.EnableSchedule(schedID))
	case action == "disable" && r.Method == http.MethodPost:
		respond(s.service.DisableSchedule(schedID))
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// --- Profile Handlers ---

type createProfileRequest struct {
	Type            string          `json:"type"`
	Name            string          `json:"name"`
	Config          json.RawMessage `json:"config"`
	EncryptedSecret string          `json:"encrypted_secret"`
	IsDefault       bool            `json:"is_default"`
}

// handleProfiles handles POST /profiles and GET /profiles.
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req createProfileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		p, err := s.service.CreateProfile(models.ProfileType(req.Type), req.Name, req.Config, req.EncryptedSecret, req.IsDefault)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	case http.MethodGet:
		ptype := models.ProfileType(r.URL.Query().Get("type"))
		activeOnly := r.URL.Query().Get("active") == "true"
		profiles, err := s.service.ListProfiles(ptype, activeOnly)
		if err != nil {
			writeError(w, err)
			return
		}
		if profiles == nil {
			profiles = []models.Profile{}
		}
		writeJSON(w, http.StatusOK, profiles)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type updateProfileRequest struct {
	Config          json.RawMessage `json:"config"`
	EncryptedSecret string          `json:"encrypted_secret"`
	IsActive        bool            `json:"is_active"`
}

// handleProfileByRef handles /profiles/{type}/{name} and
// /profiles/{type}/{name}/default.
func (s *Server) handleProfileByRef(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/profiles/")
	parts := strings.Split(path, "/")

	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		http.Error(w, "profile type and name required", http.StatusBadRequest)
		return
	}

	ptype := models.ProfileType(parts[0])
	name := parts[1]
	action := ""
	if len(parts) > 2 {
		action = parts[2]
	}

	respond := func(p *models.Profile, err error) {
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		respond(s.service.GetProfile(ptype, name))
	case action == "" && r.Method == http.MethodPut:
		var req updateProfileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		respond(s.service.UpdateProfile(ptype, name, req.Config, req.EncryptedSecret, req.IsActive))
	case action == "" && r.Method == http.MethodDelete:
		if err := s.service.DeleteProfile(ptype, name); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	case action == "default" && r.Method == http.MethodPost:
		respond(s.service.SetDefaultProfile(ptype, name))
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}
