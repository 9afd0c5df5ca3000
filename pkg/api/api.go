// Package api exposes the orchestrator and scheduler over a small JSON
// HTTP surface.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/osprey-intel/taskflow/pkg/engine"
	"github.com/osprey-intel/taskflow/pkg/orchestrator"
	"github.com/osprey-intel/taskflow/pkg/scheduler"
	"github.com/osprey-intel/taskflow/pkg/task"
)

type ApiServer struct {
	orch  orchestrator.Orchestrator
	sched scheduler.Scheduler
}

func NewApiServer(orch orchestrator.Orchestrator, sched scheduler.Scheduler) *ApiServer {
	return &ApiServer{orch: orch, sched: sched}
}

func setHttpError(w http.ResponseWriter, statusCode int, errMessage string) {
	w.WriteHeader(statusCode)
	w.Write([]byte(errMessage))
}

func writeJson(w http.ResponseWriter, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		setHttpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-type", "application/json")
	w.Write(body)
}

// POST /api/workflow
func (s *ApiServer) submitWorkflow(w http.ResponseWriter, req *http.Request) {
	var msg struct {
		Tasks []task.Spec `json:"tasks"`
	}
	if err := json.NewDecoder(req.Body).Decode(&msg); err != nil {
		setHttpError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.orch.SubmitWorkflow(msg.Tasks)
	if err != nil {
		setHttpError(w, http.StatusBadRequest, err.Error())
		return
	}

	response := struct {
		ID string `json:"id"`
	}{
		ID: id.String(),
	}
	writeJson(w, response)
}

// GET /api/workflow/<uuid>
func (s *ApiServer) getWorkflow(w http.ResponseWriter, req *http.Request) {
	idStr := strings.TrimPrefix(req.URL.Path, "/api/workflow/")
	id, err := uuid.Parse(idStr)
	if err != nil {
		setHttpError(w, http.StatusBadRequest, fmt.Sprintf("invalid uuid %s", idStr))
		return
	}

	status, err := s.orch.WorkflowStatus(id)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, engine.ErrWorkflowNotFound) {
			code = http.StatusNotFound
		}
		setHttpError(w, code, err.Error())
		return
	}
	writeJson(w, status)
}

// GET /api/workflows
func (s *ApiServer) listWorkflows(w http.ResponseWriter, req *http.Request) {
	writeJson(w, s.orch.ListWorkflows())
}

// GET /api/metrics
func (s *ApiServer) getMetrics(w http.ResponseWriter, req *http.Request) {
	writeJson(w, s.orch.Metrics())
}

type scheduleRequest struct {
	Tasks  []task.Spec `json:"tasks"`
	Type   string      `json:"type"`
	At     string      `json:"at,omitempty"`
	Every  string      `json:"every,omitempty"`
	Hour   *int        `json:"hour,omitempty"`
	Minute *int        `json:"minute,omitempty"`
}

func (r *scheduleRequest) when() (scheduler.When, error) {
	var when scheduler.When
	switch scheduler.Kind(r.Type) {
	case scheduler.KindOnce:
		at, err := time.Parse(time.RFC3339, r.At)
		if err != nil {
			return when, fmt.Errorf("invalid \"at\" timestamp: %w", err)
		}
		when.At = at
	case scheduler.KindInterval:
		every, err := time.ParseDuration(r.Every)
		if err != nil {
			return when, fmt.Errorf("invalid \"every\" duration: %w", err)
		}
		when.Every = every
	case scheduler.KindDaily:
		if r.Hour == nil || r.Minute == nil {
			return when, errors.New("daily needs \"hour\" and \"minute\"")
		}
		when.Hour = *r.Hour
		when.Minute = *r.Minute
	default:
		return when, fmt.Errorf("unknown type %q", r.Type)
	}
	return when, nil
}

// POST /api/schedule/<id>
func (s *ApiServer) addSchedule(w http.ResponseWriter, req *http.Request) {
	id := strings.TrimPrefix(req.URL.Path, "/api/schedule/")
	if id == "" || id == req.URL.Path {
		setHttpError(w, http.StatusBadRequest, "schedule id required")
		return
	}

	var msg scheduleRequest
	if err := json.NewDecoder(req.Body).Decode(&msg); err != nil {
		setHttpError(w, http.StatusBadRequest, err.Error())
		return
	}
	when, err := msg.when()
	if err != nil {
		setHttpError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.sched.Add(id, msg.Tasks, scheduler.Kind(msg.Type), when); err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, scheduler.ErrScheduleExists) {
			code = http.StatusConflict
		}
		setHttpError(w, code, err.Error())
		return
	}

	response := struct {
		ID string `json:"id"`
	}{
		ID: id,
	}
	writeJson(w, response)
}

// DELETE /api/schedule/<id>
func (s *ApiServer) removeSchedule(w http.ResponseWriter, req *http.Request) {
	id := strings.TrimPrefix(req.URL.Path, "/api/schedule/")
	if !s.sched.Remove(id) {
		setHttpError(w, http.StatusNotFound, fmt.Sprintf("no schedule %s", id))
	}
}

// GET /api/schedules
func (s *ApiServer) listSchedules(w http.ResponseWriter, req *http.Request) {
	writeJson(w, s.sched.Snapshot())
}

func (s *ApiServer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if !strings.HasPrefix(req.URL.Path, "/api/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	command := req.URL.Path[len("/api/"):]
	loc := strings.Index(command, "/")
	if loc != -1 {
		command = command[:loc]
	}
	switch command {
	case "workflows":
		if req.Method == http.MethodGet {
			s.listWorkflows(w, req)
		} else {
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case "workflow":
		switch req.Method {
		case http.MethodPost:
			s.submitWorkflow(w, req)
		case http.MethodGet:
			s.getWorkflow(w, req)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case "schedules":
		if req.Method == http.MethodGet {
			s.listSchedules(w, req)
		} else {
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case "schedule":
		switch req.Method {
		case http.MethodPost:
			s.addSchedule(w, req)
		case http.MethodDelete:
			s.removeSchedule(w, req)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case "metrics":
		if req.Method == http.MethodGet {
			s.getMetrics(w, req)
		} else {
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}
