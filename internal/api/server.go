// Package api exposes routing and plan orchestration over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"flame_academy/internal/config"
	"flame_academy/internal/domain"
	"flame_academy/internal/orchestrator"
	"flame_academy/internal/plan"
	"flame_academy/internal/router"
	"flame_academy/internal/store/sqlite"
)

// Store is the read side of persistence the API serves. The sqlite store
// satisfies it.
type Store interface {
	ListRoutingDecisions(ctx context.Context, limit int) ([]domain.RoutingDecision, error)
	ListPlanDecisions(ctx context.Context, planID string, limit int) ([]domain.DecisionLog, error)
	ListPlans(ctx context.Context, state domain.PlanState) ([]sqlite.PlanRecord, error)
}

// Snapshots is the snapshot file gateway.
type Snapshots interface {
	WritePlan(ctx context.Context, snap plan.Snapshot, format plan.Format) (string, error)
	ReadPlan(ctx context.Context, relPath string) (plan.Snapshot, error)
	ListSnapshots() ([]string, error)
}

type Server struct {
	cfg          config.Config
	router       *router.Router
	orchestrator *orchestrator.Service
	store        Store
	files        Snapshots
	logger       *zap.Logger
}

// New builds the API. store and files may be nil; the endpoints that need
// them then answer 503.
func New(cfg config.Config, r *router.Router, orch *orchestrator.Service, store Store, files Snapshots, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:          cfg,
		router:       r,
		orchestrator: orch,
		store:        store,
		files:        files,
		logger:       logger,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/config", s.handleConfig)
	mux.HandleFunc("/agents", s.handleAgents)
	mux.HandleFunc("/route", s.handleRoute)
	mux.HandleFunc("/routing/history", s.handleRoutingHistory)
	mux.HandleFunc("/routing/stats", s.handleRoutingStats)
	mux.HandleFunc("/plans", s.handlePlans)
	mux.HandleFunc("/plans/", s.handlePlanByID)
	mux.HandleFunc("/stats", s.handleStats)
	return loggingMiddleware(s.logger, mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"path": s.cfg.Path,
		"raw":  s.cfg.Raw,
	})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.router.AvailableAgents())
}

type routeRequest struct {
	Text           string                `json:"text"`
	TaskType       domain.TaskType       `json:"task_type"`
	Learner        domain.LearnerContext `json:"learner"`
	PreferredAgent string                `json:"preferred_agent"`
	Dispatch       bool                  `json:"dispatch"`
}

type routeResponse struct {
	Decision domain.RoutingDecision `json:"decision"`
	Response *domain.Response       `json:"response,omitempty"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req routeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, errors.New("text is required"))
		return
	}
	if req.TaskType == "" {
		req.TaskType = s.defaultTaskType()
	}
	if !req.TaskType.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid task_type %q", req.TaskType))
		return
	}

	decision := s.router.Route(r.Context(), req.Text, req.TaskType, req.Learner, req.PreferredAgent)
	out := routeResponse{Decision: decision}
	if req.Dispatch {
		resp, err := s.router.Dispatch(r.Context(), decision, req.Text, req.TaskType, req.Learner)
		if err != nil {
			writeError(w, http.StatusBadGateway, fmt.Errorf("dispatch to %s: %w", decision.SelectedAgentID, err))
			return
		}
		out.Response = &resp
	}
	writeJSON(w, http.StatusOK, out)
}

// handleRoutingHistory serves the in-memory history, oldest first. With
// source=store it reads persisted decisions instead, newest first.
func (s *Server) handleRoutingHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := queryInt(r, "limit", 300)
	if r.URL.Query().Get("source") == "store" {
		if s.store == nil {
			writeError(w, http.StatusServiceUnavailable, errors.New("no store configured"))
			return
		}
		items, err := s.store.ListRoutingDecisions(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
		return
	}

	history := s.router.History()
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	if history == nil {
		history = []domain.RoutingDecision{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleRoutingStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.router.Stats())
}

type createPlanRequest struct {
	Name     string                `json:"name"`
	Topics   []string              `json:"topics"`
	Theme    string                `json:"theme"`
	Learner  domain.LearnerContext `json:"learner"`
	Mode     domain.ExecutionMode  `json:"mode"`
	TaskType domain.TaskType       `json:"task_type"`
}

func (s *Server) handlePlans(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if r.URL.Query().Get("source") == "store" {
			if s.store == nil {
				writeError(w, http.StatusServiceUnavailable, errors.New("no store configured"))
				return
			}
			records, err := s.store.ListPlans(r.Context(), domain.PlanState(r.URL.Query().Get("state")))
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, records)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"active":    s.orchestrator.ActivePlans(),
			"completed": s.orchestrator.CompletedPlans(),
		})
	case http.MethodPost:
		var req createPlanRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		var (
			p   *plan.Plan
			err error
		)
		switch {
		case strings.TrimSpace(req.Theme) != "":
			p, err = s.orchestrator.CreateCrossSubjectSession(r.Context(), req.Theme, req.Learner)
		case len(req.Topics) > 0:
			if strings.TrimSpace(req.Name) == "" {
				req.Name = "Learning Journey"
			}
			p, err = s.orchestrator.CreatePlan(r.Context(), orchestrator.CreatePlanInput{
				Name:     req.Name,
				Topics:   req.Topics,
				Learner:  req.Learner,
				Mode:     req.Mode,
				TaskType: req.TaskType,
			})
		default:
			err = errors.New("topics or theme is required")
		}
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		status, _ := s.orchestrator.PlanStatus(p.ID)
		writeJSON(w, http.StatusCreated, status)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type learnerRequest struct {
	Learner domain.LearnerContext `json:"learner"`
}

func (s *Server) handlePlanByID(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimPrefix(r.URL.Path, "/plans/")
	parts := strings.Split(trimmed, "/")
	planID := parts[0]
	if planID == "" {
		writeError(w, http.StatusBadRequest, errors.New("plan id is required"))
		return
	}

	if len(parts) == 1 {
		switch planID {
		case "import":
			s.handleImport(w, r)
			return
		case "snapshots":
			s.handleSnapshots(w, r)
			return
		}
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		status, ok := s.orchestrator.PlanStatus(planID)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", orchestrator.ErrPlanNotFound, planID))
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	action := parts[1]
	switch action {
	case "execute":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req learnerRequest
		if err := decodeOptionalBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		summary, err := s.orchestrator.Execute(r.Context(), planID, req.Learner, nil)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	case "step":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req learnerRequest
		if err := decodeOptionalBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if _, ok := s.orchestrator.PlanStatus(planID); !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", orchestrator.ErrPlanNotFound, planID))
			return
		}
		resp, ran := s.orchestrator.ExecuteNextStep(r.Context(), planID, req.Learner)
		status, _ := s.orchestrator.PlanStatus(planID)
		writeJSON(w, http.StatusOK, map[string]any{
			"ran":      ran,
			"response": resp,
			"progress": status.Progress,
		})
	case "summary":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		learner := domain.LearnerContext{Name: r.URL.Query().Get("name")}
		writeJSON(w, http.StatusOK, s.orchestrator.CombinedResponse(planID, learner))
	case "export":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if s.files == nil {
			writeError(w, http.StatusServiceUnavailable, errors.New("no export directory configured"))
			return
		}
		format, err := plan.ParseFormat(r.URL.Query().Get("format"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		status, ok := s.orchestrator.PlanStatus(planID)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", orchestrator.ErrPlanNotFound, planID))
			return
		}
		relPath, err := s.files.WritePlan(r.Context(), status.Plan, format)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"path": relPath, "format": format})
	case "decisions":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if s.store == nil {
			writeError(w, http.StatusServiceUnavailable, errors.New("no store configured"))
			return
		}
		items, err := s.store.ListPlanDecisions(r.Context(), planID, queryInt(r, "limit", 300))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown action: %s", action))
	}
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.files == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no export directory configured"))
		return
	}
	var req struct {
		Path string `json:"path"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeError(w, http.StatusBadRequest, errors.New("path is required"))
		return
	}
	snap, err := s.files.ReadPlan(r.Context(), req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := plan.FromSnapshot(snap)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.orchestrator.AddPlan(r.Context(), p); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	status, _ := s.orchestrator.PlanStatus(p.ID)
	writeJSON(w, http.StatusCreated, status)
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.files == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no export directory configured"))
		return
	}
	paths, err := s.files.ListSnapshots()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, paths)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.orchestrator.Stats())
}

func (s *Server) defaultTaskType() domain.TaskType {
	if tt := domain.TaskType(s.cfg.Orchestrator.DefaultTaskType); tt.Valid() {
		return tt
	}
	return domain.TaskTypeLesson
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrPlanNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrPlanBusy), errors.Is(err, orchestrator.ErrPlanExists):
		return http.StatusConflict
	case errors.Is(err, context.Canceled):
		// client went away mid-run; the plan stays active
		return 499
	}
	return http.StatusBadRequest
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

// decodeOptionalBody accepts an empty body.
func decodeOptionalBody(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return decodeBody(r, dst)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
