package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/trogers1052/oil-risk-service/internal/backtest"
	"github.com/trogers1052/oil-risk-service/internal/engine"
	"github.com/trogers1052/oil-risk-service/internal/models"
	"github.com/trogers1052/oil-risk-service/internal/riskerr"
)

const dateLayout = "2006-01-02"

// RiskService runs and serves risk calculations
type RiskService interface {
	Run(ctx context.Context, asOf time.Time) (*models.RiskReport, error)
	Latest(ctx context.Context, asOf time.Time) (*models.RiskReport, error)
	Backtest(ctx context.Context, req engine.BacktestRequest) (*models.BacktestReport, error)
	Acknowledge(ctx context.Context, id, resolvedBy, resolution string) (*models.LimitBreach, error)
	Breaches(ctx context.Context, openOnly bool) ([]models.LimitBreach, error)
}

// LimitStore persists risk limits
type LimitStore interface {
	GetRiskLimits(ctx context.Context, enabledOnly bool) ([]models.RiskLimit, error)
	GetRiskLimitByID(ctx context.Context, id int) (*models.RiskLimit, error)
	CreateRiskLimit(ctx context.Context, l *models.RiskLimit) error
	UpdateRiskLimit(ctx context.Context, l *models.RiskLimit) error
}

// ScenarioStore persists the stress catalogue
type ScenarioStore interface {
	GetStressScenarios(ctx context.Context, enabledOnly bool) ([]models.StressScenario, error)
	GetStressScenarioByID(ctx context.Context, id int) (*models.StressScenario, error)
	CreateStressScenario(ctx context.Context, s *models.StressScenario) error
	UpdateStressScenario(ctx context.Context, s *models.StressScenario) error
	DeleteStressScenario(ctx context.Context, id int) error
}

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping() error
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	risk      RiskService
	limits    LimitStore
	scenarios ScenarioStore
	db        Pinger
	logger    *zap.Logger
	now       func() time.Time
}

// NewHandler creates a new Handler. db may be nil.
func NewHandler(risk RiskService, limits LimitStore, scenarios ScenarioStore, db Pinger, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		risk:      risk,
		limits:    limits,
		scenarios: scenarios,
		db:        db,
		logger:    logger.Named("api"),
		now:       time.Now,
	}
}

// RunRisk handles POST /risk/run
func (h *Handler) RunRisk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AsOf string `json:"as_of"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	asOf, err := h.parseDate(req.AsOf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	report, err := h.risk.Run(r.Context(), asOf)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// report loads the report for the as_of query parameter, writing the error response on failure
func (h *Handler) report(w http.ResponseWriter, r *http.Request) (*models.RiskReport, bool) {
	asOf, err := h.parseDate(r.URL.Query().Get("as_of"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	report, err := h.risk.Latest(r.Context(), asOf)
	if err != nil {
		h.respondError(w, err)
		return nil, false
	}
	return report, true
}

// GetReport handles GET /risk/report
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	if report, ok := h.report(w, r); ok {
		respondJSON(w, http.StatusOK, report)
	}
}

// GetSummary handles GET /risk/summary
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	if report, ok := h.report(w, r); ok {
		respondJSON(w, http.StatusOK, report.Summary())
	}
}

// GetPositions handles GET /risk/positions
func (h *Handler) GetPositions(w http.ResponseWriter, r *http.Request) {
	if report, ok := h.report(w, r); ok {
		respondJSON(w, http.StatusOK, report.Positions)
	}
}

// GetExposure handles GET /risk/exposure
func (h *Handler) GetExposure(w http.ResponseWriter, r *http.Request) {
	if report, ok := h.report(w, r); ok {
		respondJSON(w, http.StatusOK, report.Exposure)
	}
}

// GetHedges handles GET /risk/hedges
func (h *Handler) GetHedges(w http.ResponseWriter, r *http.Request) {
	if report, ok := h.report(w, r); ok {
		respondJSON(w, http.StatusOK, report.HedgeReport())
	}
}

// GetUnhedged handles GET /risk/unhedged
func (h *Handler) GetUnhedged(w http.ResponseWriter, r *http.Request) {
	if report, ok := h.report(w, r); ok {
		respondJSON(w, http.StatusOK, report.Unhedged)
	}
}

// GetTradeGroups handles GET /risk/trade-groups
func (h *Handler) GetTradeGroups(w http.ResponseWriter, r *http.Request) {
	if report, ok := h.report(w, r); ok {
		respondJSON(w, http.StatusOK, report.TradeGroupBreakdown())
	}
}

// GetStress handles GET /risk/stress
func (h *Handler) GetStress(w http.ResponseWriter, r *http.Request) {
	if report, ok := h.report(w, r); ok {
		respondJSON(w, http.StatusOK, report.Stress)
	}
}

// GetUtilization handles GET /limits/utilization
func (h *Handler) GetUtilization(w http.ResponseWriter, r *http.Request) {
	if report, ok := h.report(w, r); ok {
		respondJSON(w, http.StatusOK, report.Limits)
	}
}

// RunBacktest handles POST /risk/backtest
func (h *Handler) RunBacktest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scope  string `json:"scope"`
		From   string `json:"from"`
		To     string `json:"to"`
		Source string `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.From == "" || req.To == "" {
		http.Error(w, "from and to are required", http.StatusBadRequest)
		return
	}
	from, err := time.Parse(dateLayout, req.From)
	if err != nil {
		http.Error(w, "invalid from date", http.StatusBadRequest)
		return
	}
	to, err := time.Parse(dateLayout, req.To)
	if err != nil {
		http.Error(w, "invalid to date", http.StatusBadRequest)
		return
	}
	if !from.Before(to) {
		http.Error(w, "from must be before to", http.StatusBadRequest)
		return
	}
	switch req.Source {
	case "":
		req.Source = backtest.SourceRecomputed
	case backtest.SourceRecomputed, backtest.SourceSnapshots:
	default:
		http.Error(w, "source must be RECOMPUTED or SNAPSHOTS", http.StatusBadRequest)
		return
	}
	if req.Scope != "" {
		if kind, _ := models.ParseScope(req.Scope); kind == "" {
			http.Error(w, "invalid scope", http.StatusBadRequest)
			return
		}
	}

	report, err := h.risk.Backtest(r.Context(), engine.BacktestRequest{
		Scope: req.Scope, From: from, To: to, Source: req.Source,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// GetLimits handles GET /limits
func (h *Handler) GetLimits(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled") == "true"
	limits, err := h.limits.GetRiskLimits(r.Context(), enabledOnly)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if limits == nil {
		limits = []models.RiskLimit{}
	}
	respondJSON(w, http.StatusOK, limits)
}

// CreateLimit handles POST /limits
func (h *Handler) CreateLimit(w http.ResponseWriter, r *http.Request) {
	var limit models.RiskLimit
	if err := json.NewDecoder(r.Body).Decode(&limit); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := limit.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.limits.CreateRiskLimit(r.Context(), &limit); err != nil {
		h.respondError(w, err)
		return
	}
	h.logger.Info("risk limit created",
		zap.Int("id", limit.ID), zap.String("type", limit.LimitType), zap.String("scope", limit.Scope))
	respondJSON(w, http.StatusCreated, limit)
}

// UpdateLimit handles PUT /limits/{id}
func (h *Handler) UpdateLimit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var limit models.RiskLimit
	if err := json.NewDecoder(r.Body).Decode(&limit); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	limit.ID = id
	if err := limit.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.limits.UpdateRiskLimit(r.Context(), &limit); err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, limit)
}

// GetBreaches handles GET /breaches
func (h *Handler) GetBreaches(w http.ResponseWriter, r *http.Request) {
	openOnly := r.URL.Query().Get("open") == "true"
	breaches, err := h.risk.Breaches(r.Context(), openOnly)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if breaches == nil {
		breaches = []models.LimitBreach{}
	}
	respondJSON(w, http.StatusOK, breaches)
}

// AcknowledgeBreach handles POST /breaches/{id}/acknowledge
func (h *Handler) AcknowledgeBreach(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		ResolvedBy string `json:"resolved_by"`
		Resolution string `json:"resolution"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	breach, err := h.risk.Acknowledge(r.Context(), id, req.ResolvedBy, req.Resolution)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, breach)
}

// GetScenarios handles GET /scenarios
func (h *Handler) GetScenarios(w http.ResponseWriter, r *http.Request) {
	scenarios, err := h.scenarios.GetStressScenarios(r.Context(), r.URL.Query().Get("enabled") == "true")
	if err != nil {
		h.respondError(w, err)
		return
	}
	if scenarios == nil {
		scenarios = []models.StressScenario{}
	}
	respondJSON(w, http.StatusOK, scenarios)
}

// GetScenario handles GET /scenarios/{id}
func (h *Handler) GetScenario(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	scenario, err := h.scenarios.GetStressScenarioByID(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, scenario)
}

// CreateScenario handles POST /scenarios
func (h *Handler) CreateScenario(w http.ResponseWriter, r *http.Request) {
	var scenario models.StressScenario
	if err := json.NewDecoder(r.Body).Decode(&scenario); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := scenario.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.scenarios.CreateStressScenario(r.Context(), &scenario); err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, scenario)
}

// UpdateScenario handles PUT /scenarios/{id}
func (h *Handler) UpdateScenario(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var scenario models.StressScenario
	if err := json.NewDecoder(r.Body).Decode(&scenario); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	scenario.ID = id
	if err := scenario.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.scenarios.UpdateStressScenario(r.Context(), &scenario); err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, scenario)
}

// DeleteScenario handles DELETE /scenarios/{id}
func (h *Handler) DeleteScenario(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.scenarios.DeleteStressScenario(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// parseDate reads an as-of date, defaulting to today
func (h *Handler) parseDate(s string) (time.Time, error) {
	if s == "" {
		return h.now().UTC().Truncate(24 * time.Hour), nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, errors.New("as_of must be YYYY-MM-DD")
	}
	return t, nil
}

func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil || id <= 0 {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, riskerr.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, riskerr.ErrResolutionRequired):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, riskerr.ErrBreachAlreadyResolved):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("request failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
