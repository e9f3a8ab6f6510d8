package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/chains"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/dex"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/executor"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/metrics"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/models"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/planner"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/tracker"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/upstream"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/trace"
)

// maxBodyBytes caps request bodies, a quote for ten chains is a few kilobytes
const maxBodyBytes = 1 << 20

// Planner prices consolidation requests
type Planner interface {
	Quote(ctx context.Context, req models.ConsolidationQuoteRequest) (*models.ConsolidationPlan, error)
	Simulate(ctx context.Context, req models.ConsolidationQuoteRequest) (*models.Simulation, error)
}

// Executor runs quoted plans
type Executor interface {
	ExecuteJob(ctx context.Context, job executor.Job) (*executor.Run, error)
	Status(consolidationID string) (models.ConsolidationStatusDetail, error)
}

// BridgeLister lists the registered bridge providers
type BridgeLister interface {
	Names() []string
}

// DexLister lists the registered dex aggregators
type DexLister interface {
	Aggregators() []dex.Aggregator
}

// Dependencies are the components behind the API
type Dependencies struct {
	Planner  Planner
	Executor Executor
	Tracker  *tracker.Tracker
	Bridges  BridgeLister
	Dexes    DexLister
	Metrics  *metrics.Collector
}

type api struct {
	// runCtx parents every consolidation started through the API
	runCtx   context.Context
	deps     Dependencies
	validate *validator.Validate
}

func newAPI(ctx context.Context, deps Dependencies) *api {
	return &api{runCtx: ctx, deps: deps, validate: validator.New()}
}

func (a *api) routes(r chi.Router) {
	r.Post("/consolidations/quote", a.quote)
	r.Post("/consolidations/simulate", a.simulate)
	r.Post("/consolidations/{planID}/execute", a.execute)
	r.Get("/consolidations/{consolidationID}", a.status)
	r.Get("/consolidations/{consolidationID}/events", a.events)
	r.Get("/users/{address}/history", a.history)
	r.Get("/providers", a.providers)
}

// ExecuteRequest is the body of the execute endpoint
type ExecuteRequest struct {
	// UserAddress, when set, must match the address the plan was quoted for
	UserAddress string                  `json:"userAddress" validate:"omitempty,min=32,max=66"`
	Signatures  map[chains.Chain]string `json:"signatures" validate:"required,min=1,dive,required"`
}

// ExecuteResponse acknowledges a started consolidation
type ExecuteResponse struct {
	ConsolidationID string                     `json:"consolidationId"`
	PlanID          string                     `json:"planId"`
	Status          models.ConsolidationStatus `json:"status"`
}

// HistoryResponse is one page of a user's consolidations, newest first
type HistoryResponse struct {
	UserAddress    string                             `json:"userAddress"`
	Offset         int                                `json:"offset"`
	Limit          int                                `json:"limit"`
	Consolidations []models.ConsolidationStatusDetail `json:"consolidations"`
}

// ProviderInfo describes one bridge provider or dex aggregator
type ProviderInfo struct {
	Name   string         `json:"name"`
	Chains []chains.Chain `json:"chains,omitempty"`
}

// ProvidersResponse lists the upstream providers in use
type ProvidersResponse struct {
	Bridges []ProviderInfo `json:"bridges"`
	Dexes   []ProviderInfo `json:"dexes"`
}

type page struct {
	Offset int `validate:"gte=0"`
	Limit  int `validate:"gte=0,lte=100"`
}

type errorResponse struct {
	Error           string                `json:"error"`
	ConsolidationID string                `json:"consolidationId,omitempty"`
	Skipped         []models.SkippedChain `json:"skipped,omitempty"`
	Warnings        []string              `json:"warnings,omitempty"`
}

func (a *api) quote(w http.ResponseWriter, r *http.Request) {
	var req models.ConsolidationQuoteRequest
	if !a.decode(w, r, &req) {
		return
	}
	plan, err := a.deps.Planner.Quote(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.deps.Tracker.StorePlan(r.Context(), plan); err != nil {
		a.fail(w, r, fmt.Errorf("failed to store plan %s: %w", plan.ID, err))
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (a *api) simulate(w http.ResponseWriter, r *http.Request) {
	var req models.ConsolidationQuoteRequest
	if !a.decode(w, r, &req) {
		return
	}
	sim, err := a.deps.Planner.Simulate(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sim)
}

func (a *api) execute(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planID")
	if !models.IsPlanID(planID) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed plan id %q", planID))
		return
	}
	var req ExecuteRequest
	if !a.decode(w, r, &req) {
		return
	}

	plan, err := a.deps.Tracker.Plan(r.Context(), planID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if req.UserAddress != "" && !chains.SameAddress(req.UserAddress, plan.UserAddress) {
		writeError(w, http.StatusForbidden, "plan was quoted for another address")
		return
	}

	// the run outlives the request but keeps its trace
	ctx := trace.ContextWithSpan(a.runCtx, trace.SpanFromContext(r.Context()))
	run, err := a.deps.Executor.ExecuteJob(ctx, executor.NewJob("", plan, req.Signatures))
	var stale *executor.StaleQuoteError
	if errors.As(err, &stale) {
		if err := a.deps.Tracker.RecordExpired(context.WithoutCancel(r.Context()), stale.Status); err != nil {
			Logger.Error().Err(err).Str("plan", plan.ID).Msg("Failed to record expired consolidation")
		} else {
			w.Header().Set("Location", "/v1/consolidations/"+stale.Status.ConsolidationID)
		}
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}

	go func() {
		if err := a.deps.Tracker.Consume(context.WithoutCancel(a.runCtx), run); err != nil {
			Logger.Error().Err(err).Str("consolidation", run.ID()).Msg("Failed to record consolidation")
		}
	}()

	w.Header().Set("Location", "/v1/consolidations/"+run.ID())
	writeJSON(w, http.StatusAccepted, ExecuteResponse{
		ConsolidationID: run.ID(),
		PlanID:          plan.ID,
		Status:          run.Snapshot().Status,
	})
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	status, err := a.lookup(r.Context(), chi.URLParam(r, "consolidationID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *api) events(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "consolidationID")
	limit, err := a.queryInt(r, "limit")
	if err == nil {
		err = a.validate.Var(limit, "gte=0,lte=100")
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be between 0 and 100")
		return
	}
	if _, err := a.lookup(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	events, err := a.deps.Tracker.Events(r.Context(), id, limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (a *api) history(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if !validUserAddress(address) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid address %q", address))
		return
	}
	var p page
	var err error
	if p.Offset, err = a.queryInt(r, "offset"); err == nil {
		p.Limit, err = a.queryInt(r, "limit")
	}
	if err == nil {
		err = a.validate.Struct(p)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "offset must not be negative and limit must be between 0 and 100")
		return
	}

	consolidations, err := a.deps.Tracker.History(r.Context(), address, p.Offset, p.Limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if p.Limit == 0 {
		p.Limit = tracker.DefaultHistoryLimit
	}
	writeJSON(w, http.StatusOK, HistoryResponse{
		UserAddress:    address,
		Offset:         p.Offset,
		Limit:          p.Limit,
		Consolidations: consolidations,
	})
}

func (a *api) providers(w http.ResponseWriter, r *http.Request) {
	resp := ProvidersResponse{Bridges: []ProviderInfo{}, Dexes: []ProviderInfo{}}
	if a.deps.Bridges != nil {
		for _, name := range a.deps.Bridges.Names() {
			resp.Bridges = append(resp.Bridges, ProviderInfo{Name: name})
		}
	}
	if a.deps.Dexes != nil {
		for _, agg := range a.deps.Dexes.Aggregators() {
			info := ProviderInfo{Name: agg.Name()}
			for _, c := range chains.All() {
				if agg.SupportsChain(c) {
					info.Chains = append(info.Chains, c)
				}
			}
			resp.Dexes = append(resp.Dexes, info)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// lookup prefers the live run and falls back to the stored status
func (a *api) lookup(ctx context.Context, id string) (models.ConsolidationStatusDetail, error) {
	if !models.IsConsolidationID(id) {
		return models.ConsolidationStatusDetail{}, fmt.Errorf("%w: malformed consolidation id %q", errBadRequest, id)
	}
	status, err := a.deps.Executor.Status(id)
	if err == nil {
		return status, nil
	}
	if !errors.Is(err, executor.ErrUnknownConsolidation) {
		return status, err
	}
	return a.deps.Tracker.Status(ctx, id)
}

var errBadRequest = errors.New("bad request")

func (a *api) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := a.validate.Struct(v); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			// v is not a struct, nothing to validate
			return true
		}
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return false
	}
	return true
}

func (a *api) queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// fail maps domain errors to http statuses
func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	event := Logger.Debug()
	if status >= http.StatusInternalServerError {
		event = Logger.Error()
	}
	event.Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request failed")

	resp := errorResponse{Error: err.Error()}
	var noRoutes *planner.NoViableRoutesError
	if errors.As(err, &noRoutes) {
		resp.Skipped = noRoutes.Skipped
		resp.Warnings = noRoutes.Warnings
	}
	var stale *executor.StaleQuoteError
	if errors.As(err, &stale) {
		resp.ConsolidationID = stale.Status.ConsolidationID
	}
	if status == http.StatusInternalServerError {
		resp.Error = "internal server error"
	}
	writeJSON(w, status, resp)
}

func statusOf(err error) int {
	var apiErr *upstream.APIError
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, planner.ErrInvalidRequest),
		errors.Is(err, executor.ErrInvalidPlan):
		return http.StatusBadRequest
	case errors.Is(err, tracker.ErrNotFound),
		errors.Is(err, executor.ErrUnknownConsolidation):
		return http.StatusNotFound
	case errors.Is(err, executor.ErrAlreadyExecuted):
		return http.StatusConflict
	case errors.Is(err, executor.ErrQuoteStale),
		errors.Is(err, tracker.ErrPlanExpired):
		return http.StatusGone
	case errors.Is(err, planner.ErrNoViableRoutes):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// validUserAddress accepts an address of any supported chain
func validUserAddress(address string) bool {
	address = strings.TrimSpace(address)
	for _, c := range chains.All() {
		if chains.ValidAddress(c, address) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		Logger.Warn().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
