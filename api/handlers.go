/*
handlers.go - HTTP API handlers for the scenario engine

PURPOSE:
  Exposes scenario simulation via REST. Handles HTTP request/response,
  JSON serialization, and delegates to the scenario domain.

ENDPOINTS:
  Scenarios:
    POST   /api/scenarios/run          Simulate a scenario, persist the run

  Runs:
    GET    /api/runs                   List stored runs
    GET    /api/runs/{id}              Run metadata, findings and events
    GET    /api/runs/{id}/table        Report table (selection, visibility,
                                       granularity via query parameters)
    GET    /api/runs/{id}/ledger       The run's journal, row per posting

  Health:
    GET    /healthz                    Liveness probe

ARCHITECTURE:
  Handler holds the store plus an in-memory cache of live RunResults.
  Tables are derived from the cached journal; the store keeps the
  authoritative audit record and serves the ledger after a restart.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Configuration errors, invalid input
  - 404: Unknown run
  - 422: A raising validation pass found issues
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/finbrick/scenario-engine/ledger"
	"github.com/finbrick/scenario-engine/scenario"
	"github.com/finbrick/scenario-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store *sqlite.Store

	mu   sync.RWMutex
	runs map[string]*scenario.RunResult
}

// NewHandler creates a new handler with the given store.
func NewHandler(store *sqlite.Store) *Handler {
	return &Handler{
		Store: store,
		runs:  make(map[string]*scenario.RunResult),
	}
}

// =============================================================================
// SCENARIO HANDLERS
// =============================================================================

// RunScenario simulates a submitted scenario and persists the run.
// POST /api/scenarios/run
func (h *Handler) RunScenario(w http.ResponseWriter, r *http.Request) {
	var req RunScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Bricks) == 0 {
		writeError(w, http.StatusBadRequest, "Scenario has no bricks", nil)
		return
	}

	s, err := req.toScenario()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid scenario", err)
		return
	}

	result, err := s.Run()
	if err != nil {
		status := http.StatusInternalServerError
		if ledger.IsConfig(err) {
			status = http.StatusBadRequest
		}
		writeError(w, status, "Simulation failed", err)
		return
	}

	mode := scenario.ValidationMode(req.ValidationMode)
	if mode == "" {
		mode = scenario.ModeWarn
	}
	issues, err := result.Validate(mode)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Run failed validation", err)
		return
	}

	runID, err := h.Store.SaveRun(r.Context(), result, issues)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to persist run", err)
		return
	}

	h.mu.Lock()
	h.runs[runID] = result
	h.mu.Unlock()

	events := make([]EventDTO, 0, len(result.Events))
	for _, ev := range result.Events {
		events = append(events, EventDTO{
			Month:  result.Axis.At(ev.Index).String(),
			Kind:   ev.Kind,
			Brick:  ev.Brick,
			Detail: ev.Detail,
		})
	}
	resp := RunResponse{
		RunID:      runID,
		ScenarioID: result.ScenarioID,
		Start:      result.Axis.Start.String(),
		Months:     result.Axis.N,
		Base:       string(result.Base),
		Issues:     toIssueDTOs(issues),
		Events:     events,
	}
	if table, err := result.Table(scenario.TableOptions{}); err == nil {
		t := toTableResponse(runID, table)
		resp.Table = &t
	}
	writeJSON(w, http.StatusCreated, resp)
}

// =============================================================================
// RUN HANDLERS
// =============================================================================

// ListRuns returns stored run metadata, optionally filtered by scenario.
// GET /api/runs?scenario_id=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListRuns(r.Context(), r.URL.Query().Get("scenario_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}
	dtos := make([]RunSummaryDTO, len(records))
	for i, rec := range records {
		dtos[i] = RunSummaryDTO{
			RunID:      rec.ID,
			ScenarioID: rec.ScenarioID,
			Start:      rec.Start.String(),
			Months:     rec.Months,
			Base:       string(rec.Base),
			CreatedAt:  rec.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRun returns one run's metadata, findings and events.
// GET /api/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	rec, err := h.Store.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Run not found", err)
		return
	}

	events := make([]EventDTO, 0, len(rec.Events))
	for _, ev := range rec.Events {
		events = append(events, EventDTO{Month: ev.Month, Kind: ev.Kind, Brick: ev.Brick, Detail: ev.Detail})
	}
	writeJSON(w, http.StatusOK, RunResponse{
		RunID:      rec.ID,
		ScenarioID: rec.ScenarioID,
		Start:      rec.Start.String(),
		Months:     rec.Months,
		Base:       string(rec.Base),
		Issues:     toIssueDTOs(rec.Issues),
		Events:     events,
	})
}

// GetTable derives a report table from a live run.
// GET /api/runs/{id}/table?selection=a,b&visibility=hide&granularity=month
func (h *Handler) GetTable(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	h.mu.RLock()
	result, ok := h.runs[runID]
	h.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Run not resident; re-run the scenario to derive tables", nil)
		return
	}

	opts := scenario.TableOptions{
		Visibility:  scenario.TransferVisibility(r.URL.Query().Get("visibility")),
		Granularity: scenario.Granularity(r.URL.Query().Get("granularity")),
	}
	if sel := r.URL.Query().Get("selection"); sel != "" {
		opts.Selection = strings.Split(sel, ",")
	}

	table, err := result.Table(opts)
	if err != nil {
		status := http.StatusInternalServerError
		if ledger.IsConfig(err) {
			status = http.StatusBadRequest
		}
		writeError(w, status, "Failed to build table", err)
		return
	}
	writeJSON(w, http.StatusOK, toTableResponse(runID, table))
}

// GetLedger serves a run's journal from the store, one row per posting.
// GET /api/runs/{id}/ledger
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if _, err := h.Store.GetRun(r.Context(), runID); err != nil {
		writeError(w, http.StatusNotFound, "Run not found", err)
		return
	}
	rows, err := h.Store.EntryRows(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerRowDTOs(rows))
}

// Healthz is the liveness probe.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
