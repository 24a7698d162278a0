package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethpandaops/healoor/pkg/healing"
	"github.com/ethpandaops/healoor/pkg/runner"
	"github.com/ethpandaops/healoor/pkg/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Error codes surfaced to clients alongside the message.
const (
	codeInvalidState     = "INVALID_STATE"
	codeExecutorNotFound = "EXECUTOR_NOT_FOUND"
)

// errorResponse is a standard error payload. Code and Status are set
// for invalid-state and executor-inconsistency errors so callers can
// distinguish them from plain validation failures.
type errorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Status string `json:"status,omitempty"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// writeDomainError maps domain errors to HTTP responses: not-found to
// 404, invalid-state to 400 with the current status, everything else
// to 500.
func (s *server) writeDomainError(w http.ResponseWriter, err error) {
	var (
		healingState *healing.InvalidStateError
		runState     *runner.InvalidStateError
	)

	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.As(err, &healingState):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  err.Error(),
			Code:   codeInvalidState,
			Status: healingState.Current,
		})
	case errors.As(err, &runState):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  err.Error(),
			Code:   codeInvalidState,
			Status: runState.Current,
		})
	default:
		s.log.WithError(err).Error("Request failed")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{Error: "internal error"})
	}
}

// --- Public handlers ---

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Scenario handlers ---

type createScenarioRequest struct {
	Name  string       `json:"name"`
	Steps []store.Step `json:"steps"`
}

// handleCreateScenario stores a new scenario. Locator priorities are
// normalized to a dense 1..N sequence on the way in.
func (s *server) handleCreateScenario(
	w http.ResponseWriter, r *http.Request,
) {
	var req createScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{Error: "invalid request body"})

		return
	}

	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{Error: "name is required"})

		return
	}

	for i := range req.Steps {
		step := &req.Steps[i]

		if step.Locator == nil {
			continue
		}

		for j := range step.Locator.Strategies {
			if err := step.Locator.Strategies[j].Validate(); err != nil {
				writeJSON(w, http.StatusBadRequest,
					errorResponse{Error: err.Error()})

				return
			}
		}

		step.Locator.Normalize()
	}

	scenario := &store.Scenario{
		ID:   uuid.NewString(),
		Name: req.Name,
	}

	if err := scenario.SetSteps(req.Steps); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{Error: err.Error()})

		return
	}

	if err := s.store.CreateScenario(r.Context(), scenario); err != nil {
		s.writeDomainError(w, err)

		return
	}

	writeJSON(w, http.StatusCreated, scenario)
}

func (s *server) handleListScenarios(
	w http.ResponseWriter, r *http.Request,
) {
	scenarios, err := s.store.ListScenarios(r.Context())
	if err != nil {
		s.writeDomainError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, scenarios)
}

type scenarioResponse struct {
	*store.Scenario
	Steps []store.Step `json:"steps"`
}

func (s *server) handleGetScenario(
	w http.ResponseWriter, r *http.Request,
) {
	scenario, err := s.store.GetScenario(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)

		return
	}

	steps, err := scenario.Steps()
	if err != nil {
		s.writeDomainError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, scenarioResponse{
		Scenario: scenario,
		Steps:    steps,
	})
}

// --- Run handlers ---

type startRunRequest struct {
	ScenarioID  string                `json:"scenario_id"`
	Environment *store.RunEnvironment `json:"environment,omitempty"`
}

// handleStartRun starts executing a scenario and returns the new run.
func (s *server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{Error: "invalid request body"})

		return
	}

	if req.ScenarioID == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{Error: "scenario_id is required"})

		return
	}

	run, err := s.runner.StartRun(r.Context(), req.ScenarioID, req.Environment)
	if err != nil {
		s.writeDomainError(w, err)

		return
	}

	writeJSON(w, http.StatusCreated, toRunResponse(run))
}

func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(
		r.Context(), r.URL.Query().Get("scenario_id"),
	)
	if err != nil {
		s.writeDomainError(w, err)

		return
	}

	resp := make([]runResponse, 0, len(runs))
	for i := range runs {
		resp = append(resp, toRunResponse(&runs[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, toRunResponse(run))
}

// handleCancelRun transitions a running run to cancelled.
func (s *server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runner.CancelRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, toRunResponse(run))
}

// handleListRunSteps returns the run's step results ordered by index.
func (s *server) handleListRunSteps(
	w http.ResponseWriter, r *http.Request,
) {
	runID := chi.URLParam(r, "id")

	// 404 for unknown runs rather than an empty list.
	if _, err := s.store.GetRun(r.Context(), runID); err != nil {
		s.writeDomainError(w, err)

		return
	}

	results, err := s.store.ListStepResults(r.Context(), runID)
	if err != nil {
		s.writeDomainError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, results)
}

// runResponse augments a run with its decoded environment and summary.
type runResponse struct {
	*store.TestRun
	Environment *store.RunEnvironment `json:"environment,omitempty"`
	Summary     *store.RunSummary     `json:"summary,omitempty"`
}

func toRunResponse(run *store.TestRun) runResponse {
	resp := runResponse{TestRun: run}

	if env, err := run.Environment(); err == nil {
		resp.Environment = env
	}

	if summary, err := run.Summary(); err == nil {
		resp.Summary = summary
	}

	return resp
}

// --- Healing handlers ---

type reviewRequest struct {
	Reviewer string `json:"reviewer,omitempty"`
	Note     string `json:"note,omitempty"`
}

// decodeReview tolerates an empty body: reviewer and note are optional.
func decodeReview(r *http.Request) reviewRequest {
	var req reviewRequest

	_ = json.NewDecoder(r.Body).Decode(&req)

	return req
}

// healingResponse augments a record with decoded strategies and the
// propagation set.
type healingResponse struct {
	*store.HealingRecord
	OriginalStrategy json.RawMessage `json:"original_strategy,omitempty"`
	HealedStrategy   json.RawMessage `json:"healed_strategy,omitempty"`
	PropagatedTo     []string        `json:"propagated_to"`
}

func toHealingResponse(record *store.HealingRecord) healingResponse {
	resp := healingResponse{
		HealingRecord: record,
		PropagatedTo:  []string{},
	}

	if record.OriginalStrategyJSON != "" {
		resp.OriginalStrategy = json.RawMessage(record.OriginalStrategyJSON)
	}

	if record.HealedStrategyJSON != "" {
		resp.HealedStrategy = json.RawMessage(record.HealedStrategyJSON)
	}

	if ids, err := record.PropagatedTo(); err == nil && ids != nil {
		resp.PropagatedTo = ids
	}

	return resp
}

func (s *server) handleListHealingRecords(
	w http.ResponseWriter, r *http.Request,
) {
	records, err := s.healing.List(
		r.Context(), r.URL.Query().Get("status"),
	)
	if err != nil {
		s.writeDomainError(w, err)

		return
	}

	resp := make([]healingResponse, 0, len(records))
	for i := range records {
		resp = append(resp, toHealingResponse(&records[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleHealingStats(
	w http.ResponseWriter, r *http.Request,
) {
	counts, err := s.healing.Stats(r.Context())
	if err != nil {
		s.writeDomainError(w, err)

		return
	}

	// Every status appears in the response, zero or not.
	stats := map[string]int64{
		store.HealingStatusPending:      0,
		store.HealingStatusApproved:     0,
		store.HealingStatusRejected:     0,
		store.HealingStatusAutoApproved: 0,
	}

	for status, count := range counts {
		stats[status] = count
	}

	writeJSON(w, http.StatusOK, stats)
}

func (s *server) handleApproveHealing(
	w http.ResponseWriter, r *http.Request,
) {
	req := decodeReview(r)

	record, err := s.healing.Approve(
		r.Context(), chi.URLParam(r, "id"), req.Reviewer, req.Note,
	)
	if err != nil {
		s.writeDomainError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, toHealingResponse(record))
}

func (s *server) handleRejectHealing(
	w http.ResponseWriter, r *http.Request,
) {
	req := decodeReview(r)

	record, err := s.healing.Reject(
		r.Context(), chi.URLParam(r, "id"), req.Reviewer, req.Note,
	)
	if err != nil {
		s.writeDomainError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, toHealingResponse(record))
}

func (s *server) handlePropagateHealing(
	w http.ResponseWriter, r *http.Request,
) {
	record, err := s.healing.Propagate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, toHealingResponse(record))
}

// --- Artifact handlers ---

// handleArtifactRequest serves step artifacts from local storage or
// generates a presigned S3 URL, depending on the configured backend.
func (s *server) handleArtifactRequest(
	w http.ResponseWriter, r *http.Request,
) {
	artifactPath := chi.URLParam(r, "*")
	if artifactPath == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{Error: "artifact path is required"})

		return
	}

	// Local serving takes priority.
	if s.localServer != nil {
		if err := s.localServer.ServeFile(w, r, artifactPath); err != nil {
			writeJSON(w, http.StatusNotFound,
				errorResponse{Error: "artifact not found"})
		}

		return
	}

	if s.presigner != nil {
		if r.Method == http.MethodHead {
			s.handleS3Head(w, r, artifactPath)

			return
		}

		url, err := s.presigner.GeneratePresignedURL(r.Context(), artifactPath)
		if err != nil {
			s.log.WithError(err).
				WithField("path", artifactPath).
				Warn("Failed to generate presigned URL")

			writeJSON(w, http.StatusForbidden,
				errorResponse{Error: "path not allowed or presign failed"})

			return
		}

		if r.URL.Query().Get("redirect") == "true" {
			http.Redirect(w, r, url, http.StatusFound)

			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"url": url})

		return
	}

	writeJSON(w, http.StatusNotFound,
		errorResponse{Error: "artifact storage not configured"})
}

// handleS3Head returns object metadata so the UI can read sizes without
// downloading the artifact.
func (s *server) handleS3Head(
	w http.ResponseWriter,
	r *http.Request,
	artifactPath string,
) {
	result, err := s.presigner.HeadObject(r.Context(), artifactPath)
	if err != nil {
		s.log.WithError(err).
			WithField("path", artifactPath).
			Debug("S3 HeadObject failed")

		w.WriteHeader(http.StatusNotFound)

		return
	}

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set(
		"Content-Length", strconv.FormatInt(result.ContentLength, 10),
	)
	w.WriteHeader(http.StatusOK)
}
