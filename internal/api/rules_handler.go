package api

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/rafaeljc/giftrules/internal/logger"
	"github.com/rafaeljc/giftrules/internal/store"
)

// handleCreateRule processes the POST /api/v1/rules request.
//
// Responsibilities:
// 1. Decodes the JSON payload into the RuleRequest DTO.
// 2. Sanitizes and validates the input.
// 3. Converts the DTO to the domain model.
// 4. Persists the rule; the service invalidates caches and bumps the revision.
// 5. Returns the created resource with a 201 Created status.
func (a *API) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	// 1. Decode Request
	var req RuleRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_JSON", "Invalid JSON payload: "+err.Error())
		return
	}

	// 2. Sanitize & Validate
	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	// 3. Map DTO to Domain Model
	rule, err := req.ToRule(0)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_INPUT", err.Error())
		return
	}

	// 4. Persist
	if err := a.rules.Create(r.Context(), rule); err != nil {
		if errors.Is(err, store.ErrInvalidRule) {
			writeError(w, r, http.StatusBadRequest, "ERR_INVALID_RULE", err.Error())
			return
		}
		log.Error("failed to create rule", slog.String("error", err.Error()))
		writeInternal(w, r, "Failed to create rule")
		return
	}

	// 5. Return Success
	log.Info("rule created successfully", slog.Int64("rule_id", rule.ID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, mapRuleToResponse(rule))
}

// handleListRules processes the GET /api/v1/rules request with page/page_size pagination.
func (a *API) handleListRules(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	// 1. Parse Query Parameters
	page, err := parseOptionalInt(r, "page", 1)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_QUERY_PARAM", err.Error())
		return
	}
	pageSize, err := parseOptionalInt(r, "page_size", 10)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_QUERY_PARAM", err.Error())
		return
	}

	// 2. Sanitize & Clamp
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100
	}

	// 3. Fetch
	rules, total, err := a.rules.List(r.Context(), pageSize, (page-1)*pageSize)
	if err != nil {
		log.Error("failed to list rules", slog.String("error", err.Error()))
		writeInternal(w, r, "Failed to list rules")
		return
	}

	// 4. Map & Paginate
	dtos := make([]Rule, len(rules))
	for i, rule := range rules {
		dtos[i] = mapRuleToResponse(rule)
	}

	totalPages := 0
	if total > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(pageSize)))
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, PaginatedResponse{
		Data: dtos,
		Pagination: Pagination{
			TotalItems:  total,
			TotalPages:  totalPages,
			CurrentPage: page,
			PageSize:    pageSize,
		},
	})
}

// handleGetRule processes the GET /api/v1/rules/{id} request.
func (a *API) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleIDParam(w, r)
	if !ok {
		return
	}

	rule, err := a.rules.Get(r.Context(), id)
	if err != nil {
		a.writeRuleError(w, r, err, "Failed to load rule")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, mapRuleToResponse(rule))
}

// handleUpdateRule processes the PUT /api/v1/rules/{id} request (full replacement).
func (a *API) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	id, ok := ruleIDParam(w, r)
	if !ok {
		return
	}

	var req RuleRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_JSON", "Invalid JSON payload: "+err.Error())
		return
	}
	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	rule, err := req.ToRule(id)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_INPUT", err.Error())
		return
	}

	if err := a.rules.Update(r.Context(), rule); err != nil {
		a.writeRuleError(w, r, err, "Failed to update rule")
		return
	}

	log.Info("rule updated successfully", slog.Int64("rule_id", id))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, mapRuleToResponse(rule))
}

// handleDeleteRule processes the DELETE /api/v1/rules/{id} request.
func (a *API) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleIDParam(w, r)
	if !ok {
		return
	}

	if err := a.rules.Delete(r.Context(), id); err != nil {
		a.writeRuleError(w, r, err, "Failed to delete rule")
		return
	}

	logger.FromContext(r.Context()).Info("rule deleted successfully", slog.Int64("rule_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// handleSetRuleStatus processes the PATCH /api/v1/rules/{id}/status request.
func (a *API) handleSetRuleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleIDParam(w, r)
	if !ok {
		return
	}

	var req StatusRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_JSON", "Invalid JSON payload: "+err.Error())
		return
	}
	if err := validate.Struct(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, validationError(err))
		return
	}

	if err := a.rules.SetStatus(r.Context(), id, *req.Enabled); err != nil {
		a.writeRuleError(w, r, err, "Failed to change rule status")
		return
	}

	rule, err := a.rules.Get(r.Context(), id)
	if err != nil {
		a.writeRuleError(w, r, err, "Failed to load rule")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, mapRuleToResponse(rule))
}

// --- Private Helpers ---

// writeRuleError maps store errors; anything unknown is logged and reported as internal.
func (a *API) writeRuleError(w http.ResponseWriter, r *http.Request, err error, message string) {
	switch {
	case errors.Is(err, store.ErrRuleNotFound):
		writeError(w, r, http.StatusNotFound, "ERR_NOT_FOUND", "Rule not found")
	case errors.Is(err, store.ErrInvalidRule):
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_RULE", err.Error())
	default:
		logger.FromContext(r.Context()).Error(message, slog.String("error", err.Error()))
		writeInternal(w, r, message)
	}
}

// ruleIDParam parses {id}; on failure it writes the 400 response and reports false.
func ruleIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_ID", "Rule id must be a positive integer")
		return 0, false
	}
	return id, true
}

// parseOptionalInt extracts an integer from the query string.
// If the parameter is missing, it returns the defaultValue.
// It only returns an error if the parameter is present but malformed.
func parseOptionalInt(r *http.Request, key string, defaultValue int) (int, error) {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultValue, nil
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return 0, fmt.Errorf("parameter '%s' must be an integer", key)
	}
	return val, nil
}
