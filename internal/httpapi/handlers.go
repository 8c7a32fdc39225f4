package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/vasudvy/billfrog/internal/auth"
	"github.com/vasudvy/billfrog/internal/models"
	"github.com/vasudvy/billfrog/internal/storage"
	"github.com/vasudvy/billfrog/internal/tracking"
	"github.com/vasudvy/billfrog/internal/utils"
)

// TrackResponse is the caller-facing shape of a finalized record.
type TrackResponse struct {
	ID             uuid.UUID           `json:"id"`
	Status         models.RecordStatus `json:"status"`
	Response       string              `json:"response,omitempty"`
	ErrorMessage   string              `json:"error_message,omitempty"`
	InputTokens    int                 `json:"input_tokens"`
	OutputTokens   int                 `json:"output_tokens"`
	TotalTokens    int                 `json:"total_tokens"`
	TotalCost      float64             `json:"total_cost"`
	ResponseTimeMS int                 `json:"response_time_ms"`
	SafetyFlags    models.JSONB        `json:"safety_flags,omitempty"`
	RetryCount     int                 `json:"retry_count"`
}

func trackResponseFrom(record *models.UsageRecord) TrackResponse {
	return TrackResponse{
		ID:             record.ID,
		Status:         record.Status,
		Response:       record.Response,
		ErrorMessage:   record.ErrorMessage,
		InputTokens:    record.InputTokens,
		OutputTokens:   record.OutputTokens,
		TotalTokens:    record.TotalTokens,
		TotalCost:      record.TotalCost,
		ResponseTimeMS: record.ResponseTimeMS,
		SafetyFlags:    record.SafetyFlags,
		RetryCount:     record.RetryCount,
	}
}

// handleTrack meters one completion request.
func (d *Dependencies) handleTrack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req tracking.TrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	record, err := d.Tracker.Track(r.Context(), req)
	if err != nil {
		var verr *tracking.ValidationError
		if errors.As(err, &verr) {
			utils.RespondWithError(w, http.StatusBadRequest, verr.Error())
			return
		}
		var denial *tracking.PolicyDenialError
		if errors.As(err, &denial) {
			utils.RespondWithDenial(w, http.StatusForbidden, "Request denied by policy", denial.Reasons)
			return
		}
		d.Logger.Error("track request failed", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	// Provider failures come back as a normal result with status failure,
	// not as an HTTP error.
	utils.RespondWithJSON(w, http.StatusOK, trackResponseFrom(record))
}

type testCredentialRequest struct {
	Provider   models.Provider `json:"provider"`
	Credential string          `json:"credential"`
	Model      string          `json:"model,omitempty"`
}

type testCredentialResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// handleTestCredential checks a provider credential without metering.
func (d *Dependencies) handleTestCredential(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req testCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	valid, message := d.Tracker.TestCredential(r.Context(), req.Provider, req.Credential, req.Model)
	utils.RespondWithJSON(w, http.StatusOK, testCredentialResponse{Valid: valid, Message: message})
}

func listFilterFromQuery(r *http.Request) storage.ListFilter {
	q := r.URL.Query()
	filter := storage.ListFilter{
		UserID:    q.Get("user_id"),
		TeamID:    q.Get("team_id"),
		Provider:  models.Provider(q.Get("provider")),
		ModelName: q.Get("model"),
		Status:    models.RecordStatus(q.Get("status")),
	}
	if from := q.Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filter.From = t
		}
	}
	if to := q.Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.To = t
		}
	}
	return filter
}

func intQuery(r *http.Request, key, fallback string) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		val = fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0
	}
	return n
}

// handleLogs lists usage records, newest first.
func (d *Dependencies) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	records, err := d.Usage.List(r.Context(), listFilterFromQuery(r), intQuery(r, "limit", "50"), intQuery(r, "offset", "0"))
	if err != nil {
		d.Logger.Error("failed to list usage records", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list records")
		return
	}
	if records == nil {
		records = []*models.UsageRecord{}
	}
	utils.RespondWithJSON(w, http.StatusOK, records)
}

// handleSummary aggregates usage records per group.
func (d *Dependencies) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	groupBy := storage.GroupBy(r.URL.Query().Get("group_by"))
	if groupBy == "" {
		groupBy = storage.GroupByDay
	}
	switch groupBy {
	case storage.GroupByDay, storage.GroupByWeek, storage.GroupByMonth, storage.GroupByModel, storage.GroupByProvider:
	default:
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid group_by")
		return
	}

	rows, err := d.Usage.Summarize(r.Context(), listFilterFromQuery(r), groupBy)
	if err != nil {
		d.Logger.Error("failed to summarize usage", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to summarize usage")
		return
	}
	if rows == nil {
		rows = []storage.SummaryRow{}
	}
	utils.RespondWithJSON(w, http.StatusOK, rows)
}

// handlePricing serves and updates pricing entries. A POST inserts a new
// active entry and deactivates the prior one; history is never rewritten.
func (d *Dependencies) handlePricing(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		entries, err := d.Pricing.List(r.Context(), models.Provider(r.URL.Query().Get("provider")))
		if err != nil {
			d.Logger.Error("failed to list pricing entries", "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list pricing")
			return
		}
		if entries == nil {
			entries = []*models.PricingEntry{}
		}
		utils.RespondWithJSON(w, http.StatusOK, entries)

	case http.MethodPost:
		var entry models.PricingEntry
		if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := d.Pricing.Update(r.Context(), &entry); err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		utils.RespondWithJSON(w, http.StatusCreated, entry)

	default:
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleFilters serves the safety filter configuration surface. Changes
// take effect on the next evaluation, not retroactively.
func (d *Dependencies) handleFilters(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if id := r.URL.Query().Get("id"); id != "" {
			filterID, err := uuid.Parse(id)
			if err != nil {
				utils.RespondWithError(w, http.StatusBadRequest, "Invalid filter id")
				return
			}
			filter, err := d.Filters.GetByID(r.Context(), filterID)
			if err != nil {
				utils.RespondWithError(w, http.StatusNotFound, "Filter not found")
				return
			}
			utils.RespondWithJSON(w, http.StatusOK, filter)
			return
		}

		filters, err := d.Filters.List(r.Context())
		if err != nil {
			d.Logger.Error("failed to list filters", "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list filters")
			return
		}
		if filters == nil {
			filters = []*models.SafetyFilter{}
		}
		utils.RespondWithJSON(w, http.StatusOK, filters)

	case http.MethodPost:
		var filter models.SafetyFilter
		if err := json.NewDecoder(r.Body).Decode(&filter); err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := d.Filters.Create(r.Context(), &filter); err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		utils.RespondWithJSON(w, http.StatusCreated, filter)

	case http.MethodPut:
		var filter models.SafetyFilter
		if err := json.NewDecoder(r.Body).Decode(&filter); err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if filter.ID == uuid.Nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Filter id is required")
			return
		}
		if err := d.Filters.Update(r.Context(), &filter); err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		utils.RespondWithJSON(w, http.StatusOK, filter)

	default:
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// handleOperatorLogin exchanges operator credentials for a short-lived
// token.
func (d *Dependencies) handleOperatorLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	operator, err := d.Operators.GetByUsername(r.Context(), req.Username)
	if err != nil || !auth.CheckPassword(operator.PasswordHash, req.Password) {
		utils.RespondWithError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, expiresAt, err := auth.GenerateOperatorJWT(operator.ID.String(), operator.Username, d.JWTSecret)
	if err != nil {
		d.Logger.Error("failed to issue operator token", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt})
}

// handleHealth reports store reachability.
func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	if d.Health != nil {
		if err := d.Health(r.Context()); err != nil {
			utils.RespondWithError(w, http.StatusServiceUnavailable, "unhealthy")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
