// Package api exposes the version-chain operations over JSON HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/advatar/carechain/internal/auth"
	"github.com/advatar/carechain/internal/chain"
	"github.com/advatar/carechain/internal/domain"
	"github.com/advatar/carechain/internal/store"
	"github.com/advatar/carechain/internal/versionloader"
)

// Handler serves the /records routes.
type Handler struct {
	service *chain.Service
	store   store.Store
	log     zerolog.Logger
}

// NewHandler creates the records handler.
func NewHandler(service *chain.Service, st store.Store, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		store:   st,
		log:     log.With().Str("component", "api").Logger(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/records")
	path = strings.TrimSuffix(path, "/")

	switch {
	case path == "":
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.handleSave(w, r)
	case path == "/active":
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.handleFindActive(w, r)
	case strings.HasSuffix(path, "/chain"):
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.handleChain(w, r, strings.TrimSuffix(path, "/chain"))
	case r.Method == http.MethodGet:
		h.handleGet(w, r, path)
	case r.Method == http.MethodDelete:
		h.handleTombstone(w, r, path)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type saveRecordPayload struct {
	ID                *string        `json:"id"`
	EntityType        string         `json:"entityType"`
	LogicalID         string         `json:"logicalId"`
	PreviousVersionID *string        `json:"previousVersionId"`
	NextVersionID     *string        `json:"nextVersionId"`
	EffectiveDate     string         `json:"effectiveDate"`
	Payload           map[string]any `json:"payload"`
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload saveRecordPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}

	rec, err := h.buildRecord(r, payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if payload.EntityType == domain.EntityTypePatient {
		if err := auth.EnforcePatientScope(r.Context(), payload.LogicalID); err != nil {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
	}

	saved, err := h.service.SaveRecord(r.Context(), rec)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, recordToResponse(saved))
}

func (h *Handler) buildRecord(r *http.Request, payload saveRecordPayload) (domain.Record, error) {
	effective, err := parseInstant(payload.EffectiveDate)
	if err != nil {
		return domain.Record{}, fmt.Errorf("invalid effectiveDate: %w", err)
	}

	rec := domain.Record{
		VersionMeta: domain.VersionMeta{
			LogicalID:     payload.LogicalID,
			EffectiveDate: effective,
		},
		EntityType: payload.EntityType,
		Payload:    payload.Payload,
	}

	if payload.ID != nil {
		id, err := uuid.Parse(*payload.ID)
		if err != nil {
			return domain.Record{}, fmt.Errorf("invalid id: %w", err)
		}
		rec.ID = id
		// Re-saving an existing version keeps its store bookkeeping.
		if existing, err := h.store.FetchByID(r.Context(), id); err == nil {
			rec.CreatedAt = existing.CreatedAt
		}
	}
	if payload.PreviousVersionID != nil {
		id, err := uuid.Parse(*payload.PreviousVersionID)
		if err != nil {
			return domain.Record{}, fmt.Errorf("invalid previousVersionId: %w", err)
		}
		rec.PreviousVersionID = &id
	}
	if payload.NextVersionID != nil {
		id, err := uuid.Parse(*payload.NextVersionID)
		if err != nil {
			return domain.Record{}, fmt.Errorf("invalid nextVersionId: %w", err)
		}
		rec.NextVersionID = &id
	}
	return rec, nil
}

func (h *Handler) handleFindActive(w http.ResponseWriter, r *http.Request) {
	entityType := r.URL.Query().Get("entityType")
	logicalID := r.URL.Query().Get("logicalId")
	if entityType == "" || logicalID == "" {
		http.Error(w, "entityType and logicalId are required", http.StatusBadRequest)
		return
	}

	at := time.Now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		parsed, err := parseInstant(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid at: %v", err), http.StatusBadRequest)
			return
		}
		at = parsed
	}

	if entityType == domain.EntityTypePatient {
		if err := auth.EnforcePatientScope(r.Context(), logicalID); err != nil {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
	}

	records, err := h.service.FindActive(r.Context(), entityType, logicalID, at)
	if err != nil {
		h.writeError(w, err)
		return
	}

	responses := make([]*recordResponse, len(records))
	for i, rec := range records {
		responses[i] = recordToResponse(rec)
	}

	if r.URL.Query().Get("include") == "neighbors" {
		h.hydrateNeighbors(r, records, responses)
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"records": responses})
}

// hydrateNeighbors resolves each record's previous and next versions through
// the request-scoped batching loader.
func (h *Handler) hydrateNeighbors(r *http.Request, records []domain.Record, responses []*recordResponse) {
	loader := versionloader.FromContext(r.Context())
	if loader == nil {
		loader = versionloader.New(h.store)
	}
	for i, rec := range records {
		if rec.PreviousVersionID != nil {
			if neighbor, ok, err := loader.Load(r.Context(), *rec.PreviousVersionID); err == nil && ok {
				responses[i].Previous = recordToResponse(neighbor)
			}
		}
		if rec.NextVersionID != nil {
			if neighbor, ok, err := loader.Load(r.Context(), *rec.NextVersionID); err == nil && ok {
				responses[i].Next = recordToResponse(neighbor)
			}
		}
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, path string) {
	id, err := parseRecordID(path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec, err := h.store.FetchByID(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, recordToResponse(rec))
}

func (h *Handler) handleChain(w http.ResponseWriter, r *http.Request, path string) {
	id, err := parseRecordID(path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	records, err := h.service.Chain(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	withDiffs := r.URL.Query().Get("include") == "diffs"
	responses := make([]*recordResponse, len(records))
	for i, rec := range records {
		responses[i] = recordToResponse(rec)
		if withDiffs && i > 0 {
			changes, err := domain.DiffRecords(records[i-1], rec)
			if err != nil {
				h.writeError(w, err)
				return
			}
			responses[i].Changes = changes
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"versions": responses})
}

func (h *Handler) handleTombstone(w http.ResponseWriter, r *http.Request, path string) {
	id, err := parseRecordID(path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	deleted, err := h.service.Tombstone(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, recordToResponse(deleted))
}

func parseRecordID(path string) (uuid.UUID, error) {
	raw := strings.TrimPrefix(path, "/")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid record ID %q", raw)
	}
	return id, nil
}

// parseInstant accepts RFC 3339 timestamps or bare dates.
func parseInstant(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var verr *store.ValidationError
	switch {
	case errors.As(err, &verr):
		http.Error(w, verr.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, chain.ErrAlreadyDeleted), errors.Is(err, store.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.log.Error().Err(err).Msg("request failed")
		http.Error(w, "internal error", http.StatusBadGateway)
	}
}

type recordResponse struct {
	ID                   string          `json:"id"`
	EntityType           string          `json:"entityType"`
	LogicalID            string          `json:"logicalId"`
	PreviousVersionID    *string         `json:"previousVersionId,omitempty"`
	NextVersionID        *string         `json:"nextVersionId,omitempty"`
	NextVersionEffective *string         `json:"nextVersionEffective,omitempty"`
	EffectiveDate        string          `json:"effectiveDate"`
	DeletedDate          *string         `json:"deletedDate,omitempty"`
	CreatedAt            string          `json:"createdAt"`
	UpdatedAt            string          `json:"updatedAt"`
	Payload              map[string]any  `json:"payload,omitempty"`
	Previous             *recordResponse `json:"previous,omitempty"`
	Next                 *recordResponse `json:"next,omitempty"`
	// Changes lists payload fields that differ from the preceding version;
	// only populated on chain responses requested with include=diffs.
	Changes []domain.FieldChange `json:"changes,omitempty"`
}

func recordToResponse(rec domain.Record) *recordResponse {
	resp := &recordResponse{
		ID:            rec.ID.String(),
		EntityType:    rec.EntityType,
		LogicalID:     rec.LogicalID,
		EffectiveDate: rec.EffectiveDate.Format(time.RFC3339),
		CreatedAt:     rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     rec.UpdatedAt.Format(time.RFC3339),
		Payload:       rec.Payload,
	}
	if rec.PreviousVersionID != nil {
		s := rec.PreviousVersionID.String()
		resp.PreviousVersionID = &s
	}
	if rec.NextVersionID != nil {
		s := rec.NextVersionID.String()
		resp.NextVersionID = &s
	}
	if rec.NextVersionEffective != nil {
		s := rec.NextVersionEffective.Format(time.RFC3339)
		resp.NextVersionEffective = &s
	}
	if rec.DeletedDate != nil {
		s := rec.DeletedDate.Format(time.RFC3339)
		resp.DeletedDate = &s
	}
	return resp
}
