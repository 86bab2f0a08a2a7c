package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
)

type Handler struct {
	service *Service
}

func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/files/"):
		h.handleDownload(w, r)
	case r.Method == http.MethodPost:
		h.handleQueue(w, r)
	case r.Method == http.MethodDelete:
		h.handleCancel(w, r)
	case r.Method == http.MethodGet:
		h.handleList(w, r)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

type queueExportPayload struct {
	RecordID string `json:"recordId"`
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload queueExportPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	recordID, err := uuid.Parse(strings.TrimSpace(payload.RecordID))
	if err != nil {
		http.Error(w, "recordId must be a UUID", http.StatusBadRequest)
		return
	}
	job := h.service.Queue(recordID)
	writeJSON(w, http.StatusAccepted, job)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if id, ok := trailingJobID(r.URL.Path); ok {
		job, err := h.service.Job(id)
		if err != nil {
			http.Error(w, "export job not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, job)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": h.service.Jobs()})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := trailingJobID(r.URL.Path)
	if !ok {
		http.Error(w, "job id required", http.StatusBadRequest)
		return
	}
	if err := h.service.Cancel(id); err != nil {
		if errors.Is(err, ErrJobNotFound) {
			http.Error(w, "export job not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := trailingJobID(r.URL.Path)
	if !ok {
		http.Error(w, "job id required", http.StatusBadRequest)
		return
	}
	filePath, err := h.service.FilePath(id)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			http.Error(w, "export job not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(filePath)))
	http.ServeFile(w, r, filePath)
}

func trailingJobID(urlPath string) (uuid.UUID, bool) {
	segment := path.Base(strings.TrimSuffix(urlPath, "/"))
	id, err := uuid.Parse(segment)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
