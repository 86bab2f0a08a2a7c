package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/advatar/carechain/internal/chain"
	"github.com/advatar/carechain/internal/domain"
	"github.com/advatar/carechain/internal/middleware"
	"github.com/advatar/carechain/internal/store/storetest"
)

func newTestHandler(t *testing.T) (*Handler, *storetest.MemStore, *chain.Service) {
	t.Helper()
	st := storetest.New()
	svc := chain.New(st, zerolog.Nop())
	return NewHandler(svc, st, zerolog.Nop()), st, svc
}

func doJSON(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSaveAndFetchRoundTrip(t *testing.T) {
	h, _, svc := newTestHandler(t)

	payload := map[string]any{
		"entityType":    "task",
		"logicalId":     "task-1",
		"effectiveDate": "2024-03-01T00:00:00Z",
		"payload":       map[string]any{"title": "walk"},
	}
	resp := doJSON(t, h, http.MethodPost, "/records", payload)
	if resp.Code != http.StatusOK {
		t.Fatalf("save: status %d: %s", resp.Code, resp.Body)
	}

	var saved struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &saved); err != nil {
		t.Fatalf("decode save response: %v", err)
	}
	if _, err := uuid.Parse(saved.ID); err != nil {
		t.Fatalf("saved record ID not a UUID: %q", saved.ID)
	}

	if err := svc.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	get := doJSON(t, h, http.MethodGet, "/records/"+saved.ID, nil)
	if get.Code != http.StatusOK {
		t.Fatalf("get: status %d: %s", get.Code, get.Body)
	}
}

func TestSaveRejectsBadEffectiveDate(t *testing.T) {
	h, _, _ := newTestHandler(t)

	payload := map[string]any{
		"entityType":    "task",
		"logicalId":     "task-1",
		"effectiveDate": "soon",
	}
	resp := doJSON(t, h, http.MethodPost, "/records", payload)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", resp.Code)
	}
}

func TestFindActiveIncludesNeighbors(t *testing.T) {
	h, st, _ := newTestHandler(t)

	v1 := domain.Record{
		VersionMeta: domain.VersionMeta{
			ID:            uuid.New(),
			LogicalID:     "task-1",
			EffectiveDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		EntityType: "task",
	}
	v2 := domain.Record{
		VersionMeta: domain.VersionMeta{
			ID:            uuid.New(),
			LogicalID:     "task-1",
			EffectiveDate: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		},
		EntityType: "task",
	}
	eff := v2.EffectiveDate
	v1.NextVersionID = &v2.ID
	v1.NextVersionEffective = &eff
	v2.PreviousVersionID = &v1.ID
	st.Seed(v1, v2)

	wrapped := middleware.VersionLoader(st)(h)
	resp := doJSON(t, wrapped, http.MethodGet,
		"/records/active?entityType=task&logicalId=task-1&at=2024-03-02&include=neighbors", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("status %d: %s", resp.Code, resp.Body)
	}

	var body struct {
		Records []struct {
			ID   string `json:"id"`
			Next *struct {
				ID string `json:"id"`
			} `json:"next"`
		} `json:"records"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Records) != 1 {
		t.Fatalf("expected one active record, got %d", len(body.Records))
	}
	if body.Records[0].ID != v1.ID.String() {
		t.Fatalf("active record = %s, want %s", body.Records[0].ID, v1.ID)
	}
	if body.Records[0].Next == nil || body.Records[0].Next.ID != v2.ID.String() {
		t.Fatal("next neighbor not hydrated")
	}
}

func TestTombstoneEndpoint(t *testing.T) {
	h, st, _ := newTestHandler(t)

	rec := domain.Record{
		VersionMeta: domain.VersionMeta{
			ID:            uuid.New(),
			LogicalID:     "task-1",
			EffectiveDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		EntityType: "task",
	}
	st.Seed(rec)

	resp := doJSON(t, h, http.MethodDelete, "/records/"+rec.ID.String(), nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("delete: status %d: %s", resp.Code, resp.Body)
	}

	again := doJSON(t, h, http.MethodDelete, "/records/"+rec.ID.String(), nil)
	if again.Code != http.StatusConflict {
		t.Fatalf("second delete: status %d, want 409", again.Code)
	}
}

func TestPatientScopeEnforced(t *testing.T) {
	h, _, _ := newTestHandler(t)
	wrapped := middleware.PatientScope(h)

	req := httptest.NewRequest(http.MethodGet,
		"/records/active?entityType=patient&logicalId=alice", nil)
	req.Header.Set(middleware.PatientScopeHeader, "bob")
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status %d, want 403", rec.Code)
	}
}

func TestUnknownRecordIs404(t *testing.T) {
	h, _, _ := newTestHandler(t)
	resp := doJSON(t, h, http.MethodGet, "/records/"+uuid.NewString(), nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", resp.Code)
	}
}

func TestChainIncludesDiffs(t *testing.T) {
	h, st, _ := newTestHandler(t)

	v1 := domain.Record{
		VersionMeta: domain.VersionMeta{
			ID:            uuid.New(),
			LogicalID:     "task-1",
			EffectiveDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		EntityType: "task",
		Payload:    map[string]any{"title": "walk", "duration": float64(20)},
	}
	v2 := domain.Record{
		VersionMeta: domain.VersionMeta{
			ID:            uuid.New(),
			LogicalID:     "task-1",
			EffectiveDate: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		},
		EntityType: "task",
		Payload:    map[string]any{"title": "walk", "duration": float64(30)},
	}
	eff := v2.EffectiveDate
	v1.NextVersionID = &v2.ID
	v1.NextVersionEffective = &eff
	v2.PreviousVersionID = &v1.ID
	st.Seed(v1, v2)

	resp := doJSON(t, h, http.MethodGet, "/records/"+v1.ID.String()+"/chain?include=diffs", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("status %d: %s", resp.Code, resp.Body)
	}

	var body struct {
		Versions []struct {
			ID      string               `json:"id"`
			Changes []domain.FieldChange `json:"changes"`
		} `json:"versions"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(body.Versions))
	}
	if len(body.Versions[0].Changes) != 0 {
		t.Fatalf("oldest version should carry no changes, got %v", body.Versions[0].Changes)
	}
	want := domain.FieldChange{Field: "duration", Kind: domain.ChangeUpdated, Old: "20", New: "30"}
	if len(body.Versions[1].Changes) != 1 || body.Versions[1].Changes[0] != want {
		t.Fatalf("changes = %v, want [%+v]", body.Versions[1].Changes, want)
	}
}

func TestUnsupportedMethodIs405(t *testing.T) {
	h, _, _ := newTestHandler(t)

	resp := doJSON(t, h, http.MethodPut, "/records/"+uuid.New().String(), nil)
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", resp.Code, http.StatusMethodNotAllowed)
	}
}
