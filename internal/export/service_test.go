package export_test

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
	"github.com/xuri/excelize/v2"

	"github.com/advatar/carechain/internal/chain"
	"github.com/advatar/carechain/internal/domain"
	"github.com/advatar/carechain/internal/export"
	"github.com/advatar/carechain/internal/store/storetest"
)

func seedChain(t *testing.T, st *storetest.MemStore, versions int) []domain.Record {
	t.Helper()
	base := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	records := make([]domain.Record, versions)
	for i := range records {
		records[i] = domain.Record{
			VersionMeta: domain.VersionMeta{
				ID:            uuid.New(),
				LogicalID:     "task-walk",
				EffectiveDate: base.AddDate(0, 0, i),
				CreatedAt:     base.Add(time.Duration(i) * time.Minute),
				UpdatedAt:     base.Add(time.Duration(i) * time.Minute),
			},
			EntityType: "task",
			Payload:    map[string]any{"title": "walk", "rev": float64(i)},
		}
	}
	for i := range records {
		if i > 0 {
			prev := records[i-1].ID
			records[i].PreviousVersionID = &prev
		}
		if i < len(records)-1 {
			next := records[i+1].ID
			eff := records[i+1].EffectiveDate
			records[i].NextVersionID = &next
			records[i].NextVersionEffective = &eff
		}
		st.Seed(records[i])
	}
	return records
}

func newExportService(t *testing.T, st *storetest.MemStore) *export.Service {
	t.Helper()
	svc := chain.New(st, zerolog.Nop())
	return export.NewService(svc, zerolog.Nop(), export.WithExportDirectory(t.TempDir()))
}

func waitForExports(t *testing.T, svc *export.Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Wait(ctx); err != nil {
		t.Fatalf("wait for export workers: %v", err)
	}
}

func TestQueueExportsFullChain(t *testing.T) {
	st := storetest.New()
	records := seedChain(t, st, 3)
	svc := newExportService(t, st)

	// Anchor on the middle version; the worker should still emit the
	// whole chain, oldest first.
	job := svc.Queue(records[1].ID)
	waitForExports(t, svc)

	done, err := svc.Job(job.ID)
	if err != nil {
		t.Fatalf("job lookup: %v", err)
	}
	if done.Status != export.JobCompleted {
		t.Fatalf("job status = %s (error %q), want %s", done.Status, done.Error, export.JobCompleted)
	}
	if done.RowCount != 3 {
		t.Fatalf("row count = %d, want 3", done.RowCount)
	}

	filePath, err := svc.FilePath(job.ID)
	if err != nil {
		t.Fatalf("file path: %v", err)
	}
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("Chain")
	if err != nil {
		t.Fatalf("read sheet: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("sheet has %d rows, want header plus 3 versions", len(rows))
	}
	for i, rec := range records {
		if got := rows[i+1][1]; got != rec.ID.String() {
			t.Fatalf("row %d id = %s, want %s", i+1, got, rec.ID)
		}
	}
}

func TestExportMissingRecordFailsJob(t *testing.T) {
	st := storetest.New()
	svc := newExportService(t, st)

	job := svc.Queue(uuid.New())
	waitForExports(t, svc)

	done, err := svc.Job(job.ID)
	if err != nil {
		t.Fatalf("job lookup: %v", err)
	}
	if done.Status != export.JobFailed {
		t.Fatalf("job status = %s, want %s", done.Status, export.JobFailed)
	}
	if done.Error == "" {
		t.Fatal("expected failure message on job")
	}
	if _, err := svc.FilePath(job.ID); err == nil {
		t.Fatal("expected no file for failed job")
	}
}

func TestExportHTTPQueueAndDownload(t *testing.T) {
	st := storetest.New()
	records := seedChain(t, st, 2)
	svc := newExportService(t, st)
	handler := export.NewHTTPHandler(svc)

	body, _ := json.Marshal(map[string]string{"recordId": records[0].ID.String()})
	req := httptest.NewRequest(http.MethodPost, "/exports", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("queue status = %d, want %d: %s", rr.Code, http.StatusAccepted, rr.Body)
	}
	var queued export.Job
	if err := json.Unmarshal(rr.Body.Bytes(), &queued); err != nil {
		t.Fatalf("decode queued job: %v", err)
	}
	waitForExports(t, svc)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/exports/"+queued.ID.String(), nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("job status code = %d: %s", rr.Code, rr.Body)
	}
	var fetched export.Job
	if err := json.Unmarshal(rr.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if fetched.Status != export.JobCompleted {
		t.Fatalf("job status = %s (error %q)", fetched.Status, fetched.Error)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/exports/files/"+queued.ID.String(), nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("download status = %d: %s", rr.Code, rr.Body)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("download content type = %q", ct)
	}
	if rr.Body.Len() == 0 {
		t.Fatal("download body is empty")
	}
}

func TestExportHTTPRejectsBadRecordID(t *testing.T) {
	st := storetest.New()
	svc := newExportService(t, st)
	handler := export.NewHTTPHandler(svc)

	body := bytes.NewReader([]byte(`{"recordId":"nope"}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/exports", body))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}
