// Package export produces spreadsheet snapshots of version chains.
// Jobs are queued over HTTP, processed by background workers, and the
// resulting .xlsx files are served back from the export directory.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/advatar/carechain/internal/domain"
)

// ChainLister yields the full version chain containing the given record,
// ordered oldest first.
type ChainLister interface {
	Chain(ctx context.Context, id uuid.UUID) ([]domain.Record, error)
}

// JobStatus tracks a job through its lifecycle.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Job describes one chain export request.
type Job struct {
	ID          uuid.UUID  `json:"id"`
	RecordID    uuid.UUID  `json:"recordId"`
	Status      JobStatus  `json:"status"`
	FileName    string     `json:"fileName,omitempty"`
	RowCount    int        `json:"rowCount"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

var (
	// ErrJobNotFound is returned when a job ID is unknown to the registry.
	ErrJobNotFound = errors.New("export job not found")

	errJobNotRunnable = errors.New("export job is no longer runnable")
)

type Service struct {
	chains ChainLister
	log    zerolog.Logger

	exportDir  string
	jobTimeout time.Duration
	now        func() time.Time

	mu   sync.Mutex
	jobs map[uuid.UUID]*Job

	workerCancels sync.Map // map[uuid.UUID]context.CancelFunc
	workers       sync.WaitGroup
}

type Option func(*Service)

func WithExportDirectory(dir string) Option {
	return func(s *Service) {
		if strings.TrimSpace(dir) != "" {
			s.exportDir = filepath.Clean(dir)
		}
	}
}

func WithJobTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.jobTimeout = timeout
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(chains ChainLister, log zerolog.Logger, opts ...Option) *Service {
	service := &Service{
		chains:     chains,
		log:        log.With().Str("component", "export").Logger(),
		exportDir:  filepath.Join(os.TempDir(), "carechain-exports"),
		jobTimeout: 5 * time.Minute,
		now:        time.Now,
		jobs:       make(map[uuid.UUID]*Job),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// Queue registers a new chain export job and starts its worker.
func (s *Service) Queue(recordID uuid.UUID) Job {
	job := Job{
		ID:        uuid.New(),
		RecordID:  recordID,
		Status:    JobQueued,
		CreatedAt: s.now().UTC(),
	}
	s.mu.Lock()
	s.jobs[job.ID] = &job
	s.mu.Unlock()
	s.launchWorker(job)
	return job
}

// Job returns a snapshot of the job with the given ID.
func (s *Service) Job(id uuid.UUID) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *job, nil
}

// Jobs lists every known job, newest first.
func (s *Service) Jobs() []Job {
	s.mu.Lock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() > out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Cancel stops a queued or running job. Completed jobs are left untouched.
func (s *Service) Cancel(id uuid.UUID) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return ErrJobNotFound
	}
	if job.Status == JobQueued || job.Status == JobRunning {
		job.Status = JobCancelled
	}
	s.mu.Unlock()
	if cancel, ok := s.workerCancels.Load(id); ok {
		cancel.(context.CancelFunc)()
	}
	return nil
}

// FilePath resolves the on-disk location of a completed export.
func (s *Service) FilePath(id uuid.UUID) (string, error) {
	job, err := s.Job(id)
	if err != nil {
		return "", err
	}
	if job.Status != JobCompleted || job.FileName == "" {
		return "", fmt.Errorf("export job %s has no file", id)
	}
	return filepath.Join(s.exportDir, job.FileName), nil
}

// Wait blocks until all running workers have finished or ctx expires.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) launchWorker(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	s.workerCancels.Store(job.ID, cancel)
	s.workers.Add(1)
	go func() {
		defer func() {
			cancel()
			s.workerCancels.Delete(job.ID)
			s.workers.Done()
		}()
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error().Interface("panic", rec).Stringer("job", job.ID).Msg("export worker panicked")
				s.failJob(job.ID, fmt.Errorf("panic: %v", rec))
			}
		}()
		if err := s.runChainExport(ctx, job); err != nil {
			switch {
			case errors.Is(err, context.Canceled):
				s.log.Info().Stringer("job", job.ID).Msg("export job cancelled")
			case errors.Is(err, errJobNotRunnable):
				s.log.Debug().Stringer("job", job.ID).Msg("export job no longer runnable")
			default:
				s.failJob(job.ID, err)
			}
		}
	}()
}

func (s *Service) runChainExport(ctx context.Context, job Job) error {
	if !s.markRunning(job.ID) {
		return errJobNotRunnable
	}
	chain, err := s.chains.Chain(ctx, job.RecordID)
	if err != nil {
		return fmt.Errorf("load chain for %s: %w", job.RecordID, err)
	}
	if err := os.MkdirAll(s.exportDir, 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}
	fileName := fmt.Sprintf("chain-%s.xlsx", job.ID)
	if err := writeChainWorkbook(filepath.Join(s.exportDir, fileName), chain); err != nil {
		return err
	}
	s.completeJob(job.ID, fileName, len(chain))
	s.log.Info().
		Stringer("job", job.ID).
		Int("versions", len(chain)).
		Str("file", fileName).
		Msg("export job completed")
	return nil
}

func (s *Service) markRunning(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != JobQueued {
		return false
	}
	job.Status = JobRunning
	return true
}

func (s *Service) completeJob(id uuid.UUID, fileName string, rows int) {
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != JobRunning {
		return
	}
	job.Status = JobCompleted
	job.FileName = fileName
	job.RowCount = rows
	job.CompletedAt = &now
}

func (s *Service) failJob(id uuid.UUID, err error) {
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status == JobCompleted || job.Status == JobCancelled {
		return
	}
	job.Status = JobFailed
	job.Error = err.Error()
	job.CompletedAt = &now
	s.log.Error().Err(err).Stringer("job", id).Msg("export job failed")
}

var chainSheetHeader = []any{
	"Version", "ID", "Entity Type", "Logical ID",
	"Effective Date", "Deleted Date", "Previous Version", "Next Version",
	"Created At", "Updated At", "Payload",
}

func writeChainWorkbook(path string, chain []domain.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Chain"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(sheet, "A1", &chainSheetHeader); err != nil {
		return fmt.Errorf("write header row: %w", err)
	}
	for i, rec := range chain {
		row := []any{
			i + 1,
			rec.ID.String(),
			rec.EntityType,
			rec.LogicalID,
			rec.EffectiveDate.UTC().Format(time.RFC3339),
			formatOptionalTime(rec.DeletedDate),
			formatOptionalUUID(rec.PreviousVersionID),
			formatOptionalUUID(rec.NextVersionID),
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.UpdatedAt.UTC().Format(time.RFC3339),
			formatPayload(rec.Payload),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("resolve cell for row %d: %w", i+2, err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatOptionalUUID(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func formatPayload(payload map[string]any) string {
	if len(payload) == 0 {
		return ""
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, payload[k]))
	}
	return strings.Join(parts, "; ")
}
