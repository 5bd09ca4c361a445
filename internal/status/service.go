package status

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/framelight/backend/internal/jobs"
	"github.com/framelight/backend/internal/models"
)

// ErrPollTimeout is returned by Await when the generation does not reach a
// terminal state within the polling budget.
var ErrPollTimeout = errors.New("generation did not finish within the polling budget")

// GenerationReader is the slice of the generation store the façade reads.
type GenerationReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Generation, error)
}

// JobReader exposes queue introspection for a generation's job.
type JobReader interface {
	Status(ctx context.Context, key string) (*jobs.JobStatus, error)
}

// JobInfo is the queue-side view attached to a status read.
type JobInfo struct {
	State         string  `json:"state"`
	Progress      int     `json:"progress"`
	Message       string  `json:"message"`
	Attempts      int     `json:"attempts"`
	FailureReason *string `json:"failure_reason,omitempty"`
}

// ReadModel is the single polling surface for clients: the stored generation
// merged with live queue introspection.
type ReadModel struct {
	GenerationID           uuid.UUID  `json:"generation_id"`
	Status                 string     `json:"status"`
	PackageID              string     `json:"package_id"`
	CreditSource           string     `json:"credit_source"`
	CreditsUsed            int        `json:"credits_used"`
	OutputImageKeys        []string   `json:"output_image_keys,omitempty"`
	GenerationGroupID      uuid.UUID  `json:"generation_group_id"`
	IsOriginal             bool       `json:"is_original"`
	GroupIndex             int        `json:"group_index"`
	MaxRegenerations       int        `json:"max_regenerations"`
	RemainingRegenerations int        `json:"remaining_regenerations"`
	ErrorMessage           *string    `json:"error_message,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	CompletedAt            *time.Time `json:"completed_at,omitempty"`
	Job                    *JobInfo   `json:"job,omitempty"`
}

// Terminal reports whether polling can stop.
func (m *ReadModel) Terminal() bool {
	return m.Status == models.GenerationStatusCompleted || m.Status == models.GenerationStatusFailed
}

type Service struct {
	generations GenerationReader
	queue       JobReader
	log         *slog.Logger
}

func NewService(generations GenerationReader, queue JobReader, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{generations: generations, queue: queue, log: log}
}

// Read assembles the read model for one generation. A row stored as completed
// but carrying no output keys is reported as still processing: clients must
// never see a success they cannot download.
func (s *Service) Read(ctx context.Context, id uuid.UUID) (*ReadModel, error) {
	g, err := s.generations.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	m := &ReadModel{
		GenerationID:           g.ID,
		Status:                 g.Status,
		PackageID:              g.PackageID,
		CreditSource:           g.CreditSource,
		CreditsUsed:            g.CreditsUsed,
		OutputImageKeys:        g.OutputImageKeys,
		GenerationGroupID:      g.GenerationGroupID,
		IsOriginal:             g.IsOriginal,
		GroupIndex:             g.GroupIndex,
		MaxRegenerations:       g.MaxRegenerations,
		RemainingRegenerations: g.RemainingRegenerations,
		ErrorMessage:           g.ErrorMessage,
		CreatedAt:              g.CreatedAt,
		CompletedAt:            g.CompletedAt,
	}
	if g.Status == models.GenerationStatusCompleted && len(g.OutputImageKeys) == 0 {
		s.log.Warn("completed generation has no outputs, reporting processing", "generation_id", g.ID)
		m.Status = models.GenerationStatusProcessing
		m.CompletedAt = nil
	}

	job, err := s.queue.Status(ctx, jobs.KeyFor(g.ID))
	if err == nil {
		m.Job = &JobInfo{
			State:         job.State,
			Progress:      job.Progress,
			Message:       job.Message,
			Attempts:      job.Attempts,
			FailureReason: job.FailureReason,
		}
	} else if !errors.Is(err, jobs.ErrJobNotFound) {
		return nil, err
	}
	return m, nil
}

// Await polls Read at the given interval until the generation is terminal or
// the budget elapses.
func (s *Service) Await(ctx context.Context, id uuid.UUID, interval, budget time.Duration) (*ReadModel, error) {
	if interval <= 0 {
		interval = time.Second
	}
	deadline := time.Now().Add(budget)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m, err := s.Read(ctx, id)
		if err != nil {
			return nil, err
		}
		if m.Terminal() {
			return m, nil
		}
		if time.Now().After(deadline) {
			return m, ErrPollTimeout
		}
		select {
		case <-ctx.Done():
			return m, ctx.Err()
		case <-ticker.C:
		}
	}
}
