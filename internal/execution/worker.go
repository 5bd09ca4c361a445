package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/framelight/backend/internal/composite"
	"github.com/framelight/backend/internal/generation"
	"github.com/framelight/backend/internal/jobs"
	"github.com/framelight/backend/internal/models"
	"github.com/framelight/backend/internal/notify"
	"github.com/framelight/backend/internal/provider"
	"github.com/framelight/backend/internal/storage"
)

// GenerationLifecycle is the state machine contract the worker drives.
type GenerationLifecycle interface {
	BeginAttempt(ctx context.Context, id uuid.UUID) (*models.Generation, error)
	Complete(ctx context.Context, id uuid.UUID, outputKeys []string) error
	Fail(ctx context.Context, id uuid.UUID, reason string) error
}

// Tracker reports job progress into the introspection table.
type Tracker interface {
	MarkRunning(ctx context.Context, key string, attempt int) error
	SetProgress(ctx context.Context, key string, progress int, message string) error
	MarkCompleted(ctx context.Context, key string) error
	MarkFailed(ctx context.Context, key string, reason string) error
}

// AssetStore loads reference photos and persists generated outputs.
type AssetStore interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// GeneratePhotoWorker executes one generation end to end: load references,
// build the composite, call the provider, store outputs, settle state.
type GeneratePhotoWorker struct {
	river.WorkerDefaults[jobs.GeneratePhotoArgs]
	generations GenerationLifecycle
	tracker     Tracker
	builder     *composite.Builder
	generator   provider.Generator
	store       AssetStore
	notifier    *notify.Dispatcher
	log         *slog.Logger
}

func NewGeneratePhotoWorker(
	generations GenerationLifecycle,
	tracker Tracker,
	builder *composite.Builder,
	generator provider.Generator,
	store AssetStore,
	notifier *notify.Dispatcher,
	log *slog.Logger,
) *GeneratePhotoWorker {
	if log == nil {
		log = slog.Default()
	}
	return &GeneratePhotoWorker{
		generations: generations,
		tracker:     tracker,
		builder:     builder,
		generator:   generator,
		store:       store,
		notifier:    notifier,
		log:         log,
	}
}

// Timeout bounds one attempt; river reschedules attempts that exceed it.
func (w *GeneratePhotoWorker) Timeout(*river.Job[jobs.GeneratePhotoArgs]) time.Duration {
	return 5 * time.Minute
}

func (w *GeneratePhotoWorker) Work(ctx context.Context, job *river.Job[jobs.GeneratePhotoArgs]) error {
	args := job.Args
	key := jobs.KeyFor(args.GenerationID)

	if err := w.tracker.MarkRunning(ctx, key, job.Attempt); err != nil {
		w.log.Warn("mark running failed", "job_key", key, "error", err)
	}

	gen, err := w.generations.BeginAttempt(ctx, args.GenerationID)
	if err != nil {
		if errors.Is(err, generation.ErrAlreadyTerminal) {
			// Stale delivery after the generation already settled; swallow it
			// so river does not retry a finished run.
			w.log.Info("skipping attempt on settled generation", "generation_id", args.GenerationID)
			return nil
		}
		return fmt.Errorf("begin attempt: %w", err)
	}

	w.progress(ctx, key, 10, "loading reference photos")
	sources := w.loadSources(ctx, args.InputImageKeys)
	if len(sources) == 0 {
		return w.retryOrFail(ctx, job, gen, "no readable reference photos")
	}

	w.progress(ctx, key, 30, "compositing reference photos")
	comp, err := w.builder.Build(ctx, gen.ID, args.Title, sources)
	if err != nil {
		return w.retryOrFail(ctx, job, gen, fmt.Sprintf("composite build: %v", err))
	}

	w.progress(ctx, key, 50, "generating photos")
	images, err := w.generator.Generate(ctx, provider.Request{
		Prompt:        args.Prompt,
		Model:         args.ProviderModel,
		Variations:    args.Variations,
		Composite:     comp.Data,
		CompositeMIME: comp.MIME,
		StyleSettings: args.StyleSettings,
		RequestID:     key,
	})
	if err != nil {
		return w.retryOrFail(ctx, job, gen, fmt.Sprintf("provider: %v", err))
	}

	w.progress(ctx, key, 80, "storing results")
	var outputKeys []string
	for i, img := range images {
		stored, err := w.store.Write(ctx, storage.OutputKey(gen.ID, i), img.Data)
		if err != nil {
			// Partial success is acceptable as long as one output lands.
			w.log.Warn("store output failed", "generation_id", gen.ID, "index", i, "error", err)
			continue
		}
		outputKeys = append(outputKeys, stored)
	}
	if len(outputKeys) == 0 {
		return w.retryOrFail(ctx, job, gen, "no outputs could be stored")
	}

	if err := w.generations.Complete(ctx, gen.ID, outputKeys); err != nil {
		return fmt.Errorf("complete generation: %w", err)
	}
	if err := w.tracker.MarkCompleted(ctx, key); err != nil {
		w.log.Warn("mark completed failed", "job_key", key, "error", err)
	}
	w.notify(notify.Event{
		Kind:         notify.EventGenerationCompleted,
		GenerationID: gen.ID,
		PersonID:     gen.OwnerPersonID,
		Message:      fmt.Sprintf("%d photos ready", len(outputKeys)),
	})
	w.log.Info("generation completed",
		"generation_id", gen.ID, "outputs", len(outputKeys), "attempt", job.Attempt)
	return nil
}

// retryOrFail hands transient errors back to river for backoff retry. On the
// final attempt it settles the generation as failed (which also refunds
// originals) before surfacing the error.
func (w *GeneratePhotoWorker) retryOrFail(ctx context.Context, job *river.Job[jobs.GeneratePhotoArgs], gen *models.Generation, reason string) error {
	key := jobs.KeyFor(gen.ID)
	if job.Attempt < job.MaxAttempts {
		w.log.Warn("attempt failed, leaving retry to the queue",
			"generation_id", gen.ID, "attempt", job.Attempt, "reason", reason)
		return errors.New(reason)
	}

	if err := w.tracker.MarkFailed(ctx, key, reason); err != nil {
		w.log.Warn("mark failed failed", "job_key", key, "error", err)
	}
	if err := w.generations.Fail(ctx, gen.ID, reason); err != nil {
		return fmt.Errorf("settle failed generation: %w", err)
	}
	w.notify(notify.Event{
		Kind:         notify.EventGenerationFailed,
		GenerationID: gen.ID,
		PersonID:     gen.OwnerPersonID,
		Message:      reason,
	})
	w.log.Error("generation failed after final attempt",
		"generation_id", gen.ID, "attempt", job.Attempt, "reason", reason)
	return fmt.Errorf("final attempt failed: %s", reason)
}

// loadSources reads whichever input photos are still retrievable. Unreadable
// references are skipped; the composite builder degrades per tile.
func (w *GeneratePhotoWorker) loadSources(ctx context.Context, keys []string) []composite.SourceImage {
	sources := make([]composite.SourceImage, 0, len(keys))
	for _, key := range keys {
		data, err := w.store.Read(ctx, key)
		if err != nil {
			w.log.Warn("reference photo unreadable, skipping", "key", key, "error", err)
			continue
		}
		sources = append(sources, composite.SourceImage{Data: data, MIME: "image/png"})
	}
	return sources
}

func (w *GeneratePhotoWorker) progress(ctx context.Context, key string, pct int, message string) {
	if err := w.tracker.SetProgress(ctx, key, pct, message); err != nil {
		w.log.Warn("set progress failed", "job_key", key, "error", err)
	}
}

func (w *GeneratePhotoWorker) notify(ev notify.Event) {
	if w.notifier != nil {
		w.notifier.Dispatch(ev)
	}
}
