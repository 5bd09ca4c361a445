package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/framelight/backend/internal/jobs"
	"github.com/framelight/backend/internal/ledger"
	"github.com/framelight/backend/internal/models"
	"github.com/framelight/backend/internal/styles"
)

var (
	// ErrRegenerationQuotaExhausted rejects a spawn before any state mutation.
	ErrRegenerationQuotaExhausted = errors.New("regeneration quota exhausted")
	// ErrNotOriginal is returned when regenerating off a regeneration.
	ErrNotOriginal = errors.New("only the original generation can be regenerated")
	// ErrNoOutputs guards the processing -> completed transition.
	ErrNoOutputs = errors.New("cannot complete a generation without output images")
	// ErrAlreadyTerminal is returned when a worker attempt finds the
	// generation already completed or failed.
	ErrAlreadyTerminal = errors.New("generation is already in a terminal state")
	// ErrNotOwner is returned for mutations by anyone but the owner.
	ErrNotOwner = errors.New("caller does not own this generation")
	// ErrNoInputImages rejects a request without reference photos.
	ErrNoInputImages = errors.New("at least one input image is required")
)

// Repo is the persistence interface for generations.
type Repo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, g *models.Generation) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Generation, error)
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Generation, error)
	MaxGroupIndexTx(ctx context.Context, tx pgx.Tx, groupID uuid.UUID) (int, error)
	DecrementRemainingTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	ClaimProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	SetCompleted(ctx context.Context, id uuid.UUID, outputKeys []string) error
	SetFailed(ctx context.Context, id uuid.UUID, message string) error
	SoftDelete(ctx context.Context, id, ownerPersonID uuid.UUID) (bool, error)
	ListByOwner(ctx context.Context, ownerPersonID uuid.UUID) ([]*models.Generation, error)
}

// Ledger is the slice of the credit ledger the state machine drives.
type Ledger interface {
	ReserveTx(ctx context.Context, tx pgx.Tx, source string, personID uuid.UUID, teamID *uuid.UUID, amount int, generationID uuid.UUID) (*models.CreditTransaction, error)
	Refund(ctx context.Context, generationID uuid.UUID) error
}

// Enqueuer is the queue façade slice used at creation time.
type Enqueuer interface {
	EnqueueTx(ctx context.Context, tx pgx.Tx, args jobs.GeneratePhotoArgs, priority int) (bool, error)
}

// StyleResolver resolves stored or inline settings for a package.
type StyleResolver interface {
	Resolve(ctx context.Context, packageID string, contextID *uuid.UUID, inline json.RawMessage) (styles.Settings, error)
	Serialize(s styles.Settings) (json.RawMessage, error)
}

// Service owns the generation lifecycle and the invariants tying state to
// credits.
type Service struct {
	repo      Repo
	ledger    Ledger
	queue     Enqueuer
	styles    StyleResolver
	run       ledger.TxRunner
	cost      int
	maxRegens int
	log       *slog.Logger
}

func NewService(repo Repo, ledgerSvc Ledger, queue Enqueuer, resolver StyleResolver, run ledger.TxRunner, costPerGeneration, maxRegenerations int, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo: repo, ledger: ledgerSvc, queue: queue, styles: resolver, run: run,
		cost: costPerGeneration, maxRegens: maxRegenerations, log: log,
	}
}

// CreateParams describes one generation request from the API layer.
type CreateParams struct {
	OwnerPersonID  uuid.UUID
	OwnerTeamID    *uuid.UUID
	CreditSource   string
	PackageID      string
	Title          string
	ContextID      *uuid.UUID
	InlineSettings json.RawMessage
	InputImageKeys []string
	ProviderModel  string
	Variations     int
	Prompt         string
}

// Create reserves credits, records the generation and enqueues its job as
// one atomic unit. On insufficient credits nothing is written.
func (s *Service) Create(ctx context.Context, p CreateParams) (*models.Generation, error) {
	if len(p.InputImageKeys) == 0 {
		return nil, ErrNoInputImages
	}
	if p.CreditSource == "" {
		p.CreditSource = models.CreditSourceIndividual
	}
	if p.Variations <= 0 {
		p.Variations = 1
	}
	if p.Variations > 4 {
		p.Variations = 4
	}

	settings, err := s.styles.Resolve(ctx, p.PackageID, p.ContextID, p.InlineSettings)
	if err != nil {
		return nil, fmt.Errorf("resolve style settings: %w", err)
	}
	serialized, err := s.styles.Serialize(settings)
	if err != nil {
		return nil, fmt.Errorf("serialize style settings: %w", err)
	}

	prompt := p.Prompt
	if prompt == "" {
		prompt = defaultPrompt(p.PackageID, p.Title)
	}

	g := &models.Generation{
		ID:                     uuid.New(),
		OwnerPersonID:          p.OwnerPersonID,
		OwnerTeamID:            p.OwnerTeamID,
		Status:                 models.GenerationStatusPending,
		CreditSource:           p.CreditSource,
		CreditsUsed:            s.cost,
		Provider:               p.ProviderModel,
		PackageID:              p.PackageID,
		StyleSettings:          serialized,
		Prompt:                 prompt,
		InputImageKeys:         p.InputImageKeys,
		GenerationGroupID:      uuid.New(),
		IsOriginal:             true,
		GroupIndex:             0,
		MaxRegenerations:       s.maxRegens,
		RemainingRegenerations: s.maxRegens,
	}

	err = s.run.WithTransaction(ctx, pgx.Serializable, func(tx pgx.Tx) error {
		if _, err := s.ledger.ReserveTx(ctx, tx, p.CreditSource, p.OwnerPersonID, p.OwnerTeamID, s.cost, g.ID); err != nil {
			return err
		}
		if err := s.repo.CreateTx(ctx, tx, g); err != nil {
			return fmt.Errorf("insert generation: %w", err)
		}
		args := s.jobArgs(g, p.Title)
		args.Variations = p.Variations
		_, err := s.queue.EnqueueTx(ctx, tx, args, jobs.PriorityFor(p.CreditSource))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("generation created",
		"generation_id", g.ID, "package", g.PackageID, "credit_source", g.CreditSource, "credits", g.CreditsUsed)
	return g, nil
}

// Regenerate spawns a zero-cost re-run of an original generation. The quota
// check, index computation, counter decrement, insert and enqueue are one
// transaction; a crash cannot split them.
func (s *Service) Regenerate(ctx context.Context, originalID, callerPersonID uuid.UUID) (*models.Generation, error) {
	var regen *models.Generation
	err := s.run.WithTransaction(ctx, pgx.Serializable, func(tx pgx.Tx) error {
		orig, err := s.repo.GetForUpdateTx(ctx, tx, originalID)
		if err != nil {
			return err
		}
		if orig.OwnerPersonID != callerPersonID {
			return ErrNotOwner
		}
		if !orig.IsOriginal {
			return ErrNotOriginal
		}
		if orig.RemainingRegenerations <= 0 {
			return ErrRegenerationQuotaExhausted
		}

		maxIndex, err := s.repo.MaxGroupIndexTx(ctx, tx, orig.GenerationGroupID)
		if err != nil {
			return fmt.Errorf("compute group index: %w", err)
		}
		if err := s.repo.DecrementRemainingTx(ctx, tx, orig.ID); err != nil {
			return err
		}

		regen = &models.Generation{
			ID:                uuid.New(),
			OwnerPersonID:     orig.OwnerPersonID,
			OwnerTeamID:       orig.OwnerTeamID,
			Status:            models.GenerationStatusPending,
			CreditSource:      orig.CreditSource,
			CreditsUsed:       0,
			Provider:          orig.Provider,
			PackageID:         orig.PackageID,
			StyleSettings:     orig.StyleSettings,
			Prompt:            orig.Prompt,
			InputImageKeys:    orig.InputImageKeys,
			GenerationGroupID: orig.GenerationGroupID,
			IsOriginal:        false,
			GroupIndex:        maxIndex + 1,
		}
		if err := s.repo.CreateTx(ctx, tx, regen); err != nil {
			return fmt.Errorf("insert regeneration: %w", err)
		}
		_, err = s.queue.EnqueueTx(ctx, tx, s.jobArgs(regen, ""), jobs.PriorityFor(regen.CreditSource))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("regeneration spawned",
		"generation_id", regen.ID, "group_id", regen.GenerationGroupID, "group_index", regen.GroupIndex)
	return regen, nil
}

// BeginAttempt is called by the worker that dequeued the job. It performs the
// pending -> processing transition and returns the generation snapshot.
func (s *Service) BeginAttempt(ctx context.Context, id uuid.UUID) (*models.Generation, error) {
	claimed, err := s.repo.ClaimProcessing(ctx, id)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrAlreadyTerminal
	}
	g, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Complete drives processing -> completed. Requires at least one non-empty
// output key. Partial success (fewer outputs than requested variations) is
// still success.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, outputKeys []string) error {
	keys := make([]string, 0, len(outputKeys))
	for _, k := range outputKeys {
		if k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ErrNoOutputs
	}
	return s.repo.SetCompleted(ctx, id, keys)
}

// Fail drives processing -> failed and compensates the reservation for
// originals. Refund is idempotent, so a second failure path calling it again
// is harmless; regenerations reserved nothing and trigger no refund.
func (s *Service) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	if err := s.repo.SetFailed(ctx, id, reason); err != nil {
		return err
	}
	g, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !g.IsOriginal {
		return nil
	}
	if err := s.ledger.Refund(ctx, id); err != nil {
		return fmt.Errorf("refund credits: %w", err)
	}
	return nil
}

// Delete soft-deletes; the ledger history stays intact.
func (s *Service) Delete(ctx context.Context, id, callerPersonID uuid.UUID) error {
	ok, err := s.repo.SoftDelete(ctx, id, callerPersonID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotOwner
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Generation, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByOwner(ctx context.Context, ownerPersonID uuid.UUID) ([]*models.Generation, error) {
	return s.repo.ListByOwner(ctx, ownerPersonID)
}

func (s *Service) jobArgs(g *models.Generation, title string) jobs.GeneratePhotoArgs {
	primary := ""
	if len(g.InputImageKeys) > 0 {
		primary = g.InputImageKeys[0]
	}
	return jobs.GeneratePhotoArgs{
		GenerationID:    g.ID,
		OwnerPersonID:   g.OwnerPersonID,
		OwnerTeamID:     g.OwnerTeamID,
		Title:           title,
		PrimaryInputKey: primary,
		InputImageKeys:  g.InputImageKeys,
		StyleSettings:   g.StyleSettings,
		Prompt:          g.Prompt,
		ProviderModel:   g.Provider,
		Variations:      variationsFor(g),
		CreditSource:    g.CreditSource,
	}
}

// variationsFor reads the variation count out of the resolved settings when
// the package defines one.
func variationsFor(g *models.Generation) int {
	var v struct {
		Variations int `json:"variations"`
	}
	if err := json.Unmarshal(g.StyleSettings, &v); err == nil && v.Variations > 0 {
		return v.Variations
	}
	return 1
}

func defaultPrompt(packageID, title string) string {
	subject := "the subject"
	if title != "" {
		subject = title
	}
	switch packageID {
	case styles.PackageAvatar:
		return fmt.Sprintf("Create a stylized avatar portrait of %s based on the reference photos.", subject)
	default:
		return fmt.Sprintf("Create a professional studio headshot of %s based on the reference photos.", subject)
	}
}
