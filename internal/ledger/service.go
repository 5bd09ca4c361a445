package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/framelight/backend/internal/models"
)

// Scope identifies one balance in the ledger: a person or a team pool.
type Scope struct {
	Kind string
	ID   uuid.UUID
}

func PersonScope(id uuid.UUID) Scope { return Scope{Kind: models.CreditScopePerson, ID: id} }
func TeamScope(id uuid.UUID) Scope   { return Scope{Kind: models.CreditScopeTeam, ID: id} }

// Store is the minimal persistence interface the ledger logic needs. The
// pgx-backed Repository implements it; tests use an in-memory store.
type Store interface {
	SumByScope(ctx context.Context, tx pgx.Tx, scope Scope) (int, error)
	InsertTx(ctx context.Context, tx pgx.Tx, t *models.CreditTransaction) error
	FindReservation(ctx context.Context, tx pgx.Tx, generationID uuid.UUID) (*models.CreditTransaction, error)
	HasRefund(ctx context.Context, tx pgx.Tx, generationID uuid.UUID) (bool, error)
}

// Service is the credit ledger contract used by the generation pipeline.
type Service interface {
	// ReserveTx debits the source scope inside the caller's transaction. The
	// caller must run the transaction at serializable isolation (or hold an
	// equivalent lock) so two concurrent reservations cannot both observe a
	// stale "sufficient" balance.
	ReserveTx(ctx context.Context, tx pgx.Tx, source string, personID uuid.UUID, teamID *uuid.UUID, amount int, generationID uuid.UUID) (*models.CreditTransaction, error)
	// Refund compensates the reservation made for a generation. Idempotent:
	// calling it any number of times records at most one refund, and it is a
	// silent no-op for generations that never reserved (regenerations).
	Refund(ctx context.Context, generationID uuid.UUID) error
	Balance(ctx context.Context, scope Scope) (int, error)
	Allocate(ctx context.Context, scope Scope, amount int, description string) error
	Transfer(ctx context.Context, from, to Scope, amount int, description string) error
}

type service struct {
	store Store
	run   TxRunner
	log   *slog.Logger
}

func NewService(store Store, run TxRunner, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &service{store: store, run: run, log: log}
}

var _ Service = (*service)(nil)

func (s *service) ReserveTx(ctx context.Context, tx pgx.Tx, source string, personID uuid.UUID, teamID *uuid.UUID, amount int, generationID uuid.UUID) (*models.CreditTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("reservation amount must be positive, got %d", amount)
	}

	var scope Scope
	switch source {
	case models.CreditSourceIndividual:
		scope = PersonScope(personID)
	case models.CreditSourceTeam:
		// A team-sourced generation settles against the team pool, full stop.
		// Missing team ownership is a hard error, not a fallback to personal.
		if teamID == nil {
			return nil, ErrCreditSourceMismatch
		}
		scope = TeamScope(*teamID)
	default:
		return nil, fmt.Errorf("unknown credit source %q", source)
	}

	balance, err := s.store.SumByScope(ctx, tx, scope)
	if err != nil {
		return nil, fmt.Errorf("compute balance: %w", err)
	}
	if balance < amount {
		insufficient := &InsufficientCreditsError{
			Scope:     scope,
			Required:  amount,
			Available: balance,
			Reason:    ReasonPersonalShort,
		}
		if scope.Kind == models.CreditScopeTeam {
			insufficient.Reason = ReasonTeamPoolShort
			// Surface the personal allocation as a hint only. Product policy:
			// the user is told credits exist elsewhere, nothing is substituted.
			if personal, perr := s.store.SumByScope(ctx, tx, PersonScope(personID)); perr == nil {
				insufficient.PersonalAvailable = personal
			}
		}
		return nil, insufficient
	}

	entry := &models.CreditTransaction{
		ID:                  uuid.New(),
		Scope:               scope.Kind,
		ScopeID:             scope.ID,
		Amount:              -amount,
		Type:                models.CreditTxReserve,
		RelatedGenerationID: &generationID,
		Description:         fmt.Sprintf("reserve %d credits for generation %s", amount, generationID),
	}
	if err := s.store.InsertTx(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("insert reservation: %w", err)
	}
	return entry, nil
}

func (s *service) Refund(ctx context.Context, generationID uuid.UUID) error {
	return s.run.WithTransaction(ctx, pgx.Serializable, func(tx pgx.Tx) error {
		reservation, err := s.store.FindReservation(ctx, tx, generationID)
		if err != nil {
			return fmt.Errorf("find reservation: %w", err)
		}
		if reservation == nil {
			// Nothing was reserved (regeneration), nothing to compensate.
			return nil
		}
		refunded, err := s.store.HasRefund(ctx, tx, generationID)
		if err != nil {
			return fmt.Errorf("check existing refund: %w", err)
		}
		if refunded {
			s.log.Info("refund already recorded, skipping", "generation_id", generationID)
			return nil
		}
		entry := &models.CreditTransaction{
			ID:                  uuid.New(),
			Scope:               reservation.Scope,
			ScopeID:             reservation.ScopeID,
			Amount:              -reservation.Amount,
			Type:                models.CreditTxRefund,
			RelatedGenerationID: &generationID,
			Description:         fmt.Sprintf("refund %d credits for failed generation %s", -reservation.Amount, generationID),
		}
		return s.store.InsertTx(ctx, tx, entry)
	})
}

func (s *service) Balance(ctx context.Context, scope Scope) (int, error) {
	var balance int
	err := s.run.WithTransaction(ctx, pgx.ReadCommitted, func(tx pgx.Tx) error {
		var err error
		balance, err = s.store.SumByScope(ctx, tx, scope)
		return err
	})
	return balance, err
}

func (s *service) Allocate(ctx context.Context, scope Scope, amount int, description string) error {
	if amount <= 0 {
		return fmt.Errorf("allocation amount must be positive, got %d", amount)
	}
	return s.run.WithTransaction(ctx, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return s.store.InsertTx(ctx, tx, &models.CreditTransaction{
			ID:          uuid.New(),
			Scope:       scope.Kind,
			ScopeID:     scope.ID,
			Amount:      amount,
			Type:        models.CreditTxAllocate,
			Description: description,
		})
	})
}

func (s *service) Transfer(ctx context.Context, from, to Scope, amount int, description string) error {
	if amount <= 0 {
		return fmt.Errorf("transfer amount must be positive, got %d", amount)
	}
	return s.run.WithTransaction(ctx, pgx.Serializable, func(tx pgx.Tx) error {
		balance, err := s.store.SumByScope(ctx, tx, from)
		if err != nil {
			return fmt.Errorf("compute source balance: %w", err)
		}
		if balance < amount {
			return &InsufficientCreditsError{
				Scope:     from,
				Required:  amount,
				Available: balance,
				Reason:    reasonFor(from),
			}
		}
		if err := s.store.InsertTx(ctx, tx, &models.CreditTransaction{
			ID: uuid.New(), Scope: from.Kind, ScopeID: from.ID,
			Amount: -amount, Type: models.CreditTxTransfer, Description: description,
		}); err != nil {
			return err
		}
		return s.store.InsertTx(ctx, tx, &models.CreditTransaction{
			ID: uuid.New(), Scope: to.Kind, ScopeID: to.ID,
			Amount: amount, Type: models.CreditTxTransfer, Description: description,
		})
	})
}

func reasonFor(scope Scope) string {
	if scope.Kind == models.CreditScopeTeam {
		return ReasonTeamPoolShort
	}
	return ReasonPersonalShort
}
