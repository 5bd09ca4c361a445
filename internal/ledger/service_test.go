package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/framelight/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory Store and TxRunner. The runner serializes transactions with a
// mutex, which is exactly the guarantee serializable isolation gives the
// production service.
// ---------------------------------------------------------------------------

type memStore struct {
	mu      sync.Mutex
	entries []*models.CreditTransaction
}

func (m *memStore) SumByScope(_ context.Context, _ pgx.Tx, scope Scope) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := 0
	for _, e := range m.entries {
		if e.Scope == scope.Kind && e.ScopeID == scope.ID {
			sum += e.Amount
		}
	}
	return sum, nil
}

func (m *memStore) InsertTx(_ context.Context, _ pgx.Tx, t *models.CreditTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	cp.CreatedAt = time.Now()
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *memStore) FindReservation(_ context.Context, _ pgx.Tx, generationID uuid.UUID) (*models.CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Type == models.CreditTxReserve && e.RelatedGenerationID != nil && *e.RelatedGenerationID == generationID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) HasRefund(_ context.Context, _ pgx.Tx, generationID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Type == models.CreditTxRefund && e.RelatedGenerationID != nil && *e.RelatedGenerationID == generationID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) byType(entryType string) []*models.CreditTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.CreditTransaction
	for _, e := range m.entries {
		if e.Type == entryType {
			out = append(out, e)
		}
	}
	return out
}

type memRunner struct {
	mu sync.Mutex
}

func (r *memRunner) WithTransaction(_ context.Context, _ pgx.TxIsoLevel, fn func(pgx.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(nil)
}

func newTestService() (Service, *memStore, *memRunner) {
	store := &memStore{}
	runner := &memRunner{}
	return NewService(store, runner, nil), store, runner
}

// reserve runs a reservation the way the generation service does: inside a
// runner-managed transaction.
func reserve(svc Service, runner *memRunner, source string, personID uuid.UUID, teamID *uuid.UUID, amount int, genID uuid.UUID) error {
	return runner.WithTransaction(context.Background(), pgx.Serializable, func(tx pgx.Tx) error {
		_, err := svc.ReserveTx(context.Background(), tx, source, personID, teamID, amount, genID)
		return err
	})
}

// ---------------------------------------------------------------------------
// Reservation
// ---------------------------------------------------------------------------

func TestReserveExactBalanceThenInsufficient(t *testing.T) {
	svc, store, runner := newTestService()
	person := uuid.New()
	ctx := context.Background()

	if err := svc.Allocate(ctx, PersonScope(person), 4, "signup grant"); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	// Exact balance succeeds and drains the scope.
	if err := reserve(svc, runner, models.CreditSourceIndividual, person, nil, 4, uuid.New()); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if bal, _ := svc.Balance(ctx, PersonScope(person)); bal != 0 {
		t.Errorf("balance after reserve: got %d, want 0", bal)
	}

	// A second reservation against the drained scope must fail with amounts.
	err := reserve(svc, runner, models.CreditSourceIndividual, person, nil, 4, uuid.New())
	var insufficient *InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientCreditsError, got %v", err)
	}
	if insufficient.Required != 4 || insufficient.Available != 0 {
		t.Errorf("error amounts: got required=%d available=%d, want 4/0", insufficient.Required, insufficient.Available)
	}
	if insufficient.Reason != ReasonPersonalShort {
		t.Errorf("reason: got %q, want %q", insufficient.Reason, ReasonPersonalShort)
	}

	// The failed attempt left no ledger entry behind.
	if got := len(store.byType(models.CreditTxReserve)); got != 1 {
		t.Errorf("reserve entries: got %d, want 1", got)
	}
}

func TestReserveConcurrentNoOverspend(t *testing.T) {
	svc, store, runner := newTestService()
	person := uuid.New()
	ctx := context.Background()

	const budget = 10
	const cost = 4
	if err := svc.Allocate(ctx, PersonScope(person), budget, "top-up"); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = reserve(svc, runner, models.CreditSourceIndividual, person, nil, cost, uuid.New())
		}()
	}
	wg.Wait()

	reserved := 0
	for _, e := range store.byType(models.CreditTxReserve) {
		reserved += -e.Amount
	}
	if reserved > budget {
		t.Errorf("over-spend: reserved %d credits against a balance of %d", reserved, budget)
	}
	if bal, _ := svc.Balance(ctx, PersonScope(person)); bal < 0 {
		t.Errorf("balance went negative: %d", bal)
	}
}

func TestReserveTeamSourceRequiresTeam(t *testing.T) {
	svc, _, runner := newTestService()

	err := reserve(svc, runner, models.CreditSourceTeam, uuid.New(), nil, 4, uuid.New())
	if !errors.Is(err, ErrCreditSourceMismatch) {
		t.Errorf("expected ErrCreditSourceMismatch, got %v", err)
	}
}

func TestReserveTeamShortSurfacesPersonalHint(t *testing.T) {
	svc, _, runner := newTestService()
	person := uuid.New()
	team := uuid.New()
	ctx := context.Background()

	// Team pool is empty but the person holds credits. The reservation still
	// fails; the personal allocation is reported as a hint, never used.
	if err := svc.Allocate(ctx, PersonScope(person), 12, "signup grant"); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	err := reserve(svc, runner, models.CreditSourceTeam, person, &team, 4, uuid.New())
	var insufficient *InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientCreditsError, got %v", err)
	}
	if insufficient.Reason != ReasonTeamPoolShort {
		t.Errorf("reason: got %q, want %q", insufficient.Reason, ReasonTeamPoolShort)
	}
	if insufficient.PersonalAvailable != 12 {
		t.Errorf("personal hint: got %d, want 12", insufficient.PersonalAvailable)
	}
	if bal, _ := svc.Balance(ctx, PersonScope(person)); bal != 12 {
		t.Errorf("personal balance was touched: got %d, want 12", bal)
	}
}

// ---------------------------------------------------------------------------
// Refund
// ---------------------------------------------------------------------------

func TestRefundIdempotent(t *testing.T) {
	svc, store, runner := newTestService()
	person := uuid.New()
	gen := uuid.New()
	ctx := context.Background()

	if err := svc.Allocate(ctx, PersonScope(person), 10, "top-up"); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := reserve(svc, runner, models.CreditSourceIndividual, person, nil, 4, gen); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// Worker failure handler and a manual retry may both call Refund.
	for i := 0; i < 5; i++ {
		if err := svc.Refund(ctx, gen); err != nil {
			t.Fatalf("Refund call %d: %v", i+1, err)
		}
	}

	refunds := store.byType(models.CreditTxRefund)
	if len(refunds) != 1 {
		t.Fatalf("refund entries: got %d, want 1", len(refunds))
	}
	if refunds[0].Amount != 4 {
		t.Errorf("refund amount: got %d, want 4", refunds[0].Amount)
	}
	if bal, _ := svc.Balance(ctx, PersonScope(person)); bal != 10 {
		t.Errorf("balance restored: got %d, want 10", bal)
	}
}

func TestRefundWithoutReservationIsNoop(t *testing.T) {
	svc, store, _ := newTestService()

	// Regenerations reserve nothing; refunding them writes nothing.
	if err := svc.Refund(context.Background(), uuid.New()); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if got := len(store.byType(models.CreditTxRefund)); got != 0 {
		t.Errorf("refund entries: got %d, want 0", got)
	}
}

// ---------------------------------------------------------------------------
// Transfer
// ---------------------------------------------------------------------------

func TestTransferMovesBalanceBetweenScopes(t *testing.T) {
	svc, _, _ := newTestService()
	person := uuid.New()
	team := uuid.New()
	ctx := context.Background()

	if err := svc.Allocate(ctx, TeamScope(team), 20, "plan purchase"); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := svc.Transfer(ctx, TeamScope(team), PersonScope(person), 5, "member allocation"); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	if bal, _ := svc.Balance(ctx, TeamScope(team)); bal != 15 {
		t.Errorf("team balance: got %d, want 15", bal)
	}
	if bal, _ := svc.Balance(ctx, PersonScope(person)); bal != 5 {
		t.Errorf("person balance: got %d, want 5", bal)
	}

	err := svc.Transfer(ctx, TeamScope(team), PersonScope(person), 100, "too much")
	var insufficient *InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Errorf("expected InsufficientCreditsError, got %v", err)
	}
}
