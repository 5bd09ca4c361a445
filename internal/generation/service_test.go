package generation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/framelight/backend/internal/jobs"
	"github.com/framelight/backend/internal/ledger"
	"github.com/framelight/backend/internal/models"
	"github.com/framelight/backend/internal/styles"
)

// ----------------------------------------------------------------------------
// In-memory collaborators
// ----------------------------------------------------------------------------

type memGenRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*models.Generation
}

func newMemGenRepo() *memGenRepo {
	return &memGenRepo{rows: make(map[uuid.UUID]*models.Generation)}
}

func (m *memGenRepo) CreateTx(_ context.Context, _ pgx.Tx, g *models.Generation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *g
	m.rows[g.ID] = &cp
	return nil
}

func (m *memGenRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, ErrGenerationNotFound
	}
	cp := *row
	return &cp, nil
}

func (m *memGenRepo) GetForUpdateTx(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.Generation, error) {
	return m.GetByID(ctx, id)
}

func (m *memGenRepo) MaxGroupIndexTx(_ context.Context, _ pgx.Tx, groupID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, row := range m.rows {
		if row.GenerationGroupID == groupID && row.GroupIndex > max {
			max = row.GroupIndex
		}
	}
	return max, nil
}

func (m *memGenRepo) DecrementRemainingTx(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.rows[id]
	if row.RemainingRegenerations <= 0 {
		return ErrRegenerationQuotaExhausted
	}
	row.RemainingRegenerations--
	return nil
}

func (m *memGenRepo) ClaimProcessing(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return false, nil
	}
	if row.Status != models.GenerationStatusPending && row.Status != models.GenerationStatusProcessing {
		return false, nil
	}
	row.Status = models.GenerationStatusProcessing
	return true, nil
}

func (m *memGenRepo) SetCompleted(_ context.Context, id uuid.UUID, outputKeys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.rows[id]
	row.Status = models.GenerationStatusCompleted
	row.OutputImageKeys = outputKeys
	row.ErrorMessage = nil
	return nil
}

func (m *memGenRepo) SetFailed(_ context.Context, id uuid.UUID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.rows[id]
	row.Status = models.GenerationStatusFailed
	row.ErrorMessage = &message
	return nil
}

func (m *memGenRepo) SoftDelete(_ context.Context, id, ownerPersonID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.OwnerPersonID != ownerPersonID {
		return false, nil
	}
	row.Deleted = true
	return true, nil
}

func (m *memGenRepo) ListByOwner(_ context.Context, ownerPersonID uuid.UUID) ([]*models.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*models.Generation
	for _, row := range m.rows {
		if row.OwnerPersonID == ownerPersonID && !row.Deleted {
			cp := *row
			list = append(list, &cp)
		}
	}
	return list, nil
}

type memLedger struct {
	mu       sync.Mutex
	balance  int
	reserved map[uuid.UUID]int
	refunds  int
}

func newMemLedger(balance int) *memLedger {
	return &memLedger{balance: balance, reserved: make(map[uuid.UUID]int)}
}

func (m *memLedger) ReserveTx(_ context.Context, _ pgx.Tx, source string, personID uuid.UUID, _ *uuid.UUID, amount int, generationID uuid.UUID) (*models.CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balance < amount {
		return nil, &ledger.InsufficientCreditsError{
			Scope:     ledger.PersonScope(personID),
			Required:  amount,
			Available: m.balance,
			Reason:    ledger.ReasonPersonalShort,
		}
	}
	m.balance -= amount
	m.reserved[generationID] = amount
	return &models.CreditTransaction{ID: uuid.New(), Amount: -amount, Type: models.CreditTxReserve}, nil
}

func (m *memLedger) Refund(_ context.Context, generationID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	amount, ok := m.reserved[generationID]
	if !ok {
		return nil
	}
	delete(m.reserved, generationID)
	m.balance += amount
	m.refunds++
	return nil
}

type memEnqueuer struct {
	mu       sync.Mutex
	enqueued []jobs.GeneratePhotoArgs
	fail     error
}

func (m *memEnqueuer) EnqueueTx(_ context.Context, _ pgx.Tx, args jobs.GeneratePhotoArgs, _ int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return false, m.fail
	}
	m.enqueued = append(m.enqueued, args)
	return true, nil
}

// memRunner serializes transactions with a mutex and rolls nothing back; the
// service tests assert observable outcomes, not rollback mechanics, except
// where a step fails before any mutation.
type memRunner struct{ mu sync.Mutex }

func (m *memRunner) WithTransaction(_ context.Context, _ pgx.TxIsoLevel, fn func(pgx.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(nil)
}

func newTestService(balance, maxRegens int) (*Service, *memGenRepo, *memLedger, *memEnqueuer) {
	repo := newMemGenRepo()
	led := newMemLedger(balance)
	queue := &memEnqueuer{}
	resolver := styles.NewResolver(styles.DefaultRegistry(), nil, nil)
	svc := NewService(repo, led, queue, resolver, &memRunner{}, 4, maxRegens, nil)
	return svc, repo, led, queue
}

func create(t *testing.T, svc *Service, person uuid.UUID) *models.Generation {
	t.Helper()
	g, err := svc.Create(context.Background(), CreateParams{
		OwnerPersonID:  person,
		CreditSource:   models.CreditSourceIndividual,
		PackageID:      styles.PackageHeadshot,
		Title:          "Ana",
		InputImageKeys: []string{"uploads/a.png", "uploads/b.png"},
		ProviderModel:  "framelight-v2",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return g
}

// ----------------------------------------------------------------------------
// Creation
// ----------------------------------------------------------------------------

func TestCreateReservesAndEnqueues(t *testing.T) {
	svc, repo, led, queue := newTestService(10, 3)
	person := uuid.New()

	g := create(t, svc, person)

	if g.Status != models.GenerationStatusPending || !g.IsOriginal || g.GroupIndex != 0 {
		t.Errorf("unexpected new generation: %+v", g)
	}
	if g.RemainingRegenerations != 3 || g.MaxRegenerations != 3 {
		t.Errorf("quota not initialized: %+v", g)
	}
	if led.balance != 6 {
		t.Errorf("balance after reserve: got %d, want 6", led.balance)
	}
	if len(queue.enqueued) != 1 || queue.enqueued[0].GenerationID != g.ID {
		t.Errorf("job not enqueued for generation")
	}
	if _, err := repo.GetByID(context.Background(), g.ID); err != nil {
		t.Errorf("generation not persisted: %v", err)
	}
}

func TestCreateInsufficientCreditsWritesNothing(t *testing.T) {
	svc, repo, _, queue := newTestService(2, 3)
	person := uuid.New()

	_, err := svc.Create(context.Background(), CreateParams{
		OwnerPersonID:  person,
		CreditSource:   models.CreditSourceIndividual,
		PackageID:      styles.PackageHeadshot,
		InputImageKeys: []string{"uploads/a.png"},
	})
	var insufficient *ledger.InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientCreditsError, got %v", err)
	}
	if insufficient.Required != 4 || insufficient.Available != 2 {
		t.Errorf("error amounts: %+v", insufficient)
	}

	repo.mu.Lock()
	stored := len(repo.rows)
	repo.mu.Unlock()
	if stored != 0 {
		t.Error("rejected request must not persist a generation")
	}
	if len(queue.enqueued) != 0 {
		t.Error("rejected request must not enqueue a job")
	}
}

func TestCreateRequiresInputImages(t *testing.T) {
	svc, _, _, _ := newTestService(10, 3)
	_, err := svc.Create(context.Background(), CreateParams{
		OwnerPersonID: uuid.New(),
		PackageID:     styles.PackageHeadshot,
	})
	if !errors.Is(err, ErrNoInputImages) {
		t.Errorf("expected ErrNoInputImages, got %v", err)
	}
}

// ----------------------------------------------------------------------------
// Regeneration
// ----------------------------------------------------------------------------

func TestRegenerateQuotaAndIndexes(t *testing.T) {
	svc, _, led, queue := newTestService(10, 3)
	person := uuid.New()
	orig := create(t, svc, person)
	balanceAfterCreate := led.balance

	for want := 1; want <= 3; want++ {
		regen, err := svc.Regenerate(context.Background(), orig.ID, person)
		if err != nil {
			t.Fatalf("regenerate %d: %v", want, err)
		}
		if regen.GroupIndex != want {
			t.Errorf("group index: got %d, want %d", regen.GroupIndex, want)
		}
		if regen.IsOriginal || regen.CreditsUsed != 0 {
			t.Errorf("regeneration must be zero-cost non-original: %+v", regen)
		}
		if regen.GenerationGroupID != orig.GenerationGroupID {
			t.Error("regeneration left the group")
		}
	}

	if led.balance != balanceAfterCreate {
		t.Errorf("regenerations consumed credits: %d -> %d", balanceAfterCreate, led.balance)
	}
	if _, err := svc.Regenerate(context.Background(), orig.ID, person); !errors.Is(err, ErrRegenerationQuotaExhausted) {
		t.Errorf("fourth regeneration: expected quota error, got %v", err)
	}
	// Original create + three regenerations, each its own job.
	if len(queue.enqueued) != 4 {
		t.Errorf("enqueued jobs: got %d, want 4", len(queue.enqueued))
	}
}

func TestRegenerateOnlyFromOriginal(t *testing.T) {
	svc, _, _, _ := newTestService(10, 3)
	person := uuid.New()
	orig := create(t, svc, person)

	regen, err := svc.Regenerate(context.Background(), orig.ID, person)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if _, err := svc.Regenerate(context.Background(), regen.ID, person); !errors.Is(err, ErrNotOriginal) {
		t.Errorf("expected ErrNotOriginal, got %v", err)
	}
}

func TestRegenerateOwnershipCheck(t *testing.T) {
	svc, _, _, _ := newTestService(10, 3)
	orig := create(t, svc, uuid.New())
	if _, err := svc.Regenerate(context.Background(), orig.ID, uuid.New()); !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}
}

// ----------------------------------------------------------------------------
// Lifecycle transitions
// ----------------------------------------------------------------------------

func TestCompleteRequiresOutputs(t *testing.T) {
	svc, repo, _, _ := newTestService(10, 3)
	person := uuid.New()
	g := create(t, svc, person)

	if err := svc.Complete(context.Background(), g.ID, nil); !errors.Is(err, ErrNoOutputs) {
		t.Errorf("empty outputs: expected ErrNoOutputs, got %v", err)
	}
	if err := svc.Complete(context.Background(), g.ID, []string{"", ""}); !errors.Is(err, ErrNoOutputs) {
		t.Errorf("blank outputs: expected ErrNoOutputs, got %v", err)
	}

	if err := svc.Complete(context.Background(), g.ID, []string{"generated/x/photo-01.png", ""}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	stored, _ := repo.GetByID(context.Background(), g.ID)
	if stored.Status != models.GenerationStatusCompleted || len(stored.OutputImageKeys) != 1 {
		t.Errorf("completed row: %+v", stored)
	}
}

func TestFailRefundsOriginalOnce(t *testing.T) {
	svc, repo, led, _ := newTestService(10, 3)
	person := uuid.New()
	g := create(t, svc, person)

	if err := svc.Fail(context.Background(), g.ID, "provider timeout"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	// Refund is idempotent downstream, a second Fail must not double-credit.
	if err := svc.Fail(context.Background(), g.ID, "provider timeout"); err != nil {
		t.Fatalf("second Fail: %v", err)
	}

	if led.balance != 10 {
		t.Errorf("balance after refund: got %d, want 10", led.balance)
	}
	if led.refunds != 1 {
		t.Errorf("refund entries: got %d, want 1", led.refunds)
	}
	stored, _ := repo.GetByID(context.Background(), g.ID)
	if stored.Status != models.GenerationStatusFailed || stored.ErrorMessage == nil {
		t.Errorf("failed row: %+v", stored)
	}
}

func TestFailedRegenerationDoesNotRefund(t *testing.T) {
	svc, _, led, _ := newTestService(10, 3)
	person := uuid.New()
	orig := create(t, svc, person)
	regen, err := svc.Regenerate(context.Background(), orig.ID, person)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}

	if err := svc.Fail(context.Background(), regen.ID, "provider timeout"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if led.refunds != 0 {
		t.Errorf("regeneration failure recorded a refund")
	}
	if led.balance != 6 {
		t.Errorf("original reservation must stand: got %d, want 6", led.balance)
	}
}

func TestBeginAttemptRefusesTerminal(t *testing.T) {
	svc, _, _, _ := newTestService(10, 3)
	person := uuid.New()
	g := create(t, svc, person)

	got, err := svc.BeginAttempt(context.Background(), g.ID)
	if err != nil {
		t.Fatalf("BeginAttempt: %v", err)
	}
	if got.Status != models.GenerationStatusProcessing {
		t.Errorf("status after claim: %s", got.Status)
	}

	// A retried attempt may reclaim while still processing.
	if _, err := svc.BeginAttempt(context.Background(), g.ID); err != nil {
		t.Errorf("reclaim while processing: %v", err)
	}

	if err := svc.Complete(context.Background(), g.ID, []string{"generated/x/photo-01.png"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.BeginAttempt(context.Background(), g.ID); !errors.Is(err, ErrAlreadyTerminal) {
		t.Errorf("expected ErrAlreadyTerminal, got %v", err)
	}
}

func TestDeleteIsOwnerGuardedSoftDelete(t *testing.T) {
	svc, _, _, _ := newTestService(10, 3)
	person := uuid.New()
	g := create(t, svc, person)

	if err := svc.Delete(context.Background(), g.ID, uuid.New()); !errors.Is(err, ErrNotOwner) {
		t.Errorf("stranger delete: expected ErrNotOwner, got %v", err)
	}
	if err := svc.Delete(context.Background(), g.ID, person); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	list, err := svc.ListByOwner(context.Background(), person)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Error("deleted generation still listed")
	}
}
