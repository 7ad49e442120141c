package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/pixelmuse/backend/internal/models"
	"github.com/pixelmuse/backend/internal/observability"
)

// ---------------------------------------------------------------------------
// In-memory mocks for BalanceStore, TransactionLog and TeamStore.
// These let us test the real Engine logic without a database.
// ---------------------------------------------------------------------------

type mockBalances struct {
	mu       sync.Mutex
	balances map[int64]*models.CreditBalance
}

func newMockBalances(bs ...*models.CreditBalance) *mockBalances {
	m := &mockBalances{balances: make(map[int64]*models.CreditBalance)}
	for _, b := range bs {
		cp := *b
		m.balances[b.TeamID] = &cp
	}
	return m
}

func (m *mockBalances) GetForUpdate(_ context.Context, _ pgx.Tx, teamID int64) (*models.CreditBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[teamID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *b
	return &cp, nil
}

func (m *mockBalances) CreateTx(_ context.Context, _ pgx.Tx, teamID int64, next time.Time) (*models.CreditBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := &models.CreditBalance{TeamID: teamID, NextReplenishmentAt: next}
	m.balances[teamID] = b
	cp := *b
	return &cp, nil
}

func (m *mockBalances) UpdateAmountsTx(_ context.Context, _ pgx.Tx, teamID int64, available, reserved, bonus decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[teamID]
	if !ok {
		return pgx.ErrNoRows
	}
	b.AvailableCredits = available
	b.ReservedCredits = reserved
	b.BonusCredits = bonus
	return nil
}

func (m *mockBalances) ResetTx(_ context.Context, _ pgx.Tx, teamID int64, allocation decimal.Decimal, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[teamID]
	if !ok {
		return pgx.ErrNoRows
	}
	b.AvailableCredits = allocation
	b.TotalAllocated = allocation
	b.ReservedCredits = decimal.Zero
	b.BonusCredits = decimal.Zero
	b.LastReplenishmentAt = time.Now()
	b.NextReplenishmentAt = next
	return nil
}

func (m *mockBalances) get(teamID int64) models.CreditBalance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.balances[teamID]
}

// ---

type mockLog struct {
	mu      sync.Mutex
	nextID  int64
	entries []*models.CreditTransaction
}

func (m *mockLog) CreateTx(_ context.Context, _ pgx.Tx, t *models.CreditTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	cp := *t
	cp.ID = m.nextID
	t.ID = m.nextID
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *mockLog) GetByIDTx(_ context.Context, _ pgx.Tx, id int64) (*models.CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockLog) byType(txType string) []*models.CreditTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.CreditTransaction
	for _, e := range m.entries {
		if e.TransactionType == txType {
			out = append(out, e)
		}
	}
	return out
}

// ---

type mockTeams struct {
	teams map[int64]*models.Team
}

func (m *mockTeams) GetByIDTx(_ context.Context, _ pgx.Tx, id int64) (*models.Team, error) {
	t, ok := m.teams[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

// fakeTx satisfies pgx.Tx for the standalone engine methods; only Commit and
// Rollback are ever called against it.
type fakeTx struct{ pgx.Tx }

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }

type fakeDB struct{}

func (fakeDB) Begin(context.Context) (pgx.Tx, error) { return fakeTx{}, nil }

// serialDB hands out transactions that hold an exclusive lock until commit
// or rollback, the way a FOR UPDATE row lock serializes writers on one
// balance row.
type serialDB struct{ mu sync.Mutex }

func (d *serialDB) Begin(context.Context) (pgx.Tx, error) {
	d.mu.Lock()
	return &serialTx{db: d}, nil
}

type serialTx struct {
	pgx.Tx
	db   *serialDB
	done bool
}

func (t *serialTx) Commit(context.Context) error   { t.release(); return nil }
func (t *serialTx) Rollback(context.Context) error { t.release(); return nil }

func (t *serialTx) release() {
	if !t.done {
		t.done = true
		t.db.mu.Unlock()
	}
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func balance(teamID int64, available, reserved, total string) *models.CreditBalance {
	return &models.CreditBalance{
		TeamID:           teamID,
		AvailableCredits: dec(available),
		ReservedCredits:  dec(reserved),
		TotalAllocated:   dec(total),
	}
}

func newTestEngine(balances *mockBalances, log *mockLog, teams *mockTeams) *Engine {
	if teams == nil {
		teams = &mockTeams{teams: map[int64]*models.Team{}}
	}
	metrics := observability.NewWithRegistry(prometheus.NewRegistry())
	return NewEngine(fakeDB{}, balances, log, teams, metrics)
}

// ---------------------------------------------------------------------------
// Reserve
// ---------------------------------------------------------------------------

func TestReservePlacesHold(t *testing.T) {
	const team = int64(1)
	jobID := uuid.New()

	balances := newMockBalances(balance(team, "100.00", "0", "100.00"))
	log := &mockLog{}
	engine := newTestEngine(balances, log, nil)

	ctx := context.Background()
	ok, err := engine.ReserveTx(ctx, nil, team, dec("21.60"), models.JobTypeImageGeneration, &jobID, nil)
	if err != nil {
		t.Fatalf("ReserveTx: %v", err)
	}
	if !ok {
		t.Fatal("expected reservation to succeed")
	}

	b := balances.get(team)
	if !b.AvailableCredits.Equal(dec("78.40")) {
		t.Errorf("available after reserve: got %s, want 78.40", b.AvailableCredits)
	}
	if !b.ReservedCredits.Equal(dec("21.60")) {
		t.Errorf("reserved after reserve: got %s, want 21.60", b.ReservedCredits)
	}

	entries := log.byType(models.TxTypeReservation)
	if len(entries) != 1 {
		t.Fatalf("reservation entries: got %d, want 1", len(entries))
	}
	e := entries[0]
	if !e.BalanceBefore.Equal(dec("100.00")) || !e.BalanceAfter.Equal(dec("78.40")) {
		t.Errorf("reservation before/after: got %s/%s, want 100.00/78.40", e.BalanceBefore, e.BalanceAfter)
	}
	if e.JobID == nil || *e.JobID != jobID {
		t.Error("reservation entry should reference the job")
	}
	if e.OperationType != models.JobTypeImageGeneration {
		t.Errorf("operation type: got %q", e.OperationType)
	}
}

func TestReserveInsufficientFunds(t *testing.T) {
	const team = int64(1)

	balances := newMockBalances(balance(team, "10.00", "0", "100.00"))
	log := &mockLog{}
	engine := newTestEngine(balances, log, nil)

	ok, err := engine.ReserveTx(context.Background(), nil, team, dec("10.01"), models.JobTypeImageGeneration, nil, nil)
	if err != nil {
		t.Fatalf("ReserveTx: %v", err)
	}
	if ok {
		t.Fatal("expected reservation to fail")
	}

	// Balance untouched, no ledger entry.
	b := balances.get(team)
	if !b.AvailableCredits.Equal(dec("10.00")) || !b.ReservedCredits.IsZero() {
		t.Errorf("balance should be untouched: available=%s reserved=%s", b.AvailableCredits, b.ReservedCredits)
	}
	if len(log.entries) != 0 {
		t.Errorf("expected 0 ledger entries, got %d", len(log.entries))
	}

	// An exact-amount reservation still succeeds.
	ok, err = engine.ReserveTx(context.Background(), nil, team, dec("10.00"), models.JobTypeImageGeneration, nil, nil)
	if err != nil || !ok {
		t.Fatalf("exact-amount reserve: ok=%v err=%v", ok, err)
	}
}

func TestReserveRejectsNonPositiveAmount(t *testing.T) {
	balances := newMockBalances(balance(1, "100.00", "0", "100.00"))
	engine := newTestEngine(balances, &mockLog{}, nil)

	if _, err := engine.ReserveTx(context.Background(), nil, 1, decimal.Zero, "x", nil, nil); !errors.Is(err, ErrNonPositiveAmount) {
		t.Errorf("zero amount: got %v, want ErrNonPositiveAmount", err)
	}
	if _, err := engine.ReserveTx(context.Background(), nil, 1, dec("-5"), "x", nil, nil); !errors.Is(err, ErrNonPositiveAmount) {
		t.Errorf("negative amount: got %v, want ErrNonPositiveAmount", err)
	}
}

func TestReserveUnknownTeam(t *testing.T) {
	engine := newTestEngine(newMockBalances(), &mockLog{}, nil)
	_, err := engine.ReserveTx(context.Background(), nil, 42, dec("1"), "x", nil, nil)
	if !errors.Is(err, ErrBalanceNotFound) {
		t.Errorf("got %v, want ErrBalanceNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// Deduct and Refund
// ---------------------------------------------------------------------------

func TestDeductFinalizesReservation(t *testing.T) {
	const team = int64(1)
	jobID := uuid.New()

	balances := newMockBalances(balance(team, "78.40", "21.60", "100.00"))
	log := &mockLog{}
	engine := newTestEngine(balances, log, nil)

	if err := engine.DeductTx(context.Background(), nil, team, dec("21.60"), models.JobTypeImageGeneration, jobID, nil); err != nil {
		t.Fatalf("DeductTx: %v", err)
	}

	// Available untouched, reserved drained.
	b := balances.get(team)
	if !b.AvailableCredits.Equal(dec("78.40")) {
		t.Errorf("available after deduct: got %s, want 78.40", b.AvailableCredits)
	}
	if !b.ReservedCredits.IsZero() {
		t.Errorf("reserved after deduct: got %s, want 0", b.ReservedCredits)
	}
	if !b.UsedCredits().Equal(dec("21.60")) {
		t.Errorf("used credits: got %s, want 21.60", b.UsedCredits())
	}

	entries := log.byType(models.TxTypeDeduction)
	if len(entries) != 1 {
		t.Fatalf("deduction entries: got %d, want 1", len(entries))
	}
	// Deductions track the reserved column.
	if !entries[0].BalanceBefore.Equal(dec("21.60")) || !entries[0].BalanceAfter.IsZero() {
		t.Errorf("deduction before/after: got %s/%s, want 21.60/0", entries[0].BalanceBefore, entries[0].BalanceAfter)
	}
}

func TestRefundReleasesHold(t *testing.T) {
	const team = int64(1)
	jobID := uuid.New()

	balances := newMockBalances(balance(team, "78.40", "21.60", "100.00"))
	log := &mockLog{}
	engine := newTestEngine(balances, log, nil)

	if err := engine.RefundTx(context.Background(), nil, team, dec("21.60"), jobID, "Job failed at provider"); err != nil {
		t.Fatalf("RefundTx: %v", err)
	}

	b := balances.get(team)
	if !b.AvailableCredits.Equal(dec("100.00")) || !b.ReservedCredits.IsZero() {
		t.Errorf("balance after refund: available=%s reserved=%s", b.AvailableCredits, b.ReservedCredits)
	}

	refunds := log.byType(models.TxTypeRefund)
	if len(refunds) != 1 {
		t.Fatalf("refund entries: got %d, want 1", len(refunds))
	}
	if refunds[0].Metadata["reason"] != "Job failed at provider" {
		t.Errorf("refund reason: got %v", refunds[0].Metadata["reason"])
	}
}

// Full cycle: every credit that leaves available is accounted for by exactly
// one reservation, and comes back either as a deduction (spent) or a refund.
func TestLedgerConservation(t *testing.T) {
	const team = int64(1)

	balances := newMockBalances(balance(team, "315.00", "0", "315.00"))
	log := &mockLog{}
	engine := newTestEngine(balances, log, nil)
	ctx := context.Background()

	jobA, jobB := uuid.New(), uuid.New()

	if ok, err := engine.ReserveTx(ctx, nil, team, dec("50.00"), models.JobTypeModelCreation, &jobA, nil); err != nil || !ok {
		t.Fatalf("reserve A: ok=%v err=%v", ok, err)
	}
	if ok, err := engine.ReserveTx(ctx, nil, team, dec("21.60"), models.JobTypeImageGeneration, &jobB, nil); err != nil || !ok {
		t.Fatalf("reserve B: ok=%v err=%v", ok, err)
	}
	// A completes, B fails.
	if err := engine.DeductTx(ctx, nil, team, dec("50.00"), models.JobTypeModelCreation, jobA, nil); err != nil {
		t.Fatalf("deduct A: %v", err)
	}
	if err := engine.RefundTx(ctx, nil, team, dec("21.60"), jobB, "provider error"); err != nil {
		t.Fatalf("refund B: %v", err)
	}

	b := balances.get(team)
	if !b.AvailableCredits.Equal(dec("265.00")) {
		t.Errorf("available: got %s, want 265.00", b.AvailableCredits)
	}
	if !b.ReservedCredits.IsZero() {
		t.Errorf("reserved: got %s, want 0", b.ReservedCredits)
	}
	if !b.UsedCredits().Equal(dec("50.00")) {
		t.Errorf("used: got %s, want 50.00", b.UsedCredits())
	}

	// available + reserved + used == total allocated, always.
	sum := b.AvailableCredits.Add(b.ReservedCredits).Add(b.UsedCredits())
	if !sum.Equal(b.TotalAllocated) {
		t.Errorf("conservation violated: %s != %s", sum, b.TotalAllocated)
	}
}

// Racing reservations against one balance must never hand out more than the
// available amount. The row lock serializes them; losers see the drained
// balance and fail cleanly.
func TestConcurrentReservesNeverOverdraw(t *testing.T) {
	const team = int64(1)
	const workers = 25
	each := dec("9.00")

	balances := newMockBalances(balance(team, "100.00", "0", "100.00"))
	log := &mockLog{}
	teams := &mockTeams{teams: map[int64]*models.Team{}}
	metrics := observability.NewWithRegistry(prometheus.NewRegistry())
	engine := NewEngine(&serialDB{}, balances, log, teams, metrics)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			jobID := uuid.New()
			ok, err := engine.Reserve(ctx, team, each, models.JobTypeImageGeneration, &jobID, nil)
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			results[i] = ok
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, ok := range results {
		if ok {
			succeeded++
		}
	}
	// 100.00 holds exactly 11 reservations of 9.00.
	if succeeded != 11 {
		t.Errorf("successful reservations: got %d, want 11", succeeded)
	}

	b := balances.get(team)
	held := each.Mul(decimal.NewFromInt(int64(succeeded)))
	if held.GreaterThan(dec("100.00")) {
		t.Errorf("overdraw: %s reserved from 100.00 available", held)
	}
	if !b.ReservedCredits.Equal(held) || !b.AvailableCredits.Equal(dec("100.00").Sub(held)) {
		t.Errorf("balance after race: available=%s reserved=%s, want %s/%s",
			b.AvailableCredits, b.ReservedCredits, dec("100.00").Sub(held), held)
	}
	if got := len(log.byType(models.TxTypeReservation)); got != succeeded {
		t.Errorf("reservation entries: got %d, want %d", got, succeeded)
	}
}

// The transaction log alone must reproduce the stored balance: replaying
// every entry over the starting snapshot lands on the same numbers the
// balance row holds.
func TestLogReplaysToStoredBalance(t *testing.T) {
	const team = int64(1)

	start := balance(team, "315.00", "0", "315.00")
	balances := newMockBalances(start)
	log := &mockLog{}
	engine := newTestEngine(balances, log, nil)
	ctx := context.Background()

	jobA, jobB := uuid.New(), uuid.New()
	if ok, err := engine.ReserveTx(ctx, nil, team, dec("50.00"), models.JobTypeModelCreation, &jobA, nil); err != nil || !ok {
		t.Fatalf("reserve A: ok=%v err=%v", ok, err)
	}
	if ok, err := engine.ReserveTx(ctx, nil, team, dec("21.60"), models.JobTypeImageGeneration, &jobB, nil); err != nil || !ok {
		t.Fatalf("reserve B: ok=%v err=%v", ok, err)
	}
	if err := engine.DeductTx(ctx, nil, team, dec("50.00"), models.JobTypeModelCreation, jobA, nil); err != nil {
		t.Fatalf("deduct A: %v", err)
	}
	if err := engine.RefundTx(ctx, nil, team, dec("21.60"), jobB, "provider error"); err != nil {
		t.Fatalf("refund B: %v", err)
	}
	if err := engine.AddBonus(ctx, team, dec("10.00"), "support credit"); err != nil {
		t.Fatalf("bonus: %v", err)
	}

	available := start.AvailableCredits
	reserved := start.ReservedCredits
	bonus := start.BonusCredits
	for _, e := range log.entries {
		switch e.TransactionType {
		case models.TxTypeReservation:
			available = available.Sub(e.Amount)
			reserved = reserved.Add(e.Amount)
		case models.TxTypeDeduction:
			reserved = reserved.Sub(e.Amount)
		case models.TxTypeRefund:
			available = available.Add(e.Amount)
			reserved = reserved.Sub(e.Amount)
		case models.TxTypeBonus:
			available = available.Add(e.Amount)
			bonus = bonus.Add(e.Amount)
		default:
			t.Fatalf("unexpected entry type %q", e.TransactionType)
		}
	}

	b := balances.get(team)
	if !available.Equal(b.AvailableCredits) {
		t.Errorf("replayed available %s != stored %s", available, b.AvailableCredits)
	}
	if !reserved.Equal(b.ReservedCredits) {
		t.Errorf("replayed reserved %s != stored %s", reserved, b.ReservedCredits)
	}
	if !bonus.Equal(b.BonusCredits) {
		t.Errorf("replayed bonus %s != stored %s", bonus, b.BonusCredits)
	}
}

func TestLedgerOpsCounted(t *testing.T) {
	const team = int64(1)

	balances := newMockBalances(balance(team, "30.00", "0", "100.00"))
	teams := &mockTeams{teams: map[int64]*models.Team{}}
	metrics := observability.NewWithRegistry(prometheus.NewRegistry())
	engine := NewEngine(fakeDB{}, balances, &mockLog{}, teams, metrics)
	ctx := context.Background()

	if ok, err := engine.ReserveTx(ctx, nil, team, dec("20.00"), "x", nil, nil); err != nil || !ok {
		t.Fatalf("reserve: ok=%v err=%v", ok, err)
	}
	if ok, err := engine.ReserveTx(ctx, nil, team, dec("20.00"), "x", nil, nil); err != nil || ok {
		t.Fatalf("second reserve: ok=%v err=%v", ok, err)
	}
	if err := engine.DeductTx(ctx, nil, team, dec("20.00"), "x", uuid.New(), nil); err != nil {
		t.Fatalf("deduct: %v", err)
	}

	if got := testutil.ToFloat64(metrics.LedgerOps.WithLabelValues("reserve", "ok")); got != 1 {
		t.Errorf("reserve ok counter: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.LedgerOps.WithLabelValues("reserve", "insufficient")); got != 1 {
		t.Errorf("reserve insufficient counter: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.LedgerOps.WithLabelValues("deduct", "ok")); got != 1 {
		t.Errorf("deduct ok counter: got %v, want 1", got)
	}
}

// ---------------------------------------------------------------------------
// Replenish
// ---------------------------------------------------------------------------

func TestReplenishResetsToPlanAllocation(t *testing.T) {
	const team = int64(7)

	balances := newMockBalances(balance(team, "12.34", "5.00", "315.00"))
	log := &mockLog{}
	teams := &mockTeams{teams: map[int64]*models.Team{
		team: {ID: team, PlanTier: models.PlanUltra},
	}}
	engine := newTestEngine(balances, log, teams)

	if err := engine.Replenish(context.Background(), team); err != nil {
		t.Fatalf("Replenish: %v", err)
	}

	b := balances.get(team)
	if !b.AvailableCredits.Equal(dec("1750.00")) || !b.TotalAllocated.Equal(dec("1750.00")) {
		t.Errorf("after replenish: available=%s total=%s, want 1750.00", b.AvailableCredits, b.TotalAllocated)
	}
	if !b.ReservedCredits.IsZero() || !b.BonusCredits.IsZero() {
		t.Error("replenish should zero reserved and bonus credits")
	}

	entries := log.byType(models.TxTypeReplenishment)
	if len(entries) != 1 {
		t.Fatalf("replenishment entries: got %d, want 1", len(entries))
	}
	if entries[0].Metadata["plan"] != models.PlanUltra {
		t.Errorf("replenishment plan metadata: got %v", entries[0].Metadata["plan"])
	}
}

func TestReplenishBootstrapsMissingBalance(t *testing.T) {
	const team = int64(9)

	balances := newMockBalances()
	teams := &mockTeams{teams: map[int64]*models.Team{
		team: {ID: team, PlanTier: models.PlanStarter},
	}}
	engine := newTestEngine(balances, &mockLog{}, teams)

	if err := engine.Replenish(context.Background(), team); err != nil {
		t.Fatalf("Replenish: %v", err)
	}
	b := balances.get(team)
	if !b.AvailableCredits.Equal(dec("315.00")) {
		t.Errorf("bootstrapped balance: got %s, want 315.00", b.AvailableCredits)
	}
}

func TestReplenishLapsedPlanZeroesAllocation(t *testing.T) {
	const team = int64(3)

	balances := newMockBalances(balance(team, "200.00", "0", "315.00"))
	teams := &mockTeams{teams: map[int64]*models.Team{
		team: {ID: team, PlanTier: ""}, // subscription lapsed
	}}
	engine := newTestEngine(balances, &mockLog{}, teams)

	if err := engine.Replenish(context.Background(), team); err != nil {
		t.Fatalf("Replenish: %v", err)
	}
	b := balances.get(team)
	if !b.AvailableCredits.IsZero() || !b.TotalAllocated.IsZero() {
		t.Errorf("lapsed plan should zero the allocation: available=%s total=%s", b.AvailableCredits, b.TotalAllocated)
	}
}

// ---------------------------------------------------------------------------
// AddBonus and Rollback
// ---------------------------------------------------------------------------

func TestAddBonus(t *testing.T) {
	const team = int64(1)

	balances := newMockBalances(balance(team, "100.00", "0", "315.00"))
	log := &mockLog{}
	engine := newTestEngine(balances, log, nil)

	if err := engine.AddBonus(context.Background(), team, dec("25.00"), "support credit"); err != nil {
		t.Fatalf("AddBonus: %v", err)
	}

	b := balances.get(team)
	if !b.AvailableCredits.Equal(dec("125.00")) {
		t.Errorf("available after bonus: got %s, want 125.00", b.AvailableCredits)
	}
	if !b.BonusCredits.Equal(dec("25.00")) {
		t.Errorf("bonus after bonus: got %s, want 25.00", b.BonusCredits)
	}
	if len(log.byType(models.TxTypeBonus)) != 1 {
		t.Error("expected one bonus ledger entry")
	}
}

func TestRollbackReservation(t *testing.T) {
	const team = int64(1)
	jobID := uuid.New()

	balances := newMockBalances(balance(team, "100.00", "0", "100.00"))
	log := &mockLog{}
	engine := newTestEngine(balances, log, nil)
	ctx := context.Background()

	ok, err := engine.ReserveTx(ctx, nil, team, dec("30.00"), models.JobTypeModelCreation, &jobID, nil)
	if err != nil || !ok {
		t.Fatalf("reserve: ok=%v err=%v", ok, err)
	}
	reservationID := log.byType(models.TxTypeReservation)[0].ID

	if err := engine.Rollback(ctx, reservationID); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	// Hold released; the original row is untouched, a compensating refund
	// row is appended.
	b := balances.get(team)
	if !b.AvailableCredits.Equal(dec("100.00")) || !b.ReservedCredits.IsZero() {
		t.Errorf("after rollback: available=%s reserved=%s", b.AvailableCredits, b.ReservedCredits)
	}
	refunds := log.byType(models.TxTypeRefund)
	if len(refunds) != 1 {
		t.Fatalf("refund entries: got %d, want 1", len(refunds))
	}
	if refunds[0].Metadata["rollbackOf"] != reservationID {
		t.Errorf("rollbackOf metadata: got %v, want %d", refunds[0].Metadata["rollbackOf"], reservationID)
	}
	if len(log.byType(models.TxTypeReservation)) != 1 {
		t.Error("original reservation row must remain")
	}
}

func TestRollbackDeduction(t *testing.T) {
	const team = int64(1)
	jobID := uuid.New()

	balances := newMockBalances(balance(team, "50.00", "30.00", "100.00"))
	log := &mockLog{}
	engine := newTestEngine(balances, log, nil)
	ctx := context.Background()

	if err := engine.DeductTx(ctx, nil, team, dec("30.00"), models.JobTypeModelCreation, jobID, nil); err != nil {
		t.Fatalf("deduct: %v", err)
	}
	deductionID := log.byType(models.TxTypeDeduction)[0].ID

	if err := engine.Rollback(ctx, deductionID); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	// Finalized spend restored to available; reserved untouched.
	b := balances.get(team)
	if !b.AvailableCredits.Equal(dec("80.00")) {
		t.Errorf("available after rollback: got %s, want 80.00", b.AvailableCredits)
	}
	if !b.ReservedCredits.IsZero() {
		t.Errorf("reserved after rollback: got %s, want 0", b.ReservedCredits)
	}
}

func TestRollbackUnsupportedType(t *testing.T) {
	const team = int64(1)
	jobID := uuid.New()

	balances := newMockBalances(balance(team, "70.00", "30.00", "100.00"))
	log := &mockLog{}
	engine := newTestEngine(balances, log, nil)
	ctx := context.Background()

	if err := engine.RefundTx(ctx, nil, team, dec("30.00"), jobID, ""); err != nil {
		t.Fatalf("refund: %v", err)
	}
	refundID := log.byType(models.TxTypeRefund)[0].ID

	if err := engine.Rollback(ctx, refundID); !errors.Is(err, ErrUnsupportedRollback) {
		t.Errorf("rollback of refund: got %v, want ErrUnsupportedRollback", err)
	}
	if err := engine.Rollback(ctx, 99999); !errors.Is(err, ErrTransactionNotFound) {
		t.Errorf("rollback of unknown id: got %v, want ErrTransactionNotFound", err)
	}
}
