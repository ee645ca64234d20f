package ledger

import (
	"errors"
	"testing"

	"WhaleMirror/internal/model"
)

func openPosition(wallet, marketID string) model.Position {
	return model.Position{
		Wallet:          wallet,
		MarketID:        marketID,
		OwnedSize:       100,
		AvgEntryPrice:   0.50,
		BudgetCommitted: 50,
		Status:          model.PositionOpen,
	}
}

func TestUpsert_BumpsVersionAndPersists(t *testing.T) {
	store := NewMemoryStore()
	led, err := New(store)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}

	stored, err := led.Upsert(openPosition("0xA", "mkt-1"), 0)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if stored.Version != 1 {
		t.Errorf("expected version 1, got %d", stored.Version)
	}

	stored.OwnedSize = 120
	stored, err = led.Upsert(stored, stored.Version)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if stored.Version != 2 {
		t.Errorf("expected version 2, got %d", stored.Version)
	}

	persisted, err := store.Load()
	if err != nil || len(persisted) != 1 {
		t.Fatalf("expected 1 persisted position, got %d (%v)", len(persisted), err)
	}
	if persisted[0].OwnedSize != 120 {
		t.Errorf("store holds stale size %.2f", persisted[0].OwnedSize)
	}
}

func TestUpsert_RejectsStaleVersion(t *testing.T) {
	led, _ := New(NewMemoryStore())

	stored, err := led.Upsert(openPosition("0xA", "mkt-1"), 0)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// A second writer still holding the version-0 read must lose.
	stale := openPosition("0xA", "mkt-1")
	if _, err := led.Upsert(stale, 0); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	// The winning write is untouched.
	got, ok := led.Get("0xA", "mkt-1")
	if !ok || got.Version != stored.Version {
		t.Errorf("conflicting write corrupted the position: %+v", got)
	}
}

func TestUpsert_NewPositionRequiresZeroVersion(t *testing.T) {
	led, _ := New(NewMemoryStore())

	if _, err := led.Upsert(openPosition("0xA", "mkt-1"), 3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsert_ArchivesClosedPosition(t *testing.T) {
	store := NewMemoryStore()
	led, _ := New(store)

	stored, err := led.Upsert(openPosition("0xA", "mkt-1"), 0)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	stored.OwnedSize = 0
	stored.Status = model.PositionClosed
	if _, err := led.Upsert(stored, stored.Version); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, ok := led.Get("0xA", "mkt-1"); ok {
		t.Error("closed position should leave the active set")
	}
	persisted, _ := store.Load()
	if len(persisted) != 0 {
		t.Errorf("closed position should be deleted from the store, found %d", len(persisted))
	}
}

func TestNew_LoadsExistingPositions(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Save(openPosition("0xA", "mkt-1")); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	led, err := New(store)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	if _, ok := led.Get("0xA", "mkt-1"); !ok {
		t.Error("position persisted before restart should be loaded")
	}
}

func TestCommittedBudget_FiltersByWallet(t *testing.T) {
	led, _ := New(NewMemoryStore())

	a := openPosition("0xA", "mkt-1")
	a.BudgetCommitted = 30
	b := openPosition("0xB", "mkt-2")
	b.BudgetCommitted = 70
	if _, err := led.Upsert(a, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := led.Upsert(b, 0); err != nil {
		t.Fatal(err)
	}

	if got := led.CommittedBudget(""); got != 100 {
		t.Errorf("expected 100 across all wallets, got %.2f", got)
	}
	if got := led.CommittedBudget("0xA"); got != 30 {
		t.Errorf("expected 30 for 0xA, got %.2f", got)
	}
	if got := led.CommittedBudget("0xC"); got != 0 {
		t.Errorf("expected 0 for unknown wallet, got %.2f", got)
	}
}

func TestReserveBudget_CapSpansMarkets(t *testing.T) {
	led, _ := New(NewMemoryStore())

	first := openPosition("0xA", "mkt-1")
	first.BudgetCommitted = 0
	if _, err := led.ReserveBudget(first, 0, 60, 100, 0); err != nil {
		t.Fatalf("first reservation under the cap: %v", err)
	}

	// A second market under the same wallet shares the global cap.
	second := openPosition("0xA", "mkt-2")
	second.BudgetCommitted = 0
	if _, err := led.ReserveBudget(second, 0, 60, 100, 0); !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded at 120 of 100, got %v", err)
	}
	if _, ok := led.Get("0xA", "mkt-2"); ok {
		t.Error("a rejected reservation must not create the position")
	}
	if got := led.CommittedBudget(""); got != 60 {
		t.Errorf("expected 60 committed after the rejection, got %.2f", got)
	}

	if _, err := led.ReserveBudget(second, 0, 40, 100, 0); err != nil {
		t.Fatalf("reservation exactly at the cap: %v", err)
	}
	if got := led.CommittedBudget(""); got != 100 {
		t.Errorf("expected the cap fully committed, got %.2f", got)
	}
}

func TestReserveBudget_WalletCap(t *testing.T) {
	led, _ := New(NewMemoryStore())

	other := openPosition("0xB", "mkt-9")
	other.BudgetCommitted = 80
	if _, err := led.Upsert(other, 0); err != nil {
		t.Fatal(err)
	}

	pos := openPosition("0xA", "mkt-1")
	pos.BudgetCommitted = 0
	if _, err := led.ReserveBudget(pos, 0, 60, 0, 50); !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected the per-wallet cap to reject, got %v", err)
	}
	// Another wallet's commitments do not count against 0xA's cap.
	if _, err := led.ReserveBudget(pos, 0, 40, 0, 50); err != nil {
		t.Fatalf("reservation under the wallet cap: %v", err)
	}
}

func TestListOpenOrClosing_ExcludesNothingActive(t *testing.T) {
	led, _ := New(NewMemoryStore())

	open := openPosition("0xA", "mkt-1")
	closing := openPosition("0xA", "mkt-2")
	closing.Status = model.PositionClosing
	if _, err := led.Upsert(open, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := led.Upsert(closing, 0); err != nil {
		t.Fatal(err)
	}

	if got := led.ListOpenOrClosing(); len(got) != 2 {
		t.Errorf("expected both active positions, got %d", len(got))
	}
}
