package position

import (
	"errors"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
)

func testConfig() Config {
	return Config{
		Venues: []string{"aave", "binance"},
		Assets: []string{"USD", "ETH", "aWETH", "ETH-PERP"},
	}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestMonitor(t *testing.T, initial []domain.SettlementLeg) *Monitor {
	t.Helper()
	m, err := New(testConfig(), initial, slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestApplySettlementUpdatesBalances(t *testing.T) {
	m := newTestMonitor(t, []domain.SettlementLeg{
		{Venue: "binance", Asset: "USD", Kind: domain.KindSpotBalance, Delta: dec("100000")},
	})

	snap, err := m.ApplySettlement(domain.SettlementEvent{
		ID:        "s1",
		Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Kind:      domain.SettlementFill,
		Legs: []domain.SettlementLeg{
			{Venue: "binance", Asset: "USD", Kind: domain.KindSpotBalance, Delta: dec("-30000")},
			{Venue: "binance", Asset: "ETH", Kind: domain.KindSpotBalance, Delta: dec("10")},
		},
	})
	if err != nil {
		t.Fatalf("ApplySettlement: %v", err)
	}

	if got := snap.Quantity("binance", "USD", domain.KindSpotBalance); !got.Equal(dec("70000")) {
		t.Errorf("USD balance = %s, want 70000", got)
	}
	if got := snap.Quantity("binance", "ETH", domain.KindSpotBalance); !got.Equal(dec("10")) {
		t.Errorf("ETH balance = %s, want 10", got)
	}
}

func TestApplySettlementAllOrNothing(t *testing.T) {
	m := newTestMonitor(t, []domain.SettlementLeg{
		{Venue: "binance", Asset: "USD", Kind: domain.KindSpotBalance, Delta: dec("1000")},
	})
	before := m.Snapshot()

	// Second leg drives USD negative, so the first leg must not apply either.
	_, err := m.ApplySettlement(domain.SettlementEvent{
		ID:        "s2",
		Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Kind:      domain.SettlementFill,
		Legs: []domain.SettlementLeg{
			{Venue: "binance", Asset: "ETH", Kind: domain.KindSpotBalance, Delta: dec("1")},
			{Venue: "binance", Asset: "USD", Kind: domain.KindSpotBalance, Delta: dec("-5000")},
		},
	})
	if !errors.Is(err, domain.ErrNegativeBalance) {
		t.Fatalf("err = %v, want ErrNegativeBalance", err)
	}

	after := m.Snapshot()
	if !reflect.DeepEqual(before.Balances, after.Balances) {
		t.Errorf("ledger changed after rejected settlement:\nbefore %v\nafter  %v",
			before.Balances, after.Balances)
	}
}

func TestApplySettlementUnknownAsset(t *testing.T) {
	m := newTestMonitor(t, nil)

	_, err := m.ApplySettlement(domain.SettlementEvent{
		ID:   "s3",
		Kind: domain.SettlementFill,
		Legs: []domain.SettlementLeg{
			{Venue: "binance", Asset: "DOGE", Kind: domain.KindSpotBalance, Delta: dec("1")},
		},
	})
	if !errors.Is(err, domain.ErrUnknownAsset) {
		t.Fatalf("err = %v, want ErrUnknownAsset", err)
	}

	var tickErr *domain.TickError
	if !errors.As(err, &tickErr) {
		t.Fatalf("err is not a TickError: %v", err)
	}
	if tickErr.Code != domain.CodeUnknownAsset {
		t.Errorf("code = %s, want %s", tickErr.Code, domain.CodeUnknownAsset)
	}
	if tickErr.Asset != "DOGE" || tickErr.Venue != "binance" {
		t.Errorf("error entity = %s/%s, want binance/DOGE", tickErr.Venue, tickErr.Asset)
	}
}

func TestApplySettlementVenueNotConfigured(t *testing.T) {
	m := newTestMonitor(t, nil)

	_, err := m.ApplySettlement(domain.SettlementEvent{
		ID:   "s4",
		Kind: domain.SettlementTransfer,
		Legs: []domain.SettlementLeg{
			{Venue: "ftx", Asset: "USD", Kind: domain.KindSpotBalance, Delta: dec("1")},
		},
	})
	if !errors.Is(err, domain.ErrVenueNotConfigured) {
		t.Fatalf("err = %v, want ErrVenueNotConfigured", err)
	}
}

func TestPerpPositionMayGoShort(t *testing.T) {
	m := newTestMonitor(t, nil)

	snap, err := m.ApplySettlement(domain.SettlementEvent{
		ID:   "s5",
		Kind: domain.SettlementFill,
		Legs: []domain.SettlementLeg{
			{Venue: "binance", Asset: "ETH-PERP", Kind: domain.KindPerpPosition, Delta: dec("-25")},
		},
	})
	if err != nil {
		t.Fatalf("ApplySettlement: %v", err)
	}
	if got := snap.Quantity("binance", "ETH-PERP", domain.KindPerpPosition); !got.Equal(dec("-25")) {
		t.Errorf("perp position = %s, want -25", got)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	m := newTestMonitor(t, []domain.SettlementLeg{
		{Venue: "aave", Asset: "aWETH", Kind: domain.KindLendingDeposit, Delta: dec("50")},
	})

	snap := m.Snapshot()
	key := domain.BalanceKey{Venue: "aave", Asset: "aWETH", Kind: domain.KindLendingDeposit}
	snap.Balances[key] = dec("0")

	if got := m.Snapshot().Quantity("aave", "aWETH", domain.KindLendingDeposit); !got.Equal(dec("50")) {
		t.Errorf("mutating a snapshot leaked into the ledger: got %s", got)
	}
}
