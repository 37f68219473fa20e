// Package position owns the canonical ledger of balances per
// (venue, asset, kind). The ledger is the single mutable resource in the
// system; it only changes by applying settlement events, and every
// application is all-or-nothing.
package position

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
)

// Config declares what the ledger is allowed to hold. Assets and venues not
// listed here are rejected rather than silently created.
type Config struct {
	// Venues is the set of configured venue names.
	Venues []string
	// Assets is the set of known asset symbols.
	Assets []string
	// AllowNegative lists assets that may carry a negative balance for a
	// given kind (perpetual positions are always allowed to be short).
	AllowNegative []domain.BalanceKey
}

// Monitor is the position monitor. All access goes through a single mutex:
// one settlement applies at a time, and snapshots are deep copies.
type Monitor struct {
	mu sync.Mutex

	balances map[domain.BalanceKey]decimal.Decimal
	venues   map[string]bool
	assets   map[string]bool
	allowNeg map[domain.BalanceKey]bool

	lastApplied time.Time
	logger      *slog.Logger
}

// New creates a Monitor with the given configuration and initial balances.
// Initial balances are validated against the configured venues and assets.
func New(cfg Config, initial []domain.SettlementLeg, logger *slog.Logger) (*Monitor, error) {
	m := &Monitor{
		balances: make(map[domain.BalanceKey]decimal.Decimal),
		venues:   make(map[string]bool, len(cfg.Venues)),
		assets:   make(map[string]bool, len(cfg.Assets)),
		allowNeg: make(map[domain.BalanceKey]bool, len(cfg.AllowNegative)),
		logger:   logger.With(slog.String("component", "position_monitor")),
	}
	for _, v := range cfg.Venues {
		m.venues[v] = true
	}
	for _, a := range cfg.Assets {
		m.assets[a] = true
	}
	for _, k := range cfg.AllowNegative {
		m.allowNeg[k] = true
	}

	for _, leg := range initial {
		if err := m.validateLeg(leg, time.Time{}); err != nil {
			return nil, fmt.Errorf("position: initial balance %s/%s: %w", leg.Venue, leg.Asset, err)
		}
		key := domain.BalanceKey{Venue: leg.Venue, Asset: leg.Asset, Kind: leg.Kind}
		m.balances[key] = m.balances[key].Add(leg.Delta)
	}
	return m, nil
}

// Snapshot returns a read-only deep copy of the ledger. The copy is safe to
// hand to downstream stages by reference.
func (m *Monitor) Snapshot() domain.LedgerSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[domain.BalanceKey]decimal.Decimal, len(m.balances))
	for k, v := range m.balances {
		out[k] = v
	}
	return domain.LedgerSnapshot{Timestamp: m.lastApplied, Balances: out}
}

// ApplySettlement applies every leg of the event or none of them. On any
// validation failure the ledger is left untouched and a coded error naming
// the offending venue and asset is returned.
func (m *Monitor) ApplySettlement(ev domain.SettlementEvent) (domain.LedgerSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate every leg against the current ledger before touching it.
	staged := make(map[domain.BalanceKey]decimal.Decimal, len(ev.Legs))
	for _, leg := range ev.Legs {
		if err := m.validateLeg(leg, ev.Timestamp); err != nil {
			return domain.LedgerSnapshot{}, err
		}
		key := domain.BalanceKey{Venue: leg.Venue, Asset: leg.Asset, Kind: leg.Kind}
		next, ok := staged[key]
		if !ok {
			next = m.balances[key]
		}
		next = next.Add(leg.Delta)
		if next.IsNegative() && !m.negativeAllowed(key) {
			return domain.LedgerSnapshot{}, domain.NewTickError(
				domain.CodeNegativeBalance, leg.Venue, leg.Asset, ev.Timestamp,
				fmt.Errorf("%w: %s would go to %s", domain.ErrNegativeBalance, key, next),
			)
		}
		staged[key] = next
	}

	// Commit.
	for key, next := range staged {
		if next.IsZero() && key.Kind != domain.KindPerpPosition {
			delete(m.balances, key)
			continue
		}
		m.balances[key] = next
	}
	m.lastApplied = ev.Timestamp

	m.logger.Debug("settlement applied",
		slog.String("settlement_id", ev.ID),
		slog.String("kind", string(ev.Kind)),
		slog.Int("legs", len(ev.Legs)),
	)

	out := make(map[domain.BalanceKey]decimal.Decimal, len(m.balances))
	for k, v := range m.balances {
		out[k] = v
	}
	return domain.LedgerSnapshot{Timestamp: m.lastApplied, Balances: out}, nil
}

func (m *Monitor) validateLeg(leg domain.SettlementLeg, ts time.Time) error {
	if !m.venues[leg.Venue] {
		return domain.NewTickError(domain.CodeVenueNotConfigured, leg.Venue, leg.Asset, ts,
			domain.ErrVenueNotConfigured)
	}
	if !m.assets[leg.Asset] {
		return domain.NewTickError(domain.CodeUnknownAsset, leg.Venue, leg.Asset, ts,
			domain.ErrUnknownAsset)
	}
	if !leg.Kind.Valid() {
		return domain.NewTickError(domain.CodeUnknownAsset, leg.Venue, leg.Asset, ts,
			fmt.Errorf("invalid position kind %q", leg.Kind))
	}
	return nil
}

func (m *Monitor) negativeAllowed(key domain.BalanceKey) bool {
	if key.Kind == domain.KindPerpPosition {
		return true
	}
	return m.allowNeg[key]
}
