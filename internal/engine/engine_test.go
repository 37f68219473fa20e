package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/eventlog"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/exposure"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/pnl"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/position"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/risk"
)

const testVenue = "hyperliquid"

var baseTime = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSource struct {
	mu        sync.Mutex
	ticks     []time.Time
	snaps     map[int64]domain.MarketSnapshot
	idx       int
	afterNext func(n int)
}

func (s *fakeSource) Next(_ context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx >= len(s.ticks) {
		return time.Time{}, false, nil
	}
	ts := s.ticks[s.idx]
	s.idx++
	if s.afterNext != nil {
		s.afterNext(s.idx)
	}
	return ts, true, nil
}

func (s *fakeSource) Snapshot(_ context.Context, ts time.Time) (domain.MarketSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[ts.Unix()]
	if !ok {
		return domain.MarketSnapshot{}, fmt.Errorf("source: no snapshot at %s", ts)
	}
	return snap, nil
}

type fakeStrategy struct {
	name   string
	decide func(snap domain.MarketSnapshot, ledger domain.LedgerSnapshot, exp domain.ExposureReport, r domain.RiskAssessment) ([]domain.InstructionSet, error)
}

func (s *fakeStrategy) Name() string { return s.name }

func (s *fakeStrategy) Decide(snap domain.MarketSnapshot, ledger domain.LedgerSnapshot, exp domain.ExposureReport, r domain.RiskAssessment) ([]domain.InstructionSet, error) {
	if s.decide == nil {
		return nil, nil
	}
	return s.decide(snap, ledger, exp, r)
}

type fakeSink struct {
	submit func(ctx context.Context, set domain.InstructionSet, snap domain.MarketSnapshot) (domain.FillReport, error)
}

func (s *fakeSink) Submit(ctx context.Context, set domain.InstructionSet, snap domain.MarketSnapshot) (domain.FillReport, error) {
	return s.submit(ctx, set, snap)
}

func snapAt(ts time.Time, ethPrice float64) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Timestamp:  ts,
		Prices:     map[string]float64{"USDC": 1, "ETH": ethPrice},
		MarkPrices: map[string]float64{"ETH-PERP": ethPrice},
		CostEstimates: map[string]domain.CostEstimate{
			testVenue: {TakerFeeBps: 0, SlippageBps: 0},
		},
	}
}

// threeTickSource produces ticks at t0..t2 with ETH at 3000, 3100, 3050.
func threeTickSource() *fakeSource {
	ticks := []time.Time{baseTime, baseTime.Add(time.Hour), baseTime.Add(2 * time.Hour)}
	prices := []float64{3000, 3100, 3050}
	snaps := make(map[int64]domain.MarketSnapshot, len(ticks))
	for i, ts := range ticks {
		snaps[ts.Unix()] = snapAt(ts, prices[i])
	}
	return &fakeSource{ticks: ticks, snaps: snaps}
}

// shortOnceStrategy emits one atomic set shorting 1 ETH perp on its first
// call and holds afterwards.
func shortOnceStrategy() *fakeStrategy {
	emitted := false
	return &fakeStrategy{
		name: "short_once",
		decide: func(domain.MarketSnapshot, domain.LedgerSnapshot, domain.ExposureReport, domain.RiskAssessment) ([]domain.InstructionSet, error) {
			if emitted {
				return nil, nil
			}
			emitted = true
			return []domain.InstructionSet{{
				ID:       "set-1",
				Strategy: "short_once",
				Atomic:   true,
				Instructions: []domain.Instruction{{
					Action:   domain.ActionSell,
					Venue:    testVenue,
					Asset:    "ETH-PERP",
					Quantity: 1,
					Kind:     domain.OrderMarket,
				}},
			}}, nil
		},
	}
}

// fillingSink fills perp sells at the snapshot mark, booking the short and
// the cash proceeds with zero fees.
func fillingSink() *fakeSink {
	return &fakeSink{
		submit: func(_ context.Context, set domain.InstructionSet, snap domain.MarketSnapshot) (domain.FillReport, error) {
			in := set.Instructions[0]
			mark := snap.MarkPrices[in.Asset]
			return domain.FillReport{
				SetID:  set.ID,
				Status: domain.FillFilled,
				Fills: []domain.Fill{{
					Instruction:    in,
					FilledQuantity: in.Quantity,
					FilledPrice:    mark,
					Status:         domain.FillFilled,
				}},
				Settlement: &domain.SettlementEvent{
					ID:        "settle-" + set.ID,
					Timestamp: snap.Timestamp,
					Kind:      domain.SettlementFill,
					Legs: []domain.SettlementLeg{
						{Venue: in.Venue, Asset: in.Asset, Kind: domain.KindPerpPosition, Delta: decimal.NewFromFloat(-in.Quantity)},
						{Venue: in.Venue, Asset: "USDC", Kind: domain.KindSpotBalance, Delta: decimal.NewFromFloat(in.Quantity * mark)},
					},
				},
			}, nil
		},
	}
}

func riskParams() map[string]domain.VenueRiskParams {
	return map[string]domain.VenueRiskParams{
		testVenue: {
			LiquidationThreshold:      0.8,
			LiquidationBonus:          0.05,
			MaintenanceMarginFraction: 0.05,
			InitialMarginFraction:     0.1,
		},
	}
}

type harness struct {
	eng *Engine
	log *eventlog.Memory
	pos *position.Monitor
}

func newHarness(t *testing.T, src domain.SnapshotSource, sink domain.ExecutionSink, strat domain.Strategy, cfg Config) *harness {
	t.Helper()
	logger := discardLogger()

	pos, err := position.New(position.Config{
		Venues: []string{testVenue},
		Assets: []string{"USDC", "ETH", "ETH-PERP"},
	}, []domain.SettlementLeg{
		{Venue: testVenue, Asset: "USDC", Kind: domain.KindSpotBalance, Delta: decimal.NewFromInt(100000)},
	}, logger)
	if err != nil {
		t.Fatalf("position.New: %v", err)
	}

	log := eventlog.NewMemory()
	if cfg.RunID == "" {
		cfg.RunID = "test-run"
	}
	if cfg.RiskParams == nil {
		cfg.RiskParams = riskParams()
	}

	eng := New(cfg, Deps{
		Source:   src,
		Sink:     sink,
		Log:      log,
		Strategy: strat,
		Position: pos,
		Exposure: exposure.New(exposure.Config{
			ReportingCurrency: "USDC",
			PerpUnderlying:    map[string]string{"ETH-PERP": "ETH"},
		}, logger),
		Risk: risk.New(risk.Defaults(), logger),
		PnL:  pnl.New(pnl.Config{Tolerance: 0.01}, logger),
	}, logger)

	return &harness{eng: eng, log: log, pos: pos}
}

func eventKinds(events []domain.Event) map[domain.EventKind]int {
	out := make(map[domain.EventKind]int)
	for _, ev := range events {
		out[ev.Kind]++
	}
	return out
}

func TestRunBacktestEndToEnd(t *testing.T) {
	h := newHarness(t, threeTickSource(), fillingSink(), shortOnceStrategy(), Config{})

	if err := h.eng.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := h.eng.State(); got != StateCompleted {
		t.Fatalf("state = %s, want %s", got, StateCompleted)
	}
	if got := h.eng.Ticks(); got != 3 {
		t.Fatalf("ticks = %d, want 3", got)
	}

	// Short 1 ETH at 3000, marked 3050 at the end: -50 against the short,
	// cash unchanged.
	rec := h.eng.LastRecord()
	if rec == nil {
		t.Fatal("no pnl record")
	}
	if math.Abs(rec.BalancePnL-(-50)) > 1e-9 {
		t.Fatalf("balance pnl = %f, want -50", rec.BalancePnL)
	}
	if !rec.Reconciled {
		t.Fatalf("final record not reconciled, delta %f", rec.ReconciliationDelta)
	}

	events := h.log.Events()
	kinds := eventKinds(events)
	want := map[domain.EventKind]int{
		domain.EventRunStarted:           1,
		domain.EventInstructionSubmitted: 1,
		domain.EventSettlementApplied:    1,
		domain.EventTickCompleted:        3,
		domain.EventRunCompleted:         1,
	}
	for kind, n := range want {
		if kinds[kind] != n {
			t.Errorf("%s events = %d, want %d", kind, kinds[kind], n)
		}
	}
	if events[0].Kind != domain.EventRunStarted {
		t.Errorf("first event = %s, want %s", events[0].Kind, domain.EventRunStarted)
	}
	if last := events[len(events)-1]; last.Kind != domain.EventRunCompleted {
		t.Errorf("last event = %s, want %s", last.Kind, domain.EventRunCompleted)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Sequence <= events[i-1].Sequence {
			t.Fatalf("sequence regression at event %d", i)
		}
	}
}

// Two fresh engines over the same data must produce identical tick series.
func TestRunReplayDeterminism(t *testing.T) {
	run := func() []float64 {
		h := newHarness(t, threeTickSource(), fillingSink(), shortOnceStrategy(), Config{})
		if err := h.eng.Run(context.Background()); err != nil {
			t.Fatalf("run: %v", err)
		}
		var series []float64
		for _, ev := range h.log.Events() {
			if ev.Kind == domain.EventTickCompleted {
				series = append(series, ev.Payload["balance_pnl"].(float64))
			}
		}
		return series
	}

	first := run()
	second := run()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("replay diverged: %v vs %v", first, second)
	}
}

func TestRunHaltsOnMissingPrice(t *testing.T) {
	src := threeTickSource()
	// Second tick loses the ETH price entirely.
	broken := snapAt(baseTime.Add(time.Hour), 0)
	delete(broken.Prices, "ETH")
	delete(broken.MarkPrices, "ETH-PERP")
	src.snaps[baseTime.Add(time.Hour).Unix()] = broken

	h := newHarness(t, src, fillingSink(), shortOnceStrategy(), Config{})
	err := h.eng.Run(context.Background())
	if err == nil {
		t.Fatal("expected run to fail")
	}
	var tickErr *domain.TickError
	if !errors.As(err, &tickErr) {
		t.Fatalf("error %v is not a TickError", err)
	}
	if tickErr.Code != domain.CodeUnresolvedPrice {
		t.Fatalf("code = %s, want %s", tickErr.Code, domain.CodeUnresolvedPrice)
	}
	if got := h.eng.State(); got != StateFailed {
		t.Fatalf("state = %s, want %s", got, StateFailed)
	}
	if got := h.eng.Ticks(); got != 1 {
		t.Fatalf("ticks = %d, want 1", got)
	}

	events := h.log.Events()
	if last := events[len(events)-1]; last.Kind != domain.EventRunFailed {
		t.Fatalf("last event = %s, want %s", last.Kind, domain.EventRunFailed)
	}
}

func TestRejectedSetLeavesLedgerUntouched(t *testing.T) {
	rejecting := &fakeSink{
		submit: func(_ context.Context, set domain.InstructionSet, _ domain.MarketSnapshot) (domain.FillReport, error) {
			return domain.FillReport{
				SetID:  set.ID,
				Status: domain.FillRejected,
				Reason: "insufficient venue liquidity",
			}, nil
		},
	}

	h := newHarness(t, threeTickSource(), rejecting, shortOnceStrategy(), Config{})
	before := h.pos.Snapshot()

	if err := h.eng.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	after := h.pos.Snapshot()
	if !reflect.DeepEqual(before.Balances, after.Balances) {
		t.Fatalf("ledger changed on rejected set: %v vs %v", before.Balances, after.Balances)
	}

	kinds := eventKinds(h.log.Events())
	if kinds[domain.EventInstructionRejected] != 1 {
		t.Fatalf("rejected events = %d, want 1", kinds[domain.EventInstructionRejected])
	}
	if kinds[domain.EventSettlementApplied] != 0 {
		t.Fatalf("settlement events = %d, want 0", kinds[domain.EventSettlementApplied])
	}
	if got := h.eng.State(); got != StateCompleted {
		t.Fatalf("state = %s, want %s", got, StateCompleted)
	}
}

func TestStopHonoredAtTickBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := threeTickSource()
	src.afterNext = func(n int) {
		if n == 1 {
			cancel()
		}
	}

	h := newHarness(t, src, fillingSink(), shortOnceStrategy(), Config{})
	if err := h.eng.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	// The tick in flight when the signal arrived still completes fully.
	if got := h.eng.Ticks(); got != 1 {
		t.Fatalf("ticks = %d, want 1", got)
	}
	if got := h.eng.State(); got != StateCompleted {
		t.Fatalf("state = %s, want %s", got, StateCompleted)
	}
	kinds := eventKinds(h.log.Events())
	if kinds[domain.EventRunFailed] != 0 {
		t.Fatal("stop produced a run_failed event")
	}
	if kinds[domain.EventRunCompleted] != 1 {
		t.Fatal("missing run_completed event")
	}
	if kinds[domain.EventSettlementApplied] != 1 {
		t.Fatal("in-flight tick was not settled before stopping")
	}
}

func TestNonMonotonicTickFails(t *testing.T) {
	src := threeTickSource()
	src.ticks[1] = src.ticks[0]

	h := newHarness(t, src, fillingSink(), shortOnceStrategy(), Config{})
	err := h.eng.Run(context.Background())
	if err == nil {
		t.Fatal("expected run to fail")
	}
	var tickErr *domain.TickError
	if !errors.As(err, &tickErr) {
		t.Fatalf("error %v is not a TickError", err)
	}
	if tickErr.Code != domain.CodeNonMonotonicTick {
		t.Fatalf("code = %s, want %s", tickErr.Code, domain.CodeNonMonotonicTick)
	}
	if !errors.Is(err, domain.ErrNonMonotonicTick) {
		t.Fatalf("error %v does not wrap ErrNonMonotonicTick", err)
	}
}

func TestUnknownOutcomeParksSetUntilResolved(t *testing.T) {
	hanging := true
	sink := &fakeSink{
		submit: func(ctx context.Context, set domain.InstructionSet, snap domain.MarketSnapshot) (domain.FillReport, error) {
			if hanging {
				<-ctx.Done()
				return domain.FillReport{}, ctx.Err()
			}
			return fillingSink().submit(ctx, set, snap)
		},
	}

	h := newHarness(t, threeTickSource(), sink, shortOnceStrategy(), Config{
		ExecutionTimeout: 5 * time.Millisecond,
	})
	ctx := context.Background()

	err := h.eng.Run(ctx)
	if !errors.Is(err, domain.ErrOutcomeUnknown) {
		t.Fatalf("run error = %v, want ErrOutcomeUnknown", err)
	}

	// No ticking until the operator resolves the parked set.
	if err := h.eng.Run(ctx); !errors.Is(err, domain.ErrOutcomeUnknown) {
		t.Fatalf("second run error = %v, want ErrOutcomeUnknown", err)
	}

	// Operator confirms the set never executed.
	if err := h.eng.ResolvePending(ctx, nil); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	hanging = false

	if err := h.eng.Run(ctx); err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	if got := h.eng.State(); got != StateCompleted {
		t.Fatalf("state = %s, want %s", got, StateCompleted)
	}
	// The timed-out tick was consumed but never completed.
	if got := h.eng.Ticks(); got != 2 {
		t.Fatalf("ticks = %d, want 2", got)
	}

	balance := h.pos.Snapshot().Quantity(testVenue, "USDC", domain.KindSpotBalance)
	if !balance.Equal(decimal.NewFromInt(100000)) {
		t.Fatalf("usdc balance = %s, want 100000", balance)
	}
}

func TestResolvePendingAppliesConfirmedFill(t *testing.T) {
	sink := &fakeSink{
		submit: func(ctx context.Context, _ domain.InstructionSet, _ domain.MarketSnapshot) (domain.FillReport, error) {
			<-ctx.Done()
			return domain.FillReport{}, ctx.Err()
		},
	}
	h := newHarness(t, threeTickSource(), sink, shortOnceStrategy(), Config{
		ExecutionTimeout: 5 * time.Millisecond,
	})
	ctx := context.Background()

	if err := h.eng.Run(ctx); !errors.Is(err, domain.ErrOutcomeUnknown) {
		t.Fatalf("run error = %v, want ErrOutcomeUnknown", err)
	}

	// Venue later confirms the fill happened at 3000.
	report, err := fillingSink().submit(ctx, domain.InstructionSet{
		ID: "set-1",
		Instructions: []domain.Instruction{{
			Action: domain.ActionSell, Venue: testVenue, Asset: "ETH-PERP",
			Quantity: 1, Kind: domain.OrderMarket,
		}},
	}, snapAt(baseTime, 3000))
	if err != nil {
		t.Fatalf("build report: %v", err)
	}
	if err := h.eng.ResolvePending(ctx, &report); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	perp := h.pos.Snapshot().Quantity(testVenue, "ETH-PERP", domain.KindPerpPosition)
	if !perp.Equal(decimal.NewFromInt(-1)) {
		t.Fatalf("perp position = %s, want -1", perp)
	}
	usdc := h.pos.Snapshot().Quantity(testVenue, "USDC", domain.KindSpotBalance)
	if !usdc.Equal(decimal.NewFromInt(103000)) {
		t.Fatalf("usdc balance = %s, want 103000", usdc)
	}
}

// brokenLog refuses every append, as a dead event store would.
type brokenLog struct {
	attempts int
}

func (l *brokenLog) Append(context.Context, domain.Event) error {
	l.attempts++
	return errors.New("event store unavailable")
}

func TestRunFailsWhenEventLogRejectsAppends(t *testing.T) {
	logger := discardLogger()

	pos, err := position.New(position.Config{
		Venues: []string{testVenue},
		Assets: []string{"USDC", "ETH", "ETH-PERP"},
	}, []domain.SettlementLeg{
		{Venue: testVenue, Asset: "USDC", Kind: domain.KindSpotBalance, Delta: decimal.NewFromInt(100000)},
	}, logger)
	if err != nil {
		t.Fatalf("position.New: %v", err)
	}

	log := &brokenLog{}
	eng := New(Config{RunID: "test-run", RiskParams: riskParams()}, Deps{
		Source:   threeTickSource(),
		Sink:     fillingSink(),
		Log:      log,
		Strategy: shortOnceStrategy(),
		Position: pos,
		Exposure: exposure.New(exposure.Config{
			ReportingCurrency: "USDC",
			PerpUnderlying:    map[string]string{"ETH-PERP": "ETH"},
		}, logger),
		Risk: risk.New(risk.Defaults(), logger),
		PnL:  pnl.New(pnl.Config{Tolerance: 0.01}, logger),
	}, logger)

	err = eng.Run(context.Background())
	if err == nil {
		t.Fatal("run completed despite the event log dropping every append")
	}
	if eng.State() != StateFailed {
		t.Fatalf("state = %s, want %s", eng.State(), StateFailed)
	}
	if eng.Ticks() != 0 {
		t.Fatalf("ticks = %d, want 0: no tick may complete without its events", eng.Ticks())
	}
	if log.attempts == 0 {
		t.Fatal("engine never attempted an append")
	}
}
