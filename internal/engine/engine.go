// Package engine drives the tick loop: it sequences position, exposure,
// risk, strategy, execution, and PnL for every tick, and appends results to
// the event log. The engine is mode-agnostic; backtest and live differ only
// in which SnapshotSource and ExecutionSink it is constructed with, never in
// the state machine itself.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/exposure"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/pnl"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/position"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/risk"
)

// State is the engine lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateTicking   State = "ticking"
	StateDeciding  State = "deciding"
	StateExecuting State = "executing"
	StateSettling  State = "settling"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Config holds the engine's run parameters.
type Config struct {
	RunID string
	// ExecutionTimeout bounds each Submit call. Zero means no timeout.
	ExecutionTimeout time.Duration
	// RiskParams supplies per-venue risk parameters to the risk monitor.
	RiskParams map[string]domain.VenueRiskParams
}

// Engine is the tick orchestrator. It owns handles to every component
// explicitly; there is no process-wide shared state.
type Engine struct {
	cfg      Config
	source   domain.SnapshotSource
	sink     domain.ExecutionSink
	log      domain.EventLog
	strategy domain.Strategy
	accruals domain.AccrualSource

	position *position.Monitor
	exposure *exposure.Monitor
	risk     *risk.Monitor
	pnl      *pnl.Calculator

	logger *slog.Logger

	mu       sync.Mutex
	state    State
	seq      uint64
	ticks    int64
	lastTick time.Time

	prevExposure *domain.ExposureReport
	prevSnap     domain.MarketSnapshot
	lastRecord   *domain.PnLRecord

	// pending holds an instruction set whose execution outcome is unknown
	// (timeout). No further tick may run until an operator resolves it.
	pending *domain.InstructionSet
}

// Deps bundles the engine's collaborators. Accruals may be nil when the
// venue delivers accruals through the execution path.
type Deps struct {
	Source   domain.SnapshotSource
	Sink     domain.ExecutionSink
	Log      domain.EventLog
	Strategy domain.Strategy
	Accruals domain.AccrualSource

	Position *position.Monitor
	Exposure *exposure.Monitor
	Risk     *risk.Monitor
	PnL      *pnl.Calculator
}

// New creates an Engine in the Idle state.
func New(cfg Config, deps Deps, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		source:   deps.Source,
		sink:     deps.Sink,
		log:      deps.Log,
		strategy: deps.Strategy,
		accruals: deps.Accruals,
		position: deps.Position,
		exposure: deps.Exposure,
		risk:     deps.Risk,
		pnl:      deps.PnL,
		logger:   logger.With(slog.String("component", "engine"), slog.String("run_id", cfg.RunID)),
		state:    StateIdle,
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Ticks returns how many ticks have completed.
func (e *Engine) Ticks() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ticks
}

// LastRecord returns the PnL record of the most recent completed tick.
func (e *Engine) LastRecord() *domain.PnLRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastRecord
}

// Run executes the tick loop until the source is exhausted, the context is
// cancelled, or a fatal error occurs. Cancellation is honored only at the
// Ticking boundary, never mid-settlement, so the ledger can never be left
// partially applied.
func (e *Engine) Run(ctx context.Context) error {
	if set := e.pendingSet(); set != nil {
		return domain.NewTickError(domain.CodeOutcomeUnknown, "", "", e.lastTick,
			fmt.Errorf("%w: instruction set %s must be resolved before ticking", domain.ErrOutcomeUnknown, set.ID))
	}

	if e.State() == StateIdle {
		if err := e.appendEvent(ctx, domain.EventRunStarted, time.Now().UTC(), map[string]any{
			"run_id":   e.cfg.RunID,
			"strategy": e.strategy.Name(),
		}); err != nil {
			return e.fail(ctx, err)
		}
	}

	for {
		e.setState(StateTicking)

		// Stop signals are only honored here, at the tick boundary.
		if ctx.Err() != nil {
			return e.complete(ctx, "stop signal")
		}

		ts, ok, err := e.source.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return e.complete(ctx, "stop signal")
			}
			return e.fail(ctx, fmt.Errorf("engine: next tick: %w", err))
		}
		if !ok {
			return e.complete(ctx, "source exhausted")
		}

		if err := e.tick(ctx, ts.UTC()); err != nil {
			if errors.Is(err, domain.ErrOutcomeUnknown) {
				// Not a corrupted state: the set is parked and the run can
				// resume once an operator resolves it.
				return err
			}
			return e.fail(ctx, err)
		}
	}
}

// ResolvePending resolves an unknown-outcome instruction set. A non-nil
// report confirms the venue executed the set and applies its settlement; nil
// confirms it never executed. Either way the engine may tick again.
func (e *Engine) ResolvePending(ctx context.Context, report *domain.FillReport) error {
	e.mu.Lock()
	set := e.pending
	e.mu.Unlock()
	if set == nil {
		return fmt.Errorf("engine: no pending instruction set")
	}

	// The pending marker clears even if the append below fails: the
	// settlement is already in the ledger and a retry must not re-apply it.
	var appendErr error
	if report != nil && report.Settlement != nil {
		if _, err := e.position.ApplySettlement(*report.Settlement); err != nil {
			return fmt.Errorf("engine: resolve pending %s: %w", set.ID, err)
		}
		appendErr = e.appendEvent(ctx, domain.EventSettlementApplied, report.Settlement.Timestamp, map[string]any{
			"settlement_id": report.Settlement.ID,
			"set_id":        set.ID,
			"resolved":      true,
		})
	}

	e.mu.Lock()
	e.pending = nil
	e.mu.Unlock()
	e.logger.Info("pending instruction set resolved",
		slog.String("set_id", set.ID),
		slog.Bool("executed", report != nil),
	)
	return appendErr
}

// tick runs one full pass of the state machine for timestamp ts.
func (e *Engine) tick(ctx context.Context, ts time.Time) error {
	if !e.lastTick.IsZero() && !ts.After(e.lastTick) {
		return domain.NewTickError(domain.CodeNonMonotonicTick, "", "", ts,
			fmt.Errorf("%w: %s after %s", domain.ErrNonMonotonicTick,
				ts.Format(time.RFC3339), e.lastTick.Format(time.RFC3339)))
	}

	snap, err := e.source.Snapshot(ctx, ts)
	if err != nil {
		return fmt.Errorf("engine: snapshot at %s: %w", ts.Format(time.RFC3339), err)
	}

	ledgerBefore := e.position.Snapshot()

	expPre, err := e.exposure.Calculate(ledgerBefore, snap)
	if err != nil {
		return err
	}
	assessment, err := e.risk.Assess(expPre, e.cfg.RiskParams)
	if err != nil {
		return err
	}
	if assessment.Level == domain.RiskCritical {
		if err := e.appendEvent(ctx, domain.EventRiskAlert, ts, map[string]any{
			"overall_score": assessment.OverallScore,
			"health_factor": assessment.HealthFactor,
			"issues":        len(assessment.Issues),
		}); err != nil {
			return err
		}
	}

	e.setState(StateDeciding)
	sets, err := e.strategy.Decide(snap, ledgerBefore, expPre, assessment)
	if err != nil {
		return fmt.Errorf("engine: strategy %s: %w", e.strategy.Name(), err)
	}

	var applied []domain.SettlementEvent

	e.setState(StateSettling)
	if e.accruals != nil {
		accrualEvents, err := e.accruals.Accruals(ctx, snap, ledgerBefore)
		if err != nil {
			return fmt.Errorf("engine: accruals at %s: %w", ts.Format(time.RFC3339), err)
		}
		for _, ev := range accrualEvents {
			if _, err := e.position.ApplySettlement(ev); err != nil {
				return err
			}
			applied = append(applied, ev)
		}
	}

	for _, set := range sets {
		e.setState(StateExecuting)
		report, err := e.submit(ctx, set, snap)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				e.mu.Lock()
				setCopy := set
				e.pending = &setCopy
				e.mu.Unlock()
				e.logger.Error("execution outcome unknown",
					slog.String("set_id", set.ID),
					slog.String("error", err.Error()),
				)
				return domain.NewTickError(domain.CodeOutcomeUnknown, "", "", ts,
					fmt.Errorf("%w: set %s: %v", domain.ErrOutcomeUnknown, set.ID, err))
			}
			return fmt.Errorf("engine: submit set %s: %w", set.ID, err)
		}

		if err := e.appendEvent(ctx, domain.EventInstructionSubmitted, ts, map[string]any{
			"set_id":       set.ID,
			"strategy":     set.Strategy,
			"atomic":       set.Atomic,
			"instructions": len(set.Instructions),
			"status":       string(report.Status),
		}); err != nil {
			return err
		}

		if report.Status == domain.FillRejected {
			// Execution errors are recorded; the ledger is untouched and the
			// strategy sees unchanged state next tick.
			if err := e.appendEvent(ctx, domain.EventInstructionRejected, ts, map[string]any{
				"set_id": set.ID,
				"reason": report.Reason,
			}); err != nil {
				return err
			}
			continue
		}

		e.setState(StateSettling)
		if report.Settlement != nil {
			if _, err := e.position.ApplySettlement(*report.Settlement); err != nil {
				return err
			}
			applied = append(applied, *report.Settlement)
			if err := e.appendEvent(ctx, domain.EventSettlementApplied, ts, map[string]any{
				"settlement_id": report.Settlement.ID,
				"set_id":        set.ID,
				"legs":          len(report.Settlement.Legs),
			}); err != nil {
				return err
			}
		}
	}

	e.setState(StateSettling)
	ledgerAfter := e.position.Snapshot()
	expPost, err := e.exposure.Calculate(ledgerAfter, snap)
	if err != nil {
		return err
	}

	prevExp, prevSnap, prevLedger := expPre, snap, ledgerBefore
	if e.prevExposure != nil {
		prevExp, prevSnap = *e.prevExposure, e.prevSnap
	}
	record, err := e.pnl.Calculate(pnl.Inputs{
		Prev:        prevExp,
		Curr:        expPost,
		PrevSnap:    prevSnap,
		CurrSnap:    snap,
		PrevLedger:  prevLedger,
		Settlements: applied,
	})
	if err != nil {
		return fmt.Errorf("engine: pnl at %s: %w", ts.Format(time.RFC3339), err)
	}
	if !record.Reconciled {
		if err := e.appendEvent(ctx, domain.EventReconciliationBreach, ts, map[string]any{
			"delta":           record.ReconciliationDelta,
			"balance_pnl":     record.BalancePnL,
			"attribution_pnl": record.AttributionPnL,
		}); err != nil {
			return err
		}
	}

	if err := e.appendEvent(ctx, domain.EventTickCompleted, ts, map[string]any{
		"total_value":   expPost.TotalValue,
		"balance_pnl":   record.BalancePnL,
		"risk_level":    string(assessment.Level),
		"overall_score": assessment.OverallScore,
	}); err != nil {
		return err
	}

	e.mu.Lock()
	e.lastTick = ts
	e.ticks++
	e.prevExposure = &expPost
	e.prevSnap = snap
	e.lastRecord = &record
	e.mu.Unlock()
	return nil
}

// submit forwards the set to the execution sink, bounded by the configured
// timeout. Prev-tick ledger state is never re-used: the sink prices against
// this tick's snapshot.
func (e *Engine) submit(ctx context.Context, set domain.InstructionSet, snap domain.MarketSnapshot) (domain.FillReport, error) {
	if e.cfg.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ExecutionTimeout)
		defer cancel()
	}
	return e.sink.Submit(ctx, set, snap)
}

func (e *Engine) complete(ctx context.Context, reason string) error {
	e.setState(StateCompleted)
	if err := e.appendEvent(ctx, domain.EventRunCompleted, time.Now().UTC(), map[string]any{
		"run_id": e.cfg.RunID,
		"ticks":  e.Ticks(),
		"reason": reason,
	}); err != nil {
		return err
	}
	e.logger.Info("run completed", slog.Int64("ticks", e.Ticks()), slog.String("reason", reason))
	return nil
}

func (e *Engine) fail(ctx context.Context, err error) error {
	e.setState(StateFailed)
	payload := map[string]any{"run_id": e.cfg.RunID, "error": err.Error()}
	var tickErr *domain.TickError
	if errors.As(err, &tickErr) {
		payload["code"] = string(tickErr.Code)
		payload["venue"] = tickErr.Venue
		payload["asset"] = tickErr.Asset
	}
	// Best effort: the run is already failing, and the append error is
	// logged inside appendEvent.
	_ = e.appendEvent(ctx, domain.EventRunFailed, time.Now().UTC(), payload)
	e.logger.Error("run failed", slog.String("error", err.Error()))
	return err
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) pendingSet() *domain.InstructionSet {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

// appendEvent writes to the event log with the next sequence number. Append
// failures are fatal for the run: an event log with holes cannot be replayed.
func (e *Engine) appendEvent(ctx context.Context, kind domain.EventKind, ts time.Time, payload map[string]any) error {
	e.mu.Lock()
	e.seq++
	seq := e.seq
	e.mu.Unlock()

	if err := e.log.Append(ctx, domain.Event{
		Sequence:  seq,
		Timestamp: ts,
		Kind:      kind,
		Payload:   payload,
	}); err != nil {
		e.logger.Error("event log append failed",
			slog.Uint64("sequence", seq),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("engine: append %s event: %w", kind, err)
	}
	return nil
}
