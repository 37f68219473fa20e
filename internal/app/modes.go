package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/accrual"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/config"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/crypto"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/engine"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/eventlog"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/executor"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/exposure"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/feed"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/notify"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/platform/onchain"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/platform/subgraph"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/pnl"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/position"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/risk"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/snapshot"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/strategy"
)

// leaderLockKey is the Redis key live instances contend on. Only the holder
// may tick.
const leaderLockKey = "engine:leader"

// BacktestMode replays a historical snapshot file through the engine against
// the simulated execution sink. The run is optionally persisted to Postgres
// and archived to blob storage on completion.
func (a *App) BacktestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting backtest mode",
		slog.String("data_path", a.cfg.Backtest.DataPath),
	)

	source, err := snapshot.LoadJSONL(a.cfg.Backtest.DataPath)
	if err != nil {
		return fmt.Errorf("backtest mode: load snapshots: %w", err)
	}

	sink := executor.NewSimulated(executor.SimulatedConfig{
		CashAsset:       a.cfg.Universe.CashAsset,
		PerpInstruments: keySet(a.cfg.Universe.Perps),
		ReceiptTokens:   invert(a.cfg.Universe.Receipts),
		StakedTokens:    invert(a.cfg.Universe.Staked),
	}, a.logger)

	runID := uuid.New().String()
	var log domain.EventLog
	if a.cfg.Backtest.Persist && deps.EventStore != nil {
		log = eventlog.NewStore(runID, deps.EventStore, 0)
	} else {
		log = eventlog.NewMemory()
	}
	log = notify.NewAlerter(log, deps.Notifier, runID)

	eng, calc, err := a.buildEngine(runID, source, sink, log)
	if err != nil {
		return fmt.Errorf("backtest mode: %w", err)
	}

	if err := a.createRun(ctx, deps, runID, "backtest"); err != nil {
		return fmt.Errorf("backtest mode: %w", err)
	}

	runErr := eng.Run(ctx)
	a.finishRun(deps, runID, eng, calc, runErr)

	if runErr != nil {
		return fmt.Errorf("backtest mode: %w", runErr)
	}

	if a.cfg.Backtest.ArchiveOnComplete && deps.Archiver != nil {
		a.archiveRun(deps, runID)
	}
	return nil
}

// LiveMode runs the engine against the cache-backed snapshot source, with the
// websocket market feed and the onchain index poller keeping the caches
// fresh. Instruction sets go out over the signal bus to the order router.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode")

	// Leader election: a second instance fails fast here instead of
	// double-trading. The TTL must outlive the intended run.
	if ttl := a.cfg.Live.LeaderLockTTL.Duration; ttl > 0 {
		unlock, err := deps.LockManager.Acquire(ctx, leaderLockKey, ttl)
		if err != nil {
			return fmt.Errorf("live mode: leader lock: %w", err)
		}
		defer unlock()
	}

	g, ctx := errgroup.WithContext(ctx)

	marketFeed := feed.NewMarketFeed(feed.MarketFeedConfig{
		WSURL:  a.cfg.Live.WSURL,
		Assets: a.cfg.Universe.Assets,
		Perps:  invert(a.cfg.Universe.Perps),
	}, deps.PriceCache, deps.MarkCache, a.logger)
	g.Go(func() error {
		defer marketFeed.Close()
		return marketFeed.Run(ctx)
	})

	if len(a.cfg.Live.IndexContracts) > 0 {
		contracts := make(map[string]onchain.IndexContract, len(a.cfg.Live.IndexContracts))
		for asset, c := range a.cfg.Live.IndexContracts {
			contracts[asset] = onchain.IndexContract{
				Underlying: c.Underlying,
				Address:    c.Address,
				Method:     c.Method,
				Decimals:   c.Decimals,
			}
		}
		indexClient, err := onchain.Dial(ctx, a.cfg.Live.RPCURL, contracts)
		if err != nil {
			return fmt.Errorf("live mode: %w", err)
		}
		defer indexClient.Close()

		poller := feed.NewIndexPoller(indexClient, deps.IndexCache, deps.RateLimiter,
			a.cfg.Live.IndexPollInterval.Duration, a.logger)
		g.Go(func() error {
			return poller.Run(ctx)
		})
	}

	source, err := snapshot.NewLive(snapshot.LiveConfig{
		Interval:      a.cfg.Live.Interval.Duration,
		MaxAge:        a.cfg.Live.MaxAge.Duration,
		Assets:        a.cfg.Universe.Assets,
		Perps:         mapKeys(a.cfg.Universe.Perps),
		Receipts:      append(mapKeys(a.cfg.Universe.Receipts), mapKeys(a.cfg.Universe.Staked)...),
		BorrowRates:   perTickRates(a.cfg.Live.BorrowRates, a.cfg.Live.Interval.Duration),
		CostEstimates: costEstimates(a.cfg.Venues),
	}, deps.PriceCache, deps.MarkCache, deps.IndexCache, a.logger)
	if err != nil {
		return fmt.Errorf("live mode: %w", err)
	}
	if a.cfg.Live.SubgraphURL != "" {
		source = source.WithRateSource(subgraph.NewClient(
			a.cfg.Live.SubgraphURL,
			a.cfg.Live.SubgraphAPIKey,
			a.cfg.Live.SubgraphSymbols,
		))
	}

	sink := executor.NewBus(deps.SignalBus, a.logger)
	creds, err := a.tradeCredentials()
	if err != nil {
		return fmt.Errorf("live mode: %w", err)
	}
	if creds != nil {
		sink = sink.WithCredentials(creds)
	}

	runID := uuid.New().String()
	var log domain.EventLog = eventlog.NewStore(runID, deps.EventStore, 0)
	log = notify.NewAlerter(log, deps.Notifier, runID)

	eng, calc, err := a.buildEngine(runID, source, sink, log)
	if err != nil {
		return fmt.Errorf("live mode: %w", err)
	}

	if err := a.createRun(ctx, deps, runID, "live"); err != nil {
		return fmt.Errorf("live mode: %w", err)
	}

	var runErr error
	g.Go(func() error {
		runErr = eng.Run(ctx)
		return runErr
	})

	err = g.Wait()
	a.finishRun(deps, runID, eng, calc, runErr)

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("live mode: %w", err)
	}
	return nil
}

// buildEngine assembles the tick engine and its monitors from configuration.
// The returned calculator handle is used to persist the PnL series after the
// run ends.
func (a *App) buildEngine(runID string, source domain.SnapshotSource, sink domain.ExecutionSink, log domain.EventLog) (*engine.Engine, *pnl.Calculator, error) {
	initial := make([]domain.SettlementLeg, 0, len(a.cfg.Balances))
	for _, b := range a.cfg.Balances {
		initial = append(initial, domain.SettlementLeg{
			Venue: b.Venue,
			Asset: b.Asset,
			Kind:  domain.PositionKind(b.Kind),
			Delta: decimal.NewFromFloat(b.Quantity),
		})
	}

	posMon, err := position.New(position.Config{
		Venues: mapKeys(a.cfg.Venues),
		Assets: a.ledgerAssets(),
	}, initial, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("position monitor: %w", err)
	}

	expMon := exposure.New(exposure.Config{
		ReportingCurrency: a.cfg.Run.ReportingCurrency,
		PerpUnderlying:    a.cfg.Universe.Perps,
	}, a.logger)

	riskMon := risk.New(risk.Config{
		Weights: risk.Weights{
			Lending: a.cfg.Engine.RiskWeightLending,
			Margin:  a.cfg.Engine.RiskWeightMargin,
			Delta:   a.cfg.Engine.RiskWeightDelta,
		},
		HealthFactorTarget: a.cfg.Engine.HealthFactorTarget,
		MarginRatioTarget:  a.cfg.Engine.MarginRatioTarget,
		DeltaTolerance:     a.cfg.Engine.DeltaTolerance,
	}, a.logger)

	calc := pnl.New(pnl.Config{
		Tolerance: a.cfg.Engine.ReconciliationTolerance,
	}, a.logger)

	accruer := accrual.New(accrual.Config{
		CashAsset: a.cfg.Universe.CashAsset,
	}, a.logger)

	strat, err := a.buildStrategy()
	if err != nil {
		return nil, nil, err
	}

	riskParams := make(map[string]domain.VenueRiskParams, len(a.cfg.Venues))
	for name, v := range a.cfg.Venues {
		riskParams[name] = domain.VenueRiskParams{
			Venue:                     name,
			LiquidationThreshold:      v.LiquidationThreshold,
			LiquidationBonus:          v.LiquidationBonus,
			MaintenanceMarginFraction: v.MaintenanceMarginFraction,
			InitialMarginFraction:     v.InitialMarginFraction,
		}
	}

	eng := engine.New(engine.Config{
		RunID:            runID,
		ExecutionTimeout: a.cfg.Engine.ExecutionTimeout.Duration,
		RiskParams:       riskParams,
	}, engine.Deps{
		Source:   source,
		Sink:     sink,
		Log:      log,
		Strategy: strat,
		Accruals: accruer,
		Position: posMon,
		Exposure: expMon,
		Risk:     riskMon,
		PnL:      calc,
	}, a.logger)
	return eng, calc, nil
}

// buildStrategy registers the available strategies and resolves the
// configured one.
func (a *App) buildStrategy() (domain.Strategy, error) {
	reg := strategy.NewRegistry()
	reg.Register(strategy.NewHold())

	if bc := a.cfg.Strategy.BasisCarry; bc.Venue != "" {
		carry, err := strategy.NewBasisCarry(strategy.BasisCarryConfig{
			TradeVenue:             bc.Venue,
			CashAsset:              a.cfg.Universe.CashAsset,
			SpotAsset:              bc.SpotAsset,
			PerpInstrument:         bc.PerpInstrument,
			EntryFundingAnnualized: bc.EntryFundingAnnualized,
			ExitFundingAnnualized:  bc.ExitFundingAnnualized,
			TargetFraction:         bc.TargetFraction,
			RebalanceBand:          bc.RebalanceBand,
			FundingInterval:        bc.FundingInterval.Duration,
			MinOrderNotional:       bc.MinOrderNotional,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		reg.Register(carry)
	}

	return reg.Get(a.cfg.Strategy.Name)
}

// tradeCredentials resolves the API credentials of the trade venue, if it has
// any configured. The secret may arrive raw through the environment or as an
// encrypted file unlocked by a password.
func (a *App) tradeCredentials() (*crypto.APICredentials, error) {
	venue := a.cfg.Strategy.BasisCarry.Venue
	v, ok := a.cfg.Venues[venue]
	if !ok || v.APIKey == "" {
		return nil, nil
	}
	secret, err := crypto.LoadSecret(crypto.CredentialConfig{
		RawSecret:           v.APISecret,
		EncryptedSecretPath: v.EncryptedSecretPath,
		Password:            v.SecretPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("credentials for %s: %w", venue, err)
	}
	return &crypto.APICredentials{
		Key:        v.APIKey,
		Secret:     secret,
		Passphrase: v.APIPassphrase,
	}, nil
}

// createRun records the run as started. A nil RunStore means persistence is
// disabled for this mode.
func (a *App) createRun(ctx context.Context, deps *Dependencies, runID, mode string) error {
	if deps.RunStore == nil {
		return nil
	}
	return deps.RunStore.Create(ctx, domain.Run{
		ID:                runID,
		Mode:              mode,
		Strategy:          a.cfg.Strategy.Name,
		ReportingCurrency: a.cfg.Run.ReportingCurrency,
		Status:            domain.RunStatusRunning,
		StartedAt:         time.Now().UTC(),
	})
}

// finishRun records the run outcome and flushes the PnL series. It uses a
// fresh context so a cancelled run still gets persisted.
func (a *App) finishRun(deps *Dependencies, runID string, eng *engine.Engine, calc *pnl.Calculator, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	status := domain.RunStatusCompleted
	reason := ""
	if runErr != nil {
		status = domain.RunStatusFailed
		reason = runErr.Error()
	}

	var finalPnL float64
	if rec := eng.LastRecord(); rec != nil {
		finalPnL = rec.BalancePnL
	}

	if deps.RunStore != nil {
		if err := deps.RunStore.Finish(ctx, runID, status, eng.Ticks(), finalPnL, reason); err != nil {
			a.logger.Error("failed to record run outcome",
				slog.String("run_id", runID),
				slog.String("error", err.Error()),
			)
		}
	}

	if deps.PnLStore != nil {
		for _, rec := range calc.History(0) {
			if err := deps.PnLStore.Insert(ctx, runID, rec); err != nil {
				a.logger.Error("failed to persist pnl record",
					slog.String("run_id", runID),
					slog.String("error", err.Error()),
				)
				break
			}
		}
	}
}

// archiveRun exports the finished run to blob storage.
func (a *App) archiveRun(deps *Dependencies, runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	objects, err := deps.Archiver.ArchiveRun(ctx, runID)
	if err != nil {
		a.logger.Error("failed to archive run",
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
		return
	}
	a.logger.Info("run archived",
		slog.String("run_id", runID),
		slog.Int64("objects", objects),
	)
}

// ledgerAssets is every asset symbol the ledger may hold: spot assets, perp
// instruments, lending receipts, and staked tokens.
func (a *App) ledgerAssets() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	add(a.cfg.Universe.CashAsset)
	for _, s := range a.cfg.Universe.Assets {
		add(s)
	}
	for inst := range a.cfg.Universe.Perps {
		add(inst)
	}
	for receipt := range a.cfg.Universe.Receipts {
		add(receipt)
	}
	for staked := range a.cfg.Universe.Staked {
		add(staked)
	}
	return out
}

// mapKeys returns the keys of m in arbitrary order.
func mapKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// keySet returns the keys of m as a membership set.
func keySet[V any](m map[string]V) map[string]bool {
	out := make(map[string]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}

// invert flips a string map, e.g. receipt->underlying into
// underlying->receipt.
func invert(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

// perTickRates scales annualized borrow rate fractions down to one tick.
func perTickRates(annualized map[string]float64, interval time.Duration) map[string]float64 {
	if len(annualized) == 0 {
		return nil
	}
	const secondsPerYear = 365 * 24 * 3600
	out := make(map[string]float64, len(annualized))
	for asset, rate := range annualized {
		out[asset] = rate * interval.Seconds() / secondsPerYear
	}
	return out
}

// costEstimates builds the per-venue execution cost model the live source
// stamps onto every snapshot.
func costEstimates(venues map[string]config.VenueConfig) map[string]domain.CostEstimate {
	out := make(map[string]domain.CostEstimate, len(venues))
	for name, v := range venues {
		out[name] = domain.CostEstimate{
			TakerFeeBps: v.TakerFeeBps,
			SlippageBps: v.SlippageBps,
		}
	}
	return out
}
