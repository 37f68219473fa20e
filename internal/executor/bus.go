package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/crypto"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
)

// Stream and channel names shared with the order router.
const (
	OrderStream     = "orders:pending"
	fillChannelPref = "orders:fills:"
)

// Bus is the live execution sink. It appends instruction sets to a durable
// stream consumed by the order router process and waits for the router to
// publish the fill report back. If the context expires before the report
// arrives the outcome is unknown and the error says so; the engine parks the
// set until an operator resolves it against venue records.
type Bus struct {
	bus    domain.SignalBus
	dedup  *Dedup
	creds  *crypto.APICredentials
	logger *slog.Logger
}

// NewBus creates the live sink on top of the given bus.
func NewBus(bus domain.SignalBus, logger *slog.Logger) *Bus {
	return &Bus{
		bus:    bus,
		dedup:  NewDedup(10 * time.Minute),
		logger: logger.With(slog.String("component", "bus_executor")),
	}
}

// WithCredentials makes the sink sign every published set so the order
// router can authenticate the origin before touching the venue.
func (b *Bus) WithCredentials(creds *crypto.APICredentials) *Bus {
	b.creds = creds
	return b
}

// wireSet is the stream payload handed to the order router. Auth carries the
// HMAC headers computed over the set body when the sink has credentials.
type wireSet struct {
	Set      domain.InstructionSet `json:"set"`
	TickTime time.Time             `json:"tick_time"`
	Auth     map[string]string     `json:"auth,omitempty"`
}

// Submit publishes the set and blocks until the router reports fills or the
// context expires. A set ID already submitted within the dedup window is not
// re-appended to the stream, but Submit still waits for its report.
func (b *Bus) Submit(ctx context.Context, set domain.InstructionSet, snap domain.MarketSnapshot) (domain.FillReport, error) {
	// Subscribe before publishing so the report cannot slip past us.
	reports, err := b.bus.Subscribe(ctx, fillChannelPref+set.ID)
	if err != nil {
		return domain.FillReport{}, fmt.Errorf("executor: subscribe fills for %s: %w", set.ID, err)
	}

	if b.dedup.IsDuplicate(set.ID) {
		b.logger.Warn("set already submitted, awaiting report only", slog.String("set_id", set.ID))
	} else {
		body, err := json.Marshal(set)
		if err != nil {
			return domain.FillReport{}, fmt.Errorf("executor: marshal set %s: %w", set.ID, err)
		}
		var auth map[string]string
		if b.creds != nil {
			auth = b.creds.Headers("POST", "/orders", string(body))
		}
		payload, err := json.Marshal(wireSet{Set: set, TickTime: snap.Timestamp, Auth: auth})
		if err != nil {
			return domain.FillReport{}, fmt.Errorf("executor: marshal set %s: %w", set.ID, err)
		}
		if err := b.bus.StreamAppend(ctx, OrderStream, payload); err != nil {
			return domain.FillReport{}, fmt.Errorf("executor: append set %s: %w", set.ID, err)
		}
		b.logger.Info("instruction set submitted",
			slog.String("set_id", set.ID),
			slog.Int("instructions", len(set.Instructions)),
		)
	}

	select {
	case <-ctx.Done():
		return domain.FillReport{}, ctx.Err()
	case raw, ok := <-reports:
		if !ok {
			return domain.FillReport{}, fmt.Errorf("executor: fill channel closed for %s", set.ID)
		}
		var report domain.FillReport
		if err := json.Unmarshal(raw, &report); err != nil {
			return domain.FillReport{}, fmt.Errorf("executor: decode fill report for %s: %w", set.ID, err)
		}
		return report, nil
	}
}

var _ domain.ExecutionSink = (*Bus)(nil)
