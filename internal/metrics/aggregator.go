package metrics

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinytelemetry/mdm-webhook/internal/model"
)

// LineSource is the narrow read contract the aggregator needs from the results log.
type LineSource interface {
	Scan(ctx context.Context, fn func(line []byte) error) error
}

// Aggregator rebuilds the metrics summary by replaying the results log.
// Nothing is cached between calls, so every Compute reflects the log as it
// stands when the scan reaches its end.
type Aggregator struct {
	source LineSource
	logger *slog.Logger
}

// NewAggregator creates an aggregator over source. A nil logger discards output.
func NewAggregator(source LineSource, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Aggregator{source: source, logger: logger}
}

// Compute replays the log from empty state in a single pass.
func (a *Aggregator) Compute(ctx context.Context) (model.Summary, error) {
	tally := newTally()
	skipped := 0

	err := a.source.Scan(ctx, func(line []byte) error {
		rec, perr := ParseRecord(line)
		if perr != nil {
			skipped++
			return nil
		}
		tally.add(rec)
		return nil
	})
	if err != nil {
		return model.Summary{}, fmt.Errorf("metrics: replay results log: %w", err)
	}

	if skipped > 0 {
		a.logger.Debug("metrics: skipped unparsable lines", "count", skipped)
	}
	return tally.summary(), nil
}

type tally struct {
	total        int64
	successful   int64
	devices      map[string]struct{}
	commandTypes map[string]int64
}

func newTally() *tally {
	return &tally{
		devices:      make(map[string]struct{}),
		commandTypes: make(map[string]int64),
	}
}

func (t *tally) add(rec *model.CommandResult) {
	t.total++
	if rec.Succeeded() {
		t.successful++
	}
	t.devices[model.Identity(rec.DeviceUDID)] = struct{}{}
	if model.Truthy(rec.CommandType) {
		t.commandTypes[model.Text(rec.CommandType)]++
	}
}

func (t *tally) summary() model.Summary {
	return model.Summary{
		TotalCommands:      t.total,
		SuccessfulCommands: t.successful,
		FailedCommands:     t.total - t.successful,
		UniqueDevices:      int64(len(t.devices)),
		CommandTypes:       t.commandTypes,
	}
}
