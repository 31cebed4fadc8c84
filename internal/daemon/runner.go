// Package daemon runs recurring-rule passes on a schedule and exports what they create.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ArionMiles/spendcycle/pkg/api"
	"github.com/ArionMiles/spendcycle/pkg/processor"
)

// DefaultInterval is used when Config.Interval is unset.
const DefaultInterval = time.Hour

// Processor runs one pass for a profile.
type Processor interface {
	Process(ctx context.Context, profileID string, ref api.Date) (*processor.Result, error)
}

// Config holds runner options.
type Config struct {
	// Profiles are processed in order on every pass.
	Profiles []string
	// Interval is the pause between passes.
	Interval time.Duration
}

// Runner drives the processor for every configured profile.
type Runner struct {
	proc     Processor
	writer   api.Writer
	profiles []string
	interval time.Duration
	today    func() api.Date
	logger   *slog.Logger
}

// New creates a runner. writer may be nil, in which case created
// transactions are not exported.
func New(proc Processor, writer api.Writer, cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	return &Runner{
		proc:     proc,
		writer:   writer,
		profiles: cfg.Profiles,
		interval: cfg.Interval,
		today:    api.Today,
		logger:   logger,
	}
}

// Run executes a pass immediately and then every interval until ctx is
// cancelled. Failed passes are logged and never stop the loop. On shutdown
// the writer drains what it already received before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	if len(r.profiles) == 0 {
		return errors.New("no profiles configured")
	}

	r.logger.Info("starting spendcycle daemon",
		"profiles", len(r.profiles),
		"interval", r.interval,
		"export", r.writer != nil,
	)

	out, wait := r.startWriter(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.pass(ctx, r.today(), out)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stopping daemon")
			err := wait()
			r.logger.Info("daemon stopped")
			return err
		case <-ticker.C:
			r.pass(ctx, r.today(), out)
		}
	}
}

// RunOnce processes every profile for ref, exports the created transactions
// and returns the per-profile results. Profiles whose due rules could not be
// listed are reported in the returned error; the others still run.
func (r *Runner) RunOnce(ctx context.Context, ref api.Date) ([]*processor.Result, error) {
	if len(r.profiles) == 0 {
		return nil, errors.New("no profiles configured")
	}

	out, wait := r.startWriter(ctx)
	results, passErr := r.pass(ctx, ref, out)
	if err := wait(); err != nil {
		passErr = errors.Join(passErr, fmt.Errorf("exporting transactions: %w", err))
	}
	return results, passErr
}

// startWriter launches the writer goroutine. The returned wait closes the
// channel and blocks until the writer has flushed.
func (r *Runner) startWriter(ctx context.Context) (chan<- *api.Transaction, func() error) {
	if r.writer == nil {
		return nil, func() error { return nil }
	}

	out := make(chan *api.Transaction, 100)
	done := make(chan error, 1)
	go func() {
		// Cancellation is signalled by closing out so buffered rows are flushed.
		done <- r.writer.Write(context.WithoutCancel(ctx), out)
	}()

	return out, func() error {
		close(out)
		err := <-done
		if err != nil {
			r.logger.Error("writer error", "error", err)
		}
		return err
	}
}

func (r *Runner) pass(ctx context.Context, ref api.Date, out chan<- *api.Transaction) ([]*processor.Result, error) {
	logger := r.logger.With("reference_date", ref.String())
	started := time.Now()

	var (
		results []*processor.Result
		errs    []error
		created int
		failed  int
	)

	for _, profileID := range r.profiles {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		res, err := r.proc.Process(ctx, profileID, ref)
		if err != nil {
			logger.Error("pass failed", "profile_id", profileID, "error", err)
			errs = append(errs, fmt.Errorf("profile %s: %w", profileID, err))
			continue
		}
		results = append(results, res)
		created += len(res.Created)
		failed += len(res.Failed())

		if out != nil {
			for i := range res.Created {
				send(ctx, out, &res.Created[i])
			}
		}
	}

	logger.Info("pass complete",
		"profiles", len(results),
		"created", created,
		"failed_rules", failed,
		"duration", time.Since(started),
	)

	return results, errors.Join(errs...)
}

// send delivers txn whenever the channel has room, even after ctx is done.
func send(ctx context.Context, out chan<- *api.Transaction, txn *api.Transaction) {
	select {
	case out <- txn:
		return
	default:
	}
	select {
	case out <- txn:
	case <-ctx.Done():
	}
}
