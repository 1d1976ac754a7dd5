package notices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opencirc/noticesvc/internal/records"
)

// DefaultNoticesLimit bounds a sweep when the tenant limit setting is
// absent or unparsable.
const DefaultNoticesLimit = 100

// Settings supplies the tenant-level knobs a sweep reads once per
// invocation.
type Settings interface {
	// NoticesLimit returns the batch size cap; implementations fall back to
	// DefaultNoticesLimit on any parse failure.
	NoticesLimit(ctx context.Context) int

	// Timezone returns the tenant timezone used by day-gated flavors.
	Timezone(ctx context.Context) *time.Location
}

// SweepResult summarizes one sweep invocation.
type SweepResult struct {
	Flavor      string        `json:"flavor"`
	Selected    int           `json:"selected"`
	Sent        int           `json:"sent"`
	Rescheduled int           `json:"rescheduled"`
	Deleted     int           `json:"deleted"`
	Discarded   int           `json:"discarded"`
	Failed      int           `json:"failed"`
	Duration    time.Duration `json:"duration"`
	Errors      []string      `json:"errors,omitempty"`
}

// Summary renders the result for log lines.
func (r SweepResult) Summary() string {
	return fmt.Sprintf("selected=%d sent=%d rescheduled=%d deleted=%d discarded=%d failed=%d in %s",
		r.Selected, r.Sent, r.Rescheduled, r.Deleted, r.Discarded, r.Failed,
		r.Duration.Round(time.Millisecond))
}

// Processor runs the shared sweep pipeline for every flavor. One instance
// serves all flavors; each Run call is a single bounded pass with no state
// carried between invocations.
type Processor struct {
	repo     Repository
	resolver EntityResolver
	gateway  Gateway
	emitter  Emitter
	settings Settings
	workers  int
	logger   *slog.Logger
}

// NewProcessor wires a sweep processor. workers bounds per-notice
// parallelism; values below 1 mean sequential processing.
func NewProcessor(repo Repository, resolver EntityResolver, gateway Gateway,
	emitter Emitter, settings Settings, workers int, logger *slog.Logger) *Processor {

	if workers < 1 {
		workers = 1
	}
	return &Processor{
		repo:     repo,
		resolver: resolver,
		gateway:  gateway,
		emitter:  emitter,
		settings: settings,
		workers:  workers,
		logger:   logger,
	}
}

// Run executes one sweep of the given flavor at the given instant. now is
// threaded explicitly so callers (and tests) can run sweeps at simulated
// times without touching the process clock.
func (p *Processor) Run(ctx context.Context, flavor Flavor, now time.Time) SweepResult {
	start := time.Now()
	result := SweepResult{Flavor: flavor.Name}

	limit := p.settings.NoticesLimit(ctx)
	if limit <= 0 {
		limit = DefaultNoticesLimit
	}

	// Day-gated flavors select against local start-of-day instead of now:
	// anything rescheduled today lands strictly after now, so it cannot be
	// picked up again before the next local midnight.
	cutoff := now
	if flavor.DayGated {
		cutoff = startOfDay(now.In(p.settings.Timezone(ctx)))
	}

	claimed, err := p.repo.ClaimDue(ctx, flavor, now, cutoff, limit)
	if err != nil {
		p.logger.Error("sweep selection failed", "flavor", flavor.Name, "error", err)
		result.Errors = append(result.Errors, err.Error())
		result.Duration = time.Since(start)
		return result
	}
	result.Selected = len(claimed)
	if len(claimed) == 0 {
		result.Duration = time.Since(start)
		return result
	}

	p.logger.Info("sweep selected due notices",
		"flavor", flavor.Name, "count", len(claimed), "limit", limit)

	workers := p.workers
	if workers > len(claimed) {
		workers = len(claimed)
	}

	ch := make(chan ScheduledNotice, len(claimed))
	for _, n := range claimed {
		ch <- n
	}
	close(ch)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range ch {
				outcome, err := p.processOne(ctx, n, now)
				mu.Lock()
				switch outcome {
				case outcomeRescheduled:
					result.Sent++
					result.Rescheduled++
				case outcomeSentDeleted:
					result.Sent++
					result.Deleted++
				case outcomeDiscarded:
					result.Discarded++
				case outcomeRetry:
					result.Failed++
				}
				if err != nil {
					result.Errors = append(result.Errors,
						fmt.Sprintf("notice %s: %s", n.ID, err))
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	result.Duration = time.Since(start)
	p.logger.Info("sweep complete", "flavor", flavor.Name, "summary", result.Summary())
	return result
}

type outcome int

const (
	outcomeRescheduled outcome = iota // sent, nextRunTime advanced
	outcomeSentDeleted                // sent, non-recurring (or exhausted) and deleted
	outcomeDiscarded                  // deleted without a send
	outcomeRetry                      // left untouched for the next sweep
)

// processOne applies resolve → guard → dispatch → advance-or-delete to a
// single notice. Failures are contained here: a bad notice never aborts the
// batch or skips its neighbours.
func (p *Processor) processOne(ctx context.Context, n ScheduledNotice, now time.Time) (outcome, error) {
	rctx, err := p.resolver.Resolve(ctx, n)
	if err != nil {
		var notFound *records.NotFoundError
		if errors.As(err, &notFound) {
			// A notice referencing a deleted entity can never send; drop it
			// so it stops blocking the queue.
			p.logger.Info("discarding notice with missing reference",
				"notice_id", n.ID, "owner", n.Owner.String(), "missing", notFound.Record)
			if delErr := p.repo.Delete(ctx, n.ID); delErr != nil {
				return outcomeRetry, delErr
			}
			emit(ctx, p.emitter, p.logger, logEvent(EventNoticeError, n, notFound.Error()))
			return outcomeDiscarded, nil
		}
		// Infrastructure failure: leave the notice for the next sweep.
		p.logger.Warn("notice resolution failed", "notice_id", n.ID, "error", err)
		return outcomeRetry, err
	}

	if p.irrelevant(n, rctx, now) {
		// Benign race with eager cancellation or a lapsed Before window.
		// Expected outcome, no error event.
		if err := p.repo.Delete(ctx, n.ID); err != nil {
			return outcomeRetry, err
		}
		return outcomeDiscarded, nil
	}

	err = p.gateway.Send(ctx, SendRequest{
		NoticeID:    n.ID,
		TemplateID:  n.Config.TemplateID,
		RecipientID: rctx.RecipientID,
		Format:      n.Config.Format,
		Context:     rctx.Render,
	})
	if err != nil {
		// Keep the notice untouched so the next sweep retries it.
		p.logger.Warn("notice dispatch failed", "notice_id", n.ID, "error", err)
		emit(ctx, p.emitter, p.logger, logEvent(EventNoticeError, n, err.Error()))
		return outcomeRetry, err
	}

	emit(ctx, p.emitter, p.logger, logEvent(EventNotice, n, ""))

	return p.finish(ctx, n, rctx, now)
}

// finish advances a recurring notice or deletes a one-shot one after a
// successful send.
func (p *Processor) finish(ctx context.Context, n ScheduledNotice, rctx *NoticeContext, now time.Time) (outcome, error) {
	recurrence := time.Duration(n.Config.RecurrencePeriod)
	if !n.Config.Recurring || recurrence <= 0 {
		if err := p.repo.Delete(ctx, n.ID); err != nil {
			return outcomeRetry, err
		}
		return outcomeSentDeleted, nil
	}

	next := Advance(n.NextRunTime, recurrence, now)

	// A recurring Before notice stops once its next run would land past the
	// due date: there is nothing left to warn about.
	if n.Owner.Kind == OwnerLoan && n.Config.Timing == TimingBefore &&
		!rctx.DueDate.IsZero() && next.After(rctx.DueDate) {
		if err := p.repo.Delete(ctx, n.ID); err != nil {
			return outcomeRetry, err
		}
		return outcomeSentDeleted, nil
	}

	if err := p.repo.UpdateNextRunTime(ctx, n.ID, next); err != nil {
		// The send already happened; a stale row risks a duplicate, which
		// at-least-once delivery tolerates.
		p.logger.Error("failed to advance recurring notice",
			"notice_id", n.ID, "next_run_time", next, "error", err)
		return outcomeRetry, err
	}
	return outcomeRescheduled, nil
}

// irrelevant reports whether the notice should be silently discarded: the
// owner was invalidated after scheduling, or a Before warning outlived the
// due date it warns about.
func (p *Processor) irrelevant(n ScheduledNotice, rctx *NoticeContext, now time.Time) bool {
	if rctx.OwnerClosed {
		return true
	}
	if n.Owner.Kind == OwnerLoan && n.Config.Timing == TimingBefore &&
		!rctx.DueDate.IsZero() && rctx.DueDate.Before(now) {
		return true
	}
	return false
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
