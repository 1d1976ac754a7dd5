package notices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Scheduler translates circulation lifecycle events into scheduled notice
// creation, replacement and cancellation. It performs no dispatch and must
// never fail the business operation that triggered it: callers log returned
// errors and move on. A failed write here cannot be recovered by the sweep
// (no row exists to retry), so failures are logged at error level.
type Scheduler struct {
	repo   Repository
	logger *slog.Logger
}

// NewScheduler builds a Scheduler on a notice repository.
func NewScheduler(repo Repository, logger *slog.Logger) *Scheduler {
	return &Scheduler{repo: repo, logger: logger}
}

// OnAnchorEstablished creates one scheduled notice per applicable timing
// configuration, anchored at anchor. Configs tied to instantaneous events
// are filtered out upstream; anything arriving here is time-based. Invalid
// configs are skipped, valid ones are still written.
func (s *Scheduler) OnAnchorEstablished(ctx context.Context, owner OwnerRef,
	event TriggeringEvent, anchor time.Time, configs []Config) error {

	if err := owner.Validate(); err != nil {
		return err
	}

	var errs []error
	created := 0
	for _, cfg := range configs {
		n, err := buildNotice(owner, event, anchor, cfg)
		if err != nil {
			s.logger.Warn("skipping invalid notice config",
				"owner", owner.String(), "event", string(event), "error", err)
			continue
		}
		if err := s.repo.Insert(ctx, n); err != nil {
			s.logger.Error("scheduled notice write failed",
				"owner", owner.String(), "event", string(event), "error", err)
			errs = append(errs, err)
			continue
		}
		created++
	}
	s.logger.Info("scheduled notices created",
		"owner", owner.String(), "event", string(event), "count", created)
	return errors.Join(errs...)
}

// OnAnchorChanged reacts to a moved anchor (renewal, recall, due date edit,
// request expiration edit): every live notice for the owner tied to the
// given events is retired and replaced with notices computed from the new
// anchor, in one transaction, so the sweep can never observe a notice with a
// stale anchor alongside its replacement.
func (s *Scheduler) OnAnchorChanged(ctx context.Context, owner OwnerRef,
	events []TriggeringEvent, newAnchor time.Time, configs []Config) error {

	if err := owner.Validate(); err != nil {
		return err
	}
	if len(events) == 0 {
		return fmt.Errorf("anchor change for %s: no triggering events given", owner)
	}

	fresh := make([]ScheduledNotice, 0, len(configs))
	for _, cfg := range configs {
		// Replacements carry the first (primary) event of the change.
		n, err := buildNotice(owner, events[0], newAnchor, cfg)
		if err != nil {
			s.logger.Warn("skipping invalid notice config on anchor change",
				"owner", owner.String(), "error", err)
			continue
		}
		fresh = append(fresh, n)
	}

	if err := s.repo.Replace(ctx, owner, events, fresh); err != nil {
		s.logger.Error("scheduled notice replacement failed",
			"owner", owner.String(), "error", err)
		return err
	}
	s.logger.Info("scheduled notices replaced",
		"owner", owner.String(), "anchor", newAnchor, "count", len(fresh))
	return nil
}

// OnOwnerInvalidated eagerly deletes every live notice for an owner whose
// state no longer justifies notices (loan closed, item lost or claimed
// returned, fee/fine account closed, request terminal). Idempotent: a second
// call deletes nothing and reports no error.
func (s *Scheduler) OnOwnerInvalidated(ctx context.Context, owner OwnerRef) error {
	if err := owner.Validate(); err != nil {
		return err
	}
	deleted, err := s.repo.DeleteAllForOwner(ctx, owner)
	if err != nil {
		s.logger.Error("scheduled notice cancellation failed",
			"owner", owner.String(), "error", err)
		return err
	}
	if deleted > 0 {
		s.logger.Info("scheduled notices cancelled",
			"owner", owner.String(), "count", deleted)
	}
	return nil
}

func buildNotice(owner OwnerRef, event TriggeringEvent, anchor time.Time, cfg Config) (ScheduledNotice, error) {
	if err := cfg.Validate(); err != nil {
		return ScheduledNotice{}, err
	}
	return ScheduledNotice{
		ID:          uuid.New(),
		Owner:       owner,
		Event:       event,
		Config:      cfg,
		NextRunTime: NextRunTime(anchor, cfg.Timing, time.Duration(cfg.Period)),
	}, nil
}
