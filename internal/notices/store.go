package notices

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// claimTTL is how long a claimed row stays invisible to other sweep workers.
// A worker that dies mid-notice leaves the row untouched; the claim expires
// and a later sweep retries it.
const claimTTL = 5 * time.Minute

// Repository is the durable store contract for scheduled notices.
type Repository interface {
	// Insert creates a notice. Re-establishing the same (owner, config)
	// pair refreshes the existing row in place instead of duplicating it,
	// so an owner never holds two live notices for one configuration.
	Insert(ctx context.Context, n ScheduledNotice) error
	Delete(ctx context.Context, id uuid.UUID) error
	UpdateNextRunTime(ctx context.Context, id uuid.UUID, next time.Time) error

	// DeleteAllForOwner removes every live notice for an owner. Deleting
	// zero rows is not an error.
	DeleteAllForOwner(ctx context.Context, owner OwnerRef) (int64, error)

	// Replace atomically retires all live notices for (owner, events) and
	// inserts the given replacements, so a stale-anchor notice and its
	// successor never coexist.
	Replace(ctx context.Context, owner OwnerRef, events []TriggeringEvent, fresh []ScheduledNotice) error

	// ClaimDue selects up to limit notices matching the flavor filter with
	// nextRunTime strictly before cutoff, oldest first, and claims them
	// against concurrent sweeps. now drives claim expiry, cutoff drives
	// due-ness (they differ for day-gated flavors).
	ClaimDue(ctx context.Context, flavor Flavor, now, cutoff time.Time, limit int) ([]ScheduledNotice, error)

	// List returns pending notices ordered by nextRunTime, for inspection.
	List(ctx context.Context, limit int) ([]ScheduledNotice, error)
}

// PgStore is the Postgres Repository backed by a pgxpool.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore wraps a pool in a Repository.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// execer covers both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const noticeColumns = `id, owner_kind, loan_id, fee_fine_action_id, request_id, user_id,
		triggering_event, timing, period_seconds, recurring, recurrence_seconds,
		template_id, format, send_in_real_time, next_run_time`

func (s *PgStore) Insert(ctx context.Context, n ScheduledNotice) error {
	return insertNotice(ctx, s.pool, n)
}

// insertNotice upserts against the (owner, config) uniqueness key: a second
// establish for the same pair refreshes the existing row rather than adding
// a duplicate that would double-send.
func insertNotice(ctx context.Context, q execer, n ScheduledNotice) error {
	_, err := q.Exec(ctx, `
		INSERT INTO scheduled_notices (`+noticeColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (owner_kind, loan_id, fee_fine_action_id, request_id,
			triggering_event, template_id, timing, format)
		DO UPDATE SET
			period_seconds = EXCLUDED.period_seconds,
			recurring = EXCLUDED.recurring,
			recurrence_seconds = EXCLUDED.recurrence_seconds,
			send_in_real_time = EXCLUDED.send_in_real_time,
			next_run_time = EXCLUDED.next_run_time,
			claimed_until = NULL`,
		noticeArgs(n)...,
	)
	if err != nil {
		return fmt.Errorf("insert scheduled notice: %w", err)
	}
	return nil
}

// noticeArgs binds a notice to the noticeColumns order. Owner id columns
// not used by the owner kind bind as NULL, including user_id (only fee/fine
// owners carry it; loan and request recipients resolve at sweep time).
func noticeArgs(n ScheduledNotice) []any {
	return []any{
		n.ID, string(n.Owner.Kind),
		nullUUID(n.Owner.LoanID), nullUUID(n.Owner.FeeFineActionID),
		nullUUID(n.Owner.RequestID), nullUUID(n.Owner.UserID),
		string(n.Event), string(n.Config.Timing),
		int64(time.Duration(n.Config.Period) / time.Second),
		n.Config.Recurring,
		int64(time.Duration(n.Config.RecurrencePeriod) / time.Second),
		n.Config.TemplateID, string(n.Config.Format),
		n.Config.SendInRealTime, n.NextRunTime,
	}
}

func (s *PgStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM scheduled_notices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete scheduled notice: %w", err)
	}
	return nil
}

func (s *PgStore) UpdateNextRunTime(ctx context.Context, id uuid.UUID, next time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scheduled_notices
		SET next_run_time = $2, claimed_until = NULL
		WHERE id = $1`, id, next)
	if err != nil {
		return fmt.Errorf("update next run time: %w", err)
	}
	return nil
}

func (s *PgStore) DeleteAllForOwner(ctx context.Context, owner OwnerRef) (int64, error) {
	pred, arg, err := ownerPredicate(owner)
	if err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM scheduled_notices WHERE `+pred, arg)
	if err != nil {
		return 0, fmt.Errorf("delete notices for %s: %w", owner, err)
	}
	return tag.RowsAffected(), nil
}

func (s *PgStore) Replace(ctx context.Context, owner OwnerRef, events []TriggeringEvent, fresh []ScheduledNotice) error {
	pred, arg, err := ownerPredicate(owner)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`DELETE FROM scheduled_notices WHERE `+pred+` AND triggering_event = ANY($2)`,
		arg, eventStrings(events))
	if err != nil {
		return fmt.Errorf("retire notices for %s: %w", owner, err)
	}
	for _, n := range fresh {
		if err := insertNotice(ctx, tx, n); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

func (s *PgStore) ClaimDue(ctx context.Context, flavor Flavor, now, cutoff time.Time, limit int) ([]ScheduledNotice, error) {
	// Strictly before the cutoff: a day-gated notice due exactly at local
	// midnight belongs to today's window, not yesterday's.
	rows, err := s.pool.Query(ctx, `
		UPDATE scheduled_notices
		SET claimed_until = $1
		WHERE id IN (
			SELECT id FROM scheduled_notices
			WHERE next_run_time < $2
			  AND send_in_real_time = $3
			  AND triggering_event = ANY($4)
			  AND (claimed_until IS NULL OR claimed_until < $5)
			ORDER BY next_run_time
			LIMIT $6
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+noticeColumns,
		now.Add(claimTTL), cutoff, flavor.RealTime, eventStrings(flavor.Events), now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due notices: %w", err)
	}
	defer rows.Close()

	claimed, err := scanNotices(rows)
	if err != nil {
		return nil, err
	}
	// UPDATE ... RETURNING does not preserve the inner ORDER BY.
	sort.Slice(claimed, func(i, j int) bool {
		return claimed[i].NextRunTime.Before(claimed[j].NextRunTime)
	})
	return claimed, nil
}

func (s *PgStore) List(ctx context.Context, limit int) ([]ScheduledNotice, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+noticeColumns+`
		FROM scheduled_notices
		ORDER BY next_run_time
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list scheduled notices: %w", err)
	}
	defer rows.Close()
	return scanNotices(rows)
}

// --------------------------------------------------------------------------
// Row mapping
// --------------------------------------------------------------------------

func scanNotices(rows pgx.Rows) ([]ScheduledNotice, error) {
	var out []ScheduledNotice
	for rows.Next() {
		var (
			n                         ScheduledNotice
			kind, event, timing, fmtS string
			loanID, actionID          *uuid.UUID
			requestID, userID         *uuid.UUID
			periodSec, recurrenceSec  int64
		)
		if err := rows.Scan(
			&n.ID, &kind, &loanID, &actionID, &requestID, &userID,
			&event, &timing, &periodSec, &n.Config.Recurring, &recurrenceSec,
			&n.Config.TemplateID, &fmtS, &n.Config.SendInRealTime, &n.NextRunTime,
		); err != nil {
			return nil, fmt.Errorf("scan scheduled notice: %w", err)
		}
		n.Owner = OwnerRef{
			Kind:            OwnerKind(kind),
			LoanID:          deref(loanID),
			FeeFineActionID: deref(actionID),
			RequestID:       deref(requestID),
			UserID:          deref(userID),
		}
		n.Event = TriggeringEvent(event)
		n.Config.Timing = Timing(timing)
		n.Config.Period = Duration(time.Duration(periodSec) * time.Second)
		n.Config.RecurrencePeriod = Duration(time.Duration(recurrenceSec) * time.Second)
		n.Config.Format = Format(fmtS)
		out = append(out, n)
	}
	return out, rows.Err()
}

// ownerPredicate builds the WHERE clause matching an owner. The argument is
// always bound as $1.
func ownerPredicate(owner OwnerRef) (string, any, error) {
	switch owner.Kind {
	case OwnerLoan:
		return `owner_kind = 'loan' AND loan_id = $1`, owner.LoanID, nil
	case OwnerFeeFineAction:
		return `owner_kind = 'fee-fine-action' AND fee_fine_action_id = $1`, owner.FeeFineActionID, nil
	case OwnerRequest:
		return `owner_kind = 'request' AND request_id = $1`, owner.RequestID, nil
	}
	return "", nil, fmt.Errorf("unknown owner kind %q", owner.Kind)
}

func eventStrings(events []TriggeringEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = string(e)
	}
	return out
}

func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func deref(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}
