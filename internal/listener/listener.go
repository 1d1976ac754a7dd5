// Package listener provides a Postgres LISTEN/NOTIFY consumer for fee/fine
// balance-change events. It holds a dedicated pgx connection (not from the
// pool) listening on the `feefine_balance_changed` channel.
//
// The fees module publishes a balance change when a lost-item fee is charged
// by actual cost; the charge has no synchronous circulation code path, so
// notice scheduling for it is event-driven. The payload carries the owner
// identifiers, the charge date (the anchor) and the applicable notice
// configurations already matched by the policy evaluator.
package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/opencirc/noticesvc/internal/notices"
)

const (
	channel          = "feefine_balance_changed"
	reconnectBackoff = 5 * time.Second
	maxReconnect     = 30 * time.Second
)

// BalanceChangedEvent is the JSON payload from
// pg_notify('feefine_balance_changed', ...).
type BalanceChangedEvent struct {
	FeeFineActionID string           `json:"feeFineActionId"`
	LoanID          string           `json:"loanId"`
	UserID          string           `json:"userId"`
	ChargeDate      time.Time        `json:"chargeDate"`
	Configs         []notices.Config `json:"noticeConfigs"`
}

// Start opens a dedicated connection and listens on the balance-change
// channel. It reconnects automatically on connection loss. Blocks until ctx
// is cancelled. Intended to be called with `go`.
func Start(ctx context.Context, dbURL string, scheduler *notices.Scheduler, logger *slog.Logger) {
	backoff := reconnectBackoff

	for {
		err := listenLoop(ctx, dbURL, scheduler, logger)
		if ctx.Err() != nil {
			logger.Info("fee/fine listener stopped (context cancelled)")
			return
		}

		logger.Error("fee/fine listener disconnected, reconnecting...",
			"error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxReconnect)
		case <-ctx.Done():
			return
		}
	}
}

// listenLoop runs a single listen session. Returns when the connection drops
// or the context is cancelled.
func listenLoop(ctx context.Context, dbURL string, scheduler *notices.Scheduler, logger *slog.Logger) error {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	_, err = conn.Exec(ctx, "LISTEN "+channel)
	if err != nil {
		return fmt.Errorf("LISTEN %s: %w", channel, err)
	}
	logger.Info("fee/fine listener connected", "channel", channel)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		var event BalanceChangedEvent
		if err := json.Unmarshal([]byte(notification.Payload), &event); err != nil {
			logger.Warn("failed to parse balance-change event",
				"payload", notification.Payload, "error", err)
			continue
		}

		// Scheduling is a handful of quick inserts; handle inline so a
		// notification burst stays bounded and events apply in arrival
		// order.
		handleBalanceChange(ctx, scheduler, event, logger)
	}
}

// handleBalanceChange schedules lost-item fee-charged notices for the
// charged account. Best-effort, mirroring the synchronous lifecycle paths.
func handleBalanceChange(ctx context.Context, scheduler *notices.Scheduler, event BalanceChangedEvent, logger *slog.Logger) {
	owner, err := parseOwner(event)
	if err != nil {
		logger.Warn("ignoring malformed balance-change event", "error", err)
		return
	}
	if len(event.Configs) == 0 {
		return
	}

	logger.Info("balance-change event received",
		"owner", owner.String(), "configs", len(event.Configs))

	if err := scheduler.OnAnchorEstablished(ctx, owner,
		notices.EventAgedToLostFineCharged, event.ChargeDate, event.Configs); err != nil {
		logger.Error("balance-change notice scheduling incomplete",
			"owner", owner.String(), "error", err)
	}
}

func parseOwner(event BalanceChangedEvent) (notices.OwnerRef, error) {
	actionID, err := uuidField("feeFineActionId", event.FeeFineActionID)
	if err != nil {
		return notices.OwnerRef{}, err
	}
	loanID, err := uuidField("loanId", event.LoanID)
	if err != nil {
		return notices.OwnerRef{}, err
	}
	userID, err := uuidField("userId", event.UserID)
	if err != nil {
		return notices.OwnerRef{}, err
	}
	return notices.FeeFineOwner(actionID, loanID, userID), nil
}

func uuidField(name, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s %q: %w", name, raw, err)
	}
	return id, nil
}
