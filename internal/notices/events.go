package notices

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventType tags an observability event on the notice log stream.
type EventType string

const (
	EventNotice      EventType = "NOTICE"
	EventNoticeError EventType = "NOTICE_ERROR"
)

// logChannel is the pg_notify channel the notice log consumer listens on.
const logChannel = "patron_notice_log"

// LogEvent is the payload published for every notice disposition.
type LogEvent struct {
	Type        EventType       `json:"type"`
	NoticeID    string          `json:"noticeId"`
	Owner       OwnerRef        `json:"owner"`
	Event       TriggeringEvent `json:"triggeringEvent"`
	TemplateID  string          `json:"templateId"`
	Timestamp   time.Time       `json:"ts"`
	ErrorDetail string          `json:"error,omitempty"`
}

// Emitter publishes notice log events. Emission is strictly best-effort: a
// publish failure never changes a notice's disposition.
type Emitter interface {
	Publish(ctx context.Context, e LogEvent) error
}

// PgEmitter publishes events over Postgres NOTIFY so the audit log consumer
// picks them up on the patron_notice_log channel.
type PgEmitter struct {
	pool *pgxpool.Pool
}

// NewPgEmitter builds an Emitter on the shared pool.
func NewPgEmitter(pool *pgxpool.Pool) *PgEmitter {
	return &PgEmitter{pool: pool}
}

func (p *PgEmitter) Publish(ctx context.Context, e LogEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode notice log event: %w", err)
	}
	if _, err := p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", logChannel, string(payload)); err != nil {
		return fmt.Errorf("publish notice log event: %w", err)
	}
	return nil
}

// emit publishes and swallows failures, logging them only.
func emit(ctx context.Context, emitter Emitter, logger *slog.Logger, e LogEvent) {
	if emitter == nil {
		return
	}
	if err := emitter.Publish(ctx, e); err != nil {
		logger.Warn("notice log event publish failed",
			"type", string(e.Type), "notice_id", e.NoticeID, "error", err)
	}
}

func logEvent(t EventType, n ScheduledNotice, detail string) LogEvent {
	return LogEvent{
		Type:        t,
		NoticeID:    n.ID.String(),
		Owner:       n.Owner,
		Event:       n.Event,
		TemplateID:  n.Config.TemplateID.String(),
		Timestamp:   time.Now().UTC(),
		ErrorDetail: detail,
	}
}
