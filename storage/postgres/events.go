package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	log "github.com/sirupsen/logrus"

	"github.com/open-rails/storeauth/core"
)

// EventLog appends grant events to storeauth.grant_events. Writes are
// best-effort: failures are logged and never reach the token request.
type EventLog struct {
	db      DB
	timeout time.Duration
}

func NewEventLog(db DB) *EventLog { return &EventLog{db: db, timeout: 2 * time.Second} }

func (l *EventLog) Emit(ctx context.Context, ev core.Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()
	_, err := l.db.Exec(ctx, `
		INSERT INTO storeauth.grant_events (occurred_at, event, grant_type, client_id, access_token_id, ip_addr, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ev.OccurredAt, ev.Name, ev.GrantType, ev.ClientID, nullable(ev.AccessTokenID), nullable(ev.IP), nullable(ev.UserAgent))
	if err != nil {
		log.WithContext(ctx).WithError(err).WithField("event", ev.Name).Warn("storeauth: grant event not recorded")
	}
}

// ListEvents returns a client's events, newest first, optionally filtered by name.
func (l *EventLog) ListEvents(ctx context.Context, clientID string, limit int, names ...string) ([]core.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	if names == nil {
		names = []string{}
	}
	rows, err := l.db.Query(ctx, `
		SELECT occurred_at, event, grant_type, client_id,
		       COALESCE(access_token_id, ''), COALESCE(ip_addr, ''), COALESCE(user_agent, '')
		FROM storeauth.grant_events
		WHERE client_id=$1 AND (cardinality($2::text[]) = 0 OR event = ANY($2))
		ORDER BY occurred_at DESC, id DESC
		LIMIT $3
	`, clientID, names, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Event, error) {
		var ev core.Event
		err := row.Scan(&ev.OccurredAt, &ev.Name, &ev.GrantType, &ev.ClientID, &ev.AccessTokenID, &ev.IP, &ev.UserAgent)
		return ev, err
	})
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
