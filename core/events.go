package core

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Event names emitted by grants.
const (
	EventClientAuthenticationFailed = "client.authentication.failed"
	EventAccessTokenIssued          = "access_token.issued"
)

// Event describes something that happened while handling a token request.
// Sinks fill OccurredAt when it is zero.
type Event struct {
	OccurredAt    time.Time
	Name          string
	GrantType     string
	ClientID      string
	AccessTokenID string
	IP            string
	UserAgent     string
}

// LogEventSink writes events to logrus.
type LogEventSink struct{}

func (LogEventSink) Emit(ctx context.Context, ev Event) {
	entry := log.WithContext(ctx).WithFields(log.Fields{
		"event":      ev.Name,
		"grant_type": ev.GrantType,
		"client_id":  ev.ClientID,
	})
	if ev.AccessTokenID != "" {
		entry = entry.WithField("access_token_id", ev.AccessTokenID)
	}
	if ev.IP != "" {
		entry = entry.WithField("ip", ev.IP)
	}
	if ev.Name == EventClientAuthenticationFailed {
		entry.Warn("storeauth: client authentication failed")
		return
	}
	entry.Info("storeauth: " + ev.Name)
}

// NopEventSink discards events.
type NopEventSink struct{}

func (NopEventSink) Emit(context.Context, Event) {}

// MultiEventSink fans each event out to every sink in order.
type MultiEventSink []EventSink

func (m MultiEventSink) Emit(ctx context.Context, ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}
