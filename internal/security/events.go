package security

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/telegrid/backend/internal/cache"
	"github.com/telegrid/backend/internal/domain"
)

const (
	maxCachedEvents = 100
	maxCachedAlerts = 50
	historyTTL      = 24 * time.Hour

	eventKeyFormat = "security:events:%s"
	alertKeyFormat = "security:alerts:%s"
)

// EventStore keeps the per-user event and alert histories in the fast cache.
// Both lists are size-capped with oldest-first eviction; the durable audit
// log, not this store, is the system of record.
type EventStore struct {
	cache cache.Cache
}

func NewEventStore(c cache.Cache) *EventStore {
	return &EventStore{cache: c}
}

// AppendEvent adds one event to the capped history. The append is a
// read-modify-write without locking, so two concurrent appends for the same
// user can lose one entry; the durable audit log is the system of record.
func (s *EventStore) AppendEvent(ctx context.Context, event domain.SecurityEvent) error {
	key := fmt.Sprintf(eventKeyFormat, event.UserID)
	events, err := s.Events(ctx, event.UserID)
	if err != nil {
		return err
	}
	events = append(events, event)
	if len(events) > maxCachedEvents {
		events = events[len(events)-maxCachedEvents:]
	}
	return s.write(ctx, key, events)
}

// Events returns the cached history, oldest first. A cache miss is an empty
// history.
func (s *EventStore) Events(ctx context.Context, userID string) ([]domain.SecurityEvent, error) {
	key := fmt.Sprintf(eventKeyFormat, userID)
	raw, err := s.cache.Get(ctx, key)
	if err == cache.ErrMiss {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var events []domain.SecurityEvent
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		return nil, fmt.Errorf("corrupt event history for user %s: %w", userID, err)
	}
	return events, nil
}

// EventsSince filters the cached history to events at or after the cutoff.
func (s *EventStore) EventsSince(ctx context.Context, userID string, cutoff time.Time) ([]domain.SecurityEvent, error) {
	events, err := s.Events(ctx, userID)
	if err != nil {
		return nil, err
	}
	var recent []domain.SecurityEvent
	for _, e := range events {
		if !e.CreatedAt.Before(cutoff) {
			recent = append(recent, e)
		}
	}
	return recent, nil
}

// AppendAlert adds one alert to the capped list, with the same unlocked
// read-modify-write window as AppendEvent.
func (s *EventStore) AppendAlert(ctx context.Context, alert domain.SecurityAlert) error {
	key := fmt.Sprintf(alertKeyFormat, alert.UserID)
	alerts, err := s.Alerts(ctx, alert.UserID)
	if err != nil {
		return err
	}
	alerts = append(alerts, alert)
	if len(alerts) > maxCachedAlerts {
		alerts = alerts[len(alerts)-maxCachedAlerts:]
	}
	return s.write(ctx, key, alerts)
}

func (s *EventStore) Alerts(ctx context.Context, userID string) ([]domain.SecurityAlert, error) {
	key := fmt.Sprintf(alertKeyFormat, userID)
	raw, err := s.cache.Get(ctx, key)
	if err == cache.ErrMiss {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var alerts []domain.SecurityAlert
	if err := json.Unmarshal([]byte(raw), &alerts); err != nil {
		return nil, fmt.Errorf("corrupt alert history for user %s: %w", userID, err)
	}
	return alerts, nil
}

func (s *EventStore) write(ctx context.Context, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.cache.SetWithTTL(ctx, key, string(encoded), historyTTL)
}
