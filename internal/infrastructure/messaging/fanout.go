package messaging

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/oksasatya/go-ddd-school-auth/internal/domain/entity"
	"github.com/oksasatya/go-ddd-school-auth/internal/domain/port"
)

// Fanout hands the same events to every publisher, even when one fails.
type Fanout []port.EventPublisher

func (f Fanout) Publish(ctx context.Context, events []entity.Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogPublisher writes security-relevant events to the application log.
type LogPublisher struct {
	Logger *logrus.Logger
}

var warnEvents = map[entity.EventType]bool{
	entity.EventAccountLocked:          true,
	entity.EventAllSessionsInvalidated: true,
	entity.EventRoleChanged:            true,
	entity.EventUserDeactivated:        true,
}

func (p LogPublisher) Publish(_ context.Context, events []entity.Event) error {
	for _, e := range events {
		entry := p.Logger.WithFields(logrus.Fields{
			"event":      string(e.Type),
			"user_id":    e.UserID,
			"session_id": e.SessionID,
		})
		if warnEvents[e.Type] || e.Data["suspicious_address"] == true {
			entry.Warn("security event")
			continue
		}
		entry.Debug("domain event")
	}
	return nil
}
