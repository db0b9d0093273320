package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/oksasatya/go-ddd-school-auth/internal/domain/entity"
	"github.com/oksasatya/go-ddd-school-auth/internal/domain/port"
	"github.com/oksasatya/go-ddd-school-auth/pkg/mailer"
)

// Broker is the part of helpers.RabbitPublisher the adapters use.
type Broker interface {
	PublishJSON(ctx context.Context, body any) error
	PublishTopic(ctx context.Context, routingKey string, body any) error
}

// EventPublisher sends each domain event to the topic exchange with the event
// type as routing key.
type EventPublisher struct {
	broker  Broker
	timeout time.Duration
}

func NewEventPublisher(b Broker, timeout time.Duration) *EventPublisher {
	return &EventPublisher{broker: b, timeout: timeout}
}

func (p *EventPublisher) Publish(ctx context.Context, events []entity.Event) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	var errs []error
	for _, e := range events {
		if err := p.broker.PublishTopic(ctx, string(e.Type), e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Notifier enqueues email jobs on the work queue.
type Notifier struct {
	broker     Broker
	links      mailer.Links
	resetTTL   time.Duration
	confirmTTL time.Duration
	timeout    time.Duration
}

func NewNotifier(b Broker, links mailer.Links, resetTTL, confirmTTL, timeout time.Duration) *Notifier {
	return &Notifier{broker: b, links: links, resetTTL: resetTTL, confirmTTL: confirmTTL, timeout: timeout}
}

func (n *Notifier) SendPasswordReset(ctx context.Context, email, name, token string) error {
	return n.enqueue(ctx, n.links.PasswordReset(email, name, token, n.resetTTL))
}

func (n *Notifier) SendEmailConfirmation(ctx context.Context, email, name, token string) error {
	return n.enqueue(ctx, n.links.EmailConfirmation(email, name, token, n.confirmTTL))
}

func (n *Notifier) enqueue(ctx context.Context, job mailer.EmailJob) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	return n.broker.PublishJSON(ctx, job)
}

var (
	_ port.EventPublisher = (*EventPublisher)(nil)
	_ port.Notifier       = (*Notifier)(nil)
)
