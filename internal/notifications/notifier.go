package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bazaar-backend/pkg/enums"
	"github.com/angelmondragon/bazaar-backend/pkg/outbox"
	"github.com/angelmondragon/bazaar-backend/pkg/outbox/payloads"
)

const (
	DriverOutbox = "outbox"
	DriverNoop   = "noop"
)

// Kind names the template the email pipeline renders.
type Kind string

const (
	KindOrderConfirmation Kind = "order_confirmation"
	KindRefundIssued      Kind = "refund_issued"
	KindDisputeUpdate     Kind = "dispute_update"
	KindPayoutUpdate      Kind = "payout_update"
)

type Notification struct {
	Kind        Kind
	Recipient   string
	Subject     string
	AggregateID uuid.UUID
	Data        map[string]any
}

// Notifier is fire-and-forget from the caller's point of view: callers log a
// failure and carry on.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// New selects the notifier for the configured driver.
func New(driver string, emitter outbox.Emitter, tx txRunner) (Notifier, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverOutbox:
		if emitter == nil || tx == nil {
			return nil, fmt.Errorf("outbox notifier requires an emitter and a transaction runner")
		}
		return &OutboxNotifier{emitter: emitter, tx: tx}, nil
	case DriverNoop:
		return NoopNotifier{}, nil
	default:
		return nil, fmt.Errorf("unknown notifications driver %q", driver)
	}
}

// OutboxNotifier queues a notification.requested event for the email worker.
type OutboxNotifier struct {
	emitter outbox.Emitter
	tx      txRunner
}

func (n *OutboxNotifier) Notify(ctx context.Context, msg Notification) error {
	if strings.TrimSpace(msg.Recipient) == "" {
		return fmt.Errorf("notification recipient required")
	}
	aggregateID := msg.AggregateID
	if aggregateID == uuid.Nil {
		aggregateID = uuid.New()
	}
	return n.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return n.emitter.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventNotificationRequested,
			AggregateType: enums.AggregateNotification,
			AggregateID:   aggregateID,
			Data: payloads.NotificationRequestedEvent{
				Kind:      string(msg.Kind),
				Recipient: msg.Recipient,
				Subject:   msg.Subject,
				Data:      msg.Data,
			},
		})
	})
}

// NoopNotifier drops every notification.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, Notification) error { return nil }
