// Package notify informs external collaborators about committed postings
// and lifecycle transitions. Delivery is fire-and-forget: a failed
// notification is logged and never undoes the ledger mutation.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event types
const (
	EventTransactionPosted = "transaction.posted"
	EventAccountOpened     = "account.opened"
	EventAccountStatus     = "account.status_changed"
	EventLoanApplied       = "loan.applied"
	EventLoanApproved      = "loan.approved"
	EventLoanRejected      = "loan.rejected"
	EventLoanPayment       = "loan.payment"
	EventLoanCompleted     = "loan.completed"
	EventLoanRestructured  = "loan.restructured"
	EventLoanDefaulted     = "loan.defaulted"
	EventDepositOpened     = "deposit.opened"
	EventDepositMatured    = "deposit.matured"
	EventDepositRenewed    = "deposit.renewed"
	EventDepositWithdrawn  = "deposit.withdrawn"
	EventGoalCreated       = "goal.created"
	EventGoalContribution  = "goal.contribution"
	EventGoalCompleted     = "goal.completed"
	EventGoalCancelled     = "goal.cancelled"
	EventInvestmentBought  = "investment.purchased"
	EventInvestmentSold    = "investment.sold"
	EventInvestmentMarked  = "investment.revalued"
)

// Event is the message delivered to collaborators
type Event struct {
	ID         uuid.UUID      `json:"id"`
	Type       string         `json:"type"`
	SubjectID  uuid.UUID      `json:"subject_id"`
	AccountID  *uuid.UUID     `json:"account_id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewEvent stamps an event with an id and time
func NewEvent(typ string, subject uuid.UUID, data map[string]any) Event {
	return Event{
		ID:         uuid.New(),
		Type:       typ,
		SubjectID:  subject,
		Data:       data,
		OccurredAt: time.Now().UTC(),
	}
}

// ForAccount sets the account the event concerns
func (e Event) ForAccount(id uuid.UUID) Event {
	e.AccountID = &id
	return e
}

// Notifier delivers events
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Nop discards events
type Nop struct{}

// Notify implements Notifier
func (Nop) Notify(context.Context, Event) error { return nil }

// Dispatcher sends events after commit and logs failures
type Dispatcher struct {
	notifier Notifier
	log      *zap.Logger
	timeout  time.Duration
}

// NewDispatcher wraps n. A nil notifier discards events.
func NewDispatcher(n Notifier, log *zap.Logger) *Dispatcher {
	if n == nil {
		n = Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{notifier: n, log: log, timeout: 5 * time.Second}
}

// Send delivers events in order. The caller's cancellation does not stop
// delivery of an already committed change.
func (d *Dispatcher) Send(ctx context.Context, events ...Event) {
	if d == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	for _, e := range events {
		if err := d.notifier.Notify(ctx, e); err != nil {
			d.log.Warn("failed to deliver notification",
				zap.String("event_id", e.ID.String()),
				zap.String("event_type", e.Type),
				zap.Error(err),
			)
		}
	}
}
