// Package registry maps outbox event types to their topic and payload schema
// and decodes stored rows for the relay.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/angelmondragon/repartos-backend/pkg/config"
	"github.com/angelmondragon/repartos-backend/pkg/db/models"
	"github.com/angelmondragon/repartos-backend/pkg/enums"
	"github.com/angelmondragon/repartos-backend/pkg/outbox"
	"github.com/angelmondragon/repartos-backend/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its aggregate, topic and payload type.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	newPayload    func() any
}

// ResolvedEvent is a decoded, validated outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks a row that will fail the same way on every attempt.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

// IsNonRetryable reports whether err, or anything it wraps, is a
// NonRetryableError.
func IsNonRetryable(err error) bool {
	var nr NonRetryableError
	return errors.As(err, &nr)
}

func poison(format string, args ...any) error {
	return NewNonRetryableError(fmt.Errorf(format, args...))
}

// EventRegistry is immutable after construction.
type EventRegistry struct {
	entries  map[enums.OutboxEventType]EventDescriptor
	validate *validator.Validate
}

func describe[T any](event enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) EventDescriptor {
	return EventDescriptor{
		EventType:     event,
		AggregateType: aggregate,
		Topic:         topic,
		newPayload:    func() any { return new(T) },
	}
}

// NewEventRegistry routes order and leg events to the domain topic and ledger
// events to the wallet topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.DomainTopic == "" {
		return nil, fmt.Errorf("domain topic is required")
	}
	if cfg.WalletTopic == "" {
		return nil, fmt.Errorf("wallet topic is required")
	}
	domain, wallet := cfg.DomainTopic, cfg.WalletTopic
	order, leg, ledger := enums.AggregateCommerceOrder, enums.AggregateDeliveryLeg, enums.AggregateWallet

	descriptors := []EventDescriptor{
		describe[payloads.OrderCreatedEvent](enums.EventOrderCreated, order, domain),
		describe[payloads.OrderStatusChangedEvent](enums.EventOrderStatusChanged, order, domain),
		describe[payloads.OrderPaymentUpdatedEvent](enums.EventOrderPaymentUpdated, order, domain),
		describe[payloads.LegCreatedEvent](enums.EventLegCreated, leg, domain),
		describe[payloads.LegStateChangedEvent](enums.EventLegStateChanged, leg, domain),
		describe[payloads.LegAssignedEvent](enums.EventLegAssigned, leg, domain),
		describe[payloads.LegDeliveredEvent](enums.EventLegDelivered, leg, domain),
		describe[payloads.LegPaymentUpdatedEvent](enums.EventLegPaymentUpdated, leg, domain),
		describe[payloads.WalletPayoutAppliedEvent](enums.EventWalletPayoutApplied, ledger, wallet),
		describe[payloads.WalletWithdrawalEvent](enums.EventWalletWithdrawal, ledger, wallet),
		describe[payloads.WalletAdjustedEvent](enums.EventWalletAdjusted, ledger, wallet),
	}
	reg := &EventRegistry{
		entries:  make(map[enums.OutboxEventType]EventDescriptor, len(descriptors)),
		validate: validator.New(),
	}
	for _, d := range descriptors {
		if _, dup := reg.entries[d.EventType]; dup {
			return nil, fmt.Errorf("event type %s registered twice", d.EventType)
		}
		reg.entries[d.EventType] = d
	}
	return reg, nil
}

// EventTypes lists the registered types in sorted order.
func (r *EventRegistry) EventTypes() []enums.OutboxEventType {
	out := make([]enums.OutboxEventType, 0, len(r.entries))
	for t := range r.entries {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Resolve checks the row against its descriptor and decodes the typed
// payload. Every failure is non-retryable.
func (r *EventRegistry) Resolve(row models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[row.EventType]
	switch {
	case !ok:
		return nil, poison("unsupported event type %s", row.EventType)
	case desc.AggregateType != row.AggregateType:
		return nil, poison("aggregate mismatch: expected %s got %s", desc.AggregateType, row.AggregateType)
	case row.AggregateID == uuid.Nil:
		return nil, poison("missing aggregate_id")
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(row.Payload, &envelope); err != nil {
		return nil, poison("decode envelope: %w", err)
	}
	if data := bytes.TrimSpace(envelope.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, poison("payload missing for %s", row.EventType)
	}
	payload := desc.newPayload()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, poison("decode %s payload: %w", row.EventType, err)
	}
	if err := r.validate.Struct(payload); err != nil {
		return nil, poison("invalid %s payload: %w", row.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
