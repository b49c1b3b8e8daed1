package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/repartos-backend/pkg/config"
	"github.com/angelmondragon/repartos-backend/pkg/db/models"
	"github.com/angelmondragon/repartos-backend/pkg/enums"
	"github.com/angelmondragon/repartos-backend/pkg/logger"
	"github.com/angelmondragon/repartos-backend/pkg/metrics"
	"github.com/angelmondragon/repartos-backend/pkg/outbox"
	"github.com/angelmondragon/repartos-backend/pkg/outbox/registry"
)

func TestRelayHoldsLaterEventsOfFailedAggregate(t *testing.T) {
	orderA, orderB := uuid.New(), uuid.New()
	store := &memoryEvents{rows: []models.OutboxEvent{
		orderEvent(t, orderA, enums.EventOrderCreated),
		orderEvent(t, orderB, enums.EventOrderCreated),
		orderEvent(t, orderA, enums.EventOrderStatusChanged),
	}}
	pub := &scriptedPublisher{fail: map[string]error{orderA.String(): errors.New("unavailable")}}
	relay := newTestRelay(t, store, &memoryDLQ{}, pub, config.OutboxConfig{})

	n, err := relay.drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, []uuid.UUID{store.rows[0].ID}, store.failed)
	assert.Equal(t, []uuid.UUID{store.rows[1].ID}, store.published)
	assert.Equal(t, []string{orderA.String(), orderB.String()}, pub.keys, "second event of the failed order must not be sent")
	assert.Equal(t, []string{orderA.String()}, pub.resumed)
}

func TestRelayDeadLettersAtMaxAttempts(t *testing.T) {
	orderID := uuid.New()
	row := orderEvent(t, orderID, enums.EventOrderPaymentUpdated)
	row.AttemptCount = 2
	store := &memoryEvents{rows: []models.OutboxEvent{row}}
	dlq := &memoryDLQ{}
	pub := &scriptedPublisher{fail: map[string]error{orderID.String(): errors.New("deadline exceeded")}}
	relay := newTestRelay(t, store, dlq, pub, config.OutboxConfig{MaxAttempts: 3})

	_, err := relay.drain(context.Background())
	require.NoError(t, err)

	require.Len(t, dlq.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, dlq.entries[0].ErrorReason)
	assert.Equal(t, row.ID, dlq.entries[0].EventID)
	assert.Equal(t, map[uuid.UUID]int{row.ID: 3}, store.terminal)
	assert.Empty(t, store.failed)
}

func TestRelayDeadLettersUndecodableRows(t *testing.T) {
	row := orderEvent(t, uuid.New(), enums.EventOrderCreated)
	row.AggregateType = enums.AggregateWallet
	store := &memoryEvents{rows: []models.OutboxEvent{row}}
	dlq := &memoryDLQ{}
	pub := &scriptedPublisher{}
	relay := newTestRelay(t, store, dlq, pub, config.OutboxConfig{})

	_, err := relay.drain(context.Background())
	require.NoError(t, err)

	require.Len(t, dlq.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, dlq.entries[0].ErrorReason)
	assert.Empty(t, pub.keys)
}

func TestRelayPublishesWithOrderingKeyAndAttributes(t *testing.T) {
	legID := uuid.New()
	row := legEvent(t, legID)
	store := &memoryEvents{rows: []models.OutboxEvent{row}}
	pub := &scriptedPublisher{}
	reg := prometheus.NewRegistry()
	relay := newTestRelay(t, store, &memoryDLQ{}, pub, config.OutboxConfig{})
	relay.metrics = metrics.NewOutboxMetrics(reg)

	_, err := relay.drain(context.Background())
	require.NoError(t, err)

	require.Len(t, pub.messages, 1)
	msg := pub.messages[0]
	assert.Equal(t, legID.String(), msg.OrderingKey)
	assert.Equal(t, string(enums.EventLegDelivered), msg.Attributes["event_type"])
	assert.Equal(t, "domain", pub.topics[0])
	assert.Equal(t, []uuid.UUID{row.ID}, store.published)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}

func TestRelayStopsBatchOnBookkeepingError(t *testing.T) {
	store := &memoryEvents{
		rows:       []models.OutboxEvent{orderEvent(t, uuid.New(), enums.EventOrderCreated)},
		publishErr: errors.New("connection reset"),
	}
	relay := newTestRelay(t, store, &memoryDLQ{}, &scriptedPublisher{}, config.OutboxConfig{})

	_, err := relay.drain(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mark published")
}

func newTestRelay(t *testing.T, store *memoryEvents, dlq *memoryDLQ, pub *scriptedPublisher, cfg config.OutboxConfig) *Relay {
	t.Helper()
	reg, err := registry.NewEventRegistry(config.PubSubConfig{DomainTopic: "domain", WalletTopic: "wallet"})
	require.NoError(t, err)
	relay, err := NewRelay(RelayParams{
		Outbox:      cfg,
		Logger:      logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		DB:          passthroughDB{},
		Events:      store,
		DeadLetters: dlq,
		Registry:    reg,
		Publishers: func(topic string) topicPublisher {
			pub.topics = append(pub.topics, topic)
			return pub
		},
	})
	require.NoError(t, err)
	relay.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return relay
}

func envelope(t *testing.T, data any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC),
		Data:       raw,
	})
	require.NoError(t, err)
	return payload
}

func orderEvent(t *testing.T, orderID uuid.UUID, eventType enums.OutboxEventType) models.OutboxEvent {
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: enums.AggregateCommerceOrder,
		AggregateID:   orderID,
		Payload:       envelope(t, map[string]any{"order_id": orderID}),
		CreatedAt:     time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC),
	}
}

func legEvent(t *testing.T, legID uuid.UUID) models.OutboxEvent {
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventLegDelivered,
		AggregateType: enums.AggregateDeliveryLeg,
		AggregateID:   legID,
		Payload:       envelope(t, map[string]any{"leg_id": legID}),
		CreatedAt:     time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC),
	}
}

type passthroughDB struct{}

func (passthroughDB) Ping(context.Context) error { return nil }

func (passthroughDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(&gorm.DB{}) }

type memoryEvents struct {
	rows       []models.OutboxEvent
	published  []uuid.UUID
	failed     []uuid.UUID
	terminal   map[uuid.UUID]int
	publishErr error
}

func (m *memoryEvents) FetchUnpublishedForPublish(_ *gorm.DB, limit, _ int) ([]models.OutboxEvent, error) {
	if len(m.rows) > limit {
		return m.rows[:limit], nil
	}
	return m.rows, nil
}

func (m *memoryEvents) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, id)
	return nil
}

func (m *memoryEvents) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	m.failed = append(m.failed, id)
	return nil
}

func (m *memoryEvents) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, attempts int) error {
	if m.terminal == nil {
		m.terminal = map[uuid.UUID]int{}
	}
	m.terminal[id] = attempts
	return nil
}

type memoryDLQ struct {
	entries []models.OutboxDLQ
}

func (m *memoryDLQ) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	m.entries = append(m.entries, entry)
	return nil
}

// scriptedPublisher fails every publish whose ordering key is in fail.
type scriptedPublisher struct {
	fail     map[string]error
	keys     []string
	resumed  []string
	topics   []string
	messages []*gcppubsub.Message
}

func (p *scriptedPublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	p.keys = append(p.keys, msg.OrderingKey)
	p.messages = append(p.messages, msg)
	return result{err: p.fail[msg.OrderingKey]}
}

func (p *scriptedPublisher) ResumePublish(key string) {
	p.resumed = append(p.resumed, key)
}

type result struct {
	err error
}

func (r result) Get(context.Context) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "server-id", nil
}
