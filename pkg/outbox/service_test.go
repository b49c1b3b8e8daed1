package outbox

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/repartos-backend/pkg/db/dbtest"
	"github.com/angelmondragon/repartos-backend/pkg/db/models"
	"github.com/angelmondragon/repartos-backend/pkg/enums"
)

func TestEmitWritesEnvelopeInsideTransaction(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(NewRepository(db), nil)
	orderID := uuid.New()
	actorID := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateCommerceOrder,
			AggregateID:   orderID,
			Actor:         &ActorRef{UserID: &actorID, Role: enums.ActorRoleCustomer},
			Data:          map[string]any{"order_id": orderID.String()},
		})
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, orderID, rows[0].AggregateID)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.NotEmpty(t, envelope.EventID)
	require.NotNil(t, envelope.Actor)
	assert.Equal(t, enums.ActorRoleCustomer, envelope.Actor.Role)
}

func TestEmitRollsBackWithCaller(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(NewRepository(db), nil)

	_ = db.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventLegCreated,
			AggregateType: enums.AggregateDeliveryLeg,
			AggregateID:   uuid.New(),
			Data:          struct{}{},
		}))
		return gorm.ErrInvalidData
	})

	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEmitRejectsInvalidEvents(t *testing.T) {
	svc := NewService(NewRepository(nil), nil)
	valid := DomainEvent{EventType: enums.EventWalletAdjusted, AggregateType: enums.AggregateWallet, AggregateID: uuid.New()}
	assert.Error(t, svc.Emit(context.Background(), nil, valid), "transaction is required")

	db := dbtest.Open(t)
	cases := map[string]func(e *DomainEvent){
		"unknown type":      func(e *DomainEvent) { e.EventType = "nope" },
		"unknown aggregate": func(e *DomainEvent) { e.AggregateType = "cart" },
		"nil aggregate id":  func(e *DomainEvent) { e.AggregateID = uuid.Nil },
		"unmarshalable":     func(e *DomainEvent) { e.Data = make(chan int) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			event := valid
			mutate(&event)
			assert.Error(t, svc.Emit(context.Background(), db, event))
		})
	}
	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEmitStampsOccurredAtFromClock(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(NewRepository(db), nil)
	fixed := time.Date(2026, 5, 4, 18, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	require.NoError(t, svc.Emit(context.Background(), db, DomainEvent{
		EventType:     enums.EventWalletAdjusted,
		AggregateType: enums.AggregateWallet,
		AggregateID:   uuid.New(),
		Data:          map[string]any{"amount": -500},
		Version:       2,
	}))

	var row models.OutboxEvent
	require.NoError(t, db.First(&row).Error)
	var env PayloadEnvelope
	require.NoError(t, json.Unmarshal(row.Payload, &env))
	assert.True(t, fixed.Equal(env.OccurredAt))
	assert.Equal(t, 2, env.Version)
	assert.JSONEq(t, `{"amount":-500}`, string(env.Data))
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)

	old := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateCommerceOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
	}
	require.NoError(t, repo.Insert(db, old))

	rows, err := repo.FetchUnpublishedForPublish(db, 10, 3)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, repo.MarkFailedTx(db, old.ID, assert.AnError))
	require.NoError(t, repo.MarkTerminalTx(db, old.ID, assert.AnError, 3))
	rows, err = repo.FetchUnpublishedForPublish(db, 10, 3)
	require.NoError(t, err)
	assert.Empty(t, rows, "terminal rows must not be fetched again")

	published := old
	published.ID = uuid.New()
	require.NoError(t, repo.Insert(db, published))
	require.NoError(t, repo.MarkPublishedTx(db, published.ID))

	deleted, err := repo.DeletePublishedBefore(context.Background(), db, time.Now().Add(time.Hour), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}

func TestDLQInsertKeepsFirstCopy(t *testing.T) {
	db := dbtest.Open(t)
	dlq := NewDLQRepository(db)
	eventID := uuid.New()
	long := strings.Repeat("é", maxLastErrorLen)
	entry := func(msg string) models.OutboxDLQ {
		return models.OutboxDLQ{
			EventID:       eventID,
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateCommerceOrder,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{}`),
			ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
			ErrorMessage:  &msg,
			FailedAt:      time.Now().UTC(),
		}
	}

	require.NoError(t, dlq.InsertTx(db, entry(long)))
	require.NoError(t, dlq.InsertTx(db, entry("second")))

	var rows []models.OutboxDLQ
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].ErrorMessage)
	assert.True(t, utf8.ValidString(*rows[0].ErrorMessage))
	assert.LessOrEqual(t, len(*rows[0].ErrorMessage), maxLastErrorLen)
	assert.Error(t, dlq.InsertTx(nil, entry("x")))
}
