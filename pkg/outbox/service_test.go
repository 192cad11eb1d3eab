package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/bazaar-backend/pkg/db/models"
	"github.com/angelmondragon/bazaar-backend/pkg/enums"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:outbox_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.OutboxEvent{}))
	return conn
}

func TestEmitWritesEnvelope(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)

	orderID := uuid.New()
	actor := &ActorRef{UserID: uuid.New(), Role: "customer"}
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         actor,
			Data:          map[string]string{"orderNumber": "BZ-1"},
		})
	}))

	var rows []models.OutboxEvent
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, orderID, rows[0].AggregateID)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.NotEmpty(t, envelope.EventID)
	assert.JSONEq(t, `{"orderNumber":"BZ-1"}`, string(envelope.Data))
	require.NotNil(t, envelope.Actor)
	assert.Equal(t, actor.UserID, envelope.Actor.UserID)
}

func TestEmitRollsBackWithTransaction(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(NewRepository(db), nil)

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventPayoutRequested,
			AggregateType: enums.AggregatePayout,
			AggregateID:   uuid.New(),
			Data:          struct{}{},
		}); err != nil {
			return err
		}
		return errors.New("state change failed")
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEmitValidates(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(NewRepository(db), nil)
	ctx := context.Background()

	assert.Error(t, svc.Emit(ctx, nil, DomainEvent{EventType: enums.EventOrderPaid, AggregateID: uuid.New()}))
	assert.Error(t, svc.Emit(ctx, db, DomainEvent{EventType: "order_paid", AggregateID: uuid.New()}))
	assert.Error(t, svc.Emit(ctx, db, DomainEvent{EventType: enums.EventOrderPaid}))
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepository(db)

	first := &models.OutboxEvent{EventType: enums.EventOrderPaid, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)}
	second := &models.OutboxEvent{EventType: enums.EventOrderRefunded, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)}
	require.NoError(t, repo.Insert(db, first))
	require.NoError(t, repo.Insert(db, second))

	require.NoError(t, repo.MarkFailedTx(db, second.ID, errors.New("topic unavailable")))
	require.NoError(t, repo.MarkTerminalTx(db, second.ID, errors.New("gave up"), 3))

	rows, err := repo.FetchUnpublishedForPublish(db, 10, 3)
	require.NoError(t, err)
	require.Len(t, rows, 1, "terminal rows are excluded")
	assert.Equal(t, first.ID, rows[0].ID)

	require.NoError(t, repo.MarkPublishedTx(db, first.ID))
	rows, err = repo.FetchUnpublishedForPublish(db, 10, 3)
	require.NoError(t, err)
	assert.Empty(t, rows)

	deleted, err := repo.DeletePublishedBefore(nil, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestEmitRejectsEmptyData(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(NewRepository(db), nil)

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
		})
	})
	require.ErrorIs(t, err, ErrEmptyPayload)

	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"version":2,"eventId":"e-1","occurredAt":"2026-03-01T09:00:00Z","data":{"payoutId":"p"}}`))
	require.NoError(t, err)
	assert.Equal(t, 2, env.Version)
	assert.JSONEq(t, `{"payoutId":"p"}`, string(env.Data))

	_, err = DecodeEnvelope([]byte(`{"version":1,"eventId":"e-2","data":null}`))
	require.ErrorIs(t, err, ErrEmptyPayload)

	_, err = DecodeEnvelope([]byte(`not json`))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrEmptyPayload)
}
