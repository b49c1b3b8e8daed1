package db

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/repartos-backend/pkg/config"
	"github.com/angelmondragon/repartos-backend/pkg/logger"
)

type ledgerRow struct {
	ID   int
	Memo string `gorm:"uniqueIndex"`
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	// Each sqlite memory connection is its own database.
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(&ledgerRow{}))
	return &Client{conn: conn}
}

func countRows(t *testing.T, c *Client) int64 {
	t.Helper()
	var n int64
	require.NoError(t, c.DB().Model(&ledgerRow{}).Count(&n).Error)
	return n
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	client := newTestClient(t)
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return tx.Create(&ledgerRow{Memo: "payout"}).Error
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, countRows(t, client))
}

func TestWithTxRollsBackOnError(t *testing.T) {
	client := newTestClient(t)
	boom := errors.New("boom")
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		require.NoError(t, tx.Create(&ledgerRow{Memo: "payout"}).Error)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, countRows(t, client))
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	client := newTestClient(t)
	assert.Panics(t, func() {
		_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
			tx.Create(&ledgerRow{Memo: "payout"})
			panic("mid-transaction")
		})
	})
	assert.Zero(t, countRows(t, client))
}

func TestNewWithSQLite(t *testing.T) {
	client, err := New(context.Background(), config.DBConfig{DSN: "file::memory:", Driver: "sqlite", MaxOpenConns: 1}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	assert.NoError(t, client.Ping(context.Background()))
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(context.Background(), config.DBConfig{}, nil)
	assert.Error(t, err)
	_, err = New(context.Background(), config.DBConfig{DSN: "x", Driver: "mysql"}, nil)
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestQueryLoggerReportsFailuresAndSlowQueries(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.DebugLevel, Output: &buf})
	q := newQueryLogger(logg, 50*time.Millisecond)
	sql := func() (string, int64) { return "SELECT 1", 1 }
	ctx := context.Background()

	q.Trace(ctx, time.Now(), sql, nil)
	assert.Zero(t, buf.Len(), "fast successful query is not logged")

	q.Trace(ctx, time.Now(), sql, gorm.ErrRecordNotFound)
	assert.Zero(t, buf.Len(), "not found is not logged")

	q.Trace(ctx, time.Now().Add(-time.Second), sql, nil)
	assert.Contains(t, buf.String(), "db.slow_query")

	buf.Reset()
	q.Trace(ctx, time.Now(), sql, errors.New(`duplicate key value violates unique constraint "wallet_tx_leg"`))
	assert.Contains(t, buf.String(), "db.unique_violation")

	buf.Reset()
	q.Trace(ctx, time.Now(), sql, errors.New("connection reset"))
	assert.Contains(t, buf.String(), "db.query_failed")
	assert.Contains(t, buf.String(), "SELECT 1")
}

func TestIsUniqueViolation(t *testing.T) {
	client := newTestClient(t)
	require.NoError(t, client.DB().Create(&ledgerRow{Memo: "dup"}).Error)
	err := client.DB().Create(&ledgerRow{Memo: "dup"}).Error
	require.Error(t, err)

	assert.True(t, IsUniqueViolation(err, ""))
	assert.False(t, IsUniqueViolation(nil, ""))

	cases := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{"pgx any", &pgconn.PgError{Code: "23505", ConstraintName: "ux_wallet_tx_leg"}, "", true},
		{"pgx named", &pgconn.PgError{Code: "23505", ConstraintName: "ux_wallet_tx_leg"}, "ux_wallet_tx_leg", true},
		{"pgx other index", &pgconn.PgError{Code: "23505", ConstraintName: "ux_other"}, "ux_wallet_tx_leg", false},
		{"pgx fk", &pgconn.PgError{Code: "23503"}, "", false},
		{"pq", &pq.Error{Code: "23505", Constraint: "ux_delivery_legs_tracking_token"}, "ux_delivery_legs_tracking_token", true},
		{"wrapped pq", fmt.Errorf("insert: %w", &pq.Error{Code: "23505"}), "", true},
		{"gorm translated", gorm.ErrDuplicatedKey, "", true},
		{"message", errors.New(`ERROR: duplicate key value violates unique constraint "ux_orders_tracking"`), "ux_orders_tracking", true},
		{"unrelated", errors.New("connection reset"), "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsUniqueViolation(tc.err, tc.constraint))
		})
	}
}
