// Package dbtest opens throwaway sqlite databases shaped like the Postgres schema.
package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE products (
  id TEXT PRIMARY KEY,
  merchant_id TEXT NOT NULL,
  name TEXT NOT NULL,
  price INTEGER NOT NULL,
  stock INTEGER,
  version INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE commerce_orders (
  id TEXT PRIMARY KEY,
  customer_id TEXT NOT NULL,
  merchant_id TEXT NOT NULL,
  subtotal_products INTEGER NOT NULL,
  delivery_fee INTEGER NOT NULL DEFAULT 0,
  total INTEGER NOT NULL,
  commission_rate REAL NOT NULL,
  commission_base TEXT NOT NULL,
  commission_amount INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'ARS',
  payment_method TEXT NOT NULL,
  payment_status TEXT NOT NULL,
  payment_id TEXT,
  checkout_url TEXT,
  order_status TEXT NOT NULL DEFAULT 'created',
  stock_reserved INTEGER NOT NULL DEFAULT 0,
  stock_released INTEGER NOT NULL DEFAULT 0,
  delivery_leg_id TEXT,
  delivery_address TEXT NOT NULL,
  courier_id TEXT,
  tracking_token TEXT NOT NULL,
  merchant_lat REAL,
  merchant_lng REAL,
  customer_lat REAL,
  customer_lng REAL,
  distance_km REAL NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE commerce_order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  name TEXT NOT NULL,
  unit_price INTEGER NOT NULL,
  quantity INTEGER NOT NULL
);`,
	`CREATE TABLE delivery_legs (
  id TEXT PRIMARY KEY,
  commerce_order_id TEXT,
  merchant_id TEXT NOT NULL,
  origin_text TEXT NOT NULL,
  destination_text TEXT NOT NULL,
  origin_lat REAL,
  origin_lng REAL,
  destination_lat REAL,
  destination_lng REAL,
  distance_km REAL NOT NULL DEFAULT 0,
  vehicle TEXT,
  delivery_price INTEGER NOT NULL,
  commission_amount INTEGER NOT NULL,
  courier_payout INTEGER NOT NULL,
  payment_method TEXT NOT NULL,
  state TEXT NOT NULL,
  courier_id TEXT,
  tracking_token TEXT NOT NULL UNIQUE,
  payout_applied INTEGER NOT NULL DEFAULT 0,
  last_lat REAL,
  last_lng REAL,
  last_position_at DATETIME,
  proof_lat REAL,
  proof_lng REAL,
  proof_accuracy_m REAL,
  proof_reported_at DATETIME,
  proof_distance_m REAL,
  proof_validated_at DATETIME,
  claimed_at DATETIME,
  delivered_at DATETIME,
  checkout_url TEXT,
  payment_id TEXT,
  payment_status TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE wallets (
  courier_id TEXT PRIMARY KEY,
  balance INTEGER NOT NULL DEFAULT 0,
  pending INTEGER NOT NULL DEFAULT 0,
  total_earned INTEGER NOT NULL DEFAULT 0,
  total_commissions INTEGER NOT NULL DEFAULT 0,
  total_withdrawn INTEGER NOT NULL DEFAULT 0,
  currency TEXT NOT NULL DEFAULT 'ARS',
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE wallet_transactions (
  id TEXT PRIMARY KEY,
  courier_id TEXT NOT NULL,
  type TEXT NOT NULL,
  amount INTEGER NOT NULL,
  status TEXT NOT NULL,
  order_id TEXT,
  delivery_leg_id TEXT,
  reason TEXT,
  actor_id TEXT,
  created_at DATETIME
);`,
	`CREATE TABLE order_status_log (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  status TEXT NOT NULL,
  actor_id TEXT,
  actor_role TEXT NOT NULL,
  reason TEXT,
  created_at DATETIME
);`,
	`CREATE TABLE global_config (
  id INTEGER PRIMARY KEY,
  commission_rate REAL NOT NULL,
  commission_base TEXT NOT NULL,
  delivery_base_fee INTEGER NOT NULL,
  delivery_per_km INTEGER NOT NULL,
  geofence_radius_m REAL NOT NULL,
  geofence_max_accuracy_m REAL NOT NULL,
  courier_commission_rate REAL NOT NULL,
  updated_at DATETIME,
  updated_by TEXT
);`,
	`CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
	`CREATE TABLE outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL UNIQUE,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);`,
}

// Open returns a private in-memory database with every table created.
// A single connection serializes statements so concurrent tests exercise the
// conditional writes instead of sqlite's table locks. Code under test must not
// reach for the root handle while it holds a transaction.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := "file:repartos_" + uuid.NewString() + "?mode=memory&cache=shared&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}
