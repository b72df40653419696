// Package dbtest opens in-memory SQLite databases carrying the callsight
// schema for package tests.
package dbtest

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var seq atomic.Int64

// Schema mirrors the postgres migrations in SQLite syntax.
var Schema = []string{
	`CREATE TABLE organizations (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		subscription_tier TEXT NOT NULL DEFAULT 'free',
		subscription_status TEXT NOT NULL DEFAULT 'active',
		billing_cycle TEXT NOT NULL DEFAULT 'monthly',
		calls_used INTEGER NOT NULL DEFAULT 0 CHECK (calls_used >= 0),
		calls_limit INTEGER NOT NULL DEFAULT 0,
		storage_used_mb INTEGER NOT NULL DEFAULT 0,
		storage_limit_mb INTEGER NOT NULL DEFAULT 0,
		credits_balance INTEGER NOT NULL DEFAULT 0 CHECK (credits_balance >= 0),
		daily_reset_date DATETIME,
		current_period_start DATETIME NOT NULL,
		current_period_end DATETIME NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE organization_members (
		id INTEGER PRIMARY KEY,
		org_id INTEGER NOT NULL,
		user_id TEXT NOT NULL,
		email TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (org_id, user_id)
	)`,
	`CREATE TABLE credit_transactions (
		id INTEGER PRIMARY KEY,
		org_id INTEGER NOT NULL,
		type TEXT NOT NULL,
		credits INTEGER NOT NULL,
		amount_paid INTEGER,
		currency TEXT,
		description TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		idempotency_key TEXT UNIQUE,
		balance_after INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE payment_receipts (
		id INTEGER PRIMARY KEY,
		org_id INTEGER NOT NULL,
		payment_id TEXT NOT NULL UNIQUE,
		order_id TEXT NOT NULL,
		invoice_number TEXT NOT NULL UNIQUE,
		amount INTEGER NOT NULL,
		currency TEXT NOT NULL,
		payment_type TEXT NOT NULL,
		status TEXT NOT NULL,
		invoice_data TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		credit_transaction_id INTEGER,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE usage_logs (
		id INTEGER PRIMARY KEY,
		org_id INTEGER NOT NULL,
		user_id TEXT,
		action TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id TEXT,
		units INTEGER NOT NULL DEFAULT 1,
		metadata TEXT NOT NULL DEFAULT '{}',
		action_id TEXT,
		charged BOOLEAN NOT NULL DEFAULT 0,
		balance_after INTEGER,
		created_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_usage_logs_org_action ON usage_logs (org_id, action_id)`,
	`CREATE TABLE audit_logs (
		id INTEGER PRIMARY KEY,
		org_id INTEGER,
		actor_type TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		ip_address TEXT,
		user_agent TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE invitations (
		id INTEGER PRIMARY KEY,
		org_id INTEGER NOT NULL,
		email TEXT NOT NULL,
		role TEXT NOT NULL,
		token_hash TEXT NOT NULL UNIQUE,
		invited_by TEXT NOT NULL,
		expires_at DATETIME NOT NULL,
		accepted_at DATETIME,
		accepted_by TEXT,
		created_at DATETIME NOT NULL
	)`,
}

// Open returns a private in-memory database with the schema applied. A single
// connection keeps the shared-cache database alive and serialises writers.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), seq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range Schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return db
}

// Node returns a snowflake generator for tests.
func Node(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// SeedOrganization inserts an active organization with the given tier and balance.
func SeedOrganization(t testing.TB, db *gorm.DB, id snowflake.ID, tier string, credits int64, periodStart time.Time) {
	t.Helper()
	now := time.Now().UTC()
	start := periodStart.UTC()
	err := db.Exec(
		`INSERT INTO organizations (id, name, slug, subscription_tier, credits_balance, current_period_start, current_period_end, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(id), "Acme", fmt.Sprintf("acme-%d", int64(id)), tier, credits, start, start.AddDate(0, 1, 0), now, now,
	).Error
	if err != nil {
		t.Fatalf("seed organization: %v", err)
	}
}

// SeedMember inserts a membership row.
func SeedMember(t testing.TB, db *gorm.DB, id, orgID snowflake.ID, userID, email, role string) {
	t.Helper()
	err := db.Exec(
		`INSERT INTO organization_members (id, org_id, user_id, email, role, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		int64(id), int64(orgID), userID, email, role, time.Now().UTC(),
	).Error
	if err != nil {
		t.Fatalf("seed member: %v", err)
	}
}

// Count runs a COUNT(*) style query and returns the scalar.
func Count(t testing.TB, db *gorm.DB, query string, args ...any) int64 {
	t.Helper()
	var n int64
	if err := db.Raw(query, args...).Scan(&n).Error; err != nil {
		t.Fatalf("count %q: %v", query, err)
	}
	return n
}
