package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		id UUID PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		full_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		organization_id TEXT NOT NULL,
		allowed_regions TEXT[],
		allowed_stores TEXT[],
		allowed_categories TEXT[],
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_profiles_organization_id ON profiles(organization_id)`,

	`CREATE TABLE IF NOT EXISTS stores (
		id UUID PRIMARY KEY,
		organization_id TEXT NOT NULL,
		region_id TEXT NOT NULL,
		code TEXT NOT NULL,
		name TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		UNIQUE (organization_id, code)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stores_region_id ON stores(region_id)`,

	`CREATE TABLE IF NOT EXISTS store_managers (
		store_id UUID NOT NULL REFERENCES stores(id) ON DELETE CASCADE,
		user_id UUID NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		PRIMARY KEY (store_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_store_managers_user_id ON store_managers(user_id)`,

	`CREATE OR REPLACE FUNCTION assign_store_managers(p_store_id UUID, p_manager_ids UUID[])
	RETURNS void AS $$
	BEGIN
		IF EXISTS (
			SELECT 1 FROM profiles p, stores s
			WHERE s.id = p_store_id AND p.id = ANY(p_manager_ids)
			  AND p.organization_id <> s.organization_id
		) THEN
			RAISE EXCEPTION 'store managers must belong to the store organization'
				USING ERRCODE = 'check_violation';
		END IF;
		DELETE FROM store_managers WHERE store_id = p_store_id;
		INSERT INTO store_managers (store_id, user_id)
		SELECT p_store_id, m FROM unnest(p_manager_ids) AS m
		ON CONFLICT DO NOTHING;
	END;
	$$ LANGUAGE plpgsql`,

	`CREATE OR REPLACE FUNCTION assign_user_store_managers(p_user_id UUID, p_store_ids UUID[])
	RETURNS void AS $$
	BEGIN
		IF EXISTS (
			SELECT 1 FROM profiles p, stores s
			WHERE p.id = p_user_id AND s.id = ANY(p_store_ids)
			  AND p.organization_id <> s.organization_id
		) THEN
			RAISE EXCEPTION 'managed stores must belong to the manager organization'
				USING ERRCODE = 'check_violation';
		END IF;
		INSERT INTO store_managers (store_id, user_id)
		SELECT s, p_user_id FROM unnest(p_store_ids) AS s
		ON CONFLICT DO NOTHING;
	END;
	$$ LANGUAGE plpgsql`,

	`CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT,
		organization_id TEXT,
		action VARCHAR(50) NOT NULL,
		resource VARCHAR(50) NOT NULL,
		resource_id TEXT,
		details JSONB,
		ip_address VARCHAR(45),
		user_agent TEXT,
		success BOOLEAN NOT NULL,
		error_message TEXT,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,
	`ALTER TABLE audit_logs ADD COLUMN IF NOT EXISTS organization_id TEXT`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_organization_id ON audit_logs(organization_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON audit_logs(created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_user_id ON audit_logs(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource, resource_id)`,

	// Audit rows are append-only.
	`CREATE OR REPLACE FUNCTION audit_logs_immutable()
	RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'audit_logs rows are immutable';
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS audit_logs_no_mutation ON audit_logs`,
	`CREATE TRIGGER audit_logs_no_mutation
		BEFORE UPDATE OR DELETE ON audit_logs
		FOR EACH ROW EXECUTE FUNCTION audit_logs_immutable()`,
}

// Migrate applies the schema inside one transaction.
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d failed: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	return nil
}
