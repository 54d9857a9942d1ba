package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// Searcher reads audit entries back.
type Searcher interface {
	Search(ctx context.Context, filter SearchFilter) ([]*Entry, error)
}

// DBStore persists entries in the audit_logs table. Rows are never updated
// or deleted; the schema enforces this with a trigger.
type DBStore struct {
	db     *sql.DB
	reader *sql.DB
}

// NewDBStore creates a database-backed audit store
func NewDBStore(db *sql.DB) *DBStore {
	return &DBStore{db: db, reader: db}
}

// WithReplica routes Search to db.
func (s *DBStore) WithReplica(db *sql.DB) *DBStore {
	if db != nil {
		s.reader = db
	}
	return s
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Insert writes e and sets its ID.
func (s *DBStore) Insert(ctx context.Context, e *Entry) error {
	var details []byte
	if e.Details != nil {
		var err error
		details, err = json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal details: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (
			user_id, organization_id, action, resource, resource_id, details,
			ip_address, user_agent, success, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		nullString(e.UserID), nullString(e.OrganizationID), string(e.Action), string(e.Resource), nullString(e.ResourceID), details,
		nullString(e.IPAddress), nullString(e.UserAgent), e.Success, nullString(e.ErrorMessage), e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// Search returns entries newest first.
func (s *DBStore) Search(ctx context.Context, filter SearchFilter) ([]*Entry, error) {
	query := `
		SELECT id, user_id, organization_id, action, resource, resource_id, details,
		       ip_address, user_agent, success, error_message, created_at
		FROM audit_logs
		WHERE 1=1
	`
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.OrganizationID != "" {
		query += " AND organization_id = " + arg(filter.OrganizationID)
	}
	if filter.UserID != "" {
		query += " AND user_id = " + arg(filter.UserID)
	}
	if len(filter.Actions) > 0 {
		actions := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		query += " AND action = ANY(" + arg(pq.Array(actions)) + ")"
	}
	if filter.Resource != "" {
		query += " AND resource = " + arg(string(filter.Resource))
	}
	if filter.ResourceID != "" {
		query += " AND resource_id = " + arg(filter.ResourceID)
	}
	if filter.Success != nil {
		query += " AND success = " + arg(*filter.Success)
	}
	if filter.StartTime != nil {
		query += " AND created_at >= " + arg(*filter.StartTime)
	}
	if filter.EndTime != nil {
		query += " AND created_at < " + arg(*filter.EndTime)
	}

	query += " ORDER BY created_at DESC, id DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	query += " LIMIT " + arg(limit)
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		e := &Entry{}
		var userID, orgID, resourceID, ip, ua, errMsg sql.NullString
		var details []byte
		if err := rows.Scan(
			&e.ID, &userID, &orgID, &e.Action, &e.Resource, &resourceID, &details,
			&ip, &ua, &e.Success, &errMsg, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		e.UserID = userID.String
		e.OrganizationID = orgID.String
		e.ResourceID = resourceID.String
		e.IPAddress = ip.String
		e.UserAgent = ua.String
		e.ErrorMessage = errMsg.String
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal details: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}
	return entries, nil
}
