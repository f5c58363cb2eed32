package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/tenant-governance/models"
	"github.com/upb/tenant-governance/repositories"
)

const auditColumns = `id, request_id, action, resource, user_id, tenant_id, result, reason, metadata, timestamp`

// AuditRepository implements repositories.AuditRepository
type AuditRepository struct {
	db     *DB
	tx     repositories.TransactionManager
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, tx repositories.TransactionManager, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{db: db, tx: tx, logger: logger}
}

// Insert stores one entry
func (r *AuditRepository) Insert(ctx context.Context, entry *models.AuditEntry) error {
	metadata, err := marshalMetadata(entry.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_entries (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = executorFor(ctx, r.db).ExecContext(ctx, query,
		entry.ID,
		entry.RequestID,
		entry.Action,
		entry.Resource,
		nullString(entry.UserID),
		nullString(entry.TenantID),
		string(entry.Result),
		nullString(entry.Reason),
		metadata,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	r.logger.Debug("audit entry inserted",
		zap.String("id", entry.ID.String()),
		zap.String("action", entry.Action))
	return nil
}

// InsertBatch stores entries in one transaction
func (r *AuditRepository) InsertBatch(ctx context.Context, entries []*models.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.tx.InTransaction(ctx, func(ctx context.Context) error {
		for _, e := range entries {
			if err := r.Insert(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetByID retrieves an entry by ID
func (r *AuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_entries WHERE id = $1`

	entry, err := scanEntry(executorFor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("audit entry not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get audit entry: %w", err)
	}
	return entry, nil
}

// ListByTenant retrieves entries for a tenant, newest first
func (r *AuditRepository) ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*models.AuditEntry, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_entries
		WHERE tenant_id = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3
	`
	return r.query(ctx, query, tenantID, limit, offset)
}

// ListByRequestID retrieves entries written for one request
func (r *AuditRepository) ListByRequestID(ctx context.Context, requestID string) ([]*models.AuditEntry, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_entries
		WHERE request_id = $1
		ORDER BY timestamp ASC
	`
	return r.query(ctx, query, requestID)
}

// DeleteOlderThan removes entries written before cutoff
func (r *AuditRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := executorFor(ctx, r.db).ExecContext(ctx,
		`DELETE FROM audit_entries WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func (r *AuditRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.AuditEntry, error) {
	rows, err := executorFor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(s scanner) (*models.AuditEntry, error) {
	var (
		entry                    models.AuditEntry
		requestID, userID        sql.NullString
		tenantID, reason, result sql.NullString
		metadata                 []byte
	)
	if err := s.Scan(
		&entry.ID,
		&requestID,
		&entry.Action,
		&entry.Resource,
		&userID,
		&tenantID,
		&result,
		&reason,
		&metadata,
		&entry.Timestamp,
	); err != nil {
		return nil, err
	}

	entry.RequestID = requestID.String
	entry.UserID = userID.String
	entry.TenantID = tenantID.String
	entry.Result = models.AuditResult(result.String)
	entry.Reason = reason.String
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return &entry, nil
}

func marshalMetadata(m map[string]interface{}) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return b, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
