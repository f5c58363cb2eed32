package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/upb/tenant-governance/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// InTransaction executes fn within a transaction.
	// Commits if fn succeeds, rolls back on error.
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// AuditRepository persists audit entries
type AuditRepository interface {
	// Insert stores a single entry
	Insert(ctx context.Context, entry *models.AuditEntry) error

	// InsertBatch stores entries atomically
	InsertBatch(ctx context.Context, entries []*models.AuditEntry) error

	// GetByID retrieves an entry by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.AuditEntry, error)

	// ListByTenant retrieves entries for a tenant, newest first
	ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*models.AuditEntry, error)

	// ListByRequestID retrieves every entry written for one request
	ListByRequestID(ctx context.Context, requestID string) ([]*models.AuditEntry, error)

	// DeleteOlderThan removes entries written before cutoff
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Repositories holds all repository instances
type Repositories struct {
	Audit        AuditRepository
	Transactions TransactionManager
}
