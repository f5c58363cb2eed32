package postgres

import (
	"context"

	"go.uber.org/zap"

	"github.com/upb/tenant-governance/config"
	"github.com/upb/tenant-governance/repositories"
)

// RepositoryFactory owns the connection pool behind all repositories
type RepositoryFactory struct {
	db     *DB
	logger *zap.Logger
}

// NewRepositoryFactory connects to the configured database
func NewRepositoryFactory(cfg config.DatabaseConfig, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &RepositoryFactory{db: db, logger: logger}, nil
}

// InitSchema bootstraps the tables the repositories need
func (f *RepositoryFactory) InitSchema(ctx context.Context) error {
	return f.db.InitSchema(ctx)
}

// NewRepositories creates all repository instances
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	tx := NewTxManager(f.db, f.logger)
	return &repositories.Repositories{
		Audit:        NewAuditRepository(f.db, tx, f.logger),
		Transactions: tx,
	}
}

// GetDB returns the database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// Close closes the database connection
func (f *RepositoryFactory) Close() error {
	return f.db.Close()
}
