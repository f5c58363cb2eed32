package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/tenant-governance/models"
)

// MockAuditRepository is a mock implementation of AuditRepository
type MockAuditRepository struct {
	mock.Mock
	mu       sync.Mutex
	inserted []*models.AuditEntry
}

func (m *MockAuditRepository) Insert(ctx context.Context, entry *models.AuditEntry) error {
	args := m.Called(ctx, entry)
	m.mu.Lock()
	m.inserted = append(m.inserted, entry)
	m.mu.Unlock()
	return args.Error(0)
}

func (m *MockAuditRepository) InsertBatch(ctx context.Context, entries []*models.AuditEntry) error {
	args := m.Called(ctx, entries)
	m.mu.Lock()
	m.inserted = append(m.inserted, entries...)
	m.mu.Unlock()
	return args.Error(0)
}

func (m *MockAuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditEntry, error) {
	args := m.Called(ctx, id)
	if e := args.Get(0); e != nil {
		return e.(*models.AuditEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*models.AuditEntry, error) {
	args := m.Called(ctx, tenantID, limit, offset)
	if e := args.Get(0); e != nil {
		return e.([]*models.AuditEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) ListByRequestID(ctx context.Context, requestID string) ([]*models.AuditEntry, error) {
	args := m.Called(ctx, requestID)
	if e := args.Get(0); e != nil {
		return e.([]*models.AuditEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAuditRepository) Inserted() []*models.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.AuditEntry(nil), m.inserted...)
}

func entry(action, tenant string) models.AuditEntry {
	return *models.NewAuditEntry(action, "res", models.AuditResultSuccess).WithTenant(tenant)
}

func TestAsyncSink_StartStop(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	sink := NewAsyncSink(mockRepo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 2}, nil)

	require.NoError(t, sink.Start())

	stats := sink.GetStats()
	assert.True(t, stats.Started)
	assert.Equal(t, 2, stats.WorkerCount)
	assert.Equal(t, 10, stats.BufferSize)

	assert.Error(t, sink.Start())
	require.NoError(t, sink.Stop(5*time.Second))
	assert.Error(t, sink.Stop(time.Second))
	assert.Error(t, sink.Append(context.Background(), entry("a", "t1")))
}

func TestAsyncSink_PersistsAllEntriesOnStop(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)
	mockRepo.On("InsertBatch", mock.Anything, mock.Anything).Return(nil)

	sink := NewAsyncSink(mockRepo, zap.NewNop(), Config{BufferSize: 100, WorkerCount: 3, BatchSize: 10}, nil)
	require.NoError(t, sink.Start())

	for i := 0; i < 40; i++ {
		require.NoError(t, sink.Append(context.Background(), entry("tenant.updated", "t1")))
	}
	require.NoError(t, sink.Stop(5*time.Second))

	assert.Len(t, mockRepo.Inserted(), 40)
}

func TestAsyncSink_RepositoryErrorIsLogged(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(errors.New("db down"))

	sink := NewAsyncSink(mockRepo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1, BatchSize: 1}, nil)
	require.NoError(t, sink.Start())
	require.NoError(t, sink.Append(context.Background(), entry("a", "t1")))
	require.NoError(t, sink.Stop(5*time.Second))

	mockRepo.AssertCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestAsyncSink_DropsWhenFull(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	dropped := prometheus.NewCounter(prometheus.CounterOpts{Name: "dropped"})

	// Not started workers: nothing drains the buffer.
	sink := NewAsyncSink(mockRepo, zap.NewNop(), Config{BufferSize: 2, WorkerCount: 0}, dropped)
	require.NoError(t, sink.Start())

	require.NoError(t, sink.Append(context.Background(), entry("a", "t1")))
	require.NoError(t, sink.Append(context.Background(), entry("b", "t1")))
	assert.Error(t, sink.Append(context.Background(), entry("c", "t1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(dropped))
}

func TestMultiSink(t *testing.T) {
	ring := NewRingBuffer(10, nil)
	failing := SinkFunc(func(context.Context, models.AuditEntry) error {
		return errors.New("unavailable")
	})

	err := MultiSink{failing, ring}.Append(context.Background(), entry("a", "t1"))
	assert.Error(t, err)
	assert.Equal(t, 1, ring.Len())
}
