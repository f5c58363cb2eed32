package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/upb/tenant-governance/models"
	"github.com/upb/tenant-governance/repositories"
)

// AsyncSink persists entries to an AuditRepository from a pool of background workers
type AsyncSink struct {
	auditRepo   repositories.AuditRepository
	logger      *zap.Logger
	eventChan   chan models.AuditEntry
	workerCount int
	bufferSize  int
	batchSize   int
	dropped     prometheus.Counter
	wg          sync.WaitGroup
	started     bool
	stopped     bool
	mu          sync.RWMutex
}

// Config holds configuration for the AsyncSink
type Config struct {
	BufferSize  int // Size of the entry buffer channel
	WorkerCount int // Number of concurrent workers
	BatchSize   int // Max entries written per transaction
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  10000,
		WorkerCount: 5,
		BatchSize:   50,
	}
}

// NewAsyncSink creates a new AsyncSink instance
func NewAsyncSink(auditRepo repositories.AuditRepository, logger *zap.Logger, config Config, dropped prometheus.Counter) *AsyncSink {
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}
	return &AsyncSink{
		auditRepo:   auditRepo,
		logger:      logger,
		eventChan:   make(chan models.AuditEntry, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		batchSize:   config.BatchSize,
		dropped:     dropped,
	}
}

// Start starts the background workers
func (s *AsyncSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit sink already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit sink",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))
	return nil
}

// Stop closes the buffer and waits for workers to drain it
func (s *AsyncSink) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit sink not running")
	}
	s.stopped = true
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping audit sink", zap.Int("pending_entries", len(s.eventChan)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit sink stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit sink stop timeout after %v", timeout)
	}
}

// Append queues an entry without blocking. A full buffer drops the entry.
func (s *AsyncSink) Append(_ context.Context, entry models.AuditEntry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started || s.stopped {
		return fmt.Errorf("audit sink not running")
	}

	entry.Metadata = cloneMetadata(entry.Metadata)
	select {
	case s.eventChan <- entry:
		return nil
	default:
		if s.dropped != nil {
			s.dropped.Inc()
		}
		s.logger.Warn("audit buffer full, dropping entry",
			zap.String("action", entry.Action),
			zap.String("tenant_id", entry.TenantID))
		return fmt.Errorf("audit buffer full")
	}
}

// worker drains the channel, writing up to batchSize entries per transaction
func (s *AsyncSink) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for entry := range s.eventChan {
		e := entry
		batch := []*models.AuditEntry{&e}
	fill:
		for len(batch) < s.batchSize {
			select {
			case next, ok := <-s.eventChan:
				if !ok {
					break fill
				}
				n := next
				batch = append(batch, &n)
			default:
				break fill
			}
		}

		if err := s.write(batch); err != nil {
			s.logger.Error("failed to persist audit entries",
				zap.Int("worker_id", id),
				zap.Int("count", len(batch)),
				zap.Error(err))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

func (s *AsyncSink) write(batch []*models.AuditEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(batch) == 1 {
		return s.auditRepo.Insert(ctx, batch[0])
	}
	return s.auditRepo.InsertBatch(ctx, batch)
}

// GetStats returns statistics about the sink
func (s *AsyncSink) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:     s.bufferSize,
		PendingEntries: len(s.eventChan),
		WorkerCount:    s.workerCount,
		Started:        s.started && !s.stopped,
	}
}

// Stats represents audit sink statistics
type Stats struct {
	BufferSize     int
	PendingEntries int
	WorkerCount    int
	Started        bool
}
