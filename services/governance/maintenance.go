package governance

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/upb/tenant-governance/services/resource"
)

// MaintenanceReport summarizes one maintenance pass
type MaintenanceReport struct {
	RateLimitWindowsPurged int
	UsageSamplesPruned     int
}

// Start launches the background maintenance loop
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("governance maintenance already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.maintenanceLoop(s.stopCh)

	s.logger.Info("governance maintenance started",
		zap.Duration("interval", s.maintenance.Interval))
	return nil
}

// Stop halts the maintenance loop and waits for it to exit
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("governance maintenance stopped")
}

func (s *Service) maintenanceLoop(stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.maintenance.Interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.Maintain(now)
		case <-stopCh:
			return
		}
	}
}

// Maintain runs one maintenance pass: purges expired rate limit windows,
// prunes old usage samples and refreshes gauges. It takes the same locks
// as foreground operations.
func (s *Service) Maintain(now time.Time) MaintenanceReport {
	report := MaintenanceReport{
		RateLimitWindowsPurged: s.limiter.Sweep(now, s.maintenance.RateLimitGrace),
		UsageSamplesPruned:     s.tenants.PruneUsage(now.Add(-s.maintenance.UsageRetention)),
	}

	if s.metrics != nil {
		s.pools.Collect(s.metrics.PoolAllocated, s.metrics.PoolCapacity)
		for status, n := range s.tenants.Counts() {
			s.metrics.Tenants.WithLabelValues(string(status)).Set(float64(n))
		}
	}

	if report.RateLimitWindowsPurged > 0 || report.UsageSamplesPruned > 0 {
		s.logger.Debug("governance maintenance pass",
			zap.Int("ratelimit_windows_purged", report.RateLimitWindowsPurged),
			zap.Int("usage_samples_pruned", report.UsageSamplesPruned),
		)
	}
	return report
}

// PoolUtilization returns the allocation state of every plan pool
func (s *Service) PoolUtilization() []resource.Snapshot {
	return s.pools.Snapshots()
}
