package resource

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/upb/tenant-governance/models"
	"github.com/upb/tenant-governance/services"
)

// Manager owns one pool per plan tier. Pools never share a lock.
type Manager struct {
	pools  map[models.Plan]*Pool
	logger *zap.Logger
}

// NewManager builds pools from a plan → capacity table
func NewManager(capacities map[models.Plan]models.ResourceAllocation, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		pools:  make(map[models.Plan]*Pool, len(capacities)),
		logger: logger,
	}
	for _, plan := range models.Plans {
		capacity, ok := capacities[plan]
		if !ok {
			return nil, fmt.Errorf("no pool capacity configured for plan %q", plan)
		}
		m.pools[plan] = NewPool(plan, capacity, logger)
	}
	return m, nil
}

// Pool returns the pool serving plan
func (m *Manager) Pool(plan models.Plan) (*Pool, error) {
	p, ok := m.pools[plan]
	if !ok {
		return nil, services.NewDomainError(services.ErrorTypeNotFound, "resource pool not found", nil).
			WithDetail("plan", string(plan))
	}
	return p, nil
}

// Snapshots returns a snapshot of every pool in plan order
func (m *Manager) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(m.pools))
	for _, plan := range models.Plans {
		if p, ok := m.pools[plan]; ok {
			out = append(out, p.Snapshot())
		}
	}
	return out
}

// Collect publishes pool utilization to the given gauges
func (m *Manager) Collect(allocated, capacity *prometheus.GaugeVec) {
	for _, s := range m.Snapshots() {
		for kind, v := range s.Capacity {
			capacity.WithLabelValues(string(s.Plan), string(kind)).Set(float64(v))
			allocated.WithLabelValues(string(s.Plan), string(kind)).Set(float64(s.Allocated[kind]))
		}
	}
}
