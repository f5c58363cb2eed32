package resource

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/upb/tenant-governance/models"
	"github.com/upb/tenant-governance/services"
)

// Pool is the shared capacity of one plan tier. The sum of all tenant
// allocations never exceeds TotalCapacity for any kind.
type Pool struct {
	plan     models.Plan
	capacity models.ResourceAllocation

	mu          sync.Mutex
	allocations map[string]models.ResourceAllocation
	logger      *zap.Logger
}

// NewPool creates an empty pool with the given capacity
func NewPool(plan models.Plan, capacity models.ResourceAllocation, logger *zap.Logger) *Pool {
	return &Pool{
		plan:        plan,
		capacity:    capacity.Clone(),
		allocations: make(map[string]models.ResourceAllocation),
		logger:      logger,
	}
}

// Plan returns the tier this pool serves
func (p *Pool) Plan() models.Plan {
	return p.plan
}

// Capacity returns a copy of the pool's total capacity
func (p *Pool) Capacity() models.ResourceAllocation {
	return p.capacity.Clone()
}

// Allocate reserves requested for tenantID, replacing any allocation the tenant
// already holds. Either every kind fits and the allocation is stored, or nothing
// changes and an insufficient_resource error names the first kind that did not fit.
func (p *Pool) Allocate(ctx context.Context, tenantID string, requested models.ResourceAllocation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	used := p.allocatedExcluding(tenantID)
	for _, kind := range requested.Kinds() {
		amount := requested[kind]
		if amount < 0 {
			return services.NewValidationError(string(kind), "allocation amounts must not be negative")
		}
		available := p.capacity[kind] - used[kind]
		if amount > available {
			p.logger.Debug("allocation rejected",
				zap.String("plan", string(p.plan)),
				zap.String("tenant_id", tenantID),
				zap.String("kind", string(kind)),
				zap.Int64("requested", amount),
				zap.Int64("available", available),
			)
			return services.NewInsufficientResource(kind, amount, available)
		}
	}

	p.allocations[tenantID] = requested.Clone()
	return nil
}

// Release frees tenantID's allocation. It reports whether anything was held.
func (p *Pool) Release(tenantID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.allocations[tenantID]; !ok {
		return false
	}
	delete(p.allocations, tenantID)
	return true
}

// AllocationFor returns a copy of the tenant's allocation
func (p *Pool) AllocationFor(tenantID string) (models.ResourceAllocation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.allocations[tenantID]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// Allocated returns the per-kind total across all tenants
func (p *Pool) Allocated() models.ResourceAllocation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocatedExcluding("")
}

// Available returns capacity minus allocated, per kind
func (p *Pool) Available() models.ResourceAllocation {
	p.mu.Lock()
	defer p.mu.Unlock()

	avail := p.capacity.Clone()
	avail.Sub(p.allocatedExcluding(""))
	return avail
}

// Snapshot is a consistent point-in-time view of a pool
type Snapshot struct {
	Plan      models.Plan               `json:"plan"`
	Capacity  models.ResourceAllocation `json:"capacity"`
	Allocated models.ResourceAllocation `json:"allocated"`
	Tenants   int                       `json:"tenants"`
}

// Snapshot returns capacity and allocation taken under one lock
func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Snapshot{
		Plan:      p.plan,
		Capacity:  p.capacity.Clone(),
		Allocated: p.allocatedExcluding(""),
		Tenants:   len(p.allocations),
	}
}

// allocatedExcluding must be called with p.mu held
func (p *Pool) allocatedExcluding(tenantID string) models.ResourceAllocation {
	total := make(models.ResourceAllocation, len(p.capacity))
	for id, a := range p.allocations {
		if id == tenantID {
			continue
		}
		total.Add(a)
	}
	return total
}
