package tenant

import (
	"fmt"

	"github.com/upb/tenant-governance/models"
	"github.com/upb/tenant-governance/services"
)

// PlanSpec is what a tenant on a plan is entitled to
type PlanSpec struct {
	Limits     models.TenantLimits       `yaml:"limits"`
	Allocation models.ResourceAllocation `yaml:"allocation"`
}

// PlanTable maps every plan tier to its entitlements
type PlanTable map[models.Plan]PlanSpec

// DefaultPlans returns the built-in plan table
func DefaultPlans() PlanTable {
	return PlanTable{
		models.PlanBasic: {
			Limits: models.TenantLimits{
				MaxUsers:              10,
				MaxAgents:             5,
				MaxRequestsPerMinute:  1000,
				MaxStorageGB:          10,
				MaxConcurrentSessions: 50,
			},
			Allocation: models.ResourceAllocation{
				models.ResourceCPU:       1,
				models.ResourceMemory:    2048,
				models.ResourceStorage:   10,
				models.ResourceBandwidth: 100,
			},
		},
		models.PlanProfessional: {
			Limits: models.TenantLimits{
				MaxUsers:              100,
				MaxAgents:             25,
				MaxRequestsPerMinute:  5000,
				MaxStorageGB:          100,
				MaxConcurrentSessions: 500,
			},
			Allocation: models.ResourceAllocation{
				models.ResourceCPU:       4,
				models.ResourceMemory:    8192,
				models.ResourceStorage:   100,
				models.ResourceBandwidth: 1000,
			},
		},
		models.PlanEnterprise: {
			Limits: models.TenantLimits{
				MaxUsers:              1000,
				MaxAgents:             100,
				MaxRequestsPerMinute:  20000,
				MaxStorageGB:          1000,
				MaxConcurrentSessions: 5000,
			},
			Allocation: models.ResourceAllocation{
				models.ResourceCPU:       16,
				models.ResourceMemory:    32768,
				models.ResourceStorage:   1000,
				models.ResourceBandwidth: 10000,
			},
		},
	}
}

// Validate checks that every plan tier is present
func (t PlanTable) Validate() error {
	for _, p := range models.Plans {
		spec, ok := t[p]
		if !ok {
			return fmt.Errorf("plan %q is not configured", p)
		}
		for kind, v := range spec.Allocation {
			if v < 0 {
				return fmt.Errorf("plan %q: negative %s allocation", p, kind)
			}
		}
	}
	return nil
}

// checkUsageFits rejects a plan whose enforced allocation is below usage
// already recorded in quotas
func checkUsageFits(spec PlanSpec, quotas []models.ResourceQuota) error {
	for _, q := range quotas {
		if !q.EnforceLimit {
			continue
		}
		allocated, ok := spec.Allocation[q.Kind]
		if !ok {
			continue
		}
		if q.Used > allocated {
			return services.NewInsufficientResource(q.Kind, q.Used, allocated)
		}
	}
	return nil
}

// quotasFor builds quotas for a plan, carrying Used over from previous quotas
func quotasFor(spec PlanSpec, previous []models.ResourceQuota) []models.ResourceQuota {
	used := make(map[models.ResourceKind]int64, len(previous))
	for _, q := range previous {
		used[q.Kind] = q.Used
	}

	quotas := make([]models.ResourceQuota, 0, len(spec.Allocation)+1)
	for _, kind := range spec.Allocation.Kinds() {
		quotas = append(quotas, models.ResourceQuota{
			Kind:         kind,
			Allocated:    spec.Allocation[kind],
			Used:         used[kind],
			Unit:         models.ResourceUnits[kind],
			EnforceLimit: true,
		})
	}
	// Request volume is enforced by the rate limiter, not the pool.
	quotas = append(quotas, models.ResourceQuota{
		Kind:      models.ResourceRequests,
		Allocated: int64(spec.Limits.MaxRequestsPerMinute),
		Used:      used[models.ResourceRequests],
		Unit:      models.ResourceUnits[models.ResourceRequests],
	})
	return quotas
}
