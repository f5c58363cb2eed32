package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/upb/tenant-governance/models"
	"github.com/upb/tenant-governance/services/ratelimit"
	"github.com/upb/tenant-governance/services/tenant"
)

// Governance holds the tables the governance core runs on
type Governance struct {
	Plans        tenant.PlanTable
	PoolCapacity map[models.Plan]models.ResourceAllocation
	Presets      map[string]ratelimit.Config
	Policies     []models.SecurityPolicy
}

// governanceFile is the on-disk shape. Every section is optional and
// merges over the defaults entry by entry.
type governanceFile struct {
	Plans map[models.Plan]struct {
		Limits       *models.TenantLimits      `yaml:"limits"`
		Allocation   models.ResourceAllocation `yaml:"allocation"`
		PoolCapacity models.ResourceAllocation `yaml:"pool_capacity"`
	} `yaml:"plans"`
	Presets  map[string]ratelimit.Config `yaml:"rate_limit_presets"`
	Policies *[]models.SecurityPolicy    `yaml:"policies"`
}

// DefaultGovernance returns the built-in plans, capacities, presets and policies
func DefaultGovernance() *Governance {
	return &Governance{
		Plans: tenant.DefaultPlans(),
		PoolCapacity: map[models.Plan]models.ResourceAllocation{
			models.PlanBasic: {
				models.ResourceCPU:       100,
				models.ResourceMemory:    204800,
				models.ResourceStorage:   1000,
				models.ResourceBandwidth: 10000,
			},
			models.PlanProfessional: {
				models.ResourceCPU:       100,
				models.ResourceMemory:    204800,
				models.ResourceStorage:   2500,
				models.ResourceBandwidth: 25000,
			},
			models.PlanEnterprise: {
				models.ResourceCPU:       200,
				models.ResourceMemory:    409600,
				models.ResourceStorage:   12500,
				models.ResourceBandwidth: 125000,
			},
		},
		Presets:  ratelimit.DefaultPresets(),
		Policies: defaultPolicies(),
	}
}

func defaultPolicies() []models.SecurityPolicy {
	return []models.SecurityPolicy{
		{
			ID:          "baseline-authentication",
			Name:        "Baseline authentication",
			Enforcement: models.EnforcementStrict,
			Enabled:     true,
			Rules: []models.SecurityRule{{
				ID:       "require-identity",
				Name:     "Require an authenticated principal",
				Category: models.RuleCategoryAuthentication,
				Action:   models.RuleActionDeny,
				Severity: models.SeverityHigh,
				Enabled:  true,
			}},
		},
		{
			ID:          "evaluation-trail",
			Name:        "Evaluation audit trail",
			Enforcement: models.EnforcementAuditOnly,
			Enabled:     true,
			Rules: []models.SecurityRule{{
				ID:       "record-evaluations",
				Name:     "Record every evaluation",
				Category: models.RuleCategoryAudit,
				Action:   models.RuleActionLog,
				Severity: models.SeverityLow,
				Enabled:  true,
			}},
		},
	}
}

// LoadGovernance reads the governance file at path over the defaults.
// An empty path returns the defaults.
func LoadGovernance(path string) (*Governance, error) {
	g := DefaultGovernance()
	if path == "" {
		return g, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read governance config: %w", err)
	}
	if err := g.merge(data); err != nil {
		return nil, fmt.Errorf("failed to parse governance config %s: %w", path, err)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid governance config %s: %w", path, err)
	}
	return g, nil
}

func (g *Governance) merge(data []byte) error {
	var file governanceFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return err
	}

	for plan, override := range file.Plans {
		if _, err := models.ParsePlan(string(plan)); err != nil {
			return err
		}
		spec := g.Plans[plan]
		if override.Limits != nil {
			spec.Limits = *override.Limits
		}
		if override.Allocation != nil {
			spec.Allocation = override.Allocation
		}
		g.Plans[plan] = spec
		if override.PoolCapacity != nil {
			g.PoolCapacity[plan] = override.PoolCapacity
		}
	}
	for name, preset := range file.Presets {
		g.Presets[name] = preset
	}
	if file.Policies != nil {
		g.Policies = *file.Policies
	}
	return nil
}

// Validate checks that every plan has entitlements and a pool that can hold
// at least one tenant, and that presets are usable
func (g *Governance) Validate() error {
	if err := g.Plans.Validate(); err != nil {
		return err
	}
	for _, plan := range models.Plans {
		capacity, ok := g.PoolCapacity[plan]
		if !ok {
			return fmt.Errorf("plan %q has no pool capacity", plan)
		}
		if kind, fits := g.Plans[plan].Allocation.Fits(capacity); !fits {
			return fmt.Errorf("plan %q: pool %s capacity cannot hold a single tenant", plan, kind)
		}
	}
	for name, preset := range g.Presets {
		if preset.MaxRequests <= 0 || preset.Window <= 0 {
			return fmt.Errorf("rate limit preset %q needs positive max_requests and window", name)
		}
	}
	return nil
}
