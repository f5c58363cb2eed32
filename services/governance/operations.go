package governance

import "github.com/upb/tenant-governance/models"

// TenantOperation is one of UpdateTenant, SuspendTenant, ActivateTenant or DeprovisionTenant
type TenantOperation interface {
	tenantOperation()
}

// UpdateTenant changes plan, name or configuration. Nil fields are left alone;
// at least one must be set.
type UpdateTenant struct {
	Plan          *models.Plan
	Name          *string
	Configuration *models.TenantConfiguration
}

// SuspendTenant frees a tenant's resources without removing it
type SuspendTenant struct{}

// ActivateTenant re-allocates a suspended tenant
type ActivateTenant struct{}

// DeprovisionTenant removes a tenant for good
type DeprovisionTenant struct{}

func (UpdateTenant) tenantOperation()      {}
func (SuspendTenant) tenantOperation()     {}
func (ActivateTenant) tenantOperation()    {}
func (DeprovisionTenant) tenantOperation() {}

// PolicyCommand is one of CreatePolicy, UpdatePolicy, DeletePolicy, GetPolicy or ListPolicies
type PolicyCommand interface {
	policyCommand()
}

// CreatePolicy adds a policy
type CreatePolicy struct {
	Policy models.SecurityPolicy
}

// UpdatePolicy replaces a policy definition
type UpdatePolicy struct {
	ID     string
	Policy models.SecurityPolicy
}

// DeletePolicy removes a policy if it exists
type DeletePolicy struct {
	ID string
}

// GetPolicy fetches one policy
type GetPolicy struct {
	ID string
}

// ListPolicies fetches all policies
type ListPolicies struct{}

func (CreatePolicy) policyCommand() {}
func (UpdatePolicy) policyCommand() {}
func (DeletePolicy) policyCommand() {}
func (GetPolicy) policyCommand()    {}
func (ListPolicies) policyCommand() {}

// PolicyResult is the answer to a PolicyCommand. Which fields are set
// depends on the command.
type PolicyResult struct {
	Policy   *models.SecurityPolicy   `json:"policy,omitempty"`
	Policies []*models.SecurityPolicy `json:"policies,omitempty"`
	// Existed reports whether a DeletePolicy found something to delete
	Existed bool `json:"existed"`
}
