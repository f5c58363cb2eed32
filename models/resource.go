package models

import "sort"

// ResourceKind identifies a tracked resource dimension
type ResourceKind string

const (
	ResourceCPU       ResourceKind = "cpu"
	ResourceMemory    ResourceKind = "memory"
	ResourceStorage   ResourceKind = "storage"
	ResourceBandwidth ResourceKind = "bandwidth"
	ResourceRequests  ResourceKind = "requests"
)

// ResourceUnits maps each kind to the unit its amounts are expressed in
var ResourceUnits = map[ResourceKind]string{
	ResourceCPU:       "cores",
	ResourceMemory:    "MB",
	ResourceStorage:   "GB",
	ResourceBandwidth: "Mbps",
	ResourceRequests:  "req/min",
}

// ResourceAllocation is an amount per resource kind
type ResourceAllocation map[ResourceKind]int64

// Clone returns a copy of the allocation
func (a ResourceAllocation) Clone() ResourceAllocation {
	out := make(ResourceAllocation, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Add accumulates other into a
func (a ResourceAllocation) Add(other ResourceAllocation) {
	for k, v := range other {
		a[k] += v
	}
}

// Sub removes other from a
func (a ResourceAllocation) Sub(other ResourceAllocation) {
	for k, v := range other {
		a[k] -= v
	}
}

// Fits reports whether every kind in a fits within capacity.
// It returns the first kind that does not fit.
func (a ResourceAllocation) Fits(capacity ResourceAllocation) (ResourceKind, bool) {
	for _, k := range a.Kinds() {
		if a[k] > capacity[k] {
			return k, false
		}
	}
	return "", true
}

// Kinds returns the kinds present in the allocation in a stable order
func (a ResourceAllocation) Kinds() []ResourceKind {
	kinds := make([]ResourceKind, 0, len(a))
	for k := range a {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// ResourceQuota tracks allocation and consumption of one kind for a tenant
type ResourceQuota struct {
	Kind         ResourceKind `json:"kind"`
	Allocated    int64        `json:"allocated"`
	Used         int64        `json:"used"`
	Unit         string       `json:"unit"`
	EnforceLimit bool         `json:"enforce_limit"`
}

// Remaining returns how much of the quota is still unused
func (q ResourceQuota) Remaining() int64 {
	if q.Used >= q.Allocated {
		return 0
	}
	return q.Allocated - q.Used
}
