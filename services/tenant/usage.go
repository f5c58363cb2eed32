package tenant

import (
	"time"

	"github.com/upb/tenant-governance/models"
)

// DefaultUsageHistory is the number of usage samples kept per tenant
const DefaultUsageHistory = 256

// UsageSample is one reported consumption value
type UsageSample struct {
	Kind       models.ResourceKind `json:"kind"`
	Used       int64               `json:"used"`
	ReportedAt time.Time           `json:"reported_at"`
}

// usageRing keeps the most recent samples, oldest first. Callers hold the tenant lock.
type usageRing struct {
	samples  []UsageSample
	capacity int
}

func newUsageRing(capacity int) *usageRing {
	if capacity <= 0 {
		capacity = DefaultUsageHistory
	}
	return &usageRing{capacity: capacity}
}

func (r *usageRing) add(s UsageSample) {
	if len(r.samples) == r.capacity {
		copy(r.samples, r.samples[1:])
		r.samples = r.samples[:len(r.samples)-1]
	}
	r.samples = append(r.samples, s)
}

// pruneBefore drops samples reported before cutoff and returns how many went
func (r *usageRing) pruneBefore(cutoff time.Time) int {
	i := 0
	for i < len(r.samples) && r.samples[i].ReportedAt.Before(cutoff) {
		i++
	}
	if i > 0 {
		r.samples = append(r.samples[:0], r.samples[i:]...)
	}
	return i
}

func (r *usageRing) snapshot() []UsageSample {
	return append([]UsageSample(nil), r.samples...)
}
