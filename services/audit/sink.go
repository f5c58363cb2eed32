package audit

import (
	"context"
	"errors"

	"github.com/upb/tenant-governance/models"
)

// Sink receives audit entries. Entries are passed by value; a sink must
// not retain pointers into caller-owned metadata.
type Sink interface {
	Append(ctx context.Context, entry models.AuditEntry) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, entry models.AuditEntry) error

// Append implements Sink
func (f SinkFunc) Append(ctx context.Context, entry models.AuditEntry) error {
	return f(ctx, entry)
}

// MultiSink fans an entry out to every sink and joins their errors
type MultiSink []Sink

// Append implements Sink
func (m MultiSink) Append(ctx context.Context, entry models.AuditEntry) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Filter selects entries from a RingBuffer. Zero fields match everything.
type Filter struct {
	TenantID  string
	UserID    string
	RequestID string
	Action    string
	Result    models.AuditResult
	Limit     int
}

func (f Filter) matches(e *models.AuditEntry) bool {
	switch {
	case f.TenantID != "" && e.TenantID != f.TenantID:
		return false
	case f.UserID != "" && e.UserID != f.UserID:
		return false
	case f.RequestID != "" && e.RequestID != f.RequestID:
		return false
	case f.Action != "" && e.Action != f.Action:
		return false
	case f.Result != "" && e.Result != f.Result:
		return false
	}
	return true
}

func cloneMetadata(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
