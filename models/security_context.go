package models

import "context"

type securityContextKey struct{}

// ContextWithSecurity attaches sc to ctx
func ContextWithSecurity(ctx context.Context, sc *SecurityContext) context.Context {
	return context.WithValue(ctx, securityContextKey{}, sc)
}

// SecurityFromContext returns the security context attached to ctx, if any
func SecurityFromContext(ctx context.Context) (*SecurityContext, bool) {
	sc, ok := ctx.Value(securityContextKey{}).(*SecurityContext)
	return sc, ok && sc != nil
}

// SecurityContext describes the caller of an operation
type SecurityContext struct {
	RequestID   string   `json:"request_id,omitempty"`
	TenantID    string   `json:"tenant_id,omitempty"`
	UserID      string   `json:"user_id,omitempty"`
	SessionID   string   `json:"session_id,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	SourceIP    string   `json:"source_ip,omitempty"`
	UserAgent   string   `json:"user_agent,omitempty"`
}

// IsAuthenticated reports whether the context carries a user or session identity
func (c *SecurityContext) IsAuthenticated() bool {
	return c.UserID != "" || c.SessionID != ""
}

// HasPermission checks the permission set. "*" grants everything.
func (c *SecurityContext) HasPermission(permission string) bool {
	for _, p := range c.Permissions {
		if p == permission || p == "*" {
			return true
		}
	}
	return false
}

// HasRole checks the role set
func (c *SecurityContext) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Principal returns the most specific identity available
func (c *SecurityContext) Principal() string {
	switch {
	case c.UserID != "":
		return c.UserID
	case c.SessionID != "":
		return c.SessionID
	default:
		return c.SourceIP
	}
}
