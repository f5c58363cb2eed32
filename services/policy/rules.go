package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/open-policy-agent/opa/rego"

	"github.com/upb/tenant-governance/models"
	"github.com/upb/tenant-governance/services/ratelimit"
)

// RateLimiter is the slice of the limiter the rate-limiting rule needs
type RateLimiter interface {
	Check(ctx context.Context, identifier string, cfg ratelimit.Config) (ratelimit.Result, error)
}

// BuiltinOptions configure the built-in rule categories
type BuiltinOptions struct {
	Limiter RateLimiter
	// IPSalt is mixed into hashed source addresses for ip-scoped limits
	IPSalt  string
	Modules *ModuleCache
}

// NewBuiltinRegistry returns a registry with every built-in category installed.
// Without a limiter, rate-limiting rules cannot be built.
func NewBuiltinRegistry(opts BuiltinOptions) *Registry {
	if opts.Modules == nil {
		opts.Modules = NewModuleCache(DefaultModuleCacheSize)
	}

	r := NewRegistry()
	r.Register(models.RuleCategoryAuthentication, authenticationFactory)
	r.Register(models.RuleCategoryAuthorization, authorizationFactory)
	r.Register(models.RuleCategoryAudit, auditFactory)
	r.Register(models.RuleCategoryValidation, validationFactory(opts.Modules))
	if opts.Limiter != nil {
		r.Register(models.RuleCategoryRateLimiting, rateLimitFactory(opts.Limiter, opts.IPSalt))
	}
	return r
}

func authenticationFactory(_ context.Context, _ models.SecurityRule) (RuleEvaluator, error) {
	return EvaluatorFunc(func(_ context.Context, in Input) Outcome {
		if in.Context.IsAuthenticated() {
			return Pass()
		}
		return Fail("authentication required")
	}), nil
}

func authorizationFactory(_ context.Context, rule models.SecurityRule) (RuleEvaluator, error) {
	cond := rule.Condition
	if cond.Permission == "" && len(cond.Roles) == 0 {
		return nil, errors.New("authorization rules need a permission or roles")
	}
	roles := append([]string(nil), cond.Roles...)

	return EvaluatorFunc(func(_ context.Context, in Input) Outcome {
		if cond.Permission != "" && in.Context.HasPermission(cond.Permission) {
			return Pass()
		}
		for _, role := range roles {
			if in.Context.HasRole(role) {
				return Pass()
			}
		}
		if cond.Permission != "" {
			return Fail("missing permission " + cond.Permission)
		}
		return Fail("requires one of roles " + strings.Join(roles, ", "))
	}), nil
}

func auditFactory(_ context.Context, rule models.SecurityRule) (RuleEvaluator, error) {
	id := rule.ID
	return EvaluatorFunc(func(_ context.Context, _ Input) Outcome {
		return Outcome{Passed: true, Metadata: map[string]interface{}{"audit_rule": id}}
	}), nil
}

func rateLimitFactory(limiter RateLimiter, salt string) Factory {
	return func(_ context.Context, rule models.SecurityRule) (RuleEvaluator, error) {
		cond := rule.Condition
		if cond.MaxRequests <= 0 || cond.WindowMs <= 0 {
			return nil, errors.New("rate-limiting rules need positive max_requests and window_ms")
		}
		scope := cond.Scope
		switch scope {
		case "":
			scope = models.ScopeUser
		case models.ScopeUser, models.ScopeIP, models.ScopeTenant:
		default:
			return nil, fmt.Errorf("unknown rate limit scope %q", scope)
		}
		cfg := ratelimit.Config{
			MaxRequests: cond.MaxRequests,
			Window:      time.Duration(cond.WindowMs) * time.Millisecond,
		}

		return EvaluatorFunc(func(ctx context.Context, in Input) Outcome {
			key := principalKey(scope, in.Context, salt) + ":" + in.PolicyID + ":" + in.RuleID
			res, err := limiter.Check(ctx, key, cfg)
			if err != nil {
				return Fail("rate limit check failed: " + err.Error())
			}
			meta := map[string]interface{}{
				"remaining": res.Remaining,
				"reset_at":  res.ResetAt.UTC().Format(time.RFC3339),
			}
			if !res.Allowed {
				return Outcome{Reason: "rate limit exceeded", Metadata: meta}
			}
			return Outcome{Passed: true, Metadata: meta}
		}), nil
	}
}

func principalKey(scope models.RateLimitScope, sc *models.SecurityContext, salt string) string {
	switch scope {
	case models.ScopeIP:
		return ratelimit.IPKey(sc.SourceIP, salt)
	case models.ScopeTenant:
		return ratelimit.TenantKey(sc.TenantID)
	default:
		if sc.IsAuthenticated() {
			return ratelimit.UserKey(sc.Principal())
		}
		// Anonymous callers are counted by address.
		return ratelimit.IPKey(sc.SourceIP, salt)
	}
}

func validationFactory(modules *ModuleCache) Factory {
	return func(ctx context.Context, rule models.SecurityRule) (RuleEvaluator, error) {
		if strings.TrimSpace(rule.Condition.Module) == "" {
			return EvaluatorFunc(func(context.Context, Input) Outcome { return Pass() }), nil
		}
		query, err := modules.Prepare(ctx, rule.Condition.Module)
		if err != nil {
			return nil, err
		}

		return EvaluatorFunc(func(ctx context.Context, in Input) Outcome {
			rs, err := query.Eval(ctx, rego.EvalInput(regoInput(in)))
			if err != nil {
				return Fail("validation module error: " + err.Error())
			}
			if !rs.Allowed() {
				return Fail("rejected by validation module")
			}
			return Pass()
		}), nil
	}
}

func regoInput(in Input) map[string]interface{} {
	sc := in.Context
	return map[string]interface{}{
		"action":   in.Action,
		"resource": in.Resource,
		"context": map[string]interface{}{
			"tenant_id":   sc.TenantID,
			"user_id":     sc.UserID,
			"session_id":  sc.SessionID,
			"roles":       toValues(sc.Roles),
			"permissions": toValues(sc.Permissions),
			"source_ip":   sc.SourceIP,
			"user_agent":  sc.UserAgent,
		},
	}
}

func toValues(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
