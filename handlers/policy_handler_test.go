package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/tenant-governance/models"
)

func strictIdentityPolicy() map[string]interface{} {
	return map[string]interface{}{
		"name":        "require identity",
		"enforcement": "strict",
		"enabled":     true,
		"rules": []map[string]interface{}{
			{
				"id":       "identity",
				"name":     "caller must be authenticated",
				"category": "authentication",
				"action":   "deny",
				"severity": "high",
				"enabled":  true,
			},
		},
	}
}

func TestPolicyHandler_CRUD(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/policies", strictIdentityPolicy(), admin())
	require.Equal(t, http.StatusCreated, w.Code)
	var created models.SecurityPolicy
	decodeData(t, w, &created)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, 1, created.Version)
	assert.Equal(t, models.EnforcementStrict, created.Enforcement)

	w = env.do(t, http.MethodGet, "/policies/"+created.ID, nil, admin())
	require.Equal(t, http.StatusOK, w.Code)
	var got models.SecurityPolicy
	decodeData(t, w, &got)
	assert.Equal(t, created.Name, got.Name)

	update := strictIdentityPolicy()
	update["enforcement"] = "permissive"
	w = env.do(t, http.MethodPut, "/policies/"+created.ID, update, admin())
	require.Equal(t, http.StatusOK, w.Code)
	var updated models.SecurityPolicy
	decodeData(t, w, &updated)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, models.EnforcementPermissive, updated.Enforcement)

	w = env.do(t, http.MethodGet, "/policies", nil, admin())
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data  []models.SecurityPolicy `json:"data"`
		Total int                     `json:"total"`
	}
	decodeData(t, w, &list)
	assert.Equal(t, 1, list.Total)

	w = env.do(t, http.MethodDelete, "/policies/"+created.ID, nil, admin())
	assert.Equal(t, http.StatusNoContent, w.Code)

	// Deleting again is still a success
	w = env.do(t, http.MethodDelete, "/policies/"+created.ID, nil, admin())
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, "/policies/"+created.ID, nil, admin())
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPolicyHandler_Invalid(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		mutate func(p map[string]interface{})
	}{
		{
			name:   "missing name",
			mutate: func(p map[string]interface{}) { delete(p, "name") },
		},
		{
			name:   "unknown enforcement",
			mutate: func(p map[string]interface{}) { p["enforcement"] = "lenient" },
		},
		{
			name: "unparseable rego",
			mutate: func(p map[string]interface{}) {
				p["rules"] = []map[string]interface{}{
					{
						"id":        "bad",
						"category":  "validation",
						"action":    "deny",
						"enabled":   true,
						"condition": map[string]interface{}{"module": "package governance\nallow {"},
					},
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := strictIdentityPolicy()
			tt.mutate(p)

			w := env.do(t, http.MethodPost, "/policies", p, admin())
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	w := env.do(t, http.MethodPut, "/policies/missing", strictIdentityPolicy(), admin())
	assert.Equal(t, http.StatusNotFound, w.Code)
}
