package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/tenant-governance/models"
	"github.com/upb/tenant-governance/services/resource"
	"github.com/upb/tenant-governance/services/tenant"
)

func TestTenantHandler_Provision(t *testing.T) {
	env := newTestEnv(t)

	t.Run("creates an active tenant", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/tenants", map[string]interface{}{
			"name":   "Acme",
			"domain": "acme.example.com",
			"plan":   "basic",
		}, admin())

		require.Equal(t, http.StatusCreated, w.Code)
		var tn models.Tenant
		decodeData(t, w, &tn)
		assert.NotEmpty(t, tn.ID)
		assert.Equal(t, models.TenantStatusActive, tn.Status)
		assert.Equal(t, models.PlanBasic, tn.Plan)
		assert.NotEmpty(t, tn.Quotas)
	})

	t.Run("duplicate domain conflicts", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/tenants", map[string]interface{}{
			"name":   "Acme Two",
			"domain": "acme.example.com",
			"plan":   "basic",
		}, admin())

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("invalid plan", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/tenants", map[string]interface{}{
			"name":   "Bad",
			"domain": "bad.example.com",
			"plan":   "platinum",
		}, admin())

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/tenants", "not an object", admin())
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestTenantHandler_GetAndList(t *testing.T) {
	env := newTestEnv(t)
	acme := env.provision(t, "Acme", "acme.example.com")
	env.provision(t, "Globex", "globex.example.com")

	w := env.do(t, http.MethodGet, "/tenants/"+acme.ID, nil, admin())
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Tenant
	decodeData(t, w, &got)
	assert.Equal(t, acme.ID, got.ID)
	assert.Equal(t, "acme.example.com", got.Domain)

	w = env.do(t, http.MethodGet, "/tenants/missing", nil, admin())
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/tenants", nil, admin())
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data  []models.Tenant `json:"data"`
		Total int             `json:"total"`
	}
	decodeData(t, w, &list)
	assert.Equal(t, 2, list.Total)
	assert.Len(t, list.Data, 2)
}

func TestTenantHandler_Actions(t *testing.T) {
	env := newTestEnv(t)
	acme := env.provision(t, "Acme", "acme.example.com")
	path := "/tenants/" + acme.ID + "/actions"

	t.Run("suspend then activate", func(t *testing.T) {
		w := env.do(t, http.MethodPost, path, map[string]string{"action": "suspend"}, admin())
		require.Equal(t, http.StatusOK, w.Code)
		var tn models.Tenant
		decodeData(t, w, &tn)
		assert.Equal(t, models.TenantStatusSuspended, tn.Status)

		w = env.do(t, http.MethodPost, path, map[string]string{"action": "activate"}, admin())
		require.Equal(t, http.StatusOK, w.Code)
		decodeData(t, w, &tn)
		assert.Equal(t, models.TenantStatusActive, tn.Status)
	})

	t.Run("update plan", func(t *testing.T) {
		w := env.do(t, http.MethodPost, path, map[string]string{
			"action": "update",
			"plan":   "professional",
		}, admin())
		require.Equal(t, http.StatusOK, w.Code)
		var tn models.Tenant
		decodeData(t, w, &tn)
		assert.Equal(t, models.PlanProfessional, tn.Plan)
	})

	t.Run("unknown action", func(t *testing.T) {
		w := env.do(t, http.MethodPost, path, map[string]string{"action": "explode"}, admin())
		assert.Equal(t, http.StatusBadRequest, w.Code)
		resp := decodeErr(t, w)
		assert.Contains(t, resp.Details, "fields")
	})

	t.Run("deprovision", func(t *testing.T) {
		w := env.do(t, http.MethodPost, path, map[string]string{"action": "deprovision"}, admin())
		require.Equal(t, http.StatusOK, w.Code)

		w = env.do(t, http.MethodGet, "/tenants/"+acme.ID, nil, admin())
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestTenantHandler_Usage(t *testing.T) {
	env := newTestEnv(t)
	acme := env.provision(t, "Acme", "acme.example.com")
	base := "/tenants/" + acme.ID

	w := env.do(t, http.MethodPut, base+"/usage", map[string]interface{}{
		"kind": "storage",
		"used": 4,
	}, admin())
	require.Equal(t, http.StatusOK, w.Code)
	var q models.ResourceQuota
	decodeData(t, w, &q)
	assert.Equal(t, int64(4), q.Used)

	t.Run("over allocation", func(t *testing.T) {
		w := env.do(t, http.MethodPut, base+"/usage", map[string]interface{}{
			"kind": "storage",
			"used": 1000,
		}, admin())
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, "insufficient_resource", decodeErr(t, w).Error)
	})

	t.Run("missing used", func(t *testing.T) {
		w := env.do(t, http.MethodPut, base+"/usage", map[string]interface{}{"kind": "storage"}, admin())
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("history", func(t *testing.T) {
		w := env.do(t, http.MethodGet, base+"/usage", nil, admin())
		require.Equal(t, http.StatusOK, w.Code)
		var list struct {
			Data  []tenant.UsageSample `json:"data"`
			Total int                  `json:"total"`
		}
		decodeData(t, w, &list)
		require.Equal(t, 1, list.Total)
		assert.Equal(t, models.ResourceStorage, list.Data[0].Kind)
	})

	t.Run("quotas", func(t *testing.T) {
		w := env.do(t, http.MethodGet, base+"/quotas", nil, admin())
		require.Equal(t, http.StatusOK, w.Code)
		var list struct {
			Data []models.ResourceQuota `json:"data"`
		}
		decodeData(t, w, &list)
		assert.NotEmpty(t, list.Data)
	})
}

func TestTenantHandler_Pools(t *testing.T) {
	env := newTestEnv(t)
	env.provision(t, "Acme", "acme.example.com")

	w := env.do(t, http.MethodGet, "/pools", nil, admin())
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Data []resource.Snapshot `json:"data"`
	}
	decodeData(t, w, &list)
	require.Len(t, list.Data, len(models.Plans))

	for _, s := range list.Data {
		if s.Plan == models.PlanBasic {
			assert.Equal(t, 1, s.Tenants)
			assert.Equal(t, int64(1), s.Allocated[models.ResourceCPU])
		}
	}
}
