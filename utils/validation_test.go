package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/tenant-governance/models"
)

type provisionForm struct {
	Name   string      `validate:"required,max=20"`
	Domain string      `validate:"required,fqdn"`
	Plan   models.Plan `validate:"required,plan"`
	Rules  []ruleForm  `validate:"dive"`
}

type ruleForm struct {
	Category string `validate:"required,oneof=authentication authorization"`
}

func TestValidateStruct(t *testing.T) {
	valid := provisionForm{Name: "Acme", Domain: "acme.example.com", Plan: models.PlanBasic}

	t.Run("valid struct", func(t *testing.T) {
		assert.NoError(t, ValidateStruct(&valid))
	})

	t.Run("missing required field", func(t *testing.T) {
		s := valid
		s.Name = ""

		err := ValidateStruct(&s)
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
		assert.Equal(t, "Name is required", GetValidationFields(err)["Name"])
	})

	t.Run("invalid domain", func(t *testing.T) {
		s := valid
		s.Domain = "not a domain"

		fields := GetValidationFields(ValidateStruct(&s))
		assert.Contains(t, fields["Domain"], "fully qualified domain name")
	})

	t.Run("unknown plan", func(t *testing.T) {
		s := valid
		s.Plan = "platinum"

		fields := GetValidationFields(ValidateStruct(&s))
		assert.Equal(t, "Plan must be one of: basic professional enterprise", fields["Plan"])
	})

	t.Run("nested fields keep their path", func(t *testing.T) {
		s := valid
		s.Rules = []ruleForm{{Category: "authentication"}, {Category: "telepathy"}}

		fields := GetValidationFields(ValidateStruct(&s))
		assert.Contains(t, fields, "Rules[1].Category")
		assert.NotContains(t, fields, "Rules[0].Category")
	})
}

func TestValidateUUID(t *testing.T) {
	tests := []struct {
		name      string
		uuid      string
		wantError bool
	}{
		{"valid UUID", "550e8400-e29b-41d4-a716-446655440000", false},
		{"wrong format", "not-a-uuid", true},
		{"empty string", "", true},
		{"missing parts", "550e8400-e29b-41d4", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUUID(tt.uuid)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateOneOf(t *testing.T) {
	allowed := []string{"suspend", "activate"}

	assert.NoError(t, ValidateOneOf("suspend", "action", allowed))
	err := ValidateOneOf("delete", "action", allowed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "action must be one of")
}

func TestGetValidationFields(t *testing.T) {
	assert.Nil(t, GetValidationFields(nil))
	assert.Nil(t, GetValidationFields(assert.AnError))
	assert.False(t, IsValidationError(assert.AnError))

	err := &ValidationError{Message: "Validation failed", Fields: map[string]string{"a": "b"}}
	assert.Equal(t, "Validation failed", err.Error())
	assert.Equal(t, map[string]string{"a": "b"}, GetValidationFields(err))
}
