package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/upb/tenant-governance/models"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
	mustRegister("plan", func(fl validator.FieldLevel) bool {
		_, err := models.ParsePlan(fl.Field().String())
		return err == nil
	})
}

func mustRegister(tag string, fn validator.Func) {
	if err := validate.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validator: %v", tag, err))
	}
}

// ValidateStruct validates a struct using go-playground/validator
func ValidateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return NewValidationError(validationErrors)
		}
		return err
	}
	return nil
}

// ValidationError wraps validation errors with structured details
type ValidationError struct {
	Message string
	Fields  map[string]string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a ValidationError from validator.ValidationErrors.
// Fields are keyed by their namespace below the top-level struct, e.g. "Rules[0].Category".
func NewValidationError(errs validator.ValidationErrors) *ValidationError {
	fields := make(map[string]string)
	for _, err := range errs {
		field := fieldPath(err.Namespace())
		name := err.Field()

		switch err.Tag() {
		case "required":
			fields[field] = fmt.Sprintf("%s is required", name)
		case "uuid":
			fields[field] = fmt.Sprintf("%s must be a valid UUID", name)
		case "fqdn":
			fields[field] = fmt.Sprintf("%s must be a fully qualified domain name", name)
		case "plan":
			fields[field] = fmt.Sprintf("%s must be one of: %s", name, joinPlans())
		case "min":
			fields[field] = fmt.Sprintf("%s must be at least %s", name, err.Param())
		case "max":
			fields[field] = fmt.Sprintf("%s must be at most %s", name, err.Param())
		case "gt":
			fields[field] = fmt.Sprintf("%s must be greater than %s", name, err.Param())
		case "gte":
			fields[field] = fmt.Sprintf("%s must be greater than or equal to %s", name, err.Param())
		case "oneof":
			fields[field] = fmt.Sprintf("%s must be one of: %s", name, err.Param())
		default:
			fields[field] = fmt.Sprintf("%s validation failed on '%s' tag", name, err.Tag())
		}
	}

	return &ValidationError{
		Message: "Validation failed",
		Fields:  fields,
	}
}

// IsValidationError checks if an error is a ValidationError
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// GetValidationFields extracts field errors from a ValidationError
func GetValidationFields(err error) map[string]string {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Fields
	}
	return nil
}

// ValidateUUID validates that a string is a valid UUID
func ValidateUUID(s string) error {
	if _, err := uuid.Parse(s); err != nil {
		return fmt.Errorf("invalid UUID format: %s", s)
	}
	return nil
}

// ValidateOneOf validates that a value is one of the allowed values
func ValidateOneOf(value string, fieldName string, allowed []string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of: %v", fieldName, allowed)
}

func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func joinPlans() string {
	names := make([]string, len(models.Plans))
	for i, p := range models.Plans {
		names[i] = string(p)
	}
	return strings.Join(names, " ")
}
