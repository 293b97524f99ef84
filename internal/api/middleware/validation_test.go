package middleware

import "testing"

func TestValidator_ValidateName_RejectsEmpty(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	if err := v.ValidateName(""); err == nil {
		t.Error("expected empty name to be rejected")
	}
}

func TestValidator_ValidateName_RejectsTooLong(t *testing.T) {
	config := DefaultValidatorConfig()
	config.MaxNameLength = 5
	v := NewValidator(config)

	if err := v.ValidateName("toolongname"); err == nil {
		t.Error("expected too long name to be rejected")
	}
}

func TestValidator_ValidateName_AcceptsNormal(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	if err := v.ValidateName("nightly-report"); err != nil {
		t.Errorf("expected valid name to pass, got %v", err)
	}
}

func TestValidator_ValidateStepCount_RejectsZero(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	if err := v.ValidateStepCount(0); err == nil {
		t.Error("expected zero steps to be rejected")
	}
}

func TestValidator_ValidateStepCount_RejectsTooMany(t *testing.T) {
	config := DefaultValidatorConfig()
	config.MaxSteps = 2
	v := NewValidator(config)

	if err := v.ValidateStepCount(3); err == nil {
		t.Error("expected too many steps to be rejected")
	}
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Field: "name", Message: "is required"}

	expected := "name: is required"
	if err.Error() != expected {
		t.Errorf("expected '%s', got '%s'", expected, err.Error())
	}
}
