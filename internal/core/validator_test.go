package core

import (
	"errors"
	"testing"

	"stride/internal/types"
)

type testCheckoutInput struct {
	Plan       string `json:"plan" validate:"required,oneof=monthly yearly"`
	UserID     string `json:"user_id" validate:"required,max=128"`
	SuccessURL string `json:"success_url" validate:"required,url"`
}

type testOffsetInput struct {
	Offset *int `json:"timezone_offset" validate:"required,min=-840,max=840"`
}

func intPtr(v int) *int { return &v }

func validationErrors(t *testing.T, err error) []ValidationError {
	t.Helper()
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T", err)
	}
	errs, ok := appErr.Details["validation_errors"].([]ValidationError)
	if !ok {
		t.Fatalf("validation_errors detail missing or wrong type: %T", appErr.Details["validation_errors"])
	}
	return errs
}

func TestValidateStruct_Success(t *testing.T) {
	v := NewValidator(discardLogger())

	err := v.ValidateStruct(testCheckoutInput{
		Plan:       "monthly",
		UserID:     "user-1",
		SuccessURL: "https://app.example.com/done",
	})
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestValidateStruct_MissingField(t *testing.T) {
	v := NewValidator(discardLogger())

	err := v.ValidateStruct(testCheckoutInput{
		Plan:       "monthly",
		SuccessURL: "https://app.example.com/done",
	})
	if !types.IsCode(err, types.ErrCodeValidationMissingField) {
		t.Fatalf("expected %s, got %v", types.ErrCodeValidationMissingField, err)
	}

	errs := validationErrors(t, err)
	if len(errs) != 1 {
		t.Fatalf("expected 1 validation error, got %d", len(errs))
	}
	if errs[0].Field != "user_id" {
		t.Errorf("field should use the json name, got %q", errs[0].Field)
	}
	if errs[0].Message != "user_id is required" {
		t.Errorf("message: got %q", errs[0].Message)
	}
}

func TestValidateStruct_InvalidField(t *testing.T) {
	v := NewValidator(discardLogger())

	err := v.ValidateStruct(testCheckoutInput{
		Plan:       "lifetime",
		UserID:     "user-1",
		SuccessURL: "https://app.example.com/done",
	})
	if !types.IsCode(err, types.ErrCodeValidationInvalidField) {
		t.Fatalf("expected %s, got %v", types.ErrCodeValidationInvalidField, err)
	}

	errs := validationErrors(t, err)
	if errs[0].Code != "oneof" {
		t.Errorf("code: got %q, want oneof", errs[0].Code)
	}
	if errs[0].Message != "plan must be one of [monthly yearly]" {
		t.Errorf("message: got %q", errs[0].Message)
	}
}

func TestValidateStruct_CollectsEveryFailure(t *testing.T) {
	v := NewValidator(discardLogger())

	err := v.ValidateStruct(testCheckoutInput{SuccessURL: "not a url"})

	errs := validationErrors(t, err)
	if len(errs) != 3 {
		t.Fatalf("expected 3 validation errors, got %d: %+v", len(errs), errs)
	}
	fields := map[string]bool{}
	for _, e := range errs {
		fields[e.Field] = true
	}
	for _, f := range []string{"plan", "user_id", "success_url"} {
		if !fields[f] {
			t.Errorf("expected failure for %s", f)
		}
	}
}

func TestValidateStruct_RequiredPointerAcceptsZero(t *testing.T) {
	v := NewValidator(discardLogger())

	if err := v.ValidateStruct(testOffsetInput{Offset: intPtr(0)}); err != nil {
		t.Errorf("zero offset should be valid, got %v", err)
	}
	if err := v.ValidateStruct(testOffsetInput{}); !types.IsCode(err, types.ErrCodeValidationMissingField) {
		t.Errorf("nil offset should be missing, got %v", err)
	}
}

func TestValidateStruct_Bounds(t *testing.T) {
	v := NewValidator(discardLogger())

	err := v.ValidateStruct(testOffsetInput{Offset: intPtr(841)})
	errs := validationErrors(t, err)
	if errs[0].Message != "timezone_offset must be at most 840" {
		t.Errorf("message: got %q", errs[0].Message)
	}

	err = v.ValidateStruct(testOffsetInput{Offset: intPtr(-841)})
	errs = validationErrors(t, err)
	if errs[0].Message != "timezone_offset must be at least -840" {
		t.Errorf("message: got %q", errs[0].Message)
	}
}

func TestValidateStruct_NonStructIsInternalError(t *testing.T) {
	v := NewValidator(discardLogger())

	err := v.ValidateStruct("not a struct")
	if !types.IsCode(err, types.ErrCodeInternalUnexpected) {
		t.Errorf("expected %s, got %v", types.ErrCodeInternalUnexpected, err)
	}
}

func TestTagToErrorCode(t *testing.T) {
	tests := map[string]types.ErrorCode{
		"required":      types.ErrCodeValidationMissingField,
		"required_if":   types.ErrCodeValidationMissingField,
		"required_with": types.ErrCodeValidationMissingField,
		"url":           types.ErrCodeValidationInvalidField,
		"oneof":         types.ErrCodeValidationInvalidField,
		"max":           types.ErrCodeValidationInvalidField,
	}
	for tag, want := range tests {
		if got := tagToErrorCode(tag); got != want {
			t.Errorf("tagToErrorCode(%q) = %s, want %s", tag, got, want)
		}
	}
}
