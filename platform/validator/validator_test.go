package validator

import "testing"

type stageRequest struct {
	Stage  string `json:"stage" validate:"required,notblank"`
	Reason string `json:"reason,omitempty" validate:"max=10"`
}

func TestNotBlankRejectsWhitespace(t *testing.T) {
	val := New()

	err := val.Struct(stageRequest{Stage: "   "})
	if err == nil {
		t.Fatalf("expected whitespace stage to fail validation")
	}
	fields := FieldErrors(err)
	if fields["stage"] != "notblank" {
		t.Fatalf("expected stage=notblank, got %v", fields)
	}
}

func TestFieldErrorsUsesJSONNames(t *testing.T) {
	val := New()

	err := val.Struct(stageRequest{Stage: "Qualified", Reason: "far too long reason"})
	fields := FieldErrors(err)
	if fields["reason"] != "max" {
		t.Fatalf("expected reason=max, got %v", fields)
	}
}

func TestFieldErrorsIgnoresOtherErrors(t *testing.T) {
	if got := FieldErrors(nil); got != nil {
		t.Fatalf("expected nil for nil error, got %v", got)
	}
}
