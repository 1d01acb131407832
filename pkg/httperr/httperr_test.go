package httperr

import (
	"fmt"
	"testing"
)

func TestIsBadRequest(t *testing.T) {
	if IsBadRequest(nil) {
		t.Fatalf("expected false for nil")
	}
	if IsBadRequest(NewBadRequest("bad")) != true {
		t.Fatalf("expected true for BadRequestError")
	}
	if IsBadRequest(assertErr("other")) {
		t.Fatalf("expected false for non-BadRequestError")
	}
}

func TestIsNotFoundAndConflict(t *testing.T) {
	wrapped := fmt.Errorf("lookup: %w", NewNotFound("CF_FIELD_NOT_FOUND"))
	if !IsNotFound(wrapped) {
		t.Fatalf("expected wrapped not found")
	}
	if IsConflict(wrapped) || IsBadRequest(wrapped) {
		t.Fatalf("unexpected classification")
	}
	if !IsConflict(NewConflict("CF_OPTION_VALUE_CONFLICT")) {
		t.Fatalf("expected conflict")
	}
	if NewConflict("x").Error() != "x" || NewNotFound("y").Error() != "y" {
		t.Fatalf("unexpected messages")
	}
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestBadRequestDetail(t *testing.T) {
	err := fmt.Errorf("update: %w", NewBadRequestDetail("CF_VALIDATION_EXPR_INVALID", "syntax error"))
	if !IsBadRequest(err) {
		t.Fatalf("expected bad request")
	}
	if got := NewBadRequestDetail("CF_VALIDATION_EXPR_INVALID", "syntax error").Error(); got != "CF_VALIDATION_EXPR_INVALID" {
		t.Fatalf("code must stay bare, got %q", got)
	}
	if got := Detail(err); got != "syntax error" {
		t.Fatalf("unexpected detail %q", got)
	}
	if Detail(NewBadRequest("x")) != "" || Detail(NewNotFound("y")) != "" {
		t.Fatalf("unexpected detail")
	}
}
