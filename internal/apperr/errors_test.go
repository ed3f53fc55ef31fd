package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  *Error
		want int
	}{
		{MissingField("type", "required"), http.StatusBadRequest},
		{InvalidFormat("date", "bad"), http.StatusBadRequest},
		{UnknownType("9.9.9"), http.StatusUnprocessableEntity},
		{UnknownIdentifier("asset", "X"), http.StatusUnprocessableEntity},
		{ComposeFailure("empty key"), http.StatusInternalServerError},
		{DelegateFailure(errors.New("boom")), http.StatusBadGateway},
		{NameTaken("inbox/a.pdf", ErrAlreadyExists), http.StatusConflict},
	}
	for _, c := range cases {
		if got := c.err.HTTPStatus(); got != c.want {
			t.Errorf("%s: status = %d, want %d", c.err.Code, got, c.want)
		}
	}
}

func TestAsThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("service: %w", UnknownType("9.9.9"))
	e, ok := As(wrapped)
	if !ok {
		t.Fatal("expected *Error")
	}
	if e.Code != CodeUnknownType || e.Field != "type" {
		t.Errorf("got %+v", e)
	}
	if !HasCode(wrapped, CodeUnknownType) {
		t.Error("HasCode should match")
	}
	if HasCode(errors.New("plain"), CodeUnknownType) {
		t.Error("HasCode should not match plain errors")
	}
}

func TestDelegateFailureUnwraps(t *testing.T) {
	cause := errors.New("bucket not found")
	err := DelegateFailure(cause)
	if !errors.Is(err, cause) {
		t.Error("delegate failure should unwrap to its cause")
	}
	if err.Message != "bucket not found" {
		t.Errorf("message = %q", err.Message)
	}
	if !err.Internal() {
		t.Error("delegate failure is internal")
	}
}

func TestWithCopiesDetails(t *testing.T) {
	base := MissingField("type_confirmation", "confirm the extracted type")
	a := base.With("extracted_type", "1.2")
	if base.Details != nil {
		t.Error("With must not mutate the receiver")
	}
	if a.Details["extracted_type"] != "1.2" {
		t.Errorf("details = %v", a.Details)
	}
}
