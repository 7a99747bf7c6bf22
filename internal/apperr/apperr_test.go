package apperr

import (
	"errors"
	"net/http"
	"testing"
)

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err  *Error
		want int
	}{
		{Validation("bad %s", "input"), http.StatusBadRequest},
		{AgentExists("/a/b"), http.StatusConflict},
		{NotFound("missing"), http.StatusNotFound},
		{MethodNotAllowed("PATCH", "/x"), http.StatusMethodNotAllowed},
		{Internal(errors.New("boom")), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := c.err.Status(); got != c.want {
			t.Errorf("%s: Status() = %d, want %d", c.err.Code, got, c.want)
		}
	}
}

func TestInternalHidesWrappedCause(t *testing.T) {
	cause := errors.New("secret detail")
	e := Internal(cause)
	if !errors.Is(e, e) {
		t.Fatalf("expected self-equality")
	}
	if !errors.Is(errors.Unwrap(e), cause) {
		t.Errorf("expected Unwrap to surface cause for logging")
	}
	b, err := e.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if got := string(b); contains(got, "secret detail") {
		t.Errorf("MarshalJSON leaked wrapped cause: %s", got)
	}
}

func TestAs(t *testing.T) {
	var err error = NotFound("no such agent")
	ae, ok := As(err)
	if !ok || ae.Code != CodeNotFound {
		t.Fatalf("As() = %v, %v", ae, ok)
	}
	if _, ok := As(errors.New("plain")); ok {
		t.Errorf("As() should reject non-apperr errors")
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
