package security

import (
	"net/http"
	"testing"
	"time"
)

func TestCsrfIssueAndCheck(t *testing.T) {
	v := NewCsrfValidator()
	token, err := v.Issue("session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !v.Check(token, "session-1") {
		t.Fatalf("issued token should validate for its session")
	}
	if v.Check(token, "session-2") {
		t.Fatalf("token must not validate for another session")
	}
	if v.Check("forged", "session-1") {
		t.Fatalf("wrong token must not validate")
	}
}

func TestCsrfMissingTokenFails(t *testing.T) {
	v := NewCsrfValidator()
	if v.Check("", "session-1") {
		t.Fatalf("missing supplied token must fail")
	}
	if v.Check("token", "") {
		t.Fatalf("missing session must fail")
	}
}

func TestCsrfReissueReplacesToken(t *testing.T) {
	v := NewCsrfValidator()
	first, _ := v.Issue("session-1")
	second, _ := v.Issue("session-1")

	if v.Check(first, "session-1") {
		t.Fatalf("old token must be invalid after re-issue")
	}
	if !v.Check(second, "session-1") {
		t.Fatalf("new token should validate")
	}
}

func TestCsrfRevoke(t *testing.T) {
	v := NewCsrfValidator()
	token, _ := v.Issue("session-1")
	v.Revoke("session-1")
	if v.Check(token, "session-1") {
		t.Fatalf("revoked token must not validate")
	}
}

func TestCsrfSweepPurgesExpired(t *testing.T) {
	v := NewCsrfValidator()
	if _, err := v.Issue("session-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if purged := v.Sweep(time.Now()); purged != 0 {
		t.Fatalf("fresh token should survive a sweep, purged %d", purged)
	}
	if purged := v.Sweep(time.Now().Add(25 * time.Hour)); purged != 1 {
		t.Fatalf("expired token should be purged, got %d", purged)
	}
}

func TestStateChanging(t *testing.T) {
	changing := []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}
	for _, m := range changing {
		if !StateChanging(m) {
			t.Fatalf("%s should require CSRF validation", m)
		}
	}
	safe := []string{http.MethodGet, http.MethodHead, http.MethodOptions}
	for _, m := range safe {
		if StateChanging(m) {
			t.Fatalf("%s should not require CSRF validation", m)
		}
	}
}
