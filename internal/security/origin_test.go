package security

import "testing"

func TestOriginValidatorNoHeader(t *testing.T) {
	v := NewOriginValidator([]string{"https://app.lektio.dev"})
	if !v.Check("") {
		t.Fatalf("absent Origin header should be allowed")
	}
}

func TestOriginValidatorEmptyAllowList(t *testing.T) {
	v := NewOriginValidator(nil)
	if !v.Check("https://anywhere.example") {
		t.Fatalf("empty allow-list should allow any origin")
	}
}

func TestOriginValidatorVerbatimMatch(t *testing.T) {
	v := NewOriginValidator([]string{"https://app.lektio.dev"})
	if !v.Check("https://app.lektio.dev") {
		t.Fatalf("verbatim entry should match")
	}
	if v.Check("https://other.lektio.dev") {
		t.Fatalf("non-listed origin should be denied")
	}
}

func TestOriginValidatorWildcardSuffix(t *testing.T) {
	v := NewOriginValidator([]string{"*.example.com"})
	if !v.Check("https://app.example.com") {
		t.Fatalf("subdomain should match wildcard entry")
	}
	if v.Check("https://evil.com") {
		t.Fatalf("unrelated origin should be denied")
	}
	if v.Check("https://evilexample.com") {
		t.Fatalf("suffix match must respect the dot boundary")
	}
}

func TestOriginValidatorLiteralStar(t *testing.T) {
	v := NewOriginValidator([]string{"*"})
	if !v.Check("https://anywhere.example") {
		t.Fatalf("literal * should allow any origin")
	}
}

func TestOriginValidatorBlankEntriesFailClosed(t *testing.T) {
	// A malformed allow-list of blank entries must not behave like "allow
	// everything": blanks are dropped, leaving the remaining entries in
	// force.
	v := NewOriginValidator([]string{"", "  ", "https://app.lektio.dev"})
	if v.Check("https://evil.com") {
		t.Fatalf("blank entries must not widen the allow-list")
	}
	if !v.Check("https://app.lektio.dev") {
		t.Fatalf("real entry should still match")
	}
}
