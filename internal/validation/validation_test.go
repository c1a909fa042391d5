package validation

import (
	"strings"
	"testing"
)

func TestRequired(t *testing.T) {
	if err := Required("title", "Midnight Tape")(); err != nil {
		t.Errorf("non-empty value should pass, got %v", err)
	}
	if err := Required("title", "   ")(); err == nil {
		t.Error("whitespace-only value should fail")
	}
}

func TestValidAmount(t *testing.T) {
	cases := []struct {
		value string
		ok    bool
	}{
		{"9.990000", true},
		{"0.003", true},
		{"100", true},
		{"", true}, // Optional; pair with Required when mandatory
		{"0", false},
		{"0.000000", false},
		{"-5.00", false},
		{"1.2.3", false},
		{"abc", false},
	}
	for _, tc := range cases {
		err := ValidAmount("amount", tc.value)()
		if tc.ok && err != nil {
			t.Errorf("ValidAmount(%q) = %v, want nil", tc.value, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("ValidAmount(%q) = nil, want error", tc.value)
		}
	}
}

func TestValidCurrency(t *testing.T) {
	for _, ok := range []string{"USD", "EUR", ""} {
		if err := ValidCurrency("currency", ok)(); err != nil {
			t.Errorf("ValidCurrency(%q) = %v, want nil", ok, err)
		}
	}
	for _, bad := range []string{"usd", "US", "DOLLARS", "U$D"} {
		if err := ValidCurrency("currency", bad)(); err == nil {
			t.Errorf("ValidCurrency(%q) = nil, want error", bad)
		}
	}
}

func TestMaxLength(t *testing.T) {
	if err := MaxLength("notes", "short", 10)(); err != nil {
		t.Errorf("short value should pass, got %v", err)
	}
	if err := MaxLength("notes", strings.Repeat("x", 11), 10)(); err == nil {
		t.Error("long value should fail")
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	errs := Validate(
		Required("title", ""),
		ValidAmount("price", "nope"),
		ValidCurrency("currency", "USD"),
	)
	if len(errs) != 2 {
		t.Fatalf("len(errs) = %d, want 2", len(errs))
	}
	if errs[0].Field != "title" || errs[1].Field != "price" {
		t.Errorf("unexpected fields: %+v", errs)
	}
	if !strings.Contains(errs.Error(), "title") {
		t.Errorf("Error() = %q, should name the first field", errs.Error())
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  hello\x00world  ", 100); got != "helloworld" {
		t.Errorf("SanitizeString = %q", got)
	}
	if got := SanitizeString("abcdef", 3); got != "abc" {
		t.Errorf("SanitizeString truncation = %q", got)
	}
}
