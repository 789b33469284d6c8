package instance

import (
	"regexp"
	"testing"
)

func TestNewKeyShape(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		key := NewKey()
		if !ValidKey(key) {
			t.Fatalf("invalid key %q", key)
		}
		seen[key] = true
	}
	if len(seen) < 99 {
		t.Errorf("keys collide suspiciously often: %d unique of 100", len(seen))
	}
}

func TestNewNameShape(t *testing.T) {
	pattern := regexp.MustCompile(`^[a-z]+-[a-z]+-\d{3}$`)
	for range 50 {
		name := NewName()
		if !pattern.MatchString(name) {
			t.Fatalf("name %q does not match adj-noun-NNN", name)
		}
		if err := ValidateName(name); err != nil {
			t.Fatalf("generated name invalid: %v", err)
		}
	}
}

func TestValidateName(t *testing.T) {
	long := make([]byte, MaxNameLen+1)
	for i := range long {
		long[i] = 'a'
	}

	tests := []struct {
		name  string
		value string
		ok    bool
	}{
		{"valid", "my-instance", true},
		{"max length", string(long[:MaxNameLen]), true},
		{"empty", "", false},
		{"too long", string(long), false},
		{"leading space", " x", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.value)
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestBasePath(t *testing.T) {
	if got := BasePath("app", "AB12CD34"); got != "/app/AB12CD34" {
		t.Errorf("BasePath = %q", got)
	}
	if got := BasePath("/app/", "K"); got != "/app/K" {
		t.Errorf("BasePath with slashes = %q", got)
	}
}
