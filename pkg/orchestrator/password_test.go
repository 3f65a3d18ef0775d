package orchestrator

import (
	"strings"
	"testing"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name string
		pw   string
		ok   bool
	}{
		{"valid", "Str0ng&Secure!pw", true},
		{"too short", "Ab1!x", false},
		{"no digit", "Abcdefgh!jklm", false},
		{"no upper", "abcdefgh1!klm", false},
		{"no lower", "ABCDEFGH1!KLM", false},
		{"no special", "Abcdefgh1jklm", false},
		{"common word", "Administrator", false},
		{"exactly minimum", "Abcdefgh1!kl", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.pw)
			if tt.ok && err != nil {
				t.Errorf("ValidatePassword(%q) = %v, want nil", tt.pw, err)
			}
			if !tt.ok && err == nil {
				t.Errorf("ValidatePassword(%q) = nil, want error", tt.pw)
			}
		})
	}
}

func TestGeneratePassword(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		pw, err := GeneratePassword()
		if err != nil {
			t.Fatal(err)
		}
		if len(pw) != 16 {
			t.Fatalf("len(%q) = %d", pw, len(pw))
		}
		if err := ValidatePassword(pw); err != nil {
			t.Fatalf("generated password fails policy: %v", err)
		}
		if seen[pw] {
			t.Fatalf("duplicate password generated: %q", pw)
		}
		seen[pw] = true
	}
}

func TestGenerateSecret(t *testing.T) {
	a, err := generateSecret()
	if err != nil {
		t.Fatal(err)
	}
	b, err := generateSecret()
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 64 || a == b {
		t.Errorf("secrets must be 32 random bytes hex-encoded: %q, %q", a, b)
	}
	if strings.ToLower(a) != a {
		t.Errorf("hex encoding must be lowercase: %q", a)
	}
}
