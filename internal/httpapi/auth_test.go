package httpapi

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestVerifyAPIKeyRoundtrip(t *testing.T) {
	encoded, err := HashAPIKey("correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("HashAPIKey failed: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Fatalf("unexpected hash format: %q", encoded)
	}

	if !VerifyAPIKey("correct-horse-battery-staple", encoded) {
		t.Error("the original key should verify")
	}
	if VerifyAPIKey("wrong-key", encoded) {
		t.Error("a wrong key should not verify")
	}
	if VerifyAPIKey("", encoded) {
		t.Error("an empty key should not verify")
	}
}

func TestHashAPIKeyUsesFreshSalt(t *testing.T) {
	first, err := HashAPIKey("same-key")
	if err != nil {
		t.Fatalf("HashAPIKey failed: %v", err)
	}
	second, err := HashAPIKey("same-key")
	if err != nil {
		t.Fatalf("HashAPIKey failed: %v", err)
	}

	if first == second {
		t.Error("two hashes of the same key should differ by salt")
	}
	if !VerifyAPIKey("same-key", first) || !VerifyAPIKey("same-key", second) {
		t.Error("both hashes should verify the key")
	}
}

func TestVerifyAPIKeyRejectsMalformedHashes(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
	}{
		{"empty", ""},
		{"too few parts", "$argon2id$v=19$m=65536,t=3,p=4$c2FsdA"},
		{"wrong algorithm", "$argon2i$v=19$m=65536,t=3,p=4$c2FsdA$aGFzaA"},
		{"wrong version", "$argon2id$v=18$m=65536,t=3,p=4$c2FsdA$aGFzaA"},
		{"malformed parameters", "$argon2id$v=19$x=1$c2FsdA$aGFzaA"},
		{"bad salt encoding", "$argon2id$v=19$m=65536,t=3,p=4$!!!$aGFzaA"},
		{"bad hash encoding", "$argon2id$v=19$m=65536,t=3,p=4$c2FsdA$!!!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if VerifyAPIKey("any-key", tt.encoded) {
				t.Error("malformed hash should never verify")
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
		wantOK bool
	}{
		{"valid bearer", "Bearer sk-abc123", "sk-abc123", true},
		{"extra whitespace", "Bearer   sk-abc123  ", "sk-abc123", true},
		{"missing header", "", "", false},
		{"wrong scheme", "Basic sk-abc123", "", false},
		{"empty token", "Bearer ", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/tasks", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			got, ok := bearerToken(r)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("token = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/tasks", nil)
	r.RemoteAddr = "10.0.0.1:5000"

	if got := getClientIP(r); got != "10.0.0.1:5000" {
		t.Errorf("got %q, want the remote address", got)
	}

	r.Header.Set("X-Real-IP", "203.0.113.7")
	if got := getClientIP(r); got != "203.0.113.7" {
		t.Errorf("got %q, want the X-Real-IP value", got)
	}

	// X-Forwarded-For wins over everything else.
	r.Header.Set("X-Forwarded-For", "198.51.100.9")
	if got := getClientIP(r); got != "198.51.100.9" {
		t.Errorf("got %q, want the X-Forwarded-For value", got)
	}
}
