package totp

import (
	"encoding/base32"
	"strings"
	"testing"
	"time"
)

// RFC 6238 appendix B vectors (SHA-1, 8 digits truncated to our 6).
func TestRFCVectors(t *testing.T) {
	secret := base32.StdEncoding.WithPadding(base32.NoPadding).
		EncodeToString([]byte("12345678901234567890"))

	cases := []struct {
		unix int64
		want string // last 6 digits of the RFC's 8-digit codes
	}{
		{59, "287082"},
		{1111111109, "081804"},
		{1234567890, "005924"},
		{2000000000, "279037"},
	}
	for _, tc := range cases {
		got, err := Generate(secret, time.Unix(tc.unix, 0))
		if err != nil {
			t.Fatalf("Generate(%d): %v", tc.unix, err)
		}
		if got != tc.want {
			t.Fatalf("Generate(%d) = %s, want %s", tc.unix, got, tc.want)
		}
	}
}

func TestVerifyWindow(t *testing.T) {
	secret, err := NewSecret()
	if err != nil {
		t.Fatalf("NewSecret: %v", err)
	}
	now := time.Unix(1700000000, 0)

	code, err := Generate(secret, now)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if !Verify(secret, code, now) {
		t.Fatalf("current code rejected")
	}
	if !Verify(secret, code, now.Add(period*time.Second)) {
		t.Fatalf("code one step old rejected")
	}
	if Verify(secret, code, now.Add(3*period*time.Second)) {
		t.Fatalf("stale code accepted")
	}
	if Verify(secret, "000000", now) && code != "000000" {
		t.Fatalf("wrong code accepted")
	}
	if Verify(secret, "12345", now) {
		t.Fatalf("short code accepted")
	}
	if Verify(secret, "abcdef", now) {
		t.Fatalf("non-numeric code accepted")
	}
}

func TestProvisionURI(t *testing.T) {
	uri := ProvisionURI("ssohub", "user@example.com", "SECRET")
	if !strings.HasPrefix(uri, "otpauth://totp/ssohub:user%40example.com?") {
		t.Fatalf("unexpected uri: %s", uri)
	}
	if !strings.Contains(uri, "secret=SECRET") || !strings.Contains(uri, "issuer=ssohub") {
		t.Fatalf("uri missing parameters: %s", uri)
	}
}
