package token

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testConfig() Config {
	return Config{
		AccessSecret:  bytes.Repeat([]byte("a"), 32),
		RefreshSecret: bytes.Repeat([]byte("r"), 32),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "trailverse",
	}
}

func newTestCodec(t *testing.T, cfg Config) *Codec {
	t.Helper()

	c, err := NewCodec(cfg)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}
	return c
}

func TestNewCodecRejectsEqualSecrets(t *testing.T) {
	cfg := testConfig()
	cfg.RefreshSecret = cfg.AccessSecret

	if _, err := NewCodec(cfg); err == nil {
		t.Fatal("expected error for equal secrets")
	}
}

func TestNewCodecRejectsShortSecrets(t *testing.T) {
	cfg := testConfig()
	cfg.AccessSecret = []byte("short")

	if _, err := NewCodec(cfg); err == nil {
		t.Fatal("expected error for short access secret")
	}

	cfg = testConfig()
	cfg.RefreshSecret = []byte("short")
	if _, err := NewCodec(cfg); err == nil {
		t.Fatal("expected error for short refresh secret")
	}
}

func TestNewCodecRejectsInvalidTTL(t *testing.T) {
	cfg := testConfig()
	cfg.AccessTTL = 0

	if _, err := NewCodec(cfg); err == nil {
		t.Fatal("expected error for zero access TTL")
	}
}

func TestAccessRoundTrip(t *testing.T) {
	c := newTestCodec(t, testConfig())

	tok, err := c.IssueAccess("u1", "a@x.com", "USER", "s1", 3)
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}

	claims, err := c.ParseAccess(tok)
	if err != nil {
		t.Fatalf("ParseAccess failed: %v", err)
	}
	if claims.UserID != "u1" || claims.Email != "a@x.com" || claims.Role != "USER" {
		t.Fatalf("claims mismatch: %+v", claims)
	}
	if claims.SessionID != "s1" || claims.TokenVersion != 3 {
		t.Fatalf("session/version mismatch: %+v", claims)
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		t.Fatal("expected iat and exp to be set")
	}
}

func TestRefreshRoundTrip(t *testing.T) {
	c := newTestCodec(t, testConfig())

	tok, err := c.IssueRefresh("u1", "a@x.com", "USER", "s1", 1)
	if err != nil {
		t.Fatalf("IssueRefresh failed: %v", err)
	}

	claims, err := c.ParseRefresh(tok)
	if err != nil {
		t.Fatalf("ParseRefresh failed: %v", err)
	}
	if claims.UserID != "u1" || claims.SessionID != "s1" {
		t.Fatalf("claims mismatch: %+v", claims)
	}
}

func TestAccessTokenRejectedAsRefresh(t *testing.T) {
	c := newTestCodec(t, testConfig())

	tok, err := c.IssueAccess("u1", "a@x.com", "USER", "s1", 1)
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}

	// Distinct secrets mean the signature fails before the audience check.
	if _, err := c.ParseRefresh(tok); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestWrongAudienceRejected(t *testing.T) {
	cfg := testConfig()
	c := newTestCodec(t, cfg)

	// A token signed with the correct secret but the wrong audience must be
	// rejected with the audience error, not a generic failure.
	claims := Claims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings{AudienceRefresh},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.AccessSecret)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	if _, err := c.ParseAccess(tok); !errors.Is(err, ErrAudience) {
		t.Fatalf("expected ErrAudience, got %v", err)
	}
}

func TestExpiredToken(t *testing.T) {
	cfg := testConfig()
	cfg.AccessTTL = time.Nanosecond
	c := newTestCodec(t, cfg)

	tok, err := c.IssueAccess("u1", "a@x.com", "USER", "s1", 1)
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	if _, err := c.ParseAccess(tok); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestMalformedToken(t *testing.T) {
	c := newTestCodec(t, testConfig())

	for _, tok := range []string{"", "garbage", "a.b.c"} {
		if _, err := c.ParseAccess(tok); !errors.Is(err, ErrMalformed) {
			t.Fatalf("expected ErrMalformed for %q, got %v", tok, err)
		}
	}
}

func TestTamperedSignatureRejected(t *testing.T) {
	c := newTestCodec(t, testConfig())

	tok, err := c.IssueAccess("u1", "a@x.com", "USER", "s1", 1)
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}

	tampered := tok[:len(tok)-2] + "xx"
	if _, err := c.ParseAccess(tampered); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}
