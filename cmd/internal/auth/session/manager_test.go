package session

import (
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SecretKeyHex = GenerateSecretKeyHex()
	cfg.AccessTokenTTL = time.Hour
	return cfg
}

func TestManager_IssueVerify(t *testing.T) {
	m, err := NewManager(testConfig())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Second)

	tok, exp, err := m.Issue("01J0000000000000000000000A", now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !exp.Equal(now.Add(time.Hour)) {
		t.Fatalf("exp mismatch: %v", exp)
	}

	claims, err := m.Verify(tok, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "01J0000000000000000000000A" {
		t.Fatalf("uid mismatch: %q", claims.UserID)
	}
}

func TestManager_RejectsOtherKeyAndIssuer(t *testing.T) {
	a, err := NewManager(testConfig())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	b, err := NewManager(testConfig())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	now := time.Now().UTC()

	tok, _, err := a.Issue("u1", now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := b.Verify(tok, now); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for foreign key, got %v", err)
	}

	cfg := testConfig()
	cfg.Issuer = "someone-else"
	other, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	forged, _, err := other.Issue("u1", now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// Same key, different issuer.
	sameKey := cfg
	sameKey.Issuer = "bytehack"
	verifier, err := NewManager(sameKey)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := verifier.Verify(forged, now); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for issuer mismatch, got %v", err)
	}
}

func TestManager_Expired(t *testing.T) {
	m, err := NewManager(testConfig())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	now := time.Now().UTC()
	tok, _, err := m.Issue("u1", now.Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(tok, now); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
	if _, err := m.Verify("v4.public.garbage", now); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != ErrConfig {
		t.Fatalf("missing key must fail, got %v", err)
	}

	cfg := testConfig()
	cfg.AccessTokenTTL = -time.Minute
	if err := cfg.Validate(); err != ErrConfig {
		t.Fatalf("negative ttl must fail, got %v", err)
	}

	cfg = testConfig()
	cfg.SecretKeyHex = "zz"
	if _, err := NewManager(cfg); err != ErrConfig {
		t.Fatalf("bad key hex must fail, got %v", err)
	}

	cfg = testConfig()
	cfg.SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	if _, err := NewManager(cfg); err != nil {
		t.Fatalf("valid config: %v", err)
	}
}
