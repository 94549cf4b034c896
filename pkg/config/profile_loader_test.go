package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testnetProfile = `name: TON Testnet
code: testnet
facilitator:
  timeout_ms: 5000
  retry_attempts: 2
  backoff_ms: 200
  fail_open: true
polling:
  interval_seconds: 5
  recent_tx_limit: 100
rate_limit:
  per_minute: 0
notification:
  webhook_url: https://hooks.example/approvals
  recipient: ops-channel
  conversation: ops-approvals-thread
`

const mainnetProfile = `name: TON Mainnet
code: mainnet
facilitator:
  timeout_ms: 10000
  retry_attempts: 3
  backoff_ms: 500
polling:
  interval_seconds: 15
  recent_tx_limit: 50
rate_limit:
  per_minute: 12
  burst: 3
`

func writeProfiles(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "profile_testnet.yaml"), []byte(testnetProfile), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "profile_mainnet.yaml"), []byte(mainnetProfile), 0o600); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadProfile_Testnet(t *testing.T) {
	p, err := LoadProfile(writeProfiles(t), "testnet")
	if err != nil {
		t.Fatalf("LoadProfile(testnet): %v", err)
	}
	if p.Name != "TON Testnet" {
		t.Errorf("expected name 'TON Testnet', got %q", p.Name)
	}
	if !p.Facilitator.FailOpen {
		t.Error("testnet should run the facilitator fail-open")
	}
	if p.PollInterval() != 5*time.Second {
		t.Errorf("expected 5s poll interval, got %v", p.PollInterval())
	}
	if p.Throttled() {
		t.Error("testnet should not rate limit")
	}
	if p.Notification.Conversation != "ops-approvals-thread" {
		t.Errorf("expected pinned conversation, got %q", p.Notification.Conversation)
	}
}

func TestLoadProfile_Mainnet(t *testing.T) {
	p, err := LoadProfile(writeProfiles(t), "mainnet")
	if err != nil {
		t.Fatalf("LoadProfile(mainnet): %v", err)
	}
	if p.Facilitator.FailOpen {
		t.Error("mainnet must fail closed")
	}
	if p.Facilitator.RetryAttempts != 3 {
		t.Errorf("expected 3 retry attempts, got %d", p.Facilitator.RetryAttempts)
	}
	if !p.Throttled() {
		t.Error("mainnet should rate limit")
	}
	if p.RateLimit.Burst != 3 {
		t.Errorf("expected burst 3, got %d", p.RateLimit.Burst)
	}
}

func TestLoadProfile_CodeFromFilename(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "profile_staging.yaml"), []byte("name: Staging\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := LoadProfile(dir, "STAGING")
	if err != nil {
		t.Fatalf("LoadProfile(staging): %v", err)
	}
	if p.Code != "staging" {
		t.Errorf("expected code filled from lookup, got %q", p.Code)
	}
}

func TestLoadProfile_Missing(t *testing.T) {
	if _, err := LoadProfile(t.TempDir(), "mainnet"); err == nil {
		t.Error("expected error for missing profile")
	}
}

func TestLoadAllProfiles(t *testing.T) {
	profiles, err := LoadAllProfiles(writeProfiles(t))
	if err != nil {
		t.Fatalf("LoadAllProfiles: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	for code, p := range profiles {
		if p.Name == "" {
			t.Errorf("profile %s has empty name", code)
		}
	}
}

func TestProfileDefaults(t *testing.T) {
	p := &NetworkProfile{}
	if p.PollInterval() != 15*time.Second {
		t.Errorf("expected 15s default poll interval, got %v", p.PollInterval())
	}
	if p.FacilitatorTimeout() != 10*time.Second {
		t.Errorf("expected 10s default facilitator timeout, got %v", p.FacilitatorTimeout())
	}
}
