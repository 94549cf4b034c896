package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NetworkProfile represents a per-network deployment profile. Profiles
// carry the tuning that differs between mainnet and testnet deployments
// and that operators version alongside their infrastructure, as opposed
// to the secrets and endpoints that come from the environment.
type NetworkProfile struct {
	Name         string             `yaml:"name" json:"name"`
	Code         string             `yaml:"code" json:"code"`
	Facilitator  FacilitatorConfig  `yaml:"facilitator" json:"facilitator"`
	Polling      PollingConfig      `yaml:"polling" json:"polling"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit" json:"rate_limit"`
	Notification NotificationConfig `yaml:"notification" json:"notification"`
}

// FacilitatorConfig holds the facilitator call policy per network.
type FacilitatorConfig struct {
	TimeoutMs     int  `yaml:"timeout_ms" json:"timeout_ms"`
	RetryAttempts int  `yaml:"retry_attempts" json:"retry_attempts"`
	BackoffMs     int  `yaml:"backoff_ms" json:"backoff_ms"`
	FailOpen      bool `yaml:"fail_open,omitempty" json:"fail_open,omitempty"`
}

// PollingConfig tunes the approval poll loop.
type PollingConfig struct {
	IntervalSeconds int `yaml:"interval_seconds" json:"interval_seconds"`
	RecentTxLimit   int `yaml:"recent_tx_limit" json:"recent_tx_limit"`
}

// RateLimitConfig bounds per-agent submission rates.
type RateLimitConfig struct {
	PerMinute int `yaml:"per_minute" json:"per_minute"`
	Burst     int `yaml:"burst" json:"burst"`
}

// NotificationConfig routes human approval prompts.
type NotificationConfig struct {
	WebhookURL string `yaml:"webhook_url,omitempty" json:"webhook_url,omitempty"`
	Recipient  string `yaml:"recipient,omitempty" json:"recipient,omitempty"`
	// Conversation pins decision actions to one messaging conversation.
	Conversation string `yaml:"conversation,omitempty" json:"conversation,omitempty"`
}

// LoadProfile loads a network profile YAML by network code.
// It searches the profiles directory for profile_<code>.yaml.
func LoadProfile(profilesDir, code string) (*NetworkProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile NetworkProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}

	return &profile, nil
}

// LoadAllProfiles loads all profile_*.yaml files from the profiles directory.
func LoadAllProfiles(profilesDir string) (map[string]*NetworkProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*NetworkProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile NetworkProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Code == "" {
			// Extract code from filename: profile_testnet.yaml -> testnet
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}

		profiles[profile.Code] = &profile
	}

	return profiles, nil
}

// PollInterval returns the configured poll cadence, defaulting to 15s.
func (p *NetworkProfile) PollInterval() time.Duration {
	if p.Polling.IntervalSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(p.Polling.IntervalSeconds) * time.Second
}

// FacilitatorTimeout returns the configured call timeout, defaulting to 10s.
func (p *NetworkProfile) FacilitatorTimeout() time.Duration {
	if p.Facilitator.TimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(p.Facilitator.TimeoutMs) * time.Millisecond
}

// Throttled reports whether the profile enables per-agent rate limiting.
func (p *NetworkProfile) Throttled() bool {
	return p.RateLimit.PerMinute > 0
}
