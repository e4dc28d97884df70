package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// GovernanceProfile is a jurisdiction-specific governance configuration.
// Profiles tune the policy engine per deployment region without code
// changes: CEL jurisdiction rules, rate limits, fairness thresholds and
// sustainability budgets all load from here.
type GovernanceProfile struct {
	Name       string `yaml:"name" json:"name"`
	Code       string `yaml:"code" json:"code"`
	PolicyMode string `yaml:"policy_mode,omitempty" json:"policy_mode,omitempty"`

	// Jurisdictions maps an action type to a CEL expression that must
	// evaluate to true for the action to be permitted.
	Jurisdictions map[string]string `yaml:"jurisdictions,omitempty" json:"jurisdictions,omitempty"`

	RateLimit      RateLimitConfig      `yaml:"rate_limit" json:"rate_limit"`
	Fairness       FairnessConfig       `yaml:"fairness" json:"fairness"`
	Sustainability SustainabilityConfig `yaml:"sustainability" json:"sustainability"`
	Retention      RetentionConfig      `yaml:"retention" json:"retention"`
}

// RateLimitConfig tunes the per-actor rate guard.
type RateLimitConfig struct {
	RPM   int `yaml:"rpm" json:"rpm"`
	Burst int `yaml:"burst" json:"burst"`
}

// FairnessConfig tunes the fairness monitor.
type FairnessConfig struct {
	WindowSize int     `yaml:"window_size" json:"window_size"`
	Threshold  float64 `yaml:"threshold" json:"threshold"`
	// Reference is the expected approval distribution over protected
	// categories. Empty means uniform.
	Reference map[string]float64 `yaml:"reference,omitempty" json:"reference,omitempty"`
}

// SustainabilityConfig sets the energy budget the tracker enforces.
type SustainabilityConfig struct {
	MonthlyLimitKWh float64 `yaml:"monthly_limit_kwh" json:"monthly_limit_kwh"`
}

// RetentionConfig defines data retention policies.
type RetentionConfig struct {
	AuditLogDays int `yaml:"audit_log_days" json:"audit_log_days"`
	RecordDays   int `yaml:"record_days" json:"record_days"`
}

// LoadProfile loads a governance profile YAML by jurisdiction code.
// It searches the profiles directory for profile_<code>.yaml.
func LoadProfile(profilesDir, code string) (*GovernanceProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile GovernanceProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}

	return &profile, nil
}

// LoadAllProfiles loads all profile_*.yaml files from the profiles directory.
func LoadAllProfiles(profilesDir string) (map[string]*GovernanceProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*GovernanceProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile GovernanceProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Code == "" {
			// Extract code from filename: profile_eu.yaml -> eu
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}

		profiles[profile.Code] = &profile
	}

	return profiles, nil
}
