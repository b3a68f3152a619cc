package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aristath/dispatch/internal/agent"
	"github.com/aristath/dispatch/internal/orchestrator"
)

// Load reads and merges configuration from global and project paths.
// Precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON is.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}
	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.dispatch/config.json
// Project: .dispatch/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}
	return Load(
		filepath.Join(homeDir, ".dispatch", "config.json"),
		filepath.Join(".dispatch", "config.json"),
	)
}

// mergeConfigFile reads a JSON config file and merges it into base.
// Missing files are silently skipped.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if loaded.Resilience.FailureThreshold > 0 {
		base.Resilience.FailureThreshold = loaded.Resilience.FailureThreshold
	}
	if loaded.Resilience.CooldownSeconds > 0 {
		base.Resilience.CooldownSeconds = loaded.Resilience.CooldownSeconds
	}
	if loaded.Resilience.RetryAttempts > 0 {
		base.Resilience.RetryAttempts = loaded.Resilience.RetryAttempts
	}
	if loaded.Resilience.CallTimeoutSeconds > 0 {
		base.Resilience.CallTimeoutSeconds = loaded.Resilience.CallTimeoutSeconds
	}
	if loaded.Scheduler.MaxConcurrent > 0 {
		base.Scheduler.MaxConcurrent = loaded.Scheduler.MaxConcurrent
	}
	for key, settings := range loaded.Agents {
		base.Agents[key] = settings
	}
	return nil
}

// Save persists the configuration as indented JSON, creating parent
// directories as needed.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// ResilienceConfig converts the JSON settings to orchestrator durations,
// keeping orchestrator defaults for anything unset.
func (c *Config) ResilienceConfig() orchestrator.ResilienceConfig {
	rc := orchestrator.DefaultResilienceConfig()
	if c.Resilience.FailureThreshold > 0 {
		rc.FailureThreshold = uint32(c.Resilience.FailureThreshold)
	}
	if c.Resilience.CooldownSeconds > 0 {
		rc.Cooldown = time.Duration(c.Resilience.CooldownSeconds) * time.Second
	}
	if c.Resilience.RetryAttempts > 0 {
		rc.RetryAttempts = uint64(c.Resilience.RetryAttempts)
	}
	if c.Resilience.CallTimeoutSeconds > 0 {
		rc.CallTimeout = time.Duration(c.Resilience.CallTimeoutSeconds) * time.Second
	}
	return rc
}

// BuildMatrix applies per-agent overrides to the default capability matrix.
// Disabled agents are removed; unknown agent keys create new entries so a
// deployment can register agents the built-in table does not know about.
func (c *Config) BuildMatrix() agent.Matrix {
	m := agent.DefaultMatrix()
	for key, settings := range c.Agents {
		id := agent.ID(key)
		if settings.Disabled {
			delete(m, id)
			continue
		}
		d, ok := m[id]
		if !ok {
			d = agent.Descriptor{ID: id, MaxContext: 4000, Tier: agent.TierStandard}
		}
		if settings.SupportsAsync != nil {
			d.SupportsAsync = *settings.SupportsAsync
		}
		if settings.SupportsPlanApproval != nil {
			d.SupportsPlanApproval = *settings.SupportsPlanApproval
		}
		if settings.MaxContext != nil {
			d.MaxContext = *settings.MaxContext
		}
		if settings.Tier != nil {
			d.Tier = agent.Tier(*settings.Tier)
		}
		m[id] = d
	}
	return m
}
