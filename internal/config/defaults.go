package config

// DefaultConfig returns the built-in configuration. Agent commands default
// to the agent's own CLI name; deployments override paths and flags in
// their config files.
func DefaultConfig() *Config {
	return &Config{
		Resilience: ResilienceSettings{
			FailureThreshold:   5,
			CooldownSeconds:    30,
			RetryAttempts:      2,
			CallTimeoutSeconds: 300,
		},
		Scheduler: SchedulerSettings{
			MaxConcurrent: 4,
		},
		Agents: map[string]AgentSettings{
			"jules":   {Command: "jules"},
			"copilot": {Command: "copilot"},
			"gemini":  {Command: "gemini"},
			"codex":   {Command: "codex"},
		},
	}
}
