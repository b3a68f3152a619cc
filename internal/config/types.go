package config

// ResilienceSettings are the breaker/retry knobs around every agent call.
type ResilienceSettings struct {
	FailureThreshold   int `json:"failure_threshold"`    // Consecutive failures before the breaker opens
	CooldownSeconds    int `json:"cooldown_seconds"`     // Open-state duration before the half-open trial
	RetryAttempts      int `json:"retry_attempts"`       // Retries after the first attempt
	CallTimeoutSeconds int `json:"call_timeout_seconds"` // Per-call executor timeout
}

// SchedulerSettings configure batch execution.
type SchedulerSettings struct {
	MaxConcurrent int `json:"max_concurrent"`
}

// AgentSettings bind a capability-matrix entry to a runnable command and
// allow overriding individual capability fields. Pointer fields distinguish
// "unset" from an explicit zero value during merge.
type AgentSettings struct {
	Command              string   `json:"command,omitempty"`
	Args                 []string `json:"args,omitempty"`
	Disabled             bool     `json:"disabled,omitempty"`
	SupportsAsync        *bool    `json:"supports_async,omitempty"`
	SupportsPlanApproval *bool    `json:"supports_plan_approval,omitempty"`
	MaxContext           *int     `json:"max_context,omitempty"`
	Tier                 *int     `json:"tier,omitempty"`
}

// Config is the top-level configuration document.
type Config struct {
	Resilience ResilienceSettings       `json:"resilience"`
	Scheduler  SchedulerSettings        `json:"scheduler"`
	Agents     map[string]AgentSettings `json:"agents"`
}
