package config

import (
	"fmt"
	"strings"

	"yqhp/web-runner/pkg/types"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Validate checks ranges and enumerations of the loaded configuration.
func Validate(cfg *Config) error {
	var errs ValidationErrors
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		add("server.port", "port must be between 1 and 65535")
	}
	if cfg.Server.ReadTimeout < 0 || cfg.Server.WriteTimeout < 0 {
		add("server", "timeouts cannot be negative")
	}

	if cfg.AI.Model == "" {
		add("ai.model", "model is required")
	}
	if cfg.AI.BaseURL != "" && !strings.HasPrefix(cfg.AI.BaseURL, "http") {
		add("ai.base_url", "base url must be http(s)")
	}

	if _, err := types.ParseMode(cfg.Browser.DefaultMode); err != nil {
		add("browser.default_mode", err.Error())
	}
	if cfg.Browser.ViewportWidth <= 0 || cfg.Browser.ViewportHeight <= 0 {
		add("browser.viewport", "viewport must be positive")
	}
	if cfg.Browser.StepInterval < 0 {
		add("browser.step_interval", "step interval cannot be negative")
	}

	if cfg.Timeouts.PageTimeout < 0 || cfg.Timeouts.ActionTimeout < 0 || cfg.Timeouts.NavigationTimeout < 0 {
		add("timeouts", "timeouts cannot be negative")
	}

	if cfg.Execution.MaxRecords <= 0 {
		add("execution.max_records", "max records must be positive")
	}
	if cfg.Execution.MaxPending < 0 {
		add("execution.max_pending", "max pending cannot be negative")
	}
	if _, err := types.ParseFailurePolicy(cfg.Execution.FailurePolicy, types.FailurePolicyContinue); err != nil {
		add("execution.failure_policy", err.Error())
	}

	if cfg.Notify.Webhook.URL != "" && cfg.Notify.Webhook.RetryAttempts < 0 {
		add("notify.webhook.retry_attempts", "retry attempts cannot be negative")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
