// validate.go checks a loaded configuration for values the rest of the
// tool would choke on later.
package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tidegate/stevedore/internal/model"
)

// ValidationError is one configuration problem: the offending field path
// and what is wrong with it.
type ValidationError struct {
	// Field is the JSONC field path, e.g. "verify.mode".
	Field string

	// Message describes the problem.
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation error: %s: %s", e.Field, e.Message)
}

// Validate checks the configuration after defaults were applied. All
// problems are collected and reported together as a single config error,
// so a broken file is fixed in one pass instead of error by error.
func (cfg *Config) Validate() error {
	var errs []ValidationError

	if cfg.Registry.Name == "" {
		errs = append(errs, ValidationError{
			Field:   "registry.name",
			Message: "registry name must not be empty",
		})
	}
	if u, err := url.Parse(cfg.Registry.IndexURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "registry.indexUrl",
			Message: fmt.Sprintf("must be an http(s) URL, got %q", cfg.Registry.IndexURL),
		})
	}
	if cfg.Registry.Tool == "" {
		errs = append(errs, ValidationError{
			Field:   "registry.tool",
			Message: "publish tool must not be empty",
		})
	}

	for _, name := range cfg.Packages {
		if err := model.ValidateCrateName(name); err != nil {
			errs = append(errs, ValidationError{
				Field:   "packages",
				Message: err.Error(),
			})
		}
	}

	if _, err := model.ParseVerifyMode(cfg.Verify.Mode); err != nil {
		errs = append(errs, ValidationError{
			Field:   "verify.mode",
			Message: err.Error(),
		})
	}
	if cfg.Verify.Mode == model.VerifySandbox.String() && cfg.Verify.Image == "" {
		errs = append(errs, ValidationError{
			Field:   "verify.image",
			Message: "sandbox verification needs a container image",
		})
	}
	if cfg.Verify.TimeoutSeconds <= 0 {
		errs = append(errs, ValidationError{
			Field:   "verify.timeoutSeconds",
			Message: fmt.Sprintf("must be positive, got %d", cfg.Verify.TimeoutSeconds),
		})
	}
	if cfg.Verify.Parallel < 1 || cfg.Verify.Parallel > 8 {
		errs = append(errs, ValidationError{
			Field:   "verify.parallel",
			Message: fmt.Sprintf("must be between 1 and 8, got %d", cfg.Verify.Parallel),
		})
	}

	if retries := cfg.Publish.MaxRetries(); retries < 0 || retries > 10 {
		errs = append(errs, ValidationError{
			Field:   "publish.retries",
			Message: fmt.Sprintf("must be between 0 and 10, got %d", retries),
		})
	}
	if cfg.Publish.BackoffSeconds < 1 {
		errs = append(errs, ValidationError{
			Field:   "publish.backoffSeconds",
			Message: fmt.Sprintf("must be at least 1, got %d", cfg.Publish.BackoffSeconds),
		})
	}
	if cfg.Publish.WaitTimeoutSeconds <= 0 {
		errs = append(errs, ValidationError{
			Field:   "publish.waitTimeoutSeconds",
			Message: fmt.Sprintf("must be positive, got %d", cfg.Publish.WaitTimeoutSeconds),
		})
	}
	if cfg.Publish.DelaySeconds != nil && *cfg.Publish.DelaySeconds < 0 {
		errs = append(errs, ValidationError{
			Field:   "publish.delaySeconds",
			Message: fmt.Sprintf("must not be negative, got %d", *cfg.Publish.DelaySeconds),
		})
	}

	if len(errs) == 0 {
		return nil
	}

	messages := make([]string, 0, len(errs))
	for _, e := range errs {
		messages = append(messages, fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return model.NewCLIError(model.ExitConfigError,
		"invalid configuration: "+strings.Join(messages, "; "))
}
