package config

import (
	"fmt"
	"strings"

	"github.com/dgnsrekt/symphony-datafeed/internal/retry"
)

// ValidationErrors collects every problem found in a configuration.
type ValidationErrors struct {
	Problems []string
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Problems) > 0
}

func (e *ValidationErrors) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, p := range e.Problems {
		sb.WriteString(fmt.Sprintf("  - %s\n", p))
	}
	return sb.String()
}

func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	for _, name := range []Service{ServicePod, ServiceAgent, ServiceSessionAuth, ServiceKeyManager} {
		svc := c.Service(name)
		if svc.Host == "" {
			errs.add("%s: host is required (set host, %s.host or BDK_HOST)", name, name)
		}
		if svc.Scheme != "http" && svc.Scheme != "https" {
			errs.add("%s: scheme must be http or https, got %q", name, svc.Scheme)
		}
		if svc.Port < 0 || svc.Port > 65535 {
			errs.add("%s: port %d out of range", name, svc.Port)
		}
	}

	hasKey := c.Bot.PrivateKey.IsSet()
	hasCert := c.Bot.Certificate.Path != ""
	switch {
	case !hasKey && !hasCert:
		errs.add("bot: one of privateKey.path, privateKey.content or certificate.path is required")
	case hasKey && hasCert:
		errs.add("bot: privateKey and certificate are mutually exclusive")
	}
	if hasKey && c.Bot.Username == "" {
		errs.add("bot: username is required for private key authentication")
	}
	if c.Bot.PrivateKey.Path != "" && c.Bot.PrivateKey.Content != "" {
		errs.add("bot: privateKey.path and privateKey.content are mutually exclusive")
	}

	if c.App.AppID != "" && !c.App.PrivateKey.IsSet() {
		errs.add("app: privateKey is required when appId is set")
	}

	switch c.Datafeed.Dispatch {
	case "", "sequential", "concurrent":
	default:
		errs.add("datafeed: dispatch must be sequential or concurrent, got %q", c.Datafeed.Dispatch)
	}
	validatePolicy(errs, "datafeed.retry", c.Datafeed.Retry)
	validatePolicy(errs, "auth.retry", c.Auth.Retry)

	if c.RateLimit.RequestsPerSecond < 0 {
		errs.add("rateLimit: requestsPerSecond must not be negative")
	}

	if err := c.Notify.Validate(); err != nil {
		errs.add("%v", err)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validatePolicy(errs *ValidationErrors, name string, p retry.Policy) {
	if p.MaxAttempts < 0 {
		errs.add("%s: maxAttempts must not be negative", name)
	}
	if p.InitialInterval <= 0 {
		errs.add("%s: initialInterval must be positive", name)
	}
	if p.Multiplier < 1 {
		errs.add("%s: multiplier must be at least 1", name)
	}
	if p.MaxInterval < p.InitialInterval {
		errs.add("%s: maxInterval must not be below initialInterval", name)
	}
}
