package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string `json:"field"`           // The config field path (e.g., "capture.frames")
	Value   any    `json:"value,omitempty"` // The invalid value
	Message string `json:"message"`         // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// maxFrames bounds a single capture burst.
const maxFrames = 100

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidLogFormats returns the list of valid log handler formats
func ValidLogFormats() []string {
	return []string{"text", "json"}
}

// ValidMirrors returns the list of mirror backends, "" meaning none
func ValidMirrors() []string {
	return []string{MirrorNone, MirrorSQLite, MirrorPostgres, MirrorS3}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateTrigger()...)
	errors = append(errors, c.validateCapture()...)
	errors = append(errors, c.validatePolicy()...)
	errors = append(errors, c.validateAlerts()...)
	errors = append(errors, c.validateStore()...)
	errors = append(errors, c.validateLogging()...)

	if c.API.Addr == "" {
		errors = append(errors, ValidationError{Field: "api.addr", Message: "must not be empty"})
	}

	return errors
}

func (c *Config) validateTrigger() []ValidationError {
	var errors []ValidationError

	if c.Trigger.Port == "" && c.Trigger.Address == "" {
		errors = append(errors, ValidationError{
			Field:   "trigger.port",
			Message: "either trigger.port or trigger.address must be set",
		})
	}
	if c.Trigger.Address == "" && c.Trigger.Baud <= 0 {
		errors = append(errors, ValidationError{
			Field:   "trigger.baud",
			Value:   c.Trigger.Baud,
			Message: "must be positive",
		})
	}

	tokens := 0
	for _, tok := range c.Trigger.Tokens {
		if strings.TrimSpace(tok) != "" {
			tokens++
		}
	}
	if tokens == 0 {
		errors = append(errors, ValidationError{
			Field:   "trigger.tokens",
			Value:   c.Trigger.Tokens,
			Message: "must contain at least one non-blank token",
		})
	}

	if c.Trigger.ReadTimeoutMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "trigger.read_timeout_ms",
			Value:   c.Trigger.ReadTimeoutMs,
			Message: "must be positive",
		})
	}
	if c.Trigger.ResumeSettleMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "trigger.resume_settle_ms",
			Value:   c.Trigger.ResumeSettleMs,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateCapture() []ValidationError {
	var errors []ValidationError

	if c.Capture.Frames < 1 || c.Capture.Frames > maxFrames {
		errors = append(errors, ValidationError{
			Field:   "capture.frames",
			Value:   c.Capture.Frames,
			Message: fmt.Sprintf("must be between 1 and %d", maxFrames),
		})
	}
	if c.Capture.DelayMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "capture.delay_ms",
			Value:   c.Capture.DelayMs,
			Message: "must be non-negative",
		})
	}
	if c.Capture.Dir == "" {
		errors = append(errors, ValidationError{Field: "capture.dir", Message: "must not be empty"})
	}
	if c.Camera.Quality < 0 || c.Camera.Quality > 100 {
		errors = append(errors, ValidationError{
			Field:   "camera.quality",
			Value:   c.Camera.Quality,
			Message: "must be between 0 and 100",
		})
	}

	return errors
}

func (c *Config) validatePolicy() []ValidationError {
	var errors []ValidationError

	// Cosine distance lies in [0, 2].
	if c.Policy.Threshold <= 0 || c.Policy.Threshold > 2 {
		errors = append(errors, ValidationError{
			Field:   "policy.threshold",
			Value:   c.Policy.Threshold,
			Message: "must be in (0, 2]",
		})
	}
	if c.Policy.AuthorizedLabel == "" && len(c.Policy.AuthorizedIdentities) == 0 {
		errors = append(errors, ValidationError{
			Field:   "policy.authorized_label",
			Message: "set authorized_label or authorized_identities, otherwise nobody is authorized",
		})
	}

	return errors
}

func (c *Config) validateAlerts() []ValidationError {
	var errors []ValidationError

	if c.Alerts.MQTT.QoS < 0 || c.Alerts.MQTT.QoS > 2 {
		errors = append(errors, ValidationError{
			Field:   "alerts.mqtt.qos",
			Value:   c.Alerts.MQTT.QoS,
			Message: "must be 0, 1 or 2",
		})
	}
	if c.Alerts.Mail.Port < 0 || c.Alerts.Mail.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "alerts.mail.port",
			Value:   c.Alerts.Mail.Port,
			Message: "must be a valid TCP port",
		})
	}

	return errors
}

func (c *Config) validateStore() []ValidationError {
	var errors []ValidationError

	if c.Store.Journal == "" {
		errors = append(errors, ValidationError{Field: "store.journal", Message: "must not be empty"})
	}

	switch c.Store.Mirror {
	case MirrorNone:
	case MirrorSQLite:
		if c.Store.SQLitePath == "" {
			errors = append(errors, ValidationError{Field: "store.sqlite_path", Message: "required for the sqlite mirror"})
		}
	case MirrorPostgres:
		if c.Store.PostgresDSN == "" {
			errors = append(errors, ValidationError{Field: "store.postgres_dsn", Message: "required for the postgres mirror"})
		}
	case MirrorS3:
		if c.Store.S3.Endpoint == "" {
			errors = append(errors, ValidationError{Field: "store.s3.endpoint", Message: "required for the s3 mirror"})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "store.mirror",
			Value:   c.Store.Mirror,
			Message: fmt.Sprintf("must be empty or one of: %s", strings.Join(ValidMirrors()[1:], ", ")),
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if !slices.Contains(ValidLogFormats(), c.Logging.Format) {
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Value:   c.Logging.Format,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogFormats(), ", ")),
		})
	}

	return errors
}
