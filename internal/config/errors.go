package config

import "fmt"

// ConfigErrorType categorizes why a binary refused to start.
type ConfigErrorType string

const (
	// ErrParsing means an environment value could not be converted to its field type.
	ErrParsing ConfigErrorType = "PARSING"
	// ErrValidation means values parsed but break a rule (range, required, enum).
	ErrValidation ConfigErrorType = "VALIDATION"
	// ErrCredentials means a certificate or key is missing or unusable.
	ErrCredentials ConfigErrorType = "CREDENTIALS"
)

type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
