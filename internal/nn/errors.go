package nn

import "fmt"

// ConfigurationError reports an invalid layer or model configuration value.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// DivisibilityError reports a dimension that cannot be partitioned evenly,
// such as a sequence length that does not divide into the requested number
// of bins or chunks.
type DivisibilityError struct {
	What    string
	Size    int
	Divisor int
}

func (e *DivisibilityError) Error() string {
	return fmt.Sprintf("%s of size %d is not divisible by %d", e.What, e.Size, e.Divisor)
}
