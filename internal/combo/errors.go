package combo

import "fmt"

// ConfigurationError reports a malformed combo or group definition.
// Definitions failing validation are rejected at creation and never
// participate in matching.
type ConfigurationError struct {
	ComboID string
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.ComboID == "" {
		return fmt.Sprintf("combo configuration: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("combo %s: %s: %s", e.ComboID, e.Field, e.Message)
}
