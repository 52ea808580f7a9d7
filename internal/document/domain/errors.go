package domain

import "fmt"

// The emission workflow surfaces four error classes. None of them is retried
// automatically; only GatewayError implies a persisted status change.

// NotFoundError reports a document or configuration that does not exist for
// the calling tenant. Cross-tenant reads look identical to missing rows.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Resource)
}

// ValidationError reports an unmet emission precondition. The document is
// left untouched.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ConfigurationError reports tenant fiscal configuration that cannot support
// an emission, such as an unresolvable credential.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return e.Message
}

// GatewayError reports a transport failure or business rejection from the
// fiscal gateway. The document is moved to the error status.
type GatewayError struct {
	Message string
}

func (e *GatewayError) Error() string {
	return e.Message
}
