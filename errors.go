package smctune

import "fmt"

// ConfigurationError reports a controller parameter that violates one of the
// algebraic stability constraints checked at construction time.  It is never
// recoverable automatically: the offending config must be rebuilt.
type ConfigurationError struct {
	Param  string
	Value  float64
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s=%v: %s", e.Param, e.Value, e.Reason)
}

// InvalidStateError reports a malformed plant state handed to a controller:
// wrong dimension or a non-finite entry.  It is fatal for the trajectory that
// produced it, not for the batch.
type InvalidStateError struct {
	Len    int
	Want   int
	Index  int
	Reason string
}

func (e *InvalidStateError) Error() string {
	if e.Len != e.Want {
		return fmt.Sprintf("invalid plant state: length %d, want %d", e.Len, e.Want)
	}
	return fmt.Sprintf("invalid plant state: element %d %s", e.Index, e.Reason)
}
