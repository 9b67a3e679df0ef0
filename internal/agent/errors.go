// ABOUTME: Error types for resilient agent calls
// ABOUTME: ParseError distinguishes repair failures from decode failures; ConfigurationError is fatal

package agent

import "fmt"

// Parse stages, so repair failures and schema mismatches stay
// distinguishable in logs and tests.
const (
	ParseStageRepair = "repair"
	ParseStageDecode = "decode"
)

// ParseError reports model output that did not match the declared output
// type. Retriable: it consumes retry budget like a transport failure.
type ParseError struct {
	Stage string // ParseStageRepair or ParseStageDecode
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error (%s): %v", e.Stage, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ConfigurationError reports an unusable agent configuration (missing
// credential, model, or endpoint). Fatal: it aborts the call immediately
// without consuming retry budget.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}
