// ABOUTME: Error taxonomy for upstream language-model calls
// ABOUTME: Distinguishes transport failures from upstream rejections so callers can budget retries

package llm

import "fmt"

// TransportError wraps a network-level failure (connection refused, timeout,
// cancelled context). Retriable.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamError reports a non-2xx response or an unusable completion
// (no choices, truncated finish reason). Retriable up to budget.
type UpstreamError struct {
	StatusCode int // 0 when the HTTP exchange succeeded but the completion was unusable
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream error: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upstream error: %s", e.Message)
}
