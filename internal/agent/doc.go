// Package agent implements the resilient upstream call wrapper.
//
// # Overview
//
// An Agent binds prompt templates and a typed output declaration to one
// primary endpoint and an optional fallback. Each Run is an independent
// call through an explicit state machine:
//
//	attempt primary -> (success) done
//	                -> (retriable failure) retry, up to the budget
//	retry exhausted -> attempt fallback exactly once, if configured
//	                -> done | failed
//
// Transport failures, upstream rejections, and parse failures all consume
// the retry budget. Configuration problems abort immediately. Terminal
// failure is reported as a nil result, never a panic or an error the
// caller has to classify.
//
// # Output shaping
//
// JSON-declared agents run raw output through a tolerant repair pass
// (jsonrepair) before structural decoding; the two failure modes carry
// distinct parse stages. Text-declared agents return sanitized raw text.
package agent
