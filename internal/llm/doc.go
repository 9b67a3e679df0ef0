// Package llm is the thin client for one upstream chat-completion endpoint.
//
// A Client makes exactly one attempt per call, bounded by the endpoint's
// timeout (180s default). It owns no retry or fallback logic; that lives
// in the agent package. Failures come back as *TransportError or
// *UpstreamError so the caller can decide what consumes retry budget.
package llm
