// Package report runs the doctor report pipeline for completed intakes.
//
// A run has three stages. Stage A fans out concurrently: pharmacy search,
// hospital search, language/title detection, and the structured parse of
// the conversation. Facility and language failures degrade (placeholder
// text, "unknown" language); only a failed parse aborts the run. Stage B
// drives the diagnostic agent over the parsed fields plus demographics.
// Stage C turns the assessment into a patient-facing narrative in the
// user's language, persists it, and notifies connected clients.
//
// Runs are single-flight per conversation and detached from the
// scheduling request's lifetime.
package report
