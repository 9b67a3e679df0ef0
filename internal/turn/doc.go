// Package turn serializes and processes conversation turns.
//
// # Serializer
//
// A process-wide registry of per-conversation locks guarantees at most
// one in-flight turn per conversation, even under concurrent client
// requests. Turns for the same conversation apply in arrival order;
// turns for different conversations never contend.
//
// # Processor
//
// One turn: record the user message, render the transcript, drive the
// intake agent, clean the reply (translation remnants, duplicate
// suppression), record the bot message, and report whether the intake is
// complete so the caller can schedule the report pipeline.
//
// The processor itself performs no delivery; the websocket layer
// broadcasts its Result through the hub.
package turn
