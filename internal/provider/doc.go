// Package provider implements the clients that turn a user message plus
// conversation history into generated text.
//
// Two provider shapes are supported:
//   - Anthropic Messages API: one batch POST, response content arrives as
//     typed blocks ("thinking" and "text").
//   - llama.cpp /completion: one POST answered as a server-sent-event
//     stream of content fragments; thinking arrives inline as <think>
//     spans and is separated afterwards.
//
// Both share the same retry policy: rate-limit and overload failures are
// retried with exponential backoff, everything else is terminal for the
// exchange.
package provider
