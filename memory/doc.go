// Package memory holds the bounded in-process conversation history.
//
// Model:
//   - Turns are ordered oldest to newest; only relative order matters.
//   - The history never exceeds its cap; trimming drops the oldest turns.
//   - Nothing is persisted: a restart starts a fresh conversation.
package memory
