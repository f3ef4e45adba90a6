// Package poller watches the C64's outbound mailbox and turns it into a
// stream of complete logical messages.
//
// The C64 updates the mailbox header with two separate stores (length, then
// status) that are not atomic from our side, so a freshly observed header
// is not trusted until it has been quiescent for a full debounce window.
// Payload bytes are only read once the header is stable; the length byte is
// zeroed immediately after a read to hand the slot back to the C64.
//
// State machine per mailbox:
//
//	Idle         -> no pending chunk header
//	Accumulating -> header observed, debounce running (or more chunks due)
//	Stable       -> header quiescent, payload read this iteration
//	Delivered    -> message sealed and handed off, buffers cleared
package poller
