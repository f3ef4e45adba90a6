// Package mailbox defines the shared-memory message slot layout used to
// exchange text with the C64 and the chunk codec for it.
//
// Layout per channel:
//   - byte 0 at Base is the chunk length L (0-255)
//   - bytes Base+1 .. Base+L are the chunk payload
//   - the byte at Status is one of StatusNone, StatusMore, StatusLast
//
// Invariant:
//   - a length byte of 0 means "no message"; readers must zero the length
//     byte after consuming a chunk so the C64 can write the next one.
package mailbox
