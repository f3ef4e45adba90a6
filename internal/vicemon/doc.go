// Package vicemon speaks the VICE emulator's binary monitor protocol over
// TCP (the interface VICE exposes with -binarymonitor). Only the small
// subset the bridge needs is implemented: memory get, memory set, ping, and
// exit.
//
// Sessions are short-lived: one is dialled per discrete read or write and
// closed immediately after, sending the exit command first so the emulated
// machine resumes. Holding the monitor open pauses the machine, which would
// stall the C64 side of the conversation.
package vicemon
