package mailbox

// Status byte values for a channel. The C64 side writes StatusMore while a
// multi-chunk message is still being produced and StatusNone or StatusLast
// on the final chunk.
const (
	StatusNone byte = 0
	StatusMore byte = 1
	StatusLast byte = 2
)

// MaxChunk is the largest payload a single chunk can declare (the length
// byte caps it). MaxWrite is the tighter limit the sender applies so a
// message plus its length byte always fits well inside one 256-byte page.
const (
	MaxChunk = 255
	MaxWrite = 240
)

// Fixed C64 memory layout. These must match the addresses the C64 chat
// client program uses; they are not negotiable at runtime.
const (
	IncomingAddr       uint16 = 0xC000 // bridge -> C64 response text
	OutgoingAddr       uint16 = 0xC100 // C64 -> bridge user text
	OutgoingStatusAddr uint16 = 0xC200
	ThinkingAddr       uint16 = 0xC300 // bridge -> C64 thinking text
	ThinkingStatusAddr uint16 = 0xC400
)

// Channel is one independently addressed mailbox: a length-prefixed payload
// region plus a status byte somewhere else in memory.
type Channel struct {
	Base   uint16
	Status uint16
}

// Standard channels for the fixed layout above. The outgoing channel is the
// only one the bridge polls; the other two are write-only from our side.
var (
	Incoming = Channel{Base: IncomingAddr, Status: OutgoingStatusAddr}
	Outgoing = Channel{Base: OutgoingAddr, Status: OutgoingStatusAddr}
	Thinking = Channel{Base: ThinkingAddr, Status: ThinkingStatusAddr}
)

// Encode produces the on-wire chunk for text: a length byte followed by the
// raw payload bytes. Text longer than MaxChunk is clamped; no character-set
// validation happens here (callers sanitize first).
func Encode(text string) []byte {
	b := []byte(text)
	if len(b) > MaxChunk {
		b = b[:MaxChunk]
	}
	out := make([]byte, 0, len(b)+1)
	out = append(out, byte(len(b)))
	return append(out, b...)
}

// Decode inverts Encode: it trusts the declared length byte and truncates
// the payload to it, discarding trailing garbage from over-reads. A declared
// length beyond the payload actually read yields only what is available.
func Decode(length byte, payload []byte) string {
	n := int(length)
	if n > len(payload) {
		n = len(payload)
	}
	return string(payload[:n])
}
