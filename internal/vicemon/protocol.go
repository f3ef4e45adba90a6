package vicemon

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Binary monitor framing. Every command starts with STX and the API
// version; lengths and request IDs are little-endian.
const (
	stx        = 0x02
	apiVersion = 0x02

	cmdMemGet = 0x01
	cmdMemSet = 0x02
	cmdPing   = 0x81
	cmdExit   = 0xaa

	// Main memory, default bank. The bridge never touches other memspaces.
	memspaceMain = 0x00
)

const (
	requestHeaderLen  = 11
	responseHeaderLen = 12
)

// response is one parsed monitor response frame. VICE also emits
// spontaneous event frames (request ID 0xffffffff); callers skip those.
type response struct {
	kind      byte
	errCode   byte
	requestID uint32
	body      []byte
}

// encodeCommand builds a complete request frame for one command.
func encodeCommand(requestID uint32, cmd byte, body []byte) []byte {
	frame := make([]byte, requestHeaderLen, requestHeaderLen+len(body))
	frame[0] = stx
	frame[1] = apiVersion
	binary.LittleEndian.PutUint32(frame[2:6], uint32(len(body)))
	binary.LittleEndian.PutUint32(frame[6:10], requestID)
	frame[10] = cmd
	return append(frame, body...)
}

// memGetBody builds the memory-get body for [start, end) with no side
// effects. The wire format takes an inclusive end address.
func memGetBody(start, endExclusive uint16) []byte {
	body := make([]byte, 8)
	body[0] = 0 // no side effects
	binary.LittleEndian.PutUint16(body[1:3], start)
	binary.LittleEndian.PutUint16(body[3:5], endExclusive-1)
	body[5] = memspaceMain
	binary.LittleEndian.PutUint16(body[6:8], 0) // bank
	return body
}

// memSetBody builds the memory-set body writing data starting at addr.
func memSetBody(addr uint16, data []byte) []byte {
	body := make([]byte, 8, 8+len(data))
	body[0] = 0 // no side effects
	binary.LittleEndian.PutUint16(body[1:3], addr)
	binary.LittleEndian.PutUint16(body[3:5], addr+uint16(len(data))-1)
	body[5] = memspaceMain
	binary.LittleEndian.PutUint16(body[6:8], 0) // bank
	return append(body, data...)
}

// readResponse reads and parses one response frame from r.
func readResponse(r io.Reader) (response, error) {
	var hdr [responseHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return response{}, fmt.Errorf("read response header: %w", err)
	}
	if hdr[0] != stx {
		return response{}, fmt.Errorf("bad response magic 0x%02x", hdr[0])
	}
	bodyLen := binary.LittleEndian.Uint32(hdr[2:6])
	resp := response{
		kind:      hdr[6],
		errCode:   hdr[7],
		requestID: binary.LittleEndian.Uint32(hdr[8:12]),
	}
	if bodyLen > 0 {
		resp.body = make([]byte, bodyLen)
		if _, err := io.ReadFull(r, resp.body); err != nil {
			return response{}, fmt.Errorf("read response body: %w", err)
		}
	}
	return resp, nil
}

// memGetData extracts the payload from a memory-get response body, which
// carries its own 16-bit length prefix.
func memGetData(body []byte) ([]byte, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("memory-get body too short: %d bytes", len(body))
	}
	n := int(binary.LittleEndian.Uint16(body[0:2]))
	if n > len(body)-2 {
		return nil, fmt.Errorf("memory-get declares %d bytes, have %d", n, len(body)-2)
	}
	return body[2 : 2+n], nil
}
