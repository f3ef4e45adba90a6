package vicemon

import (
	"fmt"
	"net"
	"time"

	"github.com/retroterm/c64bridge/internal/mailbox"
)

// DefaultAddr is where VICE listens when started with -binarymonitor.
const DefaultAddr = "127.0.0.1:6502"

const (
	dialTimeout = 5 * time.Second
	ioTimeout   = 5 * time.Second

	// Spontaneous event frames carry this request ID; they are interleaved
	// with command responses and must be skipped.
	eventRequestID = 0xffffffff
)

// Transport dials the VICE binary monitor. It implements mailbox.Transport.
type Transport struct {
	Addr string
}

// New returns a Transport for addr, falling back to DefaultAddr when empty.
func New(addr string) *Transport {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Transport{Addr: addr}
}

// Open dials a fresh monitor session.
func (t *Transport) Open() (mailbox.Session, error) {
	return Dial(t.Addr)
}

// Session is one open binary monitor connection.
type Session struct {
	conn   net.Conn
	nextID uint32
}

// Dial connects to the binary monitor at addr.
func Dial(addr string) (*Session, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial monitor %s: %w", addr, err)
	}
	return &Session{conn: conn, nextID: 1}, nil
}

// roundTrip sends one command and waits for its matching response, skipping
// interleaved event frames.
func (s *Session) roundTrip(cmd byte, body []byte) (response, error) {
	id := s.nextID
	s.nextID++

	deadline := time.Now().Add(ioTimeout)
	if err := s.conn.SetDeadline(deadline); err != nil {
		return response{}, fmt.Errorf("set deadline: %w", err)
	}
	if _, err := s.conn.Write(encodeCommand(id, cmd, body)); err != nil {
		return response{}, fmt.Errorf("write command 0x%02x: %w", cmd, err)
	}
	for {
		resp, err := readResponse(s.conn)
		if err != nil {
			return response{}, err
		}
		if resp.requestID == eventRequestID || resp.requestID != id {
			continue
		}
		if resp.errCode != 0 {
			return response{}, fmt.Errorf("monitor command 0x%02x failed: error code 0x%02x", cmd, resp.errCode)
		}
		return resp, nil
	}
}

// Read returns the memory bytes in [start, end).
func (s *Session) Read(start, end uint16) ([]byte, error) {
	if end <= start {
		return nil, fmt.Errorf("invalid memory range [%#04x, %#04x)", start, end)
	}
	resp, err := s.roundTrip(cmdMemGet, memGetBody(start, end))
	if err != nil {
		return nil, err
	}
	return memGetData(resp.body)
}

// Write stores data into memory starting at addr.
func (s *Session) Write(addr uint16, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	_, err := s.roundTrip(cmdMemSet, memSetBody(addr, data))
	return err
}

// Ping checks monitor liveness.
func (s *Session) Ping() error {
	_, err := s.roundTrip(cmdPing, nil)
	return err
}

// Close sends the exit command so the emulated machine resumes, then closes
// the socket. The exit is best-effort: a failure there must not leak the
// connection.
func (s *Session) Close() error {
	_, exitErr := s.roundTrip(cmdExit, nil)
	closeErr := s.conn.Close()
	if exitErr != nil {
		return exitErr
	}
	return closeErr
}
