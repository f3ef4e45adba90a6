package mailbox

// Session is one open connection to the device monitor. Read returns the
// bytes in [start, end); callers close the session after each discrete
// operation rather than holding it across sleeps.
type Session interface {
	Read(start, end uint16) ([]byte, error)
	Write(addr uint16, data []byte) error
	Ping() error
	Close() error
}

// Transport opens sessions to the device monitor. The poller and sender
// open a fresh session per operation.
type Transport interface {
	Open() (Session, error)
}
