package poller

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/retroterm/c64bridge/internal/mailbox"
	"github.com/retroterm/c64bridge/internal/telemetry"
)

// State is the poller's position in the chunk-assembly state machine.
type State int

const (
	StateIdle State = iota
	StateAccumulating
	StateStable
	StateDelivered
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateStable:
		return "stable"
	case StateDelivered:
		return "delivered"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config tunes the poll loop. Zero values fall back to the defaults the C64
// client was tuned against.
type Config struct {
	Channel       mailbox.Channel
	Interval      time.Duration // cadence between polls
	Debounce      time.Duration // header quiescence window, >= one Interval
	StartupGrace  int           // polls skipped at startup (stale memory)
	ErrorCooldown time.Duration // pause after a transport error
}

// DefaultConfig polls the outgoing channel every 500ms with a 500ms
// debounce, skipping the first 10 polls.
func DefaultConfig() Config {
	return Config{
		Channel:       mailbox.Outgoing,
		Interval:      500 * time.Millisecond,
		Debounce:      500 * time.Millisecond,
		StartupGrace:  10,
		ErrorCooldown: 200 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Channel == (mailbox.Channel{}) {
		c.Channel = def.Channel
	}
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.Debounce <= 0 {
		c.Debounce = def.Debounce
	}
	if c.ErrorCooldown <= 0 {
		c.ErrorCooldown = def.ErrorCooldown
	}
	return c
}

// Handler receives each sealed logical message exactly once. It runs on the
// poll goroutine; long work must be spawned off by the handler.
type Handler func(msg string)

// Poller reassembles chunked messages from one mailbox channel.
type Poller struct {
	transport mailbox.Transport
	cfg       Config
	handler   Handler
	log       *zap.Logger
	now       func() time.Time

	state      State
	buf        strings.Builder
	lastLen    byte
	lastStatus byte
	lastChange time.Time
}

// New returns a poller delivering sealed messages to handler.
func New(transport mailbox.Transport, cfg Config, handler Handler, log *zap.Logger) *Poller {
	return &Poller{
		transport: transport,
		cfg:       cfg.withDefaults(),
		handler:   handler,
		log:       log,
		now:       time.Now,
		state:     StateIdle,
	}
}

// State reports the current machine state; Stable and Delivered are
// transient and only observable from within an iteration.
func (p *Poller) State() State { return p.state }

// Run polls until ctx is cancelled. Transport errors are logged and polling
// resumes after the error cooldown; they never end the loop.
func (p *Poller) Run(ctx context.Context) error {
	grace := p.cfg.StartupGrace
	for {
		if err := sleepCtx(ctx, p.cfg.Interval); err != nil {
			return nil
		}
		// Skip the first polls: mailbox memory may hold garbage from a
		// previous run until the C64 program initializes it.
		if grace > 0 {
			grace--
			continue
		}
		if err := p.step(); err != nil {
			p.log.Warn("poll failed", zap.Error(err))
			telemetry.Emit(telemetry.EventPollError, map[string]any{"error": err.Error()})
			if err := sleepCtx(ctx, p.cfg.ErrorCooldown); err != nil {
				return nil
			}
		}
	}
}

// step is one poll iteration.
func (p *Poller) step() error {
	sess, err := p.transport.Open()
	if err != nil {
		p.abandon()
		return fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	ch := p.cfg.Channel
	hdr, err := sess.Read(ch.Base, ch.Base+1)
	if err != nil || len(hdr) < 1 {
		p.abandon()
		if err == nil {
			err = fmt.Errorf("empty read")
		}
		return fmt.Errorf("read length byte: %w", err)
	}
	length := hdr[0]

	if length == 0 {
		// No pending chunk. A header that was being debounced has
		// disappeared: treat as no message, not as an empty message.
		if p.lastLen != 0 {
			p.lastLen = 0
			p.lastChange = time.Time{}
		}
		if p.buf.Len() == 0 {
			p.state = StateIdle
		}
		return nil
	}

	statusRaw, err := sess.Read(ch.Status, ch.Status+1)
	if err != nil || len(statusRaw) < 1 {
		p.abandon()
		if err == nil {
			err = fmt.Errorf("empty read")
		}
		return fmt.Errorf("read status byte: %w", err)
	}
	status := statusRaw[0]

	// Any length change, or a transition into MORE, restarts the debounce:
	// the C64 writes length and status with separate stores and we may have
	// caught it mid-write.
	if length != p.lastLen || (status == mailbox.StatusMore && p.lastStatus != mailbox.StatusMore) {
		p.lastLen = length
		p.lastStatus = status
		p.lastChange = p.now()
		p.state = StateAccumulating
		return nil
	}
	if p.now().Sub(p.lastChange) < p.cfg.Debounce {
		return nil
	}

	// Header is quiescent: the payload can be trusted.
	p.state = StateStable
	payload, err := sess.Read(ch.Base+1, ch.Base+1+uint16(length))
	if err != nil {
		p.abandon()
		return fmt.Errorf("read payload: %w", err)
	}
	chunk := mailbox.Decode(length, payload)
	// 0xFF is screen-init junk the C64 never sends deliberately.
	chunk = strings.ReplaceAll(chunk, "\xff", "")
	p.buf.WriteString(chunk)

	// Acknowledge: zero the length so the C64 can write the next chunk.
	if err := sess.Write(ch.Base, []byte{0}); err != nil {
		p.abandon()
		return fmt.Errorf("ack chunk: %w", err)
	}
	p.lastLen = 0
	p.lastStatus = status
	p.lastChange = time.Time{}

	if status == mailbox.StatusMore {
		p.state = StateAccumulating
		return nil
	}

	// Sealed: status None or Last closes the logical message.
	msg := p.buf.String()
	p.buf.Reset()
	p.lastStatus = mailbox.StatusNone
	if err := sess.Write(ch.Status, []byte{mailbox.StatusNone}); err != nil {
		// The message is intact; only the status reset failed. Deliver
		// anyway and let the next poll retry the mailbox handshake.
		p.log.Warn("status reset failed", zap.Error(err))
	}
	p.state = StateDelivered
	telemetry.Emit(telemetry.EventMessageSealed, map[string]any{"bytes": len(msg)})
	if p.handler != nil && msg != "" {
		p.handler(msg)
	}
	p.state = StateIdle
	return nil
}

// abandon drops any in-progress accumulation after a transport error.
func (p *Poller) abandon() {
	p.buf.Reset()
	p.lastLen = 0
	p.lastStatus = mailbox.StatusNone
	p.lastChange = time.Time{}
	p.state = StateIdle
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
