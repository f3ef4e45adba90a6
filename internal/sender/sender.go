// Package sender delivers bridge text into the C64's inbound mailboxes.
//
// A message goes out as one single-shot chunk: the C64 drains a full
// mailbox in one pass, so there is no outbound chunking. Sends are never
// retried automatically: a generation result is not idempotently
// re-derivable, and a duplicate delivery would confuse the reader far more
// than a dropped one.
package sender

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/retroterm/c64bridge/internal/mailbox"
	"github.com/retroterm/c64bridge/internal/sanitize"
	"github.com/retroterm/c64bridge/internal/telemetry"
)

// Config tunes the write handshake timing.
type Config struct {
	// ClearSettle is how long the C64 gets to observe the cleared length
	// byte before the new chunk lands.
	ClearSettle time.Duration
	// WriteSettle is how long the C64 gets to consume a chunk before the
	// caller proceeds (e.g. before a second, different-channel send).
	WriteSettle time.Duration
}

// DefaultConfig matches the pacing the C64 client expects.
func DefaultConfig() Config {
	return Config{
		ClearSettle: 200 * time.Millisecond,
		WriteSettle: time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ClearSettle <= 0 {
		c.ClearSettle = def.ClearSettle
	}
	if c.WriteSettle <= 0 {
		c.WriteSettle = def.WriteSettle
	}
	return c
}

// Sender writes messages into device mailbox channels.
type Sender struct {
	transport mailbox.Transport
	cfg       Config
	log       *zap.Logger
}

// New returns a Sender over transport.
func New(transport mailbox.Transport, cfg Config, log *zap.Logger) *Sender {
	return &Sender{transport: transport, cfg: cfg.withDefaults(), log: log}
}

// Send sanitizes, uppercases, and truncates text, then writes it into ch as
// a single chunk. The returned error is a delivery failure the caller must
// surface; it is never retried here.
func (s *Sender) Send(ctx context.Context, text string, ch mailbox.Channel) error {
	if text == "" {
		return nil
	}
	// The C64 keyboard world is uppercase; anything else renders as
	// graphics characters.
	text = strings.ToUpper(sanitize.ForC64(text))
	if len(text) > mailbox.MaxWrite {
		text = text[:mailbox.MaxWrite]
	}

	if err := s.deliver(ctx, text, ch); err != nil {
		return err
	}

	// Let the C64 consume the mailbox before the caller moves on. The
	// session is already closed here: an open monitor keeps the machine
	// paused, and a paused machine cannot drain the mailbox.
	return sleepCtx(ctx, s.cfg.WriteSettle)
}

// deliver performs the mailbox handshake within one short-lived session.
func (s *Sender) deliver(ctx context.Context, text string, ch mailbox.Channel) error {
	sess, err := s.transport.Open()
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	// Clear any previous message and give the C64 a beat to notice before
	// the fresh chunk replaces it.
	if err := sess.Write(ch.Base, []byte{0}); err != nil {
		return fmt.Errorf("clear length byte: %w", err)
	}
	if err := sleepCtx(ctx, s.cfg.ClearSettle); err != nil {
		return err
	}

	if err := sess.Write(ch.Base, mailbox.Encode(text)); err != nil {
		return fmt.Errorf("write chunk: %w", err)
	}
	if err := sess.Write(ch.Status, []byte{mailbox.StatusNone}); err != nil {
		return fmt.Errorf("reset status byte: %w", err)
	}

	s.log.Info("sent to device",
		zap.Int("chars", len(text)),
		zap.Uint16("base", ch.Base))
	telemetry.EmitMessageFeatures(ctx, directionFor(ch), text)
	return nil
}

// Clear zeroes the length byte of each channel, discarding any pending
// message in it.
func (s *Sender) Clear(channels ...mailbox.Channel) error {
	sess, err := s.transport.Open()
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()
	for _, ch := range channels {
		if err := sess.Write(ch.Base, []byte{0}); err != nil {
			return fmt.Errorf("clear %#04x: %w", ch.Base, err)
		}
	}
	return nil
}

func directionFor(ch mailbox.Channel) string {
	if ch.Base == mailbox.ThinkingAddr {
		return "thinking"
	}
	return "bridge_to_device"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
