// Package bridge wires the poller's output through a generation provider
// and back out to the device: one exchange per sealed logical message.
package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/retroterm/c64bridge/internal/mailbox"
	"github.com/retroterm/c64bridge/internal/provider"
	"github.com/retroterm/c64bridge/internal/sanitize"
	"github.com/retroterm/c64bridge/internal/sender"
	"github.com/retroterm/c64bridge/internal/telemetry"
	"github.com/retroterm/c64bridge/memory"
)

// Config selects the active channel set and exchange pacing. Relaying
// thinking is a configuration choice, not a structural fork: with
// RelayThinking off the bridge behaves like the response-only variant.
type Config struct {
	RelayThinking bool
	// ThinkingSettle is the extra pause after a thinking send, giving the
	// C64 time to show it before the answer overwrites the screen.
	ThinkingSettle time.Duration
	// ProgressNudge fires a "still thinking" note if a long exchange has
	// not delivered after this delay. ProgressMinChars gates it to inputs
	// long enough to plausibly take a while.
	ProgressNudge    time.Duration
	ProgressMinChars int
}

// DefaultConfig matches the original pacing.
func DefaultConfig() Config {
	return Config{
		RelayThinking:    true,
		ThinkingSettle:   2 * time.Second,
		ProgressNudge:    5 * time.Second,
		ProgressMinChars: 50,
	}
}

const progressText = "STILL THINKING... PLEASE WAIT..."

// Bridge orchestrates exchanges. Overlapping exchanges are possible when
// the device seals a second message while the first is still generating;
// answers may then arrive out of request order. Accepted risk.
type Bridge struct {
	conv      *memory.Conversation
	gen       provider.Generator
	snd       *sender.Sender
	transport mailbox.Transport
	cfg       Config
	log       *zap.Logger

	seq atomic.Uint64
	wg  sync.WaitGroup
}

// New assembles a bridge.
func New(transport mailbox.Transport, gen provider.Generator, snd *sender.Sender, conv *memory.Conversation, cfg Config, log *zap.Logger) *Bridge {
	if cfg.ThinkingSettle <= 0 {
		cfg.ThinkingSettle = DefaultConfig().ThinkingSettle
	}
	if cfg.ProgressMinChars <= 0 {
		cfg.ProgressMinChars = DefaultConfig().ProgressMinChars
	}
	return &Bridge{
		conv:      conv,
		gen:       gen,
		snd:       snd,
		transport: transport,
		cfg:       cfg,
		log:       log,
	}
}

// InitializeDevice pings the monitor and zeroes every mailbox field so a
// previous run's leftovers cannot be mistaken for traffic. Failure here is
// the one fatal startup condition.
func (b *Bridge) InitializeDevice() error {
	sess, err := b.transport.Open()
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()
	if err := sess.Ping(); err != nil {
		return fmt.Errorf("ping monitor: %w", err)
	}
	for _, addr := range []uint16{
		mailbox.IncomingAddr,
		mailbox.OutgoingAddr,
		mailbox.OutgoingStatusAddr,
		mailbox.ThinkingAddr,
		mailbox.ThinkingStatusAddr,
	} {
		if err := sess.Write(addr, []byte{0}); err != nil {
			return fmt.Errorf("clear %#04x: %w", addr, err)
		}
	}
	return nil
}

// HandleMessage is the poller's delivery callback. Each message becomes an
// independent exchange goroutine so a slow generation never stalls polling
// for the next message.
func (b *Bridge) HandleMessage(msg string) {
	// Slash-prefixed text is a device-side command, not conversation.
	if strings.HasPrefix(msg, "/") {
		b.log.Info("ignoring device command", zap.String("msg", msg))
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.Exchange(msg)
	}()
}

// Exchange runs one full round-trip: append the user turn, generate,
// deliver thinking then answer. Errors are converted into a device-visible
// ERROR message; the user turn is never rolled back. The generation runs on
// a background context: shutdown stops the poll loop, not in-flight work.
func (b *Bridge) Exchange(msg string) {
	id := fmt.Sprintf("exch-%d", b.seq.Add(1))
	ctx := telemetry.WithExchangeID(context.Background(), id)
	log := b.log.With(zap.String("exchange", id))

	telemetry.EmitMessageFeatures(ctx, "device_to_bridge", msg)
	log.Info("exchange started", zap.Int("chars", len(msg)))

	done := make(chan struct{})
	defer close(done)
	if b.cfg.ProgressNudge > 0 && len(msg) > b.cfg.ProgressMinChars {
		go b.progressNudge(ctx, done)
	}

	b.conv.Append(memory.RoleUser, msg)

	start := time.Now()
	res, err := b.gen.Converse(ctx, b.conv.Snapshot())
	if err != nil {
		log.Error("generation failed", zap.Error(err))
		telemetry.Emit(telemetry.EventExchangeFailed, map[string]any{"exchange_id": id, "error": err.Error()})
		errText := provider.Truncate("ERROR: "+sanitize.ForC64(err.Error()), provider.DeviceTextCap)
		if sendErr := b.snd.Send(ctx, errText, mailbox.Incoming); sendErr != nil {
			log.Error("error delivery failed", zap.Error(sendErr))
		}
		return
	}
	log.Info("generation complete",
		zap.Duration("took", time.Since(start)),
		zap.Int("answer_chars", len(res.Answer)),
		zap.Int("thinking_chars", len(res.Thinking)))

	if res.Thinking != "" && b.cfg.RelayThinking {
		thinking := provider.Truncate(res.Thinking, provider.DeviceTextCap)
		if err := b.snd.Send(ctx, thinking, mailbox.Thinking); err != nil {
			log.Warn("thinking delivery failed", zap.Error(err))
		} else if err := sleepCtx(ctx, b.cfg.ThinkingSettle); err != nil {
			return
		}
	}

	if res.Answer == "" {
		log.Warn("empty answer, nothing to deliver")
		return
	}
	b.conv.Append(memory.RoleAssistant, res.Answer)
	if err := b.snd.Send(ctx, res.Answer, mailbox.Incoming); err != nil {
		log.Error("answer delivery failed", zap.Error(err))
	}
}

// progressNudge tells the C64 the exchange is still alive. Suppressed once
// the exchange finishes.
func (b *Bridge) progressNudge(ctx context.Context, done <-chan struct{}) {
	select {
	case <-done:
		return
	case <-time.After(b.cfg.ProgressNudge):
	}
	select {
	case <-done:
		return
	default:
	}
	if err := b.snd.Send(ctx, progressText, mailbox.Incoming); err != nil {
		b.log.Warn("progress nudge failed", zap.Error(err))
	}
}

// ReadOutgoing drains the device's outbound mailbox once, bypassing the
// poller. Used by the operator's /read command.
func (b *Bridge) ReadOutgoing() (string, error) {
	sess, err := b.transport.Open()
	if err != nil {
		return "", fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	hdr, err := sess.Read(mailbox.OutgoingAddr, mailbox.OutgoingAddr+1)
	if err != nil || len(hdr) < 1 {
		if err == nil {
			err = fmt.Errorf("empty read")
		}
		return "", fmt.Errorf("read length byte: %w", err)
	}
	length := hdr[0]
	if length == 0 {
		return "", nil
	}
	payload, err := sess.Read(mailbox.OutgoingAddr+1, mailbox.OutgoingAddr+1+uint16(length))
	if err != nil {
		return "", fmt.Errorf("read payload: %w", err)
	}
	if err := sess.Write(mailbox.OutgoingAddr, []byte{0}); err != nil {
		return "", fmt.Errorf("clear length byte: %w", err)
	}
	return mailbox.Decode(length, payload), nil
}

// ClearInbound zeroes both bridge-to-device mailboxes (/clear).
func (b *Bridge) ClearInbound() error {
	return b.snd.Clear(mailbox.Incoming, mailbox.Thinking)
}

// ResetConversation clears the history (/reset).
func (b *Bridge) ResetConversation() {
	b.conv.Reset()
	b.log.Info("conversation reset")
}

// Wait blocks until all in-flight exchanges are done. Tests use it; normal
// shutdown deliberately does not (in-flight work runs to completion on its
// own and the process exits when the operator quits).
func (b *Bridge) Wait() { b.wg.Wait() }

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
