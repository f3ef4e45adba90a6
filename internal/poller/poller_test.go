package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/retroterm/c64bridge/internal/mailbox"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeMem is an in-memory device whose mailbox region the poller reads and
// writes through short-lived sessions.
type fakeMem struct {
	mu        sync.Mutex
	mem       map[uint16]byte
	failOpen  bool
	failRead  bool
	failWrite bool
}

func newFakeMem() *fakeMem {
	return &fakeMem{mem: make(map[uint16]byte)}
}

func (f *fakeMem) Open() (mailbox.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOpen {
		return nil, errors.New("monitor unreachable")
	}
	return &fakeSession{f: f}, nil
}

// deviceWrite mimics the C64 storing a chunk: payload bytes, then the
// length byte, then the status byte.
func (f *fakeMem) deviceWrite(ch mailbox.Channel, payload string, status byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < len(payload); i++ {
		f.mem[ch.Base+1+uint16(i)] = payload[i]
	}
	f.mem[ch.Base] = byte(len(payload))
	f.mem[ch.Status] = status
}

func (f *fakeMem) byteAt(addr uint16) byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mem[addr]
}

type fakeSession struct {
	f *fakeMem
}

func (s *fakeSession) Read(start, end uint16) ([]byte, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if s.f.failRead {
		return nil, errors.New("read failed")
	}
	out := make([]byte, 0, end-start)
	for a := start; a < end; a++ {
		out = append(out, s.f.mem[a])
	}
	return out, nil
}

func (s *fakeSession) Write(addr uint16, data []byte) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if s.f.failWrite {
		return errors.New("write failed")
	}
	for i, b := range data {
		s.f.mem[addr+uint16(i)] = b
	}
	return nil
}

func (s *fakeSession) Ping() error  { return nil }
func (s *fakeSession) Close() error { return nil }

// testPoller wires a poller with a manual clock so debounce is
// deterministic. Each step() call is one poll tick.
func testPoller(f *fakeMem) (*Poller, *time.Time, *[]string) {
	clock := time.Unix(1000, 0)
	var got []string
	p := New(f, Config{
		Channel:  mailbox.Outgoing,
		Interval: time.Millisecond,
		Debounce: 500 * time.Millisecond,
	}, func(msg string) { got = append(got, msg) }, zap.NewNop())
	p.now = func() time.Time { return clock }
	return p, &clock, &got
}

func advance(clock *time.Time, d time.Duration) { *clock = clock.Add(d) }

func TestStep_SingleChunk(t *testing.T) {
	f := newFakeMem()
	p, clock, got := testPoller(f)

	f.deviceWrite(mailbox.Outgoing, "HELLO", mailbox.StatusNone)

	// First sight of the header starts the debounce; payload untouched.
	if err := p.step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if p.State() != StateAccumulating {
		t.Fatalf("state = %v, want accumulating", p.State())
	}
	if len(*got) != 0 {
		t.Fatalf("delivered early: %q", *got)
	}

	// Quiescent past the debounce window: chunk is read and sealed.
	advance(clock, 600*time.Millisecond)
	if err := p.step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if len(*got) != 1 || (*got)[0] != "HELLO" {
		t.Fatalf("delivered = %q, want [HELLO]", *got)
	}
	if f.byteAt(mailbox.Outgoing.Base) != 0 {
		t.Fatal("length byte not zeroed after read")
	}
	if f.byteAt(mailbox.Outgoing.Status) != mailbox.StatusNone {
		t.Fatal("status byte not reset after sealing")
	}
	if p.State() != StateIdle {
		t.Fatalf("state = %v, want idle", p.State())
	}
}

func TestStep_MultiChunkReassembly(t *testing.T) {
	f := newFakeMem()
	p, clock, got := testPoller(f)

	chunks := []struct {
		payload string
		status  byte
	}{
		{"FIRST ", mailbox.StatusMore},
		{"SECOND ", mailbox.StatusMore},
		{"THIRD", mailbox.StatusLast},
	}
	for _, c := range chunks {
		f.deviceWrite(mailbox.Outgoing, c.payload, c.status)
		if err := p.step(); err != nil { // header observed, debounce starts
			t.Fatalf("step: %v", err)
		}
		advance(clock, 600*time.Millisecond)
		if err := p.step(); err != nil { // quiescent, chunk consumed
			t.Fatalf("step: %v", err)
		}
		if f.byteAt(mailbox.Outgoing.Base) != 0 {
			t.Fatal("chunk not acknowledged")
		}
	}

	if len(*got) != 1 {
		t.Fatalf("deliveries = %d, want exactly 1", len(*got))
	}
	if want := "FIRST SECOND THIRD"; (*got)[0] != want {
		t.Fatalf("message = %q, want %q", (*got)[0], want)
	}
}

func TestStep_HeaderFlapRestartsDebounce(t *testing.T) {
	f := newFakeMem()
	p, clock, got := testPoller(f)

	f.deviceWrite(mailbox.Outgoing, "HELLO", mailbox.StatusNone)
	if err := p.step(); err != nil {
		t.Fatalf("step: %v", err)
	}

	// Length flips 5 -> 0 -> 5 inside the window: the 0 read clears the
	// tracked header, the new 5 restarts the debounce from scratch.
	advance(clock, 200*time.Millisecond)
	f.mu.Lock()
	f.mem[mailbox.Outgoing.Base] = 0
	f.mu.Unlock()
	if err := p.step(); err != nil {
		t.Fatalf("step: %v", err)
	}

	advance(clock, 200*time.Millisecond)
	f.deviceWrite(mailbox.Outgoing, "HELLO", mailbox.StatusNone)
	if err := p.step(); err != nil {
		t.Fatalf("step: %v", err)
	}

	// 400ms after the original sighting but only just re-observed: the
	// payload must not be trusted yet.
	advance(clock, 400*time.Millisecond)
	if err := p.step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if len(*got) != 0 {
		t.Fatalf("delivered before quiescence: %q", *got)
	}

	advance(clock, 200*time.Millisecond)
	if err := p.step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if len(*got) != 1 || (*got)[0] != "HELLO" {
		t.Fatalf("delivered = %q, want [HELLO]", *got)
	}
}

func TestStep_StatusChurnToMoreRestartsDebounce(t *testing.T) {
	f := newFakeMem()
	p, clock, got := testPoller(f)

	f.deviceWrite(mailbox.Outgoing, "HELLO", mailbox.StatusNone)
	if err := p.step(); err != nil {
		t.Fatalf("step: %v", err)
	}

	// Status transitions into MORE mid-window: mid-write, start over.
	advance(clock, 400*time.Millisecond)
	f.mu.Lock()
	f.mem[mailbox.Outgoing.Status] = mailbox.StatusMore
	f.mu.Unlock()
	if err := p.step(); err != nil {
		t.Fatalf("step: %v", err)
	}

	advance(clock, 400*time.Millisecond)
	if err := p.step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if len(*got) != 0 {
		t.Fatalf("delivered before quiescence: %q", *got)
	}

	// Steady MORE past the window: the chunk is consumed and accumulation
	// continues (no delivery yet).
	advance(clock, 200*time.Millisecond)
	if err := p.step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if len(*got) != 0 {
		t.Fatalf("MORE chunk must not seal the message: %q", *got)
	}
	if p.State() != StateAccumulating {
		t.Fatalf("state = %v, want accumulating", p.State())
	}
}

func TestStep_ZeroLengthIsNoMessage(t *testing.T) {
	f := newFakeMem()
	p, _, got := testPoller(f)

	for i := 0; i < 5; i++ {
		if err := p.step(); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	if len(*got) != 0 {
		t.Fatalf("delivered = %q, want none", *got)
	}
	if p.State() != StateIdle {
		t.Fatalf("state = %v, want idle", p.State())
	}
}

func TestStep_TransportErrorAbandonsAccumulation(t *testing.T) {
	f := newFakeMem()
	p, clock, got := testPoller(f)

	// Consume one MORE chunk into the buffer.
	f.deviceWrite(mailbox.Outgoing, "LOST ", mailbox.StatusMore)
	if err := p.step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	advance(clock, 600*time.Millisecond)
	if err := p.step(); err != nil {
		t.Fatalf("step: %v", err)
	}

	// Transport dies: the in-progress accumulation is abandoned.
	f.mu.Lock()
	f.failRead = true
	f.mu.Unlock()
	if err := p.step(); err == nil {
		t.Fatal("expected transport error")
	}
	f.mu.Lock()
	f.failRead = false
	f.mu.Unlock()

	// A complete message delivered afterwards carries no stale prefix.
	f.deviceWrite(mailbox.Outgoing, "FRESH", mailbox.StatusLast)
	if err := p.step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	advance(clock, 600*time.Millisecond)
	if err := p.step(); err != nil {
		t.Fatalf("step: %v", err)
	}

	if len(*got) != 1 || (*got)[0] != "FRESH" {
		t.Fatalf("delivered = %q, want [FRESH]", *got)
	}
}

func TestStep_JunkBytesStripped(t *testing.T) {
	f := newFakeMem()
	p, clock, got := testPoller(f)

	f.deviceWrite(mailbox.Outgoing, "HI\xffTHERE", mailbox.StatusNone)
	if err := p.step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	advance(clock, 600*time.Millisecond)
	if err := p.step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if len(*got) != 1 || (*got)[0] != "HITHERE" {
		t.Fatalf("delivered = %q, want [HITHERE]", *got)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFakeMem()
	p := New(f, Config{
		Channel:  mailbox.Outgoing,
		Interval: time.Millisecond,
		Debounce: time.Millisecond,
	}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil on cancel", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRun_SurvivesTransportErrors(t *testing.T) {
	f := newFakeMem()
	f.failOpen = true

	var mu sync.Mutex
	var got []string
	p := New(f, Config{
		Channel:       mailbox.Outgoing,
		Interval:      time.Millisecond,
		Debounce:      time.Millisecond,
		ErrorCooldown: time.Millisecond,
	}, func(msg string) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// Let it fail a few times, then recover and post a message.
	time.Sleep(20 * time.Millisecond)
	f.mu.Lock()
	f.failOpen = false
	f.mu.Unlock()
	f.deviceWrite(mailbox.Outgoing, "BACK", mailbox.StatusNone)

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("poller never recovered from transport errors")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if got[0] != "BACK" {
		t.Fatalf("delivered = %q, want BACK", got[0])
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.Interval != 500*time.Millisecond || cfg.Debounce != 500*time.Millisecond {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Channel != mailbox.Outgoing {
		t.Fatalf("default channel = %+v", cfg.Channel)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		StateIdle:         "idle",
		StateAccumulating: "accumulating",
		StateStable:       "stable",
		StateDelivered:    "delivered",
		State(9):          "state(9)",
	} {
		if got := s.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
	_ = fmt.Sprintf("%v", StateIdle)
}
