// Package telemetry emits bridge events as JSON lines for offline
// inspection of exchange timing and mailbox behaviour.
package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Event names emitted by the bridge. Keeping them here makes the JSONL
// stream greppable from one place.
const (
	EventPollError       = "poll_error"
	EventMessageSealed   = "message_sealed"
	EventExchangeFailed  = "exchange_failed"
	EventMessageFeatures = "message_features"
)

// isObserveEnabled checks if JSONL emission is enabled.
func isObserveEnabled() bool {
	return os.Getenv("BRIDGE_OBSERVE_JSON") == "1"
}

// sinkDir resolves where events.jsonl lives. BRIDGE_ARTIFACTS_DIR
// relocates it (useful when several bridges share a working directory);
// the default is .bridge in the current directory.
func sinkDir() string {
	if dir := os.Getenv("BRIDGE_ARTIFACTS_DIR"); dir != "" {
		return dir
	}
	return ".bridge"
}

// Emit writes a single JSON line to events.jsonl in the sink directory
// when BRIDGE_OBSERVE_JSON=1. It augments fields with RFC3339Nano time and
// the event name.
func Emit(name string, fields map[string]any) {
	if !isObserveEnabled() {
		return
	}

	// Make a shallow copy so callers' maps aren't mutated.
	m := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		m[k] = v
	}
	m["time"] = time.Now().UTC().Format(time.RFC3339Nano)
	m["event"] = name

	b, err := json.Marshal(m)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry: marshal: %v\n", err)
		return
	}

	dir := sinkDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry: mkdir %s: %v\n", dir, err)
		return
	}

	path := filepath.Join(dir, "events.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry: open %s: %v\n", path, err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(b, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry: write %s: %v\n", path, err)
		return
	}
}
