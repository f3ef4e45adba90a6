package telemetry

import (
	"context"

	"github.com/retroterm/c64bridge/internal/metrics"
)

// EmitMessageFeatures records size features of one text travelling through
// the bridge: direction is "device_to_bridge", "bridge_to_device", or
// "thinking".
func EmitMessageFeatures(ctx context.Context, direction, text string) {
	if !isObserveEnabled() {
		return
	}
	exchangeID, _ := ExchangeIDFromContext(ctx)
	f := metrics.CountFeatures(text)
	Emit(EventMessageFeatures, map[string]any{
		"exchange_id": exchangeID,
		"direction":   direction,
		"bytes":       f.Bytes,
		"runes":       f.Runes,
		"words":       f.Words,
		"non_ascii":   f.NonASCII,
	})
}
