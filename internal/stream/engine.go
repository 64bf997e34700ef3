package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentmesh/workshop/internal/model"
	"github.com/agentmesh/workshop/internal/registry"
)

// keepaliveInterval is how often the background loop emits a comment-only
// frame to every live subscriber (spec §4.E).
const keepaliveInterval = 20 * time.Second

// Engine is the fan-out + keepalive engine (spec §4.E). It owns no
// persistence; callers are responsible for durably inserting an envelope
// before calling FanOut, since ordering correctness depends on
// persist-then-fan-out happening in that order under the log's write
// serialization (spec §4.E design note).
type Engine struct {
	reg    *registry.Registry
	logger *slog.Logger
}

// NewEngine builds a fan-out engine bound to reg.
func NewEngine(reg *registry.Registry, logger *slog.Logger) *Engine {
	return &Engine{reg: reg, logger: logger}
}

// FanOut encodes e once and delivers it to every subscriber of e.Channel
// and, unless e.Channel is itself the all-channels sentinel, to every
// subscriber of the sentinel too. A send failure evicts that handle from
// the channel it failed on; it is otherwise swallowed (spec §4.E, §7).
func (eng *Engine) FanOut(e *model.Envelope) {
	frame, err := EncodeFrame(e)
	if err != nil {
		eng.logger.Error("encode frame failed", "id", e.ID, "error", err)
		return
	}

	eng.deliver(e.Channel, frame)
	if e.Channel != registry.All {
		eng.deliver(registry.All, frame)
	}
}

func (eng *Engine) deliver(ch string, frame []byte) {
	for _, h := range eng.reg.Snapshot(ch) {
		if err := h.Send(frame); err != nil {
			eng.reg.Unsubscribe(ch, h)
		}
	}
}

// RunKeepalive runs the keepalive loop until ctx is cancelled, waking every
// 20 seconds to write a comment-only frame to every subscriber of every
// channel (including the all-channels sentinel). Failures evict the
// affected handle.
func (eng *Engine) RunKeepalive(ctx context.Context) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			eng.broadcastKeepalive()
		}
	}
}

func (eng *Engine) broadcastKeepalive() {
	frame := KeepaliveFrame()
	channels := eng.reg.AllChannels()
	channels = append(channels, registry.All)
	for _, ch := range channels {
		eng.deliver(ch, frame)
	}
}
