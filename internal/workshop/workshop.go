// Package workshop is the domain layer: the publish pipeline, the task
// state machine, presence tracking, and the retention loop (spec §4.G,
// §4.H, §4.I, §4.J). It depends on internal/store for durability and
// internal/stream for fan-out, and returns internal/apierr errors so the
// HTTP layer never has to know domain rules to report them correctly.
package workshop

import (
	"log/slog"
	"time"

	"github.com/agentmesh/workshop/internal/stream"
	"github.com/agentmesh/workshop/internal/store"
)

// Workshop wires the durable log to the fan-out engine and implements every
// domain operation: publish, the task state machine, presence, retention.
type Workshop struct {
	store  *store.Store
	stream *stream.Engine
	logger *slog.Logger
}

// New builds a Workshop over an already-open store and stream engine.
func New(st *store.Store, eng *stream.Engine, logger *slog.Logger) *Workshop {
	return &Workshop{store: st, stream: eng, logger: logger}
}

// now returns the current time as fractional seconds since the epoch, the
// unit every timestamp field in the system uses (spec §3).
func now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
