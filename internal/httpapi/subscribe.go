package httpapi

import (
	"net/http"

	"github.com/agentmesh/workshop/internal/stream"
)

// subscribeChannel backs GET/HEAD /ch/{ch} and GET/HEAD /. An empty
// PathValue("ch") (the root route) subscribes to the all-channels
// sentinel (spec §4.F, GLOSSARY: all-channels sentinel).
func (h *handler) subscribeChannel(w http.ResponseWriter, r *http.Request) {
	ch := r.PathValue("ch")
	if err := stream.Subscribe(w, r, h.st, h.reg, h.logger, ch); err != nil {
		h.logger.Debug("subscriber disconnected", "channel", ch, "error", err)
	}
}
