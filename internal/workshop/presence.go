package workshop

import (
	"encoding/json"

	"github.com/agentmesh/workshop/internal/apierr"
	"github.com/agentmesh/workshop/internal/model"
)

// liveWindowSeconds is how recent last_seen must be for a presence row to
// count as live (spec §3).
const liveWindowSeconds = 60

// HeartbeatInput is the decoded request body for a presence heartbeat.
type HeartbeatInput struct {
	AgentID  string          `json:"agent_id"`
	Channels []string        `json:"channels"`
	Meta     json.RawMessage `json:"meta"`
}

// Heartbeat upserts a presence row, overwriting channels/meta and stamping
// last_seen to now.
func (w *Workshop) Heartbeat(in HeartbeatInput) (*model.Presence, error) {
	if in.AgentID == "" {
		return nil, apierr.BadRequest("agent_id must be non-empty")
	}
	channels := in.Channels
	if channels == nil {
		channels = []string{}
	}
	meta := in.Meta
	if len(meta) == 0 {
		meta = json.RawMessage("{}")
	}

	p := &model.Presence{
		AgentID:  in.AgentID,
		LastSeen: now(),
		Channels: channels,
		Meta:     meta,
	}
	if err := w.store.UpsertPresence(p); err != nil {
		return nil, err
	}
	return p, nil
}

// LivePresence returns every agent seen within the live window.
func (w *Workshop) LivePresence() ([]*model.Presence, error) {
	return w.store.LivePresence(now(), liveWindowSeconds)
}
