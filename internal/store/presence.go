package store

import (
	"encoding/json"
	"fmt"

	"github.com/agentmesh/workshop/internal/model"
)

// UpsertPresence inserts or overwrites a heartbeat row keyed by agent_id.
func (s *Store) UpsertPresence(p *model.Presence) error {
	channelsJSON, err := json.Marshal(p.Channels)
	if err != nil {
		return fmt.Errorf("marshal channels: %w", err)
	}
	meta := p.Meta
	if len(meta) == 0 {
		meta = []byte("{}")
	}

	_, err = s.db.Exec(`
		INSERT INTO presence (agent_id, last_seen, channels, meta) VALUES (?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET last_seen = excluded.last_seen, channels = excluded.channels, meta = excluded.meta
	`, p.AgentID, p.LastSeen, string(channelsJSON), string(meta))
	if err != nil {
		return fmt.Errorf("upsert presence: %w", err)
	}
	return nil
}

// LivePresence returns agents whose last_seen is within the given window of
// now (spec §4.I: live iff now - last_seen <= 60s).
func (s *Store) LivePresence(now, windowSeconds float64) ([]*model.Presence, error) {
	rows, err := s.db.Query(`
		SELECT agent_id, last_seen, channels, meta FROM presence WHERE last_seen >= ?
		ORDER BY agent_id
	`, now-windowSeconds)
	if err != nil {
		return nil, fmt.Errorf("query presence: %w", err)
	}
	defer rows.Close()

	var out []*model.Presence
	for rows.Next() {
		var p model.Presence
		var channels, meta string
		if err := rows.Scan(&p.AgentID, &p.LastSeen, &channels, &meta); err != nil {
			return nil, fmt.Errorf("scan presence: %w", err)
		}
		if err := json.Unmarshal([]byte(channels), &p.Channels); err != nil {
			return nil, fmt.Errorf("unmarshal channels: %w", err)
		}
		p.Meta = json.RawMessage(meta)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// CountLivePresence returns the number of agents currently live.
func (s *Store) CountLivePresence(now, windowSeconds float64) (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM presence WHERE last_seen >= ?`, now-windowSeconds).Scan(&n)
	return n, err
}

// DeletePresenceOlderThan deletes presence rows with last_seen < cutoff.
func (s *Store) DeletePresenceOlderThan(cutoff float64) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM presence WHERE last_seen < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old presence: %w", err)
	}
	return res.RowsAffected()
}
