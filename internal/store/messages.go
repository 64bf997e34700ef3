package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/agentmesh/workshop/internal/model"
)

// InsertMessage persists an envelope. Envelopes are immutable once
// persisted; there is no update path.
func (s *Store) InsertMessage(e *model.Envelope) error {
	filesJSON, err := json.Marshal(e.Files)
	if err != nil {
		return fmt.Errorf("marshal files: %w", err)
	}
	body := e.Body
	if len(body) == 0 {
		body = []byte("{}")
	}

	_, err = s.db.Exec(`
		INSERT INTO messages (id, ts, from_id, ch, type, v, body, files, reply_to)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.TS, e.From, e.Channel, e.Type, e.V, string(body), string(filesJSON), nullIfEmpty(e.ReplyTo))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// QueryMessagesOpts narrows a channel or global history query.
type QueryMessagesOpts struct {
	Channel     string // empty means all channels
	Since       string // strict id > Since; empty means no lower bound
	TypePrefix  string // empty means no type filter
	Limit       int
	Ascending   bool // false (default) orders DESC by id, matching publish-recency queries
}

const maxHistoryLimit = 200

// QueryMessages returns envelopes matching opts, most recent first unless
// Ascending is set (gap recovery always replays in ascending id order).
func (s *Store) QueryMessages(opts QueryMessagesOpts) ([]*model.Envelope, error) {
	limit := opts.Limit
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	query := `SELECT id, ts, from_id, ch, type, v, body, files, reply_to FROM messages WHERE 1=1`
	var args []any

	if opts.Channel != "" {
		query += ` AND ch = ?`
		args = append(args, opts.Channel)
	}
	if opts.Since != "" {
		query += ` AND id > ?`
		args = append(args, opts.Since)
	}
	if opts.TypePrefix != "" {
		query += ` AND type LIKE ?`
		args = append(args, opts.TypePrefix+"%")
	}

	if opts.Ascending {
		query += ` ORDER BY id ASC`
	} else {
		query += ` ORDER BY id DESC`
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []*model.Envelope
	for rows.Next() {
		e, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Channels returns the distinct set of channel names that have ever
// received a message.
func (s *Store) Channels() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT ch FROM messages ORDER BY ch`)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ch string
		if err := rows.Scan(&ch); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// CountMessages returns the total number of persisted messages.
func (s *Store) CountMessages() (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

// DeleteMessagesOlderThan deletes messages with ts < cutoff, returning the
// number of rows removed.
func (s *Store) DeleteMessagesOlderThan(cutoff float64) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM messages WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old messages: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnvelope(r rowScanner) (*model.Envelope, error) {
	var e model.Envelope
	var body, files string
	var replyTo sql.NullString

	if err := r.Scan(&e.ID, &e.TS, &e.From, &e.Channel, &e.Type, &e.V, &body, &files, &replyTo); err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	e.Body = json.RawMessage(body)
	if err := json.Unmarshal([]byte(files), &e.Files); err != nil {
		return nil, fmt.Errorf("unmarshal files: %w", err)
	}
	if replyTo.Valid {
		e.ReplyTo = replyTo.String
	}
	return &e, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
