package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agentmesh/workshop/internal/model"
)

// ErrTaskNotFound is returned when a task id has no matching row.
var ErrTaskNotFound = errors.New("task not found")

// InsertTask persists a newly created task row.
func (s *Store) InsertTask(t *model.Task) error {
	filesJSON, err := json.Marshal(t.Files)
	if err != nil {
		return fmt.Errorf("marshal files: %w", err)
	}
	context := t.Context
	if len(context) == 0 {
		context = []byte("{}")
	}

	_, err = s.db.Exec(`
		INSERT INTO tasks (id, created_at, updated_at, created_by, assigned_to, claimed_by, claimed_at, status, title, context, result, files, ch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.CreatedAt, t.UpdatedAt, t.CreatedBy, nullIfEmpty(t.AssignedTo), nullIfEmpty(t.ClaimedBy),
		nullIfZero(t.ClaimedAt), string(t.Status), t.Title, string(context), nullRaw(t.Result), string(filesJSON), t.Channel)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask fetches a task by id. Returns ErrTaskNotFound if absent.
func (s *Store) GetTask(id string) (*model.Task, error) {
	row := s.db.QueryRow(`
		SELECT id, created_at, updated_at, created_by, assigned_to, claimed_by, claimed_at, status, title, context, result, files, ch
		FROM tasks WHERE id = ?
	`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return t, err
}

// ListTasksOpts filters the task list.
type ListTasksOpts struct {
	Status   model.TaskStatus // empty means any status
	For      string           // matches assigned_to OR claimed_by; empty means no filter
	Assigned string           // strict assigned_to match; empty means no filter
	Claimed  string           // strict claimed_by match; empty means no filter
}

// ListTasks returns tasks matching opts, ordered DESC by created_at (then id
// as a tiebreaker for tasks with equal created_at).
func (s *Store) ListTasks(opts ListTasksOpts) ([]*model.Task, error) {
	query := `
		SELECT id, created_at, updated_at, created_by, assigned_to, claimed_by, claimed_at, status, title, context, result, files, ch
		FROM tasks WHERE 1=1`
	var args []any

	if opts.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(opts.Status))
	}
	if opts.For != "" {
		query += ` AND (assigned_to = ? OR claimed_by = ?)`
		args = append(args, opts.For, opts.For)
	}
	if opts.Assigned != "" {
		query += ` AND assigned_to = ?`
		args = append(args, opts.Assigned)
	}
	if opts.Claimed != "" {
		query += ` AND claimed_by = ?`
		args = append(args, opts.Claimed)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []*model.Task
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Claim atomically transitions a task from open to claimed, guarded by a
// WHERE status='open' clause: only the single UPDATE that observes status
// still equal to 'open' mutates the row, because the store serializes
// writes (spec §4.H). Returns the post-update row.
func (s *Store) Claim(id, claimant string, now float64) (*model.Task, error) {
	res, err := s.db.Exec(`
		UPDATE tasks SET status = 'claimed', claimed_by = ?, claimed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'open'
	`, claimant, now, now, id)
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim rows affected: %w", err)
	}

	t, err := s.GetTask(id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// This UPDATE was a no-op: either the task was never open, or
		// another claimant's UPDATE won the race first.
		return t, errNoRowsUpdated
	}
	return t, nil
}

// errNoRowsUpdated signals the guarded UPDATE above matched zero rows. The
// task engine distinguishes "not open" from "lost the race" by comparing
// the returned row's claimed_by against the caller's identity.
var errNoRowsUpdated = errors.New("no rows updated")

// IsNoRowsUpdated reports whether err is the sentinel returned by Claim,
// Done, or Abandon when their guarded UPDATE matched no rows.
func IsNoRowsUpdated(err error) bool {
	return errors.Is(err, errNoRowsUpdated)
}

// Done transitions a claimed task to done, guarded by WHERE status='claimed'.
func (s *Store) Done(id string, result json.RawMessage, files []string, now float64) (*model.Task, error) {
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return nil, fmt.Errorf("marshal files: %w", err)
	}
	res, err := s.db.Exec(`
		UPDATE tasks SET status = 'done', result = ?, files = ?, updated_at = ?
		WHERE id = ? AND status = 'claimed'
	`, nullRaw(result), string(filesJSON), now, id)
	if err != nil {
		return nil, fmt.Errorf("done task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	t, err := s.GetTask(id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return t, errNoRowsUpdated
	}
	return t, nil
}

// Abandon transitions a claimed task back to open, guarded by
// WHERE status='claimed'.
func (s *Store) Abandon(id string, now float64) (*model.Task, error) {
	res, err := s.db.Exec(`
		UPDATE tasks SET status = 'open', claimed_by = NULL, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'claimed'
	`, now, id)
	if err != nil {
		return nil, fmt.Errorf("abandon task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	t, err := s.GetTask(id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return t, errNoRowsUpdated
	}
	return t, nil
}

// TouchTask bumps updated_at without changing any other column, for the
// stateless `update` announcement (spec §9: no silent column updates).
func (s *Store) TouchTask(id string, now float64) error {
	res, err := s.db.Exec(`UPDATE tasks SET updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return fmt.Errorf("touch task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// CountTasksByStatus returns the number of tasks in the given status.
func (s *Store) CountTasksByStatus(status model.TaskStatus) (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM tasks WHERE status = ?`, string(status)).Scan(&n)
	return n, err
}

func scanTask(row *sql.Row) (*model.Task, error) {
	return scanTaskGeneric(row)
}

func scanTaskRows(rows *sql.Rows) (*model.Task, error) {
	return scanTaskGeneric(rows)
}

func scanTaskGeneric(r rowScanner) (*model.Task, error) {
	var t model.Task
	var assignedTo, claimedBy, resultStr, filesStr, context sql.NullString
	var claimedAt sql.NullFloat64
	var status string

	err := r.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt, &t.CreatedBy, &assignedTo, &claimedBy, &claimedAt,
		&status, &t.Title, &context, &resultStr, &filesStr, &t.Channel)
	if err != nil {
		return nil, err
	}

	t.Status = model.TaskStatus(status)
	if assignedTo.Valid {
		t.AssignedTo = assignedTo.String
	}
	if claimedBy.Valid {
		t.ClaimedBy = claimedBy.String
	}
	if claimedAt.Valid {
		t.ClaimedAt = claimedAt.Float64
	}
	if context.Valid {
		t.Context = json.RawMessage(context.String)
	}
	if resultStr.Valid {
		t.Result = json.RawMessage(resultStr.String)
	}
	if filesStr.Valid {
		if err := json.Unmarshal([]byte(filesStr.String), &t.Files); err != nil {
			return nil, fmt.Errorf("unmarshal task files: %w", err)
		}
	}
	return &t, nil
}

func nullIfZero(f float64) any {
	if f == 0 {
		return nil
	}
	return f
}

func nullRaw(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
