package workshop

import (
	"encoding/json"
	"errors"

	"github.com/agentmesh/workshop/internal/apierr"
	"github.com/agentmesh/workshop/internal/model"
	"github.com/agentmesh/workshop/internal/store"
	"github.com/agentmesh/workshop/internal/wid"
)

// defaultTaskChannel is used when a task create request omits ch (spec §3).
const defaultTaskChannel = "tasks"

// CreateTaskInput is the decoded request body for task creation.
type CreateTaskInput struct {
	From      string          `json:"from"`
	CreatedBy string          `json:"created_by"`
	Title     string          `json:"title"`
	Assigned  string          `json:"assigned_to"`
	Context   json.RawMessage `json:"context"`
	Channel   string          `json:"ch"`
}

// CreateTask inserts a new open task and emits task.created.
func (w *Workshop) CreateTask(in CreateTaskInput) (*model.Task, error) {
	if in.Title == "" {
		return nil, apierr.BadRequest("title must be non-empty")
	}
	createdBy := in.CreatedBy
	if createdBy == "" {
		createdBy = in.From
	}
	if createdBy == "" {
		return nil, apierr.BadRequest("from or created_by must be non-empty")
	}

	ch := in.Channel
	if ch == "" {
		ch = defaultTaskChannel
	}
	ctx := in.Context
	if len(ctx) == 0 {
		ctx = json.RawMessage("{}")
	}

	ts := now()
	t := &model.Task{
		ID:         wid.New(),
		CreatedAt:  ts,
		UpdatedAt:  ts,
		CreatedBy:  createdBy,
		AssignedTo: in.Assigned,
		Status:     model.TaskOpen,
		Title:      in.Title,
		Context:    ctx,
		Channel:    ch,
	}
	if err := w.store.InsertTask(t); err != nil {
		return nil, err
	}

	w.publishEvent(ch, "task.created", t.ID, t.Title, nil)
	return t, nil
}

// GetTask fetches a task by id, mapping a missing row to 404.
func (w *Workshop) GetTask(id string) (*model.Task, error) {
	t, err := w.store.GetTask(id)
	if errors.Is(err, store.ErrTaskNotFound) {
		return nil, apierr.NotFound("task %s not found", id)
	}
	return t, err
}

// ListTasksInput narrows the task listing.
type ListTasksInput struct {
	Status   model.TaskStatus
	For      string
	Assigned string
	Claimed  string
}

// ListTasks returns tasks matching in.
func (w *Workshop) ListTasks(in ListTasksInput) ([]*model.Task, error) {
	return w.store.ListTasks(store.ListTasksOpts{
		Status:   in.Status,
		For:      in.For,
		Assigned: in.Assigned,
		Claimed:  in.Claimed,
	})
}

// ClaimTaskInput is the decoded request body for a claim attempt.
type ClaimTaskInput struct {
	From string `json:"from"`
}

// ClaimTask attempts to claim task id for claimant. Per spec §4.H, a lost
// race and a task that was never open are both reported as 409, but with
// distinct messages: the re-read row's ClaimedBy tells them apart.
func (w *Workshop) ClaimTask(id, claimant string) (*model.Task, error) {
	if claimant == "" {
		return nil, apierr.BadRequest("from must be non-empty")
	}
	if _, err := w.GetTask(id); err != nil {
		return nil, err
	}

	t, err := w.store.Claim(id, claimant, now())
	if store.IsNoRowsUpdated(err) {
		if t.ClaimedBy != "" && t.ClaimedBy != claimant {
			return nil, apierr.Conflict("task %s already claimed by another agent", id)
		}
		return nil, apierr.Conflict("task %s is not open", id)
	}
	if err != nil {
		return nil, err
	}

	w.publishEvent(t.Channel, "task.claimed", t.ID, t.Title, map[string]any{"claimed_by": claimant})
	return t, nil
}

// UpdateTaskInput carries the freeform note attached to a task.updated
// announcement.
type UpdateTaskInput struct {
	Note string `json:"note"`
}

// UpdateTask bumps a task's updated_at and emits task.updated. It mutates
// no other field: spec §9 resolves the otherwise-open question of what
// "update" changes by deciding it changes nothing but the timestamp.
func (w *Workshop) UpdateTask(id string, in UpdateTaskInput) (*model.Task, error) {
	t, err := w.GetTask(id)
	if err != nil {
		return nil, err
	}
	if err := w.store.TouchTask(id, now()); err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return nil, apierr.NotFound("task %s not found", id)
		}
		return nil, err
	}

	extra := map[string]any{}
	if in.Note != "" {
		extra["note"] = in.Note
	}
	w.publishEvent(t.Channel, "task.updated", t.ID, t.Title, extra)
	return w.GetTask(id)
}

// DoneTaskInput is the decoded request body for task completion.
type DoneTaskInput struct {
	From   string          `json:"from"`
	Result json.RawMessage `json:"result"`
	Files  []string        `json:"files"`
}

// DoneTask transitions a claimed task to done. Only the claimant may
// complete it.
func (w *Workshop) DoneTask(id string, in DoneTaskInput) (*model.Task, error) {
	if in.From == "" {
		return nil, apierr.BadRequest("from must be non-empty")
	}
	t, err := w.GetTask(id)
	if err != nil {
		return nil, err
	}
	if t.Status != model.TaskClaimed {
		return nil, apierr.Conflict("task %s is not claimed", id)
	}
	if t.ClaimedBy != in.From {
		return nil, apierr.Forbidden("task %s is claimed by a different agent", id)
	}

	files := in.Files
	if files == nil {
		files = []string{}
	}
	result := in.Result
	if len(result) == 0 {
		result = json.RawMessage("{}")
	}

	updated, err := w.store.Done(id, result, files, now())
	if store.IsNoRowsUpdated(err) {
		return nil, apierr.Conflict("task %s is not claimed", id)
	}
	if err != nil {
		return nil, err
	}

	w.publishEvent(updated.Channel, "task.done", updated.ID, updated.Title, map[string]any{"files": files})
	return updated, nil
}

// AbandonTaskInput is the decoded request body for releasing a claim.
type AbandonTaskInput struct {
	From string `json:"from"`
}

// AbandonTask releases a claimed task back to open. Only the claimant may
// abandon it.
func (w *Workshop) AbandonTask(id string, in AbandonTaskInput) (*model.Task, error) {
	if in.From == "" {
		return nil, apierr.BadRequest("from must be non-empty")
	}
	t, err := w.GetTask(id)
	if err != nil {
		return nil, err
	}
	if t.Status != model.TaskClaimed {
		return nil, apierr.Conflict("task %s is not claimed", id)
	}
	if t.ClaimedBy != in.From {
		return nil, apierr.Forbidden("task %s is claimed by a different agent", id)
	}

	updated, err := w.store.Abandon(id, now())
	if store.IsNoRowsUpdated(err) {
		return nil, apierr.Conflict("task %s is not claimed", id)
	}
	if err != nil {
		return nil, err
	}

	w.publishEvent(updated.Channel, "task.abandoned", updated.ID, updated.Title, nil)
	return updated, nil
}

// InterruptTaskInput is the decoded request body for an interrupt
// announcement.
type InterruptTaskInput struct {
	Reason string `json:"reason"`
}

// InterruptTask is a stateless announcement: it requires only that the
// task exist, and mutates nothing.
func (w *Workshop) InterruptTask(id string, in InterruptTaskInput) (*model.Task, error) {
	t, err := w.GetTask(id)
	if err != nil {
		return nil, err
	}

	extra := map[string]any{}
	if in.Reason != "" {
		extra["reason"] = in.Reason
	}
	w.publishEvent(t.Channel, "task.interrupt", t.ID, t.Title, extra)
	return t, nil
}
