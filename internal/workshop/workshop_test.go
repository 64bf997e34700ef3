package workshop

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/agentmesh/workshop/internal/apierr"
	"github.com/agentmesh/workshop/internal/model"
	"github.com/agentmesh/workshop/internal/registry"
	"github.com/agentmesh/workshop/internal/store"
	"github.com/agentmesh/workshop/internal/stream"
	_ "modernc.org/sqlite"
)

type recordingSub struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *recordingSub) Send(frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
	return nil
}

func (r *recordingSub) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// envelopeBody decodes the nth frame's "data:" line into an envelope and
// returns its body as a generic map.
func (r *recordingSub) envelopeBody(t *testing.T, n int) map[string]any {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if n >= len(r.frames) {
		t.Fatalf("frame %d not recorded, only have %d", n, len(r.frames))
	}
	_, data, ok := bytes.Cut(r.frames[n], []byte("data: "))
	if !ok {
		t.Fatalf("frame %d has no data line: %q", n, r.frames[n])
	}
	var e model.Envelope
	if err := json.Unmarshal(bytes.TrimRight(data, "\n"), &e); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal(e.Body, &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	return body
}

func newTestWorkshop(t *testing.T) (*Workshop, *registry.Registry) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st, err := store.New(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	reg := registry.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := stream.NewEngine(reg, logger)
	return New(st, eng, logger), reg
}

func TestPublishMintsIDAndFansOut(t *testing.T) {
	w, reg := newTestWorkshop(t)
	sub := &recordingSub{}
	reg.Subscribe("alpha", sub)

	e, err := w.Publish("alpha", PublishInput{From: "agent-a", Type: "chat.msg", Body: json.RawMessage(`{"text":"hi"}`)})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(e.ID) != 26 {
		t.Fatalf("len(ID) = %d, want 26", len(e.ID))
	}
	if sub.count() != 1 {
		t.Fatalf("subscriber should have received one frame, got %d", sub.count())
	}
}

func TestPublishRejectsMissingFrom(t *testing.T) {
	w, _ := newTestWorkshop(t)
	_, err := w.Publish("alpha", PublishInput{Type: "chat.msg"})
	if err == nil {
		t.Fatal("expected error")
	}
	if ae, ok := err.(*apierr.APIError); !ok || ae.Status != 400 {
		t.Fatalf("expected 400 APIError, got %v (%T)", err, err)
	}
}

func TestTaskLifecycleHappyPath(t *testing.T) {
	w, reg := newTestWorkshop(t)
	sub := &recordingSub{}
	reg.Subscribe("tasks", sub)

	task, err := w.CreateTask(CreateTaskInput{From: "alice", Title: "write docs"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Status != model.TaskOpen {
		t.Fatalf("status = %s, want open", task.Status)
	}

	claimed, err := w.ClaimTask(task.ID, "bob")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != model.TaskClaimed || claimed.ClaimedBy != "bob" {
		t.Fatalf("unexpected claimed state: %+v", claimed)
	}

	if _, err := w.DoneTask(task.ID, DoneTaskInput{From: "carol"}); err == nil {
		t.Fatal("expected forbidden error for wrong agent")
	} else if ae, ok := err.(*apierr.APIError); !ok || ae.Status != 403 {
		t.Fatalf("expected 403, got %v", err)
	}

	done, err := w.DoneTask(task.ID, DoneTaskInput{From: "bob", Result: json.RawMessage(`{"ok":true}`)})
	if err != nil {
		t.Fatalf("done: %v", err)
	}
	if done.Status != model.TaskDone {
		t.Fatalf("status = %s, want done", done.Status)
	}

	// Lifecycle events: created, claimed, done. The rejected done attempt
	// emits nothing.
	if sub.count() != 3 {
		t.Fatalf("expected 3 lifecycle events fanned out, got %d", sub.count())
	}
}

func TestTaskLifecycleEventsCarryHyphenatedTaskID(t *testing.T) {
	w, reg := newTestWorkshop(t)
	sub := &recordingSub{}
	reg.Subscribe("tasks", sub)

	task, err := w.CreateTask(CreateTaskInput{From: "alice", Title: "write docs"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	created := sub.envelopeBody(t, 0)
	if created["task-id"] != task.ID {
		t.Fatalf("task.created body = %+v, want task-id = %q", created, task.ID)
	}
	if _, ok := created["task_id"]; ok {
		t.Fatalf("task.created body still has underscored task_id: %+v", created)
	}

	if _, err := w.ClaimTask(task.ID, "bob"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	claimed := sub.envelopeBody(t, 1)
	if claimed["task-id"] != task.ID {
		t.Fatalf("task.claimed body = %+v, want task-id = %q", claimed, task.ID)
	}

	if _, err := w.DoneTask(task.ID, DoneTaskInput{From: "bob"}); err != nil {
		t.Fatalf("done: %v", err)
	}
	done := sub.envelopeBody(t, 2)
	if done["task-id"] != task.ID {
		t.Fatalf("task.done body = %+v, want task-id = %q", done, task.ID)
	}
}

func TestClaimTaskLostRaceConflictsAndUnknownIsNotFound(t *testing.T) {
	w, _ := newTestWorkshop(t)
	task, err := w.CreateTask(CreateTaskInput{From: "alice", Title: "x"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := w.ClaimTask(task.ID, "agent-a"); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	_, err = w.ClaimTask(task.ID, "agent-b")
	if err == nil {
		t.Fatal("expected conflict for lost race")
	}
	ae, ok := err.(*apierr.APIError)
	if !ok || ae.Status != 409 {
		t.Fatalf("expected 409, got %v", err)
	}

	_, err = w.ClaimTask("unknown-id", "agent-c")
	if err == nil {
		t.Fatal("expected not found")
	}
	if ae, ok := err.(*apierr.APIError); !ok || ae.Status != 404 {
		t.Fatalf("expected 404 for unknown task, got %v", err)
	}
}

func TestAbandonReturnsTaskToOpen(t *testing.T) {
	w, _ := newTestWorkshop(t)
	task, _ := w.CreateTask(CreateTaskInput{From: "alice", Title: "x"})
	if _, err := w.ClaimTask(task.ID, "agent-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	reopened, err := w.AbandonTask(task.ID, AbandonTaskInput{From: "agent-a"})
	if err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if reopened.Status != model.TaskOpen || reopened.ClaimedBy != "" {
		t.Fatalf("unexpected state after abandon: %+v", reopened)
	}

	if _, err := w.ClaimTask(task.ID, "agent-b"); err != nil {
		t.Fatalf("reclaim after abandon should succeed: %v", err)
	}
}

func TestHeartbeatAndLivePresence(t *testing.T) {
	w, _ := newTestWorkshop(t)
	if _, err := w.Heartbeat(HeartbeatInput{AgentID: "agent-a", Channels: []string{"alpha"}}); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	live, err := w.LivePresence()
	if err != nil {
		t.Fatalf("live presence: %v", err)
	}
	if len(live) != 1 || live[0].AgentID != "agent-a" {
		t.Fatalf("unexpected live presence: %+v", live)
	}
}

func TestRetentionSweepDeletesOldMessages(t *testing.T) {
	w, _ := newTestWorkshop(t)
	if _, err := w.Publish("alpha", PublishInput{From: "a", Type: "chat.msg"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	w.sweepRetention(0) // retention of 0 days deletes everything older than "now"

	chans, err := w.store.Channels()
	if err != nil {
		t.Fatalf("channels: %v", err)
	}
	if len(chans) != 0 {
		t.Fatalf("expected retention sweep to delete the message's channel, got %v", chans)
	}
}
