package store

import (
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/agentmesh/workshop/internal/model"
	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := New(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestInsertAndQueryMessages(t *testing.T) {
	s := newTestStore(t)

	m1 := &model.Envelope{ID: "01AAAAAAAAAAAAAAAAAAAAAAAA", TS: 1, From: "a", Channel: "alpha", Type: "chat.msg", V: 1, Body: json.RawMessage(`{"k":1}`)}
	m2 := &model.Envelope{ID: "01BBBBBBBBBBBBBBBBBBBBBBBB", TS: 2, From: "a", Channel: "alpha", Type: "task.created", V: 1, Body: json.RawMessage(`{}`)}

	if err := s.InsertMessage(m1); err != nil {
		t.Fatalf("insert m1: %v", err)
	}
	if err := s.InsertMessage(m2); err != nil {
		t.Fatalf("insert m2: %v", err)
	}

	got, err := s.QueryMessages(QueryMessagesOpts{Channel: "alpha"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].ID != m2.ID {
		t.Fatalf("default order should be DESC by id, got[0].ID = %s", got[0].ID)
	}

	since, err := s.QueryMessages(QueryMessagesOpts{Channel: "alpha", Since: m1.ID, Ascending: true})
	if err != nil {
		t.Fatalf("query since: %v", err)
	}
	if len(since) != 1 || since[0].ID != m2.ID {
		t.Fatalf("since filter wrong: %+v", since)
	}

	typed, err := s.QueryMessages(QueryMessagesOpts{Channel: "alpha", TypePrefix: "task."})
	if err != nil {
		t.Fatalf("query type prefix: %v", err)
	}
	if len(typed) != 1 || typed[0].ID != m2.ID {
		t.Fatalf("type prefix filter wrong: %+v", typed)
	}
}

func TestChannelsDistinct(t *testing.T) {
	s := newTestStore(t)
	s.InsertMessage(&model.Envelope{ID: "01A", TS: 1, From: "a", Channel: "alpha", Type: "t", Body: json.RawMessage(`{}`)})
	s.InsertMessage(&model.Envelope{ID: "01B", TS: 2, From: "a", Channel: "alpha", Type: "t", Body: json.RawMessage(`{}`)})
	s.InsertMessage(&model.Envelope{ID: "01C", TS: 3, From: "a", Channel: "beta", Type: "t", Body: json.RawMessage(`{}`)})

	chans, err := s.Channels()
	if err != nil {
		t.Fatalf("channels: %v", err)
	}
	if len(chans) != 2 {
		t.Fatalf("len(chans) = %d, want 2: %v", len(chans), chans)
	}
}

func TestTaskClaimGuard(t *testing.T) {
	s := newTestStore(t)
	task := &model.Task{ID: "T1", CreatedAt: 1, UpdatedAt: 1, CreatedBy: "u", Status: model.TaskOpen, Title: "do it", Channel: "tasks"}
	if err := s.InsertTask(task); err != nil {
		t.Fatalf("insert task: %v", err)
	}

	winner, err := s.Claim("T1", "agent-a", 2)
	if err != nil {
		t.Fatalf("first claim should succeed: %v", err)
	}
	if winner.Status != model.TaskClaimed || winner.ClaimedBy != "agent-a" {
		t.Fatalf("unexpected winner state: %+v", winner)
	}

	loser, err := s.Claim("T1", "agent-b", 3)
	if !IsNoRowsUpdated(err) {
		t.Fatalf("second claim should report no rows updated, got err=%v", err)
	}
	if loser.ClaimedBy != "agent-a" {
		t.Fatalf("loser's re-read should show the winner as claimant, got %+v", loser)
	}
}

func TestTaskDoneRequiresClaimed(t *testing.T) {
	s := newTestStore(t)
	task := &model.Task{ID: "T2", CreatedAt: 1, UpdatedAt: 1, CreatedBy: "u", Status: model.TaskOpen, Title: "x", Channel: "tasks"}
	s.InsertTask(task)

	_, err := s.Done("T2", json.RawMessage(`{"ok":true}`), nil, 5)
	if !IsNoRowsUpdated(err) {
		t.Fatalf("done on open task should report no rows updated, got %v", err)
	}

	if _, err := s.Claim("T2", "a1", 2); err != nil {
		t.Fatalf("claim: %v", err)
	}
	done, err := s.Done("T2", json.RawMessage(`{"ok":true}`), []string{"sha256:abc"}, 5)
	if err != nil {
		t.Fatalf("done after claim should succeed: %v", err)
	}
	if done.Status != model.TaskDone {
		t.Fatalf("status = %s, want done", done.Status)
	}
}

func TestTaskAbandonReopens(t *testing.T) {
	s := newTestStore(t)
	task := &model.Task{ID: "T3", CreatedAt: 1, UpdatedAt: 1, CreatedBy: "u", Status: model.TaskOpen, Title: "x", Channel: "tasks"}
	s.InsertTask(task)
	s.Claim("T3", "a1", 2)

	abandoned, err := s.Abandon("T3", 6)
	if err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if abandoned.Status != model.TaskOpen || abandoned.ClaimedBy != "" {
		t.Fatalf("unexpected state after abandon: %+v", abandoned)
	}
}

func TestListTasksForFilterIsOR(t *testing.T) {
	s := newTestStore(t)
	s.InsertTask(&model.Task{ID: "T4", CreatedAt: 1, UpdatedAt: 1, CreatedBy: "u", AssignedTo: "agent-x", Status: model.TaskOpen, Title: "x", Channel: "tasks"})
	s.InsertTask(&model.Task{ID: "T5", CreatedAt: 2, UpdatedAt: 2, CreatedBy: "u", Status: model.TaskOpen, Title: "y", Channel: "tasks"})
	s.Claim("T5", "agent-x", 3)

	got, err := s.ListTasks(ListTasksOpts{For: "agent-x"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2 (assigned OR claimed)", len(got))
	}
}

func TestPresenceUpsertAndLiveWindow(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpsertPresence(&model.Presence{AgentID: "a1", LastSeen: 100, Channels: []string{"alpha"}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertPresence(&model.Presence{AgentID: "a1", LastSeen: 110, Channels: []string{"alpha", "beta"}}); err != nil {
		t.Fatalf("upsert again: %v", err)
	}

	live, err := s.LivePresence(130, 60)
	if err != nil {
		t.Fatalf("live presence: %v", err)
	}
	if len(live) != 1 {
		t.Fatalf("len(live) = %d, want 1 (single row, latest wins)", len(live))
	}
	if len(live[0].Channels) != 2 {
		t.Fatalf("expected latest channels to be stored: %+v", live[0])
	}

	stale, err := s.LivePresence(300, 60)
	if err != nil {
		t.Fatalf("stale query: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("expected no live agents after window elapses, got %+v", stale)
	}
}

func TestRetentionDeletes(t *testing.T) {
	s := newTestStore(t)
	s.InsertMessage(&model.Envelope{ID: "01OLD", TS: 1, From: "a", Channel: "c", Type: "t", Body: json.RawMessage(`{}`)})
	s.InsertMessage(&model.Envelope{ID: "01NEW", TS: 1000, From: "a", Channel: "c", Type: "t", Body: json.RawMessage(`{}`)})

	n, err := s.DeleteMessagesOlderThan(500)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 1 {
		t.Fatalf("n = %d, want 1", n)
	}

	remaining, err := s.QueryMessages(QueryMessagesOpts{})
	if err != nil {
		t.Fatalf("query remaining: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != "01NEW" {
		t.Fatalf("unexpected remaining: %+v", remaining)
	}
}
