package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/agentmesh/workshop/internal/apierr"
	"github.com/agentmesh/workshop/internal/model"
	"github.com/agentmesh/workshop/internal/store"
	"github.com/agentmesh/workshop/internal/workshop"
)

// decodeJSON parses r's body into v, surfacing any parse failure as the
// exact "invalid JSON body" message spec §4.L/§8 requires instead of a
// field-level error.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apierr.BadRequest("invalid JSON body")
	}
	return nil
}

func (h *handler) publish(w http.ResponseWriter, r *http.Request) error {
	var in workshop.PublishInput
	if err := decodeJSON(r, &in); err != nil {
		return err
	}

	e, err := h.ws.Publish(r.PathValue("ch"), in)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": e.ID, "ts": e.TS})
	return nil
}

// writeNDJSON renders envelopes as newline-delimited JSON, one object per
// line, per spec §6's "200 newline-delimited JSON" response shape.
func writeNDJSON(w http.ResponseWriter, envelopes []*model.Envelope) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	for _, e := range envelopes {
		_ = enc.Encode(e)
	}
}

func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("n")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (h *handler) channelHistory(w http.ResponseWriter, r *http.Request) error {
	opts := store.QueryMessagesOpts{
		Channel:    r.PathValue("ch"),
		Since:      r.URL.Query().Get("since"),
		TypePrefix: r.URL.Query().Get("type"),
		Limit:      parseLimit(r, 200),
		Ascending:  true,
	}
	envelopes, err := h.st.QueryMessages(opts)
	if err != nil {
		return err
	}
	writeNDJSON(w, envelopes)
	return nil
}

func (h *handler) globalHistory(w http.ResponseWriter, r *http.Request) error {
	envelopes, err := h.st.QueryMessages(store.QueryMessagesOpts{Limit: parseLimit(r, 100)})
	if err != nil {
		return err
	}
	writeNDJSON(w, envelopes)
	return nil
}

func (h *handler) channels(w http.ResponseWriter, r *http.Request) error {
	chans, err := h.st.Channels()
	if err != nil {
		return err
	}
	if chans == nil {
		chans = []string{}
	}
	writeJSON(w, http.StatusOK, chans)
	return nil
}

func (h *handler) createTask(w http.ResponseWriter, r *http.Request) error {
	var in workshop.CreateTaskInput
	if err := decodeJSON(r, &in); err != nil {
		return err
	}
	t, err := h.ws.CreateTask(in)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": t.ID})
	return nil
}

func (h *handler) listTasks(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	tasks, err := h.ws.ListTasks(workshop.ListTasksInput{
		Status:   model.TaskStatus(q.Get("status")),
		For:      q.Get("for"),
		Assigned: q.Get("assigned"),
		Claimed:  q.Get("claimed"),
	})
	if err != nil {
		return err
	}
	if tasks == nil {
		tasks = []*model.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
	return nil
}

func (h *handler) getTask(w http.ResponseWriter, r *http.Request) error {
	t, err := h.ws.GetTask(r.PathValue("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, t)
	return nil
}

func (h *handler) claimTask(w http.ResponseWriter, r *http.Request) error {
	var in workshop.ClaimTaskInput
	if err := decodeJSON(r, &in); err != nil {
		return err
	}
	t, err := h.ws.ClaimTask(r.PathValue("id"), in.From)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": t.ID, "status": t.Status, "claimed-by": t.ClaimedBy})
	return nil
}

func (h *handler) updateTask(w http.ResponseWriter, r *http.Request) error {
	var in workshop.UpdateTaskInput
	if err := decodeJSON(r, &in); err != nil {
		return err
	}
	t, err := h.ws.UpdateTask(r.PathValue("id"), in)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": t.ID})
	return nil
}

func (h *handler) doneTask(w http.ResponseWriter, r *http.Request) error {
	var in workshop.DoneTaskInput
	if err := decodeJSON(r, &in); err != nil {
		return err
	}
	t, err := h.ws.DoneTask(r.PathValue("id"), in)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": t.ID, "status": t.Status})
	return nil
}

func (h *handler) abandonTask(w http.ResponseWriter, r *http.Request) error {
	var in workshop.AbandonTaskInput
	if err := decodeJSON(r, &in); err != nil {
		return err
	}
	t, err := h.ws.AbandonTask(r.PathValue("id"), in)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": t.ID, "status": t.Status})
	return nil
}

func (h *handler) interruptTask(w http.ResponseWriter, r *http.Request) error {
	var in workshop.InterruptTaskInput
	if err := decodeJSON(r, &in); err != nil {
		return err
	}
	t, err := h.ws.InterruptTask(r.PathValue("id"), in)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": t.ID, "signalled": true})
	return nil
}

func (h *handler) heartbeat(w http.ResponseWriter, r *http.Request) error {
	var in workshop.HeartbeatInput
	if err := decodeJSON(r, &in); err != nil {
		return err
	}
	if _, err := h.ws.Heartbeat(in); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	return nil
}

func (h *handler) livePresence(w http.ResponseWriter, r *http.Request) error {
	live, err := h.ws.LivePresence()
	if err != nil {
		return err
	}
	if live == nil {
		live = []*model.Presence{}
	}
	writeJSON(w, http.StatusOK, live)
	return nil
}
