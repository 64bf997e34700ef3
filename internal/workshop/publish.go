package workshop

import (
	"encoding/json"

	"github.com/agentmesh/workshop/internal/apierr"
	"github.com/agentmesh/workshop/internal/model"
	"github.com/agentmesh/workshop/internal/wid"
)

// PublishInput is the decoded request body for a channel post (spec §4.G).
type PublishInput struct {
	From    string          `json:"from"`
	Type    string          `json:"type"`
	V       int             `json:"v"`
	Body    json.RawMessage `json:"body"`
	Files   []string        `json:"files"`
	ReplyTo string          `json:"reply_to"`
}

// Publish validates in, mints an id and timestamp, overrides the channel
// with ch (the URL value always wins over any ch field in the body), and
// durably persists and fans out the resulting envelope.
func (w *Workshop) Publish(ch string, in PublishInput) (*model.Envelope, error) {
	if in.From == "" {
		return nil, apierr.BadRequest("from must be non-empty")
	}
	if in.Type == "" {
		return nil, apierr.BadRequest("type must be non-empty")
	}
	if ch == "" {
		return nil, apierr.BadRequest("channel must be non-empty")
	}

	v := in.V
	if v == 0 {
		v = 1
	}
	body := in.Body
	if len(body) == 0 {
		body = json.RawMessage("{}")
	}
	files := in.Files
	if files == nil {
		files = []string{}
	}

	e := &model.Envelope{
		ID:      wid.New(),
		TS:      now(),
		From:    in.From,
		Channel: ch,
		Type:    in.Type,
		V:       v,
		Body:    body,
		Files:   files,
		ReplyTo: in.ReplyTo,
	}

	if err := w.store.InsertMessage(e); err != nil {
		return nil, err
	}
	w.stream.FanOut(e)
	return e, nil
}

// publishEvent is the internal helper the task engine uses to emit a
// lifecycle announcement: an envelope whose from is the system identity
// "workshop" and whose body always carries the task id and title.
func (w *Workshop) publishEvent(ch, eventType, taskID, title string, extra map[string]any) {
	body := map[string]any{"task-id": taskID, "title": title}
	for k, v := range extra {
		body[k] = v
	}
	raw, err := json.Marshal(body)
	if err != nil {
		w.logger.Error("marshal lifecycle event body failed", "error", err, "task-id", taskID)
		return
	}

	if _, err := w.Publish(ch, PublishInput{
		From: "workshop",
		Type: eventType,
		Body: raw,
	}); err != nil {
		w.logger.Error("emit lifecycle event failed", "error", err, "type", eventType, "task-id", taskID)
	}
}
