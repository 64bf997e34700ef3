package stream

import (
	"log/slog"
	"net/http"

	"github.com/agentmesh/workshop/internal/registry"
	"github.com/agentmesh/workshop/internal/store"
)

// ResumptionHeader is the request header a reconnecting client sends to
// resume a push stream after a dropped connection (spec §4.F GLOSSARY:
// resumption identifier).
const ResumptionHeader = "Last-Event-ID"

// Subscribe commits the SSE response headers, optionally replays every
// envelope the caller missed, then attaches the connection to the registry
// for live delivery until r's context is cancelled. Channel "" subscribes
// to the all-channels sentinel.
//
// Header commitment happens before any payload byte is written, and before
// the replay query runs, so a client that only cares about headers (or a
// HEAD request, which never reaches this function's replay/subscribe body)
// observes a stable response regardless of how long the backlog replay
// takes.
func Subscribe(w http.ResponseWriter, r *http.Request, st *store.Store, reg *registry.Registry, logger *slog.Logger, channel string) error {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return nil
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}
	flusher.Flush()

	regKey := channel
	if regKey == "" {
		regKey = registry.All
	}

	if since := r.Header.Get(ResumptionHeader); since != "" {
		// The store caps a single query at 200 rows, so the backlog is
		// replayed page by page until a short page marks its end.
		const replayPage = 200
		for {
			backlog, err := st.QueryMessages(store.QueryMessagesOpts{
				Channel:   channel,
				Since:     since,
				Limit:     replayPage,
				Ascending: true,
			})
			if err != nil {
				logger.Error("gap recovery query failed", "error", err, "since", since)
				break
			}
			for _, e := range backlog {
				since = e.ID
				frame, err := EncodeFrame(e)
				if err != nil {
					continue
				}
				if _, err := w.Write(frame); err != nil {
					return err
				}
			}
			if len(backlog) < replayPage {
				break
			}
		}
		flusher.Flush()
	}

	sub, err := NewHTTPSubscriber(w)
	if err != nil {
		return err
	}
	reg.Subscribe(regKey, sub)
	defer reg.Unsubscribe(regKey, sub)

	<-r.Context().Done()
	return nil
}
