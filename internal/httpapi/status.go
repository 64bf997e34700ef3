package httpapi

import (
	"net/http"
	"time"

	"github.com/agentmesh/workshop/internal/buildinfo"
	"github.com/agentmesh/workshop/internal/model"
)

// status answers GET /status with the counts-and-uptime payload SPEC_FULL
// §C.1 specifies: a superset of spec.md's bare "counts and uptime"
// description, built from queries every other component already needs.
func (h *handler) status(w http.ResponseWriter, r *http.Request) error {
	channels, err := h.st.Channels()
	if err != nil {
		return err
	}
	messagesTotal, err := h.st.CountMessages()
	if err != nil {
		return err
	}
	open, err := h.st.CountTasksByStatus(model.TaskOpen)
	if err != nil {
		return err
	}
	claimed, err := h.st.CountTasksByStatus(model.TaskClaimed)
	if err != nil {
		return err
	}
	done, err := h.st.CountTasksByStatus(model.TaskDone)
	if err != nil {
		return err
	}
	abandoned, err := h.st.CountTasksByStatus(model.TaskAbandoned)
	if err != nil {
		return err
	}
	live, err := h.st.CountLivePresence(float64(time.Now().UnixNano())/1e9, 60)
	if err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds":  buildinfo.Uptime().Seconds(),
		"channels":        len(channels),
		"messages_total":  messagesTotal,
		"tasks_open":      open,
		"tasks_claimed":   claimed,
		"tasks_done":      done,
		"tasks_abandoned": abandoned,
		"live_agents":     live,
		"go_version":      buildinfo.GoVersion(),
	})
	return nil
}
