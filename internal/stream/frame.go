// Package stream implements the push-stream wire format, the fan-out +
// keepalive engine, and the gap-recovery subscribe handshake (spec §4.E,
// §4.F). Frames are plain Server-Sent-Events lines; the encoding here is
// the one piece of protocol both the live fan-out path and the replay path
// share, so a subscriber cannot tell a replayed frame from a live one.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/agentmesh/workshop/internal/model"
)

// keepaliveFrame is a comment-only SSE frame: an empty-named line with any
// payload, terminated by a blank line.
var keepaliveFrame = []byte(": keepalive\n\n")

// KeepaliveFrame returns the comment-only keepalive frame bytes.
func KeepaliveFrame() []byte {
	return keepaliveFrame
}

// EncodeFrame renders an envelope as a push-stream frame: a single-line id
// line, a single-line data line carrying the JSON-encoded envelope, and a
// terminating blank line.
func EncodeFrame(e *model.Envelope) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "id: %s\n", e.ID)
	buf.WriteString("data: ")
	buf.Write(body)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}
