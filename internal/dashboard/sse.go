package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

// handleSSE streams a session's status changes and new visible transcript
// entries. It polls the runner's snapshots rather than registering an
// observer, so a slow client never stalls the runner's loop.
func handleSSE(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		r, err := opts.Manager.Get(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		last := r.Status()
		seen := len(r.Transcript(false))
		writeSSE(c.Writer, "connected", last)
		c.Writer.Flush()

		ctx := c.Request.Context()
		ticker := time.NewTicker(opts.PollInterval)
		heartbeat := time.NewTicker(opts.Heartbeat)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.Done():
				writeSSE(c.Writer, "closed", map[string]string{"session_id": r.SessionID()})
				c.Writer.Flush()
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				msgs := r.Transcript(false)
				for _, m := range msgs[min(seen, len(msgs)):] {
					writeSSE(c.Writer, "message", m)
				}
				seen = len(msgs)

				if st := r.Status(); st != last {
					last = st
					writeSSE(c.Writer, "status", st)
				}
				c.Writer.Flush()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
