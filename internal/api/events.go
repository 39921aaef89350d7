package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/accelq/internal/sched"
)

const eventBuffer = 256

// TaskEvent is one completion notification on the event stream.
type TaskEvent struct {
	Seq         int64  `json:"seq"`
	Task        uint64 `json:"task"`
	Kind        string `json:"kind"`
	Place       string `json:"place"`
	Description string `json:"description"`
}

type sseWriter struct {
	w       io.Writer
	flusher func()
}

func newSSEWriter(c *echo.Context) (*sseWriter, error) {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")

	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}
	return &sseWriter{w: res, flusher: flusher.Flush}, nil
}

func (s *sseWriter) send(event string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, b); err != nil {
		return err
	}
	s.flusher()
	return nil
}

func (s *sseWriter) comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher()
	return nil
}

// handleEvents streams task completions until the client goes away. The
// optional limit query parameter ends the stream after that many events.
// Notifications that arrive while the client lags behind are dropped and
// reported in a "dropped" event.
func (s *Server) handleEvents(c *echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return writeBadRequest(c, "limit must be a non-negative integer")
		}
		limit = n
	}
	sse, err := newSSEWriter(c)
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}

	ch := make(chan sched.Notification, eventBuffer)
	var dropped atomic.Int64
	cancel := s.env.Scheduler().Manager().Subscribe(func(n sched.Notification) {
		select {
		case ch <- n:
		default:
			dropped.Add(1)
		}
	})
	defer cancel()

	if err := sse.comment("subscribed"); err != nil {
		return nil
	}
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	ctx := c.Request().Context()
	var seq int64
	for limit == 0 || seq < int64(limit) {
		select {
		case <-ctx.Done():
			return nil
		case n := <-ch:
			seq++
			err = sse.send("task", TaskEvent{
				Seq:         seq,
				Task:        uint64(n.TaskID),
				Kind:        n.Kind.String(),
				Place:       n.Place.String(),
				Description: n.Description,
			})
		case <-ticker.C:
			if d := dropped.Swap(0); d > 0 {
				s.log.Warn("event stream lagging", "dropped", d)
				err = sse.send("dropped", map[string]int64{"count": d})
			} else {
				err = sse.comment("ping")
			}
		}
		if err != nil {
			s.log.Debug("event stream closed", "error", err)
			return nil
		}
	}
	return nil
}
