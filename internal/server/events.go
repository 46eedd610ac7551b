package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

// streamEvents relays change events to the client as Server-Sent Events
// until the client disconnects.
func (s *Server) streamEvents(c echo.Context) error {
	if s.opts.Events == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event stream disabled")
	}
	ctx := c.Request().Context()
	sub, err := s.opts.Events.Subscribe(ctx, s.opts.EventTopic)
	if err != nil {
		return err
	}
	defer sub.Close()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(res, ": connected\n\n"); err != nil {
		return nil
	}
	res.Flush()

	heartbeat := time.NewTicker(s.opts.Heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			if _, err := fmt.Fprint(res, ": ping\n\n"); err != nil {
				return nil
			}
		case msg, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := writeEvent(res, msg); err != nil {
				return nil
			}
		}
		res.Flush()
	}
}

func writeEvent(res *echo.Response, payload []byte) error {
	if node, err := sonic.Get(payload, "id"); err == nil {
		if id, err := node.String(); err == nil {
			if _, err := fmt.Fprintf(res, "id: %s\n", id); err != nil {
				return err
			}
		}
	}
	if node, err := sonic.Get(payload, "type"); err == nil {
		if typ, err := node.String(); err == nil {
			if _, err := fmt.Fprintf(res, "event: %s\n", typ); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintf(res, "data: %s\n\n", payload)
	return err
}
