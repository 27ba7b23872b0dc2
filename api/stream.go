package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"prism-todo/store"
)

const streamBuffer = 16

// streamView pushes the derived view on every change, starting with the
// current one.
func (s *Server) streamView(c echo.Context) error {
	ch, unsubscribe := s.app.Tasks.Subscribe(streamBuffer)
	defer unsubscribe()
	first := newViewResponse(s.app.Tasks.View())
	return streamEvents(c, "view", s.opts.Heartbeat, &first, ch, func(v store.View) any {
		return newViewResponse(v)
	})
}

func (s *Server) streamWorkerEvents(c echo.Context) error {
	ch, unsubscribe := s.opts.WorkerEvents.Subscribe(streamBuffer)
	defer unsubscribe()
	return streamEvents(c, "worker", s.opts.Heartbeat, nil, ch, nil)
}

// streamEvents writes server-sent events until the client leaves or ch closes.
// The subscription must exist before the call so nothing published after the
// initial flush is missed.
func streamEvents[T any](c echo.Context, name string, heartbeat time.Duration, first any, ch <-chan T, conv func(T) any) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(":ok\n\n")); err != nil {
		return nil
	}
	if first != nil {
		if err := writeEvent(w, name, first); err != nil {
			return nil
		}
	}
	w.Flush()

	ctx := c.Request().Context()
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return nil
			}
			var payload any = v
			if conv != nil {
				payload = conv(v)
			}
			if err := writeEvent(w, name, payload); err != nil {
				return nil
			}
			w.Flush()
		case <-ticker.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return nil
			}
			w.Flush()
		case <-ctx.Done():
			return nil
		}
	}
}

func writeEvent(w *echo.Response, name string, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, len(data)+len(name)+16)
	buf = append(buf, "event: "...)
	buf = append(buf, name...)
	buf = append(buf, "\ndata: "...)
	buf = append(buf, data...)
	buf = append(buf, "\n\n"...)
	_, err = w.Write(buf)
	return err
}
