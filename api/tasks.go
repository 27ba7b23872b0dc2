package api

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"prism-todo/domain"
	"prism-todo/store"
)

type viewResponse struct {
	store.View
	FilterLabel string `json:"filterLabel,omitempty"`
	SortLabel   string `json:"sortLabel,omitempty"`
}

func newViewResponse(v store.View) viewResponse {
	resp := viewResponse{View: v}
	resp.FilterLabel, _ = domain.FilterLabel(v.Filter)
	resp.SortLabel, _ = domain.SortLabel(v.Sort)
	return resp
}

func (s *Server) getView(c echo.Context) error {
	return c.JSON(http.StatusOK, newViewResponse(s.app.Tasks.Refresh()))
}

func (s *Server) getTask(c echo.Context) error {
	task, err := s.app.Tasks.Get(c.Param("id"))
	if err != nil {
		return s.replyError(c, err)
	}
	return c.JSON(http.StatusOK, task)
}

// postTask validates the draft the way the add form does, then adds it.
func (s *Server) postTask(c echo.Context) error {
	ctx := c.Request().Context()
	var draft domain.TaskDraft
	if err := decodeBody(c, &draft); err != nil {
		return badRequest(c, "invalid body")
	}
	if err := domain.ValidateTaskDraft(draft); err != nil {
		return s.replyError(c, err)
	}

	key := strings.TrimSpace(c.Request().Header.Get(IdempotencyHeader))
	if key != "" && s.opts.Deduper != nil {
		id, fresh, err := s.opts.Deduper.Reserve(ctx, key)
		if err != nil {
			s.log.WithError(err).Warn("idempotency reserve failed")
			key = ""
		} else if !fresh {
			if id == "" {
				return c.JSON(http.StatusConflict, errorResponse{Error: "request in progress", Kind: store.KindOther.String()})
			}
			task, err := s.app.Tasks.Get(id)
			if err != nil {
				return s.replyError(c, err)
			}
			return c.JSON(http.StatusOK, task)
		}
	} else {
		key = ""
	}

	task, err := s.app.Tasks.Add(ctx, draft)
	if key != "" {
		if cerr := s.opts.Deduper.Commit(ctx, key, task.ID); cerr != nil {
			s.log.WithError(cerr).WithField("task", task.ID).Warn("idempotency commit failed")
		}
	}
	if err != nil {
		return s.replyError(c, err)
	}
	return c.JSON(http.StatusCreated, task)
}

func (s *Server) patchTask(c echo.Context) error {
	var patch domain.TaskPatch
	if err := decodeBody(c, &patch); err != nil {
		return badRequest(c, "invalid body")
	}
	current, err := s.app.Tasks.Get(c.Param("id"))
	if err != nil {
		return s.replyError(c, err)
	}
	if err := domain.ValidateTaskPatch(current, patch); err != nil {
		return s.replyError(c, err)
	}
	return s.replyTask(c)(s.app.Tasks.Update(c.Request().Context(), current.ID, patch))
}

func (s *Server) deleteTask(c echo.Context) error {
	if err := s.app.Tasks.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return s.replyError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) toggleCompleted(c echo.Context) error {
	return s.replyTask(c)(s.app.Tasks.ToggleCompleted(c.Request().Context(), c.Param("id")))
}

func (s *Server) togglePinned(c echo.Context) error {
	return s.replyTask(c)(s.app.Tasks.TogglePinned(c.Request().Context(), c.Param("id")))
}

type categoryRef struct {
	Value string `json:"value"`
}

func (s *Server) addTaskCategory(c echo.Context) error {
	var ref categoryRef
	if err := decodeBody(c, &ref); err != nil {
		return badRequest(c, "invalid body")
	}
	return s.replyTask(c)(s.app.Tasks.AddCategory(c.Request().Context(), c.Param("id"), ref.Value))
}

func (s *Server) removeTaskCategory(c echo.Context) error {
	value, err := url.PathUnescape(c.Param("value"))
	if err != nil {
		return badRequest(c, "invalid category")
	}
	return s.replyTask(c)(s.app.Tasks.RemoveCategory(c.Request().Context(), c.Param("id"), value))
}

func (s *Server) replyTask(c echo.Context) func(domain.Task, error) error {
	return func(task domain.Task, err error) error {
		if err != nil {
			return s.replyError(c, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

type viewRequest struct {
	Query  *string `json:"query"`
	Filter *string `json:"filter"`
	Sort   *string `json:"sort"`
}

// putView sets the view inputs. Filter and sort take mode names; unknown
// names fall back to the defaults.
func (s *Server) putView(c echo.Context) error {
	var req viewRequest
	if err := decodeBody(c, &req); err != nil {
		return badRequest(c, "invalid body")
	}
	v := s.app.Tasks.View()
	if req.Filter != nil {
		v = s.app.Tasks.SetFilterMode(domain.ParseFilterMode(*req.Filter))
	}
	if req.Sort != nil {
		v = s.app.Tasks.SetSortMode(domain.ParseSortMode(*req.Sort))
	}
	if req.Query != nil {
		v = s.app.Tasks.SetSearchQuery(*req.Query)
	}
	return c.JSON(http.StatusOK, newViewResponse(v))
}

type searchRequest struct {
	Query string `json:"query"`
}

// putSearch feeds the search box. With a debounce configured only the last
// query of a burst is applied and the reply is 202.
func (s *Server) putSearch(c echo.Context) error {
	var req searchRequest
	if err := decodeBody(c, &req); err != nil {
		return badRequest(c, "invalid body")
	}
	if s.search != nil {
		s.search.Call(req.Query)
		return c.NoContent(http.StatusAccepted)
	}
	return c.JSON(http.StatusOK, newViewResponse(s.app.Tasks.SetSearchQuery(req.Query)))
}

func (s *Server) clearSearch(c echo.Context) error {
	if s.search != nil {
		s.search.Stop()
	}
	return c.JSON(http.StatusOK, newViewResponse(s.app.Tasks.ClearSearch()))
}
