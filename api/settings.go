package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"prism-todo/storage"
)

func (s *Server) getPreferences(c echo.Context) error {
	prefs, err := s.app.Preferences(c.Request().Context())
	if err != nil {
		return s.replyError(c, err)
	}
	return c.JSON(http.StatusOK, prefs)
}

// putPreferences selects filter and sort by their display labels and
// remembers them for the next start.
func (s *Server) putPreferences(c echo.Context) error {
	ctx := c.Request().Context()
	var req storage.Preferences
	if err := decodeBody(c, &req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.FilterLabel != "" {
		if _, err := s.app.SelectFilter(ctx, req.FilterLabel); err != nil {
			return s.replyError(c, err)
		}
	}
	if req.SortLabel != "" {
		if _, err := s.app.SelectSort(ctx, req.SortLabel); err != nil {
			return s.replyError(c, err)
		}
	}
	return s.getPreferences(c)
}

type usernameBody struct {
	Username string `json:"username"`
}

func (s *Server) getUsername(c echo.Context) error {
	name, err := s.app.Username(c.Request().Context())
	if err != nil {
		return s.replyError(c, err)
	}
	return c.JSON(http.StatusOK, usernameBody{Username: name})
}

func (s *Server) putUsername(c echo.Context) error {
	var req usernameBody
	if err := decodeBody(c, &req); err != nil {
		return badRequest(c, "invalid body")
	}
	name, err := s.app.SetUsername(c.Request().Context(), req.Username)
	if err != nil {
		return s.replyError(c, err)
	}
	return c.JSON(http.StatusOK, usernameBody{Username: name})
}

type draftResponse struct {
	storage.Draft
	Saved bool `json:"saved"`
}

func (s *Server) getDraft(c echo.Context) error {
	d, found, err := s.app.Draft(c.Request().Context())
	if err != nil {
		s.log.WithError(err).Warn("saved draft unreadable")
	}
	return c.JSON(http.StatusOK, draftResponse{Draft: d, Saved: found && err == nil})
}

func (s *Server) putDraft(c echo.Context) error {
	var d storage.Draft
	if err := decodeBody(c, &d); err != nil {
		return badRequest(c, "invalid body")
	}
	d, err := s.app.SaveDraft(c.Request().Context(), d)
	if err != nil {
		return s.replyError(c, err)
	}
	return c.JSON(http.StatusOK, draftResponse{Draft: d, Saved: true})
}

func (s *Server) deleteDraft(c echo.Context) error {
	if err := s.app.DiscardDraft(c.Request().Context()); err != nil {
		return s.replyError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) submitDraft(c echo.Context) error {
	task, err := s.app.SubmitDraft(c.Request().Context())
	if err != nil {
		return s.replyError(c, err)
	}
	return c.JSON(http.StatusCreated, task)
}
