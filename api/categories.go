package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"prism-todo/domain"
	"prism-todo/store"
)

type categoriesResponse struct {
	Categories []domain.Category `json:"categories"`
	Favorites  []domain.Category `json:"favorites"`
}

func (s *Server) getCategories(c echo.Context) error {
	return c.JSON(http.StatusOK, categoriesResponse{
		Categories: s.app.Categories.List(),
		Favorites:  s.app.Categories.Favorites(),
	})
}

func (s *Server) getCategory(c echo.Context) error {
	cat, err := s.app.Categories.Get(c.Param("id"))
	if err != nil {
		return s.replyError(c, err)
	}
	return c.JSON(http.StatusOK, cat)
}

// postCategory refuses a value that already exists, as the category form does.
func (s *Server) postCategory(c echo.Context) error {
	var draft domain.CategoryDraft
	if err := decodeBody(c, &draft); err != nil {
		return badRequest(c, "invalid body")
	}
	value := strings.TrimSpace(draft.Value)
	if value != "" && s.app.Categories.Exists(value) {
		return c.JSON(http.StatusConflict, errorResponse{Error: "category already exists", Kind: store.KindValidation.String()})
	}
	cat, err := s.app.Categories.Add(c.Request().Context(), draft)
	if err != nil {
		return s.replyError(c, err)
	}
	return c.JSON(http.StatusCreated, cat)
}

func (s *Server) patchCategory(c echo.Context) error {
	var patch domain.CategoryPatch
	if err := decodeBody(c, &patch); err != nil {
		return badRequest(c, "invalid body")
	}
	return s.replyCategory(c)(s.app.Categories.Edit(c.Request().Context(), c.Param("id"), patch))
}

func (s *Server) toggleFavorite(c echo.Context) error {
	return s.replyCategory(c)(s.app.Categories.ToggleFavorite(c.Request().Context(), c.Param("id")))
}

// deleteCategory keeps tasks tagged with the category; they show it as dangling.
func (s *Server) deleteCategory(c echo.Context) error {
	if err := s.app.Categories.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return s.replyError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) resetCategories(c echo.Context) error {
	if err := s.app.Categories.ResetToDefaults(c.Request().Context()); err != nil {
		return s.replyError(c, err)
	}
	return s.getCategories(c)
}

func (s *Server) getStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.app.Stats())
}

func (s *Server) replyCategory(c echo.Context) func(domain.Category, error) error {
	return func(cat domain.Category, err error) error {
		if err != nil {
			return s.replyError(c, err)
		}
		return c.JSON(http.StatusOK, cat)
	}
}
