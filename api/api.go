package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-todo/events"
	"prism-todo/store"
)

// Options configures Register. The zero value is valid.
type Options struct {
	// WorkerEvents is streamed on /api/worker/events when set.
	WorkerEvents *events.Bus[events.WorkerEvent]
	// Deduper makes POST /api/tasks idempotent per Idempotency-Key.
	Deduper Deduper
	// SearchDebounce delays query updates sent to PUT /api/view/search.
	SearchDebounce time.Duration
	// Heartbeat is the interval of stream keepalive comments. Defaults to 30s.
	Heartbeat time.Duration
}

// Server holds the state shared by the handlers.
type Server struct {
	app    *store.App
	log    *log.Logger
	opts   Options
	search *store.Debouncer
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, app *store.App, logger *log.Logger, opts Options) *Server {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 30 * time.Second
	}
	s := &Server{app: app, log: logger, opts: opts}
	if opts.SearchDebounce > 0 {
		s.search = store.NewDebouncer(opts.SearchDebounce, func(q string) {
			app.Tasks.SetSearchQuery(q)
		})
	}
	e.JSONSerializer = SonicSerializer{}

	// Group middleware would register catch-all /api/* routes and hide unknown
	// API paths from the offline worker mounted on /*, so it is per route.
	g := e.Group("/api")
	gz := GzipRequestMiddleware()

	g.GET("/tasks", s.getView)
	g.POST("/tasks", s.postTask, gz)
	g.GET("/tasks/stream", s.streamView)
	g.GET("/tasks/:id", s.getTask)
	g.PATCH("/tasks/:id", s.patchTask, gz)
	g.DELETE("/tasks/:id", s.deleteTask)
	g.POST("/tasks/:id/complete", s.toggleCompleted, gz)
	g.POST("/tasks/:id/pin", s.togglePinned, gz)
	g.POST("/tasks/:id/categories", s.addTaskCategory, gz)
	g.DELETE("/tasks/:id/categories/:value", s.removeTaskCategory)

	g.PUT("/view", s.putView, gz)
	g.PUT("/view/search", s.putSearch, gz)
	g.DELETE("/view/search", s.clearSearch)

	g.GET("/categories", s.getCategories)
	g.POST("/categories", s.postCategory, gz)
	g.POST("/categories/reset", s.resetCategories, gz)
	g.GET("/categories/stats", s.getStats)
	g.GET("/categories/:id", s.getCategory)
	g.PATCH("/categories/:id", s.patchCategory, gz)
	g.DELETE("/categories/:id", s.deleteCategory)
	g.POST("/categories/:id/favorite", s.toggleFavorite, gz)

	g.GET("/preferences", s.getPreferences)
	g.PUT("/preferences", s.putPreferences, gz)
	g.GET("/username", s.getUsername)
	g.PUT("/username", s.putUsername, gz)
	g.GET("/draft", s.getDraft)
	g.PUT("/draft", s.putDraft, gz)
	g.DELETE("/draft", s.deleteDraft)
	g.POST("/draft/submit", s.submitDraft, gz)

	if opts.WorkerEvents != nil {
		g.GET("/worker/events", s.streamWorkerEvents)
	}
	e.GET("/healthz", healthz)
	return s
}

// Close stops pending debounced updates.
func (s *Server) Close() {
	if s.search != nil {
		s.search.Stop()
	}
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// replyError maps store errors to statuses. A persistence failure means the
// change is live in memory but not stored, which the page must know about.
func (s *Server) replyError(c echo.Context, err error) error {
	kind := store.Kind(err)
	status := http.StatusInternalServerError
	switch kind {
	case store.KindNotFound:
		status = http.StatusNotFound
	case store.KindValidation:
		status = http.StatusBadRequest
	case store.KindPersistence:
		s.log.WithError(err).WithField("uri", c.Request().RequestURI).Warn("change not persisted")
	default:
		s.log.WithError(err).WithField("uri", c.Request().RequestURI).Error("request failed")
	}
	return c.JSON(status, errorResponse{Error: err.Error(), Kind: kind.String()})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg, Kind: store.KindValidation.String()})
}
