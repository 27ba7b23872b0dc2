package offline

import (
	"io"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// ClientIDHeader identifies the page a request comes from.
const ClientIDHeader = "X-Client-ID"

var hopHeaders = []string{
	echo.HeaderConnection,
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	echo.HeaderUpgrade,
}

// Middleware serves requests through w from its origin. Requests the skipper
// accepts go to the next handler instead.
func Middleware(w *Worker, skipper middleware.Skipper) echo.MiddlewareFunc {
	if skipper == nil {
		skipper = middleware.DefaultSkipper
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper(c) {
				return next(c)
			}
			return serve(c, w)
		}
	}
}

// Handler serves every request through w.
func Handler(w *Worker) echo.HandlerFunc {
	return func(c echo.Context) error {
		return serve(c, w)
	}
}

func serve(c echo.Context, w *Worker) error {
	in := c.Request()
	if id := in.Header.Get(ClientIDHeader); id != "" {
		w.Claim(id)
	}

	target := w.cfg.Origin.ResolveReference(&url.URL{Path: in.URL.Path, RawQuery: in.URL.RawQuery})
	out, err := http.NewRequestWithContext(in.Context(), in.Method, target.String(), in.Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out.Header = in.Header.Clone()
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	out.ContentLength = in.ContentLength

	resp, err := w.Fetch(out)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "upstream unavailable")
	}
	defer resp.Body.Close()

	h := c.Response().Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	for _, k := range hopHeaders {
		h.Del(k)
	}
	c.Response().WriteHeader(resp.StatusCode)
	_, err = io.Copy(c.Response(), resp.Body)
	return err
}
