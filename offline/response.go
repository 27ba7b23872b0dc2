package offline

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const storedResponseVersion = 1

// StoredResponse is a cached response. Every match turns it into a fresh
// *http.Response so callers may consume bodies independently.
type StoredResponse struct {
	Version    int         `json:"version"`
	URL        string      `json:"url"`
	Status     int         `json:"status"`
	StatusText string      `json:"statusText,omitempty"`
	Header     http.Header `json:"header,omitempty"`
	Body       []byte      `json:"body"`
	CachedAt   time.Time   `json:"cachedAt"`
}

// OK reports whether the status is in the 2xx range.
func (s StoredResponse) OK() bool {
	return s.Status >= 200 && s.Status < 300
}

// Response builds an *http.Response for req from the stored copy.
func (s StoredResponse) Response(req *http.Request) *http.Response {
	h := s.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	return newResponse(req, s.Status, s.StatusText, h, s.Body)
}

// capture reads resp fully and returns the stored copy plus a replacement
// response carrying the same body for the caller.
func capture(key string, resp *http.Response, now time.Time) (StoredResponse, *http.Response, error) {
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return StoredResponse{}, nil, err
	}
	stored := StoredResponse{
		Version:    storedResponseVersion,
		URL:        key,
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Header:     resp.Header.Clone(),
		Body:       body,
		CachedAt:   now.UTC(),
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return stored, resp, nil
}

// statusText extracts the reason phrase from resp.Status ("503 Offline" gives "Offline").
func statusText(resp *http.Response) string {
	code := strconv.Itoa(resp.StatusCode)
	if text, ok := strings.CutPrefix(resp.Status, code+" "); ok {
		return text
	}
	return ""
}

func synthesize(req *http.Request, status int, text, body string) *http.Response {
	h := http.Header{}
	h.Set("Content-Type", "text/plain; charset=utf-8")
	return newResponse(req, status, text, h, []byte(body))
}

func newResponse(req *http.Request, status int, text string, h http.Header, body []byte) *http.Response {
	if text == "" {
		text = http.StatusText(status)
	}
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + text,
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// CacheKey identifies a request in a cache: its absolute URL without fragment.
func CacheKey(u *url.URL) string {
	k := *u
	k.Fragment = ""
	k.RawFragment = ""
	if k.Path == "" {
		k.Path = "/"
	}
	return k.String()
}
