package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-todo/events"
)

const DefaultCacheName = "todo-app-v2"

// DefaultManifest lists the app shell assets cached on install.
var DefaultManifest = []string{
	"/",
	"/index.html",
	"/manifest.json",
	"/assets/index.css",
	"/assets/ui-HmTWRswT.js",
	"/assets/index-BpDF4nSt.js",
	"/checklist.png",
	"/checklist1.png",
	"/to-do-list.png",
	"/_redirects",
}

const (
	apiUnavailableBody = "API unavailable"
	offlineStatusText  = "Offline"
	offlineBody        = "Not available offline"
)

// State is the lifecycle position of a worker.
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrInvalidState is returned when a lifecycle step is called out of order.
var ErrInvalidState = errors.New("offline: invalid worker state")

// Config configures a Worker. Zero fields get the documented defaults.
type Config struct {
	// CacheName is the current cache generation. Defaults to DefaultCacheName.
	CacheName string
	// Manifest URLs are resolved against Origin. Defaults to DefaultManifest.
	Manifest []string
	// Origin is the site the worker serves. Required.
	Origin *url.URL
	// APIPrefixes are path prefixes handled network-first. Defaults to "/api/".
	APIPrefixes []string
	// APIKeywords route any URL containing one of them network-first. Defaults to "notification".
	APIKeywords []string
	// AppShell is served to navigations that fail with nothing cached. Defaults to "/index.html".
	AppShell string
	// Transport performs network requests. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
	// Storage holds the caches. Required.
	Storage CacheStorage
	// Events receives lifecycle notifications. Optional.
	Events     events.Publisher
	Revalidate RevalidateConfig
	// Logger defaults to the logrus standard logger.
	Logger *log.Logger
	Now    func() time.Time
}

func (c Config) withDefaults() (Config, error) {
	if c.Origin == nil || c.Origin.Host == "" {
		return c, errors.New("offline: origin is required")
	}
	if c.Storage == nil {
		return c, errors.New("offline: cache storage is required")
	}
	if c.CacheName == "" {
		c.CacheName = DefaultCacheName
	}
	if c.Manifest == nil {
		c.Manifest = DefaultManifest
	}
	if len(c.APIPrefixes) == 0 {
		c.APIPrefixes = []string{"/api/"}
	}
	if c.APIKeywords == nil {
		c.APIKeywords = []string{"notification"}
	}
	if c.AppShell == "" {
		c.AppShell = "/index.html"
	}
	if c.Transport == nil {
		c.Transport = http.DefaultTransport
	}
	if c.Logger == nil {
		c.Logger = log.StandardLogger()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c, nil
}

// Client is a page the worker knows about.
type Client struct {
	ID         string    `json:"id"`
	Controlled bool      `json:"controlled"`
	SeenAt     time.Time `json:"seenAt"`
}

// Worker intercepts requests to Origin and serves them from versioned caches.
type Worker struct {
	cfg      Config
	shellKey string
	reval    *revalidator

	mu      sync.RWMutex
	state   State
	clients map[string]*Client
	order   []string
}

func NewWorker(cfg Config) (*Worker, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	w := &Worker{
		cfg:      cfg,
		shellKey: CacheKey(cfg.Origin.ResolveReference(&url.URL{Path: cfg.AppShell})),
		clients:  map[string]*Client{},
	}
	w.reval = newRevalidator(cfg.Revalidate, w.revalidate)
	return w, nil
}

func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// CacheName is the current cache generation.
func (w *Worker) CacheName() string { return w.cfg.CacheName }

// Storage returns the cache storage the worker serves from.
func (w *Worker) Storage() CacheStorage { return w.cfg.Storage }

func (w *Worker) transition(from []State, to State) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range from {
		if w.state == s {
			w.state = to
			return true
		}
	}
	return false
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// InstallReport describes how the manifest was cached.
type InstallReport struct {
	Cache  string
	Cached []string
	Failed map[string]error
}

// Install opens the current cache and adds every manifest entry. Each entry is
// fetched independently and failures only skip that entry. The worker then
// activates without waiting.
func (w *Worker) Install(ctx context.Context) (InstallReport, error) {
	report := InstallReport{Cache: w.cfg.CacheName, Failed: map[string]error{}}
	if !w.transition([]State{StateParsed}, StateInstalling) {
		return report, fmt.Errorf("install from %s: %w", w.State(), ErrInvalidState)
	}
	cache, err := w.cfg.Storage.Open(ctx, w.cfg.CacheName)
	if err != nil {
		w.setState(StateParsed)
		return report, fmt.Errorf("open cache %s: %w", w.cfg.CacheName, err)
	}
	w.cfg.Logger.WithField("cache", w.cfg.CacheName).Info("opened cache")

	type result struct {
		url string
		err error
	}
	results := make([]result, len(w.cfg.Manifest))
	var wg sync.WaitGroup
	for i, raw := range w.cfg.Manifest {
		wg.Add(1)
		go func(i int, raw string) {
			defer wg.Done()
			results[i] = result{url: raw, err: w.addAsset(ctx, cache, raw)}
		}(i, raw)
	}
	wg.Wait()

	for _, r := range results {
		if r.err == nil {
			report.Cached = append(report.Cached, r.url)
			continue
		}
		report.Failed[r.url] = r.err
		w.cfg.Logger.WithError(r.err).WithField("url", r.url).Warn("failed to cache asset")
		w.emit(ctx, events.WorkerEvent{Type: events.AssetCacheFailed, URL: r.url, Error: r.err.Error()})
	}

	w.setState(StateInstalled)
	w.emit(ctx, events.WorkerEvent{Type: events.Installed, Cached: len(report.Cached)})
	return report, w.Activate(ctx)
}

func (w *Worker) addAsset(ctx context.Context, cache Cache, raw string) error {
	ref, err := url.Parse(raw)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.cfg.Origin.ResolveReference(ref).String(), nil)
	if err != nil {
		return err
	}
	return Add(ctx, cache, w.cfg.Transport, req, w.cfg.Now())
}

// Activate deletes every cache except the current one and takes control of
// all known clients. Deletion failures are logged and returned joined after
// activation completes.
func (w *Worker) Activate(ctx context.Context) error {
	if w.State() == StateActivated {
		return nil
	}
	if !w.transition([]State{StateInstalled}, StateActivating) {
		return fmt.Errorf("activate from %s: %w", w.State(), ErrInvalidState)
	}

	var errs []error
	names, err := w.cfg.Storage.Keys(ctx)
	if err != nil {
		w.cfg.Logger.WithError(err).Error("list caches")
		errs = append(errs, err)
	}
	for _, name := range names {
		if name == w.cfg.CacheName {
			continue
		}
		if _, err := w.cfg.Storage.Delete(ctx, name); err != nil {
			w.cfg.Logger.WithError(err).WithField("cache", name).Error("delete old cache")
			errs = append(errs, err)
			continue
		}
		w.cfg.Logger.WithField("cache", name).Info("deleted old cache")
		w.emit(ctx, events.WorkerEvent{Type: events.CacheDeleted, Cache: name})
	}

	claimed := w.claimAll()
	w.setState(StateActivated)
	w.emit(ctx, events.WorkerEvent{Type: events.ClientsClaimed, Clients: claimed})
	w.emit(ctx, events.WorkerEvent{Type: events.Activated})
	return errors.Join(errs...)
}

// Claim registers a page. Pages seen after activation are controlled at once.
func (w *Worker) Claim(clientID string) Client {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.clients[clientID]
	if !ok {
		c = &Client{ID: clientID}
		w.clients[clientID] = c
		w.order = append(w.order, clientID)
	}
	c.SeenAt = w.cfg.Now().UTC()
	if w.state == StateActivated {
		c.Controlled = true
	}
	return *c
}

func (w *Worker) claimAll() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.order))
	for _, id := range w.order {
		w.clients[id].Controlled = true
		ids = append(ids, id)
	}
	return ids
}

// Clients returns the known pages in the order they were first seen.
func (w *Worker) Clients() []Client {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Client, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, *w.clients[id])
	}
	return out
}

func (w *Worker) emit(ctx context.Context, ev events.WorkerEvent) {
	if w.cfg.Events == nil {
		return
	}
	if ev.Cache == "" {
		ev.Cache = w.cfg.CacheName
	}
	ev.Time = w.cfg.Now().UTC()
	if err := w.cfg.Events.Publish(ctx, ev); err != nil {
		w.cfg.Logger.WithError(err).WithField("event", ev.Type).Warn("publish worker event")
	}
}

// Fetch handles one outgoing request. GET requests are served once the worker
// is activated; anything else goes to the network untouched and only then can
// an error be returned. Intercepted requests always get a response.
func (w *Worker) Fetch(req *http.Request) (*http.Response, error) {
	m, ctx := newFetchMetrics(req.Context(), w.cfg.Logger, req)
	req = req.WithContext(ctx)

	if req.Method != http.MethodGet || w.State() != StateActivated {
		m.SetStrategy(StrategyPassthrough)
		m.SetSource(SourceNetwork)
		resp, err := w.cfg.Transport.RoundTrip(req)
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		m.Log(status, err)
		return resp, err
	}

	var resp *http.Response
	if w.isAPI(req.URL) {
		m.SetStrategy(StrategyNetworkFirst)
		resp = w.networkFirst(ctx, req, m)
	} else {
		m.SetStrategy(StrategyCacheFirst)
		resp = w.cacheFirst(ctx, req, m)
	}
	m.Log(resp.StatusCode, nil)
	return resp, nil
}

func (w *Worker) isAPI(u *url.URL) bool {
	for _, p := range w.cfg.APIPrefixes {
		if strings.HasPrefix(u.Path, p) {
			return true
		}
	}
	full := u.String()
	for _, k := range w.cfg.APIKeywords {
		if k != "" && strings.Contains(full, k) {
			return true
		}
	}
	return false
}

func (w *Worker) networkFirst(ctx context.Context, req *http.Request, m *fetchMetrics) *http.Response {
	key := CacheKey(req.URL)
	resp, err := w.cfg.Transport.RoundTrip(req)
	if err == nil && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		m.SetSource(SourceNetwork)
		return resp
	}
	if err == nil {
		var stored StoredResponse
		stored, resp, err = capture(key, resp, w.cfg.Now())
		if err == nil {
			m.SetSource(SourceNetwork)
			m.SetCacheWrite(w.put(ctx, key, stored))
			return resp
		}
	}
	m.ObserveNetworkError(err)

	if stored, err := Match(ctx, w.cfg.Storage, key); err == nil {
		m.SetSource(SourceCache)
		return stored.Response(req)
	} else if !errors.Is(err, ErrCacheMiss) {
		w.cfg.Logger.WithError(err).WithField("url", key).Warn("cache lookup failed")
	}
	m.SetSource(SourceSynthesized)
	return synthesize(req, http.StatusServiceUnavailable, "", apiUnavailableBody)
}

func (w *Worker) cacheFirst(ctx context.Context, req *http.Request, m *fetchMetrics) *http.Response {
	key := CacheKey(req.URL)
	stored, err := Match(ctx, w.cfg.Storage, key)
	if err == nil {
		m.SetSource(SourceCache)
		m.SetRevalidationQueued(w.reval.tryEnqueue(revalidateJob{req: req.Clone(context.Background()), key: key}))
		return stored.Response(req)
	}
	if !errors.Is(err, ErrCacheMiss) {
		w.cfg.Logger.WithError(err).WithField("url", key).Warn("cache lookup failed")
	}

	resp, err := w.cfg.Transport.RoundTrip(req)
	if err == nil {
		m.SetSource(SourceNetwork)
		return resp
	}
	m.ObserveNetworkError(err)
	w.cfg.Logger.WithError(err).WithField("url", key).Debug("fetch failed")

	if isNavigation(req) {
		if shell, err := Match(ctx, w.cfg.Storage, w.shellKey); err == nil {
			m.SetSource(SourceFallback)
			return shell.Response(req)
		}
	}
	m.SetSource(SourceSynthesized)
	return synthesize(req, http.StatusServiceUnavailable, offlineStatusText, offlineBody)
}

// put stores r in the current cache, reporting success.
func (w *Worker) put(ctx context.Context, key string, r StoredResponse) bool {
	cache, err := w.cfg.Storage.Open(ctx, w.cfg.CacheName)
	if err == nil {
		err = cache.Put(ctx, key, r)
	}
	if err != nil {
		w.cfg.Logger.WithError(err).WithField("url", key).Warn("cache write failed")
		return false
	}
	return true
}

func (w *Worker) revalidate(ctx context.Context, job revalidateJob) {
	resp, err := w.cfg.Transport.RoundTrip(job.req.WithContext(ctx))
	if err != nil {
		w.cfg.Logger.WithError(err).WithField("url", job.key).Debug("revalidation failed")
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return
	}
	stored, _, err := capture(job.key, resp, w.cfg.Now())
	if err != nil {
		return
	}
	w.put(ctx, job.key, stored)
}

// WaitRevalidations blocks until queued background refetches finished.
func (w *Worker) WaitRevalidations(ctx context.Context) error {
	return w.reval.wait(ctx)
}

// Close stops the revalidation pool after draining it.
func (w *Worker) Close() {
	w.reval.close()
}

func isNavigation(req *http.Request) bool {
	if mode := req.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}
