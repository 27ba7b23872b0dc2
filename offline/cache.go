package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrCacheMiss is returned by Match when nothing is stored under the key.
var ErrCacheMiss = errors.New("offline: cache miss")

// Cache is one named generation of stored responses, keyed by CacheKey.
type Cache interface {
	Name() string
	Match(ctx context.Context, key string) (StoredResponse, error)
	Put(ctx context.Context, key string, r StoredResponse) error
	// Keys returns the stored keys in sorted order.
	Keys(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, key string) (bool, error)
}

// CacheStorage holds the named caches.
type CacheStorage interface {
	// Open returns the named cache, creating it when missing.
	Open(ctx context.Context, name string) (Cache, error)
	Has(ctx context.Context, name string) (bool, error)
	// Keys returns cache names in creation order.
	Keys(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) (bool, error)
}

// Match looks key up in every cache, oldest first, and returns the first hit.
func Match(ctx context.Context, cs CacheStorage, key string) (StoredResponse, error) {
	names, err := cs.Keys(ctx)
	if err != nil {
		return StoredResponse{}, err
	}
	for _, name := range names {
		c, err := cs.Open(ctx, name)
		if err != nil {
			return StoredResponse{}, err
		}
		r, err := c.Match(ctx, key)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			return StoredResponse{}, err
		}
	}
	return StoredResponse{}, ErrCacheMiss
}

// StatusError is returned by Add when the response was not 2xx.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
}

// Add fetches req through rt and stores the response in c. Non-2xx responses
// are not stored and reported as *StatusError.
func Add(ctx context.Context, c Cache, rt http.RoundTripper, req *http.Request, now time.Time) error {
	resp, err := rt.RoundTrip(req.WithContext(ctx))
	if err != nil {
		return err
	}
	key := CacheKey(req.URL)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return &StatusError{URL: key, Status: resp.StatusCode}
	}
	stored, _, err := capture(key, resp, now)
	if err != nil {
		return err
	}
	return c.Put(ctx, key, stored)
}
