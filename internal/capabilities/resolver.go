// Package capabilities acquires, parses and memoizes WMS capability
// documents. Memoization is keyed by canonical endpoint URL and lives for
// the process; a document is replaced only when Refresh observes a
// changed document hash.
package capabilities

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/msflight/wmsclient/internal/auth"
	"github.com/msflight/wmsclient/internal/core/model"
	"github.com/msflight/wmsclient/internal/core/observability"
	"github.com/msflight/wmsclient/internal/core/ogc"
)

type Resolver struct {
	client auth.HTTPClient
	broker *auth.Broker
	log    zerolog.Logger

	mu   sync.RWMutex
	memo map[string]*model.Capability

	// flight collapses concurrent acquisitions so at most one request per
	// endpoint is outstanding.
	flight singleflight.Group

	now func() time.Time // for tests
}

func New(client auth.HTTPClient, broker *auth.Broker, log zerolog.Logger) *Resolver {
	return &Resolver{
		client: client,
		broker: broker,
		log:    log.With().Str("component", "capabilities").Logger(),
		memo:   make(map[string]*model.Capability),
		now:    time.Now,
	}
}

// Ensure returns the capability document for an endpoint, fetching and
// parsing it on first use.
func (r *Resolver) Ensure(ctx context.Context, rawURL string) (*model.Capability, error) {
	canonical, err := ogc.CanonicalURL(rawURL)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	cached := r.memo[canonical]
	r.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	v, err, _ := r.flight.Do(canonical, func() (any, error) {
		return r.acquire(ctx, canonical)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Capability), nil
}

// Lookup returns the memoized capability document without fetching.
func (r *Resolver) Lookup(rawURL string) (*model.Capability, bool) {
	canonical, err := ogc.CanonicalURL(rawURL)
	if err != nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	caps, ok := r.memo[canonical]
	return caps, ok
}

// Refresh re-acquires the document and reports whether it changed. An
// unchanged hash keeps the existing record.
func (r *Resolver) Refresh(ctx context.Context, rawURL string) (*model.Capability, bool, error) {
	canonical, err := ogc.CanonicalURL(rawURL)
	if err != nil {
		return nil, false, err
	}
	r.mu.RLock()
	old := r.memo[canonical]
	r.mu.RUnlock()

	fresh, err := r.acquire(ctx, canonical)
	if err != nil {
		return nil, false, err
	}
	if old != nil && old.Hash == fresh.Hash {
		return old, false, nil
	}
	return fresh, true, nil
}

// Remove drops an endpoint from the memo.
func (r *Resolver) Remove(rawURL string) {
	canonical, err := ogc.CanonicalURL(rawURL)
	if err != nil {
		return
	}
	r.mu.Lock()
	delete(r.memo, canonical)
	r.mu.Unlock()
}

// Endpoints lists the canonical URLs currently memoized.
func (r *Resolver) Endpoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.memo))
	for k := range r.memo {
		out = append(out, k)
	}
	return out
}

func (r *Resolver) acquire(ctx context.Context, canonical string) (*model.Capability, error) {
	capURL, err := ogc.GetCapabilitiesURL(canonical)
	if err != nil {
		return nil, err
	}
	log := r.log.With().Str("endpoint", canonical).Logger()
	log.Debug().Msg("acquiring capabilities")

	start := r.now()
	body, _, err := auth.Get(ctx, r.client, r.broker, canonical, capURL)
	observability.ObserveFetchLatency(canonical, "capabilities", r.now().Sub(start).Seconds())
	if err != nil {
		return nil, err
	}

	caps, err := ogc.ParseCapabilities(canonical, body, r.now().UTC(), log)
	observability.IncCapabilityParse(err == nil)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.memo[canonical] = caps
	r.mu.Unlock()
	log.Info().Str("version", caps.Version).Int("layers", len(caps.Layers)).
		Msg("capabilities acquired")
	return caps, nil
}

// ProgressFunc reports preload progress: item i of n finished, err nil on
// success.
type ProgressFunc func(i, n int, url string, err error)

// Preload acquires capabilities for the configured endpoints. Failures are
// logged and skipped; they never abort sibling preloads.
func (r *Resolver) Preload(ctx context.Context, urls []string, progress ProgressFunc) {
	for i, u := range urls {
		if ctx.Err() != nil {
			return
		}
		_, err := r.Ensure(ctx, u)
		if err != nil {
			r.log.Warn().Str("endpoint", u).Err(err).Msg("preload failed, skipping")
		}
		if progress != nil {
			progress(i+1, len(urls), u, err)
		}
	}
}
