// Package controller drives the engine from user input: it plans
// requests, tracks the expected fingerprint so stale completions are
// discarded, gates auto-update, and talks back to the embedding view
// through a narrow callback contract.
package controller

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/rs/zerolog"

	"github.com/msflight/wmsclient/internal/cache/diskstore"
	"github.com/msflight/wmsclient/internal/capabilities"
	"github.com/msflight/wmsclient/internal/compositor"
	"github.com/msflight/wmsclient/internal/core/model"
	"github.com/msflight/wmsclient/internal/core/ogc"
	"github.com/msflight/wmsclient/internal/fetch"
	"github.com/msflight/wmsclient/internal/planner"
	"github.com/msflight/wmsclient/internal/registry"
)

// CRSDecision is the answer to the unsupported-CRS warning.
type CRSDecision int

const (
	// CRSAbort cancels the request.
	CRSAbort CRSDecision = iota
	// CRSProceed sends the request anyway, once.
	CRSProceed
	// CRSIgnore proceeds and suppresses the check for the session.
	CRSIgnore
)

// View is the callback contract toward the embedding UI. All methods are
// invoked from the controller's event goroutine.
type View interface {
	// PresentImage delivers the composited map and legend strip.
	PresentImage(img *image.RGBA, legend *image.RGBA, fingerprint string)
	// PresentSection delivers linear-section payloads, one per layer.
	PresentSection(data [][]byte, fingerprint string)
	// ReportProgress toggles the long-operation indicator.
	ReportProgress(active bool, fingerprint string)
	ReportError(err error)
	ConfirmClearCache() bool
	ConfirmUnsupportedCRS(layer, crs string) CRSDecision
}

type Controller struct {
	log      zerolog.Logger
	reg      *registry.Registry
	resolver *capabilities.Resolver
	plan     *planner.Planner
	engine   *fetch.Engine
	store    *diskstore.Store
	view     View

	mu         sync.Mutex
	expected   string
	viewHeight int
	autoUpdate bool
	ignoreCRS  bool
	lastView   *planner.View
	lastOpts   planner.Options
}

func New(log zerolog.Logger, reg *registry.Registry, resolver *capabilities.Resolver,
	plan *planner.Planner, engine *fetch.Engine, store *diskstore.Store, view View) *Controller {
	return &Controller{
		log:        log.With().Str("component", "controller").Logger(),
		reg:        reg,
		resolver:   resolver,
		plan:       plan,
		engine:     engine,
		store:      store,
		view:       view,
		autoUpdate: true,
	}
}

// Start services the cache and preloads configured endpoints.
func (c *Controller) Start(ctx context.Context, preload []string) {
	if err := c.store.Service(); err != nil {
		c.log.Warn().Err(err).Msg("cache service failed")
	}
	c.resolver.Preload(ctx, preload, func(i, n int, url string, err error) {
		c.log.Info().Int("done", i).Int("total", n).Str("endpoint", url).
			Bool("ok", err == nil).Msg("preload progress")
	})
	for _, url := range c.resolver.Endpoints() {
		if caps, ok := c.resolver.Lookup(url); ok {
			c.reg.AddEndpoint(caps)
		}
	}
}

// Stop services the cache on the way out. The engine is closed
// separately so Run can drain remaining events first.
func (c *Controller) Stop() {
	if err := c.store.Service(); err != nil {
		c.log.Warn().Err(err).Msg("cache service failed")
	}
}

// Run drains engine events until the context ends or the engine closes.
func (c *Controller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.engine.Events():
			if !ok {
				return
			}
			c.handle(ev)
		}
	}
}

// AddEndpoint acquires capabilities and registers the server.
func (c *Controller) AddEndpoint(ctx context.Context, url string) (*model.Capability, error) {
	caps, err := c.resolver.Ensure(ctx, url)
	if err != nil {
		return nil, err
	}
	c.reg.AddEndpoint(caps)
	return caps, nil
}

// Request plans and submits a foreground fetch for the current active
// layers. A new request supersedes any unfinished prior one.
func (c *Controller) Request(view planner.View, opts planner.Options) error {
	states := c.reg.Active()
	if len(states) == 0 {
		return nil
	}
	if err := c.checkCRS(states, view); err != nil {
		return err
	}
	endpoints := c.endpointMap()
	items, err := c.plan.Plan(endpoints, states, view, opts)
	if err != nil {
		return err
	}
	fp := planner.BatchFingerprint(items)
	kind := view.Kind()

	c.mu.Lock()
	c.expected = fp
	c.lastView = &view
	c.lastOpts = opts
	if view.Map != nil {
		c.viewHeight = view.Map.Height
	}
	c.mu.Unlock()

	c.engine.CancelPending()
	c.engine.Submit(fp, kind, items)
	c.engine.Prefetch(c.plan.Neighborhood(endpoints, states, view, opts))
	return nil
}

// Cancel abandons the pending foreground work; a late completion for the
// old fingerprint is discarded.
func (c *Controller) Cancel() {
	c.engine.CancelPending()
	c.mu.Lock()
	fp := c.expected
	c.expected = ""
	c.mu.Unlock()
	if fp != "" {
		c.view.ReportProgress(false, fp)
	}
}

// SetAutoUpdate toggles re-fetching on selection changes.
func (c *Controller) SetAutoUpdate(on bool) {
	c.mu.Lock()
	c.autoUpdate = on
	c.mu.Unlock()
}

// SelectionChanged is called after any layer/dimension change; with
// auto-update on it re-issues the last request shape.
func (c *Controller) SelectionChanged() {
	c.mu.Lock()
	auto, last, opts := c.autoUpdate, c.lastView, c.lastOpts
	c.mu.Unlock()
	if !auto || last == nil {
		return
	}
	if err := c.Request(*last, opts); err != nil {
		c.view.ReportError(err)
	}
}

// ClearCache asks the view for confirmation, then wipes the store.
func (c *Controller) ClearCache() {
	if !c.view.ConfirmClearCache() {
		return
	}
	if err := c.store.Clear(); err != nil {
		c.view.ReportError(err)
	}
}

func (c *Controller) checkCRS(states []*registry.State, view planner.View) error {
	c.mu.Lock()
	ignore := c.ignoreCRS
	c.mu.Unlock()
	if ignore {
		return nil
	}
	err := c.plan.CheckCRS(states, view)
	if err == nil {
		return nil
	}
	var crsErr *ogc.UnsupportedCRSError
	if !errors.As(err, &crsErr) {
		return err
	}
	switch c.view.ConfirmUnsupportedCRS(crsErr.Layer, crsErr.CRS) {
	case CRSProceed:
		return nil
	case CRSIgnore:
		c.mu.Lock()
		c.ignoreCRS = true
		c.mu.Unlock()
		return nil
	default:
		return err
	}
}

func (c *Controller) handle(ev fetch.Event) {
	switch e := ev.(type) {
	case fetch.Started:
		if c.isExpected(e.Fingerprint) {
			c.view.ReportProgress(true, e.Fingerprint)
		}
	case fetch.Failed:
		if !c.isExpected(e.Fingerprint) {
			c.log.Debug().Str("fingerprint", e.Fingerprint).Msg("stale failure discarded")
			return
		}
		c.view.ReportProgress(false, e.Fingerprint)
		c.view.ReportError(e.Err)
	case fetch.Finished:
		if !c.isExpected(e.Fingerprint) {
			c.log.Debug().Str("fingerprint", e.Fingerprint).Msg("stale result discarded")
			return
		}
		c.view.ReportProgress(false, e.Fingerprint)
		if e.Kind == model.KindLSec {
			c.view.PresentSection(e.XML, e.Fingerprint)
			return
		}
		c.mu.Lock()
		height := c.viewHeight
		c.mu.Unlock()
		img := compositor.Composite(e.Images)
		legend := compositor.StackLegends(e.Legends, height)
		c.view.PresentImage(img, legend, e.Fingerprint)
	}
}

func (c *Controller) isExpected(fp string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fp == c.expected
}

func (c *Controller) endpointMap() map[string]*model.Capability {
	out := make(map[string]*model.Capability)
	for _, caps := range c.reg.Endpoints() {
		out[caps.URL] = caps
	}
	return out
}
