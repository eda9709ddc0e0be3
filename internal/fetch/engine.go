// Package fetch executes planned requests on background workers: one
// foreground fetcher and one prefetcher, each draining a FIFO queue one
// item at a time. Results are emitted as events on a channel; the caller
// reconciles out-of-order completions by fingerprint.
package fetch

import (
	"bytes"
	"context"
	"image"
	"image/draw"
	"sync"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/msflight/wmsclient/internal/auth"
	"github.com/msflight/wmsclient/internal/cache/diskstore"
	"github.com/msflight/wmsclient/internal/core/model"
	"github.com/msflight/wmsclient/internal/core/observability"
	"github.com/msflight/wmsclient/internal/core/ogc"
	"github.com/msflight/wmsclient/internal/planner"
)

// decodedImageCacheSize bounds the in-memory tier of decoded RGBA images.
const decodedImageCacheSize = 64

// Event is a worker-to-controller message.
type Event interface{ isEvent() }

// Started announces that a foreground batch needs the network; the
// controller may show a progress dialog. Fully cached batches never emit
// it.
type Started struct {
	Fingerprint string
}

// Finished delivers a completed batch. Images and Legends are parallel to
// the submitted items, in priority order; a layer without a legend leaves
// a nil slot. XML carries linear-section payloads instead of images.
type Finished struct {
	Fingerprint string
	Kind        model.RequestKind
	Images      []*image.RGBA
	Legends     []*image.RGBA
	XML         [][]byte
}

// Failed delivers a foreground batch failure.
type Failed struct {
	Fingerprint string
	Err         error
}

func (Started) isEvent()  {}
func (Finished) isEvent() {}
func (Failed) isEvent()   {}

type batch struct {
	fingerprint string
	kind        model.RequestKind
	items       []planner.Item
	silent      bool
}

type Engine struct {
	client httpDoer
	broker *auth.Broker
	store  *diskstore.Store
	log    zerolog.Logger

	images *lru.Cache[string, *image.RGBA]
	events chan Event

	foreground *worker
	prefetcher *worker

	wg sync.WaitGroup
}

// httpDoer matches *http.Client; a seam for tests.
type httpDoer = auth.HTTPClient

// NewEngine starts the two workers.
func NewEngine(client httpDoer, broker *auth.Broker, store *diskstore.Store, log zerolog.Logger) *Engine {
	images, _ := lru.New[string, *image.RGBA](decodedImageCacheSize)
	e := &Engine{
		client:     client,
		broker:     broker,
		store:      store,
		log:        log.With().Str("component", "fetch").Logger(),
		images:     images,
		events:     make(chan Event, 32),
		foreground: newWorker(),
		prefetcher: newWorker(),
	}
	e.wg.Add(2)
	go e.run(e.foreground)
	go e.run(e.prefetcher)
	return e
}

// Events is the completion stream. The controller must drain it.
func (e *Engine) Events() <-chan Event { return e.events }

// Submit enqueues a foreground batch. The caller records the batch
// fingerprint as its expected one; earlier unfinished submissions still
// complete but their events are stale.
func (e *Engine) Submit(fingerprint string, kind model.RequestKind, items []planner.Item) {
	e.foreground.push(batch{fingerprint: fingerprint, kind: kind, items: items})
}

// Prefetch enqueues neighborhood items. Each becomes its own silent
// batch; failures are logged, never surfaced.
func (e *Engine) Prefetch(items []planner.Item) {
	for _, it := range items {
		e.prefetcher.push(batch{
			fingerprint: it.Fingerprint,
			kind:        it.Kind,
			items:       []planner.Item{it},
			silent:      true,
		})
	}
}

// CancelPending drops queued foreground batches. The in-flight item, if
// any, completes and its event is reconciled away by the caller.
func (e *Engine) CancelPending() {
	e.foreground.clear()
}

// Close stops both workers after their current item, discards anything
// still queued and closes the event stream.
func (e *Engine) Close() {
	e.foreground.stop()
	e.prefetcher.stop()
	e.wg.Wait()
	close(e.events)
}

func (e *Engine) run(w *worker) {
	defer e.wg.Done()
	for {
		b, ok := w.pop()
		if !ok {
			return
		}
		e.process(b)
	}
}

func (e *Engine) process(b batch) {
	log := e.log.With().Str("fingerprint", b.fingerprint).Bool("prefetch", b.silent).Logger()

	if !b.silent && !e.allCached(b.items) {
		e.events <- Started{Fingerprint: b.fingerprint}
	}

	result := Finished{
		Fingerprint: b.fingerprint,
		Kind:        b.kind,
		Images:      make([]*image.RGBA, len(b.items)),
		Legends:     make([]*image.RGBA, len(b.items)),
		XML:         make([][]byte, len(b.items)),
	}
	for i, item := range b.items {
		img, xml, err := e.fetchItem(item)
		if err != nil {
			if b.silent {
				log.Debug().Str("layer", item.Layer).Err(err).Msg("prefetch item failed")
				return
			}
			log.Warn().Str("layer", item.Layer).Err(err).Msg("fetch failed")
			e.events <- Failed{Fingerprint: b.fingerprint, Err: err}
			return
		}
		result.Images[i] = img
		result.XML[i] = xml

		if item.LegendURL != "" {
			legend, err := e.fetchLegend(item)
			if err != nil {
				// a missing legend never fails the map
				log.Debug().Str("layer", item.Layer).Err(err).Msg("legend fetch failed")
			} else {
				result.Legends[i] = legend
			}
		}
	}
	if b.silent {
		return
	}
	e.events <- result
}

func (e *Engine) allCached(items []planner.Item) bool {
	for _, it := range items {
		if _, ok := e.images.Get(it.Fingerprint); ok {
			continue
		}
		if !e.store.Has(it.Filename) {
			return false
		}
	}
	return true
}

// fetchItem resolves one planned request through memory, disk and
// finally the network.
func (e *Engine) fetchItem(item planner.Item) (*image.RGBA, []byte, error) {
	if item.ContentXML {
		data, err := e.payload(item, func(ct string, body []byte) error {
			return checkException(item.URL, ct, body, true)
		})
		if err != nil {
			return nil, nil, err
		}
		return nil, data, nil
	}

	if img, ok := e.images.Get(item.Fingerprint); ok {
		return img, nil, nil
	}
	data, err := e.payload(item, func(ct string, body []byte) error {
		return checkException(item.URL, ct, body, false)
	})
	if err != nil {
		return nil, nil, err
	}
	img, err := decodeRGBA(data)
	if err != nil {
		return nil, nil, &ogc.ParseError{What: "map image", Err: err}
	}
	e.images.Add(item.Fingerprint, img)
	return img, nil, nil
}

func (e *Engine) fetchLegend(item planner.Item) (*image.RGBA, error) {
	if img, ok := e.images.Get(item.LegendFingerprint); ok {
		return img, nil
	}
	data, ok := e.store.Lookup(item.LegendFilename)
	if !ok {
		var err error
		start := time.Now()
		data, _, err = auth.Get(context.Background(), e.client, e.broker, item.Endpoint, item.LegendURL)
		observability.ObserveFetchLatency(item.Endpoint, "legend", time.Since(start).Seconds())
		if err != nil {
			return nil, err
		}
		if err := e.store.Store(item.LegendFilename, data); err != nil {
			e.log.Warn().Err(err).Msg("legend cache write failed")
		}
	}
	img, err := decodeRGBA(data)
	if err != nil {
		return nil, &ogc.ParseError{What: "legend image", Err: err}
	}
	e.images.Add(item.LegendFingerprint, img)
	return img, nil
}

// payload returns the raw response bytes for an item, consulting the disk
// store first. check inspects a network response before it is accepted
// and cached.
func (e *Engine) payload(item planner.Item, check func(ct string, body []byte) error) ([]byte, error) {
	if data, ok := e.store.Lookup(item.Filename); ok {
		return data, nil
	}
	start := time.Now()
	data, ct, err := auth.Get(context.Background(), e.client, e.broker, item.Endpoint, item.URL)
	observability.ObserveFetchLatency(item.Endpoint, item.Kind.String(), time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if err := check(ct, data); err != nil {
		return nil, err
	}
	if err := e.store.Store(item.Filename, data); err != nil {
		// cache i/o never fails the fetch, the in-memory result still counts
		e.log.Warn().Err(err).Msg("cache write failed")
	}
	return data, nil
}

// checkException turns a wms exception report into a ServiceExceptionError.
// For xml products (linear sections) a well-formed Data payload passes;
// for image products any xml-ish content type is suspect.
func checkException(url, ct string, body []byte, xmlExpected bool) error {
	if !ogc.IsExceptionContentType(ct) {
		return nil
	}
	if msg, ok := ogc.ServiceExceptionText(body); ok {
		return &ogc.ServiceExceptionError{URL: url, Message: msg}
	}
	if xmlExpected {
		return nil
	}
	return &ogc.ServiceExceptionError{URL: url, Message: "server returned xml in place of an image"}
}

// decodeRGBA decodes a map or legend image and normalizes it to RGBA.
// Paletted PNGs keep their transparency index: the palette carries alpha,
// and the draw conversion preserves it.
func decodeRGBA(data []byte) (*image.RGBA, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba, nil
}

// EncodePNG is the inverse used when persisting composited output.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
