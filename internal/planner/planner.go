// Package planner translates layer selections and a viewport into
// canonical WMS requests with cache fingerprints, and computes the
// prefetch neighborhood around each user-visible request.
package planner

import (
	"fmt"
	"strings"
	"time"

	"github.com/msflight/wmsclient/internal/cache/keys"
	"github.com/msflight/wmsclient/internal/core/config"
	"github.com/msflight/wmsclient/internal/core/model"
	"github.com/msflight/wmsclient/internal/core/ogc"
	"github.com/msflight/wmsclient/internal/dimensions"
	"github.com/msflight/wmsclient/internal/registry"
)

// Item is one planned request, ready for the fetch engine.
type Item struct {
	Kind     model.RequestKind
	Endpoint string
	Layer    string

	URL         string
	Fingerprint string
	Filename    string
	ContentXML  bool

	LegendURL         string
	LegendFingerprint string
	LegendFilename    string
}

// Options are the request knobs shared by all product kinds.
type Options struct {
	Format      string
	Transparent bool
	BGColor     string // six hex digits, empty for server default
}

type Planner struct {
	prefetch config.Prefetch
}

func New(prefetch config.Prefetch) *Planner {
	return &Planner{prefetch: prefetch}
}

// View is the sum of the three request shapes; exactly one field is set.
type View struct {
	Map  *model.MapView
	VSec *model.VSecView
	LSec *model.LSecView
}

func (v View) Kind() model.RequestKind {
	switch {
	case v.VSec != nil:
		return model.KindVSec
	case v.LSec != nil:
		return model.KindLSec
	default:
		return model.KindMap
	}
}

// Plan builds one request per active layer, in priority order. Each
// layer's own dimensional selection is honored, so heterogeneous layers
// composite correctly.
func (p *Planner) Plan(endpoints map[string]*model.Capability, states []*registry.State, view View, opts Options) ([]Item, error) {
	items := make([]Item, 0, len(states))
	for _, st := range states {
		caps, ok := endpoints[st.Endpoint]
		if !ok {
			return nil, fmt.Errorf("no capability document for %s", st.Endpoint)
		}
		item, err := p.planOne(caps, st, st.Elevation, st.ValidTime, view, opts)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// CheckCRS verifies the map CRS is advertised by every layer. Section
// products use the non-standard CRSes and skip the check.
func (p *Planner) CheckCRS(states []*registry.State, view View) error {
	if view.Map == nil {
		return nil
	}
	for _, st := range states {
		if !st.Layer.HasCRS(view.Map.CRS) {
			return &ogc.UnsupportedCRSError{Layer: st.Layer.Name, CRS: view.Map.CRS}
		}
	}
	return nil
}

// Neighborhood computes the prefetch requests around the given states:
// the configured number of valid-time steps forward and backward and
// level steps up and down, per layer. Absent dimensions contribute
// nothing; the neighborhood never includes the foreground selection
// itself.
func (p *Planner) Neighborhood(endpoints map[string]*model.Capability, states []*registry.State, view View, opts Options) []Item {
	var items []Item
	for _, st := range states {
		caps, ok := endpoints[st.Endpoint]
		if !ok {
			continue
		}
		for _, vt := range timeSteps(dimensions.ValidTimesAfter(st.Layer, st.InitTime),
			st.ValidTime, p.prefetch.ValidTimeFwd, p.prefetch.ValidTimeBck) {
			if item, err := p.planOne(caps, st, st.Elevation, vt, view, opts); err == nil {
				items = append(items, item)
			}
		}
		for _, lv := range levelSteps(dimensions.Levels(st.Layer),
			st.Elevation, p.prefetch.LevelUp, p.prefetch.LevelDown) {
			if item, err := p.planOne(caps, st, lv, st.ValidTime, view, opts); err == nil {
				items = append(items, item)
			}
		}
	}
	return items
}

func (p *Planner) planOne(caps *model.Capability, st *registry.State, elevation string, validTime time.Time, view View, opts Options) (Item, error) {
	req := ogc.GetMapRequest{
		Version:       caps.Version,
		Layers:        []string{st.Layer.Name},
		Styles:        []string{st.Style},
		Format:        opts.Format,
		Transparent:   opts.Transparent,
		BGColor:       opts.BGColor,
		ValidTime:     validTime,
		ValidTimeName: st.Layer.ValidTimeName,
		InitTime:      st.InitTime,
		InitTimeName:  st.Layer.InitTimeName,
		Elevation:     levelValue(elevation),
	}
	kind := view.Kind()
	switch kind {
	case model.KindMap:
		req.CRS = view.Map.CRS
		req.BBox = view.Map.BBox
		req.Width = view.Map.Width
		req.Height = view.Map.Height
	case model.KindVSec:
		req.CRS = ogc.CRSVerticalLogP
		req.BBox = ogc.VSecBBox(*view.VSec)
		req.Width = view.VSec.Width
		req.Height = view.VSec.Height
		req.Path = ogc.VSecPath(view.VSec.Path)
	case model.KindLSec:
		req.CRS = ogc.CRSLinear
		req.Format = "text/xml"
		req.Path = ogc.LSecPath(view.LSec.Path)
	}

	fullURL, err := ogc.MergeURL(caps.GetMapURL, req.Params())
	if err != nil {
		return Item{}, err
	}
	fp := keys.Fingerprint(fullURL)
	ext := ogc.FilenameExt(req.Format)

	item := Item{
		Kind:        kind,
		Endpoint:    caps.URL,
		Layer:       st.Layer.Name,
		URL:         fullURL,
		Fingerprint: fp,
		Filename:    keys.Filename(fp, ext),
		ContentXML:  ext == ".xml",
	}
	if style, ok := st.Layer.FindStyle(st.Style); ok && style.LegendURL != "" && kind != model.KindLSec {
		lfp := keys.Fingerprint(style.LegendURL)
		item.LegendURL = style.LegendURL
		item.LegendFingerprint = lfp
		item.LegendFilename = keys.Filename(lfp, ".png")
	}
	return item, nil
}

// BatchFingerprint identifies one composited multi-layer request: the
// concatenated item fingerprints hashed again, stable under identical
// selections.
func BatchFingerprint(items []Item) string {
	if len(items) == 1 {
		return items[0].Fingerprint
	}
	var b strings.Builder
	for _, it := range items {
		b.WriteString(it.Fingerprint)
	}
	return keys.Fingerprint(b.String())
}

// levelValue strips the unit suffix from a level string: "500 (hPa)"
// becomes "500".
func levelValue(level string) string {
	if i := strings.Index(level, " ("); i >= 0 {
		return level[:i]
	}
	return strings.TrimSpace(level)
}

func timeSteps(domain []time.Time, current time.Time, fwd, bck int) []time.Time {
	idx := -1
	for i, t := range domain {
		if t.Equal(current) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	var out []time.Time
	for d := 1; d <= fwd; d++ {
		if idx+d < len(domain) {
			out = append(out, domain[idx+d])
		}
	}
	for d := 1; d <= bck; d++ {
		if idx-d >= 0 {
			out = append(out, domain[idx-d])
		}
	}
	return out
}

func levelSteps(domain []string, current string, up, down int) []string {
	idx := -1
	for i, lv := range domain {
		if lv == current {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	var out []string
	for d := 1; d <= up; d++ {
		if idx+d < len(domain) {
			out = append(out, domain[idx+d])
		}
	}
	for d := 1; d <= down; d++ {
		if idx-d >= 0 {
			out = append(out, domain[idx-d])
		}
	}
	return out
}
