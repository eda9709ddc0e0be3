// Package model defines core domain types shared across the engine.
package model

import (
	"fmt"
	"time"
)

// BBox is a map-request bounding box in minx,miny,maxx,maxy order.
type BBox struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

// String representation matching the wms bbox parameter format
func (b BBox) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.MinX, b.MinY, b.MaxX, b.MaxY)
}

// Swapped returns the bbox with axis order reversed, as WMS 1.3.0 requires
// for CRSes with latitude-first axis order.
func (b BBox) Swapped() BBox {
	return BBox{MinX: b.MinY, MinY: b.MinX, MaxX: b.MaxY, MaxY: b.MaxX}
}

// Style is one named rendering of a layer.
type Style struct {
	Name      string
	Title     string
	LegendURL string
}

// Layer is a flattened leaf of a capability document. CRS options,
// dimensions and extents inherited from ancestor layers are already merged
// in; no parent pointers are retained after parsing.
type Layer struct {
	Name     string
	Title    string
	Abstract string

	Styles     []Style
	AllowedCRS []string

	// Elevations are level strings like "500 (hPa)", ordered as advertised.
	Elevations    []string
	ElevationUnit string

	InitTimes  []time.Time
	ValidTimes []time.Time

	// Which wms dimension names carry init/valid time semantics for this
	// layer ("init_time", "reference_time" or "run", and "time" or
	// "forecast"). Empty when the layer has no such dimension.
	InitTimeName  string
	ValidTimeName string
}

// StyleNames returns the style names in document order.
func (l *Layer) StyleNames() []string {
	names := make([]string, 0, len(l.Styles))
	for _, s := range l.Styles {
		names = append(names, s.Name)
	}
	return names
}

// FindStyle returns the style record for name, if the layer has it.
func (l *Layer) FindStyle(name string) (Style, bool) {
	for _, s := range l.Styles {
		if s.Name == name {
			return s, true
		}
	}
	return Style{}, false
}

// HasCRS reports whether code is among the layer's allowed CRSes.
func (l *Layer) HasCRS(code string) bool {
	for _, c := range l.AllowedCRS {
		if c == code {
			return true
		}
	}
	return false
}

// Capability is a parsed capability document, retained in memory for the
// process lifetime once acquired.
type Capability struct {
	// URL is the canonical endpoint URL the document was acquired from.
	URL     string
	Version string

	Title             string
	Abstract          string
	ContactPerson     string
	ContactOrg        string
	ContactEmail      string
	AccessConstraints string

	// GetMapURL is the advertised GetMap online resource. It may carry
	// query parameters of its own which are preserved on requests.
	GetMapURL string
	Formats   []string

	// Raw holds the document bytes for display.
	Raw []byte
	// Hash is a digest of Raw; an endpoint is replaced when it changes.
	Hash uint64

	Layers []Layer
}

// Layer returns the named layer record.
func (c *Capability) Layer(name string) (*Layer, bool) {
	for i := range c.Layers {
		if c.Layers[i].Name == name {
			return &c.Layers[i], true
		}
	}
	return nil, false
}

// RequestKind distinguishes the three product shapes planned against a
// WMS endpoint.
type RequestKind int

const (
	KindMap RequestKind = iota
	KindVSec
	KindLSec
)

func (k RequestKind) String() string {
	switch k {
	case KindVSec:
		return "vsec"
	case KindLSec:
		return "lsec"
	default:
		return "map"
	}
}

// MapView is the horizontal-map viewport.
type MapView struct {
	CRS    string
	BBox   BBox
	Width  int
	Height int
}

// VSecView is a vertical cross-section along a waypoint path.
type VSecView struct {
	// Path holds lat,lon pairs.
	Path [][2]float64
	// NumInterpPoints and NumLabels are encoded into the non-standard
	// VERT:LOGP bounding box together with the pressure bounds (Pa).
	NumInterpPoints int
	NumLabels       int
	PBot, PTop      float64
	Width, Height   int
}

// LSecView is a linear profile sampled along a 3-D path.
type LSecView struct {
	// Path holds lat,lon,pressure triples.
	Path [][3]float64
}
