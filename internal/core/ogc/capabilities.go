package ogc

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"github.com/msflight/wmsclient/internal/core/model"
)

// initTimeDimensions and validTimeDimensions are the wms dimension names
// recognized as carrying init/valid time semantics; first match wins.
var (
	initTimeDimensions  = []string{"init_time", "reference_time", "run"}
	validTimeDimensions = []string{"time", "forecast"}
)

// xml mapping for both 1.1.1 (WMT_MS_Capabilities) and 1.3.0
// (WMS_Capabilities); the root name is left unconstrained.
type capsDoc struct {
	XMLName xml.Name
	Version string      `xml:"version,attr"`
	Service capsService `xml:"Service"`
	Cap     struct {
		Request struct {
			GetMap struct {
				Formats []string `xml:"Format"`
				DCPType []struct {
					Get struct {
						Online capsOnline `xml:"OnlineResource"`
					} `xml:"HTTP>Get"`
				} `xml:"DCPType"`
			} `xml:"GetMap"`
		} `xml:"Request"`
		Layers []capsLayer `xml:"Layer"`
	} `xml:"Capability"`
}

type capsService struct {
	Title             string `xml:"Title"`
	Abstract          string `xml:"Abstract"`
	AccessConstraints string `xml:"AccessConstraints"`
	Contact           struct {
		Person struct {
			Name string `xml:"ContactPerson"`
			Org  string `xml:"ContactOrganization"`
		} `xml:"ContactPersonPrimary"`
		Email string `xml:"ContactElectronicMailAddress"`
	} `xml:"ContactInformation"`
}

type capsOnline struct {
	Href string `xml:"href,attr"`
}

type capsLayer struct {
	Name     string `xml:"Name"`
	Title    string `xml:"Title"`
	Abstract string `xml:"Abstract"`

	CRS []string `xml:"CRS"` // 1.3.0
	SRS []string `xml:"SRS"` // 1.1.1, may be space-separated lists

	Styles []capsStyle `xml:"Style"`

	// 1.3.0 carries the extent inline on Dimension; 1.1.1 declares
	// Dimension and puts the values in a separate Extent element.
	Dimensions []capsDimension `xml:"Dimension"`
	Extents    []capsDimension `xml:"Extent"`

	Children []capsLayer `xml:"Layer"`
}

type capsStyle struct {
	Name   string `xml:"Name"`
	Title  string `xml:"Title"`
	Legend struct {
		Online capsOnline `xml:"OnlineResource"`
	} `xml:"LegendURL"`
}

type capsDimension struct {
	Name  string `xml:"name,attr"`
	Units string `xml:"units,attr"`
	Value string `xml:",chardata"`
}

// inherited state carried down the layer tree during flattening.
type layerInherit struct {
	crs     map[string]bool
	styles  map[string]model.Style
	dims    map[string]string // dimension name -> units
	extents map[string]string // dimension name -> extent value
}

func (in layerInherit) clone() layerInherit {
	out := layerInherit{
		crs:     make(map[string]bool, len(in.crs)),
		styles:  make(map[string]model.Style, len(in.styles)),
		dims:    make(map[string]string, len(in.dims)),
		extents: make(map[string]string, len(in.extents)),
	}
	for k, v := range in.crs {
		out.crs[k] = v
	}
	for k, v := range in.styles {
		out.styles[k] = v
	}
	for k, v := range in.dims {
		out.dims[k] = v
	}
	for k, v := range in.extents {
		out.extents[k] = v
	}
	return out
}

// ParseCapabilities parses a capability document and flattens the layer
// tree into leaf records with ancestor CRSes, styles, dimensions and
// extents merged in (child entries override same-named ancestor entries).
// now anchors "current" extent tokens. A single unparseable extent is
// logged and that dimension left unavailable; a malformed document fails.
func ParseCapabilities(endpointURL string, raw []byte, now time.Time, log zerolog.Logger) (*model.Capability, error) {
	var doc capsDoc
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, &ParseError{What: "capability document", Err: err}
	}
	root := strings.ToUpper(doc.XMLName.Local)
	if root != "WMT_MS_CAPABILITIES" && root != "WMS_CAPABILITIES" {
		return nil, &ParseError{What: "capability document",
			Err: fmt.Errorf("unexpected root element %q", doc.XMLName.Local)}
	}
	version := doc.Version
	if version == "" {
		version = "1.1.1"
	}

	cap := &model.Capability{
		URL:               endpointURL,
		Version:           version,
		Title:             strings.TrimSpace(doc.Service.Title),
		Abstract:          strings.TrimSpace(doc.Service.Abstract),
		AccessConstraints: strings.TrimSpace(doc.Service.AccessConstraints),
		ContactPerson:     strings.TrimSpace(doc.Service.Contact.Person.Name),
		ContactOrg:        strings.TrimSpace(doc.Service.Contact.Person.Org),
		ContactEmail:      strings.TrimSpace(doc.Service.Contact.Email),
		Formats:           doc.Cap.Request.GetMap.Formats,
		Raw:               raw,
		Hash:              xxhash.Sum64(raw),
	}
	for _, d := range doc.Cap.Request.GetMap.DCPType {
		if href := strings.TrimSpace(d.Get.Online.Href); href != "" {
			cap.GetMapURL = href
			break
		}
	}
	if cap.GetMapURL == "" {
		cap.GetMapURL = endpointURL
	}

	seed := layerInherit{
		crs:     map[string]bool{},
		styles:  map[string]model.Style{},
		dims:    map[string]string{},
		extents: map[string]string{},
	}
	for _, l := range doc.Cap.Layers {
		walkLayer(cap, l, seed, now, log)
	}
	return cap, nil
}

func walkLayer(cap *model.Capability, l capsLayer, inherited layerInherit, now time.Time, log zerolog.Logger) {
	in := inherited.clone()
	for _, c := range l.CRS {
		for f := range strings.FieldsSeq(c) {
			in.crs[f] = true
		}
	}
	for _, c := range l.SRS {
		for f := range strings.FieldsSeq(c) {
			in.crs[f] = true
		}
	}
	for _, s := range l.Styles {
		if s.Name == "" {
			continue
		}
		in.styles[s.Name] = model.Style{
			Name:      s.Name,
			Title:     strings.TrimSpace(s.Title),
			LegendURL: strings.TrimSpace(s.Legend.Online.Href),
		}
	}
	for _, d := range l.Dimensions {
		name := strings.ToLower(strings.TrimSpace(d.Name))
		if name == "" {
			continue
		}
		in.dims[name] = strings.TrimSpace(d.Units)
		// 1.3.0 puts the extent inline on the dimension element.
		if v := strings.TrimSpace(d.Value); v != "" {
			in.extents[name] = v
		}
	}
	for _, e := range l.Extents {
		name := strings.ToLower(strings.TrimSpace(e.Name))
		if name == "" {
			continue
		}
		if v := strings.TrimSpace(e.Value); v != "" {
			in.extents[name] = v
		}
	}

	if l.Name != "" {
		cap.Layers = append(cap.Layers, buildLayer(l, in, now, log))
	}
	for _, child := range l.Children {
		walkLayer(cap, child, in, now, log)
	}
}

func buildLayer(l capsLayer, in layerInherit, now time.Time, log zerolog.Logger) model.Layer {
	out := model.Layer{
		Name:     l.Name,
		Title:    strings.TrimSpace(l.Title),
		Abstract: strings.TrimSpace(l.Abstract),
	}
	for c := range in.crs {
		out.AllowedCRS = append(out.AllowedCRS, c)
	}
	sort.Strings(out.AllowedCRS)
	for _, s := range in.styles {
		out.Styles = append(out.Styles, s)
	}
	sortStyles(out.Styles)

	if unit, ok := in.dims["elevation"]; ok {
		out.ElevationUnit = unit
		for lv := range strings.SplitSeq(in.extents["elevation"], ",") {
			lv = strings.TrimSpace(lv)
			if lv == "" {
				continue
			}
			if unit != "" {
				lv = fmt.Sprintf("%s (%s)", lv, unit)
			}
			out.Elevations = append(out.Elevations, lv)
		}
	}

	for _, name := range initTimeDimensions {
		if _, ok := in.dims[name]; !ok {
			continue
		}
		ts, err := ExpandExtent(in.extents[name], now)
		if err != nil {
			log.Warn().Str("layer", l.Name).Str("dimension", name).Err(err).
				Msg("unparseable init-time extent, dimension unavailable")
			break
		}
		out.InitTimeName = name
		out.InitTimes = ts
		break
	}
	for _, name := range validTimeDimensions {
		if _, ok := in.dims[name]; !ok {
			continue
		}
		ts, err := ExpandExtent(in.extents[name], now)
		if err != nil {
			log.Warn().Str("layer", l.Name).Str("dimension", name).Err(err).
				Msg("unparseable valid-time extent, dimension unavailable")
			break
		}
		out.ValidTimeName = name
		out.ValidTimes = ts
		break
	}
	return out
}

func sortStyles(s []model.Style) {
	sort.Slice(s, func(i, j int) bool { return s[i].Name < s[j].Name })
}
