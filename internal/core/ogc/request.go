package ogc

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/msflight/wmsclient/internal/core/model"
)

// CRS codes used for the non-standard section products.
const (
	CRSVerticalLogP = "VERT:LOGP"
	CRSLinear       = "LINE:1"
)

// TimestampFormat is how instants are written into request parameters.
const TimestampFormat = "2006-01-02T15:04:05Z"

// yxAxisEPSG lists EPSG codes whose 1.3.0 axis order is latitude first.
// Geographic CRSes from the EPSG registry's common set; not exhaustive.
var yxAxisEPSG = map[int]bool{
	4171: true, 4258: true, 4267: true, 4269: true, 4283: true,
	4326: true, 4617: true, 4619: true, 4659: true, 4667: true,
	4612: true, 4675: true, 4807: true,
}

// SwapAxes reports whether a request for crs under the given wms version
// must emit its bbox in y,x order.
func SwapAxes(version, crs string) bool {
	if version != "1.3.0" {
		return false
	}
	code, ok := strings.CutPrefix(strings.ToUpper(crs), "EPSG:")
	if !ok {
		return false
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return false
	}
	return yxAxisEPSG[n]
}

// ExceptionFormat returns the exceptions parameter value for a version.
// Versions other than 1.3.0 are treated as 1.1.1.
func ExceptionFormat(version string) string {
	if version == "1.3.0" {
		return "XML"
	}
	return "application/vnd.ogc.se_xml"
}

// crsParamName returns "crs" for 1.3.0 and "srs" otherwise.
func crsParamName(version string) string {
	if version == "1.3.0" {
		return "crs"
	}
	return "srs"
}

// GetMapRequest carries everything needed to spell one GetMap URL.
// Layers and Styles are parallel, in priority order.
type GetMapRequest struct {
	Version string
	Layers  []string
	Styles  []string

	CRS    string
	BBox   model.BBox
	Width  int
	Height int

	Format      string
	Transparent bool
	// BGColor is six hex digits, emitted as 0xRRGGBB. Empty means omit.
	BGColor string

	// ValidTime/InitTime are omitted when zero. The dimension names come
	// from the layer record; a valid-time dimension not literally named
	// "time" is emitted with a dim_ prefix, an init-time dimension always
	// is.
	ValidTime     time.Time
	ValidTimeName string
	InitTime      time.Time
	InitTimeName  string

	// Elevation is the level value without its unit suffix. Empty means
	// omit.
	Elevation string

	// Path carries the waypoint polyline for section products.
	Path string
}

// Params builds the GetMap query parameters.
func (r GetMapRequest) Params() url.Values {
	p := url.Values{}
	p.Set("service", "WMS")
	p.Set("version", r.Version)
	p.Set("request", "GetMap")
	p.Set("layers", strings.Join(r.Layers, ","))
	p.Set("styles", strings.Join(r.Styles, ","))

	bbox := r.BBox
	if SwapAxes(r.Version, r.CRS) {
		bbox = bbox.Swapped()
	}
	p.Set(crsParamName(r.Version), r.CRS)
	p.Set("bbox", bbox.String())
	p.Set("width", strconv.Itoa(r.Width))
	p.Set("height", strconv.Itoa(r.Height))
	p.Set("format", r.Format)
	if r.Transparent {
		p.Set("transparent", "TRUE")
	} else {
		p.Set("transparent", "FALSE")
	}
	if r.BGColor != "" {
		p.Set("bgcolor", "0x"+strings.TrimPrefix(strings.ToUpper(r.BGColor), "0X"))
	}
	p.Set("exceptions", ExceptionFormat(r.Version))

	if !r.ValidTime.IsZero() {
		name := r.ValidTimeName
		if name == "" {
			name = "time"
		}
		if name != "time" {
			name = "dim_" + name
		}
		p.Set(name, r.ValidTime.UTC().Format(TimestampFormat))
	}
	if !r.InitTime.IsZero() && r.InitTimeName != "" {
		p.Set("dim_"+r.InitTimeName, r.InitTime.UTC().Format(TimestampFormat))
	}
	if r.Elevation != "" {
		p.Set("elevation", r.Elevation)
	}
	if r.Path != "" {
		p.Set("path", r.Path)
	}
	return p
}

// VSecBBox encodes the vertical-section pseudo bounding box: interpolation
// point count, bottom pressure in hPa, label count, top pressure in hPa.
func VSecBBox(v model.VSecView) model.BBox {
	return model.BBox{
		MinX: float64(v.NumInterpPoints),
		MinY: v.PBot / 100,
		MaxX: float64(v.NumLabels),
		MaxY: v.PTop / 100,
	}
}

// VSecPath spells the lat,lon polyline for the path parameter.
func VSecPath(path [][2]float64) string {
	parts := make([]string, 0, len(path)*2)
	for _, pt := range path {
		parts = append(parts, trimFloat(pt[0]), trimFloat(pt[1]))
	}
	return strings.Join(parts, ",")
}

// LSecPath spells the lat,lon,pressure triples for the path parameter.
func LSecPath(path [][3]float64) string {
	parts := make([]string, 0, len(path)*3)
	for _, pt := range path {
		parts = append(parts, trimFloat(pt[0]), trimFloat(pt[1]), trimFloat(pt[2]))
	}
	return strings.Join(parts, ",")
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// MergeURL combines the advertised GetMap online resource with request
// parameters. Parameters already present on the resource are kept unless
// the request overrides them. The query string is emitted in sorted key
// order so equal requests spell equal URLs.
func MergeURL(getMapURL string, params url.Values) (string, error) {
	u, err := url.Parse(getMapURL)
	if err != nil {
		return "", &ParseError{What: "getmap url", Err: err}
	}
	merged := u.Query()
	for k, vs := range params {
		merged[k] = vs
	}
	u.RawQuery = encodeSorted(merged)
	return u.String(), nil
}

func encodeSorted(v url.Values) string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		for _, val := range v[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(val))
		}
	}
	return b.String()
}

// CanonicalURL normalizes an endpoint URL for use as a map key: lowercased
// scheme and host, default ports stripped, trailing slash removed, query
// parameters sorted.
func CanonicalURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", &ParseError{What: "endpoint url", Err: err}
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	switch {
	case u.Scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	u.Host = host
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = encodeSorted(u.Query())
	u.Fragment = ""
	return u.String(), nil
}

// GetCapabilitiesURL appends the capability request parameters to an
// endpoint URL, keeping any parameters already present.
func GetCapabilitiesURL(endpoint string) (string, error) {
	p := url.Values{}
	p.Set("service", "WMS")
	p.Set("request", "GetCapabilities")
	return MergeURL(endpoint, p)
}

// FilenameExt returns the cache file extension for a response format.
func FilenameExt(format string) string {
	if strings.HasPrefix(format, "image/") {
		return ".png"
	}
	return ".xml"
}

// FormatBGColor validates a 6-hex-digit background color.
func FormatBGColor(c string) (string, error) {
	c = strings.TrimPrefix(strings.TrimPrefix(c, "0x"), "0X")
	if len(c) != 6 {
		return "", fmt.Errorf("bgcolor %q: want 6 hex digits", c)
	}
	if _, err := strconv.ParseUint(c, 16, 32); err != nil {
		return "", fmt.Errorf("bgcolor %q: %w", c, err)
	}
	return c, nil
}
