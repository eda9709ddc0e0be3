package planner

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/msflight/wmsclient/internal/core/config"
	"github.com/msflight/wmsclient/internal/core/model"
	"github.com/msflight/wmsclient/internal/registry"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func testLayer() *model.Layer {
	return &model.Layer{
		Name:   "temperature",
		Styles: []model.Style{{Name: "default", LegendURL: "http://maps.example.org/legend.png"}},
		Elevations: []string{"200 (hPa)", "500 (hPa)", "850 (hPa)"},
		ValidTimes: []time.Time{
			ts("2012-10-17T00:00:00Z"),
			ts("2012-10-17T06:00:00Z"),
			ts("2012-10-17T12:00:00Z"),
			ts("2012-10-17T18:00:00Z"),
		},
		ValidTimeName: "time",
		AllowedCRS:    []string{"EPSG:4326"},
	}
}

func testSetup() (map[string]*model.Capability, []*registry.State) {
	layer := testLayer()
	caps := &model.Capability{
		URL:       "http://maps.example.org/wms",
		Version:   "1.1.1",
		GetMapURL: "http://maps.example.org/wms?map=ecmwf",
		Layers:    []model.Layer{*layer},
	}
	st := &registry.State{
		Endpoint:  caps.URL,
		Layer:     layer,
		Style:     "default",
		Elevation: "500 (hPa)",
		ValidTime: ts("2012-10-17T06:00:00Z"),
		Priority:  1,
	}
	return map[string]*model.Capability{caps.URL: caps}, []*registry.State{st}
}

func mapView() View {
	return View{Map: &model.MapView{
		CRS:    "EPSG:4326",
		BBox:   model.BBox{MinX: -180, MinY: -90, MaxX: 180, MaxY: 90},
		Width:  800,
		Height: 600,
	}}
}

func TestPlan_OneItemPerLayerWithLegend(t *testing.T) {
	endpoints, states := testSetup()
	p := New(config.Prefetch{})
	items, err := p.Plan(endpoints, states, mapView(), Options{Format: "image/png", Transparent: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d", len(items))
	}
	it := items[0]
	if it.Kind != model.KindMap || it.ContentXML {
		t.Fatalf("item shape: %+v", it)
	}
	u, err := url.Parse(it.URL)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if q.Get("map") != "ecmwf" {
		t.Fatalf("endpoint query param lost: %s", it.URL)
	}
	if q.Get("layers") != "temperature" || q.Get("elevation") != "500" || q.Get("time") != "2012-10-17T06:00:00Z" {
		t.Fatalf("request params: %s", it.URL)
	}
	if !strings.HasSuffix(it.Filename, ".png") || !strings.HasPrefix(it.Filename, it.Fingerprint) {
		t.Fatalf("filename = %q", it.Filename)
	}
	if it.LegendURL == "" || it.LegendFilename == "" {
		t.Fatalf("legend not planned: %+v", it)
	}
}

func TestPlan_Deterministic(t *testing.T) {
	endpoints, states := testSetup()
	p := New(config.Prefetch{})
	a, err := p.Plan(endpoints, states, mapView(), Options{Format: "image/png"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Plan(endpoints, states, mapView(), Options{Format: "image/png"})
	if err != nil {
		t.Fatal(err)
	}
	if a[0].URL != b[0].URL || a[0].Fingerprint != b[0].Fingerprint {
		t.Fatalf("identical plans differ: %s vs %s", a[0].URL, b[0].URL)
	}

	// Any knob change moves the fingerprint.
	c, err := p.Plan(endpoints, states, mapView(), Options{Format: "image/png", Transparent: true})
	if err != nil {
		t.Fatal(err)
	}
	if c[0].Fingerprint == a[0].Fingerprint {
		t.Fatal("transparency change kept the fingerprint")
	}
}

func TestPlan_VSec_UsesLogPCRS(t *testing.T) {
	endpoints, states := testSetup()
	p := New(config.Prefetch{})
	view := View{VSec: &model.VSecView{
		Path:            [][2]float64{{52.5, 13.4}, {48.1, 11.6}},
		NumInterpPoints: 101,
		NumLabels:       10,
		PBot:            101325,
		PTop:            20000,
		Width:           800,
		Height:          400,
	}}
	items, err := p.Plan(endpoints, states, view, Options{Format: "image/png"})
	if err != nil {
		t.Fatal(err)
	}
	u, _ := url.Parse(items[0].URL)
	q := u.Query()
	if q.Get("srs") != "VERT:LOGP" {
		t.Fatalf("srs = %q", q.Get("srs"))
	}
	if q.Get("bbox") != "101,1013.25,10,200" {
		t.Fatalf("bbox = %q", q.Get("bbox"))
	}
	if q.Get("path") != "52.5,13.4,48.1,11.6" {
		t.Fatalf("path = %q", q.Get("path"))
	}
}

func TestPlan_LSec_ForcesXMLFormat(t *testing.T) {
	endpoints, states := testSetup()
	p := New(config.Prefetch{})
	view := View{LSec: &model.LSecView{Path: [][3]float64{{52.5, 13.4, 85000}, {48.1, 11.6, 85000}}}}
	items, err := p.Plan(endpoints, states, view, Options{Format: "image/png"})
	if err != nil {
		t.Fatal(err)
	}
	it := items[0]
	if !it.ContentXML || !strings.HasSuffix(it.Filename, ".xml") {
		t.Fatalf("lsec item not xml: %+v", it)
	}
	u, _ := url.Parse(it.URL)
	q := u.Query()
	if q.Get("format") != "text/xml" || q.Get("srs") != "LINE:1" {
		t.Fatalf("format=%q srs=%q", q.Get("format"), q.Get("srs"))
	}
	if it.LegendURL != "" {
		t.Fatal("lsec request must not plan a legend")
	}
}

func TestCheckCRS(t *testing.T) {
	_, states := testSetup()
	p := New(config.Prefetch{})
	if err := p.CheckCRS(states, mapView()); err != nil {
		t.Fatal(err)
	}
	bad := mapView()
	bad.Map.CRS = "EPSG:3857"
	if err := p.CheckCRS(states, bad); err == nil {
		t.Fatal("unadvertised crs accepted")
	}
	// Section products skip the check.
	if err := p.CheckCRS(states, View{LSec: &model.LSecView{}}); err != nil {
		t.Fatal(err)
	}
}

func TestNeighborhood_FanOutAroundSelection(t *testing.T) {
	endpoints, states := testSetup()
	p := New(config.Prefetch{ValidTimeFwd: 2, ValidTimeBck: 1, LevelUp: 1, LevelDown: 1})
	items := p.Neighborhood(endpoints, states, mapView(), Options{Format: "image/png"})
	// Current is 06:00 at 500 hPa: forward 12:00 and 18:00, back 00:00,
	// up 850, down 200.
	if len(items) != 5 {
		t.Fatalf("neighborhood size = %d", len(items))
	}
	foreground, err := p.Plan(endpoints, states, mapView(), Options{Format: "image/png"})
	if err != nil {
		t.Fatal(err)
	}
	for _, it := range items {
		if it.Fingerprint == foreground[0].Fingerprint {
			t.Fatal("neighborhood includes the foreground request")
		}
	}
}

func TestNeighborhood_DomainEdgesClamp(t *testing.T) {
	endpoints, states := testSetup()
	states[0].ValidTime = ts("2012-10-17T18:00:00Z") // last step
	states[0].Elevation = "200 (hPa)"                // first level
	p := New(config.Prefetch{ValidTimeFwd: 2, ValidTimeBck: 1, LevelUp: 1, LevelDown: 1})
	items := p.Neighborhood(endpoints, states, mapView(), Options{Format: "image/png"})
	// No forward steps past the end, no level below the first: one time back
	// and one level up.
	if len(items) != 2 {
		t.Fatalf("neighborhood size = %d", len(items))
	}
}

func TestBatchFingerprint(t *testing.T) {
	a := Item{Fingerprint: "aaaa"}
	b := Item{Fingerprint: "bbbb"}
	if got := BatchFingerprint([]Item{a}); got != "aaaa" {
		t.Fatalf("single item batch = %q", got)
	}
	ab := BatchFingerprint([]Item{a, b})
	if ab == BatchFingerprint([]Item{b, a}) {
		t.Fatal("batch fingerprint ignores order")
	}
	if ab != BatchFingerprint([]Item{a, b}) {
		t.Fatal("batch fingerprint not deterministic")
	}
}

func TestLevelValue_StripsUnit(t *testing.T) {
	if got := levelValue("500 (hPa)"); got != "500" {
		t.Fatalf("got %q", got)
	}
	if got := levelValue("surface"); got != "surface" {
		t.Fatalf("got %q", got)
	}
}
