// Package wmstest provides an in-process WMS server for tests: a chi
// router dispatching on the wms request parameter, with optional basic
// auth and fault injection.
package wmstest

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

type Config struct {
	// Capabilities is the document served for GetCapabilities.
	Capabilities string

	// Realm enables basic auth over all routes when non-empty.
	Realm    string
	Username string
	Password string

	// MapColor fills GetMap responses. Alpha is honored.
	MapColor color.RGBA
	// MapSize overrides the requested width/height when positive.
	MapSize int

	// ExceptionMessage makes GetMap return a service exception report.
	ExceptionMessage string

	// Delay is artificial per-GetMap latency, for supersede tests.
	Delay time.Duration

	// LinearXML is served for format=text/xml GetMap requests.
	LinearXML string
}

type Server struct {
	*httptest.Server
	cfg Config

	mu   sync.Mutex
	hits map[string]int
}

// New starts the fake server. Close it with the embedded httptest server.
func New(cfg Config) *Server {
	s := &Server{cfg: cfg, hits: make(map[string]int)}

	r := chi.NewRouter()
	r.Use(s.authMiddleware)
	r.Get("/", s.dispatch)
	r.Get("/wms", s.dispatch)
	r.Get("/legend.png", s.legend)

	s.Server = httptest.NewServer(r)
	return s
}

// SetCapabilities replaces the served capability document. Tests use it
// to embed the server's own URL, which is unknown before startup.
func (s *Server) SetCapabilities(doc string) {
	s.mu.Lock()
	s.cfg.Capabilities = doc
	s.mu.Unlock()
}

// Count returns how many requests of the given wms request type arrived.
func (s *Server) Count(request string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[strings.ToLower(request)]
}

// URL of the wms endpoint.
func (s *Server) EndpointURL() string { return s.Server.URL + "/wms" }

// LegendURL serves a small legend image.
func (s *Server) LegendURL() string { return s.Server.URL + "/legend.png" }

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Realm != "" {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.cfg.Username || pass != s.cfg.Password {
				w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", s.cfg.Realm))
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	request := strings.ToLower(queryIgnoreCase(r, "request"))
	s.mu.Lock()
	s.hits[request]++
	s.mu.Unlock()

	switch request {
	case "getcapabilities":
		s.mu.Lock()
		doc := s.cfg.Capabilities
		s.mu.Unlock()
		w.Header().Set("Content-Type", "text/xml")
		fmt.Fprint(w, doc)
	case "getmap":
		s.getMap(w, r)
	default:
		http.Error(w, "unknown request "+request, http.StatusBadRequest)
	}
}

func (s *Server) getMap(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Delay > 0 {
		time.Sleep(s.cfg.Delay)
	}
	version := queryIgnoreCase(r, "version")
	if s.cfg.ExceptionMessage != "" {
		ct := "application/vnd.ogc.se_xml"
		if version == "1.3.0" {
			ct = "text/xml"
		}
		w.Header().Set("Content-Type", ct)
		fmt.Fprintf(w, `<?xml version="1.0"?>
<ServiceExceptionReport version=%q>
  <ServiceException>%s</ServiceException>
</ServiceExceptionReport>`, version, s.cfg.ExceptionMessage)
		return
	}
	if strings.EqualFold(queryIgnoreCase(r, "format"), "text/xml") {
		w.Header().Set("Content-Type", "text/xml")
		fmt.Fprint(w, s.cfg.LinearXML)
		return
	}

	size := s.cfg.MapSize
	if size <= 0 {
		size = 16
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(solidPNG(size, size, s.cfg.MapColor))
}

func (s *Server) legend(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.hits["getlegendgraphic"]++
	s.mu.Unlock()
	w.Header().Set("Content-Type", "image/png")
	w.Write(solidPNG(8, 24, color.RGBA{R: 200, G: 200, B: 0, A: 255}))
}

// queryIgnoreCase looks a parameter up regardless of key casing, as wms
// clients spell parameters inconsistently.
func queryIgnoreCase(r *http.Request, key string) string {
	for k, vs := range r.URL.Query() {
		if strings.EqualFold(k, key) && len(vs) > 0 {
			return vs[0]
		}
	}
	return ""
}

func solidPNG(w, h int, c color.RGBA) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

// CapabilitiesDoc assembles a small capability document for tests. Layers
// are emitted as leaves under one root layer that advertises EPSG:4326.
func CapabilitiesDoc(version, getMapURL string, layers ...string) string {
	var b strings.Builder
	root := "WMT_MS_Capabilities"
	crsTag := "SRS"
	if version == "1.3.0" {
		root = "WMS_Capabilities"
		crsTag = "CRS"
	}
	fmt.Fprintf(&b, `<?xml version="1.0"?>
<%s version=%q>
  <Service>
    <Title>Test WMS</Title>
  </Service>
  <Capability>
    <Request>
      <GetMap>
        <Format>image/png</Format>
        <DCPType><HTTP><Get><OnlineResource xmlns:xlink="http://www.w3.org/1999/xlink" xlink:href=%q/></Get></HTTP></DCPType>
      </GetMap>
    </Request>
    <Layer>
      <Title>root</Title>
      <%s>EPSG:4326</%s>
`, root, version, getMapURL, crsTag, crsTag)
	for _, l := range layers {
		fmt.Fprint(&b, l)
	}
	fmt.Fprintf(&b, `    </Layer>
  </Capability>
</%s>`, root)
	return b.String()
}
