// wmsget is a headless driver for the fetch engine: it resolves an
// endpoint's capabilities, activates one or more layers, fetches and
// composites the requested product and writes it to disk.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/msflight/wmsclient/internal/auth"
	"github.com/msflight/wmsclient/internal/cache/diskstore"
	"github.com/msflight/wmsclient/internal/capabilities"
	"github.com/msflight/wmsclient/internal/controller"
	"github.com/msflight/wmsclient/internal/core/config"
	"github.com/msflight/wmsclient/internal/core/httpclient"
	"github.com/msflight/wmsclient/internal/core/model"
	"github.com/msflight/wmsclient/internal/core/ogc"
	"github.com/msflight/wmsclient/internal/fetch"
	"github.com/msflight/wmsclient/internal/logger"
	"github.com/msflight/wmsclient/internal/planner"
	"github.com/msflight/wmsclient/internal/registry"
	"github.com/msflight/wmsclient/internal/wmstest"
)

func main() {
	var (
		configPath = flag.String("config", "", "settings file (json or yaml)")
		endpoint   = flag.String("url", "", "wms endpoint url")
		layersFlag = flag.String("layers", "", "comma-separated layer names")
		style      = flag.String("style", "", "style name (applied to all layers)")
		crs        = flag.String("crs", "EPSG:4326", "map crs")
		bboxFlag   = flag.String("bbox", "-180,-90,180,90", "minx,miny,maxx,maxy")
		width      = flag.Int("width", 800, "map width in px")
		height     = flag.Int("height", 600, "map height in px")
		level      = flag.String("level", "", "elevation value")
		validTime  = flag.String("time", "", "valid time (ISO 8601)")
		initTime   = flag.String("init", "", "init time (ISO 8601)")
		transp     = flag.Bool("transparent", false, "request transparency")
		out        = flag.String("o", "map.png", "output file")
		console    = flag.Bool("console", false, "human-readable log output")
		timeout    = flag.Duration("timeout", 2*time.Minute, "overall deadline")
		mock       = flag.Bool("mock", false, "serve a built-in fake WMS and fetch from it")
	)
	flag.Parse()

	if *mock {
		srv := wmstest.New(wmstest.Config{MapColor: color.RGBA{R: 30, G: 90, B: 160, A: 255}})
		defer srv.Close()
		demo := `<Layer queryable="0"><Name>demo</Name><Title>Demo layer</Title>
			<Style><Name>default</Name><Title>Default</Title></Style></Layer>`
		srv.SetCapabilities(wmstest.CapabilitiesDoc("1.1.1", srv.EndpointURL(), demo))
		*endpoint = srv.EndpointURL()
		if *layersFlag == "" {
			*layersFlag = "demo"
		}
	}

	if *endpoint == "" || *layersFlag == "" {
		fmt.Fprintln(os.Stderr, "usage: wmsget -url <endpoint> -layers <name[,name...]> [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fail(err)
	}
	log := logger.Build(logger.Config{Level: cfg.LogLevel, Console: *console}, os.Stderr)

	store, err := diskstore.New(cfg.CacheDir, cfg.CacheMaxSizeByte, cfg.CacheMaxAge, log)
	if err != nil {
		fail(err)
	}

	seed := make(map[string]auth.Credentials, len(cfg.Logins))
	for url, l := range cfg.Logins {
		seed[url] = auth.Credentials{Username: l.Username, Password: l.Password}
	}
	broker := auth.New(seed, nil) // headless: configured logins only

	client := httpclient.NewOutbound(cfg.HTTPTimeout)
	resolver := capabilities.New(client, broker, log)
	reg := registry.New(log)
	plan := planner.New(cfg.Prefetch)
	engine := fetch.NewEngine(client, broker, store, log)

	view := &fileView{log: log, out: *out, done: make(chan error, 1)}
	ctrl := controller.New(log, reg, resolver, plan, engine, store, view)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	ctrl.Start(ctx, cfg.Preload)
	if _, err := ctrl.AddEndpoint(ctx, *endpoint); err != nil {
		fail(err)
	}

	canonical, err := ogc.CanonicalURL(*endpoint)
	if err != nil {
		fail(err)
	}
	for _, name := range strings.Split(*layersFlag, ",") {
		st, err := reg.Check(canonical, strings.TrimSpace(name))
		if err != nil {
			fail(err)
		}
		if err := applySelection(reg, st, *style, *level, *initTime, *validTime); err != nil {
			fail(err)
		}
	}

	bbox, err := parseBBox(*bboxFlag)
	if err != nil {
		fail(err)
	}
	req := planner.View{Map: &model.MapView{CRS: *crs, BBox: bbox, Width: *width, Height: *height}}
	opts := planner.Options{Format: "image/png", Transparent: *transp}

	go ctrl.Run(ctx)
	if err := ctrl.Request(req, opts); err != nil {
		fail(err)
	}

	select {
	case err := <-view.done:
		if err != nil {
			fail(err)
		}
	case <-ctx.Done():
		fail(fmt.Errorf("timed out waiting for %s", *out))
	}
	ctrl.Stop()
	engine.Close()
	log.Info().Str("file", *out).Msg("done")
}

func applySelection(reg *registry.Registry, st *registry.State, style, level, initTime, validTime string) error {
	if style != "" {
		if err := reg.SetStyle(st, style); err != nil {
			return err
		}
	}
	if level != "" {
		if err := reg.SetLevel(st, level); err != nil {
			return err
		}
	}
	if initTime != "" {
		t, err := ogc.ParseTimestamp(initTime)
		if err != nil {
			return err
		}
		if err := reg.SetInitTime(st, t); err != nil {
			return err
		}
	}
	if validTime != "" {
		t, err := ogc.ParseTimestamp(validTime)
		if err != nil {
			return err
		}
		if err := reg.SetValidTime(st, t); err != nil {
			return err
		}
	}
	return nil
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "wmsget:", err)
	os.Exit(1)
}

func parseBBox(s string) (model.BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return model.BBox{}, fmt.Errorf("bbox %q: want 4 comma-separated numbers", s)
	}
	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return model.BBox{}, fmt.Errorf("bbox %q: %w", s, err)
		}
		vals[i] = v
	}
	return model.BBox{MinX: vals[0], MinY: vals[1], MaxX: vals[2], MaxY: vals[3]}, nil
}

// fileView satisfies the controller's callback contract for headless use:
// the first presented image is written to disk and the driver exits.
type fileView struct {
	log  zerolog.Logger
	out  string
	done chan error
}

func (v *fileView) PresentImage(img *image.RGBA, _ *image.RGBA, fingerprint string) {
	v.log.Debug().Str("fingerprint", fingerprint).Msg("image received")
	if img == nil {
		v.done <- fmt.Errorf("empty composite")
		return
	}
	data, err := fetch.EncodePNG(img)
	if err != nil {
		v.done <- err
		return
	}
	v.done <- os.WriteFile(v.out, data, 0o644)
}

func (v *fileView) PresentSection(data [][]byte, _ string) {
	if len(data) == 0 || len(data[0]) == 0 {
		v.done <- fmt.Errorf("empty section payload")
		return
	}
	v.done <- os.WriteFile(v.out, data[0], 0o644)
}

func (v *fileView) ReportProgress(active bool, fingerprint string) {
	v.log.Debug().Bool("active", active).Str("fingerprint", fingerprint).Msg("progress")
}

func (v *fileView) ReportError(err error) {
	v.done <- err
}

func (v *fileView) ConfirmClearCache() bool { return false }

func (v *fileView) ConfirmUnsupportedCRS(layer, crs string) controller.CRSDecision {
	v.log.Warn().Str("layer", layer).Str("crs", crs).Msg("crs not advertised, proceeding")
	return controller.CRSProceed
}
