package registry

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/msflight/wmsclient/internal/core/model"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

const testEndpoint = "http://maps.example.org/wms"

func testCaps() *model.Capability {
	return &model.Capability{
		URL: testEndpoint,
		Layers: []model.Layer{
			{
				Name:   "temperature",
				Styles: []model.Style{{Name: "default"}, {Name: "fancy"}},
				Elevations: []string{"850 (hPa)", "500 (hPa)", "200 (hPa)"},
				InitTimes: []time.Time{
					ts("2012-10-16T12:00:00Z"),
					ts("2012-10-17T00:00:00Z"),
				},
				ValidTimes: []time.Time{
					ts("2012-10-17T00:00:00Z"),
					ts("2012-10-17T06:00:00Z"),
					ts("2012-10-17T12:00:00Z"),
				},
				InitTimeName:  "init_time",
				ValidTimeName: "time",
			},
			{
				Name:       "wind",
				Styles:     []model.Style{{Name: "default"}},
				Elevations: []string{"500 (hPa)", "200 (hPa)"},
				InitTimes: []time.Time{
					ts("2012-10-17T00:00:00Z"),
				},
				ValidTimes: []time.Time{
					ts("2012-10-17T06:00:00Z"),
					ts("2012-10-17T12:00:00Z"),
				},
				InitTimeName:  "init_time",
				ValidTimeName: "time",
			},
			{
				Name:       "seaice",
				Elevations: []string{"0 (m)"},
				ValidTimes: []time.Time{ts("2012-10-18T00:00:00Z")},
				ValidTimeName: "time",
			},
			{
				Name: "coastlines",
			},
		},
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New(zerolog.Nop())
	r.AddEndpoint(testCaps())
	return r
}

func check(t *testing.T, r *Registry, layer string) *State {
	t.Helper()
	st, err := r.Check(testEndpoint, layer)
	if err != nil {
		t.Fatalf("Check(%s): %v", layer, err)
	}
	return st
}

func TestCheck_DefaultsNewestInitAndFirstValid(t *testing.T) {
	r := newTestRegistry(t)
	st := check(t, r, "temperature")
	if st.Priority != 1 {
		t.Fatalf("priority = %d", st.Priority)
	}
	if st.Style != "default" {
		t.Fatalf("style = %q", st.Style)
	}
	if st.Elevation != "200 (hPa)" {
		t.Fatalf("elevation = %q, want numerically first level", st.Elevation)
	}
	if !st.InitTime.Equal(ts("2012-10-17T00:00:00Z")) {
		t.Fatalf("init time = %v, want newest run", st.InitTime)
	}
	if !st.ValidTime.Equal(ts("2012-10-17T00:00:00Z")) {
		t.Fatalf("valid time = %v, want first at/after init", st.ValidTime)
	}
}

func TestCheck_DuplicateRejected(t *testing.T) {
	r := newTestRegistry(t)
	check(t, r, "temperature")
	if _, err := r.Check(testEndpoint, "temperature"); err == nil {
		t.Fatal("second Check of same layer must fail")
	}
}

func TestCheck_UnknownLayerOrEndpoint(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Check(testEndpoint, "nope"); err == nil {
		t.Fatal("unknown layer accepted")
	}
	if _, err := r.Check("http://other.example.org/wms", "temperature"); err == nil {
		t.Fatal("unknown endpoint accepted")
	}
}

func TestCheckUncheck_PrioritiesStayContiguous(t *testing.T) {
	r := newTestRegistry(t)
	check(t, r, "temperature")
	wind := check(t, r, "wind")
	check(t, r, "coastlines")
	if wind.Priority != 2 {
		t.Fatalf("wind priority = %d", wind.Priority)
	}

	r.Uncheck(testEndpoint, "temperature")
	active := r.Active()
	if len(active) != 2 {
		t.Fatalf("active = %d", len(active))
	}
	for i, st := range active {
		if st.Priority != i+1 {
			t.Fatalf("priority %d at index %d, want contiguous 1..N", st.Priority, i)
		}
	}
	if active[0].Layer.Name != "wind" {
		t.Fatalf("order not preserved: %s first", active[0].Layer.Name)
	}
}

func TestSetPriority_AdjacentMoveShiftsNeighbor(t *testing.T) {
	r := newTestRegistry(t)
	temp := check(t, r, "temperature")
	wind := check(t, r, "wind")
	coast := check(t, r, "coastlines")

	if err := r.SetPriority(wind, 1); err != nil {
		t.Fatal(err)
	}
	if wind.Priority != 1 || temp.Priority != 2 || coast.Priority != 3 {
		t.Fatalf("priorities temp=%d wind=%d coast=%d", temp.Priority, wind.Priority, coast.Priority)
	}

	if err := r.SetPriority(wind, 4); err == nil {
		t.Fatal("out-of-range priority accepted")
	}
}

func TestSetPriority_JumpShiftsIntermediatesByOne(t *testing.T) {
	r := newTestRegistry(t)
	temp := check(t, r, "temperature")
	wind := check(t, r, "wind")
	coast := check(t, r, "coastlines")
	sea := check(t, r, "seaice")

	// Moving to the back shifts everything it passed one step forward.
	if err := r.SetPriority(temp, 4); err != nil {
		t.Fatal(err)
	}
	if wind.Priority != 1 || coast.Priority != 2 || sea.Priority != 3 || temp.Priority != 4 {
		t.Fatalf("priorities temp=%d wind=%d coast=%d sea=%d",
			temp.Priority, wind.Priority, coast.Priority, sea.Priority)
	}
	active := r.Active()
	for i, st := range active {
		if st.Priority != i+1 {
			t.Fatalf("priority %d at index %d, want contiguous 1..N", st.Priority, i)
		}
	}

	// And back to the front, shifting the same layers one step down
	// without disturbing their relative order.
	if err := r.SetPriority(temp, 1); err != nil {
		t.Fatal(err)
	}
	if temp.Priority != 1 || wind.Priority != 2 || coast.Priority != 3 || sea.Priority != 4 {
		t.Fatalf("priorities temp=%d wind=%d coast=%d sea=%d",
			temp.Priority, wind.Priority, coast.Priority, sea.Priority)
	}
}

func TestCheck_CarriesLastSelections(t *testing.T) {
	r := newTestRegistry(t)
	temp := check(t, r, "temperature")
	if err := r.SetLevel(temp, "500 (hPa)"); err != nil {
		t.Fatal(err)
	}
	if err := r.SetValidTime(temp, ts("2012-10-17T12:00:00Z")); err != nil {
		t.Fatal(err)
	}

	wind := check(t, r, "wind")
	if wind.Elevation != "500 (hPa)" {
		t.Fatalf("carried level not applied: %q", wind.Elevation)
	}
	if !wind.ValidTime.Equal(ts("2012-10-17T12:00:00Z")) {
		t.Fatalf("carried valid time not applied: %v", wind.ValidTime)
	}

	// A layer the carried level is invalid for falls back to its own domain.
	ice := check(t, r, "seaice")
	if ice.Elevation != "0 (m)" {
		t.Fatalf("seaice elevation = %q", ice.Elevation)
	}
}

func TestSetValidTime_BeforeInitRejected(t *testing.T) {
	r := newTestRegistry(t)
	temp := check(t, r, "temperature")
	if err := r.SetInitTime(temp, ts("2012-10-17T00:00:00Z")); err != nil {
		t.Fatal(err)
	}
	// 2012-10-16 runs offer no valid time before 2012-10-17T00; trying to
	// select one against the current init must fail even though the layer
	// advertises it.
	temp.Layer.ValidTimes = append([]time.Time{ts("2012-10-16T18:00:00Z")}, temp.Layer.ValidTimes...)
	if err := r.SetValidTime(temp, ts("2012-10-16T18:00:00Z")); err == nil {
		t.Fatal("valid time before init accepted")
	}
}

func TestSetInitTime_ReclampsValidTime(t *testing.T) {
	r := newTestRegistry(t)
	temp := check(t, r, "temperature")
	if err := r.SetInitTime(temp, ts("2012-10-16T12:00:00Z")); err != nil {
		t.Fatal(err)
	}
	if err := r.SetValidTime(temp, ts("2012-10-17T00:00:00Z")); err != nil {
		t.Fatal(err)
	}
	// Moving the init forward past the selected valid time snaps the valid
	// time to the first one at/after the new init.
	r.carry = carryParams{}
	if err := r.SetInitTime(temp, ts("2012-10-17T00:00:00Z")); err != nil {
		t.Fatal(err)
	}
	if temp.ValidTime.Before(temp.InitTime) {
		t.Fatalf("valid %v precedes init %v", temp.ValidTime, temp.InitTime)
	}
}

func TestSync_ReferenceIsIntersection(t *testing.T) {
	r := newTestRegistry(t)
	temp := check(t, r, "temperature")
	wind := check(t, r, "wind")
	if err := r.Sync(temp); err != nil {
		t.Fatal(err)
	}
	if err := r.Sync(wind); err != nil {
		t.Fatal(err)
	}
	ref := r.Reference()
	if len(ref.Levels) != 2 {
		t.Fatalf("ref levels = %v", ref.Levels)
	}
	if len(ref.InitTimes) != 1 || !ref.InitTimes[0].Equal(ts("2012-10-17T00:00:00Z")) {
		t.Fatalf("ref init times = %v", ref.InitTimes)
	}
	if len(ref.ValidTimes) != 2 {
		t.Fatalf("ref valid times = %v", ref.ValidTimes)
	}
	// Members were clamped into the shared domain.
	if !temp.InitTime.Equal(ts("2012-10-17T00:00:00Z")) {
		t.Fatalf("temp init = %v", temp.InitTime)
	}
}

func TestSync_JoinEmptyingDomainRejected(t *testing.T) {
	r := newTestRegistry(t)
	temp := check(t, r, "temperature")
	ice := check(t, r, "seaice")
	if err := r.Sync(temp); err != nil {
		t.Fatal(err)
	}
	// seaice shares no level and no valid time with temperature.
	if err := r.Sync(ice); err == nil {
		t.Fatal("join that empties a represented dimension accepted")
	}
	if ice.Synced {
		t.Fatal("rejected join left the layer marked synced")
	}
}

func TestSync_DimensionlessLayerJoins(t *testing.T) {
	r := newTestRegistry(t)
	temp := check(t, r, "temperature")
	coast := check(t, r, "coastlines")
	if err := r.Sync(temp); err != nil {
		t.Fatal(err)
	}
	if err := r.Sync(coast); err != nil {
		t.Fatalf("dimensionless layer must always be able to join: %v", err)
	}
}

func TestDirectSelection_RejectedWhileSynced(t *testing.T) {
	r := newTestRegistry(t)
	temp := check(t, r, "temperature")
	if err := r.Sync(temp); err != nil {
		t.Fatal(err)
	}
	if err := r.SetLevel(temp, "500 (hPa)"); err == nil {
		t.Fatal("direct level change accepted on synced layer")
	}
	if err := r.SetInitTime(temp, ts("2012-10-16T12:00:00Z")); err == nil {
		t.Fatal("direct init change accepted on synced layer")
	}
	// Styles stay per-layer.
	if err := r.SetStyle(temp, "fancy"); err != nil {
		t.Fatalf("style change on synced layer: %v", err)
	}
}

func TestSetReferenceLevel_PropagatesToMembers(t *testing.T) {
	r := newTestRegistry(t)
	temp := check(t, r, "temperature")
	wind := check(t, r, "wind")
	if err := r.Sync(temp); err != nil {
		t.Fatal(err)
	}
	if err := r.Sync(wind); err != nil {
		t.Fatal(err)
	}
	if err := r.SetReferenceLevel("500 (hPa)"); err != nil {
		t.Fatal(err)
	}
	if temp.Elevation != "500 (hPa)" || wind.Elevation != "500 (hPa)" {
		t.Fatalf("members not moved: %q %q", temp.Elevation, wind.Elevation)
	}
	if err := r.SetReferenceLevel("850 (hPa)"); err == nil {
		t.Fatal("level outside the shared domain accepted")
	}
}

func TestSetReferenceInitTime_OrphanRejected(t *testing.T) {
	r := newTestRegistry(t)
	temp := check(t, r, "temperature")
	if err := r.Sync(temp); err != nil {
		t.Fatal(err)
	}
	// Give the reference an init time that would leave temperature with no
	// valid time at or after it.
	temp.Layer.InitTimes = append(temp.Layer.InitTimes, ts("2012-10-18T00:00:00Z"))
	r.recomputeReference()
	if err := r.SetReferenceInitTime(ts("2012-10-18T00:00:00Z")); err == nil {
		t.Fatal("orphaning init change accepted")
	}
	// Reference untouched after the rejection.
	if r.Reference().InitTime.Equal(ts("2012-10-18T00:00:00Z")) {
		t.Fatal("rejected change mutated the reference")
	}
}

func TestDesync_RecomputesReference(t *testing.T) {
	r := newTestRegistry(t)
	temp := check(t, r, "temperature")
	wind := check(t, r, "wind")
	if err := r.Sync(temp); err != nil {
		t.Fatal(err)
	}
	if err := r.Sync(wind); err != nil {
		t.Fatal(err)
	}
	r.Desync(wind)
	ref := r.Reference()
	// Back to temperature's own domain: three valid times, two init times.
	if len(ref.ValidTimes) != 3 || len(ref.InitTimes) != 2 {
		t.Fatalf("ref after desync: %d valids, %d inits", len(ref.ValidTimes), len(ref.InitTimes))
	}

	r.Desync(temp)
	ref = r.Reference()
	if len(ref.ValidTimes) != 0 || !ref.InitTime.IsZero() {
		t.Fatalf("empty membership must clear the reference: %+v", ref)
	}
}

func TestAddEndpoint_ReplaceUnchecksItsLayers(t *testing.T) {
	r := newTestRegistry(t)
	check(t, r, "temperature")
	check(t, r, "wind")
	r.AddEndpoint(testCaps())
	if len(r.Active()) != 0 {
		t.Fatal("replacing an endpoint must uncheck its active layers")
	}
	if len(r.Endpoints()) != 1 {
		t.Fatalf("endpoints = %d", len(r.Endpoints()))
	}
}

func TestRemoveEndpoint_DropsActiveAndCatalog(t *testing.T) {
	r := newTestRegistry(t)
	check(t, r, "temperature")
	r.RemoveEndpoint(testEndpoint)
	if len(r.Active()) != 0 || len(r.Endpoints()) != 0 {
		t.Fatal("endpoint removal incomplete")
	}
}
