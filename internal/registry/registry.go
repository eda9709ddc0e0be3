// Package registry is the authoritative mutable state of active layers:
// the server→layer tree, the active set with its z-order priorities, and
// the synchronization reference shared by synced layers.
package registry

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/msflight/wmsclient/internal/core/model"
	"github.com/msflight/wmsclient/internal/core/ogc"
	"github.com/msflight/wmsclient/internal/dimensions"
)

// State is the per-active-layer selection. Priority is 1-based and unique
// among active layers; 1 is the bottom of the compositing stack.
type State struct {
	Endpoint string
	Layer    *model.Layer

	Style     string
	Elevation string
	InitTime  time.Time
	ValidTime time.Time

	Priority int
	Synced   bool
}

// SyncReference holds the domains and current values shared by all synced
// layers. The domains are the intersection of the members' allowed
// values, recomputed on every membership change.
type SyncReference struct {
	Levels     []string
	InitTimes  []time.Time
	ValidTimes []time.Time

	Level     string
	InitTime  time.Time
	ValidTime time.Time
}

// carried selections seed newly checked layers when still valid for them.
type carryParams struct {
	style     string
	level     string
	initTime  time.Time
	validTime time.Time
}

type Registry struct {
	log zerolog.Logger

	endpoints map[string]*model.Capability
	order     []string // endpoint insertion order, for stable tree listing

	active []*State // index i holds priority i+1
	ref    SyncReference
	carry  carryParams
}

func New(log zerolog.Logger) *Registry {
	return &Registry{
		log:       log.With().Str("component", "registry").Logger(),
		endpoints: make(map[string]*model.Capability),
	}
}

// AddEndpoint registers (or replaces) a server and its layer catalog.
// Replacing an endpoint unchecks any of its active layers first.
func (r *Registry) AddEndpoint(caps *model.Capability) {
	if _, exists := r.endpoints[caps.URL]; exists {
		r.removeActiveForEndpoint(caps.URL)
	} else {
		r.order = append(r.order, caps.URL)
	}
	r.endpoints[caps.URL] = caps
}

// RemoveEndpoint drops a server and unchecks its active layers.
func (r *Registry) RemoveEndpoint(url string) {
	canonical, err := ogc.CanonicalURL(url)
	if err != nil {
		canonical = url
	}
	if _, ok := r.endpoints[canonical]; !ok {
		return
	}
	r.removeActiveForEndpoint(canonical)
	delete(r.endpoints, canonical)
	for i, u := range r.order {
		if u == canonical {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Endpoints lists registered servers in insertion order.
func (r *Registry) Endpoints() []*model.Capability {
	out := make([]*model.Capability, 0, len(r.order))
	for _, u := range r.order {
		out = append(out, r.endpoints[u])
	}
	return out
}

// Active returns the active layers in priority order (bottom first).
func (r *Registry) Active() []*State {
	out := make([]*State, len(r.active))
	copy(out, r.active)
	return out
}

// Find returns the active state for a layer, if checked.
func (r *Registry) Find(endpoint, layerName string) (*State, bool) {
	for _, st := range r.active {
		if st.Endpoint == endpoint && st.Layer.Name == layerName {
			return st, true
		}
	}
	return nil, false
}

// Reference returns a copy of the current synchronization reference.
func (r *Registry) Reference() SyncReference {
	ref := r.ref
	ref.Levels = append([]string(nil), r.ref.Levels...)
	ref.InitTimes = append([]time.Time(nil), r.ref.InitTimes...)
	ref.ValidTimes = append([]time.Time(nil), r.ref.ValidTimes...)
	return ref
}

// Check activates a layer. The new state gets priority max+1 and is
// seeded from the carried parameters where they remain valid for the
// layer, otherwise from the layer's own defaults.
func (r *Registry) Check(endpoint, layerName string) (*State, error) {
	canonical, err := ogc.CanonicalURL(endpoint)
	if err != nil {
		canonical = endpoint
	}
	caps, ok := r.endpoints[canonical]
	if !ok {
		return nil, fmt.Errorf("endpoint %s not registered", endpoint)
	}
	layer, ok := caps.Layer(layerName)
	if !ok {
		return nil, fmt.Errorf("layer %s not offered by %s", layerName, canonical)
	}
	if _, exists := r.Find(canonical, layerName); exists {
		return nil, fmt.Errorf("layer %s already active", layerName)
	}

	st := &State{
		Endpoint: canonical,
		Layer:    layer,
		Priority: len(r.active) + 1,
	}
	r.seed(st)
	r.active = append(r.active, st)
	r.log.Debug().Str("layer", layerName).Int("priority", st.Priority).Msg("layer checked")
	return st, nil
}

// Uncheck deactivates a layer; remaining priorities are compacted to
// 1..N-1 preserving order.
func (r *Registry) Uncheck(endpoint, layerName string) {
	for i, st := range r.active {
		if st.Endpoint == endpoint && st.Layer.Name == layerName {
			r.active = append(r.active[:i], r.active[i+1:]...)
			r.renumber()
			if st.Synced {
				r.recomputeReference()
			}
			r.log.Debug().Str("layer", layerName).Msg("layer unchecked")
			return
		}
	}
}

// SetPriority moves a layer to priority p. Every layer between the two
// slots shifts one step toward the mover's old position, so active
// priorities stay a contiguous permutation of 1..N and the relative order
// of the others is preserved.
func (r *Registry) SetPriority(st *State, p int) error {
	if p < 1 || p > len(r.active) {
		return fmt.Errorf("priority %d out of range 1..%d", p, len(r.active))
	}
	old := st.Priority
	if old == p {
		return nil
	}
	if old < p {
		copy(r.active[old-1:], r.active[old:p])
	} else {
		copy(r.active[p:], r.active[p-1:old-1])
	}
	r.active[p-1] = st
	for i, s := range r.active {
		s.Priority = i + 1
	}
	return nil
}

// Sync slaves a layer to the reference. The transition is rejected when
// joining would empty the common domain of a dimension the synced set
// already represents.
func (r *Registry) Sync(st *State) error {
	if st.Synced {
		return nil
	}
	members := r.syncedLayers()
	levels, inits, valids := dimensions.Intersect(append(members, st.Layer))
	if len(members) > 0 {
		if len(r.ref.Levels) > 0 && len(levels) == 0 {
			return fmt.Errorf("layer %s shares no level with the synchronized set", st.Layer.Name)
		}
		if len(r.ref.InitTimes) > 0 && len(inits) == 0 {
			return fmt.Errorf("layer %s shares no init time with the synchronized set", st.Layer.Name)
		}
		if len(r.ref.ValidTimes) > 0 && len(valids) == 0 {
			return fmt.Errorf("layer %s shares no valid time with the synchronized set", st.Layer.Name)
		}
	}
	st.Synced = true
	r.recomputeReference()
	return nil
}

// Desync detaches a layer from the reference; always permitted.
func (r *Registry) Desync(st *State) {
	if !st.Synced {
		return
	}
	st.Synced = false
	r.recomputeReference()
}

// SetStyle selects a style on an unsynced-or-synced layer (styles are not
// synchronized).
func (r *Registry) SetStyle(st *State, name string) error {
	if _, ok := st.Layer.FindStyle(name); !ok {
		return fmt.Errorf("layer %s has no style %q", st.Layer.Name, name)
	}
	st.Style = name
	r.carry.style = name
	return nil
}

// SetLevel selects an elevation on an unsynchronized layer.
func (r *Registry) SetLevel(st *State, level string) error {
	if st.Synced {
		return fmt.Errorf("layer %s is synchronized; change the reference level", st.Layer.Name)
	}
	if !contains(dimensions.Levels(st.Layer), level) {
		return fmt.Errorf("layer %s has no level %q", st.Layer.Name, level)
	}
	st.Elevation = level
	r.carry.level = level
	return nil
}

// SetInitTime selects an init time on an unsynchronized layer. The valid
// time is re-clamped so it never precedes the initialization.
func (r *Registry) SetInitTime(st *State, t time.Time) error {
	if st.Synced {
		return fmt.Errorf("layer %s is synchronized; change the reference init time", st.Layer.Name)
	}
	if !containsTime(dimensions.InitTimes(st.Layer), t) {
		return fmt.Errorf("layer %s has no init time %s", st.Layer.Name, t.Format(ogc.TimestampFormat))
	}
	st.InitTime = t
	r.carry.initTime = t
	if !st.ValidTime.IsZero() && st.ValidTime.Before(t) {
		st.ValidTime = firstValidTime(st.Layer, t)
	}
	return nil
}

// SetValidTime selects a valid time on an unsynchronized layer. Times
// preceding the selected init time are not selectable.
func (r *Registry) SetValidTime(st *State, t time.Time) error {
	if st.Synced {
		return fmt.Errorf("layer %s is synchronized; change the reference valid time", st.Layer.Name)
	}
	if !containsTime(dimensions.ValidTimesAfter(st.Layer, st.InitTime), t) {
		return fmt.Errorf("layer %s has no valid time %s for the selected init time",
			st.Layer.Name, t.Format(ogc.TimestampFormat))
	}
	st.ValidTime = t
	r.carry.validTime = t
	return nil
}

// SetReferenceLevel moves the shared level of all synced layers.
func (r *Registry) SetReferenceLevel(level string) error {
	if !contains(r.ref.Levels, level) {
		return fmt.Errorf("level %q outside the synchronized domain", level)
	}
	r.ref.Level = level
	r.carry.level = level
	for _, st := range r.active {
		if st.Synced && len(st.Layer.Elevations) > 0 {
			st.Elevation = level
		}
	}
	return nil
}

// SetReferenceInitTime moves the shared init time. The change is rejected
// when it would orphan a synced layer, i.e. leave it without any valid
// time at or after the new initialization; that layer must be desynced or
// unchecked first.
func (r *Registry) SetReferenceInitTime(t time.Time) error {
	if !containsTime(r.ref.InitTimes, t) {
		return fmt.Errorf("init time %s outside the synchronized domain", t.Format(ogc.TimestampFormat))
	}
	for _, st := range r.active {
		if !st.Synced || len(st.Layer.ValidTimes) == 0 {
			continue
		}
		if len(dimensions.ValidTimesAfter(st.Layer, t)) == 0 {
			return fmt.Errorf("init time %s would leave layer %s without a valid time; desync it first",
				t.Format(ogc.TimestampFormat), st.Layer.Name)
		}
	}
	r.ref.InitTime = t
	r.carry.initTime = t
	for _, st := range r.active {
		if !st.Synced || len(st.Layer.InitTimes) == 0 {
			continue
		}
		st.InitTime = t
		if !st.ValidTime.IsZero() && st.ValidTime.Before(t) {
			st.ValidTime = firstValidTime(st.Layer, t)
		}
	}
	if !r.ref.ValidTime.IsZero() && r.ref.ValidTime.Before(t) {
		r.ref.ValidTime = firstAfter(r.ref.ValidTimes, t)
	}
	return nil
}

// SetReferenceValidTime moves the shared valid time.
func (r *Registry) SetReferenceValidTime(t time.Time) error {
	if !containsTime(r.ref.ValidTimes, t) {
		return fmt.Errorf("valid time %s outside the synchronized domain", t.Format(ogc.TimestampFormat))
	}
	if !r.ref.InitTime.IsZero() && t.Before(r.ref.InitTime) {
		return fmt.Errorf("valid time %s precedes the synchronized init time", t.Format(ogc.TimestampFormat))
	}
	r.ref.ValidTime = t
	r.carry.validTime = t
	for _, st := range r.active {
		if st.Synced && len(st.Layer.ValidTimes) > 0 {
			st.ValidTime = t
		}
	}
	return nil
}

func (r *Registry) seed(st *State) {
	layer := st.Layer
	if r.carry.style != "" {
		if _, ok := layer.FindStyle(r.carry.style); ok {
			st.Style = r.carry.style
		}
	}
	if st.Style == "" && len(layer.Styles) > 0 {
		st.Style = layer.Styles[0].Name
	}

	levels := dimensions.Levels(layer)
	if r.carry.level != "" && contains(levels, r.carry.level) {
		st.Elevation = r.carry.level
	} else if len(levels) > 0 {
		st.Elevation = levels[0]
	}

	inits := dimensions.InitTimes(layer)
	if containsTime(inits, r.carry.initTime) {
		st.InitTime = r.carry.initTime
	} else if len(inits) > 0 {
		// newest run by default
		st.InitTime = inits[len(inits)-1]
	}

	valids := dimensions.ValidTimesAfter(layer, st.InitTime)
	if containsTime(valids, r.carry.validTime) {
		st.ValidTime = r.carry.validTime
	} else if len(valids) > 0 {
		st.ValidTime = valids[0]
	}
}

func (r *Registry) removeActiveForEndpoint(url string) {
	kept := r.active[:0]
	resync := false
	for _, st := range r.active {
		if st.Endpoint == url {
			resync = resync || st.Synced
			continue
		}
		kept = append(kept, st)
	}
	r.active = kept
	r.renumber()
	if resync {
		r.recomputeReference()
	}
}

func (r *Registry) renumber() {
	for i, st := range r.active {
		st.Priority = i + 1
	}
}

func (r *Registry) syncedLayers() []*model.Layer {
	var out []*model.Layer
	for _, st := range r.active {
		if st.Synced {
			out = append(out, st.Layer)
		}
	}
	return out
}

// recomputeReference rebuilds the shared domains as the intersection of
// the synced members and clamps the reference values (and the members'
// selections) into them.
func (r *Registry) recomputeReference() {
	members := r.syncedLayers()
	if len(members) == 0 {
		r.ref = SyncReference{}
		return
	}
	levels, inits, valids := dimensions.Intersect(members)
	r.ref.Levels, r.ref.InitTimes, r.ref.ValidTimes = levels, inits, valids

	if !contains(levels, r.ref.Level) {
		r.ref.Level = ""
		if len(levels) > 0 {
			r.ref.Level = levels[0]
		}
	}
	if !containsTime(inits, r.ref.InitTime) {
		r.ref.InitTime = time.Time{}
		if len(inits) > 0 {
			r.ref.InitTime = inits[len(inits)-1]
		}
	}
	if !containsTime(valids, r.ref.ValidTime) || r.ref.ValidTime.Before(r.ref.InitTime) {
		r.ref.ValidTime = firstAfter(valids, r.ref.InitTime)
	}

	for _, st := range r.active {
		if !st.Synced {
			continue
		}
		if len(st.Layer.Elevations) > 0 && r.ref.Level != "" {
			st.Elevation = r.ref.Level
		}
		if len(st.Layer.InitTimes) > 0 && !r.ref.InitTime.IsZero() {
			st.InitTime = r.ref.InitTime
		}
		if len(st.Layer.ValidTimes) > 0 && !r.ref.ValidTime.IsZero() {
			st.ValidTime = r.ref.ValidTime
		}
	}
}

func firstValidTime(l *model.Layer, init time.Time) time.Time {
	valids := dimensions.ValidTimesAfter(l, init)
	if len(valids) == 0 {
		return time.Time{}
	}
	return valids[0]
}

func firstAfter(ts []time.Time, ref time.Time) time.Time {
	for _, t := range ts {
		if !t.Before(ref) {
			return t
		}
	}
	return time.Time{}
}

func contains(vals []string, v string) bool {
	for _, x := range vals {
		if x == v {
			return true
		}
	}
	return false
}

func containsTime(vals []time.Time, v time.Time) bool {
	if v.IsZero() {
		return false
	}
	for _, x := range vals {
		if x.Equal(v) {
			return true
		}
	}
	return false
}
