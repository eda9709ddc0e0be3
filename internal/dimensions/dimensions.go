// Package dimensions presents per-layer dimensional choices and computes
// the intersections that back time/level synchronization.
package dimensions

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/msflight/wmsclient/internal/core/model"
)

// Levels returns the layer's elevation values sorted numerically on the
// leading number, de-duplicated.
func Levels(l *model.Layer) []string {
	out := dedupStrings(l.Elevations)
	sort.SliceStable(out, func(i, j int) bool {
		return leadingNumber(out[i]) < leadingNumber(out[j])
	})
	return out
}

// InitTimes returns the layer's initialization times, chronological and
// de-duplicated.
func InitTimes(l *model.Layer) []time.Time {
	return dedupTimes(l.InitTimes)
}

// ValidTimes returns the layer's valid times, chronological and
// de-duplicated.
func ValidTimes(l *model.Layer) []time.Time {
	return dedupTimes(l.ValidTimes)
}

// Styles returns the layer's style names sorted.
func Styles(l *model.Layer) []string {
	out := dedupStrings(l.StyleNames())
	sort.Strings(out)
	return out
}

// ValidTimesAfter filters the layer's valid times to those not preceding
// the selected init time: a forecast cannot be valid before its
// initialization.
func ValidTimesAfter(l *model.Layer, initTime time.Time) []time.Time {
	all := ValidTimes(l)
	if initTime.IsZero() {
		return all
	}
	out := make([]time.Time, 0, len(all))
	for _, t := range all {
		if !t.Before(initTime) {
			out = append(out, t)
		}
	}
	return out
}

// Intersect computes the common levels, init times and valid times across
// the given layers. A layer without a dimension does not constrain that
// dimension; the layers that do have it are intersected.
func Intersect(layers []*model.Layer) (levels []string, initTimes, validTimes []time.Time) {
	levels = intersectStrings(layers, func(l *model.Layer) []string { return Levels(l) })
	initTimes = intersectTimes(layers, func(l *model.Layer) []time.Time { return InitTimes(l) })
	validTimes = intersectTimes(layers, func(l *model.Layer) []time.Time { return ValidTimes(l) })
	return levels, initTimes, validTimes
}

func intersectStrings(layers []*model.Layer, get func(*model.Layer) []string) []string {
	var acc []string
	first := true
	for _, l := range layers {
		vals := get(l)
		if len(vals) == 0 {
			continue
		}
		if first {
			acc = append(acc, vals...)
			first = false
			continue
		}
		member := make(map[string]bool, len(vals))
		for _, v := range vals {
			member[v] = true
		}
		kept := acc[:0]
		for _, v := range acc {
			if member[v] {
				kept = append(kept, v)
			}
		}
		acc = kept
	}
	return acc
}

func intersectTimes(layers []*model.Layer, get func(*model.Layer) []time.Time) []time.Time {
	var acc []time.Time
	first := true
	for _, l := range layers {
		vals := get(l)
		if len(vals) == 0 {
			continue
		}
		if first {
			acc = append(acc, vals...)
			first = false
			continue
		}
		member := make(map[int64]bool, len(vals))
		for _, v := range vals {
			member[v.UnixNano()] = true
		}
		kept := acc[:0]
		for _, v := range acc {
			if member[v.UnixNano()] {
				kept = append(kept, v)
			}
		}
		acc = kept
	}
	return acc
}

// leadingNumber parses the numeric prefix of a level string like
// "500 (hPa)". Values without one sort last.
func leadingNumber(s string) float64 {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) {
		c := s[end]
		if (c >= '0' && c <= '9') || c == '.' || c == '-' || c == '+' {
			end++
			continue
		}
		break
	}
	if end == 0 {
		return 1e300
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 1e300
	}
	return v
}

func dedupStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func dedupTimes(in []time.Time) []time.Time {
	out := make([]time.Time, 0, len(in))
	seen := make(map[int64]bool, len(in))
	for _, v := range in {
		if seen[v.UnixNano()] {
			continue
		}
		seen[v.UnixNano()] = true
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
