package ogc

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// timeLayouts are the timestamp spellings accepted inside dimension
// extents, most specific first.
var timeLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04Z",
	"2006-01-02T15Z",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp parses one ISO 8601 instant. All values are normalized
// to UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &ParseError{What: "timestamp", Err: fmt.Errorf("unrecognized instant %q", s)}
}

var durationRe = regexp.MustCompile(
	`^P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// Period is an ISO 8601 duration. Year and month components do not have a
// fixed length, so they are carried separately and applied calendrically.
type Period struct {
	Years  int
	Months int
	Days   int
	Clock  time.Duration
}

// IsZero reports whether the period advances time at all.
func (p Period) IsZero() bool {
	return p.Years == 0 && p.Months == 0 && p.Days == 0 && p.Clock == 0
}

// AddTo advances t by the period.
func (p Period) AddTo(t time.Time) time.Time {
	return t.AddDate(p.Years, p.Months, p.Days).Add(p.Clock)
}

// ParsePeriod parses an ISO 8601 duration such as P1Y, P1M, P1W, P2D,
// PT6H, PT30M or combinations thereof.
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(s)
	m := durationRe.FindStringSubmatch(s)
	if m == nil || s == "P" {
		return Period{}, &ParseError{What: "period", Err: fmt.Errorf("unrecognized duration %q", s)}
	}
	atoi := func(v string) int {
		if v == "" {
			return 0
		}
		n, _ := strconv.Atoi(v)
		return n
	}
	var p Period
	p.Years = atoi(m[1])
	p.Months = atoi(m[2])
	p.Days = 7*atoi(m[3]) + atoi(m[4])
	p.Clock = time.Duration(atoi(m[5]))*time.Hour + time.Duration(atoi(m[6]))*time.Minute
	if m[7] != "" {
		sec, _ := strconv.ParseFloat(m[7], 64)
		p.Clock += time.Duration(sec * float64(time.Second))
	}
	if p.IsZero() {
		return Period{}, &ParseError{What: "period", Err: fmt.Errorf("zero-length duration %q", s)}
	}
	return p, nil
}

// ExpandExtent parses a wms dimension extent value: a comma-separated list
// of tokens, each either a single instant or a start/end/period triple.
// The literal "current" resolves to now, captured once by the caller. A
// triple whose start is after its end expands to nothing. The result is
// sorted and de-duplicated.
func ExpandExtent(extent string, now time.Time) ([]time.Time, error) {
	now = now.UTC()
	var out []time.Time
	for tok := range strings.SplitSeq(extent, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		ts, err := expandToken(tok, now)
		if err != nil {
			return nil, err
		}
		out = append(out, ts...)
	}
	return dedupSorted(out), nil
}

func expandToken(tok string, now time.Time) ([]time.Time, error) {
	parts := strings.Split(tok, "/")
	switch len(parts) {
	case 1:
		t, err := parseInstant(parts[0], now)
		if err != nil {
			return nil, err
		}
		return []time.Time{t}, nil
	case 3:
		start, err := parseInstant(parts[0], now)
		if err != nil {
			return nil, err
		}
		end, err := parseInstant(parts[1], now)
		if err != nil {
			return nil, err
		}
		period, err := ParsePeriod(parts[2])
		if err != nil {
			return nil, err
		}
		var out []time.Time
		for t := start; !t.After(end); t = period.AddTo(t) {
			out = append(out, t)
		}
		return out, nil
	default:
		return nil, &ParseError{What: "extent", Err: fmt.Errorf("malformed token %q", tok)}
	}
}

func parseInstant(s string, now time.Time) (time.Time, error) {
	if strings.EqualFold(strings.TrimSpace(s), "current") {
		return now, nil
	}
	return ParseTimestamp(s)
}

func dedupSorted(ts []time.Time) []time.Time {
	if len(ts) == 0 {
		return nil
	}
	sorted := make([]time.Time, len(ts))
	copy(sorted, ts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	out := sorted[:1]
	for _, t := range sorted[1:] {
		if !t.Equal(out[len(out)-1]) {
			out = append(out, t)
		}
	}
	return out
}
