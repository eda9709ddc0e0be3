package ogc

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// IsExceptionContentType reports whether a response content type announces
// a wms exception report rather than an image.
func IsExceptionContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "application/vnd.ogc.se_xml", "text/xml", "application/xml", "xml":
		return true
	}
	return false
}

// ServiceExceptionText extracts the first ServiceException element text
// from an exception report, namespace ignored. Returns false when the
// payload is not an exception report.
func ServiceExceptionText(raw []byte) (string, bool) {
	dec := xml.NewDecoder(strings.NewReader(string(raw)))
	inException := false
	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", false
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "ServiceException" {
				inException = true
			}
		case xml.CharData:
			if inException {
				text.Write(t)
			}
		case xml.EndElement:
			if inException && t.Name.Local == "ServiceException" {
				return strings.TrimSpace(text.String()), true
			}
		}
	}
}

// LinearData is one <Data> payload of a linear-section response.
type LinearData struct {
	Unit         string
	NumWaypoints int
	Values       []float64
}

type linearDoc struct {
	XMLName xml.Name
	Data    []struct {
		Unit         string `xml:"unit,attr"`
		NumWaypoints string `xml:"num_waypoints,attr"`
		Body         string `xml:",chardata"`
	} `xml:"Data"`
}

// ParseLinearSection decodes the text/xml body of a LINE:1 request.
func ParseLinearSection(raw []byte) ([]LinearData, error) {
	var doc linearDoc
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, &ParseError{What: "linear section", Err: err}
	}
	out := make([]LinearData, 0, len(doc.Data))
	for _, d := range doc.Data {
		ld := LinearData{Unit: strings.TrimSpace(d.Unit)}
		if n, err := strconv.Atoi(strings.TrimSpace(d.NumWaypoints)); err == nil {
			ld.NumWaypoints = n
		}
		for tok := range strings.SplitSeq(d.Body, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			v, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return nil, &ParseError{What: "linear section",
					Err: fmt.Errorf("bad value %q: %w", tok, err)}
			}
			ld.Values = append(ld.Values, v)
		}
		out = append(out, ld)
	}
	return out, nil
}
