package ogc

import "fmt"

// NetworkError wraps DNS, connect and timeout failures talking to a server.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error contacting %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx, non-401 response.
type HTTPError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %s from %s", e.Status, e.URL)
}

// AuthRequiredError is a 401 challenge carrying the server realm.
type AuthRequiredError struct {
	URL   string
	Realm string
}

func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf("authentication required for %s (realm %q)", e.URL, e.Realm)
}

// AuthCanceledError means the user dismissed the credential prompt.
type AuthCanceledError struct {
	URL string
}

func (e *AuthCanceledError) Error() string {
	return fmt.Sprintf("authentication canceled for %s", e.URL)
}

// ServiceExceptionError carries the message text of a WMS exception report
// returned in place of an image.
type ServiceExceptionError struct {
	URL     string
	Message string
}

func (e *ServiceExceptionError) Error() string {
	return fmt.Sprintf("wms service exception from %s: %s", e.URL, e.Message)
}

// ParseError is a malformed capability document or dimension extent.
type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.What, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// UnsupportedCRSError means the requested CRS is not among the layer's
// allowed CRSes.
type UnsupportedCRSError struct {
	Layer string
	CRS   string
}

func (e *UnsupportedCRSError) Error() string {
	return fmt.Sprintf("layer %s does not advertise CRS %s", e.Layer, e.CRS)
}
