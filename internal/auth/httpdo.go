package auth

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/msflight/wmsclient/internal/core/ogc"
)

// HTTPClient matches *http.Client; a seam for tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Get issues an authenticated HTTP GET against a WMS endpoint. Stored
// credentials are attached as basic auth; a 401 triggers exactly one
// prompt-and-retry cycle through the broker. Returns the body and the
// response content type.
func Get(ctx context.Context, client HTTPClient, broker *Broker, endpoint, rawURL string) ([]byte, string, error) {
	creds, _ := broker.Get(endpoint)
	body, ct, realm, err := doOnce(ctx, client, rawURL, creds)
	if err == nil || realm == "" {
		return body, ct, err
	}

	// 401: one challenge cycle, then retry once
	creds, cerr := broker.Challenge(endpoint, realm)
	if cerr != nil {
		return nil, "", cerr
	}
	body, ct, realm, err = doOnce(ctx, client, rawURL, creds)
	if err != nil && realm != "" {
		broker.Forget(endpoint)
		return nil, "", &ogc.AuthRequiredError{URL: rawURL, Realm: realm}
	}
	return body, ct, err
}

// doOnce performs a single GET. On a 401 the returned realm is non-empty
// and err carries the AuthRequiredError.
func doOnce(ctx context.Context, client HTTPClient, rawURL string, creds Credentials) ([]byte, string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", "", &ogc.NetworkError{URL: rawURL, Err: err}
	}
	if creds != (Credentials{}) {
		req.SetBasicAuth(creds.Username, creds.Password)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", "", &ogc.NetworkError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		realm := parseRealm(resp.Header.Get("WWW-Authenticate"))
		if realm == "" {
			realm = "WMS"
		}
		return nil, "", realm, &ogc.AuthRequiredError{URL: rawURL, Realm: realm}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", "", &ogc.HTTPError{URL: rawURL, StatusCode: resp.StatusCode, Status: resp.Status}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", "", &ogc.NetworkError{URL: rawURL, Err: err}
	}
	return body, resp.Header.Get("Content-Type"), "", nil
}

func parseRealm(header string) string {
	const marker = `realm="`
	i := strings.Index(header, marker)
	if i < 0 {
		return ""
	}
	rest := header[i+len(marker):]
	if j := strings.IndexByte(rest, '"'); j >= 0 {
		return rest[:j]
	}
	return ""
}
