// Package auth holds per-endpoint WMS credentials for the process
// lifetime. Credentials are seeded from configuration, replaced through
// the prompt cycle, and never written to disk.
package auth

import (
	"sync"

	"github.com/msflight/wmsclient/internal/core/observability"
	"github.com/msflight/wmsclient/internal/core/ogc"
)

// Credentials is one username/password pair.
type Credentials struct {
	Username string
	Password string
}

// PromptFunc asks the user for credentials for an endpoint. ok is false
// when the prompt was dismissed. The prompt may block; callers invoke it
// from the UI-facing goroutine only.
type PromptFunc func(endpoint, realm string) (creds Credentials, ok bool)

type Broker struct {
	mu     sync.RWMutex
	creds  map[string]Credentials
	prompt PromptFunc
}

// New creates a broker seeded with configured logins, keyed by canonical
// endpoint URL.
func New(seed map[string]Credentials, prompt PromptFunc) *Broker {
	creds := make(map[string]Credentials, len(seed))
	for k, v := range seed {
		if canon, err := ogc.CanonicalURL(k); err == nil {
			k = canon
		}
		creds[k] = v
	}
	return &Broker{creds: creds, prompt: prompt}
}

// Get returns stored credentials for an endpoint.
func (b *Broker) Get(endpoint string) (Credentials, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.creds[endpoint]
	return c, ok
}

// Challenge runs one prompt cycle for a 401 challenge. On accept the
// credentials are stored and returned for a single retry; on dismissal an
// AuthCanceledError is returned and the operation is abandoned.
func (b *Broker) Challenge(endpoint, realm string) (Credentials, error) {
	if b.prompt == nil {
		return Credentials{}, &ogc.AuthCanceledError{URL: endpoint}
	}
	creds, ok := b.prompt(endpoint, realm)
	if !ok {
		return Credentials{}, &ogc.AuthCanceledError{URL: endpoint}
	}
	b.mu.Lock()
	b.creds[endpoint] = creds
	b.mu.Unlock()
	observability.IncAuthRetry()
	return creds, nil
}

// Forget drops stored credentials for an endpoint.
func (b *Broker) Forget(endpoint string) {
	b.mu.Lock()
	delete(b.creds, endpoint)
	b.mu.Unlock()
}
