// Package proxy resolves named proxy settings into HTTP clients. A setting
// is looked up first in static configuration, then in the secret store, and
// the built client is memoized for the life of the resolver.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/vigilstack/vigil-checker/internal/cache"
	"github.com/vigilstack/vigil-checker/internal/config"
)

// ResolutionError reports a proxy setting that could not be turned into a
// working client. The executor converts it into a down check result.
type ResolutionError struct {
	Setting string
	Reason  string
	Err     error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("proxy setting %q: %s", e.Setting, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Resolver builds and caches per-setting HTTP clients. The empty setting
// always resolves to a shared direct client. Built clients carry no deadline
// of their own; each check bounds its requests through its context.
type Resolver struct {
	cfg     config.ProxyConfig
	secrets cache.Provider

	mu      sync.Mutex
	clients map[string]*http.Client
	direct  *http.Client
}

func NewResolver(cfg config.ProxyConfig, secrets cache.Provider) *Resolver {
	if secrets == nil {
		secrets = cache.NoopProvider{}
	}
	return &Resolver{
		cfg:     cfg,
		secrets: secrets,
		clients: make(map[string]*http.Client),
		direct:  newClient(nil),
	}
}

// ClientFor returns the HTTP client for a proxy setting. Resolution failures
// are not memoized, so a secret that appears later is picked up on the next
// call.
func (r *Resolver) ClientFor(ctx context.Context, setting string) (*http.Client, error) {
	if setting == "" {
		return r.direct, nil
	}

	r.mu.Lock()
	client, ok := r.clients[setting]
	r.mu.Unlock()
	if ok {
		return client, nil
	}

	proxyURL, err := r.lookup(ctx, setting)
	if err != nil {
		return nil, err
	}
	client = newClient(proxyURL)

	r.mu.Lock()
	if existing, ok := r.clients[setting]; ok {
		client = existing
	} else {
		r.clients[setting] = client
	}
	r.mu.Unlock()
	return client, nil
}

func (r *Resolver) lookup(ctx context.Context, setting string) (*url.URL, error) {
	raw, ok := r.cfg.Static[setting]
	if !ok {
		secret, err := r.secrets.Get(ctx, r.cfg.SecretPrefix+setting)
		if err != nil {
			if errors.Is(err, cache.ErrCacheMiss) {
				return nil, &ResolutionError{Setting: setting, Reason: "no static entry and no secret"}
			}
			return nil, &ResolutionError{Setting: setting, Reason: "secret store lookup failed", Err: err}
		}
		raw = strings.TrimSpace(string(secret))
	}
	if raw == "" {
		return nil, &ResolutionError{Setting: setting, Reason: "empty proxy URL"}
	}

	proxyURL, err := url.Parse(raw)
	if err != nil {
		return nil, &ResolutionError{Setting: setting, Reason: "invalid proxy URL", Err: err}
	}
	switch proxyURL.Scheme {
	case "http", "https", "socks5":
	default:
		return nil, &ResolutionError{Setting: setting, Reason: fmt.Sprintf("unsupported proxy scheme %q", proxyURL.Scheme)}
	}
	if proxyURL.Host == "" {
		return nil, &ResolutionError{Setting: setting, Reason: "proxy URL has no host"}
	}
	return proxyURL, nil
}

// newClient builds a client without a Timeout. A client-level deadline would
// cap every request at the same duration regardless of the check's own
// timeout, and a request it cancels surfaces as a plain error rather than a
// context deadline.
func newClient(proxyURL *url.URL) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != nil {
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	return &http.Client{Transport: transport}
}
