package identity

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var ErrMethodNotSupported = fmt.Errorf("method not supported")

const methodSeparator = ":"

// Keyer produces normalized store keys for requests.
// A key is the request method plus the fully resolved URL, so the same
// resource always maps to the same entry no matter how the request reached
// us (path-only from a server handler, absolute from a proxy client).
type Keyer struct {
	// Origin used to resolve relative request URLs.
	Origin url.URL
}

func NewKeyer(origin url.URL) Keyer {
	return Keyer{Origin: origin}
}

// ForRequest returns the store key identifying the given request.
func (k Keyer) ForRequest(r *http.Request) string {
	return r.Method + methodSeparator + k.Canonical(r.URL)
}

// ForURL returns the store key for a GET of the given URL,
// which may be relative to the origin.
func (k Keyer) ForURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	return http.MethodGet + methodSeparator + k.Canonical(u), nil
}

// RequestFromKey creates a request equal (identity-wise) to the one that
// produced the key. Only GET keys can be turned back into requests.
func (k Keyer) RequestFromKey(key string) (*http.Request, error) {
	method, uri, found := strings.Cut(key, methodSeparator)
	if !found {
		return nil, fmt.Errorf("malformed key: %s", key)
	}
	if method != http.MethodGet {
		return nil, ErrMethodNotSupported
	}
	return http.NewRequest(method, uri, nil)
}

// Canonical resolves u against the origin and normalizes the parts that
// never distinguish two resources: the fragment is dropped, and the scheme
// and host are lowercased. The query string is kept as-is.
func (k Keyer) Canonical(u *url.URL) string {
	resolved := k.Origin.ResolveReference(u)
	resolved.Fragment = ""
	resolved.Scheme = strings.ToLower(resolved.Scheme)
	resolved.Host = strings.ToLower(resolved.Host)
	return resolved.String()
}
