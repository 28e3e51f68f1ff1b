// Package cachekey builds and parses the keys under which responses are
// stored. A key identifies the origin, method and URI, plus the request
// header values nominated by the response's Vary field, so that all
// variants of one resource share a common prefix.
package cachekey

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrMethodNotSupported is returned when a key cannot be replayed as a
// request, i.e. for methods whose requests may have carried a body.
var ErrMethodNotSupported = errors.New("method not supported")

const (
	originSeparator = ":"
	methodSeparator = ":"
	varySeparator   = "\t"
)

type Keyer struct {
	// Unique identifier for the origin.
	// Usually this should be the origin - well - origin.
	OriginId string
	// Cache key prefix for this origin.
	OriginPrefix string
}

func New(originId string) Keyer {
	return Keyer{
		OriginId:     originId,
		OriginPrefix: originId + originSeparator,
	}
}

// MethodPrefix returns the key prefix for the origin with the given method,
// e.g. the prefix for all GET requests in the cache.
func (k Keyer) MethodPrefix(method string) string {
	return k.OriginId + originSeparator + method + methodSeparator
}

// KeyPrefix returns the cache key for a request without the vary headers
// (i.e. a key prefix). The returned key is suitable for finding all stored
// response variants for a particular request. If the request has a
// `Cache-Key` header, that value is included in the key prefix.
func (k Keyer) KeyPrefix(r *http.Request) string {
	key := k.OriginId + originSeparator + r.Method + methodSeparator + r.URL.RequestURI() + varySeparator
	if ck := r.Header.Get("Cache-Key"); ck != "" {
		key += ck
	}
	return key
}

// WithVary returns the full cache key based on a previously generated key
// prefix: one line is appended per header field nominated by the response's
// Vary field, with the value taken from the presented request. Recomputing
// the key for a later request therefore reproduces the stored key exactly
// when the nominated fields match.
func (k Keyer) WithVary(prefix string, req *http.Request, res *http.Response) string {
	key := prefix
	for _, name := range listHeader(res.Header, "Vary") {
		if value := req.Header.Get(name); value != "" {
			key = key + "\n" + strings.ToLower(name) + ": " + value
		}
	}
	return key
}

// RequestFromKey generates a caching-wise equal request to the one that
// resulted in the given key. This means it takes vary headers and the
// Cache-Key header into account, so that replaying the request stores the
// response under the same key.
// Only GET requests can be recreated: other methods may have carried a body
// that is not part of the key.
func (k Keyer) RequestFromKey(key string) (*http.Request, error) {
	if !strings.HasPrefix(key, k.OriginPrefix) {
		return nil, fmt.Errorf("key and origin do not match: %s", key)
	}
	keyNoOrigin := strings.TrimPrefix(key, k.OriginPrefix)
	keyNoVary, rest, found := strings.Cut(keyNoOrigin, varySeparator)
	if !found {
		return nil, fmt.Errorf("malformed key: %s", key)
	}
	method, uri, found := strings.Cut(keyNoVary, methodSeparator)
	if !found {
		return nil, fmt.Errorf("malformed key: %s", key)
	}
	if method != http.MethodGet {
		return nil, ErrMethodNotSupported
	}
	req, err := http.NewRequest(method, uri, nil)
	if err != nil {
		return nil, err
	}
	req.Header = k.VaryHeaders(key)
	if ck, _, _ := strings.Cut(rest, "\n"); ck != "" {
		req.Header.Set("Cache-Key", ck)
	}
	return req, nil
}

// VaryHeaders returns a http.Header instance containing all the vary
// header values included in a key.
func (k Keyer) VaryHeaders(key string) http.Header {
	header := make(http.Header)
	lines := strings.Split(key, "\n")
	for i := 1; i < len(lines); i++ {
		if name, value, found := strings.Cut(lines[i], ": "); found {
			header.Add(name, value)
		}
	}
	return header
}

// listHeader splits a comma-separated list header into its members.
func listHeader(header http.Header, field string) []string {
	list := make([]string, 0)
	for _, hdr := range header.Values(field) {
		for _, item := range strings.Split(hdr, ",") {
			if item = strings.TrimSpace(item); item != "" {
				list = append(list, item)
			}
		}
	}
	return list
}
