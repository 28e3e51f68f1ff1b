package proxy

import (
	"net/http"
	"time"

	cachecontrol "github.com/always-cache/cache-control"
)

// mustNotStore says whether storing the response to the given request is
// forbidden. A response may only be stored when the cache understands the
// request method and the status code, no directive on either side forbids
// storage, and the response carries an explicit caching signal.
func mustNotStore(req *http.Request, res *http.Response) bool {
	reqCacheControl := cachecontrol.ParseValues(req.Header.Values("Cache-Control"))
	resCacheControl := cachecontrol.ParseValues(res.Header.Values("Cache-Control"))

	// §  the request method is understood by the cache;
	if !requestMethodIsUnderstood(req.Method) {
		return true
	}
	// §  the response status code is final (see Section 15 of [HTTP]);
	if !responseStatusCodeIsFinal(res.StatusCode) {
		return true
	}
	// §  if the response status code is 206 or 304 ... the cache
	// §  understands the response status code
	if (res.StatusCode == http.StatusPartialContent ||
		res.StatusCode == http.StatusNotModified) &&
		!responseStatusCodeIsUnderstood(res.StatusCode) {
		return true
	}
	// §  the no-store cache directive is not present in the response
	// §  (see Section 5.2.2.5);
	if resCacheControl.NoStore() || reqCacheControl.NoStore() {
		return true
	}
	// §  if the cache is shared: the private response directive is either
	// §  not present or allows a shared cache to store a modified response
	if tag, ok := resCacheControl.Cachability(); ok && tag == cachecontrol.Private {
		return true
	}
	// §  if the cache is shared: the Authorization header field is not
	// §  present in the request ... or a response directive is present
	// §  that explicitly allows shared caching (see Section 3.5)
	if req.Header.Get("Authorization") != "" && !mayStoreAuthenticated(resCacheControl) {
		return true
	}
	// §  the response contains at least one of the following:
	return !hasExplicitCachingSignal(resCacheControl, res)
}

// §  In this context, a cache has "understood" a request method or a
// §  response status code if it recognizes it and implements all
// §  specified caching-related behavior.

func requestMethodIsUnderstood(method string) bool {
	switch method {
	case http.MethodGet:
		return true
	case http.MethodPost:
		return true
	}
	return false
}

func responseStatusCodeIsUnderstood(statusCode int) bool {
	switch statusCode {
	case http.StatusOK:
		return true
	}
	return false
}

func responseStatusCodeIsFinal(statusCode int) bool {
	return statusCode >= 200 && statusCode <= 599
}

// §  ... caches are allowed to use such responses ... if any of the
// §  following are present in the response:
// §  *  must-revalidate, public, or s-maxage
func mayStoreAuthenticated(resCacheControl cachecontrol.CacheControl) bool {
	if resCacheControl.MustRevalidate() {
		return true
	}
	if tag, ok := resCacheControl.Cachability(); ok && tag == cachecontrol.Public {
		return true
	}
	_, ok := resCacheControl.SMaxAge()
	return ok
}

// hasExplicitCachingSignal says whether the response opts in to caching:
// a public directive, an explicit expiration time, or a max-age or
// s-maxage directive. Heuristic freshness is not used.
func hasExplicitCachingSignal(resCacheControl cachecontrol.CacheControl, res *http.Response) bool {
	if tag, ok := resCacheControl.Cachability(); ok && tag == cachecontrol.Public {
		return true
	}
	if res.Header.Get("Expires") != "" {
		return true
	}
	if _, ok := resCacheControl.MaxAge(); ok {
		return true
	}
	_, ok := resCacheControl.SMaxAge()
	return ok
}

// getExpiration returns the time the response expires from the cache.
// The zero time means no explicit expiration.
func getExpiration(res *http.Response) time.Time {
	if lifetime := freshness_lifetime(res); lifetime != 0 {
		return time.Now().Add(lifetime)
	}
	return time.Time{}
}
