// Package cachecontrol parses the HTTP Cache-Control header field into a
// structured, strongly typed set of caching directives.
//
// The parser is deliberately forgiving: parsing always succeeds, unknown
// directives are ignored, and a directive whose argument cannot be understood
// is simply left absent. The header is a best-effort hint, not a contract.
package cachecontrol

import "time"

// CacheControl is the parsed form of a "Cache-Control" header (/field) value.
//
// §  5.2. Cache-Control
// §
// §  The "Cache-Control" header field is used to list directives for caches along
// §  the request/response chain. Cache directives are unidirectional, in that the
// §  presence of a directive in a request does not imply that the same directive is
// §  present or copied in the response.
// §
// §  Cache directives are identified by a token, to
// §  be compared case-insensitively, and have an optional argument that can use both
// §  token and quoted-string syntax. For the directives defined below that define
// §  arguments, recipients ought to accept both forms, even if a specific form is
// §  required for generation.
// §
// §    Cache-Control   = #cache-directive
// §
// §    cache-directive = token [ "=" ( token / quoted-string ) ]
//
// Every field is independently optional: the accessors report presence
// explicitly, since e.g. a zero "max-age" is not the same as no "max-age".
// CacheControl values are immutable once returned from Parse or ParseValues,
// and comparable: parsing equivalent header values yields equal results.
type CacheControl struct {
	cachability     Cachability
	noStore         bool
	noTransform     bool
	mustRevalidate  bool
	proxyRevalidate bool
	onlyIfCached    bool
	immutable       bool
	maxAge          seconds
	sMaxAge         seconds
	minFresh        seconds
	maxStale        MaxStale
	hasMaxStale     bool
}

// seconds is an optional delta-seconds argument. Zero is a meaningful value,
// so presence is tracked separately.
type seconds struct {
	dur time.Duration
	set bool
}

// Cachability is the coarse caching disposition of a response, set by the
// mutually exclusive directives "public", "private" and "no-cache".
type Cachability string

const (
	// §  5.2.2.9.  public
	// §
	// §     The public response directive indicates that a cache MAY store the
	// §     response even if it would otherwise be prohibited, subject to the
	// §     constraints defined in Section 3.  In other words, public explicitly
	// §     marks the response as cacheable.
	Public Cachability = "public"

	// §  5.2.2.7.  private
	// §
	// §     The unqualified private response directive indicates that a shared
	// §     cache MUST NOT store the response (i.e., the response is intended for
	// §     a single user).  It also indicates that a private cache MAY store the
	// §     response, subject to the constraints defined in Section 3, even if
	// §     the response would not otherwise be heuristically cacheable by a
	// §     private cache.
	Private Cachability = "private"

	// §  5.2.2.4.  no-cache
	// §
	// §     The no-cache response directive, in its unqualified form (without an
	// §     argument), indicates that the response MUST NOT be used to satisfy
	// §     any other request without forwarding it for validation and receiving
	// §     a successful response; see Section 4.3.
	NoCache Cachability = "no-cache"
)

// Cachability returns the caching disposition, along with a boolean
// indicating whether any of the cachability directives was present.
// If more than one was present, the last one seen wins.
func (c CacheControl) Cachability() (Cachability, bool) {
	return c.cachability, c.cachability != ""
}

// NoStore returns whether the "no-store" directive is present.
//
// §  5.2.2.5.  no-store
// §
// §     The no-store response directive indicates that a cache MUST NOT store
// §     any part of either the immediate request or the response and MUST NOT
// §     use the response to satisfy any other request.
func (c CacheControl) NoStore() bool {
	return c.noStore
}

// NoTransform returns whether the "no-transform" directive is present.
//
// §  5.2.2.6.  no-transform
// §
// §     The no-transform response directive indicates that an intermediary
// §     (regardless of whether it implements a cache) MUST NOT transform the
// §     content, as defined in Section 7.7 of [HTTP].
func (c CacheControl) NoTransform() bool {
	return c.noTransform
}

// MustRevalidate returns whether the "must-revalidate" directive is present.
//
// §  5.2.2.2.  must-revalidate
// §
// §     The must-revalidate response directive indicates that once the
// §     response has become stale, a cache MUST NOT reuse that response to
// §     satisfy another request until it has been successfully validated by
// §     the origin, as defined by Section 4.3.
func (c CacheControl) MustRevalidate() bool {
	return c.mustRevalidate
}

// ProxyRevalidate returns whether the "proxy-revalidate" directive is present.
//
// §  5.2.2.8.  proxy-revalidate
// §
// §     The proxy-revalidate response directive indicates that once the
// §     response has become stale, a shared cache MUST NOT reuse that
// §     response to satisfy another request until it has been successfully
// §     validated by the origin, as defined by Section 4.3.  This is
// §     analogous to must-revalidate (Section 5.2.2.2), except that proxy-
// §     revalidate does not apply to private caches.
func (c CacheControl) ProxyRevalidate() bool {
	return c.proxyRevalidate
}

// OnlyIfCached returns whether the "only-if-cached" directive is present.
//
// §  5.2.1.7.  only-if-cached
// §
// §     The only-if-cached request directive indicates that the client only
// §     wishes to obtain a stored response.  Caches that honor this request
// §     directive SHOULD, upon receiving it, either respond using a stored
// §     response consistent with the other constraints of the request or
// §     respond with a 504 (Gateway Timeout) status code.
func (c CacheControl) OnlyIfCached() bool {
	return c.onlyIfCached
}

// Immutable returns whether the "immutable" directive is present.
//
// The immutable response directive (RFC 8246) indicates that the response
// will not change during its freshness lifetime, so clients need not
// revalidate it even on reload.
func (c CacheControl) Immutable() bool {
	return c.immutable
}

// MaxAge returns "max-age" as a duration, along with a boolean indicating
// whether the "max-age" directive was present with a valid argument.
//
// §  5.2.2.1. max-age
// §
// §  Argument syntax:
// §
// §      delta-seconds (see Section 1.2.2)
// §
// §  The max-age response directive indicates that the response is to be considered
// §  stale after its age is greater than the specified number of seconds. This
// §  directive uses the token form of the argument syntax: e.g., 'max-age=5' not
// §  'max-age="5"'. A sender MUST NOT generate the quoted-string form.
func (c CacheControl) MaxAge() (time.Duration, bool) {
	return c.maxAge.dur, c.maxAge.set
}

// SMaxAge returns "s-maxage" as a duration, along with a boolean indicating
// whether the "s-maxage" directive was present with a valid argument.
//
// §  5.2.2.10.  s-maxage
// §
// §     Argument syntax:
// §
// §        delta-seconds (see Section 1.2.2)
// §
// §     The s-maxage response directive indicates that, for a shared cache,
// §     the maximum age specified by this directive overrides the maximum age
// §     specified by either the max-age directive or the Expires header
// §     field.
func (c CacheControl) SMaxAge() (time.Duration, bool) {
	return c.sMaxAge.dur, c.sMaxAge.set
}

// MinFresh returns "min-fresh" as a duration, along with a boolean indicating
// whether the "min-fresh" directive was present with a valid argument.
//
// §  5.2.1.3.  min-fresh
// §
// §     Argument syntax:
// §
// §        delta-seconds (see Section 1.2.2)
// §
// §     The min-fresh request directive indicates that the client prefers a
// §     response whose freshness lifetime is no less than its current age
// §     plus the specified time in seconds.  That is, the client wants a
// §     response that will still be fresh for at least the specified number
// §     of seconds.
func (c CacheControl) MinFresh() (time.Duration, bool) {
	return c.minFresh.dur, c.minFresh.set
}

// MaxStale returns the parsed "max-stale" directive, along with a boolean
// indicating whether it was present.
//
// §  5.2.1.2.  max-stale
// §
// §     Argument syntax:
// §
// §        delta-seconds (see Section 1.2.2)
// §
// §     The max-stale request directive indicates that the client will accept
// §     a response that has exceeded its freshness lifetime.  If a value is
// §     present, then the client is willing to accept a response that has
// §     exceeded its freshness lifetime by no more than the specified number
// §     of seconds.  If no value is assigned to max-stale, then the client
// §     will accept a stale response of any age.
//
// A valueless "max-stale" is reported as present and unbounded, which is
// distinct from the directive being absent. An unparseable value makes the
// directive absent, consistent with the other delta-seconds directives.
func (c CacheControl) MaxStale() (MaxStale, bool) {
	return c.maxStale, c.hasMaxStale
}

// MaxStale is the staleness tolerance expressed by the "max-stale" request
// directive: either unbounded (directive without a value) or limited to a
// lifetime beyond freshness.
type MaxStale struct {
	unbounded bool
	limit     time.Duration
}

// Unbounded returns whether any amount of staleness is acceptable.
func (m MaxStale) Unbounded() bool {
	return m.unbounded
}

// Lifetime returns the acceptable staleness, along with a boolean that is
// false when the tolerance is unbounded.
func (m MaxStale) Lifetime() (time.Duration, bool) {
	if m.unbounded {
		return 0, false
	}
	return m.limit, true
}

// Allows returns whether a response that has been stale for the given
// duration is still acceptable under this tolerance.
func (m MaxStale) Allows(staleFor time.Duration) bool {
	if m.unbounded {
		return true
	}
	return staleFor <= m.limit
}
