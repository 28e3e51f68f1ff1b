// Package cachestatus builds the Cache-Status response header field defined
// in RFC 9211: one entry per cache, saying whether the request was satisfied
// from the cache ("hit") or had to be forwarded ("fwd") and why.
package cachestatus

import (
	"fmt"
	"time"
)

// DefaultName identifies this cache in Cache-Status entries when no other
// name is configured. Every cache along the chain appends its own entry, so
// the name is what sets this proxy apart in a multi-layer setup.
const DefaultName = "Cache-Control-Proxy"

type status string

const (
	statusHit status = "hit"
	statusFwd status = "fwd"
)

// FwdReason says why a request was forwarded instead of served from cache.
type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdReasonMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"

	// The cache contained a response that matched the request
	// URI, but it could not select a response based upon this request's
	// header fields and stored Vary header fields.
	FwdReasonVaryMiss FwdReason = "vary-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request (to be used when an implementation cannot
	// distinguish between uri-miss and vary-miss).
	FwdReasonMiss FwdReason = "miss"

	// The cache was able to select a fresh response for the
	// request, but the request's semantics (e.g., Cache-Control request
	// directives) did not allow its use.
	FwdReasonRequest FwdReason = "request"

	// The cache was able to select a response for the request, but
	// it was stale.
	FwdReasonStale FwdReason = "stale"

	// The cache was able to select a partial response for the
	// request, but it did not contain all of the requested ranges (or
	// the request was for the complete response).
	FwdReasonPartial FwdReason = "partial"
)

// CacheStatus accumulates one cache's entry of the Cache-Status header.
// The zero value is usable and serializes under DefaultName.
type CacheStatus struct {
	name      string
	status    status
	fwdReason FwdReason
	fwdStatus int
	ttl       int
	ttlSet    bool
	stored    bool
	detail    string
}

// New returns a CacheStatus that serializes under the given cache name.
func New(name string) CacheStatus {
	return CacheStatus{name: name}
}

// Hit records that the request was satisfied from the cache.
func (cs *CacheStatus) Hit() {
	cs.status = statusHit
}

// Forward records that the request went forward to the next hop, along with
// the reason.
func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.status = statusFwd
	cs.fwdReason = reason
}

// FwdStatus records the status code received from the next hop, for cases
// where it differs from the one sent downstream (e.g. a 304 on validation).
func (cs *CacheStatus) FwdStatus(code int) {
	cs.fwdStatus = code
}

// TTL records the remaining freshness lifetime, truncated to seconds.
// A stale hit has a negative TTL.
func (cs *CacheStatus) TTL(ttl time.Duration) {
	cs.ttl = int(ttl / time.Second)
	cs.ttlSet = true
}

// Stored records that the forwarded response was stored in the cache.
func (cs *CacheStatus) Stored() {
	cs.stored = true
}

// Detail attaches implementation-specific detail to the entry.
// The detail must be a valid token, e.g. a single lowercase word.
func (cs *CacheStatus) Detail(detail string) {
	cs.detail = detail
}

// Status returns "hit" or "fwd", or the empty string if neither has been
// recorded yet.
func (cs CacheStatus) Status() string {
	return string(cs.status)
}

// Reason returns the forward reason, empty for hits.
func (cs CacheStatus) Reason() FwdReason {
	return cs.fwdReason
}

// WasStored reports whether the forwarded response was stored.
func (cs CacheStatus) WasStored() bool {
	return cs.stored
}

// TimeToLive returns the recorded TTL in seconds, zero if none was set.
func (cs CacheStatus) TimeToLive() int {
	return cs.ttl
}

// String serializes the entry for the Cache-Status header. Parameters are
// emitted in the order they are defined in RFC 9211.
func (cs CacheStatus) String() string {
	name := cs.name
	if name == "" {
		name = DefaultName
	}
	if cs.status == "" {
		return name
	}
	str := fmt.Sprintf("%s; %s", name, cs.status)
	if cs.status == statusFwd && cs.fwdReason != "" {
		str = fmt.Sprintf("%s=%s", str, cs.fwdReason)
	}
	if cs.status == statusFwd && cs.fwdStatus != 0 {
		str = fmt.Sprintf("%s; fwd-status=%d", str, cs.fwdStatus)
	}
	if cs.ttlSet {
		str = fmt.Sprintf("%s; ttl=%d", str, cs.ttl)
	}
	if cs.stored {
		str = str + "; stored"
	}
	if cs.detail != "" {
		str = str + "; detail=" + cs.detail
	}
	return str
}
